package httpx

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/bffless/bffless/internal/service/serve"
	"github.com/bffless/bffless/pkg/jwt"
)

type authContextKey string

type authInfo struct {
	UserID string
}

const contextKeyAuth authContextKey = "bffless-auth-info"

// sessionCookieName carries the session JWT for browser traffic; API clients
// use the Authorization header instead.
const sessionCookieName = "bffless_session"

type contextSetter interface {
	SetContext(context.Context)
}

// requireAuth ensures the request has a valid session token before invoking
// the handler.
func (r *Router) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		ctx, _, ok := r.ensureAuth(w, req)
		if !ok {
			return
		}
		if setter, ok := w.(contextSetter); ok {
			setter.SetContext(ctx)
		}
		next(w, req.WithContext(ctx))
	}
}

// ensureAuth validates the session token and enriches the context.
func (r *Router) ensureAuth(w http.ResponseWriter, req *http.Request) (context.Context, authInfo, bool) {
	token := sessionToken(req)
	if token == "" {
		r.logger.Warn("missing session token", "path", req.URL.Path)
		writeError(w, http.StatusUnauthorized, "authentication required")
		return req.Context(), authInfo{}, false
	}
	claims, err := jwt.Parse(token, r.cfg.JWTSecret)
	if err != nil {
		r.logger.Warn("token validation failed", "error", err, "path", req.URL.Path)
		writeError(w, http.StatusUnauthorized, "authentication failed")
		return req.Context(), authInfo{}, false
	}
	info := authInfo{UserID: claims.UserID}
	ctx := context.WithValue(req.Context(), contextKeyAuth, info)
	return ctx, info, true
}

// viewerFromRequest extracts an optional identity for public serving routes.
// An invalid token is treated as anonymous, not rejected: the access cascade
// decides what anonymous viewers may see.
func (r *Router) viewerFromRequest(req *http.Request) *serve.Viewer {
	token := sessionToken(req)
	if token == "" {
		return nil
	}
	claims, err := jwt.Parse(token, r.cfg.JWTSecret)
	if err != nil {
		return nil
	}
	return &serve.Viewer{UserID: claims.UserID}
}

// authInfoFromContext extracts auth metadata from context.
func authInfoFromContext(ctx context.Context) (authInfo, bool) {
	value := ctx.Value(contextKeyAuth)
	if value == nil {
		return authInfo{}, false
	}
	info, ok := value.(authInfo)
	return info, ok
}

func sessionToken(req *http.Request) string {
	if token, err := bearerToken(req.Header.Get("Authorization")); err == nil {
		return token
	}
	if cookie, err := req.Cookie(sessionCookieName); err == nil {
		return strings.TrimSpace(cookie.Value)
	}
	return ""
}

func bearerToken(header string) (string, error) {
	if strings.TrimSpace(header) == "" {
		return "", errors.New("missing authorization header")
	}
	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errors.New("invalid authorization header format")
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", errors.New("empty bearer token")
	}
	return token, nil
}
