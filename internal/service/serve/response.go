package serve

import (
	"net/http"
	"net/url"
	"time"

	"github.com/bffless/bffless/internal/assets"
)

// Response is the transport-independent outcome of one serving request. The
// HTTP layer copies headers, writes the cookie if set, and streams the body.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
	Cookie *http.Cookie
}

func newResponse(status int) *Response {
	return &Response{Status: status, Header: make(http.Header)}
}

func htmlResponse(status int, body []byte) *Response {
	resp := newResponse(status)
	resp.Header.Set("Content-Type", "text/html; charset=utf-8")
	resp.Header.Set("X-Content-Type-Options", "nosniff")
	resp.Header.Set("Cache-Control", "no-store")
	resp.Body = body
	return resp
}

func notFoundResponse() *Response {
	return htmlResponse(http.StatusNotFound, assets.NotFoundPage)
}

func forbiddenResponse() *Response {
	return htmlResponse(http.StatusForbidden, assets.ForbiddenPage)
}

// placeholderResponse replaces a redirect or styled page for image requests,
// which break inside <img> tags when answered with HTML or a 3xx.
func placeholderResponse(status int) *Response {
	resp := newResponse(status)
	resp.Header.Set("Content-Type", "image/svg+xml")
	resp.Header.Set("X-Content-Type-Options", "nosniff")
	resp.Header.Set("Cache-Control", "no-store")
	resp.Body = assets.PlaceholderImage
	return resp
}

func redirectResponse(status int, location string) *Response {
	resp := newResponse(status)
	resp.Header.Set("Location", location)
	return resp
}

// loginRedirectResponse sends the viewer to the login page with a refresh
// hint and the URL to come back to.
func loginRedirectResponse(loginURL, returnURL string) *Response {
	target := loginURL
	sep := "?"
	if u, err := url.Parse(loginURL); err == nil && u.RawQuery != "" {
		sep = "&"
	}
	target += sep + "tryRefresh=true&returnUrl=" + url.QueryEscape(returnURL)
	return redirectResponse(http.StatusFound, target)
}

func stickyCookie(name, alias string, ttl time.Duration) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    alias,
		Path:     "/",
		MaxAge:   int(ttl / time.Second),
		HttpOnly: false,
		SameSite: http.SameSiteLaxMode,
	}
}
