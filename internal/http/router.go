// Package httpx exposes the public serving routes and the management API.
package httpx

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"log/slog"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bffless/bffless/internal/repository"
	aliassvc "github.com/bffless/bffless/internal/service/alias"
	"github.com/bffless/bffless/internal/service/ingress"
	"github.com/bffless/bffless/internal/service/serve"
	uploadsvc "github.com/bffless/bffless/internal/service/upload"
	"github.com/bffless/bffless/internal/ws"
	"github.com/bffless/bffless/pkg/config"
)

// Repositories groups the persistence surfaces the management API mutates
// directly.
type Repositories struct {
	Projects repository.ProjectRepository
	Aliases  repository.AliasRepository
	Domains  repository.DomainRepository
	Traffic  repository.TrafficRepository
	Rules    repository.ProxyRuleRepository
}

// Router wires HTTP endpoints to services.
type Router struct {
	mux      *http.ServeMux
	logger   *slog.Logger
	cfg      config.APIConfig
	pipeline *serve.Pipeline
	aliases  *aliassvc.Service
	uploads  *uploadsvc.Service
	orch     *ingress.Orchestrator
	ingress  *ingress.Service
	repos    Repositories
	hub      *ws.Hub
	upgrader websocket.Upgrader
	limiter  RateLimiter
	dbHealth func(context.Context) error

	metricsOnce        sync.Once
	metricsInitialized bool
	requestTotal       *prometheus.CounterVec
	requestLatency     *prometheus.HistogramVec
	rateLimitHits      *prometheus.CounterVec
	cacheOutcomes      *prometheus.CounterVec
}

const (
	rateWindowDefault  = time.Minute
	rateWindowRealtime = 30 * time.Second
	rateLimitPublic    = 600
	rateLimitUserWrite = 60
	rateLimitUserRead  = 120
	rateLimitWebsocket = 30
	healthCheckTimeout = 2 * time.Second
	sseHeartbeat       = 25 * time.Second
)

// NewRouter assembles routes with dependencies.
func NewRouter(logger *slog.Logger, cfg config.APIConfig, pipeline *serve.Pipeline, aliases *aliassvc.Service, uploads *uploadsvc.Service, orch *ingress.Orchestrator, ingressSvc *ingress.Service, repos Repositories, hub *ws.Hub, limiter RateLimiter, dbHealth func(context.Context) error) *Router {
	r := &Router{
		mux:      http.NewServeMux(),
		logger:   logger,
		cfg:      cfg,
		pipeline: pipeline,
		aliases:  aliases,
		uploads:  uploads,
		orch:     orch,
		ingress:  ingressSvc,
		repos:    repos,
		hub:      hub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		limiter:  limiter,
		dbHealth: dbHealth,
	}
	if r.limiter == nil {
		r.limiter = NewMemoryRateLimiter()
	}
	r.initMetrics()
	r.register()
	return r
}

// ServeHTTP delegates to underlying mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Close releases background resources.
func (r *Router) Close() {
	if r.limiter != nil {
		r.limiter.Close()
	}
}

func (r *Router) register() {
	r.mux.HandleFunc("/healthz", r.audit(r.handleHealthz))
	r.mux.Handle("/metrics", promhttp.Handler())

	r.mux.HandleFunc("/public/", r.audit(r.withRateLimit("public", rateLimitPublic, rateWindowDefault, rateLimitKeyIP, r.handlePublic)))

	r.mux.HandleFunc("/api/projects", r.audit(r.handlerAuthRate("projects", rateLimitUserWrite, rateWindowDefault, r.handleProjects)))
	r.mux.HandleFunc("/api/projects/", r.audit(r.handlerAuthRate("projects", rateLimitUserWrite, rateWindowDefault, r.handleProjectSubroutes)))
	r.mux.HandleFunc("/api/aliases/", r.audit(r.handlerAuthRate("aliases", rateLimitUserWrite, rateWindowDefault, r.handleAliasSubroutes)))
	r.mux.HandleFunc("/api/domains/", r.audit(r.handlerAuthRate("domains", rateLimitUserWrite, rateWindowDefault, r.handleDomainSubroutes)))
	r.mux.HandleFunc("/api/rule-sets/", r.audit(r.handlerAuthRate("rule_sets", rateLimitUserWrite, rateWindowDefault, r.handleRuleSetSubroutes)))
	r.mux.HandleFunc("/api/rules/", r.audit(r.handlerAuthRate("rules", rateLimitUserWrite, rateWindowDefault, r.handleRuleSubroutes)))
	r.mux.HandleFunc("/api/uploads/", r.audit(r.handlerAuthRate("uploads", rateLimitUserWrite, rateWindowDefault, r.handleUploadSubroutes)))

	r.mux.HandleFunc("/ws/events", r.audit(r.handlerAuthRate("events_ws", rateLimitWebsocket, rateWindowRealtime, r.handleEventsWS)))
	r.mux.HandleFunc("/events", r.audit(r.handlerAuthRate("events_sse", rateLimitWebsocket, rateWindowRealtime, r.handleEventsSSE)))
}

// handlePublic dispatches the edge serving routes:
//
//	/public/{owner}/{repo}
//	/public/{owner}/{repo}/commits/{sha}/{path...}
//	/public/{owner}/{repo}/alias/{alias}/{path...}
//	/public/subdomain-alias/{alias}/{path...}
func (r *Router) handlePublic(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet && req.Method != http.MethodHead {
		r.methodNotAllowed(w)
		return
	}
	trimmed := strings.TrimPrefix(req.URL.Path, "/public/")

	if rest, ok := strings.CutPrefix(trimmed, "subdomain-alias/"); ok {
		aliasName, path := splitSegment(rest)
		if aliasName == "" {
			r.notFound(w)
			return
		}
		sreq := r.serveRequest(req)
		sreq.Host = requestHost(req)
		sreq.Ref = aliasName
		sreq.Path = path
		r.writeServeResponse(w, req, r.pipeline.ServeHost(req.Context(), sreq))
		return
	}

	owner, rest := splitSegment(trimmed)
	repo, rest := splitSegment(rest)
	if owner == "" || repo == "" {
		r.notFound(w)
		return
	}

	sreq := r.serveRequest(req)
	sreq.Owner = owner
	sreq.Repo = repo

	switch {
	case rest == "":
		r.writeServeResponse(w, req, r.pipeline.ServeDefault(req.Context(), sreq))
	case strings.HasPrefix(rest, "commits/"):
		sha, path := splitSegment(strings.TrimPrefix(rest, "commits/"))
		sreq.Ref = sha
		sreq.Path = path
		r.writeServeResponse(w, req, r.pipeline.ServeCommit(req.Context(), sreq))
	case strings.HasPrefix(rest, "alias/"):
		aliasName, path := splitSegment(strings.TrimPrefix(rest, "alias/"))
		if aliasName == "" {
			r.notFound(w)
			return
		}
		sreq.Ref = aliasName
		sreq.Path = path
		r.writeServeResponse(w, req, r.pipeline.ServeAlias(req.Context(), sreq))
	default:
		r.notFound(w)
	}
}

// serveRequest captures the transport-level inputs the pipeline needs.
func (r *Router) serveRequest(req *http.Request) serve.Request {
	shareToken := req.URL.Query().Get("share")
	if shareToken == "" {
		shareToken = req.Header.Get("X-Share-Token")
	}
	return serve.Request{
		OriginalURL: req.URL.RequestURI(),
		Viewer:      r.viewerFromRequest(req),
		ShareToken:  shareToken,
		IfNoneMatch: req.Header.Get("If-None-Match"),
		CookieValue: func(name string) string {
			cookie, err := req.Cookie(name)
			if err != nil {
				return ""
			}
			return cookie.Value
		},
	}
}

func (r *Router) writeServeResponse(w http.ResponseWriter, req *http.Request, resp *serve.Response) {
	for key, values := range resp.Header {
		for _, value := range values {
			w.Header().Add(key, value)
		}
	}
	if resp.Cookie != nil {
		http.SetCookie(w, resp.Cookie)
	}
	if hit := resp.Header.Get("X-Cache-Hit"); hit != "" {
		r.recordCacheOutcome(hit == "true")
	}
	w.WriteHeader(resp.Status)
	if req.Method != http.MethodHead && len(resp.Body) > 0 {
		_, _ = w.Write(resp.Body)
	}
}

func (r *Router) handleHealthz(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	components := make(map[string]any)
	status := "ok"
	if r.dbHealth != nil {
		ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
		defer cancel()
		if err := r.dbHealth(ctx); err != nil {
			status = "degraded"
			components["database"] = map[string]any{
				"status": "down",
				"error":  err.Error(),
			}
		} else {
			components["database"] = map[string]any{"status": "up"}
		}
	}
	payload := map[string]any{
		"status":     status,
		"components": components,
		"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
	}
	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, payload)
}

func (r *Router) audit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w}
		start := time.Now()
		next(recorder, req)

		status := recorder.status
		if status == 0 {
			status = http.StatusOK
		}
		ctx := recorder.ctx
		if ctx == nil {
			ctx = req.Context()
		}
		duration := time.Since(start)
		r.recordRequestMetrics(req.Method, routeLabel(req.URL.Path), status, duration)

		actor := "anonymous"
		fields := []any{
			"method", req.Method,
			"path", req.URL.Path,
			"status", status,
			"bytes", recorder.bytes,
			"duration_ms", duration.Milliseconds(),
		}
		if ip := clientIP(req); ip != "" {
			fields = append(fields, "ip", ip)
		}
		if reqID := strings.TrimSpace(req.Header.Get("X-Request-ID")); reqID != "" {
			fields = append(fields, "request_id", reqID)
		}
		if info, ok := authInfoFromContext(ctx); ok {
			actor = "user"
			fields = append(fields, "user_id", info.UserID)
		}
		fields = append(fields, "actor", actor)

		switch {
		case status >= http.StatusInternalServerError:
			r.logger.Error("http_request", fields...)
		case status >= http.StatusBadRequest:
			r.logger.Warn("http_request", fields...)
		default:
			r.logger.Info("http_request", fields...)
		}
	}
}

// routeLabel collapses public paths to a bounded metric label.
func routeLabel(path string) string {
	switch {
	case strings.HasPrefix(path, "/public/subdomain-alias/"):
		return "/public/subdomain-alias"
	case strings.HasPrefix(path, "/public/"):
		return "/public"
	case strings.HasPrefix(path, "/api/aliases/"):
		return "/api/aliases"
	case strings.HasPrefix(path, "/api/domains/"):
		return "/api/domains"
	case strings.HasPrefix(path, "/api/projects"):
		return "/api/projects"
	case strings.HasPrefix(path, "/api/rule-sets/"):
		return "/api/rule-sets"
	case strings.HasPrefix(path, "/api/rules/"):
		return "/api/rules"
	case strings.HasPrefix(path, "/api/uploads/"):
		return "/api/uploads"
	default:
		return path
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
	ctx    context.Context
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += n
	return n, err
}

func (sr *statusRecorder) SetContext(ctx context.Context) {
	sr.ctx = ctx
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := sr.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, errors.New("hijacker not supported")
}

func (sr *statusRecorder) Push(target string, opts *http.PushOptions) error {
	if p, ok := sr.ResponseWriter.(http.Pusher); ok {
		return p.Push(target, opts)
	}
	return http.ErrNotSupported
}

func clientIP(req *http.Request) string {
	if forwarded := strings.TrimSpace(req.Header.Get("X-Forwarded-For")); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		if len(parts) > 0 {
			ip := strings.TrimSpace(parts[0])
			if ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(req.RemoteAddr))
	if err != nil {
		return strings.TrimSpace(req.RemoteAddr)
	}
	return host
}

// requestHost strips an optional port from the Host header.
func requestHost(req *http.Request) string {
	host := req.Host
	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	return host
}

func splitSegment(s string) (head, rest string) {
	if idx := strings.Index(s, "/"); idx >= 0 {
		return s[:idx], s[idx+1:]
	}
	return s, ""
}

func (r *Router) applyRateHeaders(w http.ResponseWriter, limit int, decision rateDecision) {
	if limit <= 0 {
		return
	}
	remaining := limit - decision.count
	if remaining < 0 {
		remaining = 0
	}
	headers := w.Header()
	headers.Set("X-RateLimit-Limit", strconv.Itoa(limit))
	headers.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	if !decision.windowEnd.IsZero() {
		headers.Set("X-RateLimit-Reset", strconv.FormatInt(decision.windowEnd.Unix(), 10))
	}
}

func (r *Router) methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func (r *Router) notFound(w http.ResponseWriter) {
	writeError(w, http.StatusNotFound, "not found")
}
