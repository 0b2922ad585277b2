// Package serve implements the per-request edge pipeline: resolve the ref to
// a commit, pick a traffic variant, decide visibility, and stream the asset
// with computed cache headers. Every request is independent; the only shared
// state is the metadata and byte caches.
package serve

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"mime"
	"net/http"
	"path"
	"regexp"
	"strings"

	"log/slog"

	"github.com/bffless/bffless/internal/cache"
	"github.com/bffless/bffless/internal/domain"
	"github.com/bffless/bffless/internal/repository"
	"github.com/bffless/bffless/internal/service/access"
	"github.com/bffless/bffless/internal/service/resolve"
	"github.com/bffless/bffless/internal/service/traffic"
	"github.com/bffless/bffless/internal/storage"
	"github.com/bffless/bffless/pkg/config"
	"github.com/bffless/bffless/pkg/jwt"
)

var (
	driveLetterPattern = regexp.MustCompile(`^[a-zA-Z]:`)

	imageExtensions = map[string]struct{}{
		".png": {}, ".jpg": {}, ".jpeg": {}, ".gif": {}, ".svg": {},
		".webp": {}, ".ico": {}, ".bmp": {}, ".avif": {},
	}
)

// Viewer is the authenticated identity attached to a request.
type Viewer struct {
	UserID string
}

// RoleLookup resolves a user's role within a project. A nil role means the
// user has no membership there. Permission storage lives outside this
// service, so the pipeline takes the lookup as a collaborator.
type RoleLookup func(ctx context.Context, userID, projectID string) (*string, error)

// Request carries everything the pipeline needs from the transport layer.
type Request struct {
	Owner string
	Repo  string
	// Host is set on domain-addressed requests forwarded by the edge proxy.
	Host string
	// Ref is a commit SHA or alias name depending on the entry point.
	Ref  string
	Path string
	// OriginalURL is echoed back as the post-login return target.
	OriginalURL   string
	Viewer        *Viewer
	ShareToken    string
	IfNoneMatch   string
	VariantCookie string
	// CookieValue, when set, resolves a cookie by name; domain-addressed
	// requests use it because the sticky cookie name embeds the domain id.
	CookieValue func(name string) string
}

// Pipeline serves deployment files. It is safe for concurrent use.
type Pipeline struct {
	projects repository.ProjectRepository
	assets   repository.AssetRepository
	aliases  repository.AliasRepository
	domains  repository.DomainRepository
	traffic  repository.TrafficRepository
	resolver resolve.Service
	access   access.Resolver
	router   traffic.Router
	cache    cache.MetadataCache
	store    storage.Adapter
	roles    RoleLookup
	logger   *slog.Logger
	cfg      config.APIConfig
}

// New wires the serving pipeline. roles may be nil, in which case only the
// "authenticated" requirement is satisfiable.
func New(
	projects repository.ProjectRepository,
	assetRepo repository.AssetRepository,
	aliases repository.AliasRepository,
	domains repository.DomainRepository,
	trafficRepo repository.TrafficRepository,
	resolver resolve.Service,
	accessResolver access.Resolver,
	router traffic.Router,
	metadataCache cache.MetadataCache,
	store storage.Adapter,
	roles RoleLookup,
	logger *slog.Logger,
	cfg config.APIConfig,
) *Pipeline {
	return &Pipeline{
		projects: projects,
		assets:   assetRepo,
		aliases:  aliases,
		domains:  domains,
		traffic:  trafficRepo,
		resolver: resolver,
		access:   accessResolver,
		router:   router,
		cache:    metadataCache,
		store:    store,
		roles:    roles,
		logger:   logger,
		cfg:      cfg,
	}
}

// ServeDefault answers the bare project URL: authorize against the project,
// then 301 to the commit-scoped URL of the default alias.
func (p *Pipeline) ServeDefault(ctx context.Context, req Request) *Response {
	project, err := p.projects.GetProjectByOwnerName(ctx, req.Owner, req.Repo)
	if err != nil {
		return p.missing(err, false)
	}

	decision := p.access.Resolve(nil, nil, project)
	if resp := p.authorize(ctx, req, project, decision, false); resp != nil {
		return resp
	}

	sha, err := p.resolver.ResolveDefaultAlias(ctx, project)
	if err != nil {
		return p.missing(err, false)
	}
	location := "/public/" + project.FullName() + "/commits/" + sha + "/"
	return redirectResponse(http.StatusMovedPermanently, location)
}

// ServeCommit serves an immutable commit-addressed asset.
func (p *Pipeline) ServeCommit(ctx context.Context, req Request) *Response {
	if !resolve.IsCommitSHA(req.Ref) {
		resp := newResponse(http.StatusBadRequest)
		resp.Header.Set("Content-Type", "application/json")
		resp.Body = []byte(`{"error":"malformed commit sha"}`)
		return resp
	}

	cleanPath, ok := normalizePath(req.Path)
	if !ok {
		return badPathResponse()
	}
	isImage := isImagePath(cleanPath)

	project, err := p.projects.GetProjectByOwnerName(ctx, req.Owner, req.Repo)
	if err != nil {
		return p.missing(err, isImage)
	}

	decision := p.access.Resolve(nil, nil, project)
	if resp := p.authorize(ctx, req, project, decision, isImage); resp != nil {
		return resp
	}

	sha := strings.ToLower(req.Ref)
	return p.serveAsset(ctx, req, project, sha, cleanPath, serveOptions{immutable: true})
}

// ServeAlias serves a mutable alias-addressed asset.
func (p *Pipeline) ServeAlias(ctx context.Context, req Request) *Response {
	cleanPath, ok := normalizePath(req.Path)
	if !ok {
		return badPathResponse()
	}
	isImage := isImagePath(cleanPath)

	project, err := p.projects.GetProjectByOwnerName(ctx, req.Owner, req.Repo)
	if err != nil {
		return p.missing(err, isImage)
	}
	alias, err := p.aliases.GetAlias(ctx, project.ID, req.Ref)
	if err != nil {
		return p.missing(err, isImage)
	}

	decision := p.access.Resolve(nil, alias, project)
	if resp := p.authorize(ctx, req, project, decision, isImage); resp != nil {
		return resp
	}

	return p.serveAsset(ctx, req, project, alias.CommitSHA, cleanPath, serveOptions{
		aliasName: alias.Name,
	})
}

// ServeHost answers domain-addressed traffic forwarded by the edge proxy.
// The Host header names the mapping; req.Ref is the alias from the rewritten
// path and backs a subdomain fallback when the mapping is absent.
func (p *Pipeline) ServeHost(ctx context.Context, req Request) *Response {
	cleanPath, ok := normalizePath(req.Path)
	if !ok {
		return badPathResponse()
	}
	isImage := isImagePath(cleanPath)

	mapping, err := p.domains.GetDomainByHost(ctx, req.Host)
	if errors.Is(err, repository.ErrNotFound) && req.Ref != "" && p.cfg.EdgeDomainSuffix != "" {
		mapping, err = p.domains.GetDomainByHost(ctx, req.Ref+p.cfg.EdgeDomainSuffix)
	}
	if err != nil {
		return p.missing(err, isImage)
	}
	if !mapping.IsActive {
		return p.missing(repository.ErrNotFound, isImage)
	}
	if mapping.IsRedirect() {
		return redirectResponse(http.StatusMovedPermanently, mapping.RedirectTarget)
	}
	if mapping.ProjectID == nil {
		// Misconfigured mapping; the access resolver fails open but there is
		// no project to serve from.
		p.logger.Warn("domain mapping has no project", "host", mapping.Host)
		return p.missing(repository.ErrNotFound, isImage)
	}

	project, err := p.projects.GetProjectByID(ctx, *mapping.ProjectID)
	if err != nil {
		return p.missing(err, isImage)
	}

	split, err := p.traffic.GetTrafficSplit(ctx, mapping.ID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return p.missing(err, isImage)
	}
	cookieValue := req.VariantCookie
	if req.CookieValue != nil {
		cookieValue = req.CookieValue(traffic.CookieName(mapping.ID))
	}
	selection := p.router.Select(split, cookieValue, mapping.AliasName)

	alias, err := p.aliases.GetAlias(ctx, project.ID, selection.Alias)
	if err != nil {
		return p.missing(err, isImage)
	}

	decision := p.access.Resolve(mapping, alias, project)
	if resp := p.authorize(ctx, req, project, decision, isImage); resp != nil {
		return resp
	}

	opts := serveOptions{aliasName: alias.Name}
	if selection.SplitActive {
		opts.variant = selection.Alias
	}
	resp := p.serveAsset(ctx, req, project, alias.CommitSHA, cleanPath, opts)
	if selection.IsNewSelection {
		resp.Cookie = stickyCookie(traffic.CookieName(mapping.ID), selection.Alias, selection.CookieTTL)
	}
	return resp
}

type serveOptions struct {
	immutable bool
	aliasName string
	variant   string
}

// serveAsset resolves the asset row (cached), honors conditional requests
// and streams the bytes with computed cache headers.
func (p *Pipeline) serveAsset(ctx context.Context, req Request, project *domain.Project, commitSHA, cleanPath string, opts serveOptions) *Response {
	isImage := isImagePath(cleanPath)

	asset, cached := p.cache.Get(ctx, project.ID, commitSHA, cleanPath)
	if !cached {
		var err error
		asset, err = p.assets.GetAsset(ctx, project.ID, commitSHA, cleanPath)
		if errors.Is(err, repository.ErrNotFound) {
			return p.serveMissingAsset(ctx, req, project, commitSHA, opts, isImage)
		}
		if err != nil {
			p.logger.Error("asset lookup failed", "project", project.FullName(), "sha", commitSHA, "path", cleanPath, "error", err)
			return p.missing(err, isImage)
		}
		p.cache.Set(ctx, asset, p.cfg.AssetCacheTTL)
	}

	etag := asset.ContentHash
	if etag != "" && etagMatches(req.IfNoneMatch, etag) {
		resp := newResponse(http.StatusNotModified)
		p.setServeHeaders(resp, asset, etag, opts)
		return resp
	}

	download, err := p.store.DownloadWithCacheInfo(ctx, asset.StorageKey, p.cfg.FileCacheTTL)
	if err != nil {
		p.logger.Error("asset download failed", "key", asset.StorageKey, "error", err)
		if isImage {
			return placeholderResponse(http.StatusNotFound)
		}
		return notFoundResponse()
	}

	if etag == "" {
		sum := md5.Sum(download.Bytes)
		etag = hex.EncodeToString(sum[:])
		if etagMatches(req.IfNoneMatch, etag) {
			resp := newResponse(http.StatusNotModified)
			p.setServeHeaders(resp, asset, etag, opts)
			return resp
		}
	}

	resp := newResponse(http.StatusOK)
	p.setServeHeaders(resp, asset, etag, opts)
	if download.CacheHit {
		resp.Header.Set("X-Cache-Hit", "true")
	} else {
		resp.Header.Set("X-Cache-Hit", "false")
	}
	resp.Body = download.Bytes
	return resp
}

// serveMissingAsset applies the 404.html fallback before giving up.
func (p *Pipeline) serveMissingAsset(ctx context.Context, req Request, project *domain.Project, commitSHA string, opts serveOptions, isImage bool) *Response {
	if isImage {
		return placeholderResponse(http.StatusNotFound)
	}
	fallback, err := p.assets.GetAsset(ctx, project.ID, commitSHA, "404.html")
	if err != nil {
		return notFoundResponse()
	}
	download, err := p.store.DownloadWithCacheInfo(ctx, fallback.StorageKey, p.cfg.FileCacheTTL)
	if err != nil {
		return notFoundResponse()
	}
	resp := htmlResponse(http.StatusNotFound, download.Bytes)
	resp.Header.Set("X-Served-Sha", commitSHA)
	if opts.aliasName != "" {
		resp.Header.Set("X-Served-Alias", opts.aliasName)
	}
	return resp
}

func (p *Pipeline) setServeHeaders(resp *Response, asset *domain.Asset, etag string, opts serveOptions) {
	resp.Header.Set("ETag", `"`+etag+`"`)
	if opts.immutable {
		resp.Header.Set("Cache-Control", "public, max-age=31536000, immutable")
	} else {
		resp.Header.Set("Cache-Control", "public, max-age=0, must-revalidate")
	}
	resp.Header.Set("Content-Type", contentType(asset))
	resp.Header.Set("X-Content-Type-Options", "nosniff")
	resp.Header.Set("X-Served-Sha", asset.CommitSHA)
	if opts.aliasName != "" {
		resp.Header.Set("X-Served-Alias", opts.aliasName)
	}
	if opts.variant != "" {
		resp.Header.Set("X-Variant", opts.variant)
	}
}

// authorize returns nil when the viewer may see the content, otherwise the
// terminal unauthorized response.
func (p *Pipeline) authorize(ctx context.Context, req Request, project *domain.Project, decision access.Decision, isImage bool) *Response {
	if decision.IsPublic {
		return nil
	}

	if req.ShareToken != "" {
		claims, err := jwt.ParseShareToken(req.ShareToken, p.cfg.JWTSecret)
		if err == nil && claims.ProjectID == project.ID {
			return nil
		}
	}

	if req.Viewer == nil {
		if decision.UnauthorizedBehavior == domain.BehaviorRedirectLogin {
			if isImage {
				return placeholderResponse(http.StatusUnauthorized)
			}
			return loginRedirectResponse(p.cfg.LoginURL, req.OriginalURL)
		}
		if isImage {
			return placeholderResponse(http.StatusNotFound)
		}
		return notFoundResponse()
	}

	var userRole *string
	if p.roles != nil {
		role, err := p.roles(ctx, req.Viewer.UserID, project.ID)
		if err != nil {
			p.logger.Error("role lookup failed", "user", req.Viewer.UserID, "project", project.ID, "error", err)
			role = nil
		}
		userRole = role
	}
	if access.MeetsRoleRequirement(userRole, decision.RequiredRole) {
		return nil
	}

	// Insufficient role. The not_found behavior hides the deployment's
	// existence even from authenticated users.
	if decision.UnauthorizedBehavior == domain.BehaviorNotFound {
		if isImage {
			return placeholderResponse(http.StatusNotFound)
		}
		return notFoundResponse()
	}
	if isImage {
		return placeholderResponse(http.StatusForbidden)
	}
	return forbiddenResponse()
}

// missing maps repository errors to a public-safe response. Anything that is
// not a clean not-found is logged but still degrades to 404: a raw 500 on
// the public edge is worse than a not-found.
func (p *Pipeline) missing(err error, isImage bool) *Response {
	if !errors.Is(err, repository.ErrNotFound) {
		p.logger.Error("serving lookup failed", "error", err)
	}
	if isImage {
		return placeholderResponse(http.StatusNotFound)
	}
	return notFoundResponse()
}

func badPathResponse() *Response {
	resp := newResponse(http.StatusBadRequest)
	resp.Header.Set("Content-Type", "application/json")
	resp.Body = []byte(`{"error":"invalid path"}`)
	return resp
}

// normalizePath appends index.html to empty or directory paths and rejects
// traversal attempts. The guard runs before any storage or database access.
func normalizePath(raw string) (string, bool) {
	if strings.Contains(raw, "../") || strings.Contains(raw, `..\`) {
		return "", false
	}
	if raw == ".." || strings.HasSuffix(raw, "/..") {
		return "", false
	}
	if strings.HasPrefix(raw, "/") || strings.Contains(raw, "//") {
		return "", false
	}
	if driveLetterPattern.MatchString(raw) {
		return "", false
	}
	if raw == "" || strings.HasSuffix(raw, "/") {
		raw += "index.html"
	}
	return raw, true
}

func isImagePath(cleanPath string) bool {
	ext := strings.ToLower(path.Ext(cleanPath))
	_, ok := imageExtensions[ext]
	return ok
}

func etagMatches(ifNoneMatch, etag string) bool {
	if ifNoneMatch == "" {
		return false
	}
	for _, candidate := range strings.Split(ifNoneMatch, ",") {
		candidate = strings.TrimSpace(candidate)
		candidate = strings.TrimPrefix(candidate, "W/")
		candidate = strings.Trim(candidate, `"`)
		if candidate == etag || candidate == "*" {
			return true
		}
	}
	return false
}

func contentType(asset *domain.Asset) string {
	if asset.MimeType != "" {
		return asset.MimeType
	}
	if byExt := mime.TypeByExtension(path.Ext(asset.PublicPath)); byExt != "" {
		return byExt
	}
	return "application/octet-stream"
}
