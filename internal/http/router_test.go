package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bffless/bffless/internal/cache"
	"github.com/bffless/bffless/internal/domain"
	"github.com/bffless/bffless/internal/repository"
	"github.com/bffless/bffless/internal/service/access"
	aliassvc "github.com/bffless/bffless/internal/service/alias"
	"github.com/bffless/bffless/internal/service/ingress"
	"github.com/bffless/bffless/internal/service/resolve"
	"github.com/bffless/bffless/internal/service/serve"
	"github.com/bffless/bffless/internal/service/traffic"
	uploadsvc "github.com/bffless/bffless/internal/service/upload"
	"github.com/bffless/bffless/internal/storage"
	"github.com/bffless/bffless/internal/ws"
	"github.com/bffless/bffless/pkg/config"
	"github.com/bffless/bffless/pkg/jwt"
)

const routerTestSHA = "abc1234def5678abc1234def5678abc1234def56"

// memStore backs every repository interface with maps for handler tests.
type memStore struct {
	projects map[string]*domain.Project
	assets   map[string]*domain.Asset
	aliases  map[string]*domain.Alias
	domains  map[string]*domain.DomainMapping
	splits   map[string]*domain.TrafficSplit
	ruleSets map[string]*domain.ProxyRuleSet
	rules    map[string]*domain.ProxyRule
	pendings map[string]*domain.PendingUpload
}

func newMemStore() *memStore {
	return &memStore{
		projects: map[string]*domain.Project{},
		assets:   map[string]*domain.Asset{},
		aliases:  map[string]*domain.Alias{},
		domains:  map[string]*domain.DomainMapping{},
		splits:   map[string]*domain.TrafficSplit{},
		ruleSets: map[string]*domain.ProxyRuleSet{},
		rules:    map[string]*domain.ProxyRule{},
		pendings: map[string]*domain.PendingUpload{},
	}
}

func assetKey(projectID, sha, path string) string {
	return projectID + "|" + sha + "|" + path
}

func (m *memStore) CreateProject(_ context.Context, project *domain.Project) error {
	for _, existing := range m.projects {
		if existing.Owner == project.Owner && existing.Name == project.Name {
			return repository.ErrConflict
		}
	}
	clone := *project
	m.projects[project.ID] = &clone
	return nil
}

func (m *memStore) GetProjectByID(_ context.Context, projectID string) (*domain.Project, error) {
	if project, ok := m.projects[projectID]; ok {
		clone := *project
		return &clone, nil
	}
	return nil, repository.ErrNotFound
}

func (m *memStore) GetProjectByOwnerName(_ context.Context, owner, name string) (*domain.Project, error) {
	for _, project := range m.projects {
		if project.Owner == owner && project.Name == name {
			clone := *project
			return &clone, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *memStore) UpdateProjectAccess(_ context.Context, project *domain.Project) error {
	if _, ok := m.projects[project.ID]; !ok {
		return repository.ErrNotFound
	}
	clone := *project
	m.projects[project.ID] = &clone
	return nil
}

func (m *memStore) SetProjectDefaultRuleSet(_ context.Context, projectID string, ruleSetID *string) error {
	project, ok := m.projects[projectID]
	if !ok {
		return repository.ErrNotFound
	}
	project.DefaultProxyRuleSetID = ruleSetID
	return nil
}

func (m *memStore) UpsertAsset(_ context.Context, asset *domain.Asset) error {
	clone := *asset
	m.assets[assetKey(asset.ProjectID, asset.CommitSHA, asset.PublicPath)] = &clone
	return nil
}

func (m *memStore) GetAsset(_ context.Context, projectID, sha, path string) (*domain.Asset, error) {
	if asset, ok := m.assets[assetKey(projectID, sha, path)]; ok {
		clone := *asset
		return &clone, nil
	}
	return nil, repository.ErrNotFound
}

func (m *memStore) GetLatestAsset(_ context.Context, projectID string) (*domain.Asset, error) {
	for _, asset := range m.assets {
		if asset.ProjectID == projectID {
			clone := *asset
			return &clone, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *memStore) ListAssetsByCommit(_ context.Context, projectID, sha string) ([]domain.Asset, error) {
	var out []domain.Asset
	for _, asset := range m.assets {
		if asset.ProjectID == projectID && asset.CommitSHA == sha {
			out = append(out, *asset)
		}
	}
	return out, nil
}

func (m *memStore) DeleteAssetsByCommit(_ context.Context, projectID, sha string) (int, error) {
	removed := 0
	for key, asset := range m.assets {
		if asset.ProjectID == projectID && asset.CommitSHA == sha {
			delete(m.assets, key)
			removed++
		}
	}
	return removed, nil
}

func (m *memStore) CreateAlias(_ context.Context, alias *domain.Alias) error {
	for _, existing := range m.aliases {
		if existing.ProjectID == alias.ProjectID && existing.Name == alias.Name {
			return repository.ErrConflict
		}
	}
	clone := *alias
	m.aliases[alias.ID] = &clone
	return nil
}

func (m *memStore) UpsertPreviewAlias(_ context.Context, alias *domain.Alias) error {
	for _, existing := range m.aliases {
		if existing.ProjectID == alias.ProjectID && existing.Name == alias.Name {
			existing.CommitSHA = alias.CommitSHA
			existing.DeploymentID = alias.DeploymentID
			existing.UpdatedAt = alias.UpdatedAt
			return nil
		}
	}
	clone := *alias
	m.aliases[alias.ID] = &clone
	return nil
}

func (m *memStore) GetAlias(_ context.Context, projectID, name string) (*domain.Alias, error) {
	for _, alias := range m.aliases {
		if alias.ProjectID == projectID && alias.Name == name {
			clone := *alias
			return &clone, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *memStore) GetAliasByID(_ context.Context, aliasID string) (*domain.Alias, error) {
	if alias, ok := m.aliases[aliasID]; ok {
		clone := *alias
		return &clone, nil
	}
	return nil, repository.ErrNotFound
}

func (m *memStore) ListAliasesByProject(_ context.Context, projectID string) ([]domain.Alias, error) {
	var out []domain.Alias
	for _, alias := range m.aliases {
		if alias.ProjectID == projectID {
			out = append(out, *alias)
		}
	}
	return out, nil
}

func (m *memStore) ListAliasesByCommit(_ context.Context, projectID, sha string) ([]domain.Alias, error) {
	var out []domain.Alias
	for _, alias := range m.aliases {
		if alias.ProjectID == projectID && alias.CommitSHA == sha {
			out = append(out, *alias)
		}
	}
	return out, nil
}

func (m *memStore) ListAliasesByRuleSet(_ context.Context, ruleSetID string) ([]domain.Alias, error) {
	var out []domain.Alias
	for _, alias := range m.aliases {
		if alias.ProxyRuleSetID != nil && *alias.ProxyRuleSetID == ruleSetID {
			out = append(out, *alias)
		}
	}
	return out, nil
}

func (m *memStore) RepointAlias(_ context.Context, aliasID, sha, deploymentID string) error {
	alias, ok := m.aliases[aliasID]
	if !ok {
		return repository.ErrNotFound
	}
	alias.CommitSHA = sha
	alias.DeploymentID = deploymentID
	return nil
}

func (m *memStore) SetAliasRuleSet(_ context.Context, aliasID string, ruleSetID *string) error {
	alias, ok := m.aliases[aliasID]
	if !ok {
		return repository.ErrNotFound
	}
	alias.ProxyRuleSetID = ruleSetID
	return nil
}

func (m *memStore) DeleteAlias(_ context.Context, aliasID string) error {
	if _, ok := m.aliases[aliasID]; !ok {
		return repository.ErrNotFound
	}
	delete(m.aliases, aliasID)
	return nil
}

func (m *memStore) CreateDomain(_ context.Context, mapping *domain.DomainMapping) error {
	clone := *mapping
	m.domains[mapping.ID] = &clone
	return nil
}

func (m *memStore) GetDomainByHost(_ context.Context, host string) (*domain.DomainMapping, error) {
	for _, mapping := range m.domains {
		if mapping.Host == host {
			clone := *mapping
			return &clone, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *memStore) GetDomainByID(_ context.Context, domainID string) (*domain.DomainMapping, error) {
	if mapping, ok := m.domains[domainID]; ok {
		clone := *mapping
		return &clone, nil
	}
	return nil, repository.ErrNotFound
}

func (m *memStore) ListActiveDomainsByProject(_ context.Context, projectID string) ([]domain.DomainMapping, error) {
	var out []domain.DomainMapping
	for _, mapping := range m.domains {
		if mapping.IsActive && mapping.ProjectID != nil && *mapping.ProjectID == projectID {
			out = append(out, *mapping)
		}
	}
	return out, nil
}

func (m *memStore) ListActiveDomainsByAlias(_ context.Context, projectID, aliasName string) ([]domain.DomainMapping, error) {
	var out []domain.DomainMapping
	for _, mapping := range m.domains {
		if mapping.IsActive && mapping.ProjectID != nil && *mapping.ProjectID == projectID && mapping.AliasName == aliasName {
			out = append(out, *mapping)
		}
	}
	return out, nil
}

func (m *memStore) UpdateDomain(_ context.Context, mapping *domain.DomainMapping) error {
	if _, ok := m.domains[mapping.ID]; !ok {
		return repository.ErrNotFound
	}
	clone := *mapping
	m.domains[mapping.ID] = &clone
	return nil
}

func (m *memStore) DeleteDomain(_ context.Context, domainID string) error {
	if _, ok := m.domains[domainID]; !ok {
		return repository.ErrNotFound
	}
	delete(m.domains, domainID)
	return nil
}

func (m *memStore) ListPathRedirects(_ context.Context, domainID string) ([]domain.PathRedirect, error) {
	return nil, nil
}

func (m *memStore) GetTrafficSplit(_ context.Context, domainID string) (*domain.TrafficSplit, error) {
	if split, ok := m.splits[domainID]; ok {
		clone := *split
		return &clone, nil
	}
	return nil, repository.ErrNotFound
}

func (m *memStore) ReplaceTrafficSplit(_ context.Context, split *domain.TrafficSplit) error {
	clone := *split
	m.splits[split.DomainID] = &clone
	return nil
}

func (m *memStore) DeleteTrafficSplit(_ context.Context, domainID string) error {
	delete(m.splits, domainID)
	return nil
}

func (m *memStore) CreateRuleSet(_ context.Context, set *domain.ProxyRuleSet) error {
	clone := *set
	m.ruleSets[set.ID] = &clone
	return nil
}

func (m *memStore) GetRuleSet(_ context.Context, ruleSetID string) (*domain.ProxyRuleSet, error) {
	if set, ok := m.ruleSets[ruleSetID]; ok {
		clone := *set
		return &clone, nil
	}
	return nil, repository.ErrNotFound
}

func (m *memStore) ListRulesByRuleSet(_ context.Context, ruleSetID string) ([]domain.ProxyRule, error) {
	var out []domain.ProxyRule
	for _, rule := range m.rules {
		if rule.RuleSetID == ruleSetID {
			out = append(out, *rule)
		}
	}
	return out, nil
}

func (m *memStore) GetRule(_ context.Context, ruleID string) (*domain.ProxyRule, error) {
	if rule, ok := m.rules[ruleID]; ok {
		clone := *rule
		return &clone, nil
	}
	return nil, repository.ErrNotFound
}

func (m *memStore) CreateRule(_ context.Context, rule *domain.ProxyRule) error {
	clone := *rule
	m.rules[rule.ID] = &clone
	return nil
}

func (m *memStore) UpdateRule(_ context.Context, rule *domain.ProxyRule) error {
	if _, ok := m.rules[rule.ID]; !ok {
		return repository.ErrNotFound
	}
	clone := *rule
	m.rules[rule.ID] = &clone
	return nil
}

func (m *memStore) DeleteRule(_ context.Context, ruleID string) error {
	delete(m.rules, ruleID)
	return nil
}

func (m *memStore) ReorderRules(_ context.Context, ruleSetID string, orderedRuleIDs []string) error {
	for position, ruleID := range orderedRuleIDs {
		if rule, ok := m.rules[ruleID]; ok {
			rule.Position = position
		}
	}
	return nil
}

func (m *memStore) CreatePendingUpload(_ context.Context, upload *domain.PendingUpload) error {
	clone := *upload
	m.pendings[upload.Token] = &clone
	return nil
}

func (m *memStore) GetPendingUpload(_ context.Context, token string) (*domain.PendingUpload, error) {
	if pending, ok := m.pendings[token]; ok {
		clone := *pending
		return &clone, nil
	}
	return nil, repository.ErrNotFound
}

func (m *memStore) DeletePendingUpload(_ context.Context, token string) error {
	delete(m.pendings, token)
	return nil
}

func (m *memStore) DeleteExpiredUploads(_ context.Context, cutoff time.Time) (int, error) {
	removed := 0
	for token, pending := range m.pendings {
		if pending.ExpiresAt.Before(cutoff) {
			delete(m.pendings, token)
			removed++
		}
	}
	return removed, nil
}

type okValidator struct{}

func (okValidator) Validate(context.Context, string) error { return nil }

type okReloader struct{}

func (okReloader) Reload(context.Context) error { return nil }
func (okReloader) Close() error                 { return nil }

type routerFixture struct {
	router *Router
	repo   *memStore
	store  *storage.Memory
	cfg    config.APIConfig
}

func newRouterFixture(t *testing.T) *routerFixture {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	repo := newMemStore()
	store := storage.NewMemory()
	metaCache := cache.NewMemoryCache()
	t.Cleanup(metaCache.Close)
	hub := ws.NewHub()

	cfg := config.APIConfig{
		Addr:              ":0",
		LoginURL:          "/login",
		JWTSecret:         "router-test-secret",
		ShareTokenTTL:     time.Hour,
		EdgeDomainSuffix:  ".pages.local",
		AssetCacheTTL:     time.Minute,
		FileCacheTTL:      time.Minute,
		PendingUploadTTL:  time.Minute,
		StoragePresignTTL: time.Minute,
	}

	ingressSvc := ingress.NewWithParts(t.TempDir(), okValidator{}, okReloader{}, log)
	orch := ingress.NewOrchestrator(repo, repo, repo, repo, ingressSvc, hub, log, cfg)
	aliasSvc := aliassvc.New(repo, repo, repo, store, orch, hub, log)
	uploadSvc := uploadsvc.New(repo, repo, aliasSvc, store, hub, log, cfg)
	resolver := resolve.New(repo, repo, log)
	pipeline := serve.New(repo, repo, repo, repo, repo, resolver, access.New(log), traffic.New(), metaCache, store, nil, log, cfg)

	repos := Repositories{Projects: repo, Aliases: repo, Domains: repo, Traffic: repo, Rules: repo}
	router := NewRouter(log, cfg, pipeline, aliasSvc, uploadSvc, orch, ingressSvc, repos, hub, NewMemoryRateLimiter(), nil)
	t.Cleanup(router.Close)

	return &routerFixture{router: router, repo: repo, store: store, cfg: cfg}
}

func (f *routerFixture) seedProject(t *testing.T, isPublic bool) *domain.Project {
	t.Helper()
	project := &domain.Project{
		ID:                   "p1",
		Owner:                "acme",
		Name:                 "site",
		IsPublic:             isPublic,
		UnauthorizedBehavior: domain.BehaviorNotFound,
		RequiredRole:         domain.RoleAuthenticated,
	}
	if err := f.repo.CreateProject(context.Background(), project); err != nil {
		t.Fatalf("seed project: %v", err)
	}
	return project
}

func (f *routerFixture) seedAsset(t *testing.T, project *domain.Project, path string, body []byte) {
	t.Helper()
	key := project.ID + "/" + routerTestSHA + "/" + path
	if _, err := f.store.Upload(context.Background(), body, key, storage.UploadOptions{}); err != nil {
		t.Fatalf("seed storage: %v", err)
	}
	err := f.repo.UpsertAsset(context.Background(), &domain.Asset{
		ID:          "a-" + path,
		ProjectID:   project.ID,
		CommitSHA:   routerTestSHA,
		PublicPath:  path,
		StorageKey:  key,
		MimeType:    "text/html",
		Size:        int64(len(body)),
		ContentHash: "hash-" + path,
	})
	if err != nil {
		t.Fatalf("seed asset: %v", err)
	}
}

func (f *routerFixture) authHeader(t *testing.T) string {
	t.Helper()
	token, err := jwt.GenerateToken("user-1", f.cfg.JWTSecret, time.Hour)
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	return "Bearer " + token
}

func (f *routerFixture) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func TestHealthzReportsOK(t *testing.T) {
	f := newRouterFixture(t)

	rec := f.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var payload map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if payload["status"] != "ok" {
		t.Fatalf("status field = %v, want ok", payload["status"])
	}
}

func TestPublicCommitRouteServesImmutableFile(t *testing.T) {
	f := newRouterFixture(t)
	project := f.seedProject(t, true)
	f.seedAsset(t, project, "index.html", []byte("<h1>hello</h1>"))

	rec := f.do(httptest.NewRequest(http.MethodGet, "/public/acme/site/commits/"+routerTestSHA+"/index.html", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("Cache-Control"); !strings.Contains(got, "immutable") {
		t.Fatalf("Cache-Control = %q, want immutable", got)
	}
	if got := rec.Header().Get("X-Served-Sha"); got != routerTestSHA {
		t.Fatalf("X-Served-Sha = %q", got)
	}
	if rec.Body.String() != "<h1>hello</h1>" {
		t.Fatalf("unexpected body %q", rec.Body.String())
	}
}

func TestPublicRouteRejectsWrites(t *testing.T) {
	f := newRouterFixture(t)

	rec := f.do(httptest.NewRequest(http.MethodPost, "/public/acme/site", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", rec.Code)
	}
}

func TestHeadRequestOmitsBody(t *testing.T) {
	f := newRouterFixture(t)
	project := f.seedProject(t, true)
	f.seedAsset(t, project, "index.html", []byte("<h1>hello</h1>"))

	rec := f.do(httptest.NewRequest(http.MethodHead, "/public/acme/site/commits/"+routerTestSHA+"/index.html", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if rec.Body.Len() != 0 {
		t.Fatalf("HEAD response carried %d body bytes", rec.Body.Len())
	}
}

func TestManagementRequiresAuth(t *testing.T) {
	f := newRouterFixture(t)

	body := bytes.NewBufferString(`{"owner":"acme","name":"site"}`)
	rec := f.do(httptest.NewRequest(http.MethodPost, "/api/projects", body))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestCreateProject(t *testing.T) {
	f := newRouterFixture(t)

	body := bytes.NewBufferString(`{"owner":"acme","name":"site","is_public":true}`)
	req := httptest.NewRequest(http.MethodPost, "/api/projects", body)
	req.Header.Set("Authorization", f.authHeader(t))

	rec := f.do(req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", rec.Code, rec.Body.String())
	}
	created, err := f.repo.GetProjectByOwnerName(context.Background(), "acme", "site")
	if err != nil {
		t.Fatalf("project not persisted: %v", err)
	}
	if created.ID == "" || !created.IsPublic {
		t.Fatalf("unexpected project %+v", created)
	}
	if created.UnauthorizedBehavior != domain.BehaviorNotFound {
		t.Fatalf("default behavior = %q", created.UnauthorizedBehavior)
	}
}

func TestCreateProjectRejectsDuplicate(t *testing.T) {
	f := newRouterFixture(t)
	f.seedProject(t, true)

	body := bytes.NewBufferString(`{"owner":"acme","name":"site"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/projects", body)
	req.Header.Set("Authorization", f.authHeader(t))

	rec := f.do(req)
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
}

func TestShareTokenRoundTrip(t *testing.T) {
	f := newRouterFixture(t)
	project := f.seedProject(t, false)

	req := httptest.NewRequest(http.MethodPost, "/api/projects/"+project.ID+"/share-token", nil)
	req.Header.Set("Authorization", f.authHeader(t))

	rec := f.do(req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", rec.Code, rec.Body.String())
	}
	var payload struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	claims, err := jwt.ParseShareToken(payload.Token, f.cfg.JWTSecret)
	if err != nil {
		t.Fatalf("issued token did not parse: %v", err)
	}
	if claims.ProjectID != project.ID {
		t.Fatalf("token project = %q, want %q", claims.ProjectID, project.ID)
	}
}

func TestAliasNameMustNotLookLikeCommit(t *testing.T) {
	f := newRouterFixture(t)
	project := f.seedProject(t, true)

	body := bytes.NewBufferString(`{"name":"` + routerTestSHA + `","commit_sha":"` + routerTestSHA + `"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/projects/"+project.ID+"/aliases", body)
	req.Header.Set("Authorization", f.authHeader(t))

	rec := f.do(req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestTrafficWeightsMustSumToHundred(t *testing.T) {
	f := newRouterFixture(t)
	project := f.seedProject(t, true)
	err := f.repo.CreateDomain(context.Background(), &domain.DomainMapping{
		ID:        "d1",
		Host:      "app.example.com",
		ProjectID: &project.ID,
		AliasName: "production",
		IsActive:  true,
	})
	if err != nil {
		t.Fatalf("seed domain: %v", err)
	}

	body := bytes.NewBufferString(`{"weights":[{"alias":"production","weight":50},{"alias":"canary","weight":40}]}`)
	req := httptest.NewRequest(http.MethodPut, "/api/domains/d1/traffic", body)
	req.Header.Set("Authorization", f.authHeader(t))

	rec := f.do(req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400: %s", rec.Code, rec.Body.String())
	}

	body = bytes.NewBufferString(`{"weights":[{"alias":"production","weight":60},{"alias":"canary","weight":40}]}`)
	req = httptest.NewRequest(http.MethodPut, "/api/domains/d1/traffic", body)
	req.Header.Set("Authorization", f.authHeader(t))

	rec = f.do(req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	split, err := f.repo.GetTrafficSplit(context.Background(), "d1")
	if err != nil {
		t.Fatalf("split not stored: %v", err)
	}
	if len(split.Weights) != 2 {
		t.Fatalf("stored %d weights, want 2", len(split.Weights))
	}
}

func TestUploadFlowThroughAPI(t *testing.T) {
	f := newRouterFixture(t)
	project := f.seedProject(t, true)

	manifest := `{"repository":"acme/site","commit_sha":"` + routerTestSHA + `","branch":"main",` +
		`"manifest":[{"public_path":"index.html","mime_type":"text/html","size":14,"content_hash":"h1"}]}`
	req := httptest.NewRequest(http.MethodPost, "/api/projects/"+project.ID+"/uploads", strings.NewReader(manifest))
	req.Header.Set("Authorization", f.authHeader(t))

	rec := f.do(req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("pending status = %d: %s", rec.Code, rec.Body.String())
	}
	var pending struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &pending); err != nil {
		t.Fatalf("decode pending: %v", err)
	}
	if pending.Token == "" {
		t.Fatal("no upload token issued")
	}

	req = httptest.NewRequest(http.MethodPost, "/api/uploads/"+pending.Token+"/finalize", nil)
	req.Header.Set("Authorization", f.authHeader(t))

	rec = f.do(req)
	if rec.Code != http.StatusOK {
		t.Fatalf("finalize status = %d: %s", rec.Code, rec.Body.String())
	}
	if _, err := f.repo.GetAsset(context.Background(), project.ID, routerTestSHA, "index.html"); err != nil {
		t.Fatalf("finalize did not register asset: %v", err)
	}
}

func TestCommitDeletionBlockedByManualAliasIsBadRequest(t *testing.T) {
	f := newRouterFixture(t)
	project := f.seedProject(t, true)
	err := f.repo.CreateAlias(context.Background(), &domain.Alias{
		ID:        "al1",
		ProjectID: project.ID,
		Name:      "production",
		CommitSHA: routerTestSHA,
	})
	if err != nil {
		t.Fatalf("seed alias: %v", err)
	}

	req := httptest.NewRequest(http.MethodDelete, "/api/projects/"+project.ID+"/commits/"+routerTestSHA, nil)
	req.Header.Set("Authorization", f.authHeader(t))

	rec := f.do(req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "production") {
		t.Fatalf("error must name the blocking alias, got %s", rec.Body.String())
	}
	if _, err := f.repo.GetAliasByID(context.Background(), "al1"); err != nil {
		t.Fatalf("blocking alias must survive: %v", err)
	}
}

func TestPartialRuleUpdateKeepsPositionAndTransform(t *testing.T) {
	f := newRouterFixture(t)
	f.seedProject(t, true)
	ctx := context.Background()
	if err := f.repo.CreateRuleSet(ctx, &domain.ProxyRuleSet{ID: "rs1", ProjectID: "p1", Name: "api"}); err != nil {
		t.Fatalf("seed rule set: %v", err)
	}
	err := f.repo.CreateRule(ctx, &domain.ProxyRule{
		ID:          "r1",
		RuleSetID:   "rs1",
		PathPattern: "/api/",
		TargetURL:   "http://upstream:8080",
		Position:    3,
		AuthTransform: &domain.AuthTransform{
			Type:       "cookie_to_header",
			HeaderName: "Authorization",
		},
	})
	if err != nil {
		t.Fatalf("seed rule: %v", err)
	}

	req := httptest.NewRequest(http.MethodPatch, "/api/rules/r1", strings.NewReader(`{"path_pattern":"/v2/"}`))
	req.Header.Set("Authorization", f.authHeader(t))

	rec := f.do(req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	rule, err := f.repo.GetRule(ctx, "r1")
	if err != nil {
		t.Fatalf("rule lookup: %v", err)
	}
	if rule.PathPattern != "/v2/" {
		t.Fatalf("path pattern = %q, want /v2/", rule.PathPattern)
	}
	if rule.Position != 3 {
		t.Fatalf("position = %d, want 3 untouched", rule.Position)
	}
	if rule.AuthTransform == nil || rule.AuthTransform.HeaderName != "Authorization" {
		t.Fatalf("auth transform must survive a partial update, got %+v", rule.AuthTransform)
	}
}

func TestUnknownAPIRouteReturnsNotFound(t *testing.T) {
	f := newRouterFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/api/projects/p1/unknown", nil)
	req.Header.Set("Authorization", f.authHeader(t))

	rec := f.do(req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestBearerTokenParsing(t *testing.T) {
	if _, err := bearerToken(""); err == nil {
		t.Fatal("empty header accepted")
	}
	if _, err := bearerToken("Basic abc"); err == nil {
		t.Fatal("non-bearer scheme accepted")
	}
	token, err := bearerToken("Bearer abc123")
	if err != nil {
		t.Fatalf("valid header rejected: %v", err)
	}
	if token != "abc123" {
		t.Fatalf("token = %q", token)
	}
}

func TestMemoryRateLimiterEnforcesWindow(t *testing.T) {
	limiter := NewMemoryRateLimiter()
	defer limiter.Close()

	for i := 0; i < 3; i++ {
		decision := limiter.Allow("key", 3, time.Minute)
		if !decision.allowed {
			t.Fatalf("request %d unexpectedly limited", i)
		}
	}
	if decision := limiter.Allow("key", 3, time.Minute); decision.allowed {
		t.Fatal("fourth request should be limited")
	}
	if decision := limiter.Allow("other", 3, time.Minute); !decision.allowed {
		t.Fatal("independent key should not be limited")
	}
}
