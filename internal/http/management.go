package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bffless/bffless/internal/domain"
	"github.com/bffless/bffless/internal/repository"
	aliassvc "github.com/bffless/bffless/internal/service/alias"
	"github.com/bffless/bffless/internal/service/resolve"
	"github.com/bffless/bffless/pkg/jwt"
)

// writeRepoError maps repository sentinels onto HTTP statuses.
func (r *Router) writeRepoError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, repository.ErrConflict):
		writeError(w, http.StatusConflict, err.Error())
	default:
		r.logger.Error("management request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func decodeJSON(w http.ResponseWriter, req *http.Request, dst any) bool {
	if err := json.NewDecoder(req.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func (r *Router) handleProjects(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload struct {
		Owner                string `json:"owner"`
		Name                 string `json:"name"`
		IsPublic             bool   `json:"is_public"`
		UnauthorizedBehavior string `json:"unauthorized_behavior"`
		RequiredRole         string `json:"required_role"`
	}
	if !decodeJSON(w, req, &payload) {
		return
	}
	payload.Owner = strings.TrimSpace(payload.Owner)
	payload.Name = strings.TrimSpace(payload.Name)
	if payload.Owner == "" || payload.Name == "" {
		writeError(w, http.StatusBadRequest, "owner and name are required")
		return
	}
	if payload.UnauthorizedBehavior == "" {
		payload.UnauthorizedBehavior = domain.BehaviorNotFound
	}
	if payload.RequiredRole == "" {
		payload.RequiredRole = domain.RoleAuthenticated
	}
	now := time.Now().UTC()
	project := &domain.Project{
		ID:                   uuid.NewString(),
		Owner:                payload.Owner,
		Name:                 payload.Name,
		IsPublic:             payload.IsPublic,
		UnauthorizedBehavior: payload.UnauthorizedBehavior,
		RequiredRole:         payload.RequiredRole,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if err := r.repos.Projects.CreateProject(req.Context(), project); err != nil {
		r.writeRepoError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, project)
}

// handleProjectSubroutes dispatches /api/projects/{id}/...
func (r *Router) handleProjectSubroutes(w http.ResponseWriter, req *http.Request) {
	trimmed := strings.TrimPrefix(req.URL.Path, "/api/projects/")
	projectID, rest := splitSegment(trimmed)
	if projectID == "" {
		r.notFound(w)
		return
	}
	switch {
	case rest == "" && req.Method == http.MethodGet:
		project, err := r.repos.Projects.GetProjectByID(req.Context(), projectID)
		if err != nil {
			r.writeRepoError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, project)
	case rest == "access":
		r.handleProjectAccess(w, req, projectID)
	case rest == "default-rule-set":
		r.handleProjectDefaultRuleSet(w, req, projectID)
	case rest == "share-token":
		r.handleShareToken(w, req, projectID)
	case rest == "aliases":
		r.handleProjectAliases(w, req, projectID)
	case rest == "domains":
		r.handleProjectDomains(w, req, projectID)
	case rest == "rule-sets":
		r.handleProjectRuleSets(w, req, projectID)
	case rest == "uploads":
		r.handleProjectUploads(w, req, projectID)
	case strings.HasPrefix(rest, "commits/"):
		sha, tail := splitSegment(strings.TrimPrefix(rest, "commits/"))
		if tail != "" || sha == "" {
			r.notFound(w)
			return
		}
		r.handleCommitDeletion(w, req, projectID, sha)
	default:
		r.notFound(w)
	}
}

func (r *Router) handleProjectAccess(w http.ResponseWriter, req *http.Request, projectID string) {
	if req.Method != http.MethodPatch {
		r.methodNotAllowed(w)
		return
	}
	project, err := r.repos.Projects.GetProjectByID(req.Context(), projectID)
	if err != nil {
		r.writeRepoError(w, err)
		return
	}
	var payload struct {
		IsPublic             *bool   `json:"is_public"`
		UnauthorizedBehavior *string `json:"unauthorized_behavior"`
		RequiredRole         *string `json:"required_role"`
	}
	if !decodeJSON(w, req, &payload) {
		return
	}
	if payload.IsPublic != nil {
		project.IsPublic = *payload.IsPublic
	}
	if payload.UnauthorizedBehavior != nil {
		project.UnauthorizedBehavior = *payload.UnauthorizedBehavior
	}
	if payload.RequiredRole != nil {
		project.RequiredRole = *payload.RequiredRole
	}
	project.UpdatedAt = time.Now().UTC()
	if err := r.repos.Projects.UpdateProjectAccess(req.Context(), project); err != nil {
		r.writeRepoError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, project)
}

// handleProjectDefaultRuleSet changes which rule set backs domains with no
// more specific binding; the write only sticks if regeneration succeeds.
func (r *Router) handleProjectDefaultRuleSet(w http.ResponseWriter, req *http.Request, projectID string) {
	if req.Method != http.MethodPut {
		r.methodNotAllowed(w)
		return
	}
	project, err := r.repos.Projects.GetProjectByID(req.Context(), projectID)
	if err != nil {
		r.writeRepoError(w, err)
		return
	}
	var payload struct {
		RuleSetID *string `json:"rule_set_id"`
	}
	if !decodeJSON(w, req, &payload) {
		return
	}
	previous := project.DefaultProxyRuleSetID

	if err := r.repos.Projects.SetProjectDefaultRuleSet(req.Context(), projectID, payload.RuleSetID); err != nil {
		r.writeRepoError(w, err)
		return
	}
	affected, err := r.repos.Domains.ListActiveDomainsByProject(req.Context(), projectID)
	if err != nil {
		r.writeRepoError(w, err)
		return
	}
	if err := r.orch.ApplyMutation(req.Context(), affected, func(ctx context.Context) error {
		return r.repos.Projects.SetProjectDefaultRuleSet(ctx, projectID, previous)
	}); err != nil {
		r.writeRepoError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rule_set_id": payload.RuleSetID})
}

func (r *Router) handleShareToken(w http.ResponseWriter, req *http.Request, projectID string) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	if _, err := r.repos.Projects.GetProjectByID(req.Context(), projectID); err != nil {
		r.writeRepoError(w, err)
		return
	}
	token, err := jwt.GenerateShareToken(projectID, r.cfg.JWTSecret, r.cfg.ShareTokenTTL)
	if err != nil {
		r.logger.Error("share token generation failed", "project", projectID, "error", err)
		writeError(w, http.StatusInternalServerError, "could not issue share token")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"token":      token,
		"expires_at": time.Now().UTC().Add(r.cfg.ShareTokenTTL),
	})
}

func (r *Router) handleProjectAliases(w http.ResponseWriter, req *http.Request, projectID string) {
	switch req.Method {
	case http.MethodGet:
		aliases, err := r.repos.Aliases.ListAliasesByProject(req.Context(), projectID)
		if err != nil {
			r.writeRepoError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, aliases)
	case http.MethodPost:
		var payload struct {
			Name         string `json:"name"`
			CommitSHA    string `json:"commit_sha"`
			DeploymentID string `json:"deployment_id"`
		}
		if !decodeJSON(w, req, &payload) {
			return
		}
		payload.Name = strings.TrimSpace(payload.Name)
		if payload.Name == "" || payload.CommitSHA == "" {
			writeError(w, http.StatusBadRequest, "name and commit_sha are required")
			return
		}
		if resolve.IsCommitSHA(payload.Name) {
			writeError(w, http.StatusBadRequest, "alias name must not look like a commit sha")
			return
		}
		if resolve.IsPreviewAliasName(payload.Name) {
			writeError(w, http.StatusBadRequest, "alias name collides with the preview namespace")
			return
		}
		now := time.Now().UTC()
		alias := &domain.Alias{
			ID:           uuid.NewString(),
			ProjectID:    projectID,
			Name:         payload.Name,
			CommitSHA:    strings.ToLower(payload.CommitSHA),
			DeploymentID: payload.DeploymentID,
			BasePath:     "/",
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := r.repos.Aliases.CreateAlias(req.Context(), alias); err != nil {
			r.writeRepoError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, alias)
	default:
		r.methodNotAllowed(w)
	}
}

// handleAliasSubroutes dispatches /api/aliases/{id}[/...].
func (r *Router) handleAliasSubroutes(w http.ResponseWriter, req *http.Request) {
	trimmed := strings.TrimPrefix(req.URL.Path, "/api/aliases/")
	aliasID, rest := splitSegment(trimmed)
	if aliasID == "" {
		r.notFound(w)
		return
	}
	switch rest {
	case "":
		switch req.Method {
		case http.MethodDelete:
			if err := r.aliases.Delete(req.Context(), aliasID); err != nil {
				r.writeRepoError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
		default:
			r.methodNotAllowed(w)
		}
	case "repoint":
		if req.Method != http.MethodPost {
			r.methodNotAllowed(w)
			return
		}
		var payload struct {
			CommitSHA    string `json:"commit_sha"`
			DeploymentID string `json:"deployment_id"`
		}
		if !decodeJSON(w, req, &payload) {
			return
		}
		if !resolve.IsCommitSHA(payload.CommitSHA) {
			writeError(w, http.StatusBadRequest, "malformed commit sha")
			return
		}
		alias, err := r.aliases.Repoint(req.Context(), aliasID, strings.ToLower(payload.CommitSHA), payload.DeploymentID)
		if err != nil {
			r.writeRepoError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, alias)
	case "rule-set":
		if req.Method != http.MethodPut {
			r.methodNotAllowed(w)
			return
		}
		var payload struct {
			RuleSetID *string `json:"rule_set_id"`
		}
		if !decodeJSON(w, req, &payload) {
			return
		}
		if err := r.aliases.SetRuleSet(req.Context(), aliasID, payload.RuleSetID); err != nil {
			r.writeRepoError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"rule_set_id": payload.RuleSetID})
	default:
		r.notFound(w)
	}
}

func (r *Router) handleProjectDomains(w http.ResponseWriter, req *http.Request, projectID string) {
	switch req.Method {
	case http.MethodGet:
		domains, err := r.repos.Domains.ListActiveDomainsByProject(req.Context(), projectID)
		if err != nil {
			r.writeRepoError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, domains)
	case http.MethodPost:
		var payload struct {
			Host           string `json:"host"`
			AliasName      string `json:"alias_name"`
			DomainType     string `json:"domain_type"`
			RedirectTarget string `json:"redirect_target"`
			WWWBehavior    string `json:"www_behavior"`
			SSLEnabled     bool   `json:"ssl_enabled"`
			IsPrimary      bool   `json:"is_primary"`
		}
		if !decodeJSON(w, req, &payload) {
			return
		}
		payload.Host = strings.ToLower(strings.TrimSpace(payload.Host))
		if payload.Host == "" {
			writeError(w, http.StatusBadRequest, "host is required")
			return
		}
		if payload.DomainType == "" {
			payload.DomainType = domain.DomainTypeCustom
		}
		if payload.WWWBehavior == "" {
			payload.WWWBehavior = domain.WWWBehaviorNone
		}
		now := time.Now().UTC()
		mapping := &domain.DomainMapping{
			ID:             uuid.NewString(),
			Host:           payload.Host,
			ProjectID:      &projectID,
			AliasName:      payload.AliasName,
			DomainType:     payload.DomainType,
			RedirectTarget: payload.RedirectTarget,
			WWWBehavior:    payload.WWWBehavior,
			SSLEnabled:     payload.SSLEnabled,
			IsPrimary:      payload.IsPrimary,
			IsActive:       true,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if mapping.DomainType == domain.DomainTypeRedirect {
			mapping.ProjectID = nil
		}
		if err := r.repos.Domains.CreateDomain(req.Context(), mapping); err != nil {
			r.writeRepoError(w, err)
			return
		}
		if err := r.orch.ApplyMutation(req.Context(), []domain.DomainMapping{*mapping}, func(ctx context.Context) error {
			return r.repos.Domains.DeleteDomain(ctx, mapping.ID)
		}); err != nil {
			r.writeRepoError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, mapping)
	default:
		r.methodNotAllowed(w)
	}
}

// handleDomainSubroutes dispatches /api/domains/{id}[/traffic].
func (r *Router) handleDomainSubroutes(w http.ResponseWriter, req *http.Request) {
	trimmed := strings.TrimPrefix(req.URL.Path, "/api/domains/")
	domainID, rest := splitSegment(trimmed)
	if domainID == "" {
		r.notFound(w)
		return
	}
	switch rest {
	case "":
		r.handleDomain(w, req, domainID)
	case "traffic":
		r.handleDomainTraffic(w, req, domainID)
	default:
		r.notFound(w)
	}
}

func (r *Router) handleDomain(w http.ResponseWriter, req *http.Request, domainID string) {
	switch req.Method {
	case http.MethodGet:
		mapping, err := r.repos.Domains.GetDomainByID(req.Context(), domainID)
		if err != nil {
			r.writeRepoError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, mapping)
	case http.MethodPatch:
		mapping, err := r.repos.Domains.GetDomainByID(req.Context(), domainID)
		if err != nil {
			r.writeRepoError(w, err)
			return
		}
		previous := *mapping

		var payload struct {
			AliasName            *string `json:"alias_name"`
			RedirectTarget       *string `json:"redirect_target"`
			WWWBehavior          *string `json:"www_behavior"`
			SSLEnabled           *bool   `json:"ssl_enabled"`
			IsActive             *bool   `json:"is_active"`
			IsPublic             *bool   `json:"is_public"`
			UnauthorizedBehavior *string `json:"unauthorized_behavior"`
			RequiredRole         *string `json:"required_role"`
		}
		if !decodeJSON(w, req, &payload) {
			return
		}
		if payload.AliasName != nil {
			mapping.AliasName = *payload.AliasName
		}
		if payload.RedirectTarget != nil {
			mapping.RedirectTarget = *payload.RedirectTarget
		}
		if payload.WWWBehavior != nil {
			mapping.WWWBehavior = *payload.WWWBehavior
		}
		if payload.SSLEnabled != nil {
			mapping.SSLEnabled = *payload.SSLEnabled
		}
		if payload.IsActive != nil {
			mapping.IsActive = *payload.IsActive
		}
		if payload.IsPublic != nil {
			mapping.IsPublic = payload.IsPublic
		}
		if payload.UnauthorizedBehavior != nil {
			mapping.UnauthorizedBehavior = payload.UnauthorizedBehavior
		}
		if payload.RequiredRole != nil {
			mapping.RequiredRole = payload.RequiredRole
		}
		mapping.UpdatedAt = time.Now().UTC()

		if err := r.repos.Domains.UpdateDomain(req.Context(), mapping); err != nil {
			r.writeRepoError(w, err)
			return
		}
		if err := r.orch.ApplyMutation(req.Context(), []domain.DomainMapping{*mapping}, func(ctx context.Context) error {
			return r.repos.Domains.UpdateDomain(ctx, &previous)
		}); err != nil {
			r.writeRepoError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, mapping)
	case http.MethodDelete:
		mapping, err := r.repos.Domains.GetDomainByID(req.Context(), domainID)
		if err != nil {
			r.writeRepoError(w, err)
			return
		}
		if err := r.repos.Domains.DeleteDomain(req.Context(), domainID); err != nil {
			r.writeRepoError(w, err)
			return
		}
		if err := r.ingress.Remove(req.Context(), mapping.Host); err != nil {
			// The row is gone; a stale vhost file only routes until the next
			// regeneration pass.
			r.logger.Error("proxy config removal failed", "host", mapping.Host, "error", err)
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleDomainTraffic(w http.ResponseWriter, req *http.Request, domainID string) {
	switch req.Method {
	case http.MethodGet:
		split, err := r.repos.Traffic.GetTrafficSplit(req.Context(), domainID)
		if err != nil {
			r.writeRepoError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, split)
	case http.MethodPut:
		var payload struct {
			Weights []struct {
				Alias  string `json:"alias"`
				Weight int    `json:"weight"`
			} `json:"weights"`
			StickySessionsEnabled bool `json:"sticky_sessions_enabled"`
			StickySessionDuration int  `json:"sticky_session_duration"`
		}
		if !decodeJSON(w, req, &payload) {
			return
		}
		if len(payload.Weights) == 0 {
			writeError(w, http.StatusBadRequest, "weights are required")
			return
		}
		total := 0
		split := &domain.TrafficSplit{
			DomainID:              domainID,
			StickySessionsEnabled: payload.StickySessionsEnabled,
			StickySessionDuration: payload.StickySessionDuration,
		}
		for i, weight := range payload.Weights {
			if weight.Alias == "" || weight.Weight < 0 || weight.Weight > 100 {
				writeError(w, http.StatusBadRequest, "weights must name an alias and lie in [0,100]")
				return
			}
			total += weight.Weight
			split.Weights = append(split.Weights, domain.TrafficWeight{
				DomainID: domainID,
				Alias:    weight.Alias,
				Weight:   weight.Weight,
				Position: i,
			})
		}
		if total != 100 {
			writeError(w, http.StatusBadRequest, "weights must sum to 100")
			return
		}
		if err := r.repos.Traffic.ReplaceTrafficSplit(req.Context(), split); err != nil {
			r.writeRepoError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, split)
	case http.MethodDelete:
		if err := r.repos.Traffic.DeleteTrafficSplit(req.Context(), domainID); err != nil {
			r.writeRepoError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleProjectRuleSets(w http.ResponseWriter, req *http.Request, projectID string) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload struct {
		Name string `json:"name"`
	}
	if !decodeJSON(w, req, &payload) {
		return
	}
	payload.Name = strings.TrimSpace(payload.Name)
	if payload.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	now := time.Now().UTC()
	set := &domain.ProxyRuleSet{
		ID:        uuid.NewString(),
		ProjectID: projectID,
		Name:      payload.Name,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := r.repos.Rules.CreateRuleSet(req.Context(), set); err != nil {
		r.writeRepoError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, set)
}

// handleRuleSetSubroutes dispatches /api/rule-sets/{id}[/rules|/reorder].
func (r *Router) handleRuleSetSubroutes(w http.ResponseWriter, req *http.Request) {
	trimmed := strings.TrimPrefix(req.URL.Path, "/api/rule-sets/")
	ruleSetID, rest := splitSegment(trimmed)
	if ruleSetID == "" {
		r.notFound(w)
		return
	}
	switch rest {
	case "rules":
		r.handleRuleSetRules(w, req, ruleSetID)
	case "reorder":
		r.handleRuleSetReorder(w, req, ruleSetID)
	case "":
		if req.Method != http.MethodGet {
			r.methodNotAllowed(w)
			return
		}
		set, err := r.repos.Rules.GetRuleSet(req.Context(), ruleSetID)
		if err != nil {
			r.writeRepoError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, set)
	default:
		r.notFound(w)
	}
}

type authTransform struct {
	Type        string `json:"type"`
	HeaderName  string `json:"header_name"`
	HeaderValue string `json:"header_value"`
}

func (t *authTransform) toDomain() *domain.AuthTransform {
	if t == nil {
		return nil
	}
	return &domain.AuthTransform{
		Type:        t.Type,
		HeaderName:  t.HeaderName,
		HeaderValue: t.HeaderValue,
	}
}

type ruleInput struct {
	PathPattern   string         `json:"path_pattern"`
	TargetURL     string         `json:"target_url"`
	Position      int            `json:"position"`
	AuthTransform *authTransform `json:"auth_transform"`
}

func (r *Router) handleRuleSetRules(w http.ResponseWriter, req *http.Request, ruleSetID string) {
	switch req.Method {
	case http.MethodGet:
		rules, err := r.repos.Rules.ListRulesByRuleSet(req.Context(), ruleSetID)
		if err != nil {
			r.writeRepoError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, rules)
	case http.MethodPost:
		var payload ruleInput
		if !decodeJSON(w, req, &payload) {
			return
		}
		if payload.PathPattern == "" || payload.TargetURL == "" {
			writeError(w, http.StatusBadRequest, "path_pattern and target_url are required")
			return
		}
		now := time.Now().UTC()
		rule := &domain.ProxyRule{
			ID:            uuid.NewString(),
			RuleSetID:     ruleSetID,
			PathPattern:   payload.PathPattern,
			TargetURL:     payload.TargetURL,
			Position:      payload.Position,
			AuthTransform: payload.AuthTransform.toDomain(),
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := r.repos.Rules.CreateRule(req.Context(), rule); err != nil {
			r.writeRepoError(w, err)
			return
		}
		if err := r.regenerateRuleSet(req, ruleSetID, func(ctx context.Context) error {
			return r.repos.Rules.DeleteRule(ctx, rule.ID)
		}); err != nil {
			r.writeRepoError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, rule)
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleRuleSetReorder(w http.ResponseWriter, req *http.Request, ruleSetID string) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload struct {
		RuleIDs []string `json:"rule_ids"`
	}
	if !decodeJSON(w, req, &payload) {
		return
	}
	if len(payload.RuleIDs) == 0 {
		writeError(w, http.StatusBadRequest, "rule_ids are required")
		return
	}
	previous, err := r.repos.Rules.ListRulesByRuleSet(req.Context(), ruleSetID)
	if err != nil {
		r.writeRepoError(w, err)
		return
	}
	previousOrder := make([]string, 0, len(previous))
	for _, rule := range previous {
		previousOrder = append(previousOrder, rule.ID)
	}

	if err := r.repos.Rules.ReorderRules(req.Context(), ruleSetID, payload.RuleIDs); err != nil {
		r.writeRepoError(w, err)
		return
	}
	if err := r.regenerateRuleSet(req, ruleSetID, func(ctx context.Context) error {
		return r.repos.Rules.ReorderRules(ctx, ruleSetID, previousOrder)
	}); err != nil {
		r.writeRepoError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rule_ids": payload.RuleIDs})
}

// handleRuleSubroutes dispatches /api/rules/{id}.
func (r *Router) handleRuleSubroutes(w http.ResponseWriter, req *http.Request) {
	trimmed := strings.TrimPrefix(req.URL.Path, "/api/rules/")
	ruleID, rest := splitSegment(trimmed)
	if ruleID == "" || rest != "" {
		r.notFound(w)
		return
	}
	switch req.Method {
	case http.MethodPatch:
		rule, err := r.repos.Rules.GetRule(req.Context(), ruleID)
		if err != nil {
			r.writeRepoError(w, err)
			return
		}
		previous := *rule

		var payload struct {
			PathPattern   *string        `json:"path_pattern"`
			TargetURL     *string        `json:"target_url"`
			Position      *int           `json:"position"`
			AuthTransform *authTransform `json:"auth_transform"`
		}
		if !decodeJSON(w, req, &payload) {
			return
		}
		if payload.PathPattern != nil {
			rule.PathPattern = *payload.PathPattern
		}
		if payload.TargetURL != nil {
			rule.TargetURL = *payload.TargetURL
		}
		if payload.Position != nil {
			rule.Position = *payload.Position
		}
		if payload.AuthTransform != nil {
			rule.AuthTransform = payload.AuthTransform.toDomain()
		}
		rule.UpdatedAt = time.Now().UTC()

		if err := r.repos.Rules.UpdateRule(req.Context(), rule); err != nil {
			r.writeRepoError(w, err)
			return
		}
		if err := r.regenerateRuleSet(req, rule.RuleSetID, func(ctx context.Context) error {
			return r.repos.Rules.UpdateRule(ctx, &previous)
		}); err != nil {
			r.writeRepoError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, rule)
	case http.MethodDelete:
		rule, err := r.repos.Rules.GetRule(req.Context(), ruleID)
		if err != nil {
			r.writeRepoError(w, err)
			return
		}
		if err := r.repos.Rules.DeleteRule(req.Context(), ruleID); err != nil {
			r.writeRepoError(w, err)
			return
		}
		if err := r.regenerateRuleSet(req, rule.RuleSetID, func(ctx context.Context) error {
			return r.repos.Rules.CreateRule(ctx, rule)
		}); err != nil {
			r.writeRepoError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	default:
		r.methodNotAllowed(w)
	}
}

// regenerateRuleSet re-renders every domain the rule set affects and rolls
// the triggering write back on failure.
func (r *Router) regenerateRuleSet(req *http.Request, ruleSetID string, compensate func(context.Context) error) error {
	affected, err := r.orch.DomainsForRuleSet(req.Context(), ruleSetID)
	if err != nil {
		return err
	}
	return r.orch.ApplyMutation(req.Context(), affected, compensate)
}

func (r *Router) handleProjectUploads(w http.ResponseWriter, req *http.Request, projectID string) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload struct {
		Repository string                 `json:"repository"`
		CommitSHA  string                 `json:"commit_sha"`
		Branch     string                 `json:"branch"`
		BasePath   string                 `json:"base_path"`
		Manifest   []domain.ManifestEntry `json:"manifest"`
	}
	if !decodeJSON(w, req, &payload) {
		return
	}
	if !resolve.IsCommitSHA(payload.CommitSHA) {
		writeError(w, http.StatusBadRequest, "malformed commit sha")
		return
	}
	if payload.BasePath == "" {
		payload.BasePath = "/"
	}
	pending, err := r.uploads.CreatePending(req.Context(), projectID, payload.Repository,
		strings.ToLower(payload.CommitSHA), payload.Branch, payload.BasePath, payload.Manifest)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) || errors.Is(err, repository.ErrConflict) {
			r.writeRepoError(w, err)
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, pending)
}

// handleUploadSubroutes dispatches /api/uploads/{token}/finalize.
func (r *Router) handleUploadSubroutes(w http.ResponseWriter, req *http.Request) {
	trimmed := strings.TrimPrefix(req.URL.Path, "/api/uploads/")
	token, rest := splitSegment(trimmed)
	if token == "" || rest != "finalize" {
		r.notFound(w)
		return
	}
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	alias, err := r.uploads.Finalize(req.Context(), token)
	if err != nil {
		r.writeRepoError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"alias":      alias.Name,
		"commit_sha": alias.CommitSHA,
	})
}

func (r *Router) handleCommitDeletion(w http.ResponseWriter, req *http.Request, projectID, sha string) {
	if req.Method != http.MethodDelete {
		r.methodNotAllowed(w)
		return
	}
	if !resolve.IsCommitSHA(sha) {
		writeError(w, http.StatusBadRequest, "malformed commit sha")
		return
	}
	report, err := r.aliases.DeleteCommit(req.Context(), projectID, strings.ToLower(sha))
	if err != nil {
		if errors.Is(err, aliassvc.ErrCommitReferenced) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		r.writeRepoError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}
