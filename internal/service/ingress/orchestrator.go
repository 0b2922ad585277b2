package ingress

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"log/slog"

	"github.com/bffless/bffless/internal/domain"
	"github.com/bffless/bffless/internal/repository"
	"github.com/bffless/bffless/internal/ws"
	"github.com/bffless/bffless/pkg/config"
)

// Applier is the slice of Service the orchestrator needs; tests substitute it.
type Applier interface {
	Apply(ctx context.Context, host, configText string) error
}

// Orchestrator reacts to routing mutations by regenerating proxy config for
// every affected domain. A mutation is only durable if regeneration succeeds:
// on failure the caller-provided compensation reverses the database write and
// the error carries repository.ErrConflict.
type Orchestrator struct {
	projects repository.ProjectRepository
	aliases  repository.AliasRepository
	domains  repository.DomainRepository
	rules    repository.ProxyRuleRepository
	applier  Applier
	hub      *ws.Hub
	logger   *slog.Logger
	cfg      config.APIConfig
}

// NewOrchestrator wires the regeneration saga.
func NewOrchestrator(projects repository.ProjectRepository, aliases repository.AliasRepository, domains repository.DomainRepository, rules repository.ProxyRuleRepository, applier Applier, hub *ws.Hub, logger *slog.Logger, cfg config.APIConfig) *Orchestrator {
	return &Orchestrator{
		projects: projects,
		aliases:  aliases,
		domains:  domains,
		rules:    rules,
		applier:  applier,
		hub:      hub,
		logger:   logger,
		cfg:      cfg,
	}
}

// DomainsForAlias lists active routable domains bound to an alias.
func (o *Orchestrator) DomainsForAlias(ctx context.Context, projectID, aliasName string) ([]domain.DomainMapping, error) {
	return o.domains.ListActiveDomainsByAlias(ctx, projectID, aliasName)
}

// DomainsForRuleSet finds every active domain whose effective rule set is the
// given one: domains of aliases overriding to it, plus all project domains
// when it is the project default.
func (o *Orchestrator) DomainsForRuleSet(ctx context.Context, ruleSetID string) ([]domain.DomainMapping, error) {
	seen := make(map[string]struct{})
	var affected []domain.DomainMapping

	aliases, err := o.aliases.ListAliasesByRuleSet(ctx, ruleSetID)
	if err != nil {
		return nil, err
	}
	for _, alias := range aliases {
		mappings, err := o.domains.ListActiveDomainsByAlias(ctx, alias.ProjectID, alias.Name)
		if err != nil {
			return nil, err
		}
		for _, m := range mappings {
			if _, ok := seen[m.ID]; ok {
				continue
			}
			seen[m.ID] = struct{}{}
			affected = append(affected, m)
		}
	}

	set, err := o.rules.GetRuleSet(ctx, ruleSetID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return affected, nil
		}
		return nil, err
	}
	project, err := o.projects.GetProjectByID(ctx, set.ProjectID)
	if err != nil {
		return nil, err
	}
	if project.DefaultProxyRuleSetID != nil && *project.DefaultProxyRuleSetID == ruleSetID {
		mappings, err := o.domains.ListActiveDomainsByProject(ctx, project.ID)
		if err != nil {
			return nil, err
		}
		for _, m := range mappings {
			if _, ok := seen[m.ID]; ok {
				continue
			}
			seen[m.ID] = struct{}{}
			affected = append(affected, m)
		}
	}
	return affected, nil
}

// RegenerateDomain renders and applies the config for one domain.
func (o *Orchestrator) RegenerateDomain(ctx context.Context, mapping domain.DomainMapping) error {
	in := RenderInput{
		Host:           mapping.Host,
		SSLEnabled:     mapping.SSLEnabled,
		CertPath:       filepath.Join("/etc/letsencrypt/live", mapping.Host, "fullchain.pem"),
		KeyPath:        filepath.Join("/etc/letsencrypt/live", mapping.Host, "privkey.pem"),
		WWWBehavior:    mapping.WWWBehavior,
		RedirectTarget: mapping.RedirectTarget,
		UpstreamURL:    o.cfg.PublicBaseURL,
		AliasName:      mapping.AliasName,
	}

	if !mapping.IsRedirect() && mapping.ProjectID != nil {
		project, err := o.projects.GetProjectByID(ctx, *mapping.ProjectID)
		if err != nil {
			return fmt.Errorf("load project for %s: %w", mapping.Host, err)
		}
		rules, err := o.effectiveRules(ctx, mapping, project)
		if err != nil {
			return err
		}
		in.ProxyRules = rules

		redirects, err := o.domains.ListPathRedirects(ctx, mapping.ID)
		if err != nil {
			return fmt.Errorf("load path redirects for %s: %w", mapping.Host, err)
		}
		in.PathRedirects = redirects
	}

	text, err := GenerateConfig(in)
	if err != nil {
		return err
	}
	return o.applier.Apply(ctx, mapping.Host, text)
}

// effectiveRules resolves which rule set backs the domain's alias:
// alias override, then a manual sibling alias on the same commit, then the
// project default, then none.
func (o *Orchestrator) effectiveRules(ctx context.Context, mapping domain.DomainMapping, project *domain.Project) ([]domain.ProxyRule, error) {
	var ruleSetID *string

	alias, err := o.aliases.GetAlias(ctx, project.ID, mapping.AliasName)
	switch {
	case err == nil:
		ruleSetID = alias.ProxyRuleSetID
		if ruleSetID == nil && alias.IsAutoPreview {
			siblings, err := o.aliases.ListAliasesByCommit(ctx, project.ID, alias.CommitSHA)
			if err != nil {
				return nil, fmt.Errorf("load sibling aliases for %s: %w", mapping.Host, err)
			}
			for _, sibling := range siblings {
				if !sibling.IsAutoPreview && sibling.ProxyRuleSetID != nil {
					ruleSetID = sibling.ProxyRuleSetID
					break
				}
			}
		}
	case errors.Is(err, repository.ErrNotFound):
		// Domain points at a missing alias; fall through to project default.
	default:
		return nil, fmt.Errorf("load alias for %s: %w", mapping.Host, err)
	}

	if ruleSetID == nil {
		ruleSetID = project.DefaultProxyRuleSetID
	}
	if ruleSetID == nil {
		return nil, nil
	}
	rules, err := o.rules.ListRulesByRuleSet(ctx, *ruleSetID)
	if err != nil {
		return nil, fmt.Errorf("load proxy rules for %s: %w", mapping.Host, err)
	}
	return rules, nil
}

// RegenerateAll processes each affected domain sequentially. Domains are
// independent: one failure does not undo siblings that already swapped, but
// the first failure is reported so the caller can compensate its mutation.
func (o *Orchestrator) RegenerateAll(ctx context.Context, mappings []domain.DomainMapping) error {
	var firstErr error
	for _, mapping := range mappings {
		if err := o.RegenerateDomain(ctx, mapping); err != nil {
			o.logger.Error("regeneration failed", "host", mapping.Host, "error", err)
			o.publishEvent(mapping, domain.EventRegenFailed, err.Error())
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		o.publishEvent(mapping, domain.EventRegenSucceeded, "")
	}
	return firstErr
}

// ApplyMutation runs regeneration for the affected domains of an
// already-committed mutation; on failure it invokes the compensation to
// reverse the write and reports a conflict.
func (o *Orchestrator) ApplyMutation(ctx context.Context, affected []domain.DomainMapping, compensate func(context.Context) error) error {
	err := o.RegenerateAll(ctx, affected)
	if err == nil {
		return nil
	}
	if compensate != nil {
		if undoErr := compensate(ctx); undoErr != nil {
			// The database now points at routing the proxy does not serve;
			// only a reconciliation pass can repair this.
			o.logger.Error("compensation failed after regeneration error", "error", undoErr, "cause", err)
		}
	}
	return fmt.Errorf("%w: proxy regeneration failed: %v", repository.ErrConflict, err)
}

func (o *Orchestrator) publishEvent(mapping domain.DomainMapping, kind, message string) {
	if o.hub == nil || mapping.ProjectID == nil {
		return
	}
	o.hub.Publish(*mapping.ProjectID, domain.DeployEvent{
		ProjectID: *mapping.ProjectID,
		Kind:      kind,
		Alias:     mapping.AliasName,
		Domain:    mapping.Host,
		Message:   message,
		CreatedAt: time.Now().UTC(),
	})
}
