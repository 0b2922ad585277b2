// Package alias implements alias lifecycle management: deterministic preview
// aliases, repointing, commit deletion and rule-set binding with proxy
// regeneration.
package alias

import (
	"context"
	"errors"
	"fmt"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/bffless/bffless/internal/domain"
	"github.com/bffless/bffless/internal/repository"
	"github.com/bffless/bffless/internal/service/ingress"
	"github.com/bffless/bffless/internal/service/resolve"
	"github.com/bffless/bffless/internal/storage"
	"github.com/bffless/bffless/internal/ws"
)

// Regenerator is the orchestrator surface this service drives.
type Regenerator interface {
	DomainsForAlias(ctx context.Context, projectID, aliasName string) ([]domain.DomainMapping, error)
	ApplyMutation(ctx context.Context, affected []domain.DomainMapping, compensate func(context.Context) error) error
}

var _ Regenerator = (*ingress.Orchestrator)(nil)

// ErrCommitReferenced blocks commit deletion while a manually created alias
// still points at the commit. The wrapped message names that alias. It is a
// caller mistake, not a state conflict; the API reports it as a bad request.
var ErrCommitReferenced = errors.New("commit still referenced")

// CommitDeletion aggregates the outcome of deleting one commit's deployment.
// Individual storage failures do not abort the batch; they are reported.
type CommitDeletion struct {
	AssetsDeleted   int      `json:"assets_deleted"`
	AliasesDeleted  []string `json:"aliases_deleted"`
	StorageDeleted  int      `json:"storage_deleted"`
	StorageFailures []string `json:"storage_failures,omitempty"`
}

// Service manages aliases for deployed commits.
type Service struct {
	projects repository.ProjectRepository
	aliases  repository.AliasRepository
	assets   repository.AssetRepository
	store    storage.Adapter
	regen    Regenerator
	hub      *ws.Hub
	logger   *slog.Logger
}

// New builds the alias service. hub may be nil when no event stream is wired.
func New(projects repository.ProjectRepository, aliases repository.AliasRepository, assets repository.AssetRepository, store storage.Adapter, regen Regenerator, hub *ws.Hub, logger *slog.Logger) *Service {
	return &Service{
		projects: projects,
		aliases:  aliases,
		assets:   assets,
		store:    store,
		regen:    regen,
		hub:      hub,
		logger:   logger,
	}
}

// EnsurePreviewAlias upserts the deterministic auto-preview alias for one
// commit+basePath. Re-uploading the same commit reuses the same alias row.
func (s *Service) EnsurePreviewAlias(ctx context.Context, projectID, repoFullName, commitSHA, deploymentID, basePath string) (*domain.Alias, error) {
	name := resolve.PreviewAliasName(commitSHA, repoFullName, basePath)
	now := time.Now().UTC()
	alias := &domain.Alias{
		ID:            uuid.NewString(),
		ProjectID:     projectID,
		Name:          name,
		CommitSHA:     commitSHA,
		DeploymentID:  deploymentID,
		IsAutoPreview: true,
		BasePath:      basePath,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.aliases.UpsertPreviewAlias(ctx, alias); err != nil {
		return nil, fmt.Errorf("upsert preview alias %s: %w", name, err)
	}
	return alias, nil
}

// Repoint moves an existing alias to a new commit.
func (s *Service) Repoint(ctx context.Context, aliasID, commitSHA, deploymentID string) (*domain.Alias, error) {
	alias, err := s.aliases.GetAliasByID(ctx, aliasID)
	if err != nil {
		return nil, err
	}
	if err := s.aliases.RepointAlias(ctx, aliasID, commitSHA, deploymentID); err != nil {
		return nil, err
	}
	alias.CommitSHA = commitSHA
	alias.DeploymentID = deploymentID
	s.publish(alias.ProjectID, domain.DeployEvent{
		ProjectID: alias.ProjectID,
		Kind:      domain.EventAliasRepointed,
		Alias:     alias.Name,
		CommitSHA: commitSHA,
	})
	return alias, nil
}

// Delete removes an alias by id.
func (s *Service) Delete(ctx context.Context, aliasID string) error {
	alias, err := s.aliases.GetAliasByID(ctx, aliasID)
	if err != nil {
		return err
	}
	if err := s.aliases.DeleteAlias(ctx, aliasID); err != nil {
		return err
	}
	s.publish(alias.ProjectID, domain.DeployEvent{
		ProjectID: alias.ProjectID,
		Kind:      domain.EventAliasDeleted,
		Alias:     alias.Name,
	})
	return nil
}

// SetRuleSet binds or clears an alias's proxy rule set. The write is only
// durable if every affected domain's config regenerates; otherwise the
// previous value is restored and a conflict is reported.
func (s *Service) SetRuleSet(ctx context.Context, aliasID string, ruleSetID *string) error {
	alias, err := s.aliases.GetAliasByID(ctx, aliasID)
	if err != nil {
		return err
	}
	previous := alias.ProxyRuleSetID

	if err := s.aliases.SetAliasRuleSet(ctx, aliasID, ruleSetID); err != nil {
		return err
	}
	affected, err := s.regen.DomainsForAlias(ctx, alias.ProjectID, alias.Name)
	if err != nil {
		return err
	}
	return s.regen.ApplyMutation(ctx, affected, func(ctx context.Context) error {
		return s.aliases.SetAliasRuleSet(ctx, aliasID, previous)
	})
}

// DeleteCommit removes a commit's deployment: its assets, its auto-preview
// aliases and its stored files. A manual alias still pointing at the commit
// blocks the deletion by name. Storage failures are collected, not fatal.
func (s *Service) DeleteCommit(ctx context.Context, projectID, commitSHA string) (*CommitDeletion, error) {
	aliases, err := s.aliases.ListAliasesByCommit(ctx, projectID, commitSHA)
	if err != nil {
		return nil, err
	}
	for _, alias := range aliases {
		if !alias.IsAutoPreview {
			return nil, fmt.Errorf("%w: commit %s is still referenced by alias %q", ErrCommitReferenced, commitSHA, alias.Name)
		}
	}

	report := &CommitDeletion{}
	for _, alias := range aliases {
		if err := s.aliases.DeleteAlias(ctx, alias.ID); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				continue
			}
			return nil, fmt.Errorf("delete preview alias %s: %w", alias.Name, err)
		}
		report.AliasesDeleted = append(report.AliasesDeleted, alias.Name)
	}

	deleted, err := s.assets.DeleteAssetsByCommit(ctx, projectID, commitSHA)
	if err != nil {
		return nil, fmt.Errorf("delete assets for %s: %w", commitSHA, err)
	}
	report.AssetsDeleted = deleted

	outcome, err := s.store.DeletePrefix(ctx, StoragePrefix(projectID, commitSHA))
	if err != nil {
		// Orphaned objects cost space, not correctness; report and move on.
		s.logger.Error("storage cleanup failed", "project", projectID, "sha", commitSHA, "error", err)
		report.StorageFailures = append(report.StorageFailures, err.Error())
	} else {
		report.StorageDeleted = outcome.Deleted
		report.StorageFailures = append(report.StorageFailures, outcome.Failed...)
	}

	s.publish(projectID, domain.DeployEvent{
		ProjectID: projectID,
		Kind:      domain.EventCommitDeleted,
		CommitSHA: commitSHA,
	})
	return report, nil
}

// StoragePrefix is the object-key prefix holding one commit's files.
func StoragePrefix(projectID, commitSHA string) string {
	return projectID + "/" + commitSHA + "/"
}

func (s *Service) publish(projectID string, event domain.DeployEvent) {
	if s.hub == nil {
		return
	}
	event.CreatedAt = time.Now().UTC()
	s.hub.Publish(projectID, event)
}
