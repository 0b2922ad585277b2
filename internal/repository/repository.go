package repository

import (
	"context"
	"time"

	"github.com/bffless/bffless/internal/domain"
)

// ProjectRepository persists tenant projects.
type ProjectRepository interface {
	CreateProject(ctx context.Context, project *domain.Project) error
	GetProjectByID(ctx context.Context, projectID string) (*domain.Project, error)
	GetProjectByOwnerName(ctx context.Context, owner, name string) (*domain.Project, error)
	UpdateProjectAccess(ctx context.Context, project *domain.Project) error
	SetProjectDefaultRuleSet(ctx context.Context, projectID string, ruleSetID *string) error
}

// AssetRepository persists deployed files.
type AssetRepository interface {
	UpsertAsset(ctx context.Context, asset *domain.Asset) error
	GetAsset(ctx context.Context, projectID, commitSHA, publicPath string) (*domain.Asset, error)
	GetLatestAsset(ctx context.Context, projectID string) (*domain.Asset, error)
	ListAssetsByCommit(ctx context.Context, projectID, commitSHA string) ([]domain.Asset, error)
	DeleteAssetsByCommit(ctx context.Context, projectID, commitSHA string) (int, error)
}

// AliasRepository persists named commit pointers.
type AliasRepository interface {
	CreateAlias(ctx context.Context, alias *domain.Alias) error
	UpsertPreviewAlias(ctx context.Context, alias *domain.Alias) error
	GetAlias(ctx context.Context, projectID, name string) (*domain.Alias, error)
	GetAliasByID(ctx context.Context, aliasID string) (*domain.Alias, error)
	ListAliasesByProject(ctx context.Context, projectID string) ([]domain.Alias, error)
	ListAliasesByCommit(ctx context.Context, projectID, commitSHA string) ([]domain.Alias, error)
	ListAliasesByRuleSet(ctx context.Context, ruleSetID string) ([]domain.Alias, error)
	RepointAlias(ctx context.Context, aliasID, commitSHA, deploymentID string) error
	SetAliasRuleSet(ctx context.Context, aliasID string, ruleSetID *string) error
	DeleteAlias(ctx context.Context, aliasID string) error
}

// DomainRepository persists routable hostnames and their redirect rules.
type DomainRepository interface {
	CreateDomain(ctx context.Context, mapping *domain.DomainMapping) error
	GetDomainByHost(ctx context.Context, host string) (*domain.DomainMapping, error)
	GetDomainByID(ctx context.Context, domainID string) (*domain.DomainMapping, error)
	ListActiveDomainsByProject(ctx context.Context, projectID string) ([]domain.DomainMapping, error)
	ListActiveDomainsByAlias(ctx context.Context, projectID, aliasName string) ([]domain.DomainMapping, error)
	UpdateDomain(ctx context.Context, mapping *domain.DomainMapping) error
	DeleteDomain(ctx context.Context, domainID string) error
	ListPathRedirects(ctx context.Context, domainID string) ([]domain.PathRedirect, error)
}

// TrafficRepository persists traffic-splitting configuration.
type TrafficRepository interface {
	GetTrafficSplit(ctx context.Context, domainID string) (*domain.TrafficSplit, error)
	ReplaceTrafficSplit(ctx context.Context, split *domain.TrafficSplit) error
	DeleteTrafficSplit(ctx context.Context, domainID string) error
}

// ProxyRuleRepository persists proxy rule sets and their ordered rules.
type ProxyRuleRepository interface {
	CreateRuleSet(ctx context.Context, set *domain.ProxyRuleSet) error
	GetRuleSet(ctx context.Context, ruleSetID string) (*domain.ProxyRuleSet, error)
	ListRulesByRuleSet(ctx context.Context, ruleSetID string) ([]domain.ProxyRule, error)
	GetRule(ctx context.Context, ruleID string) (*domain.ProxyRule, error)
	CreateRule(ctx context.Context, rule *domain.ProxyRule) error
	UpdateRule(ctx context.Context, rule *domain.ProxyRule) error
	DeleteRule(ctx context.Context, ruleID string) error
	ReorderRules(ctx context.Context, ruleSetID string, orderedRuleIDs []string) error
}

// UploadRepository stores ephemeral pending-upload records.
type UploadRepository interface {
	CreatePendingUpload(ctx context.Context, upload *domain.PendingUpload) error
	GetPendingUpload(ctx context.Context, token string) (*domain.PendingUpload, error)
	DeletePendingUpload(ctx context.Context, token string) error
	DeleteExpiredUploads(ctx context.Context, cutoff time.Time) (int, error)
}
