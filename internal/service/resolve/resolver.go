package resolve

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"regexp"
	"strings"

	"log/slog"

	"github.com/bffless/bffless/internal/domain"
	"github.com/bffless/bffless/internal/repository"
)

var (
	commitSHAPattern    = regexp.MustCompile(`(?i)^[a-f0-9]{7,40}$`)
	previewAliasPattern = regexp.MustCompile(`^[a-f0-9]{6}-[a-z0-9]+-[a-f0-9]{4}-[a-f0-9]{4}$`)
	nonAlphanumeric     = regexp.MustCompile(`[^a-z0-9]`)
)

// Default alias names tried in strict priority order.
var defaultAliasOrder = []string{"production", "main", "master", "latest"}

// Service maps refs to commit SHAs and derives preview alias names.
type Service struct {
	aliases repository.AliasRepository
	assets  repository.AssetRepository
	logger  *slog.Logger
}

// New returns a resolver service.
func New(aliases repository.AliasRepository, assets repository.AssetRepository, logger *slog.Logger) Service {
	return Service{aliases: aliases, assets: assets, logger: logger}
}

// IsCommitSHA reports whether ref is already a commit SHA.
func IsCommitSHA(ref string) bool {
	return commitSHAPattern.MatchString(ref)
}

// ResolveRef maps a ref (commit SHA or alias name) to a commit SHA.
// A ref matching the SHA shape is returned as-is without any lookup.
func (s Service) ResolveRef(ctx context.Context, projectID, ref string) (string, error) {
	if IsCommitSHA(ref) {
		return strings.ToLower(ref), nil
	}
	alias, err := s.aliases.GetAlias(ctx, projectID, ref)
	if err != nil {
		return "", err
	}
	return alias.CommitSHA, nil
}

// ResolveDefaultAlias picks the commit served when a request names no ref.
// Named aliases win in priority order; private projects without one resolve
// to nothing.
func (s Service) ResolveDefaultAlias(ctx context.Context, project *domain.Project) (string, error) {
	for _, name := range defaultAliasOrder {
		alias, err := s.aliases.GetAlias(ctx, project.ID, name)
		if err == nil {
			return alias.CommitSHA, nil
		}
		if !isNotFound(err) {
			return "", err
		}
	}
	if !project.IsPublic {
		return "", repository.ErrNotFound
	}
	asset, err := s.assets.GetLatestAsset(ctx, project.ID)
	if err != nil {
		return "", err
	}
	return asset.CommitSHA, nil
}

// PreviewAliasName derives the deterministic name of an auto-preview alias:
// {sha6}-{repoSlug8}-{repoHash4}-{basePathHash4}. Identical inputs always
// yield the identical name so re-uploads upsert instead of duplicating.
func PreviewAliasName(commitSHA, repository, basePath string) string {
	sha6 := strings.ToLower(commitSHA)
	if len(sha6) > 6 {
		sha6 = sha6[:6]
	}

	segment := repository
	if idx := strings.LastIndex(repository, "/"); idx >= 0 {
		segment = repository[idx+1:]
	}
	slug := nonAlphanumeric.ReplaceAllString(strings.ToLower(segment), "")
	if len(slug) > 8 {
		slug = slug[:8]
	}
	if slug == "" {
		slug = "0"
	}

	return sha6 + "-" + slug + "-" + shortHash(repository) + "-" + shortHash(normalizeBasePath(basePath))
}

// IsPreviewAliasName classifies an alias string as auto-generated.
func IsPreviewAliasName(name string) bool {
	return previewAliasPattern.MatchString(name)
}

func normalizeBasePath(basePath string) string {
	basePath = strings.TrimRight(basePath, "/")
	if basePath == "" {
		return "/"
	}
	return basePath
}

func shortHash(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])[:4]
}

func isNotFound(err error) bool {
	return errors.Is(err, repository.ErrNotFound)
}
