package access

import (
	"log/slog"

	"github.com/bffless/bffless/internal/domain"
)

// Source names the cascade level that decided the visibility field.
const (
	SourceDomain  = "domain"
	SourceAlias   = "alias"
	SourceProject = "project"
)

// Decision is the effective access-control tuple for a request target.
type Decision struct {
	IsPublic             bool
	UnauthorizedBehavior string
	RequiredRole         string
	Source               string
}

// Resolver walks the domain -> alias -> project cascade. It holds no state
// beyond a logger for misconfiguration warnings.
type Resolver struct {
	logger *slog.Logger
}

// New returns an access-control resolver.
func New(logger *slog.Logger) Resolver {
	return Resolver{logger: logger}
}

// override is one cascade level's opinion on a single field; nil means
// "inherit from the next level".
type override[T any] struct {
	value  *T
	source string
}

func pick[T any](fallback T, overrides ...override[T]) (T, string) {
	for _, o := range overrides {
		if o.value != nil {
			return *o.value, o.source
		}
	}
	return fallback, SourceProject
}

// Resolve computes the effective access-control decision. Each field is
// resolved independently: the most specific level that sets it wins, so a
// domain may pin visibility while the role requirement still comes from the
// project. mapping and alias may be nil when the request carries none.
func (r Resolver) Resolve(mapping *domain.DomainMapping, alias *domain.Alias, project *domain.Project) Decision {
	if mapping != nil && mapping.IsRedirect() {
		// A redirect leaks no content; skip the cascade entirely.
		return Decision{
			IsPublic:             true,
			UnauthorizedBehavior: domain.BehaviorNotFound,
			RequiredRole:         domain.RoleAuthenticated,
			Source:               SourceDomain,
		}
	}
	if mapping != nil && mapping.ProjectID == nil {
		// Misconfigured mapping with no project. Fail open for availability;
		// the warning keeps the drift visible.
		if r.logger != nil {
			r.logger.Warn("domain mapping has no project, resolving as public",
				"host", mapping.Host, "domain_id", mapping.ID)
		}
		return Decision{
			IsPublic:             true,
			UnauthorizedBehavior: domain.BehaviorNotFound,
			RequiredRole:         domain.RoleAuthenticated,
			Source:               SourceDomain,
		}
	}

	var (
		domainPublic, aliasPublic     *bool
		domainBehavior, aliasBehavior *string
		domainRole, aliasRole         *string
	)
	if mapping != nil {
		domainPublic = mapping.IsPublic
		domainBehavior = mapping.UnauthorizedBehavior
		domainRole = mapping.RequiredRole
	}
	if alias != nil {
		aliasPublic = alias.IsPublic
		aliasBehavior = alias.UnauthorizedBehavior
		aliasRole = alias.RequiredRole
	}

	var d Decision
	d.IsPublic, d.Source = pick(project.IsPublic,
		override[bool]{domainPublic, SourceDomain},
		override[bool]{aliasPublic, SourceAlias},
	)
	d.UnauthorizedBehavior, _ = pick(defaultString(project.UnauthorizedBehavior, domain.BehaviorNotFound),
		override[string]{domainBehavior, SourceDomain},
		override[string]{aliasBehavior, SourceAlias},
	)
	d.RequiredRole, _ = pick(defaultString(project.RequiredRole, domain.RoleAuthenticated),
		override[string]{domainRole, SourceDomain},
		override[string]{aliasRole, SourceAlias},
	)
	return d
}

// MeetsRoleRequirement reports whether a user's project role satisfies the
// required role. "authenticated" is satisfied by any logged-in user; any
// other requirement compares role ranks, and a nil role never satisfies one.
func MeetsRoleRequirement(userRole *string, required string) bool {
	if required == domain.RoleAuthenticated {
		return true
	}
	if userRole == nil {
		return false
	}
	rank := domain.RoleRank(*userRole)
	if rank == 0 {
		return false
	}
	return rank >= domain.RoleRank(required)
}

func defaultString(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
