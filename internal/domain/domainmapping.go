package domain

import "time"

// Domain mapping types.
const (
	DomainTypeSubdomain = "subdomain"
	DomainTypeCustom    = "custom"
	DomainTypeRedirect  = "redirect"
)

// WWW handling for a custom domain.
const (
	WWWBehaviorNone   = "none"
	WWWBehaviorToWWW  = "redirect_to_www"
	WWWBehaviorToApex = "redirect_to_apex"
)

// DomainMapping binds a routable hostname to (project, alias, path) or to a
// redirect target. Redirect mappings carry no project and are always public.
type DomainMapping struct {
	ID                   string
	Host                 string
	ProjectID            *string
	AliasName            string
	Path                 string
	DomainType           string
	RedirectTarget       string
	IsPrimary            bool
	WWWBehavior          string
	SSLEnabled           bool
	IsPublic             *bool
	UnauthorizedBehavior *string
	RequiredRole         *string
	IsActive             bool
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// IsRedirect reports whether the mapping only forwards to another location.
func (d DomainMapping) IsRedirect() bool {
	return d.DomainType == DomainTypeRedirect
}
