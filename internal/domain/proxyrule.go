package domain

import "time"

// Auth transform kinds applied by edge proxy rules.
const (
	AuthTransformHeader = "header"
	AuthTransformBasic  = "basic"
	AuthTransformStrip  = "strip"
)

// ProxyRuleSet groups ordered proxy rules owned by a project.
type ProxyRuleSet struct {
	ID        string
	ProjectID string
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// AuthTransform describes how the edge rewrites auth material before
// forwarding to the upstream. Rules without a transform are not rendered as
// edge proxy blocks.
type AuthTransform struct {
	Type        string
	HeaderName  string
	HeaderValue string
}

// ProxyRule proxies a path pattern to an upstream URL.
type ProxyRule struct {
	ID            string
	RuleSetID     string
	PathPattern   string
	TargetURL     string
	AuthTransform *AuthTransform
	Position      int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// PathRedirect is an ordered redirect rule scoped to one domain.
type PathRedirect struct {
	ID         string
	DomainID   string
	FromPath   string
	ToPath     string
	StatusCode int
	Priority   int
	CreatedAt  time.Time
}
