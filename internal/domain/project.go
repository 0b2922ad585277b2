package domain

import "time"

// Project is a tenant-owned namespace identified by (owner, name).
type Project struct {
	ID                    string
	Owner                 string
	Name                  string
	IsPublic              bool
	UnauthorizedBehavior  string
	RequiredRole          string
	DefaultProxyRuleSetID *string
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// FullName returns the owner/name form used in public URLs.
func (p Project) FullName() string {
	return p.Owner + "/" + p.Name
}
