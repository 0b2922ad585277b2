package domain

import "time"

// Alias is a named pointer from a project-scoped name to a commit.
// The tri-state access fields inherit from the project when nil.
type Alias struct {
	ID                   string
	ProjectID            string
	Name                 string
	CommitSHA            string
	DeploymentID         string
	IsAutoPreview        bool
	BasePath             string
	ProxyRuleSetID       *string
	IsPublic             *bool
	UnauthorizedBehavior *string
	RequiredRole         *string
	CreatedAt            time.Time
	UpdatedAt            time.Time
}
