package domain

import "time"

// Event kinds broadcast to dashboard subscribers.
const (
	EventDeploymentFinalized = "deployment_finalized"
	EventAliasRepointed      = "alias_repointed"
	EventAliasDeleted        = "alias_deleted"
	EventCommitDeleted       = "commit_deleted"
	EventRegenSucceeded      = "regeneration_succeeded"
	EventRegenFailed         = "regeneration_failed"
)

// DeployEvent is a project-scoped notification pushed over WS/SSE.
type DeployEvent struct {
	ProjectID string    `json:"project_id"`
	Kind      string    `json:"kind"`
	Alias     string    `json:"alias,omitempty"`
	CommitSHA string    `json:"commit_sha,omitempty"`
	Domain    string    `json:"domain,omitempty"`
	Message   string    `json:"message,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
