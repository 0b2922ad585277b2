package domain

import "time"

// Asset is one stored file of a deployment, keyed by (project, commit, path).
type Asset struct {
	ID           string
	ProjectID    string
	CommitSHA    string
	PublicPath   string
	StorageKey   string
	MimeType     string
	Size         int64
	ContentHash  string
	DeploymentID string
	Branch       string
	CommittedAt  time.Time
	CreatedAt    time.Time
}
