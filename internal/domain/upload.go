package domain

import "time"

// ManifestEntry names one file of a pending upload.
type ManifestEntry struct {
	PublicPath  string `json:"public_path"`
	MimeType    string `json:"mime_type"`
	Size        int64  `json:"size"`
	ContentHash string `json:"content_hash"`
}

// PendingUpload is an ephemeral record backing a presigned-URL upload flow.
// It is deleted on finalize or swept after expiry.
type PendingUpload struct {
	Token      string
	ProjectID  string
	Repository string
	CommitSHA  string
	Branch     string
	BasePath   string
	Manifest   []ManifestEntry
	ExpiresAt  time.Time
	CreatedAt  time.Time
}
