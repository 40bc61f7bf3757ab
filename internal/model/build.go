package model

import "time"

// Build is one versioned installable artifact for a package.
// At most one build per package is in state "current" at any time.
type Build struct {
	ID                string    `json:"id"`
	PackageName       string    `json:"package_name"`
	VersionCode       int64     `json:"version_code"`
	VersionName       string    `json:"version_name"`
	Checksum          string    `json:"checksum"`
	SignerFingerprint string    `json:"signer_fingerprint"`
	FileSize          int64     `json:"file_size"`
	ArtifactKey       string    `json:"artifact_key"`
	RolloutPercent    int       `json:"rollout_percent"`
	WifiOnly          bool      `json:"wifi_only"`
	MustInstall       bool      `json:"must_install"`
	ReleaseNotes      *string   `json:"release_notes,omitempty"`
	State             string    `json:"state"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}
