package request

// CreateBuild registers an uploaded artifact as a draft build.
type CreateBuild struct {
	PackageName       string  `json:"package_name" validate:"required,package_name"`
	VersionCode       int64   `json:"version_code" validate:"required,gt=0"`
	VersionName       string  `json:"version_name" validate:"required"`
	Checksum          string  `json:"checksum" validate:"required,len=64,hexadecimal"`
	SignerFingerprint string  `json:"signer_fingerprint" validate:"required"`
	FileSize          int64   `json:"file_size" validate:"required,gt=0"`
	ArtifactKey       string  `json:"artifact_key" validate:"required"`
	ReleaseNotes      *string `json:"release_notes"`
}

// Promote moves a draft or superseded build to current.
type Promote struct {
	RolloutPercent int  `json:"rollout_percent" validate:"min=0,max=100"`
	WifiOnly       bool `json:"wifi_only"`
	MustInstall    bool `json:"must_install"`
}

// AdjustRollout changes the current build's rollout percentage.
type AdjustRollout struct {
	RolloutPercent int `json:"rollout_percent" validate:"min=0,max=100"`
}

// Rollback reverts a package to its prior superseded build.
type Rollback struct {
	ForceDowngrade bool `json:"force_downgrade"`
}
