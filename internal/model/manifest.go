package model

// Manifest is the update descriptor returned to an eligible device whose
// installed version is behind the current build.
type Manifest struct {
	BuildID           string  `json:"build_id"`
	PackageName       string  `json:"package_name"`
	VersionCode       int64   `json:"version_code"`
	VersionName       string  `json:"version_name"`
	DownloadURL       string  `json:"download_url"`
	Checksum          string  `json:"checksum"`
	SignerFingerprint string  `json:"signer_fingerprint"`
	FileSize          int64   `json:"file_size"`
	WifiOnly          bool    `json:"wifi_only"`
	MustInstall       bool    `json:"must_install"`
	RolloutPercent    int     `json:"rollout_percent"`
	ReleaseNotes      *string `json:"release_notes,omitempty"`
}
