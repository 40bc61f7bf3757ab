package model

import (
	"encoding/json"
	"time"
)

// Device is one enrolled fleet member. The device row is owned by the
// registry; the dispatch engine reads identity, reachability, and the
// installed version map.
type Device struct {
	ID                string          `json:"id"`
	Alias             string          `json:"alias"`
	Model             string          `json:"model,omitempty"`
	OSVersion         string          `json:"os_version,omitempty"`
	PushToken         *string         `json:"push_token,omitempty"`
	InstalledVersions json.RawMessage `json:"installed_versions"`
	BatteryPercent    *int            `json:"battery_percent,omitempty"`
	NetworkType       *string         `json:"network_type,omitempty"`
	LastSeen          *time.Time      `json:"last_seen,omitempty"`
	EnrolledAt        time.Time       `json:"enrolled_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// OnlineWindow is how recently a device must have checked in to count as
// reachable.
const OnlineWindow = 10 * time.Minute

// Online reports whether the device checked in within the online window.
func (d *Device) Online(now time.Time) bool {
	return d.LastSeen != nil && now.Sub(*d.LastSeen) <= OnlineWindow
}
