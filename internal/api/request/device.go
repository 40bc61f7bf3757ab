package request

import "encoding/json"

// Enroll registers a device with the fleet.
type Enroll struct {
	DeviceID  string  `json:"device_id" validate:"required"`
	Alias     string  `json:"alias"`
	Model     string  `json:"model"`
	OSVersion string  `json:"os_version"`
	PushToken *string `json:"push_token"`
}

// Checkin is the periodic agent heartbeat. Reports carry per-execution
// status observations the poll loop consumes.
type Checkin struct {
	InstalledVersions json.RawMessage `json:"installed_versions"`
	BatteryPercent    *int            `json:"battery_percent" validate:"omitempty,min=0,max=100"`
	NetworkType       *string         `json:"network_type"`
	Reports           []DeviceReport  `json:"reports" validate:"dive"`
}

// DeviceReport is one status observation for an execution.
type DeviceReport struct {
	ExecutionID string `json:"execution_id" validate:"required"`
	Status      string `json:"status" validate:"required"`
	Detail      string `json:"detail"`
}

// Rename changes a device's alias.
type Rename struct {
	Alias string `json:"alias" validate:"required,slug"`
}
