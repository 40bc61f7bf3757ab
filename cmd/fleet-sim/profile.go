package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// RunConfig is the simulator's combined flag configuration.
type RunConfig struct {
	ServerURL        string
	APIKey           string
	Count            int64
	StartTime        time.Duration
	DevicePrefix     string
	ProfilePath      string
	PackageName      string
	CheckinInterval  time.Duration
	ManifestInterval time.Duration
	InstallTime      time.Duration
	MQTTBroker       string

	Profile *Profile
}

// Profile describes the mix of hardware the simulated fleet presents.
type Profile struct {
	Models       []ModelSpec `yaml:"models"`
	NetworkTypes []string    `yaml:"network_types"`
}

// ModelSpec is one device model variant with a relative weight.
type ModelSpec struct {
	Model     string `yaml:"model"`
	OSVersion string `yaml:"os_version"`
	Weight    int    `yaml:"weight"`
}

var defaultProfile = &Profile{
	Models: []ModelSpec{
		{Model: "Pixel 8", OSVersion: "14", Weight: 3},
		{Model: "Pixel 7a", OSVersion: "13", Weight: 2},
		{Model: "Galaxy Tab A9", OSVersion: "13", Weight: 1},
	},
	NetworkTypes: []string{"wifi", "cellular"},
}

// LoadProfile reads a YAML fleet profile, or returns the default mix when no
// path is given.
func LoadProfile(path string) (*Profile, error) {
	if path == "" {
		return defaultProfile, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profile: %w", err)
	}

	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse profile: %w", err)
	}
	if len(p.Models) == 0 {
		return nil, fmt.Errorf("profile has no models")
	}
	if len(p.NetworkTypes) == 0 {
		p.NetworkTypes = defaultProfile.NetworkTypes
	}
	return &p, nil
}

// Pick returns the model variant for a device index, spreading devices across
// models proportionally to their weights.
func (p *Profile) Pick(index int64) ModelSpec {
	total := 0
	for _, m := range p.Models {
		w := m.Weight
		if w < 1 {
			w = 1
		}
		total += w
	}

	slot := int(index % int64(total))
	for _, m := range p.Models {
		w := m.Weight
		if w < 1 {
			w = 1
		}
		if slot < w {
			return m
		}
		slot -= w
	}
	return p.Models[0]
}

// PickNetwork returns the network type for a device index.
func (p *Profile) PickNetwork(index int64) string {
	return p.NetworkTypes[int(index%int64(len(p.NetworkTypes)))]
}
