package models

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Fleet id patterns
const (
	PatternSequential = "sequential"
	PatternZone       = "zone"
	PatternFloor      = "floor"
)

// FleetManifest represents the fleet.yaml structure used to seed devices at startup
type FleetManifest struct {
	Devices []string      `yaml:"devices" json:"devices"`
	Pattern *FleetPattern `yaml:"pattern,omitempty" json:"pattern,omitempty"`
}

// FleetPattern generates Count device ids following one of the naming schemes
type FleetPattern struct {
	Kind  string `yaml:"kind" json:"kind"`
	Count int    `yaml:"count" json:"count"`
}

// LoadFleet loads a fleet manifest file
func LoadFleet(path string) (*FleetManifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read fleet file: %w", err)
	}

	var manifest FleetManifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse fleet file: %w", err)
	}

	if manifest.Pattern != nil && manifest.Pattern.Count < 0 {
		return nil, fmt.Errorf("pattern count must not be negative: %d", manifest.Pattern.Count)
	}

	return &manifest, nil
}

// DeviceIDs returns the explicit devices followed by the generated ones, without duplicates.
func (m *FleetManifest) DeviceIDs() []string {
	seen := make(map[string]bool)
	var ids []string

	add := func(id string) {
		if id == "" || seen[id] {
			return
		}
		seen[id] = true
		ids = append(ids, id)
	}

	for _, id := range m.Devices {
		add(id)
	}
	if m.Pattern != nil {
		for i := 1; i <= m.Pattern.Count; i++ {
			add(PatternDeviceID(m.Pattern.Kind, i))
		}
	}
	return ids
}

// PatternDeviceID returns the i-th (1-based) id for a naming scheme. Unknown kinds
// fall back to sequential naming.
func PatternDeviceID(kind string, i int) string {
	switch kind {
	case PatternZone:
		return fmt.Sprintf("ZONE-%d-CAM-%02d", (i+3)/4, (i-1)%4+1)
	case PatternFloor:
		return fmt.Sprintf("FLOOR-%d-CAM-%03d", (i+7)/8, i)
	default:
		return fmt.Sprintf("CAM-%03d", i)
	}
}
