package compliance

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Profile tunes a checklist run. The zero value enables every principle
// with default tolerances.
type Profile struct {
	Name               string            `yaml:"name"`
	MaxClockSkew       time.Duration     `yaml:"max_clock_skew"`
	DisabledPrinciples []string          `yaml:"disabled_principles"`
	Rules              map[string]string `yaml:"rules"`
}

func (p Profile) disabled(name string) bool {
	for _, d := range p.DisabledPrinciples {
		if d == name {
			return true
		}
	}
	return false
}

// LoadProfile parses a YAML profile document. Disabled principles must name
// real principles; a typo here would silently skip a check, so it is an
// error instead.
func LoadProfile(data []byte) (Profile, error) {
	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Profile{}, fmt.Errorf("parse compliance profile: %w", err)
	}
	known := make(map[string]bool, len(principles))
	for _, pr := range principles {
		known[pr.name] = true
	}
	for _, d := range p.DisabledPrinciples {
		if !known[d] {
			return Profile{}, fmt.Errorf("compliance profile %q disables unknown principle %q", p.Name, d)
		}
	}
	return p, nil
}
