// Package core provides the staged upgrade engine for ngstep.
// It has zero UI dependencies and is independently testable.
package core

import (
	"encoding/json"
	"time"
)

// Config represents the ngstep configuration stored at ~/.ngstep/config.json.
type Config struct {
	Settings Settings `json:"settings"`
}

// Settings holds tunables for the engine. Zero values in the file fall back
// to the defaults in defaultConfig.
type Settings struct {
	NpmCommand        string   `json:"npmCommand,omitempty"`
	NodeCommand       string   `json:"nodeCommand,omitempty"`
	RequiredNodeMajor int      `json:"requiredNodeMajor"` // 0 disables the node gate
	InstallAttempts   int      `json:"installAttempts"`
	CascadeDepth      int      `json:"cascadeDepth"`
	RegistryTimeout   Duration `json:"registryTimeout"`
	InstallTimeout    Duration `json:"installTimeout"`
	MigrationTimeout  Duration `json:"migrationTimeout"`
	SilenceInterval   Duration `json:"silenceInterval"`
	SilenceThreshold  Duration `json:"silenceThreshold"`
	StrictRegistry    bool     `json:"strictRegistry"`
}

// Duration is a time.Duration that reads and writes as "30s" in JSON.
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON implements json.Unmarshaler. Both "90s" and a bare number
// of seconds are accepted.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return err
		}
		*d = Duration(parsed)
		return nil
	}
	var secs float64
	if err := json.Unmarshal(data, &secs); err != nil {
		return err
	}
	*d = Duration(time.Duration(secs * float64(time.Second)))
	return nil
}
