package core

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestMetricsWriteTextfile(t *testing.T) {
	m := NewMetrics()
	m.installAttempt("failed")
	m.installAttempt("ok")
	m.cascade(2)
	m.migration("repaired")
	m.phase(PhaseInstall, 3*time.Second)
	m.transition("success")

	path := filepath.Join(t.TempDir(), "ngstep.prom")
	if err := m.WriteTextfile(path); err != nil {
		t.Fatalf("WriteTextfile() error: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	text := string(data)
	for _, want := range []string{
		`ngstep_install_attempts_total{outcome="failed"} 1`,
		`ngstep_migrations_total{outcome="repaired"} 1`,
		`ngstep_phase_duration_seconds_count{phase="install"} 1`,
		`ngstep_transitions_total{outcome="success"} 1`,
		`ngstep_cascade_depth_sum 2`,
	} {
		if !strings.Contains(text, want) {
			t.Errorf("metrics output missing %q:\n%s", want, text)
		}
	}
}

func TestMetricsNilSafe(t *testing.T) {
	var m *Metrics
	m.installAttempt("ok")
	m.cascade(1)
	m.migration("ok")
	m.phase(PhaseMigrate, time.Second)
	m.transition("failed")
}
