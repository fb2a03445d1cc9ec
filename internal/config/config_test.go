package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadFileDefaults(t *testing.T) {
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Port != 8080 || cfg.Mode != "release" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.PingPeriod != 30*time.Second || cfg.NegotiationTimeout != 30*time.Second {
		t.Fatalf("durations: ping=%v negotiation=%v", cfg.PingPeriod, cfg.NegotiationTimeout)
	}
	if cfg.Directory.Driver != "memory" {
		t.Fatalf("driver = %q", cfg.Directory.Driver)
	}
	if cfg.RateLimit.Burst != 100 {
		t.Fatalf("burst = %d", cfg.RateLimit.Burst)
	}
}

func TestLoadFileExams(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.test.yaml")
	yaml := `
port: 9090
ping_period: 10s
directory:
  driver: memory
  exams:
    - id: "1"
      start: "2026-10-15T09:00:00Z"
      duration: 2h
      takers: ["alice"]
      proctors: ["pat", "quinn"]
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Port != 9090 || cfg.PingPeriod != 10*time.Second {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if len(cfg.Directory.Exams) != 1 {
		t.Fatalf("exams = %d", len(cfg.Directory.Exams))
	}
	e := cfg.Directory.Exams[0]
	if e.Duration != 2*time.Hour || len(e.Proctors) != 2 || e.Takers[0] != "alice" {
		t.Fatalf("exam = %+v", e)
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("PROCTOR_PORT", "7070")
	t.Setenv("PROCTOR_DIRECTORY_DRIVER", "postgres")
	t.Setenv("PROCTOR_DIRECTORY_DSN", "postgres://localhost/proctor")
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Port != 7070 || cfg.Directory.Driver != "postgres" || cfg.Directory.DSN == "" {
		t.Fatalf("env not applied: %+v", cfg)
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
		ok   bool
	}{
		{"memory", Config{Directory: DirectoryConfig{Driver: "memory"}}, true},
		{"postgres without dsn", Config{Directory: DirectoryConfig{Driver: "postgres"}}, false},
		{"unknown driver", Config{Directory: DirectoryConfig{Driver: "redis"}}, false},
		{"bad start", Config{Directory: DirectoryConfig{Driver: "memory", Exams: []ExamConfig{{ID: "1", Start: "tomorrow", Duration: time.Hour}}}}, false},
		{"zero duration", Config{Directory: DirectoryConfig{Driver: "memory", Exams: []ExamConfig{{ID: "1", Start: "2026-10-15T09:00:00Z"}}}}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if (err == nil) != tc.ok {
				t.Fatalf("Validate() = %v, want ok=%v", err, tc.ok)
			}
		})
	}
}
