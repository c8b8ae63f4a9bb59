package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"
)

func newFlags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs)
	if err := fs.Parse(args); err != nil {
		t.Fatalf("Failed to parse flags: %v", err)
	}
	return fs
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "recall.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(newFlags(t))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	d := Default()
	if cfg.DBPath != d.DBPath || cfg.Listen != d.Listen || cfg.Session.IdleTimeout != d.Session.IdleTimeout {
		t.Errorf("Expected defaults, got %+v", cfg)
	}
	if len(cfg.Curve.Bands) != len(d.Curve.Bands) {
		t.Errorf("Expected %d default bands, got %d", len(d.Curve.Bands), len(cfg.Curve.Bands))
	}
	if cfg.Rewards != d.Rewards {
		t.Errorf("Expected default rewards, got %+v", cfg.Rewards)
	}
}

func TestLoadPrecedence(t *testing.T) {
	path := writeConfig(t, `
db: from-file.db
listen: localhost:9000
profile: filer
session:
  idle_timeout: 2m
  idle_ends_session: false
rewards:
  base_xp: 20
curve:
  bands:
    - {end: 20, step: 1000}
  constant_band_end: 90
  target_total: 2000000
`)
	t.Setenv("RECALL_LISTEN", "localhost:9100")
	t.Setenv("RECALL_REWARDS__CHECKIN_XP", "40")
	t.Setenv("RECALL_SESSION__IDLE_TIMEOUT", "90s")

	cfg, err := Load(newFlags(t, "--config", path, "--idle-timeout", "45s"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	testCases := []struct {
		name     string
		got      any
		expected any
	}{
		{"file value", cfg.DBPath, "from-file.db"},
		{"env beats file", cfg.Listen, "localhost:9100"},
		{"flag beats env", cfg.Session.IdleTimeout, 45 * time.Second},
		{"nested file bool", cfg.Session.IdleEndsSession, false},
		{"nested file int", cfg.Rewards.BaseXP, 20},
		{"nested env int", cfg.Rewards.CheckinXP, 40},
		{"untouched default", cfg.Rewards.AddXP, Default().Rewards.AddXP},
		{"bands replaced", len(cfg.Curve.Bands), 1},
		{"curve target", cfg.Curve.TargetTotal, 2000000},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if tc.got != tc.expected {
				t.Errorf("Expected %v, got %v", tc.expected, tc.got)
			}
		})
	}
}

func TestLoadInvalid(t *testing.T) {
	testCases := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "bad log level",
			yaml:    "log:\n  level: loud\n",
			wantErr: "Log.Level",
		},
		{
			name:    "bad listen address",
			yaml:    "listen: nowhere\n",
			wantErr: "Listen",
		},
		{
			name:    "unknown timezone",
			yaml:    "timezone: Mars/Olympus\n",
			wantErr: "timezone",
		},
		{
			name:    "unordered bands",
			yaml:    "curve:\n  bands:\n    - {end: 20, step: 10}\n    - {end: 10, step: 10}\n",
			wantErr: "Curve.Bands",
		},
		{
			name:    "target too small",
			yaml:    "curve:\n  target_total: 1000\n",
			wantErr: "target total",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeConfig(t, tc.yaml)
			_, err := Load(newFlags(t, "--config", path))
			if err == nil {
				t.Fatal("Expected an error, got nil")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("Expected error mentioning %q, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(newFlags(t, "--config", filepath.Join(t.TempDir(), "missing.yaml")))
	if err == nil {
		t.Error("Expected an error for a missing config file")
	}
}

func TestLocation(t *testing.T) {
	cfg := Default()
	if loc, err := cfg.Location(); err != nil || loc != time.Local {
		t.Errorf("Expected local zone, got %v, %v", loc, err)
	}
	cfg.Timezone = "UTC"
	if loc, err := cfg.Location(); err != nil || loc.String() != "UTC" {
		t.Errorf("Expected UTC, got %v, %v", loc, err)
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "warn", Format: "json"}, &buf)
	logger.Info("hidden")
	logger.Warn("shown", "key", "value")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("Expected info to be filtered at warn level")
	}
	if !strings.Contains(out, `"msg":"shown"`) || !strings.Contains(out, `"key":"value"`) {
		t.Errorf("Expected a JSON record, got %q", out)
	}
}
