package config

import (
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("load with missing file: %v", err)
	}
	if cfg.Database.Driver != "sqlite" {
		t.Errorf("driver = %q, want sqlite", cfg.Database.Driver)
	}
	if cfg.Cache.TTLMinutes != 30 || cfg.Cache.SweepSchedule != "@hourly" || cfg.Cache.SweepMaxAgeHours != 24 {
		t.Errorf("cache defaults = %+v", cfg.Cache)
	}
	if cfg.Gateway.Port != 6090 {
		t.Errorf("port = %d, want 6090", cfg.Gateway.Port)
	}
	if cfg.Database.Path == "" || cfg.Results.Dir == "" || cfg.Profiles.Dir == "" {
		t.Errorf("paths must default under the home directory: %+v", cfg)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	want := &Config{
		Database: DatabaseConfig{Driver: "mysql", DSN: "user:pass@tcp(127.0.0.1:3306)/appaudit"},
		Results:  ResultsConfig{Dir: "/var/lib/appaudit/results"},
		Cache:    CacheConfig{TTLMinutes: 5, SweepSchedule: "@every 10m", SweepMaxAgeHours: 2},
		Profiles: ProfilesConfig{Dir: "/etc/appaudit/profiles"},
		Gateway:  GatewayConfig{Port: 7001},
	}

	if err := Save(want, path); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Database.Driver != "mysql" || got.Database.DSN != want.Database.DSN {
		t.Errorf("database = %+v", got.Database)
	}
	if got.Cache != want.Cache {
		t.Errorf("cache = %+v, want %+v", got.Cache, want.Cache)
	}
	if got.Results.Dir != want.Results.Dir || got.Profiles.Dir != want.Profiles.Dir {
		t.Errorf("dirs = %+v / %+v", got.Results, got.Profiles)
	}
	if got.Gateway.Port != 7001 {
		t.Errorf("port = %d", got.Gateway.Port)
	}
}

func TestExpandHome(t *testing.T) {
	if got := expandHome("~/results", "/home/u"); got != filepath.Join("/home/u", "results") {
		t.Errorf("expanded = %q", got)
	}
	if got := expandHome("/abs/results", "/home/u"); got != "/abs/results" {
		t.Errorf("absolute path must pass through, got %q", got)
	}
}
