package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfigIsValid(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := map[string]func(*Config){
		"empty listen":    func(c *Config) { c.Server.Listen = "" },
		"bcrypt too high": func(c *Config) { c.Security.BcryptCost = 99 },
		"bad cron":        func(c *Config) { c.Library.ScanSchedule = "every tuesday" },
		"bad log level":   func(c *Config) { c.Logging.Level = "chatty" },
		"zero conns":      func(c *Config) { c.Database.MaxOpenConns = 0 },
	}
	for name, mutate := range cases {
		cfg := DefaultConfig()
		mutate(cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: expected a validation error", name)
		}
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	env := map[string]string{
		"INX_LISTEN":        ":9999",
		"INX_BCRYPT_COST":   "6",
		"INX_LIBRARY_PATHS": "/music" + string(os.PathListSeparator) + " /more ",
	}
	cfg := DefaultConfig()
	if err := cfg.applyEnvOverrides(func(k string) string { return env[k] }); err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Listen != ":9999" || cfg.Security.BcryptCost != 6 {
		t.Fatalf("overrides not applied: %+v", cfg.Server)
	}
	if len(cfg.Library.Paths) != 2 || cfg.Library.Paths[1] != "/more" {
		t.Fatalf("unexpected library paths %v", cfg.Library.Paths)
	}

	env["INX_SMTP_PORT"] = "not-a-port"
	if err := DefaultConfig().applyEnvOverrides(func(k string) string { return env[k] }); err == nil {
		t.Fatal("expected an error for a non-numeric port")
	}
}

func TestLoadConfigCreatesDefaultFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "config.toml")
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected a default config file: %v", err)
	}
	if cfg.Server.Listen == "" {
		t.Fatal("expected defaults to be loaded")
	}

	if err := os.WriteFile(path, []byte("[server]\nlisten = \":7000\"\n"), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err = LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Listen != ":7000" || cfg.Database.Path == "" {
		t.Fatalf("file values should merge over defaults, got %+v", cfg.Server)
	}
}

func TestIsFormatSupported(t *testing.T) {
	cfg := DefaultConfig()
	if !cfg.IsFormatSupported(".MP3") || !cfg.IsFormatSupported(".flac") {
		t.Fatal("expected mp3 and flac to be supported")
	}
	if cfg.IsFormatSupported(".txt") {
		t.Fatal("txt should not be supported")
	}
}
