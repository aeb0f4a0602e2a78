package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"golang.org/x/crypto/bcrypt"
)

// Config represents the application configuration
type Config struct {
	Server         ServerConfig        `toml:"server"`
	Database       DatabaseConfig      `toml:"database"`
	Security       SecurityConfig      `toml:"security"`
	Library        LibraryConfig       `toml:"library"`
	Mail           MailConfig          `toml:"mail"`
	Logging        LoggingConfig       `toml:"logging"`
	SmartPlaylists SmartPlaylistConfig `toml:"smart_playlists"`
}

// ServerConfig contains HTTP listener settings
type ServerConfig struct {
	Listen                 string `toml:"listen"`
	CORSOrigin             string `toml:"cors_origin"`
	ShutdownTimeoutSeconds int    `toml:"shutdown_timeout_seconds"`
}

// DatabaseConfig contains database-related configuration
type DatabaseConfig struct {
	Path         string `toml:"path"`
	MaxOpenConns int    `toml:"max_open_conns"`
}

// SecurityConfig holds token and password hashing settings
type SecurityConfig struct {
	JWTSecret            string `toml:"jwt_secret"`
	TokenTTLHours        int    `toml:"token_ttl_hours"`
	BcryptCost           int    `toml:"bcrypt_cost"`
	DefaultAdminPassword string `toml:"default_admin_password"`
}

// LibraryConfig contains music library configuration
type LibraryConfig struct {
	Paths            []string `toml:"paths"`
	SupportedFormats []string `toml:"supported_formats"`
	WatchForChanges  bool     `toml:"watch_for_changes"`
	ScanEnabled      bool     `toml:"scan_enabled"`
	ScanSchedule     string   `toml:"scan_schedule"`
	ArtworkDir       string   `toml:"artwork_dir"`
}

// MailConfig contains SMTP settings; an empty host logs mail instead of sending it
type MailConfig struct {
	Host           string `toml:"host"`
	Port           int    `toml:"port"`
	Username       string `toml:"username"`
	Password       string `toml:"password"`
	From           string `toml:"from"`
	DigestSchedule string `toml:"digest_schedule"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// SmartPlaylistConfig controls background refreshing of rule-based playlists
type SmartPlaylistConfig struct {
	RefreshSchedule string `toml:"refresh_schedule"`
	MaxTracks       int    `toml:"max_tracks"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Listen:                 ":8080",
			CORSOrigin:             "*",
			ShutdownTimeoutSeconds: 10,
		},
		Database: DatabaseConfig{
			Path:         "./inx_music.db",
			MaxOpenConns: 1,
		},
		Security: SecurityConfig{
			JWTSecret:            "change-me",
			TokenTTLHours:        24 * 7,
			BcryptCost:           bcrypt.DefaultCost,
			DefaultAdminPassword: "admin",
		},
		Library: LibraryConfig{
			Paths:            []string{},
			SupportedFormats: []string{".mp3", ".flac", ".m4a", ".ogg", ".wav"},
			WatchForChanges:  false,
			ScanEnabled:      true,
			ScanSchedule:     "0 2 * * *",
			ArtworkDir:       "./artwork",
		},
		Mail: MailConfig{
			Port:           587,
			From:           "no-reply@inx-music.local",
			DigestSchedule: "*/15 * * * *",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		SmartPlaylists: SmartPlaylistConfig{
			RefreshSchedule: "30 * * * *",
			MaxTracks:       500,
		},
	}
}

// LoadConfig loads configuration from a TOML file, then applies .env and INX_* overrides.
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := cfg.SaveToFile(configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config file: %w", err)
		}
	} else if _, err := toml.DecodeFile(configPath, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// A missing .env is normal outside development.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	if err := cfg.applyEnvOverrides(os.Getenv); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides(getenv func(string) string) error {
	str := map[string]*string{
		"INX_LISTEN":         &c.Server.Listen,
		"INX_CORS_ORIGIN":    &c.Server.CORSOrigin,
		"INX_DB_PATH":        &c.Database.Path,
		"INX_JWT_SECRET":     &c.Security.JWTSecret,
		"INX_ADMIN_PASSWORD": &c.Security.DefaultAdminPassword,
		"INX_LOG_LEVEL":      &c.Logging.Level,
		"INX_LOG_FORMAT":     &c.Logging.Format,
		"INX_SMTP_HOST":      &c.Mail.Host,
		"INX_SMTP_USER":      &c.Mail.Username,
		"INX_SMTP_PASS":      &c.Mail.Password,
		"INX_SMTP_FROM":      &c.Mail.From,
		"INX_ARTWORK_DIR":    &c.Library.ArtworkDir,
	}
	for key, dst := range str {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"INX_SMTP_PORT":       &c.Mail.Port,
		"INX_BCRYPT_COST":     &c.Security.BcryptCost,
		"INX_TOKEN_TTL_HOURS": &c.Security.TokenTTLHours,
	}
	for key, dst := range ints {
		v := getenv(key)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s must be an integer: %w", key, err)
		}
		*dst = n
	}

	if v := getenv("INX_LIBRARY_PATHS"); v != "" {
		c.Library.Paths = nil
		for _, p := range strings.Split(v, string(os.PathListSeparator)) {
			if p = strings.TrimSpace(p); p != "" {
				c.Library.Paths = append(c.Library.Paths, p)
			}
		}
	}
	return nil
}

// SaveToFile saves the configuration to a TOML file
func (c *Config) SaveToFile(configPath string) error {
	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	file, err := os.Create(configPath)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer file.Close()

	header := "# InX Music server configuration\n# Values can be overridden with INX_* environment variables.\n\n"
	if _, err := file.WriteString(header); err != nil {
		return fmt.Errorf("failed to write config header: %w", err)
	}
	if err := toml.NewEncoder(file).Encode(c); err != nil {
		return fmt.Errorf("failed to encode config to TOML: %w", err)
	}
	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Listen == "" {
		return fmt.Errorf("server listen address cannot be empty")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database path cannot be empty")
	}
	if c.Database.MaxOpenConns < 1 {
		return fmt.Errorf("database max_open_conns must be at least 1")
	}
	if c.Security.JWTSecret == "" {
		return fmt.Errorf("jwt secret cannot be empty")
	}
	if c.Security.BcryptCost < bcrypt.MinCost || c.Security.BcryptCost > bcrypt.MaxCost {
		return fmt.Errorf("bcrypt cost must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost)
	}
	if c.Security.TokenTTLHours < 1 {
		return fmt.Errorf("token ttl must be at least one hour")
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	schedules := map[string]string{
		"library.scan_schedule":            c.Library.ScanSchedule,
		"mail.digest_schedule":             c.Mail.DigestSchedule,
		"smart_playlists.refresh_schedule": c.SmartPlaylists.RefreshSchedule,
	}
	for name, spec := range schedules {
		if spec == "" {
			continue
		}
		if _, err := parser.Parse(spec); err != nil {
			return fmt.Errorf("invalid %s %q: %w", name, spec, err)
		}
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}
	if c.Logging.Format != "text" && c.Logging.Format != "json" {
		return fmt.Errorf("invalid log format: %s (must be text or json)", c.Logging.Format)
	}
	if c.SmartPlaylists.MaxTracks < 1 {
		return fmt.Errorf("smart_playlists.max_tracks must be at least 1")
	}
	return nil
}

// TokenTTL returns how long issued sessions and tokens stay valid
func (c *Config) TokenTTL() time.Duration {
	return time.Duration(c.Security.TokenTTLHours) * time.Hour
}

// IsFormatSupported checks if a file extension is a supported audio format
func (c *Config) IsFormatSupported(ext string) bool {
	ext = strings.ToLower(ext)
	for _, supported := range c.Library.SupportedFormats {
		if supported == ext {
			return true
		}
	}
	return false
}
