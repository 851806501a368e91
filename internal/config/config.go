// Package config loads configuration from environment variables,
// falling back to the persisted settings store.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/Daxiongmao87/nextcloud-filepicker/internal/obscure"
	"github.com/Daxiongmao87/nextcloud-filepicker/internal/settings"
)

// Config holds all filepicker configuration.
type Config struct {
	// Remote host
	ServerURL    string
	Username     string
	AppPassword  string
	Subdirectory string

	// Selection behavior
	SkipShareConfirm bool
	Extensions       []string // lowercase suffix filter, empty = all

	// Bridge server
	ListenAddr  string
	MetricsAddr string

	// Logging
	LogLevel  string
	LogFormat string

	// Picker source ("remote" or "local", empty means resolve from
	// whether a server URL is configured)
	Picker        string
	LocalAssetDir string
	LocalBaseURL  string

	// Previews
	PreviewSize int

	// Path map backend ("settings" or "postgres")
	PathmapBackend string
	DatabaseURL    string

	// Export target ("local" or "s3")
	ExportTarget string
	ExportDir    string
	S3Endpoint   string
	S3Bucket     string
	S3AccessKey  string
	S3SecretKey  string
	S3Region     string
	S3Prefix     string
}

// ConfigError reports settings required by an operation but not set.
// It deliberately does not fail Load: an unconfigured picker still
// starts, and operations classify the missing pieces when attempted.
type ConfigError struct {
	Missing []string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("configuration incomplete: %s not set", strings.Join(e.Missing, ", "))
}

// Load reads configuration from environment variables with the
// settings store as fallback. st may be nil.
func Load(st *settings.Store) (*Config, error) {
	cfg := &Config{
		ServerURL:        envOrSetting(st, "NCFP_SERVER_URL", "server_url", ""),
		Username:         envOrSetting(st, "NCFP_USERNAME", "username", ""),
		Subdirectory:     envOrSetting(st, "NCFP_SUBDIRECTORY", "subdirectory", ""),
		SkipShareConfirm: envBoolOrSetting(st, "NCFP_SKIP_SHARE_CONFIRM", "skip_share_confirm", false),
		ListenAddr:       envOr("NCFP_LISTEN_ADDR", ":8402"),
		MetricsAddr:      envOr("NCFP_METRICS_ADDR", ":9402"),
		LogLevel:         envOr("NCFP_LOG_LEVEL", "info"),
		LogFormat:        envOr("NCFP_LOG_FORMAT", "json"),
		Picker:           envOr("NCFP_PICKER", ""),
		LocalAssetDir:    envOr("NCFP_LOCAL_ASSET_DIR", ""),
		LocalBaseURL:     envOr("NCFP_LOCAL_BASE_URL", ""),
		PreviewSize:      envInt("NCFP_PREVIEW_SIZE", 256),
		PathmapBackend:   envOr("NCFP_PATHMAP_BACKEND", "settings"),
		DatabaseURL:      envOr("NCFP_DATABASE_URL", ""),
		ExportTarget:     envOr("NCFP_EXPORT_TARGET", "local"),
		ExportDir:        envOr("NCFP_EXPORT_DIR", "exports"),
		S3Endpoint:       envOr("NCFP_S3_ENDPOINT", "http://localhost:9000"),
		S3Bucket:         envOr("NCFP_S3_BUCKET", "nextcloud-filepicker"),
		S3AccessKey:      envOr("NCFP_S3_ACCESS_KEY", "minioadmin"),
		S3SecretKey:      envOr("NCFP_S3_SECRET_KEY", "minioadmin"),
		S3Region:         envOr("NCFP_S3_REGION", "us-east-1"),
		S3Prefix:         envOr("NCFP_S3_PREFIX", ""),
	}

	cfg.Extensions = splitExtensions(envOr("NCFP_EXTENSIONS", ""))
	cfg.ServerURL = strings.TrimRight(cfg.ServerURL, "/")

	// The app password is stored obscured; the environment carries it
	// plain. A stored value that no longer opens is corruption, not a
	// missing setting, so it does fail Load.
	if v := os.Getenv("NCFP_APP_PASSWORD"); v != "" {
		cfg.AppPassword = v
	} else if st != nil {
		stored := st.GetString("app_password", "")
		if stored != "" {
			plain, err := obscure.Reveal(stored)
			if err != nil {
				return nil, fmt.Errorf("reveal stored app password: %w", err)
			}
			cfg.AppPassword = plain
		}
	}

	return cfg, nil
}

// Validate reports the remote-host settings an operation needs. It
// returns a *ConfigError naming what is missing, or nil.
func (c *Config) Validate() error {
	var missing []string
	if c.ServerURL == "" {
		missing = append(missing, "server URL")
	}
	if c.Username == "" || c.AppPassword == "" {
		missing = append(missing, "credentials")
	}
	if len(missing) > 0 {
		return &ConfigError{Missing: missing}
	}
	return nil
}

// HasCredentials reports whether both username and app password are set.
func (c *Config) HasCredentials() bool {
	return c.Username != "" && c.AppPassword != ""
}

// splitExtensions normalizes a comma-separated extension list to
// lowercase dot-prefixed suffixes.
func splitExtensions(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part == "" {
			continue
		}
		if !strings.HasPrefix(part, ".") {
			part = "." + part
		}
		out = append(out, part)
	}
	return out
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrSetting(st *settings.Store, key, settingKey, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	if st != nil {
		return st.GetString(settingKey, fallback)
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envBoolOrSetting(st *settings.Store, key, settingKey string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		return envBool(key, fallback)
	}
	if st != nil {
		return st.GetBool(settingKey, fallback)
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}
