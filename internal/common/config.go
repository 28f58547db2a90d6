package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration
type Config struct {
	Environment string        `toml:"environment"` // "development" or "production"
	Server      ServerConfig  `toml:"server"`
	Storage     StorageConfig `toml:"storage"`
	Logging     LoggingConfig `toml:"logging"`
	Sync        SyncConfig    `toml:"sync"`
	Session     SessionConfig `toml:"session"`
}

type ServerConfig struct {
	Port          int           `toml:"port"`
	Host          string        `toml:"host"`
	AdminPassword string        `toml:"admin_password"` // Empty disables the admin login guard
	APIKey        string        `toml:"api_key"`        // Empty disables the external /v1 API
	SessionTTL    time.Duration `toml:"session_ttl"`    // Admin login session lifetime
}

type StorageConfig struct {
	Dir            string `toml:"dir"`              // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"` // Delete database on startup for clean test runs
}

type LoggingConfig struct {
	Level      string   `toml:"level"`       // "debug", "info", "warn", "error"
	Format     string   `toml:"format"`      // "json" or "text"
	Output     []string `toml:"output"`      // "stdout", "file"
	TimeFormat string   `toml:"time_format"` // Time format for logs (default: "15:04:05.000")
}

// SyncConfig seeds the runtime sync settings on first boot and carries the
// fixed retry/backoff tuning. The seeded values (downstream_url,
// connection_token, refresh_interval, max_concurrency) are editable at
// runtime and persisted; edits survive restarts, file values only apply to
// a fresh database.
type SyncConfig struct {
	DownstreamURL   string        `toml:"downstream_url"`
	ConnectionToken string        `toml:"connection_token"`
	RefreshInterval time.Duration `toml:"refresh_interval"` // How often eligible profiles are scanned
	MaxConcurrency  int           `toml:"max_concurrency"`  // Simultaneous sync workers

	BackoffBase    time.Duration `toml:"backoff_base"`     // First profile-level retry delay
	BackoffCap     time.Duration `toml:"backoff_cap"`      // Ceiling for profile-level backoff
	TaskTimeout    time.Duration `toml:"task_timeout"`     // Hard deadline for one profile sync
	JitterMax      time.Duration `toml:"jitter_max"`       // Random delay added before each scan
	PushRetries    int           `toml:"push_retries"`     // In-attempt retries for transient push failures
	PushBackoff    time.Duration `toml:"push_backoff"`     // First push retry delay
	PushBackoffCap time.Duration `toml:"push_backoff_cap"` // Ceiling for push retry delay
}

// SessionConfig controls the headless browser token exchange
type SessionConfig struct {
	TargetURL    string        `toml:"target_url"`    // Page navigated to with injected cookies
	TokenCookie  string        `toml:"token_cookie"`  // Cookie name read back as the session token
	CookieURL    string        `toml:"cookie_url"`    // URL scope for injected and read cookies
	UserAgent    string        `toml:"user_agent"`
	Headless     bool          `toml:"headless"`
	NavTimeout   time.Duration `toml:"nav_timeout"`   // Page navigation timeout
	LaunchRate   time.Duration `toml:"launch_rate"`   // Minimum spacing between browser launches
	StartupCheck bool          `toml:"startup_check"` // Verify Chrome works during startup
}

// NewDefaultConfig creates a configuration with default values
// Technical parameters are hardcoded here for production stability.
// Only user-facing settings should be exposed in renovo.toml.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development", // Default to development mode
		Server: ServerConfig{
			Port:       8080,
			Host:       "localhost",
			SessionTTL: 12 * time.Hour,
		},
		Storage: StorageConfig{
			Dir: "./data",
		},
		Logging: LoggingConfig{
			Level:  "info",                     // Info level for production (debug|info|warn|error)
			Format: "text",                     // Human-readable text format (text|json)
			Output: []string{"stdout", "file"}, // Log to both console and file
		},
		Sync: SyncConfig{
			RefreshInterval: 15 * time.Minute,
			MaxConcurrency:  3,
			BackoffBase:     1 * time.Minute,
			BackoffCap:      1 * time.Hour,
			TaskTimeout:     3 * time.Minute,
			JitterMax:       10 * time.Second,
			PushRetries:     3,
			PushBackoff:     2 * time.Second,
			PushBackoffCap:  30 * time.Second,
		},
		Session: SessionConfig{
			TargetURL:    "https://labs.google/fx/tools/flow",
			TokenCookie:  "__Secure-next-auth.session-token",
			CookieURL:    "https://labs.google",
			UserAgent:    "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			Headless:     true,
			NavTimeout:   60 * time.Second,
			LaunchRate:   2 * time.Second,
			StartupCheck: true,
		},
	}
}

// LoadFromFile loads configuration with priority: default -> file -> env -> CLI
// Priority system: CLI flags > Environment variables > Config file > Defaults
func LoadFromFile(path string) (*Config, error) {
	if path == "" {
		return LoadFromFiles()
	}
	return LoadFromFiles(path)
}

// LoadFromFiles loads configuration from multiple files with priority: default -> file1 -> file2 -> ... -> env -> CLI
// Later files override earlier files.
// Example: LoadFromFiles("renovo.toml", "renovo.dev.toml") - renovo.dev.toml settings take precedence
func LoadFromFiles(paths ...string) (*Config, error) {
	// Start with defaults
	config := NewDefaultConfig()

	// Load and merge each config file in order (later files override earlier files)
	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		// Unmarshal into config (merges with existing values, later values override)
		err = toml.Unmarshal(data, config)
		if err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	// Apply environment variables (overrides all file configs)
	applyEnvOverrides(config)

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	// Environment configuration (highest priority: RENOVO_ENV, fallback: GO_ENV)
	if env := os.Getenv("RENOVO_ENV"); env != "" {
		config.Environment = env
	} else if env := os.Getenv("GO_ENV"); env != "" {
		config.Environment = env
	}

	// Server configuration
	if port := os.Getenv("RENOVO_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("RENOVO_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}
	if password := os.Getenv("RENOVO_ADMIN_PASSWORD"); password != "" {
		config.Server.AdminPassword = password
	}
	if apiKey := os.Getenv("RENOVO_API_KEY"); apiKey != "" {
		config.Server.APIKey = apiKey
	}
	if ttl := os.Getenv("RENOVO_SESSION_TTL"); ttl != "" {
		if d, err := time.ParseDuration(ttl); err == nil {
			config.Server.SessionTTL = d
		}
	}

	// Storage configuration
	if dir := os.Getenv("RENOVO_STORAGE_DIR"); dir != "" {
		config.Storage.Dir = dir
	}

	// Logging configuration
	if level := os.Getenv("RENOVO_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if format := os.Getenv("RENOVO_LOG_FORMAT"); format != "" {
		config.Logging.Format = format
	}
	if output := os.Getenv("RENOVO_LOG_OUTPUT"); output != "" {
		// Split comma-separated output types
		outputs := []string{}
		for _, o := range strings.Split(output, ",") {
			trimmed := strings.TrimSpace(o)
			if trimmed != "" {
				outputs = append(outputs, trimmed)
			}
		}
		if len(outputs) > 0 {
			config.Logging.Output = outputs
		}
	}

	// Sync configuration
	if downstream := os.Getenv("RENOVO_SYNC_DOWNSTREAM_URL"); downstream != "" {
		config.Sync.DownstreamURL = downstream
	}
	if token := os.Getenv("RENOVO_SYNC_CONNECTION_TOKEN"); token != "" {
		config.Sync.ConnectionToken = token
	}
	if interval := os.Getenv("RENOVO_SYNC_REFRESH_INTERVAL"); interval != "" {
		if d, err := time.ParseDuration(interval); err == nil {
			config.Sync.RefreshInterval = d
		}
	}
	if concurrency := os.Getenv("RENOVO_SYNC_MAX_CONCURRENCY"); concurrency != "" {
		if c, err := strconv.Atoi(concurrency); err == nil {
			config.Sync.MaxConcurrency = c
		}
	}
	if base := os.Getenv("RENOVO_SYNC_BACKOFF_BASE"); base != "" {
		if d, err := time.ParseDuration(base); err == nil {
			config.Sync.BackoffBase = d
		}
	}
	if limit := os.Getenv("RENOVO_SYNC_BACKOFF_CAP"); limit != "" {
		if d, err := time.ParseDuration(limit); err == nil {
			config.Sync.BackoffCap = d
		}
	}
	if timeout := os.Getenv("RENOVO_SYNC_TASK_TIMEOUT"); timeout != "" {
		if d, err := time.ParseDuration(timeout); err == nil {
			config.Sync.TaskTimeout = d
		}
	}
	if jitter := os.Getenv("RENOVO_SYNC_JITTER_MAX"); jitter != "" {
		if d, err := time.ParseDuration(jitter); err == nil {
			config.Sync.JitterMax = d
		}
	}
	if retries := os.Getenv("RENOVO_SYNC_PUSH_RETRIES"); retries != "" {
		if r, err := strconv.Atoi(retries); err == nil {
			config.Sync.PushRetries = r
		}
	}

	// Session configuration
	if targetURL := os.Getenv("RENOVO_SESSION_TARGET_URL"); targetURL != "" {
		config.Session.TargetURL = targetURL
	}
	if tokenCookie := os.Getenv("RENOVO_SESSION_TOKEN_COOKIE"); tokenCookie != "" {
		config.Session.TokenCookie = tokenCookie
	}
	if cookieURL := os.Getenv("RENOVO_SESSION_COOKIE_URL"); cookieURL != "" {
		config.Session.CookieURL = cookieURL
	}
	if userAgent := os.Getenv("RENOVO_SESSION_USER_AGENT"); userAgent != "" {
		config.Session.UserAgent = userAgent
	}
	if headless := os.Getenv("RENOVO_SESSION_HEADLESS"); headless != "" {
		if h, err := strconv.ParseBool(headless); err == nil {
			config.Session.Headless = h
		}
	}
	if navTimeout := os.Getenv("RENOVO_SESSION_NAV_TIMEOUT"); navTimeout != "" {
		if d, err := time.ParseDuration(navTimeout); err == nil {
			config.Session.NavTimeout = d
		}
	}
	if startupCheck := os.Getenv("RENOVO_SESSION_STARTUP_CHECK"); startupCheck != "" {
		if sc, err := strconv.ParseBool(startupCheck); err == nil {
			config.Session.StartupCheck = sc
		}
	}
}

// ApplyFlagOverrides applies command-line flag overrides to config
func ApplyFlagOverrides(config *Config, port int, host string) {
	// Command-line flags have highest priority
	if port > 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}

// IsProduction returns true if the environment is set to production
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}
