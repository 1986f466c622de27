// Package config loads slotfinder settings.
//
// Values are layered in this order, later sources winning: built-in
// defaults, an optional TOML file, a .env file, process environment, and
// finally command-line flags (applied by the cmd package).
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"

	"github.com/teemow/slotfinder/internal/availability"
	"github.com/teemow/slotfinder/internal/tokenstore"
)

// Duration is a time.Duration that reads "10s" style strings from TOML.
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Config is the complete service configuration.
type Config struct {
	HTTPAddr  string `toml:"http_addr"`
	BaseURL   string `toml:"base_url"`
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`

	// ReadOnly hides write operations such as event creation.
	ReadOnly bool `toml:"read_only"`

	DefaultTimeZone string   `toml:"default_time_zone"`
	ProviderTimeout Duration `toml:"provider_timeout"`
	MaxRange        Duration `toml:"max_range"`

	// JWTSecret verifies HS256 bearer tokens carrying the caller identity
	// and signs OAuth state. Without it the X-Identity header is trusted.
	JWTSecret string `toml:"jwt_secret"`

	Google     GoogleConfig      `toml:"google"`
	Microsoft  MicrosoftConfig   `toml:"microsoft"`
	TokenStore tokenstore.Config `toml:"token_store"`
	Metrics    MetricsConfig     `toml:"metrics"`
	RateLimit  RateLimitConfig   `toml:"rate_limit"`
}

// GoogleConfig holds the delegated OAuth client registration.
type GoogleConfig struct {
	ClientID     string   `toml:"client_id"`
	ClientSecret string   `toml:"client_secret"`
	RedirectURI  string   `toml:"redirect_uri"`
	Scopes       []string `toml:"scopes"`

	// CalendarEndpoint overrides the Calendar API base URL.
	CalendarEndpoint string `toml:"calendar_endpoint"`
}

// Enabled reports whether any Google setting is present.
func (g GoogleConfig) Enabled() bool {
	return g.ClientID != "" || g.ClientSecret != ""
}

// MicrosoftConfig holds the app-only Graph registration.
type MicrosoftConfig struct {
	TenantID     string `toml:"tenant_id"`
	ClientID     string `toml:"client_id"`
	ClientSecret string `toml:"client_secret"`

	// GraphBaseURL overrides https://graph.microsoft.com/v1.0.
	GraphBaseURL string `toml:"graph_base_url"`
	// TokenURL overrides the tenant token endpoint.
	TokenURL string `toml:"token_url"`
}

// Enabled reports whether any Microsoft setting is present.
func (m MicrosoftConfig) Enabled() bool {
	return m.TenantID != "" || m.ClientID != "" || m.ClientSecret != ""
}

// MetricsConfig controls the dedicated metrics listener.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Addr    string `toml:"addr"`
}

// RateLimitConfig throttles HTTP callers. RPS 0 disables limiting.
type RateLimitConfig struct {
	RPS        float64 `toml:"rps"`
	Burst      int     `toml:"burst"`
	TrustProxy bool    `toml:"trust_proxy"`
}

// Default returns the built-in defaults.
func Default() Config {
	return Config{
		HTTPAddr:        ":8080",
		LogLevel:        "info",
		LogFormat:       "text",
		ReadOnly:        true,
		DefaultTimeZone: availability.DefaultTimeZone,
		ProviderTimeout: Duration(availability.DefaultProviderTimeout),
		MaxRange:        Duration(availability.DefaultMaxRange),
		TokenStore: tokenstore.Config{
			Type:        tokenstore.TypeMemory,
			RedisPrefix: "slotfinder",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Addr:    ":9090",
		},
		RateLimit: RateLimitConfig{
			RPS:   5,
			Burst: 10,
		},
	}
}

// Load builds a Config from defaults, the TOML file at path (skipped when
// path is empty), the .env file in the working directory if present, and
// the environment.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return Config{}, err
		}
	}

	if err := LoadDotEnv(); err != nil {
		return Config{}, err
	}

	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadFile merges the TOML file at path into c.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := toml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// LoadDotEnv loads the given .env files (default ".env") into the process
// environment without overriding variables that are already set. Missing
// files are ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", f, err)
		}
	}
	return nil
}

// ApplyEnv overrides c with every recognised variable that getenv returns
// non-empty.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	str := func(key string, dst *string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	var errs []error
	boolean := func(key string, dst *bool) {
		if v := getenv(key); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}
	number := func(key string, dst *float64) {
		if v := getenv(key); v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = f
		}
	}
	integer := func(key string, dst *int) {
		if v := getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	duration := func(key string, dst *Duration) {
		if v := getenv(key); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = Duration(d)
		}
	}

	str("HTTP_ADDR", &c.HTTPAddr)
	str("BASE_URL", &c.BaseURL)
	str("LOG_LEVEL", &c.LogLevel)
	str("LOG_FORMAT", &c.LogFormat)
	boolean("READ_ONLY", &c.ReadOnly)
	str("DEFAULT_TIME_ZONE", &c.DefaultTimeZone)
	duration("PROVIDER_TIMEOUT", &c.ProviderTimeout)
	duration("MAX_RANGE", &c.MaxRange)
	str("JWT_SECRET", &c.JWTSecret)

	str("GOOGLE_CLIENT_ID", &c.Google.ClientID)
	str("GOOGLE_CLIENT_SECRET", &c.Google.ClientSecret)
	str("GOOGLE_REDIRECT_URI", &c.Google.RedirectURI)
	str("GOOGLE_CALENDAR_ENDPOINT", &c.Google.CalendarEndpoint)
	if v := getenv("GOOGLE_SCOPES"); v != "" {
		c.Google.Scopes = strings.Fields(strings.ReplaceAll(v, ",", " "))
	}

	str("MS_TENANT_ID", &c.Microsoft.TenantID)
	str("MS_CLIENT_ID", &c.Microsoft.ClientID)
	str("MS_CLIENT_SECRET", &c.Microsoft.ClientSecret)
	str("MS_GRAPH_BASE_URL", &c.Microsoft.GraphBaseURL)
	str("MS_TOKEN_URL", &c.Microsoft.TokenURL)

	str("TOKEN_STORE_TYPE", &c.TokenStore.Type)
	str("REDIS_URL", &c.TokenStore.RedisURL)
	str("REDIS_KEY_PREFIX", &c.TokenStore.RedisPrefix)
	str("SQLITE_PATH", &c.TokenStore.SQLitePath)
	str("DATABASE_URL", &c.TokenStore.DatabaseURL)
	str("MONGO_URI", &c.TokenStore.MongoURI)
	str("MONGO_DATABASE", &c.TokenStore.MongoDatabase)
	str("TOKEN_ENCRYPTION_KEY", &c.TokenStore.EncryptionKey)

	boolean("METRICS_ENABLED", &c.Metrics.Enabled)
	str("METRICS_ADDR", &c.Metrics.Addr)

	number("RATE_LIMIT_RPS", &c.RateLimit.RPS)
	integer("RATE_LIMIT_BURST", &c.RateLimit.Burst)
	boolean("TRUST_PROXY", &c.RateLimit.TrustProxy)

	return errors.Join(errs...)
}

// Validate checks the configuration. A provider is validated only when
// some of its settings are present; at least one provider is required.
func (c Config) Validate() error {
	var errs []error

	if !c.Google.Enabled() && !c.Microsoft.Enabled() {
		errs = append(errs, errors.New("no calendar provider configured: set GOOGLE_CLIENT_ID/GOOGLE_CLIENT_SECRET or MS_TENANT_ID/MS_CLIENT_ID/MS_CLIENT_SECRET"))
	}
	if c.Google.Enabled() {
		if c.Google.ClientID == "" {
			errs = append(errs, errors.New("GOOGLE_CLIENT_ID is required"))
		}
		if c.Google.ClientSecret == "" {
			errs = append(errs, errors.New("GOOGLE_CLIENT_SECRET is required"))
		}
		if c.Google.RedirectURI == "" {
			errs = append(errs, errors.New("GOOGLE_REDIRECT_URI is required"))
		}
	}
	if c.Microsoft.Enabled() {
		if c.Microsoft.TenantID == "" && c.Microsoft.TokenURL == "" {
			errs = append(errs, errors.New("MS_TENANT_ID is required"))
		}
		if c.Microsoft.ClientID == "" {
			errs = append(errs, errors.New("MS_CLIENT_ID is required"))
		}
		if c.Microsoft.ClientSecret == "" {
			errs = append(errs, errors.New("MS_CLIENT_SECRET is required"))
		}
	}

	if c.DefaultTimeZone != "" {
		if _, err := time.LoadLocation(c.DefaultTimeZone); err != nil {
			errs = append(errs, fmt.Errorf("invalid DEFAULT_TIME_ZONE %q: %w", c.DefaultTimeZone, err))
		}
	}
	if c.ProviderTimeout <= 0 {
		errs = append(errs, errors.New("PROVIDER_TIMEOUT must be positive"))
	}
	if c.MaxRange <= 0 {
		errs = append(errs, errors.New("MAX_RANGE must be positive"))
	}
	if c.RateLimit.RPS < 0 {
		errs = append(errs, errors.New("RATE_LIMIT_RPS must not be negative"))
	}
	if c.RateLimit.RPS > 0 && c.RateLimit.Burst < 1 {
		errs = append(errs, errors.New("RATE_LIMIT_BURST must be at least 1"))
	}
	switch c.LogFormat {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("invalid LOG_FORMAT %q, must be text or json", c.LogFormat))
	}

	if err := c.TokenStore.Validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
