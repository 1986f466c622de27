package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teemow/slotfinder/internal/tokenstore"
)

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func validConfig() Config {
	cfg := Default()
	cfg.Google = GoogleConfig{ClientID: "id", ClientSecret: "secret", RedirectURI: "http://localhost:8080/api/google/callback"}
	return cfg
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "Asia/Kolkata", cfg.DefaultTimeZone)
	assert.Equal(t, 10*time.Second, time.Duration(cfg.ProviderTimeout))
	assert.Equal(t, tokenstore.TypeMemory, cfg.TokenStore.Type)
	assert.True(t, cfg.ReadOnly)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, 5.0, cfg.RateLimit.RPS)
	assert.Equal(t, 10, cfg.RateLimit.Burst)
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	err := cfg.ApplyEnv(envMap(map[string]string{
		"GOOGLE_CLIENT_ID":     "gid",
		"GOOGLE_CLIENT_SECRET": "gsecret",
		"GOOGLE_REDIRECT_URI":  "http://x/cb",
		"GOOGLE_SCOPES":        "https://www.googleapis.com/auth/calendar.readonly, openid",
		"MS_TENANT_ID":         "contoso",
		"MS_CLIENT_ID":         "mid",
		"MS_CLIENT_SECRET":     "msecret",
		"PROVIDER_TIMEOUT":     "3s",
		"TOKEN_STORE_TYPE":     "redis",
		"REDIS_URL":            "redis://localhost:6379/0",
		"READ_ONLY":            "false",
		"METRICS_ENABLED":      "false",
		"DEFAULT_TIME_ZONE":    "Europe/Berlin",
		"RATE_LIMIT_RPS":       "0.5",
		"RATE_LIMIT_BURST":     "3",
		"TRUST_PROXY":          "true",
	}))
	require.NoError(t, err)

	assert.Equal(t, "gid", cfg.Google.ClientID)
	assert.Equal(t, []string{"https://www.googleapis.com/auth/calendar.readonly", "openid"}, cfg.Google.Scopes)
	assert.Equal(t, "contoso", cfg.Microsoft.TenantID)
	assert.Equal(t, 3*time.Second, time.Duration(cfg.ProviderTimeout))
	assert.Equal(t, tokenstore.TypeRedis, cfg.TokenStore.Type)
	assert.Equal(t, "redis://localhost:6379/0", cfg.TokenStore.RedisURL)
	assert.False(t, cfg.ReadOnly)
	assert.False(t, cfg.Metrics.Enabled)
	assert.Equal(t, "Europe/Berlin", cfg.DefaultTimeZone)
	assert.Equal(t, RateLimitConfig{RPS: 0.5, Burst: 3, TrustProxy: true}, cfg.RateLimit)
	assert.Equal(t, ":8080", cfg.HTTPAddr, "unset variables keep their value")
	assert.NoError(t, cfg.Validate())
}

func TestApplyEnv_InvalidValues(t *testing.T) {
	cfg := Default()
	err := cfg.ApplyEnv(envMap(map[string]string{
		"PROVIDER_TIMEOUT": "soon",
		"READ_ONLY":        "maybe",
		"RATE_LIMIT_BURST": "lots",
	}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PROVIDER_TIMEOUT")
	assert.Contains(t, err.Error(), "READ_ONLY")
	assert.Contains(t, err.Error(), "RATE_LIMIT_BURST")
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "slotfinder.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
http_addr = ":9999"
provider_timeout = "4s"
default_time_zone = "UTC"

[google]
client_id = "file-id"
client_secret = "file-secret"
redirect_uri = "http://localhost/cb"

[token_store]
type = "sqlite"
sqlite_path = "/tmp/slotfinder.db"
`), 0o600))

	cfg := Default()
	require.NoError(t, cfg.LoadFile(path))

	assert.Equal(t, ":9999", cfg.HTTPAddr)
	assert.Equal(t, 4*time.Second, time.Duration(cfg.ProviderTimeout))
	assert.Equal(t, "file-id", cfg.Google.ClientID)
	assert.Equal(t, tokenstore.TypeSQLite, cfg.TokenStore.Type)
	assert.Equal(t, "/tmp/slotfinder.db", cfg.TokenStore.SQLitePath)
	assert.Equal(t, ":9090", cfg.Metrics.Addr, "defaults survive a partial file")
}

func TestLoadFile_Errors(t *testing.T) {
	cfg := Default()
	assert.Error(t, cfg.LoadFile(filepath.Join(t.TempDir(), "missing.toml")))

	path := filepath.Join(t.TempDir(), "bad.toml")
	require.NoError(t, os.WriteFile(path, []byte(`provider_timeout = "ten"`), 0o600))
	assert.Error(t, cfg.LoadFile(path))
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "slotfinder.toml")
	require.NoError(t, os.WriteFile(path, []byte(`http_addr = ":7000"`), 0o600))
	t.Setenv("HTTP_ADDR", ":7001")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":7001", cfg.HTTPAddr)
}

func TestLoadDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("SLOTFINDER_TEST_DOTENV=from-file\n"), 0o600))
	t.Setenv("SLOTFINDER_TEST_DOTENV", "")
	os.Unsetenv("SLOTFINDER_TEST_DOTENV")

	require.NoError(t, LoadDotEnv(path))
	assert.Equal(t, "from-file", os.Getenv("SLOTFINDER_TEST_DOTENV"))

	assert.NoError(t, LoadDotEnv(filepath.Join(t.TempDir(), "absent.env")))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid google only", func(c *Config) {}, ""},
		{"valid microsoft only", func(c *Config) {
			c.Google = GoogleConfig{}
			c.Microsoft = MicrosoftConfig{TenantID: "t", ClientID: "c", ClientSecret: "s"}
		}, ""},
		{"no provider", func(c *Config) { c.Google = GoogleConfig{} }, "no calendar provider"},
		{"google missing redirect", func(c *Config) { c.Google.RedirectURI = "" }, "GOOGLE_REDIRECT_URI"},
		{"microsoft missing secret", func(c *Config) {
			c.Microsoft = MicrosoftConfig{TenantID: "t", ClientID: "c"}
		}, "MS_CLIENT_SECRET"},
		{"bad time zone", func(c *Config) { c.DefaultTimeZone = "Nowhere/Land" }, "DEFAULT_TIME_ZONE"},
		{"zero timeout", func(c *Config) { c.ProviderTimeout = 0 }, "PROVIDER_TIMEOUT"},
		{"bad log format", func(c *Config) { c.LogFormat = "xml" }, "LOG_FORMAT"},
		{"negative rate", func(c *Config) { c.RateLimit.RPS = -1 }, "RATE_LIMIT_RPS"},
		{"rate without burst", func(c *Config) { c.RateLimit.Burst = 0 }, "RATE_LIMIT_BURST"},
		{"rate limiting off", func(c *Config) { c.RateLimit = RateLimitConfig{} }, ""},
		{"store missing url", func(c *Config) { c.TokenStore.Type = tokenstore.TypePostgres }, "DATABASE_URL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
