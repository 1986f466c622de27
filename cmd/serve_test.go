package cmd

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/spf13/cobra"

	"github.com/teemow/slotfinder/internal/config"
)

func TestParseCommaSeparatedList(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{
			name:     "empty string",
			input:    "",
			expected: nil,
		},
		{
			name:     "single value",
			input:    "muster-client",
			expected: []string{"muster-client"},
		},
		{
			name:     "multiple values",
			input:    "muster-client,other-client",
			expected: []string{"muster-client", "other-client"},
		},
		{
			name:     "values with spaces around comma",
			input:    "muster-client, other-client",
			expected: []string{"muster-client", "other-client"},
		},
		{
			name:     "values with leading/trailing spaces",
			input:    "  muster-client  ,  other-client  ",
			expected: []string{"muster-client", "other-client"},
		},
		{
			name:     "trailing comma",
			input:    "muster-client,other-client,",
			expected: []string{"muster-client", "other-client"},
		},
		{
			name:     "leading comma",
			input:    ",muster-client,other-client",
			expected: []string{"muster-client", "other-client"},
		},
		{
			name:     "multiple consecutive commas",
			input:    "muster-client,,other-client",
			expected: []string{"muster-client", "other-client"},
		},
		{
			name:     "only commas and spaces",
			input:    ",  , , ",
			expected: []string{},
		},
		{
			name:     "single value with surrounding whitespace",
			input:    "  muster-client  ",
			expected: []string{"muster-client"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := parseCommaSeparatedList(tt.input)

			// Handle nil vs empty slice comparison
			if tt.expected == nil {
				if result != nil {
					t.Errorf("parseCommaSeparatedList(%q) = %v, want nil", tt.input, result)
				}
				return
			}

			if len(result) != len(tt.expected) {
				t.Errorf("parseCommaSeparatedList(%q) = %v (len %d), want %v (len %d)",
					tt.input, result, len(result), tt.expected, len(tt.expected))
				return
			}

			for i, v := range result {
				if v != tt.expected[i] {
					t.Errorf("parseCommaSeparatedList(%q)[%d] = %q, want %q",
						tt.input, i, v, tt.expected[i])
				}
			}
		})
	}
}

func TestApplyServeFlags(t *testing.T) {
	cmd := newServeCmd()
	if err := cmd.ParseFlags([]string{"--yolo", "--http-addr", ":9999", "--base-url", "https://slots.example.com/"}); err != nil {
		t.Fatalf("ParseFlags() error = %v", err)
	}

	cfg := config.Default()
	cfg.Metrics.Addr = ":7070"
	applyServeFlags(cmd, &cfg, readServeOptions(t, cmd))

	if cfg.ReadOnly {
		t.Error("--yolo should disable read-only mode")
	}
	if cfg.HTTPAddr != ":9999" {
		t.Errorf("HTTPAddr = %q, want :9999", cfg.HTTPAddr)
	}
	if cfg.Metrics.Addr != ":7070" {
		t.Errorf("unset --metrics-addr overrode config: %q", cfg.Metrics.Addr)
	}
	if want := "https://slots.example.com/api/google/callback"; cfg.Google.RedirectURI != want {
		t.Errorf("RedirectURI = %q, want %q", cfg.Google.RedirectURI, want)
	}
}

func TestDeriveRedirectURI_KeepsExplicitValue(t *testing.T) {
	cfg := config.Default()
	cfg.BaseURL = "https://slots.example.com"
	cfg.Google.RedirectURI = "https://other.example.com/cb"

	deriveRedirectURI(&cfg)

	if cfg.Google.RedirectURI != "https://other.example.com/cb" {
		t.Errorf("RedirectURI = %q, want explicit value kept", cfg.Google.RedirectURI)
	}
}

func readServeOptions(t *testing.T, cmd *cobra.Command) serveOptions {
	t.Helper()
	f := cmd.Flags()
	var opts serveOptions
	var err error
	if opts.yolo, err = f.GetBool("yolo"); err != nil {
		t.Fatal(err)
	}
	if opts.httpAddr, err = f.GetString("http-addr"); err != nil {
		t.Fatal(err)
	}
	if opts.baseURL, err = f.GetString("base-url"); err != nil {
		t.Fatal(err)
	}
	if opts.metricsEnabled, err = f.GetBool("metrics-enabled"); err != nil {
		t.Fatal(err)
	}
	if opts.metricsAddr, err = f.GetString("metrics-addr"); err != nil {
		t.Fatal(err)
	}
	return opts
}

func TestNewApp_ProvidersFollowConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Microsoft = config.MicrosoftConfig{TenantID: "t", ClientID: "c", ClientSecret: "s"}

	a, err := newApp(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), nil)
	if err != nil {
		t.Fatalf("newApp() error = %v", err)
	}
	defer a.Close()

	if a.graph == nil {
		t.Error("expected graph client")
	}
	if a.delegated != nil || a.store != nil {
		t.Error("google should not be wired without client credentials")
	}
	if err := a.requireDelegated(); err == nil {
		t.Error("requireDelegated() should fail without google")
	}

	deps := a.deps(nil)
	if deps.Linker != nil || deps.Store != nil {
		t.Error("deps should leave google interfaces nil")
	}
	if deps.Events == nil || deps.Availability == nil {
		t.Error("deps should carry the engine and event creator")
	}
}

func TestNewApp_InvalidConfig(t *testing.T) {
	_, err := newApp(context.Background(), config.Default(), slog.New(slog.NewTextHandler(io.Discard, nil)), nil)
	if err == nil {
		t.Fatal("expected error without any provider")
	}
}

func TestNewApp_GoogleWithMemoryStore(t *testing.T) {
	cfg := config.Default()
	cfg.Google = config.GoogleConfig{ClientID: "id", ClientSecret: "secret", RedirectURI: "http://localhost:8080/api/google/callback"}

	a, err := newApp(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), nil)
	if err != nil {
		t.Fatalf("newApp() error = %v", err)
	}
	defer a.Close()

	if a.delegated == nil || a.store == nil {
		t.Fatal("expected google wiring")
	}
	if !strings.Contains(a.delegated.AuthURL("state-1"), "state=state-1") {
		t.Error("AuthURL should carry the state")
	}
	if a.deps(nil).Events != nil {
		t.Error("events should be nil without microsoft")
	}
}
