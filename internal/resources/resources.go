package resources

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/teemow/slotfinder/internal/availability"
	"github.com/teemow/slotfinder/internal/server"
)

const (
	URISettings   = "slotfinder://settings"
	URILinkStatus = "slotfinder://link-status"

	mimeJSON = "application/json"
)

// linkChecker is satisfied by linkers that can look up a stored credential.
type linkChecker interface {
	CheckLinked(ctx context.Context, identity string) error
}

// Settings is the body of the settings resource.
type Settings struct {
	DefaultTimeZone        string   `json:"defaultTimeZone"`
	MinIntervalMinutes     int      `json:"minIntervalMinutes"`
	DefaultIntervalMinutes int      `json:"defaultIntervalMinutes"`
	MaxIntervalMinutes     int      `json:"maxIntervalMinutes"`
	MaxRangeDays           float64  `json:"maxRangeDays"`
	Providers              []string `json:"providers"`
	ReadOnly               bool     `json:"readOnly"`
}

// LinkStatus is the body of the link-status resource.
type LinkStatus struct {
	Identity string `json:"identity"`
	Linked   bool   `json:"linked"`
}

// RegisterResources adds the slotfinder resources to s. The link-status
// resource is only registered when Google is configured.
func RegisterResources(s *mcpserver.MCPServer, sc *server.ServerContext) error {
	if sc == nil {
		return errors.New("server context is required")
	}

	s.AddResource(
		mcp.NewResource(URISettings, "Slotfinder Settings",
			mcp.WithResourceDescription("Slot length bounds, maximum range, default time zone and configured providers"),
			mcp.WithMIMEType(mimeJSON),
		),
		func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
			return jsonContents(request.Params.URI, settingsFor(sc))
		},
	)

	if sc.Linker() != nil {
		s.AddResource(
			mcp.NewResource(URILinkStatus, "Calendar Link Status",
				mcp.WithResourceDescription("Whether the calling identity has linked a Google calendar"),
				mcp.WithMIMEType(mimeJSON),
			),
			func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
				return handleLinkStatus(ctx, request, sc)
			},
		)
	}
	return nil
}

func settingsFor(sc *server.ServerContext) Settings {
	s := Settings{
		DefaultTimeZone:        sc.DefaultTimeZone(),
		MinIntervalMinutes:     availability.MinIntervalMinutes,
		DefaultIntervalMinutes: availability.DefaultIntervalMinutes,
		MaxIntervalMinutes:     availability.MaxIntervalMinutes,
		MaxRangeDays:           sc.MaxRange().Hours() / 24,
		Providers:              []string{},
		ReadOnly:               sc.ReadOnly(),
	}
	if sc.Linker() != nil {
		s.Providers = append(s.Providers, availability.ProviderGoogle)
	}
	if sc.Events() != nil {
		s.Providers = append(s.Providers, availability.ProviderMicrosoft)
	}
	return s
}

func handleLinkStatus(ctx context.Context, request mcp.ReadResourceRequest, sc *server.ServerContext) ([]mcp.ResourceContents, error) {
	identity := server.IdentityFromContext(ctx)
	if identity == "" {
		return nil, errors.New("caller identity unknown; link status is only available over HTTP with an authenticated caller")
	}
	lc, ok := sc.Linker().(linkChecker)
	if !ok {
		return nil, errors.New("link status is not supported by the configured provider")
	}

	status := LinkStatus{Identity: identity, Linked: true}
	if err := lc.CheckLinked(ctx, identity); err != nil {
		if !errors.Is(err, availability.ErrNotLinked) {
			return nil, fmt.Errorf("failed to check link status: %w", err)
		}
		status.Linked = false
	}
	return jsonContents(request.Params.URI, status)
}

func jsonContents(uri string, v any) ([]mcp.ResourceContents, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s: %w", uri, err)
	}
	return []mcp.ResourceContents{
		&mcp.TextResourceContents{
			URI:      uri,
			MIMEType: mimeJSON,
			Text:     string(data),
		},
	}, nil
}
