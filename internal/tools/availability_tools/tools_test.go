package availability_tools

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teemow/slotfinder/internal/availability"
	"github.com/teemow/slotfinder/internal/graph"
	"github.com/teemow/slotfinder/internal/server"
)

type fakeAvailability struct {
	got   availability.Request
	slots []availability.Slot
	err   error
}

func (f *fakeAvailability) GetAvailability(_ context.Context, req availability.Request) ([]availability.Slot, error) {
	f.got = req
	return f.slots, f.err
}

type fakeLinker struct{}

func (fakeLinker) AuthURL(state string) string {
	return "https://accounts.example.com/auth?state=" + url.QueryEscape(state)
}
func (fakeLinker) Link(context.Context, string, string) error { return nil }
func (fakeLinker) Unlink(context.Context, string) error       { return nil }

type fakeEvents struct {
	organizer string
	event     graph.Event
	err       error
}

func (f *fakeEvents) CreateEvent(_ context.Context, organizer string, ev graph.Event) (*graph.CreatedEvent, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.organizer, f.event = organizer, ev
	return &graph.CreatedEvent{
		ID:            "evt-1",
		Subject:       ev.Subject,
		Start:         ev.Start,
		End:           ev.End,
		WebLink:       "https://outlook.example.com/evt-1",
		OnlineMeeting: &graph.OnlineMeeting{JoinURL: "https://teams.example.com/join"},
	}, nil
}

func newServerContext(t *testing.T, deps server.Deps) *server.ServerContext {
	t.Helper()
	deps.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	sc := server.NewServerContext(context.Background(), deps)
	t.Cleanup(func() { _ = sc.Shutdown() })
	return sc
}

func callRequest(name string, args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotNil(t, result)
	require.NotEmpty(t, result.Content)
	text, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected text content, got %T", result.Content[0])
	return text.Text
}

func listToolNames(t *testing.T, s *mcpserver.MCPServer) string {
	t.Helper()
	resp := s.HandleMessage(context.Background(), json.RawMessage(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`))
	raw, err := json.Marshal(resp)
	require.NoError(t, err)
	return string(raw)
}

func TestRegisterAvailabilityTools(t *testing.T) {
	tests := []struct {
		name    string
		deps    server.Deps
		want    []string
		notWant []string
	}{
		{
			name: "everything configured",
			deps: server.Deps{Availability: &fakeAvailability{}, Linker: fakeLinker{}, Events: &fakeEvents{}},
			want: []string{ToolFindSlots, ToolLinkURL, ToolCreateEvent},
		},
		{
			name:    "read only hides event creation",
			deps:    server.Deps{Availability: &fakeAvailability{}, Linker: fakeLinker{}, Events: &fakeEvents{}, ReadOnly: true},
			want:    []string{ToolFindSlots, ToolLinkURL},
			notWant: []string{ToolCreateEvent},
		},
		{
			name:    "microsoft only",
			deps:    server.Deps{Availability: &fakeAvailability{}, Events: &fakeEvents{}},
			want:    []string{ToolFindSlots, ToolCreateEvent},
			notWant: []string{ToolLinkURL},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := mcpserver.NewMCPServer("test-server", "1.0.0", mcpserver.WithToolCapabilities(true))
			require.NoError(t, RegisterAvailabilityTools(s, newServerContext(t, tt.deps)))

			names := listToolNames(t, s)
			for _, n := range tt.want {
				assert.Contains(t, names, `"name":"`+n+`"`)
			}
			for _, n := range tt.notWant {
				assert.NotContains(t, names, `"name":"`+n+`"`)
			}
		})
	}
}

func TestRegisterAvailabilityTools_NilContext(t *testing.T) {
	s := mcpserver.NewMCPServer("test-server", "1.0.0")
	assert.Error(t, RegisterAvailabilityTools(s, nil))
}

func TestHandleFindSlots(t *testing.T) {
	start := time.Date(2026, 3, 2, 3, 30, 0, 0, time.UTC)
	svc := &fakeAvailability{slots: []availability.Slot{
		{Start: start, End: start.Add(30 * time.Minute), TimeZone: "Asia/Kolkata"},
		{Start: start.Add(30 * time.Minute), End: start.Add(time.Hour), TimeZone: "Asia/Kolkata"},
	}}
	sc := newServerContext(t, server.Deps{Availability: svc})

	result, err := handleFindSlots(context.Background(), callRequest(ToolFindSlots, map[string]any{
		"start":        "2026-03-02T09:00:00+05:30",
		"end":          "2026-03-02T10:00:00+05:30",
		"interval":     float64(30),
		"participants": "a@example.com, b@example.com",
		"identity":     "user-1",
	}), sc)
	require.NoError(t, err)
	require.False(t, result.IsError, resultText(t, result))

	var resp server.AvailabilityResponse
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &resp))
	assert.Equal(t, 2, resp.Count)
	assert.True(t, resp.Slots[0].Start.Equal(start))

	assert.Equal(t, "user-1", svc.got.Identity)
	assert.Equal(t, []string{"a@example.com", "b@example.com"}, svc.got.Participants)
	assert.Equal(t, 30, svc.got.IntervalMinutes)
	assert.True(t, svc.got.Range.Start.Equal(start))
}

func TestHandleFindSlots_ContextIdentity(t *testing.T) {
	svc := &fakeAvailability{}
	sc := newServerContext(t, server.Deps{Availability: svc})
	ctx := server.WithIdentity(context.Background(), "from-token")

	_, err := handleFindSlots(ctx, callRequest(ToolFindSlots, map[string]any{
		"start":    "2026-03-02T09:00:00Z",
		"end":      "2026-03-02T10:00:00Z",
		"identity": "spoofed",
	}), sc)
	require.NoError(t, err)
	assert.Equal(t, "from-token", svc.got.Identity)
}

func TestHandleFindSlots_Errors(t *testing.T) {
	tests := []struct {
		name     string
		args     map[string]any
		err      error
		contains string
	}{
		{
			name:     "bad range",
			args:     map[string]any{"start": "tomorrow", "end": "2026-03-02T10:00:00Z"},
			contains: server.CodeInvalidRange,
		},
		{
			name:     "not linked",
			args:     map[string]any{"start": "2026-03-02T09:00:00Z", "end": "2026-03-02T10:00:00Z"},
			err:      availability.ErrNotLinked,
			contains: ToolLinkURL,
		},
		{
			name: "refresh rejected",
			args: map[string]any{"start": "2026-03-02T09:00:00Z", "end": "2026-03-02T10:00:00Z"},
			err: availability.NewProviderError(availability.ProviderGoogle,
				availability.ReasonRefreshFailed, 400, nil),
			contains: server.CodeRelinkRequired,
		},
		{
			name: "timeout",
			args: map[string]any{"start": "2026-03-02T09:00:00Z", "end": "2026-03-02T10:00:00Z"},
			err: availability.NewProviderError(availability.ProviderMicrosoft,
				availability.ReasonTimeout, 0, context.DeadlineExceeded),
			contains: "provider_timeout: microsoft timeout",
		},
		{
			name: "upstream detail",
			args: map[string]any{"start": "2026-03-02T09:00:00Z", "end": "2026-03-02T10:00:00Z"},
			err: availability.NewProviderError(availability.ProviderMicrosoft,
				availability.ReasonUpstream, 0, nil).WithDetail("mailbox not found"),
			contains: "(mailbox not found)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sc := newServerContext(t, server.Deps{Availability: &fakeAvailability{err: tt.err}})

			result, err := handleFindSlots(context.Background(), callRequest(ToolFindSlots, tt.args), sc)
			require.NoError(t, err)
			assert.True(t, result.IsError)
			assert.Contains(t, resultText(t, result), tt.contains)
		})
	}
}

func TestHandleLinkURL(t *testing.T) {
	signer := server.NewStateSigner("secret")
	sc := newServerContext(t, server.Deps{Linker: fakeLinker{}, States: signer})

	result, err := handleLinkURL(context.Background(), callRequest(ToolLinkURL, nil), sc)
	require.NoError(t, err)
	assert.True(t, result.IsError)

	result, err = handleLinkURL(context.Background(), callRequest(ToolLinkURL, map[string]any{"identity": "user-1"}), sc)
	require.NoError(t, err)
	require.False(t, result.IsError)

	text := resultText(t, result)
	i := strings.Index(text, "https://")
	require.GreaterOrEqual(t, i, 0)
	u, err := url.Parse(strings.Fields(text[i:])[0])
	require.NoError(t, err)

	sub, err := signer.Verify(u.Query().Get("state"))
	require.NoError(t, err)
	assert.Equal(t, "user-1", sub)
}

func TestHandleCreateEvent(t *testing.T) {
	events := &fakeEvents{}
	sc := newServerContext(t, server.Deps{Events: events, DefaultTimeZone: "Asia/Kolkata"})

	result, err := handleCreateEvent(context.Background(), callRequest(ToolCreateEvent, map[string]any{
		"organizer":       "room@example.com",
		"subject":         "Planning",
		"start":           "2026-03-02T09:00:00",
		"end":             "2026-03-02T09:30:00",
		"attendees":       "a@example.com,b@example.com",
		"body":            "agenda",
		"location":        "Room 1",
		"isOnlineMeeting": true,
	}), sc)
	require.NoError(t, err)
	require.False(t, result.IsError, resultText(t, result))

	assert.Equal(t, "room@example.com", events.organizer)
	assert.Equal(t, "Asia/Kolkata", events.event.Start.TimeZone)
	assert.Len(t, events.event.Attendees, 2)
	assert.Equal(t, "required", events.event.Attendees[1].Type)
	assert.Equal(t, "agenda", events.event.Body.Content)
	assert.Equal(t, "Room 1", events.event.Location.DisplayName)
	assert.True(t, events.event.IsOnlineMeeting)

	text := resultText(t, result)
	assert.Contains(t, text, "ID: evt-1")
	assert.Contains(t, text, "Join: https://teams.example.com/join")
}

func TestHandleCreateEvent_Validation(t *testing.T) {
	events := &fakeEvents{}
	sc := newServerContext(t, server.Deps{Events: events})

	result, err := handleCreateEvent(context.Background(), callRequest(ToolCreateEvent, map[string]any{
		"subject": "Planning",
	}), sc)
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Empty(t, events.organizer)
}

func TestHandleCreateEvent_ProviderError(t *testing.T) {
	events := &fakeEvents{err: availability.NewProviderError(availability.ProviderMicrosoft,
		availability.ReasonUnauthorized, 403, nil)}
	sc := newServerContext(t, server.Deps{Events: events})

	result, err := handleCreateEvent(context.Background(), callRequest(ToolCreateEvent, map[string]any{
		"organizer": "room@example.com",
		"subject":   "Planning",
		"start":     "2026-03-02T09:00:00",
		"end":       "2026-03-02T09:30:00",
	}), sc)
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "microsoft unauthorized")
}

func TestSplitEmails(t *testing.T) {
	assert.Nil(t, splitEmails(""))
	assert.Equal(t, []string{"a@x", "b@x"}, splitEmails(" a@x ,, b@x "))
}
