package availability_tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/teemow/slotfinder/internal/availability"
	"github.com/teemow/slotfinder/internal/graph"
	"github.com/teemow/slotfinder/internal/server"
	"github.com/teemow/slotfinder/internal/tools/common"
)

// Tool names.
const (
	ToolFindSlots   = "availability_find_slots"
	ToolLinkURL     = "calendar_link_url"
	ToolCreateEvent = "calendar_create_event"
)

// RegisterAvailabilityTools registers the tools whose backing services are
// configured on sc.
func RegisterAvailabilityTools(s *mcpserver.MCPServer, sc *server.ServerContext) error {
	if sc == nil {
		return errors.New("server context is required")
	}

	if sc.Availability() != nil {
		findSlotsTool := mcp.NewTool(ToolFindSlots,
			mcp.WithDescription("Find free meeting slots for the caller and a list of participants. "+
				"A slot is free only if no calendar has a busy window overlapping it."),
			mcp.WithString("start",
				mcp.Required(),
				mcp.Description("Range start (RFC3339, e.g. '2026-03-02T09:00:00+05:30')"),
			),
			mcp.WithString("end",
				mcp.Required(),
				mcp.Description("Range end (RFC3339)"),
			),
			mcp.WithNumber("interval",
				mcp.Description("Slot length in minutes, clamped to 5..120 (default: 30)"),
			),
			mcp.WithString("timeZone",
				mcp.Description("IANA time zone label for the results (default: server setting)"),
			),
			mcp.WithString("participants",
				mcp.Description("Comma-separated participant emails, looked up in Microsoft 365"),
			),
			mcp.WithString("calendar",
				mcp.Description("Google calendar ID of the caller (default: 'primary')"),
			),
			mcp.WithString("identity",
				mcp.Description("Caller identity; ignored when the transport supplies one"),
			),
		)
		s.AddTool(findSlotsTool, common.InstrumentedToolHandler(ToolFindSlots, sc,
			func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
				return handleFindSlots(ctx, request, sc)
			}))
	}

	if sc.Linker() != nil {
		linkTool := mcp.NewTool(ToolLinkURL,
			mcp.WithDescription("Get the Google consent URL the caller must visit to link their calendar"),
			mcp.WithString("identity",
				mcp.Description("Caller identity; ignored when the transport supplies one"),
			),
		)
		s.AddTool(linkTool, common.InstrumentedToolHandler(ToolLinkURL, sc,
			func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
				return handleLinkURL(ctx, request, sc)
			}))
	}

	if !sc.ReadOnly() && sc.Events() != nil {
		createEventTool := mcp.NewTool(ToolCreateEvent,
			mcp.WithDescription("Create an event in a Microsoft 365 mailbox and invite attendees"),
			mcp.WithString("organizer",
				mcp.Required(),
				mcp.Description("Mailbox the event is created in"),
			),
			mcp.WithString("subject",
				mcp.Required(),
				mcp.Description("Event subject"),
			),
			mcp.WithString("start",
				mcp.Required(),
				mcp.Description("Start as local date-time without offset, e.g. '2026-03-02T09:00:00'"),
			),
			mcp.WithString("end",
				mcp.Required(),
				mcp.Description("End as local date-time without offset"),
			),
			mcp.WithString("timeZone",
				mcp.Description("Time zone of start and end (default: server setting)"),
			),
			mcp.WithString("attendees",
				mcp.Description("Comma-separated attendee emails"),
			),
			mcp.WithString("body",
				mcp.Description("Plain text description"),
			),
			mcp.WithString("location",
				mcp.Description("Location display name"),
			),
			mcp.WithBoolean("isOnlineMeeting",
				mcp.Description("Create a Teams meeting link (default: false)"),
			),
		)
		s.AddTool(createEventTool, common.InstrumentedToolHandler(ToolCreateEvent, sc,
			func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
				return handleCreateEvent(ctx, request, sc)
			}))
	}

	return nil
}

func handleFindSlots(ctx context.Context, request mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	args := request.GetArguments()

	rng, err := availability.ParseTimeRange(common.StringArg(args, "start"), common.StringArg(args, "end"))
	if err != nil {
		return toolError(err), nil
	}

	req := availability.Request{
		Identity:        common.IdentityFromRequest(ctx, args),
		CalendarID:      common.StringArg(args, "calendar"),
		Participants:    splitEmails(common.StringArg(args, "participants")),
		Range:           rng,
		IntervalMinutes: common.IntArg(args, "interval", 0),
		TimeZone:        common.StringArg(args, "timeZone"),
	}

	slots, err := sc.Availability().GetAvailability(ctx, req)
	if err != nil {
		return toolError(err), nil
	}

	out, err := json.MarshalIndent(server.AvailabilityResponse{Slots: slots, Count: len(slots)}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode slots: %w", err)
	}
	return mcp.NewToolResultText(string(out)), nil
}

func handleLinkURL(ctx context.Context, request mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	identity := common.IdentityFromRequest(ctx, request.GetArguments())
	if identity == "" {
		return mcp.NewToolResultError("identity is required to link a calendar"), nil
	}

	state := identity
	if signer := sc.States(); signer != nil {
		signed, err := signer.Sign(identity)
		if err != nil {
			return nil, fmt.Errorf("failed to sign state: %w", err)
		}
		state = signed
	}

	return mcp.NewToolResultText(fmt.Sprintf(`To link your Google calendar:

1. Visit this URL in your browser:
   %s

2. Sign in and grant read access to your calendar availability.

You only need to do this once. Access is refreshed automatically until you unlink or revoke it.`,
		sc.Linker().AuthURL(state))), nil
}

func handleCreateEvent(ctx context.Context, request mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	args := request.GetArguments()

	organizer := common.StringArg(args, "organizer")
	subject := common.StringArg(args, "subject")
	start := common.StringArg(args, "start")
	end := common.StringArg(args, "end")
	if organizer == "" || subject == "" || start == "" || end == "" {
		return mcp.NewToolResultError("organizer, subject, start and end are required"), nil
	}

	tz := common.StringArg(args, "timeZone")
	if tz == "" {
		tz = sc.DefaultTimeZone()
	}

	ev := graph.Event{
		Subject: subject,
		Start:   graph.DateTimeTimeZone{DateTime: start, TimeZone: tz},
		End:     graph.DateTimeTimeZone{DateTime: end, TimeZone: tz},
	}
	if body := common.StringArg(args, "body"); body != "" {
		ev.Body = &graph.ItemBody{ContentType: "text", Content: body}
	}
	if loc := common.StringArg(args, "location"); loc != "" {
		ev.Location = &graph.Location{DisplayName: loc}
	}
	for _, email := range splitEmails(common.StringArg(args, "attendees")) {
		ev.Attendees = append(ev.Attendees, graph.Attendee{
			EmailAddress: graph.EmailAddress{Address: email},
			Type:         "required",
		})
	}
	if online, ok := args["isOnlineMeeting"].(bool); ok {
		ev.IsOnlineMeeting = online
	}

	created, err := sc.Events().CreateEvent(ctx, organizer, ev)
	if err != nil {
		return toolError(err), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Event created: %s\n", created.Subject)
	fmt.Fprintf(&b, "ID: %s\n", created.ID)
	fmt.Fprintf(&b, "Start: %s (%s)\n", created.Start.DateTime, created.Start.TimeZone)
	fmt.Fprintf(&b, "End: %s (%s)\n", created.End.DateTime, created.End.TimeZone)
	if created.WebLink != "" {
		fmt.Fprintf(&b, "Link: %s\n", created.WebLink)
	}
	if created.OnlineMeeting != nil && created.OnlineMeeting.JoinURL != "" {
		fmt.Fprintf(&b, "Join: %s\n", created.OnlineMeeting.JoinURL)
	}
	return mcp.NewToolResultText(b.String()), nil
}

// toolError renders err with the same codes the HTTP API uses.
func toolError(err error) *mcp.CallToolResult {
	_, code := server.StatusForError(err)
	switch {
	case errors.Is(err, availability.ErrNotLinked):
		return mcp.NewToolResultError(code + ": the Google calendar is not linked. Call " + ToolLinkURL + " to get a consent URL.")
	case availability.IsRefreshFailure(err):
		return mcp.NewToolResultError(code + ": Google access was revoked or expired. Call " + ToolLinkURL + " to link again.")
	}

	var pe *availability.ProviderError
	if errors.As(err, &pe) {
		msg := fmt.Sprintf("%s: %s %s", code, pe.Provider, pe.Reason)
		if pe.Detail != "" {
			msg += " (" + pe.Detail + ")"
		}
		return mcp.NewToolResultError(msg)
	}
	if code == server.CodeInternal {
		return mcp.NewToolResultError(code)
	}
	return mcp.NewToolResultError(code + ": " + err.Error())
}

func splitEmails(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
