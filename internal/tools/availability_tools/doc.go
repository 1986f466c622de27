// Package availability_tools exposes availability lookup, calendar linking
// and event creation as MCP tools.
//
// Tools:
//   - availability_find_slots: free slots across the caller's Google
//     calendar and the participants' Microsoft calendars
//   - calendar_link_url: consent URL for linking a Google calendar
//   - calendar_create_event: create a Microsoft calendar event (not
//     registered in read-only mode)
//
// Over HTTP the caller's identity comes from the request; over stdio it is
// taken from the "identity" argument.
package availability_tools
