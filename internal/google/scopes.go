package google

// DefaultScopes are requested when linking a calendar: read-only calendar
// access for free/busy queries and the email address for display.
var DefaultScopes = []string{
	"https://www.googleapis.com/auth/calendar.readonly",
	"https://www.googleapis.com/auth/userinfo.email",
}
