package graph

// DateTimeTimeZone is Graph's wall-clock time with a zone name.
type DateTimeTimeZone struct {
	DateTime string `json:"dateTime"`
	TimeZone string `json:"timeZone"`
}

type scheduleRequest struct {
	Schedules                []string         `json:"schedules"`
	StartTime                DateTimeTimeZone `json:"startTime"`
	EndTime                  DateTimeTimeZone `json:"endTime"`
	AvailabilityViewInterval int              `json:"availabilityViewInterval"`
}

type scheduleResponse struct {
	Value []scheduleInformation `json:"value"`
}

type scheduleInformation struct {
	ScheduleID    string         `json:"scheduleId"`
	ScheduleItems []scheduleItem `json:"scheduleItems"`
	Error         *freeBusyError `json:"error,omitempty"`
}

type scheduleItem struct {
	Status string           `json:"status"`
	Start  DateTimeTimeZone `json:"start"`
	End    DateTimeTimeZone `json:"end"`
}

type freeBusyError struct {
	Message      string `json:"message"`
	ResponseCode string `json:"responseCode"`
}

// Event is the payload for creating a calendar event.
type Event struct {
	Subject         string           `json:"subject"`
	Body            *ItemBody        `json:"body,omitempty"`
	Start           DateTimeTimeZone `json:"start"`
	End             DateTimeTimeZone `json:"end"`
	Location        *Location        `json:"location,omitempty"`
	Attendees       []Attendee       `json:"attendees,omitempty"`
	IsOnlineMeeting bool             `json:"isOnlineMeeting,omitempty"`
	// TransactionID makes retried creates idempotent; filled in when empty.
	TransactionID string `json:"transactionId,omitempty"`
}

// ItemBody is an event description.
type ItemBody struct {
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

// Location names where an event takes place.
type Location struct {
	DisplayName string `json:"displayName"`
}

// Attendee is an event invitee. Type is "required", "optional" or "resource".
type Attendee struct {
	EmailAddress EmailAddress `json:"emailAddress"`
	Type         string       `json:"type,omitempty"`
}

// EmailAddress is a mailbox with an optional display name.
type EmailAddress struct {
	Address string `json:"address"`
	Name    string `json:"name,omitempty"`
}

// CreatedEvent is the subset of the created event returned to callers.
type CreatedEvent struct {
	ID            string           `json:"id"`
	Subject       string           `json:"subject"`
	WebLink       string           `json:"webLink"`
	Start         DateTimeTimeZone `json:"start"`
	End           DateTimeTimeZone `json:"end"`
	OnlineMeeting *OnlineMeeting   `json:"onlineMeeting,omitempty"`
}

// OnlineMeeting holds the join link of a Teams meeting.
type OnlineMeeting struct {
	JoinURL string `json:"joinUrl"`
}
