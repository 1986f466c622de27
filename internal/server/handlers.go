package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/teemow/slotfinder/internal/availability"
	"github.com/teemow/slotfinder/internal/graph"
	"github.com/teemow/slotfinder/internal/logging"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 1 << 20

type handlers struct {
	sc *ServerContext
}

// AvailabilityResponse is the body of GET /api/availability.
type AvailabilityResponse struct {
	Slots []availability.Slot `json:"slots"`
	Count int                 `json:"count"`
}

func (h *handlers) getAvailability(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	rng, err := availability.ParseTimeRange(q.Get("start"), q.Get("end"))
	if err != nil {
		writeError(w, err)
		return
	}

	tz := q.Get("timeZone")
	if tz == "" {
		tz = q.Get("tz")
	}

	req := availability.Request{
		Identity:        IdentityFromContext(r.Context()),
		CalendarID:      q.Get("calendar"),
		Participants:    splitList(q["participants"]),
		Range:           rng,
		IntervalMinutes: availability.ParseInterval(q.Get("interval")),
		TimeZone:        tz,
	}

	slots, err := h.sc.Availability().GetAvailability(r.Context(), req)
	if err != nil {
		h.logFailure(r, "availability", err)
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, AvailabilityResponse{Slots: slots, Count: len(slots)})
}

func (h *handlers) googleAuthURL(w http.ResponseWriter, r *http.Request) {
	identity := IdentityFromContext(r.Context())
	if identity == "" {
		writeJSONError(w, http.StatusUnauthorized, CodeUnauthenticated, "identity required")
		return
	}

	state := identity
	if signer := h.sc.States(); signer != nil {
		signed, err := signer.Sign(identity)
		if err != nil {
			writeError(w, err)
			return
		}
		state = signed
	}

	writeJSON(w, http.StatusOK, map[string]string{"url": h.sc.Linker().AuthURL(state)})
}

func (h *handlers) googleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if e := q.Get("error"); e != "" {
		writeJSONError(w, http.StatusBadRequest, "consent_denied", e)
		return
	}

	code, state := q.Get("code"), q.Get("state")
	if code == "" || state == "" {
		writeJSONError(w, http.StatusBadRequest, CodeInvalidRequest, "code and state are required")
		return
	}

	identity := state
	if signer := h.sc.States(); signer != nil {
		sub, err := signer.Verify(state)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid_state", "state is invalid or expired")
			return
		}
		identity = sub
	}

	if err := h.sc.Linker().Link(r.Context(), identity, code); err != nil {
		h.logFailure(r, "link", err)
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"linked": true})
}

func (h *handlers) googleUnlink(w http.ResponseWriter, r *http.Request) {
	identity := IdentityFromContext(r.Context())
	if identity == "" {
		writeJSONError(w, http.StatusUnauthorized, CodeUnauthenticated, "identity required")
		return
	}

	if err := h.sc.Linker().Unlink(r.Context(), identity); err != nil {
		h.logFailure(r, "unlink", err)
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CreateEventRequest is the body of POST /api/events.
type CreateEventRequest struct {
	// Organizer is the mailbox the event is created in.
	Organizer string `json:"organizer"`
	graph.Event
}

func (h *handlers) createEvent(w http.ResponseWriter, r *http.Request) {
	if h.sc.ReadOnly() {
		writeJSONError(w, http.StatusForbidden, CodeReadOnly, "event creation is disabled")
		return
	}

	var body CreateEventRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&body); err != nil {
		writeJSONError(w, http.StatusBadRequest, CodeInvalidRequest, "invalid JSON body")
		return
	}
	if body.Organizer == "" || body.Subject == "" || body.Start.DateTime == "" || body.End.DateTime == "" {
		writeJSONError(w, http.StatusBadRequest, CodeInvalidRequest, "organizer, subject, start and end are required")
		return
	}

	created, err := h.sc.Events().CreateEvent(r.Context(), body.Organizer, body.Event)
	if err != nil {
		h.logFailure(r, "create_event", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *handlers) logFailure(r *http.Request, op string, err error) {
	level := slog.LevelWarn
	var pe *availability.ProviderError
	if errors.Is(err, availability.ErrNotLinked) || errors.Is(err, availability.ErrInvalidRange) ||
		errors.Is(err, availability.ErrInvalidRequest) {
		level = slog.LevelDebug
	} else if !errors.As(err, &pe) {
		level = slog.LevelError
	}
	h.sc.Logger().Log(r.Context(), level, "request failed",
		logging.Operation(op),
		logging.IdentityHash(IdentityFromContext(r.Context())),
		logging.RequestID(RequestIDFromContext(r.Context())),
		logging.Err(err))
}

// splitList flattens repeated and comma-separated query values.
func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
