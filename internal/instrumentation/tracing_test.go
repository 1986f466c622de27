package instrumentation

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
)

func TestStartProviderSpan(t *testing.T) {
	ctx, span := StartProviderSpan(context.Background(), "google", OperationFreeBusy,
		attribute.Int(SpanAttrParticipants, 2))
	defer span.End()

	if ctx == nil {
		t.Fatal("expected context to be non-nil")
	}
	if span == nil {
		t.Fatal("expected span to be non-nil")
	}

	// Should not panic
	SetSpanError(span, errors.New("boom"))
	SetSpanError(span, nil)
}

func TestStartToolSpan(t *testing.T) {
	_, span := StartToolSpan(context.Background(), "availability_find_slots")
	defer span.End()

	SetSpanSuccess(span)
}

func TestGetTraceID_NoSpan(t *testing.T) {
	if id := GetTraceID(context.Background()); id != "" {
		t.Errorf("expected empty trace id, got %q", id)
	}
}
