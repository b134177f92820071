// Package calendar defines the narrow contract the scheduling engine uses to
// mirror appointments into an external calendar, plus a REST implementation.
//
// The synchronizer is an external collaborator: it may fail or be slow, and
// the engine treats its failures according to the operation (compensating
// rollback on create, log-and-continue on reschedule/cancel). Deleting an
// event that no longer exists is not an error; implementations must absorb
// that case so compensation and cancellation stay idempotent.
package calendar

import (
	"context"
	"time"
)

// Event is the provider-independent payload sent to the external calendar.
type Event struct {
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	Attendee    string    `json:"attendee,omitempty"` // requester email when present
}

// Client is the synchronizer contract consumed by the scheduling engine.
//
// Implementations must be safe for concurrent use, honor the context for
// cancellation, and apply a bounded timeout per call; a timeout surfaces as
// an ordinary error and the engine treats it as a synchronization failure.
type Client interface {
	// CreateEvent mirrors a new appointment and returns the provider's event
	// reference, which the engine persists on the record.
	CreateEvent(ctx context.Context, ev Event) (eventRef string, err error)

	// UpdateEvent replaces the event payload at eventRef.
	UpdateEvent(ctx context.Context, eventRef string, ev Event) error

	// DeleteEvent removes the event at eventRef. Deleting a missing or
	// already-deleted event must succeed.
	DeleteEvent(ctx context.Context, eventRef string) error
}
