// Package domain defines the persistence model for appointments. The types
// here are mapped with GORM and form the core data layer of the booking
// application: the Appointment record, its status state machine, the closed
// set of appointment kinds, and the shared interval-overlap predicate used
// by both SQL conflict queries and in-memory checks.
package domain

import (
	"errors"
	"strings"
	"time"

	"gorm.io/datatypes"
)

// AppointmentStatus is the lifecycle state of an appointment.
//
// Lifecycle: records are created as StatusScheduled, may move to
// StatusConfirmed, and end in one of the terminal states StatusCancelled or
// StatusCompleted. Terminal states permit no further transitions.
type AppointmentStatus string

const (
	StatusScheduled AppointmentStatus = "scheduled"
	StatusConfirmed AppointmentStatus = "confirmed"
	StatusCancelled AppointmentStatus = "cancelled"
	StatusCompleted AppointmentStatus = "completed"
)

// ActiveStatuses is the single authoritative set of statuses that count
// toward conflict detection and active-appointment listings. The SQL conflict
// query and every in-memory predicate must use this same set.
var ActiveStatuses = []AppointmentStatus{StatusScheduled, StatusConfirmed}

// Active reports whether the status participates in conflict detection.
func (s AppointmentStatus) Active() bool {
	return s == StatusScheduled || s == StatusConfirmed
}

// Terminal reports whether the status permits no further transitions.
func (s AppointmentStatus) Terminal() bool {
	return s == StatusCancelled || s == StatusCompleted
}

// CanTransitionTo reports whether the state machine allows moving from s to
// next. Self-transitions are not allowed; terminal states allow nothing.
func (s AppointmentStatus) CanTransitionTo(next AppointmentStatus) bool {
	switch s {
	case StatusScheduled:
		return next == StatusConfirmed || next == StatusCancelled || next == StatusCompleted
	case StatusConfirmed:
		return next == StatusCancelled || next == StatusCompleted
	default:
		return false
	}
}

// AppointmentKind is the closed enumeration of appointment categories.
type AppointmentKind string

const (
	KindConsultation AppointmentKind = "consultation"
	KindFollowUp     AppointmentKind = "follow_up"
	KindEmergency    AppointmentKind = "emergency"
	KindRoutineCheck AppointmentKind = "routine_check"
)

// Valid reports whether k is a member of the closed kind enumeration.
func (k AppointmentKind) Valid() bool {
	switch k {
	case KindConsultation, KindFollowUp, KindEmergency, KindRoutineCheck:
		return true
	}
	return false
}

// Appointment represents a booked time slot for a requester. The interval is
// half-open: [StartAt, EndAt). Two active appointments may never overlap.
//
// Fields:
//   - ID: UUID primary key (char(36)), assigned by the store on creation.
//   - FirstName / LastName: requester name.
//   - Email / Phone: contact channels; at least one must be present
//     (enforced by a CHECK constraint and by validation in the engine).
//   - StartAt / EndAt: the half-open interval; EndAt must be strictly after
//     StartAt. A partial unique index over (start_at, end_at) for active
//     statuses is the storage-level backstop against double booking.
//   - Kind: closed category enumeration.
//   - Status: lifecycle status, see AppointmentStatus.
//   - Metadata: opaque structured payload; passed through unmodified and
//     never exposed on external responses (json:"-").
//   - Reason: optional human-readable booking reason.
//   - CalendarEventRef: external calendar event id; written only by the
//     scheduling engine after a successful synchronization call.
//   - CreatedAt: immutable creation timestamp (UTC).
//   - UpdatedAt: nil until the first mutation; the engine sets it on every
//     mutation (GORM auto-update is disabled so the engine stays the owner).
type Appointment struct {
	ID               string            `json:"id"                 gorm:"type:char(36);primaryKey"`
	FirstName        string            `json:"first_name"         gorm:"type:varchar(100);not null"`
	LastName         string            `json:"last_name"          gorm:"type:varchar(100);not null"`
	Email            string            `json:"email,omitempty"    gorm:"type:varchar(255);index:idx_appt_email;check:chk_appt_contact,(email <> '' OR phone <> '')"`
	Phone            string            `json:"phone,omitempty"    gorm:"type:varchar(32);index:idx_appt_phone"`
	StartAt          time.Time         `json:"start_at"           gorm:"not null;index:idx_appt_interval,priority:1"`
	EndAt            time.Time         `json:"end_at"             gorm:"not null;index:idx_appt_interval,priority:2;check:chk_appt_interval,end_at > start_at"`
	Kind             AppointmentKind   `json:"kind"               gorm:"type:varchar(32);not null"`
	Status           AppointmentStatus `json:"status"             gorm:"type:varchar(16);not null;default:'scheduled';index"`
	Metadata         datatypes.JSONMap `json:"-"`
	Reason           string            `json:"reason,omitempty"   gorm:"type:text"`
	CalendarEventRef string            `json:"calendar_event_ref,omitempty" gorm:"type:varchar(255)"`
	CreatedAt        time.Time         `json:"created_at"         gorm:"<-:create"`
	UpdatedAt        *time.Time        `json:"updated_at,omitempty" gorm:"autoUpdateTime:false"`
}

// TableName returns the database table name for Appointment.
func (Appointment) TableName() string { return "appointments" }

// Validation errors returned by NewAppointment and Validate. The engine wraps
// these into its caller-facing validation error kind.
var (
	ErrInvalidInterval = errors.New("end time must be strictly after start time")
	ErrMissingContact  = errors.New("at least one of email or phone is required")
	ErrMissingName     = errors.New("first and last name are required")
	ErrInvalidKind     = errors.New("unknown appointment kind")
)

// NewAppointment builds an unpersisted record from request data, applying the
// data-model invariants. The returned record has no ID, no timestamps, and
// status scheduled; the store assigns the rest on creation.
//
// This is the only constructor for request-shaped input. Records loaded from
// the store are already fully typed and need no counterpart.
func NewAppointment(firstName, lastName, email, phone string, startAt, endAt time.Time, kind AppointmentKind, metadata map[string]any, reason string) (*Appointment, error) {
	a := &Appointment{
		FirstName: strings.TrimSpace(firstName),
		LastName:  strings.TrimSpace(lastName),
		Email:     strings.TrimSpace(email),
		Phone:     strings.TrimSpace(phone),
		StartAt:   startAt,
		EndAt:     endAt,
		Kind:      kind,
		Status:    StatusScheduled,
		Metadata:  datatypes.JSONMap(metadata),
		Reason:    strings.TrimSpace(reason),
	}
	if err := a.Validate(); err != nil {
		return nil, err
	}
	return a, nil
}

// Validate checks the data-model invariants that must hold for every record:
// strictly positive interval, at least one contact channel, non-empty
// requester name, and a known kind.
func (a *Appointment) Validate() error {
	if a.FirstName == "" || a.LastName == "" {
		return ErrMissingName
	}
	if a.Email == "" && a.Phone == "" {
		return ErrMissingContact
	}
	if !a.EndAt.After(a.StartAt) {
		return ErrInvalidInterval
	}
	if !a.Kind.Valid() {
		return ErrInvalidKind
	}
	return nil
}

// HasContact reports whether the given value matches either contact channel.
// Email comparison is case-insensitive; phone comparison is exact.
func (a *Appointment) HasContact(emailOrPhone string) bool {
	v := strings.TrimSpace(emailOrPhone)
	if v == "" {
		return false
	}
	if a.Email != "" && strings.EqualFold(a.Email, v) {
		return true
	}
	return a.Phone != "" && a.Phone == v
}

// Overlaps is the single shared conflict predicate: half-open intervals
// [aStart, aEnd) and [bStart, bEnd) overlap iff aStart < bEnd && aEnd > bStart.
// Touching at a boundary (one ends exactly when the other starts) is not a
// conflict. The SQL conflict query in the repo must mirror this exactly.
func Overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && aEnd.After(bStart)
}

// OverlapsInterval reports whether the appointment's interval overlaps the
// given half-open interval.
func (a *Appointment) OverlapsInterval(start, end time.Time) bool {
	return Overlaps(a.StartAt, a.EndAt, start, end)
}
