// Package services: SchedulerService
//
// This file implements SchedulerService, the application-level component
// that owns the appointment lifecycle: booking with conflict detection,
// rescheduling, lead-time-guarded cancellation, and active-appointment
// lookup. It coordinates two systems of record (the SQL store and the
// external calendar) with a persist-first protocol: the store write always
// precedes synchronization, and a failed synchronization during creation is
// compensated by deleting the just-created row.
//
// The store remains ground truth after its first successful write: calendar
// failures during reschedule and cancel are logged and counted but never
// fail the operation or roll the store back.
//
// Observability: all public methods are OpenTelemetry-instrumented; sync
// failures and compensation orphans are logged with stable field names and
// counted in Prometheus.
package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/go-booking-backend/internal/calendar"
	"github.com/tbourn/go-booking-backend/internal/domain"
	"github.com/tbourn/go-booking-backend/internal/repo"

	// OpenTelemetry
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const (
	// DefaultCancelLeadTime is the minimum notice before an appointment's
	// start for cancellation to be permitted. Exactly this much notice is
	// still allowed; anything strictly less is rejected.
	DefaultCancelLeadTime = 2 * time.Hour

	msgSameContactConflict = "you already have an appointment in this time window"
	msgGenericConflict     = "this time slot is already booked"
)

var (
	// schedOps counts scheduling operations by operation and outcome.
	schedOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "booking_operations_total",
			Help: "Total scheduling engine operations by outcome.",
		},
		[]string{"op", "outcome"},
	)

	// syncFailures counts calendar synchronization failures by operation.
	// Reschedule/cancel failures leave the external calendar stale, so this
	// series is the alerting hook for an external reconciler.
	syncFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "booking_sync_failures_total",
			Help: "Calendar synchronization failures by operation.",
		},
		[]string{"op"},
	)
)

func init() {
	prometheus.MustRegister(schedOps, syncFailures)
}

// CreateAppointmentInput is the validated booking request handed to Create.
type CreateAppointmentInput struct {
	FirstName string
	LastName  string
	Email     string
	Phone     string
	StartAt   time.Time
	EndAt     time.Time
	Kind      domain.AppointmentKind
	Metadata  map[string]any
	Reason    string
}

// RescheduleInput carries the only fields a reschedule may change. Anything
// else a caller sends is dropped before it reaches this type (defense
// against over-posting). Nil fields keep their stored values.
type RescheduleInput struct {
	StartAt *time.Time
	EndAt   *time.Time
	Kind    *domain.AppointmentKind
}

// SchedulerService coordinates the appointment store and the external
// calendar synchronizer.
type SchedulerService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Calendar mirrors appointments into the external calendar.
	Calendar calendar.Client

	// CancelLeadTime overrides DefaultCancelLeadTime when positive.
	CancelLeadTime time.Duration

	// Now is the clock; nil means time.Now. Injected for lead-time tests.
	Now func() time.Time
}

// NewSchedulerService constructs a SchedulerService with default settings.
func NewSchedulerService(db *gorm.DB, cal calendar.Client) *SchedulerService {
	return &SchedulerService{DB: db, Calendar: cal}
}

// Create books a new appointment.
//
// Protocol:
//  1. Conflict pre-check over [StartAt, EndAt) against all active records.
//     A conflict owned by the same requester yields a requester-directed
//     message; any other conflict yields the generic one. Both are
//     KindSlotConflict.
//  2. Persist (store assigns id, required for compensation).
//  3. Mirror into the calendar. On success the event reference is attached
//     to the record; on failure the row is deleted (compensation) and
//     KindSyncFailure is returned; the caller must never see success for a
//     rolled-back booking. A failed compensation leaves an orphan row,
//     logged distinctly for operator reconciliation.
//
// The pre-check is an optimization, not the guarantee: a concurrent booking
// race is caught by the storage-level active-interval constraint and is
// surfaced as the same KindSlotConflict.
func (s *SchedulerService) Create(ctx context.Context, in CreateAppointmentInput) (*domain.Appointment, error) {
	tr := otel.Tracer("services/SchedulerService")
	ctx, span := tr.Start(ctx, "Create",
		trace.WithAttributes(
			attribute.String("appointment.kind", string(in.Kind)),
			attribute.String("appointment.start", in.StartAt.Format(time.RFC3339)),
		),
	)
	defer span.End()

	caser := cases.Title(language.English)
	rec, err := domain.NewAppointment(
		caser.String(strings.ToLower(strings.TrimSpace(in.FirstName))),
		caser.String(strings.ToLower(strings.TrimSpace(in.LastName))),
		in.Email, in.Phone, in.StartAt, in.EndAt, in.Kind, in.Metadata, in.Reason,
	)
	if err != nil {
		schedOps.WithLabelValues("create", "rejected").Inc()
		return nil, newError(KindValidation, err.Error(), err)
	}

	// 1) Conflict pre-check.
	conflicts, err := repo.FindConflicting(ctx, s.DB, rec.StartAt, rec.EndAt, "")
	if err != nil {
		return nil, err
	}
	if len(conflicts) > 0 {
		schedOps.WithLabelValues("create", "conflict").Inc()
		return nil, conflictError(conflicts, rec.Email, rec.Phone)
	}

	// 2) Persist before any external call; the assigned id is needed for
	// compensation.
	created, err := repo.CreateAppointment(ctx, s.DB, rec)
	if err != nil {
		return nil, mapStoreError(err, "create")
	}

	// 3) Mirror into the external calendar.
	eventRef, err := s.Calendar.CreateEvent(ctx, eventFor(created))
	if err != nil {
		syncFailures.WithLabelValues("create").Inc()
		s.compensateCreate(ctx, created.ID, err)
		schedOps.WithLabelValues("create", "sync_failure").Inc()
		return nil, newError(KindSyncFailure, "calendar synchronization failed; the booking was not created", err)
	}

	now := s.now()
	created.CalendarEventRef = eventRef
	created.UpdatedAt = &now
	if err := repo.UpdateAppointment(ctx, s.DB, created.ID, created); err != nil {
		return nil, mapStoreError(err, "create")
	}

	schedOps.WithLabelValues("create", "ok").Inc()
	return created, nil
}

// compensateCreate best-effort deletes the row persisted before a failed
// calendar create. When the delete itself fails the record is orphaned and
// must be reconciled by an operator; that inconsistency is logged distinctly
// from the synchronization failure that triggered it.
func (s *SchedulerService) compensateCreate(ctx context.Context, id string, syncErr error) {
	if _, delErr := repo.DeleteAppointment(ctx, s.DB, id); delErr != nil {
		log.Error().
			Err(delErr).
			AnErr("sync_error", syncErr).
			Str("appointment_id", id).
			Msg("compensation failed: orphan appointment left in store")
		return
	}
	log.Warn().
		Err(syncErr).
		Str("appointment_id", id).
		Msg("calendar create failed; store write rolled back")
}

// Reschedule moves an appointment to a new interval and/or kind. Only those
// fields may change; the requester identity, contact, metadata, and status
// are preserved from the stored record regardless of what the caller sent.
//
// The conflict pre-check runs only when both interval endpoints are supplied
// (the stored record is excluded from the scan); the storage constraint
// remains the backstop either way. A calendar update failure is logged and
// swallowed; the store is the system of record for subsequent reads.
func (s *SchedulerService) Reschedule(ctx context.Context, id string, in RescheduleInput) (*domain.Appointment, error) {
	tr := otel.Tracer("services/SchedulerService")
	ctx, span := tr.Start(ctx, "Reschedule",
		trace.WithAttributes(attribute.String("appointment.id", id)),
	)
	defer span.End()

	existing, err := repo.GetAppointment(ctx, s.DB, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, newError(KindNotFound, "appointment not found", err)
		}
		return nil, err
	}

	updated := *existing
	if in.StartAt != nil {
		updated.StartAt = *in.StartAt
	}
	if in.EndAt != nil {
		updated.EndAt = *in.EndAt
	}
	if in.Kind != nil {
		updated.Kind = *in.Kind
	}
	if !updated.EndAt.After(updated.StartAt) {
		schedOps.WithLabelValues("reschedule", "rejected").Inc()
		return nil, newError(KindValidation, domain.ErrInvalidInterval.Error(), domain.ErrInvalidInterval)
	}
	if !updated.Kind.Valid() {
		schedOps.WithLabelValues("reschedule", "rejected").Inc()
		return nil, newError(KindValidation, domain.ErrInvalidKind.Error(), domain.ErrInvalidKind)
	}

	if in.StartAt != nil && in.EndAt != nil {
		conflicts, err := repo.FindConflicting(ctx, s.DB, updated.StartAt, updated.EndAt, id)
		if err != nil {
			return nil, err
		}
		if len(conflicts) > 0 {
			schedOps.WithLabelValues("reschedule", "conflict").Inc()
			return nil, conflictError(conflicts, existing.Email, existing.Phone)
		}
	}

	now := s.now()
	updated.UpdatedAt = &now
	if err := repo.UpdateAppointment(ctx, s.DB, id, &updated); err != nil {
		return nil, mapStoreError(err, "reschedule")
	}

	// Store committed: calendar divergence from here on is accepted as
	// recoverable secondary-system lag, never a failed reschedule.
	if existing.CalendarEventRef != "" {
		if err := s.Calendar.UpdateEvent(ctx, existing.CalendarEventRef, eventFor(&updated)); err != nil {
			syncFailures.WithLabelValues("reschedule").Inc()
			log.Error().
				Err(err).
				Str("appointment_id", id).
				Str("event_ref", existing.CalendarEventRef).
				Msg("calendar update failed after reschedule; external calendar is stale")
		}
	}

	schedOps.WithLabelValues("reschedule", "ok").Inc()
	return &updated, nil
}

// Cancel marks an appointment cancelled, subject to the lead-time rule:
// cancellation must happen no later than CancelLeadTime before the start
// (exactly the lead time is still allowed). Terminal records are rejected.
//
// The store update commits the cancellation; a calendar delete failure
// afterwards is logged and swallowed.
func (s *SchedulerService) Cancel(ctx context.Context, id string) error {
	tr := otel.Tracer("services/SchedulerService")
	ctx, span := tr.Start(ctx, "Cancel",
		trace.WithAttributes(attribute.String("appointment.id", id)),
	)
	defer span.End()

	existing, err := repo.GetAppointment(ctx, s.DB, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return newError(KindNotFound, "appointment not found", err)
		}
		return err
	}

	if existing.Status.Terminal() {
		schedOps.WithLabelValues("cancel", "rejected").Inc()
		return newError(KindCancellationRejected, "appointment is already "+string(existing.Status), nil)
	}
	now := s.now()
	if existing.StartAt.Sub(now) < s.leadTime() {
		schedOps.WithLabelValues("cancel", "rejected").Inc()
		return newError(KindCancellationRejected, "cancellation requires at least "+s.leadTime().String()+" notice", nil)
	}

	updated := *existing
	updated.Status = domain.StatusCancelled
	updated.UpdatedAt = &now
	if err := repo.UpdateAppointment(ctx, s.DB, id, &updated); err != nil {
		return mapStoreError(err, "cancel")
	}

	if existing.CalendarEventRef != "" {
		if err := s.Calendar.DeleteEvent(ctx, existing.CalendarEventRef); err != nil {
			syncFailures.WithLabelValues("cancel").Inc()
			log.Error().
				Err(err).
				Str("appointment_id", id).
				Str("event_ref", existing.CalendarEventRef).
				Msg("calendar delete failed after cancellation; external calendar is stale")
		}
	}

	schedOps.WithLabelValues("cancel", "ok").Inc()
	return nil
}

// ListActive returns the page of active appointments (scheduled or
// confirmed) whose email or phone equals the given contact, most-recent-start
// first, plus the total count. It is a pass-through to the store; it shares
// the active-status set with conflict detection by construction.
func (s *SchedulerService) ListActive(ctx context.Context, emailOrPhone string, page, pageSize int) ([]domain.Appointment, int64, error) {
	tr := otel.Tracer("services/SchedulerService")
	ctx, span := tr.Start(ctx, "ListActive",
		trace.WithAttributes(
			attribute.Int("page", page),
			attribute.Int("page_size", pageSize),
		),
	)
	defer span.End()

	if strings.TrimSpace(emailOrPhone) == "" {
		return nil, 0, newError(KindValidation, "contact is required", nil)
	}
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	total, err := repo.CountActiveByContact(ctx, s.DB, emailOrPhone)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.Appointment{}, 0, nil
	}

	items, err := repo.ListActiveByContact(ctx, s.DB, emailOrPhone, offset, pageSize)
	return items, total, err
}

// Get fetches one appointment by id.
func (s *SchedulerService) Get(ctx context.Context, id string) (*domain.Appointment, error) {
	a, err := repo.GetAppointment(ctx, s.DB, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, newError(KindNotFound, "appointment not found", err)
		}
		return nil, err
	}
	return a, nil
}

// conflictError picks the caller-facing message: when any conflicting record
// belongs to the same requester (email case-insensitive, phone exact) the
// message is requester-directed, otherwise generic. The kind is uniform.
func conflictError(conflicts []domain.Appointment, email, phone string) *Error {
	for i := range conflicts {
		if (email != "" && conflicts[i].HasContact(email)) ||
			(phone != "" && conflicts[i].HasContact(phone)) {
			return newError(KindSlotConflict, msgSameContactConflict, nil)
		}
	}
	return newError(KindSlotConflict, msgGenericConflict, nil)
}

// mapStoreError translates storage sentinels into the taxonomy. A lost
// booking race (the active-interval constraint) must look identical to a
// pre-check conflict; other constraint breakage is its own kind.
func mapStoreError(err error, op string) error {
	switch {
	case errors.Is(err, repo.ErrIntervalTaken):
		schedOps.WithLabelValues(op, "conflict").Inc()
		return newError(KindSlotConflict, msgGenericConflict, err)
	case errors.Is(err, repo.ErrConstraint):
		schedOps.WithLabelValues(op, "rejected").Inc()
		return newError(KindConstraintViolation, "the appointment violates a storage constraint", err)
	case errors.Is(err, repo.ErrNotFound):
		return newError(KindNotFound, "appointment not found", err)
	default:
		return err
	}
}

// eventFor builds the calendar payload mirrored for an appointment.
func eventFor(a *domain.Appointment) calendar.Event {
	return calendar.Event{
		Title:       string(a.Kind) + " - " + a.FirstName + " " + a.LastName,
		Description: a.Reason,
		Start:       a.StartAt,
		End:         a.EndAt,
		Attendee:    a.Email,
	}
}

// now returns the injected clock or the wall clock, in UTC.
func (s *SchedulerService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// leadTime returns the configured cancellation lead time.
func (s *SchedulerService) leadTime() time.Duration {
	if s.CancelLeadTime > 0 {
		return s.CancelLeadTime
	}
	return DefaultCancelLeadTime
}
