package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-booking-backend/internal/calendar"
	"github.com/tbourn/go-booking-backend/internal/domain"
	"github.com/tbourn/go-booking-backend/internal/repo"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:schedsvc_%s?mode=memory&cache=shared", uuid.NewString())

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

// fakeCalendar records synchronizer calls and fails on demand.
type fakeCalendar struct {
	mu sync.Mutex

	createErr error
	updateErr error
	deleteErr error

	created []calendar.Event
	updated map[string]calendar.Event
	deleted []string
}

func (f *fakeCalendar) CreateEvent(_ context.Context, ev calendar.Event) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return "", f.createErr
	}
	f.created = append(f.created, ev)
	return fmt.Sprintf("evt-%d", len(f.created)), nil
}

func (f *fakeCalendar) UpdateEvent(_ context.Context, ref string, ev calendar.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return f.updateErr
	}
	if f.updated == nil {
		f.updated = make(map[string]calendar.Event)
	}
	f.updated[ref] = ev
	return nil
}

func (f *fakeCalendar) DeleteEvent(_ context.Context, ref string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deleted = append(f.deleted, ref)
	return nil
}

func at(h, m int) time.Time {
	return time.Date(2025, 7, 1, h, m, 0, 0, time.UTC)
}

func input(start, end time.Time) CreateAppointmentInput {
	return CreateAppointmentInput{
		FirstName: "ada",
		LastName:  "lovelace",
		Email:     "ada@example.com",
		StartAt:   start,
		EndAt:     end,
		Kind:      domain.KindConsultation,
		Metadata:  map[string]any{"source": "web"},
	}
}

func newSvc(t *testing.T) (*SchedulerService, *fakeCalendar, *gorm.DB) {
	t.Helper()
	db := newTestDB(t)
	cal := &fakeCalendar{}
	return NewSchedulerService(db, cal), cal, db
}

func kindOfOrFail(t *testing.T, err error, want ErrorKind) *Error {
	t.Helper()
	var e *Error
	if !errors.As(err, &e) {
		t.Fatalf("expected *services.Error, got %v", err)
	}
	if e.Kind != want {
		t.Fatalf("kind = %s, want %s (err: %v)", e.Kind, want, err)
	}
	return e
}

func TestCreate_SuccessAttachesEventRef(t *testing.T) {
	svc, cal, db := newSvc(t)
	ctx := context.Background()

	got, err := svc.Create(ctx, input(at(10, 0), at(11, 0)))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if got.ID == "" || got.CalendarEventRef == "" {
		t.Fatalf("missing server-assigned fields: %+v", got)
	}
	if got.FirstName != "Ada" || got.LastName != "Lovelace" {
		t.Fatalf("requester name not normalized: %q %q", got.FirstName, got.LastName)
	}
	if got.Status != domain.StatusScheduled {
		t.Fatalf("status = %s, want scheduled", got.Status)
	}
	if got.UpdatedAt == nil {
		t.Fatalf("UpdatedAt not set after event attachment")
	}

	// Round-trip: the persisted row carries the event reference.
	back, err := repo.GetAppointment(ctx, db, got.ID)
	if err != nil {
		t.Fatalf("GetAppointment: %v", err)
	}
	if back.CalendarEventRef != got.CalendarEventRef {
		t.Fatalf("event ref not persisted: %+v", back)
	}
	if back.Metadata["source"] != "web" {
		t.Fatalf("metadata not passed through: %+v", back.Metadata)
	}

	if len(cal.created) != 1 || !cal.created[0].Start.Equal(at(10, 0)) || !cal.created[0].End.Equal(at(11, 0)) {
		t.Fatalf("calendar payload mismatch: %+v", cal.created)
	}
}

func TestCreate_OverlapConflictMessages(t *testing.T) {
	svc, _, _ := newSvc(t)
	ctx := context.Background()

	if _, err := svc.Create(ctx, input(at(10, 0), at(11, 0))); err != nil {
		t.Fatalf("seed create: %v", err)
	}

	// Same contact: requester-directed message.
	same := input(at(10, 30), at(11, 30))
	_, err := svc.Create(ctx, same)
	e := kindOfOrFail(t, err, KindSlotConflict)
	if e.Message != msgSameContactConflict {
		t.Fatalf("message = %q, want same-contact variant", e.Message)
	}

	// Different contact: generic message, same kind.
	other := input(at(10, 30), at(11, 30))
	other.Email = "grace@example.com"
	_, err = svc.Create(ctx, other)
	e = kindOfOrFail(t, err, KindSlotConflict)
	if e.Message != msgGenericConflict {
		t.Fatalf("message = %q, want generic variant", e.Message)
	}
}

func TestCreate_TouchingBoundarySucceeds(t *testing.T) {
	svc, _, _ := newSvc(t)
	ctx := context.Background()

	if _, err := svc.Create(ctx, input(at(10, 0), at(11, 0))); err != nil {
		t.Fatalf("first create: %v", err)
	}
	if _, err := svc.Create(ctx, input(at(10, 30), at(11, 30))); err == nil {
		t.Fatalf("overlapping create must fail")
	}
	// Half-open: a slot starting exactly at the previous end never conflicts.
	if _, err := svc.Create(ctx, input(at(11, 0), at(12, 0))); err != nil {
		t.Fatalf("touching-boundary create must succeed: %v", err)
	}
}

func TestCreate_SyncFailureRollsBack(t *testing.T) {
	svc, cal, db := newSvc(t)
	ctx := context.Background()
	cal.createErr = errors.New("provider unavailable")

	_, err := svc.Create(ctx, input(at(10, 0), at(11, 0)))
	kindOfOrFail(t, err, KindSyncFailure)

	// Rollback verified: the store contains zero matching records.
	var count int64
	if err := db.Model(&domain.Appointment{}).Count(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Fatalf("store contains %d records after rollback, want 0", count)
	}

	// The slot is immediately bookable again.
	cal.createErr = nil
	if _, err := svc.Create(ctx, input(at(10, 0), at(11, 0))); err != nil {
		t.Fatalf("rebooking after rollback: %v", err)
	}
}

func TestCreate_ValidationErrors(t *testing.T) {
	svc, _, _ := newSvc(t)
	ctx := context.Background()

	noContact := input(at(10, 0), at(11, 0))
	noContact.Email = ""
	noContact.Phone = ""
	_, err := svc.Create(ctx, noContact)
	kindOfOrFail(t, err, KindValidation)

	inverted := input(at(11, 0), at(10, 0))
	_, err = svc.Create(ctx, inverted)
	kindOfOrFail(t, err, KindValidation)

	badKind := input(at(10, 0), at(11, 0))
	badKind.Kind = domain.AppointmentKind("walk_in")
	_, err = svc.Create(ctx, badKind)
	kindOfOrFail(t, err, KindValidation)
}

func TestMapStoreError_RaceLooksLikeConflict(t *testing.T) {
	wrapped := fmt.Errorf("insert: %w", repo.ErrIntervalTaken)
	err := mapStoreError(wrapped, "create")
	e := kindOfOrFail(t, err, KindSlotConflict)
	if !errors.Is(e, wrapped) && !errors.Is(e.Err, repo.ErrIntervalTaken) {
		t.Fatalf("cause not preserved: %v", e)
	}

	err = mapStoreError(fmt.Errorf("insert: %w", repo.ErrConstraint), "create")
	kindOfOrFail(t, err, KindConstraintViolation)
}

func TestReschedule_NotFound(t *testing.T) {
	svc, _, _ := newSvc(t)
	_, err := svc.Reschedule(context.Background(), "missing", RescheduleInput{})
	kindOfOrFail(t, err, KindNotFound)
}

func TestReschedule_MovesIntervalAndSyncsCalendar(t *testing.T) {
	svc, cal, db := newSvc(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, input(at(10, 0), at(11, 0)))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	ns, ne := at(14, 0), at(15, 0)
	kind := domain.KindFollowUp
	got, err := svc.Reschedule(ctx, created.ID, RescheduleInput{StartAt: &ns, EndAt: &ne, Kind: &kind})
	if err != nil {
		t.Fatalf("Reschedule: %v", err)
	}
	if !got.StartAt.Equal(ns) || !got.EndAt.Equal(ne) || got.Kind != domain.KindFollowUp {
		t.Fatalf("fields not moved: %+v", got)
	}
	// Identity and contact are preserved.
	if got.FirstName != created.FirstName || got.Email != created.Email {
		t.Fatalf("immutable fields changed: %+v", got)
	}

	back, err := repo.GetAppointment(ctx, db, created.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !back.StartAt.Equal(ns) {
		t.Fatalf("store not updated: %+v", back)
	}

	ev, ok := cal.updated[created.CalendarEventRef]
	if !ok {
		t.Fatalf("calendar update not invoked for %s", created.CalendarEventRef)
	}
	if !ev.Start.Equal(ns) || !ev.End.Equal(ne) {
		t.Fatalf("calendar payload mismatch: %+v", ev)
	}
}

func TestReschedule_SelfWindowDoesNotConflict(t *testing.T) {
	svc, _, _ := newSvc(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, input(at(10, 0), at(11, 0)))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// Shrinking inside its own window must not trip the conflict scan.
	ns, ne := at(10, 15), at(10, 45)
	if _, err := svc.Reschedule(ctx, created.ID, RescheduleInput{StartAt: &ns, EndAt: &ne}); err != nil {
		t.Fatalf("self-window reschedule: %v", err)
	}
}

func TestReschedule_ConflictAgainstOtherRecord(t *testing.T) {
	svc, _, _ := newSvc(t)
	ctx := context.Background()

	if _, err := svc.Create(ctx, input(at(10, 0), at(11, 0))); err != nil {
		t.Fatalf("seed: %v", err)
	}
	other := input(at(13, 0), at(14, 0))
	other.Email = "grace@example.com"
	victim, err := svc.Create(ctx, other)
	if err != nil {
		t.Fatalf("create victim: %v", err)
	}

	ns, ne := at(10, 30), at(11, 30)
	_, err = svc.Reschedule(ctx, victim.ID, RescheduleInput{StartAt: &ns, EndAt: &ne})
	e := kindOfOrFail(t, err, KindSlotConflict)
	// Conflict is with a different requester: generic message.
	if e.Message != msgGenericConflict {
		t.Fatalf("message = %q, want generic", e.Message)
	}
}

func TestReschedule_CalendarFailureIsSwallowed(t *testing.T) {
	svc, cal, db := newSvc(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, input(at(10, 0), at(11, 0)))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	cal.updateErr = errors.New("provider unavailable")

	ns, ne := at(14, 0), at(15, 0)
	got, err := svc.Reschedule(ctx, created.ID, RescheduleInput{StartAt: &ns, EndAt: &ne})
	if err != nil {
		t.Fatalf("reschedule must succeed despite calendar failure: %v", err)
	}
	if !got.StartAt.Equal(ns) {
		t.Fatalf("result not updated: %+v", got)
	}

	// Store is the system of record: the move is committed.
	back, err := repo.GetAppointment(ctx, db, created.ID)
	if err != nil || !back.StartAt.Equal(ns) {
		t.Fatalf("store not committed: %+v (%v)", back, err)
	}
}

func TestReschedule_InvalidResultingInterval(t *testing.T) {
	svc, _, _ := newSvc(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, input(at(10, 0), at(11, 0)))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// Moving only the start past the stored end inverts the interval.
	ns := at(12, 0)
	_, err = svc.Reschedule(ctx, created.ID, RescheduleInput{StartAt: &ns})
	kindOfOrFail(t, err, KindValidation)
}

func TestCancel_LeadTimeCutoff(t *testing.T) {
	svc, _, _ := newSvc(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, input(at(12, 0), at(13, 0)))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// 1h59m of notice: strictly under the cutoff, rejected.
	svc.Now = func() time.Time { return at(12, 0).Add(-(time.Hour + 59*time.Minute)) }
	err = svc.Cancel(ctx, created.ID)
	kindOfOrFail(t, err, KindCancellationRejected)

	// Exactly 2h of notice: allowed.
	svc.Now = func() time.Time { return at(12, 0).Add(-2 * time.Hour) }
	if err := svc.Cancel(ctx, created.ID); err != nil {
		t.Fatalf("cancel with exactly the lead time must succeed: %v", err)
	}
}

func TestCancel_TerminalStatesRejected(t *testing.T) {
	svc, _, _ := newSvc(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, input(at(12, 0), at(13, 0)))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	svc.Now = func() time.Time { return at(12, 0).Add(-3 * time.Hour) }

	if err := svc.Cancel(ctx, created.ID); err != nil {
		t.Fatalf("first cancel: %v", err)
	}
	err = svc.Cancel(ctx, created.ID)
	kindOfOrFail(t, err, KindCancellationRejected)
}

func TestCancel_NotFound(t *testing.T) {
	svc, _, _ := newSvc(t)
	err := svc.Cancel(context.Background(), "missing")
	kindOfOrFail(t, err, KindNotFound)
}

func TestCancel_DeletesCalendarEventAndSwallowsFailure(t *testing.T) {
	svc, cal, db := newSvc(t)
	ctx := context.Background()
	svc.Now = func() time.Time { return at(12, 0).Add(-3 * time.Hour) }

	created, err := svc.Create(ctx, input(at(12, 0), at(13, 0)))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := svc.Cancel(ctx, created.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if len(cal.deleted) != 1 || cal.deleted[0] != created.CalendarEventRef {
		t.Fatalf("calendar delete not invoked: %+v", cal.deleted)
	}

	// Second appointment, failing delete: cancellation still reported ok.
	second, err := svc.Create(ctx, input(at(14, 0), at(15, 0)))
	if err != nil {
		t.Fatalf("create second: %v", err)
	}
	svc.Now = func() time.Time { return at(14, 0).Add(-3 * time.Hour) }
	cal.deleteErr = errors.New("provider unavailable")
	if err := svc.Cancel(ctx, second.ID); err != nil {
		t.Fatalf("cancel must succeed despite calendar failure: %v", err)
	}

	back, err := repo.GetAppointment(ctx, db, second.ID)
	if err != nil || back.Status != domain.StatusCancelled {
		t.Fatalf("cancellation not committed: %+v (%v)", back, err)
	}
}

func TestListActive_ExcludesCancelledImmediately(t *testing.T) {
	svc, _, _ := newSvc(t)
	ctx := context.Background()

	first, err := svc.Create(ctx, input(at(12, 0), at(13, 0)))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.Create(ctx, input(at(14, 0), at(15, 0))); err != nil {
		t.Fatalf("create second: %v", err)
	}

	svc.Now = func() time.Time { return at(12, 0).Add(-3 * time.Hour) }
	if err := svc.Cancel(ctx, first.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	items, total, err := svc.ListActive(ctx, "ada@example.com", 1, 20)
	if err != nil {
		t.Fatalf("ListActive: %v", err)
	}
	if total != 1 || len(items) != 1 {
		t.Fatalf("expected exactly one active appointment, got total=%d len=%d", total, len(items))
	}
	for _, a := range items {
		if !a.Status.Active() {
			t.Fatalf("inactive record returned: %+v", a)
		}
	}
}

func TestListActive_ValidatesContact(t *testing.T) {
	svc, _, _ := newSvc(t)
	_, _, err := svc.ListActive(context.Background(), "   ", 1, 20)
	kindOfOrFail(t, err, KindValidation)
}

func TestCreate_RoundTripEqualModuloServerFields(t *testing.T) {
	svc, _, _ := newSvc(t)
	ctx := context.Background()

	in := input(at(10, 0), at(11, 0))
	in.Reason = "annual check"
	created, err := svc.Create(ctx, in)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	back, err := svc.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if back.FirstName != "Ada" || back.LastName != "Lovelace" ||
		back.Email != in.Email || !back.StartAt.Equal(in.StartAt) ||
		!back.EndAt.Equal(in.EndAt) || back.Kind != in.Kind || back.Reason != in.Reason {
		t.Fatalf("round-trip mismatch: %+v", back)
	}
	if back.ID == "" || back.CreatedAt.IsZero() || back.CalendarEventRef == "" {
		t.Fatalf("server-assigned fields missing: %+v", back)
	}
}
