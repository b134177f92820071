// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides the appointment store consumed by the
// scheduling engine.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations. They
// follow the "thin repository" approach: no business logic, only CRUD
// persistence and query composition. The one piece of shared semantics that
// lives here is the conflict query, which must mirror domain.Overlaps
// exactly (half-open intervals: touching boundaries never conflict).
//
// Error semantics:
//   - When an appointment is not found, functions return ErrNotFound
//     (an alias of gorm.ErrRecordNotFound).
//   - Storage constraint breakage is classified: the active-interval unique
//     index maps to ErrIntervalTaken (a lost booking race), everything else
//     (CHECK constraints, NOT NULL) maps to ErrConstraint. Both wrap the
//     driver error.
package repo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-booking-backend/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// ErrIntervalTaken indicates the active-interval unique index rejected a
// write: another active appointment holds the exact same interval. This is
// the storage-level manifestation of a booking race that slipped past the
// engine's conflict pre-check.
var ErrIntervalTaken = errors.New("interval already taken by an active appointment")

// ErrConstraint indicates a storage-level invariant violation other than the
// interval uniqueness backstop (bad interval, missing contact).
var ErrConstraint = errors.New("storage constraint violated")

// CreateAppointment persists a new record. The status on the input is
// ignored and forced to scheduled; ID and CreatedAt are assigned here.
// UpdatedAt stays nil until the first mutation.
//
// On success the persisted record (with assigned fields) is returned.
// Constraint breakage is classified via ErrIntervalTaken / ErrConstraint.
func CreateAppointment(ctx context.Context, db *gorm.DB, a *domain.Appointment) (*domain.Appointment, error) {
	rec := *a
	rec.ID = uuid.NewString()
	rec.Status = domain.StatusScheduled
	rec.CreatedAt = time.Now().UTC()
	rec.UpdatedAt = nil

	if err := db.WithContext(ctx).Create(&rec).Error; err != nil {
		return nil, classifyConstraint(err)
	}
	return &rec, nil
}

// UpdateAppointment replaces the mutable fields of the record at id:
// interval, kind, metadata, calendar event reference, status, and updatedAt.
// ID and CreatedAt are never touched. Returns ErrNotFound when no row
// matches; constraint breakage is classified as in CreateAppointment.
func UpdateAppointment(ctx context.Context, db *gorm.DB, id string, a *domain.Appointment) error {
	res := db.WithContext(ctx).
		Model(&domain.Appointment{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"start_at":           a.StartAt,
			"end_at":             a.EndAt,
			"kind":               a.Kind,
			"metadata":           a.Metadata,
			"calendar_event_ref": a.CalendarEventRef,
			"status":             a.Status,
			"updated_at":         a.UpdatedAt,
		})
	if res.Error != nil {
		return classifyConstraint(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteAppointment removes the record at id. It reports whether a row was
// actually removed; deleting a missing id is a no-op, not an error. Used
// both for administrative removal and as the compensation step when calendar
// synchronization fails after a create.
func DeleteAppointment(ctx context.Context, db *gorm.DB, id string) (bool, error) {
	res := db.WithContext(ctx).Delete(&domain.Appointment{}, "id = ?", id)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// GetAppointment fetches a single appointment by id, or ErrNotFound.
func GetAppointment(ctx context.Context, db *gorm.DB, id string) (*domain.Appointment, error) {
	var a domain.Appointment
	if err := db.WithContext(ctx).First(&a, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &a, nil
}

// FindConflicting returns all active-status appointments whose half-open
// interval overlaps [start, end). excludeID, when non-empty, removes one
// record from consideration (a record being rescheduled never conflicts with
// itself). Ordering is not significant to callers.
//
// The WHERE clause is the SQL mirror of domain.Overlaps:
// existing.start < end AND existing.end > start.
func FindConflicting(ctx context.Context, db *gorm.DB, start, end time.Time, excludeID string) ([]domain.Appointment, error) {
	q := db.WithContext(ctx).
		Where("start_at < ? AND end_at > ?", end, start).
		Where("status IN ?", domain.ActiveStatuses)
	if excludeID != "" {
		q = q.Where("id <> ?", excludeID)
	}

	var out []domain.Appointment
	err := q.Find(&out).Error
	return out, err
}

// ListActiveByContact returns active-status appointments whose email or
// phone equals the given value, most-recent-start first. Email comparison is
// case-insensitive to match domain.Appointment.HasContact.
func ListActiveByContact(ctx context.Context, db *gorm.DB, emailOrPhone string, offset, limit int) ([]domain.Appointment, error) {
	q := db.WithContext(ctx).
		Where("status IN ?", domain.ActiveStatuses).
		Where("(LOWER(email) = LOWER(?) OR phone = ?)", emailOrPhone, emailOrPhone).
		Order("start_at desc")
	if limit > 0 {
		q = q.Offset(offset).Limit(limit)
	}

	var out []domain.Appointment
	err := q.Find(&out).Error
	return out, err
}

// CountActiveByContact returns the total number of active appointments for
// the contact, for pagination metadata.
func CountActiveByContact(ctx context.Context, db *gorm.DB, emailOrPhone string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.Appointment{}).
		Where("status IN ?", domain.ActiveStatuses).
		Where("(LOWER(email) = LOWER(?) OR phone = ?)", emailOrPhone, emailOrPhone).
		Count(&total).Error
	return total, err
}

// classifyConstraint maps driver-level constraint errors to the package
// sentinels. glebarez/sqlite reports violations as plain-text errors, so
// detection is by message, the same approach used for unique keys elsewhere
// in the ecosystem (Postgres: "duplicate key value violates unique
// constraint"; SQLite: "UNIQUE constraint failed: ...").
func classifyConstraint(err error) error {
	if err == nil {
		return nil
	}
	low := strings.ToLower(err.Error())
	switch {
	case errors.Is(err, gorm.ErrDuplicatedKey),
		strings.Contains(low, "unique constraint"),
		strings.Contains(low, "duplicate key"):
		// The only unique surface over appointments is the active-interval
		// index, so any unique breakage is a booking race.
		return fmt.Errorf("%w: %v", ErrIntervalTaken, err)
	case strings.Contains(low, "constraint"):
		return fmt.Errorf("%w: %v", ErrConstraint, err)
	default:
		return err
	}
}
