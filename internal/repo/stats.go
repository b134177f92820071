// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides small aggregate/statistics queries used
// primarily for conditional responses (e.g., ETag generation) in the HTTP
// layer.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-booking-backend/internal/domain"
)

// ActiveAppointmentsStats returns aggregate metadata for a contact's active
// appointments: the total number of rows and the greatest UpdatedAt (falling
// back to CreatedAt for never-mutated rows) among them. It backs the weak
// ETag on the active-appointments listing.
//
// Return values:
//   - count:   total active appointments for the contact
//   - maxTS:   pointer to the greatest modification timestamp, or nil if no rows
//   - err:     database error, if any
func ActiveAppointmentsStats(ctx context.Context, db *gorm.DB, emailOrPhone string) (count int64, maxTS *time.Time, err error) {
	q := db.WithContext(ctx).
		Model(&domain.Appointment{}).
		Where("status IN ?", domain.ActiveStatuses).
		Where("(LOWER(email) = LOWER(?) OR phone = ?)", emailOrPhone, emailOrPhone)

	if err = q.Count(&count).Error; err != nil {
		return 0, nil, err
	}
	if count == 0 {
		return 0, nil, nil
	}

	// COALESCE keeps never-mutated rows comparable (avoid MAX() -> TEXT in SQLite).
	var row struct {
		TS time.Time
	}
	if err = q.Select("COALESCE(updated_at, created_at) AS ts").Order("ts DESC").Limit(1).Scan(&row).Error; err != nil {
		return 0, nil, err
	}
	return count, &row.TS, nil
}
