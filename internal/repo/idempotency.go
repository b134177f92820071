// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository helpers for the Idempotency
// model used to implement safe-retry semantics for the booking endpoint.
package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-booking-backend/internal/domain"
)

// ErrDuplicate indicates that an idempotency record already exists for the
// given (contact, scope, key) tuple.
var ErrDuplicate = errors.New("duplicate")

// GetIdempotency returns a non-expired record or ErrNotFound.
func GetIdempotency(ctx context.Context, db *gorm.DB, contact, scope, key string, now time.Time) (*domain.Idempotency, error) {
	if strings.TrimSpace(contact) == "" {
		return nil, ErrNotFound
	}
	var rec domain.Idempotency
	err := db.WithContext(ctx).
		Where("contact = ? AND scope = ? AND key = ? AND expires_at > ?", contact, scope, key, now).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	return &rec, err
}

// IdempotencyKeyExists reports whether any non-expired record exists for
// (scope, key), regardless of contact. It backs the middleware-level replay
// probe used for rate-limit bypass; handlers still resolve the full
// (contact, scope, key) record before serving a replay.
func IdempotencyKeyExists(ctx context.Context, db *gorm.DB, scope, key string, now time.Time) (bool, error) {
	var n int64
	err := db.WithContext(ctx).
		Model(&domain.Idempotency{}).
		Where("scope = ? AND key = ? AND expires_at > ?", scope, key, now).
		Count(&n).Error
	return n > 0, err
}

// CreateIdempotency inserts a record and returns ErrDuplicate on unique violation.
func CreateIdempotency(ctx context.Context, db *gorm.DB, contact, scope, key, appointmentID string, status int, ttl time.Duration) (*domain.Idempotency, error) {
	now := time.Now().UTC()
	rec := &domain.Idempotency{
		ID:            uuid.NewString(),
		Contact:       contact,
		Scope:         scope,
		Key:           key,
		AppointmentID: appointmentID,
		Status:        status,
		CreatedAt:     now,
		ExpiresAt:     now.Add(ttl),
	}
	if err := db.WithContext(ctx).Create(rec).Error; err != nil {
		// glebarez/sqlite often returns plain-text errors for UNIQUE violations.
		low := strings.ToLower(err.Error())
		if errors.Is(err, gorm.ErrDuplicatedKey) ||
			strings.Contains(low, "unique constraint failed") ||
			strings.Contains(low, "constraint failed: unique") {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return rec, nil
}
