// Package domain defines the core persistence models for the application.
// This file holds the idempotency record used to deduplicate booking
// requests that are retried by clients.
package domain

import "time"

// Idempotency records the outcome of a previously processed booking request,
// keyed by (contact, scope, key). It enables safe retries for POST
// operations: a replayed request returns the originally created appointment
// without re-executing side effects (store write, calendar sync).
//
// Scope is the route being deduplicated (e.g. "appointments:create") so a
// key reused across endpoints cannot collide.
type Idempotency struct {
	ID            string    `gorm:"type:TEXT NOT NULL;primaryKey"`
	Contact       string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_contact_scope_key,priority:1"`
	Scope         string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_contact_scope_key,priority:2"`
	Key           string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_contact_scope_key,priority:3"`
	AppointmentID string    `gorm:"type:TEXT NOT NULL"`
	Status        int       `gorm:"type:INTEGER NOT NULL"`
	CreatedAt     time.Time `gorm:"type:DATETIME NOT NULL;autoCreateTime"`
	ExpiresAt     time.Time `gorm:"type:DATETIME NOT NULL;index"`
}

// TableName implements the GORM tabler interface.
func (Idempotency) TableName() string { return "idempotency" }
