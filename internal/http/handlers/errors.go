// Package handlers defines HTTP-layer error codes used across all API endpoints.
//
// This file centralizes symbolic error code constants that are mapped to HTTP responses
// (via the `fail()` helper in this package). These codes provide clients with a stable,
// machine-readable error taxonomy that supplements human-readable messages.
//
// Conventions:
//   - Codes are lowercase, snake_case.
//   - Generic codes (e.g., bad_request, not_found) mirror common HTTP status
//     semantics to aid interoperability.
//   - Scheduling codes (slot_conflict, cancellation_rejected, sync_failure,
//     constraint_violation) mirror the service-level error kinds one-to-one so
//     clients can branch on the same taxonomy the engine reports.
//   - All error responses must include both an HTTP status and one of these codes.
//
// Example response:
//
//	{
//	  "request_id": "e1b9be03-4999-4289-9f03-999b042d65d6",
//	  "code": "slot_conflict",
//	  "message": "this time slot is already booked"
//	}
package handlers

const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeNotFound         = "not_found"
	ErrCodeRateLimited      = "too_many_requests"
	ErrCodeInternal         = "internal_error"
	ErrCodeMethodNotAllowed = "method_not_allowed"

	// Scheduling codes (mirror the service error kinds):
	ErrCodeSlotConflict         = "slot_conflict"
	ErrCodeCancellationRejected = "cancellation_rejected"
	ErrCodeSyncFailure          = "sync_failure"
	ErrCodeConstraintViolation  = "constraint_violation"
	ErrCodeValidation           = "validation_error"
)
