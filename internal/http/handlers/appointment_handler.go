// Appointment HTTP handlers.
//
// This file exposes REST endpoints for appointment resources:
//   - POST   /appointments        (book; Idempotency-Key replay supported)
//   - GET    /appointments        (active appointments by contact, paginated, ETag support)
//   - GET    /appointments/{id}   (fetch one)
//   - PATCH  /appointments/{id}   (reschedule: interval and/or kind only)
//   - DELETE /appointments/{id}   (cancel)
//
// Handlers are transport-thin: they validate and normalize inputs, delegate
// to the scheduling service, and translate service error kinds into HTTP
// statuses in one exhaustive switch.
//
// Idempotency:
// If the client supplies an Idempotency-Key header and a previous successful
// booking exists for (contact, "appointments:create", key), the handler
// returns that recorded appointment and sets `Idempotency-Replayed: true`.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-booking-backend/internal/domain"
	"github.com/tbourn/go-booking-backend/internal/repo"
	"github.com/tbourn/go-booking-backend/internal/services"
	"github.com/tbourn/go-booking-backend/internal/utils"
)

//
// Service contract (context-aware)
//

// Scheduler defines the appointment lifecycle operations consumed by HTTP
// handlers.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type Scheduler interface {
	// Create books a new appointment, synchronizing it into the calendar.
	Create(ctx context.Context, in services.CreateAppointmentInput) (*domain.Appointment, error)
	// Reschedule changes the interval and/or kind of an existing appointment.
	Reschedule(ctx context.Context, id string, in services.RescheduleInput) (*domain.Appointment, error)
	// Cancel marks an appointment cancelled, subject to the lead-time rule.
	Cancel(ctx context.Context, id string) error
	// ListActive returns a page of active appointments for a contact.
	ListActive(ctx context.Context, emailOrPhone string, page, pageSize int) ([]domain.Appointment, int64, error)
	// Get fetches one appointment by id.
	Get(ctx context.Context, id string) (*domain.Appointment, error)
}

//
// Handler wiring
//

// Handlers groups the HTTP endpoints for appointments. It depends on the
// Scheduler interface to keep transport concerns separate from business logic.
type Handlers struct {
	sched Scheduler

	// IdempotencyTTL bounds replay retention; zero means 24h.
	IdempotencyTTL time.Duration
}

// New constructs a Handlers instance bound to the given scheduler.
func New(sched Scheduler) *Handlers {
	return &Handlers{sched: sched}
}

//
// DTOs
//

// CreateAppointmentRequest is the JSON payload for booking an appointment.
// Status cannot be supplied; new records are always created as "scheduled".
type CreateAppointmentRequest struct {
	// FirstName is the requester's given name.
	FirstName string `json:"first_name" binding:"required,min=1,max=100" example:"Ada"`
	// LastName is the requester's family name.
	LastName string `json:"last_name" binding:"required,min=1,max=100" example:"Lovelace"`
	// Email is one of the two accepted contact channels.
	Email string `json:"email" binding:"omitempty,email" example:"ada@example.com"`
	// Phone is the other accepted contact channel. At least one of
	// email/phone must be present.
	Phone string `json:"phone" example:"+44 20 7946 0958"`
	// StartAt / EndAt bound the half-open slot [start_at, end_at).
	StartAt time.Time `json:"start_at" binding:"required" example:"2025-07-01T10:00:00Z"`
	EndAt   time.Time `json:"end_at"   binding:"required" example:"2025-07-01T11:00:00Z"`
	// Kind is one of: consultation, follow_up, emergency, routine_check.
	Kind string `json:"kind" binding:"required" example:"consultation"`
	// Reason optionally describes the booking.
	Reason string `json:"reason" example:"annual check"`
	// Metadata is an opaque payload stored with the record; it is never
	// echoed back on responses.
	Metadata map[string]any `json:"metadata"`
}

// RescheduleRequest is the JSON payload for moving an appointment. Only the
// interval and kind may change; any other field a client sends is ignored.
type RescheduleRequest struct {
	StartAt *time.Time `json:"start_at" example:"2025-07-01T14:00:00Z"`
	EndAt   *time.Time `json:"end_at"   example:"2025-07-01T15:00:00Z"`
	Kind    *string    `json:"kind"     example:"follow_up"`
}

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

// ListAppointmentsResponse wraps a page of appointments and pagination info.
type ListAppointmentsResponse struct {
	Appointments []domain.Appointment `json:"appointments"`
	Pagination   Pagination           `json:"pagination"`
}

//
// Helpers
//

// clampPagination parses and bounds page and page_size query params to sane
// defaults and limits, returning (page, pageSize).
func clampPagination(c *gin.Context) (page, pageSize int) {
	const (
		defaultPage     = 1
		defaultPageSize = 20
		maxPageSize     = 100
	)
	page = utils.AtoiDefault(c.Query("page"), defaultPage)
	if page < 1 {
		page = 1
	}
	pageSize = utils.AtoiDefault(c.Query("page_size"), defaultPageSize)
	if pageSize < 1 {
		pageSize = 1
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return
}

// idempotencyKey reads a client-supplied Idempotency-Key header, if any.
func idempotencyKey(c *gin.Context) string {
	return strings.TrimSpace(c.GetHeader("Idempotency-Key"))
}

// primaryContact picks the replay-record key for a booking request: email
// when present (lowercased, since email matching is case-insensitive),
// otherwise phone.
func primaryContact(email, phone string) string {
	if e := strings.TrimSpace(email); e != "" {
		return strings.ToLower(e)
	}
	return strings.TrimSpace(phone)
}

// failService translates a service error into the HTTP error envelope. The
// kind switch is exhaustive; errors without a kind are internal.
func failService(c *gin.Context, err error) {
	kind, ok := services.KindOf(err)
	if !ok {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "internal error")
		return
	}

	var svcErr *services.Error
	msg := err.Error()
	if errors.As(err, &svcErr) {
		msg = svcErr.Message
	}

	switch kind {
	case services.KindValidation:
		fail(c, http.StatusBadRequest, ErrCodeValidation, msg)
	case services.KindNotFound:
		fail(c, http.StatusNotFound, ErrCodeNotFound, msg)
	case services.KindSlotConflict:
		fail(c, http.StatusConflict, ErrCodeSlotConflict, msg)
	case services.KindCancellationRejected:
		fail(c, http.StatusUnprocessableEntity, ErrCodeCancellationRejected, msg)
	case services.KindConstraintViolation:
		fail(c, http.StatusConflict, ErrCodeConstraintViolation, msg)
	case services.KindSyncFailure:
		fail(c, http.StatusBadGateway, ErrCodeSyncFailure, msg)
	default:
		fail(c, http.StatusInternalServerError, ErrCodeInternal, msg)
	}
}

// schedulerDB exposes the concrete service's DB handle for ETag stats and
// idempotency records; nil when the handler is wired to a different
// implementation (tests).
func (h *Handlers) schedulerDB() *gorm.DB {
	if svc, ok := h.sched.(*services.SchedulerService); ok {
		return svc.DB
	}
	return nil
}

func (h *Handlers) idemTTL() time.Duration {
	if h.IdempotencyTTL > 0 {
		return h.IdempotencyTTL
	}
	return 24 * time.Hour
}

//
// Handlers
//

// CreateAppointment godoc
// @ID          createAppointment
// @Summary     Book an appointment
// @Description Books a new appointment after conflict detection and calendar synchronization.
// @Description Supports idempotency via the Idempotency-Key header (same key → same result).
// @Tags        Appointments
// @Accept      json
// @Produce     json
//
// @Param       Idempotency-Key  header  string  false "Idempotency key for safe retries (UUID recommended)"
// @Param       body             body    handlers.CreateAppointmentRequest  true  "Booking payload"
//
// @Success     201  {object}  domain.Appointment
// @Failure     400  {object}  handlers.ErrorResponse "Validation error"
// @Failure     409  {object}  handlers.ErrorResponse "Slot conflict"
// @Failure     502  {object}  handlers.ErrorResponse "Calendar synchronization failed"
// @Router      /appointments [post]
func (h *Handlers) CreateAppointment(c *gin.Context) {
	ctx := c.Request.Context()

	var req CreateAppointmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	contact := primaryContact(req.Email, req.Phone)

	// Idempotency (replay path): return the previously created appointment.
	idemKey := idempotencyKey(c)
	if idemKey != "" && contact != "" {
		if db := h.schedulerDB(); db != nil {
			if rec, err := repo.GetIdempotency(ctx, db, contact, "appointments:create", idemKey, time.Now().UTC()); err == nil && rec != nil {
				if prev, err2 := repo.GetAppointment(ctx, db, rec.AppointmentID); err2 == nil {
					c.Header("Idempotency-Replayed", "true")
					ok(c, rec.Status, prev)
					return
				}
			}
		}
	}

	created, err := h.sched.Create(ctx, services.CreateAppointmentInput{
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Email:     req.Email,
		Phone:     req.Phone,
		StartAt:   req.StartAt,
		EndAt:     req.EndAt,
		Kind:      domain.AppointmentKind(strings.ToLower(strings.TrimSpace(req.Kind))),
		Metadata:  req.Metadata,
		Reason:    req.Reason,
	})
	if err != nil {
		failService(c, err)
		return
	}

	// Idempotency (store path): best effort.
	if idemKey != "" && contact != "" {
		if db := h.schedulerDB(); db != nil {
			_, _ = repo.CreateIdempotency(ctx, db, contact, "appointments:create", idemKey, created.ID, http.StatusCreated, h.idemTTL())
		}
	}

	ok(c, http.StatusCreated, created)
}

// GetAppointment godoc
// @ID          getAppointment
// @Summary     Fetch an appointment
// @Tags        Appointments
// @Produce     json
//
// @Param       id  path  string  true  "Appointment ID (UUID)"  format(uuid)
//
// @Success     200  {object}  domain.Appointment
// @Failure     400  {object}  handlers.ErrorResponse "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse "Appointment not found"
// @Router      /appointments/{id} [get]
func (h *Handlers) GetAppointment(c *gin.Context) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "appointment id must be a UUID")
		return
	}

	a, err := h.sched.Get(c.Request.Context(), id)
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, a)
}

// RescheduleAppointment godoc
// @ID          rescheduleAppointment
// @Summary     Reschedule an appointment
// @Description Moves the appointment to a new interval and/or kind. All other fields are immutable through this endpoint.
// @Tags        Appointments
// @Accept      json
// @Produce     json
//
// @Param       id    path  string  true  "Appointment ID (UUID)"  format(uuid)
// @Param       body  body  handlers.RescheduleRequest  true  "Fields to change"
//
// @Success     200  {object}  domain.Appointment
// @Failure     400  {object}  handlers.ErrorResponse "Validation error"
// @Failure     404  {object}  handlers.ErrorResponse "Appointment not found"
// @Failure     409  {object}  handlers.ErrorResponse "Slot conflict"
// @Router      /appointments/{id} [patch]
func (h *Handlers) RescheduleAppointment(c *gin.Context) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "appointment id must be a UUID")
		return
	}

	var req RescheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	if req.StartAt == nil && req.EndAt == nil && req.Kind == nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "at least one of start_at, end_at, kind is required")
		return
	}

	in := services.RescheduleInput{StartAt: req.StartAt, EndAt: req.EndAt}
	if req.Kind != nil {
		k := domain.AppointmentKind(strings.ToLower(strings.TrimSpace(*req.Kind)))
		in.Kind = &k
	}

	updated, err := h.sched.Reschedule(c.Request.Context(), id, in)
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, updated)
}

// CancelAppointment godoc
// @ID          cancelAppointment
// @Summary     Cancel an appointment
// @Description Cancels the appointment when at least the configured lead time remains before its start.
// @Tags        Appointments
//
// @Param       id  path  string  true  "Appointment ID (UUID)"  format(uuid)
//
// @Success     204  {string} string "No Content"
// @Failure     404  {object} handlers.ErrorResponse "Appointment not found"
// @Failure     422  {object} handlers.ErrorResponse "Cancellation rejected"
// @Router      /appointments/{id} [delete]
func (h *Handlers) CancelAppointment(c *gin.Context) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "appointment id must be a UUID")
		return
	}

	if err := h.sched.Cancel(c.Request.Context(), id); err != nil {
		failService(c, err)
		return
	}
	noContent(c)
}

// ListAppointments godoc
// @ID          listAppointments
// @Summary     List active appointments for a contact (paginated)
// @Description Returns the scheduled and confirmed appointments whose email or phone matches the contact. Supports weak ETag via If-None-Match and may return 304.
// @Tags        Appointments
// @Produce     json
//
// @Param       contact        query   string  true  "Email (case-insensitive) or phone (exact)"
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"
// @Param       page           query   int     false "Page number"     minimum(1) default(1)
// @Param       page_size      query   int     false "Items per page"  minimum(1) maximum(100) default(20)
//
// @Success     200  {object} handlers.ListAppointmentsResponse
// @Header      200  {string} ETag "Weak ETag for current result"
// @Success     304  {string} string "Not Modified"
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Router      /appointments [get]
func (h *Handlers) ListAppointments(c *gin.Context) {
	ctx := c.Request.Context()

	contact := strings.TrimSpace(c.Query("contact"))
	if contact == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "contact query parameter is required")
		return
	}
	page, pageSize := clampPagination(c)

	// ETag pre-check (best effort).
	if db := h.schedulerDB(); db != nil {
		count, maxTS, err := repo.ActiveAppointmentsStats(ctx, db, contact)
		if err == nil {
			var ts int64
			if maxTS != nil {
				ts = maxTS.Unix()
			}
			etag := fmt.Sprintf(`W/"appointments:%s:%d:%d"`, strings.ToLower(contact), count, ts)
			c.Header("ETag", etag)
			if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
				c.Status(http.StatusNotModified)
				return
			}
		}
	}

	items, total, err := h.sched.ListActive(ctx, contact, page, pageSize)
	if err != nil {
		failService(c, err)
		return
	}

	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	ok(c, http.StatusOK, ListAppointmentsResponse{
		Appointments: items,
		Pagination: Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      total,
			TotalPages: totalPages,
			HasNext:    page < totalPages,
		},
	})
}
