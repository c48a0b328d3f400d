package service

import (
	"context"
	"errors"
	"time"

	reservationserrors "medslots/internal/reservations/errors"
	"medslots/internal/reservations/repository"
	"medslots/internal/reservations/validator"
	"medslots/internal/slots"
	"medslots/pkg/config"
	mongotx "medslots/pkg/db/mongo"
	apperrors "medslots/pkg/errors"
	"medslots/pkg/logger"
	"medslots/pkg/metrics"
	"medslots/pkg/model"
	"medslots/pkg/sanitizer"

	"github.com/google/uuid"
)

type CancelOutcome string

const (
	CancelReleased CancelOutcome = "released"
	CancelNoop     CancelOutcome = "noop"
)

type ReservationService interface {
	Grid(ctx context.Context, staffID, date string) ([]model.Slot, error)
	Validate(ctx context.Context, req *model.ReservationRequest) (Verdict, error)
	Reserve(ctx context.Context, req *model.ReservationRequest) (*model.Appointment, error)
	Confirm(ctx context.Context, id string, requestor model.Holder) (*model.Appointment, error)
	Cancel(ctx context.Context, id string, requestor model.Holder) (CancelOutcome, error)
	GetByID(ctx context.Context, id string) (*model.Appointment, error)
	ReleaseOwnPriorLock(ctx context.Context, userID, sessionID string) (*model.Appointment, error)
}

// EventPublisher receives every accepted slot transition. Implementations
// must not block the caller.
type EventPublisher interface {
	Publish(ctx context.Context, event model.SlotEvent)
	Notify(ctx context.Context, recipient model.Holder, event model.SlotEvent)
}

type Option func(*Manager)

func WithClock(clock func() time.Time) Option {
	return func(m *Manager) { m.clock = clock }
}

func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// Manager owns the appointment lifecycle and is the only writer of slot state.
type Manager struct {
	store     slots.Store
	repo      repository.AppointmentRepository
	validator *validator.ReservationValidator
	publisher EventPublisher
	tx        mongotx.TransactionManager
	cfg       *config.Config
	log       *logger.Logger
	metrics   *metrics.Metrics
	clock     func() time.Time
	// userLocks is taken before slotLocks, never the other way round.
	userLocks *keyedMutex
	slotLocks *keyedMutex
}

func NewManager(
	store slots.Store,
	repo repository.AppointmentRepository,
	validator *validator.ReservationValidator,
	publisher EventPublisher,
	tx mongotx.TransactionManager,
	cfg *config.Config,
	opts ...Option,
) *Manager {
	m := &Manager{
		store:     store,
		repo:      repo,
		validator: validator,
		publisher: publisher,
		tx:        tx,
		cfg:       cfg,
		log:       cfg.Log.Component("reservations"),
		clock:     time.Now,
		userLocks: newKeyedMutex(),
		slotLocks: newKeyedMutex(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.tx == nil {
		m.tx = mongotx.NoopTransactionManager{}
	}
	if m.publisher == nil {
		m.publisher = noopPublisher{}
	}
	return m
}

func (m *Manager) now() time.Time {
	return m.clock().UTC().Truncate(time.Millisecond)
}

func (m *Manager) Grid(ctx context.Context, staffID, date string) ([]model.Slot, error) {
	if staffID == "" {
		return nil, apperrors.InvalidInput("Staff ID cannot be empty")
	}
	if _, err := time.Parse(model.DateLayout, date); err != nil {
		return nil, apperrors.InvalidInput("date must be in YYYY-MM-DD format")
	}
	grid, err := m.store.Get(ctx, staffID, date)
	if err != nil {
		m.log.Error("Failed to load slot grid", "staff_id", staffID, "date", date, "error", err)
		return nil, apperrors.Internal("Failed to load slots", err)
	}
	return grid, nil
}

func (m *Manager) GetByID(ctx context.Context, id string) (*model.Appointment, error) {
	if id == "" {
		return nil, apperrors.InvalidInput("Appointment ID cannot be empty")
	}
	appt, err := m.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, reservationserrors.ErrNotFound) {
			return nil, apperrors.NotFoundWithID("Appointment", id)
		}
		if errors.Is(err, reservationserrors.ErrInvalidID) {
			return nil, apperrors.InvalidInput("Invalid appointment ID format")
		}
		return nil, apperrors.Internal("Failed to retrieve appointment", err)
	}
	return appt, nil
}

// Validate is a read-only pre-flight. A positive verdict does not guarantee
// that a following Reserve succeeds.
func (m *Manager) Validate(ctx context.Context, req *model.ReservationRequest) (Verdict, error) {
	if err := m.checkRequest(ctx, req); err != nil {
		appErr := apperrors.AsAppError(err)
		if appErr.Code != apperrors.CodeValidation {
			return Verdict{}, err
		}
		return Verdict{Category: CategoryValidationRejected, Message: appErr.Message, Fields: appErr.Details}, nil
	}

	key := req.SlotKey()
	current, err := m.store.Lookup(ctx, key)
	if err != nil {
		return Verdict{}, apperrors.Internal("Failed to read slot", err)
	}

	now := m.now()
	own, err := m.lockedBy(ctx, req.UserID)
	if err != nil {
		return Verdict{}, err
	}
	if own != nil && now.Before(*own.LockedUntil) {
		if own.SlotKey() == key {
			return Verdict{OK: true}, nil
		}
		return conflictVerdict(selfLockedElsewhere(own)), nil
	}

	if conflict, err := m.confirmedOverlap(ctx, req); err != nil {
		return Verdict{}, err
	} else if conflict != nil {
		return conflictVerdict(conflict), nil
	}

	if current.State != model.SlotAvailable {
		return conflictVerdict(foreignConflict(current)), nil
	}
	return Verdict{OK: true}, nil
}

// Reserve takes the requested slot for the requester. Re-reserving a slot the
// requester already holds returns the existing lease unchanged.
func (m *Manager) Reserve(ctx context.Context, req *model.ReservationRequest) (appt *model.Appointment, err error) {
	defer func() { m.observe("reserve", err) }()

	if err := m.checkRequest(ctx, req); err != nil {
		return nil, err
	}
	key := req.SlotKey()

	unlock := m.userLocks.Lock(req.UserID)
	defer unlock()

	now := m.now()
	own, err := m.lockedBy(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	if own != nil {
		switch {
		case !now.Before(*own.LockedUntil):
			if _, _, err := m.release(ctx, own, model.ReasonExpired, "", now); err != nil {
				return nil, err
			}
		case own.SlotKey() == key:
			return own, nil
		default:
			return nil, m.conflict(selfLockedElsewhere(own))
		}
	}

	if conflict, err := m.confirmedOverlap(ctx, req); err != nil {
		return nil, err
	} else if conflict != nil {
		return nil, m.conflict(conflict)
	}

	until := now.Add(m.cfg.LockTTL)
	appt = &model.Appointment{
		ID:          uuid.NewString(),
		UserID:      req.UserID,
		SessionID:   req.SessionID,
		StaffID:     req.StaffID,
		Date:        req.Date,
		TimeRange:   req.TimeRange,
		Status:      model.StatusLocked,
		LockedUntil: &until,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	unlockSlot := m.slotLocks.Lock(key.String())
	defer unlockSlot()

	_, err = m.store.TryTransition(ctx, slots.Transition{
		Key:           key,
		From:          model.SlotAvailable,
		To:            model.SlotLocked,
		AppointmentID: appt.ID,
		Holder:        req.Holder(),
		LockedUntil:   until,
		Now:           now,
	})
	if err != nil {
		if ce, ok := slots.AsConflict(err); ok {
			return nil, m.conflict(foreignConflict(ce.Current))
		}
		if errors.Is(err, slots.ErrOutsideGrid) {
			return nil, apperrors.Validation("time_range is not part of the staff calendar", map[string]any{"time_range": req.TimeRange})
		}
		m.log.Error("Failed to lock slot", "slot", key.String(), "error", err)
		return nil, apperrors.Internal("Failed to lock slot", err)
	}

	if err := m.repo.Create(ctx, appt); err != nil {
		m.compensate(ctx, key, appt.ID, now)
		if errors.Is(err, reservationserrors.ErrActiveLockExists) {
			existing, findErr := m.lockedBy(ctx, req.UserID)
			if findErr == nil && existing != nil {
				return nil, m.conflict(selfLockedElsewhere(existing))
			}
			return nil, m.conflict(&ConflictError{Category: CategorySelfLockedElsewhere, Resolvable: true})
		}
		m.log.Error("Failed to create appointment", "slot", key.String(), "error", err)
		return nil, apperrors.Internal("Failed to create appointment", err)
	}

	m.metrics.IncTransition(string(model.SlotAvailable), string(model.SlotLocked))
	m.publisher.Publish(ctx, m.event(model.EventSlotLocked, appt, now))

	m.log.Info("Slot locked",
		"appointment_id", appt.ID,
		"user_id", appt.UserID,
		"slot", key.String(),
		"locked_until", until,
	)
	return appt, nil
}

// compensate undoes a slot lock whose appointment could not be stored.
func (m *Manager) compensate(ctx context.Context, key model.SlotKey, appointmentID string, now time.Time) {
	_, err := m.store.TryTransition(ctx, slots.Transition{
		Key:           key,
		From:          model.SlotLocked,
		To:            model.SlotAvailable,
		AppointmentID: appointmentID,
		Now:           now,
	})
	if err != nil {
		m.log.Error("Failed to roll back slot lock", "slot", key.String(), "appointment_id", appointmentID, "error", err)
	}
}

func (m *Manager) Confirm(ctx context.Context, id string, requestor model.Holder) (appt *model.Appointment, err error) {
	defer func() { m.observe("confirm", err) }()

	appt, err = m.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if appt.UserID != requestor.UserID || appt.SessionID != requestor.SessionID {
		return nil, apperrors.Forbidden("Appointment belongs to another session")
	}

	unlock := m.userLocks.Lock(appt.UserID)
	defer unlock()

	if appt, err = m.GetByID(ctx, id); err != nil {
		return nil, err
	}
	switch appt.Status {
	case model.StatusConfirmed:
		return appt, nil
	case model.StatusCancelled:
		return nil, apperrors.Expired("Reservation is no longer active")
	}

	now := m.now()
	if appt.LockedUntil == nil || !now.Before(*appt.LockedUntil) {
		return nil, apperrors.Expired("Reservation lock has expired")
	}

	unlockSlot := m.slotLocks.Lock(appt.SlotKey().String())
	defer unlockSlot()

	var confirmed *model.Appointment
	err = m.tx.ExecuteTransaction(ctx, func(txCtx context.Context) error {
		_, err := m.store.TryTransition(txCtx, slots.Transition{
			Key:           appt.SlotKey(),
			From:          model.SlotLocked,
			To:            model.SlotConfirmed,
			AppointmentID: appt.ID,
			RequireLive:   true,
			Now:           now,
		})
		if err != nil {
			if errors.Is(err, slots.ErrConflict) {
				return apperrors.Expired("Reservation lock has expired")
			}
			return apperrors.Internal("Failed to confirm slot", err)
		}
		confirmed, err = m.repo.UpdateStatus(txCtx, appt.ID, model.StatusLocked, repository.StatusUpdate{
			To: model.StatusConfirmed,
			At: now,
		})
		if err != nil {
			return apperrors.Internal("Failed to confirm appointment", err)
		}
		return nil
	})
	if err != nil {
		if !apperrors.HasCode(err, apperrors.CodeExpired) {
			m.log.Error("Failed to confirm appointment", "appointment_id", id, "error", err)
		}
		return nil, err
	}

	m.metrics.IncTransition(string(model.SlotLocked), string(model.SlotConfirmed))
	m.publisher.Publish(ctx, m.event(model.EventSlotConfirmed, confirmed, now))

	m.log.Info("Appointment confirmed", "appointment_id", id, "user_id", appt.UserID, "slot", appt.SlotKey().String())
	return confirmed, nil
}

// Cancel releases a locked appointment. Cancelling an appointment that is
// already terminal is a successful no-op.
func (m *Manager) Cancel(ctx context.Context, id string, requestor model.Holder) (outcome CancelOutcome, err error) {
	defer func() { m.observe("cancel", err) }()

	appt, err := m.GetByID(ctx, id)
	if err != nil {
		return "", err
	}
	if appt.UserID != requestor.UserID {
		return "", apperrors.Forbidden("Appointment belongs to another user")
	}

	unlock := m.userLocks.Lock(appt.UserID)
	defer unlock()

	if appt, err = m.GetByID(ctx, id); err != nil {
		return "", err
	}
	if appt.IsTerminal() {
		return CancelNoop, nil
	}

	cancelled, _, err := m.release(ctx, appt, model.ReasonUser, requestor.SessionID, m.now())
	if err != nil {
		return "", err
	}
	if cancelled == nil {
		return CancelNoop, nil
	}
	return CancelReleased, nil
}

// ReleaseOwnPriorLock cancels the user's locked appointment wherever it is.
// It returns nil when the user holds no lock.
func (m *Manager) ReleaseOwnPriorLock(ctx context.Context, userID, sessionID string) (*model.Appointment, error) {
	if userID == "" {
		return nil, apperrors.InvalidInput("User ID cannot be empty")
	}

	unlock := m.userLocks.Lock(userID)
	defer unlock()

	own, err := m.lockedBy(ctx, userID)
	if err != nil || own == nil {
		return nil, err
	}
	cancelled, _, err := m.release(ctx, own, model.ReasonUser, sessionID, m.now())
	if err != nil {
		return nil, err
	}
	return cancelled, nil
}

// Expire releases a lapsed lock found by the reaper. It reports whether this
// call moved the slot; losing the race to another reaper is not an error.
func (m *Manager) Expire(ctx context.Context, slot model.Slot) (bool, error) {
	if slot.State != model.SlotLocked || slot.AppointmentID == "" {
		return false, nil
	}
	if slot.HeldBy != nil {
		unlock := m.userLocks.Lock(slot.HeldBy.UserID)
		defer unlock()
	}

	now := m.now()
	appt, err := m.repo.FindByID(ctx, slot.AppointmentID)
	switch {
	case errors.Is(err, reservationserrors.ErrNotFound):
		return m.releaseOrphan(ctx, slot, now)
	case err != nil:
		return false, apperrors.Internal("Failed to retrieve appointment", err)
	}

	switch appt.Status {
	case model.StatusCancelled:
		return m.releaseOrphan(ctx, slot, now)
	case model.StatusConfirmed:
		m.log.Warn("Locked slot references a confirmed appointment", "slot", slot.Key().String(), "appointment_id", appt.ID)
		return false, nil
	}
	if appt.LockedUntil != nil && now.Before(*appt.LockedUntil) {
		return false, nil
	}

	cancelled, moved, err := m.release(ctx, appt, model.ReasonExpired, "", now)
	if err != nil {
		return false, err
	}
	if cancelled != nil {
		m.metrics.IncExpired()
	}
	return moved, nil
}

// releaseOrphan frees a locked slot whose appointment is gone or cancelled.
func (m *Manager) releaseOrphan(ctx context.Context, slot model.Slot, now time.Time) (bool, error) {
	unlockSlot := m.slotLocks.Lock(slot.Key().String())
	defer unlockSlot()

	_, err := m.store.TryTransition(ctx, slots.Transition{
		Key:           slot.Key(),
		From:          model.SlotLocked,
		To:            model.SlotAvailable,
		AppointmentID: slot.AppointmentID,
		Now:           now,
	})
	if err != nil {
		if errors.Is(err, slots.ErrConflict) {
			return false, nil
		}
		return false, apperrors.Internal("Failed to release slot", err)
	}
	m.metrics.IncTransition(string(model.SlotLocked), string(model.SlotAvailable))
	m.publisher.Publish(ctx, model.SlotEvent{
		ID:            uuid.NewString(),
		Kind:          model.EventSlotReleased,
		StaffID:       slot.StaffID,
		Date:          slot.Date,
		TimeRange:     slot.TimeRange,
		AppointmentID: slot.AppointmentID,
		Reason:        model.ReasonExpired,
		OccurredAt:    now,
	})
	m.log.Warn("Released orphaned slot lock", "slot", slot.Key().String(), "appointment_id", slot.AppointmentID)
	return true, nil
}

// release moves the slot back to available and cancels the appointment as one
// unit. It returns the cancelled appointment (nil when someone else finished
// first) and whether the slot itself moved. The owning session is told
// about the release unless it asked for it.
func (m *Manager) release(ctx context.Context, appt *model.Appointment, reason model.ReleaseReason, bySession string, now time.Time) (*model.Appointment, bool, error) {
	unlockSlot := m.slotLocks.Lock(appt.SlotKey().String())
	defer unlockSlot()

	var (
		cancelled *model.Appointment
		moved     bool
	)
	err := m.tx.ExecuteTransaction(ctx, func(txCtx context.Context) error {
		cancelled, moved = nil, false

		_, err := m.store.TryTransition(txCtx, slots.Transition{
			Key:           appt.SlotKey(),
			From:          model.SlotLocked,
			To:            model.SlotAvailable,
			AppointmentID: appt.ID,
			Now:           now,
		})
		if err != nil {
			ce, ok := slots.AsConflict(err)
			if !ok {
				return apperrors.Internal("Failed to release slot", err)
			}
			if ce.Current.AppointmentID == appt.ID {
				// confirmed concurrently; nothing to release
				return nil
			}
		} else {
			moved = true
		}

		cancelled, err = m.repo.UpdateStatus(txCtx, appt.ID, model.StatusLocked, repository.StatusUpdate{
			To:     model.StatusCancelled,
			Reason: reason,
			At:     now,
		})
		if err != nil {
			cancelled = nil
			if errors.Is(err, reservationserrors.ErrStatusChanged) || errors.Is(err, reservationserrors.ErrNotFound) {
				return nil
			}
			return apperrors.Internal("Failed to cancel appointment", err)
		}
		return nil
	})
	if err != nil {
		m.log.Error("Failed to release appointment", "appointment_id", appt.ID, "reason", reason, "error", err)
		return nil, false, err
	}

	if moved {
		m.metrics.IncTransition(string(model.SlotLocked), string(model.SlotAvailable))
		released := m.event(model.EventSlotReleased, appt, now)
		released.LockedUntil = nil
		released.Reason = reason
		m.publisher.Publish(ctx, released)
	}
	if cancelled != nil {
		if reason == model.ReasonExpired || bySession != appt.SessionID {
			notice := m.event(model.EventLockReleased, appt, now)
			notice.LockedUntil = nil
			notice.Reason = reason
			holder := appt.Holder()
			notice.Recipient = &holder
			m.publisher.Notify(ctx, holder, notice)
		}
		m.log.Info("Appointment released",
			"appointment_id", appt.ID,
			"user_id", appt.UserID,
			"slot", appt.SlotKey().String(),
			"reason", reason,
		)
	}
	return cancelled, moved, nil
}

func (m *Manager) checkRequest(ctx context.Context, req *model.ReservationRequest) error {
	if req == nil {
		return apperrors.InvalidInput("Reservation request cannot be empty")
	}
	sanitizer.SanitizeReservationRequest(req)
	if err := m.validator.Validate(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return apperrors.Validation("Invalid reservation request", verrs.Fields())
		}
		return apperrors.Validation("Invalid reservation request", map[string]any{"error": err.Error()})
	}
	if _, err := m.store.Lookup(ctx, req.SlotKey()); err != nil {
		if errors.Is(err, slots.ErrOutsideGrid) {
			return apperrors.Validation("time_range is not part of the staff calendar", map[string]any{"time_range": req.TimeRange})
		}
		m.log.Error("Failed to read slot", "slot", req.SlotKey().String(), "error", err)
		return apperrors.Internal("Failed to read slot", err)
	}
	return nil
}

// lockedBy returns the user's locked appointment, or nil.
func (m *Manager) lockedBy(ctx context.Context, userID string) (*model.Appointment, error) {
	own, err := m.repo.FindLockedByUser(ctx, userID)
	if err != nil {
		if errors.Is(err, reservationserrors.ErrNotFound) {
			return nil, nil
		}
		return nil, apperrors.Internal("Failed to look up existing reservation", err)
	}
	return own, nil
}

func (m *Manager) confirmedOverlap(ctx context.Context, req *model.ReservationRequest) (*ConflictError, error) {
	confirmed, err := m.repo.FindConfirmedByUser(ctx, req.UserID, req.StaffID, req.Date)
	if err != nil {
		return nil, apperrors.Internal("Failed to look up confirmed appointments", err)
	}
	if len(confirmed) == 0 {
		return nil, nil
	}
	return &ConflictError{
		Category:              CategorySelfConfirmedOverlap,
		ExistingAppointmentID: confirmed[0].ID,
		AppointmentDate:       confirmed[0].Date,
		ExistingStaffID:       confirmed[0].StaffID,
		ExistingTimeRange:     confirmed[0].TimeRange,
	}, nil
}

func (m *Manager) conflict(ce *ConflictError) error {
	m.metrics.IncConflict(string(ce.Category))
	m.log.Debug("Reservation conflict", "category", ce.Category, "existing_appointment_id", ce.ExistingAppointmentID)
	return ce
}

func (m *Manager) event(kind model.EventKind, appt *model.Appointment, now time.Time) model.SlotEvent {
	return model.SlotEvent{
		ID:            uuid.NewString(),
		Kind:          kind,
		StaffID:       appt.StaffID,
		Date:          appt.Date,
		TimeRange:     appt.TimeRange,
		AppointmentID: appt.ID,
		LockedUntil:   appt.LockedUntil,
		OccurredAt:    now,
	}
}

func (m *Manager) observe(operation string, err error) {
	outcome := "ok"
	switch {
	case err == nil:
	case errors.Is(err, slots.ErrConflict):
		outcome = "conflict"
	default:
		outcome = apperrors.AsAppError(err).Code
	}
	m.metrics.IncReservation(operation, outcome)
}

func selfLockedElsewhere(own *model.Appointment) *ConflictError {
	return &ConflictError{
		Category:              CategorySelfLockedElsewhere,
		Resolvable:            true,
		ExistingAppointmentID: own.ID,
		AppointmentDate:       own.Date,
		ExistingStaffID:       own.StaffID,
		ExistingTimeRange:     own.TimeRange,
		LockedUntil:           own.LockedUntil,
	}
}

// foreignConflict classifies a slot someone else holds.
func foreignConflict(current model.Slot) *ConflictError {
	if current.State == model.SlotConfirmed {
		return &ConflictError{Category: CategoryForeignConfirmed}
	}
	return &ConflictError{Category: CategoryForeignLock, LockedUntil: current.LockedUntil}
}

func conflictVerdict(ce *ConflictError) Verdict {
	return Verdict{
		Category: ce.Category,
		Message:  ce.message(),
		Conflict: ce,
	}
}

type noopPublisher struct{}

func (noopPublisher) Publish(context.Context, model.SlotEvent) {}
func (noopPublisher) Notify(context.Context, model.Holder, model.SlotEvent) {}
