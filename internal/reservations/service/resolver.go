package service

import (
	"context"

	"medslots/pkg/logger"
	"medslots/pkg/model"
)

// Reserver is the part of the manager the resolver drives.
type Reserver interface {
	Reserve(ctx context.Context, req *model.ReservationRequest) (*model.Appointment, error)
	ReleaseOwnPriorLock(ctx context.Context, userID, sessionID string) (*model.Appointment, error)
}

// Decision is the resolver's reading of a failed reservation.
type Decision struct {
	Category   Category
	Resolvable bool
	Conflict   *ConflictError
}

// Resolver classifies reservation conflicts and performs at most one
// automatic resolution per request.
type Resolver struct {
	reserver Reserver
	log      *logger.Logger
}

func NewResolver(reserver Reserver, log *logger.Logger) *Resolver {
	return &Resolver{
		reserver: reserver,
		log:      log.Component("resolver"),
	}
}

// Classify reports the conflict category carried by err, if any.
func (r *Resolver) Classify(err error) (Decision, bool) {
	ce, ok := AsConflictError(err)
	if !ok {
		return Decision{}, false
	}
	return Decision{
		Category:   ce.Category,
		Resolvable: ce.Resolvable && !ce.Final,
		Conflict:   ce,
	}, true
}

// Reserve attempts the reservation. With autoResolve, a resolvable conflict
// releases the requester's prior lock and retries exactly once; whatever the
// retry returns is final.
func (r *Resolver) Reserve(ctx context.Context, req *model.ReservationRequest, autoResolve bool) (*model.Appointment, error) {
	appt, err := r.reserver.Reserve(ctx, req)
	if err == nil {
		return appt, nil
	}

	decision, ok := r.Classify(err)
	if !ok || !decision.Resolvable || !autoResolve {
		return nil, err
	}

	released, err := r.reserver.ReleaseOwnPriorLock(ctx, req.UserID, req.SessionID)
	if err != nil {
		return nil, err
	}
	if released != nil {
		r.log.Info("Released prior lock before retry",
			"user_id", req.UserID,
			"released_appointment_id", released.ID,
			"slot", req.SlotKey().String(),
		)
	}

	appt, err = r.reserver.Reserve(ctx, req)
	if err != nil {
		if ce, ok := AsConflictError(err); ok {
			final := *ce
			final.Final = true
			final.Resolvable = false
			return nil, &final
		}
		return nil, err
	}
	return appt, nil
}
