package handler

import (
	"context"
	"net/http"

	"medslots/internal/reservations/service"
	apperrors "medslots/pkg/errors"
	httputil "medslots/pkg/http"
	"medslots/pkg/logger"
	"medslots/pkg/model"

	"github.com/julienschmidt/httprouter"
)

// ConflictResolver reserves with optional automatic resolution of the
// requester's own prior lock.
type ConflictResolver interface {
	Reserve(ctx context.Context, req *model.ReservationRequest, autoResolve bool) (*model.Appointment, error)
}

type ReservationHandler struct {
	service  service.ReservationService
	resolver ConflictResolver
	log      *logger.Logger
}

func NewReservationHandler(service service.ReservationService, resolver ConflictResolver, log *logger.Logger) *ReservationHandler {
	return &ReservationHandler{
		service:  service,
		resolver: resolver,
		log:      log,
	}
}

type CancelResponse struct {
	AppointmentID string                `json:"appointmentId"`
	Outcome       service.CancelOutcome `json:"outcome"`
}

func (h *ReservationHandler) Slots(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	date, err := httputil.ExtractDate(r, "date")
	if err != nil {
		h.writeError(w, "Slots", err)
		return
	}

	grid, err := h.service.Grid(r.Context(), ps.ByName("staff_id"), date)
	if err != nil {
		h.writeError(w, "Slots", err)
		return
	}

	if err := httputil.WriteSuccess(w, "Slots retrieved", grid); err != nil {
		h.log.Error("failed to write success response", "handler", "Slots", "operation", "WriteSuccess", "error", err)
	}
}

func (h *ReservationHandler) Validate(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	req, err := decodeRequest(r)
	if err != nil {
		h.writeError(w, "Validate", err)
		return
	}

	verdict, err := h.service.Validate(r.Context(), req)
	if err != nil {
		h.writeError(w, "Validate", err)
		return
	}
	if !verdict.OK {
		h.writeError(w, "Validate", verdict.Err())
		return
	}

	if err := httputil.WriteSuccess(w, "Slot can be reserved", verdict); err != nil {
		h.log.Error("failed to write success response", "handler", "Validate", "operation", "WriteSuccess", "error", err)
	}
}

func (h *ReservationHandler) Reserve(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	req, err := decodeRequest(r)
	if err != nil {
		h.writeError(w, "Reserve", err)
		return
	}

	appt, err := h.resolver.Reserve(r.Context(), req, req.ResolveConflict)
	if err != nil {
		h.writeError(w, "Reserve", err)
		return
	}

	if err := httputil.WriteCreated(w, "Slot locked", appt); err != nil {
		h.log.Error("failed to write created response", "handler", "Reserve", "operation", "WriteCreated", "error", err)
	}
}

func (h *ReservationHandler) GetByID(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	appt, err := h.service.GetByID(r.Context(), ps.ByName("id"))
	if err != nil {
		h.writeError(w, "GetByID", err)
		return
	}

	if err := httputil.WriteSuccess(w, "Appointment retrieved", appt); err != nil {
		h.log.Error("failed to write success response", "handler", "GetByID", "operation", "WriteSuccess", "error", err)
	}
}

func (h *ReservationHandler) Confirm(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	requestor, err := requireRequestor(r)
	if err != nil {
		h.writeError(w, "Confirm", err)
		return
	}

	appt, err := h.service.Confirm(r.Context(), ps.ByName("id"), requestor)
	if err != nil {
		h.writeError(w, "Confirm", err)
		return
	}

	if err := httputil.WriteSuccess(w, "Appointment confirmed", appt); err != nil {
		h.log.Error("failed to write success response", "handler", "Confirm", "operation", "WriteSuccess", "error", err)
	}
}

func (h *ReservationHandler) Cancel(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	requestor, err := requireRequestor(r)
	if err != nil {
		h.writeError(w, "Cancel", err)
		return
	}

	id := ps.ByName("id")
	outcome, err := h.service.Cancel(r.Context(), id, requestor)
	if err != nil {
		h.writeError(w, "Cancel", err)
		return
	}

	message := "Appointment released"
	if outcome == service.CancelNoop {
		message = "Appointment was already closed"
	}
	if err := httputil.WriteSuccess(w, message, CancelResponse{AppointmentID: id, Outcome: outcome}); err != nil {
		h.log.Error("failed to write success response", "handler", "Cancel", "operation", "WriteSuccess", "error", err)
	}
}

func (h *ReservationHandler) ReleaseOwnLock(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	requestor, err := requireRequestor(r)
	if err != nil {
		h.writeError(w, "ReleaseOwnLock", err)
		return
	}
	if ps.ByName("user_id") != requestor.UserID {
		h.writeError(w, "ReleaseOwnLock", apperrors.Forbidden("Cannot release another user's lock"))
		return
	}

	released, err := h.service.ReleaseOwnPriorLock(r.Context(), requestor.UserID, requestor.SessionID)
	if err != nil {
		h.writeError(w, "ReleaseOwnLock", err)
		return
	}

	message := "Lock released"
	if released == nil {
		message = "No lock held"
	}
	if err := httputil.WriteSuccess(w, message, released); err != nil {
		h.log.Error("failed to write success response", "handler", "ReleaseOwnLock", "operation", "WriteSuccess", "error", err)
	}
}

func (h *ReservationHandler) writeError(w http.ResponseWriter, handler string, err error) {
	if apperrors.HasCode(err, apperrors.CodeInternal) {
		h.log.Error("request failed", "handler", handler, "error", err)
	}
	if writeErr := httputil.WriteError(w, err); writeErr != nil {
		h.log.Error("failed to write error response", "handler", handler, "operation", "WriteError", "error", writeErr)
	}
}

// decodeRequest reads a reservation request. Identity headers fill in a
// missing user or session and must agree with the body when both are set.
func decodeRequest(r *http.Request) (*model.ReservationRequest, error) {
	var req model.ReservationRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		return nil, err
	}

	userID, sessionID := httputil.Requestor(r)
	if req.UserID == "" {
		req.UserID = userID
	} else if userID != "" && userID != req.UserID {
		return nil, apperrors.Forbidden("user_id does not match the requesting user")
	}
	if req.SessionID == "" {
		req.SessionID = sessionID
	}
	return &req, nil
}

func requireRequestor(r *http.Request) (model.Holder, error) {
	userID, sessionID := httputil.Requestor(r)
	if userID == "" {
		return model.Holder{}, apperrors.InvalidInput("missing " + httputil.HeaderUserID + " header")
	}
	return model.Holder{UserID: userID, SessionID: sessionID}, nil
}

func (h *ReservationHandler) RegisterRoutes(router *httprouter.Router) {
	router.GET("/api/v1/staff/:staff_id/slots", h.Slots)
	router.POST("/api/v1/appointments/validate", h.Validate)
	router.POST("/api/v1/appointments", h.Reserve)
	router.GET("/api/v1/appointments/id/:id", h.GetByID)
	router.POST("/api/v1/appointments/id/:id/confirm", h.Confirm)
	router.POST("/api/v1/appointments/id/:id/cancel", h.Cancel)
	router.DELETE("/api/v1/users/:user_id/lock", h.ReleaseOwnLock)
}
