package handler

import (
	"context"
	"net/http"
	"time"

	"medslots/internal/broadcast"
	httputil "medslots/pkg/http"
	"medslots/pkg/logger"
	"medslots/pkg/model"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// GridReader supplies the snapshots sent on connect and periodically after.
type GridReader interface {
	Grid(ctx context.Context, staffID, date string) ([]model.Slot, error)
}

// RealtimeHandler serves a staff member's slot channel over WebSocket.
type RealtimeHandler struct {
	broadcaster      *broadcast.Broadcaster
	grids            GridReader
	snapshotInterval time.Duration
	upgrader         websocket.Upgrader
	log              *logger.Logger
}

func NewRealtimeHandler(broadcaster *broadcast.Broadcaster, grids GridReader, snapshotInterval time.Duration, log *logger.Logger) *RealtimeHandler {
	return &RealtimeHandler{
		broadcaster:      broadcaster,
		grids:            grids,
		snapshotInterval: snapshotInterval,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		log: log,
	}
}

// Events streams slot_locked, slot_released and slot_confirmed events for
// one staff member and date, preceded by a grid_snapshot and refreshed by
// periodic snapshots. With user_id and session_id the session also receives
// its own lock_released notices.
func (h *RealtimeHandler) Events(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	staffID := ps.ByName("staff_id")
	date, err := httputil.ExtractDate(r, "date")
	if err != nil {
		if writeErr := httputil.WriteError(w, err); writeErr != nil {
			h.log.Error("failed to write error response", "handler", "Events", "operation", "WriteError", "error", writeErr)
		}
		return
	}

	// Subscribe before reading the grid so no transition falls between them.
	staffSub := h.broadcaster.Subscribe(staffID)
	defer staffSub.Close()

	var sessionEvents <-chan model.SlotEvent
	query := r.URL.Query()
	if userID, sessionID := query.Get("user_id"), query.Get("session_id"); userID != "" && sessionID != "" {
		sessionSub := h.broadcaster.SubscribeSession(model.Holder{UserID: userID, SessionID: sessionID})
		defer sessionSub.Close()
		sessionEvents = sessionSub.Events()
	}

	snapshot, err := h.snapshot(r.Context(), staffID, date)
	if err != nil {
		if writeErr := httputil.WriteError(w, err); writeErr != nil {
			h.log.Error("failed to write error response", "handler", "Events", "operation", "WriteError", "error", writeErr)
		}
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("WebSocket upgrade failed", "staff_id", staffID, "error", err)
		return
	}
	defer conn.Close()

	closed := make(chan struct{})
	go h.readPump(conn, closed)

	if err := h.write(conn, snapshot); err != nil {
		return
	}

	var snapshots <-chan time.Time
	if h.snapshotInterval > 0 {
		ticker := time.NewTicker(h.snapshotInterval)
		defer ticker.Stop()
		snapshots = ticker.C
	}
	pings := time.NewTicker(pingPeriod)
	defer pings.Stop()

	staffEvents := staffSub.Events()
	for {
		var err error
		select {
		case <-closed:
			return
		case event, ok := <-staffEvents:
			if !ok {
				// dropped for falling behind; the client reconnects and refetches
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "subscriber dropped"),
					time.Now().Add(writeWait))
				return
			}
			if event.Date != date {
				continue
			}
			err = h.write(conn, event)
		case event, ok := <-sessionEvents:
			if !ok {
				sessionEvents = nil
				continue
			}
			err = h.write(conn, event)
		case <-snapshots:
			snapshot, serr := h.snapshot(r.Context(), staffID, date)
			if serr != nil {
				h.log.Warn("Periodic snapshot failed", "staff_id", staffID, "date", date, "error", serr)
				continue
			}
			err = h.write(conn, snapshot)
		case <-pings.C:
			err = conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
		}
		if err != nil {
			h.log.Debug("WebSocket write failed", "staff_id", staffID, "error", err)
			return
		}
	}
}

func (h *RealtimeHandler) snapshot(ctx context.Context, staffID, date string) (model.SlotEvent, error) {
	grid, err := h.grids.Grid(ctx, staffID, date)
	if err != nil {
		return model.SlotEvent{}, err
	}
	return model.SlotEvent{
		ID:         uuid.NewString(),
		Kind:       model.EventGridSnapshot,
		StaffID:    staffID,
		Date:       date,
		Slots:      grid,
		OccurredAt: time.Now().UTC(),
	}, nil
}

func (h *RealtimeHandler) write(conn *websocket.Conn, event model.SlotEvent) error {
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return conn.WriteJSON(event)
}

// readPump discards client messages and signals when the peer goes away.
func (h *RealtimeHandler) readPump(conn *websocket.Conn, closed chan<- struct{}) {
	defer close(closed)

	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *RealtimeHandler) RegisterRoutes(router *httprouter.Router) {
	router.GET("/api/v1/staff/:staff_id/events", h.Events)
}
