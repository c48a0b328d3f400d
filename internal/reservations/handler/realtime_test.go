package handler

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"medslots/pkg/model"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dial(t *testing.T, srv *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + path
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) model.SlotEvent {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var event model.SlotEvent
	require.NoError(t, conn.ReadJSON(&event))
	return event
}

func TestEvents_SnapshotThenTransitions(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.router)
	defer srv.Close()

	conn := dial(t, srv, "/api/v1/staff/staffD/events?date="+testDate)

	snapshot := readEvent(t, conn)
	assert.Equal(t, model.EventGridSnapshot, snapshot.Kind)
	require.Len(t, snapshot.Slots, 6)

	// a different date on the same staff channel is filtered out
	other := reservationBody("09:00-09:30", false)
	other["date"] = "2024-06-08"
	status, _ := s.do(t, http.MethodPost, "/api/v1/appointments", other, "userZ", "tab1")
	require.Equal(t, http.StatusCreated, status)

	status, _ = s.do(t, http.MethodPost, "/api/v1/appointments", reservationBody("10:00-10:30", false), "userX", "tab1")
	require.Equal(t, http.StatusCreated, status)

	locked := readEvent(t, conn)
	assert.Equal(t, model.EventSlotLocked, locked.Kind)
	assert.Equal(t, testDate, locked.Date)
	assert.Equal(t, "10:00-10:30", locked.TimeRange)
	assert.NotNil(t, locked.LockedUntil)
}

func TestEvents_SessionNotices(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.router)
	defer srv.Close()

	_, env := s.do(t, http.MethodPost, "/api/v1/appointments", reservationBody("09:00-09:30", false), "userX", "tab1")
	require.True(t, env.IsSuccess)

	conn := dial(t, srv, "/api/v1/staff/staffD/events?date="+testDate+"&user_id=userX&session_id=tab1")
	snapshot := readEvent(t, conn)
	assert.Equal(t, model.SlotLocked, snapshot.Slots[0].State)

	// released from another tab: the staff channel sees the release and the
	// owning tab gets a notice
	status, _ := s.do(t, http.MethodDelete, "/api/v1/users/userX/lock", nil, "userX", "tab2")
	require.Equal(t, http.StatusOK, status)

	kinds := map[model.EventKind]model.SlotEvent{}
	for i := 0; i < 2; i++ {
		event := readEvent(t, conn)
		kinds[event.Kind] = event
	}
	require.Contains(t, kinds, model.EventSlotReleased)
	require.Contains(t, kinds, model.EventLockReleased)
	assert.Equal(t, model.ReasonUser, kinds[model.EventSlotReleased].Reason)
}

func TestEvents_RequiresDate(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/staff/staffD/events", nil)
	rr := httptest.NewRecorder()
	s.router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Zero(t, s.broadcaster.SubscriberCount("staffD"))
}

func TestEvents_UnsubscribesOnDisconnect(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.router)
	defer srv.Close()

	conn := dial(t, srv, "/api/v1/staff/staffD/events?date="+testDate)
	readEvent(t, conn)
	assert.Equal(t, 1, s.broadcaster.SubscriberCount("staffD"))

	conn.Close()
	assert.Eventually(t, func() bool {
		return s.broadcaster.SubscriberCount("staffD") == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestEvents_ClosedWhenBroadcasterStops(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.router)
	defer srv.Close()

	conn := dial(t, srv, "/api/v1/staff/staffD/events?date="+testDate)
	readEvent(t, conn)

	s.broadcaster.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseTryAgainLater), err)
}
