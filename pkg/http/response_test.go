package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	apperrors "medslots/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestWriteSuccess(t *testing.T) {
	rec := httptest.NewRecorder()
	require.NoError(t, WriteSuccess(rec, "Slots retrieved", []string{"09:00-09:30"}))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"isSuccess":true,"code":200,"message":"Slots retrieved","data":["09:00-09:30"]}`, rec.Body.String())
}

func TestWriteCreated(t *testing.T) {
	rec := httptest.NewRecorder()
	require.NoError(t, WriteCreated(rec, "Slot locked", map[string]string{"id": "a1"}))

	assert.Equal(t, http.StatusCreated, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, true, body["isSuccess"])
	assert.Equal(t, float64(http.StatusCreated), body["code"])
}

func TestWriteError(t *testing.T) {
	t.Run("app error with details", func(t *testing.T) {
		rec := httptest.NewRecorder()
		err := apperrors.Conflict("Slot is held").WithDetails(map[string]any{"category": "ForeignLock"})
		require.NoError(t, WriteError(rec, err))

		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.JSONEq(t, `{"isSuccess":false,"code":409,"message":"Slot is held","data":{"category":"ForeignLock"}}`, rec.Body.String())
	})

	t.Run("internal errors hide the cause", func(t *testing.T) {
		rec := httptest.NewRecorder()
		require.NoError(t, WriteError(rec, errors.New("mongo: connection pool exhausted")))

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		body := decode(t, rec)
		assert.Equal(t, "Internal server error", body["message"])
		assert.NotContains(t, rec.Body.String(), "mongo")
		_, hasData := body["data"]
		assert.False(t, hasData)
	})
}

func TestDecodeJSON(t *testing.T) {
	type payload struct {
		StaffID string `json:"staff_id"`
	}

	var p payload
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"staff_id":"staffD"}`))
	require.NoError(t, DecodeJSON(req, &p))
	assert.Equal(t, "staffD", p.StaffID)

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"staff":"staffD"}`))
	err := DecodeJSON(req, &p)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeInvalidInput))

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(``))
	err = DecodeJSON(req, &p)
	require.Error(t, err)
	assert.Equal(t, "request body is empty", apperrors.AsAppError(err).Message)
}

func TestExtractDate(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?date=2024-06-01", nil)
	date, err := ExtractDate(req, "date")
	require.NoError(t, err)
	assert.Equal(t, "2024-06-01", date)

	for _, target := range []string{"/", "/?date=", "/?date=06-01-2024", "/?date=2024-13-01"} {
		_, err := ExtractDate(httptest.NewRequest(http.MethodGet, target, nil), "date")
		assert.True(t, apperrors.HasCode(err, apperrors.CodeInvalidInput), target)
	}
}

func TestRequestor(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderUserID, "userX")
	req.Header.Set(HeaderSessionID, "tab-1")

	user, session := Requestor(req)
	assert.Equal(t, "userX", user)
	assert.Equal(t, "tab-1", session)
}
