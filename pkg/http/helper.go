package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	apperrors "medslots/pkg/errors"
)

const DateLayout = "2006-01-02"

const (
	HeaderUserID    = "X-User-ID"
	HeaderSessionID = "X-Session-ID"
)

// DecodeJSON decodes the request body into v, rejecting unknown fields.
func DecodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return apperrors.InvalidInput("request body is empty")
		}
		return apperrors.InvalidInput("Invalid request body: " + err.Error())
	}
	return nil
}

// ExtractDate reads a required YYYY-MM-DD query parameter.
func ExtractDate(r *http.Request, param string) (string, error) {
	s := r.URL.Query().Get(param)
	if s == "" {
		return "", apperrors.InvalidInput("missing '" + param + "' query parameter")
	}
	if _, err := time.Parse(DateLayout, s); err != nil {
		return "", apperrors.InvalidInput("invalid " + param + " parameter, must be YYYY-MM-DD: " + s)
	}
	return s, nil
}

// Requestor reads the caller identity headers. Both may be empty.
func Requestor(r *http.Request) (userID, sessionID string) {
	return r.Header.Get(HeaderUserID), r.Header.Get(HeaderSessionID)
}
