package http

import (
	"encoding/json"
	"net/http"

	apperrors "medslots/pkg/errors"
)

// Envelope is the body shape of every API response.
type Envelope struct {
	IsSuccess bool   `json:"isSuccess"`
	Code      int    `json:"code"`
	Message   string `json:"message"`
	Data      any    `json:"data,omitempty"`
}

func WriteJSON(w http.ResponseWriter, statusCode int, data any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(data)
}

func WriteError(w http.ResponseWriter, err error) error {
	appErr := apperrors.AsAppError(err)
	statusCode := appErr.StatusCode()
	if statusCode == 0 {
		statusCode = http.StatusInternalServerError
	}

	message := appErr.Message
	if appErr.Code == apperrors.CodeInternal {
		message = "Internal server error"
	}

	env := Envelope{
		IsSuccess: false,
		Code:      statusCode,
		Message:   message,
	}
	if len(appErr.Details) > 0 {
		env.Data = appErr.Details
	}
	return WriteJSON(w, statusCode, env)
}

func WriteSuccess(w http.ResponseWriter, message string, data any) error {
	return WriteJSON(w, http.StatusOK, Envelope{
		IsSuccess: true,
		Code:      http.StatusOK,
		Message:   message,
		Data:      data,
	})
}

func WriteCreated(w http.ResponseWriter, message string, data any) error {
	return WriteJSON(w, http.StatusCreated, Envelope{
		IsSuccess: true,
		Code:      http.StatusCreated,
		Message:   message,
		Data:      data,
	})
}
