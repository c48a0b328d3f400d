package middleware

import (
	"net/http"
	"strings"

	httputil "medslots/pkg/http"
	"medslots/pkg/logger"
)

type contextKey string

const RequestIDKey contextKey = "request_id"

func requestID(r *http.Request) string {
	if id, ok := r.Context().Value(RequestIDKey).(string); ok {
		return id
	}
	return ""
}

// isWebSocket reports whether r asks for a protocol upgrade. Such requests
// are long-lived and must reach the handler with a hijackable writer.
func isWebSocket(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}

func reject(w http.ResponseWriter, log *logger.Logger, err error) {
	if writeErr := httputil.WriteError(w, err); writeErr != nil {
		log.Error("failed to write error response", "operation", "WriteError", "error", writeErr)
	}
}
