package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/MrWong99/handoff/internal/observe"
	"github.com/MrWong99/handoff/pkg/escalation"
)

// Error codes returned in [ErrorBody.Code].
const (
	CodeNotFound        = "not_found"
	CodeAlreadyResolved = "already_resolved"
	CodeDuplicateWaiter = "duplicate_waiter"
	CodeInvalidRequest  = "invalid_request"
	CodeNotConfigured   = "not_configured"
	CodeInternal        = "internal"
	CodeInvariantBreach = "invariant_violation"
	CodeClientCancelled = "cancelled"
)

// statusClientClosed is the nginx convention for a client that went away
// before the response was written.
const statusClientClosed = 499

// ErrorBody is the JSON body of every non-2xx response.
type ErrorBody struct {
	Code    string `json:"error"`
	Message string `json:"message"`

	// Escalation holds the current record when Code is already_resolved so
	// the losing operator can show the actual resolution.
	Escalation *escalation.Escalation `json:"escalation,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	// The status line is already out; a failed body can only be logged.
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("api: write response body", "status", status, "err", err)
	}
}

func writeBadRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, ErrorBody{Code: CodeInvalidRequest, Message: msg})
}

// writeError maps orchestrator errors onto HTTP status codes.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var already *escalation.AlreadyResolvedError
	switch {
	case errors.As(err, &already):
		writeJSON(w, http.StatusConflict, ErrorBody{
			Code:       CodeAlreadyResolved,
			Message:    "escalation was already resolved",
			Escalation: already.Current,
		})
	case errors.Is(err, escalation.ErrAlreadyResolved):
		writeJSON(w, http.StatusConflict, ErrorBody{Code: CodeAlreadyResolved, Message: err.Error()})
	case errors.Is(err, escalation.ErrNotFound):
		writeJSON(w, http.StatusNotFound, ErrorBody{Code: CodeNotFound, Message: "escalation not found"})
	case errors.Is(err, escalation.ErrEmptyResponse):
		writeJSON(w, http.StatusBadRequest, ErrorBody{Code: CodeInvalidRequest, Message: "response must not be empty"})
	case errors.Is(err, escalation.ErrDuplicateWaiter):
		writeJSON(w, http.StatusConflict, ErrorBody{Code: CodeDuplicateWaiter, Message: "escalation is already being awaited"})
	case errors.Is(err, context.Canceled) && r.Context().Err() != nil:
		writeJSON(w, statusClientClosed, ErrorBody{Code: CodeClientCancelled, Message: "request cancelled"})
	case errors.Is(err, escalation.ErrInvariantViolation):
		observe.Logger(r.Context()).Error("invariant violation", "path", r.URL.Path, "err", err)
		writeJSON(w, http.StatusInternalServerError, ErrorBody{Code: CodeInvariantBreach, Message: "internal invariant violated"})
	default:
		observe.Logger(r.Context()).Error("request failed", "path", r.URL.Path, "err", err)
		writeJSON(w, http.StatusInternalServerError, ErrorBody{Code: CodeInternal, Message: "internal error"})
	}
}
