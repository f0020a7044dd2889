package api //nolint:revive // package name is intentional

import (
	"context"
	stderrors "errors"
	"log/slog"
	"net/http"

	"github.com/goccy/go-json"

	"github.com/vocabforge/vocabcache/pkg/errors"
)

// statusClientClosedRequest is the nginx convention for a client that went away.
const statusClientClosedRequest = 499

// ErrorResponse is the error envelope returned by every endpoint.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail describes the error payload.
type ErrorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Service string `json:"service,omitempty"`
}

func writeJSON(w http.ResponseWriter, logger *slog.Logger, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("failed to encode response", "error", err)
	}
}

// writeError renders a GenerationError; anything else is reported as internal
// without leaking its message.
func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	genErr, ok := errors.As(err)
	switch {
	case ok:
	case stderrors.Is(err, context.DeadlineExceeded):
		genErr = errors.NewTimeoutError("", "request timed out")
	case stderrors.Is(err, context.Canceled):
		genErr = &errors.GenerationError{StatusCode: statusClientClosedRequest, Message: "request canceled", Type: errors.TypeTimeout}
	default:
		logger.Error("unexpected handler error", "error", err)
		genErr = errors.NewInternalError("", "internal error")
	}

	writeJSON(w, logger, genErr.HTTPStatusCode(), ErrorResponse{
		Error: ErrorDetail{
			Message: genErr.Message,
			Type:    genErr.Type,
			Service: genErr.Service,
		},
	})
}
