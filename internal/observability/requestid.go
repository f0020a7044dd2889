package observability

import (
	"context"
	"net/http"
	"regexp"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// RequestIDHeader carries the request ID in both directions.
const RequestIDHeader = "X-Request-ID"

// Client supplied IDs are echoed only when they are short and header safe.
var validRequestID = regexp.MustCompile(`^[A-Za-z0-9._-]{1,128}$`)

type ctxKeyRequestID struct{}

// GenerateRequestID returns a random UUIDv4 string.
func GenerateRequestID() string {
	return uuid.NewString()
}

// ContextWithRequestID returns a copy of ctx carrying id.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyRequestID{}, id)
}

// RequestIDFromContext returns the ID stored by ContextWithRequestID, or "".
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(ctxKeyRequestID{}).(string)
	return id
}

// RequestIDMiddleware tags every request with an ID. The caller's
// X-Request-ID wins when it is valid. The ID is written to the response,
// stored in the context and attached to the active span.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if !validRequestID.MatchString(id) {
			id = GenerateRequestID()
		}
		w.Header().Set(RequestIDHeader, id)

		ctx := ContextWithRequestID(r.Context(), id)
		if span := trace.SpanFromContext(ctx); span.IsRecording() {
			span.SetAttributes(attribute.String("request.id", id))
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
