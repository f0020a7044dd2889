package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestGenerateRequestID(t *testing.T) {
	id1 := GenerateRequestID()
	id2 := GenerateRequestID()

	if id1 == id2 {
		t.Error("expected unique request IDs")
	}
	if _, err := uuid.Parse(id1); err != nil {
		t.Errorf("expected a UUID, got %q: %v", id1, err)
	}
}

func TestRequestIDFromContext(t *testing.T) {
	if got := RequestIDFromContext(context.Background()); got != "" {
		t.Errorf("expected empty string, got %q", got)
	}

	ctx := ContextWithRequestID(context.Background(), "test-request-123")
	if got := RequestIDFromContext(ctx); got != "test-request-123" {
		t.Errorf("expected %q, got %q", "test-request-123", got)
	}
}

func TestRequestIDMiddleware(t *testing.T) {
	tests := []struct {
		name     string
		incoming string
		preserve bool
	}{
		{"generates when missing", "", false},
		{"preserves well formed", "existing-request-id-123", true},
		{"replaces invalid characters", "bad id;drop", false},
		{"replaces overlong", strings.Repeat("a", 129), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var captured string
			handler := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				captured = RequestIDFromContext(r.Context())
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(http.MethodGet, "/v1/speech", nil)
			if tt.incoming != "" {
				req.Header.Set(RequestIDHeader, tt.incoming)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if captured == "" {
				t.Fatal("expected request ID in context")
			}
			if rec.Header().Get(RequestIDHeader) != captured {
				t.Error("response header should match context ID")
			}
			if tt.preserve && captured != tt.incoming {
				t.Errorf("expected preserved ID %q, got %q", tt.incoming, captured)
			}
			if !tt.preserve && captured == tt.incoming {
				t.Errorf("expected a fresh ID, got %q", captured)
			}
		})
	}
}

func TestRequestIDMiddleware_TagsSpan(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	defer func() { _ = provider.Shutdown(context.Background()) }()

	handler := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	ctx, span := provider.Tracer("test").Start(context.Background(), "request")
	req := httptest.NewRequest(http.MethodGet, "/v1/speech", nil).WithContext(ctx)
	req.Header.Set(RequestIDHeader, "trace-me")
	handler.ServeHTTP(httptest.NewRecorder(), req)
	span.End()

	ended := recorder.Ended()
	if len(ended) != 1 {
		t.Fatalf("expected 1 span, got %d", len(ended))
	}
	var found bool
	for _, kv := range ended[0].Attributes() {
		if kv.Key == "request.id" && kv.Value.AsString() == "trace-me" {
			found = true
		}
	}
	if !found {
		t.Errorf("span attributes %v missing request.id", ended[0].Attributes())
	}
}
