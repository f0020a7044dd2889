package metrics

import (
	"net/http"
	"strconv"
	"time"
)

// Route labels longer than this are cut to bound series size.
const routeLabelLimit = 64

// codeWriter remembers the first status written to the response.
type codeWriter struct {
	http.ResponseWriter
	code int
}

func (w *codeWriter) WriteHeader(code int) {
	if w.code == 0 {
		w.code = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *codeWriter) Write(b []byte) (int, error) {
	if w.code == 0 {
		w.code = http.StatusOK
	}
	return w.ResponseWriter.Write(b)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (w *codeWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

func (w *codeWriter) status() string {
	if w.code == 0 {
		return "200"
	}
	return strconv.Itoa(w.code)
}

// Middleware records request count and latency per matched route. It must
// wrap the ServeMux directly so r.Pattern is set once next returns.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		began := time.Now()
		cw := &codeWriter{ResponseWriter: w}
		next.ServeHTTP(cw, r)

		route := r.Pattern
		switch {
		case route == "":
			route = "unmatched"
		case len(route) > routeLabelLimit:
			route = route[:routeLabelLimit]
		}
		RequestsTotal.WithLabelValues(route, cw.status()).Inc()
		RequestLatency.WithLabelValues(route).Observe(time.Since(began).Seconds())
	})
}
