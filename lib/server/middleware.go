package server

import (
	"net/http"
	"strconv"

	"github.com/felixge/httpsnoop"
	"github.com/gorilla/mux"
	"github.com/steinarvk/natours/lib/logging"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const requestIDHeader = "X-Request-Id"

// withRequestContext gives every request an ID and a logger tagged with it.
func (s *Server) withRequestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := logging.NewContextWithLogger(r.Context(), s.logger, s.development)
		ctx, requestID := logging.WithRequestID(ctx)
		w.Header().Set(requestIDHeader, requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func routeName(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tmpl, err := route.GetPathTemplate(); err == nil {
			return tmpl
		}
	}
	return "unmatched"
}

// instrument records the access log line, the request metrics and the route
// on the active span.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := routeName(r)

		span := trace.SpanFromContext(r.Context())
		span.SetAttributes(
			attribute.String("http.route", route),
			attribute.String("natours.request_id", logging.RequestID(r.Context())),
		)

		s.metrics.inFlight.Inc()
		m := httpsnoop.CaptureMetrics(next, w, r)
		s.metrics.inFlight.Dec()

		s.metrics.requests.WithLabelValues(route, r.Method, strconv.Itoa(m.Code)).Inc()
		s.metrics.duration.WithLabelValues(route, r.Method).Observe(m.Duration.Seconds())

		logging.FromContext(r.Context()).Info("request",
			zap.String("method", r.Method),
			zap.String("url", r.URL.RequestURI()),
			zap.String("route", route),
			zap.Int("status", m.Code),
			zap.Int64("bytes", m.Written),
			zap.Duration("duration", m.Duration))
	})
}
