package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/steinarvk/natours/lib/apierror"
	"github.com/steinarvk/natours/lib/apifeatures"
	"github.com/steinarvk/natours/lib/logging"
	"github.com/steinarvk/natours/lib/natours"
	"github.com/steinarvk/natours/lib/natoursapi"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

const APIPrefix = "/api/v1"

// Option is the type for functional options that can return an error
type Option func(*Server) error

// Server holds the HTTP server configuration
type Server struct {
	host string
	port int

	service      *natours.Service
	logger       *zap.Logger
	development  bool
	maxBodyBytes int64
	features     []apifeatures.Option

	registry *prometheus.Registry
	metrics  *metrics
}

// New creates a new server with default values and applies given options
func New(options ...Option) (*Server, error) {
	s := &Server{
		host:         "127.0.0.1",
		port:         3000,
		logger:       zap.L(),
		maxBodyBytes: 10 * 1024,
		registry:     prometheus.NewRegistry(),
	}

	for _, option := range options {
		err := option(s)
		if err != nil {
			return nil, err
		}
	}

	if s.service == nil {
		return nil, errors.New("no service configured")
	}

	s.metrics = newMetrics(s.registry)

	return s, nil
}

// WithHost is a functional option to set the server's host
func WithHost(host string) Option {
	return func(s *Server) error {
		if host == "" {
			return fmt.Errorf("host cannot be empty")
		}
		s.host = host
		return nil
	}
}

// WithPort is a functional option to set the server's port
func WithPort(port int) Option {
	return func(s *Server) error {
		if port <= 0 {
			return fmt.Errorf("port must be positive")
		}
		s.port = port
		return nil
	}
}

func WithService(service *natours.Service) Option {
	return func(s *Server) error {
		s.service = service
		return nil
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) error {
		if logger == nil {
			return fmt.Errorf("logger cannot be nil")
		}
		s.logger = logger
		return nil
	}
}

// WithDevelopment makes error responses carry internal details.
func WithDevelopment(development bool) Option {
	return func(s *Server) error {
		s.development = development
		return nil
	}
}

func WithMaxBodyBytes(n int64) Option {
	return func(s *Server) error {
		if n < 0 {
			return fmt.Errorf("body limit must not be negative")
		}
		if n > 0 {
			s.maxBodyBytes = n
		}
		return nil
	}
}

// WithPagination sets the page size used when a list request has none and
// the largest one a client may ask for.
func WithPagination(defaultLimit, maxLimit int) Option {
	return func(s *Server) error {
		s.features = append(s.features,
			apifeatures.WithDefaultLimit(defaultLimit),
			apifeatures.WithMaxLimit(maxLimit))
		return nil
	}
}

// apiHandlerFunc is a custom type for our API handlers
type apiHandlerFunc func(w http.ResponseWriter, r *http.Request) error

// Handler builds the full handler tree: routes, instrumentation and request
// scoped logging.
func (s *Server) Handler() http.Handler {
	router := mux.NewRouter()
	router.Use(s.instrument)
	router.NotFoundHandler = s.instrument(http.HandlerFunc(s.notFound))
	router.MethodNotAllowedHandler = s.instrument(http.HandlerFunc(s.methodNotAllowed))

	router.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	api := router.PathPrefix(APIPrefix).Subrouter()
	s.registerTourRoutes(api)
	s.registerReviewRoutes(api)
	s.registerUserRoutes(api)

	return s.withRequestContext(otelhttp.NewHandler(router, "natours"))
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	address := net.JoinHostPort(s.host, strconv.Itoa(s.port))

	httpServer := &http.Server{
		Addr:              address,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server is running", zap.String("address", address))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.logger.Info("shutting down")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("error shutting down: %w", err)
	}
	return nil
}

// apiHandler adapts our custom handler type to http.Handler
func (s *Server) apiHandler(handler apiHandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := handler(w, r); err != nil {
			s.writeJSONError(w, r, apierror.Translate(err))
		}
	})
}

func (s *Server) notFound(w http.ResponseWriter, r *http.Request) {
	s.writeJSONError(w, r, apierror.NotFound(fmt.Sprintf("Can't find %s on this server!", r.URL.RequestURI())))
}

func (s *Server) methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	s.writeJSONError(w, r, apierror.New(
		apierror.WithErrorID("method-not-allowed"),
		apierror.WithHTTPCode(http.StatusMethodNotAllowed),
		apierror.WithPublicMessage(fmt.Sprintf("Method %s is not allowed on %s", r.Method, r.URL.Path)),
	))
}

func writeJSON(w http.ResponseWriter, statusCode int, value interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(value)
}

// writeJSONError sends an error message in JSON format
func (s *Server) writeJSONError(w http.ResponseWriter, r *http.Request, apiErr apierror.APIError) {
	logger := logging.FromContext(r.Context())
	fields := []zap.Field{
		zap.Int("status", apiErr.HTTPStatusCode()),
		zap.String("error_id", apiErr.InternalErrorDetail().ErrorID),
		zap.String("message", apiErr.Error()),
	}
	if internal := apiErr.InternalErrorDetail().Message; internal != "" {
		fields = append(fields, zap.String("internal_message", internal))
	}
	if apiErr.HTTPStatusCode() >= 500 {
		logger.Error("request failed", fields...)
	} else {
		logger.Info("request rejected", fields...)
	}

	response := natoursapi.ErrorResponse{
		Status:  apiErr.Status(),
		Message: apiErr.Error(),
	}
	if s.development {
		response.Detail = apiErr.InternalErrorDetail()
	}
	writeJSON(w, apiErr.HTTPStatusCode(), response)
}
