// Package server exposes the push and delete operations over HTTP.
package server

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/operator-framework/omps/pkg/apierrors"
	"github.com/operator-framework/omps/pkg/metrics"
	"github.com/operator-framework/omps/pkg/publish"
	"github.com/operator-framework/omps/pkg/source"
	"github.com/operator-framework/omps/pkg/version"
)

const (
	RequestIDHeader = "X-Request-Id"

	defaultPingTimeout = 10 * time.Second
)

// Publisher publishes payloads.
type Publisher interface {
	Push(ctx context.Context, req publish.PushRequest) (*publish.PushResult, error)
}

// Remover deletes releases.
type Remover interface {
	Delete(ctx context.Context, req publish.DeleteRequest) (*publish.DeleteResult, error)
}

// Pinger checks a backing service.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options configures a Server.
type Options struct {
	Publisher Publisher
	Remover   Remover
	// Builds downloads manifest archives of build-system builds.
	Builds source.ArchiveDownloader
	// Services are reported by the health endpoint. A nil Pinger is left
	// out of the report.
	Services map[string]Pinger

	MaxContentLength    int64
	MaxUncompressedSize int64
	PingTimeout         time.Duration
	Version             string

	Gatherer prometheus.Gatherer
	Logger   *logrus.Logger
}

// Server is the omps HTTP API.
type Server struct {
	opts    Options
	logger  *logrus.Logger
	access  *io.PipeWriter
	handler http.Handler
}

// New returns a server for opts.
func New(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.PingTimeout <= 0 {
		opts.PingTimeout = defaultPingTimeout
	}
	if opts.Version == "" {
		opts.Version = version.Version
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		opts:   opts,
		logger: opts.Logger,
		access: opts.Logger.WriterLevel(logrus.InfoLevel),
	}

	var h http.Handler = s.routes()
	h = s.withRequestID(h)
	h = handlers.CombinedLoggingHandler(s.access, h)
	h = handlers.RecoveryHandler(handlers.RecoveryLogger(s.logger), handlers.PrintRecoveryStack(true))(h)
	s.handler = h
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Close releases the access log writer.
func (s *Server) Close() error {
	return s.access.Close()
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.fail(w, r, apierrors.New(apierrors.NotFound, "The requested URL was not found on the server"))
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.fail(w, r, apierrors.New(apierrors.MethodNotAllowed, "The method is not allowed for the requested URL"))
	})

	r.Handle("/metrics", metrics.Handler(s.opts.Gatherer)).Methods(http.MethodGet)

	for _, api := range []string{"/v1", "/v2"} {
		r.HandleFunc(api+"/health/ping", s.ping).Methods(http.MethodGet)
		r.HandleFunc(api+"/about", s.about).Methods(http.MethodGet)
	}

	for _, path := range []string{
		"/v1/{org}/{repo}/zipfile",
		"/v1/{org}/{repo}/zipfile/{version}",
		"/v2/{org}/zipfile",
		"/v2/{org}/zipfile/{version}",
	} {
		r.Handle(path, s.authorized(s.pushZipfile)).Methods(http.MethodPost)
	}
	for _, path := range []string{
		"/v1/{org}/{repo}/koji/{nvr}",
		"/v1/{org}/{repo}/koji/{nvr}/{version}",
		"/v2/{org}/koji/{nvr}",
		"/v2/{org}/koji/{nvr}/{version}",
	} {
		r.Handle(path, s.authorized(s.pushBuild)).Methods(http.MethodPost)
	}
	for _, path := range []string{
		"/v1/{org}/{repo}",
		"/v1/{org}/{repo}/{version}",
		"/v2/{org}/{repo}",
		"/v2/{org}/{repo}/{version}",
	} {
		r.Handle(path, s.authorized(s.delete)).Methods(http.MethodDelete)
	}
	return r
}

type loggerKey struct{}

// withRequestID tags every request with an id, echoed in the response and
// added to the request logger.
func (s *Server) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)

		logger := s.logger.WithField("request_id", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), loggerKey{}, logger)))
	})
}

func (s *Server) requestLogger(r *http.Request) logrus.FieldLogger {
	if l, ok := r.Context().Value(loggerKey{}).(logrus.FieldLogger); ok {
		return l
	}
	return s.logger
}

// authorized rejects requests without an Authorization header before any
// other processing.
func (s *Server) authorized(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "" {
			s.fail(w, r, apierrors.New(apierrors.AuthorizationHeaderRequired,
				"Request contains no 'Authorization' header"))
			return
		}
		next(w, r)
	})
}
