// Package swiftsim is an in-process server speaking the Cloud Files subset of
// the OpenStack Swift and identity v2.0 APIs. It backs integration tests and
// local development; records live in a catalog.Catalog and payloads in a
// storage.BlobStore.
package swiftsim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/jwtauth"
	"github.com/google/uuid"
	"github.com/tendant/simple-cloudfiles/pkg/swiftsim/blobkey"
	"github.com/tendant/simple-cloudfiles/pkg/swiftsim/catalog"
	memorycatalog "github.com/tendant/simple-cloudfiles/pkg/swiftsim/catalog/memory"
	"github.com/tendant/simple-cloudfiles/pkg/swiftsim/storage"
	memorystorage "github.com/tendant/simple-cloudfiles/pkg/swiftsim/storage/memory"
)

func init() {
	chi.RegisterMethod("COPY")
}

// User is an identity the server accepts.
type User struct {
	Name          string
	Password      string
	APIKey        string
	Account       string
	DefaultRegion string
}

// Server implements http.Handler.
type Server struct {
	catalog  catalog.Catalog
	blobs    storage.BlobStore
	keys     blobkey.Generator
	users    []User
	region   string
	tokenTTL time.Duration
	secret   []byte
	logger   *slog.Logger
	metrics  *Metrics
	now      func() time.Time
	locks    objectLocks

	auth   *jwtauth.JWTAuth
	router chi.Router
}

// Option is a functional option for configuring a Server
type Option func(*Server) error

// WithCatalog sets the record store
func WithCatalog(c catalog.Catalog) Option {
	return func(s *Server) error {
		s.catalog = c
		return nil
	}
}

// WithBlobStore sets the payload store
func WithBlobStore(b storage.BlobStore) Option {
	return func(s *Server) error {
		s.blobs = b
		return nil
	}
}

// WithKeyGenerator sets how payload keys are laid out in the blob store
func WithKeyGenerator(g blobkey.Generator) Option {
	return func(s *Server) error {
		s.keys = g
		return nil
	}
}

// WithUser registers a user. Account defaults to MossoCloudFS_<name>.
func WithUser(u User) Option {
	return func(s *Server) error {
		if u.Name == "" {
			return errors.New("user name is required")
		}
		if u.Password == "" && u.APIKey == "" {
			return fmt.Errorf("user %s needs a password or api key", u.Name)
		}
		if u.Account == "" {
			u.Account = "MossoCloudFS_" + u.Name
		}
		s.users = append(s.users, u)
		return nil
	}
}

// WithRegion sets the region advertised in the service catalog
func WithRegion(region string) Option {
	return func(s *Server) error {
		s.region = region
		return nil
	}
}

// WithTokenTTL sets the lifetime of issued tokens
func WithTokenTTL(ttl time.Duration) Option {
	return func(s *Server) error {
		if ttl <= 0 {
			return errors.New("token ttl must be positive")
		}
		s.tokenTTL = ttl
		return nil
	}
}

// WithTokenSecret sets the HMAC key tokens are signed with
func WithTokenSecret(secret string) Option {
	return func(s *Server) error {
		s.secret = []byte(secret)
		return nil
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) error {
		if logger != nil {
			s.logger = logger
		}
		return nil
	}
}

// WithMetrics enables Prometheus instrumentation and the /metrics route
func WithMetrics(m *Metrics) Option {
	return func(s *Server) error {
		s.metrics = m
		return nil
	}
}

// WithClock overrides the time source used for token and object expiry
func WithClock(now func() time.Time) Option {
	return func(s *Server) error {
		s.now = now
		return nil
	}
}

// New creates a server. Without options it keeps everything in memory.
func New(opts ...Option) (*Server, error) {
	s := &Server{
		region:   "DFW",
		tokenTTL: 24 * time.Hour,
		logger:   slog.Default(),
		now:      time.Now,
	}

	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}

	if s.catalog == nil {
		s.catalog = memorycatalog.New()
	}
	if s.blobs == nil {
		s.blobs = memorystorage.New()
	}
	if s.keys == nil {
		s.keys = blobkey.NewSharded()
	}
	if len(s.secret) == 0 {
		s.secret = []byte(uuid.NewString())
	}
	s.auth = jwtauth.New("HS256", s.secret, nil)
	s.router = s.routes()

	return s, nil
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.transID)
	r.Use(s.metrics.Middleware)

	r.Post("/v2.0/tokens", s.handleTokens)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler())
	}

	r.Route("/v1/{account}", func(r chi.Router) {
		r.Use(s.authenticate)

		r.Head("/", s.headAccount)
		r.Get("/", s.getAccount)
		r.Post("/", s.postAccount)

		r.Put("/{container}", s.putContainer)
		r.Head("/{container}", s.headContainer)
		r.Get("/{container}", s.getContainer)
		r.Post("/{container}", s.postContainer)
		r.Delete("/{container}", s.deleteContainer)

		r.Put("/{container}/*", s.putObject)
		r.Get("/{container}/*", s.getObject)
		r.Head("/{container}/*", s.getObject)
		r.Post("/{container}/*", s.postObject)
		r.Delete("/{container}/*", s.deleteObject)
		r.Method("COPY", "/{container}/*", http.HandlerFunc(s.copyObject))
	})

	r.Route("/cdn/v1/{account}", func(r chi.Router) {
		r.Use(s.authenticate)

		r.Put("/{container}", s.putCDN)
		r.Post("/{container}", s.postCDN)
		r.Head("/{container}", s.headCDN)
	})

	r.Get("/cdn-serve/{account}/{container}/*", s.serveCDN)
	r.Head("/cdn-serve/{account}/{container}/*", s.serveCDN)
	r.Get("/cdn-stream/{account}/{container}/*", s.serveCDN)

	return r
}

// ServeHTTP dispatches to the router
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) transID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Trans-Id", "tx"+strings.ReplaceAll(uuid.NewString(), "-", ""))
		next.ServeHTTP(w, r)
	})
}

// param returns a decoded route parameter. chi matches on RawPath when the
// request carries escapes that differ from the default encoding.
func param(r *http.Request, key string) string {
	v := chi.URLParam(r, key)
	if r.URL.RawPath == "" {
		return v
	}
	if u, err := url.PathUnescape(v); err == nil {
		return u
	}
	return v
}

func baseURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host
}

func httpError(w http.ResponseWriter, code int) {
	http.Error(w, http.StatusText(code), code)
}

// fail maps catalog and storage errors onto status codes.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, catalog.ErrNotFound), errors.Is(err, storage.ErrNotFound):
		httpError(w, http.StatusNotFound)
	case errors.Is(err, context.Canceled):
		httpError(w, http.StatusRequestTimeout)
	default:
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		httpError(w, http.StatusInternalServerError)
	}
}
