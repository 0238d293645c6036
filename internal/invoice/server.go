package invoice

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"time"
)

// AnonymousUser owns all invoices when basic auth is disabled
const AnonymousUser = "anonymous"

// DefaultMaxUploadSize is the largest accepted invoice upload
const DefaultMaxUploadSize = 5 << 20

// BasicAuth holds basic authentication credentials
type BasicAuth struct {
	Username string
	Password string
}

func (b BasicAuth) enabled() bool {
	return b.Username != "" || b.Password != ""
}

// ServerConfig configures a Server
type ServerConfig struct {
	BasicAuth     BasicAuth
	MaxUploadSize int64
	// Metrics is served on GET /metrics when set
	Metrics http.Handler
}

// Server handles HTTP requests for invoices
type Server struct {
	service *Service
	config  ServerConfig
	mux     *http.ServeMux
	http    *http.Server
}

type userKey struct{}

// userID returns the authenticated user of the request
func userID(r *http.Request) string {
	if id, ok := r.Context().Value(userKey{}).(string); ok && id != "" {
		return id
	}
	return AnonymousUser
}

// NewServer creates a new Server with default mux
func NewServer(service *Service, config ServerConfig) *Server {
	return NewServerWithMux(service, config, http.NewServeMux())
}

// NewServerWithMux creates a new Server with a custom mux for testing
func NewServerWithMux(service *Service, config ServerConfig, mux *http.ServeMux) *Server {
	if config.MaxUploadSize <= 0 {
		config.MaxUploadSize = DefaultMaxUploadSize
	}
	s := &Server{
		service: service,
		config:  config,
		mux:     mux,
	}
	s.registerRoutes()
	return s
}

// authenticate checks basic auth credentials and returns the user
func (s *Server) authenticate(r *http.Request) (string, bool) {
	if !s.config.BasicAuth.enabled() {
		return AnonymousUser, true
	}

	user, pass, ok := r.BasicAuth()
	if !ok {
		return "", false
	}
	userMatch := subtle.ConstantTimeCompare([]byte(user), []byte(s.config.BasicAuth.Username)) == 1
	passMatch := subtle.ConstantTimeCompare([]byte(pass), []byte(s.config.BasicAuth.Password)) == 1
	if !userMatch || !passMatch {
		return "", false
	}
	return user, true
}

// requireAuth middleware
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := s.authenticate(r)
		if !ok {
			setCORSHeaders(w)
			w.Header().Set("WWW-Authenticate", `Basic realm="Invoice Insight"`)
			writeError(w, http.StatusUnauthorized, "Unauthenticated")
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), userKey{}, user)))
	}
}

// corsMiddleware adds CORS headers and answers preflight requests
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setCORSHeaders(w)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

// registerRoutes registers all API routes on the server's mux
func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /api/invoices/{id}/file", s.requireAuth(s.handleGetInvoiceFile))
	s.mux.HandleFunc("GET /api/invoices/{id}", s.requireAuth(s.handleGetInvoice))
	s.mux.HandleFunc("DELETE /api/invoices/{id}", s.requireAuth(s.handleDeleteInvoice))
	s.mux.HandleFunc("GET /api/invoices", s.requireAuth(s.handleListInvoices))
	s.mux.HandleFunc("POST /api/invoices", s.requireAuth(s.handleUploadInvoice))

	s.mux.HandleFunc("POST /api/chat", s.requireAuth(s.handleChat))
	s.mux.HandleFunc("GET /api/export", s.requireAuth(s.handleExport))
	s.mux.HandleFunc("GET /api/usage", s.requireAuth(s.handleUsage))

	if s.config.Metrics != nil {
		s.mux.Handle("GET /metrics", s.config.Metrics)
	}
}

// Start starts the HTTP server and blocks until it stops
func (s *Server) Start(addr string) error {
	slog.Info("Starting server", "address", addr)
	s.http = &http.Server{
		Addr:              addr,
		Handler:           corsMiddleware(s.mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

// ServeHTTP implements http.Handler for testing
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	corsMiddleware(s.mux).ServeHTTP(w, r)
}
