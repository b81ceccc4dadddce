// Package server exposes the dashboard-facing HTTP control surface:
// credential status, OAuth connect/callback, service account upload and
// credential revocation. Callers are dashboard backends, never end
// users, so the whole surface sits behind a shared bearer token.
package server

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/stephenschoettler/frontdesk-ai/internal/credstore"
	"github.com/stephenschoettler/frontdesk-ai/internal/logging"
	"github.com/stephenschoettler/frontdesk-ai/internal/model"
)

// CredentialStore is the slice of the credential store the dashboard
// surface needs.
type CredentialStore interface {
	ActiveCredentials(ctx context.Context, tenantID string) ([]model.CredentialRecord, error)
	PutServiceAccount(ctx context.Context, tenantID string, p credstore.ServiceAccountPayload) (*model.CredentialRecord, error)
	Deactivate(ctx context.Context, tenantID string, typ model.CredentialType) error
	GetTenant(ctx context.Context, tenantID string) (*model.Tenant, error)
}

// OAuthFlow is the slice of the oauth flow manager the dashboard
// surface needs.
type OAuthFlow interface {
	Initiate(ctx context.Context, tenantID, actorID string) (authURL, state string, err error)
	CompleteCallback(ctx context.Context, code, state string) (*model.CredentialRecord, error)
	Revoke(ctx context.Context, tenantID string) error
}

// Server holds the handlers' shared dependencies.
type Server struct {
	store             CredentialStore
	flow              OAuthFlow
	apiToken          string
	fallbackAvailable bool
	logger            *slog.Logger
}

// New creates the dashboard HTTP server. fallbackAvailable reports
// whether a process-wide fallback credential is configured, so the
// status endpoint can tell tenants scheduling works before they
// connect their own calendar.
func New(store CredentialStore, flow OAuthFlow, apiToken string, fallbackAvailable bool, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		store:             store,
		flow:              flow,
		apiToken:          apiToken,
		fallbackAvailable: fallbackAvailable,
		logger:            logging.WithComponent(logger, "server"),
	}
}

// Router builds the chi router. The OAuth callback stays outside the
// bearer-token wall: the identity provider redirects the tenant's
// browser there, which carries no API token.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", s.handleHealthz)
	r.Get("/api/calendar/oauth/callback", s.handleOAuthCallback)

	r.Route("/api/tenants/{tenantID}/calendar", func(r chi.Router) {
		r.Use(s.requireAPIToken)
		r.Get("/status", s.handleStatus)
		r.Post("/oauth/initiate", s.handleOAuthInitiate)
		r.Post("/service-account", s.handleServiceAccountUpload)
		r.Delete("/credentials", s.handleRevokeCredentials)
	})

	return r
}

// requestLogger logs one line per request in the structured format the
// rest of the process uses.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()))
	})
}

// requireAPIToken guards the tenant credential endpoints with the
// shared dashboard token.
func (s *Server) requireAPIToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.apiToken == "" {
			s.logger.Error("dashboard API token not configured, rejecting request")
			respondError(w, http.StatusServiceUnavailable, "server not configured")
			return
		}

		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(s.apiToken)) != 1 {
			respondError(w, http.StatusUnauthorized, "invalid or missing API token")
			return
		}

		next.ServeHTTP(w, r)
	})
}
