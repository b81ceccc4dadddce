package oauthflow

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/sync/singleflight"

	"github.com/stephenschoettler/frontdesk-ai/internal/credstore"
	"github.com/stephenschoettler/frontdesk-ai/internal/logging"
	"github.com/stephenschoettler/frontdesk-ai/internal/metrics"
	"github.com/stephenschoettler/frontdesk-ai/internal/model"
)

// CalendarScope is the only scope requested from the identity provider.
const CalendarScope = "https://www.googleapis.com/auth/calendar"

// refreshMargin is the safety window before expiry in which a token is
// proactively refreshed.
const refreshMargin = 5 * time.Minute

const defaultRevocationURL = "https://oauth2.googleapis.com/revoke"

// CredentialStore is the slice of the credential store the flow manager
// needs.
type CredentialStore interface {
	PutOAuth(ctx context.Context, tenantID string, p credstore.OAuthPayload) (*model.CredentialRecord, error)
	Get(ctx context.Context, tenantID string, typ model.CredentialType) (*credstore.Decrypted, error)
	UpdateOAuthTokens(ctx context.Context, credentialID, accessToken, refreshToken string, expiry time.Time) error
	Deactivate(ctx context.Context, tenantID string, typ model.CredentialType) error
	PutStateToken(ctx context.Context, token *model.OAuthStateToken) error
	ConsumeStateToken(ctx context.Context, state string) (tenantID, actorID string, err error)
}

// Config configures the Manager. Endpoint and RevocationURL default to
// Google's; tests point them at local fakes.
type Config struct {
	ClientID      string
	ClientSecret  string
	RedirectURL   string
	Endpoint      oauth2.Endpoint
	RevocationURL string
}

// Manager drives the authorization-code flow for per-tenant calendar
// consent and keeps stored tokens fresh.
type Manager struct {
	store         CredentialStore
	conf          *oauth2.Config
	revocationURL string
	httpClient    *http.Client
	logger        *slog.Logger
	metrics       metrics.Recorder

	// refreshGroup collapses concurrent refreshes for the same tenant
	// into a single provider call.
	refreshGroup singleflight.Group

	now func() time.Time
}

// NewManager creates an OAuth flow manager.
func NewManager(store CredentialStore, cfg Config, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}

	endpoint := cfg.Endpoint
	if endpoint.TokenURL == "" {
		endpoint = google.Endpoint
	}
	revocationURL := cfg.RevocationURL
	if revocationURL == "" {
		revocationURL = defaultRevocationURL
	}

	return &Manager{
		store: store,
		conf: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint:     endpoint,
			Scopes:       []string{CalendarScope},
		},
		revocationURL: revocationURL,
		httpClient:    &http.Client{Timeout: 15 * time.Second},
		logger:        logging.WithComponent(logger, "oauthflow"),
		metrics:       metrics.Nop{},
		now:           time.Now,
	}
}

// WithMetrics attaches a metrics recorder for refresh outcomes.
func (m *Manager) WithMetrics(r metrics.Recorder) *Manager {
	if r != nil {
		m.metrics = r
	}
	return m
}

// Initiate creates a single-use state token bound to the tenant and the
// initiating dashboard actor, and returns the provider authorization
// URL embedding it.
func (m *Manager) Initiate(ctx context.Context, tenantID, actorID string) (authURL, state string, err error) {
	state, err = generateState()
	if err != nil {
		return "", "", fmt.Errorf("failed to generate state token: %w", err)
	}

	now := m.now().UTC()
	token := &model.OAuthStateToken{
		State:     state,
		TenantID:  tenantID,
		ActorID:   actorID,
		ExpiresAt: now.Add(model.StateTokenTTL),
		CreatedAt: now,
	}
	if err := m.store.PutStateToken(ctx, token); err != nil {
		return "", "", fmt.Errorf("failed to store state token: %w", err)
	}

	// offline + consent forces the provider to return a refresh token.
	authURL = m.conf.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "consent"),
		oauth2.SetAuthURLParam("include_granted_scopes", "true"),
	)

	m.logger.Info("initiated oauth flow",
		logging.Tenant(tenantID), "state", logging.SanitizeState(state))
	return authURL, state, nil
}

// CompleteCallback consumes the state token and exchanges the
// authorization code for tokens, storing them as the tenant's active
// oauth credential. Authorization codes are single-use, so a failed
// exchange is never retried.
func (m *Manager) CompleteCallback(ctx context.Context, code, state string) (*model.CredentialRecord, error) {
	tenantID, actorID, err := m.store.ConsumeStateToken(ctx, state)
	if err != nil {
		m.logger.Warn("state token rejected", "state", logging.SanitizeState(state), logging.Err(err))
		return nil, model.ErrOAuthStateInvalid
	}

	token, err := m.conf.Exchange(ctx, code)
	if err != nil {
		m.logger.Error("code exchange failed", logging.Tenant(tenantID), logging.Err(err))
		return nil, model.WrapDomainError(model.KindOAuthExchangeFailed,
			"authorization code exchange failed", err)
	}

	record, err := m.store.PutOAuth(ctx, tenantID, credstore.OAuthPayload{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		Expiry:       token.Expiry,
		Scopes:       []string{CalendarScope},
		ActorID:      actorID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to store oauth credential: %w", err)
	}

	m.logger.Info("oauth flow completed",
		logging.Tenant(tenantID),
		"credential_id", record.ID,
		"has_refresh_token", token.RefreshToken != "")
	return record, nil
}

// EnsureFresh returns a credential whose access token is valid for at
// least the refresh margin, refreshing it through the provider when
// needed. Concurrent callers for the same tenant share one refresh; a
// caller observing a just-refreshed token makes no network call.
// An unrecoverable refresh failure deactivates the record and returns
// credential_expired so the resolver can fall through a tier.
func (m *Manager) EnsureFresh(ctx context.Context, dec *credstore.Decrypted) (*credstore.Decrypted, error) {
	if !m.needsRefresh(dec) {
		return dec, nil
	}

	tenantID := dec.Record.TenantID
	result, err, _ := m.refreshGroup.Do(tenantID, func() (any, error) {
		// Re-read under the flight: a concurrent caller may have just
		// refreshed and persisted a fresh token.
		current, err := m.store.Get(ctx, tenantID, model.CredentialTypeOAuth)
		if err != nil {
			return nil, err
		}
		if !m.needsRefresh(current) {
			return current, nil
		}
		return m.refresh(ctx, current)
	})
	if err != nil {
		return nil, err
	}

	return result.(*credstore.Decrypted), nil
}

func (m *Manager) needsRefresh(dec *credstore.Decrypted) bool {
	expiry := dec.Record.TokenExpiry
	if expiry.IsZero() {
		return false
	}
	return m.now().Add(refreshMargin).After(expiry)
}

func (m *Manager) refresh(ctx context.Context, dec *credstore.Decrypted) (*credstore.Decrypted, error) {
	tenantID := dec.Record.TenantID

	if dec.RefreshToken == "" {
		m.logger.Warn("no refresh token available, deactivating", logging.Tenant(tenantID))
		return nil, m.expire(ctx, tenantID, nil)
	}

	// Only the refresh token goes into the source. Our margin is wider
	// than oauth2's own expiry delta, so a token we consider stale still
	// counts as valid there; carrying the access token over would make
	// the source hand it straight back without calling the provider.
	fresh, err := m.conf.TokenSource(ctx, &oauth2.Token{RefreshToken: dec.RefreshToken}).Token()
	if err != nil {
		// Revoked grant or invalid refresh token; not retryable.
		m.metrics.RecordTokenRefresh("failure")
		m.logger.Warn("token refresh failed, deactivating",
			logging.Tenant(tenantID), logging.Err(err))
		return nil, m.expire(ctx, tenantID, err)
	}
	m.metrics.RecordTokenRefresh("success")

	rotated := ""
	if fresh.RefreshToken != "" && fresh.RefreshToken != dec.RefreshToken {
		rotated = fresh.RefreshToken
	}
	if err := m.store.UpdateOAuthTokens(ctx, dec.Record.ID, fresh.AccessToken, rotated, fresh.Expiry); err != nil {
		return nil, fmt.Errorf("failed to persist refreshed token: %w", err)
	}

	m.logger.Info("refreshed oauth token",
		logging.Tenant(tenantID),
		"credential_id", dec.Record.ID,
		"new_expiry", fresh.Expiry)

	updated := *dec
	updated.AccessToken = fresh.AccessToken
	if rotated != "" {
		updated.RefreshToken = rotated
	}
	record := *dec.Record
	record.TokenExpiry = fresh.Expiry
	updated.Record = &record
	return &updated, nil
}

func (m *Manager) expire(ctx context.Context, tenantID string, cause error) error {
	if err := m.store.Deactivate(ctx, tenantID, model.CredentialTypeOAuth); err != nil {
		m.logger.Error("failed to deactivate expired credential",
			logging.Tenant(tenantID), logging.Err(err))
	}
	if cause != nil {
		return model.WrapDomainError(model.KindCredentialExpired,
			"credential expired and could not be refreshed", cause)
	}
	return model.ErrCredentialExpired
}

// TokenSource returns an oauth2.TokenSource for a resolved credential,
// so a long calendar call surviving past expiry can still refresh
// mid-flight.
func (m *Manager) TokenSource(ctx context.Context, dec *credstore.Decrypted) oauth2.TokenSource {
	token := &oauth2.Token{
		AccessToken:  dec.AccessToken,
		RefreshToken: dec.RefreshToken,
		TokenType:    "Bearer",
		Expiry:       dec.Record.TokenExpiry,
	}
	return m.conf.TokenSource(ctx, token)
}

// Revoke deactivates the tenant's oauth credential, attempting
// provider-side revocation first. Provider failures are logged, not
// surfaced: local deactivation is the authoritative part.
func (m *Manager) Revoke(ctx context.Context, tenantID string) error {
	dec, err := m.store.Get(ctx, tenantID, model.CredentialTypeOAuth)
	if err == nil && dec.RefreshToken != "" {
		m.revokeRemote(ctx, tenantID, dec.RefreshToken)
	}

	return m.store.Deactivate(ctx, tenantID, model.CredentialTypeOAuth)
}

func (m *Manager) revokeRemote(ctx context.Context, tenantID, refreshToken string) {
	form := url.Values{"token": {refreshToken}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.revocationURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		m.logger.Warn("provider-side revocation failed", logging.Tenant(tenantID), logging.Err(err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		m.logger.Warn("provider-side revocation rejected",
			logging.Tenant(tenantID), "status", resp.StatusCode)
		return
	}
	m.logger.Info("revoked token with provider", logging.Tenant(tenantID))
}

// generateState produces a URL-safe random nonce for CSRF protection.
func generateState() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
