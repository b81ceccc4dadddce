package resolver

import (
	"context"
	"errors"
	"log/slog"
	"os"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/stephenschoettler/frontdesk-ai/internal/credstore"
	"github.com/stephenschoettler/frontdesk-ai/internal/logging"
	"github.com/stephenschoettler/frontdesk-ai/internal/model"
	"github.com/stephenschoettler/frontdesk-ai/internal/oauthflow"
)

// Source identifies which tier produced a resolved credential.
type Source string

const (
	SourceOAuth          Source = "oauth"
	SourceServiceAccount Source = "service_account"
	SourceFallback       Source = "fallback"
)

// Credential is a resolved, ready-to-use calendar credential.
type Credential struct {
	TenantID       string
	Source         Source
	PrincipalEmail string

	tokenSource oauth2.TokenSource
}

// TokenSource returns the oauth2 token source backing this credential.
func (c *Credential) TokenSource() oauth2.TokenSource {
	return c.tokenSource
}

// Strategy is one tier of the resolution chain. Returning (nil, nil)
// passes to the next tier; a non-nil error aborts resolution.
type Strategy interface {
	Name() string
	TryResolve(ctx context.Context, tenantID string) (*Credential, error)
}

// Resolver walks an ordered strategy chain until a tier yields a
// credential. The chain order is fixed at construction: tenant OAuth,
// then tenant service account, then the process-wide fallback.
type Resolver struct {
	strategies []Strategy
	logger     *slog.Logger
}

// New builds a resolver over the given strategy chain.
func New(logger *slog.Logger, strategies ...Strategy) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		strategies: strategies,
		logger:     logging.WithComponent(logger, "resolver"),
	}
}

// Resolve returns the first credential any tier yields, or
// no_credentials when every tier passes.
func (r *Resolver) Resolve(ctx context.Context, tenantID string) (*Credential, error) {
	for _, s := range r.strategies {
		cred, err := s.TryResolve(ctx, tenantID)
		if err != nil {
			return nil, err
		}
		if cred != nil {
			r.logger.Debug("resolved credential",
				logging.Tenant(tenantID), "source", string(cred.Source))
			return cred, nil
		}
	}

	r.logger.Warn("no credential available in any tier", logging.Tenant(tenantID))
	return nil, model.ErrNoCredentials
}

// credentialGetter is the read slice of the credential store.
type credentialGetter interface {
	Get(ctx context.Context, tenantID string, typ model.CredentialType) (*credstore.Decrypted, error)
}

// tokenFreshener is the slice of the oauth flow manager the oauth tier
// needs.
type tokenFreshener interface {
	EnsureFresh(ctx context.Context, dec *credstore.Decrypted) (*credstore.Decrypted, error)
	TokenSource(ctx context.Context, dec *credstore.Decrypted) oauth2.TokenSource
}

// skippable reports whether an error means "this tier has nothing
// usable" rather than a hard failure. Missing, expired-and-deactivated,
// and corrupt credentials all fall through to the next tier; corrupt
// ones are additionally logged at error level by the store.
func skippable(err error) bool {
	return errors.Is(err, model.ErrCredentialMissing) ||
		errors.Is(err, model.ErrCredentialExpired) ||
		errors.Is(err, model.ErrCredentialCorrupt)
}

// OAuthStrategy resolves the tenant's stored OAuth grant, refreshing
// the access token when it is near expiry.
type OAuthStrategy struct {
	store  credentialGetter
	flow   tokenFreshener
	logger *slog.Logger
}

// NewOAuthStrategy builds the oauth tier.
func NewOAuthStrategy(store credentialGetter, flow tokenFreshener, logger *slog.Logger) *OAuthStrategy {
	if logger == nil {
		logger = slog.Default()
	}
	return &OAuthStrategy{store: store, flow: flow, logger: logging.WithComponent(logger, "resolver")}
}

func (s *OAuthStrategy) Name() string { return string(SourceOAuth) }

func (s *OAuthStrategy) TryResolve(ctx context.Context, tenantID string) (*Credential, error) {
	dec, err := s.store.Get(ctx, tenantID, model.CredentialTypeOAuth)
	if err == nil {
		dec, err = s.flow.EnsureFresh(ctx, dec)
	}
	if err != nil {
		if skippable(err) {
			s.logger.Warn("oauth tier unusable, falling through",
				logging.Tenant(tenantID), logging.Err(err))
			return nil, nil
		}
		return nil, err
	}

	return &Credential{
		TenantID:       tenantID,
		Source:         SourceOAuth,
		PrincipalEmail: dec.Record.PrincipalEmail,
		tokenSource:    s.flow.TokenSource(ctx, dec),
	}, nil
}

// ServiceAccountStrategy resolves the tenant's uploaded service account
// key into a self-refreshing JWT token source.
type ServiceAccountStrategy struct {
	store  credentialGetter
	logger *slog.Logger
}

// NewServiceAccountStrategy builds the service account tier.
func NewServiceAccountStrategy(store credentialGetter, logger *slog.Logger) *ServiceAccountStrategy {
	if logger == nil {
		logger = slog.Default()
	}
	return &ServiceAccountStrategy{store: store, logger: logging.WithComponent(logger, "resolver")}
}

func (s *ServiceAccountStrategy) Name() string { return string(SourceServiceAccount) }

func (s *ServiceAccountStrategy) TryResolve(ctx context.Context, tenantID string) (*Credential, error) {
	dec, err := s.store.Get(ctx, tenantID, model.CredentialTypeServiceAccount)
	if err != nil {
		if skippable(err) {
			return nil, nil
		}
		return nil, err
	}

	conf, err := google.JWTConfigFromJSON([]byte(dec.ServiceAccountJSON), oauthflow.CalendarScope)
	if err != nil {
		// The key parsed at upload time; a parse failure now means the
		// row was damaged after validation.
		s.logger.Error("stored service account key no longer parses",
			logging.Tenant(tenantID), "credential_id", dec.Record.ID, logging.Err(err))
		return nil, nil
	}

	return &Credential{
		TenantID:       tenantID,
		Source:         SourceServiceAccount,
		PrincipalEmail: conf.Email,
		tokenSource:    conf.TokenSource(ctx),
	}, nil
}

// FallbackStrategy serves the process-wide service account configured
// for tenants that have connected nothing of their own. It is loaded
// once at startup; a deployment without one simply omits this tier.
type FallbackStrategy struct {
	keyJSON []byte
	email   string
}

// NewFallbackStrategy loads the fallback service account key from disk
// and validates it eagerly so a bad file fails startup, not a call.
func NewFallbackStrategy(path string) (*FallbackStrategy, error) {
	keyJSON, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	conf, err := google.JWTConfigFromJSON(keyJSON, oauthflow.CalendarScope)
	if err != nil {
		return nil, err
	}
	return &FallbackStrategy{keyJSON: keyJSON, email: conf.Email}, nil
}

func (s *FallbackStrategy) Name() string { return string(SourceFallback) }

func (s *FallbackStrategy) TryResolve(ctx context.Context, tenantID string) (*Credential, error) {
	conf, err := google.JWTConfigFromJSON(s.keyJSON, oauthflow.CalendarScope)
	if err != nil {
		return nil, err
	}
	return &Credential{
		TenantID:       tenantID,
		Source:         SourceFallback,
		PrincipalEmail: s.email,
		tokenSource:    conf.TokenSource(ctx),
	}, nil
}
