package oauthflow

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/stephenschoettler/frontdesk-ai/internal/credstore"
	"github.com/stephenschoettler/frontdesk-ai/internal/model"
)

type fakeStore struct {
	mu sync.Mutex

	stateTokens map[string]*model.OAuthStateToken
	oauthPuts   []credstore.OAuthPayload
	putTenantID string

	current *credstore.Decrypted
	getErr  error

	updatedAccess  string
	updatedRefresh string
	updatedExpiry  time.Time
	updateCalled   bool

	deactivated []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{stateTokens: map[string]*model.OAuthStateToken{}}
}

func (f *fakeStore) PutOAuth(ctx context.Context, tenantID string, p credstore.OAuthPayload) (*model.CredentialRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.putTenantID = tenantID
	f.oauthPuts = append(f.oauthPuts, p)
	return &model.CredentialRecord{
		ID:       "cred-1",
		TenantID: tenantID,
		Type:     model.CredentialTypeOAuth,
		IsActive: true,
	}, nil
}

func (f *fakeStore) Get(ctx context.Context, tenantID string, typ model.CredentialType) (*credstore.Decrypted, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	if f.current == nil {
		return nil, model.ErrCredentialMissing
	}
	return f.current, nil
}

func (f *fakeStore) UpdateOAuthTokens(ctx context.Context, credentialID, accessToken, refreshToken string, expiry time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updateCalled = true
	f.updatedAccess = accessToken
	f.updatedRefresh = refreshToken
	f.updatedExpiry = expiry

	// Reads after the write see the persisted tokens, like the real row.
	if f.current != nil && f.current.Record.ID == credentialID {
		updated := *f.current
		record := *f.current.Record
		updated.AccessToken = accessToken
		if refreshToken != "" {
			updated.RefreshToken = refreshToken
		}
		record.TokenExpiry = expiry
		updated.Record = &record
		f.current = &updated
	}
	return nil
}

func (f *fakeStore) Deactivate(ctx context.Context, tenantID string, typ model.CredentialType) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deactivated = append(f.deactivated, tenantID)
	return nil
}

func (f *fakeStore) PutStateToken(ctx context.Context, token *model.OAuthStateToken) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stateTokens[token.State] = token
	return nil
}

func (f *fakeStore) ConsumeStateToken(ctx context.Context, state string) (string, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	token, ok := f.stateTokens[state]
	if !ok || token.Used || time.Now().After(token.ExpiresAt) {
		return "", "", model.ErrOAuthStateInvalid
	}
	token.Used = true
	return token.TenantID, token.ActorID, nil
}

func newTestManager(t *testing.T, store CredentialStore, tokenURL, revocationURL string) *Manager {
	t.Helper()
	return NewManager(store, Config{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		RedirectURL:  "https://app.example.com/api/calendar/oauth/callback",
		Endpoint: oauth2.Endpoint{
			AuthURL:  "https://accounts.example.com/auth",
			TokenURL: tokenURL,
		},
		RevocationURL: revocationURL,
	}, nil)
}

func tokenEndpoint(t *testing.T, accessToken, refreshToken string, expiresIn int) *httptest.Server {
	srv, _ := countingTokenEndpoint(t, accessToken, refreshToken, expiresIn)
	return srv
}

func countingTokenEndpoint(t *testing.T, accessToken, refreshToken string, expiresIn int) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"access_token":  accessToken,
			"refresh_token": refreshToken,
			"token_type":    "Bearer",
			"expires_in":    expiresIn,
		})
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func TestInitiate(t *testing.T) {
	store := newFakeStore()
	m := newTestManager(t, store, "https://accounts.example.com/token", "")

	authURL, state, err := m.Initiate(context.Background(), "tenant-1", "actor-9")
	require.NoError(t, err)
	require.NotEmpty(t, state)

	parsed, err := url.Parse(authURL)
	require.NoError(t, err)
	q := parsed.Query()
	assert.Equal(t, state, q.Get("state"))
	assert.Equal(t, "offline", q.Get("access_type"))
	assert.Equal(t, "consent", q.Get("prompt"))
	assert.Equal(t, CalendarScope, q.Get("scope"))

	stored, ok := store.stateTokens[state]
	require.True(t, ok, "state token must be persisted before redirect")
	assert.Equal(t, "tenant-1", stored.TenantID)
	assert.Equal(t, "actor-9", stored.ActorID)
	assert.False(t, stored.Used)
	assert.WithinDuration(t, time.Now().Add(model.StateTokenTTL), stored.ExpiresAt, 5*time.Second)
}

func TestInitiateStatesAreUnique(t *testing.T) {
	store := newFakeStore()
	m := newTestManager(t, store, "https://accounts.example.com/token", "")

	_, a, err := m.Initiate(context.Background(), "tenant-1", "actor-1")
	require.NoError(t, err)
	_, b, err := m.Initiate(context.Background(), "tenant-1", "actor-1")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestCompleteCallback(t *testing.T) {
	srv := tokenEndpoint(t, "fresh-access", "fresh-refresh", 3600)
	store := newFakeStore()
	m := newTestManager(t, store, srv.URL, "")

	_, state, err := m.Initiate(context.Background(), "tenant-1", "actor-9")
	require.NoError(t, err)

	record, err := m.CompleteCallback(context.Background(), "auth-code", state)
	require.NoError(t, err)
	assert.Equal(t, "tenant-1", record.TenantID)

	require.Len(t, store.oauthPuts, 1)
	put := store.oauthPuts[0]
	assert.Equal(t, "fresh-access", put.AccessToken)
	assert.Equal(t, "fresh-refresh", put.RefreshToken)
	assert.Equal(t, "actor-9", put.ActorID)
	assert.Equal(t, []string{CalendarScope}, put.Scopes)
}

func TestCompleteCallbackStateIsSingleUse(t *testing.T) {
	srv := tokenEndpoint(t, "a", "r", 3600)
	store := newFakeStore()
	m := newTestManager(t, store, srv.URL, "")

	_, state, err := m.Initiate(context.Background(), "tenant-1", "actor-9")
	require.NoError(t, err)

	_, err = m.CompleteCallback(context.Background(), "code", state)
	require.NoError(t, err)

	_, err = m.CompleteCallback(context.Background(), "code", state)
	assert.ErrorIs(t, err, model.ErrOAuthStateInvalid)
}

func TestCompleteCallbackUnknownState(t *testing.T) {
	store := newFakeStore()
	m := newTestManager(t, store, "https://accounts.example.com/token", "")

	_, err := m.CompleteCallback(context.Background(), "code", "forged-state")
	assert.ErrorIs(t, err, model.ErrOAuthStateInvalid)
	assert.Empty(t, store.oauthPuts)
}

func TestCompleteCallbackExpiredState(t *testing.T) {
	store := newFakeStore()
	m := newTestManager(t, store, "https://accounts.example.com/token", "")

	_, state, err := m.Initiate(context.Background(), "tenant-1", "actor-9")
	require.NoError(t, err)
	store.stateTokens[state].ExpiresAt = time.Now().Add(-time.Minute)

	_, err = m.CompleteCallback(context.Background(), "code", state)
	assert.ErrorIs(t, err, model.ErrOAuthStateInvalid)
}

func TestCompleteCallbackExchangeFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"invalid_grant"}`, http.StatusBadRequest)
	}))
	t.Cleanup(srv.Close)

	store := newFakeStore()
	m := newTestManager(t, store, srv.URL, "")

	_, state, err := m.Initiate(context.Background(), "tenant-1", "actor-9")
	require.NoError(t, err)

	_, err = m.CompleteCallback(context.Background(), "bad-code", state)
	assert.ErrorIs(t, err, model.ErrOAuthExchangeFailed)
	assert.Empty(t, store.oauthPuts, "no credential must be stored on a failed exchange")
}

func oauthDecrypted(tenantID, access, refresh string, expiry time.Time) *credstore.Decrypted {
	return &credstore.Decrypted{
		Record: &model.CredentialRecord{
			ID:          "cred-1",
			TenantID:    tenantID,
			Type:        model.CredentialTypeOAuth,
			TokenExpiry: expiry,
			IsActive:    true,
		},
		AccessToken:  access,
		RefreshToken: refresh,
	}
}

func TestEnsureFreshValidToken(t *testing.T) {
	store := newFakeStore()
	m := newTestManager(t, store, "https://accounts.example.com/token", "")

	dec := oauthDecrypted("tenant-1", "still-good", "refresh", time.Now().Add(time.Hour))

	got, err := m.EnsureFresh(context.Background(), dec)
	require.NoError(t, err)
	assert.Same(t, dec, got)
	assert.False(t, store.updateCalled)
}

func TestEnsureFreshRefreshesNearExpiry(t *testing.T) {
	srv, hits := countingTokenEndpoint(t, "refreshed-access", "", 3600)
	store := newFakeStore()
	m := newTestManager(t, store, srv.URL, "")

	// Two minutes out is inside the five-minute margin but well outside
	// oauth2's own tiny expiry delta; the refresh must still happen.
	stale := oauthDecrypted("tenant-1", "old-access", "refresh-token", time.Now().Add(2*time.Minute))
	store.current = stale

	got, err := m.EnsureFresh(context.Background(), stale)
	require.NoError(t, err)
	assert.Equal(t, "refreshed-access", got.AccessToken)
	assert.Equal(t, "refresh-token", got.RefreshToken, "refresh token kept when the provider does not rotate it")
	assert.True(t, got.Record.TokenExpiry.After(time.Now().Add(30*time.Minute)))
	assert.Equal(t, int32(1), hits.Load(), "exactly one provider refresh call")

	assert.True(t, store.updateCalled)
	assert.Equal(t, "refreshed-access", store.updatedAccess)
	assert.Empty(t, store.updatedRefresh, "unrotated refresh token is not rewritten")
}

func TestEnsureFreshConcurrentCallersShareOneRefresh(t *testing.T) {
	srv, hits := countingTokenEndpoint(t, "refreshed-access", "", 3600)
	store := newFakeStore()
	m := newTestManager(t, store, srv.URL, "")

	stale := oauthDecrypted("tenant-1", "old-access", "refresh-token", time.Now().Add(2*time.Minute))
	store.current = stale

	const callers = 8
	results := make([]*credstore.Decrypted, callers)
	errs := make([]error, callers)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = m.EnsureFresh(context.Background(), stale)
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "refreshed-access", results[i].AccessToken)
	}
	assert.Equal(t, int32(1), hits.Load(),
		"concurrent callers must share a single provider refresh")
}

func TestEnsureFreshPersistsRotatedRefreshToken(t *testing.T) {
	srv := tokenEndpoint(t, "refreshed-access", "rotated-refresh", 3600)
	store := newFakeStore()
	m := newTestManager(t, store, srv.URL, "")

	stale := oauthDecrypted("tenant-1", "old-access", "old-refresh", time.Now().Add(-time.Minute))
	store.current = stale

	got, err := m.EnsureFresh(context.Background(), stale)
	require.NoError(t, err)
	assert.Equal(t, "rotated-refresh", got.RefreshToken)
	assert.Equal(t, "rotated-refresh", store.updatedRefresh)
}

func TestEnsureFreshSkipsNetworkWhenPeerRefreshed(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		http.Error(w, "should not be called", http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	store := newFakeStore()
	m := newTestManager(t, store, srv.URL, "")

	// The store already holds a fresh record, as if another caller just
	// finished a refresh.
	store.current = oauthDecrypted("tenant-1", "peer-refreshed", "refresh", time.Now().Add(time.Hour))
	stale := oauthDecrypted("tenant-1", "old-access", "refresh", time.Now().Add(time.Minute))

	got, err := m.EnsureFresh(context.Background(), stale)
	require.NoError(t, err)
	assert.Equal(t, "peer-refreshed", got.AccessToken)
	assert.Zero(t, hits)
}

func TestEnsureFreshRefreshFailureDeactivates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"invalid_grant"}`, http.StatusBadRequest)
	}))
	t.Cleanup(srv.Close)

	store := newFakeStore()
	m := newTestManager(t, store, srv.URL, "")

	stale := oauthDecrypted("tenant-1", "old-access", "revoked-refresh", time.Now().Add(-time.Minute))
	store.current = stale

	_, err := m.EnsureFresh(context.Background(), stale)
	assert.ErrorIs(t, err, model.ErrCredentialExpired)
	assert.Equal(t, []string{"tenant-1"}, store.deactivated)
}

func TestEnsureFreshNoRefreshToken(t *testing.T) {
	store := newFakeStore()
	m := newTestManager(t, store, "https://accounts.example.com/token", "")

	stale := oauthDecrypted("tenant-1", "old-access", "", time.Now().Add(-time.Minute))
	store.current = stale

	_, err := m.EnsureFresh(context.Background(), stale)
	assert.ErrorIs(t, err, model.ErrCredentialExpired)
	assert.Equal(t, []string{"tenant-1"}, store.deactivated)
}

func TestEnsureFreshZeroExpiryNeverRefreshes(t *testing.T) {
	store := newFakeStore()
	m := newTestManager(t, store, "https://accounts.example.com/token", "")

	// Service-account style records carry no expiry.
	dec := oauthDecrypted("tenant-1", "access", "refresh", time.Time{})

	got, err := m.EnsureFresh(context.Background(), dec)
	require.NoError(t, err)
	assert.Same(t, dec, got)
}

func TestRevoke(t *testing.T) {
	var revokedToken string
	revokeSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		revokedToken = r.PostForm.Get("token")
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(revokeSrv.Close)

	store := newFakeStore()
	store.current = oauthDecrypted("tenant-1", "access", "refresh-token", time.Now().Add(time.Hour))
	m := newTestManager(t, store, "https://accounts.example.com/token", revokeSrv.URL)

	require.NoError(t, m.Revoke(context.Background(), "tenant-1"))
	assert.Equal(t, "refresh-token", revokedToken)
	assert.Equal(t, []string{"tenant-1"}, store.deactivated)
}

func TestRevokeDeactivatesDespiteProviderFailure(t *testing.T) {
	revokeSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	t.Cleanup(revokeSrv.Close)

	store := newFakeStore()
	store.current = oauthDecrypted("tenant-1", "access", "refresh-token", time.Now().Add(time.Hour))
	m := newTestManager(t, store, "https://accounts.example.com/token", revokeSrv.URL)

	require.NoError(t, m.Revoke(context.Background(), "tenant-1"))
	assert.Equal(t, []string{"tenant-1"}, store.deactivated)
}

func TestRevokeWithoutStoredCredential(t *testing.T) {
	store := newFakeStore()
	m := newTestManager(t, store, "https://accounts.example.com/token", "")

	// Nothing stored; revoke still succeeds as a no-op deactivation.
	require.NoError(t, m.Revoke(context.Background(), "tenant-1"))
	assert.Equal(t, []string{"tenant-1"}, store.deactivated)
}
