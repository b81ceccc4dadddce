package credstore

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/stephenschoettler/frontdesk-ai/internal/logging"
	"github.com/stephenschoettler/frontdesk-ai/internal/model"
)

// Store persists per-tenant credential records and OAuth state tokens.
// Token material is encrypted before it touches the database and
// decrypted on read; a failed decrypt surfaces as credential_corrupt,
// never as a silent fallback.
type Store struct {
	db     *gorm.DB
	enc    *Encryptor
	logger *slog.Logger
}

// NewStore creates a credential store backed by the given database.
func NewStore(db *gorm.DB, enc *Encryptor, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		db:     db,
		enc:    enc,
		logger: logging.WithComponent(logger, "credstore"),
	}
}

// OAuthPayload is the plaintext material of an OAuth credential.
type OAuthPayload struct {
	AccessToken    string
	RefreshToken   string
	Expiry         time.Time
	Scopes         []string
	PrincipalEmail string
	ActorID        string
}

// ServiceAccountPayload is the plaintext material of a service account
// credential.
type ServiceAccountPayload struct {
	KeyJSON     string
	ClientEmail string
	ActorID     string
}

// Decrypted is a credential record with its secret columns decrypted.
type Decrypted struct {
	Record             *model.CredentialRecord
	AccessToken        string
	RefreshToken       string
	ServiceAccountJSON string
}

// PutOAuth stores a new active oauth record for the tenant, atomically
// deactivating any previously active record of the same type.
func (s *Store) PutOAuth(ctx context.Context, tenantID string, p OAuthPayload) (*model.CredentialRecord, error) {
	access, err := s.enc.Encrypt(p.AccessToken)
	if err != nil {
		return nil, err
	}
	refresh, err := s.enc.Encrypt(p.RefreshToken)
	if err != nil {
		return nil, err
	}

	record := &model.CredentialRecord{
		ID:               uuid.NewString(),
		TenantID:         tenantID,
		Type:             model.CredentialTypeOAuth,
		AccessToken:      access,
		RefreshToken:     refresh,
		TokenExpiry:      p.Expiry,
		Scopes:           strings.Join(p.Scopes, " "),
		PrincipalEmail:   p.PrincipalEmail,
		CreatedByActorID: p.ActorID,
		IsActive:         true,
	}

	if err := s.insertActive(ctx, record); err != nil {
		return nil, err
	}

	s.logger.Info("stored oauth credential", logging.Tenant(tenantID), "credential_id", record.ID)
	return record, nil
}

// PutServiceAccount stores a new active service_account record for the
// tenant, atomically deactivating any previously active record of the
// same type.
func (s *Store) PutServiceAccount(ctx context.Context, tenantID string, p ServiceAccountPayload) (*model.CredentialRecord, error) {
	encrypted, err := s.enc.Encrypt(p.KeyJSON)
	if err != nil {
		return nil, err
	}

	record := &model.CredentialRecord{
		ID:                 uuid.NewString(),
		TenantID:           tenantID,
		Type:               model.CredentialTypeServiceAccount,
		ServiceAccountJSON: encrypted,
		PrincipalEmail:     p.ClientEmail,
		CreatedByActorID:   p.ActorID,
		IsActive:           true,
	}

	if err := s.insertActive(ctx, record); err != nil {
		return nil, err
	}

	s.logger.Info("stored service account credential",
		logging.Tenant(tenantID), "credential_id", record.ID, "principal", p.ClientEmail)
	return record, nil
}

// insertActive deactivates the previously active record of the same
// type and inserts the new one in a single transaction, keeping the
// one-active-row-per-(tenant,type) invariant.
func (s *Store) insertActive(ctx context.Context, record *model.CredentialRecord) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&model.CredentialRecord{}).
			Where("tenant_id = ? AND type = ? AND is_active = true", record.TenantID, record.Type).
			Update("is_active", false).Error; err != nil {
			return err
		}
		return tx.Create(record).Error
	})
}

// Get returns the active credential of the given type, decrypted.
// Missing rows map to credential_missing; decryption failures map to
// credential_corrupt.
func (s *Store) Get(ctx context.Context, tenantID string, typ model.CredentialType) (*Decrypted, error) {
	var record model.CredentialRecord
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND type = ? AND is_active = true", tenantID, typ).
		Order("created_at DESC").
		First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, model.ErrCredentialMissing
		}
		return nil, err
	}

	decrypted := &Decrypted{Record: &record}

	switch typ {
	case model.CredentialTypeOAuth:
		decrypted.AccessToken, err = s.enc.Decrypt(record.AccessToken)
		if err == nil {
			decrypted.RefreshToken, err = s.enc.Decrypt(record.RefreshToken)
		}
	case model.CredentialTypeServiceAccount:
		decrypted.ServiceAccountJSON, err = s.enc.Decrypt(record.ServiceAccountJSON)
	}
	if err != nil {
		s.logger.Error("credential decryption failed",
			logging.Tenant(tenantID), "credential_id", record.ID, logging.Err(err))
		return nil, model.WrapDomainError(model.KindCredentialCorrupt,
			"stored credential could not be decrypted", err)
	}

	// last_used_at is advisory; a failed update must not fail the read.
	now := time.Now().UTC()
	if err := s.db.WithContext(ctx).Model(&record).Update("last_used_at", now).Error; err != nil {
		s.logger.Warn("failed to update last_used_at", "credential_id", record.ID, logging.Err(err))
	}

	return decrypted, nil
}

// UpdateOAuthTokens persists a refreshed access token (and, when the
// provider rotated it, refresh token) on an existing record.
func (s *Store) UpdateOAuthTokens(ctx context.Context, credentialID, accessToken, refreshToken string, expiry time.Time) error {
	access, err := s.enc.Encrypt(accessToken)
	if err != nil {
		return err
	}

	updates := map[string]any{
		"oauth_access_token": access,
		"oauth_token_expiry": expiry,
	}
	if refreshToken != "" {
		refresh, err := s.enc.Encrypt(refreshToken)
		if err != nil {
			return err
		}
		updates["oauth_refresh_token"] = refresh
	}

	return s.db.WithContext(ctx).
		Model(&model.CredentialRecord{}).
		Where("id = ?", credentialID).
		Updates(updates).Error
}

// Deactivate marks the active credential of the given type inactive.
// Used on explicit revocation and on unrecoverable refresh failure.
func (s *Store) Deactivate(ctx context.Context, tenantID string, typ model.CredentialType) error {
	return s.db.WithContext(ctx).
		Model(&model.CredentialRecord{}).
		Where("tenant_id = ? AND type = ? AND is_active = true", tenantID, typ).
		Update("is_active", false).Error
}

// ActiveCredentials returns the tenant's active credential rows with
// their metadata, for the dashboard status endpoint. Token columns are
// left out of the select; status never needs the encrypted payloads.
func (s *Store) ActiveCredentials(ctx context.Context, tenantID string) ([]model.CredentialRecord, error) {
	var records []model.CredentialRecord
	err := s.db.WithContext(ctx).
		Select("id", "tenant_id", "type", "oauth_token_expiry", "principal_email", "is_active", "created_at").
		Where("tenant_id = ? AND is_active = true", tenantID).
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	return records, nil
}

// PutStateToken stores a freshly issued state token.
func (s *Store) PutStateToken(ctx context.Context, token *model.OAuthStateToken) error {
	if token.ID == "" {
		token.ID = uuid.NewString()
	}
	return s.db.WithContext(ctx).Create(token).Error
}

// ConsumeStateToken redeems a state token exactly once. The used flag
// is flipped with a conditional UPDATE so concurrent callback
// deliveries cannot both succeed; expired or already-used tokens are
// invalid regardless of stored state.
func (s *Store) ConsumeStateToken(ctx context.Context, state string) (tenantID, actorID string, err error) {
	now := time.Now().UTC()

	res := s.db.WithContext(ctx).
		Model(&model.OAuthStateToken{}).
		Where("state = ? AND used = false AND expires_at > ?", state, now).
		Update("used", true)
	if res.Error != nil {
		return "", "", res.Error
	}
	if res.RowsAffected != 1 {
		return "", "", model.ErrOAuthStateInvalid
	}

	var token model.OAuthStateToken
	if err := s.db.WithContext(ctx).Where("state = ?", state).First(&token).Error; err != nil {
		return "", "", err
	}

	return token.TenantID, token.ActorID, nil
}

// CleanupExpiredStateTokens removes state tokens past their TTL.
// Consumed tokens are kept until expiry for audit.
func (s *Store) CleanupExpiredStateTokens(ctx context.Context) error {
	return s.db.WithContext(ctx).
		Where("expires_at < ?", time.Now().UTC()).
		Delete(&model.OAuthStateToken{}).Error
}

// GetTenant loads a tenant row. The dashboard owns tenant CRUD; this
// subsystem only reads.
func (s *Store) GetTenant(ctx context.Context, tenantID string) (*model.Tenant, error) {
	var tenant model.Tenant
	err := s.db.WithContext(ctx).Where("id = ?", tenantID).First(&tenant).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, model.ErrTenantNotFound
		}
		return nil, err
	}
	return &tenant, nil
}
