package model

import "time"

// CredentialType distinguishes the two kinds of stored authorization
// material a tenant may link.
type CredentialType string

const (
	CredentialTypeOAuth          CredentialType = "oauth"
	CredentialTypeServiceAccount CredentialType = "service_account"
)

// CredentialRecord is one row of encrypted authorization material.
// At most one row per (tenant, type) has IsActive set; historical rows
// stay around for audit. The token columns hold AES-GCM ciphertext,
// never plaintext.
type CredentialRecord struct {
	ID       string         `json:"id" gorm:"type:uuid;primaryKey"`
	TenantID string         `json:"tenant_id" gorm:"type:uuid;not null;index:idx_credentials_tenant_type"`
	Type     CredentialType `json:"credential_type" gorm:"not null;index:idx_credentials_tenant_type"`

	// OAuth material (encrypted)
	AccessToken  string    `json:"-" gorm:"column:oauth_access_token"`
	RefreshToken string    `json:"-" gorm:"column:oauth_refresh_token"`
	TokenExpiry  time.Time `json:"token_expiry" gorm:"column:oauth_token_expiry"`
	Scopes       string    `json:"scopes" gorm:"column:oauth_scopes"`

	// Service account material (encrypted)
	ServiceAccountJSON string `json:"-" gorm:"column:service_account_json"`

	// PrincipalEmail is the identity the material was granted for: the
	// Google account email for OAuth, the client_email for a service
	// account key.
	PrincipalEmail string `json:"principal_email"`

	CreatedByActorID string     `json:"created_by_actor_id" gorm:"type:uuid"`
	IsActive         bool       `json:"is_active" gorm:"not null;default:false;index"`
	LastUsedAt       *time.Time `json:"last_used_at"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// TableName specifies the table name for CredentialRecord
func (CredentialRecord) TableName() string {
	return "calendar_credentials"
}

// OAuthStateToken is a single-use nonce binding one authorization
// attempt to a tenant and the dashboard actor who started it.
// Used transitions false to true exactly once; reads after expiry or
// after consumption are invalid regardless of stored state.
type OAuthStateToken struct {
	ID        string    `json:"id" gorm:"type:uuid;primaryKey"`
	State     string    `json:"state" gorm:"uniqueIndex;not null"`
	TenantID  string    `json:"tenant_id" gorm:"type:uuid;not null"`
	ActorID   string    `json:"actor_id" gorm:"type:uuid;not null"`
	Used      bool      `json:"used" gorm:"not null;default:false"`
	ExpiresAt time.Time `json:"expires_at" gorm:"not null"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName specifies the table name for OAuthStateToken
func (OAuthStateToken) TableName() string {
	return "oauth_state_tokens"
}

// StateTokenTTL is how long an issued state token stays redeemable.
const StateTokenTTL = 10 * time.Minute
