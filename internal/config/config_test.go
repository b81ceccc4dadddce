package config

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadEncryptionKey(t *testing.T) {
	t.Run("missing key fails in production", func(t *testing.T) {
		_, err := loadEncryptionKey("production")
		require.Error(t, err)
	})

	t.Run("missing key allowed in development", func(t *testing.T) {
		key, err := loadEncryptionKey("development")
		require.NoError(t, err)
		assert.Nil(t, key)
	})

	t.Run("valid base64 32-byte key", func(t *testing.T) {
		raw := make([]byte, 32)
		for i := range raw {
			raw[i] = byte(i)
		}
		t.Setenv("CREDENTIALS_ENCRYPTION_KEY", base64.StdEncoding.EncodeToString(raw))

		key, err := loadEncryptionKey("production")
		require.NoError(t, err)
		assert.Equal(t, raw, key)
	})

	t.Run("wrong length rejected", func(t *testing.T) {
		t.Setenv("CREDENTIALS_ENCRYPTION_KEY", base64.StdEncoding.EncodeToString([]byte("too-short")))
		_, err := loadEncryptionKey("production")
		require.Error(t, err)
	})

	t.Run("invalid base64 rejected", func(t *testing.T) {
		t.Setenv("CREDENTIALS_ENCRYPTION_KEY", "not base64!!!")
		_, err := loadEncryptionKey("production")
		require.Error(t, err)
	})
}

func TestValidate(t *testing.T) {
	key := make([]byte, 32)

	base := func() *Config {
		return &Config{
			Environment:       "production",
			EncryptionKey:     key,
			DashboardAPIToken: "a-sufficiently-long-token",
			OAuth: OAuthConfig{
				ClientID:     "client-id",
				ClientSecret: "client-secret",
			},
		}
	}

	t.Run("valid production config", func(t *testing.T) {
		assert.NoError(t, base().Validate())
	})

	t.Run("missing oauth client", func(t *testing.T) {
		cfg := base()
		cfg.OAuth.ClientID = ""
		assert.Error(t, cfg.Validate())
	})

	t.Run("short dashboard token rejected in production", func(t *testing.T) {
		cfg := base()
		cfg.DashboardAPIToken = "short"
		assert.Error(t, cfg.Validate())
	})

	t.Run("missing encryption key rejected in production", func(t *testing.T) {
		cfg := base()
		cfg.EncryptionKey = nil
		assert.Error(t, cfg.Validate())
	})
}

func TestBuildPostgresDSN(t *testing.T) {
	dsn := buildPostgresDSN()
	assert.Contains(t, dsn, "postgresql://")
	assert.Contains(t, dsn, "sslmode=disable")
}

func TestHasFallbackCredential(t *testing.T) {
	cfg := &Config{}
	assert.False(t, cfg.HasFallbackCredential())
	cfg.FallbackServiceAccountFile = "/etc/frontdesk/fallback-sa.json"
	assert.True(t, cfg.HasFallbackCredential())
}
