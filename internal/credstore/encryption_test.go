package credstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptorRoundTrip(t *testing.T) {
	key, err := GenerateEncryptionKey()
	require.NoError(t, err)

	enc, err := NewEncryptor(key)
	require.NoError(t, err)
	require.True(t, enc.Enabled())

	tests := []struct {
		name    string
		payload string
	}{
		{name: "simple token", payload: "ya29.a0AfH6SMBx7"},
		{name: "empty string", payload: ""},
		{name: "structural delimiters", payload: `{"access_token":"a|b;c","nested":{"k":"v,w"}}`},
		{name: "binary-ish bytes", payload: string([]byte{0x00, 0xff, 0x10, 0x7f, 0x80})},
		{name: "unicode", payload: "日本語のトークン🎫"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ciphertext, err := enc.Encrypt(tt.payload)
			require.NoError(t, err)

			plaintext, err := enc.Decrypt(ciphertext)
			require.NoError(t, err)
			assert.Equal(t, tt.payload, plaintext)

			if tt.payload != "" {
				assert.NotEqual(t, tt.payload, ciphertext)
			}
		})
	}
}

func TestEncryptorNonceUniqueness(t *testing.T) {
	key, err := GenerateEncryptionKey()
	require.NoError(t, err)
	enc, err := NewEncryptor(key)
	require.NoError(t, err)

	a, err := enc.Encrypt("same plaintext")
	require.NoError(t, err)
	b, err := enc.Encrypt("same plaintext")
	require.NoError(t, err)

	// Random nonces mean identical plaintexts never share ciphertext.
	assert.NotEqual(t, a, b)
}

func TestEncryptorWrongKey(t *testing.T) {
	keyA, err := GenerateEncryptionKey()
	require.NoError(t, err)
	keyB, err := GenerateEncryptionKey()
	require.NoError(t, err)

	encA, err := NewEncryptor(keyA)
	require.NoError(t, err)
	encB, err := NewEncryptor(keyB)
	require.NoError(t, err)

	ciphertext, err := encA.Encrypt("secret refresh token")
	require.NoError(t, err)

	_, err = encB.Decrypt(ciphertext)
	assert.Error(t, err, "decryption with a rotated key must fail loudly")
}

func TestEncryptorInvalidInput(t *testing.T) {
	key, err := GenerateEncryptionKey()
	require.NoError(t, err)
	enc, err := NewEncryptor(key)
	require.NoError(t, err)

	_, err = enc.Decrypt("not valid base64!!!")
	assert.Error(t, err)

	_, err = enc.Decrypt("c2hvcnQ=") // valid base64, shorter than a nonce
	assert.Error(t, err)
}

func TestEncryptorKeySize(t *testing.T) {
	_, err := NewEncryptor([]byte("too short"))
	assert.Error(t, err)

	enc, err := NewEncryptor(nil)
	require.NoError(t, err)
	assert.False(t, enc.Enabled())

	// Disabled encryptor passes values through unchanged.
	out, err := enc.Encrypt("plain")
	require.NoError(t, err)
	assert.Equal(t, "plain", out)
}
