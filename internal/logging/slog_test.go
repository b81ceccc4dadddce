package logging

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErr(t *testing.T) {
	t.Run("nil error returns empty group", func(t *testing.T) {
		attr := Err(nil)
		assert.Equal(t, slog.KindGroup, attr.Value.Kind())
		assert.Empty(t, attr.Key)
	})

	t.Run("non-nil error returns error attribute", func(t *testing.T) {
		attr := Err(assert.AnError)
		assert.Equal(t, KeyError, attr.Key)
		assert.Equal(t, assert.AnError.Error(), attr.Value.String())
	})
}

func TestSanitizeToken(t *testing.T) {
	tests := []struct {
		name     string
		token    string
		expected string
	}{
		{name: "empty token", token: "", expected: "<empty>"},
		{name: "short token", token: "abc", expected: "[token:3 chars]"},
		{name: "long token", token: "ya29.a0AfH6SMBx7-very-long-access-token", expected: "[token:39 chars]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, SanitizeToken(tt.token))
		})
	}
}

func TestSanitizeState(t *testing.T) {
	assert.Equal(t, "short", SanitizeState("short"))
	assert.Equal(t, "abcdefgh...", SanitizeState("abcdefghijklmnop"))
}

func TestWithTenant(t *testing.T) {
	logger := New(false)
	scoped := WithTenant(logger, "tenant-1")
	assert.NotNil(t, scoped)
	assert.NotSame(t, logger, scoped)
}
