package model

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDomainErrorIsMatchesByKind(t *testing.T) {
	err := NewDomainError(KindSlotConflict, "the 10am slot was just taken")
	assert.ErrorIs(t, err, ErrSlotConflict)
	assert.NotErrorIs(t, err, ErrSlotNotFound)
}

func TestDomainErrorWrappedCauseStaysReachable(t *testing.T) {
	cause := errors.New("gcm: message authentication failed")
	err := WrapDomainError(KindCredentialCorrupt, "stored credential could not be decrypted", cause)

	assert.ErrorIs(t, err, ErrCredentialCorrupt)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "credential_corrupt")
	assert.Contains(t, err.Error(), cause.Error())
}

func TestDomainErrorSurvivesFmtWrapping(t *testing.T) {
	err := fmt.Errorf("booking failed: %w", ErrInvalidBookingID)
	assert.ErrorIs(t, err, ErrInvalidBookingID)
	assert.Equal(t, KindInvalidBookingID, KindOf(err))
}

func TestKindOfUnclassified(t *testing.T) {
	assert.Equal(t, KindCalendarUnavailable, KindOf(errors.New("connection reset")))
}
