package shared

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDomainError_IsMatchesKindAndCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := WrapError("progression", "Complete", ErrServiceUnavailable, "store unavailable", cause)

	assert.True(t, errors.Is(err, ErrServiceUnavailable))
	assert.True(t, errors.Is(err, cause))
	assert.False(t, errors.Is(err, ErrNotFound))
	assert.True(t, IsRetryable(fmt.Errorf("outer: %w", err)))
	assert.Equal(t, "progression.Complete: store unavailable: connection refused", err.Error())
}

func TestDomainError_SentinelWrapping(t *testing.T) {
	sentinel := NewDomainError("progression", "Find", ErrNotFound, "user not found")
	wrapped := fmt.Errorf("lookup 42: %w", sentinel)

	assert.True(t, errors.Is(wrapped, sentinel))
	assert.True(t, IsNotFound(wrapped))
}

func TestParseUserID(t *testing.T) {
	id, err := ParseUserID(" 123456 ")
	require.NoError(t, err)
	assert.Equal(t, UserID(123456), id)
	assert.Equal(t, "123456", id.String())

	_, err = ParseUserID("abc")
	assert.True(t, IsValidation(err))

	_, err = ParseUserID("-5")
	assert.ErrorIs(t, err, ErrInvalidUserID)
}

func TestRankChangedEvent(t *testing.T) {
	ev := NewRankChangedEvent(7, "Expert", "Master")
	assert.Equal(t, EventRankChanged, ev.EventType())
	assert.Equal(t, "7", ev.AggregateID())
	assert.Equal(t, "Master", ev.Payload()["new_stage"])
}
