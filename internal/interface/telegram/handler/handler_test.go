package handler

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ascend-app/ascend/internal/domain/progression"
	"github.com/ascend-app/ascend/internal/interface/telegram/middleware"
	"github.com/ascend-app/ascend/internal/interface/telegram/presenter"
)

func TestParseCompleteCallback(t *testing.T) {
	tests := []struct {
		data string
		id   int64
		ok   bool
	}{
		{"complete:1", 1, true},
		{"complete:42", 42, true},
		{"complete:", 0, false},
		{"complete:0", 0, false},
		{"complete:-3", 0, false},
		{"complete:x", 0, false},
		{"quests", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.data, func(t *testing.T) {
			id, ok := ParseCompleteCallback(tt.data)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.id, id)
		})
	}
}

func TestErrorResponse(t *testing.T) {
	resp, err := errorResponse(Request{}, progression.ErrUserNotFound)
	require.NoError(t, err)
	assert.Equal(t, middleware.NeedsOnboardingMessage, resp.Text)

	resp, err = errorResponse(Request{IsCallback: true}, progression.ErrQuestNotFound)
	require.NoError(t, err)
	assert.Equal(t, QuestNotFoundMessage, resp.Toast)
	assert.True(t, resp.Alert)
	assert.Empty(t, resp.Text)

	resp, err = errorResponse(Request{}, progression.Unavailable("GetUser", errors.New("conn refused")))
	require.NoError(t, err)
	assert.Equal(t, BusyMessage, resp.Text)

	boom := errors.New("boom")
	_, err = errorResponse(Request{}, boom)
	assert.Same(t, boom, err)
}

func TestHelpHandler_EditsOnCallback(t *testing.T) {
	h := NewHelpHandler(presenter.NewKeyboardBuilder(""))

	resp, err := h.Handle(context.Background(), Request{})
	require.NoError(t, err)
	assert.Contains(t, resp.Text, "/quests")
	assert.False(t, resp.Edit)

	resp, err = h.Handle(context.Background(), Request{IsCallback: true})
	require.NoError(t, err)
	assert.True(t, resp.Edit)
}
