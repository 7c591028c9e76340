package eventhandler

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ascend-app/ascend/internal/domain/progression"
	"github.com/ascend-app/ascend/internal/domain/shared"
	"github.com/ascend-app/ascend/pkg/timeutil"
)

type fakeNotifier struct {
	mu     sync.Mutex
	rankUp []progression.RankStage
	err    error
}

func (n *fakeNotifier) NotifyRankUp(_ context.Context, _ int64, stage progression.RankStage) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.rankUp = append(n.rankUp, stage)
	return n.err
}

func (n *fakeNotifier) NotifyStreakReminder(context.Context, int64, int) error { return nil }

func TestOnRankChanged_NotifiesOnRankUp(t *testing.T) {
	n := &fakeNotifier{}
	h := NewOnRankChangedHandler(n, nil, RankChangedConfig{})

	require.NoError(t, h.Handle(shared.NewRankChangedEvent(1, "Expert", "Master")))
	assert.Equal(t, []progression.RankStage{progression.StageMaster}, n.rankUp)
}

func TestOnRankChanged_SwallowsDeliveryErrors(t *testing.T) {
	n := &fakeNotifier{err: errors.New("Forbidden: bot was blocked by the user")}
	h := NewOnRankChangedHandler(n, nil, RankChangedConfig{})

	assert.NoError(t, h.Handle(shared.NewRankChangedEvent(1, "Novice", "Apprentice")))
	assert.Len(t, n.rankUp, 1)
}

func TestOnRankChanged_IgnoresDownAndForeignEvents(t *testing.T) {
	n := &fakeNotifier{}
	h := NewOnRankChangedHandler(n, nil, RankChangedConfig{})

	require.NoError(t, h.Handle(shared.NewRankChangedEvent(1, "Master", "Expert")))
	require.NoError(t, h.Handle(shared.NewUserRegisteredEvent(1, "", "x")))
	assert.Empty(t, n.rankUp)
}

type fakeInvalidator struct {
	calls []timeutil.Date
}

func (f *fakeInvalidator) InvalidateDone(_ context.Context, _ int64, date timeutil.Date) error {
	f.calls = append(f.calls, date)
	return nil
}

type recordingBus struct {
	subs map[shared.EventType]int
}

func (b *recordingBus) Subscribe(t shared.EventType, _ shared.EventHandler) error {
	if b.subs == nil {
		b.subs = map[shared.EventType]int{}
	}
	b.subs[t]++
	return nil
}

func (b *recordingBus) SubscribeAll(shared.EventHandler) error { return nil }

func TestOnQuestCompleted_InvalidatesCreditDate(t *testing.T) {
	inv := &fakeInvalidator{}
	h := NewOnQuestCompletedHandler(inv, nil)

	require.NoError(t, h.Handle(shared.NewQuestCompletedEvent(1, 2, "physical", "2026-10-15", 3)))
	require.Len(t, inv.calls, 1)
	assert.Equal(t, "2026-10-15", inv.calls[0].String())
}

func TestRegister(t *testing.T) {
	bus := &recordingBus{}
	require.NoError(t, Register(bus,
		NewOnRankChangedHandler(&fakeNotifier{}, nil, RankChangedConfig{}),
		NewOnQuestCompletedHandler(&fakeInvalidator{}, nil),
	))
	assert.Equal(t, 1, bus.subs[shared.EventRankChanged])
	assert.Equal(t, 1, bus.subs[shared.EventQuestCompleted])
}
