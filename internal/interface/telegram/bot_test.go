package telegram

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ascend-app/ascend/internal/application/command"
	"github.com/ascend-app/ascend/internal/application/query"
	"github.com/ascend-app/ascend/internal/domain/progression"
	"github.com/ascend-app/ascend/internal/infrastructure/external/telegram"
	"github.com/ascend-app/ascend/internal/infrastructure/persistence/memory"
	"github.com/ascend-app/ascend/internal/interface/telegram/handler"
	"github.com/ascend-app/ascend/internal/interface/telegram/middleware"
	"github.com/ascend-app/ascend/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// FAKE BOT API
// ══════════════════════════════════════════════════════════════════════════════

type sentMessage struct {
	ChatID   int64
	Text     string
	Keyboard *telegram.InlineKeyboardMarkup
}

type editedMessage struct {
	ChatID, MessageID int64
	Text              string
	Keyboard          *telegram.InlineKeyboardMarkup
}

type answer struct {
	ID, Text string
	Alert    bool
}

type fakeAPI struct {
	mu sync.Mutex

	sent     []sentMessage
	edits    []editedMessage
	answers  []answer
	commands []telegram.BotCommand

	webhookURL, webhookSecret string
	webhookDeleted            bool
	polled                    bool

	editErr error
}

func (f *fakeAPI) GetMe(context.Context) (*telegram.User, error) {
	return &telegram.User{ID: 999, IsBot: true, Username: "ascend_bot"}, nil
}

func (f *fakeAPI) SetMyCommands(_ context.Context, cmds []telegram.BotCommand) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = cmds
	return nil
}

func (f *fakeAPI) SetWebhook(_ context.Context, url, secret string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.webhookURL, f.webhookSecret = url, secret
	return nil
}

func (f *fakeAPI) DeleteWebhook(context.Context, bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.webhookDeleted = true
	return nil
}

func (f *fakeAPI) StartPolling(context.Context, telegram.UpdateHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.polled = true
	return nil
}

func (f *fakeAPI) SendWithKeyboard(_ context.Context, chatID int64, text string, kb *telegram.InlineKeyboardMarkup) (*telegram.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMessage{ChatID: chatID, Text: text, Keyboard: kb})
	return &telegram.Message{MessageID: int64(len(f.sent)), Chat: &telegram.Chat{ID: chatID}, Text: text}, nil
}

func (f *fakeAPI) EditMessageText(_ context.Context, chatID, messageID int64, text string, kb *telegram.InlineKeyboardMarkup) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.editErr != nil {
		return f.editErr
	}
	f.edits = append(f.edits, editedMessage{ChatID: chatID, MessageID: messageID, Text: text, Keyboard: kb})
	return nil
}

func (f *fakeAPI) AnswerCallbackQuery(_ context.Context, id, text string, alert bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answers = append(f.answers, answer{ID: id, Text: text, Alert: alert})
	return nil
}

func (f *fakeAPI) lastSent(t *testing.T) sentMessage {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.sent)
	return f.sent[len(f.sent)-1]
}

func (f *fakeAPI) lastAnswer(t *testing.T) answer {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.answers)
	return f.answers[len(f.answers)-1]
}

func (f *fakeAPI) lastEdit(t *testing.T) editedMessage {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.edits)
	return f.edits[len(f.edits)-1]
}

func callbackData(kb *telegram.InlineKeyboardMarkup) []string {
	if kb == nil {
		return nil
	}
	var out []string
	for _, row := range kb.InlineKeyboard {
		for _, b := range row {
			if b.CallbackData != "" {
				out = append(out, b.CallbackData)
			}
		}
	}
	return out
}

// ══════════════════════════════════════════════════════════════════════════════
// TEST ENV
// ══════════════════════════════════════════════════════════════════════════════

var testNow = time.Date(2026, time.October, 15, 12, 0, 0, 0, time.UTC)

type gate bool

func (g gate) IsEnabledFor(string, int64) bool { return bool(g) }

type testBot struct {
	bot   *Bot
	api   *fakeAPI
	store *memory.Store
}

func newTestBot(t *testing.T, mutate func(*BotConfig, *BotDependencies)) *testBot {
	t.Helper()

	store := memory.New()
	require.NoError(t, store.UpsertQuests(context.Background(), []progression.QuestDefinition{
		{ID: 1, Stat: progression.StatPhysical, Text: "Morning workout", XP: 120, Active: true},
		{ID: 2, Stat: progression.StatMental, Text: "Read 20 pages", XP: 80, Active: true},
	}))

	calendar := timeutil.NewCalendarIn(time.UTC).WithClock(func() time.Time { return testNow })
	engine := command.NewEngine(store, store, calendar, command.EngineConfig{MaxAttempts: 1})

	cfg := DefaultBotConfig()
	cfg.RateLimit = middleware.RateLimitConfig{RequestsPerMinute: 600, BurstSize: 100}
	deps := BotDependencies{
		Users:          store,
		RegisterUser:   command.NewRegisterUserHandler(store, nil, nil),
		CompleteQuest:  command.NewCompleteQuestHandler(engine, nil, nil),
		GetProfile:     query.NewGetProfileHandler(store, calendar),
		GetTodayQuests: query.NewGetTodayQuestsHandler(store, store, calendar, nil, nil),
	}
	if mutate != nil {
		mutate(&cfg, &deps)
	}

	api := &fakeAPI{}
	bot, err := NewBot(cfg, api, deps)
	require.NoError(t, err)
	return &testBot{bot: bot, api: api, store: store}
}

var nextUpdateID int64

func commandUpdate(userID int64, text string) *telegram.Update {
	nextUpdateID++
	cmdLen := len(text)
	if i := strings.IndexByte(text, ' '); i >= 0 {
		cmdLen = i
	}
	return &telegram.Update{
		UpdateID: nextUpdateID,
		Message: &telegram.Message{
			MessageID: 10,
			From:      &telegram.User{ID: userID, FirstName: "Ada", Username: "ada"},
			Chat:      &telegram.Chat{ID: userID, Type: "private"},
			Text:      text,
			Entities:  []telegram.MessageEntity{{Type: "bot_command", Offset: 0, Length: cmdLen}},
		},
	}
}

func callbackUpdate(userID int64, data string) *telegram.Update {
	nextUpdateID++
	return &telegram.Update{
		UpdateID: nextUpdateID,
		CallbackQuery: &telegram.CallbackQuery{
			ID:   "cb-" + data,
			From: &telegram.User{ID: userID, FirstName: "Ada"},
			Message: &telegram.Message{
				MessageID: 42,
				Chat:      &telegram.Chat{ID: userID, Type: "private"},
			},
			Data: data,
		},
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// COMMANDS
// ══════════════════════════════════════════════════════════════════════════════

func TestBot_StartCreatesCharacterOnce(t *testing.T) {
	tb := newTestBot(t, nil)
	ctx := context.Background()

	require.NoError(t, tb.bot.HandleUpdate(ctx, commandUpdate(7, "/start")))
	msg := tb.api.lastSent(t)
	assert.Equal(t, int64(7), msg.ChatID)
	assert.Contains(t, msg.Text, "Welcome to ASCEND")
	assert.Contains(t, msg.Text, "Hi, Ada!")
	assert.Contains(t, callbackData(msg.Keyboard), "quests")

	u, err := tb.store.GetByID(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, "Ada", u.DisplayName)
	assert.Equal(t, "ada", u.Username)

	require.NoError(t, tb.bot.HandleUpdate(ctx, commandUpdate(7, "/start")))
	msg = tb.api.lastSent(t)
	assert.Contains(t, msg.Text, "Welcome back, Ada!")
	assert.Contains(t, msg.Text, "Rank: Novice")
}

func TestBot_ProtectedCommandsNeedOnboarding(t *testing.T) {
	tb := newTestBot(t, nil)

	require.NoError(t, tb.bot.HandleUpdate(context.Background(), commandUpdate(7, "/quests")))
	assert.Equal(t, middleware.NeedsOnboardingMessage, tb.api.lastSent(t).Text)

	require.NoError(t, tb.bot.HandleUpdate(context.Background(), commandUpdate(7, "/help")))
	assert.Contains(t, tb.api.lastSent(t).Text, "ASCEND help")
}

func TestBot_QuestBoardAndStats(t *testing.T) {
	tb := newTestBot(t, nil)
	ctx := context.Background()
	require.NoError(t, tb.bot.HandleUpdate(ctx, commandUpdate(7, "/start")))

	require.NoError(t, tb.bot.HandleUpdate(ctx, commandUpdate(7, "/quests")))
	msg := tb.api.lastSent(t)
	assert.Contains(t, msg.Text, "Quests for 2026-10-15 (0/2 done)")
	assert.Contains(t, msg.Text, "Morning workout")
	assert.Contains(t, callbackData(msg.Keyboard), "complete:1")
	assert.Contains(t, callbackData(msg.Keyboard), "complete:2")

	require.NoError(t, tb.bot.HandleUpdate(ctx, commandUpdate(7, "/stats@ascend_bot")))
	msg = tb.api.lastSent(t)
	assert.Contains(t, msg.Text, "📊 Stats: Ada")
	assert.Contains(t, msg.Text, "Physical: 0.3 / 10")
	assert.Contains(t, msg.Text, "Total: 1.8 / 60")
}

func TestBot_QuestButtonsFollowFeatureFlag(t *testing.T) {
	tb := newTestBot(t, func(_ *BotConfig, deps *BotDependencies) {
		deps.Features = gate(false)
	})
	ctx := context.Background()
	require.NoError(t, tb.bot.HandleUpdate(ctx, commandUpdate(7, "/start")))
	require.NoError(t, tb.bot.HandleUpdate(ctx, commandUpdate(7, "/quests")))

	for _, data := range callbackData(tb.api.lastSent(t).Keyboard) {
		assert.False(t, strings.HasPrefix(data, "complete:"), data)
	}
}

func TestBot_UnknownCommandAndPlainText(t *testing.T) {
	tb := newTestBot(t, nil)
	ctx := context.Background()

	require.NoError(t, tb.bot.HandleUpdate(ctx, commandUpdate(7, "/dance")))
	assert.Equal(t, UnknownCommandMessage, tb.api.lastSent(t).Text)

	plain := commandUpdate(7, "hello")
	plain.Message.Entities = nil
	require.NoError(t, tb.bot.HandleUpdate(ctx, plain))
	assert.Len(t, tb.api.sent, 1)
}

func TestBot_IgnoresBots(t *testing.T) {
	tb := newTestBot(t, nil)
	upd := commandUpdate(7, "/start")
	upd.Message.From.IsBot = true

	require.NoError(t, tb.bot.HandleUpdate(context.Background(), upd))
	assert.Empty(t, tb.api.sent)
}

// ══════════════════════════════════════════════════════════════════════════════
// CALLBACKS
// ══════════════════════════════════════════════════════════════════════════════

func TestBot_CompleteFromButton(t *testing.T) {
	tb := newTestBot(t, nil)
	ctx := context.Background()
	require.NoError(t, tb.bot.HandleUpdate(ctx, commandUpdate(7, "/start")))

	require.NoError(t, tb.bot.HandleUpdate(ctx, callbackUpdate(7, "complete:1")))
	ans := tb.api.lastAnswer(t)
	assert.Equal(t, "cb-complete:1", ans.ID)
	assert.Equal(t, "+0.3 ◆ Physical → 0.6", ans.Text)
	assert.False(t, ans.Alert)

	edit := tb.api.lastEdit(t)
	assert.Equal(t, int64(7), edit.ChatID)
	assert.Equal(t, int64(42), edit.MessageID)
	assert.Contains(t, edit.Text, "(1/2 done)")
	assert.NotContains(t, callbackData(edit.Keyboard), "complete:1")
	assert.Contains(t, callbackData(edit.Keyboard), "complete:2")

	u, err := tb.store.GetByID(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, 1, u.Streak)

	require.NoError(t, tb.bot.HandleUpdate(ctx, callbackUpdate(7, "complete:1")))
	assert.Equal(t, "Already done today ✅", tb.api.lastAnswer(t).Text)
}

func TestBot_CompleteErrors(t *testing.T) {
	tb := newTestBot(t, nil)
	ctx := context.Background()

	require.NoError(t, tb.bot.HandleUpdate(ctx, callbackUpdate(7, "complete:1")))
	ans := tb.api.lastAnswer(t)
	assert.Equal(t, middleware.NeedsOnboardingMessage, ans.Text)
	assert.True(t, ans.Alert)

	require.NoError(t, tb.bot.HandleUpdate(ctx, commandUpdate(7, "/start")))

	require.NoError(t, tb.bot.HandleUpdate(ctx, callbackUpdate(7, "complete:99")))
	assert.Equal(t, handler.QuestNotFoundMessage, tb.api.lastAnswer(t).Text)

	require.NoError(t, tb.bot.HandleUpdate(ctx, callbackUpdate(7, "complete:abc")))
	assert.Equal(t, handler.QuestNotFoundMessage, tb.api.lastAnswer(t).Text)

	require.NoError(t, tb.bot.HandleUpdate(ctx, callbackUpdate(7, "legacy:1")))
	assert.Equal(t, StaleCallbackMessage, tb.api.lastAnswer(t).Text)
}

func TestBot_EditFallsBackToSend(t *testing.T) {
	tb := newTestBot(t, nil)
	ctx := context.Background()
	require.NoError(t, tb.bot.HandleUpdate(ctx, commandUpdate(7, "/start")))
	sentBefore := len(tb.api.sent)

	tb.api.editErr = &telegram.APIError{Code: 400, Description: "Bad Request: message is not modified"}
	require.NoError(t, tb.bot.HandleUpdate(ctx, callbackUpdate(7, "my_stats")))
	assert.Len(t, tb.api.sent, sentBefore)

	tb.api.editErr = &telegram.APIError{Code: 400, Description: "Bad Request: message to edit not found"}
	require.NoError(t, tb.bot.HandleUpdate(ctx, callbackUpdate(7, "my_stats")))
	assert.Len(t, tb.api.sent, sentBefore+1)
	assert.Contains(t, tb.api.lastSent(t).Text, "📊 Stats: Ada")
}

// ══════════════════════════════════════════════════════════════════════════════
// MIDDLEWARE CHAIN
// ══════════════════════════════════════════════════════════════════════════════

func TestBot_RateLimited(t *testing.T) {
	tb := newTestBot(t, func(cfg *BotConfig, _ *BotDependencies) {
		cfg.RateLimit = middleware.RateLimitConfig{RequestsPerMinute: 1, BurstSize: 1}
	})
	ctx := context.Background()

	require.NoError(t, tb.bot.HandleUpdate(ctx, commandUpdate(7, "/help")))
	require.NoError(t, tb.bot.HandleUpdate(ctx, commandUpdate(7, "/help")))
	assert.True(t, strings.HasPrefix(tb.api.lastSent(t).Text, "⏳ Too many requests"))
	assert.Equal(t, int64(1), tb.bot.Stats().RateLimited)

	require.NoError(t, tb.bot.HandleUpdate(ctx, callbackUpdate(7, "help")))
	ans := tb.api.lastAnswer(t)
	assert.True(t, ans.Alert)
	assert.True(t, strings.HasPrefix(ans.Text, "⏳ Too many requests"))
}

func TestBot_RecoversFromPanics(t *testing.T) {
	tb := newTestBot(t, nil)
	tb.bot.Router().Command("boom", RouteHelp, handler.HandlerFunc(
		func(context.Context, handler.Request) (*handler.Response, error) {
			panic("kaboom")
		}))

	err := tb.bot.HandleUpdate(context.Background(), commandUpdate(7, "/boom"))
	var info *middleware.PanicInfo
	require.True(t, errors.As(err, &info))
	assert.Equal(t, "kaboom", info.Value)
	assert.Equal(t, middleware.DefaultPanicMessage, tb.api.lastSent(t).Text)

	stats := tb.bot.Stats()
	assert.Equal(t, int64(1), stats.Received)
	assert.Equal(t, int64(1), stats.Errors)
}

func TestBot_HandleTelegramUpdate(t *testing.T) {
	tb := newTestBot(t, nil)
	payload := `{"update_id":1,"message":{"message_id":5,"from":{"id":7,"is_bot":false,"first_name":"Ada"},` +
		`"chat":{"id":7,"type":"private"},"date":0,"text":"/start","entities":[{"type":"bot_command","offset":0,"length":6}]}}`

	require.NoError(t, tb.bot.HandleTelegramUpdate(context.Background(), []byte(payload)))
	assert.Contains(t, tb.api.lastSent(t).Text, "Welcome to ASCEND")

	assert.Error(t, tb.bot.HandleTelegramUpdate(context.Background(), []byte("{")))
}

// ══════════════════════════════════════════════════════════════════════════════
// LIFECYCLE
// ══════════════════════════════════════════════════════════════════════════════

func TestBot_StartPolling(t *testing.T) {
	tb := newTestBot(t, nil)

	require.NoError(t, tb.bot.Start(context.Background()))
	assert.True(t, tb.api.webhookDeleted)
	assert.True(t, tb.api.polled)
	assert.Equal(t, BotCommands(), tb.api.commands)
	assert.False(t, tb.bot.IsRunning())
}

func TestBot_StartWebhook(t *testing.T) {
	tb := newTestBot(t, func(cfg *BotConfig, _ *BotDependencies) {
		cfg.Mode = ModeWebhook
		cfg.WebhookURL = "https://ascend.example/api/webhook"
		cfg.WebhookSecret = "s3cret"
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- tb.bot.Start(ctx) }()

	require.Eventually(t, tb.bot.IsRunning, time.Second, 5*time.Millisecond)
	assert.ErrorContains(t, tb.bot.Start(ctx), "already running")
	cancel()
	require.NoError(t, <-done)

	tb.api.mu.Lock()
	defer tb.api.mu.Unlock()
	assert.Equal(t, "https://ascend.example/api/webhook", tb.api.webhookURL)
	assert.Equal(t, "s3cret", tb.api.webhookSecret)
	assert.False(t, tb.api.polled)
}

func TestBot_StartWebhookNeedsURL(t *testing.T) {
	tb := newTestBot(t, func(cfg *BotConfig, _ *BotDependencies) {
		cfg.Mode = ModeWebhook
	})
	assert.ErrorContains(t, tb.bot.Start(context.Background()), "webhook URL is required")
}

func TestNewBot_RequiresDependencies(t *testing.T) {
	_, err := NewBot(DefaultBotConfig(), &fakeAPI{}, BotDependencies{})
	assert.Error(t, err)

	_, err = NewBot(DefaultBotConfig(), nil, BotDependencies{})
	assert.Error(t, err)
}
