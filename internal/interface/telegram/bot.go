package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ascend-app/ascend/internal/application/command"
	"github.com/ascend-app/ascend/internal/application/query"
	"github.com/ascend-app/ascend/internal/domain/progression"
	"github.com/ascend-app/ascend/internal/infrastructure/external/telegram"
	"github.com/ascend-app/ascend/internal/interface/telegram/handler"
	"github.com/ascend-app/ascend/internal/interface/telegram/middleware"
	"github.com/ascend-app/ascend/internal/interface/telegram/presenter"
	"github.com/ascend-app/ascend/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// BOT CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Update receiving modes.
const (
	ModePolling = "polling"
	ModeWebhook = "webhook"
)

// BotConfig contains configuration for the Telegram bot.
type BotConfig struct {
	// Mode is the update receiving mode: "polling" or "webhook".
	Mode string

	// WebhookURL is the public URL Telegram posts updates to (webhook mode).
	WebhookURL    string
	WebhookSecret string

	// DropPendingUpdates discards the backlog when switching to polling.
	DropPendingUpdates bool

	// MiniAppURL enables the "open app" buttons.
	MiniAppURL string

	RateLimit middleware.RateLimitConfig

	// MaxConcurrentUpdates limits concurrent update processing.
	MaxConcurrentUpdates int

	// GracefulShutdownTimeout bounds Stop.
	GracefulShutdownTimeout time.Duration
}

// DefaultBotConfig returns sensible defaults.
func DefaultBotConfig() BotConfig {
	return BotConfig{
		Mode:                    ModePolling,
		RateLimit:               middleware.DefaultRateLimitConfig(),
		MaxConcurrentUpdates:    100,
		GracefulShutdownTimeout: 30 * time.Second,
	}
}

// API is the part of the Bot API the bot uses (*telegram.Client).
type API interface {
	GetMe(ctx context.Context) (*telegram.User, error)
	SetMyCommands(ctx context.Context, commands []telegram.BotCommand) error
	SetWebhook(ctx context.Context, url, secretToken string) error
	DeleteWebhook(ctx context.Context, dropPendingUpdates bool) error
	StartPolling(ctx context.Context, handler telegram.UpdateHandler) error
	SendWithKeyboard(ctx context.Context, chatID int64, text string, keyboard *telegram.InlineKeyboardMarkup) (*telegram.Message, error)
	EditMessageText(ctx context.Context, chatID, messageID int64, text string, keyboard *telegram.InlineKeyboardMarkup) error
	AnswerCallbackQuery(ctx context.Context, callbackQueryID, text string, showAlert bool) error
}

// ══════════════════════════════════════════════════════════════════════════════
// BOT DEPENDENCIES
// ══════════════════════════════════════════════════════════════════════════════

// BotDependencies contains all dependencies for the bot handlers.
type BotDependencies struct {
	Users progression.UserRepository

	// Commands
	RegisterUser  *command.RegisterUserHandler
	CompleteQuest *command.CompleteQuestHandler

	// Queries
	GetProfile     *query.GetProfileHandler
	GetTodayQuests *query.GetTodayQuestsHandler

	// Features gates the quest buttons; nil enables them.
	Features handler.FeatureGate

	// Observer receives per-update metrics; may be nil.
	Observer middleware.Observer

	Logger *logger.Logger
}

// ══════════════════════════════════════════════════════════════════════════════
// BOT
// ══════════════════════════════════════════════════════════════════════════════

// Bot receives updates, runs them through the middleware chain
// (rate limit → auth → recovery → metrics) and delivers handler responses.
type Bot struct {
	config BotConfig
	api    API
	router *Router
	log    *logger.Logger

	auth        *middleware.AuthMiddleware
	rateLimiter *middleware.RateLimiter
	recovery    *middleware.RecoveryMiddleware
	metrics     *middleware.MetricsMiddleware

	runningMu sync.Mutex
	running   bool
	updateSem chan struct{}
	wg        sync.WaitGroup
}

// NewBot creates a bot with all handlers registered.
func NewBot(config BotConfig, api API, deps BotDependencies) (*Bot, error) {
	if api == nil {
		return nil, errors.New("telegram api is required")
	}
	if deps.Users == nil || deps.RegisterUser == nil || deps.CompleteQuest == nil ||
		deps.GetProfile == nil || deps.GetTodayQuests == nil {
		return nil, errors.New("bot dependencies are incomplete")
	}
	defaults := DefaultBotConfig()
	if config.Mode == "" {
		config.Mode = defaults.Mode
	}
	if config.MaxConcurrentUpdates <= 0 {
		config.MaxConcurrentUpdates = defaults.MaxConcurrentUpdates
	}
	if config.GracefulShutdownTimeout <= 0 {
		config.GracefulShutdownTimeout = defaults.GracefulShutdownTimeout
	}
	log := deps.Logger
	if log == nil {
		log = logger.Nop()
	}
	log = log.With(logger.Component("telegram_bot"))

	keyboards := presenter.NewKeyboardBuilder(config.MiniAppURL)

	start := handler.NewStartHandler(deps.RegisterUser, deps.GetProfile, keyboards)
	stats := handler.NewStatsHandler(deps.GetProfile, keyboards)
	quests := handler.NewQuestsHandler(deps.GetTodayQuests, keyboards, deps.Features)
	complete := handler.NewCompleteHandler(deps.CompleteQuest, quests)
	help := handler.NewHelpHandler(keyboards)

	router := NewRouter()
	router.Command("start", RouteStart, start)
	router.Command("quests", RouteQuests, quests)
	router.Command("stats", RouteStats, stats)
	router.Command("me", RouteStats, stats)
	router.Command("help", RouteHelp, help)
	router.Callback(presenter.CallbackQuests, RouteQuests, quests)
	router.Callback(presenter.CallbackMyStats, RouteStats, stats)
	router.Callback(presenter.CallbackHelp, RouteHelp, help)
	router.CallbackPrefix(presenter.CallbackCompletePrefix, RouteComplete, complete)

	return &Bot{
		config:      config,
		api:         api,
		router:      router,
		log:         log,
		auth:        middleware.NewAuthMiddleware(deps.Users, middleware.DefaultAuthConfig()),
		rateLimiter: middleware.NewRateLimiter(config.RateLimit),
		recovery:    middleware.NewRecoveryMiddleware(log, nil),
		metrics:     middleware.NewMetricsMiddleware(deps.Observer),
		updateSem:   make(chan struct{}, config.MaxConcurrentUpdates),
	}, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// LIFECYCLE MANAGEMENT
// ══════════════════════════════════════════════════════════════════════════════

// Start verifies the token, registers the command menu and receives updates
// until ctx is cancelled. In webhook mode updates arrive through
// HandleTelegramUpdate and Start only blocks.
func (b *Bot) Start(ctx context.Context) error {
	b.runningMu.Lock()
	if b.running {
		b.runningMu.Unlock()
		return errors.New("bot is already running")
	}
	b.running = true
	b.runningMu.Unlock()
	defer func() {
		b.runningMu.Lock()
		b.running = false
		b.runningMu.Unlock()
	}()

	me, err := b.api.GetMe(ctx)
	if err != nil {
		return fmt.Errorf("verify bot token: %w", err)
	}
	b.log.Info("bot verified",
		logger.Int64("bot_id", me.ID),
		logger.String("username", me.Username),
		logger.String("mode", b.config.Mode),
	)

	if err := b.api.SetMyCommands(ctx, BotCommands()); err != nil {
		b.log.Warn("failed to register bot commands", logger.Err(err))
	}

	switch b.config.Mode {
	case ModePolling:
		if err := b.api.DeleteWebhook(ctx, b.config.DropPendingUpdates); err != nil {
			b.log.Warn("failed to delete webhook", logger.Err(err))
		}
		return b.api.StartPolling(ctx, b.HandleUpdate)
	case ModeWebhook:
		if b.config.WebhookURL == "" {
			return errors.New("webhook URL is required for webhook mode")
		}
		if err := b.api.SetWebhook(ctx, b.config.WebhookURL, b.config.WebhookSecret); err != nil {
			return fmt.Errorf("set webhook: %w", err)
		}
		b.log.Info("webhook registered", logger.String("url", b.config.WebhookURL))
		<-ctx.Done()
		return nil
	default:
		return fmt.Errorf("unknown bot mode: %s", b.config.Mode)
	}
}

// Stop waits for in-flight updates.
func (b *Bot) Stop(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(b.config.GracefulShutdownTimeout):
		b.log.Warn("graceful shutdown timeout exceeded")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsRunning returns whether Start is active.
func (b *Bot) IsRunning() bool {
	b.runningMu.Lock()
	defer b.runningMu.Unlock()
	return b.running
}

// Stats returns the in-process update counters.
func (b *Bot) Stats() middleware.Stats {
	return b.metrics.Snapshot()
}

// Router returns the router for extra registrations.
func (b *Bot) Router() *Router {
	return b.router
}

// ══════════════════════════════════════════════════════════════════════════════
// UPDATE HANDLING
// ══════════════════════════════════════════════════════════════════════════════

// HandleTelegramUpdate decodes a webhook payload and handles it.
func (b *Bot) HandleTelegramUpdate(ctx context.Context, payload []byte) error {
	var upd telegram.Update
	if err := json.Unmarshal(payload, &upd); err != nil {
		return fmt.Errorf("decode update: %w", err)
	}
	return b.HandleUpdate(ctx, &upd)
}

// HandleUpdate processes a single update. Expected failures are answered
// in the chat; the returned error is for logging only.
func (b *Bot) HandleUpdate(ctx context.Context, upd *telegram.Update) error {
	select {
	case b.updateSem <- struct{}{}:
		defer func() { <-b.updateSem }()
	case <-ctx.Done():
		return ctx.Err()
	}
	b.wg.Add(1)
	defer b.wg.Done()

	if sender := upd.Sender(); sender == nil || sender.IsBot {
		return nil
	}
	match, ok := b.router.Match(upd)
	if !ok {
		return nil
	}
	req := match.Request
	log := b.log.With(
		logger.Int64("update_id", upd.UpdateID),
		logger.Int64("telegram_id", req.TelegramID),
		logger.String("route", match.Route),
	)

	if rl := b.rateLimiter.Check(req.TelegramID); !rl.Allowed {
		b.metrics.RateLimited()
		log.Debug("update rate limited", logger.Duration("retry_after", rl.RetryAfter))
		b.notify(ctx, req, rl.Message())
		return nil
	}

	auth, err := b.auth.Authenticate(ctx, req.TelegramID, match.Route)
	if err != nil {
		log.Error("auth failed", logger.Err(err))
		b.notify(ctx, req, handler.BusyMessage)
		return err
	}
	if !auth.ShouldContinue {
		b.notify(ctx, req, auth.ResponseMessage)
		return nil
	}
	if auth.User != nil {
		ctx = middleware.ContextWithUser(ctx, auth.User)
	}

	err = b.metrics.Track(match.Route, func() error {
		return b.recovery.Run(req.TelegramID, match.Route, func() error {
			resp, err := match.Handler.Handle(ctx, req)
			if err != nil {
				return err
			}
			return b.respond(ctx, req, resp)
		})
	})
	if err != nil {
		var panicInfo *middleware.PanicInfo
		if !errors.As(err, &panicInfo) {
			log.Error("failed to handle update", logger.Err(err))
		}
		b.notify(ctx, req, middleware.DefaultPanicMessage)
		return err
	}
	return nil
}

// respond delivers resp. Callbacks are always answered so the client stops
// its spinner.
func (b *Bot) respond(ctx context.Context, req handler.Request, resp *handler.Response) error {
	if resp == nil {
		resp = &handler.Response{}
	}

	if req.IsCallback {
		if err := b.api.AnswerCallbackQuery(ctx, req.CallbackID, resp.Toast, resp.Alert); err != nil {
			b.log.Debug("failed to answer callback", logger.Err(err))
		}
	}
	if resp.Text == "" || req.ChatID == 0 {
		return nil
	}

	markup := ToMarkup(resp.Keyboard)
	if resp.Edit && req.IsCallback && req.MessageID != 0 {
		err := b.api.EditMessageText(ctx, req.ChatID, req.MessageID, resp.Text, markup)
		switch {
		case err == nil, telegram.IsNotModified(err):
			return nil
		default:
			b.log.Debug("edit failed, sending a new message", logger.Err(err))
		}
	}

	_, err := b.api.SendWithKeyboard(ctx, req.ChatID, resp.Text, markup)
	if telegram.IsUserBlocked(err) {
		b.log.Info("user blocked the bot", logger.Int64("telegram_id", req.TelegramID))
		return nil
	}
	return err
}

// notify sends a short message outside the handler path: a toast for
// callbacks, a chat message otherwise. Failures are only logged.
func (b *Bot) notify(ctx context.Context, req handler.Request, text string) {
	var err error
	if req.IsCallback {
		err = b.api.AnswerCallbackQuery(ctx, req.CallbackID, text, true)
	} else if req.ChatID != 0 {
		_, err = b.api.SendWithKeyboard(ctx, req.ChatID, text, nil)
	}
	if err != nil {
		b.log.Debug("failed to notify user", logger.Err(err))
	}
}
