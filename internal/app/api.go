package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/ascend-app/ascend/config"
	"github.com/ascend-app/ascend/internal/application/command"
	"github.com/ascend-app/ascend/internal/application/eventhandler"
	"github.com/ascend-app/ascend/internal/application/query"
	"github.com/ascend-app/ascend/internal/domain/progression"
	"github.com/ascend-app/ascend/internal/domain/shared"
	tgclient "github.com/ascend-app/ascend/internal/infrastructure/external/telegram"
	"github.com/ascend-app/ascend/internal/infrastructure/messaging"
	"github.com/ascend-app/ascend/internal/infrastructure/metrics"
	"github.com/ascend-app/ascend/internal/infrastructure/persistence/redis"
	httpserver "github.com/ascend-app/ascend/internal/interface/http"
	"github.com/ascend-app/ascend/internal/interface/http/handlers"
	tgbot "github.com/ascend-app/ascend/internal/interface/telegram"
	"github.com/ascend-app/ascend/pkg/logger"
)

// API is the HTTP server process: the mini app API, the Telegram bot and
// the webhook endpoint.
type API struct {
	cfg     *config.Config
	log     *logger.Logger
	server  *httpserver.Server
	bot     *tgbot.Bot
	closers []func() error
}

// NewAPI opens every dependency of the API process. On error everything
// opened so far is closed again.
func NewAPI(ctx context.Context, cfg *config.Config, log *logger.Logger) (_ *API, err error) {
	a := &API{cfg: cfg, log: log}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	// ─────────────────────────────────────────────────────────────────────────
	// 1. ХРАНИЛИЩЕ
	// ─────────────────────────────────────────────────────────────────────────
	storage, err := OpenStorage(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, storage.Close)

	// ─────────────────────────────────────────────────────────────────────────
	// 2. КАТАЛОГ КВЕСТОВ
	// ─────────────────────────────────────────────────────────────────────────
	if err := LoadCatalog(ctx, cfg, storage.Quests, log); err != nil {
		return nil, err
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 3. REDIS (опционально)
	// ─────────────────────────────────────────────────────────────────────────
	cache, err := OpenRedis(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	var (
		questCatalog progression.QuestCatalog = storage.Quests
		doneCache    *redis.DoneCache
	)
	if cache != nil {
		a.closers = append(a.closers, cache.Close)
		doneCache = redis.NewDoneCache(cache)
		if cfg.Features.IsEnabled(config.FeatureQuestBoardCache) {
			cached := redis.NewCachedCatalog(storage.Quests, cache, log)
			// the catalog was just synced; drop boards cached by older instances
			if err := cached.Invalidate(ctx); err != nil {
				log.Warn("quest board cache invalidation failed", logger.Err(err))
			}
			questCatalog = cached
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 4. МЕТРИКИ
	// ─────────────────────────────────────────────────────────────────────────
	m := metrics.New(true)

	// ─────────────────────────────────────────────────────────────────────────
	// 5. TELEGRAM CLIENT
	// ─────────────────────────────────────────────────────────────────────────
	var client *tgclient.Client
	if cfg.TelegramEnabled() {
		client = NewTelegramClient(cfg, log)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 6. EVENT BUS
	// ─────────────────────────────────────────────────────────────────────────
	// Done-cache invalidation runs synchronously so the next quest board read
	// already sees the completion.
	local := messaging.NewInMemoryEventBus(messaging.InMemoryEventBusConfig{
		AsyncMode: false,
		Logger:    log,
		Observer:  m,
	})
	a.closers = append(a.closers, local.Close)

	var cacheHandler *eventhandler.OnQuestCompletedHandler
	if doneCache != nil {
		cacheHandler = eventhandler.NewOnQuestCompletedHandler(doneCache, log)
	}
	if err := eventhandler.Register(local, nil, cacheHandler); err != nil {
		return nil, fmt.Errorf("register event handlers: %w", err)
	}

	if err := a.wireNotifications(local, cache, client, m); err != nil {
		return nil, err
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 7. APPLICATION LAYER
	// ─────────────────────────────────────────────────────────────────────────
	calendar := NewCalendar(cfg)
	engine := command.NewEngine(storage.Store, questCatalog, calendar,
		command.EngineConfig{
			Increment:   cfg.Progression.Increment(),
			MaxAttempts: cfg.Progression.MaxAttempts,
		},
		command.WithObserver(m),
		command.WithLogger(log),
	)

	completeQuest := command.NewCompleteQuestHandler(engine, local, log)
	registerUser := command.NewRegisterUserHandler(storage.Users, local, log)
	updateProfile := command.NewUpdateProfileHandler(storage.Users, local)

	var board query.DoneCache
	if doneCache != nil {
		board = doneCache
	}
	getTodayQuests := query.NewGetTodayQuestsHandler(questCatalog, storage.Users, calendar, board, log)
	getProfile := query.NewGetProfileHandler(storage.Users, calendar)

	// ─────────────────────────────────────────────────────────────────────────
	// 8. TELEGRAM BOT
	// ─────────────────────────────────────────────────────────────────────────
	if client != nil {
		botCfg := tgbot.DefaultBotConfig()
		botCfg.Mode = cfg.Telegram.Mode
		botCfg.WebhookURL = cfg.Telegram.WebhookURL
		botCfg.WebhookSecret = cfg.Telegram.WebhookSecret
		botCfg.MiniAppURL = cfg.Telegram.MiniAppURL
		botCfg.RateLimit.RequestsPerMinute = cfg.Telegram.UserRateLimit
		botCfg.RateLimit.WhitelistedUsers = cfg.Telegram.AdminIDs
		botCfg.GracefulShutdownTimeout = cfg.App.ShutdownTimeout

		a.bot, err = tgbot.NewBot(botCfg, client, tgbot.BotDependencies{
			Users:          storage.Users,
			RegisterUser:   registerUser,
			CompleteQuest:  completeQuest,
			GetProfile:     getProfile,
			GetTodayQuests: getTodayQuests,
			Features:       cfg.Features,
			Observer:       m,
			Logger:         log,
		})
		if err != nil {
			return nil, fmt.Errorf("create telegram bot: %w", err)
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 9. HTTP SERVER
	// ─────────────────────────────────────────────────────────────────────────
	auth, err := handlers.NewAuthenticator(cfg.HTTP.AuthMode)
	if err != nil {
		return nil, err
	}

	health := handlers.NewCompositeHealthChecker(cfg.App.Version)
	health.AddCheck("store", handlers.NewPingCheck(storage.Pinger))
	if cache != nil {
		health.AddCheck("redis", handlers.NewPingCheck(cache))
	}

	httpCfg := httpserver.DefaultConfig()
	httpCfg.Addr = cfg.HTTP.Addr()
	httpCfg.ReadTimeout = cfg.HTTP.ReadTimeout
	httpCfg.WriteTimeout = cfg.HTTP.WriteTimeout
	httpCfg.CORSOrigin = cfg.HTTP.CORSOrigin
	httpCfg.RateLimitRPS = cfg.HTTP.RateLimitRPS
	httpCfg.RateLimitBurst = cfg.HTTP.RateLimitBurst
	httpCfg.WebhookSecret = cfg.Telegram.WebhookSecret
	httpCfg.Version = cfg.App.Version

	deps := httpserver.Dependencies{
		CompleteQuest:  completeQuest,
		RegisterUser:   registerUser,
		UpdateProfile:  updateProfile,
		GetTodayQuests: getTodayQuests,
		GetProfile:     getProfile,
		Authenticator:  auth,
		HealthChecker:  health,
		Metrics:        m,
		Logger:         log,
	}
	if a.bot != nil && cfg.Telegram.Mode == config.TelegramWebhook {
		deps.WebhookHandler = a.bot
	}
	a.server = httpserver.NewServer(httpCfg, deps)

	return a, nil
}

// wireNotifications routes rank changes towards the Telegram notifier. With
// Redis the events go to the shared channel and the worker delivers them;
// without it the API delivers them itself on an async bus.
func (a *API) wireNotifications(local *messaging.InMemoryEventBus, cache *redis.Cache, client *tgclient.Client, m *metrics.Metrics) error {
	if cache != nil {
		redisBus, err := messaging.NewRedisEventBus(messaging.RedisEventBusConfig{
			Client:  cache.Client(),
			Channel: a.cfg.Redis.EventChannel,
			Logger:  a.log,
		})
		if err != nil {
			return fmt.Errorf("create redis event bus: %w", err)
		}
		a.closers = append(a.closers, redisBus.Close)
		return local.SubscribeAll(relay(redisBus, a.log))
	}

	if client == nil || !a.cfg.Features.IsEnabled(config.FeatureNotifyRankUp) {
		return nil
	}
	busCfg := messaging.DefaultInMemoryEventBusConfig()
	busCfg.Logger = a.log
	busCfg.Observer = m
	notifyBus := messaging.NewInMemoryEventBus(busCfg)
	a.closers = append(a.closers, notifyBus.Close)

	rank := eventhandler.NewOnRankChangedHandler(tgclient.NewNotifier(client, a.cfg.Telegram.MiniAppURL),
		a.log, eventhandler.DefaultRankChangedConfig())
	if err := eventhandler.Register(notifyBus, rank, nil); err != nil {
		return fmt.Errorf("register rank notifier: %w", err)
	}
	return local.Subscribe(shared.EventRankChanged, notifyBus.Publish)
}

// relay forwards events to another publisher. A failed forward is logged and
// never fails the command that produced the event.
func relay(to shared.EventPublisher, log *logger.Logger) shared.EventHandler {
	return func(event shared.Event) error {
		if err := to.Publish(event); err != nil {
			log.Warn("event relay failed",
				logger.String("event_type", string(event.EventType())),
				logger.Err(err),
			)
		}
		return nil
	}
}

// Handler exposes the HTTP router.
func (a *API) Handler() http.Handler {
	return a.server.Handler()
}

// Run serves HTTP and the bot until ctx is cancelled or one of them fails,
// then shuts both down within SHUTDOWN_TIMEOUT.
func (a *API) Run(ctx context.Context) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 10. ЗАПУСК СЕРВИСОВ
	// ─────────────────────────────────────────────────────────────────────────
	errCh := make(chan error, 2)

	go func() {
		if err := a.server.Start(); err != nil {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	botCtx, stopBot := context.WithCancel(ctx)
	defer stopBot()
	if a.bot != nil {
		go func() {
			a.log.Info("starting telegram bot", logger.String("mode", a.cfg.Telegram.Mode))
			if err := a.bot.Start(botCtx); err != nil {
				errCh <- fmt.Errorf("telegram bot: %w", err)
			}
		}()
	}

	a.log.Info("ascend api is running",
		logger.String("http_addr", a.cfg.HTTP.Addr()),
		logger.String("telegram_mode", a.cfg.Telegram.Mode),
		logger.String("store", a.cfg.Store.Driver),
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 11. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	var runErr error
	select {
	case <-ctx.Done():
		a.log.Info("received shutdown signal")
	case runErr = <-errCh:
		a.log.Error("service error", logger.Err(runErr))
	}
	stopBot()

	a.log.Info("starting graceful shutdown", logger.Duration("timeout", a.cfg.App.ShutdownTimeout))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.App.ShutdownTimeout)
	defer cancel()

	var shutdownErrs []error
	if a.bot != nil {
		if err := a.bot.Stop(shutdownCtx); err != nil {
			a.log.Error("failed to stop bot gracefully", logger.Err(err))
			shutdownErrs = append(shutdownErrs, err)
		}
	}
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		a.log.Error("failed to stop http server gracefully", logger.Err(err))
		shutdownErrs = append(shutdownErrs, err)
	}

	if len(shutdownErrs) > 0 {
		a.log.Warn("shutdown completed with errors")
	} else {
		a.log.Info("shutdown completed")
	}
	return errors.Join(append([]error{runErr}, shutdownErrs...)...)
}

// Close releases the event buses, Redis and the store.
func (a *API) Close() error {
	err := closeAll(a.closers)
	a.closers = nil
	return err
}

// NewTelegramClient builds the Bot API client shared by the bot and the
// notifier.
func NewTelegramClient(cfg *config.Config, log *logger.Logger) *tgclient.Client {
	tc := tgclient.DefaultClientConfig(cfg.Telegram.Token)
	if cfg.Telegram.SendRate > 0 {
		tc.SendRate = cfg.Telegram.SendRate
	}
	tc.Logger = log
	tc.Debug = cfg.App.Debug
	return tgclient.NewClient(tc)
}
