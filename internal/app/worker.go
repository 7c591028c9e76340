package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ascend-app/ascend/config"
	"github.com/ascend-app/ascend/internal/application/eventhandler"
	"github.com/ascend-app/ascend/internal/domain/notification"
	tgclient "github.com/ascend-app/ascend/internal/infrastructure/external/telegram"
	"github.com/ascend-app/ascend/internal/infrastructure/messaging"
	"github.com/ascend-app/ascend/internal/infrastructure/metrics"
	"github.com/ascend-app/ascend/internal/infrastructure/persistence/redis"
	"github.com/ascend-app/ascend/internal/infrastructure/scheduler"
	"github.com/ascend-app/ascend/internal/infrastructure/scheduler/jobs"
	"github.com/ascend-app/ascend/pkg/logger"
)

// Worker is the background process: scheduled jobs and delivery of rank-up
// notifications published by the API instances.
type Worker struct {
	cfg       *config.Config
	log       *logger.Logger
	scheduler *scheduler.Scheduler
	bus       *messaging.RedisEventBus
	metrics   *metrics.Metrics
	storage   *Storage
	server    *http.Server
	closers   []func() error
}

// NewWorker opens the worker dependencies and registers its jobs. notifier
// overrides the Telegram notifier when non-nil.
func NewWorker(ctx context.Context, cfg *config.Config, log *logger.Logger, notifier notification.Notifier) (_ *Worker, err error) {
	log = log.With(logger.Component("worker"))
	w := &Worker{cfg: cfg, log: log, metrics: metrics.New(true)}
	defer func() {
		if err != nil {
			_ = w.Close()
		}
	}()

	// ─────────────────────────────────────────────────────────────────────────
	// 1. ХРАНИЛИЩЕ И REDIS
	// ─────────────────────────────────────────────────────────────────────────
	w.storage, err = OpenStorage(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	w.closers = append(w.closers, w.storage.Close)

	cache, err := OpenRedis(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	if cache != nil {
		w.closers = append(w.closers, cache.Close)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 2. NOTIFIER
	// ─────────────────────────────────────────────────────────────────────────
	if notifier == nil && cfg.TelegramEnabled() {
		notifier = tgclient.NewNotifier(NewTelegramClient(cfg, log), cfg.Telegram.MiniAppURL)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 3. ПОДПИСКА НА СОБЫТИЯ
	// ─────────────────────────────────────────────────────────────────────────
	if cache != nil && notifier != nil && cfg.Features.IsEnabled(config.FeatureNotifyRankUp) {
		localCfg := messaging.DefaultInMemoryEventBusConfig()
		localCfg.Logger = log
		localCfg.Observer = w.metrics
		w.bus, err = messaging.NewRedisEventBus(messaging.RedisEventBusConfig{
			Client:         cache.Client(),
			Channel:        cfg.Redis.EventChannel,
			LocalBusConfig: localCfg,
			Logger:         log,
		})
		if err != nil {
			return nil, fmt.Errorf("create redis event bus: %w", err)
		}
		w.closers = append(w.closers, w.bus.Close)

		rank := eventhandler.NewOnRankChangedHandler(notifier, log, eventhandler.DefaultRankChangedConfig())
		if err := eventhandler.Register(w.bus, rank, nil); err != nil {
			return nil, fmt.Errorf("register rank notifier: %w", err)
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 4. ПЛАНИРОВЩИК
	// ─────────────────────────────────────────────────────────────────────────
	schedCfg := scheduler.DefaultConfig()
	schedCfg.Location = cfg.App.Location
	schedCfg.JobTimeout = cfg.Scheduler.JobTimeout
	schedCfg.Logger = log
	schedCfg.Observer = w.metrics
	if cache != nil {
		schedCfg.Locker = redis.NewJobLocker(cache)
	}
	w.scheduler = scheduler.New(schedCfg)

	if err := w.registerJobs(cache, notifier); err != nil {
		return nil, err
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 5. METRICS ENDPOINT
	// ─────────────────────────────────────────────────────────────────────────
	if cfg.Scheduler.MetricsAddr != "" {
		w.server = &http.Server{
			Addr:              cfg.Scheduler.MetricsAddr,
			Handler:           w.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
	}

	return w, nil
}

func (w *Worker) registerJobs(cache *redis.Cache, notifier notification.Notifier) error {
	if !w.cfg.Scheduler.Enabled {
		w.log.Info("scheduler disabled")
		return nil
	}

	if notifier != nil && w.cfg.Features.IsEnabled(config.FeatureNotifyStreakReminder) {
		var ledger jobs.ReminderLedger
		if cache != nil {
			ledger = redis.NewReminderLedger(cache)
		}
		job := jobs.NewStreakReminderJob(w.storage.Users, notifier, ledger, NewCalendar(w.cfg),
			w.metrics, w.log, jobs.DefaultStreakReminderConfig())
		if err := w.scheduler.Register(job, w.cfg.Scheduler.ReminderSpec); err != nil {
			return fmt.Errorf("register %s: %w", job.Name(), err)
		}
	}

	if cache != nil && w.cfg.Features.IsEnabled(config.FeatureQuestBoardCache) {
		job := jobs.NewWarmQuestCacheJob(redis.NewCachedCatalog(w.storage.Quests, cache, w.log), w.log)
		if err := w.scheduler.Register(job, w.cfg.Scheduler.CacheWarmSpec); err != nil {
			return fmt.Errorf("register %s: %w", job.Name(), err)
		}
	}
	return nil
}

// Scheduler exposes the job scheduler.
func (w *Worker) Scheduler() *scheduler.Scheduler {
	return w.scheduler
}

// Handler serves /metrics and /health.
func (w *Worker) Handler() http.Handler {
	r := chi.NewRouter()
	r.Method(http.MethodGet, "/metrics", w.metrics.Handler())
	r.Get("/health", func(rw http.ResponseWriter, req *http.Request) {
		ctx, cancel := context.WithTimeout(req.Context(), 3*time.Second)
		defer cancel()

		status, code := "ok", http.StatusOK
		if err := w.storage.Pinger.Ping(ctx); err != nil {
			status, code = "unavailable", http.StatusServiceUnavailable
		}
		var names []string
		for _, j := range w.scheduler.ListJobs() {
			names = append(names, j.Name)
		}
		rw.Header().Set("Content-Type", "application/json")
		rw.WriteHeader(code)
		_ = json.NewEncoder(rw).Encode(map[string]any{
			"status": status,
			"jobs":   names,
		})
	})
	return r
}

// Run starts the subscription, the scheduler and the metrics endpoint and
// blocks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	if w.bus != nil {
		if err := w.bus.Start(ctx); err != nil {
			return err
		}
	}
	if err := w.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	errCh := make(chan error, 1)
	if w.server != nil {
		go func() {
			w.log.Info("metrics endpoint listening", logger.String("addr", w.server.Addr))
			if err := w.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("metrics server: %w", err)
			}
		}()
	}

	w.log.Info("ascend worker is running", logger.Int("jobs", len(w.scheduler.ListJobs())))

	var runErr error
	select {
	case <-ctx.Done():
		w.log.Info("received shutdown signal")
	case runErr = <-errCh:
		w.log.Error("service error", logger.Err(runErr))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), w.cfg.App.ShutdownTimeout)
	defer cancel()

	var errs []error
	if err := w.scheduler.Stop(); err != nil {
		errs = append(errs, err)
	}
	if w.server != nil {
		if err := w.server.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
	}
	w.log.Info("worker stopped")
	return errors.Join(append([]error{runErr}, errs...)...)
}

// Close releases the event bus, Redis and the store.
func (w *Worker) Close() error {
	err := closeAll(w.closers)
	w.closers = nil
	return err
}
