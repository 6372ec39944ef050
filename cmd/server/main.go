package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"relaychat/internal/auth"
	"relaychat/internal/chat"
	"relaychat/internal/config"
	"relaychat/internal/conversation"
	"relaychat/internal/crypto"
	"relaychat/internal/httpapi"
	"relaychat/internal/metrics"
	"relaychat/internal/password"
	"relaychat/internal/queue"
	"relaychat/internal/ratelimit"
	"relaychat/internal/session"
	"relaychat/internal/storage"
	"relaychat/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	setupLogger(cfg.Log.Level)
	log.Info().
		Str("recorder_mode", cfg.Recorder.Mode).
		Bool("redis", cfg.Redis.Enabled()).
		Bool("open_signup", cfg.Auth.OpenSignup).
		Msg("starting relaychat")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := storage.Open(ctx, cfg.DB.Driver, cfg.DB.DSN, cfg.DB.AutoMigrate)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize storage")
	}
	defer store.Close()

	var rdb *redis.Client
	if cfg.Redis.Enabled() {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatal().Err(err).Msg("failed to connect redis")
		}
		defer rdb.Close()
	}

	cryptoManager, err := crypto.NewManager(cfg.Crypto.CurrentKeyID, cfg.Crypto.Keys)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize crypto manager")
	}

	tokens, err := session.NewManager(cfg.Auth.TokenSecret, session.WithTTL(cfg.Auth.TokenTTL))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize session tokens")
	}

	hasher, err := password.NewHasher(cfg.Auth.PasswordScheme, cfg.Auth.LegacySalt)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize password hasher")
	}

	log.Info().
		Str("db_driver", store.Driver()).
		Str("key_id", cryptoManager.CurrentKeyID()).
		Str("password_scheme", hasher.Scheme()).
		Dur("token_ttl", tokens.TTL()).
		Msg("security components ready")

	if n, err := cryptoManager.ResealProviderKeys(ctx, store); err != nil {
		log.Warn().Err(err).Int("resealed", n).Msg("failed to reseal provider keys")
	} else if n > 0 {
		log.Info().Int("resealed", n).Str("key_id", cryptoManager.CurrentKeyID()).Msg("provider keys moved to current key")
	}

	m := metrics.Global()

	chatLimiter, stopChat := newLimiter(rdb, "chat", cfg.Rate.ChatPerHour, m)
	defer stopChat()
	loginLimiter, stopLogin := newLimiter(rdb, "login", cfg.Rate.LoginPerHour, m)
	defer stopLogin()

	var turnQueue *queue.StreamQueue
	if cfg.Recorder.Mode == config.RecorderStream {
		turnQueue = queue.NewStreamQueue(rdb, cfg.Recorder.Stream, cfg.Recorder.Group, cfg.Worker.ConsumerName, cfg.Recorder.Block)
	}

	recorder := conversation.New(conversation.Config{
		Store:   store,
		Queue:   turnQueue,
		Logger:  log.Logger.With().Str("component", "recorder").Logger(),
		Metrics: m,
	})

	dispatcher := chat.New(chat.Config{
		Store:       store,
		Recorder:    recorder,
		Secrets:     cryptoManager,
		Limiter:     chatLimiter,
		HTTPClient:  &http.Client{Timeout: cfg.HTTP.ClientTimeout},
		MaxRetries:  cfg.HTTP.MaxRetries,
		BackoffBase: cfg.HTTP.BackoffBase,
		Logger:      log.Logger.With().Str("component", "chat").Logger(),
		Metrics:     m,
	})

	authService := auth.NewService(auth.ServiceConfig{
		Store:        store,
		Tokens:       tokens,
		Hasher:       hasher,
		LoginLimiter: loginLimiter,
		OpenSignup:   cfg.Auth.OpenSignup,
		Logger:       log.Logger.With().Str("component", "auth").Logger(),
		Metrics:      m,
	})

	errCh := make(chan error, 2)

	router := httpapi.NewRouter(httpapi.Deps{
		Admins:         authService,
		Guard:          authService.Guard(),
		Chat:           dispatcher,
		Conversations:  recorder,
		Configs:        store,
		Secrets:        cryptoManager,
		Logger:         log.Logger,
		AllowedOrigin:  cfg.Server.AllowedOrigin,
		HealthPath:     cfg.Server.HealthPath,
		MetricsPath:    cfg.Server.MetricsPath,
		MetricsHandler: promhttp.Handler(),
		Health:         store.Ping,
	})
	httpServer := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      cfg.HTTP.ClientTimeout + 15*time.Second,
	}
	go func() {
		log.Info().Str("addr", cfg.Server.ListenAddr).Msg("http server started")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	if turnQueue != nil {
		w := worker.New(worker.Config{
			Sink:          store,
			Queue:         turnQueue,
			MaxJobRetries: cfg.Worker.MaxRetries,
			Logger:        log.Logger.With().Str("component", "worker").Logger(),
			Metrics:       m,
		})
		go func() {
			if err := w.Start(ctx, cfg.Worker.Concurrency); err != nil && ctx.Err() == nil {
				errCh <- fmt.Errorf("worker failed: %w", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		log.Error().Err(err).Msg("runtime error")
		cancel()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("failed to stop http server")
	}

	log.Info().Msg("stopped")
}

// newLimiter picks the redis fixed-window limiter when redis is configured and
// the in-process token bucket otherwise. A non-positive limit disables throttling.
func newLimiter(rdb *redis.Client, prefix string, perHour int64, m *metrics.Metrics) (ratelimit.Limiter, func()) {
	if perHour <= 0 {
		return ratelimit.Unlimited{}, func() {}
	}
	if rdb != nil {
		return ratelimit.NewRedis(queue.NewRateLimiter(rdb, prefix, perHour), log.Logger.With().Str("component", "ratelimit").Logger(), m), func() {}
	}
	mem := ratelimit.NewMemory(int(perHour), 5*time.Minute)
	return mem, mem.Stop
}

func setupLogger(level string) {
	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.SetGlobalLevel(parseLogLevel(level))
	log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func parseLogLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
