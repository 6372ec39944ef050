// Package chat relays a user message to the active provider and records both
// sides of the exchange.
package chat

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"relaychat/internal/metrics"
	"relaychat/internal/providers"
	"relaychat/internal/providers/registry"
	"relaychat/internal/ratelimit"
	"relaychat/internal/storage"
)

var ErrNoActiveProvider = errors.New("no active provider configured")

const DefaultSystemPrompt = "你是世界上最聪明的人工智能陈狗 🐶🧠✨ 你拥有先进的智能算法和广博的知识储备，同时还有一颗可爱的心。请以聪明、友好而又可爱的方式回答用户的问题，展现你作为世界上最聪明AI的智慧。"

type ConfigStore interface {
	ActiveProviderConfig(ctx context.Context) (storage.ProviderConfig, error)
	ActiveSystemPrompt(ctx context.Context) (storage.SystemPrompt, error)
}

type Recorder interface {
	Append(ctx context.Context, t storage.Turn) (storage.Turn, error)
}

// SecretOpener unseals the stored provider API key.
type SecretOpener interface {
	Open(sealed string) (string, error)
}

type BuildFunc func(opts registry.BuildOptions) (providers.Provider, error)

type Config struct {
	Store       ConfigStore
	Recorder    Recorder
	Secrets     SecretOpener
	Limiter     ratelimit.Limiter
	HTTPClient  *http.Client
	MaxRetries  int
	BackoffBase time.Duration
	Build       BuildFunc
	Logger      zerolog.Logger
	Metrics     *metrics.Metrics
	Now         func() time.Time
}

type Dispatcher struct {
	store       ConfigStore
	recorder    Recorder
	secrets     SecretOpener
	limiter     ratelimit.Limiter
	httpClient  *http.Client
	maxRetries  int
	backoffBase time.Duration
	build       BuildFunc
	logger      zerolog.Logger
	metrics     *metrics.Metrics
	now         func() time.Time
}

func New(cfg Config) *Dispatcher {
	m := cfg.Metrics
	if m == nil {
		m = metrics.Global()
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 60 * time.Second}
	}
	if cfg.Build == nil {
		cfg.Build = registry.Build
	}
	if cfg.Limiter == nil {
		cfg.Limiter = ratelimit.Unlimited{}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Dispatcher{
		store:       cfg.Store,
		recorder:    cfg.Recorder,
		secrets:     cfg.Secrets,
		limiter:     cfg.Limiter,
		httpClient:  cfg.HTTPClient,
		maxRetries:  cfg.MaxRetries,
		backoffBase: cfg.BackoffBase,
		build:       cfg.Build,
		logger:      cfg.Logger,
		metrics:     m,
		now:         cfg.Now,
	}
}

type Request struct {
	Message   string
	SessionID string
	UserID    string
}

type Result struct {
	Content        string
	TokensUsed     int
	ResponseTimeMs int64
	ProviderUsed   string
	ModelUsed      string
}

func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (Result, error) {
	if err := d.limiter.Allow(ctx, req.SessionID); err != nil {
		d.metrics.ChatRequests.WithLabelValues("", "rate_limited").Inc()
		return Result{}, err
	}

	cfg, err := d.store.ActiveProviderConfig(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			d.metrics.ChatRequests.WithLabelValues("", "no_provider").Inc()
			return Result{}, ErrNoActiveProvider
		}
		return Result{}, fmt.Errorf("load active provider: %w", err)
	}

	systemPrompt := DefaultSystemPrompt
	prompt, err := d.store.ActiveSystemPrompt(ctx)
	switch {
	case err == nil:
		systemPrompt = prompt.Content
	case errors.Is(err, storage.ErrNotFound):
	default:
		d.logger.Warn().Err(err).Msg("load active system prompt failed, using default")
	}

	log := d.logger.With().Str("session_id", req.SessionID).Str("provider", cfg.Provider).Logger()

	d.record(ctx, log, storage.Turn{
		UserID:      req.UserID,
		SessionID:   req.SessionID,
		MessageType: storage.MessageTypeUser,
		Content:     req.Message,
	})

	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = registry.DefaultModel(cfg.Provider)
	}

	params, err := ParseParams(cfg.ParamsJSON)
	if err != nil {
		log.Warn().Err(err).Str("config_id", cfg.ID).Msg("invalid provider parameters, using defaults")
		params = Params{MaxTokens: DefaultMaxTokens, Temperature: DefaultTemperature}
	}

	apiKey, err := d.openKey(cfg.EncAPIKey)
	if err != nil {
		return Result{}, fmt.Errorf("open api key: %w", err)
	}

	p, err := d.build(registry.BuildOptions{
		Provider:    cfg.Provider,
		APIKey:      apiKey,
		Host:        cfg.Host,
		Endpoint:    cfg.Endpoint,
		HTTPClient:  d.httpClient,
		MaxRetries:  d.maxRetries,
		BackoffBase: d.backoffBase,
	})
	if err != nil {
		d.metrics.ChatRequests.WithLabelValues(cfg.Provider, "unsupported").Inc()
		return Result{}, err
	}

	started := d.now()
	resp, err := p.Chat(ctx, providers.ChatRequest{
		Model:        model,
		SystemPrompt: systemPrompt,
		UserPrompt:   req.Message,
		MaxTokens:    params.MaxTokens,
		Temperature:  params.Temperature,
	})
	elapsed := d.now().Sub(started)
	d.metrics.UpstreamLatency.WithLabelValues(cfg.Provider).Observe(elapsed.Seconds())
	if err != nil {
		d.metrics.ChatRequests.WithLabelValues(cfg.Provider, "upstream_error").Inc()
		log.Error().Err(err).Dur("elapsed", elapsed).Msg("provider call failed")
		return Result{}, err
	}

	res := Result{
		Content:        resp.Text,
		TokensUsed:     resp.TokensUsed,
		ResponseTimeMs: elapsed.Milliseconds(),
		ProviderUsed:   cfg.Provider,
		ModelUsed:      model,
	}

	tokens := res.TokensUsed
	latency := res.ResponseTimeMs
	d.record(ctx, log, storage.Turn{
		UserID:         req.UserID,
		SessionID:      req.SessionID,
		MessageType:    storage.MessageTypeAssistant,
		Content:        res.Content,
		ProviderUsed:   res.ProviderUsed,
		ModelUsed:      res.ModelUsed,
		TokensUsed:     &tokens,
		ResponseTimeMs: &latency,
	})

	d.metrics.ChatRequests.WithLabelValues(cfg.Provider, "ok").Inc()
	return res, nil
}

// record is best-effort: a failed write is logged and the chat continues.
func (d *Dispatcher) record(ctx context.Context, log zerolog.Logger, t storage.Turn) {
	if _, err := d.recorder.Append(ctx, t); err != nil {
		log.Error().Err(err).Str("message_type", t.MessageType).Msg("failed to record conversation turn")
	}
}

func (d *Dispatcher) openKey(sealed string) (string, error) {
	if strings.TrimSpace(sealed) == "" || d.secrets == nil {
		return sealed, nil
	}
	return d.secrets.Open(sealed)
}
