package config

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	RecorderDirect = "direct"
	RecorderStream = "stream"
)

var (
	ErrMissingTokenSecret  = errors.New("ADMIN_TOKEN_SECRET is required")
	ErrMissingDatabaseDSN  = errors.New("DB_DSN is required")
	ErrMissingMasterKey    = errors.New("at least one master key is required")
	ErrInvalidRecorderMode = errors.New("RECORDER_MODE must be 'direct' or 'stream'")
	ErrStreamNeedsRedis    = errors.New("RECORDER_MODE=stream requires REDIS_ADDR")
)

type Config struct {
	Server   ServerConfig
	Auth     AuthConfig
	Redis    RedisConfig
	DB       DBConfig
	Recorder RecorderConfig
	Worker   WorkerConfig
	HTTP     HTTPConfig
	Rate     RateConfig
	Crypto   CryptoConfig
	Log      LogConfig
}

type ServerConfig struct {
	ListenAddr      string
	HealthPath      string
	MetricsPath     string
	AllowedOrigin   string
	ShutdownTimeout time.Duration
}

type AuthConfig struct {
	TokenSecret    string
	TokenTTL       time.Duration
	OpenSignup     bool
	PasswordScheme string
	LegacySalt     string
}

// RedisConfig is optional; an empty Addr disables redis entirely.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

func (r RedisConfig) Enabled() bool {
	return r.Addr != ""
}

type DBConfig struct {
	Driver      string
	DSN         string
	AutoMigrate bool
}

type RecorderConfig struct {
	Mode   string
	Stream string
	Group  string
	Block  time.Duration
}

type WorkerConfig struct {
	Concurrency  int
	ConsumerName string
	MaxRetries   int
}

type HTTPConfig struct {
	ClientTimeout time.Duration
	MaxRetries    int
	BackoffBase   time.Duration
}

type RateConfig struct {
	ChatPerHour  int64
	LoginPerHour int64
}

type CryptoConfig struct {
	CurrentKeyID string
	Keys         map[string][]byte
}

type LogConfig struct {
	Level string
}

func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			ListenAddr:      mustEnv("LISTEN_ADDR", ":8080"),
			HealthPath:      mustEnv("HEALTH_PATH", "/healthz"),
			MetricsPath:     mustEnv("METRICS_PATH", "/metrics"),
			AllowedOrigin:   mustEnv("CORS_ALLOWED_ORIGIN", "*"),
			ShutdownTimeout: mustDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Auth: AuthConfig{
			TokenSecret:    mustEnv("ADMIN_TOKEN_SECRET", ""),
			TokenTTL:       mustDuration("ADMIN_TOKEN_TTL", 24*time.Hour),
			OpenSignup:     mustBool("ADMIN_OPEN_SIGNUP", false),
			PasswordScheme: strings.ToLower(mustEnv("PASSWORD_SCHEME", "bcrypt")),
			LegacySalt:     mustEnv("PASSWORD_LEGACY_SALT", "salt123"),
		},
		Redis: RedisConfig{
			Addr:     mustEnv("REDIS_ADDR", ""),
			Password: mustEnv("REDIS_PASSWORD", ""),
			DB:       mustInt("REDIS_DB", 0),
		},
		DB: DBConfig{
			Driver:      strings.ToLower(mustEnv("DB_DRIVER", "postgres")),
			DSN:         mustEnv("DB_DSN", ""),
			AutoMigrate: mustBool("AUTO_MIGRATE", true),
		},
		Recorder: RecorderConfig{
			Mode:   strings.ToLower(mustEnv("RECORDER_MODE", RecorderDirect)),
			Stream: mustEnv("TURN_STREAM", "relaychat:turns"),
			Group:  mustEnv("TURN_GROUP", "relaychat-recorders"),
			Block:  mustDuration("QUEUE_BLOCK", 5*time.Second),
		},
		Worker: WorkerConfig{
			Concurrency:  mustInt("WORKER_CONCURRENCY", 2),
			ConsumerName: mustEnv("WORKER_CONSUMER_NAME", hostnameOr("recorder")),
			MaxRetries:   mustInt("WORKER_MAX_RETRIES", 3),
		},
		HTTP: HTTPConfig{
			ClientTimeout: mustDuration("HTTP_TIMEOUT", 60*time.Second),
			MaxRetries:    mustInt("HTTP_MAX_RETRIES", 0),
			BackoffBase:   mustDuration("HTTP_BACKOFF_BASE", 400*time.Millisecond),
		},
		Rate: RateConfig{
			ChatPerHour:  mustInt64("CHAT_RATE_PER_HOUR", 120),
			LoginPerHour: mustInt64("LOGIN_RATE_PER_HOUR", 20),
		},
		Log: LogConfig{
			Level: strings.ToLower(mustEnv("LOG_LEVEL", "info")),
		},
	}

	if cfg.Auth.TokenSecret == "" {
		return nil, ErrMissingTokenSecret
	}
	if cfg.DB.DSN == "" {
		return nil, ErrMissingDatabaseDSN
	}
	if cfg.Recorder.Mode != RecorderDirect && cfg.Recorder.Mode != RecorderStream {
		return nil, ErrInvalidRecorderMode
	}
	if cfg.Recorder.Mode == RecorderStream && !cfg.Redis.Enabled() {
		return nil, ErrStreamNeedsRedis
	}

	cc, err := loadCryptoConfig()
	if err != nil {
		return nil, err
	}
	cfg.Crypto = cc

	return cfg, nil
}

func loadCryptoConfig() (CryptoConfig, error) {
	keysB64 := map[string]string{}

	if raw := mustEnv("MASTER_KEYS_JSON", ""); raw != "" {
		var parsed map[string]string
		if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
			return CryptoConfig{}, fmt.Errorf("parse MASTER_KEYS_JSON: %w", err)
		}
		for id, val := range parsed {
			if strings.TrimSpace(id) == "" || strings.TrimSpace(val) == "" {
				continue
			}
			keysB64[id] = val
		}
	}

	for _, e := range os.Environ() {
		parts := strings.SplitN(e, "=", 2)
		if len(parts) != 2 {
			continue
		}
		k, v := parts[0], parts[1]
		if !strings.HasPrefix(k, "MASTER_KEY_") || !strings.HasSuffix(k, "_B64") {
			continue
		}
		if k == "MASTER_KEY_B64" {
			continue
		}
		id := strings.TrimSuffix(strings.TrimPrefix(k, "MASTER_KEY_"), "_B64")
		if id == "" || v == "" {
			continue
		}
		keysB64[id] = v
	}

	current := mustEnv("MASTER_KEY_CURRENT_ID", "")
	if singleton := mustEnv("MASTER_KEY_B64", ""); singleton != "" {
		if current == "" {
			current = "default"
		}
		keysB64[current] = singleton
	}

	if len(keysB64) == 0 {
		return CryptoConfig{}, ErrMissingMasterKey
	}

	keys := make(map[string][]byte, len(keysB64))
	for id, b64 := range keysB64 {
		raw, err := base64.StdEncoding.DecodeString(b64)
		if err != nil {
			return CryptoConfig{}, fmt.Errorf("decode master key %q: %w", id, err)
		}
		if len(raw) != 32 {
			return CryptoConfig{}, fmt.Errorf("master key %q must be 32 bytes after base64 decode", id)
		}
		keys[id] = raw
	}

	if current == "" {
		for id := range keys {
			current = id
			break
		}
	}
	if _, ok := keys[current]; !ok {
		return CryptoConfig{}, fmt.Errorf("MASTER_KEY_CURRENT_ID=%q does not exist in provided keys", current)
	}

	return CryptoConfig{
		CurrentKeyID: current,
		Keys:         keys,
	}, nil
}

func mustEnv(key string, def string) string {
	if v := os.Getenv(key); v != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func mustInt(key string, def int) int {
	v := mustEnv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func mustInt64(key string, def int64) int64 {
	v := mustEnv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func mustBool(key string, def bool) bool {
	v := mustEnv(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func mustDuration(key string, def time.Duration) time.Duration {
	v := mustEnv(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func hostnameOr(def string) string {
	h, err := os.Hostname()
	if err != nil || strings.TrimSpace(h) == "" {
		return def
	}
	return h
}
