package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"relaychat/internal/metrics"
	"relaychat/internal/password"
	"relaychat/internal/ratelimit"
	"relaychat/internal/session"
	"relaychat/internal/storage"
)

var (
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrUsernameTaken      = errors.New("username already exists")
	ErrCreateForbidden    = errors.New("admin creation is not permitted")
	ErrInvalidInput       = errors.New("invalid input")
)

type ServiceConfig struct {
	Store        AdminStore
	Tokens       *session.Manager
	Hasher       *password.Hasher
	LoginLimiter ratelimit.Limiter
	// OpenSignup lets anyone create an admin account, as early deployments did.
	OpenSignup bool
	Logger     zerolog.Logger
	Metrics    *metrics.Metrics
	Now        func() time.Time
}

type Service struct {
	store      AdminStore
	tokens     *session.Manager
	hasher     *password.Hasher
	guard      *Guard
	limiter    ratelimit.Limiter
	openSignup bool
	logger     zerolog.Logger
	metrics    *metrics.Metrics
	now        func() time.Time
}

func NewService(cfg ServiceConfig) *Service {
	m := cfg.Metrics
	if m == nil {
		m = metrics.Global()
	}
	if cfg.LoginLimiter == nil {
		cfg.LoginLimiter = ratelimit.Unlimited{}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Service{
		store:      cfg.Store,
		tokens:     cfg.Tokens,
		hasher:     cfg.Hasher,
		guard:      NewGuard(cfg.Tokens, cfg.Store),
		limiter:    cfg.LoginLimiter,
		openSignup: cfg.OpenSignup,
		logger:     cfg.Logger,
		metrics:    m,
		now:        cfg.Now,
	}
}

func (s *Service) Guard() *Guard {
	return s.guard
}

type LoginResult struct {
	Token  string
	Claims session.Claims
	Admin  storage.Admin
}

// Login checks the password of an active admin and issues a session token.
// Unknown users, disabled accounts and wrong passwords are indistinguishable.
func (s *Service) Login(ctx context.Context, username, pw string) (LoginResult, error) {
	username = strings.TrimSpace(username)
	if username == "" || pw == "" {
		return LoginResult{}, fmt.Errorf("%w: username and password are required", ErrInvalidInput)
	}
	if err := s.limiter.Allow(ctx, strings.ToLower(username)); err != nil {
		s.metrics.LoginAttempts.WithLabelValues("rate_limited").Inc()
		return LoginResult{}, err
	}

	admin, err := s.store.GetAdminByUsername(ctx, username, true)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.metrics.LoginAttempts.WithLabelValues("rejected").Inc()
			return LoginResult{}, ErrInvalidCredentials
		}
		return LoginResult{}, fmt.Errorf("lookup admin: %w", err)
	}
	if !s.hasher.Verify(pw, admin.PasswordHash) {
		s.metrics.LoginAttempts.WithLabelValues("rejected").Inc()
		s.logger.Info().Str("username", username).Msg("admin login rejected")
		return LoginResult{}, ErrInvalidCredentials
	}

	now := s.now().UTC()
	if err := s.store.TouchLastLogin(ctx, admin.ID, now); err != nil {
		s.logger.Warn().Err(err).Str("admin_id", admin.ID).Msg("failed to update last login")
	} else {
		admin.LastLogin = &now
	}

	token, claims, err := s.tokens.Issue(admin.ID, admin.Username)
	if err != nil {
		return LoginResult{}, err
	}
	s.metrics.LoginAttempts.WithLabelValues("ok").Inc()
	s.logger.Info().Str("admin_id", admin.ID).Msg("admin logged in")
	return LoginResult{Token: token, Claims: claims, Admin: admin}, nil
}

type CreateInput struct {
	Username string
	Password string
	Email    string
}

// Create provisions an admin. It is allowed while no admin exists, for callers
// holding a valid session, or always when open signup is enabled.
func (s *Service) Create(ctx context.Context, in CreateInput, authorization string) (storage.Admin, error) {
	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.TrimSpace(in.Email)
	if in.Username == "" || in.Password == "" || in.Email == "" {
		return storage.Admin{}, fmt.Errorf("%w: username, password and email are required", ErrInvalidInput)
	}

	if !s.openSignup {
		n, err := s.store.CountAdmins(ctx)
		if err != nil {
			return storage.Admin{}, fmt.Errorf("count admins: %w", err)
		}
		if n == 0 {
			admin, err := s.createAdmin(ctx, in, s.store.CreateFirstAdmin)
			if !errors.Is(err, storage.ErrAdminsExist) {
				return admin, err
			}
		}
		if strings.TrimSpace(authorization) == "" {
			return storage.Admin{}, ErrCreateForbidden
		}
		if _, err := s.guard.Authorize(ctx, authorization); err != nil {
			return storage.Admin{}, err
		}
	}
	return s.createAdmin(ctx, in, s.store.CreateAdmin)
}

func (s *Service) createAdmin(ctx context.Context, in CreateInput, insert func(context.Context, storage.Admin) (storage.Admin, error)) (storage.Admin, error) {
	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return storage.Admin{}, err
	}
	admin, err := insert(ctx, storage.Admin{
		Username:     in.Username,
		Email:        in.Email,
		PasswordHash: hash,
		IsActive:     true,
		CreatedAt:    s.now().UTC(),
	})
	if err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return storage.Admin{}, ErrUsernameTaken
		}
		return storage.Admin{}, err
	}
	s.logger.Info().Str("admin_id", admin.ID).Str("username", admin.Username).Msg("admin created")
	return admin, nil
}

func (s *Service) Verify(ctx context.Context, authorization string) (Identity, error) {
	return s.guard.Authorize(ctx, authorization)
}

func (s *Service) SetActive(ctx context.Context, id string, active bool) (storage.Admin, error) {
	if err := s.store.SetAdminActive(ctx, id, active); err != nil {
		return storage.Admin{}, err
	}
	admin, err := s.store.GetAdminByID(ctx, id, false)
	if err != nil {
		return storage.Admin{}, err
	}
	s.logger.Info().Str("admin_id", id).Bool("is_active", active).Msg("admin active flag changed")
	return admin, nil
}

func (s *Service) List(ctx context.Context) ([]storage.Admin, error) {
	return s.store.ListAdmins(ctx)
}
