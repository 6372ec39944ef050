// Package httpapi exposes the chat, admin-auth and admin-data endpoints.
// Success bodies are {"data": ...}; failures are {"error": {"code", "message"}}.
package httpapi

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"relaychat/internal/auth"
	"relaychat/internal/chat"
	"relaychat/internal/conversation"
	"relaychat/internal/storage"
)

type AdminService interface {
	Login(ctx context.Context, username, password string) (auth.LoginResult, error)
	Create(ctx context.Context, in auth.CreateInput, authorization string) (storage.Admin, error)
	Verify(ctx context.Context, authorization string) (auth.Identity, error)
	SetActive(ctx context.Context, id string, active bool) (storage.Admin, error)
	List(ctx context.Context) ([]storage.Admin, error)
}

type Dispatcher interface {
	Dispatch(ctx context.Context, req chat.Request) (chat.Result, error)
}

type ConversationLister interface {
	ListRecent(ctx context.Context, f conversation.Filter) (conversation.Page, error)
}

type ConfigStore interface {
	ListProviderConfigs(ctx context.Context) ([]storage.ProviderConfig, error)
	CreateProviderConfig(ctx context.Context, p storage.ProviderConfig) (storage.ProviderConfig, error)
	UpdateProviderConfig(ctx context.Context, id string, patch storage.ProviderConfigPatch) (storage.ProviderConfig, error)
	ListSystemPrompts(ctx context.Context) ([]storage.SystemPrompt, error)
	CreateSystemPrompt(ctx context.Context, p storage.SystemPrompt) (storage.SystemPrompt, error)
	UpdateSystemPrompt(ctx context.Context, id string, patch storage.SystemPromptPatch) (storage.SystemPrompt, error)
}

// Sealer protects provider API keys at rest.
type Sealer interface {
	Seal(value string) (string, error)
	Open(sealed string) (string, error)
}

type Deps struct {
	Admins        AdminService
	Guard         *auth.Guard
	Chat          Dispatcher
	Conversations ConversationLister
	Configs       ConfigStore
	Secrets       Sealer
	Logger        zerolog.Logger

	AllowedOrigin  string
	HealthPath     string
	MetricsPath    string
	MetricsHandler http.Handler
	Health         func(ctx context.Context) error
}

func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(cors(deps.AllowedOrigin))
	r.Use(accessLog(deps.Logger)...)
	r.Use(middleware.Recoverer)

	h := &handlers{
		admins:        deps.Admins,
		chat:          deps.Chat,
		conversations: deps.Conversations,
		configs:       deps.Configs,
		secrets:       deps.Secrets,
	}

	healthPath := deps.HealthPath
	if healthPath == "" {
		healthPath = "/healthz"
	}
	r.Get(healthPath, func(w http.ResponseWriter, req *http.Request) {
		if deps.Health != nil {
			if err := deps.Health(req.Context()); err != nil {
				writeError(w, http.StatusServiceUnavailable, CodeInternal, "unhealthy")
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if deps.MetricsHandler != nil {
		metricsPath := deps.MetricsPath
		if metricsPath == "" {
			metricsPath = "/metrics"
		}
		r.Handle(metricsPath, deps.MetricsHandler)
	}

	r.Post("/admin-auth", h.adminAuth)
	r.Post("/ai-chat", h.aiChat)

	r.Route("/admin-data", func(r chi.Router) {
		r.Use(requireAdmin(deps.Guard))

		r.Get("/conversations", h.listConversations)
		r.Post("/conversations", h.listConversations)

		r.Get("/api-configs", h.listProviderConfigs)
		r.Post("/api-configs", h.createProviderConfig)
		r.Patch("/api-configs/{id}", h.updateProviderConfig)

		r.Get("/base-prompts", h.listPrompts)
		r.Post("/base-prompts", h.createPrompt)
		r.Patch("/base-prompts/{id}", h.updatePrompt)

		r.Get("/admins", h.listAdmins)
		r.Patch("/admins/{id}", h.updateAdmin)
	})

	return r
}

type handlers struct {
	admins        AdminService
	chat          Dispatcher
	conversations ConversationLister
	configs       ConfigStore
	secrets       Sealer
}
