package httpapi

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"relaychat/internal/chat"
	"relaychat/internal/conversation"
	"relaychat/internal/providers"
	"relaychat/internal/storage"
)

type conversationQuery struct {
	Page      json.Number `json:"page"`
	Limit     json.Number `json:"limit"`
	SessionID string      `json:"sessionId"`
	From      string      `json:"from"`
	To        string      `json:"to"`
}

type statsView struct {
	Total    int64 `json:"total"`
	Today    int64 `json:"today"`
	Sessions int64 `json:"sessions"`
}

type paginationView struct {
	Page  int   `json:"page"`
	Limit int   `json:"limit"`
	Total int64 `json:"total"`
}

func (h *handlers) listConversations(w http.ResponseWriter, r *http.Request) {
	var q conversationQuery
	if r.Method == http.MethodPost && r.ContentLength != 0 {
		if err := decodeJSON(w, r, &q); err != nil {
			writeServiceError(w, r, err)
			return
		}
	} else {
		v := r.URL.Query()
		q = conversationQuery{
			Page:      json.Number(v.Get("page")),
			Limit:     json.Number(v.Get("limit")),
			SessionID: v.Get("sessionId"),
			From:      v.Get("from"),
			To:        v.Get("to"),
		}
	}

	f, err := q.filter()
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	page, err := h.conversations.ListRecent(r.Context(), f)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	turns := page.Turns
	if turns == nil {
		turns = []storage.Turn{}
	}
	writeData(w, http.StatusOK, map[string]any{
		"conversations": turns,
		"stats": statsView{
			Total:    page.Stats.Total,
			Today:    page.Stats.Today,
			Sessions: page.Stats.Sessions,
		},
		"pagination": paginationView{Page: page.Page, Limit: page.Limit, Total: page.Total},
	})
}

func (q conversationQuery) filter() (conversation.Filter, error) {
	var f conversation.Filter
	var err error
	if f.Page, err = optionalInt("page", q.Page); err != nil {
		return f, err
	}
	if f.Limit, err = optionalInt("limit", q.Limit); err != nil {
		return f, err
	}
	f.SessionID = strings.TrimSpace(q.SessionID)
	if f.From, err = optionalTime("from", q.From); err != nil {
		return f, err
	}
	if f.To, err = optionalTime("to", q.To); err != nil {
		return f, err
	}
	return f, nil
}

func optionalInt(field string, n json.Number) (int, error) {
	if n == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(string(n))
	if err != nil {
		return 0, invalid("%s must be an integer", field)
	}
	return v, nil
}

func optionalTime(field, s string) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, invalid("%s must be an RFC3339 timestamp", field)
	}
	t = t.UTC()
	return &t, nil
}

// Provider configs.

type providerConfigView struct {
	ID          string          `json:"id"`
	APIProvider string          `json:"api_provider"`
	APIKey      string          `json:"api_key"`
	APIHost     string          `json:"api_host"`
	APIEndpoint string          `json:"api_endpoint"`
	ModelName   string          `json:"model_name"`
	Parameters  json.RawMessage `json:"parameters"`
	IsActive    bool            `json:"is_active"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

type providerConfigInput struct {
	APIProvider *string         `json:"api_provider"`
	APIKey      *string         `json:"api_key"`
	APIHost     *string         `json:"api_host"`
	APIEndpoint *string         `json:"api_endpoint"`
	ModelName   *string         `json:"model_name"`
	Parameters  json.RawMessage `json:"parameters"`
	IsActive    *bool           `json:"is_active"`
}

// maskKey keeps the last four characters of a key visible.
func maskKey(key string) string {
	if len(key) <= 4 {
		return "***"
	}
	return "***" + key[len(key)-4:]
}

func (h *handlers) providerView(c storage.ProviderConfig) providerConfigView {
	masked := "***"
	if plain, err := h.secrets.Open(c.EncAPIKey); err == nil {
		masked = maskKey(plain)
	}
	params := json.RawMessage(c.ParamsJSON)
	if !json.Valid(params) {
		params = json.RawMessage("{}")
	}
	return providerConfigView{
		ID:          c.ID,
		APIProvider: c.Provider,
		APIKey:      masked,
		APIHost:     c.Host,
		APIEndpoint: c.Endpoint,
		ModelName:   c.Model,
		Parameters:  params,
		IsActive:    c.IsActive,
		CreatedAt:   c.CreatedAt,
		UpdatedAt:   c.UpdatedAt,
	}
}

func (h *handlers) listProviderConfigs(w http.ResponseWriter, r *http.Request) {
	list, err := h.configs.ListProviderConfigs(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	out := make([]providerConfigView, 0, len(list))
	for _, c := range list {
		out = append(out, h.providerView(c))
	}
	writeData(w, http.StatusOK, out)
}

func (h *handlers) createProviderConfig(w http.ResponseWriter, r *http.Request) {
	var in providerConfigInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeServiceError(w, r, err)
		return
	}

	if in.APIProvider == nil || strings.TrimSpace(*in.APIProvider) == "" {
		writeError(w, http.StatusBadRequest, CodeValidation, "api_provider is required")
		return
	}
	if in.APIKey == nil || strings.TrimSpace(*in.APIKey) == "" {
		writeError(w, http.StatusBadRequest, CodeValidation, "api_key is required")
		return
	}

	cfg := storage.ProviderConfig{IsActive: true, ParamsJSON: "{}"}
	if err := h.applyProviderInput(&cfg, in); err != nil {
		writeServiceError(w, r, err)
		return
	}

	created, err := h.configs.CreateProviderConfig(r.Context(), cfg)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, h.providerView(created))
}

func (h *handlers) updateProviderConfig(w http.ResponseWriter, r *http.Request) {
	var in providerConfigInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeServiceError(w, r, err)
		return
	}

	var cfg storage.ProviderConfig
	if err := h.applyProviderInput(&cfg, in); err != nil {
		writeServiceError(w, r, err)
		return
	}

	patch := storage.ProviderConfigPatch{IsActive: in.IsActive}
	if in.APIProvider != nil {
		patch.Provider = &cfg.Provider
	}
	if in.APIKey != nil {
		if strings.TrimSpace(*in.APIKey) == "" {
			writeError(w, http.StatusBadRequest, CodeValidation, "api_key must not be empty")
			return
		}
		patch.EncAPIKey = &cfg.EncAPIKey
	}
	if in.APIHost != nil {
		patch.Host = &cfg.Host
	}
	if in.APIEndpoint != nil {
		patch.Endpoint = &cfg.Endpoint
	}
	if in.ModelName != nil {
		patch.Model = &cfg.Model
	}
	if len(in.Parameters) > 0 && string(in.Parameters) != "null" {
		patch.ParamsJSON = &cfg.ParamsJSON
	}

	updated, err := h.configs.UpdateProviderConfig(r.Context(), chi.URLParam(r, "id"), patch)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, h.providerView(updated))
}

// applyProviderInput validates the present fields of in and copies them onto cfg.
// The API key is sealed on the way through.
func (h *handlers) applyProviderInput(cfg *storage.ProviderConfig, in providerConfigInput) error {
	if in.APIProvider != nil {
		name := strings.TrimSpace(*in.APIProvider)
		if !providers.KnownName(name) {
			return invalid("api_provider must be one of %s, %s, %s", providers.NameOpenAI, providers.NameClaude, providers.NameCustom)
		}
		cfg.Provider = name
	}
	if in.APIKey != nil && strings.TrimSpace(*in.APIKey) != "" {
		sealed, err := h.secrets.Seal(strings.TrimSpace(*in.APIKey))
		if err != nil {
			return err
		}
		cfg.EncAPIKey = sealed
	}
	if in.APIHost != nil {
		host := strings.TrimSpace(*in.APIHost)
		if err := validURL("api_host", host); err != nil {
			return err
		}
		cfg.Host = host
	}
	if in.APIEndpoint != nil {
		ep := strings.TrimSpace(*in.APIEndpoint)
		if err := validURL("api_endpoint", ep); err != nil {
			return err
		}
		cfg.Endpoint = ep
	}
	if in.ModelName != nil {
		cfg.Model = strings.TrimSpace(*in.ModelName)
	}
	if len(in.Parameters) > 0 && string(in.Parameters) != "null" {
		raw, err := paramsObject(in.Parameters)
		if err != nil {
			return err
		}
		cfg.ParamsJSON = raw
	}
	if in.IsActive != nil {
		cfg.IsActive = *in.IsActive
	}
	return nil
}

// paramsObject accepts the parameters either as a JSON object or as a string
// holding one, and returns the compact object text.
func paramsObject(raw json.RawMessage) (string, error) {
	text := string(raw)
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		text = s
	}
	if strings.TrimSpace(text) == "" {
		return "{}", nil
	}
	if _, err := chat.ParseParams(text); err != nil {
		return "", invalid("parameters: %v", err)
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(text), &obj); err != nil {
		return "", invalid("parameters must be a JSON object")
	}
	out, err := json.Marshal(obj)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func validURL(field, s string) error {
	if s == "" {
		return nil
	}
	u, err := url.Parse(s)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return invalid("%s must be an http(s) URL", field)
	}
	return nil
}

// System prompts.

type promptView struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type promptInput struct {
	Title    *string `json:"title"`
	Content  *string `json:"content"`
	IsActive *bool   `json:"is_active"`
}

func toPromptView(p storage.SystemPrompt) promptView {
	return promptView{
		ID:        p.ID,
		Title:     p.Title,
		Content:   p.Content,
		IsActive:  p.IsActive,
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	}
}

func (h *handlers) listPrompts(w http.ResponseWriter, r *http.Request) {
	list, err := h.configs.ListSystemPrompts(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	out := make([]promptView, 0, len(list))
	for _, p := range list {
		out = append(out, toPromptView(p))
	}
	writeData(w, http.StatusOK, out)
}

func (h *handlers) createPrompt(w http.ResponseWriter, r *http.Request) {
	var in promptInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeServiceError(w, r, err)
		return
	}
	if in.Title == nil || strings.TrimSpace(*in.Title) == "" ||
		in.Content == nil || strings.TrimSpace(*in.Content) == "" {
		writeError(w, http.StatusBadRequest, CodeValidation, "title and content are required")
		return
	}

	p := storage.SystemPrompt{
		Title:    strings.TrimSpace(*in.Title),
		Content:  *in.Content,
		IsActive: true,
	}
	if in.IsActive != nil {
		p.IsActive = *in.IsActive
	}

	created, err := h.configs.CreateSystemPrompt(r.Context(), p)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, toPromptView(created))
}

func (h *handlers) updatePrompt(w http.ResponseWriter, r *http.Request) {
	var in promptInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeServiceError(w, r, err)
		return
	}
	if in.Content != nil && strings.TrimSpace(*in.Content) == "" {
		writeError(w, http.StatusBadRequest, CodeValidation, "content must not be empty")
		return
	}

	patch := storage.SystemPromptPatch{
		Title:     in.Title,
		Content:   in.Content,
		IsActive:  in.IsActive,
	}
	updated, err := h.configs.UpdateSystemPrompt(r.Context(), chi.URLParam(r, "id"), patch)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, toPromptView(updated))
}
