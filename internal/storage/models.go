package storage

import "time"

const (
	MessageTypeUser      = "user"
	MessageTypeAssistant = "assistant"
)

type Admin struct {
	ID           string
	Username     string
	Email        string
	PasswordHash string
	IsActive     bool
	LastLogin    *time.Time
	CreatedAt    time.Time
}

// ProviderConfig is one row of api_configs. EncAPIKey holds the sealed key;
// the plaintext never reaches the database.
type ProviderConfig struct {
	ID         string
	Provider   string
	EncAPIKey  string
	Host       string
	Endpoint   string
	Model      string
	ParamsJSON string
	IsActive   bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// ProviderConfigPatch carries the fields an admin update may change; nil means untouched.
type ProviderConfigPatch struct {
	Provider   *string
	EncAPIKey  *string
	Host       *string
	Endpoint   *string
	Model      *string
	ParamsJSON *string
	IsActive   *bool
	UpdatedAt  time.Time
}

type SystemPrompt struct {
	ID        string
	Title     string
	Content   string
	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

type SystemPromptPatch struct {
	Title     *string
	Content   *string
	IsActive  *bool
	UpdatedAt time.Time
}

// Turn is a single user or assistant message. Assistant turns carry the
// provider metrics; user turns leave them nil.
type Turn struct {
	ID             string    `json:"id"`
	UserID         string    `json:"user_id,omitempty"`
	SessionID      string    `json:"session_id"`
	MessageType    string    `json:"message_type"`
	Content        string    `json:"message_content"`
	ProviderUsed   string    `json:"api_provider_used,omitempty"`
	ModelUsed      string    `json:"model_used,omitempty"`
	TokensUsed     *int      `json:"tokens_used,omitempty"`
	ResponseTimeMs *int64    `json:"response_time,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

type TurnFilter struct {
	SessionID string
	From      *time.Time
	To        *time.Time
	Limit     int
	Offset    int
}

type TurnStats struct {
	Total    int64
	Today    int64
	Sessions int64
}
