package httpapi

import (
	"net/http"
	"strings"

	"relaychat/internal/chat"
)

type chatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"sessionId"`
	UserID    string `json:"userId"`
}

type chatResponse struct {
	Message      string `json:"message"`
	SessionID    string `json:"sessionId"`
	TokensUsed   int    `json:"tokensUsed"`
	ResponseTime int64  `json:"responseTime"`
	APIProvider  string `json:"apiProvider"`
	Model        string `json:"model"`
}

func (h *handlers) aiChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeServiceError(w, r, err)
		return
	}
	if strings.TrimSpace(req.Message) == "" || req.SessionID == "" {
		writeError(w, http.StatusBadRequest, CodeValidation, "Message and sessionId are required")
		return
	}

	res, err := h.chat.Dispatch(r.Context(), chat.Request{
		Message:   req.Message,
		SessionID: req.SessionID,
		UserID:    req.UserID,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeData(w, http.StatusOK, chatResponse{
		Message:      res.Content,
		SessionID:    req.SessionID,
		TokensUsed:   res.TokensUsed,
		ResponseTime: res.ResponseTimeMs,
		APIProvider:  res.ProviderUsed,
		Model:        res.ModelUsed,
	})
}
