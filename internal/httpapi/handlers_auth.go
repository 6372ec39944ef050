package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"relaychat/internal/auth"
	"relaychat/internal/storage"
)

type adminAuthRequest struct {
	Action   string `json:"action"`
	Username string `json:"username"`
	Password string `json:"password"`
	Email    string `json:"email"`
}

type publicAdmin struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

type adminView struct {
	ID        string     `json:"id"`
	Username  string     `json:"username"`
	Email     string     `json:"email"`
	IsActive  bool       `json:"is_active"`
	LastLogin *time.Time `json:"last_login"`
	CreatedAt time.Time  `json:"created_at"`
}

func toPublicAdmin(a storage.Admin) publicAdmin {
	return publicAdmin{ID: a.ID, Username: a.Username, Email: a.Email}
}

func toAdminView(a storage.Admin) adminView {
	return adminView{
		ID:        a.ID,
		Username:  a.Username,
		Email:     a.Email,
		IsActive:  a.IsActive,
		LastLogin: a.LastLogin,
		CreatedAt: a.CreatedAt,
	}
}

// adminAuth serves POST /admin-auth with action login, create or verify.
func (h *handlers) adminAuth(w http.ResponseWriter, r *http.Request) {
	var req adminAuthRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeServiceError(w, r, err)
		return
	}

	switch strings.ToLower(strings.TrimSpace(req.Action)) {
	case "login":
		if strings.TrimSpace(req.Username) == "" || req.Password == "" {
			writeError(w, http.StatusBadRequest, CodeValidation, "Username and password are required")
			return
		}
		res, err := h.admins.Login(r.Context(), req.Username, req.Password)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeData(w, http.StatusOK, map[string]any{
			"success":      true,
			"sessionToken": res.Token,
			"admin":        toPublicAdmin(res.Admin),
		})

	case "create":
		admin, err := h.admins.Create(r.Context(), auth.CreateInput{
			Username: req.Username,
			Password: req.Password,
			Email:    req.Email,
		}, r.Header.Get("Authorization"))
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeData(w, http.StatusCreated, map[string]any{
			"success": true,
			"message": "Admin user created successfully",
			"admin":   toPublicAdmin(admin),
		})

	case "verify":
		id, err := h.admins.Verify(r.Context(), r.Header.Get("Authorization"))
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeData(w, http.StatusOK, map[string]any{
			"valid": true,
			"admin": toPublicAdmin(id.Admin),
		})

	default:
		writeError(w, http.StatusBadRequest, CodeValidation, "Invalid action")
	}
}

func (h *handlers) listAdmins(w http.ResponseWriter, r *http.Request) {
	admins, err := h.admins.List(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	out := make([]adminView, 0, len(admins))
	for _, a := range admins {
		out = append(out, toAdminView(a))
	}
	writeData(w, http.StatusOK, out)
}

type updateAdminRequest struct {
	IsActive *bool `json:"is_active"`
}

func (h *handlers) updateAdmin(w http.ResponseWriter, r *http.Request) {
	var req updateAdminRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeServiceError(w, r, err)
		return
	}
	if req.IsActive == nil {
		writeError(w, http.StatusBadRequest, CodeValidation, "is_active is required")
		return
	}
	admin, err := h.admins.SetActive(r.Context(), chi.URLParam(r, "id"), *req.IsActive)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, toAdminView(admin))
}
