package httpapi

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"relaychat/internal/auth"
)

const (
	corsAllowHeaders = "authorization, x-client-info, apikey, content-type"
	corsAllowMethods = "POST, GET, OPTIONS, PUT, DELETE, PATCH"
)

// cors answers preflight requests itself and decorates every other response.
func cors(origin string) func(http.Handler) http.Handler {
	if origin == "" {
		origin = "*"
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Headers", corsAllowHeaders)
			h.Set("Access-Control-Allow-Methods", corsAllowMethods)
			h.Set("Access-Control-Max-Age", "86400")
			h.Set("Access-Control-Allow-Credentials", "false")
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func accessLog(logger zerolog.Logger) []func(http.Handler) http.Handler {
	return []func(http.Handler) http.Handler{
		hlog.NewHandler(logger),
		hlog.RequestIDHandler("req_id", "X-Request-Id"),
		hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
			hlog.FromRequest(r).Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", status).
				Int("size", size).
				Dur("duration", duration).
				Msg("request")
		}),
	}
}

// requireAdmin rejects the request unless it carries a session naming an
// active admin. The identity is placed in the request context.
func requireAdmin(g *auth.Guard) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := g.Authorize(r.Context(), r.Header.Get("Authorization"))
			if err != nil {
				if !auth.IsAuthError(err) {
					writeServiceError(w, r, err)
					return
				}
				hlog.FromRequest(r).Info().Err(err).Msg("admin request rejected")
				writeError(w, http.StatusUnauthorized, CodeAuthFailed, err.Error())
				return
			}
			hlog.FromRequest(r).UpdateContext(func(c zerolog.Context) zerolog.Context {
				return c.Str("admin_id", id.Admin.ID)
			})
			next.ServeHTTP(w, r.WithContext(auth.WithIdentity(r.Context(), id)))
		})
	}
}
