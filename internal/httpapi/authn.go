package httpapi

import (
	"net/http"
	"strings"

	"taxpilot.io/internal/auth"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

// AuthGuard verifies the bearer access token and attaches the identity and
// raw token to the request context. It never touches storage.
func (a *API) AuthGuard(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		token, ok := extractBearerToken(r.Header.Get(authHeader))
		if !ok {
			a.fail(w, r, "", auth.ErrNotAuthenticated)
			return
		}
		identity, err := a.auth.VerifyAccessToken(token)
		if err != nil {
			a.fail(w, r, "verify", err)
			return
		}

		ctx := auth.ContextWithIdentity(r.Context(), identity)
		ctx = auth.ContextWithToken(ctx, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequirePermission admits requests whose authenticated user currently holds
// permission. Grants are resolved from storage on every request.
func (a *API) RequirePermission(permission string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, ok := auth.UserIDFromContext(r.Context())
			if !ok {
				a.fail(w, r, "", auth.ErrNotAuthenticated)
				return
			}
			if !a.auth.HasPermission(r.Context(), userID, permission) {
				a.fail(w, r, "authorize", auth.ErrInsufficientPermissions)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireRole admits requests whose authenticated user holds any of roles.
func (a *API) RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, ok := auth.UserIDFromContext(r.Context())
			if !ok {
				a.fail(w, r, "", auth.ErrNotAuthenticated)
				return
			}
			if !a.auth.HasRole(r.Context(), userID, roles...) {
				a.fail(w, r, "authorize", auth.ErrInsufficientPermissions)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func extractBearerToken(header string) (string, bool) {
	header = strings.TrimSpace(header)
	if len(header) < len(bearer) || !strings.EqualFold(header[:len(bearer)], bearer) {
		return "", false
	}
	token := strings.TrimSpace(header[len(bearer):])
	return token, token != ""
}
