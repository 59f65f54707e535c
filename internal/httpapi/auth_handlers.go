package httpapi

import (
	"net/http"

	"taxpilot.io/internal/auth"
	"taxpilot.io/internal/obs"
)

type registerRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Username  string `json:"username"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type sessionResponse struct {
	User        auth.PublicUser `json:"user"`
	AccessToken string          `json:"accessToken"`
}

type accessResponse struct {
	AccessToken string `json:"accessToken"`
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		a.badBody(w, r, "register", err)
		return
	}
	sess, err := a.auth.Register(r.Context(), auth.RegisterInput{
		Email:     req.Email,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Username:  req.Username,
	})
	if err != nil {
		a.fail(w, r, "register", err)
		return
	}
	obs.RecordAuth("register", "ok")
	a.setRefreshCookie(w, sess.Tokens.RefreshToken, sess.Tokens.RefreshExpiresAt)
	writeJSON(w, http.StatusCreated, sessionResponse{User: sess.User, AccessToken: sess.Tokens.AccessToken})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		a.badBody(w, r, "login", err)
		return
	}
	sess, err := a.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		a.fail(w, r, "login", err)
		return
	}
	obs.RecordAuth("login", "ok")
	a.setRefreshCookie(w, sess.Tokens.RefreshToken, sess.Tokens.RefreshExpiresAt)
	writeJSON(w, http.StatusOK, sessionResponse{User: sess.User, AccessToken: sess.Tokens.AccessToken})
}

// handleRefresh prefers the cookie and falls back to a JSON body.
func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	raw := a.refreshCookie(r)
	if raw == "" && r.ContentLength != 0 {
		var req refreshRequest
		if err := decodeJSON(r, &req); err != nil {
			a.clearRefreshCookie(w)
			a.fail(w, r, "refresh", auth.ErrInvalidRefreshToken)
			return
		}
		raw = req.RefreshToken
	}
	if raw == "" {
		a.fail(w, r, "refresh", auth.ErrInvalidRefreshToken)
		return
	}

	pair, err := a.auth.Refresh(r.Context(), raw)
	if err != nil {
		a.clearRefreshCookie(w)
		a.fail(w, r, "refresh", err)
		return
	}
	obs.RecordAuth("refresh", "ok")
	a.setRefreshCookie(w, pair.RefreshToken, pair.RefreshExpiresAt)
	writeJSON(w, http.StatusOK, accessResponse{AccessToken: pair.AccessToken})
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())
	raw := a.refreshCookie(r)
	if raw == "" && r.ContentLength > 0 {
		var req refreshRequest
		if err := decodeJSON(r, &req); err == nil {
			raw = req.RefreshToken
		}
	}
	if err := a.auth.Logout(r.Context(), userID, raw); err != nil {
		a.fail(w, r, "logout", err)
		return
	}
	obs.RecordAuth("logout", "ok")
	a.clearRefreshCookie(w)
	writeJSON(w, http.StatusOK, map[string]any{"status": "logged_out"})
}

func (a *API) handleLogoutAll(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())
	n, err := a.auth.LogoutAll(r.Context(), userID)
	if err != nil {
		a.fail(w, r, "logout_all", err)
		return
	}
	obs.RecordAuth("logout_all", "ok")
	a.clearRefreshCookie(w)
	writeJSON(w, http.StatusOK, map[string]any{"status": "logged_out", "revoked": n})
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())
	prof, err := a.auth.GetUserWithPermissions(r.Context(), userID)
	if err != nil {
		a.fail(w, r, "", err)
		return
	}
	writeJSON(w, http.StatusOK, prof)
}
