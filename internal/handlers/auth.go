package handlers

import (
	"crypto/subtle"
	"net/http"

	"x-auto-post-tool/internal/auth"
	"x-auto-post-tool/internal/common/errors"
	commonhttp "x-auto-post-tool/internal/common/http"
	"x-auto-post-tool/internal/common/logging"
	"x-auto-post-tool/internal/oauthstate"
)

// stateCookie ties the callback to the browser that started the login.
const stateCookie = "oauth_state"

// LoginResponse is returned to API clients that start a login.
type LoginResponse struct {
	AuthURL string `json:"auth_url"`
	State   string `json:"state"`
}

// HandleLogin starts a login with X
// @Summary Start login
// @Description Creates an authorization state and returns the X authorization URL. GET redirects to it.
// @Tags auth
// @Produce json
// @Success 200 {object} LoginResponse
// @Success 302 {string} string "Redirect to X"
// @Router /auth/login [post]
func (h *Handlers) HandleLogin(w http.ResponseWriter, r *http.Request) {
	authURL, state, err := h.service.BeginLogin(r.Context(), h.service.LoginClient())
	if err != nil {
		commonhttp.WriteError(w, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     stateCookie,
		Value:    state,
		Path:     "/auth",
		MaxAge:   int(oauthstate.DefaultTTL.Seconds()),
		HttpOnly: true,
		Secure:   r.TLS != nil,
		// Lax so the cookie survives the top-level redirect back from X
		SameSite: http.SameSiteLaxMode,
	})

	if r.Method == http.MethodGet {
		http.Redirect(w, r, authURL, http.StatusFound)
		return
	}
	commonhttp.WriteJSON(w, http.StatusOK, LoginResponse{AuthURL: authURL, State: state})
}

// HandleCallback finishes a login
// @Summary OAuth callback
// @Description Redeems the authorization state, stores the user's tokens and opens a session.
// @Tags auth
// @Param code query string true "Authorization code"
// @Param state query string true "Authorization state"
// @Success 302 {string} string "Redirect to the app"
// @Failure 400 {object} commonhttp.ErrorResponse
// @Failure 401 {object} commonhttp.ErrorResponse
// @Router /auth/callback [get]
func (h *Handlers) HandleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	clearStateCookie(w)

	state := q.Get("state")

	if denied := q.Get("error"); denied != "" {
		h.logger.Info("Authorization denied by user", logging.String("reason", denied))
		h.cancelLogin(r, state)
		commonhttp.WriteError(w, errors.AuthRequiredError("authorization was denied"))
		return
	}

	cookie, err := r.Cookie(stateCookie)
	if err != nil || state == "" || subtle.ConstantTimeCompare([]byte(cookie.Value), []byte(state)) != 1 {
		h.cancelLogin(r, state)
		commonhttp.WriteError(w, errors.OAuthStateError("state does not match this browser"))
		return
	}

	token, identity, err := h.service.CompleteLogin(r.Context(), q.Get("code"), state)
	if err != nil {
		commonhttp.WriteError(w, err)
		return
	}

	session, err := h.auth.GenerateJWT(token.UserID, identity.Username)
	if err != nil {
		commonhttp.WriteError(w, err)
		return
	}
	h.auth.SetSessionCookie(w, session)

	http.Redirect(w, r, h.publicURL, http.StatusFound)
}

// cancelLogin spends the state of a failed callback so it cannot be redeemed later.
func (h *Handlers) cancelLogin(r *http.Request, state string) {
	if state == "" {
		return
	}
	if err := h.service.CancelLogin(r.Context(), state); err != nil {
		h.logger.Debug("Callback state was not redeemable", logging.Err(err))
	}
}

// HandleLogout ends the session and revokes the stored tokens
// @Summary Logout
// @Tags auth
// @Success 200 {object} map[string]string
// @Failure 401 {object} commonhttp.ErrorResponse
// @Router /auth/logout [post]
func (h *Handlers) HandleLogout(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		commonhttp.WriteError(w, errors.AuthRequiredError("no session"))
		return
	}

	if err := h.service.Logout(r.Context(), claims.UserID); err != nil {
		commonhttp.WriteError(w, err)
		return
	}
	if err := h.auth.RevokeJWT(r.Context(), claims); err != nil {
		// tokens are already revoked; the cookie is cleared below regardless
		logging.WithContext(r.Context()).Warn("Failed to revoke session", logging.Err(err))
	}
	h.auth.ClearSessionCookie(w)

	commonhttp.WriteJSON(w, http.StatusOK, map[string]string{"status": "logged_out"})
}

func clearStateCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookie,
		Value:    "",
		Path:     "/auth",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}
