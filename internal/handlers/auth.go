package handlers

import (
	"net/http"

	"taskflow/internal/credential"
	"taskflow/internal/models"
	"taskflow/internal/session"
	"taskflow/internal/taskerr"
)

// LoginPage describes how to sign in. Signed-in users never reach it.
func (h *Handlers) LoginPage(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"title":  "Sign in",
		"fields": []string{"username", "password"},
	})
}

// Login exchanges a username and password for a credential, stores it and
// continues to the dashboard.
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := r.ParseForm(); err != nil {
		respondError(w, http.StatusBadRequest, taskerr.Invalid, "invalid form data")
		return
	}

	in := models.SignIn{
		Username: r.FormValue("username"),
		Password: r.FormValue("password"),
	}
	if err := in.Validate(); err != nil {
		respondError(w, http.StatusBadRequest, taskerr.Invalid, err.Error())
		return
	}

	token, err := h.accounts.Login(ctx, in)
	if err != nil {
		// Wrong credentials are shown on the sign-in page, not redirected.
		if taskerr.IsUnauthorized(err) {
			respondError(w, http.StatusUnauthorized, taskerr.Unauthorized, taskerr.DetailOf(err))
			return
		}
		h.respondTaskError(w, r, err)
		return
	}

	if err := h.gate.SignIn(credential.Credential(token.AccessToken)); err != nil {
		respondServerError(w, err)
		return
	}
	h.logger.Info("Signed in", "username", in.Username)

	if c := h.cookies.Cookie(); c != nil {
		http.SetCookie(w, c)
	}
	http.Redirect(w, r, session.HomePath, http.StatusSeeOther)
}

// Register creates an account. The user signs in separately afterwards.
func (h *Handlers) Register(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := r.ParseForm(); err != nil {
		respondError(w, http.StatusBadRequest, taskerr.Invalid, "invalid form data")
		return
	}

	in := models.Registration{
		Username: r.FormValue("username"),
		Email:    r.FormValue("email"),
		Password: r.FormValue("password"),
	}
	if err := in.Validate(); err != nil {
		respondError(w, http.StatusBadRequest, taskerr.Invalid, err.Error())
		return
	}

	account, err := h.accounts.Register(ctx, in)
	if err != nil {
		h.respondTaskError(w, r, err)
		return
	}

	respondJSON(w, http.StatusCreated, account)
}

// Logout removes the credential everywhere and returns to sign-in.
func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.gate.SignOut(); err != nil {
		h.logger.Warn("Failed to clear credential on logout", "error", err)
	}
	http.SetCookie(w, credential.ExpiredCookie())
	http.Redirect(w, r, session.SignInPath, http.StatusSeeOther)
}
