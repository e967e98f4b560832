package session

import (
	"net/http"

	"taskflow/internal/credential"
)

// CookieSource hands out the browser form of the credential mirror.
type CookieSource interface {
	Cookie() *http.Cookie
}

// RequireSession lets a request through only when the gate authorizes it.
// A browser that already carries the mirror cookie skips the storage read;
// otherwise the gate decides and the cookie is re-issued on success.
func RequireSession(gate *Gate, cookies CookieSource) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if hasMirrorCookie(r) && gate.State() == Authorized {
				next.ServeHTTP(w, r)
				return
			}

			decision := gate.Enter()
			if !decision.Allowed() {
				http.SetCookie(w, credential.ExpiredCookie())
				http.Redirect(w, r, decision.Redirect, http.StatusSeeOther)
				return
			}

			if c := cookies.Cookie(); c != nil {
				http.SetCookie(w, c)
			}
			next.ServeHTTP(w, r)
		})
	}
}

// GuestOnly keeps signed-in users away from the sign-in and registration pages.
func GuestOnly(gate *Gate) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if decision := gate.Guest(); decision.Redirect != "" {
				http.Redirect(w, r, decision.Redirect, http.StatusSeeOther)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func hasMirrorCookie(r *http.Request) bool {
	c, err := r.Cookie(credential.CookieName)
	return err == nil && c.Value != ""
}
