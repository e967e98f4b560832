package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"taskflow/internal/collection"
	"taskflow/internal/credential"
	"taskflow/internal/models"
	"taskflow/internal/session"
	"taskflow/internal/store"
	"taskflow/internal/taskerr"
)

// Accounts signs users in and registers new ones against the remote.
type Accounts interface {
	Login(ctx context.Context, in models.SignIn) (models.AccessToken, error)
	Register(ctx context.Context, in models.Registration) (models.Account, error)
}

// Handlers holds the HTTP handlers and their dependencies.
type Handlers struct {
	tasks    *collection.Collection
	accounts Accounts
	gate     *session.Gate
	cookies  session.CookieSource
	store    store.Store
	logger   *slog.Logger
}

// New creates a new Handlers instance.
func New(tasks *collection.Collection, accounts Accounts, gate *session.Gate, cookies session.CookieSource, s store.Store, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		tasks:    tasks,
		accounts: accounts,
		gate:     gate,
		cookies:  cookies,
		store:    s,
		logger:   logger,
	}
}

// Routes registers every web client route on r.
func (h *Handlers) Routes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(session.GuestOnly(h.gate))
		r.Get("/login", h.LoginPage)
		r.Post("/login", h.Login)
	})
	r.Post("/register", h.Register)
	r.Post("/logout", h.Logout)

	r.Group(func(r chi.Router) {
		r.Use(session.RequireSession(h.gate, h.cookies))

		r.Get("/", http.RedirectHandler(session.HomePath, http.StatusSeeOther).ServeHTTP)
		r.Get("/dashboard", h.Dashboard)

		r.Route("/tasks", func(r chi.Router) {
			r.Get("/all-tasks", h.AllTasks)
			r.Get("/completed", h.Completed)
			r.Get("/due-today", h.DueToday)
			r.Get("/import-export/export", h.ExportTasks)
			r.Post("/import-export/import", h.ImportTasks)

			r.Post("/api", h.CreateTask)
			r.Patch("/api/{id}", h.UpdateTask)
			r.Post("/api/{id}/complete", h.CompleteTask)
			r.Delete("/api/{id}", h.DeleteTask)
		})
	})
}

func (h *Handlers) now() time.Time {
	return h.tasks.Now()
}

// parseID extracts and parses an integer ID from URL parameters.
func parseID(r *http.Request, param string) (int64, error) {
	idStr := chi.URLParam(r, param)
	return strconv.ParseInt(idStr, 10, 64)
}

// parseDate parses a due date from a form: a bare YYYY-MM-DD day, a
// datetime-local value, or an RFC 3339 timestamp.
func parseDate(s string) (time.Time, error) {
	return models.ParseTimestamp(s)
}

type errorBody struct {
	Error  string `json:"error"`
	Detail string `json:"detail"`
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, code int, kind taskerr.Kind, message string) {
	respondJSON(w, code, errorBody{Error: string(kind), Detail: message})
}

func respondServerError(w http.ResponseWriter, err error) {
	slog.Error("internal server error", "error", err)
	respondError(w, http.StatusInternalServerError, "internal", "internal server error")
}

func respondJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("Failed to write response", "error", err)
	}
}

// respondTaskError maps a task failure onto HTTP. A rejected or missing
// credential always sends the browser back to sign-in instead of showing an error.
func (h *Handlers) respondTaskError(w http.ResponseWriter, r *http.Request, err error) {
	kind := taskerr.KindOf(err)
	switch kind {
	case taskerr.Unauthorized:
		http.SetCookie(w, credential.ExpiredCookie())
		http.Redirect(w, r, session.SignInPath, http.StatusSeeOther)
	case taskerr.Invalid:
		respondError(w, http.StatusBadRequest, kind, taskerr.DetailOf(err))
	case taskerr.NotFound:
		respondError(w, http.StatusNotFound, kind, taskerr.DetailOf(err))
	case taskerr.Busy:
		respondError(w, http.StatusConflict, kind, taskerr.DetailOf(err))
	case taskerr.Unavailable:
		h.logger.Warn("Remote unavailable", "path", r.URL.Path, "error", err)
		respondError(w, http.StatusServiceUnavailable, kind, taskerr.DetailOf(err))
	default:
		respondServerError(w, err)
	}
}
