// Package gatewaytest provides an in-process fake of the remote task API.
package gatewaytest

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"taskflow/internal/models"
)

// Route names used by Calls, Block and Fail.
const (
	RouteLogin    = "login"
	RouteRegister = "register"
	RouteList     = "list"
	RouteCreate   = "create"
	RoutePatch    = "patch"
	RouteComplete = "complete"
	RouteDelete   = "delete"
	RouteExport   = "export"
	RouteImport   = "import"
)

type failure struct {
	status int
	detail string
}

type block struct {
	entered chan struct{}
	release chan struct{}
}

// Server is a fake task API rooted at URL()+"/api".
type Server struct {
	srv *httptest.Server

	mu       sync.Mutex
	tasks    map[int64]models.Task
	nextID   int64
	token    string
	users    map[string]string
	calls    map[string]int
	blocks   map[string]*block
	failures map[string]failure
}

// New starts a fake server that accepts the given bearer token.
func New(t testing.TB, token string) *Server {
	t.Helper()
	s := &Server{
		tasks:    make(map[int64]models.Task),
		nextID:   1,
		token:    token,
		users:    map[string]string{"ana": "secret"},
		calls:    make(map[string]int),
		blocks:   make(map[string]*block),
		failures: make(map[string]failure),
	}
	s.srv = httptest.NewServer(s.routes())
	t.Cleanup(s.srv.Close)
	return s
}

// BaseURL returns the API base URL.
func (s *Server) BaseURL() string {
	return s.srv.URL + "/api"
}

// Token returns the token currently accepted by the server.
func (s *Server) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

// Revoke makes every subsequent protected request fail with 401.
func (s *Server) Revoke() {
	s.mu.Lock()
	s.token = "revoked-" + strconv.FormatInt(time.Now().UnixNano(), 10)
	s.mu.Unlock()
}

// Seed stores tasks as-is, keeping their IDs.
func (s *Server) Seed(tasks ...models.Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, task := range tasks {
		s.tasks[task.ID] = task
		if task.ID >= s.nextID {
			s.nextID = task.ID + 1
		}
	}
}

// Task returns the server's copy of a task.
func (s *Server) Task(id int64) (models.Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[id]
	return task, ok
}

// Len returns the number of stored tasks.
func (s *Server) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// Calls returns how many requests reached a route.
func (s *Server) Calls(route string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[route]
}

// TotalCalls returns the number of requests across all routes.
func (s *Server) TotalCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, n := range s.calls {
		total += n
	}
	return total
}

// Fail makes a route answer with the given status and detail until cleared
// with a zero status.
func (s *Server) Fail(route string, status int, detail string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if status == 0 {
		delete(s.failures, route)
		return
	}
	s.failures[route] = failure{status: status, detail: detail}
}

// Block holds requests to route until release is called. entered receives
// once per request that reaches the route.
func (s *Server) Block(route string) (entered <-chan struct{}, release func()) {
	b := &block{entered: make(chan struct{}, 16), release: make(chan struct{})}
	s.mu.Lock()
	s.blocks[route] = b
	s.mu.Unlock()

	var once sync.Once
	return b.entered, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.blocks, route)
			s.mu.Unlock()
			close(b.release)
		})
	}
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Route("/api", func(r chi.Router) {
		r.Post("/login", s.track(RouteLogin, s.login))
		r.Post("/register", s.track(RouteRegister, s.register))

		r.Group(func(r chi.Router) {
			r.Use(s.requireToken)
			r.Get("/tasks", s.track(RouteList, s.list))
			r.Post("/tasks", s.track(RouteCreate, s.create))
			r.Get("/tasks/export", s.track(RouteExport, s.export))
			r.Post("/tasks/import", s.track(RouteImport, s.importTasks))
			r.Patch("/tasks/{id}", s.track(RoutePatch, s.patch))
			r.Patch("/tasks/{id}/complete", s.track(RouteComplete, s.complete))
			r.Delete("/tasks/{id}", s.track(RouteDelete, s.delete))
		})
	})
	return r
}

// track counts the request, applies blocks and injected failures.
func (s *Server) track(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.calls[route]++
		b := s.blocks[route]
		f, failing := s.failures[route]
		s.mu.Unlock()

		if b != nil {
			b.entered <- struct{}{}
			<-b.release
		}

		if failing {
			writeDetail(w, f.status, f.detail)
			return
		}
		next(w, r)
	}
}

func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		want := "Bearer " + s.token
		s.mu.Unlock()

		if r.Header.Get("Authorization") != want {
			s.mu.Lock()
			s.calls["unauthorized"]++
			s.mu.Unlock()
			writeDetail(w, http.StatusUnauthorized, "Could not validate credentials")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid form data")
		return
	}

	s.mu.Lock()
	password, ok := s.users[r.FormValue("username")]
	token := s.token
	s.mu.Unlock()

	if !ok || password != r.FormValue("password") {
		writeDetail(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"access_token": token, "token_type": "bearer"})
}

func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	var in models.Registration
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid json")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.users[in.Username]; exists {
		writeDetail(w, http.StatusBadRequest, "Username already exists")
		return
	}
	s.users[in.Username] = in.Password
	writeJSON(w, http.StatusOK, models.Account{ID: int64(len(s.users)), Username: in.Username, Email: in.Email})
}

func (s *Server) list(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	tasks := make([]models.Task, 0, len(s.tasks))
	for _, task := range s.tasks {
		tasks = append(tasks, task)
	}
	s.mu.Unlock()

	sort.Slice(tasks, func(i, j int) bool { return tasks[i].ID < tasks[j].ID })
	writeJSON(w, http.StatusOK, tasks)
}

func (s *Server) create(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Title       string    `json:"title"`
		Description string    `json:"description"`
		DueDate     time.Time `json:"due_date"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "invalid json")
		return
	}
	if strings.TrimSpace(in.Title) == "" {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"detail": []map[string]any{{"loc": []string{"body", "title"}, "msg": "field required"}},
		})
		return
	}

	s.mu.Lock()
	task := models.Task{ID: s.nextID, Title: in.Title, Description: in.Description, DueDate: in.DueDate}
	s.tasks[task.ID] = task
	s.nextID++
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, task)
}

func (s *Server) patch(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)

	var patch models.TaskPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "invalid json")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[id]
	if !ok {
		writeDetail(w, http.StatusNotFound, "Task not found")
		return
	}
	if patch.Title != nil {
		task.Title = *patch.Title
	}
	if patch.Description != nil {
		task.Description = *patch.Description
	}
	if patch.DueDate != nil {
		task.DueDate = *patch.DueDate
	}
	s.tasks[id] = task
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) complete(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)

	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[id]
	if !ok {
		writeDetail(w, http.StatusNotFound, "Task not found")
		return
	}
	task.Completed = true
	s.tasks[id] = task
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) delete(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[id]; !ok {
		writeDetail(w, http.StatusNotFound, "Task not found")
		return
	}
	delete(s.tasks, id)
	writeDetail(w, http.StatusOK, "Task deleted")
}

// export writes one line per task; the real remote writes a spreadsheet.
func (s *Server) export(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	ids := make([]int64, 0, len(s.tasks))
	for id := range s.tasks {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	var buf bytes.Buffer
	for _, id := range ids {
		fmt.Fprintln(&buf, s.tasks[id].Title)
	}
	s.mu.Unlock()

	if len(ids) == 0 {
		writeDetail(w, http.StatusNotFound, "No tasks found to export")
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="tasks_export.xlsx"`)
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

// importTasks treats each non-empty line of the upload as a task title.
func (s *Server) importTasks(w http.ResponseWriter, r *http.Request) {
	file, header, err := r.FormFile("file")
	if err != nil {
		writeDetail(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if ext != ".xlsx" && ext != ".xls" {
		writeDetail(w, http.StatusBadRequest, "Please upload an Excel file.")
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		writeDetail(w, http.StatusBadRequest, "unreadable file")
		return
	}

	var titles []string
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			titles = append(titles, line)
		}
	}
	if len(titles) == 0 {
		writeDetail(w, http.StatusBadRequest, "The Excel file is empty.")
		return
	}

	s.mu.Lock()
	due := time.Now().Add(24 * time.Hour).UTC().Truncate(time.Second)
	for _, title := range titles {
		s.tasks[s.nextID] = models.Task{ID: s.nextID, Title: title, DueDate: due}
		s.nextID++
	}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]string{
		"message": fmt.Sprintf("Successfully imported %d tasks", len(titles)),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
