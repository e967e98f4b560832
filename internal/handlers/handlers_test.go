package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"taskflow/internal/collection"
	"taskflow/internal/credential"
	"taskflow/internal/gateway"
	"taskflow/internal/gateway/gatewaytest"
	"taskflow/internal/models"
	"taskflow/internal/session"
	"taskflow/internal/store"
	"taskflow/internal/view"
)

// testNow is 08:00 UTC on 2030-01-02.
var testNow = time.Date(2030, 1, 2, 8, 0, 0, 0, time.UTC)

type testEnv struct {
	h      *Handlers
	store  *store.SQLiteStore
	remote *gatewaytest.Server
	holder *credential.Holder
	gate   *session.Gate
}

func setupTestHandlers(t *testing.T) testEnv {
	t.Helper()
	s, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	remote := gatewaytest.New(t, "good-token")
	holder := credential.NewHolder(s)
	if err := holder.Set("good-token"); err != nil {
		t.Fatalf("failed to store credential: %v", err)
	}
	gate := session.NewGate(holder, nil)
	t.Cleanup(gate.Close)

	client := gateway.NewClient(remote.BaseURL(), holder)
	tasks := collection.New(client, holder, gate, collection.WithClock(func() time.Time { return testNow }))
	t.Cleanup(tasks.Close)

	h := New(tasks, client, gate, holder, s, nil)
	return testEnv{h: h, store: s, remote: remote, holder: holder, gate: gate}
}

func (e testEnv) router() http.Handler {
	r := chi.NewRouter()
	e.h.Routes(r)
	return r
}

func seedTasks(remote *gatewaytest.Server) {
	remote.Seed(
		models.Task{ID: 1, Title: "Pay rent", DueDate: time.Date(2030, 1, 1, 9, 0, 0, 0, time.UTC)},
		models.Task{ID: 2, Title: "Call mom", DueDate: time.Date(2030, 1, 2, 18, 0, 0, 0, time.UTC)},
		models.Task{ID: 3, Title: "Buy milk", DueDate: time.Date(2029, 12, 1, 9, 0, 0, 0, time.UTC), Completed: true},
		models.Task{ID: 4, Title: "Renew passport", DueDate: time.Date(2030, 3, 1, 9, 0, 0, 0, time.UTC)},
	)
}

func withID(req *http.Request, id string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("id", id)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func formRequest(method, target string, form url.Values) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func decodeView(t *testing.T, rec *httptest.ResponseRecorder) ViewData {
	t.Helper()
	var data ViewData
	if err := json.NewDecoder(rec.Body).Decode(&data); err != nil {
		t.Fatalf("failed to decode view: %v", err)
	}
	return data
}

func viewIDs(data ViewData) []int64 {
	ids := make([]int64, len(data.Tasks))
	for i, task := range data.Tasks {
		ids[i] = task.ID
	}
	return ids
}

func equalIDs(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestDashboardHandler_DefaultSelection(t *testing.T) {
	env := setupTestHandlers(t)
	seedTasks(env.remote)

	rec := httptest.NewRecorder()
	env.h.Dashboard(rec, httptest.NewRequest("GET", "/dashboard", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, rec.Code, rec.Body.String())
	}

	data := decodeView(t, rec)
	if want := []int64{3, 1, 2, 4}; !equalIDs(viewIDs(data), want) {
		t.Errorf("expected tasks %v, got %v", want, viewIDs(data))
	}
	if data.Selection != models.DefaultSelection() {
		t.Errorf("expected default selection, got %+v", data.Selection)
	}
	if data.Stats.Overdue != 1 || data.Stats.Completed != 1 || data.Stats.Total != 4 {
		t.Errorf("unexpected stats: %+v", data.Stats)
	}
	if data.Tasks[0].Status != "finished" || data.Tasks[1].Status != "overdue" || data.Tasks[2].Status != "pending" {
		t.Errorf("unexpected statuses: %+v", data.Tasks)
	}
}

func TestDashboardHandler_PersistsSelection(t *testing.T) {
	env := setupTestHandlers(t)
	seedTasks(env.remote)

	rec := httptest.NewRecorder()
	env.h.Dashboard(rec, httptest.NewRequest("GET", "/dashboard?filter=pending&sort=title_asc", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
	}
	if want := []int64{2, 1, 4}; !equalIDs(viewIDs(decodeView(t, rec)), want) {
		t.Fatalf("expected filtered tasks %v", want)
	}

	// A later visit without parameters reuses the stored selection.
	rec = httptest.NewRecorder()
	env.h.Dashboard(rec, httptest.NewRequest("GET", "/dashboard", nil))
	data := decodeView(t, rec)
	if data.Selection.Filter != models.FilterPending || data.Selection.Sort != models.SortTitleAsc {
		t.Errorf("expected stored selection, got %+v", data.Selection)
	}

	// Other contexts keep their own selection.
	rec = httptest.NewRecorder()
	env.h.AllTasks(rec, httptest.NewRequest("GET", "/tasks/all-tasks", nil))
	if got := decodeView(t, rec).Selection; got != models.DefaultSelection() {
		t.Errorf("expected all-tasks to keep the default selection, got %+v", got)
	}
}

func TestAllTasksHandler_StatsCountWholeCollection(t *testing.T) {
	env := setupTestHandlers(t)
	seedTasks(env.remote)

	rec := httptest.NewRecorder()
	env.h.AllTasks(rec, httptest.NewRequest("GET", "/tasks/all-tasks?filter=completed", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
	}

	data := decodeView(t, rec)
	if want := []int64{3}; !equalIDs(viewIDs(data), want) {
		t.Fatalf("expected %v, got %v", want, viewIDs(data))
	}
	if data.Shown != 1 {
		t.Errorf("expected 1 shown task, got %d", data.Shown)
	}
	want := view.Stats{Total: 4, Active: 3, Completed: 1, Overdue: 1}
	if data.Stats != want {
		t.Errorf("expected stats %+v, got %+v", want, data.Stats)
	}
}

func TestDashboardHandler_InvalidSelection(t *testing.T) {
	env := setupTestHandlers(t)

	rec := httptest.NewRecorder()
	env.h.Dashboard(rec, httptest.NewRequest("GET", "/dashboard?sort=priority", nil))

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected status %d, got %d", http.StatusBadRequest, rec.Code)
	}
	if env.remote.TotalCalls() != 0 {
		t.Errorf("expected no remote calls, got %d", env.remote.TotalCalls())
	}
}

func TestCompletedHandler(t *testing.T) {
	env := setupTestHandlers(t)
	seedTasks(env.remote)

	rec := httptest.NewRecorder()
	env.h.Completed(rec, httptest.NewRequest("GET", "/tasks/completed?filter=overdue", nil))

	data := decodeView(t, rec)
	if want := []int64{3}; !equalIDs(viewIDs(data), want) {
		t.Errorf("expected %v, got %v", want, viewIDs(data))
	}
	if data.Selection.Filter != models.FilterCompleted {
		t.Errorf("expected the completed filter to be fixed, got %q", data.Selection.Filter)
	}
}

func TestDueTodayHandler(t *testing.T) {
	env := setupTestHandlers(t)
	seedTasks(env.remote)
	env.remote.Seed(models.Task{ID: 5, Title: "Stand-up", DueDate: time.Date(2030, 1, 2, 0, 30, 0, 0, time.UTC)})

	rec := httptest.NewRecorder()
	env.h.DueToday(rec, httptest.NewRequest("GET", "/tasks/due-today", nil))

	data := decodeView(t, rec)
	if want := []int64{5, 2}; !equalIDs(viewIDs(data), want) {
		t.Errorf("expected %v, got %v", want, viewIDs(data))
	}
}

func TestViewHandler_RejectedCredentialRedirects(t *testing.T) {
	env := setupTestHandlers(t)
	env.remote.Revoke()

	rec := httptest.NewRecorder()
	env.h.Dashboard(rec, httptest.NewRequest("GET", "/dashboard", nil))

	if rec.Code != http.StatusSeeOther {
		t.Fatalf("expected status %d, got %d", http.StatusSeeOther, rec.Code)
	}
	if loc := rec.Header().Get("Location"); loc != session.SignInPath {
		t.Errorf("expected redirect to %s, got %s", session.SignInPath, loc)
	}
	if _, ok := env.holder.Get(); ok {
		t.Error("expected credential to be cleared")
	}
}

func TestViewHandler_RemoteDown(t *testing.T) {
	env := setupTestHandlers(t)
	env.remote.Fail(gatewaytest.RouteList, http.StatusBadGateway, "upstream down")

	rec := httptest.NewRecorder()
	env.h.AllTasks(rec, httptest.NewRequest("GET", "/tasks/all-tasks", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status %d, got %d", http.StatusServiceUnavailable, rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "upstream down") {
		t.Errorf("expected detail in body, got %s", rec.Body.String())
	}
}

func TestCreateTaskHandler_Success(t *testing.T) {
	env := setupTestHandlers(t)

	form := url.Values{}
	form.Set("title", "Water plants")
	form.Set("description", "balcony")
	form.Set("due_date", "2030-01-05")

	rec := httptest.NewRecorder()
	env.h.CreateTask(rec, formRequest("POST", "/tasks/api", form))

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status %d, got %d: %s", http.StatusCreated, rec.Code, rec.Body.String())
	}

	var task TaskView
	if err := json.NewDecoder(rec.Body).Decode(&task); err != nil {
		t.Fatalf("failed to decode task: %v", err)
	}
	if task.Title != "Water plants" || task.Status != "pending" {
		t.Errorf("unexpected task: %+v", task)
	}
	if env.remote.Len() != 1 {
		t.Errorf("expected remote to hold 1 task, got %d", env.remote.Len())
	}
}

func TestCreateTaskHandler_ValidationError(t *testing.T) {
	env := setupTestHandlers(t)

	form := url.Values{}
	form.Set("title", "")
	form.Set("due_date", "2030-01-05")

	rec := httptest.NewRecorder()
	env.h.CreateTask(rec, formRequest("POST", "/tasks/api", form))

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected status %d, got %d", http.StatusBadRequest, rec.Code)
	}
	if env.remote.TotalCalls() != 0 {
		t.Errorf("expected no remote calls, got %d", env.remote.TotalCalls())
	}
}

func TestCreateTaskHandler_BadDate(t *testing.T) {
	env := setupTestHandlers(t)

	form := url.Values{}
	form.Set("title", "x")
	form.Set("due_date", "next tuesday")

	rec := httptest.NewRecorder()
	env.h.CreateTask(rec, formRequest("POST", "/tasks/api", form))

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected status %d, got %d", http.StatusBadRequest, rec.Code)
	}
}

func TestUpdateTaskHandler_PartialUpdate(t *testing.T) {
	env := setupTestHandlers(t)
	seedTasks(env.remote)

	form := url.Values{}
	form.Set("title", "Pay rent early")

	rec := httptest.NewRecorder()
	env.h.UpdateTask(rec, withID(formRequest("PATCH", "/tasks/api/1", form), "1"))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, rec.Code, rec.Body.String())
	}

	stored, _ := env.remote.Task(1)
	if stored.Title != "Pay rent early" {
		t.Errorf("expected title to change, got %q", stored.Title)
	}
	if !stored.DueDate.Equal(time.Date(2030, 1, 1, 9, 0, 0, 0, time.UTC)) {
		t.Errorf("expected due date to be untouched, got %v", stored.DueDate)
	}
}

func TestUpdateTaskHandler_NotFound(t *testing.T) {
	env := setupTestHandlers(t)

	form := url.Values{}
	form.Set("title", "ghost")

	rec := httptest.NewRecorder()
	env.h.UpdateTask(rec, withID(formRequest("PATCH", "/tasks/api/99", form), "99"))

	if rec.Code != http.StatusNotFound {
		t.Errorf("expected status %d, got %d", http.StatusNotFound, rec.Code)
	}
}

func TestUpdateTaskHandler_InvalidID(t *testing.T) {
	env := setupTestHandlers(t)

	rec := httptest.NewRecorder()
	env.h.UpdateTask(rec, withID(formRequest("PATCH", "/tasks/api/abc", url.Values{}), "abc"))

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected status %d, got %d", http.StatusBadRequest, rec.Code)
	}
}

func TestUpdateTaskHandler_Busy(t *testing.T) {
	env := setupTestHandlers(t)
	seedTasks(env.remote)

	entered, release := env.remote.Block(gatewaytest.RoutePatch)
	defer release()

	form := url.Values{}
	form.Set("title", "first")
	done := make(chan int)
	go func() {
		rec := httptest.NewRecorder()
		env.h.UpdateTask(rec, withID(formRequest("PATCH", "/tasks/api/1", form), "1"))
		done <- rec.Code
	}()
	<-entered

	rec := httptest.NewRecorder()
	env.h.CompleteTask(rec, withID(httptest.NewRequest("POST", "/tasks/api/1/complete", nil), "1"))
	if rec.Code != http.StatusConflict {
		t.Errorf("expected status %d, got %d", http.StatusConflict, rec.Code)
	}

	release()
	if code := <-done; code != http.StatusOK {
		t.Errorf("expected first update to succeed, got %d", code)
	}
}

func TestCompleteTaskHandler(t *testing.T) {
	env := setupTestHandlers(t)
	seedTasks(env.remote)

	rec := httptest.NewRecorder()
	env.h.CompleteTask(rec, withID(httptest.NewRequest("POST", "/tasks/api/2/complete", nil), "2"))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
	}

	var task TaskView
	if err := json.NewDecoder(rec.Body).Decode(&task); err != nil {
		t.Fatalf("failed to decode task: %v", err)
	}
	if !task.Completed || task.Status != "finished" {
		t.Errorf("expected completed task, got %+v", task)
	}
}

func TestDeleteTaskHandler(t *testing.T) {
	env := setupTestHandlers(t)
	seedTasks(env.remote)

	rec := httptest.NewRecorder()
	env.h.DeleteTask(rec, withID(httptest.NewRequest("DELETE", "/tasks/api/4", nil), "4"))

	if rec.Code != http.StatusNoContent {
		t.Errorf("expected status %d, got %d", http.StatusNoContent, rec.Code)
	}
	if _, ok := env.remote.Task(4); ok {
		t.Error("expected task to be deleted")
	}
}

func TestExportTasksHandler(t *testing.T) {
	env := setupTestHandlers(t)

	rec := httptest.NewRecorder()
	env.h.ExportTasks(rec, httptest.NewRequest("GET", "/tasks/import-export/export", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected status %d for an empty export, got %d", http.StatusNotFound, rec.Code)
	}

	seedTasks(env.remote)
	rec = httptest.NewRecorder()
	env.h.ExportTasks(rec, httptest.NewRequest("GET", "/tasks/import-export/export", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
	}
	if cd := rec.Header().Get("Content-Disposition"); !strings.Contains(cd, "tasks_export.xlsx") {
		t.Errorf("expected attachment filename, got %q", cd)
	}
}

func uploadRequest(t *testing.T, filename string, content []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("failed to create form file: %v", err)
	}
	part.Write(content)
	mw.Close()

	req := httptest.NewRequest("POST", "/tasks/import-export/import", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestImportTasksHandler(t *testing.T) {
	env := setupTestHandlers(t)

	rec := httptest.NewRecorder()
	env.h.ImportTasks(rec, uploadRequest(t, "tasks.xlsx", []byte("one\ntwo\n")))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "Successfully imported 2 tasks") {
		t.Errorf("unexpected body: %s", rec.Body.String())
	}
	if env.remote.Len() != 2 {
		t.Errorf("expected 2 imported tasks, got %d", env.remote.Len())
	}
}

func TestImportTasksHandler_RejectsNonSpreadsheet(t *testing.T) {
	env := setupTestHandlers(t)

	rec := httptest.NewRecorder()
	env.h.ImportTasks(rec, uploadRequest(t, "tasks.csv", []byte("one\n")))

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected status %d, got %d", http.StatusBadRequest, rec.Code)
	}
	if env.remote.TotalCalls() != 0 {
		t.Errorf("expected no remote calls, got %d", env.remote.TotalCalls())
	}
}

func TestLoginHandler(t *testing.T) {
	env := setupTestHandlers(t)
	if err := env.holder.Clear(); err != nil {
		t.Fatal(err)
	}

	form := url.Values{}
	form.Set("username", "ana")
	form.Set("password", "wrong")
	rec := httptest.NewRecorder()
	env.h.Login(rec, formRequest("POST", "/login", form))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected status %d, got %d", http.StatusUnauthorized, rec.Code)
	}

	form.Set("password", "secret")
	rec = httptest.NewRecorder()
	env.h.Login(rec, formRequest("POST", "/login", form))

	if rec.Code != http.StatusSeeOther {
		t.Fatalf("expected status %d, got %d: %s", http.StatusSeeOther, rec.Code, rec.Body.String())
	}
	if loc := rec.Header().Get("Location"); loc != session.HomePath {
		t.Errorf("expected redirect to %s, got %s", session.HomePath, loc)
	}
	if c, ok := env.holder.Get(); !ok || c.Token() != "good-token" {
		t.Errorf("expected stored credential, got %q", c.Token())
	}

	var cookie *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == credential.CookieName {
			cookie = c
		}
	}
	if cookie == nil || cookie.MaxAge != int((24*time.Hour)/time.Second) {
		t.Errorf("expected a one-day mirror cookie, got %+v", cookie)
	}
}

func TestRegisterHandler(t *testing.T) {
	env := setupTestHandlers(t)

	form := url.Values{}
	form.Set("username", "bo")
	form.Set("email", "not-an-email")
	form.Set("password", "pw")
	rec := httptest.NewRecorder()
	env.h.Register(rec, formRequest("POST", "/register", form))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected status %d, got %d", http.StatusBadRequest, rec.Code)
	}

	form.Set("email", "bo@example.com")
	rec = httptest.NewRecorder()
	env.h.Register(rec, formRequest("POST", "/register", form))
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status %d, got %d: %s", http.StatusCreated, rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	env.h.Register(rec, formRequest("POST", "/register", form))
	if rec.Code != http.StatusBadRequest || !strings.Contains(rec.Body.String(), "Username already exists") {
		t.Errorf("expected duplicate username error, got %d %s", rec.Code, rec.Body.String())
	}
}

func TestLogoutHandler(t *testing.T) {
	env := setupTestHandlers(t)
	seedTasks(env.remote)
	if err := env.h.tasks.Refresh(context.Background()); err != nil {
		t.Fatalf("failed to load tasks: %v", err)
	}

	rec := httptest.NewRecorder()
	env.h.Logout(rec, httptest.NewRequest("POST", "/logout", nil))

	if rec.Code != http.StatusSeeOther {
		t.Errorf("expected status %d, got %d", http.StatusSeeOther, rec.Code)
	}
	if _, ok := env.holder.Get(); ok {
		t.Error("expected credential to be cleared")
	}
	if env.holder.CookiePresent() {
		t.Error("expected mirror to be cleared")
	}
	if snap := env.h.tasks.Snapshot(); snap.Loaded || len(snap.Tasks) != 0 {
		t.Errorf("expected the signed-out user's tasks to be dropped, got %+v", snap)
	}
}

func TestRoutes_Gating(t *testing.T) {
	env := setupTestHandlers(t)
	seedTasks(env.remote)
	router := env.router()

	// Signed in: the sign-in page bounces to the dashboard.
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/login", nil))
	if rec.Code != http.StatusSeeOther || rec.Header().Get("Location") != session.HomePath {
		t.Errorf("expected guest-only redirect, got %d %s", rec.Code, rec.Header().Get("Location"))
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/tasks/all-tasks", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, rec.Code)
	}

	// Signed out: protected routes redirect without reaching the remote.
	if err := env.holder.Clear(); err != nil {
		t.Fatal(err)
	}
	calls := env.remote.TotalCalls()

	for _, path := range []string{"/dashboard", "/tasks/all-tasks", "/tasks/completed", "/tasks/due-today"} {
		rec = httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest("GET", path, nil))
		if rec.Code != http.StatusSeeOther || rec.Header().Get("Location") != session.SignInPath {
			t.Errorf("%s: expected redirect to sign-in, got %d %s", path, rec.Code, rec.Header().Get("Location"))
		}
	}
	if env.remote.TotalCalls() != calls {
		t.Errorf("expected no remote calls while signed out, got %d", env.remote.TotalCalls()-calls)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/login", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("expected sign-in page, got %d", rec.Code)
	}
}
