// Package gateway is a thin client for the remote task API. Every call is
// single-shot: no caching and no retries.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"taskflow/internal/credential"
	"taskflow/internal/models"
	"taskflow/internal/taskerr"
)

// maxResponseSize bounds response bodies, spreadsheets included.
const maxResponseSize = 32 * 1024 * 1024

// DefaultExportFilename is used when the remote does not name the download.
const DefaultExportFilename = "tasks.xlsx"

// Operation names, also used as metric labels.
const (
	OpLogin    = "login"
	OpRegister = "register"
	OpList     = "list tasks"
	OpCreate   = "create task"
	OpPatch    = "patch task"
	OpComplete = "complete task"
	OpDelete   = "delete task"
	OpExport   = "export tasks"
	OpImport   = "import tasks"
)

// TokenSource supplies the bearer token for protected calls.
type TokenSource interface {
	Get() (credential.Credential, bool)
}

// Client talks to the remote task API.
type Client struct {
	baseURL    string
	tokens     TokenSource
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *Metrics
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithMetrics enables request metrics.
func WithMetrics(m *Metrics) ClientOption {
	return func(c *Client) {
		c.metrics = m
	}
}

// NewClient creates a client for the API rooted at baseURL (e.g. http://localhost:8000/api).
func NewClient(baseURL string, tokens TokenSource, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		tokens:     tokens,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// request describes one API call.
type request struct {
	op          string
	id          int64
	method      string
	path        string
	body        io.Reader
	contentType string
	auth        bool
}

type response struct {
	status int
	header http.Header
	body   []byte
}

// Login exchanges a username and password for an access token.
func (c *Client) Login(ctx context.Context, in models.SignIn) (models.AccessToken, error) {
	form := url.Values{}
	form.Set("username", in.Username)
	form.Set("password", in.Password)

	resp, err := c.send(ctx, request{
		op:          OpLogin,
		method:      http.MethodPost,
		path:        "/login",
		body:        strings.NewReader(form.Encode()),
		contentType: "application/x-www-form-urlencoded",
	})
	if err != nil {
		return models.AccessToken{}, err
	}

	var tok models.AccessToken
	if err := decode(OpLogin, resp, &tok); err != nil {
		return models.AccessToken{}, err
	}
	if tok.AccessToken == "" {
		return models.AccessToken{}, taskerr.New(taskerr.Unavailable, OpLogin, "response has no access_token")
	}
	return tok, nil
}

// Register creates a new account.
func (c *Client) Register(ctx context.Context, in models.Registration) (models.Account, error) {
	body, err := json.Marshal(in)
	if err != nil {
		return models.Account{}, taskerr.Wrap(taskerr.Invalid, OpRegister, err)
	}

	resp, err := c.send(ctx, request{
		op:          OpRegister,
		method:      http.MethodPost,
		path:        "/register",
		body:        bytes.NewReader(body),
		contentType: "application/json",
	})
	if err != nil {
		return models.Account{}, err
	}

	var account models.Account
	if err := decode(OpRegister, resp, &account); err != nil {
		return models.Account{}, err
	}
	return account, nil
}

// ListTasks fetches every task of the signed-in user.
func (c *Client) ListTasks(ctx context.Context) ([]models.Task, error) {
	resp, err := c.send(ctx, request{
		op:     OpList,
		method: http.MethodGet,
		path:   "/tasks",
		auth:   true,
	})
	if err != nil {
		return nil, err
	}

	var tasks []models.Task
	if err := decode(OpList, resp, &tasks); err != nil {
		return nil, err
	}
	if tasks == nil {
		tasks = []models.Task{}
	}
	return tasks, nil
}

// CreateTask creates a task; the remote assigns its ID.
func (c *Client) CreateTask(ctx context.Context, in models.TaskInput) (models.Task, error) {
	body, err := json.Marshal(in)
	if err != nil {
		return models.Task{}, taskerr.Wrap(taskerr.Invalid, OpCreate, err)
	}

	resp, err := c.send(ctx, request{
		op:          OpCreate,
		method:      http.MethodPost,
		path:        "/tasks",
		body:        bytes.NewReader(body),
		contentType: "application/json",
		auth:        true,
	})
	if err != nil {
		return models.Task{}, err
	}

	var task models.Task
	if err := decode(OpCreate, resp, &task); err != nil {
		return models.Task{}, err
	}
	return task, nil
}

// PatchTask applies a partial update.
func (c *Client) PatchTask(ctx context.Context, id int64, patch models.TaskPatch) (models.Task, error) {
	body, err := json.Marshal(patch)
	if err != nil {
		return models.Task{}, taskerr.Wrap(taskerr.Invalid, OpPatch, err).WithID(id)
	}

	resp, err := c.send(ctx, request{
		op:          OpPatch,
		id:          id,
		method:      http.MethodPatch,
		path:        fmt.Sprintf("/tasks/%d", id),
		body:        bytes.NewReader(body),
		contentType: "application/json",
		auth:        true,
	})
	if err != nil {
		return models.Task{}, err
	}

	var task models.Task
	if err := decode(OpPatch, resp, &task); err != nil {
		return models.Task{}, err
	}
	return task, nil
}

// CompleteTask marks a task completed.
func (c *Client) CompleteTask(ctx context.Context, id int64) error {
	_, err := c.send(ctx, request{
		op:     OpComplete,
		id:     id,
		method: http.MethodPatch,
		path:   fmt.Sprintf("/tasks/%d/complete", id),
		auth:   true,
	})
	return err
}

// DeleteTask removes a task.
func (c *Client) DeleteTask(ctx context.Context, id int64) error {
	_, err := c.send(ctx, request{
		op:     OpDelete,
		id:     id,
		method: http.MethodDelete,
		path:   fmt.Sprintf("/tasks/%d", id),
		auth:   true,
	})
	return err
}

// ExportTasks downloads the spreadsheet export. The payload is opaque.
func (c *Client) ExportTasks(ctx context.Context) (models.Export, error) {
	resp, err := c.send(ctx, request{
		op:     OpExport,
		method: http.MethodGet,
		path:   "/tasks/export",
		auth:   true,
	})
	if err != nil {
		return models.Export{}, err
	}

	return models.Export{
		Filename:    exportFilename(resp.header.Get("Content-Disposition")),
		ContentType: resp.header.Get("Content-Type"),
		Data:        resp.body,
	}, nil
}

// ImportTasks uploads a spreadsheet as the multipart field "file".
func (c *Client) ImportTasks(ctx context.Context, filename string, payload []byte) (models.ImportSummary, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return models.ImportSummary{}, taskerr.Wrap(taskerr.Invalid, OpImport, err)
	}
	if _, err := part.Write(payload); err != nil {
		return models.ImportSummary{}, taskerr.Wrap(taskerr.Invalid, OpImport, err)
	}
	if err := mw.Close(); err != nil {
		return models.ImportSummary{}, taskerr.Wrap(taskerr.Invalid, OpImport, err)
	}

	resp, err := c.send(ctx, request{
		op:          OpImport,
		method:      http.MethodPost,
		path:        "/tasks/import",
		body:        &buf,
		contentType: mw.FormDataContentType(),
		auth:        true,
	})
	if err != nil {
		return models.ImportSummary{}, err
	}

	var summary models.ImportSummary
	if err := decode(OpImport, resp, &summary); err != nil {
		return models.ImportSummary{}, err
	}
	summary.Imported = importedCount(summary.Message)
	return summary, nil
}

// send performs one request and classifies the outcome.
func (c *Client) send(ctx context.Context, r request) (*response, error) {
	started := time.Now()
	resp, err := c.roundTrip(ctx, r)

	outcome := "ok"
	if err != nil {
		outcome = string(taskerr.KindOf(err))
	}
	c.metrics.observe(r.op, outcome, time.Since(started))

	return resp, err
}

func (c *Client) roundTrip(ctx context.Context, r request) (*response, error) {
	fail := func(kind taskerr.Kind, err error) error {
		return taskerr.Wrap(kind, r.op, err).WithID(r.id)
	}

	req, err := http.NewRequestWithContext(ctx, r.method, c.baseURL+r.path, r.body)
	if err != nil {
		return nil, fail(taskerr.Invalid, err)
	}

	requestID := uuid.NewString()
	req.Header.Set("X-Request-ID", requestID)
	req.Header.Set("Accept", "application/json")
	if r.contentType != "" {
		req.Header.Set("Content-Type", r.contentType)
	}

	if r.auth {
		cred, ok := c.tokens.Get()
		if !ok {
			return nil, taskerr.New(taskerr.Unauthorized, r.op, "no credential").WithID(r.id)
		}
		req.Header.Set("Authorization", "Bearer "+cred.Token())
	}

	c.logger.Debug("Sending task API request",
		"op", r.op, "method", r.method, "path", r.path, "request_id", requestID)

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fail(taskerr.Unavailable, err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseSize+1))
	if err != nil {
		return nil, fail(taskerr.Unavailable, fmt.Errorf("failed to read response: %w", err))
	}
	if len(body) > maxResponseSize {
		return nil, fail(taskerr.Unavailable, fmt.Errorf("response too large: more than %d bytes", maxResponseSize))
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		e := &taskerr.Error{
			Kind:   kindForStatus(httpResp.StatusCode),
			Op:     r.op,
			ID:     r.id,
			Status: httpResp.StatusCode,
			Detail: errorDetail(httpResp.StatusCode, body),
		}
		c.logger.Debug("Task API request failed",
			"op", r.op, "status", httpResp.StatusCode, "kind", e.Kind, "request_id", requestID)
		return nil, e
	}

	return &response{status: httpResp.StatusCode, header: httpResp.Header, body: body}, nil
}

func decode(op string, resp *response, v any) error {
	if err := json.Unmarshal(resp.body, v); err != nil {
		return taskerr.Wrap(taskerr.Unavailable, op, fmt.Errorf("failed to decode response: %w", err))
	}
	return nil
}

// kindForStatus maps remote HTTP statuses onto failure kinds.
func kindForStatus(status int) taskerr.Kind {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return taskerr.Unauthorized
	case status == http.StatusNotFound:
		return taskerr.NotFound
	case status >= 500:
		return taskerr.Unavailable
	case status >= 400:
		return taskerr.Invalid
	default:
		return taskerr.Unavailable
	}
}

// errorDetail extracts the "detail" of an error body. Validation failures
// carry a list of {loc, msg} objects, which are flattened.
func errorDetail(status int, body []byte) string {
	var payload struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || len(payload.Detail) == 0 {
		return http.StatusText(status)
	}

	var text string
	if err := json.Unmarshal(payload.Detail, &text); err == nil {
		return text
	}

	var items []struct {
		Loc []any  `json:"loc"`
		Msg string `json:"msg"`
	}
	if err := json.Unmarshal(payload.Detail, &items); err == nil && len(items) > 0 {
		msgs := make([]string, 0, len(items))
		for _, item := range items {
			if len(item.Loc) > 0 {
				msgs = append(msgs, fmt.Sprintf("%v: %s", item.Loc[len(item.Loc)-1], item.Msg))
				continue
			}
			msgs = append(msgs, item.Msg)
		}
		return strings.Join(msgs, "; ")
	}

	return http.StatusText(status)
}

func exportFilename(disposition string) string {
	if disposition == "" {
		return DefaultExportFilename
	}
	_, params, err := mime.ParseMediaType(disposition)
	if err != nil || params["filename"] == "" {
		return DefaultExportFilename
	}
	return params["filename"]
}

var countPattern = regexp.MustCompile(`\d+`)

func importedCount(message string) int {
	match := countPattern.FindString(message)
	if match == "" {
		return 0
	}
	n, err := strconv.Atoi(match)
	if err != nil {
		return 0
	}
	return n
}
