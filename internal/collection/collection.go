// Package collection keeps the client-side copy of the user's tasks and runs
// every mutation through the remote, reloading the copy after each success.
package collection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/text/language"

	"taskflow/internal/credential"
	"taskflow/internal/models"
	"taskflow/internal/taskerr"
	"taskflow/internal/view"
)

// Operation names used in errors and logs.
const (
	OpRefresh  = "refresh tasks"
	OpCreate   = "create task"
	OpUpdate   = "update task"
	OpComplete = "complete task"
	OpDelete   = "delete task"
	OpExport   = "export tasks"
	OpImport   = "import tasks"
)

// Remote is the task API the collection delegates to.
type Remote interface {
	ListTasks(ctx context.Context) ([]models.Task, error)
	CreateTask(ctx context.Context, in models.TaskInput) (models.Task, error)
	PatchTask(ctx context.Context, id int64, patch models.TaskPatch) (models.Task, error)
	CompleteTask(ctx context.Context, id int64) error
	DeleteTask(ctx context.Context, id int64) error
	ExportTasks(ctx context.Context) (models.Export, error)
	ImportTasks(ctx context.Context, filename string, payload []byte) (models.ImportSummary, error)
}

// Credentials reports whether a credential is currently held.
type Credentials interface {
	Get() (credential.Credential, bool)
}

// Session ends the session when the remote rejects the credential.
// Context is cancelled when the current session ends.
type Session interface {
	Invalidate(cause error)
	Epoch() uint64
	Context() context.Context
	OnInvalid(fn func()) (cancel func())
}

// Snapshot is an immutable view of the collection at one refresh.
type Snapshot struct {
	Tasks   []models.Task
	Version uint64
	Loaded  bool
}

// Collection is the authoritative in-memory list of the user's tasks.
// It is safe for concurrent use.
type Collection struct {
	remote  Remote
	creds   Credentials
	session Session
	deriver *view.Deriver
	logger  *slog.Logger
	now     func() time.Time

	mu          sync.Mutex
	tasks       []models.Task
	loaded      bool
	version     uint64
	issued      uint64
	applied     uint64
	inflight    map[int64]string
	subscribers map[int]func(Snapshot)
	nextSub     int

	stop func()
}

// Option configures a Collection.
type Option func(*Collection)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Collection) {
		c.logger = logger
	}
}

// WithDeriver sets the deriver used for views.
func WithDeriver(d *view.Deriver) Option {
	return func(c *Collection) {
		c.deriver = d
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Collection) {
		c.now = now
	}
}

// New creates an empty collection. It empties itself whenever the session
// credential is invalidated.
func New(remote Remote, creds Credentials, session Session, opts ...Option) *Collection {
	c := &Collection{
		remote:      remote,
		creds:       creds,
		session:     session,
		deriver:     view.New(language.English),
		logger:      slog.Default(),
		now:         time.Now,
		tasks:       []models.Task{},
		inflight:    make(map[int64]string),
		subscribers: make(map[int]func(Snapshot)),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.stop = session.OnInvalid(c.reset)
	return c
}

// Close detaches the collection from the session.
func (c *Collection) Close() {
	c.stop()
}

// Refresh replaces the collection with the remote's current list.
// A refresh that completes after a newer one has been applied is discarded.
func (c *Collection) Refresh(ctx context.Context) error {
	if err := c.requireCredential(OpRefresh); err != nil {
		return err
	}

	epoch := c.session.Epoch()
	c.mu.Lock()
	c.issued++
	seq := c.issued
	c.mu.Unlock()

	ctx, stop := c.bind(ctx)
	tasks, err := c.remote.ListTasks(ctx)
	stop()
	if err != nil {
		if c.session.Epoch() != epoch {
			return sessionEnded(OpRefresh)
		}
		return c.fail(err)
	}

	c.mu.Lock()
	if c.session.Epoch() != epoch {
		c.mu.Unlock()
		return sessionEnded(OpRefresh)
	}
	if seq <= c.applied {
		c.mu.Unlock()
		c.logger.Debug("Discarding stale refresh", "seq", seq, "applied", c.applied)
		return nil
	}
	c.tasks = tasks
	c.loaded = true
	c.applied = seq
	c.version++
	snap, subs := c.snapshotLocked(), c.subscribersLocked()
	c.mu.Unlock()

	c.logger.Debug("Tasks refreshed", "count", len(tasks), "version", snap.Version)
	notify(subs, snap)
	return nil
}

// Create adds a task. The input is checked locally before any call; an invalid input
// never reaches the remote and leaves the collection unchanged.
func (c *Collection) Create(ctx context.Context, in models.TaskInput) (models.Task, error) {
	if err := c.requireCredential(OpCreate); err != nil {
		return models.Task{}, err
	}
	if err := in.Validate(); err != nil {
		return models.Task{}, taskerr.New(taskerr.Invalid, OpCreate, err.Error())
	}

	var created models.Task
	err := c.mutate(ctx, OpCreate, 0, func(ctx context.Context) error {
		var err error
		created, err = c.remote.CreateTask(ctx, in)
		return err
	})
	return created, err
}

// Update applies a partial change to the task with the given id.
func (c *Collection) Update(ctx context.Context, id int64, patch models.TaskPatch) (models.Task, error) {
	if err := c.requireCredential(OpUpdate); err != nil {
		return models.Task{}, err
	}
	if err := validID(OpUpdate, id); err != nil {
		return models.Task{}, err
	}
	if err := patch.Validate(); err != nil {
		return models.Task{}, taskerr.New(taskerr.Invalid, OpUpdate, err.Error()).WithID(id)
	}

	var updated models.Task
	err := c.mutate(ctx, OpUpdate, id, func(ctx context.Context) error {
		var err error
		updated, err = c.remote.PatchTask(ctx, id, patch)
		return err
	})
	return updated, err
}

// Complete marks a task as completed. Completing a completed task succeeds.
func (c *Collection) Complete(ctx context.Context, id int64) error {
	if err := c.requireCredential(OpComplete); err != nil {
		return err
	}
	if err := validID(OpComplete, id); err != nil {
		return err
	}
	return c.mutate(ctx, OpComplete, id, func(ctx context.Context) error {
		return c.remote.CompleteTask(ctx, id)
	})
}

// Delete removes a task.
func (c *Collection) Delete(ctx context.Context, id int64) error {
	if err := c.requireCredential(OpDelete); err != nil {
		return err
	}
	if err := validID(OpDelete, id); err != nil {
		return err
	}
	return c.mutate(ctx, OpDelete, id, func(ctx context.Context) error {
		return c.remote.DeleteTask(ctx, id)
	})
}

// Export downloads the user's tasks as a spreadsheet. The collection is not changed.
func (c *Collection) Export(ctx context.Context) (models.Export, error) {
	if err := c.requireCredential(OpExport); err != nil {
		return models.Export{}, err
	}
	epoch := c.session.Epoch()
	ctx, stop := c.bind(ctx)
	export, err := c.remote.ExportTasks(ctx)
	stop()
	if err != nil {
		if c.session.Epoch() != epoch {
			return models.Export{}, sessionEnded(OpExport)
		}
		return models.Export{}, c.fail(err)
	}
	return export, nil
}

// Import uploads a spreadsheet of tasks and reloads the collection.
func (c *Collection) Import(ctx context.Context, filename string, payload []byte) (models.ImportSummary, error) {
	if err := c.requireCredential(OpImport); err != nil {
		return models.ImportSummary{}, err
	}
	if err := ValidateUpload(filename, payload); err != nil {
		return models.ImportSummary{}, taskerr.New(taskerr.Invalid, OpImport, err.Error())
	}

	var summary models.ImportSummary
	err := c.mutate(ctx, OpImport, 0, func(ctx context.Context) error {
		var err error
		summary, err = c.remote.ImportTasks(ctx, filename, payload)
		return err
	})
	return summary, err
}

// ValidateUpload checks an import file before it is sent.
func ValidateUpload(filename string, payload []byte) error {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".xlsx", ".xls":
	default:
		return errors.New("file must be an Excel spreadsheet (.xlsx or .xls)")
	}
	if len(payload) == 0 {
		return errors.New("file is empty")
	}
	return nil
}

// mutate runs call for the task id while holding its in-flight slot, then
// reloads the collection. id 0 names operations without a target task, which
// never conflict. Callers check the credential first.
func (c *Collection) mutate(ctx context.Context, op string, id int64, call func(context.Context) error) error {
	release, err := c.acquire(op, id)
	if err != nil {
		return err
	}

	epoch := c.session.Epoch()
	callCtx, stop := c.bind(ctx)
	err = call(callCtx)
	stop()
	release()

	if err != nil {
		if c.session.Epoch() != epoch {
			return sessionEnded(op)
		}
		if taskerr.IsNotFound(err) {
			// The remote no longer has the task; bring the copy in line.
			if rerr := c.Refresh(ctx); rerr != nil {
				c.logger.Warn("Failed to refresh after missing task", "op", op, "id", id, "error", rerr)
			}
		}
		return c.fail(err)
	}

	if c.session.Epoch() != epoch {
		return sessionEnded(op)
	}

	if err := c.Refresh(ctx); err != nil {
		return fmt.Errorf("%s succeeded but reloading tasks failed: %w", op, err)
	}
	return nil
}

// acquire reserves the in-flight slot of id. A second mutation of the same
// task while the first is outstanding is rejected with Busy.
func (c *Collection) acquire(op string, id int64) (release func(), err error) {
	if id == 0 {
		return func() {}, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if running, ok := c.inflight[id]; ok {
		return nil, taskerr.New(taskerr.Busy, op, running+" is still in progress").WithID(id)
	}
	c.inflight[id] = op

	return func() {
		c.mu.Lock()
		delete(c.inflight, id)
		c.mu.Unlock()
	}, nil
}

// InFlight reports whether a mutation of the task is outstanding.
func (c *Collection) InFlight(id int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.inflight[id]
	return ok
}

// bind derives a context that is also cancelled when the current session
// ends. A session context that has already ended belongs to an earlier
// sign-in and is not linked.
func (c *Collection) bind(ctx context.Context) (context.Context, func()) {
	sessionCtx := c.session.Context()
	if sessionCtx.Err() != nil {
		return ctx, func() {}
	}

	ctx, cancel := context.WithCancel(ctx)
	stopAfter := context.AfterFunc(sessionCtx, cancel)
	return ctx, func() {
		stopAfter()
		cancel()
	}
}

func (c *Collection) requireCredential(op string) error {
	if _, ok := c.creds.Get(); !ok {
		return taskerr.New(taskerr.Unauthorized, op, "not signed in")
	}
	return nil
}

// fail raises the invalidation signal for rejected credentials.
func (c *Collection) fail(err error) error {
	if taskerr.IsUnauthorized(err) {
		c.session.Invalidate(err)
	}
	return err
}

// reset empties the collection when the session ends. Refreshes issued before
// the reset can no longer apply.
func (c *Collection) reset() {
	c.mu.Lock()
	c.tasks = []models.Task{}
	c.loaded = false
	c.applied = c.issued
	c.version++
	snap, subs := c.snapshotLocked(), c.subscribersLocked()
	c.mu.Unlock()

	notify(subs, snap)
}

// Subscribe registers fn to receive every new snapshot.
// The returned function removes the subscription.
func (c *Collection) Subscribe(fn func(Snapshot)) (cancel func()) {
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subscribers[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.subscribers, id)
		c.mu.Unlock()
	}
}

// Snapshot returns the current state.
func (c *Collection) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Tasks returns a copy of the tasks in remote order.
func (c *Collection) Tasks() []models.Task {
	return c.Snapshot().Tasks
}

// Get returns the task with the given id.
func (c *Collection) Get(id int64) (models.Task, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, task := range c.tasks {
		if task.ID == id {
			return task, true
		}
	}
	return models.Task{}, false
}

// Now is the moment views are derived against.
func (c *Collection) Now() time.Time {
	return c.now()
}

// View derives the selection's projection at the current moment.
func (c *Collection) View(sel models.Selection) []models.Task {
	return c.deriver.Derive(c.Tasks(), sel, c.now())
}

// DueToday returns the tasks due on the current calendar day, ordered by sort.
func (c *Collection) DueToday(sort models.SortKind) []models.Task {
	now := c.now().In(models.DefaultLocation)
	return c.deriver.Sort(view.DueOn(c.Tasks(), now), sort)
}

// Stats summarizes the collection at the current moment.
func (c *Collection) Stats() view.Stats {
	return view.Summarize(c.Tasks(), c.now())
}

func (c *Collection) snapshotLocked() Snapshot {
	return Snapshot{
		Tasks:   slices.Clone(c.tasks),
		Version: c.version,
		Loaded:  c.loaded,
	}
}

func (c *Collection) subscribersLocked() []func(Snapshot) {
	subs := make([]func(Snapshot), 0, len(c.subscribers))
	for _, fn := range c.subscribers {
		subs = append(subs, fn)
	}
	return subs
}

func notify(subs []func(Snapshot), snap Snapshot) {
	for _, fn := range subs {
		fn(snap)
	}
}

func validID(op string, id int64) error {
	if id <= 0 {
		return taskerr.New(taskerr.Invalid, op, "task id must be positive").WithID(id)
	}
	return nil
}

func sessionEnded(op string) error {
	return taskerr.New(taskerr.Unauthorized, op, "session ended")
}
