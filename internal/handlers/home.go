package handlers

import (
	"net/http"
	"time"

	"taskflow/internal/models"
	"taskflow/internal/taskerr"
	"taskflow/internal/view"
)

// Presentation contexts. Each keeps its own persisted selection.
const (
	ContextDashboard = "dashboard"
	ContextAllTasks  = "all-tasks"
	ContextCompleted = "completed"
	ContextDueToday  = "due-today"
)

// TaskView is a task as shown in a list.
type TaskView struct {
	ID          int64     `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	DueDate     time.Time `json:"due_date"`
	Completed   bool      `json:"completed"`
	Status      string    `json:"status"` // "finished", "overdue" or "pending"
}

func newTaskView(task models.Task, now time.Time) TaskView {
	return TaskView{
		ID:          task.ID,
		Title:       task.Title,
		Description: task.Description,
		DueDate:     task.DueDate,
		Completed:   task.Completed,
		Status:      task.Status(now),
	}
}

// ViewData holds the data of a task list page. Stats count the whole
// collection; Shown is the length of the projection.
type ViewData struct {
	Title     string           `json:"title"`
	Context   string           `json:"context"`
	Selection models.Selection `json:"selection"`
	Tasks     []TaskView       `json:"tasks"`
	Shown     int              `json:"shown"`
	Stats     view.Stats       `json:"stats"`
}

// Dashboard shows the filtered and sorted task list with counts.
func (h *Handlers) Dashboard(w http.ResponseWriter, r *http.Request) {
	h.renderList(w, r, "Dashboard", ContextDashboard, func(sel models.Selection) (models.Selection, []models.Task) {
		return sel, h.tasks.View(sel)
	})
}

// AllTasks shows every task under its own persisted selection.
func (h *Handlers) AllTasks(w http.ResponseWriter, r *http.Request) {
	h.renderList(w, r, "All Tasks", ContextAllTasks, func(sel models.Selection) (models.Selection, []models.Task) {
		return sel, h.tasks.View(sel)
	})
}

// Completed shows finished tasks only; the filter is fixed, the sort is not.
func (h *Handlers) Completed(w http.ResponseWriter, r *http.Request) {
	h.renderList(w, r, "Completed Tasks", ContextCompleted, func(sel models.Selection) (models.Selection, []models.Task) {
		sel.Filter = models.FilterCompleted
		return sel, h.tasks.View(sel)
	})
}

// DueToday shows the tasks due on the current calendar day.
func (h *Handlers) DueToday(w http.ResponseWriter, r *http.Request) {
	h.renderList(w, r, "Due Today", ContextDueToday, func(sel models.Selection) (models.Selection, []models.Task) {
		sel.Filter = models.FilterAll
		return sel, h.tasks.DueToday(sel.Sort)
	})
}

// renderList reloads the collection, resolves the context's selection and
// renders the projection built by derive.
func (h *Handlers) renderList(w http.ResponseWriter, r *http.Request, title, viewContext string, derive func(models.Selection) (models.Selection, []models.Task)) {
	sel, err := h.selection(r, viewContext)
	if err != nil {
		respondError(w, http.StatusBadRequest, taskerr.Invalid, err.Error())
		return
	}

	if err := h.tasks.Refresh(r.Context()); err != nil {
		h.respondTaskError(w, r, err)
		return
	}

	sel, tasks := derive(sel)
	now := h.now()

	data := ViewData{
		Title:     title,
		Context:   viewContext,
		Selection: sel,
		Tasks:     make([]TaskView, 0, len(tasks)),
		Shown:     len(tasks),
		Stats:     h.tasks.Stats(),
	}
	for _, task := range tasks {
		data.Tasks = append(data.Tasks, newTaskView(task, now))
	}

	respondJSON(w, http.StatusOK, data)
}

// selection returns the selection for a context. Query parameters override
// the stored selection and are persisted for the next visit.
func (h *Handlers) selection(r *http.Request, viewContext string) (models.Selection, error) {
	ctx := r.Context()
	q := r.URL.Query()

	sel, _, err := h.store.LoadSelection(ctx, viewContext)
	if err != nil {
		h.logger.Warn("Failed to load view selection", "context", viewContext, "error", err)
		sel = models.DefaultSelection()
	}

	if !q.Has("filter") && !q.Has("sort") {
		return sel, nil
	}

	if q.Has("filter") {
		filter, err := models.ParseFilter(q.Get("filter"))
		if err != nil {
			return sel, err
		}
		sel.Filter = filter
	}
	if q.Has("sort") {
		sort, err := models.ParseSort(q.Get("sort"))
		if err != nil {
			return sel, err
		}
		sel.Sort = sort
	}

	if err := h.store.SaveSelection(ctx, viewContext, sel); err != nil {
		h.logger.Warn("Failed to save view selection", "context", viewContext, "error", err)
	}
	return sel, nil
}
