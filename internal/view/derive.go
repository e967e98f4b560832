// Package view derives ordered, filtered projections of a task collection.
// Every function here is pure: the same inputs always yield the same output,
// and the input slice is never modified.
package view

import (
	"slices"
	"time"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"taskflow/internal/models"
)

// Deriver produces views using a fixed collation language for titles.
type Deriver struct {
	lang language.Tag
}

// New creates a Deriver that orders titles by the rules of lang.
func New(lang language.Tag) *Deriver {
	return &Deriver{lang: lang}
}

var defaultDeriver = New(language.English)

// Derive applies sel to tasks at the moment now using English collation.
func Derive(tasks []models.Task, sel models.Selection, now time.Time) []models.Task {
	return defaultDeriver.Derive(tasks, sel, now)
}

// Derive filters tasks by sel.Filter, then stable-sorts them by sel.Sort.
// Equal keys keep their collection order, so every sort is a total order.
func (d *Deriver) Derive(tasks []models.Task, sel models.Selection, now time.Time) []models.Task {
	sel = sel.Normalize()
	out := Filter(tasks, sel.Filter, now)
	d.sort(out, sel.Sort)
	return out
}

// Sort returns a sorted copy of tasks.
func (d *Deriver) Sort(tasks []models.Task, kind models.SortKind) []models.Task {
	out := slices.Clone(tasks)
	d.sort(out, kind)
	return out
}

func (d *Deriver) sort(tasks []models.Task, kind models.SortKind) {
	switch kind {
	case models.SortDueDateDesc:
		slices.SortStableFunc(tasks, func(a, b models.Task) int {
			return b.DueDate.Compare(a.DueDate)
		})
	case models.SortTitleAsc, models.SortTitleDesc:
		// Collators keep internal buffers; one per call keeps Derive safe for concurrent use.
		c := collate.New(d.lang)
		sign := 1
		if kind == models.SortTitleDesc {
			sign = -1
		}
		slices.SortStableFunc(tasks, func(a, b models.Task) int {
			return sign * c.CompareString(a.Title, b.Title)
		})
	default:
		slices.SortStableFunc(tasks, func(a, b models.Task) int {
			return a.DueDate.Compare(b.DueDate)
		})
	}
}

// Filter returns the tasks matching kind at the moment now, in collection order.
// Unknown kinds pass every task.
func Filter(tasks []models.Task, kind models.FilterKind, now time.Time) []models.Task {
	out := make([]models.Task, 0, len(tasks))
	for _, task := range tasks {
		if matches(task, kind, now) {
			out = append(out, task)
		}
	}
	return out
}

func matches(task models.Task, kind models.FilterKind, now time.Time) bool {
	switch kind {
	case models.FilterCompleted:
		return task.Completed
	case models.FilterPending:
		return !task.Completed
	case models.FilterOverdue:
		return task.IsOverdue(now)
	default:
		return true
	}
}

// Window returns the tasks due in [start, end), in collection order.
func Window(tasks []models.Task, start, end time.Time) []models.Task {
	out := make([]models.Task, 0)
	for _, task := range tasks {
		if !task.DueDate.Before(start) && task.DueDate.Before(end) {
			out = append(out, task)
		}
	}
	return out
}

// DueOn returns the tasks due on the calendar day of day, in day's location.
func DueOn(tasks []models.Task, day time.Time) []models.Task {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	return Window(tasks, start, start.AddDate(0, 0, 1))
}

// Stats counts tasks by state.
type Stats struct {
	Total     int `json:"total"`
	Active    int `json:"active"`
	Completed int `json:"completed"`
	Overdue   int `json:"overdue"`
}

// Summarize counts tasks by state at the moment now.
func Summarize(tasks []models.Task, now time.Time) Stats {
	var s Stats
	for _, task := range tasks {
		s.Total++
		if task.Completed {
			s.Completed++
			continue
		}
		s.Active++
		if task.IsOverdue(now) {
			s.Overdue++
		}
	}
	return s
}
