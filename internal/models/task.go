package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// naiveLayout is the timestamp form the task API emits for zone-less datetimes.
const naiveLayout = "2006-01-02T15:04:05.999999999"

// DefaultLocation is used to interpret due dates that carry no zone offset.
var DefaultLocation = time.UTC

// Task represents a single task record owned by the remote API.
type Task struct {
	ID          int64     `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	DueDate     time.Time `json:"due_date"`
	Completed   bool      `json:"completed"`
}

// UnmarshalJSON accepts RFC 3339 due dates as well as the naive ISO-8601 form.
func (t *Task) UnmarshalJSON(data []byte) error {
	type alias Task
	var raw struct {
		alias
		DueDate string `json:"due_date"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	due, err := ParseTimestamp(raw.DueDate)
	if err != nil {
		return fmt.Errorf("task %d: %w", raw.ID, err)
	}

	*t = Task(raw.alias)
	t.DueDate = due
	return nil
}

// IsOverdue returns true if the task is not completed and its due date is strictly before now.
func (t *Task) IsOverdue(now time.Time) bool {
	if t.Completed || t.DueDate.IsZero() {
		return false
	}
	return t.DueDate.Before(now)
}

// Status returns the display label for the task at the given moment.
func (t *Task) Status(now time.Time) string {
	switch {
	case t.Completed:
		return "finished"
	case t.IsOverdue(now):
		return "overdue"
	default:
		return "pending"
	}
}

// TaskInput holds the fields needed to create a task. The remote assigns the ID.
type TaskInput struct {
	Title       string    `json:"title"`
	Description string    `json:"description"`
	DueDate     time.Time `json:"due_date"`
}

// Validate checks that the input has the fields the remote requires.
func (in *TaskInput) Validate() error {
	if strings.TrimSpace(in.Title) == "" {
		return errors.New("title is required")
	}

	if in.DueDate.IsZero() {
		return errors.New("due_date is required")
	}

	return nil
}

// TaskPatch is a partial update. Nil fields are left unchanged by the remote.
type TaskPatch struct {
	Title       *string    `json:"title,omitempty"`
	Description *string    `json:"description,omitempty"`
	DueDate     *time.Time `json:"due_date,omitempty"`
}

// Validate checks that the patch changes something and keeps the task valid.
func (p *TaskPatch) Validate() error {
	if p.Title == nil && p.Description == nil && p.DueDate == nil {
		return errors.New("patch has no fields")
	}

	if p.Title != nil && strings.TrimSpace(*p.Title) == "" {
		return errors.New("title cannot be empty")
	}

	if p.DueDate != nil && p.DueDate.IsZero() {
		return errors.New("due_date cannot be empty")
	}

	return nil
}

// ImportSummary is the remote's answer to a spreadsheet import.
type ImportSummary struct {
	Message  string `json:"message"`
	Imported int    `json:"-"`
}

// Export is a spreadsheet payload downloaded from the remote.
type Export struct {
	Filename    string
	ContentType string
	Data        []byte
}

// ParseTimestamp parses an RFC 3339 timestamp, falling back to the naive
// ISO-8601 form interpreted in DefaultLocation.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}

	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}

	for _, layout := range []string{naiveLayout, "2006-01-02T15:04", "2006-01-02"} {
		if t, err := time.ParseInLocation(layout, s, DefaultLocation); err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("invalid timestamp %q", s)
}
