package models

import "fmt"

// FilterKind selects which tasks a view shows.
type FilterKind string

const (
	FilterAll       FilterKind = "all"
	FilterCompleted FilterKind = "completed"
	FilterPending   FilterKind = "pending"
	FilterOverdue   FilterKind = "overdue"
)

// SortKind selects the order of a view.
type SortKind string

const (
	SortDueDateAsc  SortKind = "due_date_asc"
	SortDueDateDesc SortKind = "due_date_desc"
	SortTitleAsc    SortKind = "title_asc"
	SortTitleDesc   SortKind = "title_desc"
)

// Selection is the (filter, sort) pair a presentation context applies.
type Selection struct {
	Filter FilterKind `json:"filter"`
	Sort   SortKind   `json:"sort"`
}

// DefaultSelection shows every task, earliest due first.
func DefaultSelection() Selection {
	return Selection{Filter: FilterAll, Sort: SortDueDateAsc}
}

// ParseFilter converts a string to a FilterKind. Empty means all.
func ParseFilter(s string) (FilterKind, error) {
	switch f := FilterKind(s); f {
	case "":
		return FilterAll, nil
	case FilterAll, FilterCompleted, FilterPending, FilterOverdue:
		return f, nil
	default:
		return "", fmt.Errorf("filter must be one of all, completed, pending, overdue: %q", s)
	}
}

// ParseSort converts a string to a SortKind. Empty means due date ascending.
func ParseSort(s string) (SortKind, error) {
	switch k := SortKind(s); k {
	case "":
		return SortDueDateAsc, nil
	case SortDueDateAsc, SortDueDateDesc, SortTitleAsc, SortTitleDesc:
		return k, nil
	default:
		return "", fmt.Errorf("sort must be one of due_date_asc, due_date_desc, title_asc, title_desc: %q", s)
	}
}

// ParseSelection parses both halves of a selection.
func ParseSelection(filter, sort string) (Selection, error) {
	f, err := ParseFilter(filter)
	if err != nil {
		return Selection{}, err
	}
	s, err := ParseSort(sort)
	if err != nil {
		return Selection{}, err
	}
	return Selection{Filter: f, Sort: s}, nil
}

// Normalize fills empty halves with defaults.
func (s Selection) Normalize() Selection {
	if s.Filter == "" {
		s.Filter = FilterAll
	}
	if s.Sort == "" {
		s.Sort = SortDueDateAsc
	}
	return s
}
