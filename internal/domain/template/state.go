package template

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// State is a point-in-time view of a Store. Slices are copies owned by the
// caller.
type State struct {
	Templates  []Template
	Loading    bool
	Err        error
	Filters    SearchFilters
	TotalCount int
	Limit      int
	// Pending counts mutations sent to the gateway and not yet settled.
	Pending int
}

func (s State) clone() State {
	out := s
	out.Templates = append([]Template(nil), s.Templates...)
	return out
}

// IsAtLimit reports whether the owner may not create another template.
func (s State) IsAtLimit() bool {
	return s.TotalCount >= s.Limit
}

// Remaining is the number of templates the owner can still create.
func (s State) Remaining() int {
	return max(s.Limit-s.TotalCount, 0)
}

// ByUsage returns the loaded templates, most used first.
func (s State) ByUsage() []Template {
	out := append([]Template(nil), s.Templates...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].UsageCount > out[j].UsageCount
	})
	return out
}

// RecentlyUsed returns the templates that have been used, latest first.
func (s State) RecentlyUsed() []Template {
	var out []Template
	for _, t := range s.Templates {
		if t.LastUsedAt != nil {
			out = append(out, t)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].LastUsedAt.After(*out[j].LastUsedAt)
	})
	return out
}

// Filtered applies the current filters to the loaded templates without a
// round trip: case-insensitive name search, then sorting.
func (s State) Filtered() []Template {
	f := s.Filters.Normalized()
	needle := strings.ToLower(strings.TrimSpace(f.Search))

	var out []Template
	for _, t := range s.Templates {
		if needle == "" || strings.Contains(strings.ToLower(t.Name), needle) {
			out = append(out, t)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if f.Direction == SortDesc {
			a, b = b, a
		}
		switch f.OrderBy {
		case SortByUsageCount:
			return a.UsageCount < b.UsageCount
		case SortByName:
			return strings.ToLower(a.Name) < strings.ToLower(b.Name)
		default:
			return a.CreatedAt.Before(b.CreatedAt)
		}
	})
	return out
}

// Find returns the loaded template with the given id.
func (s State) Find(id uuid.UUID) (Template, bool) {
	for _, t := range s.Templates {
		if t.ID == id {
			return t, true
		}
	}
	return Template{}, false
}

// Phase is the stage of an optimistic mutation.
type Phase string

const (
	PhasePending    Phase = "pending"
	PhaseConfirmed  Phase = "confirmed"
	PhaseRolledBack Phase = "rolled_back"
)

// Op names a mutating store operation.
type Op string

const (
	OpCreate      Op = "create"
	OpUpdate      Op = "update"
	OpDelete      Op = "delete"
	OpRecordUsage Op = "record_usage"
)

// Mutation is one journal entry. A mutation stays pending while its gateway
// call is in flight; local state changes only when it is confirmed.
type Mutation struct {
	ID         uint64
	Op         Op
	TemplateID uuid.UUID
	Phase      Phase
	Err        error
	StartedAt  time.Time
	SettledAt  time.Time
}
