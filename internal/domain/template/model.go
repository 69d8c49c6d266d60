package template

import (
	"time"

	"github.com/google/uuid"
)

// DefaultLimit is the number of templates a single owner may hold.
const DefaultLimit = 50

// Template is a clinician's custom report template.
type Template struct {
	ID         uuid.UUID  `db:"id" json:"id" yaml:"id,omitempty"`
	UserID     uuid.UUID  `db:"user_id" json:"user_id" yaml:"-"`
	Name       string     `db:"name" json:"name" yaml:"name"`
	Structure  string     `db:"example_structure" json:"structure" yaml:"structure"`
	Notes      string     `db:"notes" json:"notes" yaml:"notes,omitempty"`
	UsageCount int        `db:"usage_count" json:"usage_count" yaml:"usage_count,omitempty"`
	LastUsedAt *time.Time `db:"last_used_at" json:"last_used_at" yaml:"last_used_at,omitempty"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at" yaml:"created_at,omitempty"`
	UpdatedAt  time.Time  `db:"updated_at" json:"updated_at" yaml:"updated_at,omitempty"`
}

// CreateRequest carries the content fields of a new template. Notes may be
// empty.
type CreateRequest struct {
	Name      string `json:"name" validate:"required,min=2,max=100,templatename"`
	Structure string `json:"structure" validate:"required,min=10,max=50000"`
	Notes     string `json:"notes" validate:"max=10000"`
}

// UpdateRequest is a partial update; nil fields are left untouched.
type UpdateRequest struct {
	Name      *string `json:"name,omitempty" validate:"omitnil,min=2,max=100,templatename"`
	Structure *string `json:"structure,omitempty" validate:"omitnil,min=10,max=50000"`
	Notes     *string `json:"notes,omitempty" validate:"omitnil,max=10000"`
}

// IsEmpty reports whether the request defines no field at all.
func (r UpdateRequest) IsEmpty() bool {
	return r.Name == nil && r.Structure == nil && r.Notes == nil
}

// Apply returns a copy of t with the defined fields of r applied.
func (r UpdateRequest) Apply(t Template) Template {
	if r.Name != nil {
		t.Name = *r.Name
	}
	if r.Structure != nil {
		t.Structure = *r.Structure
	}
	if r.Notes != nil {
		t.Notes = *r.Notes
	}
	return t
}

// SortField is a column a template listing can be ordered by.
type SortField string

const (
	SortByCreatedAt  SortField = "created_at"
	SortByUsageCount SortField = "usage_count"
	SortByName       SortField = "name"
)

// SortDirection is ascending or descending.
type SortDirection string

const (
	SortAsc  SortDirection = "asc"
	SortDesc SortDirection = "desc"
)

// SearchFilters describes a listing: free-text search on name, ordering and
// paging. The zero value lists newest first.
type SearchFilters struct {
	Search    string        `json:"search,omitempty"`
	OrderBy   SortField     `json:"order_by,omitempty"`
	Direction SortDirection `json:"order_direction,omitempty"`
	Limit     int           `json:"limit,omitempty"`
	Offset    int           `json:"offset,omitempty"`
}

// Normalized fills defaults and replaces unknown sort keys.
func (f SearchFilters) Normalized() SearchFilters {
	switch f.OrderBy {
	case SortByCreatedAt, SortByUsageCount, SortByName:
	default:
		f.OrderBy = SortByCreatedAt
	}
	switch f.Direction {
	case SortAsc, SortDesc:
	default:
		f.Direction = SortDesc
	}
	if f.Limit <= 0 {
		f.Limit = DefaultLimit
	}
	if f.Limit > 100 {
		f.Limit = 100
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

// ListResult is one page of an owner's templates. TotalCount counts every
// template the owner holds regardless of the search term, so limit checks stay
// correct on a filtered view; MatchCount counts the rows the search matched.
type ListResult struct {
	Templates  []Template `json:"templates"`
	TotalCount int        `json:"total_count"`
	MatchCount int        `json:"match_count"`
}

// UsageResult is returned by RecordUsage.
type UsageResult struct {
	UsageCount int `json:"usage_count"`
}

// Stats summarizes an owner's template collection.
type Stats struct {
	TotalTemplates int        `json:"total_templates"`
	TotalUsage     int        `json:"total_usage"`
	MostUsed       *Template  `json:"most_used,omitempty"`
	LastUsedAt     *time.Time `json:"last_used_at,omitempty"`
	Remaining      int        `json:"remaining"`
}
