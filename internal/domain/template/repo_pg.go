package template

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/LashaKh/MediMind-Expert-1.0-sub008/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// PGGateway stores templates in the report_templates table. Each call runs in
// its own transaction with app.current_user_id set to the caller, so the
// table's row-level-security policy hides other owners' rows.
type PGGateway struct {
	pool  db.Beginner
	limit int
}

type PGOption func(*PGGateway)

// WithTemplateLimit overrides the per-owner limit enforced by the insert
// trigger.
func WithTemplateLimit(n int) PGOption {
	return func(g *PGGateway) {
		if n > 0 {
			g.limit = n
		}
	}
}

func NewPGGateway(pool db.Beginner, opts ...PGOption) *PGGateway {
	g := &PGGateway{pool: pool, limit: DefaultLimit}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

const tplCols = `id, user_id, name, example_structure, notes,
	usage_count, last_used_at, created_at, updated_at`

func scanTemplate(row pgx.Row) (*Template, error) {
	var t Template
	err := row.Scan(&t.ID, &t.UserID, &t.Name, &t.Structure, &t.Notes,
		&t.UsageCount, &t.LastUsedAt, &t.CreatedAt, &t.UpdatedAt)
	return &t, err
}

// session runs fn as the caller and normalizes whatever it returns.
func (g *PGGateway) session(ctx context.Context, id uuid.UUID, name string, fn func(ctx context.Context, q queryable) error) error {
	caller, err := CallerFromContext(ctx)
	if err != nil {
		return err
	}
	vars := map[string]string{
		db.SettingUserID:        caller.String(),
		db.SettingTemplateLimit: strconv.Itoa(g.limit),
	}
	err = db.WithSession(ctx, g.pool, vars, func(ctx context.Context, tx pgx.Tx) error {
		return fn(ctx, tx)
	})
	return mapPGError(err, id, name, g.limit)
}

func (g *PGGateway) List(ctx context.Context, ownerID uuid.UUID, f SearchFilters) (*ListResult, error) {
	q := buildListQuery(ownerID, f)
	result := &ListResult{Templates: []Template{}}
	err := g.session(ctx, uuid.Nil, "", func(ctx context.Context, c queryable) error {
		if err := c.QueryRow(ctx, q.countSQL, q.args...).Scan(&result.TotalCount, &result.MatchCount); err != nil {
			return err
		}
		rows, err := c.Query(ctx, q.dataSQL, q.dataArgs()...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			t, err := scanTemplate(rows)
			if err != nil {
				return err
			}
			result.Templates = append(result.Templates, *t)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (g *PGGateway) Get(ctx context.Context, id uuid.UUID) (*Template, error) {
	var t *Template
	err := g.session(ctx, id, "", func(ctx context.Context, c queryable) error {
		var err error
		t, err = scanTemplate(c.QueryRow(ctx, `SELECT `+tplCols+` FROM report_templates WHERE id = $1`, id))
		return err
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (g *PGGateway) Create(ctx context.Context, ownerID uuid.UUID, req CreateRequest) (*Template, error) {
	req = req.Normalize()
	if err := ValidateCreate(req); err != nil {
		return nil, err
	}
	var t *Template
	err := g.session(ctx, uuid.Nil, req.Name, func(ctx context.Context, c queryable) error {
		var err error
		t, err = scanTemplate(c.QueryRow(ctx, `
			INSERT INTO report_templates (user_id, name, example_structure, notes)
			VALUES ($1, $2, $3, $4)
			RETURNING `+tplCols,
			ownerID, req.Name, req.Structure, req.Notes))
		return err
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (g *PGGateway) Update(ctx context.Context, id uuid.UUID, req UpdateRequest) (*Template, error) {
	req = req.Normalize()
	if err := ValidateUpdate(req); err != nil {
		return nil, err
	}
	sql, args := buildUpdate(id, req)
	name := ""
	if req.Name != nil {
		name = *req.Name
	}
	var t *Template
	err := g.session(ctx, id, name, func(ctx context.Context, c queryable) error {
		var err error
		t, err = scanTemplate(c.QueryRow(ctx, sql, args...))
		return err
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (g *PGGateway) Delete(ctx context.Context, id uuid.UUID) error {
	return g.session(ctx, id, "", func(ctx context.Context, c queryable) error {
		tag, err := c.Exec(ctx, `DELETE FROM report_templates WHERE id = $1`, id)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return pgx.ErrNoRows
		}
		return nil
	})
}

// RecordUsage bumps the counter without touching updated_at, which tracks
// content edits only.
func (g *PGGateway) RecordUsage(ctx context.Context, id uuid.UUID) (*UsageResult, error) {
	var res UsageResult
	err := g.session(ctx, id, "", func(ctx context.Context, c queryable) error {
		return c.QueryRow(ctx, `
			UPDATE report_templates
			SET usage_count = usage_count + 1, last_used_at = NOW()
			WHERE id = $1
			RETURNING usage_count`, id).Scan(&res.UsageCount)
	})
	if err != nil {
		return nil, err
	}
	return &res, nil
}

func (g *PGGateway) Stats(ctx context.Context, ownerID uuid.UUID) (*Stats, error) {
	var st Stats
	err := g.session(ctx, uuid.Nil, "", func(ctx context.Context, c queryable) error {
		if err := c.QueryRow(ctx, `
			SELECT COUNT(*), COALESCE(SUM(usage_count), 0), MAX(last_used_at)
			FROM report_templates WHERE user_id = $1`, ownerID,
		).Scan(&st.TotalTemplates, &st.TotalUsage, &st.LastUsedAt); err != nil {
			return err
		}
		top, err := scanTemplate(c.QueryRow(ctx, `
			SELECT `+tplCols+` FROM report_templates
			WHERE user_id = $1 AND usage_count > 0
			ORDER BY usage_count DESC, last_used_at DESC, id
			LIMIT 1`, ownerID))
		switch {
		case errors.Is(err, pgx.ErrNoRows):
		case err != nil:
			return err
		default:
			st.MostUsed = top
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	st.Remaining = max(g.limit-st.TotalTemplates, 0)
	return &st, nil
}

type listQuery struct {
	countSQL string
	dataSQL  string
	args     []interface{}
	limit    int
	offset   int
}

func (q listQuery) dataArgs() []interface{} {
	out := make([]interface{}, 0, len(q.args)+2)
	out = append(out, q.args...)
	return append(out, q.limit, q.offset)
}

var sortColumns = map[SortField]string{
	SortByCreatedAt:  "created_at",
	SortByUsageCount: "usage_count",
	SortByName:       "name",
}

// buildListQuery produces the count and page queries for an owner's listing.
// The count query returns the owner's total and the number of rows matching
// the search term.
func buildListQuery(ownerID uuid.UUID, f SearchFilters) listQuery {
	f = f.Normalized()
	q := listQuery{args: []interface{}{ownerID}, limit: f.Limit, offset: f.Offset}

	where := "user_id = $1"
	match := "TRUE"
	if s := strings.TrimSpace(f.Search); s != "" {
		q.args = append(q.args, "%"+escapeLike(s)+"%")
		match = fmt.Sprintf(`name ILIKE $%d ESCAPE '\'`, len(q.args))
		where += " AND " + match
	}

	q.countSQL = fmt.Sprintf(`SELECT COUNT(*), COUNT(*) FILTER (WHERE %s) FROM report_templates WHERE user_id = $1`, match)

	dir := "DESC"
	if f.Direction == SortAsc {
		dir = "ASC"
	}
	q.dataSQL = fmt.Sprintf(`SELECT %s FROM report_templates WHERE %s ORDER BY %s %s, id %s LIMIT $%d OFFSET $%d`,
		tplCols, where, sortColumns[f.OrderBy], dir, dir, len(q.args)+1, len(q.args)+2)
	return q
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

// buildUpdate assembles a partial UPDATE touching only the defined fields.
func buildUpdate(id uuid.UUID, req UpdateRequest) (string, []interface{}) {
	args := []interface{}{id}
	var sets []string
	add := func(col string, v *string) {
		if v == nil {
			return
		}
		args = append(args, *v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	add("name", req.Name)
	add("example_structure", req.Structure)
	add("notes", req.Notes)
	sets = append(sets, "updated_at = NOW()")

	return `UPDATE report_templates SET ` + strings.Join(sets, ", ") +
		` WHERE id = $1 RETURNING ` + tplCols, args
}

// mapPGError folds a database failure into the error taxonomy. id and name
// label NOT_FOUND and DUPLICATE_NAME errors.
func mapPGError(err error, id uuid.UUID, name string, limit int) error {
	if err == nil {
		return nil
	}
	var te *Error
	if errors.As(err, &te) {
		return te
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return NewNotFoundError(id)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return NewDuplicateNameError(name)
		case "P0001":
			if strings.Contains(pgErr.Message, "template_limit_exceeded") {
				if n, convErr := strconv.Atoi(pgErr.Detail); convErr == nil {
					limit = n
				}
				return NewLimitExceededError(limit)
			}
		case "42501":
			// row-level security rejected the row; indistinguishable from absent
			return NewNotFoundError(id)
		case "23514", "22001":
			return NewValidationError(FieldError{Field: constraintField(pgErr.ConstraintName), Message: pgErr.Message})
		}
	}
	return NewConnectionError(err)
}

func constraintField(constraint string) string {
	switch {
	case strings.Contains(constraint, "name"):
		return "name"
	case strings.Contains(constraint, "structure"):
		return "structure"
	case strings.Contains(constraint, "notes"):
		return "notes"
	default:
		return "template"
	}
}
