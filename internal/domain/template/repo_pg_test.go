package template

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/LashaKh/MediMind-Expert-1.0-sub008/internal/platform/auth"
)

// scriptedTx answers Exec with a fixed command tag and QueryRow with a fixed
// row. Anything else reaches the nil embedded interface.
type scriptedTx struct {
	pgx.Tx
	tag       pgconn.CommandTag
	row       pgx.Row
	queries   []string
	committed bool
}

func (s *scriptedTx) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	s.queries = append(s.queries, sql)
	if strings.Contains(sql, "set_config") {
		return pgconn.NewCommandTag("SELECT 1"), nil
	}
	return s.tag, nil
}

func (s *scriptedTx) QueryRow(_ context.Context, sql string, _ ...any) pgx.Row {
	s.queries = append(s.queries, sql)
	return s.row
}

func (s *scriptedTx) Commit(context.Context) error   { s.committed = true; return nil }
func (s *scriptedTx) Rollback(context.Context) error { return nil }

type scriptedPool struct{ tx *scriptedTx }

func (p *scriptedPool) Begin(context.Context) (pgx.Tx, error) { return p.tx, nil }

type errRow struct{ err error }

func (r errRow) Scan(...any) error { return r.err }

func callerCtx(id uuid.UUID) context.Context {
	return auth.WithUserID(context.Background(), id.String())
}

func TestPGGateway_RequiresCaller(t *testing.T) {
	tx := &scriptedTx{}
	g := NewPGGateway(&scriptedPool{tx: tx})

	_, err := g.Get(context.Background(), uuid.New())
	if !IsKind(err, KindAuthRequired) {
		t.Fatalf("expected AUTH_REQUIRED, got %v", err)
	}
	if len(tx.queries) != 0 {
		t.Errorf("expected no queries, got %d", len(tx.queries))
	}
}

func TestPGGateway_DeleteZeroRowsIsNotFound(t *testing.T) {
	tx := &scriptedTx{tag: pgconn.NewCommandTag("DELETE 0")}
	g := NewPGGateway(&scriptedPool{tx: tx})

	id := uuid.New()
	err := g.Delete(callerCtx(uuid.New()), id)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected NOT_FOUND, got %v", err)
	}
	if !strings.Contains(err.Error(), id.String()) {
		t.Errorf("expected id in message, got %q", err.Error())
	}
	if tx.committed {
		t.Error("expected rollback on not found")
	}
}

func TestPGGateway_DeleteCommits(t *testing.T) {
	tx := &scriptedTx{tag: pgconn.NewCommandTag("DELETE 1")}
	g := NewPGGateway(&scriptedPool{tx: tx})

	if err := g.Delete(callerCtx(uuid.New()), uuid.New()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !tx.committed {
		t.Error("expected commit")
	}
	if len(tx.queries) != 3 {
		t.Errorf("expected 2 set_config + 1 delete, got %d statements", len(tx.queries))
	}
}

func TestPGGateway_RecordUsageMissingRow(t *testing.T) {
	tx := &scriptedTx{row: errRow{err: pgx.ErrNoRows}}
	g := NewPGGateway(&scriptedPool{tx: tx})

	_, err := g.RecordUsage(callerCtx(uuid.New()), uuid.New())
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected NOT_FOUND, got %v", err)
	}
}

func TestPGGateway_CreateValidatesBeforeQuery(t *testing.T) {
	tx := &scriptedTx{}
	g := NewPGGateway(&scriptedPool{tx: tx})

	_, err := g.Create(callerCtx(uuid.New()), uuid.New(), CreateRequest{Name: "x", Structure: "short"})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected VALIDATION_ERROR, got %v", err)
	}
	if len(tx.queries) != 0 {
		t.Errorf("expected no queries, got %d", len(tx.queries))
	}
}

func TestPGGateway_CreateDuplicate(t *testing.T) {
	tx := &scriptedTx{row: errRow{err: &pgconn.PgError{Code: "23505", ConstraintName: "report_templates_user_name_key"}}}
	g := NewPGGateway(&scriptedPool{tx: tx})

	_, err := g.Create(callerCtx(uuid.New()), uuid.New(), CreateRequest{
		Name:      "SOAP Note",
		Structure: "Subjective:\nObjective:\nAssessment:\nPlan:",
	})
	if !errors.Is(err, ErrDuplicateName) {
		t.Fatalf("expected DUPLICATE_NAME, got %v", err)
	}
}

func TestPGGateway_UpdateEmpty(t *testing.T) {
	tx := &scriptedTx{}
	g := NewPGGateway(&scriptedPool{tx: tx})

	_, err := g.Update(callerCtx(uuid.New()), uuid.New(), UpdateRequest{})
	if !errors.Is(err, ErrEmptyUpdate) {
		t.Fatalf("expected EMPTY_UPDATE, got %v", err)
	}
	if len(tx.queries) != 0 {
		t.Errorf("expected no queries, got %d", len(tx.queries))
	}
}

func TestMapPGError(t *testing.T) {
	id := uuid.New()
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"no rows", pgx.ErrNoRows, KindNotFound},
		{"wrapped no rows", fmt.Errorf("scan: %w", pgx.ErrNoRows), KindNotFound},
		{"unique violation", &pgconn.PgError{Code: "23505"}, KindDuplicateName},
		{"limit trigger", &pgconn.PgError{Code: "P0001", Message: "template_limit_exceeded", Detail: "50"}, KindLimitExceeded},
		{"other raise", &pgconn.PgError{Code: "P0001", Message: "something else"}, KindConnection},
		{"rls violation", &pgconn.PgError{Code: "42501"}, KindNotFound},
		{"check violation", &pgconn.PgError{Code: "23514", ConstraintName: "report_templates_name_len"}, KindValidation},
		{"connection refused", errors.New("dial tcp: connection refused"), KindConnection},
		{"taxonomy passthrough", NewAuthExpiredError("expired"), KindAuthExpired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := mapPGError(tt.err, id, "Name", DefaultLimit)
			if KindOf(got) != tt.want {
				t.Errorf("expected %s, got %v", tt.want, got)
			}
			var te *Error
			if !errors.As(got, &te) {
				t.Errorf("expected *Error, got %T", got)
			}
		})
	}

	if mapPGError(nil, id, "", DefaultLimit) != nil {
		t.Error("expected nil for nil error")
	}
}

func TestMapPGError_LimitFromDetail(t *testing.T) {
	err := mapPGError(&pgconn.PgError{Code: "P0001", Message: "template_limit_exceeded", Detail: "10"}, uuid.Nil, "", DefaultLimit)
	if !strings.Contains(err.Error(), "10 templates") {
		t.Errorf("expected limit from detail, got %q", err.Error())
	}
}

func TestMapPGError_CanceledIsNotRetryable(t *testing.T) {
	err := mapPGError(context.Canceled, uuid.Nil, "", DefaultLimit)
	if KindOf(err) != KindConnection {
		t.Errorf("expected CONNECTION_ERROR, got %v", err)
	}
	if Retryable(err) {
		t.Error("cancellation must not be retried")
	}
}

func TestBuildListQuery_Defaults(t *testing.T) {
	owner := uuid.New()
	q := buildListQuery(owner, SearchFilters{})

	if !strings.Contains(q.dataSQL, "ORDER BY created_at DESC, id DESC") {
		t.Errorf("expected default ordering, got %s", q.dataSQL)
	}
	if !strings.Contains(q.dataSQL, "LIMIT $2 OFFSET $3") {
		t.Errorf("expected limit/offset placeholders, got %s", q.dataSQL)
	}
	if strings.Contains(q.dataSQL, "ILIKE") {
		t.Errorf("expected no search clause, got %s", q.dataSQL)
	}
	args := q.dataArgs()
	if len(args) != 3 || args[0] != owner || args[1] != DefaultLimit || args[2] != 0 {
		t.Errorf("unexpected args: %v", args)
	}
}

func TestBuildListQuery_SearchAndSort(t *testing.T) {
	q := buildListQuery(uuid.New(), SearchFilters{
		Search:    "emergency",
		OrderBy:   SortByUsageCount,
		Direction: SortDesc,
	})

	if !strings.Contains(q.dataSQL, `name ILIKE $2 ESCAPE '\'`) {
		t.Errorf("expected case-insensitive name filter, got %s", q.dataSQL)
	}
	if !strings.Contains(q.dataSQL, "ORDER BY usage_count DESC") {
		t.Errorf("expected usage_count DESC ordering, got %s", q.dataSQL)
	}
	if q.args[1] != "%emergency%" {
		t.Errorf("expected substring pattern, got %v", q.args[1])
	}
	if !strings.Contains(q.countSQL, "FILTER (WHERE name ILIKE $2") {
		t.Errorf("expected filtered match count, got %s", q.countSQL)
	}
	if !strings.Contains(q.dataSQL, "LIMIT $3 OFFSET $4") {
		t.Errorf("expected shifted placeholders, got %s", q.dataSQL)
	}
}

func TestBuildListQuery_UnknownSortFallsBack(t *testing.T) {
	q := buildListQuery(uuid.New(), SearchFilters{OrderBy: "name; DROP TABLE x", Direction: SortAsc})
	if !strings.Contains(q.dataSQL, "ORDER BY created_at ASC") {
		t.Errorf("expected fallback to created_at, got %s", q.dataSQL)
	}
}

func TestEscapeLike(t *testing.T) {
	if got := escapeLike(`50%_off\`); got != `50\%\_off\\` {
		t.Errorf("unexpected escape: %s", got)
	}
}

func TestBuildUpdate(t *testing.T) {
	id := uuid.New()
	name := "Discharge Summary"
	notes := ""
	sql, args := buildUpdate(id, UpdateRequest{Name: &name, Notes: &notes})

	if !strings.Contains(sql, "name = $2, notes = $3, updated_at = NOW()") {
		t.Errorf("unexpected SET clause: %s", sql)
	}
	if strings.Contains(sql, "example_structure =") {
		t.Errorf("structure must not be touched: %s", sql)
	}
	if len(args) != 3 || args[0] != id || args[1] != name || args[2] != notes {
		t.Errorf("unexpected args: %v", args)
	}
}
