package db

import (
	"context"
	"fmt"
	"regexp"
	"sort"

	"github.com/jackc/pgx/v5"
)

// Session settings read by the row-level-security policies and triggers.
const (
	SettingUserID        = "app.current_user_id"
	SettingTemplateLimit = "app.template_limit"
)

var settingPattern = regexp.MustCompile(`^[a-z_]+\.[a-z_]+$`)

// Beginner starts a transaction. *pgxpool.Pool and *pgx.Conn satisfy it.
type Beginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// WithSession runs fn inside a transaction whose transaction-local settings
// carry vars, so policies such as
// user_id = current_setting('app.current_user_id')::uuid see the caller.
// The transaction commits when fn returns nil and rolls back otherwise.
// Errors returned by fn are passed through unwrapped.
func WithSession(ctx context.Context, b Beginner, vars map[string]string, fn func(ctx context.Context, tx pgx.Tx) error) error {
	names := make([]string, 0, len(vars))
	for name := range vars {
		if !settingPattern.MatchString(name) {
			return fmt.Errorf("invalid session setting %q", name)
		}
		names = append(names, name)
	}
	sort.Strings(names)

	tx, err := b.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, name := range names {
		if _, err := tx.Exec(ctx, "SELECT set_config($1, $2, true)", name, vars[name]); err != nil {
			return fmt.Errorf("set %s: %w", name, err)
		}
	}

	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
