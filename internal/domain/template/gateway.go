package template

import (
	"context"

	"github.com/google/uuid"

	"github.com/LashaKh/MediMind-Expert-1.0-sub008/internal/platform/auth"
)

// Gateway is the persistence contract for report templates. Every error it
// returns is an *Error.
//
// Operations addressed by id act on behalf of the caller carried in ctx (see
// auth.WithUserID); templates owned by someone else are reported as
// NOT_FOUND.
type Gateway interface {
	List(ctx context.Context, ownerID uuid.UUID, f SearchFilters) (*ListResult, error)
	Get(ctx context.Context, id uuid.UUID) (*Template, error)
	Create(ctx context.Context, ownerID uuid.UUID, req CreateRequest) (*Template, error)
	Update(ctx context.Context, id uuid.UUID, req UpdateRequest) (*Template, error)
	Delete(ctx context.Context, id uuid.UUID) error
	RecordUsage(ctx context.Context, id uuid.UUID) (*UsageResult, error)
	Stats(ctx context.Context, ownerID uuid.UUID) (*Stats, error)
}

// CallerFromContext returns the authenticated user id stored in ctx.
func CallerFromContext(ctx context.Context) (uuid.UUID, error) {
	sub := auth.UserIDFromContext(ctx)
	if sub == "" {
		return uuid.Nil, NewAuthRequiredError("no authenticated user")
	}
	id, err := uuid.Parse(sub)
	if err != nil {
		return uuid.Nil, NewAuthRequiredError("subject is not a user id")
	}
	return id, nil
}
