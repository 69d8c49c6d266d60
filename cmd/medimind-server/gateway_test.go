package main

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/LashaKh/MediMind-Expert-1.0-sub008/internal/domain/template"
)

// memGateway is an in-process template.Gateway for exercising the server and
// CLI wiring without Postgres.
type memGateway struct {
	mu        sync.Mutex
	templates map[uuid.UUID]*template.Template
	limit     int
	clock     time.Time
}

func newMemGateway() *memGateway {
	return &memGateway{
		templates: make(map[uuid.UUID]*template.Template),
		limit:     template.DefaultLimit,
		clock:     time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC),
	}
}

func (g *memGateway) tick() time.Time {
	g.clock = g.clock.Add(time.Minute)
	return g.clock
}

// owned returns the template when the caller in ctx owns it.
func (g *memGateway) owned(ctx context.Context, id uuid.UUID) (*template.Template, error) {
	caller, err := template.CallerFromContext(ctx)
	if err != nil {
		return nil, err
	}
	t, ok := g.templates[id]
	if !ok || t.UserID != caller {
		return nil, template.NewNotFoundError(id)
	}
	return t, nil
}

func (g *memGateway) count(owner uuid.UUID) int {
	n := 0
	for _, t := range g.templates {
		if t.UserID == owner {
			n++
		}
	}
	return n
}

func (g *memGateway) nameTaken(owner uuid.UUID, name string, except uuid.UUID) bool {
	for _, t := range g.templates {
		if t.UserID == owner && t.ID != except && t.Name == name {
			return true
		}
	}
	return false
}

func (g *memGateway) List(_ context.Context, owner uuid.UUID, f template.SearchFilters) (*template.ListResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	f = f.Normalized()

	var matched []template.Template
	for _, t := range g.templates {
		if t.UserID != owner {
			continue
		}
		if f.Search != "" && !strings.Contains(strings.ToLower(t.Name), strings.ToLower(f.Search)) {
			continue
		}
		matched = append(matched, *t)
	}
	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if f.Direction == template.SortDesc {
			a, b = b, a
		}
		switch f.OrderBy {
		case template.SortByName:
			return a.Name < b.Name
		case template.SortByUsageCount:
			return a.UsageCount < b.UsageCount
		default:
			return a.CreatedAt.Before(b.CreatedAt)
		}
	})

	res := &template.ListResult{Templates: []template.Template{}, TotalCount: g.count(owner), MatchCount: len(matched)}
	if f.Offset < len(matched) {
		end := f.Offset + f.Limit
		if end > len(matched) {
			end = len(matched)
		}
		res.Templates = append(res.Templates, matched[f.Offset:end]...)
	}
	return res, nil
}

func (g *memGateway) Get(ctx context.Context, id uuid.UUID) (*template.Template, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	t, err := g.owned(ctx, id)
	if err != nil {
		return nil, err
	}
	cp := *t
	return &cp, nil
}

func (g *memGateway) Create(_ context.Context, owner uuid.UUID, req template.CreateRequest) (*template.Template, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := template.ValidateCreate(req); err != nil {
		return nil, err
	}
	if g.count(owner) >= g.limit {
		return nil, template.NewLimitExceededError(g.limit)
	}
	if g.nameTaken(owner, req.Name, uuid.Nil) {
		return nil, template.NewDuplicateNameError(req.Name)
	}
	now := g.tick()
	t := &template.Template{
		ID: uuid.New(), UserID: owner, Name: req.Name, Structure: req.Structure, Notes: req.Notes,
		CreatedAt: now, UpdatedAt: now,
	}
	g.templates[t.ID] = t
	cp := *t
	return &cp, nil
}

func (g *memGateway) Update(ctx context.Context, id uuid.UUID, req template.UpdateRequest) (*template.Template, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if req.IsEmpty() {
		return nil, template.NewEmptyUpdateError()
	}
	if err := template.ValidateUpdate(req); err != nil {
		return nil, err
	}
	t, err := g.owned(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.Name != nil && g.nameTaken(t.UserID, *req.Name, id) {
		return nil, template.NewDuplicateNameError(*req.Name)
	}
	*t = req.Apply(*t)
	t.UpdatedAt = g.tick()
	cp := *t
	return &cp, nil
}

func (g *memGateway) Delete(ctx context.Context, id uuid.UUID) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, err := g.owned(ctx, id); err != nil {
		return err
	}
	delete(g.templates, id)
	return nil
}

func (g *memGateway) RecordUsage(ctx context.Context, id uuid.UUID) (*template.UsageResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	t, err := g.owned(ctx, id)
	if err != nil {
		return nil, err
	}
	now := g.tick()
	t.UsageCount++
	t.LastUsedAt = &now
	return &template.UsageResult{UsageCount: t.UsageCount}, nil
}

func (g *memGateway) Stats(_ context.Context, owner uuid.UUID) (*template.Stats, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	st := &template.Stats{}
	for _, t := range g.templates {
		if t.UserID != owner {
			continue
		}
		st.TotalTemplates++
		st.TotalUsage += t.UsageCount
		if t.UsageCount > 0 && (st.MostUsed == nil || t.UsageCount > st.MostUsed.UsageCount) {
			cp := *t
			st.MostUsed = &cp
		}
		if t.LastUsedAt != nil && (st.LastUsedAt == nil || t.LastUsedAt.After(*st.LastUsedAt)) {
			st.LastUsedAt = t.LastUsedAt
		}
	}
	st.Remaining = g.limit - st.TotalTemplates
	return st, nil
}
