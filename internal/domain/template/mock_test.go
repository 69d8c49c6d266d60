package template

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// fakeGateway is an in-memory Gateway. Queued errors are returned (and
// consumed) before an operation touches the map.
type fakeGateway struct {
	mu        sync.Mutex
	templates map[uuid.UUID]*Template
	limit     int
	calls     map[string]int
	failures  map[string][]error
	clock     time.Time
	// usageGate, when set, blocks RecordUsage until it is closed.
	usageGate chan struct{}
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		templates: make(map[uuid.UUID]*Template),
		limit:     DefaultLimit,
		calls:     make(map[string]int),
		failures:  make(map[string][]error),
		clock:     time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC),
	}
}

func (f *fakeGateway) fail(op string, errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[op] = append(f.failures[op], errs...)
}

func (f *fakeGateway) callCount(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *fakeGateway) totalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

// begin records the call and pops a queued failure. Callers hold f.mu.
func (f *fakeGateway) begin(op string) error {
	f.calls[op]++
	if q := f.failures[op]; len(q) > 0 {
		f.failures[op] = q[1:]
		return q[0]
	}
	return nil
}

func (f *fakeGateway) tick() time.Time {
	f.clock = f.clock.Add(time.Minute)
	return f.clock
}

// seed inserts a template directly, bypassing counters.
func (f *fakeGateway) seed(owner uuid.UUID, name string, usage int) *Template {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := f.tick()
	t := &Template{
		ID:         uuid.New(),
		UserID:     owner,
		Name:       name,
		Structure:  "Assessment and plan for " + name,
		UsageCount: usage,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if usage > 0 {
		last := now
		t.LastUsedAt = &last
	}
	f.templates[t.ID] = t
	return t
}

func (f *fakeGateway) visible(ctx context.Context, id uuid.UUID) (*Template, error) {
	t, ok := f.templates[id]
	if !ok {
		return nil, NewNotFoundError(id)
	}
	if caller, err := CallerFromContext(ctx); err == nil && caller != t.UserID {
		return nil, NewNotFoundError(id)
	}
	return t, nil
}

func (f *fakeGateway) List(_ context.Context, ownerID uuid.UUID, filters SearchFilters) (*ListResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("list"); err != nil {
		return nil, err
	}
	filters = filters.Normalized()
	res := &ListResult{Templates: []Template{}}
	var matched []Template
	for _, t := range f.templates {
		if t.UserID != ownerID {
			continue
		}
		res.TotalCount++
		if filters.Search != "" && !strings.Contains(strings.ToLower(t.Name), strings.ToLower(filters.Search)) {
			continue
		}
		matched = append(matched, *t)
	}
	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if filters.Direction == SortDesc {
			a, b = b, a
		}
		switch filters.OrderBy {
		case SortByUsageCount:
			return a.UsageCount < b.UsageCount
		case SortByName:
			return a.Name < b.Name
		default:
			return a.CreatedAt.Before(b.CreatedAt)
		}
	})
	res.MatchCount = len(matched)
	end := min(filters.Offset+filters.Limit, len(matched))
	if filters.Offset < end {
		res.Templates = append(res.Templates, matched[filters.Offset:end]...)
	}
	return res, nil
}

func (f *fakeGateway) Get(ctx context.Context, id uuid.UUID) (*Template, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("get"); err != nil {
		return nil, err
	}
	t, err := f.visible(ctx, id)
	if err != nil {
		return nil, err
	}
	cp := *t
	return &cp, nil
}

func (f *fakeGateway) Create(_ context.Context, ownerID uuid.UUID, req CreateRequest) (*Template, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("create"); err != nil {
		return nil, err
	}
	count := 0
	for _, t := range f.templates {
		if t.UserID != ownerID {
			continue
		}
		count++
		if t.Name == req.Name {
			return nil, NewDuplicateNameError(req.Name)
		}
	}
	if count >= f.limit {
		return nil, NewLimitExceededError(f.limit)
	}
	now := f.tick()
	t := &Template{
		ID:        uuid.New(),
		UserID:    ownerID,
		Name:      req.Name,
		Structure: req.Structure,
		Notes:     req.Notes,
		CreatedAt: now,
		UpdatedAt: now,
	}
	f.templates[t.ID] = t
	cp := *t
	return &cp, nil
}

func (f *fakeGateway) Update(ctx context.Context, id uuid.UUID, req UpdateRequest) (*Template, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("update"); err != nil {
		return nil, err
	}
	t, err := f.visible(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.Name != nil {
		for _, other := range f.templates {
			if other.ID != id && other.UserID == t.UserID && other.Name == *req.Name {
				return nil, NewDuplicateNameError(*req.Name)
			}
		}
	}
	updated := req.Apply(*t)
	updated.UpdatedAt = f.tick()
	*t = updated
	return &updated, nil
}

func (f *fakeGateway) Delete(ctx context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("delete"); err != nil {
		return err
	}
	if _, err := f.visible(ctx, id); err != nil {
		return err
	}
	delete(f.templates, id)
	return nil
}

func (f *fakeGateway) RecordUsage(ctx context.Context, id uuid.UUID) (*UsageResult, error) {
	f.mu.Lock()
	gate := f.usageGate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("record_usage"); err != nil {
		return nil, err
	}
	t, err := f.visible(ctx, id)
	if err != nil {
		return nil, err
	}
	t.UsageCount++
	now := f.tick()
	t.LastUsedAt = &now
	return &UsageResult{UsageCount: t.UsageCount}, nil
}

func (f *fakeGateway) Stats(_ context.Context, ownerID uuid.UUID) (*Stats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("stats"); err != nil {
		return nil, err
	}
	st := &Stats{}
	for _, t := range f.templates {
		if t.UserID != ownerID {
			continue
		}
		st.TotalTemplates++
		st.TotalUsage += t.UsageCount
		if t.UsageCount > 0 && (st.MostUsed == nil || t.UsageCount > st.MostUsed.UsageCount) {
			cp := *t
			st.MostUsed = &cp
		}
		if t.LastUsedAt != nil && (st.LastUsedAt == nil || t.LastUsedAt.After(*st.LastUsedAt)) {
			last := *t.LastUsedAt
			st.LastUsedAt = &last
		}
	}
	st.Remaining = max(f.limit-st.TotalTemplates, 0)
	return st, nil
}
