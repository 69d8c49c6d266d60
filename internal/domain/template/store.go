package template

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sahilm/fuzzy"
)

// ErrStoreClosed is returned by Store operations after Close.
var ErrStoreClosed = errors.New("template store closed")

const maxJournal = 256

// cacheClearer is implemented by gateways that keep a cache, such as
// *CachingGateway.
type cacheClearer interface {
	ClearCache(ctx context.Context) error
}

// Store is the single source of truth for one owner's templates on the
// client. It applies confirmed gateway results to its state, records every
// failure in State.Err and journals each mutation as pending until the
// gateway answers.
type Store struct {
	gw     Gateway
	owner  uuid.UUID
	limit  int
	logger zerolog.Logger
	now    func() time.Time

	mu        sync.RWMutex
	state     State
	journal   []Mutation
	nextMutID uint64
	loadSeq   uint64
	closed    bool

	listeners  map[int]func(State)
	nextListen int

	bg sync.WaitGroup
}

type StoreOption func(*Store)

func WithStoreLimit(n int) StoreOption {
	return func(s *Store) {
		if n > 0 {
			s.limit = n
		}
	}
}

func WithStoreLogger(logger zerolog.Logger) StoreOption {
	return func(s *Store) { s.logger = logger }
}

// WithStoreClock replaces time.Now for optimistic timestamps and the journal.
func WithStoreClock(now func() time.Time) StoreOption {
	return func(s *Store) { s.now = now }
}

// WithInitialFilters sets the filters used by the first load.
func WithInitialFilters(f SearchFilters) StoreOption {
	return func(s *Store) { s.state.Filters = f }
}

func NewStore(gw Gateway, ownerID uuid.UUID, opts ...StoreOption) *Store {
	s := &Store{
		gw:        gw,
		owner:     ownerID,
		limit:     DefaultLimit,
		logger:    zerolog.Nop(),
		now:       time.Now,
		listeners: make(map[int]func(State)),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.state.Limit = s.limit
	s.state.Templates = []Template{}
	return s
}

// Init performs the first load.
func (s *Store) Init(ctx context.Context) error {
	return s.LoadTemplates(ctx)
}

// Close waits for background usage recordings, drops the gateway cache when
// there is one and detaches all subscribers. Later operations fail with
// ErrStoreClosed.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.bg.Wait()

	s.mu.Lock()
	s.listeners = make(map[int]func(State))
	s.mu.Unlock()

	if c, ok := s.gw.(cacheClearer); ok {
		return c.ClearCache(context.Background())
	}
	return nil
}

// Wait blocks until every background usage recording has settled.
func (s *Store) Wait() {
	s.bg.Wait()
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.clone()
}

// Journal returns a copy of the mutation journal, oldest first.
func (s *Store) Journal() []Mutation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Mutation(nil), s.journal...)
}

// Subscribe registers fn to receive a snapshot after every state change and
// returns a function that removes it. fn runs on the goroutine that made the
// change and must not call back into the store synchronously.
func (s *Store) Subscribe(fn func(State)) func() {
	s.mu.Lock()
	id := s.nextListen
	s.nextListen++
	s.listeners[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// update applies fn under the lock and then notifies subscribers.
func (s *Store) update(fn func(st *State)) {
	s.mu.Lock()
	fn(&s.state)
	snap := s.state.clone()
	listeners := make([]func(State), 0, len(s.listeners))
	for _, l := range s.listeners {
		listeners = append(listeners, l)
	}
	s.mu.Unlock()

	for _, l := range listeners {
		l(snap)
	}
}

// fail records err in the state and returns it.
func (s *Store) fail(op string, err error) error {
	s.logger.Error().Err(err).Str("op", op).Str("kind", string(KindOf(err))).Msg("template store operation failed")
	s.update(func(st *State) { st.Err = err })
	return err
}

func (s *Store) isClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

// begin opens a pending journal entry.
func (s *Store) begin(op Op, id uuid.UUID) uint64 {
	var mid uint64
	s.update(func(st *State) {
		s.nextMutID++
		mid = s.nextMutID
		s.journal = append(s.journal, Mutation{
			ID:         mid,
			Op:         op,
			TemplateID: id,
			Phase:      PhasePending,
			StartedAt:  s.now(),
		})
		if len(s.journal) > maxJournal {
			s.journal = append([]Mutation(nil), s.journal[len(s.journal)-maxJournal:]...)
		}
		st.Pending++
		st.Err = nil
	})
	return mid
}

// settle closes a journal entry. On success apply runs in the same critical
// section; on failure the state is left as it was apart from Err.
func (s *Store) settle(mid uint64, id uuid.UUID, err error, apply func(st *State)) {
	s.update(func(st *State) {
		st.Pending--
		for i := range s.journal {
			if s.journal[i].ID != mid {
				continue
			}
			m := &s.journal[i]
			m.SettledAt = s.now()
			if id != uuid.Nil {
				m.TemplateID = id
			}
			if err != nil {
				m.Phase = PhaseRolledBack
				m.Err = err
			} else {
				m.Phase = PhaseConfirmed
			}
			break
		}
		if err != nil {
			st.Err = err
			return
		}
		apply(st)
	})
	if err != nil {
		s.logger.Error().Err(err).Uint64("mutation", mid).Str("kind", string(KindOf(err))).Msg("template mutation rolled back")
	}
}

// SetFilters replaces the listing filters. The next LoadTemplates uses them.
func (s *Store) SetFilters(f SearchFilters) {
	s.update(func(st *State) { st.Filters = f })
}

// LoadTemplates refreshes the list from the gateway using the current
// filters. Only the most recent load is applied when loads overlap.
func (s *Store) LoadTemplates(ctx context.Context) error {
	if s.isClosed() {
		return ErrStoreClosed
	}
	var seq uint64
	var filters SearchFilters
	s.update(func(st *State) {
		s.loadSeq++
		seq = s.loadSeq
		filters = st.Filters
		st.Loading = true
		st.Err = nil
	})

	res, err := s.gw.List(ctx, s.owner, filters)

	s.update(func(st *State) {
		if seq != s.loadSeq {
			return
		}
		st.Loading = false
		if err != nil {
			st.Err = err
			return
		}
		st.Templates = append([]Template{}, res.Templates...)
		st.TotalCount = res.TotalCount
	})
	if err != nil {
		s.logger.Error().Err(err).Str("kind", string(KindOf(err))).Msg("loading templates failed")
		return err
	}
	return nil
}

// CreateTemplate validates req and creates it through the gateway. When the
// owner is already at the limit it fails with LIMIT_EXCEEDED without calling
// the gateway. On success the template is prepended to the list.
func (s *Store) CreateTemplate(ctx context.Context, req CreateRequest) (*Template, error) {
	if s.isClosed() {
		return nil, ErrStoreClosed
	}
	if s.Snapshot().IsAtLimit() {
		return nil, s.fail("create", NewLimitExceededError(s.limit))
	}
	req = req.Normalize()
	if err := ValidateCreate(req); err != nil {
		return nil, s.fail("create", err)
	}

	mid := s.begin(OpCreate, uuid.Nil)
	t, err := s.gw.Create(ctx, s.owner, req)
	var id uuid.UUID
	if err == nil {
		id = t.ID
	}
	s.settle(mid, id, err, func(st *State) {
		st.Templates = append([]Template{*t}, st.Templates...)
		st.TotalCount++
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

// UpdateTemplate applies a partial update. An update that defines no field
// fails with EMPTY_UPDATE without calling the gateway. The updated template
// replaces its entry in place.
func (s *Store) UpdateTemplate(ctx context.Context, id uuid.UUID, req UpdateRequest) (*Template, error) {
	if s.isClosed() {
		return nil, ErrStoreClosed
	}
	req = req.Normalize()
	if err := ValidateUpdate(req); err != nil {
		return nil, s.fail("update", err)
	}

	mid := s.begin(OpUpdate, id)
	t, err := s.gw.Update(ctx, id, req)
	s.settle(mid, id, err, func(st *State) {
		for i := range st.Templates {
			if st.Templates[i].ID == id {
				st.Templates[i] = *t
				break
			}
		}
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

// DeleteTemplate removes a template. On failure the list is left untouched.
func (s *Store) DeleteTemplate(ctx context.Context, id uuid.UUID) error {
	if s.isClosed() {
		return ErrStoreClosed
	}
	mid := s.begin(OpDelete, id)
	err := s.gw.Delete(ctx, id)
	s.settle(mid, id, err, func(st *State) {
		for i := range st.Templates {
			if st.Templates[i].ID == id {
				st.Templates = append(st.Templates[:i:i], st.Templates[i+1:]...)
				break
			}
		}
		st.TotalCount = max(st.TotalCount-1, 0)
	})
	return err
}

// RecordUsage records one use of a template. Once the gateway confirms, the
// local entry shows the count it had before the call plus one and a
// last-used time taken from the store clock; the next LoadTemplates
// replaces both with server values.
func (s *Store) RecordUsage(ctx context.Context, id uuid.UUID) (*UsageResult, error) {
	if s.isClosed() {
		return nil, ErrStoreClosed
	}
	return s.recordUsage(ctx, id)
}

func (s *Store) recordUsage(ctx context.Context, id uuid.UUID) (*UsageResult, error) {
	var before int
	known := false
	if t, ok := s.Snapshot().Find(id); ok {
		before, known = t.UsageCount, true
	}

	mid := s.begin(OpRecordUsage, id)
	res, err := s.gw.RecordUsage(ctx, id)
	s.settle(mid, id, err, func(st *State) {
		if !known {
			return
		}
		now := s.now()
		for i := range st.Templates {
			if st.Templates[i].ID == id {
				st.Templates[i].UsageCount = before + 1
				st.Templates[i].LastUsedAt = &now
				break
			}
		}
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// UseTemplate returns the composed instruction for a template right away and
// records the usage in the background. The recording outlives ctx
// cancellation; Wait or Close drains it.
func (s *Store) UseTemplate(ctx context.Context, id uuid.UUID) (string, error) {
	if s.isClosed() {
		return "", ErrStoreClosed
	}
	t, ok := s.Snapshot().Find(id)
	if !ok {
		fetched, err := s.gw.Get(ctx, id)
		if err != nil {
			return "", s.fail("use", err)
		}
		t = *fetched
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return "", ErrStoreClosed
	}
	s.bg.Add(1)
	s.mu.Unlock()

	bgCtx := context.WithoutCancel(ctx)
	go func() {
		defer s.bg.Done()
		_, _ = s.recordUsage(bgCtx, id)
	}()

	return ComposeInstruction(t), nil
}

// Stats fetches the owner's usage summary.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	if s.isClosed() {
		return nil, ErrStoreClosed
	}
	st, err := s.gw.Stats(ctx, s.owner)
	if err != nil {
		return nil, s.fail("stats", err)
	}
	return st, nil
}

// ClearError resets State.Err.
func (s *Store) ClearError() {
	s.update(func(st *State) { st.Err = nil })
}

// Find ranks the loaded templates by fuzzy match of query against their
// names, best match first. An empty query returns every template.
func (s *Store) Find(query string) []Template {
	snap := s.Snapshot()
	if query == "" {
		return snap.Templates
	}
	names := make([]string, len(snap.Templates))
	for i, t := range snap.Templates {
		names[i] = t.Name
	}
	matches := fuzzy.Find(query, names)
	out := make([]Template, 0, len(matches))
	for _, m := range matches {
		out = append(out, snap.Templates[m.Index])
	}
	return out
}

// Resolve turns a user-supplied reference into a template: an id is looked
// up locally and then through the gateway, anything else is matched by name.
func (s *Store) Resolve(ctx context.Context, ref string) (*Template, error) {
	if id, err := uuid.Parse(ref); err == nil {
		if t, ok := s.Snapshot().Find(id); ok {
			return &t, nil
		}
		t, err := s.gw.Get(ctx, id)
		if err != nil {
			return nil, s.fail("resolve", err)
		}
		return t, nil
	}
	matches := s.Find(ref)
	if len(matches) == 0 {
		return nil, s.fail("resolve", &Error{Kind: KindNotFound, Message: "no template matches " + ref})
	}
	return &matches[0], nil
}
