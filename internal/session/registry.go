package session

import (
	"context"
	"fmt"
	"math/rand/v2"
	"slices"
	"sort"
	"sync"

	"bunny-chatter/internal/logging"
)

// Registry is the in-memory index over a Store. Mutations for one user key
// are serialized by a per-key mutex; different users proceed in parallel.
// Every mutation writes the full mapping through to the store before it
// returns.
type Registry struct {
	store      Store
	accountTag string
	maxTurns   int
	namer      func() string
	log        *logging.Logger

	mu      sync.RWMutex
	records map[string]*Record
	gen     uint64

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	persistMu sync.Mutex
	savedGen  uint64
}

type Option func(*Registry)

// WithMaxTurns caps the stored history. The cap is enforced when an
// assistant turn is appended, dropping the oldest turns; a user turn awaiting
// its reply may exceed it by one. That way discarding a failed user turn
// restores the history exactly. Zero means unbounded.
func WithMaxTurns(n int) Option {
	return func(r *Registry) { r.maxTurns = n }
}

// WithNamer replaces the placeholder nickname generator.
func WithNamer(f func() string) Option {
	return func(r *Registry) { r.namer = f }
}

func WithLogger(l *logging.Logger) Option {
	return func(r *Registry) { r.log = l }
}

// PlaceholderNickname returns "Bunny" followed by a random three digit number.
func PlaceholderNickname() string {
	return fmt.Sprintf("Bunny%d", 100+rand.IntN(900))
}

// NewRegistry loads every record from store and returns a registry over them.
func NewRegistry(ctx context.Context, store Store, accountTag string, opts ...Option) (*Registry, error) {
	r := &Registry{
		store:      store,
		accountTag: accountTag,
		namer:      PlaceholderNickname,
		log:        logging.Nop(),
		records:    make(map[string]*Record),
		locks:      make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(r)
	}

	loaded, err := store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load sessions: %w", err)
	}
	for key, rec := range loaded {
		rec := rec.Clone()
		rec.UserKey = key
		r.records[key] = &rec
	}
	r.log.Info().Int("sessions", len(r.records)).Msg("sessions loaded")
	return r, nil
}

// GetOrCreate returns the record for key, creating it on first sight. The
// nickname is the suggested one, or a placeholder when that is empty.
func (r *Registry) GetOrCreate(ctx context.Context, key, suggestedNickname string) (Record, error) {
	unlock := r.lock(key)
	defer unlock()

	if rec, ok := r.lookup(key); ok {
		return rec.Clone(), nil
	}

	nickname := suggestedNickname
	if nickname == "" {
		nickname = r.namer()
	}
	rec := &Record{
		UserKey:    key,
		Nickname:   nickname,
		AccountTag: r.accountTag,
		History:    []Turn{},
	}
	r.log.Info().Str("user", key).Str("nickname", nickname).Msg("session created")
	return rec.Clone(), r.commit(ctx, "create", rec)
}

// AppendTurn adds a turn at the end of the user's history.
func (r *Registry) AppendTurn(ctx context.Context, key string, role Role, content string) error {
	if !role.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}

	unlock := r.lock(key)
	defer unlock()

	cur, ok := r.lookup(key)
	if !ok {
		return fmt.Errorf("append turn: %w: %s", ErrUnknownUser, key)
	}

	next := *cur
	next.History = append(slices.Clone(cur.History), Turn{Role: role, Content: content})
	if role == RoleAssistant && r.maxTurns > 0 && len(next.History) > r.maxTurns {
		next.History = slices.Clone(next.History[len(next.History)-r.maxTurns:])
	}
	return r.commit(ctx, "append", &next)
}

// DiscardLastTurn removes the newest turn if it equals want. It reports
// whether a turn was removed; an unknown user or a different last turn is
// left alone.
func (r *Registry) DiscardLastTurn(ctx context.Context, key string, want Turn) (bool, error) {
	unlock := r.lock(key)
	defer unlock()

	cur, ok := r.lookup(key)
	if !ok || len(cur.History) == 0 || cur.History[len(cur.History)-1] != want {
		return false, nil
	}

	next := *cur
	next.History = slices.Clone(cur.History[:len(cur.History)-1])
	return true, r.commit(ctx, "discard", &next)
}

// ResetHistory clears the user's history and keeps the identity fields.
// Unknown users are a no-op.
func (r *Registry) ResetHistory(ctx context.Context, key string) error {
	unlock := r.lock(key)
	defer unlock()

	cur, ok := r.lookup(key)
	if !ok {
		return nil
	}

	next := *cur
	next.History = []Turn{}
	r.log.Info().Str("user", key).Int("dropped", len(cur.History)).Msg("history reset")
	return r.commit(ctx, "reset", &next)
}

// Get returns a copy of the record for key.
func (r *Registry) Get(key string) (Record, bool) {
	rec, ok := r.lookup(key)
	if !ok {
		return Record{}, false
	}
	return rec.Clone(), true
}

// List returns copies of all records ordered by user key.
func (r *Registry) List() []Record {
	r.mu.RLock()
	out := make([]Record, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, rec.Clone())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].UserKey < out[j].UserKey })
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}

func (r *Registry) lookup(key string) (*Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[key]
	return rec, ok
}

func (r *Registry) lock(key string) func() {
	r.locksMu.Lock()
	mu, ok := r.locks[key]
	if !ok {
		mu = &sync.Mutex{}
		r.locks[key] = mu
	}
	r.locksMu.Unlock()

	mu.Lock()
	return mu.Unlock
}

// commit installs rec and writes the whole mapping through. Stored records
// are never modified in place, so the snapshot can share their slices.
// Snapshots are numbered; a save older than one already written is skipped
// because the newer snapshot contains it.
func (r *Registry) commit(ctx context.Context, op string, rec *Record) error {
	r.mu.Lock()
	r.records[rec.UserKey] = rec
	r.gen++
	gen := r.gen
	snap := make(map[string]Record, len(r.records))
	for k, v := range r.records {
		snap[k] = *v
	}
	r.mu.Unlock()

	r.persistMu.Lock()
	defer r.persistMu.Unlock()
	if gen <= r.savedGen {
		return nil
	}
	if err := r.store.Save(context.WithoutCancel(ctx), snap); err != nil {
		r.log.Warn().Err(err).Str("user", rec.UserKey).Str("op", op).Msg("session store write failed; change kept in memory")
		return &PersistenceError{Op: op, UserKey: rec.UserKey, Err: err}
	}
	r.savedGen = gen
	return nil
}
