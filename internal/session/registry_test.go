package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu      sync.Mutex
	data    map[string]Record
	saves   int
	failErr error
}

func (m *memStore) Load(ctx context.Context) (map[string]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]Record, len(m.data))
	for k, v := range m.data {
		out[k] = v.Clone()
	}
	return out, nil
}

func (m *memStore) Save(ctx context.Context, records map[string]Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return m.failErr
	}
	m.saves++
	m.data = make(map[string]Record, len(records))
	for k, v := range records {
		m.data[k] = v.Clone()
	}
	return nil
}

func (m *memStore) saved(key string) (Record, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.data[key]
	return r, ok
}

func newTestRegistry(t *testing.T, store *memStore, opts ...Option) *Registry {
	t.Helper()
	opts = append([]Option{WithNamer(func() string { return "Bunny123" })}, opts...)
	reg, err := NewRegistry(context.Background(), store, "tag", opts...)
	require.NoError(t, err)
	return reg
}

func TestGetOrCreate_CreatesOnceAndPersists(t *testing.T) {
	store := &memStore{}
	reg := newTestRegistry(t, store)
	ctx := context.Background()

	rec, err := reg.GetOrCreate(ctx, "42", "Alice")
	require.NoError(t, err)
	assert.Equal(t, "42", rec.UserKey)
	assert.Equal(t, "Alice", rec.Nickname)
	assert.Equal(t, "tag", rec.AccountTag)
	assert.Empty(t, rec.History)
	assert.Equal(t, 1, store.saves)

	again, err := reg.GetOrCreate(ctx, "42", "Someone Else")
	require.NoError(t, err)
	assert.Equal(t, rec, again, "first seen nickname wins")
	assert.Equal(t, 1, store.saves, "existing session must not be rewritten")
	assert.Equal(t, 1, reg.Len())
}

func TestGetOrCreate_PlaceholderNickname(t *testing.T) {
	reg := newTestRegistry(t, &memStore{})
	rec, err := reg.GetOrCreate(context.Background(), "7", "")
	require.NoError(t, err)
	assert.Equal(t, "Bunny123", rec.Nickname)
}

func TestPlaceholderNicknameShape(t *testing.T) {
	for i := 0; i < 100; i++ {
		var n int
		_, err := fmt.Sscanf(PlaceholderNickname(), "Bunny%d", &n)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, n, 100)
		assert.LessOrEqual(t, n, 999)
	}
}

func TestGetOrCreate_ConcurrentCallsCreateOneRecord(t *testing.T) {
	store := &memStore{}
	reg := newTestRegistry(t, store)

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := reg.GetOrCreate(context.Background(), "same", fmt.Sprintf("nick%d", i))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, reg.Len())
	assert.Equal(t, 1, store.saves)
}

func TestAppendTurn_OrderAndWriteThrough(t *testing.T) {
	store := &memStore{}
	reg := newTestRegistry(t, store)
	ctx := context.Background()

	_, err := reg.GetOrCreate(ctx, "u", "U")
	require.NoError(t, err)
	require.NoError(t, reg.AppendTurn(ctx, "u", RoleUser, "hi"))
	require.NoError(t, reg.AppendTurn(ctx, "u", RoleAssistant, "hello"))
	require.NoError(t, reg.AppendTurn(ctx, "u", RoleUser, ""))

	want := []Turn{{RoleUser, "hi"}, {RoleAssistant, "hello"}, {RoleUser, ""}}
	rec, ok := reg.Get("u")
	require.True(t, ok)
	assert.Equal(t, want, rec.History)

	saved, ok := store.saved("u")
	require.True(t, ok)
	assert.Equal(t, want, saved.History)
	assert.Equal(t, 4, store.saves)
}

func TestAppendTurn_UnknownUser(t *testing.T) {
	reg := newTestRegistry(t, &memStore{})
	err := reg.AppendTurn(context.Background(), "ghost", RoleUser, "boo")
	assert.ErrorIs(t, err, ErrUnknownUser)
}

func TestAppendTurn_InvalidRole(t *testing.T) {
	reg := newTestRegistry(t, &memStore{})
	_, err := reg.GetOrCreate(context.Background(), "u", "U")
	require.NoError(t, err)
	err = reg.AppendTurn(context.Background(), "u", Role("system"), "x")
	assert.ErrorIs(t, err, ErrInvalidRole)
}

func TestAppendTurn_RetentionCap(t *testing.T) {
	reg := newTestRegistry(t, &memStore{}, WithMaxTurns(4))
	ctx := context.Background()
	_, err := reg.GetOrCreate(ctx, "u", "U")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, reg.AppendTurn(ctx, "u", RoleUser, fmt.Sprint("q", i)))
		require.NoError(t, reg.AppendTurn(ctx, "u", RoleAssistant, fmt.Sprint("a", i)))
	}
	rec, _ := reg.Get("u")
	require.Len(t, rec.History, 4)
	assert.Equal(t, "q1", rec.History[0].Content)
	assert.Equal(t, "a2", rec.History[3].Content)
}

func TestAppendTurn_CapWaitsForReply(t *testing.T) {
	reg := newTestRegistry(t, &memStore{}, WithMaxTurns(2))
	ctx := context.Background()
	_, err := reg.GetOrCreate(ctx, "u", "U")
	require.NoError(t, err)
	require.NoError(t, reg.AppendTurn(ctx, "u", RoleUser, "q0"))
	require.NoError(t, reg.AppendTurn(ctx, "u", RoleAssistant, "a0"))
	before, _ := reg.Get("u")

	require.NoError(t, reg.AppendTurn(ctx, "u", RoleUser, "q1"))
	pending, _ := reg.Get("u")
	assert.Len(t, pending.History, 3)

	removed, err := reg.DiscardLastTurn(ctx, "u", Turn{RoleUser, "q1"})
	require.NoError(t, err)
	require.True(t, removed)
	after, _ := reg.Get("u")
	assert.Equal(t, before.History, after.History)
}

func TestResetHistory(t *testing.T) {
	store := &memStore{}
	reg := newTestRegistry(t, store)
	ctx := context.Background()

	_, err := reg.GetOrCreate(ctx, "u", "Nick")
	require.NoError(t, err)
	require.NoError(t, reg.AppendTurn(ctx, "u", RoleUser, "hi"))

	require.NoError(t, reg.ResetHistory(ctx, "u"))
	rec, _ := reg.Get("u")
	assert.Empty(t, rec.History)
	assert.Equal(t, "Nick", rec.Nickname)
	assert.Equal(t, "tag", rec.AccountTag)

	saved, _ := store.saved("u")
	assert.Empty(t, saved.History)

	saves := store.saves
	assert.NoError(t, reg.ResetHistory(ctx, "nobody"))
	assert.Equal(t, saves, store.saves)
	assert.Equal(t, 1, reg.Len())
}

func TestDiscardLastTurn(t *testing.T) {
	reg := newTestRegistry(t, &memStore{})
	ctx := context.Background()
	_, err := reg.GetOrCreate(ctx, "u", "U")
	require.NoError(t, err)
	require.NoError(t, reg.AppendTurn(ctx, "u", RoleUser, "a"))

	removed, err := reg.DiscardLastTurn(ctx, "u", Turn{RoleUser, "other"})
	require.NoError(t, err)
	assert.False(t, removed)

	removed, err = reg.DiscardLastTurn(ctx, "u", Turn{RoleUser, "a"})
	require.NoError(t, err)
	assert.True(t, removed)

	rec, _ := reg.Get("u")
	assert.Empty(t, rec.History)

	removed, err = reg.DiscardLastTurn(ctx, "ghost", Turn{RoleUser, "a"})
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestPersistenceFailureKeepsMemoryState(t *testing.T) {
	store := &memStore{}
	reg := newTestRegistry(t, store)
	ctx := context.Background()
	_, err := reg.GetOrCreate(ctx, "u", "U")
	require.NoError(t, err)

	store.failErr = errors.New("disk full")
	err = reg.AppendTurn(ctx, "u", RoleUser, "hi")
	require.Error(t, err)
	assert.True(t, IsPersistence(err))
	var pe *PersistenceError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "append", pe.Op)

	rec, _ := reg.Get("u")
	assert.Len(t, rec.History, 1)

	store.failErr = nil
	require.NoError(t, reg.AppendTurn(ctx, "u", RoleAssistant, "hello"))
	saved, _ := store.saved("u")
	assert.Len(t, saved.History, 2, "next successful save catches up")
}

func TestNewRegistryLoadsExisting(t *testing.T) {
	store := &memStore{data: map[string]Record{
		"9": {Nickname: "Old", AccountTag: "prev", History: []Turn{{RoleUser, "x"}}},
	}}
	reg := newTestRegistry(t, store)

	rec, ok := reg.Get("9")
	require.True(t, ok)
	assert.Equal(t, "9", rec.UserKey)
	assert.Equal(t, "prev", rec.AccountTag)
	assert.Len(t, rec.History, 1)
}

func TestGetReturnsCopy(t *testing.T) {
	reg := newTestRegistry(t, &memStore{})
	ctx := context.Background()
	_, err := reg.GetOrCreate(ctx, "u", "U")
	require.NoError(t, err)
	require.NoError(t, reg.AppendTurn(ctx, "u", RoleUser, "hello"))

	rec, _ := reg.Get("u")
	rec.History[0].Content = "mutated"

	again, _ := reg.Get("u")
	assert.Equal(t, "hello", again.History[0].Content)
}

func TestConcurrentUsersDoNotLoseTurns(t *testing.T) {
	store := &memStore{}
	reg := newTestRegistry(t, store)
	ctx := context.Background()

	const users, turns = 8, 25
	var wg sync.WaitGroup
	for u := 0; u < users; u++ {
		key := fmt.Sprint(u)
		_, err := reg.GetOrCreate(ctx, key, "")
		require.NoError(t, err)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < turns; i++ {
				assert.NoError(t, reg.AppendTurn(ctx, key, RoleUser, fmt.Sprint(i)))
			}
		}()
	}
	wg.Wait()

	for _, rec := range reg.List() {
		require.Len(t, rec.History, turns)
		for i, turn := range rec.History {
			assert.Equal(t, fmt.Sprint(i), turn.Content)
		}
		saved, ok := store.saved(rec.UserKey)
		require.True(t, ok)
		assert.Len(t, saved.History, turns, "final snapshot must contain every user's last turn")
	}
}
