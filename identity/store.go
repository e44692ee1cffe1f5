package identity

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/onnwee/ghostbot/apperr"
	"github.com/onnwee/ghostbot/keylock"
	"github.com/onnwee/ghostbot/telemetry"
)

// Store is the identity arena: records by id, an alias -> id index, and the
// pending link requests. The index lock (mu) is never held while waiting on a
// per-identity lock; per-identity locks are always taken first.
type Store struct {
	mu      sync.RWMutex
	records map[string]*UserState
	order   []string // record ids in creation order
	aliases map[string]string
	pending map[string]string // lowercased secondary username -> primary alias key

	locks keylock.Table

	now       func() time.Time
	newID     func() string
	recentCap int
}

// Option configures a Store.
type Option func(*Store)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithIDFunc replaces the record id generator.
func WithIDFunc(f func() string) Option {
	return func(s *Store) { s.newID = f }
}

// WithRecentCap bounds each conversation window to n messages; 0 leaves it unbounded.
func WithRecentCap(n int) Option {
	return func(s *Store) { s.recentCap = n }
}

// NewStore returns an empty store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		records: make(map[string]*UserState),
		aliases: make(map[string]string),
		pending: make(map[string]string),
		now:     time.Now,
		newID:   uuid.NewString,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Now returns the store's clock reading.
func (s *Store) Now() time.Time { return s.now() }

// Lookup returns the record an alias points at. It never creates records.
func (s *Store) Lookup(platform, userID string) (*UserState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.aliases[AliasKey(platform, userID)]
	if !ok {
		return nil, false
	}
	st, ok := s.records[id]
	return st, ok
}

// Len is the number of distinct identities.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Aliases is the number of alias keys in the index.
func (s *Store) Aliases() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.aliases)
}

// View returns a deep copy of st. Hold st's identity lock for a consistent
// conversation window.
func (s *Store) View(st *UserState) *UserState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return st.Clone()
}

// Lock acquires the identity lock of the record behind platform/userID. The
// alias is re-checked after locking since a confirm may have repointed it.
func (s *Store) Lock(ctx context.Context, platform, userID string) (*UserState, func(), error) {
	key := AliasKey(platform, userID)
	for {
		s.mu.RLock()
		id, ok := s.aliases[key]
		s.mu.RUnlock()
		if !ok {
			return nil, nil, apperr.NotFound("identity.lock", "no identity for %s", key)
		}
		unlock, err := s.locks.Lock(ctx, id)
		if err != nil {
			return nil, nil, err
		}
		s.mu.RLock()
		cur := s.aliases[key]
		st := s.records[id]
		s.mu.RUnlock()
		if cur == id && st != nil && !st.retired {
			return st, unlock, nil
		}
		unlock()
	}
}

// LockID acquires the identity lock of a record by arena id.
func (s *Store) LockID(ctx context.Context, id string) (*UserState, func(), error) {
	unlock, err := s.locks.Lock(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	s.mu.RLock()
	st := s.records[id]
	s.mu.RUnlock()
	if st == nil || st.retired {
		unlock()
		return nil, nil, apperr.NotFound("identity.lock", "identity %s no longer exists", id)
	}
	return st, unlock, nil
}

// AddMessage appends one message to st's window. The caller holds st's identity lock.
func (s *Store) AddMessage(st *UserState, content string, fromBot bool, username string) {
	st.appendMessage(Message{
		Content:   content,
		FromBot:   fromBot,
		Username:  username,
		Timestamp: s.now(),
	}, s.recentCap)
}

// register adds st to the arena under its own alias keys. Caller holds mu.
func (s *Store) register(st *UserState) {
	s.records[st.ID] = st
	s.order = append(s.order, st.ID)
	for _, k := range st.AliasKeys() {
		s.aliases[k] = st.ID
	}
}

// retire drops a record absorbed by another. Caller holds mu.
func (s *Store) retire(id string) {
	if st, ok := s.records[id]; ok {
		st.retired = true
	}
	delete(s.records, id)
	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

func (s *Store) publish() {
	telemetry.SetIdentities(len(s.records))
}

// PendingFor returns the primary alias key waiting on secondaryUsername.
func (s *Store) PendingFor(secondaryUsername string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	k, ok := s.pending[strings.ToLower(secondaryUsername)]
	return k, ok
}

// PendingCount is the number of outstanding link requests.
func (s *Store) PendingCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.pending)
}

// sortedOrder returns records in creation order. Caller holds mu.
func (s *Store) sortedOrder() []*UserState {
	out := make([]*UserState, 0, len(s.order))
	for _, id := range s.order {
		if st, ok := s.records[id]; ok {
			out = append(out, st)
		}
	}
	return out
}

// IDs lists record ids in creation order.
func (s *Store) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.order...)
}

func sortMessages(msgs []Message) {
	sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].Timestamp.Before(msgs[j].Timestamp) })
}

func logger() *slog.Logger {
	return slog.Default().With(slog.String("component", "identity"))
}
