package identity

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fakeSaver struct {
	mu       sync.Mutex
	requests int
	flushes  int
	err      error
}

func (f *fakeSaver) Request() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests++
	return uint64(f.requests)
}

func (f *fakeSaver) Flush(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flushes++
	return f.err
}

type fakeSummarizer struct {
	mu       sync.Mutex
	rel      string
	conv     string
	changed  bool
	err      error
	merged   Summaries
	mergeErr error
	updates  int
	merges   int
}

func (f *fakeSummarizer) UpdateSummaries(ctx context.Context, st *UserState) (string, string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates++
	return f.rel, f.conv, f.changed, f.err
}

func (f *fakeSummarizer) MergeSummaries(ctx context.Context, a, b Summaries) (Summaries, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.merges++
	return f.merged, f.mergeErr
}

func newTestStore(t *testing.T, clock *fakeClock) *Store {
	t.Helper()
	n := 0
	return NewStore(
		WithClock(clock.Now),
		WithIDFunc(func() string {
			n++
			return fmt.Sprintf("id-%d", n)
		}),
	)
}

func addMessages(t *testing.T, s *Store, st *UserState, clock *fakeClock, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		clock.Advance(time.Second)
		s.AddMessage(st, fmt.Sprintf("message %d", i), false, st.PrimaryName)
	}
}
