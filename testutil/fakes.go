// Package testutil holds fakes shared by package tests: a settable clock,
// summarizers, a recording saver, and a mock Helix server.
package testutil

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/onnwee/ghostbot/identity"
)

// Clock is a manually advanced clock.
type Clock struct {
	mu sync.Mutex
	t  time.Time
}

// NewClock starts at a fixed instant.
func NewClock() *Clock {
	return &Clock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// Summarizer records calls and returns canned summaries.
type Summarizer struct {
	mu      sync.Mutex
	Updates int
	Merges  int

	Relationship string
	Conversation string
	Unchanged    bool
}

func (s *Summarizer) UpdateSummaries(ctx context.Context, st *identity.UserState) (string, string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Updates++
	rel, conv := s.Relationship, s.Conversation
	if rel == "" {
		rel = "knows " + st.PrimaryName
	}
	if conv == "" && len(st.RecentMessages) > 0 {
		conv = st.RecentMessages[len(st.RecentMessages)-1].Content
	}
	return rel, conv, !s.Unchanged, nil
}

func (s *Summarizer) MergeSummaries(ctx context.Context, a, b identity.Summaries) (identity.Summaries, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Merges++
	return identity.Summaries{
		Relationship:     a.Relationship + " / " + b.Relationship,
		LastConversation: a.LastConversation + " / " + b.LastConversation,
	}, nil
}

// Calls returns the update and merge counts.
func (s *Summarizer) Calls() (updates, merges int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Updates, s.Merges
}

// ErrCollaborator is returned by FailingSummarizer.
var ErrCollaborator = errors.New("summarizer unavailable")

// FailingSummarizer fails every call.
type FailingSummarizer struct{}

func (FailingSummarizer) UpdateSummaries(context.Context, *identity.UserState) (string, string, bool, error) {
	return "", "", false, ErrCollaborator
}

func (FailingSummarizer) MergeSummaries(context.Context, identity.Summaries, identity.Summaries) (identity.Summaries, error) {
	return identity.Summaries{}, ErrCollaborator
}

// Saver counts save requests; Flush returns Err.
type Saver struct {
	mu       sync.Mutex
	requests int
	flushes  int
	Err      error
}

func (s *Saver) Request() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests++
	return uint64(s.requests)
}

func (s *Saver) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flushes++
	return s.Err
}

// Requests returns how many saves were requested (flushes included).
func (s *Saver) Requests() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests + s.flushes
}
