package identity

import (
	"context"
	"log/slog"
	"time"

	"github.com/onnwee/ghostbot/apperr"
	"github.com/onnwee/ghostbot/telemetry"
)

// Summarizer is the text collaborator that digests conversations.
type Summarizer interface {
	// UpdateSummaries proposes new summaries for a snapshot of st. changed reports
	// whether the proposal differs meaningfully from the stored pair.
	UpdateSummaries(ctx context.Context, st *UserState) (relationship, conversation string, changed bool, err error)
	// MergeSummaries combines the summaries of two records of the same person.
	MergeSummaries(ctx context.Context, a, b Summaries) (Summaries, error)
}

// Phase is the summary lifecycle position of a record.
type Phase int

const (
	PhaseFresh Phase = iota
	PhaseAccumulating
	PhaseDue
	PhaseUpdated
)

func (p Phase) String() string {
	switch p {
	case PhaseFresh:
		return "fresh"
	case PhaseAccumulating:
		return "accumulating"
	case PhaseDue:
		return "due"
	case PhaseUpdated:
		return "updated"
	}
	return "unknown"
}

// SummaryPolicy decides when summaries are due and how much history survives an update.
type SummaryPolicy struct {
	MessageThreshold int
	MaxAge           time.Duration
	KeepMessages     int
}

// DefaultSummaryPolicy is six messages or thirty minutes, keeping the last three messages.
var DefaultSummaryPolicy = SummaryPolicy{MessageThreshold: 6, MaxAge: 30 * time.Minute, KeepMessages: 3}

// MessagesSinceUpdate counts window entries newer than the last summary update.
func (st *UserState) MessagesSinceUpdate() int {
	n := 0
	for _, m := range st.RecentMessages {
		if m.Timestamp.After(st.Summaries.LastUpdated) {
			n++
		}
	}
	return n
}

// Phase classifies st at now. The caller holds st's identity lock.
func (p SummaryPolicy) Phase(st *UserState, now time.Time) Phase {
	since := st.MessagesSinceUpdate()
	if since >= p.MessageThreshold || now.Sub(st.Summaries.LastUpdated) > p.MaxAge {
		return PhaseDue
	}
	if since == 0 {
		if st.SummaryRevision == 0 {
			return PhaseFresh
		}
		return PhaseUpdated
	}
	return PhaseAccumulating
}

// SummaryOutcome is the result of one summary refresh attempt.
type SummaryOutcome int

const (
	SummaryNotDue SummaryOutcome = iota
	SummaryUpdated
	SummaryUnchanged
	SummaryInvalid
	SummaryFailed
)

// Message is the user-facing report of the outcome.
func (o SummaryOutcome) Message() string {
	switch o {
	case SummaryUpdated:
		return "Summary updated successfully!"
	case SummaryUnchanged:
		return "No significant changes detected."
	case SummaryInvalid:
		return "Failed to generate valid summaries."
	case SummaryFailed:
		return "Error updating summaries."
	}
	return "No summary update needed."
}

// RefreshLocked runs the DUE transition on st when due, or unconditionally when
// force is set. The caller holds st's identity lock. A collaborator error leaves
// st untouched and is returned as apperr.KindCollaborator.
func (c *Coordinator) RefreshLocked(ctx context.Context, st *UserState, force bool) (SummaryOutcome, error) {
	now := c.store.now()
	if !force && c.policy.Phase(st, now) != PhaseDue {
		return SummaryNotDue, nil
	}
	if c.summarizer == nil {
		return SummaryNotDue, nil
	}

	snap := c.store.View(st)
	var (
		rel, conv string
		changed   bool
		err       error
	)
	telemetry.TimeFunc(telemetry.SummaryDuration, func() {
		rel, conv, changed, err = c.summarizer.UpdateSummaries(ctx, snap)
	})
	log := logger().With(slog.String("identity", st.ID))
	if err != nil {
		telemetry.CountSummaryUpdate("failed")
		log.Warn("summary update failed", slog.Any("err", err))
		return SummaryFailed, apperr.Wrap(apperr.KindCollaborator, "summary.update", err)
	}
	if rel == "" || conv == "" {
		telemetry.CountSummaryUpdate("failed")
		return SummaryInvalid, nil
	}
	if !changed {
		telemetry.CountSummaryUpdate("unchanged")
		return SummaryUnchanged, nil
	}

	st.Summaries = Summaries{Relationship: rel, LastConversation: conv, LastUpdated: now}
	st.SummaryRevision++
	if keep := c.policy.KeepMessages; len(st.RecentMessages) > keep {
		st.RecentMessages = append([]Message(nil), st.RecentMessages[len(st.RecentMessages)-keep:]...)
	}
	st.MessageCount = 0
	telemetry.CountSummaryUpdate("updated")
	log.Info("summaries updated", slog.Int("revision", st.SummaryRevision))
	return SummaryUpdated, nil
}

// ForceRefresh locks the identity behind platform/userID and refreshes its summaries
// regardless of thresholds.
func (c *Coordinator) ForceRefresh(ctx context.Context, platform, userID string) (SummaryOutcome, error) {
	st, unlock, err := c.store.Lock(ctx, platform, userID)
	if err != nil {
		return SummaryNotDue, err
	}
	out, err := c.RefreshLocked(ctx, st, true)
	unlock()
	if out == SummaryUpdated {
		c.saver.Request()
	}
	return out, err
}
