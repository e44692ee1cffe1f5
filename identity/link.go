package identity

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/onnwee/ghostbot/apperr"
	"github.com/onnwee/ghostbot/telemetry"
)

var errEmptyMerge = errors.New("merged summaries are empty")

// Link confirmation messages.
const (
	LinkedMessage        = "Accounts successfully linked! Conversation history and summaries have been merged."
	LinkedPartialMessage = "Accounts linked, but summaries could not be merged. Existing summaries were kept."
	NoPendingMessage     = "No pending link request found"
)

// Saver persists the aggregate. Request is fire-and-forget; Flush waits for durability.
type Saver interface {
	Request() uint64
	Flush(ctx context.Context) error
}

// Coordinator owns the multi-record operations: explicit linking, merging,
// unlinking and summary refresh.
type Coordinator struct {
	store      *Store
	summarizer Summarizer
	saver      Saver
	policy     SummaryPolicy
}

// NewCoordinator wires a coordinator. summarizer may be nil, which disables
// summary refresh and merges keep the primary's summaries.
func NewCoordinator(store *Store, summarizer Summarizer, saver Saver, policy SummaryPolicy) *Coordinator {
	if policy.MessageThreshold <= 0 {
		policy.MessageThreshold = DefaultSummaryPolicy.MessageThreshold
	}
	if policy.MaxAge <= 0 {
		policy.MaxAge = DefaultSummaryPolicy.MaxAge
	}
	if policy.KeepMessages <= 0 {
		policy.KeepMessages = DefaultSummaryPolicy.KeepMessages
	}
	return &Coordinator{store: store, summarizer: summarizer, saver: saver, policy: policy}
}

// Store returns the underlying arena.
func (c *Coordinator) Store() *Store { return c.store }

// Policy returns the summary policy in effect.
func (c *Coordinator) Policy() SummaryPolicy { return c.policy }

// CreateLinkRequest records that the account primaryPlatform/primaryUserID wants to
// link the account named secondaryUsername. The request is persisted before
// returning; on a persistence failure it is withdrawn again.
func (c *Coordinator) CreateLinkRequest(ctx context.Context, primaryPlatform, primaryUserID, secondaryUsername string) error {
	name := strings.ToLower(strings.TrimSpace(secondaryUsername))
	if name == "" {
		return apperr.Validation("link.request", "secondary username is required")
	}
	primary := AliasKey(primaryPlatform, primaryUserID)

	s := c.store
	s.mu.Lock()
	prev, hadPrev := s.pending[name]
	s.pending[name] = primary
	s.mu.Unlock()

	if err := c.saver.Flush(ctx); err != nil {
		s.mu.Lock()
		if s.pending[name] == primary {
			if hadPrev {
				s.pending[name] = prev
			} else {
				delete(s.pending, name)
			}
		}
		s.mu.Unlock()
		if apperr.KindOf(err) == apperr.KindUnknown {
			err = apperr.Wrap(apperr.KindPersistence, "link.request", err)
		}
		return err
	}
	logger().Info("link request created", slog.String("primary", primary), slog.String("secondary", name))
	return nil
}

// LinkResult describes a confirmed link.
type LinkResult struct {
	State *UserState
	// Merged is set when a separate record of the secondary account was absorbed.
	Merged bool
	// Partial is set when summaries could not be merged and the primary's were kept.
	Partial bool
	Message string
}

// ConfirmLink completes the pending request addressed to secondaryUsername from the
// secondary account itself. Afterwards both accounts resolve to the same record.
// On error nothing is mutated and the request stays pending.
func (c *Coordinator) ConfirmLink(ctx context.Context, secondaryPlatform, secondaryUserID, secondaryUsername string) (LinkResult, error) {
	s := c.store
	name := strings.ToLower(strings.TrimSpace(secondaryUsername))
	secondaryPlatform = strings.ToLower(secondaryPlatform)
	secKey := AliasKey(secondaryPlatform, secondaryUserID)

	for {
		s.mu.RLock()
		primaryKey, ok := s.pending[name]
		primaryID, primaryOK := s.aliases[primaryKey]
		secID, secOK := s.aliases[secKey]
		s.mu.RUnlock()
		if !ok {
			return LinkResult{}, apperr.NotFound("link.confirm", NoPendingMessage)
		}
		if !primaryOK {
			return LinkResult{}, apperr.NotFound("link.confirm", "primary user %s not found", primaryKey)
		}

		ids := []string{primaryID}
		if secOK {
			ids = append(ids, secID)
		}
		unlock, err := s.locks.LockMany(ctx, ids...)
		if err != nil {
			return LinkResult{}, err
		}

		s.mu.RLock()
		stale := s.pending[name] != primaryKey || s.aliases[primaryKey] != primaryID
		curSec, curSecOK := s.aliases[secKey]
		stale = stale || curSecOK != secOK || curSec != secID
		primary := s.records[primaryID]
		var secondary *UserState
		if secOK && secID != primaryID {
			secondary = s.records[secID]
		}
		s.mu.RUnlock()
		if stale || primary == nil {
			unlock()
			continue
		}
		if p, conflict := linkConflict(primary, secondary, secondaryPlatform, secondaryUserID); conflict {
			unlock()
			return LinkResult{}, apperr.Validation("link.confirm", "%s already has a different %s account linked", primary.PrimaryName, p)
		}

		spanCtx, span := telemetry.StartSpan(ctx, "identity", "confirm-link",
			telemetry.PlatformAttr(secondaryPlatform), telemetry.IdentityAttr(primaryID))
		res := c.link(spanCtx, primary, secondary, name, secondaryPlatform, secondaryUserID, secondaryUsername)
		telemetry.Finish(span, nil)
		unlock()
		c.saver.Request()
		return res, nil
	}
}

// link performs the confirmed merge with both identity locks held.
func (c *Coordinator) link(ctx context.Context, primary, secondary *UserState, pendingName, platform, userID, username string) LinkResult {
	s := c.store
	res := LinkResult{State: primary, Message: LinkedMessage}

	summaries := primary.Summaries
	if secondary != nil {
		merged, ok, err := mergeSummaries(ctx, c.summarizer, primary, secondary)
		if !ok {
			res.Partial = true
			res.Message = LinkedPartialMessage
			logger().Warn("summary merge failed, keeping primary summaries",
				slog.String("identity", primary.ID),
				slog.Any("err", apperr.Wrap(apperr.KindCollaborator, "link.merge", err)))
		}
		summaries = merged
		res.Merged = true
	}

	s.mu.Lock()
	if secondary != nil {
		absorb(primary, secondary, summaries)
		for k, id := range s.aliases {
			if id == secondary.ID {
				s.aliases[k] = primary.ID
			}
		}
		s.retire(secondary.ID)
	}
	nickname := ""
	if prev, ok := primary.Identifiers[platform]; ok && prev.UserID == userID {
		nickname = prev.Nickname
	}
	primary.linkPlatform(platform, userID, username, nickname)
	s.aliases[AliasKey(platform, userID)] = primary.ID
	delete(s.pending, pendingName)
	s.publish()
	s.mu.Unlock()

	telemetry.CountLinkConfirmed()
	if res.Merged {
		telemetry.CountMerge(res.Partial)
	}
	logger().Info("accounts linked",
		slog.String("identity", primary.ID),
		slog.String("platform", platform),
		slog.Bool("merged", res.Merged),
		slog.Bool("partial", res.Partial))
	return res
}

// Unlink splits a linked identity back into one record per platform. The record
// keeps its home platform; every other platform gets a new record seeded with a
// copy of the window, summaries and message count.
func (c *Coordinator) Unlink(ctx context.Context, platform, userID string) ([]*UserState, error) {
	s := c.store
	st, unlock, err := s.Lock(ctx, platform, userID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	s.mu.Lock()
	if len(st.Platforms) < 2 {
		s.mu.Unlock()
		return nil, apperr.Validation("link.unlink", "%s is not linked to another platform", AliasKey(platform, userID))
	}
	home := st.HomePlatform()
	now := s.now()
	split := make([]*UserState, 0, len(st.Platforms)-1)
	for _, p := range st.Platforms[1:] {
		ident := st.Identifiers[p]
		ns := newUserState(s.newID(), p, ident.UserID, ident.Username, ident.Nickname, now)
		ns.Summaries = st.Summaries
		ns.SummaryRevision = st.SummaryRevision
		ns.RecentMessages = append([]Message(nil), st.RecentMessages...)
		ns.MessageCount = st.MessageCount
		ns.TotalMessages = st.TotalMessages
		ns.LastInteraction = st.LastInteraction
		s.register(ns)
		split = append(split, ns)
	}
	keep := st.Identifiers[home]
	st.Identifiers = map[string]PlatformIdentity{home: keep}
	st.Platforms = []string{home}
	st.NameVariants = make(map[string]struct{})
	for _, v := range NameVariants(keep.Username) {
		st.NameVariants[v] = struct{}{}
	}
	for _, v := range NameVariants(keep.Nickname) {
		st.NameVariants[v] = struct{}{}
	}
	s.publish()
	s.mu.Unlock()

	c.saver.Request()
	logger().Info("accounts unlinked", slog.String("identity", st.ID), slog.Int("split", len(split)))
	return split, nil
}
