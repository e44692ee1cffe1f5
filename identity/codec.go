package identity

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/onnwee/ghostbot/persist"
)

// PendingLinksKey is the aggregate entry holding outstanding link requests.
const PendingLinksKey = "pending_links"

type platformDoc struct {
	UserID      string `json:"user_id"`
	Username    string `json:"username"`
	Nickname    string `json:"nickname,omitempty"`
	DisplayName string `json:"display_name"`
}

type summariesDoc struct {
	Relationship     string `json:"relationship"`
	LastConversation string `json:"last_conversation"`
	LastUpdated      string `json:"last_updated"`
}

type messageDoc struct {
	Content   string `json:"content"`
	FromBot   bool   `json:"from_bot"`
	Username  string `json:"username"`
	Timestamp string `json:"timestamp"`
}

type stateDoc struct {
	ID              string                 `json:"id,omitempty"`
	UserID          string                 `json:"user_id"`
	Username        string                 `json:"username"`
	Platform        string                 `json:"platform"`
	Identifiers     map[string]platformDoc `json:"identifiers"`
	Platforms       []string               `json:"platforms,omitempty"`
	NameVariants    []string               `json:"name_variants,omitempty"`
	Summaries       summariesDoc           `json:"summaries"`
	SummaryRevision int                    `json:"summary_revision,omitempty"`
	RecentMessages  []messageDoc           `json:"recent_messages"`
	MessageCount    int                    `json:"message_count"`
	TotalMessages   int                    `json:"total_messages,omitempty"`
	LastInteraction string                 `json:"last_interaction"`
}

func encodeState(st *UserState) stateDoc {
	home := st.HomePlatform()
	d := stateDoc{
		ID:           st.ID,
		UserID:       st.Identifiers[home].UserID,
		Username:     st.PrimaryName,
		Platform:     home,
		Identifiers:  make(map[string]platformDoc, len(st.Identifiers)),
		Platforms:    append([]string(nil), st.Platforms...),
		NameVariants: st.Variants(),
		Summaries: summariesDoc{
			Relationship:     st.Summaries.Relationship,
			LastConversation: st.Summaries.LastConversation,
			LastUpdated:      persist.FormatTime(st.Summaries.LastUpdated),
		},
		SummaryRevision: st.SummaryRevision,
		RecentMessages:  make([]messageDoc, 0, len(st.RecentMessages)),
		MessageCount:    st.MessageCount,
		TotalMessages:   st.TotalMessages,
		LastInteraction: persist.FormatTime(st.LastInteraction),
	}
	for p, id := range st.Identifiers {
		d.Identifiers[p] = platformDoc(id)
	}
	for _, m := range st.RecentMessages {
		d.RecentMessages = append(d.RecentMessages, messageDoc{
			Content:   m.Content,
			FromBot:   m.FromBot,
			Username:  m.Username,
			Timestamp: persist.FormatTime(m.Timestamp),
		})
	}
	return d
}

func decodeState(d stateDoc) (*UserState, error) {
	if len(d.Identifiers) == 0 {
		return nil, fmt.Errorf("record %s has no identifiers", d.UserID)
	}
	st := &UserState{
		ID:              d.ID,
		Identifiers:     make(map[string]PlatformIdentity, len(d.Identifiers)),
		PrimaryName:     d.Username,
		NameVariants:    make(map[string]struct{}),
		SummaryRevision: d.SummaryRevision,
		MessageCount:    d.MessageCount,
		TotalMessages:   d.TotalMessages,
	}
	for p, id := range d.Identifiers {
		st.Identifiers[strings.ToLower(p)] = PlatformIdentity(id)
	}
	st.Platforms = platformOrder(d, st.Identifiers)

	var err error
	st.Summaries = Summaries{Relationship: d.Summaries.Relationship, LastConversation: d.Summaries.LastConversation}
	if st.Summaries.LastUpdated, err = persist.ParseTime(d.Summaries.LastUpdated); err != nil {
		return nil, err
	}
	if st.LastInteraction, err = persist.ParseTime(d.LastInteraction); err != nil {
		return nil, err
	}
	for _, m := range d.RecentMessages {
		ts, err := persist.ParseTime(m.Timestamp)
		if err != nil {
			return nil, err
		}
		st.RecentMessages = append(st.RecentMessages, Message{Content: m.Content, FromBot: m.FromBot, Username: m.Username, Timestamp: ts})
	}

	if len(d.NameVariants) > 0 {
		for _, v := range d.NameVariants {
			st.NameVariants[v] = struct{}{}
		}
	} else {
		for _, p := range st.Platforms {
			id := st.Identifiers[p]
			for _, v := range NameVariants(id.Username) {
				st.NameVariants[v] = struct{}{}
			}
			for _, v := range NameVariants(id.Nickname) {
				st.NameVariants[v] = struct{}{}
			}
		}
	}
	if st.TotalMessages < st.MessageCount {
		st.TotalMessages = st.MessageCount
	}
	return st, nil
}

// platformOrder recovers link order: the stored list, else the record's own
// platform followed by the rest alphabetically.
func platformOrder(d stateDoc, ids map[string]PlatformIdentity) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	add := func(p string) {
		p = strings.ToLower(p)
		if _, ok := ids[p]; !ok {
			return
		}
		if _, ok := seen[p]; ok {
			return
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	for _, p := range d.Platforms {
		add(p)
	}
	add(d.Platform)
	rest := make([]string, 0, len(ids))
	for p := range ids {
		rest = append(rest, p)
	}
	sort.Strings(rest)
	for _, p := range rest {
		add(p)
	}
	return out
}

// Snapshot writes one entry per identity, keyed by its home platform's legacy
// key, plus the pending link requests.
func (s *Store) Snapshot(ctx context.Context) (persist.Aggregate, error) {
	s.mu.RLock()
	ids := append([]string(nil), s.order...)
	pending := make(persist.Document, len(s.pending))
	for name, key := range s.pending {
		pending[name] = key
	}
	s.mu.RUnlock()

	agg := persist.Aggregate{}
	for _, id := range ids {
		st, unlock, err := s.LockID(ctx, id)
		if err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			// Absorbed by a merge since the id list was taken.
			continue
		}
		s.mu.RLock()
		d := encodeState(st)
		s.mu.RUnlock()
		unlock()

		doc, err := persist.ToDocument(d)
		if err != nil {
			return nil, fmt.Errorf("encode identity %s: %w", id, err)
		}
		agg[LegacyKey(d.Platform, d.UserID)] = doc
	}
	if len(pending) > 0 {
		agg[PendingLinksKey] = pending
	}
	return agg, nil
}

// Restore replaces the store's contents with the identities in agg. Entries are
// recognized by their "platform_userid" key; other entries are ignored. A record
// whose accounts are already claimed by an earlier entry is skipped.
func (s *Store) Restore(agg persist.Aggregate) error {
	keys := make([]string, 0, len(agg))
	for k := range agg {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	records := make(map[string]*UserState)
	aliases := make(map[string]string)
	var order []string
	for _, k := range keys {
		if k == PendingLinksKey {
			continue
		}
		if _, _, ok := SplitAliasKey(k); !ok {
			continue
		}
		doc := agg[k]
		if _, ok := doc["identifiers"]; !ok {
			continue
		}
		var d stateDoc
		if err := persist.FromDocument(doc, &d); err != nil {
			return fmt.Errorf("decode identity %s: %w", k, err)
		}
		st, err := decodeState(d)
		if err != nil {
			slog.Warn("skipping unreadable identity", slog.String("key", k), slog.Any("err", err), slog.String("component", "identity"))
			continue
		}
		if claimedBy(st, aliases) != "" {
			continue
		}
		if st.ID == "" || records[st.ID] != nil {
			st.ID = s.newID()
		}
		records[st.ID] = st
		order = append(order, st.ID)
		for _, a := range st.AliasKeys() {
			aliases[a] = st.ID
		}
	}

	pending := make(map[string]string)
	for name, v := range agg[PendingLinksKey] {
		key, ok := v.(string)
		if !ok || key == "" {
			continue
		}
		// Older snapshots store "discord_<id>" or the bare Discord id.
		if p, id, ok := SplitAliasKey(key); ok {
			key = AliasKey(p, id)
		} else {
			key = AliasKey("discord", key)
		}
		pending[strings.ToLower(name)] = key
	}

	s.mu.Lock()
	s.records = records
	s.order = order
	s.aliases = aliases
	s.pending = pending
	s.publish()
	s.mu.Unlock()

	logger().Info("identities restored", slog.Int("identities", len(records)), slog.Int("pending_links", len(pending)))
	return nil
}

func claimedBy(st *UserState, aliases map[string]string) string {
	for _, a := range st.AliasKeys() {
		if id, ok := aliases[a]; ok {
			return id
		}
	}
	return ""
}
