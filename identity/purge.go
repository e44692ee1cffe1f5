package identity

import (
	"context"
	"log/slog"
)

// PurgeOptions selects what Purge clears.
type PurgeOptions struct {
	// Summaries resets both summaries to the seed text.
	Summaries bool
	// Messages empties the conversation window and the since-update counter.
	Messages bool
	// Only restricts the purge to the identities these alias keys resolve to.
	Only []string
}

// Purge clears data from every selected identity and returns how many records
// changed. Identifiers, variants and lifetime counters are kept.
func (s *Store) Purge(ctx context.Context, opts PurgeOptions) (int, error) {
	var ids []string
	s.mu.RLock()
	if len(opts.Only) > 0 {
		seen := make(map[string]struct{})
		for _, k := range opts.Only {
			p, uid, ok := SplitAliasKey(k)
			if !ok {
				continue
			}
			if id, ok := s.aliases[AliasKey(p, uid)]; ok {
				if _, dup := seen[id]; !dup {
					seen[id] = struct{}{}
					ids = append(ids, id)
				}
			}
		}
	} else {
		ids = append(ids, s.order...)
	}
	s.mu.RUnlock()

	changed := 0
	for _, id := range ids {
		st, unlock, err := s.LockID(ctx, id)
		if err != nil {
			if ctx.Err() != nil {
				return changed, err
			}
			continue
		}
		touched := false
		if opts.Summaries && !st.Summaries.IsDefault() {
			st.Summaries = Summaries{Relationship: DefaultRelationship, LastConversation: DefaultConversation, LastUpdated: s.now()}
			touched = true
		}
		if opts.Messages && (len(st.RecentMessages) > 0 || st.MessageCount > 0) {
			st.RecentMessages = nil
			st.MessageCount = 0
			touched = true
		}
		unlock()
		if touched {
			changed++
		}
	}
	logger().Info("identities purged",
		slog.Int("changed", changed),
		slog.Bool("summaries", opts.Summaries),
		slog.Bool("messages", opts.Messages))
	return changed, nil
}
