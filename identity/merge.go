package identity

import "context"

// fresh reports whether st carries nothing worth merging: no messages and the
// seed summaries.
func (st *UserState) fresh() bool {
	return len(st.RecentMessages) == 0 && st.MessageCount == 0 && st.Summaries.IsDefault()
}

// mergeSummaries asks m for the combined summary pair. ok is false when the
// collaborator failed, in which case primary's pair must be kept. Both identity
// locks are held by the caller.
func mergeSummaries(ctx context.Context, m Summarizer, primary, secondary *UserState) (Summaries, bool, error) {
	if secondary.fresh() || m == nil {
		return primary.Summaries, true, nil
	}
	merged, err := m.MergeSummaries(ctx, primary.Summaries, secondary.Summaries)
	if err != nil {
		return primary.Summaries, false, err
	}
	if merged.Relationship == "" || merged.LastConversation == "" {
		return primary.Summaries, false, errEmptyMerge
	}
	if merged.LastUpdated.IsZero() {
		merged.LastUpdated = primary.Summaries.LastUpdated
		if secondary.Summaries.LastUpdated.After(merged.LastUpdated) {
			merged.LastUpdated = secondary.Summaries.LastUpdated
		}
	}
	return merged, true, nil
}

// linkConflict reports a platform on which primary already holds a different
// account than the one being linked in, either the confirming account itself or
// one carried by the secondary record.
func linkConflict(primary, secondary *UserState, platform, userID string) (string, bool) {
	if prev, ok := primary.Identifiers[platform]; ok && prev.UserID != userID {
		return platform, true
	}
	if secondary == nil {
		return "", false
	}
	for _, p := range secondary.Platforms {
		prev, ok := primary.Identifiers[p]
		if ok && prev.UserID != secondary.Identifiers[p].UserID {
			return p, true
		}
	}
	return "", false
}

// absorb folds secondary into primary: identifiers and variants are unioned,
// windows concatenated in timestamp order, counters summed. Caller holds the
// index lock and both identity locks.
func absorb(primary, secondary *UserState, summaries Summaries) {
	for _, p := range secondary.Platforms {
		if _, ok := primary.Identifiers[p]; ok {
			continue
		}
		primary.Platforms = append(primary.Platforms, p)
		primary.Identifiers[p] = secondary.Identifiers[p]
	}
	for v := range secondary.NameVariants {
		primary.NameVariants[v] = struct{}{}
	}
	if len(secondary.RecentMessages) > 0 {
		primary.RecentMessages = append(primary.RecentMessages, secondary.RecentMessages...)
		sortMessages(primary.RecentMessages)
	}
	primary.MessageCount += secondary.MessageCount
	primary.TotalMessages += secondary.TotalMessages
	if secondary.LastInteraction.After(primary.LastInteraction) {
		primary.LastInteraction = secondary.LastInteraction
	}
	primary.Summaries = summaries
}
