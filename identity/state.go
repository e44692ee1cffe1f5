// Package identity tracks one record per real-world person across chat platforms.
//
// Records live in an arena (Store) addressed by a stable internal id; platform
// accounts reach them through alias keys such as "discord:123". Two platform
// accounts of the same person therefore share one *UserState, and mutating it
// through either alias is visible through both.
//
// Field ownership:
//   - Identifiers, PrimaryName and NameVariants change only while the Store's
//     index lock is held (resolve, link, merge, unlink).
//   - Summaries, RecentMessages and the counters change only while the record's
//     per-identity lock is held (Store.Lock).
package identity

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Seed summaries for a person seen for the first time.
const (
	DefaultRelationship = "New user, relationship not established yet."
	DefaultConversation = "First interaction."
)

// variantSeparators split a display name into a shorter matchable prefix.
var variantSeparators = []string{" ", ".", "_", "-"}

// PlatformIdentity is one account of a person on one platform.
type PlatformIdentity struct {
	UserID      string
	Username    string
	Nickname    string
	DisplayName string
}

// Summaries is the rolling relationship/conversation digest of a person.
type Summaries struct {
	Relationship     string
	LastConversation string
	LastUpdated      time.Time
}

// IsDefault reports whether both summaries still hold the seed text.
func (s Summaries) IsDefault() bool {
	return s.Relationship == DefaultRelationship && s.LastConversation == DefaultConversation
}

// Message is one entry of the conversation window.
type Message struct {
	Content   string
	FromBot   bool
	Username  string
	Timestamp time.Time
}

// UserState is the canonical record of one person.
type UserState struct {
	ID string

	Identifiers map[string]PlatformIdentity
	// Platforms lists Identifiers keys in link order; Platforms[0] is the home platform.
	Platforms    []string
	PrimaryName  string
	NameVariants map[string]struct{}

	Summaries Summaries
	// SummaryRevision counts successful summary updates.
	SummaryRevision int

	RecentMessages []Message
	// MessageCount is the number of messages since the last successful summary update.
	MessageCount int
	// TotalMessages is the lifetime message count.
	TotalMessages   int
	LastInteraction time.Time

	retired bool
}

func newUserState(id, platform, userID, username, nickname string, now time.Time) *UserState {
	st := &UserState{
		ID:           id,
		Identifiers:  make(map[string]PlatformIdentity),
		PrimaryName:  username,
		NameVariants: make(map[string]struct{}),
		Summaries: Summaries{
			Relationship:     DefaultRelationship,
			LastConversation: DefaultConversation,
			LastUpdated:      now,
		},
		LastInteraction: now,
	}
	st.putIdentity(platform, userID, username, nickname)
	for _, v := range NameVariants(username) {
		st.NameVariants[v] = struct{}{}
	}
	return st
}

// NameVariants returns the lowercase full name plus, for every separator the name
// contains, the token in front of that separator.
func NameVariants(name string) []string {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil
	}
	lower := strings.ToLower(name)
	seen := map[string]struct{}{lower: {}}
	out := []string{lower}
	for _, sep := range variantSeparators {
		i := strings.Index(lower, sep)
		if i <= 0 {
			continue
		}
		prefix := lower[:i]
		if _, ok := seen[prefix]; ok {
			continue
		}
		seen[prefix] = struct{}{}
		out = append(out, prefix)
	}
	return out
}

// AliasKey returns the index key of a platform account.
func AliasKey(platform, userID string) string {
	return strings.ToLower(platform) + ":" + userID
}

// SplitAliasKey is the inverse of AliasKey. It also accepts the legacy
// "platform_userid" form used by older snapshots.
func SplitAliasKey(key string) (platform, userID string, ok bool) {
	if i := strings.Index(key, ":"); i > 0 {
		return key[:i], key[i+1:], true
	}
	if i := strings.Index(key, "_"); i > 0 {
		return key[:i], key[i+1:], true
	}
	return "", "", false
}

// LegacyKey returns the "platform_userid" form written to snapshots.
func LegacyKey(platform, userID string) string {
	return strings.ToLower(platform) + "_" + userID
}

func (st *UserState) putIdentity(platform, userID, username, nickname string) {
	platform = strings.ToLower(platform)
	display := nickname
	if display == "" {
		display = username
	}
	if _, exists := st.Identifiers[platform]; !exists {
		st.Platforms = append(st.Platforms, platform)
	}
	st.Identifiers[platform] = PlatformIdentity{
		UserID:      userID,
		Username:    username,
		Nickname:    nickname,
		DisplayName: display,
	}
}

// linkPlatform adds (or replaces) a platform account and extends the variant set.
func (st *UserState) linkPlatform(platform, userID, username, nickname string) {
	st.putIdentity(platform, userID, username, nickname)
	for _, v := range NameVariants(username) {
		st.NameVariants[v] = struct{}{}
	}
	for _, v := range NameVariants(nickname) {
		st.NameVariants[v] = struct{}{}
	}
}

// HomePlatform returns the first linked platform.
func (st *UserState) HomePlatform() string {
	if len(st.Platforms) == 0 {
		return ""
	}
	return st.Platforms[0]
}

// AliasKeys lists the alias key of every linked platform account.
func (st *UserState) AliasKeys() []string {
	keys := make([]string, 0, len(st.Platforms))
	for _, p := range st.Platforms {
		keys = append(keys, AliasKey(p, st.Identifiers[p].UserID))
	}
	return keys
}

// Variants returns the sorted variant set.
func (st *UserState) Variants() []string {
	out := make([]string, 0, len(st.NameVariants))
	for v := range st.NameVariants {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// matchTerms is the variant set plus every lowercase nickname.
func (st *UserState) matchTerms() map[string]struct{} {
	terms := make(map[string]struct{}, len(st.NameVariants)+len(st.Identifiers))
	for v := range st.NameVariants {
		terms[v] = struct{}{}
	}
	for _, id := range st.Identifiers {
		if id.Nickname != "" {
			terms[strings.ToLower(id.Nickname)] = struct{}{}
		}
	}
	return terms
}

// appendMessage records one message. limit > 0 bounds the window to the newest limit entries.
func (st *UserState) appendMessage(m Message, limit int) {
	st.RecentMessages = append(st.RecentMessages, m)
	if limit > 0 && len(st.RecentMessages) > limit {
		st.RecentMessages = append([]Message(nil), st.RecentMessages[len(st.RecentMessages)-limit:]...)
	}
	st.MessageCount++
	st.TotalMessages++
	if m.Timestamp.After(st.LastInteraction) {
		st.LastInteraction = m.Timestamp
	}
}

// Clone returns a deep copy safe to hand to collaborators.
func (st *UserState) Clone() *UserState {
	c := *st
	c.Identifiers = make(map[string]PlatformIdentity, len(st.Identifiers))
	for k, v := range st.Identifiers {
		c.Identifiers[k] = v
	}
	c.Platforms = append([]string(nil), st.Platforms...)
	c.NameVariants = make(map[string]struct{}, len(st.NameVariants))
	for k := range st.NameVariants {
		c.NameVariants[k] = struct{}{}
	}
	c.RecentMessages = append([]Message(nil), st.RecentMessages...)
	return &c
}

func (st *UserState) String() string {
	return fmt.Sprintf("%s(%s)", st.PrimaryName, strings.Join(st.Platforms, ","))
}
