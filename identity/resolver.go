package identity

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/onnwee/ghostbot/telemetry"
)

// Resolve maps an inbound platform account to its canonical record, creating or
// auto-linking as needed. The notice is non-empty only when an auto-link happened.
//
// Auto-linking matches the lowercase username, its separator prefixes, and the
// lowercase nickname against every record's variants and nicknames. Records that
// already hold an account on the same platform are not candidates.
func (s *Store) Resolve(platform, userID, username, nickname string) (*UserState, string) {
	platform = strings.ToLower(platform)
	key := AliasKey(platform, userID)

	s.mu.RLock()
	if id, ok := s.aliases[key]; ok {
		st := s.records[id]
		s.mu.RUnlock()
		return st, ""
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	// Lost a race with another resolve of the same account.
	if id, ok := s.aliases[key]; ok {
		return s.records[id], ""
	}

	if match := s.findMatch(platform, username, nickname); match != nil {
		home := match.HomePlatform()
		existing := match.Identifiers[home]
		match.linkPlatform(platform, userID, username, nickname)
		s.aliases[key] = match.ID
		telemetry.CountAutoLink()
		logger().Info("auto-linked platform account",
			slog.String("identity", match.ID),
			slog.String("existing", home+"/"+existing.Username),
			slog.String("new", platform+"/"+username))
		return match, fmt.Sprintf("%s account automatically linked with %s account %s",
			titlePlatform(platform), titlePlatform(home), existing.Username)
	}

	st := newUserState(s.newID(), platform, userID, username, nickname, s.now())
	s.register(st)
	s.publish()
	return st, ""
}

// findMatch returns the oldest record sharing a name term with the candidate.
// Caller holds mu.
func (s *Store) findMatch(platform, username, nickname string) *UserState {
	terms := NameVariants(username)
	if n := strings.TrimSpace(nickname); n != "" {
		terms = append(terms, strings.ToLower(n))
	}
	if len(terms) == 0 {
		return nil
	}
	for _, st := range s.sortedOrder() {
		if _, taken := st.Identifiers[platform]; taken {
			continue
		}
		stored := st.matchTerms()
		for _, t := range terms {
			if _, ok := stored[t]; ok {
				return st
			}
		}
	}
	return nil
}

func titlePlatform(p string) string {
	if p == "" {
		return p
	}
	return strings.ToUpper(p[:1]) + p[1:]
}
