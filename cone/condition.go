package cone

import (
	"regexp"
	"strings"
)

// ConditionKind tags the release predicate variants.
type ConditionKind string

// KindSayWord releases a cone when the subject says a word or one of its synonyms.
const KindSayWord ConditionKind = "say_word"

// Condition is a release predicate.
type Condition struct {
	Kind     ConditionKind `json:"kind"`
	Word     string        `json:"word"`
	Synonyms []string      `json:"synonyms,omitempty"`
	// Source is the text the condition was parsed from.
	Source string `json:"source"`
}

var sorryWords = []string{"sorry", "apologize", "apologise", "apology", "my bad"}

var sayRe = regexp.MustCompile(`(?i)\bsays?\s+["']?([\p{L}\p{N}-]+)`)

// ParseCondition builds a predicate from free text. Text that describes no known
// predicate yields nil.
func ParseCondition(spec string) *Condition {
	s := strings.TrimSpace(spec)
	if s == "" {
		return nil
	}
	lower := strings.ToLower(s)
	switch {
	case strings.Contains(lower, "sorry") || strings.Contains(lower, "apologi"):
		return &Condition{Kind: KindSayWord, Word: "sorry", Synonyms: append([]string(nil), sorryWords[1:]...), Source: s}
	case strings.Contains(lower, "please"):
		return &Condition{Kind: KindSayWord, Word: "please", Source: s}
	}
	if m := sayRe.FindStringSubmatch(s); m != nil {
		return &Condition{Kind: KindSayWord, Word: strings.ToLower(m[1]), Source: s}
	}
	return nil
}

// Matches reports whether text satisfies the predicate.
func (c *Condition) Matches(text string) bool {
	if c == nil {
		return false
	}
	switch c.Kind {
	case KindSayWord:
		lower := strings.ToLower(text)
		if c.Word != "" && strings.Contains(lower, c.Word) {
			return true
		}
		for _, w := range c.Synonyms {
			if strings.Contains(lower, w) {
				return true
			}
		}
	}
	return false
}

// Describe renders the predicate for status output.
func (c *Condition) Describe() string {
	if c == nil {
		return ""
	}
	switch c.Kind {
	case KindSayWord:
		return "until they say " + c.Word
	}
	return c.Source
}
