// Package summary implements the conversation summarizer over a text completion
// backend (OpenRouter or Gemini).
package summary

import (
	"context"
	"fmt"
	"strings"

	"github.com/onnwee/ghostbot/identity"
)

// Completer returns a single completion for a system instruction and a prompt.
type Completer interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
}

const updatePrompt = `[CURRENT STATE]
Relationship Summary: %s
Last Conversation Summary: %s

[NEW MESSAGES]
%s

Analyze the above and create updated summaries. Important guidelines:
- Keep relevant historical context from old summaries
- Add new insights from recent messages
- Focus on recurring patterns and relationship dynamics
- Note any significant changes in tone or behavior
- Remove outdated or irrelevant information

Provide updates in this format:

[RELATIONSHIP_SUMMARY]
(Write a concise summary of the overall relationship dynamic. Include: how they interact, recurring patterns, %[4]s's attitude toward them, and their attitude toward %[4]s. Max 3 sentences.)

[CONVERSATION_SUMMARY]
(Summarize the most relevant and recent interactions. Blend important points from previous summary with new key developments. Focus on themes and significant moments. Max 3 sentences.)

[CHANGES_DETECTED]
(YES or NO - indicate if there were meaningful changes in relationship dynamic or conversation tone)
`

const mergePrompt = `Combine these two summaries of the same user from different platforms into a single coherent summary:

[SUMMARY SET 1]
Relationship: %s
Last Conversation: %s

[SUMMARY SET 2]
Relationship: %s
Last Conversation: %s

Provide the combined summary in this format:
RELATIONSHIP: (combined relationship summary)
CONVERSATION: (combined conversation summary)
`

// MinMessages is the smallest window worth summarizing.
const MinMessages = 2

// Summarizer implements identity.Summarizer.
type Summarizer struct {
	c       Completer
	botName string
}

// New returns a summarizer speaking as botName.
func New(c Completer, botName string) *Summarizer {
	if botName == "" {
		botName = "Ghost"
	}
	return &Summarizer{c: c, botName: botName}
}

var _ identity.Summarizer = (*Summarizer)(nil)

// UpdateSummaries asks the backend for a new summary pair. Windows shorter than
// MinMessages report no change without calling the backend.
func (s *Summarizer) UpdateSummaries(ctx context.Context, st *identity.UserState) (string, string, bool, error) {
	if len(st.RecentMessages) < MinMessages {
		return st.Summaries.Relationship, st.Summaries.LastConversation, false, nil
	}
	prompt := fmt.Sprintf(updatePrompt, st.Summaries.Relationship, st.Summaries.LastConversation, s.formatMessages(st.RecentMessages), s.botName)
	text, err := s.c.Complete(ctx, "You are an analyzer. Provide brief summaries of chat interactions.", prompt)
	if err != nil {
		return "", "", false, fmt.Errorf("update summaries: %w", err)
	}
	rel, conv, changed := ParseUpdate(text)
	return rel, conv, changed, nil
}

// MergeSummaries combines two summary pairs. A line missing from the reply keeps a's value.
func (s *Summarizer) MergeSummaries(ctx context.Context, a, b identity.Summaries) (identity.Summaries, error) {
	prompt := fmt.Sprintf(mergePrompt, a.Relationship, a.LastConversation, b.Relationship, b.LastConversation)
	text, err := s.c.Complete(ctx, "You are an analyzer. Combine two sets of user summaries into a single coherent summary.", prompt)
	if err != nil {
		return identity.Summaries{}, fmt.Errorf("merge summaries: %w", err)
	}
	rel, conv := ParseMerge(text)
	out := identity.Summaries{Relationship: rel, LastConversation: conv}
	if out.Relationship == "" {
		out.Relationship = a.Relationship
	}
	if out.LastConversation == "" {
		out.LastConversation = a.LastConversation
	}
	return out, nil
}

func (s *Summarizer) formatMessages(msgs []identity.Message) string {
	var b strings.Builder
	for i, m := range msgs {
		if i > 0 {
			b.WriteByte('\n')
		}
		name := m.Username
		if m.FromBot {
			name = s.botName
		}
		b.WriteString(name)
		b.WriteString(": ")
		b.WriteString(m.Content)
	}
	return b.String()
}

// ParseUpdate extracts the bracketed sections of an update reply. changed is set
// when the CHANGES_DETECTED section contains YES.
func ParseUpdate(text string) (relationship, conversation string, changed bool) {
	for _, section := range strings.Split(text, "[") {
		head, body, ok := strings.Cut(section, "]")
		if !ok {
			continue
		}
		body = strings.TrimSpace(body)
		switch strings.TrimSpace(head) {
		case "RELATIONSHIP_SUMMARY":
			relationship = body
		case "CONVERSATION_SUMMARY":
			conversation = body
		case "CHANGES_DETECTED":
			changed = strings.Contains(strings.ToUpper(body), "YES")
		}
	}
	return relationship, conversation, changed
}

// ParseMerge extracts the RELATIONSHIP: and CONVERSATION: lines of a merge reply.
func ParseMerge(text string) (relationship, conversation string) {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if v, ok := strings.CutPrefix(line, "RELATIONSHIP:"); ok {
			relationship = strings.TrimSpace(v)
		} else if v, ok := strings.CutPrefix(line, "CONVERSATION:"); ok {
			conversation = strings.TrimSpace(v)
		}
	}
	return relationship, conversation
}
