package cone

import (
	"log/slog"
	"regexp"
	"strings"
)

// Transformer rewrites text with an effect. Implementations are pure.
type Transformer interface {
	ApplyEffect(text string, effect Effect) string
}

// TransformFunc adapts a function to Transformer.
type TransformFunc func(text string, effect Effect) string

func (f TransformFunc) ApplyEffect(text string, effect Effect) string { return f(text, effect) }

// SafeTransform runs t and returns text unchanged if t panics.
func SafeTransform(t Transformer, text string, effect Effect) (out string) {
	if t == nil {
		return text
	}
	defer func() {
		if rec := recover(); rec != nil {
			logger().Error("transform panicked", slog.String("effect", string(effect)), slog.Any("panic", rec))
			out = text
		}
	}()
	return t.ApplyEffect(text, effect)
}

// EffectSupporter is implemented by transformers that rewrite only some effects.
type EffectSupporter interface {
	Supports(effect Effect) bool
}

// Supported reports whether t rewrites effect. Transformers without
// EffectSupporter are assumed to handle every effect.
func Supported(t Transformer, effect Effect) bool {
	if t == nil {
		return false
	}
	if es, ok := t.(EffectSupporter); ok {
		return es.Supports(effect)
	}
	return true
}

// Passthrough returns text unchanged.
type Passthrough struct{}

func (Passthrough) ApplyEffect(text string, _ Effect) string { return text }

func (Passthrough) Supports(Effect) bool { return false }

// Basic implements a handful of word-substitution effects and passes the rest
// through unchanged.
type Basic struct{}

func (Basic) Supports(effect Effect) bool {
	switch effect {
	case EffectUwu, EffectPirate, EffectCaveman, EffectYoda:
		return true
	}
	return false
}

var (
	uwuRL     = regexp.MustCompile(`[rl]`)
	uwuRLUp   = regexp.MustCompile(`[RL]`)
	uwuNya    = regexp.MustCompile(`n([aeiou])`)
	cavemanRe = regexp.MustCompile(`(?i)\b(the|a|an|is|are|am|was|were|to|of)\b\s*`)
)

var pirateWords = map[string]string{
	"hello": "ahoy", "hi": "ahoy", "my": "me", "friend": "matey", "friends": "mateys",
	"yes": "aye", "you": "ye", "your": "yer", "is": "be", "are": "be", "the": "th'",
	"money": "booty", "stop": "avast",
}

func (Basic) ApplyEffect(text string, effect Effect) string {
	switch effect {
	case EffectUwu:
		s := uwuRL.ReplaceAllString(text, "w")
		s = uwuRLUp.ReplaceAllString(s, "W")
		return uwuNya.ReplaceAllString(s, "ny$1") + " uwu"
	case EffectPirate:
		words := strings.Fields(text)
		for i, w := range words {
			if r, ok := pirateWords[strings.ToLower(w)]; ok {
				words[i] = r
			}
		}
		return strings.Join(words, " ") + " arr!"
	case EffectCaveman:
		return strings.ToUpper(strings.TrimSpace(cavemanRe.ReplaceAllString(text, "")))
	case EffectYoda:
		words := strings.Fields(text)
		if len(words) < 3 {
			return text
		}
		return strings.Join(append(words[2:], words[:2]...), " ") + ", hmm."
	}
	logger().Debug("effect not implemented, text unchanged", slog.String("effect", string(effect)))
	return text
}
