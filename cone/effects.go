// Package cone tracks text effects ("cones") applied to chat subjects and decides,
// message by message, whether an effect is still in force.
package cone

import (
	"sort"
	"strings"

	"github.com/onnwee/ghostbot/apperr"
)

// Effect is a known text transformation.
type Effect string

const (
	EffectUwu         Effect = "uwu"
	EffectPirate      Effect = "pirate"
	EffectShakespeare Effect = "shakespeare"
	EffectCaveman     Effect = "caveman"
	EffectBaby        Effect = "baby"
	EffectYoda        Effect = "yoda"
	EffectAussie      Effect = "aussie"
	EffectScottish    Effect = "scottish"
	EffectSouthern    Effect = "southern"
	EffectSlayspeak   Effect = "slayspeak"
	EffectBrainrot    Effect = "brainrot"
	EffectScrum       Effect = "scrum"
	EffectLinkedin    Effect = "linkedin"
	EffectCrisis      Effect = "crisis"
	EffectCanadian    Effect = "canadian"
	EffectVsauce      Effect = "vsauce"
	EffectBritish     Effect = "british"
	EffectOni         Effect = "oni"
	EffectDyslexia    Effect = "dyslexia"
)

var effects = map[Effect]struct{}{
	EffectUwu: {}, EffectPirate: {}, EffectShakespeare: {}, EffectCaveman: {},
	EffectBaby: {}, EffectYoda: {}, EffectAussie: {}, EffectScottish: {},
	EffectSouthern: {}, EffectSlayspeak: {}, EffectBrainrot: {}, EffectScrum: {},
	EffectLinkedin: {}, EffectCrisis: {}, EffectCanadian: {}, EffectVsauce: {},
	EffectBritish: {}, EffectOni: {}, EffectDyslexia: {},
}

var aliases = map[string]Effect{
	"valley":      EffectSlayspeak,
	"genz":        EffectBrainrot,
	"corporate":   EffectScrum,
	"emoji":       EffectLinkedin,
	"existential": EffectCrisis,
	"polite":      EffectCanadian,
	"conspiracy":  EffectVsauce,
	"bri":         EffectBritish,
	"censor":      EffectOni,
	"dickslexia":  EffectDyslexia,
	"ro":          EffectDyslexia,
	"bardify":     EffectShakespeare,
}

// ParseEffect resolves a name or alias. Unknown names are a validation error.
func ParseEffect(name string) (Effect, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	if e, ok := aliases[n]; ok {
		return e, nil
	}
	if _, ok := effects[Effect(n)]; ok {
		return Effect(n), nil
	}
	return "", apperr.Validation("cone.effect", "unknown effect %q", name)
}

// Valid reports whether e is a registered effect.
func (e Effect) Valid() bool {
	_, ok := effects[e]
	return ok
}

// Effects lists every registered effect name.
func Effects() []Effect {
	out := make([]Effect, 0, len(effects))
	for e := range effects {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
