package cone

import "testing"

func TestBasicSupports(t *testing.T) {
	var b Basic
	for _, e := range []Effect{EffectUwu, EffectPirate, EffectCaveman, EffectYoda} {
		if !b.Supports(e) {
			t.Errorf("Supports(%s) = false", e)
		}
	}
	for _, e := range []Effect{EffectSlayspeak, EffectBrainrot, EffectScrum} {
		if b.Supports(e) {
			t.Errorf("Supports(%s) = true", e)
		}
		if out := b.ApplyEffect("hello there friend", e); out != "hello there friend" {
			t.Errorf("ApplyEffect(%s) = %q, want unchanged", e, out)
		}
	}
}

func TestSupported(t *testing.T) {
	custom := TransformFunc(func(text string, _ Effect) string { return text + "!" })
	tests := []struct {
		name string
		xf   Transformer
		want bool
	}{
		{"nil", nil, false},
		{"passthrough", Passthrough{}, false},
		{"basic slayspeak", Basic{}, false},
		{"func without support info", custom, true},
	}
	for _, tt := range tests {
		if got := Supported(tt.xf, EffectSlayspeak); got != tt.want {
			t.Errorf("%s: Supported = %v, want %v", tt.name, got, tt.want)
		}
	}
	if !Supported(Basic{}, EffectPirate) {
		t.Error("basic pirate should be supported")
	}
}
