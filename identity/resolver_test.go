package identity

import (
	"reflect"
	"sync"
	"testing"
)

func TestNameVariants(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"plain", "River333", []string{"river333"}},
		{"space", "Lilly Yen", []string{"lilly yen", "lilly"}},
		{"dot and underscore", "dulci.bel_x", []string{"dulci.bel_x", "dulci", "dulci.bel"}},
		{"dash", "puck-z", []string{"puck-z", "puck"}},
		{"leading separator", "_ghost", []string{"_ghost"}},
		{"empty", "  ", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NameVariants(tt.in); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("NameVariants(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestResolveCreatesFreshState(t *testing.T) {
	clock := newFakeClock()
	s := newTestStore(t, clock)

	st, notice := s.Resolve("discord", "1", "River333", "")
	if notice != "" {
		t.Errorf("unexpected notice %q", notice)
	}
	if st.Summaries.Relationship != DefaultRelationship || st.Summaries.LastConversation != DefaultConversation {
		t.Errorf("summaries not seeded: %+v", st.Summaries)
	}
	if !st.Summaries.LastUpdated.Equal(clock.Now()) {
		t.Errorf("LastUpdated = %v, want %v", st.Summaries.LastUpdated, clock.Now())
	}

	again, _ := s.Resolve("discord", "1", "River333", "")
	if again != st {
		t.Fatal("second resolve returned a different record")
	}
	if s.Len() != 1 {
		t.Errorf("Len = %d, want 1", s.Len())
	}
}

func TestResolveAutoLinksByName(t *testing.T) {
	s := newTestStore(t, newFakeClock())

	dc, _ := s.Resolve("discord", "1", "river333", "River")
	tw, notice := s.Resolve("twitch", "99", "River333", "")
	if tw != dc {
		t.Fatal("twitch account was not linked to the discord record")
	}
	want := "Twitch account automatically linked with Discord account river333"
	if notice != want {
		t.Errorf("notice = %q, want %q", notice, want)
	}
	byAlias, ok := s.Lookup("twitch", "99")
	if !ok || byAlias != dc {
		t.Error("twitch alias does not point at the shared record")
	}
	if s.Len() != 1 || s.Aliases() != 2 {
		t.Errorf("Len = %d Aliases = %d, want 1 and 2", s.Len(), s.Aliases())
	}
	if _, ok := dc.Identifiers["twitch"]; !ok {
		t.Error("twitch identity missing from record")
	}
}

func TestResolveMatchesPrefixVariant(t *testing.T) {
	s := newTestStore(t, newFakeClock())

	dc, _ := s.Resolve("discord", "1", "lilly.yen", "")
	tw, notice := s.Resolve("twitch", "2", "lilly", "")
	if tw != dc || notice == "" {
		t.Fatal("prefix variant did not auto-link")
	}
}

func TestResolveMatchesNickname(t *testing.T) {
	s := newTestStore(t, newFakeClock())

	dc, _ := s.Resolve("discord", "1", "someone", "Puckz")
	tw, _ := s.Resolve("twitch", "2", "puckz", "")
	if tw != dc {
		t.Fatal("stored nickname did not match username")
	}
}

func TestResolveSkipsSamePlatformCandidates(t *testing.T) {
	s := newTestStore(t, newFakeClock())

	a, _ := s.Resolve("twitch", "1", "ghost", "")
	b, notice := s.Resolve("twitch", "2", "ghost", "")
	if a == b {
		t.Fatal("two twitch accounts were merged")
	}
	if notice != "" {
		t.Errorf("unexpected notice %q", notice)
	}
}

func TestResolveConcurrentSameAccount(t *testing.T) {
	s := newTestStore(t, newFakeClock())

	var wg sync.WaitGroup
	got := make([]*UserState, 16)
	for i := range got {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got[i], _ = s.Resolve("discord", "7", "yostiiii", "")
		}(i)
	}
	wg.Wait()
	for _, st := range got[1:] {
		if st != got[0] {
			t.Fatal("concurrent resolves produced different records")
		}
	}
	if s.Len() != 1 {
		t.Errorf("Len = %d, want 1", s.Len())
	}
}
