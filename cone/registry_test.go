package cone

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/onnwee/ghostbot/apperr"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

var admin = Requester{ID: "42", Name: "River333"}

func newTestRegistry(t *testing.T) (*Registry, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: time.Date(2024, 5, 1, 20, 0, 0, 0, time.UTC)}
	return NewRegistry([]string{"lillyyen", "river333"}, WithClock(clock.Now)), clock
}

func TestApplyRequiresPermission(t *testing.T) {
	r, _ := newTestRegistry(t)
	_, err := r.Apply(context.Background(), ApplyRequest{SubjectID: "u1", Effect: "pirate", Requester: Requester{ID: "7", Name: "rando"}})
	if !errors.Is(err, apperr.ErrPermission) {
		t.Fatalf("err = %v, want permission", err)
	}
	if _, ok := r.Get("u1"); ok {
		t.Error("record written despite permission failure")
	}
}

func TestApplyRejectsUnknownEffect(t *testing.T) {
	r, _ := newTestRegistry(t)
	_, err := r.Apply(context.Background(), ApplyRequest{SubjectID: "u1", Effect: "klingon", Requester: admin})
	if !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("err = %v, want validation", err)
	}
}

func TestExpiryBoundary(t *testing.T) {
	ctx := context.Background()
	r, clock := newTestRegistry(t)
	if _, err := r.Apply(ctx, ApplyRequest{SubjectID: "u1", Effect: "uwu", Requester: admin, Duration: "10 minutes"}); err != nil {
		t.Fatal(err)
	}

	clock.Advance(599 * time.Second)
	ev, _ := r.Evaluate(ctx, "u1", "hello")
	if ev.Outcome != OutcomeActive || ev.Effect != EffectUwu {
		t.Fatalf("at 599s outcome = %v, want active", ev.Outcome)
	}

	clock.Advance(2 * time.Second)
	ev, _ = r.Evaluate(ctx, "u1", "hello")
	if ev.Outcome != OutcomeExpired {
		t.Fatalf("at 601s outcome = %v, want expired", ev.Outcome)
	}
	ev, _ = r.Evaluate(ctx, "u1", "hello")
	if ev.Outcome != OutcomeNone {
		t.Fatalf("after expiry outcome = %v, want none", ev.Outcome)
	}
}

func TestExpiryBeatsCondition(t *testing.T) {
	ctx := context.Background()
	r, clock := newTestRegistry(t)
	if _, err := r.Apply(ctx, ApplyRequest{SubjectID: "u1", Effect: "yoda", Requester: admin, Duration: "1 minute", Condition: "say sorry"}); err != nil {
		t.Fatal(err)
	}
	clock.Advance(2 * time.Minute)
	ev, _ := r.Evaluate(ctx, "u1", "sorry!")
	if ev.Outcome != OutcomeExpired {
		t.Fatalf("outcome = %v, want expired", ev.Outcome)
	}
	if st := r.Status("u1"); st.Cause != CauseExpired {
		t.Errorf("status cause = %q, want expired", st.Cause)
	}
}

func TestOverrideNote(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRegistry(t)
	if _, err := r.Apply(ctx, ApplyRequest{SubjectID: "u1", Effect: "pirate", Requester: admin}); err != nil {
		t.Fatal(err)
	}
	res, err := r.Apply(ctx, ApplyRequest{SubjectID: "u1", Effect: "corporate", Requester: admin})
	if err != nil {
		t.Fatal(err)
	}
	if res.Overrode != EffectPirate || !strings.Contains(res.Message, "pirate") {
		t.Errorf("override note missing: %+v", res)
	}
	st := r.Status("u1")
	if !st.Active || st.Effect != EffectScrum {
		t.Errorf("status = %+v, want active scrum", st)
	}
}

func TestNoOverrideNoteForInactive(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRegistry(t)
	r.Apply(ctx, ApplyRequest{SubjectID: "u1", Effect: "pirate", Requester: admin})
	r.Remove(ctx, "u1", admin)
	res, err := r.Apply(ctx, ApplyRequest{SubjectID: "u1", Effect: "uwu", Requester: admin})
	if err != nil {
		t.Fatal(err)
	}
	if res.Overrode != "" {
		t.Errorf("unexpected override of inactive record: %q", res.Overrode)
	}
}

func TestRemoveTwice(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRegistry(t)
	r.Apply(ctx, ApplyRequest{SubjectID: "u1", TargetName: "target", Effect: "pirate", Requester: admin})

	res, err := r.Remove(ctx, "u1", admin)
	if err != nil || res.NotActive {
		t.Fatalf("first remove = %+v, %v", res, err)
	}
	if res.Record.Termination == nil || res.Record.Termination.By != "River333" {
		t.Errorf("termination = %+v", res.Record.Termination)
	}
	before, _ := r.Get("u1")

	second, err := r.Remove(ctx, "u1", admin)
	third, err2 := r.Remove(ctx, "u1", admin)
	if err != nil || err2 != nil {
		t.Fatal(err, err2)
	}
	if !second.NotActive || second.Message != third.Message {
		t.Errorf("repeat removes differ: %+v vs %+v", second, third)
	}
	after, _ := r.Get("u1")
	if after.Termination.At != before.Termination.At || after.Active {
		t.Error("repeat remove mutated the record")
	}
}

func TestRemoveNeverConed(t *testing.T) {
	r, _ := newTestRegistry(t)
	res, err := r.Remove(context.Background(), "ghost", admin)
	if err != nil || !res.NotActive {
		t.Fatalf("remove = %+v, %v", res, err)
	}
	if _, ok := r.Get("ghost"); ok {
		t.Error("remove created a record")
	}
}

func TestRemoveRequiresPermission(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRegistry(t)
	r.Apply(ctx, ApplyRequest{SubjectID: "u1", Effect: "pirate", Requester: admin})
	if _, err := r.Remove(ctx, "u1", Requester{Name: "nobody"}); !errors.Is(err, apperr.ErrPermission) {
		t.Fatalf("err = %v, want permission", err)
	}
	if rec, _ := r.Get("u1"); !rec.Active {
		t.Error("unauthorized remove deactivated the record")
	}
}

func TestScenarioPirateExpires(t *testing.T) {
	ctx := context.Background()
	r, clock := newTestRegistry(t)
	if _, err := r.Apply(ctx, ApplyRequest{SubjectID: "u1", Effect: "pirate", Requester: admin, Duration: "1 minute"}); err != nil {
		t.Fatal(err)
	}
	clock.Advance(61 * time.Second)
	if ev, _ := r.Evaluate(ctx, "u1", "hello"); ev.Outcome != OutcomeExpired {
		t.Fatalf("outcome = %v, want expired", ev.Outcome)
	}
	if ev, _ := r.Evaluate(ctx, "u1", "hello"); ev.Outcome != OutcomeNone {
		t.Fatalf("outcome = %v, want none", ev.Outcome)
	}
	st := r.Status("u1")
	if st.Active || st.Cause != CauseExpired {
		t.Errorf("status = %+v, want inactive expired", st)
	}
}

func TestScenarioSaySorry(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRegistry(t)
	r = NewRegistry([]string{"river333"}, WithClock(r.now), WithTransformer(Basic{}))
	if _, err := r.Apply(ctx, ApplyRequest{SubjectID: "u2", Effect: "uwu", Requester: admin, Condition: "until they say sorry"}); err != nil {
		t.Fatal(err)
	}

	ev, out, _ := r.EvaluateAndTransform(ctx, "u2", "really now")
	if ev.Outcome != OutcomeActive || out == "really now" {
		t.Fatalf("outcome = %v out = %q, want transformed", ev.Outcome, out)
	}
	ev, out, _ = r.EvaluateAndTransform(ctx, "u2", "I am SORRY for that")
	if ev.Outcome != OutcomeConditionMet || out != "" {
		t.Fatalf("outcome = %v out = %q, want condition met", ev.Outcome, out)
	}
	ev, out, _ = r.EvaluateAndTransform(ctx, "u2", "next message")
	if ev.Outcome != OutcomeNone || out != "" {
		t.Fatalf("outcome = %v out = %q, want untransformed", ev.Outcome, out)
	}
	if st := r.Status("u2"); st.Cause != CauseConditionMet {
		t.Errorf("status cause = %q, want condition_met", st.Cause)
	}
}

func TestDurationAsCondition(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRegistry(t)
	res, err := r.Apply(ctx, ApplyRequest{SubjectID: "u3", Effect: "pirate", Requester: admin, Duration: "until they say please"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Record.Condition == nil || res.Record.Condition.Word != "please" || res.Record.ExpiresAt != nil {
		t.Errorf("record = %+v", res.Record)
	}
}

func TestConcurrentEvaluateExpiresOnce(t *testing.T) {
	ctx := context.Background()
	r, clock := newTestRegistry(t)
	r.Apply(ctx, ApplyRequest{SubjectID: "u1", Effect: "uwu", Requester: admin, Duration: "1 second"})
	clock.Advance(2 * time.Second)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		expired int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ev, _ := r.Evaluate(ctx, "u1", "x")
			if ev.Outcome == OutcomeExpired {
				mu.Lock()
				expired++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if expired != 1 {
		t.Errorf("expired fired %d times, want 1", expired)
	}
}

func TestSafeTransformRecovers(t *testing.T) {
	boom := TransformFunc(func(string, Effect) string { panic("boom") })
	if got := SafeTransform(boom, "hi", EffectUwu); got != "hi" {
		t.Errorf("SafeTransform = %q, want input", got)
	}
}
