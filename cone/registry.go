package cone

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/onnwee/ghostbot/apperr"
	"github.com/onnwee/ghostbot/keylock"
	"github.com/onnwee/ghostbot/telemetry"
)

// PermissionDenied is the message of an unauthorized apply or remove.
const PermissionDenied = "you don't have permission to use cone commands"

// Cause is why a record stopped being active.
type Cause string

const (
	CauseRemoved      Cause = "removed"
	CauseExpired      Cause = "expired"
	CauseConditionMet Cause = "condition_met"
)

// Termination records the single terminal cause of an inactive record.
type Termination struct {
	Cause Cause     `json:"cause"`
	At    time.Time `json:"at"`
	// By is the requester for CauseRemoved.
	By string `json:"by,omitempty"`
}

// Record is the cone state of one subject. Records are values: every change
// stores a new copy.
type Record struct {
	SubjectID     string       `json:"subject_id"`
	TargetName    string       `json:"target_name"`
	Effect        Effect       `json:"effect"`
	Active        bool         `json:"active"`
	AppliedBy     string       `json:"applied_by"`
	Reason        string       `json:"reason,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
	ExpiresAt     *time.Time   `json:"expires_at,omitempty"`
	Condition     *Condition   `json:"condition,omitempty"`
	DurationLabel string       `json:"duration_label"`
	Termination   *Termination `json:"termination,omitempty"`
}

// Registry holds at most one Record per subject id. Operations on one subject are
// serialized; different subjects proceed independently.
type Registry struct {
	mu      sync.RWMutex
	records map[string]Record

	locks   keylock.Table
	allowed map[string]struct{}
	now     func() time.Time
	xf      Transformer
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithTransformer sets the collaborator used by EvaluateAndTransform.
func WithTransformer(t Transformer) Option {
	return func(r *Registry) { r.xf = t }
}

// NewRegistry returns an empty registry. allowed lists requester ids or names
// (compared case-insensitively) permitted to apply and remove cones.
func NewRegistry(allowed []string, opts ...Option) *Registry {
	r := &Registry{
		records: make(map[string]Record),
		allowed: make(map[string]struct{}, len(allowed)),
		now:     time.Now,
		xf:      Passthrough{},
	}
	for _, a := range allowed {
		if a = strings.ToLower(strings.TrimSpace(a)); a != "" {
			r.allowed[a] = struct{}{}
		}
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Requester identifies who asks for an administrative cone operation.
type Requester struct {
	ID   string
	Name string
}

func (q Requester) String() string {
	if q.Name != "" {
		return q.Name
	}
	return q.ID
}

// Allowed reports whether q may apply or remove cones.
func (r *Registry) Allowed(q Requester) bool {
	for _, k := range []string{q.ID, q.Name} {
		if k == "" {
			continue
		}
		if _, ok := r.allowed[strings.ToLower(k)]; ok {
			return true
		}
	}
	return false
}

// ApplyRequest describes a cone to apply.
type ApplyRequest struct {
	SubjectID  string
	TargetName string
	Effect     string
	Requester  Requester
	Reason     string
	Duration   string
	Condition  string
}

// ApplyResult is the outcome of Apply.
type ApplyResult struct {
	Record Record
	// Overrode is the effect of the active record this apply replaced, if any.
	Overrode Effect
	Message  string
}

// Apply writes a new record for the subject, replacing any previous one.
func (r *Registry) Apply(ctx context.Context, req ApplyRequest) (ApplyResult, error) {
	const op = "cone.apply"
	if !r.Allowed(req.Requester) {
		return ApplyResult{}, apperr.Permission(op, PermissionDenied)
	}
	effect, err := ParseEffect(req.Effect)
	if err != nil {
		return ApplyResult{}, err
	}
	if strings.TrimSpace(req.SubjectID) == "" {
		return ApplyResult{}, apperr.Validation(op, "subject id is required")
	}

	life := ParseDuration(req.Duration)
	cond := ParseCondition(req.Condition)
	if cond == nil && strings.TrimSpace(req.Condition) == "" && !life.Matched {
		cond = ParseCondition(req.Duration)
	}

	unlock, err := r.locks.Lock(ctx, req.SubjectID)
	if err != nil {
		return ApplyResult{}, err
	}
	defer unlock()

	now := r.now()
	rec := Record{
		SubjectID:     req.SubjectID,
		TargetName:    req.TargetName,
		Effect:        effect,
		Active:        true,
		AppliedBy:     req.Requester.String(),
		Reason:        req.Reason,
		CreatedAt:     now,
		Condition:     cond,
		DurationLabel: life.Label,
	}
	if rec.TargetName == "" {
		rec.TargetName = req.SubjectID
	}
	if life.Duration > 0 {
		exp := now.Add(life.Duration)
		rec.ExpiresAt = &exp
	}
	if cond != nil && life.Duration == 0 {
		rec.DurationLabel = cond.Describe()
	}

	res := ApplyResult{Record: rec}
	r.mu.Lock()
	if prev, ok := r.records[req.SubjectID]; ok && prev.Active {
		res.Overrode = prev.Effect
	}
	r.records[req.SubjectID] = rec
	r.mu.Unlock()
	r.publish()

	res.Message = fmt.Sprintf("✅ Successfully coned %s with %s (%s)", rec.TargetName, effect, rec.DurationLabel)
	if cond != nil && life.Duration > 0 {
		res.Message += ", or " + cond.Describe()
	}
	if res.Overrode != "" {
		res.Message += fmt.Sprintf(". Replaced previous %s cone", res.Overrode)
	}
	telemetry.CountConeApplied()
	logger().Info("cone applied",
		slog.String("subject", rec.SubjectID),
		slog.String("effect", string(effect)),
		slog.String("by", rec.AppliedBy),
		slog.String("duration", rec.DurationLabel))
	if !Supported(r.xf, effect) {
		logger().Warn("no transformer for effect, messages will pass through unchanged",
			slog.String("subject", rec.SubjectID),
			slog.String("effect", string(effect)))
	}
	return res, nil
}

// Outcome is the result of one evaluation.
type Outcome int

const (
	// OutcomeNone means no active record exists.
	OutcomeNone Outcome = iota
	OutcomeExpired
	OutcomeConditionMet
	OutcomeActive
)

func (o Outcome) String() string {
	switch o {
	case OutcomeExpired:
		return "expired"
	case OutcomeConditionMet:
		return "condition_met"
	case OutcomeActive:
		return "active"
	}
	return "none"
}

// Evaluation is returned by Evaluate.
type Evaluation struct {
	Outcome Outcome
	Effect  Effect
	Record  Record
}

// Evaluate checks the subject's record against the clock and the message text.
// Expiry is checked before the condition. The only error is ctx cancellation.
func (r *Registry) Evaluate(ctx context.Context, subjectID, text string) (Evaluation, error) {
	unlock, err := r.locks.Lock(ctx, subjectID)
	if err != nil {
		return Evaluation{}, err
	}
	defer unlock()
	return r.evaluateLocked(subjectID, text), nil
}

// EvaluateAndTransform evaluates and, while the subject is still coned, runs the
// transform before releasing the subject. transformed is only set for OutcomeActive.
func (r *Registry) EvaluateAndTransform(ctx context.Context, subjectID, text string) (Evaluation, string, error) {
	unlock, err := r.locks.Lock(ctx, subjectID)
	if err != nil {
		return Evaluation{}, "", err
	}
	defer unlock()
	ev := r.evaluateLocked(subjectID, text)
	if ev.Outcome != OutcomeActive {
		return ev, "", nil
	}
	return ev, SafeTransform(r.xf, text, ev.Effect), nil
}

func (r *Registry) evaluateLocked(subjectID, text string) Evaluation {
	r.mu.RLock()
	rec, ok := r.records[subjectID]
	r.mu.RUnlock()
	if !ok || !rec.Active {
		return Evaluation{Outcome: OutcomeNone, Record: rec}
	}

	now := r.now()
	var out Outcome
	switch {
	case rec.ExpiresAt != nil && now.After(*rec.ExpiresAt):
		rec.Active = false
		rec.Termination = &Termination{Cause: CauseExpired, At: now}
		out = OutcomeExpired
	case rec.Condition.Matches(text):
		rec.Active = false
		rec.Termination = &Termination{Cause: CauseConditionMet, At: now}
		out = OutcomeConditionMet
	default:
		return Evaluation{Outcome: OutcomeActive, Effect: rec.Effect, Record: rec}
	}

	r.mu.Lock()
	r.records[subjectID] = rec
	r.mu.Unlock()
	r.publish()
	telemetry.CountConeTransition(string(rec.Termination.Cause))
	logger().Info("cone ended",
		slog.String("subject", subjectID),
		slog.String("effect", string(rec.Effect)),
		slog.String("cause", string(rec.Termination.Cause)))
	return Evaluation{Outcome: out, Effect: rec.Effect, Record: rec}
}

// RemoveResult is the outcome of Remove.
type RemoveResult struct {
	// NotActive is set when there was no active record; nothing was changed.
	NotActive bool
	Record    Record
	Message   string
}

// Remove deactivates the subject's active record.
func (r *Registry) Remove(ctx context.Context, subjectID string, q Requester) (RemoveResult, error) {
	if !r.Allowed(q) {
		return RemoveResult{}, apperr.Permission("cone.remove", PermissionDenied)
	}
	unlock, err := r.locks.Lock(ctx, subjectID)
	if err != nil {
		return RemoveResult{}, err
	}
	defer unlock()

	r.mu.RLock()
	rec, ok := r.records[subjectID]
	r.mu.RUnlock()
	if !ok || !rec.Active {
		name := subjectID
		if ok && rec.TargetName != "" {
			name = rec.TargetName
		}
		return RemoveResult{NotActive: true, Record: rec, Message: fmt.Sprintf("%s is not currently coned", name)}, nil
	}

	rec.Active = false
	rec.Termination = &Termination{Cause: CauseRemoved, At: r.now(), By: q.String()}
	r.mu.Lock()
	r.records[subjectID] = rec
	r.mu.Unlock()
	r.publish()

	telemetry.CountConeTransition(string(CauseRemoved))
	logger().Info("cone removed", slog.String("subject", subjectID), slog.String("by", q.String()))
	return RemoveResult{Record: rec, Message: fmt.Sprintf("✅ Successfully unconed %s", rec.TargetName)}, nil
}

// Get returns a copy of the subject's record.
func (r *Registry) Get(subjectID string) (Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[subjectID]
	return rec, ok
}

// FindByName returns the subject id whose record targets name (case-insensitive).
func (r *Registry) FindByName(name string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for id, rec := range r.records {
		if strings.EqualFold(rec.TargetName, name) {
			return id, true
		}
	}
	return "", false
}

// ActiveCount is the number of active records.
func (r *Registry) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, rec := range r.records {
		if rec.Active {
			n++
		}
	}
	return n
}

func (r *Registry) publish() {
	telemetry.SetActiveCones(r.ActiveCount())
}

func logger() *slog.Logger {
	return slog.Default().With(slog.String("component", "cone"))
}
