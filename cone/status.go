package cone

import (
	"fmt"
	"time"
)

// Status is a read-only projection of a subject's record.
type Status struct {
	SubjectID  string
	TargetName string
	Found      bool
	Active     bool
	Effect     Effect
	AppliedBy  string
	Reason     string
	// Permanent is set for active records without expiry.
	Permanent bool
	Remaining time.Duration
	Condition string
	// Cause is set for inactive records.
	Cause   Cause
	CauseAt time.Time
	CauseBy string
}

// Status reports the subject's cone state. It never mutates the record; an
// active record past its expiry is reported as expired.
func (r *Registry) Status(subjectID string) Status {
	rec, ok := r.Get(subjectID)
	st := Status{SubjectID: subjectID, TargetName: subjectID, Found: ok}
	if !ok {
		return st
	}
	st.TargetName = rec.TargetName
	st.Effect = rec.Effect
	st.AppliedBy = rec.AppliedBy
	st.Reason = rec.Reason
	st.Condition = rec.Condition.Describe()

	if !rec.Active {
		if t := rec.Termination; t != nil {
			st.Cause, st.CauseAt, st.CauseBy = t.Cause, t.At, t.By
		}
		return st
	}
	now := r.now()
	if rec.ExpiresAt == nil {
		st.Active = true
		st.Permanent = true
		return st
	}
	if now.After(*rec.ExpiresAt) {
		st.Cause, st.CauseAt = CauseExpired, *rec.ExpiresAt
		return st
	}
	st.Active = true
	st.Remaining = rec.ExpiresAt.Sub(now)
	return st
}

// RemainingText buckets the remaining time into seconds, minutes or hours.
func RemainingText(d time.Duration) string {
	switch {
	case d < time.Minute:
		return plural(int(d/time.Second), "second")
	case d < time.Hour:
		return plural(int(d/time.Minute), "minute")
	default:
		return plural(int(d/time.Hour), "hour")
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, unit)
	}
	return fmt.Sprintf("%d %ss", n, unit)
}

// Describe renders the status for chat.
func (s Status) Describe() string {
	if !s.Found {
		return fmt.Sprintf("%s has never been coned", s.TargetName)
	}
	if s.Active {
		msg := fmt.Sprintf("%s is coned with %s", s.TargetName, s.Effect)
		if s.Permanent {
			msg += " permanently"
		} else {
			msg += fmt.Sprintf(" for %s more", RemainingText(s.Remaining))
		}
		if s.Condition != "" {
			msg += ", or " + s.Condition
		}
		return msg
	}
	switch s.Cause {
	case CauseRemoved:
		return fmt.Sprintf("%s is not coned. %s removed the %s cone at %s", s.TargetName, s.CauseBy, s.Effect, s.CauseAt.Format(time.RFC3339))
	case CauseExpired:
		return fmt.Sprintf("%s is not coned. The %s cone expired at %s", s.TargetName, s.Effect, s.CauseAt.Format(time.RFC3339))
	case CauseConditionMet:
		return fmt.Sprintf("%s is not coned. The %s cone ended when the condition was met at %s", s.TargetName, s.Effect, s.CauseAt.Format(time.RFC3339))
	}
	return fmt.Sprintf("%s is not coned", s.TargetName)
}
