package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/onnwee/ghostbot/apperr"
	"github.com/onnwee/ghostbot/cone"
)

type coneApplyRequest struct {
	SubjectID     string `json:"subject_id"`
	TargetLogin   string `json:"target_login"`
	RequesterID   string `json:"requester_id"`
	RequesterName string `json:"requester_name"`
	Effect        string `json:"effect"`
	Reason        string `json:"reason"`
	Duration      string `json:"duration"`
	Condition     string `json:"condition"`
}

type coneStatusView struct {
	SubjectID   string     `json:"subject_id"`
	TargetName  string     `json:"target_name"`
	Found       bool       `json:"found"`
	Active      bool       `json:"active"`
	Effect      string     `json:"effect,omitempty"`
	AppliedBy   string     `json:"applied_by,omitempty"`
	Reason      string     `json:"reason,omitempty"`
	Permanent   bool       `json:"permanent,omitempty"`
	Remaining   string     `json:"remaining,omitempty"`
	Condition   string     `json:"condition,omitempty"`
	Cause       string     `json:"cause,omitempty"`
	CauseAt     *time.Time `json:"cause_at,omitempty"`
	CauseBy     string     `json:"cause_by,omitempty"`
	Description string     `json:"description"`
}

func statusView(st cone.Status) coneStatusView {
	v := coneStatusView{
		SubjectID:   st.SubjectID,
		TargetName:  st.TargetName,
		Found:       st.Found,
		Active:      st.Active,
		Effect:      string(st.Effect),
		AppliedBy:   st.AppliedBy,
		Reason:      st.Reason,
		Permanent:   st.Permanent,
		Condition:   st.Condition,
		Cause:       string(st.Cause),
		CauseBy:     st.CauseBy,
		Description: st.Describe(),
	}
	if st.Active && !st.Permanent {
		v.Remaining = cone.RemainingText(st.Remaining)
	}
	if !st.CauseAt.IsZero() {
		at := st.CauseAt
		v.CauseAt = &at
	}
	return v
}

// resolveSubject turns a login into a cone subject id. Helix is authoritative when
// configured; otherwise only logins already present in the registry resolve.
func (h *Handlers) resolveSubject(ctx context.Context, subjectID, login string) (string, string, error) {
	login = strings.TrimPrefix(strings.TrimSpace(login), "@")
	if subjectID != "" {
		if login == "" {
			login = subjectID
		}
		return subjectID, login, nil
	}
	if login == "" {
		return "", "", apperr.Validation("http.cone", "subject_id or target_login is required")
	}
	if h.helix != nil {
		id, err := h.helix.GetUserID(ctx, login)
		if err != nil {
			if apperr.KindOf(err) == apperr.KindNotFound {
				return "", "", apperr.NotFound("http.cone", "❌ Could not find user %s", login)
			}
			return "", "", err
		}
		return id, login, nil
	}
	if id, ok := h.pipe.Cones().FindByName(login); ok {
		return id, login, nil
	}
	return "", "", apperr.NotFound("http.cone", "❌ Could not find user %s", login)
}

// HandleConeApply applies an effect to a subject.
func (h *Handlers) HandleConeApply(w http.ResponseWriter, r *http.Request) {
	var req coneApplyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	subject, name, err := h.resolveSubject(r.Context(), req.SubjectID, req.TargetLogin)
	if err != nil {
		writeError(w, r, err)
		return
	}
	res, err := h.pipe.Cones().Apply(r.Context(), cone.ApplyRequest{
		SubjectID:  subject,
		TargetName: name,
		Effect:     req.Effect,
		Requester:  cone.Requester{ID: req.RequesterID, Name: req.RequesterName},
		Reason:     req.Reason,
		Duration:   req.Duration,
		Condition:  req.Condition,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.saver.Request()
	writeJSON(w, http.StatusOK, map[string]any{
		"message":  res.Message,
		"overrode": string(res.Overrode),
		"status":   statusView(h.pipe.Cones().Status(subject)),
	})
}

// HandleConeRemove deactivates a subject's cone. The requester is taken from the
// requester_id and requester_name query parameters.
func (h *Handlers) HandleConeRemove(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	subject := r.PathValue("subject")
	res, err := h.pipe.Cones().Remove(r.Context(), subject, cone.Requester{
		ID:   q.Get("requester_id"),
		Name: q.Get("requester_name"),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !res.NotActive {
		h.saver.Request()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message":    res.Message,
		"not_active": res.NotActive,
	})
}

// HandleConeStatus reports a subject's cone state without changing it.
func (h *Handlers) HandleConeStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, statusView(h.pipe.Cones().Status(r.PathValue("subject"))))
}
