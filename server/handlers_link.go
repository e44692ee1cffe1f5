package server

import (
	"net/http"

	"github.com/onnwee/ghostbot/apperr"
)

type linkRequest struct {
	Platform          string `json:"platform"`
	UserID            string `json:"user_id"`
	SecondaryUsername string `json:"secondary_username"`
}

// HandleLinkRequest records a pending link from an account to a username on
// another platform. It answers only once the request is durable.
func (h *Handlers) HandleLinkRequest(w http.ResponseWriter, r *http.Request) {
	var req linkRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Platform == "" || req.UserID == "" {
		writeError(w, r, apperr.Validation("http.link_request", "platform and user_id are required"))
		return
	}
	if err := h.pipe.Coordinator().CreateLinkRequest(r.Context(), req.Platform, req.UserID, req.SecondaryUsername); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "pending", "secondary_username": req.SecondaryUsername})
}

type confirmRequest struct {
	Platform string `json:"platform"`
	UserID   string `json:"user_id"`
	Username string `json:"username"`
}

// HandleLinkConfirm completes the pending link addressed to the calling account.
func (h *Handlers) HandleLinkConfirm(w http.ResponseWriter, r *http.Request) {
	var req confirmRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Platform == "" || req.UserID == "" || req.Username == "" {
		writeError(w, r, apperr.Validation("http.link_confirm", "platform, user_id and username are required"))
		return
	}
	res, err := h.pipe.Coordinator().ConfirmLink(r.Context(), req.Platform, req.UserID, req.Username)
	if err != nil {
		writeError(w, r, err)
		return
	}
	store := h.pipe.Coordinator().Store()
	st, unlock, err := store.LockID(r.Context(), res.State.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	view := viewOf(store.View(st))
	unlock()
	writeJSON(w, http.StatusOK, map[string]any{
		"message":  res.Message,
		"merged":   res.Merged,
		"partial":  res.Partial,
		"identity": view,
	})
}

type accountRequest struct {
	Platform string `json:"platform"`
	UserID   string `json:"user_id"`
}

// HandleUnlink splits a linked identity back into one record per platform.
func (h *Handlers) HandleUnlink(w http.ResponseWriter, r *http.Request) {
	var req accountRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	split, err := h.pipe.Coordinator().Unlink(r.Context(), req.Platform, req.UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	ids := make([]string, 0, len(split))
	for _, st := range split {
		ids = append(ids, st.ID)
	}
	writeJSON(w, http.StatusOK, map[string]any{"split": ids})
}

// HandleSummaryRefresh forces a summary update for an account.
func (h *Handlers) HandleSummaryRefresh(w http.ResponseWriter, r *http.Request) {
	var req accountRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	out, err := h.pipe.Coordinator().ForceRefresh(r.Context(), req.Platform, req.UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"result": out.Message()})
}

// HandleFlush writes the current state and waits for it to be durable.
func (h *Handlers) HandleFlush(w http.ResponseWriter, r *http.Request) {
	if err := h.saver.Flush(r.Context()); err != nil {
		writeError(w, r, apperr.Wrap(apperr.KindPersistence, "http.flush", err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
