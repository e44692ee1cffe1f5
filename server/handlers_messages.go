package server

import (
	"net/http"

	"github.com/onnwee/ghostbot/apperr"
	"github.com/onnwee/ghostbot/pipeline"
)

type messageRequest struct {
	Platform string `json:"platform"`
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Nickname string `json:"nickname"`
	Content  string `json:"content"`
}

type messageResponse struct {
	CorrelationID string        `json:"correlation_id"`
	Identity      *identityView `json:"identity"`
	LinkNotice    string        `json:"link_notice,omitempty"`
	Cone          string        `json:"cone"`
	Replaced      bool          `json:"replaced"`
	Replacement   string        `json:"replacement,omitempty"`
	Summary       string        `json:"summary"`
}

// HandleMessage ingests one chat message from a platform adapter.
func (h *Handlers) HandleMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	res, err := h.pipe.Handle(r.Context(), pipeline.Message{
		Platform: req.Platform,
		UserID:   req.UserID,
		Username: req.Username,
		Nickname: req.Nickname,
		Content:  req.Content,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{
		CorrelationID: res.CorrelationID,
		Identity:      viewOf(res.State),
		LinkNotice:    res.LinkNotice,
		Cone:          res.Cone.Outcome.String(),
		Replaced:      res.Replaced,
		Replacement:   res.Replacement,
		Summary:       res.Summary.Message(),
	})
}

type replyRequest struct {
	Platform string `json:"platform"`
	UserID   string `json:"user_id"`
	Content  string `json:"content"`
}

// HandleReply records the bot's reply in the addressee's conversation window.
func (h *Handlers) HandleReply(w http.ResponseWriter, r *http.Request) {
	var req replyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Platform == "" || req.UserID == "" {
		writeError(w, r, apperr.Validation("http.reply", "platform and user_id are required"))
		return
	}
	if err := h.pipe.RecordReply(r.Context(), req.Platform, req.UserID, req.Content); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleIdentity returns the record a platform account resolves to.
func (h *Handlers) HandleIdentity(w http.ResponseWriter, r *http.Request) {
	store := h.pipe.Coordinator().Store()
	st, unlock, err := store.Lock(r.Context(), r.PathValue("platform"), r.PathValue("user_id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	view := store.View(st)
	unlock()
	writeJSON(w, http.StatusOK, viewOf(view))
}
