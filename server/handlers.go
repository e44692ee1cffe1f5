package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/onnwee/ghostbot/apperr"
	"github.com/onnwee/ghostbot/config"
	"github.com/onnwee/ghostbot/identity"
	"github.com/onnwee/ghostbot/pipeline"
	"github.com/onnwee/ghostbot/telemetry"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 64 << 10

// UserResolver maps a platform login to its stable user id.
type UserResolver interface {
	GetUserID(ctx context.Context, login string) (string, error)
}

// Check is one readiness probe.
type Check struct {
	Name string
	Fn   func(ctx context.Context) error
}

// Deps are the collaborators the HTTP API is built from.
type Deps struct {
	Pipeline *pipeline.Pipeline
	Saver    identity.Saver
	// Helix is optional; without it cone targets must be given by user id.
	Helix UserResolver
	// Checks run on /readyz in order.
	Checks []Check
	// Access configures admin auth and rate limiting; the zero value disables both.
	Access config.AccessConfig
	// Redis is used for the distributed rate limiter when RATE_LIMIT_BACKEND=redis.
	Redis *goredis.Client
}

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	pipe    *pipeline.Pipeline
	saver   identity.Saver
	helix   UserResolver
	checks  []Check
	started time.Time
}

// NewHandlers creates a new Handlers instance with the given dependencies.
func NewHandlers(deps Deps) *Handlers {
	return &Handlers{
		pipe:    deps.Pipeline,
		saver:   deps.Saver,
		helix:   deps.Helix,
		checks:  deps.Checks,
		started: time.Now(),
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps an error kind to an HTTP status.
func statusFor(err error) int {
	switch apperr.KindOf(err) {
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindPermission:
		return http.StatusForbidden
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindPersistence:
		return http.StatusServiceUnavailable
	case apperr.KindCollaborator:
		return http.StatusBadGateway
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	log := telemetry.LoggerWithCorr(r.Context()).With(slog.String("component", "http"), slog.String("path", r.URL.Path))
	if status >= 500 {
		log.Error("request failed", slog.Int("status", status), slog.Any("err", err))
	} else {
		log.Debug("request rejected", slog.Int("status", status), slog.Any("err", err))
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// decodeJSON reads a bounded JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return apperr.Validation("http.decode", "invalid JSON body: %v", err)
	}
	return nil
}

// identityView is the JSON rendering of a person record.
type identityView struct {
	ID               string                  `json:"id"`
	PrimaryName      string                  `json:"primary_name"`
	Platforms        []string                `json:"platforms"`
	Identifiers      map[string]platformView `json:"identifiers"`
	NameVariants     []string                `json:"name_variants"`
	Relationship     string                  `json:"relationship"`
	LastConversation string                  `json:"last_conversation"`
	SummaryUpdated   time.Time               `json:"summary_updated"`
	RecentMessages   []messageView           `json:"recent_messages"`
	MessageCount     int                     `json:"message_count"`
	TotalMessages    int                     `json:"total_messages"`
	LastInteraction  time.Time               `json:"last_interaction"`
}

type platformView struct {
	UserID      string `json:"user_id"`
	Username    string `json:"username"`
	Nickname    string `json:"nickname,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
}

type messageView struct {
	Content   string    `json:"content"`
	FromBot   bool      `json:"from_bot"`
	Username  string    `json:"username"`
	Timestamp time.Time `json:"timestamp"`
}

func viewOf(st *identity.UserState) *identityView {
	if st == nil {
		return nil
	}
	v := &identityView{
		ID:               st.ID,
		PrimaryName:      st.PrimaryName,
		Platforms:        append([]string(nil), st.Platforms...),
		Identifiers:      make(map[string]platformView, len(st.Identifiers)),
		NameVariants:     st.Variants(),
		Relationship:     st.Summaries.Relationship,
		LastConversation: st.Summaries.LastConversation,
		SummaryUpdated:   st.Summaries.LastUpdated,
		RecentMessages:   make([]messageView, 0, len(st.RecentMessages)),
		MessageCount:     st.MessageCount,
		TotalMessages:    st.TotalMessages,
		LastInteraction:  st.LastInteraction,
	}
	for p, id := range st.Identifiers {
		v.Identifiers[p] = platformView(id)
	}
	for _, m := range st.RecentMessages {
		v.RecentMessages = append(v.RecentMessages, messageView(m))
	}
	return v
}

// HandleStatus reports aggregate counters.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	store := h.pipe.Coordinator().Store()
	out := map[string]any{
		"identities":    store.Len(),
		"aliases":       store.Aliases(),
		"pending_links": store.PendingCount(),
		"active_cones":  h.pipe.Cones().ActiveCount(),
		"uptime":        time.Since(h.started).Round(time.Second).String(),
	}
	if le, ok := h.saver.(interface{ LastErr() error }); ok {
		if err := le.LastErr(); err != nil {
			out["last_save_error"] = err.Error()
		}
	}
	writeJSON(w, http.StatusOK, out)
}
