// Package pipeline runs one inbound chat message through identity resolution,
// the cone state machine, the conversation window, and the summary lifecycle.
package pipeline

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/onnwee/ghostbot/apperr"
	"github.com/onnwee/ghostbot/cone"
	"github.com/onnwee/ghostbot/config"
	"github.com/onnwee/ghostbot/identity"
	"github.com/onnwee/ghostbot/telemetry"
)

// Message is one inbound chat message.
type Message struct {
	Platform string
	UserID   string
	Username string
	Nickname string
	Content  string
}

// Result describes what happened to a message.
type Result struct {
	CorrelationID string
	// State is a snapshot of the sender's record after handling.
	State *identity.UserState
	// LinkNotice is set when the sender was automatically linked to an existing record.
	LinkNotice string
	Cone       cone.Evaluation
	// Replaced is set when the sender is coned; Replacement is the text to post instead.
	Replaced    bool
	Replacement string
	Summary     identity.SummaryOutcome
}

// Pipeline wires the identity coordinator, the cone registry, and the save queue.
type Pipeline struct {
	coord   *identity.Coordinator
	cones   *cone.Registry
	saver   identity.Saver
	botName string
}

// New returns a pipeline. botName labels the bot's own replies in conversation windows.
func New(coord *identity.Coordinator, cones *cone.Registry, saver identity.Saver, botName string) *Pipeline {
	if botName == "" {
		botName = "Ghost"
	}
	return &Pipeline{coord: coord, cones: cones, saver: saver, botName: botName}
}

// Coordinator exposes the identity coordinator for command handlers.
func (p *Pipeline) Coordinator() *identity.Coordinator { return p.coord }

// Cones exposes the cone registry for command handlers.
func (p *Pipeline) Cones() *cone.Registry { return p.cones }

// Handle processes msg. The sender's identity lock is held from the cone check
// until the message is appended, so two messages from the same person (on any
// linked platform) are handled one at a time. Summary failures are logged and do
// not fail the message.
func (p *Pipeline) Handle(ctx context.Context, msg Message) (Result, error) {
	if msg.Platform == "" || msg.UserID == "" {
		return Result{}, apperr.Validation("pipeline.handle", "platform and user id are required")
	}
	corr := telemetry.GetCorrelation(ctx)
	if corr == "" {
		corr = uuid.NewString()
		ctx = telemetry.WithCorrelation(ctx, corr)
	}
	ctx, span := telemetry.StartSpan(ctx, "pipeline", "handle-message",
		telemetry.PlatformAttr(msg.Platform))
	defer span.End()
	log := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "pipeline"), slog.String("platform", msg.Platform))

	start := time.Now()
	defer func() {
		if telemetry.HandleDuration != nil {
			telemetry.HandleDuration.Observe(time.Since(start).Seconds())
		}
	}()

	res := Result{CorrelationID: corr}
	store := p.coord.Store()
	_, res.LinkNotice = store.Resolve(msg.Platform, msg.UserID, msg.Username, msg.Nickname)
	if res.LinkNotice != "" {
		log.Info("account auto-linked", slog.String("user_id", msg.UserID))
	}

	st, unlock, err := store.Lock(ctx, msg.Platform, msg.UserID)
	if err != nil {
		telemetry.RecordError(span, err)
		return res, err
	}
	span.SetAttributes(telemetry.IdentityAttr(st.ID))

	ev, replacement, err := p.cones.EvaluateAndTransform(ctx, msg.UserID, msg.Content)
	if err != nil {
		unlock()
		telemetry.RecordError(span, err)
		return res, err
	}
	res.Cone = ev
	if ev.Outcome == cone.OutcomeActive {
		res.State = store.View(st)
		unlock()
		res.Replaced = true
		res.Replacement = replacement
		telemetry.CountMessage(true)
		log.Debug("message transformed", slog.String("effect", string(ev.Effect)))
		telemetry.SetSpanSuccess(span)
		return res, nil
	}

	store.AddMessage(st, msg.Content, false, msg.Username)
	res.Summary, err = p.coord.RefreshLocked(ctx, st, false)
	if err != nil {
		log.Warn("summary refresh failed", slog.Any("err", err))
	}
	res.State = store.View(st)
	unlock()

	p.saver.Request()
	telemetry.CountMessage(false)
	telemetry.SetSpanSuccess(span)
	return res, nil
}

// RecordReply appends the bot's reply to the sender's window. Administrative
// tool outcomes ("Successfully coned ...") are not conversation and are skipped.
func (p *Pipeline) RecordReply(ctx context.Context, platform, userID, reply string) error {
	reply = strings.TrimSpace(reply)
	if reply == "" || config.IsToolResponse(reply) {
		return nil
	}
	st, unlock, err := p.coord.Store().Lock(ctx, platform, userID)
	if err != nil {
		return err
	}
	p.coord.Store().AddMessage(st, reply, true, p.botName)
	unlock()
	p.saver.Request()
	return nil
}
