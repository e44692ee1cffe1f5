package chat

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"unicode"

	"github.com/onnwee/ghostbot/apperr"
	"github.com/onnwee/ghostbot/identity"
	"github.com/onnwee/ghostbot/pipeline"
	"github.com/onnwee/ghostbot/telemetry"
)

// Platform is the identity platform name for Twitch accounts.
const Platform = "twitch"

// Incoming is one chat message, decoupled from the IRC library.
type Incoming struct {
	ID          string
	Channel     string
	UserID      string
	Login       string
	DisplayName string
	Text        string
}

// Handler turns incoming messages into replies.
type Handler struct {
	pipe *pipeline.Pipeline
}

// NewHandler returns a handler over pipe.
func NewHandler(pipe *pipeline.Pipeline) *Handler { return &Handler{pipe: pipe} }

// Handle processes one message and returns the lines to post, already
// addressed to the sender.
func (h *Handler) Handle(ctx context.Context, in Incoming) []string {
	log := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "chat"), slog.String("user", in.Login))
	if cmd, ok := parseCommand(in.Text); ok {
		if reply, handled := h.command(ctx, in, cmd); handled {
			return []string{address(in, reply)}
		}
	}

	res, err := h.pipe.Handle(ctx, pipeline.Message{
		Platform: Platform,
		UserID:   in.UserID,
		Username: in.Login,
		Nickname: in.DisplayName,
		Content:  in.Text,
	})
	if err != nil {
		log.Error("message handling failed", slog.Any("err", err))
		return nil
	}
	var out []string
	if res.LinkNotice != "" {
		out = append(out, address(in, res.LinkNotice))
	}
	if res.Replaced && res.Replacement != "" {
		out = append(out, address(in, res.Replacement))
	}
	return out
}

func (h *Handler) command(ctx context.Context, in Incoming, cmd string) (string, bool) {
	coord := h.pipe.Coordinator()
	switch cmd {
	case "ping":
		return "pong!", true
	case "update_summary":
		coord.Store().Resolve(Platform, in.UserID, in.Login, in.DisplayName)
		out, err := coord.ForceRefresh(ctx, Platform, in.UserID)
		if err != nil {
			slog.Warn("forced summary update failed", slog.Any("err", err), slog.String("component", "chat"))
		}
		return out.Message(), true
	case "confirm_link":
		res, err := coord.ConfirmLink(ctx, Platform, in.UserID, in.Login)
		if err != nil {
			if errors.Is(err, apperr.ErrNotFound) {
				return identity.NoPendingMessage, true
			}
			if ae := (*apperr.Error)(nil); errors.As(err, &ae) && ae.Kind == apperr.KindValidation {
				return "Can't link: " + ae.Msg, true
			}
			slog.Error("error in confirm_link", slog.Any("err", err), slog.String("component", "chat"))
			return "Failed to link accounts", true
		}
		return res.Message, true
	}
	return "", false
}

// parseCommand reads "!cmd" or "/cmd", lowercased with non-printable runes
// (Twitch duplicate-message padding) removed.
func parseCommand(text string) (string, bool) {
	if !strings.HasPrefix(text, "!") && !strings.HasPrefix(text, "/") {
		return "", false
	}
	cmd := strings.Map(func(r rune) rune {
		if !unicode.IsPrint(r) {
			return -1
		}
		return r
	}, strings.ToLower(strings.TrimSpace(text[1:])))
	cmd = strings.TrimSpace(cmd)
	return cmd, cmd != ""
}

func address(in Incoming, text string) string {
	return "@" + in.Login + " " + text
}
