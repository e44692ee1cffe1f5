package chat

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	twitch "github.com/gempir/go-twitch-irc/v4"
	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/onnwee/ghostbot/telemetry"
	"github.com/onnwee/ghostbot/twitchapi"
)

// Adapter owns the IRC connection for one channel.
type Adapter struct {
	Channel  string
	Username string
	// Token is a static chat token; Tokens, when set, supplies a fresh one per connect.
	Token   string
	Tokens  oauth2.TokenSource
	Handler *Handler

	// ReconnectDelay is the pause before reconnecting after a dropped connection.
	ReconnectDelay time.Duration
}

func (a *Adapter) ircToken() (string, error) {
	if a.Tokens != nil {
		tok, err := a.Tokens.Token()
		if err != nil {
			return "", err
		}
		return twitchapi.IRCToken(tok.AccessToken), nil
	}
	if a.Token == "" {
		return "", errors.New("no twitch chat token")
	}
	return twitchapi.IRCToken(a.Token), nil
}

// Run connects and serves the channel until ctx is done, reconnecting after
// connection loss.
func (a *Adapter) Run(ctx context.Context) error {
	if a.Channel == "" || a.Username == "" {
		slog.Info("twitch creds not set; skipping chat adapter")
		return nil
	}
	delay := a.ReconnectDelay
	if delay <= 0 {
		delay = 10 * time.Second
	}
	slog.Info("chat adapter started", slog.String("channel", a.Channel), slog.String("component", "chat"))
	for {
		err := a.connectOnce(ctx)
		if ctx.Err() != nil {
			slog.Info("chat adapter stopped", slog.String("component", "chat"))
			return nil
		}
		slog.Warn("twitch chat disconnected; reconnecting", slog.Any("err", err), slog.Duration("delay", delay), slog.String("component", "chat"))
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
	}
}

func (a *Adapter) connectOnce(ctx context.Context) error {
	token, err := a.ircToken()
	if err != nil {
		return err
	}
	client := twitch.NewClient(a.Username, token)
	channel := strings.ToLower(strings.TrimPrefix(a.Channel, "#"))

	client.OnConnect(func() {
		slog.Info("twitch chat connected", slog.String("channel", channel), slog.String("component", "chat"))
	})
	client.OnPrivateMessage(func(msg twitch.PrivateMessage) {
		if strings.EqualFold(msg.User.Name, a.Username) {
			return
		}
		mctx := telemetry.WithCorrelation(ctx, uuid.NewString())
		for _, line := range a.Handler.Handle(mctx, Incoming{
			ID:          msg.ID,
			Channel:     msg.Channel,
			UserID:      msg.User.ID,
			Login:       msg.User.Name,
			DisplayName: msg.User.DisplayName,
			Text:        msg.Message,
		}) {
			client.Say(msg.Channel, line)
		}
	})

	// Handle context cancellation by closing the client
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = client.Disconnect()
		case <-done:
		}
	}()

	client.Join(channel)
	return client.Connect()
}
