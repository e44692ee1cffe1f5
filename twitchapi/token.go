package twitchapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// Twitch OAuth endpoints.
const (
	AuthURL  = "https://id.twitch.tv/oauth2/authorize"
	TokenURL = "https://id.twitch.tv/oauth2/token"
)

// Endpoint is the Twitch identity provider. Twitch wants client credentials in
// the form body.
var Endpoint = oauth2.Endpoint{
	AuthURL:   AuthURL,
	TokenURL:  TokenURL,
	AuthStyle: oauth2.AuthStyleInParams,
}

// refreshBuffer renews tokens a minute before they expire.
const refreshBuffer = 60 * time.Second

// AppTokenSource returns a cached app access (client credentials) token source.
// tokenURL defaults to TokenURL.
// NOTE: This token CANNOT be used for IRC chat; chat requires a user (bot) token with chat:read/chat:edit scopes.
func AppTokenSource(ctx context.Context, clientID, clientSecret, tokenURL string) (oauth2.TokenSource, error) {
	if clientID == "" || clientSecret == "" {
		return nil, errors.New("missing client id/secret for twitch app token")
	}
	if tokenURL == "" {
		tokenURL = TokenURL
	}
	cc := &clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     tokenURL,
		AuthStyle:    oauth2.AuthStyleInParams,
	}
	return oauth2.ReuseTokenSourceWithExpiry(nil, cc.TokenSource(ctx), refreshBuffer), nil
}

// BotTokenSource refreshes the bot's user token from a long-lived refresh token.
func BotTokenSource(ctx context.Context, clientID, clientSecret, refreshToken, tokenURL string) (oauth2.TokenSource, error) {
	if clientID == "" || clientSecret == "" || refreshToken == "" {
		return nil, errors.New("missing clientID/clientSecret/refreshToken")
	}
	ep := Endpoint
	if tokenURL != "" {
		ep.TokenURL = tokenURL
	}
	cfg := &oauth2.Config{ClientID: clientID, ClientSecret: clientSecret, Endpoint: ep}
	return oauth2.ReuseTokenSourceWithExpiry(nil, cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}), refreshBuffer), nil
}

// IRCToken formats an access token for the IRC PASS command ("oauth:<token>").
func IRCToken(token string) string {
	token = strings.TrimSpace(token)
	if token == "" || strings.HasPrefix(token, "oauth:") {
		return token
	}
	return "oauth:" + token
}

// withHTTPClient makes oauth2 use hc for token requests.
func withHTTPClient(ctx context.Context, hc *http.Client) context.Context {
	if hc == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, hc)
}
