// Package twitchapi contains minimal helpers for Twitch Helix: resolving chat
// logins to stable user ids with an app access token, and refreshing the chat
// bot's user token.
package twitchapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"golang.org/x/oauth2"

	"github.com/onnwee/ghostbot/apperr"
)

// DefaultBaseURL is the Helix API root.
const DefaultBaseURL = "https://api.twitch.tv/helix"

// User is one Helix user record.
type User struct {
	ID          string `json:"id"`
	Login       string `json:"login"`
	DisplayName string `json:"display_name"`
}

// HelixClient resolves logins to user ids.
type HelixClient struct {
	ClientID string
	BaseURL  string
	// HTTPClient attaches the bearer token; see NewHelixClient.
	HTTPClient *http.Client
}

// Options overrides endpoints, for tests.
type Options struct {
	BaseURL  string
	TokenURL string
	// Transport is used for both token and API requests.
	HTTPClient *http.Client
}

// NewHelixClient returns a client authenticating with client credentials.
func NewHelixClient(ctx context.Context, clientID, clientSecret string, opts Options) (*HelixClient, error) {
	ctx = withHTTPClient(ctx, opts.HTTPClient)
	ts, err := AppTokenSource(ctx, clientID, clientSecret, opts.TokenURL)
	if err != nil {
		return nil, err
	}
	base := opts.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	return &HelixClient{
		ClientID:   clientID,
		BaseURL:    strings.TrimRight(base, "/"),
		HTTPClient: oauth2.NewClient(ctx, ts),
	}, nil
}

// GetUsers looks up logins (max 100 per Helix call) and returns the users found,
// keyed by lowercased login.
func (hc *HelixClient) GetUsers(ctx context.Context, logins ...string) (map[string]User, error) {
	out := make(map[string]User, len(logins))
	for start := 0; start < len(logins); start += 100 {
		end := min(start+100, len(logins))
		if err := hc.getUsers(ctx, logins[start:end], out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (hc *HelixClient) getUsers(ctx context.Context, logins []string, out map[string]User) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, hc.BaseURL+"/users", nil)
	if err != nil {
		return err
	}
	q := req.URL.Query()
	for _, l := range logins {
		if l = strings.ToLower(strings.TrimSpace(l)); l != "" {
			q.Add("login", l)
		}
	}
	req.URL.RawQuery = q.Encode()
	req.Header.Set("Client-Id", hc.ClientID)
	resp, err := hc.HTTPClient.Do(req)
	if err != nil {
		return apperr.Wrap(apperr.KindCollaborator, "helix.users", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return apperr.Wrap(apperr.KindCollaborator, "helix.users", fmt.Errorf("%s: %s", resp.Status, strings.TrimSpace(string(b))))
	}
	var body struct {
		Data []User `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return apperr.Wrap(apperr.KindCollaborator, "helix.users", err)
	}
	for _, u := range body.Data {
		out[strings.ToLower(u.Login)] = u
	}
	return nil
}

// GetUserID resolves a login name to its user ID.
func (hc *HelixClient) GetUserID(ctx context.Context, login string) (string, error) {
	login = strings.TrimPrefix(strings.TrimSpace(login), "@")
	if login == "" {
		return "", apperr.Validation("helix.user_id", "login empty")
	}
	users, err := hc.GetUsers(ctx, login)
	if err != nil {
		return "", err
	}
	u, ok := users[strings.ToLower(login)]
	if !ok {
		return "", apperr.NotFound("helix.user_id", "twitch user %s not found", login)
	}
	return u.ID, nil
}
