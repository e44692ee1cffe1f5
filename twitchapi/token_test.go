package twitchapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestAppTokenSourceRequiresCredentials(t *testing.T) {
	if _, err := AppTokenSource(context.Background(), "", "secret", ""); err == nil {
		t.Error("expected error for missing client id")
	}
	if _, err := AppTokenSource(context.Background(), "id", "", ""); err == nil {
		t.Error("expected error for missing client secret")
	}
}

func TestBotTokenSourceRefreshes(t *testing.T) {
	var form map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Fatal(err)
		}
		form = map[string]string{
			"grant_type":    r.PostForm.Get("grant_type"),
			"refresh_token": r.PostForm.Get("refresh_token"),
			"client_id":     r.PostForm.Get("client_id"),
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "fresh",
			"refresh_token": "next",
			"expires_in":    3600,
			"token_type":    "bearer",
		})
	}))
	defer server.Close()

	ts, err := BotTokenSource(context.Background(), "id", "secret", "r1", server.URL)
	if err != nil {
		t.Fatal(err)
	}
	tok, err := ts.Token()
	if err != nil {
		t.Fatal(err)
	}
	if tok.AccessToken != "fresh" {
		t.Errorf("access token = %q", tok.AccessToken)
	}
	if form["grant_type"] != "refresh_token" || form["refresh_token"] != "r1" || form["client_id"] != "id" {
		t.Errorf("form = %v", form)
	}
}

func TestBotTokenSourceRequiresRefreshToken(t *testing.T) {
	if _, err := BotTokenSource(context.Background(), "id", "secret", "", ""); err == nil {
		t.Fatal("expected error")
	}
}

func TestIRCToken(t *testing.T) {
	tests := map[string]string{
		"abc":       "oauth:abc",
		"oauth:abc": "oauth:abc",
		" abc ":     "oauth:abc",
		"":          "",
	}
	for in, want := range tests {
		if got := IRCToken(in); got != want {
			t.Errorf("IRCToken(%q) = %q, want %q", in, got, want)
		}
	}
}
