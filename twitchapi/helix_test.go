package twitchapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/onnwee/ghostbot/apperr"
	"github.com/onnwee/ghostbot/testutil"
)

func newTestClient(t *testing.T, m *testutil.MockTwitchServer) *HelixClient {
	t.Helper()
	hc, err := NewHelixClient(context.Background(), "test-client-id", "test-secret", Options{
		BaseURL:  m.URL + "/helix",
		TokenURL: m.URL + "/oauth2/token",
	})
	if err != nil {
		t.Fatal(err)
	}
	return hc
}

func TestHelixClient_GetUserID(t *testing.T) {
	m := testutil.NewMockTwitchServer(t)
	m.MockOAuthTokenResponse("test-token", 3600)
	m.MockUsers(map[string]string{"testuser": "12345"})
	hc := newTestClient(t, m)

	tests := []struct {
		name    string
		login   string
		want    string
		wantErr error
	}{
		{"successful user lookup", "testuser", "12345", nil},
		{"case and at-sign are ignored", "@TestUser", "12345", nil},
		{"user not found", "nonexistent", "", apperr.ErrNotFound},
		{"empty login", " ", "", apperr.ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := hc.GetUserID(context.Background(), tt.login)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil || got != tt.want {
				t.Fatalf("GetUserID(%q) = %q, %v; want %q", tt.login, got, err, tt.want)
			}
		})
	}
	if n := m.TokenRequests.Load(); n != 1 {
		t.Errorf("token requests = %d, want 1 (cached)", n)
	}
}

func TestHelixClientSendsHeaders(t *testing.T) {
	m := testutil.NewMockTwitchServer(t)
	m.MockOAuthTokenResponse("test-token", 3600)
	m.Handlers["/helix/users"] = func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Client-Id") != "test-client-id" {
			t.Errorf("Client-Id = %q", r.Header.Get("Client-Id"))
		}
		if r.Header.Get("Authorization") != "Bearer test-token" {
			t.Errorf("Authorization = %q", r.Header.Get("Authorization"))
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"data": []map[string]string{{"id": "1", "login": "a"}}})
	}
	if _, err := newTestClient(t, m).GetUserID(context.Background(), "a"); err != nil {
		t.Fatal(err)
	}
}

func TestHelixClientBatchesLogins(t *testing.T) {
	m := testutil.NewMockTwitchServer(t)
	m.MockOAuthTokenResponse("test-token", 3600)
	users := map[string]string{}
	logins := make([]string, 0, 150)
	for i := 0; i < 150; i++ {
		l := fmt.Sprintf("user%d", i)
		users[l] = fmt.Sprint(i)
		logins = append(logins, l)
	}
	calls := 0
	m.MockUsers(users)
	inner := m.Handlers["/helix/users"]
	m.Handlers["/helix/users"] = func(w http.ResponseWriter, r *http.Request) {
		calls++
		if n := len(r.URL.Query()["login"]); n > 100 {
			t.Errorf("batch of %d logins", n)
		}
		inner(w, r)
	}

	got, err := newTestClient(t, m).GetUsers(context.Background(), logins...)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 150 || calls != 2 {
		t.Errorf("got %d users in %d calls", len(got), calls)
	}
}

func TestHelixClientHTTPError(t *testing.T) {
	m := testutil.NewMockTwitchServer(t)
	m.MockOAuthTokenResponse("test-token", 3600)
	m.Handlers["/helix/users"] = func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}
	_, err := newTestClient(t, m).GetUserID(context.Background(), "a")
	if !errors.Is(err, apperr.ErrCollaborator) {
		t.Fatalf("err = %v, want collaborator", err)
	}
}

func TestHelixClientTokenFailure(t *testing.T) {
	m := testutil.NewMockTwitchServer(t)
	// No token handler: the token endpoint answers 404.
	m.MockUsers(map[string]string{"a": "1"})
	if _, err := newTestClient(t, m).GetUserID(context.Background(), "a"); err == nil {
		t.Fatal("expected token error")
	}
}
