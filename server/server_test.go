package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/onnwee/ghostbot/apperr"
	"github.com/onnwee/ghostbot/cone"
	"github.com/onnwee/ghostbot/config"
	"github.com/onnwee/ghostbot/identity"
	"github.com/onnwee/ghostbot/pipeline"
	"github.com/onnwee/ghostbot/testutil"
)

type fakeResolver map[string]string

func (f fakeResolver) GetUserID(_ context.Context, login string) (string, error) {
	if id, ok := f[login]; ok {
		return id, nil
	}
	return "", apperr.NotFound("fake.helix", "twitch user %s not found", login)
}

type testEnv struct {
	deps  Deps
	saver *testutil.Saver
	clock *testutil.Clock
	h     http.Handler
}

func newTestEnv(t *testing.T, mutate ...func(*Deps)) *testEnv {
	t.Helper()
	clock := testutil.NewClock()
	saver := &testutil.Saver{}
	store := identity.NewStore(identity.WithClock(clock.Now))
	coord := identity.NewCoordinator(store, &testutil.Summarizer{}, saver, identity.DefaultSummaryPolicy)
	cones := cone.NewRegistry([]string{"river333"}, cone.WithClock(clock.Now), cone.WithTransformer(cone.Basic{}))
	deps := Deps{Pipeline: pipeline.New(coord, cones, saver, "Ghost"), Saver: saver}
	for _, m := range mutate {
		m(&deps)
	}
	return &testEnv{deps: deps, saver: saver, clock: clock, h: NewMux(deps)}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	e.h.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rr.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rr.Body.String(), err)
	}
	return v
}

func (e *testEnv) send(t *testing.T, platform, userID, username, content string) messageResponse {
	t.Helper()
	rr := e.do(t, http.MethodPost, "/messages", messageRequest{Platform: platform, UserID: userID, Username: username, Content: content})
	if rr.Code != http.StatusOK {
		t.Fatalf("POST /messages = %d, body=%s", rr.Code, rr.Body.String())
	}
	return decode[messageResponse](t, rr)
}

func TestHealthzOK(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(t, http.MethodGet, "/healthz", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d, body=%s", rr.Code, rr.Body.String())
	}
	if got := rr.Body.String(); got != "ok" {
		t.Fatalf("expected ok body, got %q", got)
	}
}

func TestReadyzReportsFailedCheck(t *testing.T) {
	env := newTestEnv(t, func(d *Deps) {
		d.Checks = []Check{
			{Name: "state_store", Fn: func(context.Context) error { return nil }},
			{Name: "redis", Fn: func(context.Context) error { return errors.New("connection refused") }},
		}
	})
	rr := env.do(t, http.MethodGet, "/readyz", nil)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
	body := decode[map[string]string](t, rr)
	if body["failed_check"] != "redis" {
		t.Errorf("failed_check = %q, want redis", body["failed_check"])
	}
}

func TestReadyzOK(t *testing.T) {
	env := newTestEnv(t)
	if rr := env.do(t, http.MethodGet, "/readyz", nil); rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

func TestMessageIngest(t *testing.T) {
	env := newTestEnv(t)
	res := env.send(t, "twitch", "100", "alice", "hello there")
	if res.Identity == nil || res.Identity.TotalMessages != 1 {
		t.Fatalf("identity = %+v", res.Identity)
	}
	if res.Replaced || res.Cone != "none" {
		t.Errorf("unexpected cone outcome %q", res.Cone)
	}
	if res.CorrelationID == "" {
		t.Error("missing correlation id")
	}
	if env.saver.Requests() == 0 {
		t.Error("message did not request a save")
	}

	rr := env.do(t, http.MethodGet, "/status", nil)
	status := decode[map[string]any](t, rr)
	if status["identities"].(float64) != 1 {
		t.Errorf("status = %v", status)
	}
}

func TestMessageValidation(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(t, http.MethodPost, "/messages", messageRequest{Platform: "twitch", Content: "hi"})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	rr = env.do(t, http.MethodPost, "/messages", map[string]string{"bogus": "field"})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("unknown field: expected 400, got %d", rr.Code)
	}
}

func TestReplySkipsToolResponses(t *testing.T) {
	env := newTestEnv(t)
	env.send(t, "twitch", "100", "alice", "hello")

	rr := env.do(t, http.MethodPost, "/messages/reply", replyRequest{Platform: "twitch", UserID: "100", Content: "✅ Successfully coned bob with pirate"})
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rr.Code)
	}
	rr = env.do(t, http.MethodPost, "/messages/reply", replyRequest{Platform: "twitch", UserID: "100", Content: "hi alice"})
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rr.Code)
	}

	view := decode[identityView](t, env.do(t, http.MethodGet, "/admin/identities/twitch/100", nil))
	if len(view.RecentMessages) != 2 || !view.RecentMessages[1].FromBot {
		t.Fatalf("window = %+v", view.RecentMessages)
	}
}

func TestIdentityNotFound(t *testing.T) {
	env := newTestEnv(t)
	if rr := env.do(t, http.MethodGet, "/admin/identities/twitch/404", nil); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestLinkConfirmAndUnlink(t *testing.T) {
	env := newTestEnv(t)
	env.send(t, "twitch", "100", "alice", "hi from twitch")
	env.send(t, "discord", "d-7", "wonderland", "hi from discord")

	rr := env.do(t, http.MethodPost, "/links", linkRequest{Platform: "twitch", UserID: "100", SecondaryUsername: "wonderland"})
	if rr.Code != http.StatusAccepted {
		t.Fatalf("link request = %d, body=%s", rr.Code, rr.Body.String())
	}

	rr = env.do(t, http.MethodPost, "/links/confirm", confirmRequest{Platform: "discord", UserID: "d-7", Username: "wonderland"})
	if rr.Code != http.StatusOK {
		t.Fatalf("confirm = %d, body=%s", rr.Code, rr.Body.String())
	}
	body := decode[map[string]any](t, rr)
	if body["message"] != identity.LinkedMessage || body["merged"] != true {
		t.Errorf("confirm body = %v", body)
	}

	view := decode[identityView](t, env.do(t, http.MethodGet, "/admin/identities/discord/d-7", nil))
	if len(view.Platforms) != 2 || view.TotalMessages != 2 {
		t.Fatalf("merged view = %+v", view)
	}

	rr = env.do(t, http.MethodPost, "/admin/links/unlink", accountRequest{Platform: "twitch", UserID: "100"})
	if rr.Code != http.StatusOK {
		t.Fatalf("unlink = %d, body=%s", rr.Code, rr.Body.String())
	}
	twitch := decode[identityView](t, env.do(t, http.MethodGet, "/admin/identities/twitch/100", nil))
	discord := decode[identityView](t, env.do(t, http.MethodGet, "/admin/identities/discord/d-7", nil))
	if twitch.ID == discord.ID {
		t.Error("accounts still share a record after unlink")
	}
}

func TestConfirmWithoutPending(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(t, http.MethodPost, "/links/confirm", confirmRequest{Platform: "discord", UserID: "d-1", Username: "nobody"})
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
	if body := decode[map[string]string](t, rr); body["error"] == "" {
		t.Error("missing error message")
	}
}

func TestLinkRequestPersistenceFailure(t *testing.T) {
	env := newTestEnv(t)
	env.send(t, "twitch", "100", "alice", "hi")
	env.saver.Err = apperr.New(apperr.KindPersistence, "test.save", "disk full")

	rr := env.do(t, http.MethodPost, "/links", linkRequest{Platform: "twitch", UserID: "100", SecondaryUsername: "wonderland"})
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
	if env.deps.Pipeline.Coordinator().Store().PendingCount() != 0 {
		t.Error("failed link request left a pending entry")
	}
}

func TestSummaryRefresh(t *testing.T) {
	env := newTestEnv(t)
	env.send(t, "twitch", "100", "alice", "tell me a story")
	rr := env.do(t, http.MethodPost, "/admin/summaries/refresh", accountRequest{Platform: "twitch", UserID: "100"})
	if rr.Code != http.StatusOK {
		t.Fatalf("refresh = %d, body=%s", rr.Code, rr.Body.String())
	}
	if got := decode[map[string]string](t, rr)["result"]; got != identity.SummaryUpdated.Message() {
		t.Errorf("result = %q", got)
	}
}

func TestConeLifecycle(t *testing.T) {
	env := newTestEnv(t)
	env.send(t, "twitch", "100", "alice", "hello")

	rr := env.do(t, http.MethodPost, "/admin/cones", coneApplyRequest{SubjectID: "100", RequesterName: "rando", Effect: "pirate"})
	if rr.Code != http.StatusForbidden {
		t.Fatalf("unauthorized apply = %d, want 403", rr.Code)
	}
	rr = env.do(t, http.MethodPost, "/admin/cones", coneApplyRequest{SubjectID: "100", TargetLogin: "alice", RequesterName: "River333", Effect: "klingon"})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("unknown effect = %d, want 400", rr.Code)
	}

	rr = env.do(t, http.MethodPost, "/admin/cones", coneApplyRequest{SubjectID: "100", TargetLogin: "alice", RequesterName: "River333", Effect: "pirate", Duration: "10 minutes"})
	if rr.Code != http.StatusOK {
		t.Fatalf("apply = %d, body=%s", rr.Code, rr.Body.String())
	}

	res := env.send(t, "twitch", "100", "alice", "hello my friend")
	if !res.Replaced || res.Replacement != "ahoy me matey arr!" {
		t.Fatalf("coned message = %+v", res)
	}
	if res.Identity.TotalMessages != 1 {
		t.Errorf("coned message was appended: total = %d", res.Identity.TotalMessages)
	}

	st := decode[coneStatusView](t, env.do(t, http.MethodGet, "/admin/cones/100", nil))
	if !st.Active || st.Effect != "pirate" || st.Remaining != "10 minutes" {
		t.Errorf("status = %+v", st)
	}

	rr = env.do(t, http.MethodDelete, "/admin/cones/100?requester_name=river333", nil)
	if body := decode[map[string]any](t, rr); rr.Code != http.StatusOK || body["not_active"] != false {
		t.Fatalf("remove = %d %v", rr.Code, body)
	}
	rr = env.do(t, http.MethodDelete, "/admin/cones/100?requester_name=river333", nil)
	if body := decode[map[string]any](t, rr); body["not_active"] != true {
		t.Fatalf("second remove = %v", body)
	}

	st = decode[coneStatusView](t, env.do(t, http.MethodGet, "/admin/cones/100", nil))
	if st.Active || st.Cause != string(cone.CauseRemoved) || st.CauseBy != "river333" {
		t.Errorf("status after remove = %+v", st)
	}
}

func TestConeApplyByLogin(t *testing.T) {
	env := newTestEnv(t, func(d *Deps) { d.Helix = fakeResolver{"alice": "100"} })
	rr := env.do(t, http.MethodPost, "/admin/cones", coneApplyRequest{TargetLogin: "@alice", RequesterName: "river333", Effect: "uwu"})
	if rr.Code != http.StatusOK {
		t.Fatalf("apply = %d, body=%s", rr.Code, rr.Body.String())
	}
	if rec, ok := env.deps.Pipeline.Cones().Get("100"); !ok || rec.TargetName != "alice" {
		t.Errorf("record = %+v, %v", rec, ok)
	}

	rr = env.do(t, http.MethodPost, "/admin/cones", coneApplyRequest{TargetLogin: "ghost", RequesterName: "river333", Effect: "uwu"})
	if rr.Code != http.StatusNotFound {
		t.Fatalf("unknown login = %d, want 404", rr.Code)
	}
}

func TestAdminRequiresAuth(t *testing.T) {
	store := identity.NewStore()
	saver := &testutil.Saver{}
	coord := identity.NewCoordinator(store, nil, saver, identity.DefaultSummaryPolicy)
	h := NewMux(Deps{
		Pipeline: pipeline.New(coord, cone.NewRegistry(nil), saver, ""),
		Saver:    saver,
		Access:   config.AccessConfig{AdminToken: "s3cret"},
	})

	for _, path := range []string{"/admin/cones/1", "/messages"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		if rr.Code != http.StatusUnauthorized {
			t.Errorf("%s without token = %d, want 401", path, rr.Code)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/admin/cones/1", nil)
	req.Header.Set("X-Admin-Token", "s3cret")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Errorf("with token = %d, want 200", rr.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Errorf("healthz = %d, want 200 without auth", rr.Code)
	}
}

func TestFlush(t *testing.T) {
	env := newTestEnv(t)
	if rr := env.do(t, http.MethodPost, "/admin/save", nil); rr.Code != http.StatusNoContent {
		t.Fatalf("flush = %d", rr.Code)
	}
	env.saver.Err = errors.New("boom")
	if rr := env.do(t, http.MethodPost, "/admin/save", nil); rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("failed flush = %d, want 503", rr.Code)
	}
}

func TestCorrelationHeaderEchoed(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Correlation-ID", "corr-123")
	rr := httptest.NewRecorder()
	env.h.ServeHTTP(rr, req)
	if got := rr.Header().Get("X-Correlation-ID"); got != "corr-123" {
		t.Errorf("X-Correlation-ID = %q", got)
	}
}

func TestStartAndShutdown(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- Start(ctx, env.deps, "127.0.0.1:0") }()

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("server returned error: %v", err)
	}
}
