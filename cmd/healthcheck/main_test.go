package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHealthURL(t *testing.T) {
	cases := []struct {
		explicit, addr, want string
	}{
		{"", "", "http://localhost:8080/healthz"},
		{"", ":9000", "http://localhost:9000/healthz"},
		{"", "127.0.0.1:7000", "http://127.0.0.1:7000/healthz"},
		{"http://bot:1/healthz", ":9000", "http://bot:1/healthz"},
	}
	for _, c := range cases {
		if got := healthURL(c.explicit, c.addr); got != c.want {
			t.Errorf("healthURL(%q, %q) = %q, want %q", c.explicit, c.addr, got, c.want)
		}
	}
}

func TestProbe(t *testing.T) {
	status := http.StatusOK
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}))
	defer srv.Close()

	if err := probe(context.Background(), srv.Client(), srv.URL); err != nil {
		t.Fatalf("healthy probe failed: %v", err)
	}
	status = http.StatusServiceUnavailable
	if err := probe(context.Background(), srv.Client(), srv.URL); err == nil {
		t.Fatal("expected error for 503")
	}
}
