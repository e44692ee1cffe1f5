package redisstore

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"os"
	"testing"
	"time"

	"github.com/onnwee/ghostbot/crypto"
	"github.com/onnwee/ghostbot/persist"
)

func setupGateway(t *testing.T, sealer crypto.Sealer) *Gateway {
	t.Helper()
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	key := "ghost_bot_test:" + t.Name()
	gw, err := Connect(ctx, url, key, sealer)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		gw.client.Del(context.Background(), key, key+":prev")
		_ = gw.Close()
	})
	return gw
}

func TestNewDefaultsKey(t *testing.T) {
	if got := New(nil, "", nil).Key(); got != DefaultKey {
		t.Errorf("Key() = %q, want %q", got, DefaultKey)
	}
}

func TestConnectRejectsBadURL(t *testing.T) {
	if _, err := Connect(context.Background(), "not a url", "", nil); err == nil {
		t.Fatal("expected error")
	}
}

func TestGatewayRoundTrip(t *testing.T) {
	k := make([]byte, 32)
	_, _ = rand.Read(k)
	sealer, err := crypto.NewAESSealer(base64.StdEncoding.EncodeToString(k))
	if err != nil {
		t.Fatal(err)
	}

	for name, s := range map[string]crypto.Sealer{"plain": nil, "sealed": sealer} {
		t.Run(name, func(t *testing.T) {
			gw := setupGateway(t, s)
			ctx := context.Background()

			if agg, err := gw.LoadAll(ctx); err != nil || len(agg) != 0 {
				t.Fatalf("empty LoadAll = %v, %v", agg, err)
			}
			if err := gw.SaveAll(ctx, persist.Aggregate{"discord_1": {"username": "ann"}}); err != nil {
				t.Fatal(err)
			}
			if err := gw.SaveAll(ctx, persist.Aggregate{"discord_1": {"username": "bea"}}); err != nil {
				t.Fatal(err)
			}
			agg, err := gw.LoadAll(ctx)
			if err != nil {
				t.Fatal(err)
			}
			if agg["discord_1"]["username"] != "bea" {
				t.Errorf("loaded %v", agg)
			}
			if n, _ := gw.client.Exists(ctx, gw.key+":prev").Result(); n != 1 {
				t.Error("previous snapshot not kept")
			}
		})
	}
}
