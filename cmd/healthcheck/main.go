// Command healthcheck probes the bot's /healthz endpoint and exits non-zero when
// it is not healthy. It is meant for container HEALTHCHECK directives.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"
)

func main() {
	url := healthURL(os.Getenv("HEALTHCHECK_URL"), os.Getenv("HTTP_ADDR"))
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := probe(ctx, &http.Client{}, url); err != nil {
		slog.Error("healthcheck failed", slog.String("url", url), slog.Any("err", err))
		os.Exit(1)
	}
}

// healthURL prefers an explicit URL and otherwise targets HTTP_ADDR on loopback.
func healthURL(explicit, addr string) string {
	if explicit != "" {
		return explicit
	}
	if addr == "" {
		addr = ":8080"
	}
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	return "http://" + addr + "/healthz"
}

type statusError int

func (e statusError) Error() string { return "unexpected status " + http.StatusText(int(e)) }

func probe(ctx context.Context, client *http.Client, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		return statusError(resp.StatusCode)
	}
	return nil
}
