package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"natprobe/internal/session"
	"natprobe/internal/store"
)

// Client is a thin HTTP client for the status server of a running session.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for the given base URL (e.g. http://host:port).
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: NormalizeBaseURL(baseURL),
		http: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// NormalizeBaseURL accepts host:port and adds the http scheme.
func NormalizeBaseURL(addr string) string {
	addr = strings.TrimRight(strings.TrimSpace(addr), "/")
	if addr == "" || strings.Contains(addr, "://") {
		return addr
	}
	return "http://" + addr
}

// Status fetches the latest session status.
func (c *Client) Status(ctx context.Context) (session.Status, error) {
	var resp session.Status
	if err := c.getJSON(ctx, "/status", &resp); err != nil {
		return resp, err
	}
	return resp, nil
}

// Registry fetches the live bootstrap registry snapshot.
func (c *Client) Registry(ctx context.Context) (store.Snapshot, error) {
	var resp store.Snapshot
	if err := c.getJSON(ctx, "/registry", &resp); err != nil {
		return resp, err
	}
	return resp, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}

	res, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(res.Body)
		msg := strings.TrimSpace(string(body))
		if msg != "" {
			return fmt.Errorf("request failed: %s: %s", res.Status, msg)
		}
		return fmt.Errorf("request failed: %s", res.Status)
	}

	decoder := json.NewDecoder(res.Body)
	return decoder.Decode(out)
}
