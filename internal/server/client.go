package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"

	"github.com/blackwell-systems/gittrack/internal/watcher"
)

// Client talks to a running daemon's status server.
type Client struct {
	base string
	http *http.Client
}

// NewClient creates a client for address (host:port).
func NewClient(address string) *Client {
	return &Client{
		base: "http://" + address,
		http: &http.Client{Timeout: 5 * time.Second},
	}
}

// Status fetches /status.
func (c *Client) Status(ctx context.Context) (*Status, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/status", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach daemon: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status request failed: %s", resp.Status)
	}
	var st Status
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return nil, fmt.Errorf("failed to decode status: %w", err)
	}
	return &st, nil
}

// Resync triggers a resync of path, or of everything when path is empty.
func (c *Client) Resync(ctx context.Context, path string) (int, error) {
	u := c.base + "/resync"
	if path != "" {
		u += "?path=" + url.QueryEscape(path)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, nil)
	if err != nil {
		return 0, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to reach daemon: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return 0, fmt.Errorf("%s: %w", path, watcher.ErrUnknownRepository)
	}
	if resp.StatusCode != http.StatusAccepted {
		return 0, fmt.Errorf("resync request failed: %s", resp.Status)
	}
	var out ResyncResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("failed to decode resync response: %w", err)
	}
	return out.Queued, nil
}

// Events streams reports to fn until ctx ends or the connection drops.
func (c *Client) Events(ctx context.Context, fn func(watcher.Report)) error {
	u, err := url.Parse(c.base)
	if err != nil {
		return err
	}
	u.Scheme = "ws"
	u.Path = "/events"

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to connect to event stream: %w", err)
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return fmt.Errorf("event stream closed: %w", err)
		}
		var r watcher.Report
		if err := json.Unmarshal(data, &r); err != nil {
			continue
		}
		fn(r)
	}
}
