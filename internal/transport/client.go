package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"membership/internal/metrics"
)

// Client ships gossip envelopes to peers over HTTP.
type Client struct {
	http *http.Client
}

// NewClient creates a gossip client with the given per-exchange
// timeout. A zero timeout defaults to two seconds.
func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Client{
		http: &http.Client{Timeout: timeout},
	}
}

// Close drops idle connections held by the client.
func (c *Client) Close() {
	c.http.CloseIdleConnections()
}

// Gossip performs one exchange with the peer at addr and returns the
// peer's reply envelope.
func (c *Client) Gossip(ctx context.Context, addr string, env Envelope) (Envelope, error) {
	start := time.Now()
	reply, err := c.gossip(ctx, addr, env)
	metrics.RecordGossip(err, time.Since(start))
	return reply, err
}

func (c *Client) gossip(ctx context.Context, addr string, env Envelope) (Envelope, error) {
	body, err := json.Marshal(env)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode envelope: %w", err)
	}

	url := addr
	if !strings.Contains(url, "://") {
		url = "http://" + url
	}
	url += "/v1/gossip"

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Envelope{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return Envelope{}, fmt.Errorf("gossip %s: %w", addr, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Envelope{}, fmt.Errorf("gossip %s: unexpected status %d", addr, resp.StatusCode)
	}

	var reply Envelope
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return Envelope{}, fmt.Errorf("decode reply from %s: %w", addr, err)
	}
	return reply, nil
}

// Broadcast ships the envelope to every target concurrently and hands
// each reply to onReply. Failed exchanges are reported through onError
// and do not abort the rest of the fan-out.
func (c *Client) Broadcast(ctx context.Context, targets map[string]string, env Envelope,
	onReply func(peer string, reply Envelope), onError func(peer string, err error)) {

	var mu sync.Mutex
	g, ctx := errgroup.WithContext(ctx)

	for id, addr := range targets {
		id, addr := id, addr
		g.Go(func() error {
			reply, err := c.Gossip(ctx, addr, env)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if onError != nil {
					onError(id, err)
				}
				return nil
			}
			if onReply != nil {
				onReply(id, reply)
			}
			return nil
		})
	}

	_ = g.Wait()
}
