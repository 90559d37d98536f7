package receipt

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client posts receipts to a remote receipt bus, the shape the edge
// batcher) uses to hand a PendingReceipt to the server profile's
// /__internal/receipt endpoint over plain HTTP, since an edge actor has no
// direct access to the server's SQLStore.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{BaseURL: baseURL, HTTPClient: &http.Client{Timeout: 30 * time.Second}}
}

// Post submits r to {BaseURL}/__internal/receipt. A non-2xx response is
// treated as a failed handoff; callers retry on the next flush or alarm.
func (c *Client) Post(ctx context.Context, r Receipt) error {
	body, err := Marshal(r)
	if err != nil {
		return fmt.Errorf("receipt client: marshal: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/__internal/receipt", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("receipt client: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("receipt client: post %s: %w", r.Key, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("receipt client: post %s: status %d: %s", r.Key, resp.StatusCode, data)
	}
	return nil
}
