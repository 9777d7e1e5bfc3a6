package consumerhandler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ruteri/tee-key-rotation/api"
	"github.com/ruteri/tee-key-rotation/interfaces"
	"github.com/ruteri/tee-key-rotation/notify"
)

// Client is used by remote consumers to take part in key rotation.
type Client struct {
	BaseURL string
	Client  *http.Client
}

// NewClient creates a client for the service at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{BaseURL: strings.TrimSuffix(baseURL, "/"), Client: http.DefaultClient}
}

func (c *Client) do(ctx context.Context, method, path string, body, out any, expected int) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("could not encode request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("could not initialize request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if c.Client == nil {
		c.Client = http.DefaultClient
	}
	resp, err := c.Client.Do(req)
	if err != nil {
		return fmt.Errorf("could not reach rotation service: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("could not read response: %w", err)
	}
	if resp.StatusCode != expected {
		return fmt.Errorf("rotation service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("could not parse response: %w", err)
	}
	return nil
}

func consumerPath(id interfaces.ConsumerID) string {
	return "/api/v1/consumers/" + url.PathEscape(string(id))
}

// Register binds a consumer to pair. An empty id lets the service assign one.
func (c *Client) Register(ctx context.Context, pair interfaces.KeyPairID, id interfaces.ConsumerID) (interfaces.ConsumerID, error) {
	var resp api.RegisterConsumerResponse
	req := api.RegisterConsumerRequest{Pair: pair.String(), ID: id}
	if err := c.do(ctx, http.MethodPost, "/api/v1/consumers", req, &resp, http.StatusCreated); err != nil {
		return "", err
	}
	return resp.ID, nil
}

// ReportUsage sends the consumer's cumulative counters.
func (c *Client) ReportUsage(ctx context.Context, id interfaces.ConsumerID, usage interfaces.PairUsage) error {
	return c.do(ctx, http.MethodPut, consumerPath(id)+"/usage", api.UsageReport{Usage: usage}, nil, http.StatusNoContent)
}

// SetQuiesced sets or clears the consumer's quiesced flag.
func (c *Client) SetQuiesced(ctx context.Context, id interfaces.ConsumerID, quiesced bool) error {
	return c.do(ctx, http.MethodPut, consumerPath(id)+"/quiesced", api.QuiescedRequest{Quiesced: quiesced}, nil, http.StatusNoContent)
}

// Events fetches queued events, waiting up to wait for the first one.
func (c *Client) Events(ctx context.Context, id interfaces.ConsumerID, wait time.Duration) ([]notify.Message, error) {
	path := consumerPath(id) + "/events"
	if wait > 0 {
		path += "?wait=" + url.QueryEscape(wait.String())
	}
	var resp api.EventsResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &resp, http.StatusOK); err != nil {
		return nil, err
	}
	return resp.Events, nil
}

// Unregister tears the consumer down.
func (c *Client) Unregister(ctx context.Context, id interfaces.ConsumerID) error {
	return c.do(ctx, http.MethodDelete, consumerPath(id), nil, nil, http.StatusNoContent)
}
