package rotationhandler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/ruteri/tee-key-rotation/api"
	"github.com/ruteri/tee-key-rotation/interfaces"
)

// AdminClient talks to the operator endpoints of a rotation service.
type AdminClient struct {
	BaseURL string
	Client  *http.Client
}

var _ api.RotationAdmin = (*AdminClient)(nil)

// NewAdminClient creates a client for the service at baseURL.
func NewAdminClient(baseURL string) *AdminClient {
	return &AdminClient{BaseURL: strings.TrimSuffix(baseURL, "/"), Client: http.DefaultClient}
}

func (c *AdminClient) do(ctx context.Context, method, path string, body, out any, expected int) error {
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

func (c *AdminClient) KeyPairs(ctx context.Context) ([]api.KeyPairStatus, error) {
	var statuses []api.KeyPairStatus
	if err := c.do(ctx, http.MethodGet, "/api/v1/keypairs", nil, &statuses, http.StatusOK); err != nil {
		return nil, err
	}
	return statuses, nil
}

func (c *AdminClient) KeyPair(ctx context.Context, pair interfaces.KeyPairID) (*api.KeyPairStatus, error) {
	var status api.KeyPairStatus
	if err := c.do(ctx, http.MethodGet, "/api/v1/keypairs/"+api.PairPath(pair), nil, &status, http.StatusOK); err != nil {
		return nil, err
	}
	return &status, nil
}

func (c *AdminClient) Trigger(ctx context.Context, pair interfaces.KeyPairID) error {
	return c.do(ctx, http.MethodPost, "/api/v1/keypairs/"+api.PairPath(pair)+"/trigger", nil, nil, http.StatusAccepted)
}

func (c *AdminClient) Recover(ctx context.Context, pair interfaces.KeyPairID) error {
	return c.do(ctx, http.MethodPost, "/api/v1/keypairs/"+api.PairPath(pair)+"/recover", nil, nil, http.StatusOK)
}

func (c *AdminClient) Enabled(ctx context.Context) (bool, error) {
	var toggle api.RotationToggle
	if err := c.do(ctx, http.MethodGet, "/api/v1/rotation/enabled", nil, &toggle, http.StatusOK); err != nil {
		return false, err
	}
	return toggle.Enabled, nil
}

func (c *AdminClient) SetEnabled(ctx context.Context, enabled bool) error {
	return c.do(ctx, http.MethodPut, "/api/v1/rotation/enabled", api.RotationToggle{Enabled: enabled}, nil, http.StatusOK)
}
