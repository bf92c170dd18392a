package devicelink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Trivenidigital/Vizora-sub012/internal/pairing"
)

const pairingHTTPTimeout = 15 * time.Second

// PairingClient calls the public pairing endpoints of fleetd.
type PairingClient struct {
	baseURL string
	client  *http.Client
}

// NewPairingClient creates a client for apiURL, e.g. http://fleet.example.com/api/v1.
func NewPairingClient(apiURL string) *PairingClient {
	return &PairingClient{
		baseURL: strings.TrimRight(apiURL, "/"),
		client:  &http.Client{Timeout: pairingHTTPTimeout},
	}
}

// RequestCode asks fleetd for a pairing code for identifier.
func (c *PairingClient) RequestCode(ctx context.Context, identifier, nickname string, metadata map[string]any) (*pairing.CodeResponse, error) {
	body, err := json.Marshal(map[string]any{
		"deviceIdentifier": identifier,
		"nickname":         nickname,
		"metadata":         metadata,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding pairing request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/devices/pairing/request", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	var out pairing.CodeResponse
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CheckStatus polls code once. An unknown or expired code yields ErrCodeGone.
func (c *PairingClient) CheckStatus(ctx context.Context, code string) (*pairing.StatusResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/devices/pairing/status/"+url.PathEscape(code), nil)
	if err != nil {
		return nil, err
	}

	var out pairing.StatusResponse
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// WaitForPairing polls code every interval until it is paired, expires, or
// ctx is cancelled. Transient errors are retried.
func (c *PairingClient) WaitForPairing(ctx context.Context, code string, interval time.Duration, logger Logger) (*pairing.StatusResponse, error) {
	if logger == nil {
		logger = noopLogger{}
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		st, err := c.CheckStatus(ctx, code)
		switch {
		case err == nil && st.Status == pairing.StatusPaired:
			return st, nil
		case err == nil:
		case errors.Is(err, ErrCodeGone):
			return nil, err
		case ctx.Err() != nil:
			return nil, ctx.Err()
		default:
			logger.Debug("pairing status check failed", "error", err)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

type apiError struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *PairingClient) do(req *http.Request, out any) error {
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound && strings.Contains(req.URL.Path, "/status/") {
		return ErrCodeGone
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var ae apiError
		if json.Unmarshal(data, &ae) == nil && ae.Error.Message != "" {
			return fmt.Errorf("HTTP %d: %s: %s", resp.StatusCode, ae.Error.Code, ae.Error.Message)
		}
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
