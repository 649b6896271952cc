package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// DefaultTimeout bounds a single interact round trip.
const DefaultTimeout = 60 * time.Second

// ErrUnavailable is the single failure bucket: network errors, timeouts and
// non-2xx statuses all wrap it.
var ErrUnavailable = errors.New("advisory service unavailable")

type interactRequest struct {
	Message string `json:"message"`
}

type interactResponse struct {
	Reply string `json:"reply"`
}

// Client talks to the advisory service's /interact endpoint.
type Client struct {
	HTTPClient *http.Client
	BaseURL    string
	log        zerolog.Logger
}

func NewClient(baseURL string, timeout time.Duration, log zerolog.Logger) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		HTTPClient: &http.Client{Timeout: timeout},
		BaseURL:    strings.TrimRight(baseURL, "/"),
		log:        log.With().Str("component", "transport").Logger(),
	}
}

// Endpoint returns the URL messages are posted to.
func (c *Client) Endpoint() string {
	base := c.BaseURL
	if strings.HasSuffix(base, "/interact") {
		return base
	}
	return base + "/interact"
}

// Interact posts message and returns the service's reply.
func (c *Client) Interact(ctx context.Context, message string) (string, error) {
	reqBody, _ := json.Marshal(interactRequest{Message: message})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint(), bytes.NewReader(reqBody))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		c.log.Warn().Err(err).Dur("elapsed", time.Since(start)).Msg("interact request failed")
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.log.Warn().Int("status", resp.StatusCode).Msg("interact non-2xx")
		return "", fmt.Errorf("%w: status=%d", ErrUnavailable, resp.StatusCode)
	}
	var ir interactResponse
	if err := json.NewDecoder(resp.Body).Decode(&ir); err != nil {
		return "", fmt.Errorf("%w: decode reply: %v", ErrUnavailable, err)
	}
	c.log.Debug().Dur("elapsed", time.Since(start)).Int("reply_len", len(ir.Reply)).Msg("interact ok")
	return strings.TrimSpace(ir.Reply), nil
}
