// Package settlement is the HTTP client for the external service that
// records eligible players and duel outcomes.
package settlement

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/dkeye/DuelRelay/internal/config"
	"github.com/dkeye/DuelRelay/internal/core"
	"github.com/rs/zerolog/log"
)

var ErrDisabled = errors.New("settlement disabled")

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("settlement returned %d: %s", e.Code, e.Body)
}

type Client struct {
	baseURL   string
	apiKey    string
	maxTries  uint
	http      *http.Client
	retryBase time.Duration
}

func New(cfg config.SettlementConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	tries := cfg.MaxTries
	if tries == 0 {
		tries = 3
	}
	return &Client{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:    cfg.APIKey,
		maxTries:  tries,
		http:      &http.Client{Timeout: timeout},
		retryBase: 200 * time.Millisecond,
	}
}

func (c *Client) Enabled() bool { return c != nil && c.baseURL != "" }

func (c *Client) RegisterEligible(ctx context.Context, req core.EligibilityRequest) error {
	return c.post(ctx, "/eligible", req)
}

func (c *Client) ConfirmOutcome(ctx context.Context, req core.OutcomeRequest) error {
	return c.post(ctx, "/outcomes", req)
}

func (c *Client) post(ctx context.Context, path string, body any) error {
	if !c.Enabled() {
		return ErrDisabled
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", path, err)
	}

	b := &backoff.ExponentialBackOff{
		InitialInterval:     c.retryBase,
		RandomizationFactor: 0.2,
		Multiplier:          2,
		MaxInterval:         5 * time.Second,
	}
	op := func() (struct{}, error) {
		return struct{}{}, c.do(ctx, path, payload)
	}
	_, err = backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(c.maxTries),
		backoff.WithNotify(func(err error, next time.Duration) {
			log.Warn().Err(err).Str("module", "settlement").Str("path", path).Dur("retry_in", next).Msg("settlement call failed, retrying")
		}),
	)
	return err
}

func (c *Client) do(ctx context.Context, path string, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	serr := &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	// Client errors will not improve with retries.
	if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
		return backoff.Permanent(serr)
	}
	return serr
}
