package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/steveyegge/braid/internal/telemetry"
)

const (
	retryInitialInterval = 1 * time.Second
	retryMaxInterval     = 30 * time.Second
	retryMultiplier      = 2
	maxRetries           = 3
)

// Caller issues JSON requests for one remote component. Huly and Vibe
// clients embed one; they share the pooled *http.Client.
type Caller struct {
	BaseURL   string
	Component string
	HTTP      *http.Client
	Logger    *zap.Logger
	Metrics   *telemetry.SyncMetrics

	// RetryInitial overrides the 1 s initial backoff. Zero keeps the default.
	RetryInitial time.Duration
}

// Do performs one JSON call with classification, retry, and latency
// accounting. A nil body sends no payload; a non-nil out receives the
// decoded response. 404 surfaces as ErrNotFound so point lookups can
// return (nil, nil).
func (c *Caller) Do(ctx context.Context, op, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s %s: encoding request: %w", c.Component, op, err)
		}
	}

	start := time.Now()
	data, err := c.doWithRetry(ctx, op, method, path, payload)
	c.observe(ctx, op, time.Since(start), err)
	if err != nil {
		return err
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("%s %s: decoding response: %w", c.Component, op, err)
		}
	}
	return nil
}

// doWithRetry runs the request under the engine retry policy: initial 1 s,
// factor 2, ceiling 30 s, at most 3 retries, retryable classes only.
func (c *Caller) doWithRetry(ctx context.Context, op, method, path string, payload []byte) ([]byte, error) {
	var result []byte

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = retryInitialInterval
	if c.RetryInitial > 0 {
		bo.InitialInterval = c.RetryInitial
	}
	bo.MaxInterval = retryMaxInterval
	bo.Multiplier = retryMultiplier

	attempt := 0
	operation := func() error {
		attempt++
		data, err := c.doOnce(ctx, op, method, path, payload)
		if err != nil {
			if IsRetryable(err) {
				c.Logger.Warn("remote call failed, will retry",
					zap.String("component", c.Component),
					zap.String("operation", op),
					zap.Int("attempt", attempt),
					zap.Error(err))
				return err
			}
			return backoff.Permanent(err)
		}
		result = data
		return nil
	}

	err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(bo, maxRetries), ctx))
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (c *Caller) doOnce(ctx context.Context, op, method, path string, payload []byte) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("%s %s: building request: %w", c.Component, op, err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, Classify(c.Component, op, 0, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, Classify(c.Component, op, 0, err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%s %s: %w", c.Component, op, ErrNotFound)
	case resp.StatusCode >= 400:
		return nil, Classify(c.Component, op, resp.StatusCode, fmt.Errorf("%s", truncate(data, 512)))
	}
	return data, nil
}

// observe records latency and warns on slow calls. Runs for failures too;
// a slow failure is still a slow call.
func (c *Caller) observe(ctx context.Context, op string, elapsed time.Duration, err error) {
	c.Metrics.RecordLatency(ctx, c.Component, op, float64(elapsed.Milliseconds()))
	if elapsed > SlowCallThreshold {
		c.Logger.Warn("slow remote call",
			zap.String("component", c.Component),
			zap.String("operation", op),
			zap.Duration("elapsed", elapsed),
			zap.Bool("failed", err != nil))
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
