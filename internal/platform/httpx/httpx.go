// Package httpx is the JSON-over-HTTP plumbing shared by the provider REST
// clients (OpenAI embeddings, Pinecone).
package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/yungbote/botforge-backend/internal/platform/logger"
)

const maxErrorBody = 512

type HTTPStatusCoder interface {
	HTTPStatusCode() int
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Service    string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	body := strings.TrimSpace(e.Body)
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody] + "..."
	}
	return fmt.Sprintf("%s http %d: %s", e.Service, e.StatusCode, body)
}

func (e *StatusError) HTTPStatusCode() int { return e.StatusCode }

func IsRetryableHTTPStatus(code int) bool {
	if code == http.StatusRequestTimeout || code == http.StatusTooManyRequests {
		return true
	}
	return code >= 500 && code <= 599
}

// IsRetryableError reports timeouts, 408/429 and 5xx responses as retryable.
// Cancellation never is.
func IsRetryableError(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var sc HTTPStatusCoder
	if errors.As(err, &sc) {
		return IsRetryableHTTPStatus(sc.HTTPStatusCode())
	}
	return false
}

func RetryAfterDuration(resp *http.Response, fallback, max time.Duration) time.Duration {
	sleepFor := fallback
	if resp != nil {
		if ra := strings.TrimSpace(resp.Header.Get("Retry-After")); ra != "" {
			if secs, err := strconv.Atoi(ra); err == nil && secs > 0 {
				sleepFor = time.Duration(secs) * time.Second
			}
		}
	}
	if max > 0 && sleepFor > max {
		sleepFor = max
	}
	return sleepFor
}

// JitterSleep spreads base by +/-20%.
func JitterSleep(base time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	delta := base.Seconds() * 0.2
	low := base.Seconds() - delta
	high := base.Seconds() + delta
	if low < 0 {
		low = 0
	}
	v := low + rand.Float64()*(high-low)
	return time.Duration(v * float64(time.Second))
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// RetryPolicy doubles Backoff after every retryable failure. A Retry-After
// header overrides the computed wait, capped at MaxSleep.
type RetryPolicy struct {
	MaxRetries int
	Backoff    time.Duration
	MaxSleep   time.Duration
}

// JSONClient sends JSON requests and decodes JSON responses for one service.
type JSONClient struct {
	Service string
	HTTP    *http.Client
	Log     *logger.Logger
	Retry   RetryPolicy
	// Header sets auth and version headers on every request.
	Header func(h http.Header)
}

// Do sends body (when non-nil) and decodes the response into out (when non-nil).
// An empty response body leaves out untouched.
func (c *JSONClient) Do(ctx context.Context, method, url string, body, out any) error {
	if ctx == nil {
		ctx = context.Background()
	}
	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s encode: %w", c.Service, err)
		}
		payload = b
	}

	backoff := c.Retry.Backoff
	if backoff <= 0 {
		backoff = time.Second
	}
	maxSleep := c.Retry.MaxSleep
	if maxSleep <= 0 {
		maxSleep = 10 * time.Second
	}

	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		resp, raw, err := c.once(ctx, method, url, payload)
		if err == nil {
			if out == nil || len(bytes.TrimSpace(raw)) == 0 {
				return nil
			}
			if uErr := json.Unmarshal(raw, out); uErr != nil {
				return fmt.Errorf("%s decode: %w", c.Service, uErr)
			}
			return nil
		}
		if attempt >= c.Retry.MaxRetries || !IsRetryableError(err) {
			return err
		}

		sleepFor := JitterSleep(RetryAfterDuration(resp, backoff, maxSleep))
		if c.Log != nil {
			c.Log.Warn("HTTP request retrying",
				"service", c.Service,
				"attempt", attempt+1,
				"max_retries", c.Retry.MaxRetries,
				"sleep", sleepFor.String(),
				"error", err.Error(),
			)
		}
		if err := Sleep(ctx, sleepFor); err != nil {
			return err
		}
		backoff *= 2
	}
}

func (c *JSONClient) once(ctx context.Context, method, url string, payload []byte) (*http.Response, []byte, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.Header != nil {
		c.Header(req.Header)
	}

	hc := c.HTTP
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(req)
	if err != nil {
		return nil, nil, err
	}
	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return resp, nil, readErr
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp, raw, &StatusError{Service: c.Service, StatusCode: resp.StatusCode, Body: string(raw)}
	}
	return resp, raw, nil
}
