// Package respstream drives one logical response request across however
// many physical HTTP attempts retry policy allows, decoding each
// successful connection with an sse.Decoder and emitting a single
// protocol.ResponseEvent channel to the caller.
//
// This generalizes the teacher's httpDoSSE/sseAttempt/sseRetryWait trio
// (internal/provider/openai_common.go) from a fixed 5s/10s/15s backoff
// table into exponential backoff with jitter, and adds the idle-timeout
// watchdog and Retry-After-aware wait the distilled spec requires.
package respstream

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/xonecas/turnengine/internal/protocol"
	"github.com/xonecas/turnengine/internal/sse"
)

// RetryPolicy configures the exponential-backoff-with-jitter schedule.
type RetryPolicy struct {
	MaxRetries   int
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	JitterFactor float64 // 0..1, fraction of the computed delay randomized
}

// DefaultRetryPolicy matches the magnitude of the teacher's fixed table
// (first retry ~5s, growing from there) while actually backing off
// exponentially as required.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 5, BaseDelay: 5 * time.Second, MaxDelay: 60 * time.Second, JitterFactor: 0.2}
}

func (p RetryPolicy) delay(attempt int) time.Duration {
	d := p.BaseDelay << uint(attempt) //nolint:gosec // attempt is small and bounded by MaxRetries
	if d > p.MaxDelay || d <= 0 {
		d = p.MaxDelay
	}
	if p.JitterFactor > 0 {
		jitter := time.Duration(float64(d) * p.JitterFactor * (rand.Float64()*2 - 1))
		d += jitter
		if d < 0 {
			d = 0
		}
	}
	return d
}

// Request is one logical SSE request.
type Request struct {
	Client      *http.Client
	Method      string
	URL         string
	Body        []byte
	Headers     map[string]string
	Decoder     sse.Decoder
	IdleTimeout time.Duration // 0 disables the idle watchdog
	Provider    string
	Model       string
}

// Stream drives req to completion (with retries on transient failure) and
// returns a channel of protocol.ResponseEvent, closed when the stream ends.
func Stream(ctx context.Context, req Request, policy RetryPolicy) <-chan protocol.ResponseEvent {
	out := make(chan protocol.ResponseEvent, 16)
	go func() {
		defer close(out)
		runWithRetry(ctx, req, policy, out)
	}()
	return out
}

func runWithRetry(ctx context.Context, req Request, policy RetryPolicy, out chan<- protocol.ResponseEvent) {
	var lastErr error
	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		if attempt > 0 {
			wait := retryAfterOrBackoff(lastErr, policy, attempt-1)
			log.Warn().Str("provider", req.Provider).Int("attempt", attempt).Dur("delay", wait).Msg("retrying response stream after transient error")
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return
			}
		} else {
			log.Info().Str("provider", req.Provider).Str("model", req.Model).Msg("response stream started")
		}

		body, fatalErr, transientErr := attemptOnce(ctx, req)
		if fatalErr != nil {
			trySendEvent(ctx, out, protocol.ResponseEvent{Type: protocol.EventFailed, Err: fatalErr})
			return
		}
		if transientErr != nil {
			lastErr = transientErr
			continue
		}

		ok := decodeWithIdleWatchdog(ctx, req, body, out)
		body.Close()
		if ok {
			return
		}
		// The decoder itself reported failure via EventFailed; that is
		// terminal, not retried — only connection-establishment failures
		// are retried under this policy.
		return
	}
	trySendEvent(ctx, out, protocol.ResponseEvent{Type: protocol.EventFailed, Err: fmt.Errorf("response stream failed after %d retries: %w", policy.MaxRetries, lastErr)})
}

// attemptOnce performs one HTTP round-trip. Returns (body, nil, nil) on
// success, (nil, err, nil) on a fatal (non-retryable) error, or
// (nil, nil, err) on a transient error that should be retried.
func attemptOnce(ctx context.Context, req Request) (io.ReadCloser, error, error) {
	httpReq, err := http.NewRequestWithContext(ctx, method(req.Method), req.URL, bytes.NewReader(req.Body))
	if err != nil {
		return nil, err, nil
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	client := req.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err, nil
		}
		return nil, nil, err
	}

	if isTransientStatus(resp.StatusCode) {
		payload, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		retryErr := &statusError{status: resp.StatusCode, body: strings.TrimSpace(string(payload)), retryAfter: parseRetryAfter(resp.Header.Get("Retry-After"))}
		return nil, nil, retryErr
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		payload, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("response stream status %d: %s", resp.StatusCode, strings.TrimSpace(string(payload))), nil
	}
	return resp.Body, nil, nil
}

func method(m string) string {
	if m == "" {
		return http.MethodPost
	}
	return m
}

func isTransientStatus(code int) bool {
	return code == 429 || code == 500 || code == 502 || code == 503 || code == 504
}

type statusError struct {
	status     int
	body       string
	retryAfter time.Duration
}

func (e *statusError) Error() string {
	return fmt.Sprintf("response stream status %d: %s", e.status, e.body)
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(header); err == nil {
		return time.Until(t)
	}
	return 0
}

func retryAfterOrBackoff(lastErr error, policy RetryPolicy, attemptIdx int) time.Duration {
	var se *statusError
	if errors.As(lastErr, &se) && se.retryAfter > 0 {
		return se.retryAfter
	}
	return policy.delay(attemptIdx)
}

// decodeWithIdleWatchdog runs the decoder on a background goroutine and
// forwards its events, resetting an idle timer on each event. If the timer
// fires first, the stream is treated as failed. It returns true on every
// path: a terminal event forwarded, the decoder's channel closed, the idle
// timer fired, or ctx done.
func decodeWithIdleWatchdog(ctx context.Context, req Request, body io.Reader, out chan<- protocol.ResponseEvent) bool {
	decoded := make(chan protocol.ResponseEvent, 16)
	done := make(chan struct{})
	go func() {
		defer close(done)
		req.Decoder.Decode(ctx, body, decoded)
		close(decoded)
	}()

	idle := req.IdleTimeout
	var timer *time.Timer
	var timerCh <-chan time.Time
	if idle > 0 {
		timer = time.NewTimer(idle)
		timerCh = timer.C
		defer timer.Stop()
	}

	for {
		select {
		case evt, ok := <-decoded:
			if !ok {
				<-done
				return true
			}
			if timer != nil {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(idle)
			}
			if !trySendEvent(ctx, out, evt) {
				return true
			}
			if evt.Type == protocol.EventCompleted || evt.Type == protocol.EventFailed {
				return true
			}
		case <-timerCh:
			trySendEvent(ctx, out, protocol.ResponseEvent{Type: protocol.EventFailed, Err: fmt.Errorf("response stream idle for %s", idle)})
			return true
		case <-ctx.Done():
			return true
		}
	}
}

func trySendEvent(ctx context.Context, ch chan<- protocol.ResponseEvent, evt protocol.ResponseEvent) bool {
	select {
	case ch <- evt:
		return true
	case <-ctx.Done():
		return false
	}
}
