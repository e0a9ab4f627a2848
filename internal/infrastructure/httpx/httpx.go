package httpx

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"marketdata-etl/internal/domain"
	"marketdata-etl/internal/infrastructure/logx"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

const defaultMaxBody = 8 << 20

// Budget is consulted before every attempt; see ratelimit.Limiter.
type Budget interface {
	Take(ctx context.Context, provider string) error
}

type RetryPolicy struct {
	Attempts   int
	BaseDelay  time.Duration
	Multiplier float64
	MaxDelay   time.Duration
}

func DefaultRetry() RetryPolicy {
	return RetryPolicy{Attempts: 3, BaseDelay: time.Second, Multiplier: 2, MaxDelay: 30 * time.Second}
}

type Request struct {
	Provider string
	URL      string
	Header   http.Header
}

type Fetcher struct {
	HTTP    *http.Client
	Budget  Budget
	Retry   RetryPolicy
	Timeout time.Duration
	MaxBody int64
}

// Fetch GETs req.URL and returns the body of a 200 response. Network errors,
// timeouts and 5xx are retried; 429 is reported as a rate limit; any other
// status fails at once.
func (f *Fetcher) Fetch(ctx context.Context, req Request) ([]byte, error) {
	if f.HTTP == nil {
		f.HTTP = http.DefaultClient
	}
	policy := f.Retry
	if policy.Attempts <= 0 {
		policy = DefaultRetry()
	}

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = policy.BaseDelay
	exp.Multiplier = policy.Multiplier
	exp.RandomizationFactor = 0
	if policy.MaxDelay > 0 {
		exp.MaxInterval = policy.MaxDelay
	}
	exp.MaxElapsedTime = 0
	exp.Reset()
	b := backoff.WithContext(backoff.WithMaxRetries(exp, uint64(policy.Attempts-1)), ctx)

	log := logx.WithFields(ctx).With(zap.String("provider", req.Provider))
	var (
		attempts int
		status   int
	)
	var body []byte
	op := func() error {
		attempts++
		if f.Budget != nil {
			if err := f.Budget.Take(ctx, req.Provider); err != nil {
				return backoff.Permanent(err)
			}
		}
		var err error
		body, status, err = f.do(ctx, req)
		return err
	}
	notify := func(err error, wait time.Duration) {
		log.Warn("fetch.retry", zap.Int("attempt", attempts), zap.Duration("wait", wait), zap.Error(err))
	}

	err := backoff.RetryNotify(op, b, notify)
	if err == nil {
		log.Debug("fetch.ok", zap.Int("attempts", attempts), zap.Int("bytes", len(body)))
		return body, nil
	}
	return nil, classify(req.Provider, status, attempts, err)
}

func (f *Fetcher) do(ctx context.Context, req Request) ([]byte, int, error) {
	callCtx := ctx
	if f.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, f.Timeout)
		defer cancel()
	}
	httpReq, err := http.NewRequestWithContext(callCtx, http.MethodGet, req.URL, nil)
	if err != nil {
		return nil, 0, permanent("build request: %w", err)
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	httpReq.Header.Set("Accept", "application/json")

	resp, err := f.HTTP.Do(httpReq)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	limit := f.MaxBody
	if limit <= 0 {
		limit = defaultMaxBody
	}
	switch {
	case resp.StatusCode >= 500:
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, resp.StatusCode, fmt.Errorf("server error %d", resp.StatusCode)
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, resp.StatusCode, backoff.Permanent(domain.ErrRateLimitExceeded)
	case resp.StatusCode != http.StatusOK:
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, resp.StatusCode, permanent("status %d: %s", resp.StatusCode, snippet)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read body: %w", err)
	}
	if int64(len(body)) > limit {
		return nil, resp.StatusCode, permanent("body exceeds %d bytes", limit)
	}
	return body, resp.StatusCode, nil
}

// permanentError marks a failure that another attempt will not fix.
type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

func permanent(format string, args ...any) error {
	return backoff.Permanent(&permanentError{err: fmt.Errorf(format, args...)})
}

func classify(provider string, status, attempts int, err error) error {
	fe := &domain.FetchError{Provider: provider, StatusCode: status, Attempts: attempts, Err: err}
	var pe *permanentError
	switch {
	case errors.Is(err, domain.ErrRateLimitExceeded):
		fe.Kind = domain.ErrRateLimitExceeded
		if err == domain.ErrRateLimitExceeded {
			fe.Err = nil
		}
	case errors.As(err, &pe):
		fe.Kind = domain.ErrPermanentFetch
		fe.Err = pe.err
	default:
		fe.Kind = domain.ErrTransientFetch
	}
	return fe
}
