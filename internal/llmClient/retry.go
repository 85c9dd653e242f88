package llmclient

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"
)

type retryClient struct {
	next     JSONClient
	attempts int
	backoff  time.Duration
	sleep    func(context.Context, time.Duration) error
}

// WithRetry retries transient failures with linear backoff. Permanent errors
// and context cancellation stop immediately.
func WithRetry(next JSONClient, attempts int, backoff time.Duration) JSONClient {
	if attempts < 1 {
		attempts = 1
	}
	return &retryClient{next: next, attempts: attempts, backoff: backoff, sleep: sleepCtx}
}

func (r *retryClient) Name() string { return r.next.Name() }

func (r *retryClient) GenerateJSON(ctx context.Context, prompt string, input any) (json.RawMessage, error) {
	var lastErr error
	for i := 0; i < r.attempts; i++ {
		if i > 0 {
			if err := r.sleep(ctx, time.Duration(i)*r.backoff); err != nil {
				return nil, err
			}
		}
		out, err := r.next.GenerateJSON(ctx, prompt, input)
		if err == nil {
			return out, nil
		}
		lastErr = err
		if IsPermanent(err) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		log.Printf("llm: %s attempt %d/%d failed: %v", r.next.Name(), i+1, r.attempts, err)
	}
	return nil, lastErr
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
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
