package chain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"
)

const (
	defaultBaseDelay = 100 * time.Millisecond
	defaultMaxDelay  = 10 * time.Second
)

// retryPolicy bounds the attempts made against a flaky RPC endpoint.
type retryPolicy struct {
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

func newRetryPolicy(maxRetries int, baseDelay time.Duration) retryPolicy {
	if maxRetries < 0 {
		maxRetries = 0
	}
	if baseDelay <= 0 {
		baseDelay = defaultBaseDelay
	}
	return retryPolicy{maxRetries: maxRetries, baseDelay: baseDelay, maxDelay: max(baseDelay, defaultMaxDelay)}
}

// JSON-RPC codes the node answers when the request itself is wrong.
// Sending it again cannot succeed.
var permanentRPCCodes = map[int]bool{
	-32700: true, // parse error
	-32600: true, // invalid request
	-32601: true, // method not found
	-32602: true, // invalid params
}

// retryable reports whether err may clear on another attempt.
func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) && permanentRPCCodes[rpcErr.ErrorCode()] {
		return false
	}
	return true
}

// withRetry runs fn until it succeeds, fails permanently or the policy is
// exhausted, doubling the delay after every failed attempt.
func withRetry(ctx context.Context, logger *zap.Logger, op string, p retryPolicy, fn func(context.Context) error) error {
	delay := p.baseDelay
	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !retryable(ctx, err) {
			if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
				return fmt.Errorf("%s: %w", op, ctxErr)
			}
			return fmt.Errorf("%s: %w", op, err)
		}
		if attempt > p.maxRetries {
			return fmt.Errorf("%s failed after %d attempts: %w", op, attempt, err)
		}

		logger.Debug("rpc call failed, retrying",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err),
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%s: %w", op, ctx.Err())
		case <-timer.C:
		}

		delay = min(delay*2, p.maxDelay)
	}
}
