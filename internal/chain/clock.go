package chain

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// HeightSource reports the latest block height.
type HeightSource interface {
	LatestBlockNumber(ctx context.Context) (uint64, error)
}

// BlockClock reports the chain height as the ledger tick. Reads are
// retried with exponential backoff, and a height lower than one already
// reported (a lagging RPC backend) is answered with the previous value.
type BlockClock struct {
	src    HeightSource
	policy retryPolicy
	logger *zap.Logger

	mu   sync.Mutex
	last uint64
}

func NewBlockClock(src HeightSource, maxRetries int, baseDelay time.Duration, logger *zap.Logger) *BlockClock {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BlockClock{src: src, policy: newRetryPolicy(maxRetries, baseDelay), logger: logger}
}

func (c *BlockClock) CurrentTick(ctx context.Context) (uint64, error) {
	var height uint64
	err := withRetry(ctx, c.logger, "latest block", c.policy, func(ctx context.Context) error {
		h, err := c.src.LatestBlockNumber(ctx)
		if err != nil {
			return err
		}
		height = h
		return nil
	})
	if err != nil {
		return 0, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if height < c.last {
		c.logger.Warn("rpc reported stale height", zap.Uint64("height", height), zap.Uint64("last", c.last))
		return c.last, nil
	}
	c.last = height
	return height, nil
}
