package staking

import (
	"context"
	"fmt"
	"sync"
)

// Clock supplies the current monotonically non-decreasing tick.
type Clock interface {
	CurrentTick(ctx context.Context) (uint64, error)
}

// ManualClock is a Clock driven by its owner, used for replays and tests.
type ManualClock struct {
	mu   sync.RWMutex
	tick uint64
}

func NewManualClock(tick uint64) *ManualClock {
	return &ManualClock{tick: tick}
}

func (c *ManualClock) CurrentTick(ctx context.Context) (uint64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tick, nil
}

// Set moves the clock to tick. Moving backwards is rejected.
func (c *ManualClock) Set(tick uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if tick < c.tick {
		return fmt.Errorf("clock cannot move backwards: %d < %d", tick, c.tick)
	}
	c.tick = tick
	return nil
}

// Advance moves the clock forward by delta ticks.
func (c *ManualClock) Advance(delta uint64) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tick += delta
	return c.tick
}
