package changefeed

import (
	"context"
	"time"
)

const (
	minReconnectDelay = 500 * time.Millisecond
	maxReconnectDelay = 30 * time.Second
)

type backoff struct {
	min     time.Duration
	max     time.Duration
	current time.Duration
}

func newBackoff() *backoff {
	return &backoff{min: minReconnectDelay, max: maxReconnectDelay}
}

func (b *backoff) next() time.Duration {
	if b.current == 0 {
		b.current = b.min
	} else {
		b.current *= 2
	}
	if b.current > b.max {
		b.current = b.max
	}
	return b.current
}

func (b *backoff) reset() {
	b.current = 0
}

// wait sleeps for the next delay and reports false when ctx ends first.
func (b *backoff) wait(ctx context.Context) bool {
	timer := time.NewTimer(b.next())
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
