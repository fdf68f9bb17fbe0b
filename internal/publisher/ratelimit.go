package publisher

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

const secondsPerMinute = 60

// channelLimiters holds one token-bucket limiter per channel. Permits are not
// sharable across channels; all concurrent publish attempts for a channel
// serialize through its limiter.
type channelLimiters struct {
	mu             sync.Mutex
	limiters       map[string]*rate.Limiter
	sendsPerMinute int
}

func newChannelLimiters(sendsPerMinute int) *channelLimiters {
	return &channelLimiters{
		limiters:       make(map[string]*rate.Limiter),
		sendsPerMinute: sendsPerMinute,
	}
}

func (c *channelLimiters) get(channel string) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()

	limiter, ok := c.limiters[channel]
	if !ok {
		// Replenish at the platform's documented safe rate, allow a burst of
		// one full minute's budget.
		limiter = rate.NewLimiter(rate.Limit(float64(c.sendsPerMinute)/secondsPerMinute), c.sendsPerMinute)
		c.limiters[channel] = limiter
	}
	return limiter
}

// Wait blocks until the channel's limiter grants a permit or ctx is done.
func (c *channelLimiters) Wait(ctx context.Context, channel string) error {
	return c.get(channel).Wait(ctx)
}
