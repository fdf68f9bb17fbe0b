package engagement

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jonesrussell/amplify/internal/logger"
)

// AuthorBurst counts events per (post, author) in a rolling window. The
// engagement manager suppresses an author who bursts past the configured
// count regardless of what the classifier said about the content.
type AuthorBurst struct {
	client *redis.Client
	window time.Duration
	logger logger.Logger
}

// NewAuthorBurst creates a burst counter with the given window.
func NewAuthorBurst(client *redis.Client, window time.Duration, log logger.Logger) *AuthorBurst {
	return &AuthorBurst{client: client, window: window, logger: log}
}

func (b *AuthorBurst) key(postID, author string) string {
	return fmt.Sprintf("amplify:burst:%s:%s", postID, author)
}

// Record increments the author's counter for the post and returns the count
// inside the current window. Redis errors are logged and reported as a count
// of 1 so an unavailable cache never suppresses legitimate comments.
func (b *AuthorBurst) Record(ctx context.Context, postID, author string) int64 {
	key := b.key(postID, author)

	count, err := b.client.Incr(ctx, key).Result()
	if err != nil {
		b.logger.Error("redis error counting author burst",
			logger.String("redis_key", key),
			logger.Error(err))
		return 1
	}
	if count == 1 {
		if err := b.client.Expire(ctx, key, b.window).Err(); err != nil {
			b.logger.Error("redis error setting burst window",
				logger.String("redis_key", key),
				logger.Error(err))
		}
	}
	return count
}
