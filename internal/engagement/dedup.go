package engagement

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jonesrussell/amplify/internal/logger"
)

// ReplyDedup guards automated replies so classification retries never reply
// twice to the same comment. The database state transition is the durable
// guard; this catches the crash window between a sent reply and the state
// update.
type ReplyDedup struct {
	client *redis.Client
	ttl    time.Duration
	logger logger.Logger
}

// NewReplyDedup creates a reply deduplicator.
func NewReplyDedup(client *redis.Client, ttl time.Duration, log logger.Logger) *ReplyDedup {
	return &ReplyDedup{client: client, ttl: ttl, logger: log}
}

func (d *ReplyDedup) key(commentID string) string {
	return fmt.Sprintf("amplify:replied:%s", commentID)
}

// TryAcquire claims the reply slot for a comment. Returns false when a reply
// was already claimed. Redis errors are logged and treated as not-claimed so
// the durable state guard still gets its say.
func (d *ReplyDedup) TryAcquire(ctx context.Context, commentID string) bool {
	key := d.key(commentID)

	acquired, err := d.client.SetNX(ctx, key, "1", d.ttl).Result()
	if err != nil {
		d.logger.Error("redis error claiming reply slot",
			logger.String("redis_key", key),
			logger.Error(err))
		return true
	}
	return acquired
}

// Release frees the reply slot after a failed send so a retry can reply.
func (d *ReplyDedup) Release(ctx context.Context, commentID string) {
	key := d.key(commentID)
	if err := d.client.Del(ctx, key).Err(); err != nil {
		d.logger.Error("redis error releasing reply slot",
			logger.String("redis_key", key),
			logger.Error(err))
	}
}
