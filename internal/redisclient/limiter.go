package redisclient

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// WindowLimiter is a fixed-window counter shared by every API replica.
type WindowLimiter struct {
	rdb    redis.Cmdable
	prefix string
	limit  int
	window time.Duration
}

// NewWindowLimiter counts hits under "<prefix>:<key>".
func NewWindowLimiter(c *Client, prefix string, limit int, window time.Duration) *WindowLimiter {
	return newWindowLimiter(c.rdb, prefix, limit, window)
}

func newWindowLimiter(rdb redis.Cmdable, prefix string, limit int, window time.Duration) *WindowLimiter {
	return &WindowLimiter{
		rdb:    rdb,
		prefix: strings.TrimSuffix(prefix, ":") + ":",
		limit:  limit,
		window: window,
	}
}

// Allow counts one hit for key. The expiry is only set by the first hit in a
// window, so the window does not slide while a client keeps retrying.
func (l *WindowLimiter) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	k := l.prefix + key

	pipe := l.rdb.TxPipeline()
	incr := pipe.Incr(ctx, k)
	pipe.ExpireNX(ctx, k, l.window)
	ttl := pipe.PTTL(ctx, k)

	if _, err := pipe.Exec(ctx); err != nil {
		return false, 0, err
	}

	if incr.Val() > int64(l.limit) {
		retry := ttl.Val()
		if retry < 0 {
			retry = l.window
		}
		return false, retry, nil
	}

	return true, 0, nil
}
