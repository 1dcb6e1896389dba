package redisclient

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Client is the API's handle on redis. Only shared login throttling state lives there.
type Client struct {
	rdb *redis.Client
}

type Config struct {
	Addr     string
	Password string
	DB       int
	// Timeout bounds dial, read and write. Zero means 500ms.
	Timeout time.Duration
}

func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		// a slow redis must not hold up a login for long, the limiter fails open
		timeout = 500 * time.Millisecond
	}

	return &Client{rdb: redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  timeout,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
		MaxRetries:   1,
	})}
}

// Ping doubles as the readiness check.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func (c *Client) Close() error {
	return c.rdb.Close()
}
