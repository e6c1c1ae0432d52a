package lock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the key only when it still holds our token so an
// expired lock taken over by another node is never released by us.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// RedisOptions tunes lock behaviour.
type RedisOptions struct {
	// TTL bounds how long a crashed holder can block others.
	TTL time.Duration
	// RetryInterval is the initial wait between attempts, doubled up to 8x.
	RetryInterval time.Duration
}

// Redis is a Locker backed by SET NX PX.
type Redis struct {
	client redis.Cmdable
	opts   RedisOptions
}

// NewRedis constructs a Redis locker.
func NewRedis(client redis.Cmdable, opts RedisOptions) *Redis {
	if opts.TTL <= 0 {
		opts.TTL = 10 * time.Second
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = 25 * time.Millisecond
	}
	return &Redis{client: client, opts: opts}
}

// Acquire implements Locker.
func (l *Redis) Acquire(ctx context.Context, key string) (func(), error) {
	if l == nil || l.client == nil {
		return nil, errors.New("lock: redis client not configured")
	}
	token, err := newToken()
	if err != nil {
		return nil, err
	}
	wait := l.opts.RetryInterval
	for {
		ok, err := l.client.SetNX(ctx, key, token, l.opts.TTL).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, errors.Join(ErrNotAcquired, ctx.Err())
			}
			return nil, fmt.Errorf("lock: setnx %s: %w", key, err)
		}
		if ok {
			break
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, errors.Join(ErrNotAcquired, ctx.Err())
		case <-timer.C:
		}
		if wait < 8*l.opts.RetryInterval {
			wait *= 2
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// Release must run even when the request context is already done.
			releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
			defer cancel()
			_ = releaseScript.Run(releaseCtx, l.client, []string{key}, token).Err()
		})
	}, nil
}

func newToken() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("lock: token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
