package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// RedisConfig configures the Redis connection backing distributed locks.
type RedisConfig struct {
	Host     string `long:"host" env:"REDIS_HOST" default:"redis" description:"Redis host"`
	Port     int    `long:"port" env:"REDIS_PORT" default:"6379" description:"Redis port"`
	Password string `long:"password" env:"REDIS_PASSWORD" default:"" description:"Redis password"`
}

// Addr renders the host:port address.
func (c RedisConfig) Addr() string { return fmt.Sprintf("%s:%d", c.Host, c.Port) }

// Locker provides named distributed locks with fencing identifiers,
// built on SET NX EX and a compare-and-delete release.
type Locker struct {
	client *redis.Client
}

// NewLocker connects to Redis and verifies the connection.
func NewLocker(ctx context.Context, cfg RedisConfig) (*Locker, error) {
	var client = redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis at %s: %w", cfg.Addr(), err)
	}
	return &Locker{client: client}, nil
}

// NewLockerWithClient wraps an existing client (used by tests).
func NewLockerWithClient(client *redis.Client) *Locker { return &Locker{client: client} }

// Close releases the Redis connection.
func (l *Locker) Close() error { return l.client.Close() }

// releaseScript deletes the lock key only when the caller still holds it.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`)

// Acquire attempts to take the named lock for |ttl|, retrying until
// |wait| elapses. It returns the fencing identifier on success, or ""
// when the lock is held elsewhere.
func (l *Locker) Acquire(ctx context.Context, name string, wait, ttl time.Duration) (string, error) {
	var key = "lock:" + name
	var identifier = uuid.NewString()

	var deadline = time.Now().Add(wait)
	for {
		var ok, err = l.client.SetNX(ctx, key, identifier, ttl).Result()
		if err != nil {
			return "", fmt.Errorf("acquiring lock %q: %w", name, err)
		}
		if ok {
			return identifier, nil
		}
		if time.Now().After(deadline) {
			log.WithFields(log.Fields{"lock": name, "wait": wait}).Debug("lock is held elsewhere")
			return "", nil
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
}

// Release drops the named lock if |identifier| still holds it, and
// reports whether it did.
func (l *Locker) Release(ctx context.Context, name, identifier string) (bool, error) {
	var n, err = releaseScript.Run(ctx, l.client, []string{"lock:" + name}, identifier).Int()
	if err != nil {
		return false, fmt.Errorf("releasing lock %q: %w", name, err)
	}
	if n == 0 {
		log.WithField("lock", name).Warn("lock was not released: not the owner")
	}
	return n == 1, nil
}
