package clients

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// ErrLockTimeout is returned when the lock could not be taken before the
// context ended.
var ErrLockTimeout = errors.New("generation lock not acquired")

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// RedisLock serialises mission generation across replicas. Each holder writes
// a random token so only the holder can release.
type RedisLock struct {
	Client *redis.Client
	TTL    time.Duration
	Poll   time.Duration
	Prefix string
	Log    *logrus.Entry
}

func NewRedisLock(client *redis.Client, ttl time.Duration, log *logrus.Entry) *RedisLock {
	return &RedisLock{
		Client: client,
		TTL:    ttl,
		Poll:   50 * time.Millisecond,
		Prefix: "travel-missions:lock:",
		Log:    log,
	}
}

// NewRedisClient parses a redis:// URL and pings the server.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	rc := redis.NewClient(opts)
	if err := rc.Ping(ctx).Err(); err != nil {
		rc.Close()
		return nil, err
	}
	return rc, nil
}

// Acquire blocks until key is held or ctx ends.
func (l *RedisLock) Acquire(ctx context.Context, key string) (func(), error) {
	token := uuid.NewString()
	full := l.Prefix + key
	for {
		ok, err := l.Client.SetNX(ctx, full, token, l.TTL).Result()
		if err != nil {
			return nil, err
		}
		if ok {
			return func() {
				// Released with a fresh context: the caller's may already be done.
				ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				if err := releaseScript.Run(ctx, l.Client, []string{full}, token).Err(); err != nil {
					l.Log.WithError(err).WithFields(logrus.Fields{
						"key": full,
						"ttl": l.TTL.String(),
					}).Warn("⚠️ generation lock release failed, held until ttl expires")
				}
			}, nil
		}
		select {
		case <-ctx.Done():
			return nil, ErrLockTimeout
		case <-time.After(l.Poll):
		}
	}
}
