// Package runlock guards the "one scheduled run at a time" assumption with a
// Redis mutex. The batch loops themselves never coordinate; two overlapping
// daily runs would double-process the same candidate rows, so when Redis is
// configured the dispatcher refuses to start while another run holds the lock.
package runlock

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrConnect is returned when the Redis server cannot be reached.
	ErrConnect = errors.New("runlock: failed to connect to redis")

	// ErrAlreadyLocked is returned by Acquire when another run holds the lock.
	ErrAlreadyLocked = errors.New("runlock: another run is in progress")

	// ErrNotHeld is returned by Release when the lock is missing or owned by
	// a different run (expired and re-acquired elsewhere).
	ErrNotHeld = errors.New("runlock: lock not held by this run")
)

const lockKey = "orderhisclean:daily_run"

// releaseScript deletes the lock only if this run still owns it, so an
// expired lock re-acquired by a newer run is never released from here.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Config holds Redis connection settings for the lock.
type Config struct {
	Addr     string
	Password string
	DB       int

	// TTL bounds lock lifetime so a crashed run cannot block tomorrow's.
	// Must comfortably exceed the latest handler cut-off relative to start.
	TTL time.Duration
}

// Locker is a daily-run mutex. One Locker serves repeated acquire/release
// cycles; its token identifies this process across all of them.
type Locker struct {
	client *redis.Client
	log    *slog.Logger
	token  string
	ttl    time.Duration
}

// New connects to Redis and verifies the connection with a ping.
func New(ctx context.Context, cfg Config, log *slog.Logger) (*Locker, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Join(ErrConnect, err)
	}

	return &Locker{
		client: client,
		log:    log,
		token:  uuid.NewString(),
		ttl:    cfg.TTL,
	}, nil
}

// Acquire claims the daily-run lock. It does not block: a held lock means a
// run is already in progress and today's invocation should bail out.
func (l *Locker) Acquire(ctx context.Context) error {
	ok, err := l.client.SetNX(ctx, lockKey, l.token, l.ttl).Result()
	if err != nil {
		return errors.Join(ErrConnect, err)
	}
	if !ok {
		return ErrAlreadyLocked
	}
	l.log.InfoContext(ctx, "daily run lock acquired",
		slog.String("token", l.token),
		slog.Duration("ttl", l.ttl))
	return nil
}

// Release frees the lock if this run still owns it.
func (l *Locker) Release(ctx context.Context) error {
	deleted, err := releaseScript.Run(ctx, l.client, []string{lockKey}, l.token).Int()
	if err != nil {
		return errors.Join(ErrConnect, err)
	}
	if deleted == 0 {
		return ErrNotHeld
	}
	l.log.InfoContext(ctx, "daily run lock released", slog.String("token", l.token))
	return nil
}

// Close closes the underlying Redis client.
func (l *Locker) Close() error {
	return l.client.Close()
}
