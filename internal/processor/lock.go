package processor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nimasrn/outreach-engine/pkg/logger"
	"github.com/nimasrn/outreach-engine/pkg/redis"
)

var (
	ErrLockHeld   = errors.New("tick lock held by another instance")
	ErrLockLost   = errors.New("tick lock no longer owned")
	ErrLockFailed = errors.New("failed to acquire tick lock")
)

type LockConfig struct {
	TTL       time.Duration
	KeyPrefix string
}

func DefaultLockConfig() LockConfig {
	return LockConfig{
		TTL:       10 * time.Minute,
		KeyPrefix: "lock:tick:",
	}
}

// TickLock makes a scheduler task run on one replica at a time. Each lease
// carries its own token so a replica can only release or extend what it
// acquired, even after its lease expired and another replica took over.
type TickLock struct {
	redis  redis.RedisAdapter
	config LockConfig
	owner  string
}

func NewTickLock(adapter redis.RedisAdapter, config LockConfig) *TickLock {
	if config.TTL <= 0 {
		config.TTL = DefaultLockConfig().TTL
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = DefaultLockConfig().KeyPrefix
	}
	return &TickLock{
		redis:  adapter,
		config: config,
		owner:  uuid.NewString(),
	}
}

func (l *TickLock) Owner() string {
	return l.owner
}

func (l *TickLock) TTL() time.Duration {
	return l.config.TTL
}

type Lease struct {
	Task  string
	key   string
	token string
	lock  *TickLock
}

func (l *TickLock) Acquire(ctx context.Context, task string) (*Lease, error) {
	key := l.config.KeyPrefix + task
	token := l.owner + ":" + uuid.NewString()

	acquired, err := l.redis.SetNX(ctx, key, []byte(token), l.config.TTL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLockFailed, err)
	}
	if !acquired {
		return nil, ErrLockHeld
	}

	logger.Debug("tick lock acquired", "task", task, "owner", l.owner, "ttl", l.config.TTL)
	return &Lease{Task: task, key: key, token: token, lock: l}, nil
}

// Extend pushes the expiry out by the lock TTL for long running ticks.
func (le *Lease) Extend(ctx context.Context) error {
	ok, err := le.lock.redis.ExtendIfOwner(ctx, le.key, le.token, le.lock.config.TTL)
	if err != nil {
		return err
	}
	if !ok {
		return ErrLockLost
	}
	return nil
}

func (le *Lease) Release(ctx context.Context) error {
	ok, err := le.lock.redis.ReleaseIfOwner(ctx, le.key, le.token)
	if err != nil {
		logger.Warn("failed to release tick lock", "task", le.Task, "error", err)
		return err
	}
	if !ok {
		logger.Warn("tick lock expired before release", "task", le.Task)
		return ErrLockLost
	}
	return nil
}
