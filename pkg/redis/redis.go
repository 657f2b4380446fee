package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

var NilError = goredis.Nil

type Options = goredis.UniversalOptions

// releaseScript deletes the key only while it still holds the caller's token.
var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// extendScript refreshes the TTL only while the key still holds the caller's token.
var extendScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)

type RedisAdapter interface {
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	Get(ctx context.Context, key string) ([]byte, error)
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	HSetBatch(ctx context.Context, key string, fields map[string]interface{}, ttl time.Duration) error

	// ReleaseIfOwner and ExtendIfOwner implement token-guarded locks.
	ReleaseIfOwner(ctx context.Context, key string, token string) (bool, error)
	ExtendIfOwner(ctx context.Context, key string, token string, ttl time.Duration) (bool, error)

	Ping(ctx context.Context) error
	Client() goredis.UniversalClient
}

type redisAdapter struct {
	prefix   string
	Conn     goredis.UniversalClient
	ConnName string
}

var redisLock = &sync.RWMutex{}
var redisInstance map[string]RedisAdapter

func NewRedisAdapter(connName string, keysPrefix string, opts *goredis.UniversalOptions) (RedisAdapter, error) {
	redisLock.RLock()
	if redisInstance != nil {
		if adapter, ok := redisInstance[connName]; ok {
			redisLock.RUnlock()
			return adapter, nil
		}
	}
	redisLock.RUnlock()

	c := goredis.NewUniversalClient(opts)
	if cmd := c.Ping(context.Background()); cmd.Err() != nil {
		return nil, cmd.Err()
	}

	adapter := &redisAdapter{
		Conn:     c,
		prefix:   keysPrefix,
		ConnName: connName,
	}

	redisLock.Lock()
	defer redisLock.Unlock()
	if redisInstance == nil {
		redisInstance = make(map[string]RedisAdapter)
	}
	if existing, ok := redisInstance[connName]; ok {
		_ = c.Close()
		return existing, nil
	}
	redisInstance[connName] = adapter

	return adapter, nil
}

func (r *redisAdapter) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	cmd := r.Conn.SetNX(ctx, r.prefix+key, value, ttl)
	if err := cmd.Err(); err != nil {
		return false, err
	}
	return cmd.Val(), nil
}

func (r *redisAdapter) Get(ctx context.Context, key string) ([]byte, error) {
	st := r.Conn.Get(ctx, r.prefix+key)
	if err := st.Err(); err != nil {
		return nil, err
	}
	return st.Bytes()
}

func (r *redisAdapter) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	st := r.Conn.HGetAll(ctx, r.prefix+key)
	if st.Err() != nil {
		return nil, st.Err()
	}
	return st.Val(), nil
}

func (r *redisAdapter) HSetBatch(ctx context.Context, key string, fields map[string]interface{}, ttl time.Duration) error {
	if len(fields) == 0 {
		return nil
	}
	mainKey := r.prefix + key
	cmds, err := r.Conn.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.HSet(ctx, mainKey, fields)
		if ttl > 0 {
			pipe.Expire(ctx, mainKey, ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to run pipelined HSet: %w", err)
	}
	for _, c := range cmds {
		if c != nil && c.Err() != nil {
			return fmt.Errorf("pipelined HSet error: %w", c.Err())
		}
	}
	return nil
}

func (r *redisAdapter) ReleaseIfOwner(ctx context.Context, key string, token string) (bool, error) {
	n, err := releaseScript.Run(ctx, r.Conn, []string{r.prefix + key}, token).Int64()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *redisAdapter) ExtendIfOwner(ctx context.Context, key string, token string, ttl time.Duration) (bool, error) {
	n, err := extendScript.Run(ctx, r.Conn, []string{r.prefix + key}, token, ttl.Milliseconds()).Int64()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *redisAdapter) Ping(ctx context.Context) error {
	return r.Conn.Ping(ctx).Err()
}

func (r *redisAdapter) Client() goredis.UniversalClient {
	return r.Conn
}
