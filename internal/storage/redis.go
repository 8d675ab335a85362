package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"resume-tailor/internal/config"
	"resume-tailor/internal/constants"

	"github.com/gofrs/uuid/v5"
	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
)

// ErrCacheMiss 缓存未命中
var ErrCacheMiss = redis.Nil

// ErrLockHeld 锁已被其他持有者占用
var ErrLockHeld = errors.New("锁已被占用")

// Redis wraps the Redis client
type Redis struct {
	Client *redis.Client
	config *config.RedisConfig
}

// NewRedisAdapter creates a new Redis client connection
func NewRedisAdapter(cfg *config.RedisConfig) (*Redis, error) {
	if cfg == nil {
		return nil, fmt.Errorf("redis config cannot be nil")
	}
	if cfg.Address == "" {
		return nil, fmt.Errorf("redis address is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,

		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,

		DialTimeout:  time.Duration(cfg.DialTimeoutSeconds) * time.Second,
		ReadTimeout:  time.Duration(cfg.ReadTimeoutSeconds) * time.Second,
		WriteTimeout: time.Duration(cfg.WriteTimeoutSeconds) * time.Second,

		MaxRetries: cfg.MaxRetries,
	})

	// 所有命令都产生 span
	if err := redisotel.InstrumentTracing(client); err != nil {
		return nil, fmt.Errorf("failed to instrument Redis with OpenTelemetry: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Address, err)
	}

	return &Redis{Client: client, config: cfg}, nil
}

// Close closes the Redis client connection
func (r *Redis) Close() error {
	if r.Client != nil {
		return r.Client.Close()
	}
	return nil
}

// Ping checks the Redis connection
func (r *Redis) Ping(ctx context.Context) error {
	if r.Client == nil {
		return fmt.Errorf("redis client is not initialized")
	}
	return r.Client.Ping(ctx).Err()
}

// AcquireLock 尝试获取一个分布式锁，被占用时返回 ErrLockHeld
func (r *Redis) AcquireLock(ctx context.Context, lockKey string, expiration time.Duration) (string, error) {
	lockValue := uuid.Must(uuid.NewV4()).String()
	ok, err := r.Client.SetNX(ctx, lockKey, lockValue, expiration).Result()
	if err != nil {
		return "", fmt.Errorf("获取锁 %s 失败: %w", lockKey, err)
	}
	if !ok {
		return "", ErrLockHeld
	}
	return lockValue, nil
}

// 只删除自己持有的锁
var releaseLockScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`)

// ReleaseLock 释放一个分布式锁，返回是否确实释放
func (r *Redis) ReleaseLock(ctx context.Context, lockKey string, lockValue string) (bool, error) {
	res, err := releaseLockScript.Run(ctx, r.Client, []string{lockKey}, lockValue).Int64()
	if err != nil {
		return false, fmt.Errorf("释放锁 %s 失败: %w", lockKey, err)
	}
	return res == 1, nil
}

// AcquireIngestLock 按 fileId 加入库锁
func (r *Redis) AcquireIngestLock(ctx context.Context, fileID string, ttl time.Duration) (func(context.Context), error) {
	key := fmt.Sprintf(constants.KeyIngestLock, fileID)
	value, err := r.AcquireLock(ctx, key, ttl)
	if err != nil {
		return nil, err
	}
	return func(ctx context.Context) {
		_, _ = r.ReleaseLock(ctx, key, value)
	}, nil
}

// SetJobVector 缓存 JD 查询向量，key 为 JD 文本的 MD5
func (r *Redis) SetJobVector(ctx context.Context, jdMD5 string, vector []float64, modelVersion string) error {
	cacheKey := fmt.Sprintf(constants.KeyJobDescriptionVector, jdMD5)

	vectorJSON, err := json.Marshal(vector)
	if err != nil {
		return fmt.Errorf("序列化向量失败: %w", err)
	}

	ttl := time.Duration(r.config.QueryVectorTTLHours) * time.Hour
	if ttl <= 0 {
		ttl = constants.DefaultQueryVectorTTL
	}

	pipe := r.Client.TxPipeline()
	pipe.HSet(ctx, cacheKey, "vector", vectorJSON, "model_version", modelVersion)
	pipe.Expire(ctx, cacheKey, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("设置 JD 向量缓存失败: %w", err)
	}
	return nil
}

// GetJobVector 读取 JD 查询向量，模型版本不一致视为未命中
func (r *Redis) GetJobVector(ctx context.Context, jdMD5 string, modelVersion string) ([]float64, error) {
	cacheKey := fmt.Sprintf(constants.KeyJobDescriptionVector, jdMD5)

	vals, err := r.Client.HMGet(ctx, cacheKey, "vector", "model_version").Result()
	if err != nil {
		return nil, err
	}
	if len(vals) < 2 || vals[0] == nil {
		return nil, ErrCacheMiss
	}
	if cached, _ := vals[1].(string); cached != modelVersion {
		return nil, ErrCacheMiss
	}

	vectorJSON, ok := vals[0].(string)
	if !ok || vectorJSON == "" {
		return nil, fmt.Errorf("向量缓存格式错误")
	}
	var vector []float64
	if err := json.Unmarshal([]byte(vectorJSON), &vector); err != nil {
		return nil, fmt.Errorf("反序列化向量失败: %w", err)
	}
	return vector, nil
}
