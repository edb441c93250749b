package service

import (
	"context"
	"fmt"
	"time"

	"speaking_backend/internal/util"
	"speaking_backend/pkg/logger"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SubmissionLock 跨实例的 (attempt, question) 提交互斥
type SubmissionLock interface {
	// Acquire 已被其他实例持有时返回 util.ErrSubmissionInProgress
	Acquire(ctx context.Context, attemptID, questionID uint) (release func(), err error)
}

// 仅删除自己持有的锁
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type RedisSubmissionLock struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisSubmissionLock(client *redis.Client, ttl time.Duration) *RedisSubmissionLock {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &RedisSubmissionLock{client: client, ttl: ttl}
}

func submissionLockKey(attemptID, questionID uint) string {
	return fmt.Sprintf("speaking:submit:%d:%d", attemptID, questionID)
}

func (l *RedisSubmissionLock) Acquire(ctx context.Context, attemptID, questionID uint) (func(), error) {
	key := submissionLockKey(attemptID, questionID)
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire submission lock: %w", err)
	}
	if !ok {
		return nil, util.ErrSubmissionInProgress
	}

	return func() {
		// 请求 ctx 可能已取消，释放锁用独立超时
		releaseCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := releaseScript.Run(releaseCtx, l.client, []string{key}, token).Err(); err != nil {
			logger.Log.Warn("Failed to release submission lock", zap.String("key", key), zap.Error(err))
		}
	}, nil
}

// NoopSubmissionLock 单实例部署
type NoopSubmissionLock struct{}

func (NoopSubmissionLock) Acquire(ctx context.Context, attemptID, questionID uint) (func(), error) {
	return func() {}, nil
}
