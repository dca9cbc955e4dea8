package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bujia-iot/meter-frame-analyzer/internal/infrastructure/config"
	"github.com/bujia-iot/meter-frame-analyzer/internal/infrastructure/logger"
	"github.com/bujia-iot/meter-frame-analyzer/pkg/errors"
)

// NewClient 按配置创建Redis客户端并测试连接
func NewClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(options(cfg))

	// 测试连接
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if _, err := client.Ping(pingCtx).Result(); err != nil {
		_ = client.Close()
		return nil, errors.Wrap(errors.ErrRedisConnectionFailed, "Redis连接测试失败", err)
	}

	logger.WithField("address", cfg.Address).Info("Redis连接初始化成功")
	return client, nil
}

func options(cfg config.RedisConfig) *redis.Options {
	return &redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  time.Duration(cfg.DialTimeout) * time.Second,
		ReadTimeout:  time.Duration(cfg.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.WriteTimeout) * time.Second,
	}
}

// Close 关闭Redis连接
func Close(client *redis.Client) error {
	if client == nil {
		return nil
	}
	if err := client.Close(); err != nil {
		return errors.Wrap(errors.ErrRedisConnectionFailed, "关闭Redis连接失败", err)
	}
	logger.Info("Redis连接已关闭")
	return nil
}
