// Package main 电表报文解析服务
// 提供HTTP API与TCP两种接入方式，可选通过Redis在多实例间同步协议配置
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/bujia-iot/meter-frame-analyzer/internal/apis"
	"github.com/bujia-iot/meter-frame-analyzer/internal/app/service"
	"github.com/bujia-iot/meter-frame-analyzer/internal/infrastructure/config"
	"github.com/bujia-iot/meter-frame-analyzer/internal/infrastructure/logger"
	"github.com/bujia-iot/meter-frame-analyzer/internal/infrastructure/redis"
	"github.com/bujia-iot/meter-frame-analyzer/internal/ports"
	"github.com/bujia-iot/meter-frame-analyzer/pkg/schema"
)

var configFile = flag.String("config", "configs/analyzer.yaml", "配置文件路径")

const shutdownTimeout = 5 * time.Second

func loadConfigOrExit() *config.Config {
	if err := config.Load(*configFile); err != nil {
		logger.Error("加载配置文件失败: " + err.Error())
		os.Exit(1)
	}
	return config.GetConfig()
}

func setupLoggerOrExit(cfg *config.Config) {
	if err := logger.Init(&cfg.Logger); err != nil {
		logger.Error("初始化日志系统失败: " + err.Error())
		os.Exit(1)
	}
}

// connectRedis 连接Redis，失败时返回nil，协议配置只在本实例生效
func connectRedis(ctx context.Context, cfg config.RedisConfig) (*goredis.Client, *redis.SchemaStore) {
	if !cfg.Enabled {
		return nil, nil
	}
	client, err := redis.NewClient(ctx, cfg)
	if err != nil {
		logger.WithField("error", err.Error()).Warn("Redis连接失败，协议配置不在实例间同步")
		return nil, nil
	}
	return client, redis.NewSchemaStore(client, cfg.KeyPrefix, cfg.Channel)
}

func newService(ctx context.Context, cfg *config.Config, store *redis.SchemaStore) *service.AnalyzerService {
	reg, err := schema.NewDefaultRegistry()
	if err != nil {
		logger.WithField("error", err.Error()).Fatal("加载内置协议配置失败")
	}

	// store 为nil时不能直接传入接口参数
	var shared service.SchemaStore
	if store != nil {
		shared = store
	}
	svc := service.NewAnalyzerService(reg, cfg.Analyzer, shared)

	if err := svc.LoadSchemaFiles(cfg.Analyzer.SchemaFiles); err != nil {
		logger.WithField("error", err.Error()).Fatal("加载协议配置文件失败")
	}
	if err := svc.RestoreOverrides(ctx); err != nil {
		logger.WithField("error", err.Error()).Warn("恢复已保存的协议配置失败")
	}
	return svc
}

// watchSchemaChanges 订阅其他实例的协议配置变更
func watchSchemaChanges(ctx context.Context, store *redis.SchemaStore, svc *service.AnalyzerService) {
	go func() {
		err := store.Subscribe(ctx, func(change redis.SchemaChange, content []byte) {
			entry := logger.WithFields(logrus.Fields{
				"family":   change.Family,
				"action":   change.Action,
				"instance": change.Instance,
			})
			if err := svc.ApplyRemoteChange(change.Family, content); err != nil {
				entry.WithField("error", err.Error()).Warn("应用协议配置变更失败")
				return
			}
			entry.Info("已应用协议配置变更")
		})
		if err != nil && ctx.Err() == nil {
			logger.WithField("error", err.Error()).Error("协议配置订阅中断")
		}
	}()
}

func main() {
	// 解析命令行参数
	flag.Parse()

	cfg := loadConfigOrExit()
	setupLoggerOrExit(cfg)

	// 可取消上下文（系统信号）
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 初始化Redis（非致命错误）
	client, store := connectRedis(ctx, cfg.Redis)
	svc := newService(ctx, cfg, store)
	if store != nil {
		watchSchemaChanges(ctx, store, svc)
	}

	timeout := time.Duration(cfg.HTTPAPIServer.TimeoutSeconds) * time.Second

	// 启动HTTP/TCP服务
	httpServer := apis.NewGinHTTPServer(config.FormatHTTPAddress(), timeout, svc)
	go func() {
		if err := httpServer.Start(); err != nil {
			logger.WithField("error", err.Error()).Error("HTTP API服务器启动失败")
			stop()
		}
	}()

	var tcpServer *ports.TCPServer
	if cfg.TCPServer.Enabled {
		tcpServer = ports.NewTCPServer(cfg.TCPServer, cfg.Analyzer.MaxFrameBytes, timeout, svc)
		go func() {
			if err := tcpServer.Start(); err != nil {
				logger.WithField("error", err.Error()).Error("TCP服务器启动失败")
				stop()
			}
		}()
	}

	// 等待中断信号
	<-ctx.Done()
	logger.Info("接收到停止信号，开始关闭...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Stop(shutdownCtx); err != nil {
		logger.WithField("error", err.Error()).Error("停止HTTP API服务器失败")
	}
	if tcpServer != nil {
		tcpServer.Stop()
	}

	// 关闭Redis连接
	if client != nil {
		if err := redis.Close(client); err != nil {
			logger.WithField("error", err.Error()).Error("关闭Redis连接失败")
		}
	}
}
