package apis

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/bujia-iot/meter-frame-analyzer/internal/app/service"
	"github.com/bujia-iot/meter-frame-analyzer/internal/infrastructure/logger"
)

const requestIDHeader = "X-Request-ID"

// GinHTTPServer 基于Gin的HTTP服务器
type GinHTTPServer struct {
	server *http.Server
	router *gin.Engine
}

// NewGinHTTPServer 创建基于Gin的HTTP服务器，timeout 为单个请求的处理时限
func NewGinHTTPServer(addr string, timeout time.Duration, svc *service.AnalyzerService) *GinHTTPServer {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	router := NewRouter(svc, timeout)

	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  timeout,
		WriteTimeout: 2 * timeout,
		IdleTimeout:  120 * time.Second,
	}

	return &GinHTTPServer{
		server: server,
		router: router,
	}
}

// NewRouter 创建路由并注册全部接口
func NewRouter(svc *service.AnalyzerService, timeout time.Duration) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestIDMiddleware())
	router.Use(accessLogMiddleware())
	router.Use(corsMiddleware())

	api := NewAnalyzerAPI(svc, timeout)
	registerRoutes(router, api)
	return router
}

// registerRoutes 注册所有路由
func registerRoutes(router *gin.Engine, api *AnalyzerAPI) {
	v1 := router.Group("/api/v1")
	{
		v1.POST("/analyze", api.Analyze)    // POST /api/v1/analyze - 解析报文
		v1.GET("/analyze/ws", api.Stream)   // GET /api/v1/analyze/ws - 实时解析
		v1.POST("/frames/build", api.Build) // POST /api/v1/frames/build - 构建抄表报文
		v1.POST("/hex", api.Hex)            // POST /api/v1/hex - 十六进制文本整理

		protocols := v1.Group("/protocols")
		{
			protocols.GET("", api.Protocols)                   // GET /api/v1/protocols - 协议列表
			protocols.GET("/:name/items", api.Items)           // GET /api/v1/protocols/CSG13/items - 数据项列表
			protocols.PUT("/:name/schema", api.UpdateSchema)   // PUT /api/v1/protocols/CSG13/schema - 替换协议配置
			protocols.DELETE("/:name/schema", api.ResetSchema) // DELETE /api/v1/protocols/CSG13/schema - 恢复内置配置
		}
	}

	router.GET("/health", api.Health)
	router.GET("/ping", func(c *gin.Context) {
		c.String(http.StatusOK, "pong")
	})
}

// requestIDMiddleware 为每个请求分配请求标识
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(requestIDHeader, id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

// accessLogMiddleware 请求日志
func accessLogMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		logger.WithFields(logrus.Fields{
			"requestId": c.GetString(requestIDHeader),
			"method":    c.Request.Method,
			"path":      c.Request.URL.Path,
			"status":    c.Writer.Status(),
			"cost":      time.Since(start).String(),
			"client":    c.ClientIP(),
		}).Info("HTTP请求")
	}
}

// corsMiddleware CORS中间件
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization, "+requestIDHeader)

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// Start 启动HTTP服务器
func (s *GinHTTPServer) Start() error {
	logger.WithField("address", s.server.Addr).Info("启动Gin HTTP服务器")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop 停止HTTP服务器
func (s *GinHTTPServer) Stop(ctx context.Context) error {
	logger.Info("停止Gin HTTP服务器")
	return s.server.Shutdown(ctx)
}

// GetRouter 获取Gin路由器（用于测试）
func (s *GinHTTPServer) GetRouter() *gin.Engine {
	return s.router
}
