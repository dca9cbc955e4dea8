package ports

import (
	"fmt"
	"time"

	"github.com/aceld/zinx/zconf"
	"github.com/aceld/zinx/ziface"
	"github.com/aceld/zinx/znet"
	"github.com/sirupsen/logrus"

	"github.com/bujia-iot/meter-frame-analyzer/internal/infrastructure/config"
	"github.com/bujia-iot/meter-frame-analyzer/internal/infrastructure/logger"
	"github.com/bujia-iot/meter-frame-analyzer/pkg/errors"
)

// TCPServer 报文解析TCP服务，客户端发送原始报文(二进制或十六进制文本)，逐帧返回解析结果
type TCPServer struct {
	server   ziface.IServer
	cfg      config.TCPServerConfig
	analyzer FrameAnalyzer
	maxFrame int
	timeout  time.Duration
}

// NewTCPServer 创建TCP服务器实例
func NewTCPServer(cfg config.TCPServerConfig, maxFrameBytes int, timeout time.Duration, analyzer FrameAnalyzer) *TCPServer {
	return &TCPServer{
		cfg:      cfg,
		analyzer: analyzer,
		maxFrame: maxFrameBytes,
		timeout:  timeout,
	}
}

// Start 配置并启动服务器，阻塞直到服务器停止
func (s *TCPServer) Start() error {
	// 初始化服务器配置
	if err := s.initialize(); err != nil {
		return err
	}

	// 注册路由
	s.server.AddRouter(MsgIDFrame, NewAnalyzeRouter(s.analyzer, s.timeout))

	// 设置连接钩子
	s.server.SetOnConnStart(onConnStart)
	s.server.SetOnConnStop(onConnStop)

	logger.Infof("TCP服务器启动在 %s:%d", s.cfg.Host, s.cfg.Port)
	s.server.Serve()
	return nil
}

// Stop 停止服务器
func (s *TCPServer) Stop() {
	if s.server != nil {
		s.server.Stop()
		logger.Info("TCP服务器已停止")
	}
}

// initialize 初始化服务器配置
func (s *TCPServer) initialize() error {
	zinxCfg := s.cfg.Zinx
	setupZinxLogger()

	// 设置Zinx服务器配置
	zconf.GlobalObject.Name = zinxCfg.Name
	zconf.GlobalObject.Host = s.cfg.Host
	zconf.GlobalObject.TCPPort = s.cfg.Port
	zconf.GlobalObject.Version = zinxCfg.Version
	zconf.GlobalObject.MaxConn = zinxCfg.MaxConn
	zconf.GlobalObject.MaxPacketSize = zinxCfg.MaxPacketSize
	zconf.GlobalObject.WorkerPoolSize = uint32(zinxCfg.WorkerPoolSize)
	zconf.GlobalObject.MaxWorkerTaskLen = uint32(zinxCfg.MaxWorkerTaskLen)

	// 创建服务器实例
	s.server = znet.NewUserConfServer(zconf.GlobalObject)
	if s.server == nil {
		return errors.New(errors.ErrUnknown, "创建Zinx服务器实例失败")
	}

	// 报文按0x68...0x16切分，应答不加包头
	s.server.SetPacket(NewRawDataPack())
	s.server.SetDecoder(NewFrameDecoder(s.maxFrame))
	return nil
}

func onConnStart(conn ziface.IConnection) {
	conn.SetProperty("connTime", time.Now())
	logger.WithFields(logrus.Fields{
		"connID":     conn.GetConnID(),
		"remoteAddr": conn.RemoteAddr().String(),
	}).Info("新连接建立")
}

func onConnStop(conn ziface.IConnection) {
	fields := logrus.Fields{
		"connID":     conn.GetConnID(),
		"remoteAddr": conn.RemoteAddr().String(),
	}
	if v, err := conn.GetProperty("connTime"); err == nil {
		if t, ok := v.(time.Time); ok {
			fields["duration"] = time.Since(t).Truncate(time.Second).String()
		}
	}
	if v, err := conn.GetProperty(PropFrameBuffer); err == nil {
		if buf, ok := v.(*frameBuffer); ok && buf.Pending() > 0 {
			fields["discarded"] = fmt.Sprintf("%d字节", buf.Pending())
		}
	}
	logger.WithFields(fields).Info("连接断开")
}
