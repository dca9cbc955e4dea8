package ports

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aceld/zinx/ziface"
	"github.com/aceld/zinx/znet"
	"github.com/sirupsen/logrus"

	"github.com/bujia-iot/meter-frame-analyzer/internal/app/service"
	"github.com/bujia-iot/meter-frame-analyzer/internal/infrastructure/logger"
	"github.com/bujia-iot/meter-frame-analyzer/pkg/errors"
	"github.com/bujia-iot/meter-frame-analyzer/pkg/protocol"
)

// FrameAnalyzer 报文解析服务
type FrameAnalyzer interface {
	AnalyzeBytes(ctx context.Context, source string, frame []byte, region string) (*service.AnalysisResult, error)
}

// Reply TCP应答，每帧报文一行JSON
type Reply struct {
	Success bool                    `json:"success"`
	Result  *service.AnalysisResult `json:"result,omitempty"`
	Code    int                     `json:"code,omitempty"`
	Message string                  `json:"message,omitempty"`
}

// AnalyzeRouter 完整报文路由，解析后把结果写回连接
type AnalyzeRouter struct {
	znet.BaseRouter
	analyzer FrameAnalyzer
	timeout  time.Duration
}

// NewAnalyzeRouter 创建报文解析路由
func NewAnalyzeRouter(analyzer FrameAnalyzer, timeout time.Duration) *AnalyzeRouter {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &AnalyzeRouter{analyzer: analyzer, timeout: timeout}
}

// Handle 处理完整报文
func (r *AnalyzeRouter) Handle(request ziface.IRequest) {
	conn := request.GetConnection()
	source := fmt.Sprintf("tcp:%s", conn.RemoteAddr().String())

	frames, _ := protocol.SplitFrames(request.GetData())
	for _, frame := range frames {
		reply := r.analyze(source, frame)
		if err := conn.SendBuffMsg(MsgIDFrame, reply); err != nil {
			logger.WithFields(logrus.Fields{
				"connID": conn.GetConnID(),
				"error":  err.Error(),
			}).Error("发送解析结果失败")
			return
		}
	}
}

// analyze 解析一帧报文并编码应答
func (r *AnalyzeRouter) analyze(source string, frame []byte) []byte {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	res, err := r.analyzer.AnalyzeBytes(ctx, source, frame, "")
	reply := Reply{Success: err == nil, Result: res}
	if err != nil {
		reply.Code = int(errors.CodeOf(err))
		reply.Message = err.Error()
	}
	return encodeReply(reply)
}

func encodeReply(reply Reply) []byte {
	data, err := json.Marshal(reply)
	if err != nil {
		data, _ = json.Marshal(Reply{Code: int(errors.ErrUnknown), Message: err.Error()})
	}
	return append(data, '\n')
}
