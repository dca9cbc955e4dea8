package apis

import (
	"bytes"
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/bujia-iot/meter-frame-analyzer/internal/app/dto"
	"github.com/bujia-iot/meter-frame-analyzer/internal/infrastructure/logger"
	"github.com/bujia-iot/meter-frame-analyzer/pkg/errors"
	"github.com/bujia-iot/meter-frame-analyzer/pkg/protocol"
)

// wsReadLimit 单条消息上限，十六进制文本带空格时约为报文字节数的3倍
const wsReadLimit = 64 * 1024

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Stream 实时解析，每条消息一帧报文，逐条返回解析结果
// GET /api/v1/analyze/ws
//
// 二进制消息按原始报文处理；文本消息可以是 {"frame": "...", "region": "..."} 或十六进制文本
func (api *AnalyzerAPI) Stream(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.WithField("error", err.Error()).Warn("WebSocket升级失败")
		return
	}
	defer conn.Close()
	conn.SetReadLimit(wsReadLimit)

	source := "ws:" + c.ClientIP()
	entry := logger.WithFields(logrus.Fields{
		"source":    source,
		"requestId": c.GetString(requestIDHeader),
	})
	entry.Info("WebSocket连接建立")

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				entry.WithField("error", err.Error()).Warn("WebSocket连接异常断开")
			}
			return
		}

		if err := conn.WriteJSON(api.streamReply(c, source, msgType, data)); err != nil {
			entry.WithField("error", err.Error()).Error("发送解析结果失败")
			return
		}
	}
}

// streamReply 解析一条消息，返回 StandardResponse 或 ErrorResponse
func (api *AnalyzerAPI) streamReply(c *gin.Context, source string, msgType int, data []byte) interface{} {
	frame, region, err := streamFrame(msgType, data)
	if err != nil {
		return NewErrorResponse(err)
	}

	ctx, cancel := api.context(c)
	defer cancel()

	res, err := api.svc.AnalyzeBytes(ctx, source, frame, region)
	if err != nil {
		return NewErrorResponse(err)
	}
	resp := NewStandardResponse(res, "success")
	resp.RequestID = res.RequestID
	return resp
}

// streamFrame 从消息中取出报文与地区
func streamFrame(msgType int, data []byte) ([]byte, string, error) {
	if msgType == websocket.BinaryMessage {
		return data, "", nil
	}

	text := bytes.TrimSpace(data)
	if len(text) > 0 && text[0] == '{' {
		var req dto.AnalyzeRequest
		if err := json.Unmarshal(text, &req); err != nil {
			return nil, "", errors.Wrap(errors.ErrInvalidParameter, "参数错误", err)
		}
		if err := req.Validate(); err != nil {
			return nil, "", err
		}
		frame, err := protocol.HexToBytes(req.Frame)
		return frame, req.Region, err
	}

	frame, err := protocol.HexToBytes(string(text))
	return frame, "", err
}
