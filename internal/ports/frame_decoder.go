package ports

import (
	"bytes"
	"sync"

	"github.com/aceld/zinx/ziface"
	"github.com/sirupsen/logrus"

	"github.com/bujia-iot/meter-frame-analyzer/internal/infrastructure/logger"
	"github.com/bujia-iot/meter-frame-analyzer/pkg/codec"
	"github.com/bujia-iot/meter-frame-analyzer/pkg/protocol"
)

// PropFrameBuffer 连接属性：未收齐的报文数据
const PropFrameBuffer = "frameBuffer"

// MsgIDFrame 完整报文的路由消息ID
const MsgIDFrame uint32 = 1

// frameBuffer 单个连接上尚未收齐的数据
type frameBuffer struct {
	mu      sync.Mutex
	pending []byte
	max     int
}

func newFrameBuffer(max int) *frameBuffer {
	if max <= 0 {
		max = protocol.MaxFrameLen
	}
	return &frameBuffer{max: max}
}

// Feed 追加收到的数据，返回已收齐的完整报文
// 没有未完成数据时，十六进制文本形式的报文先解码为字节
func (b *frameBuffer) Feed(chunk []byte) [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.pending) == 0 && isHexText(chunk) {
		if decoded, err := codec.ParseHex(string(chunk)); err == nil {
			chunk = decoded
		}
	}

	data := make([]byte, 0, len(b.pending)+len(chunk))
	data = append(append(data, b.pending...), chunk...)
	frames, rest := protocol.SplitFrames(data)

	// 超过单帧上限的残余数据只保留末尾部分
	if len(rest) > b.max {
		rest = rest[len(rest)-b.max:]
	}
	b.pending = append([]byte(nil), rest...)
	return frames
}

// Pending 尚未收齐的字节数
func (b *frameBuffer) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// isHexText 数据是否为十六进制文本(允许空白)
func isHexText(data []byte) bool {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) < 2 {
		return false
	}
	for _, c := range trimmed {
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'f', c >= 'A' && c <= 'F':
		case c == ' ' || c == '\t' || c == '\r' || c == '\n':
		default:
			return false
		}
	}
	return true
}

// FrameDecoder 电表报文解码器，实现 ziface.IDecoder
// TCP数据按0x68...0x16切分为完整报文后交给路由，一次读取的多帧报文合并为一条消息
type FrameDecoder struct {
	maxFrameBytes int
}

// NewFrameDecoder 创建报文解码器
func NewFrameDecoder(maxFrameBytes int) *FrameDecoder {
	return &FrameDecoder{maxFrameBytes: maxFrameBytes}
}

// GetLengthField 报文没有统一的长度字段，由拦截器自行切分
func (d *FrameDecoder) GetLengthField() *ziface.LengthField {
	return nil
}

// Intercept 拦截器方法，切分完整报文并设置消息ID
func (d *FrameDecoder) Intercept(chain ziface.IChain) ziface.IcResp {
	// 1. 获取Zinx的IMessage
	iMessage := chain.GetIMessage()
	if iMessage == nil {
		return chain.ProceedWithIMessage(iMessage, nil)
	}

	conn := connectionOf(chain)
	if conn == nil {
		return chain.ProceedWithIMessage(iMessage, nil)
	}

	// 2. 追加到连接缓冲区并切分
	buf := d.buffer(conn)
	frames := buf.Feed(iMessage.GetData())
	if len(frames) == 0 {
		logger.WithFields(logrus.Fields{
			"connID":  conn.GetConnID(),
			"pending": buf.Pending(),
		}).Debug("报文未收齐，等待更多数据")
		return nil
	}

	// 3. 完整报文路由到 MsgIDFrame
	data := bytes.Join(frames, nil)
	iMessage.SetMsgID(MsgIDFrame)
	iMessage.SetData(data)
	iMessage.SetDataLen(uint32(len(data)))

	logger.WithFields(logrus.Fields{
		"connID": conn.GetConnID(),
		"frames": len(frames),
		"bytes":  len(data),
	}).Debug("收到完整报文")

	return chain.ProceedWithIMessage(iMessage, frames)
}

// buffer 获取连接的报文缓冲区，不存在时创建
func (d *FrameDecoder) buffer(conn ziface.IConnection) *frameBuffer {
	if v, err := conn.GetProperty(PropFrameBuffer); err == nil {
		if buf, ok := v.(*frameBuffer); ok {
			return buf
		}
	}
	buf := newFrameBuffer(d.maxFrameBytes)
	conn.SetProperty(PropFrameBuffer, buf)
	return buf
}

// connectionOf 从链中获取连接
func connectionOf(chain ziface.IChain) ziface.IConnection {
	req := chain.Request()
	if req == nil {
		return nil
	}
	if ireq, ok := req.(ziface.IRequest); ok {
		return ireq.GetConnection()
	}
	return nil
}
