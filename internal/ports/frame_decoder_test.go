package ports

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bujia-iot/meter-frame-analyzer/internal/app/service"
	"github.com/bujia-iot/meter-frame-analyzer/internal/infrastructure/logger"
	"github.com/bujia-iot/meter-frame-analyzer/pkg/errors"
	"github.com/bujia-iot/meter-frame-analyzer/pkg/protocol"
)

const frame645 = "68129078563412689108333334339A7856348816"

func decodeHex(t *testing.T, s string) []byte {
	t.Helper()
	data, err := hex.DecodeString(s)
	require.NoError(t, err)
	return data
}

func TestFrameBuffer(t *testing.T) {
	f := decodeHex(t, frame645)

	t.Run("分包到达", func(t *testing.T) {
		buf := newFrameBuffer(0)
		assert.Empty(t, buf.Feed(f[:5]))
		assert.Equal(t, 5, buf.Pending())
		assert.Empty(t, buf.Feed(f[5:12]))

		frames := buf.Feed(f[12:])
		require.Len(t, frames, 1)
		assert.Equal(t, f, frames[0])
		assert.Equal(t, 0, buf.Pending())
	})

	t.Run("粘包", func(t *testing.T) {
		buf := newFrameBuffer(0)
		data := append(append([]byte(nil), f...), f...)
		data = append(data, f[:3]...)
		frames := buf.Feed(data)
		assert.Len(t, frames, 2)
		assert.Equal(t, 3, buf.Pending())
	})

	t.Run("十六进制文本", func(t *testing.T) {
		buf := newFrameBuffer(0)
		frames := buf.Feed([]byte("68 12 90 78 56 34 12 68 91 08 33 33 34 33 9A 78 56 34 88 16\r\n"))
		require.Len(t, frames, 1)
		assert.Equal(t, f, frames[0])
	})

	t.Run("残余数据不超过上限", func(t *testing.T) {
		buf := newFrameBuffer(8)
		// 只有唤醒符时等待后续数据
		buf.Feed([]byte{0xFE, 0xFE, 0xFE, 0xFE, 0xFE, 0xFE, 0xFE, 0xFE, 0xFE, 0xFE})
		assert.Equal(t, 8, buf.Pending())
	})

	t.Run("返回的报文不受后续数据影响", func(t *testing.T) {
		buf := newFrameBuffer(0)
		chunk := append([]byte(nil), f...)
		frames := buf.Feed(chunk)
		require.Len(t, frames, 1)
		chunk[0] = 0x00
		assert.Equal(t, byte(0x68), frames[0][0])
	})
}

func TestIsHexText(t *testing.T) {
	assert.True(t, isHexText([]byte("6812 90\n")))
	assert.True(t, isHexText([]byte("fefe")))
	assert.False(t, isHexText([]byte{0x68, 0x12}))
	assert.False(t, isHexText([]byte("6")))
	assert.False(t, isHexText([]byte("68 GG")))
}

// stubAnalyzer 返回固定结果的解析服务
type stubAnalyzer struct {
	err    error
	frames [][]byte
}

func (s *stubAnalyzer) AnalyzeBytes(_ context.Context, source string, frame []byte, _ string) (*service.AnalysisResult, error) {
	s.frames = append(s.frames, frame)
	if s.err != nil {
		return nil, s.err
	}
	return &service.AnalysisResult{
		RequestID: "req-1",
		Result:    protocol.Result{Protocol: protocol.Detect(frame)},
	}, nil
}

func TestAnalyzeRouterReply(t *testing.T) {
	f := decodeHex(t, frame645)

	t.Run("解析成功", func(t *testing.T) {
		stub := &stubAnalyzer{}
		r := NewAnalyzeRouter(stub, 0)

		data := r.analyze("tcp:test", f)
		require.Equal(t, byte('\n'), data[len(data)-1])

		var reply Reply
		require.NoError(t, json.Unmarshal(data, &reply))
		assert.True(t, reply.Success)
		require.NotNil(t, reply.Result)
		assert.Equal(t, "req-1", reply.Result.RequestID)
		assert.Equal(t, protocol.ProtocolDLT645, reply.Result.Protocol)
		assert.Len(t, stub.frames, 1)
	})

	t.Run("解析失败返回错误码", func(t *testing.T) {
		stub := &stubAnalyzer{err: errors.New(errors.ErrInvalidParameter, "报文长度超过上限")}
		r := NewAnalyzeRouter(stub, 0)

		var reply Reply
		require.NoError(t, json.Unmarshal(r.analyze("tcp:test", f), &reply))
		assert.False(t, reply.Success)
		assert.Nil(t, reply.Result)
		assert.Equal(t, int(errors.ErrInvalidParameter), reply.Code)
		assert.Contains(t, reply.Message, "报文长度超过上限")
	})
}

func TestRawDataPack(t *testing.T) {
	dp := NewRawDataPack()
	assert.Equal(t, uint32(0), dp.GetHeadLen())

	msg, err := dp.Unpack([]byte(`{"success":true}`))
	require.NoError(t, err)
	assert.Equal(t, MsgIDFrame, msg.GetMsgID())

	data, err := dp.Pack(msg)
	require.NoError(t, err)
	assert.Equal(t, `{"success":true}`, string(data))
}

func TestZinxLogger(t *testing.T) {
	var out bytes.Buffer
	log := logger.GetLogger()
	prev := log.Out
	log.SetOutput(&out)
	defer log.SetOutput(prev)

	newZinxLogger().ErrorF("连接 %d 读取失败", 7)
	assert.Contains(t, out.String(), "连接 7 读取失败")
	assert.Contains(t, out.String(), "component=zinx")
}
