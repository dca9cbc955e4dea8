package apis

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bujia-iot/meter-frame-analyzer/internal/app/service"
	"github.com/bujia-iot/meter-frame-analyzer/pkg/errors"
	"github.com/bujia-iot/meter-frame-analyzer/pkg/protocol"
)

const wsFrame645 = "68 12 90 78 56 34 12 68 91 08 33 33 34 33 9A 78 56 34 88 16"

func dialStream(t *testing.T) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(newTestRouter(t))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/analyze/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) envelope {
	t.Helper()
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var env envelope
	require.NoError(t, json.Unmarshal(data, &env), string(data))
	return env
}

func TestStreamAPI(t *testing.T) {
	conn := dialStream(t)

	t.Run("十六进制文本", func(t *testing.T) {
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(wsFrame645)))
		env := readEnvelope(t, conn)
		require.True(t, env.Success, env.Message)
		assert.NotEmpty(t, env.RequestID)

		var res service.AnalysisResult
		require.NoError(t, json.Unmarshal(env.Data, &res))
		assert.Equal(t, protocol.ProtocolDLT645, res.Protocol)
		assert.Equal(t, env.RequestID, res.RequestID)
	})

	t.Run("JSON请求", func(t *testing.T) {
		msg := `{"frame": "` + wsFrame645 + `", "region": "云南"}`
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(msg)))
		env := readEnvelope(t, conn)
		require.True(t, env.Success, env.Message)

		var res service.AnalysisResult
		require.NoError(t, json.Unmarshal(env.Data, &res))
		assert.Equal(t, "云南", res.Region)
	})

	t.Run("二进制报文", func(t *testing.T) {
		frame, err := protocol.HexToBytes(wsFrame645)
		require.NoError(t, err)
		require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, frame))
		env := readEnvelope(t, conn)
		assert.True(t, env.Success, env.Message)
	})

	t.Run("格式错误不断开连接", func(t *testing.T) {
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("68 1")))
		env := readEnvelope(t, conn)
		assert.False(t, env.Success)
		assert.Equal(t, int(errors.ErrInvalidParameter), env.Code)

		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"region": "南网"}`)))
		env = readEnvelope(t, conn)
		assert.False(t, env.Success)
		assert.Contains(t, env.Message, "报文不能为空")

		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(wsFrame645)))
		env = readEnvelope(t, conn)
		assert.True(t, env.Success)
	})
}
