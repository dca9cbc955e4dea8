package protocol

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bujia-iot/meter-frame-analyzer/pkg/codec"
	"github.com/bujia-iot/meter-frame-analyzer/pkg/decoder"
	"github.com/bujia-iot/meter-frame-analyzer/pkg/errors"
	"github.com/bujia-iot/meter-frame-analyzer/pkg/schema"
)

const (
	frame645Read     = "68129078563412681104333334336816"
	frame645Response = "68129078563412689108333334339A7856348816"
	frame645Error    = "6812907856341268D101358D16"
	frameCSGDown     = "6810001000684A563412010000010C600101000001005716"
	frameCSGUp       = "68140014006888563412010000010C60010100000100674523016516"
	frameCSGRelay    = "68250025006888563412010000010C610000100080E11468129078563412689108333334339A78563488163E16"
	frameCSGWrite    = "6821002100684A5634120100000104700000060100E00F000000000000000000000000000000005216"
)

func newTestAnalyzer(t *testing.T) *Analyzer {
	t.Helper()
	reg, err := schema.NewDefaultRegistry()
	require.NoError(t, err)
	return NewAnalyzer(reg)
}

func labels(fields []decoder.Field) []string {
	out := make([]string, len(fields))
	for i, f := range fields {
		out[i] = f.FrameDomain
	}
	return out
}

func findOne(t *testing.T, fields []decoder.Field, label string) decoder.Field {
	t.Helper()
	var found []decoder.Field
	decoder.Walk(fields, func(f decoder.Field, _ int) bool {
		if f.FrameDomain == label {
			found = append(found, f)
		}
		return true
	})
	require.NotEmpty(t, found, "未找到字段 %s", label)
	return found[0]
}

func TestDetect(t *testing.T) {
	tests := []struct {
		name  string
		frame string
		want  string
	}{
		{"645读数据", frame645Read, ProtocolDLT645},
		{"645带唤醒符", "FEFEFEFE" + frame645Response, ProtocolDLT645},
		{"南网下行", frameCSGDown, ProtocolCSG13},
		{"南网上行", frameCSGUp, ProtocolCSG13},
		{"长度域不一致", "6811001000684A563412010000010C600101000001005716", ProtocolUnknown},
		{"缺少结束符", "68129078563412681104333334336800", ProtocolUnknown},
		{"过短", "6816", ProtocolUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Detect(mustHex(t, tt.frame)))
		})
	}
}

func TestAnalyzeDLT645(t *testing.T) {
	a := newTestAnalyzer(t)

	t.Run("读数据请求", func(t *testing.T) {
		res := a.Analyze(mustHex(t, frame645Read), "")
		require.True(t, res.OK(), res.Error)
		assert.Equal(t, ProtocolDLT645, res.Protocol)
		assert.Equal(t, schema.DefaultRegion, res.Region)
		assert.Equal(t, []string{"帧起始符", "地址域", "帧起始符", "控制码", "数据长度", "数据域", "校验码", "结束符"}, labels(res.Data))

		assert.Equal(t, "电表通信地址：123456789012", res.Data[1].Description)

		ctrl := res.Data[3]
		assert.Equal(t, "主站请求：读数据", ctrl.Description)
		require.Len(t, ctrl.Children, 4)
		assert.Equal(t, "0", ctrl.Children[0].Data)
		assert.Equal(t, "主站发出的命令帧", ctrl.Children[0].Description)
		assert.Equal(t, "11", ctrl.Children[3].Data)

		assert.Equal(t, "长度=4, 总长度=16(总长度=长度+12)", res.Data[4].Description)

		data := res.Data[5]
		require.Len(t, data.Children, 1)
		assert.Equal(t, "数据标识编码：[00010000] - (当前)正向有功总电能", data.Children[0].Description)
		assert.Equal(t, [2]int{10, 14}, data.Children[0].Position)

		assert.Equal(t, "电表规约报文校验码正确", res.Data[6].Description)
	})

	t.Run("读数据应答", func(t *testing.T) {
		res := a.Analyze(mustHex(t, frame645Response), "南网")
		require.True(t, res.OK(), res.Error)
		assert.Empty(t, res.Diagnostics)

		assert.Equal(t, "电表返回：读数据", res.Data[3].Description)

		content := findOne(t, res.Data, "数据标识内容")
		assert.Equal(t, [2]int{14, 18}, content.Position)
		require.Len(t, content.Children, 1)
		assert.Equal(t, "[00010000_(当前)正向有功总电能]: 012345.67 kWh", content.Children[0].Description)
		assert.Equal(t, "9A 78 56 34", content.Children[0].Data)
		assert.Equal(t, [2]int{14, 18}, content.Children[0].Position)
	})

	t.Run("带唤醒符时位置整体后移", func(t *testing.T) {
		res := a.Analyze(mustHex(t, "FEFEFEFE"+frame645Response), "")
		require.True(t, res.OK(), res.Error)
		assert.Equal(t, "唤醒符", res.Data[0].FrameDomain)
		assert.Equal(t, [2]int{0, 4}, res.Data[0].Position)

		content := findOne(t, res.Data, "数据标识内容")
		assert.Equal(t, [2]int{18, 22}, content.Position)
	})

	t.Run("异常应答", func(t *testing.T) {
		res := a.Analyze(mustHex(t, frame645Error), "")
		require.True(t, res.OK(), res.Error)

		ctrl := res.Data[3]
		assert.Equal(t, "从站异常应答", ctrl.Children[1].Description)

		word := findOne(t, res.Data, "错误信息字")
		assert.Equal(t, "错误类型: 无请求数据", word.Description)
	})

	t.Run("校验码错误", func(t *testing.T) {
		frame := mustHex(t, frame645Response)
		frame[len(frame)-2] = 0x00
		res := a.Analyze(frame, "")

		assert.False(t, res.OK())
		assert.Contains(t, res.Error, "校验码错误")
		cs := findOne(t, res.Data, "校验码")
		assert.Equal(t, "电表规约校验码错误，应为：88", cs.Description)
		// 数据域仍然完整输出
		assert.NotEmpty(t, findOne(t, res.Data, "数据标识内容").Children)
	})

	t.Run("未配置的数据标识", func(t *testing.T) {
		// DI=0000FFFF 读应答，内容2字节
		frame := mustHex(t, "68129078563412689106323233333434")
		frame = append(frame, codec.Sum(frame), 0x16)
		res := a.Analyze(frame, "")
		require.True(t, res.OK(), res.Error)
		assert.True(t, res.Diagnostics.Has(errors.ErrSchemaLookupMiss))

		content := findOne(t, res.Data, "数据标识内容")
		assert.Empty(t, content.Children)
	})
}

func TestAnalyzeCSG13(t *testing.T) {
	a := newTestAnalyzer(t)

	t.Run("读当前数据下行", func(t *testing.T) {
		res := a.Analyze(mustHex(t, frameCSGDown), "")
		require.True(t, res.OK(), res.Error)
		assert.Equal(t, ProtocolCSG13, res.Protocol)
		assert.Equal(t,
			[]string{"起始符", "长度", "起始符", "控制域", "地址域", "应用层功能码AFN", "命令序号SEQ", "信息体", "校验码CS", "结束符"},
			labels(res.Data))

		assert.Equal(t, "长度=16,总长度=24(总长度=长度+8)", res.Data[1].Description)
		assert.Equal(t, "主站发送请求1级数据", res.Data[3].Description)
		assert.Equal(t, "终端逻辑地址123456000001", res.Data[4].Description)
		assert.Equal(t, "读当前数据", res.Data[5].Description)
		assert.Equal(t, "单帧：最后一帧", res.Data[6].Description)

		body := res.Data[7]
		require.Len(t, body.Children, 2)
		assert.Equal(t, "<第1组>信息点标识DA", body.Children[0].FrameDomain)
		assert.Equal(t, "Pn=第1测量点", body.Children[0].Description)
		assert.Equal(t, "数据标识编码：[00010000]-(当前)正向有功总电能", body.Children[1].Description)
		assert.Equal(t, [2]int{18, 22}, body.Children[1].Position)
	})

	t.Run("读当前数据上行", func(t *testing.T) {
		res := a.Analyze(mustHex(t, frameCSGUp), "")
		require.True(t, res.OK(), res.Error)
		assert.Empty(t, res.Diagnostics)
		assert.Equal(t, "终端响应用户数据", res.Data[3].Description)

		content := findOne(t, res.Data, "<第1组>数据内容")
		assert.Equal(t, "第1测量点-[00010000]-(当前)正向有功总电能", content.Description)
		assert.Equal(t, [2]int{22, 26}, content.Position)
		require.Len(t, content.Children, 1)
		assert.Equal(t, "[00010000_(当前)正向有功总电能]: 012345.67 kWh", content.Children[0].Description)
	})

	t.Run("写参数带消息验证码", func(t *testing.T) {
		res := a.Analyze(mustHex(t, frameCSGWrite), "")
		require.True(t, res.OK(), res.Error)

		content := findOne(t, res.Data, "<第1组>数据内容")
		require.Len(t, content.Children, 1)
		assert.Equal(t, "[E0000106_心跳周期]: 15 分", content.Children[0].Description)

		pw := findOne(t, res.Data, "消息验证码Pw")
		assert.Equal(t, [2]int{23, 39}, pw.Position)
	})

	t.Run("地区差异配置", func(t *testing.T) {
		res := a.Analyze(mustHex(t, frameCSGWrite), "云南")
		require.True(t, res.OK(), res.Error)

		content := findOne(t, res.Data, "<第1组>数据内容")
		require.Len(t, content.Children, 1)
		assert.Equal(t, "[E0000106_心跳周期]: 0015 秒", content.Children[0].Description)
		// 多占用1字节后，剩余数据无法作为消息验证码识别
		assert.True(t, res.Diagnostics.Has(errors.ErrSchemaLookupMiss))
	})

	t.Run("嵌入645报文", func(t *testing.T) {
		res := a.Analyze(mustHex(t, frameCSGRelay), "")
		require.True(t, res.OK(), res.Error)

		addr := findOne(t, res.Data, "地址域")
		assert.Equal(t, "终端逻辑地址123456000001", addr.Description)

		var meter decoder.Field
		decoder.Walk(res.Data, func(f decoder.Field, _ int) bool {
			if f.FrameDomain == "地址域" && f.Description == "电表通信地址：123456789012" {
				meter = f
				return false
			}
			return true
		})
		assert.Equal(t, [2]int{24, 30}, meter.Position)

		var energy string
		decoder.Walk(res.Data, func(f decoder.Field, _ int) bool {
			if f.FrameDomain == "00010000_(当前)正向有功总电能" {
				energy = f.Description
				return false
			}
			return true
		})
		assert.Equal(t, "[00010000_(当前)正向有功总电能]: 012345.67 kWh", energy)
	})

	t.Run("校验码错误", func(t *testing.T) {
		frame := mustHex(t, frameCSGUp)
		frame[len(frame)-2] = 0x00
		res := a.Analyze(frame, "")
		assert.False(t, res.OK())
		assert.Equal(t, "校验码错误，应为：65", findOne(t, res.Data, "校验码CS").Description)
	})

	t.Run("不逐项解析的功能码", func(t *testing.T) {
		// AFN=14 级联命令
		frame := csgFrame(t, "88563412010000011460AABBCCDD")
		res := a.Analyze(frame, "")
		require.True(t, res.OK(), res.Error)
		assert.True(t, res.Diagnostics.Has(errors.ErrNotImplemented))
		assert.Equal(t, "AABBCCDD", findOne(t, res.Data, "数据内容").Description)
	})
}

// csgFrame 为用户数据区（控制域至数据单元）补齐报文头、校验码与结束符
func csgFrame(t *testing.T, body string) []byte {
	t.Helper()
	data := mustHex(t, body)
	frame := append([]byte{0x68, byte(len(data)), 0, byte(len(data)), 0, 0x68}, data...)
	return append(frame, codec.Sum(data), 0x16)
}

func TestAnalyzeCSG13Relay(t *testing.T) {
	a := newTestAnalyzer(t)

	t.Run("上行返回电表应答", func(t *testing.T) {
		frame := csgFrame(t, "88563412010000011060"+"0000010001E3"+"000014"+frame645Response)
		res := a.Analyze(frame, "")
		require.True(t, res.OK(), res.Error)
		assert.Equal(t, "中继转发", findOne(t, res.Data, "应用层功能码AFN").Description)
		assert.False(t, res.Diagnostics.Has(errors.ErrNotImplemented))

		assert.Equal(t, "中继类型：00-普通中继", findOne(t, res.Data, "<第1组>中继类型").Description)
		result := findOne(t, res.Data, "<第1组>转发结果")
		assert.Equal(t, "转发结果：00-正确", result.Description)
		assert.Equal(t, [2]int{23, 24}, result.Position)
		assert.Equal(t, "返回报文长度：20", findOne(t, res.Data, "<第1组>返回报文长度").Description)

		msg := findOne(t, res.Data, "<第1组>返回报文")
		assert.Equal(t, [2]int{25, 45}, msg.Position)
		require.NotEmpty(t, msg.Children)
		assert.Equal(t, "帧起始符", msg.Children[0].FrameDomain)

		meter := findOne(t, msg.Children, "地址域")
		assert.Equal(t, "电表通信地址：123456789012", meter.Description)
		assert.Equal(t, [2]int{26, 32}, meter.Position)
		energy := findOne(t, msg.Children, "00010000_(当前)正向有功总电能")
		assert.Equal(t, "[00010000_(当前)正向有功总电能]: 012345.67 kWh", energy.Description)
	})

	t.Run("下行转发读数据", func(t *testing.T) {
		frame := csgFrame(t, "4A563412010000011060"+"0000010001E3"+"010A10"+frame645Read)
		res := a.Analyze(frame, "")
		require.True(t, res.OK(), res.Error)

		assert.Equal(t, "中继类型：01-转发主站对电能表的拉闸命令", findOne(t, res.Data, "<第1组>中继类型").Description)
		assert.Equal(t, "中继转发超时时间：10秒", findOne(t, res.Data, "<第1组>中继转发超时时间").Description)
		assert.Equal(t, "转发报文长度：16", findOne(t, res.Data, "<第1组>转发报文长度").Description)

		msg := findOne(t, res.Data, "<第1组>转发报文")
		assert.Equal(t, "转发报文："+frame645Read, msg.Description)
		assert.Equal(t, [2]int{25, 41}, msg.Position)
		assert.NotEmpty(t, msg.Children)
	})

	t.Run("返回内容不是645报文", func(t *testing.T) {
		frame := csgFrame(t, "88563412010000011060"+"0000010001E3"+"0001"+"02AABB")
		res := a.Analyze(frame, "")
		require.True(t, res.OK(), res.Error)
		assert.Equal(t, "转发结果：01-中继命令没有返回", findOne(t, res.Data, "<第1组>转发结果").Description)
		assert.Equal(t, "AABB", findOne(t, res.Data, "<第1组>返回报文").Description)
		assert.True(t, res.Diagnostics.Has(errors.ErrFrameInvalid))
	})

	t.Run("报文长度超出剩余数据", func(t *testing.T) {
		frame := csgFrame(t, "88563412010000011060"+"0000010001E3"+"0000"+"09AABB")
		res := a.Analyze(frame, "")
		require.True(t, res.OK(), res.Error)
		assert.Equal(t, [2]int{25, 27}, findOne(t, res.Data, "<第1组>返回报文").Position)
		assert.True(t, res.Diagnostics.Has(errors.ErrBoundsViolation))
	})
}

func TestAnalyzeCSG13SecurityAndFile(t *testing.T) {
	a := newTestAnalyzer(t)

	t.Run("安全认证按数据单元解析", func(t *testing.T) {
		frame := csgFrame(t, "4A5634120100000106600000060100E00F")
		res := a.Analyze(frame, "")
		require.True(t, res.OK(), res.Error)
		assert.Equal(t, "安全认证", findOne(t, res.Data, "应用层功能码AFN").Description)

		content := findOne(t, res.Data, "<第1组>数据内容")
		require.Len(t, content.Children, 1)
		assert.Equal(t, "[E0000106_心跳周期]: 15 分", content.Children[0].Description)
		assert.False(t, res.Diagnostics.Has(errors.ErrNotImplemented))
	})

	t.Run("文件传输上行只带传输结果", func(t *testing.T) {
		frame := csgFrame(t, "88563412010000010F60"+"0000010001E4"+"00")
		res := a.Analyze(frame, "")
		require.True(t, res.OK(), res.Error)

		result := findOne(t, res.Data, "<第1组>数据标识内容")
		assert.Equal(t, "数据标识[E4010001]数据内容：00", result.Description)
		assert.Equal(t, [2]int{22, 23}, result.Position)
		assert.False(t, res.Diagnostics.Has(errors.ErrSchemaLookupMiss))
	})
}

func TestAnalyzeUnknown(t *testing.T) {
	a := newTestAnalyzer(t)
	res := a.Analyze([]byte{0x01, 0x02, 0x03}, "")
	assert.Equal(t, ProtocolUnknown, res.Protocol)
	assert.False(t, res.OK())
	assert.Empty(t, res.Data)
}

func TestAnalyzeFrame(t *testing.T) {
	res, err := AnalyzeFrame(mustHex(t, frame645Response), "")
	require.NoError(t, err)
	assert.True(t, res.OK())

	a1, err := DefaultAnalyzer()
	require.NoError(t, err)
	a2, err := DefaultAnalyzer()
	require.NoError(t, err)
	assert.Same(t, a1, a2)
}

func TestAnalyzeConcurrent(t *testing.T) {
	a := newTestAnalyzer(t)
	frames := [][]byte{mustHex(t, frame645Response), mustHex(t, frameCSGUp), mustHex(t, frameCSGRelay)}

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res := a.Analyze(frames[i%len(frames)], "")
			assert.True(t, res.OK(), res.Error)
		}(i)
	}
	wg.Wait()
}

func TestHexHelpers(t *testing.T) {
	data, err := HexToBytes("68 11 22")
	require.NoError(t, err)
	assert.Equal(t, []byte{0x68, 0x11, 0x22}, data)
	assert.Equal(t, "68 11 22", BytesToHex(data, true))
	assert.Equal(t, "681122", BytesToHex(data, false))

	_, err = HexToBytes("6G")
	assert.True(t, errors.IsErrCode(err, errors.ErrInvalidParameter))
}

func TestNormalizeProtocol(t *testing.T) {
	assert.Equal(t, ProtocolCSG13, NormalizeProtocol("csg13"))
	assert.Equal(t, ProtocolDLT645, NormalizeProtocol("dlt/645"))
	assert.Equal(t, ProtocolModule, NormalizeProtocol("MOUDLE"))
	assert.Equal(t, "", NormalizeProtocol("IEC104"))
}
