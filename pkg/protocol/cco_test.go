package protocol

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bujia-iot/meter-frame-analyzer/pkg/codec"
	"github.com/bujia-iot/meter-frame-analyzer/pkg/errors"
)

const (
	// 集中器确认报文，校验和错误
	frameCCOConfirm = "680F00410000010001E80000000016"
	frameMeterTask  = "0101" + "0205" + "5150040200" + "5100100200" + "5100200200" + "000000000000" + "5C02" + "020103"
	frameHistory    = "0000" + "00000100" + "67452301" + "3008170524" + "78563412" + "4508170524"
)

// ccoFrame body 从控制域开始，补齐起始符、长度、校验和与结束符
func ccoFrame(t *testing.T, body string) []byte {
	t.Helper()
	data := mustHex(t, body)
	frame := []byte{0x68, 0, 0}
	binary.LittleEndian.PutUint16(frame[1:], uint16(len(data)+5))
	frame = append(frame, data...)
	return append(frame, codec.Sum(data), 0x16)
}

func TestDetectLocalFrames(t *testing.T) {
	tests := []struct {
		name  string
		frame []byte
		want  string
	}{
		{"集中器确认", mustHex(t, frameCCOConfirm), ProtocolCSG16},
		{"带地址域", ccoFrame(t, "A4"+"010000000000"+"112233445566"+"0305"+"020304E8"+"010203040506"), ProtocolCSG16},
		{"地址域标志与长度不符", ccoFrame(t, "A0"+"0305"+"020304E8"), ProtocolUnknown},
		{"模块报文", ccoFrame(t, "80"+"0301"+"010304EC"+"41424344"+"150624"+"0102"), ProtocolModule},
		{"长度域不一致", mustHex(t, "681000410000010001E80000000016"), ProtocolUnknown},
		{"采集任务", mustHex(t, frameMeterTask), ProtocolMS},
		{"采集任务缺少MS标记", mustHex(t, "0101"+"0205"+"5150040200"+"5100100200"+"5100200200"+"000000000000"+"0002"), ProtocolUnknown},
		{"历史数据没有报文结构", mustHex(t, frameHistory), ProtocolUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Detect(tt.frame))
		})
	}
}

func TestAnalyzeCSG16(t *testing.T) {
	a := newTestAnalyzer(t)

	t.Run("确认报文校验和错误", func(t *testing.T) {
		res := a.Analyze(mustHex(t, frameCCOConfirm), "")
		assert.Equal(t, ProtocolCSG16, res.Protocol)
		assert.False(t, res.OK())
		assert.Contains(t, res.Error, "校验码错误")
		assert.Equal(t, []string{"起始符", "长度", "控制域C", "用户数据域", "校验和CS", "结束符"}, labels(res.Data))

		assert.Equal(t, "总长度=15", res.Data[1].Description)
		ctrl := res.Data[2]
		require.Len(t, ctrl.Children, 5)
		assert.Equal(t, "下行报文", ctrl.Children[0].Description)
		assert.Equal(t, "表示此帧报文来自启动站", ctrl.Children[1].Description)
		assert.Equal(t, "表示此帧报文不带地址域", ctrl.Children[2].Description)

		assert.Equal(t, "AFN:00-确认/否认", findOne(t, res.Data, "应用功能码 AFN").Description)
		di := findOne(t, res.Data, "数据标识编码")
		assert.Equal(t, "数据标识编码：[E8010001]-确认", di.Description)
		assert.Equal(t, [2]int{6, 10}, di.Position)
		require.Len(t, di.Children, 4)
		assert.Equal(t, "通信双方类型标识:E8-集中器与本地模块通信", di.Children[3].Description)

		rest := findOne(t, res.Data, "剩余数据")
		assert.Equal(t, [2]int{10, 13}, rest.Position)
		assert.True(t, res.Diagnostics.Has(errors.ErrBoundsViolation))

		assert.Equal(t, "校验和:错误，应为：2B", findOne(t, res.Data, "校验和CS").Description)
	})

	t.Run("带地址域的上行报文", func(t *testing.T) {
		frame := ccoFrame(t, "A4"+"010000000000"+"112233445566"+"0305"+"020304E8"+"010203040506")
		res := a.Analyze(frame, "")
		require.True(t, res.OK(), res.Error)
		assert.Equal(t, ProtocolCSG16, res.Protocol)
		assert.Empty(t, res.Diagnostics)

		ctrl := res.Data[2]
		assert.Equal(t, "上行报文", ctrl.Children[0].Description)
		assert.Equal(t, "表示此帧报文带地址域", ctrl.Children[2].Description)
		assert.Equal(t, "协议版本号:1", ctrl.Children[3].Description)

		addr := findOne(t, res.Data, "地址域A")
		assert.Equal(t, [2]int{4, 16}, addr.Position)
		assert.Equal(t, "源地址:000000000001", findOne(t, addr.Children, "源地址 ASR").Description)
		assert.Equal(t, "目的地址:665544332211", findOne(t, addr.Children, "目的地址 ADST").Description)

		assert.Equal(t, "AFN:03-读参数", findOne(t, res.Data, "应用功能码 AFN").Description)
		assert.Equal(t, "帧序列SEQ:5", findOne(t, res.Data, "帧序列域 SEQ").Description)
		assert.Equal(t, "报文上下行类型仅上行用，带数据内容。对应下行报文为 03", findOne(t, res.Data, "DI2").Description)

		content := findOne(t, res.Data, "数据标识内容")
		assert.Equal(t, [2]int{22, 28}, content.Position)
		assert.NotEmpty(t, content.Children)
	})

	t.Run("未配置的数据标识", func(t *testing.T) {
		frame := ccoFrame(t, "41"+"0000"+"990000E8"+"AABB")
		res := a.Analyze(frame, "")
		require.True(t, res.OK(), res.Error)
		assert.True(t, res.Diagnostics.Has(errors.ErrSchemaLookupMiss))
		content := findOne(t, res.Data, "数据标识内容")
		assert.Equal(t, "AABB", content.Description)
		assert.Equal(t, [2]int{10, 12}, content.Position)
	})
}

func TestAnalyzeModule(t *testing.T) {
	a := newTestAnalyzer(t)

	t.Run("读模块版本信息", func(t *testing.T) {
		frame := ccoFrame(t, "80"+"0301"+"010304EC"+"41424344"+"150624"+"0102")
		res := a.Analyze(frame, "")
		require.True(t, res.OK(), res.Error)
		assert.Equal(t, ProtocolModule, res.Protocol)
		assert.Empty(t, res.Diagnostics)

		assert.Equal(t, "保留", res.Data[2].Children[2].FrameDomain)
		assert.Equal(t, "AFN:03-读参数", findOne(t, res.Data, "应用功能码 AFN").Description)

		di := findOne(t, res.Data, "数据标识编码")
		assert.Equal(t, "数据标识编码：[EC040301]-模块版本信息", di.Description)
		assert.Empty(t, di.Children)

		content := findOne(t, res.Data, "数据标识内容")
		assert.Equal(t, [2]int{10, 19}, content.Position)
		require.Len(t, content.Children, 1)
		assert.Equal(t, []string{"厂商代码", "芯片代码", "版本日期", "版本号"}, labels(content.Children[0].Children))
	})

	t.Run("上报信息", func(t *testing.T) {
		frame := ccoFrame(t, "C0"+"0502"+"010505EC"+"01"+"003008170524")
		res := a.Analyze(frame, "")
		require.True(t, res.OK(), res.Error)
		assert.Equal(t, ProtocolModule, res.Protocol)
		assert.Equal(t, "AFN:05-上报信息", findOne(t, res.Data, "应用功能码 AFN").Description)
		findOne(t, res.Data, "发生时间")
	})

	t.Run("按模块解析集中器报文", func(t *testing.T) {
		fields, _, out := a.parseModule(mustHex(t, frameCCOConfirm), 0, "")
		assert.Equal(t, StopError, out.Outcome)
		assert.True(t, errors.IsErrCode(out.Reason, errors.ErrFrameInvalid))
		require.Len(t, fields, 1)
		assert.Equal(t, "报文", fields[0].FrameDomain)
	})
}

func TestAnalyzeMeterTask(t *testing.T) {
	a := newTestAnalyzer(t)

	t.Run("一组用户类型", func(t *testing.T) {
		res := a.Analyze(mustHex(t, frameMeterTask), "")
		require.True(t, res.OK(), res.Error)
		assert.Equal(t, ProtocolMS, res.Protocol)
		assert.Empty(t, res.Diagnostics)
		assert.Equal(t, []string{"数据项个数", "<第1组>数据采集"}, labels(res.Data))
		assert.Equal(t, "采集数据项个数：1", res.Data[0].Description)

		group := res.Data[1]
		assert.Equal(t, [2]int{2, 30}, group.Position)
		assert.Equal(t, "<第1组>数据采集:50040200", group.Description)
		assert.Equal(t, []string{"主数据项", "分数据项", "分数据项", "MS", "MS内容"}, labels(group.Children))
		assert.Equal(t, "主数据项:50040200-日冻结", group.Children[0].Description)
		assert.Equal(t, [2]int{5, 9}, group.Children[0].Position)
		assert.Equal(t, "分数据项:00100200", group.Children[1].Description)
		assert.Equal(t, "一组用户类型", group.Children[3].Description)

		content := group.Children[4]
		assert.Equal(t, [2]int{27, 30}, content.Position)
		assert.Equal(t, "MS内容:020103", content.Description)
		types := findOne(t, content.Children, "用户类型组")
		assert.Equal(t, []string{"第1组用户类型", "第2组用户类型"}, labels(types.Children))
	})

	t.Run("未知MS类型", func(t *testing.T) {
		frame := mustHex(t, "0101"+"0205"+"5100000000"+"5100100200"+"5100200200"+"000000000000"+"5CAA"+"0102")
		res := a.Analyze(frame, "")
		require.True(t, res.OK(), res.Error)
		assert.True(t, res.Diagnostics.Has(errors.ErrSchemaLookupMiss))

		group := findOne(t, res.Data, "<第1组>数据采集")
		assert.Equal(t, "主数据项:00000000-当前数据", group.Children[0].Description)
		assert.Equal(t, "未知类型", findOne(t, group.Children, "MS").Description)
		assert.Equal(t, "0102", findOne(t, group.Children, "MS内容").Description)
	})

	t.Run("数据采集组数多于实际内容", func(t *testing.T) {
		frame := mustHex(t, "0102"+"0205"+"5150040200"+"5100100200"+"5100200200"+"000000000000"+"5C01"+"0205")
		res := a.Analyze(frame, "")
		require.True(t, res.OK(), res.Error)
		assert.True(t, res.Diagnostics.Has(errors.ErrBoundsViolation))
		assert.Equal(t, [2]int{27, 29}, findOne(t, res.Data, "剩余数据").Position)
	})
}

func TestAnalyzeHistory(t *testing.T) {
	a := newTestAnalyzer(t)
	frame := mustHex(t, frameHistory)

	assert.Equal(t, ProtocolHis, a.Detect(frame, ""))

	res := a.Analyze(frame, "")
	require.True(t, res.OK(), res.Error)
	assert.Equal(t, ProtocolHis, res.Protocol)
	assert.Empty(t, res.Diagnostics)
	assert.Equal(t, []string{
		"<第1组>信息点标识DA", "<第1组>数据标识编码DI", "<第1组>数据内容", "<第1组>数据时间",
		"<第2组>数据内容", "<第2组>数据时间",
	}, labels(res.Data))

	assert.Equal(t, "Pn=测量点:0(终端)", res.Data[0].Description)
	assert.Equal(t, "数据标识编码：[00010000]-(当前)正向有功总电能", res.Data[1].Description)

	first := res.Data[2]
	assert.Equal(t, [2]int{6, 10}, first.Position)
	assert.Equal(t, "测量点:0(终端)-[00010000]-(当前)正向有功总电能", first.Description)
	require.Len(t, first.Children, 1)
	assert.Equal(t, "[00010000_(当前)正向有功总电能]: 012345.67 kWh", first.Children[0].Description)

	assert.Equal(t, [2]int{10, 15}, res.Data[3].Position)
	assert.Equal(t, "数据时间："+codec.FormatTime(frame[10:15], "YYMMDDhhmm", false), res.Data[3].Description)

	second := res.Data[4]
	assert.Equal(t, [2]int{15, 19}, second.Position)
	assert.Equal(t, "[00010000_(当前)正向有功总电能]: 123456.78 kWh", second.Children[0].Description)
	assert.Equal(t, [2]int{19, 24}, res.Data[5].Position)

	t.Run("数据时间不完整", func(t *testing.T) {
		res := a.Analyze(frame[:13], "")
		assert.True(t, res.Diagnostics.Has(errors.ErrBoundsViolation))
		assert.Equal(t, [2]int{10, 13}, findOne(t, res.Data, "剩余数据").Position)
	})
}
