package protocol

import (
	"fmt"
	"strings"

	"github.com/bujia-iot/meter-frame-analyzer/pkg/codec"
	"github.com/bujia-iot/meter-frame-analyzer/pkg/decoder"
	"github.com/bujia-iot/meter-frame-analyzer/pkg/errors"
	"github.com/bujia-iot/meter-frame-analyzer/pkg/schema"
)

// DLT/645-2007 报文结构：[FE..] 68 A0~A5 68 C L DATA CS 16
const (
	dlt645MinLen    = 12
	dlt645StartByte = 0x68
	dlt645EndByte   = 0x16
	dlt645Preamble  = 0xFE
)

const dataFieldNote = "数据域传输时按字节进行加33H处理，接收后应按字节减33H处理"

// 控制码 D0~D4 功能码
var dlt645Functions = map[byte]string{
	0x00: "保留",
	0x08: "广播校时",
	0x11: "读数据",
	0x12: "读后续数据",
	0x13: "读通信地址",
	0x14: "写数据",
	0x15: "写通信地址",
	0x16: "冻结命令",
	0x17: "更改通信速率",
	0x18: "修改密码",
	0x19: "最大需量清零",
	0x1A: "电表清零",
	0x1B: "事件清零",
}

// 异常应答错误信息字，按位从低到高
var dlt645ErrorBits = []string{
	"其他错误",
	"无请求数据",
	"密码错误/未授权",
	"通信速率不能更改",
	"年时区数超",
	"日时段数超",
	"费率数超",
}

// 通信速率特征字
var dlt645BaudRates = []struct {
	mask byte
	text string
}{
	{0x02, "600bps"},
	{0x04, "1200bps"},
	{0x08, "2400bps"},
	{0x10, "4800bps"},
	{0x20, "9600bps"},
	{0x40, "19200bps"},
}

// segment 定长数据段，size<0 表示占用剩余全部数据
type segment struct {
	label  string
	size   int
	render func(plain []byte) string
}

var (
	addressSegment  = segment{"通信地址", 6, func(b []byte) string { return "通信地址：" + codec.FormatHexReversed(b) }}
	passwordSegment = segment{"密码", 4, passwordText}
	operatorSegment = segment{"操作者代码", 4, func(b []byte) string { return "操作者代码：" + codec.FormatHexReversed(b) }}
)

// 按控制码划分的定长数据段
var dlt645Segments = map[byte][]segment{
	0x08: {{"校时时间", 6, timeText("ssmmhhDDMMYY")}},
	0x15: {addressSegment},
	0x93: {addressSegment},
	0x16: {{"冻结时间", 4, timeText("mmhhDDMM")}},
	0x17: {{"通信速率特征字", 1, baudText}},
	0x97: {{"通信速率特征字", 1, baudText}},
	0x18: {{"数据标识编码", 4, func(b []byte) string { return "数据标识编码：[" + codec.FormatHexReversed(b) + "]" }}, {"原密码", 4, passwordText}, {"新密码", 4, passwordText}},
	0x98: {{"新密码", 4, passwordText}},
	0x19: {passwordSegment, operatorSegment},
	0x1A: {passwordSegment, operatorSegment},
	0x1B: {passwordSegment, operatorSegment, {"事件清零数据标识", 4, func(b []byte) string { return "事件清零数据标识：" + codec.FormatHexReversed(b) }}},
}

// preambleLen 唤醒符 FE 的个数
func preambleLen(frame []byte) int {
	n := 0
	for n < len(frame) && frame[n] == dlt645Preamble {
		n++
	}
	return n
}

// IsDLT645 判断是否为完整的 DLT/645 报文
func IsDLT645(frame []byte) bool {
	if len(frame) < dlt645MinLen {
		return false
	}
	pos := preambleLen(frame)
	if pos+dlt645MinLen > len(frame) {
		return false
	}
	if frame[pos] != dlt645StartByte || frame[pos+7] != dlt645StartByte || frame[len(frame)-1] != dlt645EndByte {
		return false
	}
	return len(frame) == int(frame[pos+9])+dlt645MinLen+pos
}

// dlt645Walk 一帧 DLT/645 报文的解析状态
type dlt645Walk struct {
	walk
	pre  int
	ctrl byte
	dlen int
}

// parseDLT645 解析 DLT/645 报文，base 为报文在外层数据中的绝对位置
func (a *Analyzer) parseDLT645(frame []byte, base int, region string) ([]decoder.Field, decoder.Diagnostics, StepOutcome) {
	w := &dlt645Walk{walk: walk{frame: frame, base: base}}
	if !IsDLT645(frame) {
		return []decoder.Field{w.opaque("报文", 0, len(frame))}, nil,
			fail(errors.ErrFrameInvalid, "不是有效的DLT/645报文")
	}

	w.pre = preambleLen(frame)
	w.ctrl = frame[w.pre+8]
	w.dlen = int(frame[w.pre+9])
	w.sess = a.dec.NewSession(decoder.Params{
		Protocol: ProtocolDLT645,
		Region:   region,
		Dir:      schema.DirectionOf(int(w.ctrl >> 7)),
		Strip:    true,
	})

	out := drive(w.head, w.data, func() StepOutcome {
		return w.tail(w.pre, "校验码", "电表规约报文校验码正确", "电表规约校验码错误，应为：%02X", "电表规约报文结束符")
	})
	return w.fields, w.sess.Diagnostics(), out
}

func (w *dlt645Walk) head() StepOutcome {
	p := w.pre
	if p > 0 {
		w.add("唤醒符", 0, p, "电表规约：电能表唤醒符")
	}
	w.add("帧起始符", p, p+1, "电表规约：标识一帧信息的开始")
	w.add("地址域", p+1, p+7, "电表通信地址："+codec.FormatHexReversed(w.frame[p+1:p+7]))
	w.add("帧起始符", p+7, p+8, "电表规约：标识一帧信息的开始")

	fn := w.ctrl & 0x1F
	fnText, ok := dlt645Functions[fn]
	if !ok {
		fnText = "未知"
	}
	d7, d6, d5 := int(w.ctrl>>7&1), int(w.ctrl>>6&1), int(w.ctrl>>5&1)

	d7Text, prefix := "主站发出的命令帧", "主站请求："
	if d7 == 1 {
		d7Text, prefix = "从站发出的应答帧", "电表返回："
	}
	d6Text := "从站正常应答"
	if d6 == 1 {
		d6Text = "从站异常应答"
	}
	d5Text := "无后续数据帧"
	if d5 == 1 {
		d5Text = "有后续数据帧"
	}
	at := p + 8
	fnField := w.bitField("D0~D4功能码", at, 0, fnText)
	fnField.Data = fmt.Sprintf("%X", fn)
	w.add("控制码", at, at+1, prefix+fnText,
		w.bitField("D7传送方向", at, d7, d7Text),
		w.bitField("D6应答标志", at, d6, d6Text),
		w.bitField("D5后续帧标志", at, d5, d5Text),
		fnField,
	)
	w.add("数据长度", p+9, p+10, fmt.Sprintf("长度=%d, 总长度=%d(总长度=长度+12)", w.dlen, w.dlen+dlt645MinLen))
	return next
}

// data 按控制码解析数据域
func (w *dlt645Walk) data() StepOutcome {
	if w.dlen == 0 {
		return next
	}
	start := w.pre + 10
	end := start + w.dlen

	var children []decoder.Field
	switch {
	case w.ctrl&0xC0 == 0xC0:
		children = w.errorWord(start, end)
	case w.ctrl == 0x11:
		children = w.readRequest(start, end)
	case w.ctrl == 0x91 || w.ctrl == 0xB1:
		children = w.readResponse(start, end, false)
	case w.ctrl == 0x12:
		children = w.readFollowRequest(start, end)
	case w.ctrl == 0x92 || w.ctrl == 0xB2:
		children = w.readResponse(start, end, true)
	case w.ctrl == 0x14:
		children = w.write(start, end)
	default:
		segs, ok := dlt645Segments[w.ctrl]
		if !ok {
			segs = []segment{{"数据内容", -1, func(b []byte) string { return codec.FormatHexReversed(b) }}}
		}
		children = w.segments(segs, start, end)
	}

	w.add("数据域", start, end, dataFieldNote, children...)
	return next
}

// segments 依次解析定长数据段，数据不足时截断并记录诊断
func (w *dlt645Walk) segments(segs []segment, start, end int) []decoder.Field {
	fields := make([]decoder.Field, 0, len(segs))
	pos := start
	for _, sg := range segs {
		if pos >= end {
			w.sess.Report(errors.ErrBoundsViolation, sg.label, w.base+pos, "数据域长度不足")
			break
		}
		size := sg.size
		if size < 0 || pos+size > end {
			if size >= 0 {
				w.sess.Report(errors.ErrBoundsViolation, sg.label, w.base+pos, "长度 %d 超出剩余数据 %d，已截断", size, end-pos)
			}
			size = end - pos
		}
		plain := codec.StripOffset(w.frame[pos : pos+size])
		fields = append(fields, w.span(sg.label, pos, pos+size, sg.render(plain)))
		pos += size
	}
	if pos < end {
		fields = append(fields, w.opaque("其他数据", pos, end))
	}
	return fields
}

// identifier 数据标识编码，返回标识与配置节点
func (w *dlt645Walk) identifier(pos int) (decoder.Field, string, *schema.Node) {
	di := codec.FormatHexReversed(codec.StripOffset(w.frame[pos : pos+4]))
	n := w.sess.Lookup(di)
	desc := "数据标识编码：[" + di + "]"
	if n != nil && n.Name() != "" {
		desc += " - " + n.Name()
	}
	return w.span("数据标识编码", pos, pos+4, desc), di, n
}

func (w *dlt645Walk) readRequest(start, end int) []decoder.Field {
	if end-start < 4 {
		return []decoder.Field{w.opaque("数据内容", start, end)}
	}
	di, _, _ := w.identifier(start)
	fields := []decoder.Field{di}

	pos := start + 4
	switch rest := end - pos; {
	case rest == 1 || rest == 6:
		blocks := codec.BCDToInt(w.frame[pos:pos+1], true)
		fields = append(fields, w.span("负荷记录块数", pos, pos+1, fmt.Sprintf("负荷记录块数=%d", blocks)))
		if rest == 6 {
			t := codec.FormatTime(w.frame[pos+1:end], "mmhhDDMMYY", true)
			fields = append(fields, w.span("给定时间", pos+1, end, t))
		}
	case rest > 0:
		fields = append(fields, w.opaque("液晶查看命令", pos, end))
	}
	return fields
}

func (w *dlt645Walk) readFollowRequest(start, end int) []decoder.Field {
	if end-start < 5 {
		return []decoder.Field{w.opaque("数据内容", start, end)}
	}
	di, _, _ := w.identifier(start)
	seq := codec.StripOffset(w.frame[end-1 : end])[0]
	return []decoder.Field{
		di,
		w.span("帧序号", end-1, end, fmt.Sprintf("帧序号=%d", seq)),
	}
}

// readResponse 读数据应答：数据标识 + 若干条记录，后续帧应答末尾带帧序号
func (w *dlt645Walk) readResponse(start, end int, follow bool) []decoder.Field {
	if end-start < 4 {
		return []decoder.Field{w.opaque("数据内容", start, end)}
	}
	diField, di, n := w.identifier(start)
	fields := []decoder.Field{diField}

	contentEnd := end
	if follow && end-start > 4 {
		contentEnd = end - 1
	}
	if contentEnd > start+4 {
		fields = append(fields, w.content(di, n, start+4, contentEnd))
	}
	if contentEnd < end {
		seq := codec.StripOffset(w.frame[end-1 : end])[0]
		fields = append(fields, w.span("帧序号", end-1, end, fmt.Sprintf("帧序号=%d", seq)))
	}
	return fields
}

// content 数据标识内容：按配置解析，数据长度不是单条记录长度的整数倍时前5字节为起始时间
func (w *dlt645Walk) content(di string, n *schema.Node, start, end int) decoder.Field {
	data := w.frame[start:end]
	desc := fmt.Sprintf("数据标识[%s]内容数据%s", di, codec.RenderHex(data, true, true, false))
	if n == nil {
		w.sess.Report(errors.ErrSchemaLookupMiss, di, w.base+start, "未找到数据项配置")
		return w.span("数据标识内容", start, end, desc)
	}

	var records []decoder.Field
	pos := 0
	sub := w.sess.Measure(n, data, w.base+start)
	if sub > 0 && len(data)%sub != 0 && len(data) > sub && len(data)-5 >= sub {
		t := codec.FormatTime(data[:5], "mmhhDDMMYY", true)
		records = append(records, w.span("数据起始时间", start, start+5, t))
		pos = 5
	}
	for sub > 0 && pos+sub <= len(data) {
		records = append(records, flatten(w.sess.Decode(n, data[pos:pos+sub], w.base+start+pos))...)
		pos += sub
	}
	if pos < len(data) {
		if sub > 0 {
			w.sess.Report(errors.ErrBoundsViolation, di, w.base+start+pos, "剩余 %d 字节不足一条记录", len(data)-pos)
		}
		records = append(records, w.opaque("剩余数据", start+pos, end))
	}
	return w.span("数据标识内容", start, end, desc, records...)
}

func (w *dlt645Walk) write(start, end int) []decoder.Field {
	if end-start < 12 {
		return w.segments([]segment{{"数据内容", -1, codec.FormatHexReversed}}, start, end)
	}
	diField, di, n := w.identifier(start)
	fields := []decoder.Field{diField}
	fields = append(fields, w.segments([]segment{passwordSegment, operatorSegment}, start+4, start+12)...)
	if end > start+12 {
		fields = append(fields, w.content(di, n, start+12, end))
	}
	return fields
}

func (w *dlt645Walk) errorWord(start, end int) []decoder.Field {
	word := codec.StripOffset(w.frame[start : start+1])[0]
	return []decoder.Field{w.span("错误信息字", start, end, "错误类型: "+errorWordText(word))}
}

func errorWordText(word byte) string {
	for bit := 1; bit < len(dlt645ErrorBits); bit++ {
		if word>>bit&1 == 1 {
			return dlt645ErrorBits[bit]
		}
	}
	if word != 0 {
		return dlt645ErrorBits[0]
	}
	return ""
}

func baudText(b []byte) string {
	var rates []string
	for _, r := range dlt645BaudRates {
		if b[0]&r.mask != 0 {
			rates = append(rates, r.text)
		}
	}
	if len(rates) == 0 {
		return "通信速率：无效"
	}
	return "通信速率：" + strings.Join(rates, ",")
}

func passwordText(b []byte) string {
	if len(b) < 4 {
		return codec.FormatHexReversed(b)
	}
	return fmt.Sprintf("权限=%02X, 密码=%s", b[0], codec.FormatHexReversed(b[1:]))
}

func timeText(format string) func([]byte) string {
	return func(b []byte) string {
		return codec.FormatTime(b, format, false)
	}
}

// flatten 单条记录的解析结果带子项时只保留子项
func flatten(fields []decoder.Field) []decoder.Field {
	if len(fields) == 1 && len(fields[0].Children) > 0 {
		return fields[0].Children
	}
	return fields
}
