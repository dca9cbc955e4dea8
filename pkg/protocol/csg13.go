package protocol

import (
	"fmt"
	"strings"

	"github.com/bujia-iot/meter-frame-analyzer/pkg/codec"
	"github.com/bujia-iot/meter-frame-analyzer/pkg/decoder"
	"github.com/bujia-iot/meter-frame-analyzer/pkg/errors"
	"github.com/bujia-iot/meter-frame-analyzer/pkg/schema"
)

// 南网13规约报文结构：68 L L L L 68 C A1 A2 A3 AFN SEQ 数据单元 [Pw] [Tp] CS 16
const (
	csgMinLen    = 18
	csgHeadLen   = 16
	csgCtrlPos   = 6
	csgAddrPos   = 7
	csgAFNPos    = 14
	csgSeqPos    = 15
	csgPwLen     = 16
	csgTpLen     = 5
	csgExtraLen  = 8
	csgUnitHead  = 6
	csgStartByte = 0x68
	csgEndByte   = 0x16
)

const pwNote = "PW由16个字节组成，是由主站按系统约定的认证算法产生，并在主站发送的报文中下发给终端，由终端进行校验认证。"

// 应用层功能码
const (
	AFNAck       byte = 0x00
	AFNLinkCheck byte = 0x02
	AFNWrite     byte = 0x04
	AFNSecurity  byte = 0x06
	AFNReadParam byte = 0x0A
	AFNReadCur   byte = 0x0C
	AFNReadHis   byte = 0x0D
	AFNReadEvent byte = 0x0E
	AFNFile      byte = 0x0F
	AFNRelay     byte = 0x10
	AFNReadTask  byte = 0x12
	AFNReadAlarm byte = 0x13
)

var csgAFNNames = map[byte]string{
	0x00: "确认/否定",
	0x02: "链路接口检测",
	0x04: "写参数",
	0x06: "安全认证",
	0x0A: "读参数",
	0x0C: "读当前数据",
	0x0D: "读历史数据",
	0x0E: "读事件记录",
	0x0F: "文件传输",
	0x10: "中继转发",
	0x12: "读任务数据",
	0x13: "读告警数据",
	0x14: "级联命令",
	0x15: "用户自定义数据",
	0x16: "数据安全传输",
	0x17: "数据转加密",
	0x23: "主站中转报文",
}

var (
	csgPrimaryFunctions = map[byte]string{1: "复位命令", 4: "用户数据", 9: "链路测试", 10: "请求1级数据", 11: "请求2级数据"}
	csgSecondaryFuncs   = map[byte]string{0: "认可", 8: "用户数据", 9: "否定：无所召唤数据", 11: "链路状态"}
)

var csgDensities = []string{"按终端实际存储数据的时间间隔", "1分钟", "5分钟", "15分钟", "30分钟", "60分钟", "1日", "1月"}

// 中继类型
var csgRelayTypes = map[byte]string{
	0x00: "普通中继",
	0x01: "转发主站对电能表的拉闸命令",
	0x02: "转发主站对电能表的允许合闸命令",
	0x03: "转发主站对电能表的保电投入命令",
	0x04: "转发主站对电能表的保电解除命令",
}

// csgRelayHead 中继数据单元中转发报文之前的固定部分：中继类型、超时时间或转发结果、报文长度
const csgRelayHead = 3

// RelayTypeText 中继类型说明
func RelayTypeText(t byte) string {
	if name, ok := csgRelayTypes[t]; ok {
		return name
	}
	return "未知"
}

// CSGErrorText 确认/否定报文中的错误编码，也用于中继转发结果
func CSGErrorText(code byte) string {
	switch code {
	case 0x00:
		return "正确"
	case 0x01:
		return "中继命令没有返回"
	case 0x02:
		return "设置内容非法"
	case 0x03:
		return "密码权限不足"
	case 0x04:
		return "无此数据项"
	case 0x05:
		return "命令时间失效"
	case 0x06:
		return "目标地址不存在"
	case 0x07:
		return "校验失败"
	}
	return "未知错误"
}

// IsCSG13 判断是否为完整的南网13规约报文
func IsCSG13(frame []byte) bool {
	if len(frame) < csgMinLen {
		return false
	}
	if frame[0] != csgStartByte || frame[5] != csgStartByte || frame[len(frame)-1] != csgEndByte {
		return false
	}
	if frame[1] != frame[3] || frame[2] != frame[4] {
		return false
	}
	l := int(frame[2])<<8 | int(frame[1])
	return l+csgExtraLen == len(frame)
}

// csgWalk 一帧南网报文的解析状态
type csgWalk struct {
	walk
	a        *Analyzer
	dir, prm int
	afn      byte
	tpv      bool
}

// parseCSG13 解析南网13规约报文，base 为报文在外层数据中的绝对位置
func (a *Analyzer) parseCSG13(frame []byte, base int, region string) ([]decoder.Field, decoder.Diagnostics, StepOutcome) {
	w := &csgWalk{walk: walk{frame: frame, base: base}, a: a}
	if !IsCSG13(frame) {
		return []decoder.Field{w.opaque("报文", 0, len(frame))}, nil,
			fail(errors.ErrFrameInvalid, "不是有效的南网13规约报文")
	}

	ctrl := frame[csgCtrlPos]
	w.dir = int(ctrl >> 7 & 1)
	w.prm = int(ctrl >> 6 & 1)
	w.afn = frame[csgAFNPos]
	w.tpv = frame[csgSeqPos]>>7&1 == 1
	w.sess = a.dec.NewSession(decoder.Params{
		Protocol: ProtocolCSG13,
		Region:   region,
		Dir:      schema.DirectionOf(w.dir),
	})

	out := drive(w.head, w.afnSeq, w.body, func() StepOutcome {
		return w.tail(csgCtrlPos, "校验码CS", "校验正确", "校验码错误，应为：%02X", "结束符")
	})
	return w.fields, w.sess.Diagnostics(), out
}

func (w *csgWalk) head() StepOutcome {
	l := int(w.frame[2])<<8 | int(w.frame[1])
	w.add("起始符", 0, 1, "起始符")
	w.add("长度", 1, 5, fmt.Sprintf("长度=%d,总长度=%d(总长度=长度+8)", l, l+csgExtraLen))
	w.add("起始符", 5, 6, "起始符")
	w.control()
	w.address()
	return next
}

// control 控制域 DIR/PRM/ACD/FCV 与功能码
func (w *csgWalk) control() {
	ctrl := w.frame[csgCtrlPos]
	acd := int(ctrl >> 5 & 1)
	fcv := int(ctrl >> 4 & 1)
	code := ctrl & 0x0F

	prmText, action, table := "来自从动站", "主站响应", csgSecondaryFuncs
	if w.prm == 1 {
		prmText, action, table = "来自启动站", "主站发送", csgPrimaryFunctions
		if w.dir == 1 {
			action = "终端上送"
		}
	} else if w.dir == 1 {
		action = "终端响应"
	}
	fn, ok := table[code]
	if !ok {
		fn = "备用"
	}

	dirText := "主站发出的下行报文"
	if w.dir == 1 {
		dirText = "终端发出的上行报文"
	}
	valid := map[int]string{0: "无效", 1: "有效"}

	at := csgCtrlPos
	w.add("控制域", at, at+1, action+fn,
		w.bitField("D7传输方向位DIR", at, w.dir, dirText),
		w.bitField("D6启动标志位PRM", at, w.prm, prmText),
		w.bitField("D5帧计数位FCB(下行)/要求访问位ACD(上行)", at, acd, valid[acd]),
		w.bitField("D4帧计数有效位FCV(下行)/保留(上行)", at, fcv, "FCB位"+valid[fcv]),
		w.bitField("D3~D0功能码", at, int(code), prmText+":"+fn),
	)
}

// address 地址域 A1 省地市区县码，A2 终端地址，A3 主站地址与帧序号
func (w *csgWalk) address() {
	p := csgAddrPos
	a1 := w.frame[p : p+3]
	a2 := w.frame[p+3 : p+6]
	a3 := w.frame[p+6]

	seq, master := int(a3&0xF0), int(a3&0x0F)
	w.add("地址域", p, p+7, "终端逻辑地址"+TerminalAddress(w.frame),
		w.span("省地市区县码 A1", p, p+3, fmt.Sprintf("省地市区县码=%s省%02X,地市%02X,区县%02X",
			codec.FormatHexReversed(a1), a1[2], a1[1], a1[0])),
		w.span("终端地址 A2", p+3, p+6, "终端地址="+codec.FormatHexReversed(a2)),
		w.span("主站地址 A3", p+6, p+7, "",
			w.bitField("D7~D4帧序号", p+6, seq, fmt.Sprintf("帧序号=%d", seq)),
			w.bitField("D3~D0主站地址", p+6, master, fmt.Sprintf("主站地址=%d", master)),
		),
	)
}

// TerminalAddress 报文中的终端逻辑地址（A1+A2，高字节在前）
func TerminalAddress(frame []byte) string {
	if len(frame) < csgAddrPos+6 {
		return ""
	}
	return codec.FormatHexReversed(frame[csgAddrPos:csgAddrPos+3]) + codec.FormatHexReversed(frame[csgAddrPos+3:csgAddrPos+6])
}

func (w *csgWalk) afnSeq() StepOutcome {
	name, ok := csgAFNNames[w.afn]
	if !ok {
		name = "备用"
	}
	w.add("应用层功能码AFN", csgAFNPos, csgAFNPos+1, name)

	seq := w.frame[csgSeqPos]
	tpv, fir, fin, con := int(seq>>7&1), int(seq>>6&1), int(seq>>5&1), int(seq>>4&1)
	pseq := int(seq & 0x0F)

	tpvText := "帧末尾无时间标签Tp"
	if tpv == 1 {
		tpvText = "帧末尾带有时间标签Tp"
	}
	var firText, finText, seqText string
	switch {
	case fir == 0 && fin == 0:
		firText, finText, seqText = "当前帧为多帧：中间帧", "当前帧为多帧：中间帧", "多帧：中间帧"
	case fir == 0 && fin == 1:
		firText, finText, seqText = "当前帧为多帧：结束帧", "当前帧为最后一帧：结束帧", "多帧：结束帧"
	case fir == 1 && fin == 0:
		firText, finText, seqText = "当前帧为多帧：第一帧", "当前帧为多帧：有后续帧", "多帧：第一帧"
	default:
		firText, finText, seqText = "当前帧为单帧：第一帧", "当前帧为单帧：最后一帧", "单帧：最后一帧"
	}
	conText := "不需要对该帧报文进行确认"
	if con == 1 {
		conText = "需要对该帧报文进行确认"
	}

	at := csgSeqPos
	w.add("命令序号SEQ", at, at+1, seqText,
		w.bitField("D7帧时间标签有效位TpV", at, tpv, tpvText),
		w.bitField("D6首帧标志FIR", at, fir, firText),
		w.bitField("D5末帧标志FIN", at, fin, finText),
		w.bitField("D4请求确认标志位CON", at, con, conText),
		w.bitField("D3~D0帧内序号", at, pseq, fmt.Sprintf("帧内序号=%d", pseq)),
	)
	return next
}

// body 信息体：数据单元循环，之后是可选的消息验证码与时间标签
func (w *csgWalk) body() StepOutcome {
	start, end := csgHeadLen, len(w.frame)-2
	if start >= end {
		return next
	}

	tpStart := -1
	if w.tpv && end-start >= csgTpLen {
		tpStart = end - csgTpLen
		end = tpStart
	}

	var units []decoder.Field
	pos, group := start, 1
	pw := false
	if !w.carriesUnits() {
		if start < end {
			units = append(units, w.opaque("数据内容", start, end))
			w.sess.Report(errors.ErrNotImplemented, fmt.Sprintf("AFN=%02X", w.afn), w.base+start, "该功能码的数据单元不做逐项解析")
		}
		pos = end
	}

	unit := func() StepOutcome {
		if end-pos == csgPwLen && pos > start && w.hasPw(pos, end) {
			pw = true
			end -= csgPwLen
		}
		if pos >= end {
			return done
		}
		if end-pos < csgUnitHead {
			w.sess.Report(errors.ErrBoundsViolation, "", w.base+pos, "剩余 %d 字节不足一个数据单元", end-pos)
			units = append(units, w.opaque("剩余数据", pos, end))
			pos = end
			return done
		}
		fields, used, out := w.unit(group, pos, end)
		units = append(units, fields...)
		pos += used
		group++
		return out
	}
	out := repeat(unit)()

	if pw {
		units = append(units, w.span("消息验证码Pw", end, end+csgPwLen, pwNote))
	}
	if tpStart >= 0 {
		units = append(units, w.span("时间标签Tp", tpStart, tpStart+csgTpLen, tpText(w.frame[tpStart:tpStart+csgTpLen])))
	}
	w.add("信息体", start, len(w.frame)-2, "", units...)
	return out
}

// carriesUnits 功能码是否为 DA+DI 数据单元结构
func (w *csgWalk) carriesUnits() bool {
	switch w.afn {
	case AFNAck, AFNLinkCheck, AFNWrite, AFNSecurity, AFNReadParam, AFNReadCur, AFNReadHis,
		AFNReadEvent, AFNFile, AFNRelay, AFNReadTask, AFNReadAlarm:
		return true
	}
	return false
}

// hasContent 数据单元是否带数据内容
func (w *csgWalk) hasContent() bool {
	switch w.afn {
	case AFNAck, AFNLinkCheck, AFNSecurity, AFNFile, AFNRelay:
		return true
	case AFNWrite:
		return w.dir == 0
	}
	return w.dir == 1 && w.prm == 0
}

// hasPw 末尾16字节是否为消息验证码：全0，或无法作为数据单元解析
func (w *csgWalk) hasPw(pos, end int) bool {
	seg := w.frame[pos:end]
	allZero := true
	for _, b := range seg {
		if b != 0 {
			allZero = false
			break
		}
	}
	if allZero {
		return true
	}
	di := codec.FormatHexReversed(seg[2:6])
	return w.sess.Lookup(di) == nil
}

// unit 解析一个数据单元：信息点标识DA + 数据标识编码DI + 数据内容
func (w *csgWalk) unit(group, pos, end int) ([]decoder.Field, int, StepOutcome) {
	da := w.frame[pos : pos+2]
	points := codec.DescribePoints(da)
	di := codec.FormatHexReversed(w.frame[pos+2 : pos+6])
	n := w.sess.Lookup(di)

	diDesc := "数据标识编码：[" + di + "]"
	if n != nil && n.Name() != "" {
		diDesc += "-" + n.Name()
	}
	fields := []decoder.Field{
		w.span(fmt.Sprintf("<第%d组>信息点标识DA", group), pos, pos+2, points),
		w.span(fmt.Sprintf("<第%d组>数据标识编码DI", group), pos+2, pos+6, diDesc),
	}
	used := csgUnitHead
	at := pos + csgUnitHead

	// 读历史数据下行：起止时间与数据密度
	if w.afn == AFNReadHis && w.dir == 0 {
		if end-at < 13 {
			w.sess.Report(errors.ErrBoundsViolation, di, w.base+at, "历史数据召测时间不足13字节")
			return append(fields, w.opaque("剩余数据", at, end)), end - pos, done
		}
		density := w.frame[at+12]
		densityText := "备用"
		if int(density) < len(csgDensities) {
			densityText = csgDensities[density]
		}
		fields = append(fields,
			w.span(fmt.Sprintf("<第%d组>数据起始时间", group), at, at+6, codec.FormatTime(w.frame[at:at+6], "CCYYMMDDhhmm", false)),
			w.span(fmt.Sprintf("<第%d组>数据结束时间", group), at+6, at+12, codec.FormatTime(w.frame[at+6:at+12], "CCYYMMDDhhmm", false)),
			w.span(fmt.Sprintf("<第%d组>数据密度", group), at+12, at+13, "数据间隔时间："+densityText),
		)
		return fields, used + 13, next
	}

	if !w.hasContent() {
		return fields, used, next
	}
	if w.afn == AFNRelay {
		relay, size, out := w.relay(group, at, end)
		return append(fields, relay...), used + size, out
	}
	// 文件传输上行只回1字节传输结果
	if w.afn == AFNFile && w.dir == 1 && w.prm == 0 && n == nil && at < end {
		return append(fields, w.span(fmt.Sprintf("<第%d组>数据标识内容", group), at, at+1,
			fmt.Sprintf("数据标识[%s]数据内容：%02X", di, w.frame[at]))), used + 1, next
	}
	if n == nil {
		w.sess.Report(errors.ErrSchemaLookupMiss, di, w.base+at, "未找到数据项配置，剩余数据不再解析")
		if at < end {
			fields = append(fields, w.opaque(fmt.Sprintf("<第%d组>数据内容", group), at, end))
		}
		return fields, end - pos, done
	}

	size := w.sess.Measure(n, w.frame[at:end], w.base+at)
	if size == 0 {
		return fields, used, next
	}
	decoded := w.sess.Decode(n, w.frame[at:at+size], w.base+at)
	desc := strings.TrimPrefix(points, "Pn=") + "-" + strings.TrimPrefix(diDesc, "数据标识编码：")
	fields = append(fields, w.span(fmt.Sprintf("<第%d组>数据内容", group), at, at+size, desc, decoded...))
	used += size

	// 读历史数据上行：每个数据内容后跟数据时间
	if w.afn == AFNReadHis && at+size+6 <= end {
		t := at + size
		fields = append(fields, w.span(fmt.Sprintf("<第%d组>数据时间", group), t, t+6,
			"数据时间："+codec.FormatTime(w.frame[t:t+6], "CCYYMMDDhhmm", false)))
		used += 6
	}
	return fields, used, next
}

// relay 中继转发数据单元
// 下行：中继类型 + 中继转发超时时间(秒) + 转发报文长度 + 转发报文
// 上行：中继类型 + 转发结果 + 返回报文长度 + 返回报文
// 转发报文按 DLT/645 解析
func (w *csgWalk) relay(group, at, end int) ([]decoder.Field, int, StepOutcome) {
	if end-at < csgRelayHead {
		w.sess.Report(errors.ErrBoundsViolation, "中继转发", w.base+at, "中继数据单元不足%d字节", csgRelayHead)
		if at < end {
			return []decoder.Field{w.opaque("剩余数据", at, end)}, end - at, done
		}
		return nil, 0, done
	}

	relayType := w.frame[at]
	fields := []decoder.Field{
		w.span(fmt.Sprintf("<第%d组>中继类型", group), at, at+1,
			fmt.Sprintf("中继类型：%02X-%s", relayType, RelayTypeText(relayType))),
	}
	msgLabel := "转发报文"
	if w.dir == 1 {
		result := w.frame[at+1]
		fields = append(fields, w.span(fmt.Sprintf("<第%d组>转发结果", group), at+1, at+2,
			fmt.Sprintf("转发结果：%02X-%s", result, CSGErrorText(result))))
		msgLabel = "返回报文"
	} else {
		fields = append(fields, w.span(fmt.Sprintf("<第%d组>中继转发超时时间", group), at+1, at+2,
			fmt.Sprintf("中继转发超时时间：%d秒", w.frame[at+1])))
	}

	l := int(w.frame[at+2])
	fields = append(fields, w.span(fmt.Sprintf("<第%d组>%s长度", group, msgLabel), at+2, at+3,
		fmt.Sprintf("%s长度：%d", msgLabel, l)))

	start := at + csgRelayHead
	if start+l > end {
		w.sess.Report(errors.ErrBoundsViolation, msgLabel, w.base+start, "报文长度 %d 超出剩余数据 %d，已截断", l, end-start)
		l = end - start
	}
	if l == 0 {
		return fields, csgRelayHead, next
	}

	msg := w.frame[start : start+l]
	if !IsDLT645(msg) {
		w.sess.Report(errors.ErrFrameInvalid, msgLabel, w.base+start, "不是有效的DLT/645报文")
		fields = append(fields, w.opaque(fmt.Sprintf("<第%d组>%s", group, msgLabel), start, start+l))
		return fields, csgRelayHead + l, next
	}
	embedded := w.a.walkDLT645(msg, w.base+start, w.sess.Params().Region)
	fields = append(fields, w.span(fmt.Sprintf("<第%d组>%s", group, msgLabel), start, start+l,
		msgLabel+"："+codec.FormatHexCompact(msg), embedded...))
	return fields, csgRelayHead + l, next
}

// tpText 时间标签：启动帧发送时标(DDhhmmss) + 允许传输延时(分)
func tpText(tp []byte) string {
	return fmt.Sprintf("启动帧发送时标：%s。允许发送传输延迟时间：%d分", codec.FormatTime(tp[:4], "DDhhmmss", false), tp[4])
}
