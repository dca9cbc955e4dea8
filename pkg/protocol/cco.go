package protocol

import (
	"encoding/binary"
	"fmt"

	"github.com/bujia-iot/meter-frame-analyzer/pkg/codec"
	"github.com/bujia-iot/meter-frame-analyzer/pkg/decoder"
	"github.com/bujia-iot/meter-frame-analyzer/pkg/errors"
	"github.com/bujia-iot/meter-frame-analyzer/pkg/schema"
)

// 南网16本地通信报文与模块报文共用的结构：
// 68 L L C [源地址6 目的地址6] AFN SEQ DI0~DI3 数据内容 CS 16
// 长度为整帧字节数，低字节在前；模块报文没有地址域
const (
	ccoCtrlPos  = 3
	ccoUserPos  = 4
	ccoAddrLen  = 12
	ccoDILen    = 4
	ccoMinLen   = ccoUserPos + 2 + ccoDILen + 2
	moduleItems = 0xEC000000
)

// ccoConcentrator DI3=E8 表示集中器与本地模块通信
const ccoConcentrator = 0xE8

var (
	ccoConcentratorAFNs = map[byte]string{
		0x00: "确认/否认",
		0x01: "初始化模块",
		0x02: "管理任务",
		0x03: "读参数",
		0x04: "写参数",
		0x05: "上报信息",
		0x06: "请求信息",
		0x07: "传输文件",
		0x10: "维护命令",
		0xF0: "维护模块",
	}
	ccoCollectorAFNs = map[byte]string{
		0x00: "确认/否认",
		0x21: "管理电表",
		0x22: "转发数据",
		0x23: "读参数",
		0x24: "传输文件",
		0x25: "请求信息",
		0x31: "管理映射表表计",
	}
	moduleAFNs = map[byte]string{
		0x00: "确认/否认",
		0x01: "初始化模块",
		0x03: "读参数",
		0x04: "写参数",
		0x05: "电池管理",
		0x06: "请求信息",
		0x07: "传输文件",
		0x10: "维护命令",
		0x41: "遥信脉冲管理",
		0x42: "遥信脉冲上报",
		0x43: "遥控输出管理",
		0x44: "模拟量采集管理",
		0x46: "电池异常上报",
		0xF0: "维护模块",
	}
)

// moduleReportItem 模块 AFN=05 中唯一的上报信息数据标识
const moduleReportItem = 0xEC050501

// 数据标识 DI2：报文上下行类型
var ccoDirectionTypes = []string{
	"上下行均用，但下行无数据内容",
	"上下行均用，数据内容格式一致",
	"仅下行用，上行为确认/否认报文",
	"仅下行用，带数据内容。对应上行报文为 04",
	"仅上行用，带数据内容。对应下行报文为 03",
	"仅上行用，下行为确认/否认报文",
	"上下行均用，但上行无数据内容",
}

// ccoEnvelope 起止符与长度域
func ccoEnvelope(frame []byte) bool {
	if len(frame) < ccoMinLen {
		return false
	}
	if frame[0] != csgStartByte || frame[len(frame)-1] != csgEndByte {
		return false
	}
	return int(binary.LittleEndian.Uint16(frame[1:3])) == len(frame)
}

// moduleItem 不带地址域时 DI 所在位置的数据标识，DI3 含 EC 位的为模块报文
func moduleItem(frame []byte) bool {
	return binary.LittleEndian.Uint32(frame[6:10])&moduleItems == moduleItems
}

// IsCSG16 判断是否为南网16本地通信报文（集中器/采集器与本地模块）
func IsCSG16(frame []byte) bool {
	if !ccoEnvelope(frame) {
		return false
	}
	if frame[ccoCtrlPos]>>5&1 == 1 {
		return len(frame) >= ccoMinLen+ccoAddrLen
	}
	return !moduleItem(frame)
}

// IsModule 判断是否为模块报文
func IsModule(frame []byte) bool {
	return ccoEnvelope(frame) && moduleItem(frame)
}

// ccoWalk 一帧本地通信/模块报文的解析状态
type ccoWalk struct {
	walk
	protocol       string
	dir, prm, addr int
}

func (a *Analyzer) parseCSG16(frame []byte, base int, region string) ([]decoder.Field, decoder.Diagnostics, StepOutcome) {
	return a.parseCCO(ProtocolCSG16, frame, base, region)
}

func (a *Analyzer) parseModule(frame []byte, base int, region string) ([]decoder.Field, decoder.Diagnostics, StepOutcome) {
	return a.parseCCO(ProtocolModule, frame, base, region)
}

// parseCCO 解析南网16本地通信报文或模块报文，两者只在地址域与功能码定义上不同
func (a *Analyzer) parseCCO(protocol string, frame []byte, base int, region string) ([]decoder.Field, decoder.Diagnostics, StepOutcome) {
	w := &ccoWalk{walk: walk{frame: frame, base: base}, protocol: protocol}
	valid := IsCSG16(frame)
	if protocol == ProtocolModule {
		valid = IsModule(frame)
	}
	if !valid {
		return []decoder.Field{w.opaque("报文", 0, len(frame))}, nil,
			fail(errors.ErrFrameInvalid, "不是有效的%s报文", protocol)
	}

	ctrl := frame[ccoCtrlPos]
	w.dir = int(ctrl >> 7 & 1)
	w.prm = int(ctrl >> 6 & 1)
	if protocol == ProtocolCSG16 {
		w.addr = int(ctrl >> 5 & 1)
	}
	w.sess = a.dec.NewSession(decoder.Params{
		Protocol: protocol,
		Region:   region,
		Dir:      schema.DirectionOf(w.dir),
	})

	out := drive(w.head, w.user, func() StepOutcome {
		return w.tail(ccoCtrlPos, "校验和CS", "校验和:正确", "校验和:错误，应为：%02X", "结束符")
	})
	return w.fields, w.sess.Diagnostics(), out
}

func (w *ccoWalk) head() StepOutcome {
	w.add("起始符", 0, 1, "起始符")
	w.add("长度", 1, ccoCtrlPos, fmt.Sprintf("总长度=%d", len(w.frame)))
	w.control()
	return next
}

func (w *ccoWalk) control() {
	ctrl := w.frame[ccoCtrlPos]
	at := ccoCtrlPos

	dirText := "下行报文"
	if w.dir == 1 {
		dirText = "上行报文"
	}
	prmText := "表示此帧报文来自从动站"
	if w.prm == 1 {
		prmText = "表示此帧报文来自启动站"
	}
	ver := int(ctrl >> 2 & 0x03)
	keep := int(ctrl & 0x03)

	d5 := w.bitField("地址域标志位ADD", at, w.addr, "表示此帧报文不带地址域")
	if w.addr == 1 {
		d5.Description = "表示此帧报文带地址域"
	}
	if w.protocol == ProtocolModule {
		d5 = w.bitField("保留", at, int(ctrl>>5&1), "保留")
	}

	w.add("控制域C", at, at+1, fmt.Sprintf("控制域:%02X", ctrl),
		w.bitField("传输方向位DIR", at, w.dir, dirText),
		w.bitField("启动标志位PRM", at, w.prm, prmText),
		d5,
		w.bitField("协议版本号VER", at, ver, fmt.Sprintf("协议版本号:%d", ver)),
		w.bitField("保留位", at, keep, fmt.Sprintf("保留位=%d", keep)),
	)
}

// user 用户数据域：地址域、AFN、SEQ 与应用数据域
func (w *ccoWalk) user() StepOutcome {
	end := len(w.frame) - 2
	pos := ccoUserPos
	var children []decoder.Field

	if w.addr == 1 {
		src, dst := w.frame[pos:pos+6], w.frame[pos+6:pos+ccoAddrLen]
		children = append(children, w.span("地址域A", pos, pos+ccoAddrLen,
			"地址域:"+codec.FormatHexReversed(w.frame[pos:pos+ccoAddrLen]),
			w.span("源地址 ASR", pos, pos+6, "源地址:"+codec.FormatHexReversed(src)),
			w.span("目的地址 ADST", pos+6, pos+ccoAddrLen, "目的地址:"+codec.FormatHexReversed(dst)),
		))
		pos += ccoAddrLen
	}

	afn, seq := w.frame[pos], w.frame[pos+1]
	var di []byte
	if pos+2+ccoDILen <= end {
		di = w.frame[pos+2 : pos+2+ccoDILen]
	}
	children = append(children,
		w.span("应用功能码 AFN", pos, pos+1, fmt.Sprintf("AFN:%02X-%s", afn, w.afnName(afn, di))),
		w.span("帧序列域 SEQ", pos+1, pos+2, fmt.Sprintf("帧序列SEQ:%d", seq)),
	)
	pos += 2

	if di == nil {
		w.sess.Report(errors.ErrBoundsViolation, "", w.base+pos, "剩余 %d 字节不足一个数据标识", end-pos)
		if pos < end {
			children = append(children, w.opaque("应用数据域", pos, end))
		}
	} else {
		children = append(children, w.app(pos, end))
	}

	w.add("用户数据域", ccoUserPos, end, "用户数据:"+codec.FormatHexReversed(w.frame[ccoUserPos:end]), children...)
	return next
}

// app 应用数据域：数据标识编码 + 数据标识内容
func (w *ccoWalk) app(pos, end int) decoder.Field {
	raw := w.frame[pos : pos+ccoDILen]
	id := codec.FormatHexReversed(raw)
	n := w.sess.Lookup(id)

	desc := "数据标识编码：[" + id + "]"
	if n != nil && n.Name() != "" {
		desc += "-" + n.Name()
	}
	var diParts []decoder.Field
	if w.protocol == ProtocolCSG16 {
		diParts = w.diParts(pos, raw)
	}
	fields := []decoder.Field{w.span("数据标识编码", pos, pos+ccoDILen, desc, diParts...)}

	at := pos + ccoDILen
	switch {
	case n == nil:
		w.sess.Report(errors.ErrSchemaLookupMiss, id, w.base+at, "未找到数据项配置，剩余数据不再解析")
		if at < end {
			fields = append(fields, w.opaque("数据标识内容", at, end))
		}
	case at < end:
		size := w.sess.Measure(n, w.frame[at:end], w.base+at)
		if size > 0 {
			decoded := w.sess.Decode(n, w.frame[at:at+size], w.base+at)
			fields = append(fields, w.span("数据标识内容", at, at+size,
				"数据内容："+codec.FormatHexReversed(w.frame[at:at+size]), decoded...))
		}
		if rest := at + size; rest < end {
			w.sess.Report(errors.ErrBoundsViolation, id, w.base+rest, "数据内容之后还有 %d 字节未解析", end-rest)
			fields = append(fields, w.opaque("剩余数据", rest, end))
		}
	}

	return w.span("应用数据域", pos, end, "应用数据:"+codec.FormatHexReversed(w.frame[pos:end]), fields...)
}

// diParts 本地通信报文数据标识的四个字节
func (w *ccoWalk) diParts(pos int, di []byte) []decoder.Field {
	dirText := "未知"
	if int(di[2]) < len(ccoDirectionTypes) {
		dirText = ccoDirectionTypes[di[2]]
	}
	peer := "采集器与本地模块通信"
	if di[3] == ccoConcentrator {
		peer = "集中器与本地模块通信"
	}
	return []decoder.Field{
		w.span("DI0", pos, pos+1, "功能码子类型"),
		w.span("DI1", pos+1, pos+2, "功能码类型定义,与AFN值保持一致："+ccoAFNName(di[3], di[1])),
		w.span("DI2", pos+2, pos+3, "报文上下行类型"+dirText),
		w.span("DI3", pos+3, pos+4, fmt.Sprintf("通信双方类型标识:%02X-%s", di[3], peer)),
	}
}

// afnName 功能码名称，本地通信报文按通信双方区分，模块报文的05按数据标识区分
func (w *ccoWalk) afnName(afn byte, di []byte) string {
	if w.protocol == ProtocolModule {
		if afn == 0x05 && len(di) == ccoDILen && binary.LittleEndian.Uint32(di) == moduleReportItem {
			return "上报信息"
		}
		if name, ok := moduleAFNs[afn]; ok {
			return name
		}
		return "未知"
	}
	var peer byte
	if len(di) == ccoDILen {
		peer = di[3]
	}
	return ccoAFNName(peer, afn)
}

func ccoAFNName(peer, afn byte) string {
	table := ccoCollectorAFNs
	if peer == ccoConcentrator {
		table = ccoConcentratorAFNs
	}
	if name, ok := table[afn]; ok {
		return name
	}
	return "未知"
}
