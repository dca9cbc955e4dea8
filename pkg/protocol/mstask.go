package protocol

import (
	"encoding/binary"
	"fmt"

	"github.com/bujia-iot/meter-frame-analyzer/pkg/codec"
	"github.com/bujia-iot/meter-frame-analyzer/pkg/decoder"
	"github.com/bujia-iot/meter-frame-analyzer/pkg/errors"
	"github.com/bujia-iot/meter-frame-analyzer/pkg/schema"
)

// 表计采集任务内容（DLT/698 数据类型编码）：
// 01 个数，每组：2字节 51 主数据项OAD 51 分数据项OAD 51 分数据项OAD 6字节 5C MS类型 MS内容
const (
	msArrayTag = 0x01
	msOADTag   = 0x51
	msTypeTag  = 0x5C
	msOADLen   = 4
)

// msGroupHead 每组从起点到MS类型（含）的字节数
const msGroupHead = 25

const msMinLen = 2 + msGroupHead

// 每组内各部分相对组起点的位置
const (
	msMasterPos = 3
	msSubPos    = 8
	msSub2Pos   = 13
	msTypePos   = 24
)

var msMasterOADs = map[uint32]string{
	0x00000000: "当前数据",
	0x50020200: "分钟冻结",
	0x50040200: "日冻结",
	0x50060200: "月冻结",
}

// IsMeterTask 判断是否为表计采集任务内容
func IsMeterTask(frame []byte) bool {
	if len(frame) < msMinLen {
		return false
	}
	return frame[0] == msArrayTag &&
		frame[2+msMasterPos-1] == msOADTag &&
		frame[2+msSubPos-1] == msOADTag &&
		frame[2+msSub2Pos-1] == msOADTag &&
		frame[2+msTypePos-1] == msTypeTag
}

type msWalk struct {
	walk
	pos, group int
}

// parseMeterTask 解析表计采集任务内容，MS类型的数据结构来自 MS 协议配置
func (a *Analyzer) parseMeterTask(frame []byte, base int, region string) ([]decoder.Field, decoder.Diagnostics, StepOutcome) {
	w := &msWalk{walk: walk{frame: frame, base: base}}
	if !IsMeterTask(frame) {
		return []decoder.Field{w.opaque("报文", 0, len(frame))}, nil,
			fail(errors.ErrFrameInvalid, "不是有效的采集任务内容")
	}
	w.sess = a.dec.NewSession(decoder.Params{
		Protocol: ProtocolMS,
		Region:   region,
		Dir:      schema.DirAny,
	})

	count := int(frame[1])
	w.add("数据项个数", 1, 2, fmt.Sprintf("采集数据项个数：%d", count))
	w.pos = 2

	out := repeat(func() StepOutcome {
		if w.group >= count {
			return done
		}
		return w.collect()
	})()
	if out.Outcome == Continue && w.pos < len(frame) {
		w.sess.Report(errors.ErrBoundsViolation, "", w.base+w.pos, "采集任务之后还有 %d 字节未解析", len(frame)-w.pos)
		w.fields = append(w.fields, w.opaque("剩余数据", w.pos, len(frame)))
	}
	return w.fields, w.sess.Diagnostics(), out
}

// collect 解析一组数据采集
func (w *msWalk) collect() StepOutcome {
	start := w.pos
	w.group++
	if start+msGroupHead > len(w.frame) {
		w.sess.Report(errors.ErrBoundsViolation, "", w.base+start, "第%d组数据采集不完整", w.group)
		if start < len(w.frame) {
			w.fields = append(w.fields, w.opaque("剩余数据", start, len(w.frame)))
		}
		w.pos = len(w.frame)
		return done
	}

	master := binary.BigEndian.Uint32(w.frame[start+msMasterPos:])
	masterDesc := fmt.Sprintf("主数据项:%08X", master)
	if name, ok := msMasterOADs[master]; ok {
		masterDesc += "-" + name
	}
	sub := binary.BigEndian.Uint32(w.frame[start+msSubPos:])
	sub2 := binary.BigEndian.Uint32(w.frame[start+msSub2Pos:])

	children := []decoder.Field{
		w.span("主数据项", start+msMasterPos, start+msMasterPos+msOADLen, masterDesc),
		w.span("分数据项", start+msSubPos, start+msSubPos+msOADLen, fmt.Sprintf("分数据项:%08X", sub)),
		w.span("分数据项", start+msSub2Pos, start+msSub2Pos+msOADLen, fmt.Sprintf("分数据项:%08X", sub2)),
	}

	at := start + msTypePos
	msType := w.frame[at]
	content := at + 1
	id := fmt.Sprintf("%02X", msType)
	n := w.sess.Lookup(id)
	out := next

	if n == nil {
		w.sess.Report(errors.ErrSchemaLookupMiss, id, w.base+at, "未知的MS类型，剩余数据不再解析")
		children = append(children, w.span("MS", at, at+1, "未知类型"))
		if content < len(w.frame) {
			children = append(children, w.opaque("MS内容", content, len(w.frame)))
		}
		w.pos = len(w.frame)
		out = done
	} else {
		children = append(children, w.span("MS", at, at+1, n.Name()))
		size := 0
		if content < len(w.frame) {
			size = w.sess.Measure(n, w.frame[content:], w.base+content)
		}
		if size > 0 {
			decoded := w.sess.Decode(n, w.frame[content:content+size], w.base+content)
			children = append(children, w.span("MS内容", content, content+size,
				"MS内容:"+codec.FormatHexCompact(w.frame[content:content+size]), decoded...))
		}
		w.pos = content + size
	}

	w.add(fmt.Sprintf("<第%d组>数据采集", w.group), start, w.pos,
		fmt.Sprintf("<第%d组>数据采集:%08X", w.group, master), children...)
	return out
}
