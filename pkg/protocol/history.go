package protocol

import (
	"fmt"
	"strings"

	"github.com/bujia-iot/meter-frame-analyzer/pkg/codec"
	"github.com/bujia-iot/meter-frame-analyzer/pkg/decoder"
	"github.com/bujia-iot/meter-frame-analyzer/pkg/errors"
	"github.com/bujia-iot/meter-frame-analyzer/pkg/schema"
)

// 历史数据记录：按南网13规约上行数据单元存储，没有报文头尾
// 每组为 DA DI 数据内容 数据时间(YYMMDDhhmm)；同一数据项的连续记录省略 DA DI
const (
	hisUnitHead = 6
	hisTimeLen  = 5
	hisTimeFmt  = "YYMMDDhhmm"
)

// isHistory 报文开头的数据标识在南网13规约上行配置中存在
func (a *Analyzer) isHistory(frame []byte, region string) bool {
	if len(frame) < hisUnitHead {
		return false
	}
	sess := a.dec.NewSession(decoder.Params{Protocol: ProtocolCSG13, Region: region, Dir: schema.DirUp})
	return sess.Lookup(codec.FormatHexReversed(frame[2:hisUnitHead])) != nil
}

type hisWalk struct {
	walk
	pos, group int
	item       *schema.Node
	points, di string
}

// parseHistory 解析历史数据记录
func (a *Analyzer) parseHistory(frame []byte, base int, region string) ([]decoder.Field, decoder.Diagnostics, StepOutcome) {
	w := &hisWalk{walk: walk{frame: frame, base: base}}
	w.sess = a.dec.NewSession(decoder.Params{
		Protocol: ProtocolCSG13,
		Region:   region,
		Dir:      schema.DirUp,
	})
	out := repeat(w.record)()
	return w.fields, w.sess.Diagnostics(), out
}

// record 解析一组记录，当前数据项之后的数据无法作为新数据单元识别时沿用当前数据项
func (w *hisWalk) record() StepOutcome {
	if w.pos >= len(w.frame) {
		return done
	}
	w.group++
	if w.item == nil || w.startsUnit() {
		if len(w.frame)-w.pos < hisUnitHead {
			w.sess.Report(errors.ErrBoundsViolation, "", w.base+w.pos, "剩余 %d 字节不足一个数据单元", len(w.frame)-w.pos)
			w.add("剩余数据", w.pos, len(w.frame), codec.FormatHexCompact(w.frame[w.pos:]))
			return done
		}
		if out := w.unitHead(); out.Outcome != Continue {
			return out
		}
	}

	at := w.pos
	size := w.sess.Measure(w.item, w.frame[at:], w.base+at)
	if size > 0 {
		desc := strings.TrimPrefix(w.points, "Pn=") + "-" + w.di
		w.add(fmt.Sprintf("<第%d组>数据内容", w.group), at, at+size, desc,
			w.sess.Decode(w.item, w.frame[at:at+size], w.base+at)...)
		w.pos += size
	}

	if len(w.frame)-w.pos < hisTimeLen {
		w.sess.Report(errors.ErrBoundsViolation, w.item.Label(), w.base+w.pos, "数据时间不足%d字节", hisTimeLen)
		if w.pos < len(w.frame) {
			w.add("剩余数据", w.pos, len(w.frame), codec.FormatHexCompact(w.frame[w.pos:]))
		}
		return done
	}
	t := w.frame[w.pos : w.pos+hisTimeLen]
	w.add(fmt.Sprintf("<第%d组>数据时间", w.group), w.pos, w.pos+hisTimeLen,
		"数据时间："+codec.FormatTime(t, hisTimeFmt, false))
	w.pos += hisTimeLen
	return next
}

// startsUnit 当前位置是否为新的 DA DI
func (w *hisWalk) startsUnit() bool {
	if len(w.frame)-w.pos < hisUnitHead {
		return false
	}
	return w.sess.Lookup(codec.FormatHexReversed(w.frame[w.pos+2:w.pos+hisUnitHead])) != nil
}

// unitHead 信息点标识 DA 与数据标识编码 DI
func (w *hisWalk) unitHead() StepOutcome {
	da := w.frame[w.pos : w.pos+2]
	id := codec.FormatHexReversed(w.frame[w.pos+2 : w.pos+hisUnitHead])
	w.item = w.sess.Lookup(id)
	w.points = codec.DescribePoints(da)
	w.di = "[" + id + "]"
	if w.item != nil && w.item.Name() != "" {
		w.di += "-" + w.item.Name()
	}

	w.add(fmt.Sprintf("<第%d组>信息点标识DA", w.group), w.pos, w.pos+2, w.points)
	w.add(fmt.Sprintf("<第%d组>数据标识编码DI", w.group), w.pos+2, w.pos+hisUnitHead, "数据标识编码："+w.di)
	w.pos += hisUnitHead

	if w.item == nil {
		w.sess.Report(errors.ErrSchemaLookupMiss, id, w.base+w.pos, "未找到数据项配置，剩余数据不再解析")
		if w.pos < len(w.frame) {
			w.add("剩余数据", w.pos, len(w.frame), codec.FormatHexCompact(w.frame[w.pos:]))
		}
		return done
	}
	return next
}
