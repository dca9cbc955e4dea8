package decoder

import (
	"github.com/bujia-iot/meter-frame-analyzer/pkg/codec"
	"github.com/bujia-iot/meter-frame-analyzer/pkg/errors"
	"github.com/bujia-iot/meter-frame-analyzer/pkg/schema"
)

// decodeComposite 依次解析 dataItem 子项，子项必须声明固定长度
func (s *Session) decodeComposite(sh schema.Composite, data []byte, off int) ([]Field, int) {
	children := make([]Field, 0, len(sh.Members))
	pos := 0
	for _, m := range sh.Members {
		l := m.Length()
		if l.Kind != schema.LengthStatic {
			s.report(errors.ErrLengthResolutionFailure, m.Label(), off+pos, "组合数据项的子项需要固定长度，已跳过")
			continue
		}
		if l.N > len(data)-pos {
			s.report(errors.ErrBoundsViolation, m.Label(), off+pos, "长度 %d 超出剩余数据 %d", l.N, len(data)-pos)
			break
		}
		if l.N == 0 {
			continue
		}

		if f, ok := s.decodeNode(m, data[pos:pos+l.N], off+pos); ok {
			children = append(children, f)
		}
		pos += l.N
	}
	return children, pos
}

// decodeRecord 按长度拆分，每个子项输出一个字段
// 同一节点上的位定义先作为一个整体字段输出
func (s *Session) decodeRecord(n *schema.Node, sh schema.OrderedRecord, data []byte, off int) ([]Field, int) {
	var children []Field
	if len(sh.Bits) > 0 {
		bits := NewField(n.Label(), data, codec.FormatHexCompact(data), off)
		bits.Children = s.decodeBits(n, sh.Bits, data, off)
		children = append(children, bits)
	}

	pos := 0
	for i, size := range s.layout(n, sh.Parts, data, off) {
		if size == 0 {
			continue
		}
		seg := data[pos : pos+size]
		if f, ok := s.decodeNode(sh.Parts[i], seg, off+pos); ok {
			f.Data = codec.FormatHex(seg)
			f.Position = [2]int{off + pos, off + pos + size}
			children = append(children, f)
		}
		pos += size
	}
	return children, pos
}

// decodeRefs 解析引用的数据项；引用不存在时剩余数据作为一个未解析字段
func (s *Session) decodeRefs(sh schema.ReferenceList, data []byte, off int) ([]Field, int) {
	children := make([]Field, 0, len(sh.Refs))
	pos := 0
	for _, ref := range sh.Refs {
		remaining := data[pos:]
		if len(remaining) == 0 {
			break
		}

		node := s.Lookup(ref.ID)
		if node == nil {
			s.report(errors.ErrSchemaLookupMiss, ref.ID, off+pos, "引用的数据项不存在，剩余数据不再解析")
			label := schema.JoinLabel(ref.ID, ref.Name)
			children = append(children, NewField(label, remaining, bracket(label, codec.FormatHexCompact(remaining)), off+pos))
			pos = len(data)
			break
		}

		size := s.Resolve(node, remaining, off+pos, nil)
		if size == 0 {
			continue
		}
		if f, ok := s.decodeNode(node, remaining[:size], off+pos); ok {
			children = append(children, f)
		}
		pos += size
	}
	return children, pos
}
