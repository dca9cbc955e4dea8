package decoder

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/bujia-iot/meter-frame-analyzer/pkg/codec"
	"github.com/bujia-iot/meter-frame-analyzer/pkg/errors"
	"github.com/bujia-iot/meter-frame-analyzer/pkg/schema"
)

// 内置复合类型
const (
	TypePN         = "PN"
	TypeItem       = "ITEM"
	TypeIPWithPort = "IPWITHPORT"
	TypeFrame645   = "FRAME645"
	TypeFrameCSG13 = "FRAMECSG13"
)

func isBuiltin(typeName string) bool {
	switch strings.ToUpper(strings.TrimSpace(typeName)) {
	case TypePN, TypeItem, TypeIPWithPort, TypeFrame645, TypeFrameCSG13:
		return true
	}
	return false
}

// decodeTyped 类型委托：基础类型、内置类型或模板
// 返回描述值、子项与实际占用长度
func (s *Session) decodeTyped(n *schema.Node, sh schema.TypeDelegation, data []byte, off int) (string, []Field, int) {
	if v, ok := primitive(sh.TypeName, sh.Scalar, data, s.p.Strip); ok {
		return v, nil, len(data)
	}

	plain := codec.MaybeStrip(data, s.p.Strip)
	typeName := strings.ToUpper(sh.TypeName)
	switch typeName {
	case TypePN:
		return "", s.decodePN(data, plain, off), len(data)
	case TypeItem:
		return "", s.decodeItemIDs(data, plain, off), len(data)
	case TypeIPWithPort:
		return "", decodeIPWithPort(data, plain, off), len(data)
	case TypeFrame645, TypeFrameCSG13:
		w, ok := s.d.walkers[typeName]
		if !ok {
			s.report(errors.ErrNotImplemented, n.Label(), off, "未注册 %s 解析器", typeName)
			return "", nil, len(data)
		}
		return "", w.WalkFrame(plain, off, s.p.Region), len(data)
	}

	t := s.lookupTemplate(sh.TypeName)
	if t == nil {
		s.report(errors.ErrSchemaLookupMiss, sh.TypeName, off, "未找到模板，按BCD解析")
		return s.scalar(sh.Scalar, data), nil, len(data)
	}
	return s.decodeTemplate(t, sh.Single, data, off)
}

// decodePN 每2字节一个信息点标识
func (s *Session) decodePN(data, plain []byte, off int) []Field {
	const size = 2
	if len(data)%size != 0 {
		return []Field{NewField(TypePN, data, codec.FormatHexCompact(data), off)}
	}

	out := make([]Field, 0, len(data)/size)
	for i := 0; i*size < len(data); i++ {
		at := i * size
		out = append(out, NewField(
			fmt.Sprintf("第%d组信息点", i+1),
			data[at:at+size],
			codec.DescribePoints(plain[at:at+size]),
			off+at,
		))
	}
	return out
}

// decodeItemIDs 每4字节一个数据标识，能查到配置时附带名称
func (s *Session) decodeItemIDs(data, plain []byte, off int) []Field {
	const size = 4
	if len(data)%size != 0 {
		return []Field{NewField(TypeItem, data, codec.FormatHexCompact(data), off)}
	}

	out := make([]Field, 0, len(data)/size)
	for i := 0; i*size < len(data); i++ {
		at := i * size
		id := codec.FormatHexReversed(plain[at : at+size])
		desc := id
		if item := s.Lookup(id); item != nil && item.Name() != "" {
			desc = id + " " + item.Name()
		}
		out = append(out, NewField(fmt.Sprintf("第%d组数据标识", i+1), data[at:at+size], desc, off+at))
	}
	return out
}

// decodeIPWithPort 2字节端口 + 4字节IP
func decodeIPWithPort(data, plain []byte, off int) []Field {
	if len(data) < 6 {
		return []Field{NewField(TypeIPWithPort, data, codec.FormatHexCompact(data), off)}
	}
	return []Field{
		NewField("端口号", data[:2], codec.Port(plain[:2]), off),
		NewField("IP地址", data[2:6], codec.IPv4(plain[2:6]), off+2),
	}
}

// decodeTemplate 按模板单元长度重复解析
// 模板声明 single，或引用方声明 single 且只有一个实例时，直接展开实例结果
func (s *Session) decodeTemplate(t *schema.Node, single bool, data []byte, off int) (string, []Field, int) {
	all := codec.FormatHexCompact(data)
	name := t.Name()

	unit := s.templateUnit(t, data, off)
	if unit <= 0 || len(data)%unit != 0 {
		if unit <= 0 {
			s.report(errors.ErrLengthResolutionFailure, t.Label(), off, "模板长度无法确定")
		}
		return all, []Field{NewField(instanceName(name, 1), data, all, off)}, len(data)
	}

	count := len(data) / unit
	flatten := templateSingle(t) || (single && count == 1)

	out := make([]Field, 0, count)
	for i := 0; i < count; i++ {
		at := i * unit
		f, ok := s.decodeNode(t, data[at:at+unit], off+at)
		if !ok {
			continue
		}
		if !flatten {
			f.FrameDomain = instanceName(name, i+1)
			if t.ID != "" {
				f.Description = strings.ReplaceAll(f.Description, t.ID+"_", "")
			}
		}
		out = append(out, f)
	}
	return all, out, len(data)
}

func templateSingle(t *schema.Node) bool {
	v, _ := t.ChildText(schema.TagSingle)
	return strings.EqualFold(strings.TrimSpace(v), "yes")
}

// instanceName 实例名称：名称含 %d 时替换为序号，否则为 第n组名称
func instanceName(name string, i int) string {
	if name == "" {
		return fmt.Sprintf("第%d组数据内容", i)
	}
	if strings.Contains(name, "%d") {
		return strings.ReplaceAll(name, "%d", strconv.Itoa(i))
	}
	return fmt.Sprintf("第%d组%s", i, name)
}
