package decoder

import (
	"strings"
	"unicode"

	"github.com/bujia-iot/meter-frame-analyzer/pkg/codec"
	"github.com/bujia-iot/meter-frame-analyzer/pkg/errors"
	"github.com/bujia-iot/meter-frame-analyzer/pkg/schema"
)

// 基础数据类型
const (
	TypeBCD    = "BCD"
	TypeBIN    = "BIN"
	TypeBINFF  = "BIN_FF"
	TypeBINBE  = "BIN_BE"
	TypeASCII  = "ASCII"
	TypePort   = "PORT"
	TypeIP     = "IP"
	TypeNormal = "NORMAL"
)

// IsPrimitive 是否为基础数据类型
func IsPrimitive(typeName string) bool {
	switch strings.ToUpper(strings.TrimSpace(typeName)) {
	case TypeBCD, TypeBIN, TypeBINFF, TypeBINBE, TypeASCII, TypePort, TypeIP, TypeNormal:
		return true
	}
	return false
}

// primitive 按基础类型解码，类型不支持时 ok 为false
func primitive(typeName string, sc schema.Scalar, data []byte, strip bool) (string, bool) {
	switch strings.ToUpper(strings.TrimSpace(typeName)) {
	case TypeBCD:
		return codec.BCDToDecimal(data, sc.Decimal, strip, sc.Sign), true
	case TypeBIN:
		return codec.BinToDecimal(data, sc.Decimal, strip, sc.Sign, true), true
	case TypeBINFF:
		return codec.BinToDecimal(data, sc.Decimal, strip, sc.Sign, false), true
	case TypeBINBE:
		return codec.BinBEToDecimal(data, sc.Decimal, strip, sc.Sign), true
	case TypeASCII:
		return codec.ASCIIToString(codec.MaybeStrip(data, strip)), true
	case TypePort:
		return codec.Port(codec.MaybeStrip(data, strip)), true
	case TypeIP:
		return codec.IPv4(codec.MaybeStrip(data, strip)), true
	case TypeNormal:
		return codec.RenderHex(data, strip, true, false), true
	}
	return "", false
}

// scalar 标量解码，不支持的类型按BCD处理；有单位时追加单位
func (s *Session) scalar(sc schema.Scalar, data []byte) string {
	value, ok := primitive(sc.Type, sc, data, s.p.Strip)
	if !ok {
		value = codec.BCDToDecimal(data, sc.Decimal, s.p.Strip, sc.Sign)
	}
	if sc.HasUnit && sc.Unit != "" && value != codec.InvalidData {
		value += " " + sc.Unit
	}
	return value
}

// leadingToken 取第一个空白之前的内容作为查表键
func leadingToken(value string) string {
	if i := strings.IndexFunc(value, unicode.IsSpace); i > 0 {
		return value[:i]
	}
	return value
}

// matchValue 在取值表中查找，先精确匹配 key，再匹配 other
func matchValue(values []*schema.Node, key string) (label, color string, ok bool) {
	pick := func(v *schema.Node) (string, string, bool) {
		label := key
		if v.HasValue {
			label = v.Value
		}
		c, _ := v.Attr(schema.AttrColor)
		return label, c, true
	}

	for _, v := range values {
		if k, has := v.Attr(schema.AttrKey); has && k == key {
			return pick(v)
		}
	}
	for _, v := range values {
		if k, has := v.Attr(schema.AttrKey); has && k == "other" {
			return pick(v)
		}
	}
	return "", "", false
}

// describeEnum 枚举值描述：[名称]: 值-含义
func (s *Session) describeEnum(n *schema.Node, sc schema.Scalar, values []*schema.Node, data []byte) (string, string) {
	raw := s.scalar(sc, data)
	key := leadingToken(raw)

	name := n.Name()
	if name == "" {
		name = key
	}

	label, color, ok := matchValue(values, key)
	if color == "" {
		color, _ = n.Attr(schema.AttrColor)
	}
	if !ok {
		return bracket(name, raw), color
	}
	return bracket(name, raw+"-"+label), color
}

// timestamp 时间解码，最多取前6字节
func (s *Session) timestamp(ts schema.Timestamp, data []byte) string {
	window := data
	if len(window) > 6 {
		window = window[:6]
	}
	window = codec.MaybeStrip(window, s.p.Strip)
	if ts.Binary {
		window = codec.BinToBCD(window)
	}
	format := ts.Format
	if format == "" {
		format = codec.DefaultTimeFormat
	}
	return codec.FormatTime(window, format, false)
}

// decodeBits 按位拆分，每个位定义输出一个字段，占用整个数据段
func (s *Session) decodeBits(n *schema.Node, bits []schema.Bit, data []byte, off int) []Field {
	children := make([]Field, 0, len(bits))
	for _, b := range bits {
		if !b.Valid {
			s.report(errors.ErrSchemaParseFailed, n.Label(), off, "无效的位定义: %q", b.ID)
			continue
		}
		value, ok := codec.ExtractBits(data, b.Range, s.p.Strip)
		if !ok {
			s.report(errors.ErrBoundsViolation, n.Label(), off, "位 %s 超出数据长度 %d", b.ID, len(data))
			continue
		}

		start, end := b.Range.Span()
		label := "bit" + b.ID
		name := b.Name
		if name == "" {
			name = label
		}

		desc := bracket(name, value)
		meaning, color, matched := matchValue(b.Values, value)
		if matched {
			desc = bracket(name, value+"-"+meaning)
		}

		children = append(children, Field{
			FrameDomain: label,
			Data:        value,
			Description: desc,
			Position:    [2]int{off + start, off + end},
			Color:       color,
		})
	}
	return children
}
