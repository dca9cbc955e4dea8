package schema

import (
	"strconv"
	"strings"

	"github.com/bujia-iot/meter-frame-analyzer/pkg/codec"
)

// ShapeKind 节点的解析形态
type ShapeKind uint8

const (
	KindPlain ShapeKind = iota
	KindComposite
	KindEnumerated
	KindScalarWithUnit
	KindTimestamp
	KindBitfieldGroup
	KindOrderedRecord
	KindReferenceList
	KindIndexedVariant
	KindTypeDelegation
)

var kindNames = [...]string{
	KindPlain:          "Plain",
	KindComposite:      "Composite",
	KindEnumerated:     "EnumeratedValue",
	KindScalarWithUnit: "ScalarWithUnit",
	KindTimestamp:      "Timestamp",
	KindBitfieldGroup:  "BitfieldGroup",
	KindOrderedRecord:  "OrderedRecord",
	KindReferenceList:  "ReferenceList",
	KindIndexedVariant: "IndexedVariant",
	KindTypeDelegation: "TypeDelegation",
}

func (k ShapeKind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "ShapeKind(" + strconv.Itoa(int(k)) + ")"
}

// Shape 解析形态，具体类型见下方各结构体
type Shape interface {
	Kind() ShapeKind
}

// Scalar 标量解码参数
type Scalar struct {
	Type    string
	Decimal int
	Sign    bool
	Unit    string
	HasUnit bool
}

// Plain 无结构子节点，按标量解码
type Plain struct {
	Scalar Scalar
}

// Composite 由多个 dataItem 顺序组成
type Composite struct {
	Members []*Node
}

// Enumerated 带取值表的数据项
type Enumerated struct {
	Scalar Scalar
	Values []*Node
}

// ScalarWithUnit 带单位的数值
type ScalarWithUnit struct {
	Scalar Scalar
}

// Timestamp 时间数据
type Timestamp struct {
	Format string
	Binary bool
}

// Bit 位段定义
type Bit struct {
	ID     string
	Range  codec.BitRange
	Valid  bool
	Name   string
	Values []*Node
}

// BitfieldGroup 按位拆分
type BitfieldGroup struct {
	Bits []Bit
}

// OrderedRecord 按长度顺序拆分的子项
// Bits 为同一节点上另外声明的位定义，解析时先输出
type OrderedRecord struct {
	Parts []*Node
	Bits  []Bit
}

// Ref 引用的数据项
type Ref struct {
	ID   string
	Name string
}

// ReferenceList 引用其他数据项id的列表
type ReferenceList struct {
	Refs []Ref
}

// IndexedVariant 按数据段长度选择子定义
type IndexedVariant struct {
	Variants map[int]*Node
}

// TypeDelegation 委托给基础类型、内置类型或模板
type TypeDelegation struct {
	TypeName string
	Single   bool
	Scalar   Scalar
}

func (Plain) Kind() ShapeKind          { return KindPlain }
func (Composite) Kind() ShapeKind      { return KindComposite }
func (Enumerated) Kind() ShapeKind     { return KindEnumerated }
func (ScalarWithUnit) Kind() ShapeKind { return KindScalarWithUnit }
func (Timestamp) Kind() ShapeKind      { return KindTimestamp }
func (BitfieldGroup) Kind() ShapeKind  { return KindBitfieldGroup }
func (OrderedRecord) Kind() ShapeKind  { return KindOrderedRecord }
func (ReferenceList) Kind() ShapeKind  { return KindReferenceList }
func (IndexedVariant) Kind() ShapeKind { return KindIndexedVariant }
func (TypeDelegation) Kind() ShapeKind { return KindTypeDelegation }

// classify 按结构子节点计算解析形态，判断顺序决定优先级
func classify(n *Node) Shape {
	has := func(tag string) bool { return n.Child(tag) != nil }

	switch {
	case len(n.Items(TagDataItem)) > 0:
		return Composite{Members: n.Items(TagDataItem)}
	case has(TagUnit) && has(TagValue):
		return Enumerated{Scalar: scalarOf(n), Values: n.Items(TagValue)}
	case has(TagUnit):
		return ScalarWithUnit{Scalar: scalarOf(n)}
	case has(TagValue):
		return Enumerated{Scalar: scalarOf(n), Values: n.Items(TagValue)}
	case has(TagTime):
		format, _ := n.ChildText(TagTime)
		typ, _ := n.ChildText(TagType)
		return Timestamp{Format: format, Binary: strings.EqualFold(typ, "BIN")}
	case has(TagSplitBit):
		return BitfieldGroup{Bits: bitsOf(bitNodes(n))}
	case has(TagSplitByLength):
		rec := OrderedRecord{Parts: n.Items(TagSplitByLength)}
		if has(TagBit) {
			rec.Bits = bitsOf(directChildren(n, TagBit))
		}
		return rec
	case has(TagItemBox) || has(TagItem):
		return ReferenceList{Refs: refsOf(n)}
	case has(TagIndeLength):
		return IndexedVariant{Variants: variantsOf(n)}
	case has(TagType):
		typ, _ := n.ChildText(TagType)
		single, _ := n.ChildText(TagSingle)
		return TypeDelegation{
			TypeName: strings.TrimSpace(typ),
			Single:   strings.EqualFold(single, "yes"),
			Scalar:   scalarOf(n),
		}
	default:
		return Plain{Scalar: scalarOf(n)}
	}
}

func scalarOf(n *Node) Scalar {
	s := Scalar{Type: "BCD"}
	if typ, ok := n.ChildText(TagType); ok && typ != "" {
		s.Type = strings.ToUpper(strings.TrimSpace(typ))
	}
	if dec, ok := n.ChildText(TagDecimal); ok {
		if v, err := strconv.Atoi(strings.TrimSpace(dec)); err == nil && v > 0 {
			s.Decimal = v
		}
	}
	if sign, ok := n.ChildText(TagSign); ok {
		s.Sign = strings.TrimSpace(sign) == "yes"
	}
	if unit := n.Child(TagUnit); unit != nil {
		s.HasUnit = true
		s.Unit = unit.Value
	}
	return s
}

func bitNodes(n *Node) []*Node {
	nodes := n.Items(TagBit)
	if sb := n.Child(TagSplitBit); sb != nil && len(nodes) == 0 {
		nodes = sb.Items(TagBit)
	}
	return nodes
}

func directChildren(n *Node, tag string) []*Node {
	var out []*Node
	for _, c := range n.Children {
		if c.Tag == tag {
			out = append(out, c)
		}
	}
	return out
}

func bitsOf(nodes []*Node) []Bit {
	bits := make([]Bit, 0, len(nodes))
	for _, bn := range nodes {
		id, _ := bn.Attr(AttrID)
		r, err := codec.ParseBitRange(id)
		bits = append(bits, Bit{
			ID:     id,
			Range:  r,
			Valid:  err == nil,
			Name:   bn.Name(),
			Values: bn.Items(TagValue),
		})
	}
	return bits
}

func refsOf(n *Node) []Ref {
	items := n.Refs()
	refs := make([]Ref, 0, len(items))
	for _, it := range items {
		if !it.HasValue {
			continue
		}
		refs = append(refs, Ref{ID: strings.TrimSpace(it.Value), Name: it.Name()})
	}
	return refs
}

func variantsOf(n *Node) map[int]*Node {
	variants := make(map[int]*Node)
	for _, c := range n.Children {
		raw, ok := c.Attr(AttrLen)
		if !ok {
			continue
		}
		l, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			continue
		}
		if _, dup := variants[l]; !dup {
			variants[l] = c
		}
	}
	return variants
}
