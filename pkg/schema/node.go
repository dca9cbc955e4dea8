package schema

import (
	"strconv"
	"strings"
)

// 结构化子节点标签
const (
	TagDataItem      = "dataItem"
	TagTemplate      = "template"
	TagName          = "name"
	TagLength        = "length"
	TagUnit          = "unit"
	TagValue         = "value"
	TagTime          = "time"
	TagType          = "type"
	TagDecimal       = "decimal"
	TagSign          = "sign"
	TagSingle        = "single"
	TagSplitBit      = "splitbit"
	TagBit           = "bit"
	TagSplitByLength = "splitByLength"
	TagItemBox       = "itembox"
	TagItem          = "item"
	TagIndeLength    = "indelength"
	TagLengthRule    = "lengthrule"
)

// 继承属性
const (
	AttrID       = "id"
	AttrProtocol = "protocol"
	AttrRegion   = "region"
	AttrDir      = "dir"
	AttrKey      = "key"
	AttrColor    = "color"
	AttrLen      = "len"
)

// Node 配置树中的一个元素，加载后只读
type Node struct {
	Tag      string
	ID       string
	Attrs    map[string]string
	Value    string
	HasValue bool
	Children []*Node

	// Protocol/Region/Dir 为继承后的有效值
	Protocol string
	Region   string
	Dir      string

	// Shape 在加载时计算，解析时直接使用
	Shape Shape
}

// Attr 读取节点自身属性
func (n *Node) Attr(name string) (string, bool) {
	v, ok := n.Attrs[name]
	return v, ok
}

// Child 返回第一个指定标签的直接子节点
func (n *Node) Child(tag string) *Node {
	for _, c := range n.Children {
		if c.Tag == tag {
			return c
		}
	}
	return nil
}

// ChildText 返回直接子节点的文本
func (n *Node) ChildText(tag string) (string, bool) {
	c := n.Child(tag)
	if c == nil || !c.HasValue {
		return "", false
	}
	return c.Value, true
}

// Items 返回指定标签的直接子节点，以及不匹配子节点下的同名孙节点
// 例如 itembox 下的 item 与直接写在节点下的 item 一并返回
func (n *Node) Items(tag string) []*Node {
	var items []*Node
	for _, c := range n.Children {
		if c.Tag == tag {
			items = append(items, c)
			continue
		}
		for _, gc := range c.Children {
			if gc.Tag == tag {
				items = append(items, gc)
			}
		}
	}
	return items
}

// Refs 引用项：直接写在节点下的 item 与 itembox 下的 item
// 与 Items 不同，不会匹配其他子节点（如 splitByLength）下的 item
func (n *Node) Refs() []*Node {
	var refs []*Node
	for _, c := range n.Children {
		switch c.Tag {
		case TagItem:
			refs = append(refs, c)
		case TagItemBox:
			for _, gc := range c.Children {
				if gc.Tag == TagItem {
					refs = append(refs, gc)
				}
			}
		}
	}
	return refs
}

// Name 节点的 name 子节点文本
func (n *Node) Name() string {
	name, _ := n.ChildText(TagName)
	return name
}

// Label 数据项显示名称：id_name，只有其一时取其一
func (n *Node) Label() string {
	return JoinLabel(n.ID, n.Name())
}

// JoinLabel 以下划线连接id与名称
func JoinLabel(id, name string) string {
	switch {
	case id == "":
		return name
	case name == "":
		return id
	default:
		return id + "_" + name
	}
}

// DirValue 有效方向，未配置时 ok 为false
func (n *Node) DirValue() (int, bool) {
	if n.Dir == "" {
		return 0, false
	}
	d, err := strconv.Atoi(strings.TrimSpace(n.Dir))
	if err != nil {
		return 0, false
	}
	return d, true
}

// LengthKind 长度声明类型
type LengthKind uint8

const (
	LengthAbsent LengthKind = iota
	LengthStatic
	LengthUnknown
	LengthInvalid
)

// Length 长度声明
type Length struct {
	Kind LengthKind
	N    int
}

// ParseLength 解析 length 文本，UNKNOWN 不区分大小写
func ParseLength(text string, present bool) Length {
	if !present {
		return Length{Kind: LengthAbsent}
	}
	text = strings.TrimSpace(text)
	if strings.EqualFold(text, "UNKNOWN") {
		return Length{Kind: LengthUnknown}
	}
	n, err := strconv.Atoi(text)
	if err != nil || n < 0 {
		return Length{Kind: LengthInvalid}
	}
	return Length{Kind: LengthStatic, N: n}
}

// Length 节点声明的长度
func (n *Node) Length() Length {
	text, ok := n.ChildText(TagLength)
	return ParseLength(text, ok)
}

// LengthRule 节点的长度规则
func (n *Node) LengthRule() string {
	rule, _ := n.ChildText(TagLengthRule)
	return strings.TrimSpace(rule)
}

// FindByAttr 返回第一个属性值相等的直接子节点
func (n *Node) FindByAttr(attr, value string) *Node {
	for _, c := range n.Children {
		if v, ok := c.Attrs[attr]; ok && v == value {
			return c
		}
	}
	return nil
}
