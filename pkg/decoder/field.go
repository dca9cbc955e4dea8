package decoder

import (
	"github.com/bujia-iot/meter-frame-analyzer/pkg/codec"
)

// Field 解析结果树中的一个节点
// Position 为整帧中的绝对区间 [start, end)
type Field struct {
	FrameDomain string  `json:"frameDomain" yaml:"frameDomain"`
	Data        string  `json:"data" yaml:"data"`
	Description string  `json:"description" yaml:"description"`
	Position    [2]int  `json:"position" yaml:"position,flow"`
	Color       string  `json:"color,omitempty" yaml:"color,omitempty"`
	Children    []Field `json:"children,omitempty" yaml:"children,omitempty"`
}

// NewField 以线路字节创建解析结果，Data 为带空格的原始十六进制
func NewField(label string, wire []byte, description string, start int) Field {
	return Field{
		FrameDomain: label,
		Data:        codec.FormatHex(wire),
		Description: description,
		Position:    [2]int{start, start + len(wire)},
	}
}

// Len 字段占用的字节数
func (f Field) Len() int {
	return f.Position[1] - f.Position[0]
}

// WithChildren 设置子项
func (f Field) WithChildren(children []Field) Field {
	f.Children = children
	return f
}

// Find 在结果及其直接子项中查找指定标签的字段
func Find(fields []Field, label string) []Field {
	var found []Field
	for _, f := range fields {
		if f.FrameDomain == label {
			found = append(found, f)
		}
		for _, c := range f.Children {
			if c.FrameDomain == label {
				found = append(found, c)
			}
		}
	}
	return found
}

// Walk 深度优先遍历结果树，fn 返回false时停止
func Walk(fields []Field, fn func(f Field, depth int) bool) {
	var visit func(list []Field, depth int) bool
	visit = func(list []Field, depth int) bool {
		for _, f := range list {
			if !fn(f, depth) {
				return false
			}
			if !visit(f.Children, depth+1) {
				return false
			}
		}
		return true
	}
	visit(fields, 0)
}
