package decoder

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/bujia-iot/meter-frame-analyzer/pkg/errors"
	"github.com/bujia-iot/meter-frame-analyzer/pkg/schema"
)

var (
	rangeRule      = regexp.MustCompile(`^\s*RANGE\(([^)]+)\)\s*$`)
	arithmeticRule = regexp.MustCompile(`^\s*(\d+)\s*([+\-*/])\s*(.+?)\s*$`)
	firstNumber    = regexp.MustCompile(`\d+`)
)

// LengthEntry 已确定长度的兄弟项，End 为相对记录起点的结束位置
type LengthEntry struct {
	End  int
	Len  int
	Node *schema.Node
}

// LengthContext 按长度拆分记录时的兄弟项长度表
type LengthContext struct {
	record  []byte
	base    int
	entries map[string]LengthEntry
}

// NewLengthContext 创建长度上下文，record 为记录的全部数据，base 为其绝对位置
func NewLengthContext(record []byte, base int) *LengthContext {
	return &LengthContext{
		record:  record,
		base:    base,
		entries: make(map[string]LengthEntry),
	}
}

// Put 记录兄弟项
func (c *LengthContext) Put(name string, end, length int, n *schema.Node) {
	c.entries[name] = LengthEntry{End: end, Len: length, Node: n}
}

// Get 查询兄弟项
func (c *LengthContext) Get(name string) (LengthEntry, bool) {
	if c == nil {
		return LengthEntry{}, false
	}
	e, ok := c.entries[name]
	return e, ok
}

// Measure 计算节点占用长度
func (s *Session) Measure(n *schema.Node, data []byte, offset int) int {
	return s.Resolve(n, data, offset, nil)
}

// Resolve 计算节点在 data 上占用的长度，结果不超过 len(data)
// 1. 固定长度直接返回
// 2. UNKNOWN 按长度规则或子结构计算
// 3. 未声明长度时取引用项长度之和，没有引用项则取全部剩余数据
func (s *Session) Resolve(n *schema.Node, data []byte, offset int, ctx *LengthContext) int {
	var size int
	switch l := n.Length(); l.Kind {
	case schema.LengthStatic:
		size = l.N
	case schema.LengthUnknown:
		size = s.resolveUnknown(n, data, offset, ctx)
	default:
		size = s.implicitLength(n, data)
	}
	return s.clamp(n, size, len(data), offset)
}

func (s *Session) clamp(n *schema.Node, size, remaining, offset int) int {
	if size < 0 {
		return 0
	}
	if size > remaining {
		s.report(errors.ErrBoundsViolation, n.Label(), offset, "长度 %d 超出剩余数据 %d，已截断", size, remaining)
		return remaining
	}
	return size
}

func (s *Session) implicitLength(n *schema.Node, data []byte) int {
	if len(n.Refs()) > 0 {
		return s.refsLength(n)
	}
	return len(data)
}

// refsLength 引用项的固定长度之和
func (s *Session) refsLength(n *schema.Node) int {
	total := 0
	for _, it := range n.Refs() {
		if !it.HasValue {
			continue
		}
		ref := s.Lookup(strings.TrimSpace(it.Value))
		if ref == nil {
			continue
		}
		if l := ref.Length(); l.Kind == schema.LengthStatic {
			total += l.N
		}
	}
	return total
}

// resolveUnknown 计算 UNKNOWN 长度
func (s *Session) resolveUnknown(n *schema.Node, data []byte, offset int, ctx *LengthContext) int {
	if len(data) == 0 {
		return 0
	}

	rule := n.LengthRule()
	if rule == "" {
		return s.structuralLength(n, data, offset)
	}
	if m := rangeRule.FindStringSubmatch(rule); m != nil {
		return s.rangeLength(n, strings.TrimSpace(m[1]), offset, ctx)
	}
	if m := arithmeticRule.FindStringSubmatch(rule); m != nil {
		return s.arithmeticLength(n, m[1], m[2], m[3], offset, ctx)
	}

	s.report(errors.ErrLengthResolutionFailure, n.Label(), offset, "无法识别的长度规则: %s", rule)
	return 0
}

// structuralLength 无长度规则时按子结构计算：按长度拆分的子项之和，或委托模板
func (s *Session) structuralLength(n *schema.Node, data []byte, offset int) int {
	if parts := n.Items(schema.TagSplitByLength); len(parts) > 0 {
		total := 0
		for _, l := range s.layout(n, parts, data, offset) {
			total += l
		}
		return total
	}

	if td, ok := n.Shape.(schema.TypeDelegation); ok && !IsPrimitive(td.TypeName) && !isBuiltin(td.TypeName) {
		if t := s.lookupTemplate(td.TypeName); t != nil && t != n {
			return s.templateUnit(t, data, offset)
		}
	}

	if len(n.Refs()) > 0 {
		return s.refsLength(n)
	}

	s.report(errors.ErrLengthResolutionFailure, n.Label(), offset, "无法确定长度，使用剩余数据")
	return len(data)
}

// templateUnit 模板单个实例的长度
func (s *Session) templateUnit(t *schema.Node, data []byte, offset int) int {
	if s.depth >= maxDepth {
		s.report(errors.ErrLengthResolutionFailure, t.Label(), offset, "模板嵌套层级过深")
		return 0
	}
	s.depth++
	defer func() { s.depth-- }()

	if l := t.Length(); l.Kind == schema.LengthStatic {
		return s.clamp(t, l.N, len(data), offset)
	}
	return s.clamp(t, s.resolveUnknown(t, data, offset, nil), len(data), offset)
}

// layout 计算按长度拆分记录中各子项的长度，结果按 (节点, 绝对位置) 缓存在会话内
// 各子项长度之和不超过 len(record)，数据用尽后不再分配
func (s *Session) layout(n *schema.Node, parts []*schema.Node, record []byte, base int) []int {
	key := layoutKey{node: n, offset: base}
	if cached, ok := s.layouts[key]; ok {
		return cached
	}

	ctx := NewLengthContext(record, base)
	lengths := make([]int, 0, len(parts))
	pos := 0
	for i, p := range parts {
		remaining := record[pos:]
		if len(remaining) == 0 {
			break
		}

		var size int
		switch l := p.Length(); l.Kind {
		case schema.LengthStatic:
			size = l.N
		case schema.LengthUnknown:
			size = s.resolveUnknown(p, remaining, base+pos, ctx)
		default:
			size = s.implicitLength(p, remaining)
		}
		size = s.clamp(p, size, len(remaining), base+pos)

		pos += size
		lengths = append(lengths, size)
		ctx.Put(partName(p, i), pos, size, p)
	}

	s.layouts[key] = lengths
	return lengths
}

// partName 子项在长度上下文中的名称：name，其次引用的数据项id，否则按序号命名
func partName(p *schema.Node, i int) string {
	if name := p.Name(); name != "" {
		return name
	}
	if it := p.Child(schema.TagItem); it != nil && it.HasValue {
		return strings.TrimSpace(it.Value)
	}
	return "splitByLength" + strconv.Itoa(i)
}

// rangeLength RANGE(name)：以兄弟项最后一个字节为结束符，从其结束位置向后查找
// 返回当前项起点到结束符的长度，当前项与兄弟项之间可以隔着其他项
func (s *Session) rangeLength(n *schema.Node, name string, offset int, ctx *LengthContext) int {
	entry, ok := ctx.Get(name)
	if !ok || entry.End <= 0 || entry.End > len(ctx.record) {
		s.report(errors.ErrLengthResolutionFailure, n.Label(), offset, "RANGE 引用的兄弟项不存在: %s", name)
		return 0
	}

	cur := offset - ctx.base
	if cur < 0 || cur > len(ctx.record) {
		cur = entry.End
	}
	from := entry.End
	if cur > from {
		from = cur
	}

	terminator := ctx.record[entry.End-1]
	for i, b := range ctx.record[from:] {
		if b == terminator {
			return from + i - cur
		}
	}

	s.report(errors.ErrLengthResolutionFailure, n.Label(), offset, "未找到结束符 %02X，使用剩余数据", terminator)
	return len(ctx.record) - cur
}

// arithmeticLength <整数> <运算符> <操作数>
// 除数为0或结果为负时记录 LengthResolutionFailure 并返回0
func (s *Session) arithmeticLength(n *schema.Node, literal, op, operand string, offset int, ctx *LengthContext) int {
	left, err := strconv.Atoi(literal)
	if err != nil {
		s.report(errors.ErrLengthResolutionFailure, n.Label(), offset, "长度规则常数无效: %s", literal)
		return 0
	}

	right, ok := 0, false
	if v, err := strconv.Atoi(operand); err == nil {
		right, ok = v, true
	} else {
		right, ok = s.siblingValue(operand, ctx)
	}
	if !ok {
		s.report(errors.ErrLengthResolutionFailure, n.Label(), offset, "无法取得操作数: %s", operand)
		return 0
	}

	var result int
	switch op {
	case "+":
		result = left + right
	case "-":
		result = left - right
	case "*":
		result = left * right
	case "/":
		if right == 0 {
			s.report(errors.ErrLengthResolutionFailure, n.Label(), offset, "长度规则除数为0")
			return 0
		}
		result = left / right
	}

	if result < 0 {
		s.report(errors.ErrLengthResolutionFailure, n.Label(), offset, "长度规则结果为负: %d", result)
		return 0
	}
	return result
}

// siblingValue 重新解析兄弟项，取其描述中的第一个数值
func (s *Session) siblingValue(name string, ctx *LengthContext) (int, bool) {
	entry, ok := ctx.Get(name)
	if !ok || entry.Node == nil {
		return 0, false
	}
	start := entry.End - entry.Len
	if start < 0 || entry.End > len(ctx.record) {
		return 0, false
	}

	f, ok := s.decodeNode(entry.Node, ctx.record[start:entry.End], ctx.base+start)
	if !ok {
		return 0, false
	}

	candidates := Find([]Field{f}, name)
	if len(candidates) == 0 {
		candidates = Find([]Field{f}, entry.Node.Label())
	}
	if len(candidates) == 0 {
		return 0, false
	}

	desc := candidates[len(candidates)-1].Description
	if strings.HasPrefix(desc, "[") {
		if i := strings.Index(desc, "]: "); i >= 0 {
			desc = desc[i+3:]
		}
	}
	digits := firstNumber.FindString(desc)
	if digits == "" {
		return 0, false
	}
	v, err := strconv.Atoi(digits)
	if err != nil {
		return 0, false
	}
	return v, true
}
