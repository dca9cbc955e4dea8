package decoder

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/bujia-iot/meter-frame-analyzer/internal/infrastructure/logger"
	"github.com/bujia-iot/meter-frame-analyzer/pkg/codec"
	"github.com/bujia-iot/meter-frame-analyzer/pkg/errors"
	"github.com/bujia-iot/meter-frame-analyzer/pkg/schema"
)

// maxDepth 模板互相引用时的递归上限
const maxDepth = 48

// Schemas 配置查询接口，由 schema.Registry 实现
type Schemas interface {
	Lookup(id, protocol, region string, dir schema.Direction) *schema.Node
	LookupTemplate(name, protocol, region string, dir schema.Direction) *schema.Node
}

// FrameWalker 嵌入帧解析器，用于 FRAME645 / FRAMECSG13 类型
type FrameWalker interface {
	WalkFrame(frame []byte, offset int, region string) []Field
}

// FrameWalkerFunc 函数形式的 FrameWalker
type FrameWalkerFunc func(frame []byte, offset int, region string) []Field

// WalkFrame 实现 FrameWalker
func (fn FrameWalkerFunc) WalkFrame(frame []byte, offset int, region string) []Field {
	return fn(frame, offset, region)
}

// Decoder 按协议配置解析数据
// 构建完成后只读，可被多个goroutine共享；每次解析使用独立的 Session
type Decoder struct {
	schemas Schemas
	walkers map[string]FrameWalker
}

// Option 解析器选项
type Option func(*Decoder)

// WithFrameWalker 注册嵌入帧解析器
func WithFrameWalker(typeName string, w FrameWalker) Option {
	return func(d *Decoder) {
		d.walkers[strings.ToUpper(typeName)] = w
	}
}

// New 创建解析器
func New(schemas Schemas, opts ...Option) *Decoder {
	d := &Decoder{
		schemas: schemas,
		walkers: make(map[string]FrameWalker),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// RegisterFrameWalker 在初始化阶段注册嵌入帧解析器，不可与解析并发调用
func (d *Decoder) RegisterFrameWalker(typeName string, w FrameWalker) {
	d.walkers[strings.ToUpper(typeName)] = w
}

// Schemas 解析器使用的配置
func (d *Decoder) Schemas() Schemas {
	return d.schemas
}

// Params 单次解析的协议上下文
type Params struct {
	Protocol string
	Region   string
	Dir      schema.Direction
	// Strip 解析数值前先减去0x33，显示的原始报文不受影响
	Strip bool
}

// Session 单次解析的状态：长度缓存与诊断信息
// 长度只记录在会话内，不回写配置节点
type Session struct {
	d       *Decoder
	p       Params
	layouts map[layoutKey][]int
	diags   Diagnostics
	depth   int
}

type layoutKey struct {
	node   *schema.Node
	offset int
}

// NewSession 创建解析会话
func (d *Decoder) NewSession(p Params) *Session {
	if p.Region == "" {
		p.Region = schema.DefaultRegion
	}
	return &Session{
		d:       d,
		p:       p,
		layouts: make(map[layoutKey][]int),
	}
}

// Decode 解析一个数据项，返回结果与诊断信息
func (d *Decoder) Decode(n *schema.Node, data []byte, offset int, p Params) ([]Field, Diagnostics) {
	s := d.NewSession(p)
	fields := s.Decode(n, data, offset)
	return fields, s.Diagnostics()
}

// Params 会话参数
func (s *Session) Params() Params {
	return s.p
}

// Diagnostics 会话累计的诊断信息
func (s *Session) Diagnostics() Diagnostics {
	return s.diags
}

// Lookup 在会话的协议上下文中查找数据项
func (s *Session) Lookup(id string) *schema.Node {
	if s.d.schemas == nil {
		return nil
	}
	return s.d.schemas.Lookup(id, s.p.Protocol, s.p.Region, s.p.Dir)
}

func (s *Session) lookupTemplate(name string) *schema.Node {
	if s.d.schemas == nil {
		return nil
	}
	return s.d.schemas.LookupTemplate(name, s.p.Protocol, s.p.Region, s.p.Dir)
}

// Decode 解析一个数据项：先按节点长度截取，再按解析形态展开
// offset 为 data 在整帧中的绝对位置
func (s *Session) Decode(n *schema.Node, data []byte, offset int) []Field {
	if n == nil || len(data) == 0 {
		return nil
	}
	size := s.Measure(n, data, offset)
	if size <= 0 {
		return nil
	}
	f, ok := s.decodeNode(n, data[:size], offset)
	if !ok {
		return nil
	}
	return []Field{f}
}

// DecodeItem 按id查找数据项并解析，返回结果与占用长度
// 未找到配置时 found 为false，由调用方决定如何处理剩余数据
func (s *Session) DecodeItem(id string, data []byte, offset int) (fields []Field, used int, found bool) {
	n := s.Lookup(id)
	if n == nil {
		s.report(errors.ErrSchemaLookupMiss, id, offset, "未找到数据项配置")
		return nil, 0, false
	}
	if len(data) == 0 {
		return nil, 0, true
	}
	size := s.Measure(n, data, offset)
	if size <= 0 {
		return nil, 0, true
	}
	fields = s.Decode(n, data[:size], offset)
	return fields, size, true
}

// decodeNode 按节点解析形态分派，data 已按节点长度截取
func (s *Session) decodeNode(n *schema.Node, data []byte, off int) (Field, bool) {
	if len(data) == 0 {
		return Field{}, false
	}

	label := n.Label()
	f := NewField(label, data, s.defaultDescription(n, data), off)

	if s.depth >= maxDepth {
		s.report(errors.ErrLengthResolutionFailure, label, off, "嵌套层级过深，停止展开")
		return f, true
	}
	s.depth++
	defer func() { s.depth-- }()

	switch sh := n.Shape.(type) {
	case schema.Composite:
		children, used := s.decodeComposite(sh, data, off)
		f = f.WithChildren(children).resize(n, data, used)

	case schema.Enumerated:
		f.Description, f.Color = s.describeEnum(n, sh.Scalar, sh.Values, data)

	case schema.ScalarWithUnit:
		f.Description = bracket(label, s.scalar(sh.Scalar, data))

	case schema.Timestamp:
		f.Description = bracket(label, s.timestamp(sh, data))

	case schema.BitfieldGroup:
		f.Children = s.decodeBits(n, sh.Bits, data, off)

	case schema.OrderedRecord:
		children, used := s.decodeRecord(n, sh, data, off)
		f = f.WithChildren(children).resize(n, data, used)

	case schema.ReferenceList:
		children, used := s.decodeRefs(sh, data, off)
		f = f.WithChildren(children).resize(n, data, used)

	case schema.IndexedVariant:
		if v, ok := sh.Variants[len(data)]; ok {
			if vf, ok := s.decodeNode(v, data, off); ok {
				f.Children = []Field{vf}
			}
		}

	case schema.TypeDelegation:
		value, children, used := s.decodeTyped(n, sh, data, off)
		if value == "" {
			value = codec.FormatHexCompact(data)
		}
		f.Description = bracket(label, value)
		f = f.WithChildren(children).resize(n, data, used)

	case schema.Plain:
		f.Description = bracket(label, s.scalar(sh.Scalar, data))
	}
	return f, true
}

// resize 按实际占用长度修正区间与原始报文，声明了固定长度的节点保持原长度
func (f Field) resize(n *schema.Node, data []byte, used int) Field {
	if used <= 0 || used >= len(data) || n.Length().Kind == schema.LengthStatic {
		return f
	}
	f.Data = codec.FormatHex(data[:used])
	f.Position[1] = f.Position[0] + used
	return f
}

func (s *Session) defaultDescription(n *schema.Node, data []byte) string {
	value := codec.RenderHex(data, s.p.Strip, true, false)
	if name := n.Name(); name != "" {
		return bracket(name, value)
	}
	return value
}

// Report 记录一条诊断信息，帧解析器在解析报文头尾时使用
func (s *Session) Report(code errors.ErrorCode, item string, offset int, format string, args ...interface{}) {
	s.report(code, item, offset, format, args...)
}

func (s *Session) report(code errors.ErrorCode, item string, offset int, format string, args ...interface{}) {
	d := Diagnostic{
		Code:    code,
		Item:    item,
		Offset:  offset,
		Message: fmt.Sprintf(format, args...),
	}
	s.diags = append(s.diags, d)

	logger.WithFields(logrus.Fields{
		"code":     code.String(),
		"item":     item,
		"offset":   offset,
		"protocol": s.p.Protocol,
	}).Debug(d.Message)
}

func bracket(name, value string) string {
	return "[" + name + "]: " + value
}
