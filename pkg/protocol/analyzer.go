package protocol

import (
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/bujia-iot/meter-frame-analyzer/internal/infrastructure/logger"
	"github.com/bujia-iot/meter-frame-analyzer/pkg/codec"
	"github.com/bujia-iot/meter-frame-analyzer/pkg/decoder"
	"github.com/bujia-iot/meter-frame-analyzer/pkg/errors"
	"github.com/bujia-iot/meter-frame-analyzer/pkg/schema"
)

// 协议名称
const (
	ProtocolCSG13   = "CSG13"
	ProtocolCSG16   = "CSG16"
	ProtocolDLT645  = "DLT/645-2007"
	ProtocolModule  = "moudle"
	ProtocolMS      = "MS"
	ProtocolHis     = "His"
	ProtocolUnknown = "Unknown"
)

// Protocols 支持的协议列表
func Protocols() []string {
	return []string{ProtocolCSG13, ProtocolCSG16, ProtocolDLT645, ProtocolModule, ProtocolMS, ProtocolHis}
}

// Result 一帧报文的解析结果
type Result struct {
	Protocol    string              `json:"protocol" yaml:"protocol"`
	Region      string              `json:"region" yaml:"region"`
	Data        []decoder.Field     `json:"data" yaml:"data"`
	Diagnostics decoder.Diagnostics `json:"diagnostics,omitempty" yaml:"diagnostics,omitempty"`
	Error       string              `json:"error,omitempty" yaml:"error,omitempty"`
}

// OK 报文结构完整且校验通过
func (r Result) OK() bool {
	return r.Error == ""
}

// Analyzer 报文解析入口：识别协议并调用对应的帧解析器
type Analyzer struct {
	schemas decoder.Schemas
	dec     *decoder.Decoder
}

// NewAnalyzer 创建解析器，并把两种帧解析器注册为内置的嵌入帧类型
func NewAnalyzer(schemas decoder.Schemas) *Analyzer {
	a := &Analyzer{schemas: schemas}
	a.dec = decoder.New(schemas,
		decoder.WithFrameWalker(decoder.TypeFrame645, decoder.FrameWalkerFunc(a.walkDLT645)),
		decoder.WithFrameWalker(decoder.TypeFrameCSG13, decoder.FrameWalkerFunc(a.walkCSG13)),
	)
	return a
}

// Decoder 解析器使用的数据项解码器
func (a *Analyzer) Decoder() *decoder.Decoder {
	return a.dec
}

// Detect 按报文结构识别协议，依次尝试南网13、645、南网16本地通信、模块与采集任务
// 历史数据记录没有固定结构，需要协议配置才能识别，见 Analyzer.Detect
func Detect(frame []byte) string {
	switch {
	case IsCSG13(frame):
		return ProtocolCSG13
	case IsDLT645(frame):
		return ProtocolDLT645
	case IsCSG16(frame):
		return ProtocolCSG16
	case IsModule(frame):
		return ProtocolModule
	case IsMeterTask(frame):
		return ProtocolMS
	}
	return ProtocolUnknown
}

// Detect 识别报文协议，结构无法识别时按数据标识判断是否为历史数据记录
func (a *Analyzer) Detect(frame []byte, region string) string {
	if p := Detect(frame); p != ProtocolUnknown {
		return p
	}
	if region == "" {
		region = schema.DefaultRegion
	}
	if a.isHistory(frame, region) {
		return ProtocolHis
	}
	return ProtocolUnknown
}

// Analyze 解析一帧完整报文，region 为空时使用默认地区
func (a *Analyzer) Analyze(frame []byte, region string) Result {
	if region == "" {
		region = schema.DefaultRegion
	}
	res := Result{Protocol: a.Detect(frame, region), Region: region}

	var out StepOutcome
	switch res.Protocol {
	case ProtocolCSG13:
		res.Data, res.Diagnostics, out = a.parseCSG13(frame, 0, region)
	case ProtocolDLT645:
		res.Data, res.Diagnostics, out = a.parseDLT645(frame, 0, region)
	case ProtocolCSG16:
		res.Data, res.Diagnostics, out = a.parseCSG16(frame, 0, region)
	case ProtocolModule:
		res.Data, res.Diagnostics, out = a.parseModule(frame, 0, region)
	case ProtocolMS:
		res.Data, res.Diagnostics, out = a.parseMeterTask(frame, 0, region)
	case ProtocolHis:
		res.Data, res.Diagnostics, out = a.parseHistory(frame, 0, region)
	default:
		out = fail(errors.ErrFrameInvalid, "无法识别的报文")
	}
	if out.Outcome == StopError && out.Reason != nil {
		res.Error = out.Reason.Error()
	}

	logger.WithFields(logrus.Fields{
		"protocol":    res.Protocol,
		"region":      region,
		"length":      len(frame),
		"fields":      len(res.Data),
		"diagnostics": len(res.Diagnostics),
		"outcome":     out.Outcome.String(),
	}).Debug("报文解析完成")
	return res
}

// walkDLT645 嵌入在数据项中的645报文，frame 已去除0x33偏移
func (a *Analyzer) walkDLT645(frame []byte, offset int, region string) []decoder.Field {
	fields, diags, out := a.parseDLT645(frame, offset, region)
	logEmbedded(ProtocolDLT645, offset, diags, out)
	return fields
}

// walkCSG13 嵌入在数据项中的南网报文
func (a *Analyzer) walkCSG13(frame []byte, offset int, region string) []decoder.Field {
	fields, diags, out := a.parseCSG13(frame, offset, region)
	logEmbedded(ProtocolCSG13, offset, diags, out)
	return fields
}

func logEmbedded(protocol string, offset int, diags decoder.Diagnostics, out StepOutcome) {
	if len(diags) == 0 && out.Outcome != StopError {
		return
	}
	entry := logger.WithFields(logrus.Fields{
		"protocol":    protocol,
		"offset":      offset,
		"diagnostics": len(diags),
	})
	if out.Reason != nil {
		entry = entry.WithField("error", out.Reason.Error())
	}
	entry.Debug("嵌入报文解析存在问题")
}

var (
	defaultOnce     sync.Once
	defaultAnalyzer *Analyzer
	defaultErr      error
)

// DefaultAnalyzer 使用内置协议配置的解析器
func DefaultAnalyzer() (*Analyzer, error) {
	defaultOnce.Do(func() {
		reg, err := schema.NewDefaultRegistry()
		if err != nil {
			defaultErr = err
			return
		}
		defaultAnalyzer = NewAnalyzer(reg)
	})
	return defaultAnalyzer, defaultErr
}

// AnalyzeFrame 使用内置协议配置解析报文
func AnalyzeFrame(frame []byte, region string) (Result, error) {
	a, err := DefaultAnalyzer()
	if err != nil {
		return Result{}, err
	}
	return a.Analyze(frame, region), nil
}

// HexToBytes 十六进制文本转字节，允许空格
func HexToBytes(text string) ([]byte, error) {
	data, err := codec.ParseHex(text)
	if err != nil {
		return nil, errors.Wrap(errors.ErrInvalidParameter, "十六进制报文格式错误", err)
	}
	return data, nil
}

// BytesToHex 字节转大写十六进制文本，spaced 为true时字节间以空格分隔
func BytesToHex(data []byte, spaced bool) string {
	if spaced {
		return codec.FormatHex(data)
	}
	return codec.FormatHexCompact(data)
}

// NormalizeProtocol 协议名称规范化，无法识别时返回空串
func NormalizeProtocol(name string) string {
	for _, p := range Protocols() {
		if strings.EqualFold(p, name) {
			return p
		}
	}
	if schema.FamilyOf(name) == schema.FamilyDLT645 {
		return ProtocolDLT645
	}
	return ""
}
