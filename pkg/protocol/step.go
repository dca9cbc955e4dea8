package protocol

import (
	"fmt"
	"strconv"

	"github.com/bujia-iot/meter-frame-analyzer/pkg/codec"
	"github.com/bujia-iot/meter-frame-analyzer/pkg/decoder"
	"github.com/bujia-iot/meter-frame-analyzer/pkg/errors"
)

// Outcome 单步解析的结论
type Outcome uint8

const (
	// Continue 继续执行后续步骤
	Continue Outcome = iota
	// StopClean 正常结束，剩余内容不再解析
	StopClean
	// StopError 报文结构错误，停止解析
	StopError
)

func (o Outcome) String() string {
	switch o {
	case Continue:
		return "Continue"
	case StopClean:
		return "StopClean"
	case StopError:
		return "StopError"
	}
	return "Unknown"
}

// StepOutcome 步骤返回值，StopError 时 Reason 说明原因
type StepOutcome struct {
	Outcome Outcome
	Reason  error
}

var (
	next = StepOutcome{Outcome: Continue}
	done = StepOutcome{Outcome: StopClean}
)

func fail(code errors.ErrorCode, format string, args ...interface{}) StepOutcome {
	return StepOutcome{Outcome: StopError, Reason: errors.Newf(code, format, args...)}
}

// step 一个解析步骤
type step func() StepOutcome

// drive 依次执行步骤，任一步骤停止时返回其结论
func drive(steps ...step) StepOutcome {
	for _, s := range steps {
		if out := s(); out.Outcome != Continue {
			return out
		}
	}
	return next
}

// repeat 重复执行同一步骤直到停止，StopClean 视为正常结束
func repeat(s step) step {
	return func() StepOutcome {
		for {
			out := s()
			switch out.Outcome {
			case Continue:
				continue
			case StopClean:
				return next
			default:
				return out
			}
		}
	}
}

// walk 帧解析的公共状态
type walk struct {
	frame  []byte
	base   int
	fields []decoder.Field
	sess   *decoder.Session
}

// span 以帧内相对区间创建字段
func (w *walk) span(label string, start, end int, desc string, children ...decoder.Field) decoder.Field {
	f := decoder.NewField(label, w.frame[start:end], desc, w.base+start)
	if len(children) > 0 {
		f.Children = children
	}
	return f
}

func (w *walk) add(label string, start, end int, desc string, children ...decoder.Field) {
	w.fields = append(w.fields, w.span(label, start, end, desc, children...))
}

// bitField 控制字中的单个标志位，占用整个字节
func (w *walk) bitField(label string, at int, value int, desc string) decoder.Field {
	return decoder.Field{
		FrameDomain: label,
		Data:        strconv.Itoa(value),
		Description: desc,
		Position:    [2]int{w.base + at, w.base + at + 1},
	}
}

// tail 校验码与结束符，from 为参与校验的起始位置
func (w *walk) tail(from int, csLabel, okText, badFormat, endText string) StepOutcome {
	n := len(w.frame)
	cs := codec.Sum(w.frame[from : n-2])
	desc := okText
	if cs != w.frame[n-2] {
		desc = fmt.Sprintf(badFormat, cs)
	}
	w.add(csLabel, n-2, n-1, desc)
	w.add("结束符", n-1, n, endText)
	if cs != w.frame[n-2] {
		return fail(errors.ErrFrameInvalidChecksum, "校验码错误，应为%02X，实际%02X", cs, w.frame[n-2])
	}
	return next
}

// opaque 剩余数据不再解析时的占位字段
func (w *walk) opaque(label string, start, end int) decoder.Field {
	return w.span(label, start, end, codec.FormatHexCompact(w.frame[start:end]))
}
