package decoder

import (
	"fmt"

	"github.com/bujia-iot/meter-frame-analyzer/pkg/errors"
)

// Diagnostic 解析过程中记录的非致命问题
type Diagnostic struct {
	Code    errors.ErrorCode `json:"code" yaml:"code"`
	Item    string           `json:"item,omitempty" yaml:"item,omitempty"`
	Offset  int              `json:"offset" yaml:"offset"`
	Message string           `json:"message" yaml:"message"`
}

func (d Diagnostic) Error() string {
	if d.Item != "" {
		return fmt.Sprintf("%s@%d [%s]: %s", d.Code, d.Offset, d.Item, d.Message)
	}
	return fmt.Sprintf("%s@%d: %s", d.Code, d.Offset, d.Message)
}

// AsError 转换为 AppError，便于按错误码判断
func (d Diagnostic) AsError() *errors.AppError {
	return errors.New(d.Code, d.Error())
}

// Diagnostics 一次解析的问题列表
type Diagnostics []Diagnostic

// Has 是否包含指定错误码
func (ds Diagnostics) Has(code errors.ErrorCode) bool {
	for _, d := range ds {
		if d.Code == code {
			return true
		}
	}
	return false
}

// Count 指定错误码的数量
func (ds Diagnostics) Count(code errors.ErrorCode) int {
	n := 0
	for _, d := range ds {
		if d.Code == code {
			n++
		}
	}
	return n
}
