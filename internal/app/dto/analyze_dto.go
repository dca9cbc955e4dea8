package dto

import (
	"strings"

	"github.com/bujia-iot/meter-frame-analyzer/pkg/errors"
)

// AnalyzeRequest 报文解析请求DTO
type AnalyzeRequest struct {
	Frame  string `json:"frame" binding:"required"` // 十六进制报文，允许空格
	Region string `json:"region"`                   // 地区，为空时使用默认地区
}

// Validate 校验解析请求
func (r *AnalyzeRequest) Validate() error {
	if strings.TrimSpace(r.Frame) == "" {
		return errors.New(errors.ErrInvalidParameter, "报文不能为空")
	}
	return nil
}

// BuildRequest 报文构建请求DTO
type BuildRequest struct {
	Protocol string            `json:"protocol" binding:"required"` // CSG13 或 DLT/645-2007
	Address  string            `json:"address" binding:"required"`  // 终端/电表地址
	MSA      uint8             `json:"msa"`                         // 主站地址，仅南网
	AFN      byte              `json:"afn"`                         // 功能码，仅南网
	Points   []int             `json:"points"`                      // 测量点，仅南网
	Items    []string          `json:"items" binding:"required"`    // 数据标识
	Values   map[string]string `json:"values,omitempty"`            // 写参数内容(十六进制)，仅南网
}

// Validate 校验构建请求
func (r *BuildRequest) Validate() error {
	if len(r.Items) == 0 {
		return errors.New(errors.ErrInvalidParameter, "数据标识不能为空")
	}
	if strings.TrimSpace(r.Address) == "" {
		return errors.New(errors.ErrInvalidParameter, "地址不能为空")
	}
	return nil
}

// BuildResponse 报文构建响应DTO
type BuildResponse struct {
	Protocol string `json:"protocol"`
	Frame    string `json:"frame"`
}

// HexRequest 十六进制转换请求DTO
type HexRequest struct {
	Text   string `json:"text"`   // 十六进制文本
	Spaced bool   `json:"spaced"` // 输出时字节间加空格
}

// HexResponse 十六进制转换响应DTO
type HexResponse struct {
	Hex   string `json:"hex"`
	Bytes []int  `json:"bytes"`
}

// ProtocolInfo 协议信息DTO
type ProtocolInfo struct {
	Name   string `json:"name"`
	Family string `json:"family,omitempty"`
	Loaded bool   `json:"loaded"`
}
