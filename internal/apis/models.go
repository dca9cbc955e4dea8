package apis

import (
	"net/http"
	"time"

	"github.com/bujia-iot/meter-frame-analyzer/pkg/errors"
)

// StandardResponse 标准API响应格式
type StandardResponse struct {
	Code      int         `json:"code"`
	Data      interface{} `json:"data,omitempty"`
	Message   string      `json:"message"`
	Success   bool        `json:"success"`
	RequestID string      `json:"requestId,omitempty"`
	Time      int64       `json:"time"`
}

// ErrorResponse 错误响应格式
type ErrorResponse struct {
	Code      int    `json:"code"`
	Error     string `json:"error,omitempty"`
	Message   string `json:"message"`
	Success   bool   `json:"success"`
	RequestID string `json:"requestId,omitempty"`
	Time      int64  `json:"time"`
}

// HealthResponse 健康检查响应
type HealthResponse struct {
	Status    string   `json:"status"`
	Protocols []string `json:"protocols"`
	Uptime    string   `json:"uptime"`
}

// NewStandardResponse 创建标准响应
func NewStandardResponse(data interface{}, message string) StandardResponse {
	return StandardResponse{
		Code:    0,
		Data:    data,
		Message: message,
		Success: true,
		Time:    time.Now().Unix(),
	}
}

// NewErrorResponse 由错误创建错误响应，code 为应用错误码
func NewErrorResponse(err error) ErrorResponse {
	code := errors.CodeOf(err)
	return ErrorResponse{
		Code:    int(code),
		Error:   code.String(),
		Message: err.Error(),
		Success: false,
		Time:    time.Now().Unix(),
	}
}

// httpStatus 错误码对应的HTTP状态码
func httpStatus(err error) int {
	switch errors.CodeOf(err) {
	case errors.ErrInvalidParameter, errors.ErrSchemaParseFailed:
		return http.StatusBadRequest
	case errors.ErrProtocolNotSupported, errors.ErrSchemaLookupMiss:
		return http.StatusNotFound
	case errors.ErrNotImplemented:
		return http.StatusNotImplemented
	case errors.ErrRedisConnectionFailed, errors.ErrRedisOperationFailed:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
