package apis

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/bujia-iot/meter-frame-analyzer/internal/app/dto"
	"github.com/bujia-iot/meter-frame-analyzer/internal/app/service"
	"github.com/bujia-iot/meter-frame-analyzer/pkg/errors"
	"github.com/bujia-iot/meter-frame-analyzer/pkg/protocol"
)

// AnalyzerAPI 报文解析接口
type AnalyzerAPI struct {
	svc     *service.AnalyzerService
	timeout time.Duration
	started time.Time
}

// NewAnalyzerAPI 创建报文解析接口
func NewAnalyzerAPI(svc *service.AnalyzerService, timeout time.Duration) *AnalyzerAPI {
	return &AnalyzerAPI{svc: svc, timeout: timeout, started: time.Now()}
}

func (api *AnalyzerAPI) ok(c *gin.Context, data interface{}, message string) {
	resp := NewStandardResponse(data, message)
	resp.RequestID = c.GetString(requestIDHeader)
	c.JSON(http.StatusOK, resp)
}

func (api *AnalyzerAPI) fail(c *gin.Context, err error) {
	resp := NewErrorResponse(err)
	resp.RequestID = c.GetString(requestIDHeader)
	c.JSON(httpStatus(err), resp)
}

// protocolParam 路径中的协议名，645协议名中的"/"可写为"-"或省略
func protocolParam(c *gin.Context) string {
	name := c.Param("name")
	upper := strings.ToUpper(name)
	if strings.HasPrefix(upper, "DLT") && !strings.Contains(upper, "/") {
		rest := strings.TrimPrefix(upper[3:], "-")
		return "DLT/" + rest
	}
	return name
}

func (api *AnalyzerAPI) context(c *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), api.timeout)
}

// Analyze 解析报文
// POST /api/v1/analyze {"frame": "68 ...", "region": "南网"}
func (api *AnalyzerAPI) Analyze(c *gin.Context) {
	var req dto.AnalyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		api.fail(c, errors.Wrap(errors.ErrInvalidParameter, "参数错误", err))
		return
	}

	ctx, cancel := api.context(c)
	defer cancel()

	res, err := api.svc.Analyze(ctx, &req)
	if err != nil {
		api.fail(c, err)
		return
	}
	api.ok(c, res, "success")
}

// Build 构建抄表报文
func (api *AnalyzerAPI) Build(c *gin.Context) {
	var req dto.BuildRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		api.fail(c, errors.Wrap(errors.ErrInvalidParameter, "参数错误", err))
		return
	}

	resp, err := api.svc.BuildFrame(&req)
	if err != nil {
		api.fail(c, err)
		return
	}
	api.ok(c, resp, "success")
}

// Hex 整理十六进制文本，返回统一格式与字节值
func (api *AnalyzerAPI) Hex(c *gin.Context) {
	var req dto.HexRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		api.fail(c, errors.Wrap(errors.ErrInvalidParameter, "参数错误", err))
		return
	}

	data, err := protocol.HexToBytes(req.Text)
	if err != nil {
		api.fail(c, err)
		return
	}
	values := make([]int, len(data))
	for i, b := range data {
		values[i] = int(b)
	}
	api.ok(c, dto.HexResponse{Hex: protocol.BytesToHex(data, req.Spaced), Bytes: values}, "success")
}

// Protocols 支持的协议列表
func (api *AnalyzerAPI) Protocols(c *gin.Context) {
	api.ok(c, api.svc.Protocols(), "success")
}

// Items 协议配置中的数据项列表
func (api *AnalyzerAPI) Items(c *gin.Context) {
	items, err := api.svc.Items(protocolParam(c))
	if err != nil {
		api.fail(c, err)
		return
	}
	api.ok(c, items, "success")
}

// UpdateSchema 用请求体中的XML替换协议配置
func (api *AnalyzerAPI) UpdateSchema(c *gin.Context) {
	content, err := c.GetRawData()
	if err != nil || len(content) == 0 {
		api.fail(c, errors.New(errors.ErrInvalidParameter, "协议配置不能为空"))
		return
	}

	ctx, cancel := api.context(c)
	defer cancel()

	if err := api.svc.UpdateProtocolConfig(ctx, protocolParam(c), content); err != nil {
		api.fail(c, err)
		return
	}
	api.ok(c, nil, "协议配置已更新")
}

// ResetSchema 恢复协议的内置配置
func (api *AnalyzerAPI) ResetSchema(c *gin.Context) {
	ctx, cancel := api.context(c)
	defer cancel()

	if err := api.svc.ResetProtocolConfig(ctx, protocolParam(c)); err != nil {
		api.fail(c, err)
		return
	}
	api.ok(c, nil, "已恢复内置协议配置")
}

// Health 健康检查
func (api *AnalyzerAPI) Health(c *gin.Context) {
	var loaded []string
	for _, p := range api.svc.Protocols() {
		if p.Loaded {
			loaded = append(loaded, p.Name)
		}
	}
	c.JSON(http.StatusOK, HealthResponse{
		Status:    "ok",
		Protocols: loaded,
		Uptime:    time.Since(api.started).Truncate(time.Second).String(),
	})
}
