package service

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/bujia-iot/meter-frame-analyzer/internal/app/dto"
	"github.com/bujia-iot/meter-frame-analyzer/internal/infrastructure/config"
	"github.com/bujia-iot/meter-frame-analyzer/internal/infrastructure/logger"
	"github.com/bujia-iot/meter-frame-analyzer/pkg/codec"
	"github.com/bujia-iot/meter-frame-analyzer/pkg/errors"
	"github.com/bujia-iot/meter-frame-analyzer/pkg/protocol"
	"github.com/bujia-iot/meter-frame-analyzer/pkg/schema"
)

// SchemaStore 协议覆盖配置的持久化存储，多实例部署时共享
type SchemaStore interface {
	Save(ctx context.Context, family string, content []byte) error
	Delete(ctx context.Context, family string) error
	LoadAll(ctx context.Context) (map[string][]byte, error)
}

// AnalysisResult 一次解析的结果
type AnalysisResult struct {
	RequestID       string `json:"requestId" yaml:"requestId"`
	protocol.Result `yaml:",inline"`
	Hex             string `json:"hex" yaml:"hex"`
	CostMs          int64  `json:"costMs" yaml:"costMs"`
}

// AnalyzerService 报文解析业务服务
type AnalyzerService struct {
	registry *schema.Registry
	analyzer *protocol.Analyzer
	builder  *protocol.FrameBuilder
	store    SchemaStore
	cfg      config.AnalyzerConfig
}

// NewAnalyzerService 创建解析服务，store 为nil时覆盖配置只在本实例生效
func NewAnalyzerService(registry *schema.Registry, cfg config.AnalyzerConfig, store SchemaStore) *AnalyzerService {
	if cfg.Region == "" {
		cfg.Region = schema.DefaultRegion
	}
	return &AnalyzerService{
		registry: registry,
		analyzer: protocol.NewAnalyzer(registry),
		builder:  protocol.NewFrameBuilder(protocol.NewSequenceGenerator(0)),
		store:    store,
		cfg:      cfg,
	}
}

// LoadSchemaFiles 用配置文件中指定的XML替换内置协议配置
func (s *AnalyzerService) LoadSchemaFiles(files map[string]string) error {
	for name, path := range files {
		content, err := os.ReadFile(path)
		if err != nil {
			return errors.Wrap(errors.ErrSchemaParseFailed, "读取协议配置文件失败: "+path, err)
		}
		if err := s.registry.Update(name, content); err != nil {
			return err
		}
		logger.WithFields(logrus.Fields{
			"protocol": name,
			"path":     path,
		}).Info("已加载协议配置文件")
	}
	return nil
}

// RestoreOverrides 从共享存储恢复其他实例保存的覆盖配置
func (s *AnalyzerService) RestoreOverrides(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	overrides, err := s.store.LoadAll(ctx)
	if err != nil {
		return err
	}
	for family, content := range overrides {
		if err := s.registry.Update(family, content); err != nil {
			// 存储中的配置损坏时保留当前配置
			logger.WithFields(logrus.Fields{
				"family": family,
				"error":  err.Error(),
			}).Warn("跳过无法加载的覆盖配置")
		}
	}
	return nil
}

// ApplyRemoteChange 应用其他实例的配置变更，content 为nil表示恢复内置配置
func (s *AnalyzerService) ApplyRemoteChange(family string, content []byte) error {
	if content == nil {
		return s.registry.Reset(family)
	}
	return s.registry.Update(family, content)
}

// Analyze 解析十六进制报文
func (s *AnalyzerService) Analyze(ctx context.Context, req *dto.AnalyzeRequest) (*AnalysisResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	frame, err := protocol.HexToBytes(req.Frame)
	if err != nil {
		return nil, err
	}
	return s.AnalyzeBytes(ctx, "http", frame, req.Region)
}

// AnalyzeBytes 解析一帧报文，source 标识报文来源
func (s *AnalyzerService) AnalyzeBytes(ctx context.Context, source string, frame []byte, region string) (*AnalysisResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(frame) == 0 {
		return nil, errors.New(errors.ErrInvalidParameter, "报文不能为空")
	}
	if s.cfg.MaxFrameBytes > 0 && len(frame) > s.cfg.MaxFrameBytes {
		return nil, errors.Newf(errors.ErrInvalidParameter, "报文长度%d超过上限%d", len(frame), s.cfg.MaxFrameBytes)
	}
	if region == "" {
		region = s.cfg.Region
	}

	start := time.Now()
	res := &AnalysisResult{
		RequestID: uuid.NewString(),
		Result:    s.analyzer.Analyze(frame, region),
		Hex:       codec.FormatHex(frame),
	}
	res.CostMs = time.Since(start).Milliseconds()

	logger.LogFrame(source, res.Protocol, res.Hex, len(res.Data), len(res.Diagnostics))
	logger.WithFields(logrus.Fields{
		"requestId": res.RequestID,
		"source":    source,
		"protocol":  res.Protocol,
		"region":    region,
		"ok":        res.OK(),
	}).Info("报文解析")
	return res, nil
}

// Protocols 支持的协议及其配置加载状态
func (s *AnalyzerService) Protocols() []dto.ProtocolInfo {
	names := protocol.Protocols()
	out := make([]dto.ProtocolInfo, 0, len(names))
	for _, name := range names {
		info := dto.ProtocolInfo{Name: name, Family: schema.FamilyOf(name)}
		if repo := s.registry.Repository(name); repo != nil {
			info.Loaded = repo.Loaded()
		}
		out = append(out, info)
	}
	return out
}

// Items 协议配置中的全部数据项
func (s *AnalyzerService) Items(name string) ([]schema.ItemInfo, error) {
	return s.registry.Items(name)
}

// UpdateProtocolConfig 替换协议配置，并保存到共享存储
func (s *AnalyzerService) UpdateProtocolConfig(ctx context.Context, name string, content []byte) error {
	family := schema.FamilyOf(name)
	if family == "" {
		return errors.Newf(errors.ErrProtocolNotSupported, "不支持的协议: %s", name)
	}
	if err := s.registry.Update(family, content); err != nil {
		return err
	}
	if s.store != nil {
		return s.store.Save(ctx, family, content)
	}
	return nil
}

// ResetProtocolConfig 恢复协议的内置配置，并删除共享存储中的覆盖配置
func (s *AnalyzerService) ResetProtocolConfig(ctx context.Context, name string) error {
	family := schema.FamilyOf(name)
	if family == "" {
		return errors.Newf(errors.ErrProtocolNotSupported, "不支持的协议: %s", name)
	}
	if err := s.registry.Reset(family); err != nil {
		return err
	}
	if s.store != nil {
		return s.store.Delete(ctx, family)
	}
	return nil
}

// BuildFrame 构建抄表报文
func (s *AnalyzerService) BuildFrame(req *dto.BuildRequest) (*dto.BuildResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	var (
		frame []byte
		err   error
	)
	name := protocol.NormalizeProtocol(req.Protocol)
	switch name {
	case protocol.ProtocolDLT645:
		if len(req.Items) != 1 {
			return nil, errors.New(errors.ErrInvalidParameter, "645报文只能读取一个数据标识")
		}
		frame, err = s.builder.BuildDLT645Read(req.Address, req.Items[0])
	case protocol.ProtocolCSG13:
		values, verr := parseValues(req.Values)
		if verr != nil {
			return nil, verr
		}
		frame, err = s.builder.BuildCSG13(protocol.CSG13Request{
			Address: req.Address,
			MSA:     req.MSA,
			AFN:     req.AFN,
			Points:  req.Points,
			Items:   req.Items,
			Values:  values,
		})
	default:
		return nil, errors.Newf(errors.ErrProtocolNotSupported, "不支持构建%s报文", req.Protocol)
	}
	if err != nil {
		return nil, err
	}
	return &dto.BuildResponse{Protocol: name, Frame: codec.FormatHex(frame)}, nil
}

func parseValues(values map[string]string) (map[string][]byte, error) {
	if len(values) == 0 {
		return nil, nil
	}
	out := make(map[string][]byte, len(values))
	for item, text := range values {
		data, err := protocol.HexToBytes(text)
		if err != nil {
			return nil, err
		}
		out[strings.ToUpper(item)] = data
	}
	return out, nil
}
