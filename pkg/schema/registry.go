package schema

import (
	"embed"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/bujia-iot/meter-frame-analyzer/internal/infrastructure/logger"
	"github.com/bujia-iot/meter-frame-analyzer/pkg/errors"
)

// 协议族路由关键字，按顺序以包含关系匹配大写后的协议名
const (
	FamilyCSG13  = "CSG13"
	FamilyDLT645 = "DLT/645"
	FamilyCSG16  = "CSG16"
	FamilyModule = "MOUDLE"
	FamilyMS     = "MS"
)

//go:embed schemas/*.xml
var defaultSchemas embed.FS

var defaultFiles = map[string]string{
	FamilyCSG13:  "schemas/CSG13.xml",
	FamilyDLT645: "schemas/DLT645.xml",
	FamilyCSG16:  "schemas/CSG16.xml",
	FamilyModule: "schemas/MOUDLE.xml",
	FamilyMS:     "schemas/TASK_MS.xml",
}

var familyOrder = []string{FamilyCSG13, FamilyDLT645, FamilyCSG16, FamilyModule, FamilyMS}

// Registry 按协议族管理配置仓库
type Registry struct {
	repos map[string]*Repository
}

// NewRegistry 创建空的协议仓库集合
func NewRegistry() *Registry {
	reg := &Registry{repos: make(map[string]*Repository, len(familyOrder))}
	for _, family := range familyOrder {
		reg.repos[family] = NewRepository(family)
	}
	return reg
}

// NewDefaultRegistry 创建并加载内置配置的仓库集合
func NewDefaultRegistry() (*Registry, error) {
	reg := NewRegistry()
	for _, family := range familyOrder {
		if err := reg.Reset(family); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// Families 所有协议族
func (reg *Registry) Families() []string {
	out := make([]string, len(familyOrder))
	copy(out, familyOrder)
	return out
}

// Repository 返回协议对应的仓库，无法路由时返回nil
func (reg *Registry) Repository(protocol string) *Repository {
	family := FamilyOf(protocol)
	if family == "" {
		return nil
	}
	return reg.repos[family]
}

// FamilyOf 协议名对应的协议族
func FamilyOf(protocol string) string {
	upper := strings.ToUpper(protocol)
	for _, family := range familyOrder {
		if strings.Contains(upper, family) {
			return family
		}
	}
	return ""
}

// Lookup 查找数据项，协议含多个候选时依次尝试
func (reg *Registry) Lookup(id, protocol, region string, dir Direction) *Node {
	if !strings.Contains(protocol, ",") {
		if repo := reg.Repository(protocol); repo != nil {
			return repo.Lookup(id, protocol, region, dir)
		}
		return nil
	}

	for _, alt := range strings.Split(protocol, ",") {
		repo := reg.Repository(strings.TrimSpace(alt))
		if repo == nil {
			continue
		}
		if n := repo.Lookup(id, protocol, region, dir); n != nil {
			return n
		}
	}
	return nil
}

// LookupTemplate 查找模板
func (reg *Registry) LookupTemplate(name, protocol, region string, dir Direction) *Node {
	repo := reg.Repository(protocol)
	if repo == nil {
		return nil
	}
	return repo.LookupTemplate(name, protocol, region, dir)
}

// Update 用新的配置文档替换协议配置
func (reg *Registry) Update(protocol string, content []byte) error {
	repo := reg.Repository(protocol)
	if repo == nil {
		return errors.Newf(errors.ErrProtocolNotSupported, "不支持的协议: %s", protocol)
	}
	if err := repo.LoadBytes(content); err != nil {
		logger.WithFields(logrus.Fields{
			"protocol": protocol,
			"error":    err.Error(),
		}).Error("协议配置更新失败")
		return err
	}

	logger.WithFields(logrus.Fields{
		"protocol": protocol,
		"family":   repo.Name(),
		"size":     len(content),
	}).Info("协议配置已更新")
	return nil
}

// Reset 恢复协议的内置配置
func (reg *Registry) Reset(protocol string) error {
	repo := reg.Repository(protocol)
	if repo == nil {
		return errors.Newf(errors.ErrProtocolNotSupported, "不支持的协议: %s", protocol)
	}
	content, err := DefaultDocument(repo.Name())
	if err != nil {
		return err
	}
	if err := repo.LoadBytes(content); err != nil {
		return err
	}
	logger.WithField("family", repo.Name()).Debug("已加载内置协议配置")
	return nil
}

// DefaultDocument 返回协议族的内置配置文档
func DefaultDocument(family string) ([]byte, error) {
	file, ok := defaultFiles[family]
	if !ok {
		return nil, errors.Newf(errors.ErrProtocolNotSupported, "不支持的协议: %s", family)
	}
	content, err := defaultSchemas.ReadFile(file)
	if err != nil {
		return nil, errors.Wrap(errors.ErrSchemaParseFailed, "读取内置协议配置失败", err)
	}
	return content, nil
}

// Items 列出协议配置中的数据项
func (reg *Registry) Items(protocol string) ([]ItemInfo, error) {
	repo := reg.Repository(protocol)
	if repo == nil {
		return nil, errors.Newf(errors.ErrProtocolNotSupported, "不支持的协议: %s", protocol)
	}
	return repo.Items(), nil
}
