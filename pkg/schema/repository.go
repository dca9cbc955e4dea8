package schema

import (
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
)

// DefaultRegion 默认地区，请求地区未命中时回退到此地区
const DefaultRegion = "南网"

// Direction 传输方向
type Direction int

const (
	// DirAny 不限定方向
	DirAny  Direction = -1
	DirDown Direction = 0
	DirUp   Direction = 1
)

// DirectionOf 将 0/1 转为方向，其他值视为不限定
func DirectionOf(d int) Direction {
	switch d {
	case 0:
		return DirDown
	case 1:
		return DirUp
	default:
		return DirAny
	}
}

// ItemInfo 数据项概要
type ItemInfo struct {
	Item     string `json:"item" yaml:"item"`
	Name     string `json:"name,omitempty" yaml:"name,omitempty"`
	Protocol string `json:"protocol,omitempty" yaml:"protocol,omitempty"`
	Region   string `json:"region,omitempty" yaml:"region,omitempty"`
	Dir      string `json:"dir,omitempty" yaml:"dir,omitempty"`
}

// snapshot 一次加载的配置树及其查询缓存，两者一起替换
type snapshot struct {
	root  *Node
	index map[string][]*Node
	cache sync.Map // cacheKey -> *Node (未命中时存 nil)
}

func newSnapshot(root *Node) *snapshot {
	s := &snapshot{root: root, index: make(map[string][]*Node)}
	var walk func(n *Node)
	walk = func(n *Node) {
		if n.ID != "" {
			s.index[n.ID] = append(s.index[n.ID], n)
		}
		for _, c := range n.Children {
			walk(c)
		}
	}
	walk(root)
	return s
}

// Repository 单个协议的配置仓库
// 查询无锁进行，重新加载时整体替换配置树与缓存
type Repository struct {
	name    string
	current atomic.Pointer[snapshot]
}

// NewRepository 创建协议配置仓库
func NewRepository(name string) *Repository {
	return &Repository{name: name}
}

// Name 仓库对应的协议名称
func (r *Repository) Name() string {
	return r.name
}

// Load 加载已解析的配置树
func (r *Repository) Load(root *Node) {
	r.current.Store(newSnapshot(root))
}

// LoadBytes 解析并加载配置文档，解析失败时保留原配置
func (r *Repository) LoadBytes(data []byte) error {
	root, err := ParseBytes(data)
	if err != nil {
		return err
	}
	r.Load(root)
	return nil
}

// Loaded 是否已加载配置
func (r *Repository) Loaded() bool {
	return r.current.Load() != nil
}

// Root 当前配置树根节点
func (r *Repository) Root() *Node {
	s := r.current.Load()
	if s == nil {
		return nil
	}
	return s.root
}

// Lookup 按 id/协议/地区/方向 查找数据项
// 先匹配请求地区，未命中时回退到默认地区；命中与未命中都会缓存
func (r *Repository) Lookup(id, protocol, region string, dir Direction) *Node {
	s := r.current.Load()
	if s == nil || id == "" {
		return nil
	}

	key := cacheKey(id, protocol, region, dir)
	if v, ok := s.cache.Load(key); ok {
		n, _ := v.(*Node)
		return n
	}

	n := s.find(id, protocol, region, dir)
	if n == nil && region != DefaultRegion {
		n = s.find(id, protocol, DefaultRegion, dir)
	}

	actual, _ := s.cache.LoadOrStore(key, n)
	found, _ := actual.(*Node)
	return found
}

// LookupTemplate 查找模板，规则与 Lookup 相同
func (r *Repository) LookupTemplate(name, protocol, region string, dir Direction) *Node {
	return r.Lookup(name, protocol, region, dir)
}

// Items 列出配置中所有数据项与模板
func (r *Repository) Items() []ItemInfo {
	s := r.current.Load()
	if s == nil {
		return nil
	}

	var items []ItemInfo
	var walk func(n *Node)
	walk = func(n *Node) {
		if n.ID != "" && (n.Tag == TagDataItem || n.Tag == TagTemplate) {
			items = append(items, ItemInfo{
				Item:     n.ID,
				Name:     n.Name(),
				Protocol: n.Protocol,
				Region:   n.Region,
				Dir:      n.Dir,
			})
		}
		for _, c := range n.Children {
			walk(c)
		}
	}
	walk(s.root)
	return items
}

func (s *snapshot) find(id, protocol, region string, dir Direction) *Node {
	for _, n := range s.index[id] {
		if matchList(n.Protocol, protocol) && matchList(n.Region, region) && matchDir(n, dir) {
			return n
		}
	}
	return nil
}

func cacheKey(id, protocol, region string, dir Direction) string {
	key := id + ":" + protocol + ":" + region
	if dir != DirAny {
		key += ":" + strconv.Itoa(int(dir))
	}
	return key
}

// matchList 节点属性可为逗号分隔的多个值，不区分大小写
// 查询值本身含逗号时要求与属性整体相等
func matchList(attr, query string) bool {
	if attr == "" {
		return false
	}
	if strings.Contains(query, ",") {
		return strings.EqualFold(attr, query)
	}
	for _, part := range strings.Split(attr, ",") {
		if strings.EqualFold(strings.TrimSpace(part), query) {
			return true
		}
	}
	return false
}

// matchDir 任一方未指定方向即匹配
func matchDir(n *Node, dir Direction) bool {
	if dir == DirAny {
		return true
	}
	d, ok := n.DirValue()
	if !ok {
		return true
	}
	return d == int(dir)
}
