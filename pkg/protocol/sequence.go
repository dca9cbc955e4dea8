package protocol

import (
	"sync"
)

// SequenceGenerator 南网帧内序号PSEQ生成器，取值 0~15 循环
// 由调用方持有并传给帧构建函数，多个连接可各自持有独立的生成器
type SequenceGenerator struct {
	mu   sync.Mutex
	next uint8
}

// NewSequenceGenerator 从指定值开始生成序号
func NewSequenceGenerator(start uint8) *SequenceGenerator {
	return &SequenceGenerator{next: start & 0x0F}
}

// Next 返回当前序号并递增
func (g *SequenceGenerator) Next() uint8 {
	g.mu.Lock()
	defer g.mu.Unlock()

	current := g.next
	g.next = (g.next + 1) % 16
	return current
}

// Peek 当前序号，不递增
func (g *SequenceGenerator) Peek() uint8 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.next
}

// Reset 重置序号
func (g *SequenceGenerator) Reset(v uint8) {
	g.mu.Lock()
	g.next = v & 0x0F
	g.mu.Unlock()
}
