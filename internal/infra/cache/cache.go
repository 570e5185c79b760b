package cache

import (
	"container/list"
	"sort"
	"sync"
)

// Store 是进程内的键值缓存（键为 URL 等字符串）。
//
// 约束：
// - 不落盘、不做 TTL：命中的值在被淘汰前永远不会被刷新
// - 淘汰由注入的 Policy 决定；默认 Unbounded，即进程生命周期内只增不减
// - 并发安全（单线程使用时锁的开销可以忽略）
type Store[V any] struct {
	mu     sync.Mutex
	items  map[string]V
	policy Policy
}

// Policy 决定何时淘汰哪些键。Store 在持锁状态下调用它，实现无需自行加锁。
type Policy interface {
	// Added 在 key 写入后调用，返回需要淘汰的键。
	Added(key string) []string
	// Touched 在 key 命中时调用。
	Touched(key string)
	// Reset 清空策略内部状态。
	Reset()
}

// New 创建缓存；policy 为 nil 时使用 Unbounded。
func New[V any](policy Policy) *Store[V] {
	if policy == nil {
		policy = Unbounded()
	}
	return &Store[V]{
		items:  make(map[string]V),
		policy: policy,
	}
}

func (s *Store[V]) Get(key string) (V, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.items[key]
	if ok {
		s.policy.Touched(key)
	}
	return v, ok
}

func (s *Store[V]) Put(key string, v V) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[key] = v
	for _, k := range s.policy.Added(key) {
		delete(s.items, k)
	}
}

func (s *Store[V]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// Keys 返回当前所有键（已排序，便于输出与测试）。
func (s *Store[V]) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.items))
	for k := range s.items {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Reset 清空缓存（主要给测试与长生命周期进程使用）。
func (s *Store[V]) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = make(map[string]V)
	s.policy.Reset()
}

type unbounded struct{}

// Unbounded 永不淘汰。
func Unbounded() Policy { return unbounded{} }

func (unbounded) Added(string) []string { return nil }
func (unbounded) Touched(string)        {}
func (unbounded) Reset()                {}

type lru struct {
	max   int
	order *list.List // front = 最近使用
	elems map[string]*list.Element
}

// LRU 在条目数超过 max 时淘汰最久未使用的键；max<=0 等价于 Unbounded。
func LRU(max int) Policy {
	if max <= 0 {
		return Unbounded()
	}
	return &lru{
		max:   max,
		order: list.New(),
		elems: make(map[string]*list.Element),
	}
}

func (p *lru) Added(key string) []string {
	if e, ok := p.elems[key]; ok {
		p.order.MoveToFront(e)
		return nil
	}
	p.elems[key] = p.order.PushFront(key)

	var evicted []string
	for p.order.Len() > p.max {
		back := p.order.Back()
		k := back.Value.(string)
		p.order.Remove(back)
		delete(p.elems, k)
		evicted = append(evicted, k)
	}
	return evicted
}

func (p *lru) Touched(key string) {
	if e, ok := p.elems[key]; ok {
		p.order.MoveToFront(e)
	}
}

func (p *lru) Reset() {
	p.order.Init()
	p.elems = make(map[string]*list.Element)
}
