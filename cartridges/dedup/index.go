package dedup

import (
	"context"
	"sync"
	"time"

	"github.com/BaSui01/eventflow/internal/cache"
)

// Index 最近幂等键索引。Seen 原子地检查并登记 key：
// 首次出现（或过期后再次出现）返回 false，保留期内重复返回 true。
type Index interface {
	Seen(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// =============================================================================
// 🧠 内存索引
// =============================================================================

// MemoryIndex 进程内索引，适用于单节点部署与测试。
type MemoryIndex struct {
	mu        sync.Mutex
	entries   map[string]time.Time
	now       func() time.Time
	lastPrune time.Time
}

// NewMemoryIndex 创建内存索引。now 为 nil 时使用 time.Now。
func NewMemoryIndex(now func() time.Time) *MemoryIndex {
	if now == nil {
		now = time.Now
	}
	return &MemoryIndex{
		entries:   make(map[string]time.Time),
		now:       now,
		lastPrune: now(),
	}
}

// Seen implements Index.
func (m *MemoryIndex) Seen(_ context.Context, key string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if now.Sub(m.lastPrune) >= ttl {
		m.pruneLocked(now)
	}

	if expires, ok := m.entries[key]; ok && now.Before(expires) {
		return true, nil
	}
	m.entries[key] = now.Add(ttl)
	return false, nil
}

// Len 返回当前登记的键数量（含尚未清理的过期键）
func (m *MemoryIndex) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func (m *MemoryIndex) pruneLocked(now time.Time) {
	for k, expires := range m.entries {
		if !now.Before(expires) {
			delete(m.entries, k)
		}
	}
	m.lastPrune = now
}

// =============================================================================
// 🔴 Redis 索引
// =============================================================================

// RedisIndex 基于 SET NX PX 的共享索引，多个流水线实例共享同一保留窗口。
type RedisIndex struct {
	cache  *cache.Manager
	prefix string
}

// NewRedisIndex 创建 Redis 索引
func NewRedisIndex(m *cache.Manager, prefix string) *RedisIndex {
	return &RedisIndex{cache: m, prefix: prefix}
}

// Seen implements Index.
func (r *RedisIndex) Seen(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	created, err := r.cache.SetNX(ctx, r.prefix+key, "1", ttl)
	if err != nil {
		return false, err
	}
	return !created, nil
}
