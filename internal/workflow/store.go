package workflow

import (
	"context"
	"sync"
	"time"
)

// ResultStore 保存已进入终态的运行结果，以 workflow_id 为键。
// 同一 ID 再次保存会覆盖旧记录。
type ResultStore interface {
	Save(ctx context.Context, result *Result) error
	// Get 在记录不存在时返回 ErrNotFound。
	Get(ctx context.Context, workflowID string) (*Result, error)
	// DeleteBefore 删除结束时间早于 cutoff 的记录，返回删除数量。
	DeleteBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// MemoryStore 是进程内的 ResultStore，读写都返回副本。
type MemoryStore struct {
	mu      sync.RWMutex
	results map[string]*Result
}

// NewMemoryStore 创建空的内存结果存储。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{results: make(map[string]*Result)}
}

// Save 实现 ResultStore。
func (s *MemoryStore) Save(_ context.Context, result *Result) error {
	if result == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[result.WorkflowID] = result.Clone()
	return nil
}

// Get 实现 ResultStore。
func (s *MemoryStore) Get(_ context.Context, workflowID string) (*Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.results[workflowID]
	if !ok {
		return nil, ErrNotFound
	}
	return r.Clone(), nil
}

// DeleteBefore 实现 ResultStore。
func (s *MemoryStore) DeleteBefore(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, r := range s.results {
		if r.EndTime.Before(cutoff) {
			delete(s.results, id)
			removed++
		}
	}
	return removed, nil
}

// Len 返回当前记录数。
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.results)
}
