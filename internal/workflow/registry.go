package workflow

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	xerrors "github.com/Dmoore628/PersonalAssistant/internal/errors"
)

// Registry 维护运行中的登记表与已完成结果存储。锁只保护登记表，
// 存储读写都在锁外进行。终态结果总是先写入存储再从登记表移除，
// 所以任意时刻一个 ID 要么处于运行中，要么能在存储中查到。
// 正常结束与取消之间由 RunContext 的终态认领决定谁负责持久化。
type Registry struct {
	mu     sync.RWMutex
	active map[string]*RunContext
	store  ResultStore
}

// NewRegistry 创建登记表。store 为空时使用内存存储。
func NewRegistry(store ResultStore) *Registry {
	if store == nil {
		store = NewMemoryStore()
	}
	return &Registry{active: make(map[string]*RunContext), store: store}
}

// Store 返回底层结果存储。
func (r *Registry) Store() ResultStore {
	return r.store
}

// Active 返回运行中的上下文。
func (r *Registry) Active(workflowID string) (*RunContext, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rc, ok := r.active[workflowID]
	return rc, ok
}

// ActiveIDs 返回全部运行中的 ID，按字母序排列。
func (r *Registry) ActiveIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.active))
	for id := range r.active {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (r *Registry) register(rc *RunContext) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.active[rc.WorkflowID]; ok {
		return xerrors.New(CodeConflict, "workflow "+rc.WorkflowID+" is already running", xerrors.WithMetadata("workflow_id", rc.WorkflowID))
	}
	r.active[rc.WorkflowID] = rc
	return nil
}

// complete 持久化终态结果并注销运行。若运行已被取消，返回取消方保存的结果。
func (r *Registry) complete(ctx context.Context, rc *RunContext, result *Result) (*Result, error) {
	if !rc.claim() {
		return rc.awaitFinal()
	}
	return r.persist(ctx, rc, result)
}

// cancel 标记取消、保存 cancelled 结果并从登记表移除。
// 运行不存在或已在结束途中时返回 false。
func (r *Registry) cancel(ctx context.Context, workflowID string, now time.Time) (*Result, bool, error) {
	rc, ok := r.Active(workflowID)
	if !ok {
		return nil, false, nil
	}
	results, retries, first := rc.cancel()
	if !first {
		return nil, false, nil
	}
	result, err := r.persist(ctx, rc, summarize(rc.Definition, results, retries, rc.StartTime, now, 1, true))
	return result, true, err
}

// abort 用于运行自身发现需要停止的情形（取消信号或 ctx 结束）。
// 尚无人认领终态时按取消处理，否则返回认领方保存的结果。
func (r *Registry) abort(ctx context.Context, rc *RunContext, now time.Time) (*Result, error) {
	results, retries, first := rc.cancel()
	if !first {
		return rc.awaitFinal()
	}
	return r.persist(ctx, rc, summarize(rc.Definition, results, retries, rc.StartTime, now, 1, true))
}

// persist 在锁外写入存储，再在锁内注销运行。调用方必须已经认领终态。
func (r *Registry) persist(ctx context.Context, rc *RunContext, result *Result) (*Result, error) {
	err := r.store.Save(ctx, result)
	if err != nil {
		err = storageError(err, rc.WorkflowID)
	}

	r.mu.Lock()
	if cur, ok := r.active[rc.WorkflowID]; ok && cur == rc {
		delete(r.active, rc.WorkflowID)
	}
	r.mu.Unlock()

	rc.publish(result, err)
	return result, err
}

// lookup 先查运行中的登记表，再查结果存储。
func (r *Registry) lookup(ctx context.Context, workflowID string) (*RunContext, *Result, error) {
	r.mu.RLock()
	rc, ok := r.active[workflowID]
	r.mu.RUnlock()
	if ok {
		return rc, nil, nil
	}
	result, err := r.store.Get(ctx, workflowID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, storageError(err, workflowID)
	}
	return nil, result, nil
}

func storageError(err error, workflowID string) error {
	if xerrors.CodeOf(err) != xerrors.CodeUnknown {
		return err
	}
	return xerrors.Wrap(xerrors.CodeStorageFailure, err, "workflow result store", xerrors.WithMetadata("workflow_id", workflowID))
}
