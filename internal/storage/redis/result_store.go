package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/Dmoore628/PersonalAssistant/internal/workflow"
)

// Config 描述 Redis 连接参数。
type Config struct {
	Address   string
	Password  string
	DB        int
	KeyPrefix string
}

// ResultStore 以 <prefix>result:<workflow_id> 保存结果，<prefix>index 记录结束时间。
// 文档与索引分属不同的键空间，任何工作流 ID 都不会覆盖索引。
type ResultStore struct {
	client *goredis.Client
	prefix string
}

var _ workflow.ResultStore = (*ResultStore)(nil)

// NewResultStore 连接 Redis 并验证可用性。
func NewResultStore(ctx context.Context, cfg Config) (*ResultStore, error) {
	if cfg.Address == "" {
		return nil, errors.New("Redis address 不能为空")
	}
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("连接 Redis 失败: %w", err)
	}
	return NewResultStoreWithClient(client, cfg.KeyPrefix), nil
}

// NewResultStoreWithClient 复用已有客户端。
func NewResultStoreWithClient(client *goredis.Client, prefix string) *ResultStore {
	if prefix == "" {
		prefix = "archi:workflow:"
	}
	return &ResultStore{client: client, prefix: prefix}
}

func (s *ResultStore) key(id string) string { return s.prefix + "result:" + id }

func (s *ResultStore) indexKey() string { return s.prefix + "index" }

// Save 实现 workflow.ResultStore。文档与索引在同一个 MULTI 中写入。
func (s *ResultStore) Save(ctx context.Context, r *workflow.Result) error {
	if r == nil {
		return nil
	}
	encoded, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("序列化工作流结果失败: %w", err)
	}
	_, err = s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Set(ctx, s.key(r.WorkflowID), encoded, 0)
		pipe.ZAdd(ctx, s.indexKey(), goredis.Z{Score: float64(r.EndTime.UnixMilli()), Member: r.WorkflowID})
		return nil
	})
	if err != nil {
		return fmt.Errorf("写入 Redis 失败: %w", err)
	}
	return nil
}

// Get 实现 workflow.ResultStore。
func (s *ResultStore) Get(ctx context.Context, workflowID string) (*workflow.Result, error) {
	data, err := s.client.Get(ctx, s.key(workflowID)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, workflow.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("读取 Redis 失败: %w", err)
	}
	var r workflow.Result
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("解析工作流结果失败: %w", err)
	}
	return &r, nil
}

// DeleteBefore 实现 workflow.ResultStore。
func (s *ResultStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int, error) {
	ids, err := s.client.ZRangeByScore(ctx, s.indexKey(), &goredis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(cutoff.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("查询过期结果失败: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}
	keys := make([]string, len(ids))
	members := make([]any, len(ids))
	for i, id := range ids {
		keys[i] = s.key(id)
		members[i] = id
	}
	_, err = s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Del(ctx, keys...)
		pipe.ZRem(ctx, s.indexKey(), members...)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("删除过期结果失败: %w", err)
	}
	return len(ids), nil
}

// Close 关闭 Redis 连接。
func (s *ResultStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}
