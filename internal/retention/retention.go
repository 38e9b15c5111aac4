// Package retention 定期清理已完成运行的结果记录。
package retention

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/Dmoore628/PersonalAssistant/pkg/logger"
)

// Pruner 删除结束时间早于 cutoff 的结果，workflow.ResultStore 实现了该接口。
type Pruner interface {
	DeleteBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// Sweeper 按 cron 表达式定期调用 Pruner。
type Sweeper struct {
	store    Pruner
	schedule cron.Schedule
	expr     string
	maxAge   time.Duration
	now      func() time.Time
	logger   *slog.Logger

	mu   sync.Mutex
	cron *cron.Cron
}

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// New 校验表达式并创建清理器。expr 支持五段式与 @hourly、@every 1h 等描述符。
func New(store Pruner, expr string, maxAge time.Duration, now func() time.Time) (*Sweeper, error) {
	if store == nil {
		return nil, errors.New("结果存储未配置")
	}
	if maxAge <= 0 {
		return nil, errors.New("保留时长必须为正数")
	}
	schedule, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("解析清理计划 %q 失败: %w", expr, err)
	}
	if now == nil {
		now = time.Now
	}
	return &Sweeper{store: store, schedule: schedule, expr: expr, maxAge: maxAge, now: now, logger: logger.Named("retention")}, nil
}

// Sweep 立即执行一次清理，返回删除条数。
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.maxAge)
	n, err := s.store.DeleteBefore(ctx, cutoff)
	if err != nil {
		s.logger.Error("清理过期结果失败", "cutoff", cutoff, "error", err)
		return n, err
	}
	if n > 0 {
		s.logger.Info("已清理过期结果", "deleted", n, "cutoff", cutoff)
	}
	return n, nil
}

// Next 返回 from 之后的下一次清理时间。
func (s *Sweeper) Next(from time.Time) time.Time {
	return s.schedule.Next(from)
}

// Start 在后台按计划运行，ctx 结束时自动停止。
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return errors.New("清理器已启动")
	}
	c := cron.New(cron.WithParser(parser))
	c.Schedule(s.schedule, cron.FuncJob(func() {
		_, _ = s.Sweep(ctx)
	}))
	c.Start()
	s.cron = c
	s.logger.Info("结果清理已启动", "schedule", s.expr, "max_age", s.maxAge)

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return nil
}

// Stop 停止计划并等待正在执行的清理结束。
func (s *Sweeper) Stop() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	<-c.Stop().Done()
}
