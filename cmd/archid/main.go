package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Dmoore628/PersonalAssistant/internal/action"
	"github.com/Dmoore628/PersonalAssistant/internal/agent"
	"github.com/Dmoore628/PersonalAssistant/internal/api"
	"github.com/Dmoore628/PersonalAssistant/internal/auth"
	"github.com/Dmoore628/PersonalAssistant/internal/bus"
	"github.com/Dmoore628/PersonalAssistant/internal/config"
	"github.com/Dmoore628/PersonalAssistant/internal/observability/alerting"
	"github.com/Dmoore628/PersonalAssistant/internal/observability/metrics"
	"github.com/Dmoore628/PersonalAssistant/internal/retention"
	"github.com/Dmoore628/PersonalAssistant/internal/storage/mysql"
	"github.com/Dmoore628/PersonalAssistant/internal/storage/redis"
	"github.com/Dmoore628/PersonalAssistant/internal/workflow"
	"github.com/Dmoore628/PersonalAssistant/pkg/logger"
	"github.com/Dmoore628/PersonalAssistant/pkg/plugin"
)

const shutdownTimeout = 10 * time.Second

// main 是编排守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("archid 运行失败: %v", err)
	}
}

func loadConfig() (*config.Config, error) {
	configPath, explicit := os.LookupEnv("ARCHI_CONFIG")
	if !explicit || configPath == "" {
		configPath = filepath.Join("configs", "archi.yaml")
	}
	cfg, err := config.Load(configPath)
	if err == nil {
		return cfg, nil
	}
	if !explicit && errors.Is(err, os.ErrNotExist) {
		return config.Default(), nil
	}
	return nil, err
}

func run(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := logger.Init(cfg.Logging); err != nil {
		return fmt.Errorf("初始化日志失败: %w", err)
	}
	defer logger.Sync()
	lg := logger.Named("archid")

	var closers []io.Closer
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i].Close(); err != nil {
				lg.Warn("关闭资源失败", slog.Any("error", err))
			}
		}
	}()

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	if c, ok := store.(io.Closer); ok {
		closers = append(closers, c)
	}

	broker, err := openBroker(ctx, cfg)
	if err != nil {
		return err
	}
	closers = append(closers, broker)

	local := action.NewRegistry()
	var actions action.Executor = local
	switch cfg.Executor.Driver {
	case "http":
		remote, err := action.NewHTTPExecutor(cfg.Executor.HTTP.Endpoint, &http.Client{Timeout: cfg.Executor.HTTP.Timeout()})
		if err != nil {
			return err
		}
		actions = action.Layered(local, remote)
	default:
		action.RegisterSimulated(local)
	}

	plugins, err := plugin.NewManager(cfg.Plugins, plugin.WithHost(action.NewPluginHost(local, broker)))
	if err != nil {
		return fmt.Errorf("加载插件失败: %w", err)
	}
	if err := plugins.StartAll(ctx); err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := plugins.StopAll(stopCtx); err != nil {
			lg.Warn("停止插件失败", slog.Any("error", err))
		}
	}()
	lg.Info("动作类型已就绪", slog.Any("action_types", local.Types()))

	var exec *workflow.Executor
	collector := metrics.NewCollector(func() int { return len(exec.Registry().ActiveIDs()) })
	telemetry := agent.NewTelemetry(broker, time.Now)
	dispatcher := alerting.NewFanout(&alerting.LogNotifier{}, &alerting.BusNotifier{Publisher: broker})

	exec = workflow.NewExecutor(actions, store,
		workflow.WithSuccessThreshold(cfg.Workflow.SuccessThreshold),
		workflow.WithDefaultStepTimeout(seconds(cfg.Workflow.DefaultStepTimeoutSeconds)),
		workflow.WithDefaultRetryPolicy(workflow.RetryPolicy{
			MaxRetries:        cfg.Workflow.DefaultRetry.MaxRetries,
			InitialDelay:      cfg.Workflow.DefaultRetry.InitialDelaySeconds,
			BackoffMultiplier: cfg.Workflow.DefaultRetry.BackoffMultiplier,
		}),
		workflow.WithLogger(logger.Named("workflow")),
		workflow.WithStepObserver(collector.ObserveStep),
		workflow.WithStepObserver(telemetry.OnStep),
		workflow.WithRunObserver(collector.ObserveRun),
		workflow.WithRunObserver(telemetry.OnFinish),
		workflow.WithRunObserver(alerting.WorkflowObserver(dispatcher)),
	)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := exec.Shutdown(shutdownCtx); err != nil {
			lg.Warn("关闭执行器失败", slog.Any("error", err))
		}
	}()

	router := bus.NewRouter(broker)
	for _, queue := range cfg.Bus.Consumers {
		switch queue {
		case bus.QueuePlanCreated:
			router.Handle(queue, agent.NewPlanner(broker, time.Now).Handle)
		case bus.QueueSystemExecute:
			router.Handle(queue, agent.NewExecutionAgent(exec, actions, broker,
				agent.WithActionTimeout(seconds(cfg.Workflow.DefaultStepTimeoutSeconds))).Handle)
		default:
			return fmt.Errorf("不支持消费队列: %s", queue)
		}
	}

	if cfg.Retention.Enabled {
		sweeper, err := retention.New(store, cfg.Retention.Schedule, cfg.Retention.MaxAge(), time.Now)
		if err != nil {
			return err
		}
		if err := sweeper.Start(ctx); err != nil {
			return err
		}
		defer sweeper.Stop()
	}

	authSvc, err := auth.NewService(cfg.Auth, nil)
	if err != nil {
		return err
	}
	serverOpts := []api.Option{
		api.WithAllowedOrigins(cfg.Server.AllowedOrigins),
		api.WithMiddleware(collector.InstrumentHTTP),
		api.WithMiddleware(authSvc.Middleware(nil)),
	}
	if cfg.Server.RateLimit > 0 {
		serverOpts = append(serverOpts, api.WithRateLimit(cfg.Server.RateLimit, cfg.Server.RateBurst))
	}
	if cfg.Metrics.Enabled && cfg.Metrics.Address == "" {
		serverOpts = append(serverOpts, api.WithMetricsHandler(collector.Handler()))
	}
	server := api.NewServer(cfg.Server.Address, exec, serverOpts...)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return router.Run(gctx) })
	g.Go(func() error { return server.Start(gctx) })
	if cfg.Metrics.Enabled && cfg.Metrics.Address != "" {
		g.Go(func() error { return metrics.StartServer(gctx, cfg.Metrics.Address, collector.Handler()) })
	}
	lg.Info("archid 已启动",
		slog.String("address", cfg.Server.Address),
		slog.String("bus", cfg.Bus.Driver),
		slog.String("store", cfg.Store.Driver),
		slog.String("executor", cfg.Executor.Driver),
		slog.Bool("auth", authSvc.Enabled()))

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func openStore(ctx context.Context, cfg *config.Config) (workflow.ResultStore, error) {
	switch cfg.Store.Driver {
	case "redis":
		return redis.NewResultStore(ctx, redis.Config{
			Address:   cfg.Store.Redis.Address,
			Password:  cfg.Store.Redis.Password,
			DB:        cfg.Store.Redis.DB,
			KeyPrefix: cfg.Store.Redis.KeyPrefix,
		})
	case "mysql":
		return mysql.NewResultStore(ctx, mysql.Config{
			DSN:             cfg.Store.MySQL.DSN,
			MaxOpenConns:    cfg.Store.MySQL.MaxOpenConns,
			MaxIdleConns:    cfg.Store.MySQL.MaxIdleConns,
			ConnMaxLifetime: time.Duration(cfg.Store.MySQL.ConnMaxLifetimeSeconds) * time.Second,
		})
	default:
		return workflow.NewMemoryStore(), nil
	}
}

func openBroker(ctx context.Context, cfg *config.Config) (bus.Broker, error) {
	switch cfg.Bus.Driver {
	case "rabbitmq":
		return bus.NewRabbitMQBroker(bus.RabbitMQConfig{URL: cfg.Bus.RabbitMQ.URL, Prefetch: cfg.Bus.RabbitMQ.Prefetch})
	case "redis":
		return bus.NewRedisBroker(ctx, bus.RedisConfig{
			Address:   cfg.Bus.Redis.Address,
			Password:  cfg.Bus.Redis.Password,
			DB:        cfg.Bus.Redis.DB,
			KeyPrefix: cfg.Bus.Redis.KeyPrefix,
			BlockWait: time.Duration(cfg.Bus.Redis.BlockWaitSeconds) * time.Second,
		})
	default:
		return bus.NewMemoryBroker(256), nil
	}
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}
