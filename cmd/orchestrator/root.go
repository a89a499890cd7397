package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"panel-tracker/internal/api"
	"panel-tracker/internal/config"
	"panel-tracker/internal/engine"
	"panel-tracker/internal/event"
	"panel-tracker/internal/handlers"
	"panel-tracker/internal/persistence"
	"panel-tracker/internal/web"
)

func newRootCommand() *cobra.Command {
	var configFlag string

	rootCmd := &cobra.Command{
		Use:           "orchestrator",
		Short:         "Panel line workflow orchestrator",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(configFlag)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg)
		},
	}
	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file path")
	return rootCmd
}

// run 组装所有组件并阻塞到收到停机信号
func run(ctx context.Context, cfg *config.Config) error {
	// 1. 初始化核心组件
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	hub := web.NewHub(logger)
	go hub.Run(ctx)
	stateTracker := web.NewStateTracker(hub)

	eventBus := event.NewBus()

	journal, err := persistence.NewJournal(cfg.JournalPath)
	if err != nil {
		return fmt.Errorf("无法初始化审计日志: %w", err)
	}
	defer journal.Close()

	lines, err := engine.NewLineResolver(cfg.LineAssignments)
	if err != nil {
		return err
	}
	escalation, err := engine.NewEscalationPolicy(cfg.ReworkEscalationRule)
	if err != nil {
		return err
	}

	// 2. 注册事件处理器
	handlers.RegisterEventHandlers(eventBus, stateTracker, journal, logger)

	// 3. 初始化引擎并从审计日志恢复
	wf := engine.NewWorkflowEngine(lines, escalation, eventBus, logger)
	recovered, lastSeq, err := journal.Recover()
	if err != nil {
		logger.Warn("从审计日志恢复失败", "error", err)
	}
	wf.ResumeSequence(lastSeq)
	if _, err := wf.Restore(recovered); err != nil {
		return fmt.Errorf("恢复工作流失败: %w", err)
	}
	for _, inst := range recovered {
		stateTracker.Upsert(inst)
	}

	go handlers.RunStatsReporter(ctx, wf, cfg.StatsInterval(), logger)

	// 4. 启动 HTTP 服务
	gin.SetMode(gin.ReleaseMode)
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: api.NewServer(wf, stateTracker, hub, logger).Router(),
	}
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("=== 组件产线工作流服务启动 ===", "addr", cfg.HTTPAddr, "journal", cfg.JournalPath)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	// 5. 优雅停机
	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("API 服务器启动失败: %w", err)
		}
	case <-ctx.Done():
	}
	logger.Info("接收到停机信号，正在优雅关闭...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP 服务关闭超时", "error", err)
	}
	// 等待审计日志等订阅方处理完已发布的事件
	eventBus.Drain()
	logger.Info("工作流服务已安全退出")
	return nil
}
