package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/stockforge/stocksim/internal/analytics/application"
	"github.com/stockforge/stocksim/internal/analytics/infrastructure/persistence"
	analyticshttp "github.com/stockforge/stocksim/internal/analytics/interfaces/http"
	"github.com/stockforge/stocksim/pkg/config"
	"github.com/stockforge/stocksim/pkg/db"
	"github.com/stockforge/stocksim/pkg/eventbus"
	"github.com/stockforge/stocksim/pkg/logger"
	"github.com/stockforge/stocksim/pkg/metrics"
	"github.com/stockforge/stocksim/pkg/middleware"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "configs/analytics.toml", "path to config file")
	flag.Parse()

	// 1. 配置
	cfg, err := config.Load(configPath)
	if err != nil {
		panic(fmt.Sprintf("load config failed: %v", err))
	}

	// 2. 日志
	if err := logger.Init(logger.Config(cfg.Logger)); err != nil {
		panic(fmt.Sprintf("init logger failed: %v", err))
	}
	ctx := context.Background()

	// 3. 存储
	gdb, err := db.Open(db.Config(cfg.Database))
	if err != nil {
		logger.Fatal(ctx, "open database failed", "error", err)
	}
	repo, err := persistence.NewTradeRepository(gdb)
	if err != nil {
		logger.Fatal(ctx, "init trade repository failed", "error", err)
	}

	// 4. 事件总线
	bus := eventbus.New(eventbus.WithQueueSize(cfg.EventBus.QueueSize))
	defer bus.Close()

	// 5. 应用与 HTTP
	svc := application.NewAnalyticsService(repo, bus)

	m := metrics.New("analytics")
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(middleware.Logging(), middleware.Recovery(), middleware.CORS())
	router.GET("/metrics", m.Handler())
	router.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	analyticshttp.NewAnalyticsHandler(svc).RegisterRoutes(&router.RouterGroup)

	srv := &http.Server{
		Addr:         cfg.HTTP.Addr(),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeout) * time.Second,
	}
	go func() {
		logger.Info(ctx, "analytics service listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal(ctx, "http server failed", "error", err)
		}
	}()

	// 6. 优雅退出
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info(ctx, "shutting down")

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error(ctx, "http shutdown failed", "error", err)
	}
}
