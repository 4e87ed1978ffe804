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

	"github.com/stockforge/stocksim/internal/market/application"
	"github.com/stockforge/stocksim/internal/market/infrastructure/gateway"
	"github.com/stockforge/stocksim/internal/market/infrastructure/persistence"
	markethttp "github.com/stockforge/stocksim/internal/market/interfaces/http"
	"github.com/stockforge/stocksim/pkg/config"
	"github.com/stockforge/stocksim/pkg/db"
	"github.com/stockforge/stocksim/pkg/eventbus"
	"github.com/stockforge/stocksim/pkg/logger"
	"github.com/stockforge/stocksim/pkg/metrics"
	"github.com/stockforge/stocksim/pkg/middleware"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "configs/market.toml", "path to config file")
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
	repo, err := persistence.NewOrderRepository(gdb)
	if err != nil {
		logger.Fatal(ctx, "init order repository failed", "error", err)
	}

	// 4. 事件总线与 Kafka 镜像
	bus := eventbus.New(eventbus.WithQueueSize(cfg.EventBus.QueueSize))
	defer bus.Close()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if cfg.Kafka.Enabled {
		fwd := eventbus.NewForwarder(bus, cfg.Kafka.Brokers, cfg.Kafka.Topic)
		go func() {
			if err := fwd.Run(runCtx); err != nil {
				logger.Error(ctx, "kafka forwarder stopped", "error", err)
			}
		}()
	}

	// 5. 下游网关（HTTP/JSON）
	portfolio := gateway.NewHTTPPortfolioGateway(cfg.Services)
	pricing := gateway.NewHTTPPricingGateway(cfg.Services)
	analytics := gateway.NewHTTPAnalyticsGateway(cfg.Services)

	// 6. 撮合引擎与市场服务
	m := metrics.New("market")
	settle := application.NewSettlement(repo, portfolio, pricing, analytics, bus, m)
	engine := application.NewEngine(repo, settle, bus, m)
	defer engine.Close()
	if err := engine.Restore(ctx); err != nil {
		logger.Fatal(ctx, "restore order books failed", "error", err)
	}
	svc := application.NewMarketService(repo, engine, portfolio, pricing, m)

	// 7. HTTP
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(middleware.Logging(), middleware.Recovery(), middleware.CORS())
	router.GET("/metrics", m.Handler())
	router.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	markethttp.NewMarketHandler(svc, bus).RegisterRoutes(&router.RouterGroup)

	srv := &http.Server{
		Addr:         cfg.HTTP.Addr(),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeout) * time.Second,
	}
	go func() {
		logger.Info(ctx, "market service listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal(ctx, "http server failed", "error", err)
		}
	}()

	// 8. 优雅退出
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info(ctx, "shutting down")

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error(ctx, "http shutdown failed", "error", err)
	}
}
