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

	"github.com/stockforge/stocksim/internal/pricing/application"
	"github.com/stockforge/stocksim/internal/pricing/infrastructure/persistence"
	pricinghttp "github.com/stockforge/stocksim/internal/pricing/interfaces/http"
	"github.com/stockforge/stocksim/pkg/config"
	"github.com/stockforge/stocksim/pkg/db"
	"github.com/stockforge/stocksim/pkg/eventbus"
	"github.com/stockforge/stocksim/pkg/logger"
	"github.com/stockforge/stocksim/pkg/metrics"
	"github.com/stockforge/stocksim/pkg/middleware"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "configs/pricing.toml", "path to config file")
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
	repo, err := persistence.NewStockRepository(gdb)
	if err != nil {
		logger.Fatal(ctx, "init stock repository failed", "error", err)
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

	// 5. 应用与初始标的
	svc := application.NewPricingService(repo, bus, cfg.Market.VolatilityFactor)
	seeds, err := cfg.Market.ParseInitialStocks()
	if err != nil {
		logger.Fatal(ctx, "parse initial stocks failed", "error", err)
	}
	for _, seed := range seeds {
		if _, err := svc.InitializeStock(ctx, seed.Symbol, seed.Name, seed.Price); err != nil {
			logger.Fatal(ctx, "seed stock failed", "symbol", seed.Symbol, "error", err)
		}
	}

	// 6. HTTP
	m := metrics.New("pricing")
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(middleware.Logging(), middleware.Recovery(), middleware.CORS())
	router.GET("/metrics", m.Handler())
	router.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	pricinghttp.NewPricingHandler(svc, bus).RegisterRoutes(&router.RouterGroup)

	srv := &http.Server{
		Addr:         cfg.HTTP.Addr(),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeout) * time.Second,
	}
	go func() {
		logger.Info(ctx, "pricing service listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal(ctx, "http server failed", "error", err)
		}
	}()

	// 7. 优雅退出
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
