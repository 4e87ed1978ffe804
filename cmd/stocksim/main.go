// stocksim 单体部署：全部服务共享一个进程、一条事件总线和一个状态库，
// 服务间调用走进程内网关。
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

	analyticsapp "github.com/stockforge/stocksim/internal/analytics/application"
	analyticspersist "github.com/stockforge/stocksim/internal/analytics/infrastructure/persistence"
	analyticshttp "github.com/stockforge/stocksim/internal/analytics/interfaces/http"
	investorapp "github.com/stockforge/stocksim/internal/investor/application"
	investorpersist "github.com/stockforge/stocksim/internal/investor/infrastructure/persistence"
	investorhttp "github.com/stockforge/stocksim/internal/investor/interfaces/http"
	marketapp "github.com/stockforge/stocksim/internal/market/application"
	marketdomain "github.com/stockforge/stocksim/internal/market/domain"
	"github.com/stockforge/stocksim/internal/market/infrastructure/gateway"
	marketpersist "github.com/stockforge/stocksim/internal/market/infrastructure/persistence"
	markethttp "github.com/stockforge/stocksim/internal/market/interfaces/http"
	pricingapp "github.com/stockforge/stocksim/internal/pricing/application"
	pricingpersist "github.com/stockforge/stocksim/internal/pricing/infrastructure/persistence"
	pricinghttp "github.com/stockforge/stocksim/internal/pricing/interfaces/http"
	webhookapp "github.com/stockforge/stocksim/internal/webhook/application"
	webhookpersist "github.com/stockforge/stocksim/internal/webhook/infrastructure/persistence"
	webhookhttp "github.com/stockforge/stocksim/internal/webhook/interfaces/http"
	"github.com/stockforge/stocksim/pkg/config"
	"github.com/stockforge/stocksim/pkg/db"
	"github.com/stockforge/stocksim/pkg/eventbus"
	"github.com/stockforge/stocksim/pkg/logger"
	"github.com/stockforge/stocksim/pkg/metrics"
	"github.com/stockforge/stocksim/pkg/middleware"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "configs/stocksim.toml", "path to config file")
	flag.Parse()

	// 1. 配置与日志
	cfg, err := config.Load(configPath)
	if err != nil {
		panic(fmt.Sprintf("load config failed: %v", err))
	}
	if err := logger.Init(logger.Config(cfg.Logger)); err != nil {
		panic(fmt.Sprintf("init logger failed: %v", err))
	}
	ctx := context.Background()

	// 2. 共享状态库
	gdb, err := db.Open(db.Config(cfg.Database))
	if err != nil {
		logger.Fatal(ctx, "open database failed", "error", err)
	}

	// 3. 事件总线与 Kafka 镜像
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

	// 4. 各服务仓储
	stockRepo, err := pricingpersist.NewStockRepository(gdb)
	if err != nil {
		logger.Fatal(ctx, "init stock repository failed", "error", err)
	}
	investorRepo, err := investorpersist.NewInvestorRepository(gdb)
	if err != nil {
		logger.Fatal(ctx, "init investor repository failed", "error", err)
	}
	orderRepo, err := marketpersist.NewOrderRepository(gdb)
	if err != nil {
		logger.Fatal(ctx, "init order repository failed", "error", err)
	}
	tradeRepo, err := analyticspersist.NewTradeRepository(gdb)
	if err != nil {
		logger.Fatal(ctx, "init trade repository failed", "error", err)
	}
	webhookRepo, err := webhookpersist.NewWebhookRepository(gdb)
	if err != nil {
		logger.Fatal(ctx, "init webhook repository failed", "error", err)
	}

	// 5. 应用层
	m := metrics.New("stocksim")
	pricingSvc := pricingapp.NewPricingService(stockRepo, bus, cfg.Market.VolatilityFactor)
	investorSvc := investorapp.NewInvestorService(investorRepo, bus)
	analyticsSvc := analyticsapp.NewAnalyticsService(tradeRepo, bus)
	webhookSvc := webhookapp.NewWebhookService(webhookRepo, bus, m, webhookapp.Options{
		DeliverTimeout: time.Duration(cfg.Webhook.DeliverTimeout) * time.Second,
		MaxAttempts:    cfg.Webhook.MaxAttempts,
	})
	go webhookSvc.Run(runCtx)

	// 初始标的
	seeds, err := cfg.Market.ParseInitialStocks()
	if err != nil {
		logger.Fatal(ctx, "parse initial stocks failed", "error", err)
	}
	for _, seed := range seeds {
		if _, err := pricingSvc.InitializeStock(ctx, seed.Symbol, seed.Name, seed.Price); err != nil {
			logger.Fatal(ctx, "seed stock failed", "symbol", seed.Symbol, "error", err)
		}
	}

	// 6. 撮合引擎（进程内网关直连）
	portfolio := gateway.NewLocalPortfolioGateway(investorSvc)
	pricing := gateway.NewLocalPricingGateway(pricingSvc)
	analytics := gateway.NewLocalAnalyticsGateway(analyticsSvc)
	settle := marketapp.NewSettlement(orderRepo, portfolio, pricing, analytics, bus, m)
	engine := marketapp.NewEngine(orderRepo, settle, bus, m)
	defer engine.Close()
	if err := engine.Restore(ctx); err != nil {
		logger.Fatal(ctx, "restore order books failed", "error", err)
	}
	marketSvc := marketapp.NewMarketService(orderRepo, engine, portfolio, pricing, m)

	// 7. 定时开闭市
	if cfg.Market.OpenHour >= 0 && cfg.Market.CloseHour >= 0 {
		go runMarketHours(runCtx, cfg.Market, marketSvc, pricingSvc)
	}

	// 8. HTTP：单端口挂载全部服务
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(middleware.Logging(), middleware.Recovery(), middleware.CORS())
	router.GET("/metrics", m.Handler())
	router.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	pricinghttp.NewPricingHandler(pricingSvc, bus).RegisterRoutes(&router.RouterGroup)
	investorhttp.NewInvestorHandler(investorSvc).RegisterRoutes(&router.RouterGroup)
	markethttp.NewMarketHandler(marketSvc, bus).RegisterRoutes(&router.RouterGroup)
	analyticshttp.NewAnalyticsHandler(analyticsSvc).RegisterRoutes(&router.RouterGroup)
	webhookhttp.NewWebhookHandler(webhookSvc).RegisterRoutes(&router.RouterGroup)

	srv := &http.Server{
		Addr:         cfg.HTTP.Addr(),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeout) * time.Second,
	}
	go func() {
		logger.Info(ctx, "stocksim listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal(ctx, "http server failed", "error", err)
		}
	}()

	// 9. 优雅退出
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

// runMarketHours 按配置小时开闭市；闭市转开市时重置日内 open/high/low
func runMarketHours(ctx context.Context, cfg config.MarketConfig, market *marketapp.MarketService, pricing *pricingapp.PricingService) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			hour := now.Hour()
			inSession := hour >= cfg.OpenHour && hour < cfg.CloseHour
			current := market.MarketState()
			switch {
			case inSession && current == marketdomain.MarketClosed:
				if err := pricing.ResetDaily(ctx); err != nil {
					logger.Error(ctx, "daily reset failed", "error", err)
					continue
				}
				if err := market.SetMarketState(ctx, marketdomain.MarketOpen); err != nil {
					logger.Error(ctx, "open market failed", "error", err)
				}
			case !inSession && current == marketdomain.MarketOpen:
				if err := market.SetMarketState(ctx, marketdomain.MarketClosed); err != nil {
					logger.Error(ctx, "close market failed", "error", err)
				}
			}
		}
	}
}
