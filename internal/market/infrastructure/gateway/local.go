package gateway

import (
	"context"

	"github.com/shopspring/decimal"

	analyticsapp "github.com/stockforge/stocksim/internal/analytics/application"
	investorapp "github.com/stockforge/stocksim/internal/investor/application"
	"github.com/stockforge/stocksim/internal/market/application"
	pricingapp "github.com/stockforge/stocksim/internal/pricing/application"
)

// LocalPortfolioGateway 进程内直连投资者服务（单体部署）
type LocalPortfolioGateway struct {
	svc *investorapp.InvestorService
}

func NewLocalPortfolioGateway(svc *investorapp.InvestorService) *LocalPortfolioGateway {
	return &LocalPortfolioGateway{svc: svc}
}

func (g *LocalPortfolioGateway) ValidateOrder(ctx context.Context, investorID, symbol, side string, qty int64, price decimal.Decimal) error {
	return g.svc.ValidateOrder(ctx, investorID, symbol, side, qty, price)
}

func (g *LocalPortfolioGateway) SettleExecution(ctx context.Context, executionID string, buy, sell application.TradeLeg) error {
	return g.svc.SettleExecution(ctx, executionID,
		investorapp.TradeLeg{InvestorID: buy.InvestorID, Symbol: buy.Symbol, SignedQty: buy.SignedQty, Price: buy.Price},
		investorapp.TradeLeg{InvestorID: sell.InvestorID, Symbol: sell.Symbol, SignedQty: sell.SignedQty, Price: sell.Price},
	)
}

// LocalPricingGateway 进程内直连价格引擎
type LocalPricingGateway struct {
	svc *pricingapp.PricingService
}

func NewLocalPricingGateway(svc *pricingapp.PricingService) *LocalPricingGateway {
	return &LocalPricingGateway{svc: svc}
}

func (g *LocalPricingGateway) Apply(ctx context.Context, symbol string, qty int64, isBuy bool, impact float64) error {
	_, err := g.svc.Apply(ctx, symbol, qty, isBuy, impact)
	return err
}

func (g *LocalPricingGateway) GetPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	stock, err := g.svc.GetPrice(ctx, symbol)
	if err != nil {
		return decimal.Zero, err
	}
	return stock.Current, nil
}

// LocalAnalyticsGateway 进程内直连分析服务
type LocalAnalyticsGateway struct {
	svc *analyticsapp.AnalyticsService
}

func NewLocalAnalyticsGateway(svc *analyticsapp.AnalyticsService) *LocalAnalyticsGateway {
	return &LocalAnalyticsGateway{svc: svc}
}

func (g *LocalAnalyticsGateway) RecordTrade(ctx context.Context, rec application.TradeRecord) error {
	return g.svc.Record(ctx, analyticsapp.RecordReq{
		ExecutionID: rec.ExecutionID,
		Symbol:      rec.Symbol,
		Qty:         rec.Qty,
		Price:       rec.Price,
		Buyer:       rec.Buyer,
		Seller:      rec.Seller,
		Ts:          rec.Ts,
	})
}
