// Package gateway 市场服务对下游服务的出站适配：
// 进程内直连与 HTTP/JSON 远程调用两套实现，撮合侧只依赖网关接口。
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"github.com/stockforge/stocksim/internal/market/application"
	"github.com/stockforge/stocksim/pkg/apperr"
	"github.com/stockforge/stocksim/pkg/config"
)

type body struct {
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// decode 解析统一应答：成功时反序列化 data，失败时还原错误分类
func decode(resp *resty.Response, err error, out any) error {
	if err != nil {
		var ne interface{ Timeout() bool }
		if errors.As(err, &ne) && ne.Timeout() || errors.Is(err, context.DeadlineExceeded) {
			return apperr.Wrap(apperr.KindDeadlineExceeded, "downstream call timed out", err)
		}
		return apperr.Wrap(apperr.KindInternal, "downstream call failed", err)
	}
	var b body
	if uerr := json.Unmarshal(resp.Body(), &b); uerr != nil {
		return apperr.Wrap(apperr.KindInternal,
			fmt.Sprintf("malformed response (status %d)", resp.StatusCode()), uerr)
	}
	if resp.StatusCode() != http.StatusOK || b.Code != "OK" {
		return apperr.New(apperr.ParseKind(b.Code), b.Message)
	}
	if out != nil && len(b.Data) > 0 {
		if uerr := json.Unmarshal(b.Data, out); uerr != nil {
			return apperr.Wrap(apperr.KindInternal, "malformed response data", uerr)
		}
	}
	return nil
}

func newClient(baseURL string, cfg config.ServicesConfig) *resty.Client {
	timeout := time.Duration(cfg.RequestTimeout) * time.Millisecond
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")
}

// HTTPPortfolioGateway 通过投资者服务的 HTTP 接口完成预检与结算
type HTTPPortfolioGateway struct {
	client *resty.Client
}

func NewHTTPPortfolioGateway(cfg config.ServicesConfig) *HTTPPortfolioGateway {
	return &HTTPPortfolioGateway{client: newClient(cfg.InvestorAddr, cfg)}
}

func (g *HTTPPortfolioGateway) ValidateOrder(ctx context.Context, investorID, symbol, side string, qty int64, price decimal.Decimal) error {
	resp, err := g.client.R().SetContext(ctx).
		SetBody(map[string]any{
			"investor_id": investorID,
			"symbol":      symbol,
			"side":        side,
			"qty":         qty,
			"price":       price,
		}).
		Post("/api/v1/investors/validate")
	return decode(resp, err, nil)
}

func (g *HTTPPortfolioGateway) SettleExecution(ctx context.Context, executionID string, buy, sell application.TradeLeg) error {
	leg := func(l application.TradeLeg) map[string]any {
		return map[string]any{
			"investor_id": l.InvestorID,
			"symbol":      l.Symbol,
			"signed_qty":  l.SignedQty,
			"price":       l.Price,
		}
	}
	resp, err := g.client.R().SetContext(ctx).
		SetBody(map[string]any{
			"execution_id": executionID,
			"buy":          leg(buy),
			"sell":         leg(sell),
		}).
		Post("/api/v1/investors/settlements")
	return decode(resp, err, nil)
}

// HTTPPricingGateway 通过价格引擎的 HTTP 接口查价与调价
type HTTPPricingGateway struct {
	client *resty.Client
}

func NewHTTPPricingGateway(cfg config.ServicesConfig) *HTTPPricingGateway {
	return &HTTPPricingGateway{client: newClient(cfg.PricingAddr, cfg)}
}

func (g *HTTPPricingGateway) Apply(ctx context.Context, symbol string, qty int64, isBuy bool, impact float64) error {
	resp, err := g.client.R().SetContext(ctx).
		SetBody(map[string]any{
			"symbol": symbol,
			"qty":    qty,
			"is_buy": isBuy,
			"impact": impact,
		}).
		Post("/api/v1/pricing/apply")
	return decode(resp, err, nil)
}

func (g *HTTPPricingGateway) GetPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	var stock struct {
		Current decimal.Decimal `json:"current"`
	}
	resp, err := g.client.R().SetContext(ctx).Get("/api/v1/pricing/price/" + symbol)
	if derr := decode(resp, err, &stock); derr != nil {
		return decimal.Zero, derr
	}
	return stock.Current, nil
}

// HTTPAnalyticsGateway 向分析服务投递成交记录
type HTTPAnalyticsGateway struct {
	client *resty.Client
}

func NewHTTPAnalyticsGateway(cfg config.ServicesConfig) *HTTPAnalyticsGateway {
	return &HTTPAnalyticsGateway{client: newClient(cfg.AnalyticsAddr, cfg)}
}

func (g *HTTPAnalyticsGateway) RecordTrade(ctx context.Context, rec application.TradeRecord) error {
	resp, err := g.client.R().SetContext(ctx).
		SetBody(rec).
		Post("/api/v1/analytics/trades")
	return decode(resp, err, nil)
}
