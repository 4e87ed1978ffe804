package domain

import (
	"context"
	"time"
)

// TradeRepository 成交镜像仓储与统计读模型。
// 价格相关读取跨属主访问 stocks 与 price_history 表，均为只读。
type TradeRepository interface {
	Append(ctx context.Context, trades []*Trade) error
	HasExecution(ctx context.Context, executionID string) (bool, error)

	// TopTraded 自 since 起按 BUY 视角聚合量排名，量同按笔数排序
	TopTraded(ctx context.Context, since time.Time, limit int) ([]SymbolVolume, error)
	// Trades 按条件取成交镜像，时间升序
	Trades(ctx context.Context, q TradeQuery) ([]*Trade, error)
	// TotalsSince BUY 视角的成交笔数与总量
	TotalsSince(ctx context.Context, since time.Time) (trades, volume int64, err error)
	// DistinctSince 参与的投资者数与标的数（双视角）
	DistinctSince(ctx context.Context, since time.Time) (investors, symbols int64, err error)

	// Quotes 全部标的的现价快照
	Quotes(ctx context.Context) ([]StockQuote, error)
	// Quote 单一标的的现价快照
	Quote(ctx context.Context, symbol string) (*StockQuote, error)
	// HistorySince since 之后的价格采样，时间升序
	HistorySince(ctx context.Context, since time.Time) ([]PriceSample, error)
	// LastPrices 标的最近 n 个价格采样，时间升序
	LastPrices(ctx context.Context, symbol string, n int) ([]PriceSample, error)
}
