package domain

import (
	"context"
	"time"
)

// HistoryQuery 价格历史查询条件
type HistoryQuery struct {
	Symbol string
	Start  *time.Time
	End    *time.Time
	// 最大返回条数，0 表示不限制
	Limit int
}

// StockRepository 标的与价格历史仓储接口
type StockRepository interface {
	Create(ctx context.Context, stock *Stock) error
	Save(ctx context.Context, stock *Stock) error
	Get(ctx context.Context, symbol string) (*Stock, error)
	List(ctx context.Context) ([]*Stock, error)
	AppendHistory(ctx context.Context, point *PricePoint) error
	// History 按时间倒序返回价格历史
	History(ctx context.Context, q HistoryQuery) ([]*PricePoint, error)
}
