package domain

import (
	"context"
	"time"
)

// TxQuery 流水查询条件
type TxQuery struct {
	InvestorID string
	Start      *time.Time
	End        *time.Time
	Limit      int
}

// Repository 投资者侧仓储接口。InTx 内的实现绑定到同一个存储事务，
// 结算的双边落账依赖它保证两腿同时生效或同时失效。
type Repository interface {
	CreateInvestor(ctx context.Context, inv *Investor) error
	GetInvestor(ctx context.Context, investorID string) (*Investor, error)
	SaveInvestor(ctx context.Context, inv *Investor) error

	GetHolding(ctx context.Context, investorID, symbol string) (*Holding, error)
	ListHoldings(ctx context.Context, investorID string) ([]*Holding, error)
	SaveHolding(ctx context.Context, h *Holding) error
	DeleteHolding(ctx context.Context, h *Holding) error

	AppendTransaction(ctx context.Context, tx *Transaction) error
	TransactionExists(ctx context.Context, txID string) (bool, error)
	Transactions(ctx context.Context, q TxQuery) ([]*Transaction, error)

	InTx(ctx context.Context, fn func(repo Repository) error) error
}
