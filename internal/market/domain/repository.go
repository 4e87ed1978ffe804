package domain

import "context"

// OrderRepository 订单与成交仓储接口。orders 与 executions 表归撮合引擎独占写。
type OrderRepository interface {
	CreateOrder(ctx context.Context, o *Order) error
	SaveOrder(ctx context.Context, o *Order) error
	GetOrder(ctx context.Context, orderID string) (*Order, error)
	// OpenOrders 返回全部非终态订单，按到达顺序排序，重启时重建订单簿
	OpenOrders(ctx context.Context) ([]*Order, error)

	CreateExecution(ctx context.Context, e *Execution) error
	SaveExecution(ctx context.Context, e *Execution) error
	// ExecutionsForOrder 返回订单作为任意一方参与的全部成交
	ExecutionsForOrder(ctx context.Context, orderID string) ([]*Execution, error)
}
