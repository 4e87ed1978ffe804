package application

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/stockforge/stocksim/internal/market/domain"
	"github.com/stockforge/stocksim/pkg/apperr"
	"github.com/stockforge/stocksim/pkg/eventbus"
	"github.com/stockforge/stocksim/pkg/logger"
	"github.com/stockforge/stocksim/pkg/metrics"
)

// Engine 撮合引擎。每个标的由唯一的 Worker 串行处理进单、撤单与深度查询，
// 订单簿因此无需加锁；成交的结算在 Worker 内同步完成，保证同一标的上
// 下一张订单进入撮合前，上一笔成交已结算（或已被标记失败）。
type Engine struct {
	orders  domain.OrderRepository
	settle  *Settlement
	bus     *eventbus.Bus
	metrics *metrics.Metrics

	// 全局到达序号，跨标的单调递增
	seq atomic.Uint64

	mu      sync.Mutex
	workers map[string]*worker
	closed  bool
}

// worker 单标的撮合 Worker，独占其订单簿
type worker struct {
	symbol string
	book   *domain.OrderBook
	tasks  chan func()
	done   chan struct{}
}

func (w *worker) run() {
	defer close(w.done)
	for fn := range w.tasks {
		fn()
	}
}

// NewEngine 创建撮合引擎
func NewEngine(orders domain.OrderRepository, settle *Settlement, bus *eventbus.Bus, m *metrics.Metrics) *Engine {
	return &Engine{
		orders:  orders,
		settle:  settle,
		bus:     bus,
		metrics: m,
		workers: make(map[string]*worker),
	}
}

// Restore 从仓储重建订单簿。非终态订单按原到达顺序重新挂簿，
// 到达序号计数从历史最大值之后继续。
func (e *Engine) Restore(ctx context.Context) error {
	open, err := e.orders.OpenOrders(ctx)
	if err != nil {
		return err
	}
	for _, o := range open {
		if o.ArrivalSeq > e.seq.Load() {
			e.seq.Store(o.ArrivalSeq)
		}
		w := e.workerFor(o.Symbol)
		order := o
		e.exec(ctx, w, func() { w.book.Insert(order) })
	}
	if len(open) > 0 {
		logger.Info(ctx, "order books restored", "open_orders", len(open))
	}
	return nil
}

func (e *Engine) workerFor(symbol string) *worker {
	e.mu.Lock()
	defer e.mu.Unlock()
	if w, ok := e.workers[symbol]; ok {
		return w
	}
	w := &worker{
		symbol: symbol,
		book:   domain.NewOrderBook(symbol),
		tasks:  make(chan func(), 64),
		done:   make(chan struct{}),
	}
	e.workers[symbol] = w
	go w.run()
	return w
}

// exec 在 Worker 上串行执行一个任务并等待完成
func (e *Engine) exec(ctx context.Context, w *worker, fn func()) error {
	finished := make(chan struct{})
	select {
	case w.tasks <- func() { fn(); close(finished) }:
	case <-ctx.Done():
		return apperr.Wrap(apperr.KindDeadlineExceeded, "matching queue full", ctx.Err())
	}
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		// 任务已入队，仍会被执行；调用方不再等待结果
		return apperr.Wrap(apperr.KindDeadlineExceeded, "matching timed out", ctx.Err())
	}
}

// Admit 接纳一张已通过预检并持久化为 PENDING 的订单：
// 赋到达序号、发布 ORDER_PLACED、挂簿并立即撮合。
// 返回时 o 反映撮合后的最终状态。
func (e *Engine) Admit(ctx context.Context, o *domain.Order) error {
	w := e.workerFor(o.Symbol)
	var taskErr error
	err := e.exec(ctx, w, func() {
		o.ArrivalSeq = e.seq.Add(1)
		if err := e.orders.SaveOrder(ctx, o); err != nil {
			taskErr = err
			return
		}
		e.publishOrder(eventbus.KindOrderPlaced, o)
		w.book.Insert(o)
		e.match(ctx, w)
	})
	if err != nil {
		return err
	}
	return taskErr
}

// Cancel 撤销投资者自己的非终态订单。撤单对已成交部分无影响。
func (e *Engine) Cancel(ctx context.Context, orderID, investorID string) (*domain.Order, error) {
	o, err := e.orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.InvestorID != investorID {
		return nil, apperr.Newf(apperr.KindNotFound, "order %s not found for investor %s", orderID, investorID)
	}
	if o.Status.Terminal() {
		return nil, apperr.Newf(apperr.KindConflict, "order %s already %s", orderID, o.Status)
	}

	w := e.workerFor(o.Symbol)
	var taskErr error
	var canceled *domain.Order
	err = e.exec(ctx, w, func() {
		// 任务与撮合串行，入队前后订单可能已被继续成交，以最新行为准
		live, err := e.orders.GetOrder(ctx, orderID)
		if err != nil {
			taskErr = err
			return
		}
		if live.Status.Terminal() {
			taskErr = apperr.Newf(apperr.KindConflict, "order %s already %s", orderID, live.Status)
			return
		}
		w.book.Remove(live)
		live.Status = domain.StatusCanceled
		if err := e.orders.SaveOrder(ctx, live); err != nil {
			taskErr = err
			return
		}
		e.publishOrder(eventbus.KindOrderCanceled, live)
		canceled = live
	})
	if err != nil {
		return nil, err
	}
	if taskErr != nil {
		return nil, taskErr
	}
	return canceled, nil
}

// Depth 返回标的的聚合深度快照。从未有订单的标的返回空快照。
func (e *Engine) Depth(ctx context.Context, symbol string, maxLevels int) (*domain.Snapshot, error) {
	e.mu.Lock()
	w, ok := e.workers[symbol]
	e.mu.Unlock()
	if !ok {
		return &domain.Snapshot{Symbol: symbol, Bids: []domain.DepthLevel{}, Asks: []domain.DepthLevel{}}, nil
	}
	var snap *domain.Snapshot
	if err := e.exec(ctx, w, func() { snap = w.book.Depth(maxLevels) }); err != nil {
		return nil, err
	}
	return snap, nil
}

// match 撮合循环：只要买一与卖一满足成交条件就持续出清。
// 仅在 Worker 协程内调用。
func (e *Engine) match(ctx context.Context, w *worker) {
	for {
		bid := w.book.BestBid()
		ask := w.book.BestAsk()
		if bid == nil || ask == nil {
			return
		}
		// 两张市价单之间无价格信号：任一侧存在限价单时以其价格出清，
		// 否则等待限价单进场
		if bid.IsMarket() && ask.IsMarket() {
			if la := w.book.BestLimitAsk(); la != nil {
				ask = la
			} else if lb := w.book.BestLimitBid(); lb != nil {
				bid = lb
			} else {
				return
			}
		}

		var price decimal.Decimal
		switch {
		case bid.IsMarket():
			price = ask.LimitPrice
		case ask.IsMarket():
			price = bid.LimitPrice
		default:
			if bid.LimitPrice.LessThan(ask.LimitPrice) {
				return
			}
			price = ask.LimitPrice
		}

		qty := bid.Remaining()
		if ask.Remaining() < qty {
			qty = ask.Remaining()
		}

		bid.ApplyFill(qty)
		ask.ApplyFill(qty)
		if bid.Status == domain.StatusFilled {
			w.book.Remove(bid)
		}
		if ask.Status == domain.StatusFilled {
			w.book.Remove(ask)
		}

		exec := &domain.Execution{
			ExecutionID:      uuid.NewString(),
			BuyOrderID:       bid.OrderID,
			SellOrderID:      ask.OrderID,
			Symbol:           w.symbol,
			Qty:              qty,
			Price:            price,
			Buyer:            bid.InvestorID,
			Seller:           ask.InvestorID,
			Ts:               time.Now(),
			BuyerAggressor:   buyerAggressor(bid, ask),
			SettlementStatus: domain.SettlementPending,
		}

		if err := e.orders.SaveOrder(ctx, bid); err != nil {
			logger.Error(ctx, "failed to persist buy fill", "order_id", bid.OrderID, "error", err)
		}
		if err := e.orders.SaveOrder(ctx, ask); err != nil {
			logger.Error(ctx, "failed to persist sell fill", "order_id", ask.OrderID, "error", err)
		}
		if err := e.orders.CreateExecution(ctx, exec); err != nil {
			logger.Error(ctx, "failed to persist execution", "execution_id", exec.ExecutionID, "error", err)
		}
		if e.metrics != nil {
			e.metrics.ExecutionsTotal.WithLabelValues(w.symbol).Inc()
		}

		// 同标的串行结算：失败已在协调器内标记并发布补偿事件，
		// 成交本身不回滚，继续撮合
		if err := e.settle.Settle(ctx, exec); err != nil {
			logger.Warn(ctx, "execution left unsettled",
				"execution_id", exec.ExecutionID, "symbol", w.symbol, "error", err)
		}
	}
}

// buyerAggressor 攻击方判定：市价单恒为攻击方，两张限价单时后到者为攻击方
func buyerAggressor(bid, ask *domain.Order) bool {
	if bid.IsMarket() != ask.IsMarket() {
		return bid.IsMarket()
	}
	return bid.ArrivalSeq > ask.ArrivalSeq
}

func (e *Engine) publishOrder(kind eventbus.Kind, o *domain.Order) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(eventbus.MarketEvent{
		Kind:     kind,
		OrderID:  o.OrderID,
		Symbol:   o.Symbol,
		Side:     string(o.Side),
		Qty:      o.Qty,
		Price:    o.LimitPrice,
		Investor: o.InvestorID,
		Ts:       time.Now(),
	})
}

// Close 停止全部 Worker 并等待在途任务完成
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	workers := make([]*worker, 0, len(e.workers))
	for _, w := range e.workers {
		workers = append(workers, w)
	}
	e.mu.Unlock()

	for _, w := range workers {
		close(w.tasks)
	}
	for _, w := range workers {
		<-w.done
	}
}
