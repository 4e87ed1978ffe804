package application

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stockforge/stocksim/internal/investor/domain"
	"github.com/stockforge/stocksim/internal/investor/infrastructure/persistence"
	"github.com/stockforge/stocksim/pkg/apperr"
	"github.com/stockforge/stocksim/pkg/db"
)

func newService(t *testing.T) *InvestorService {
	t.Helper()
	gdb, err := db.OpenInMemory()
	require.NoError(t, err)
	repo, err := persistence.NewInvestorRepository(gdb)
	require.NoError(t, err)
	return NewInvestorService(repo, nil)
}

func mustRegister(t *testing.T, svc *InvestorService, name, email string, balance int64) *domain.Investor {
	t.Helper()
	inv, err := svc.Register(context.Background(), name, email, decimal.NewFromInt(balance))
	require.NoError(t, err)
	return inv
}

func TestRegisterThenGetRoundTrip(t *testing.T) {
	svc := newService(t)
	inv := mustRegister(t, svc, "Ada", "ada@example.com", 10000)

	got, err := svc.Get(context.Background(), inv.InvestorID)
	require.NoError(t, err)
	assert.Equal(t, inv.InvestorID, got.InvestorID)
	assert.Equal(t, "Ada", got.Name)
	assert.Equal(t, "ada@example.com", got.Email)
	assert.True(t, got.Balance.Equal(decimal.NewFromInt(10000)))
}

func TestRegisterEmailTaken(t *testing.T) {
	svc := newService(t)
	mustRegister(t, svc, "Ada", "ada@example.com", 100)

	_, err := svc.Register(context.Background(), "Imposter", "ADA@example.com", decimal.Zero)
	assert.True(t, apperr.Is(err, apperr.KindConflict))
}

func TestRegisterValidation(t *testing.T) {
	svc := newService(t)
	_, err := svc.Register(context.Background(), "", "x@example.com", decimal.Zero)
	assert.True(t, apperr.Is(err, apperr.KindValidation))
	_, err = svc.Register(context.Background(), "Bob", "not-an-email", decimal.Zero)
	assert.True(t, apperr.Is(err, apperr.KindValidation))
	_, err = svc.Register(context.Background(), "Bob", "bob@example.com", decimal.NewFromInt(-1))
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestAdjustBalanceFloor(t *testing.T) {
	svc := newService(t)
	inv := mustRegister(t, svc, "Ada", "ada@example.com", 100)
	ctx := context.Background()

	_, err := svc.AdjustBalance(ctx, inv.InvestorID, decimal.NewFromInt(-200), "withdraw")
	assert.True(t, apperr.Is(err, apperr.KindInsufficientFunds))

	after, err := svc.AdjustBalance(ctx, inv.InvestorID, decimal.NewFromInt(-100), "withdraw")
	require.NoError(t, err)
	assert.True(t, after.Balance.IsZero())
}

func TestApplyTradeWeightedAverage(t *testing.T) {
	svc := newService(t)
	inv := mustRegister(t, svc, "Ada", "ada@example.com", 100000)
	ctx := context.Background()

	require.NoError(t, svc.ApplyTrade(ctx, inv.InvestorID, "AAPL", 10, decimal.NewFromInt(100), "t1"))
	require.NoError(t, svc.ApplyTrade(ctx, inv.InvestorID, "AAPL", 10, decimal.NewFromInt(200), "t2"))

	entries, err := svc.GetPortfolio(ctx, inv.InvestorID, nil)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, int64(20), entries[0].Qty)
	assert.True(t, entries[0].AvgPrice.Equal(decimal.NewFromInt(150)),
		"weighted average, got %s", entries[0].AvgPrice)

	// 卖出不改变成本价
	require.NoError(t, svc.ApplyTrade(ctx, inv.InvestorID, "AAPL", -5, decimal.NewFromInt(300), "t3"))
	entries, err = svc.GetPortfolio(ctx, inv.InvestorID, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(15), entries[0].Qty)
	assert.True(t, entries[0].AvgPrice.Equal(decimal.NewFromInt(150)))
}

func TestApplyTradeBuyThenSellRoundTrip(t *testing.T) {
	svc := newService(t)
	inv := mustRegister(t, svc, "Ada", "ada@example.com", 5000)
	ctx := context.Background()

	require.NoError(t, svc.ApplyTrade(ctx, inv.InvestorID, "AAPL", 10, decimal.NewFromInt(150), "rt-buy"))
	require.NoError(t, svc.ApplyTrade(ctx, inv.InvestorID, "AAPL", -10, decimal.NewFromInt(150), "rt-sell"))

	got, err := svc.Get(ctx, inv.InvestorID)
	require.NoError(t, err)
	assert.True(t, got.Balance.Equal(decimal.NewFromInt(5000)), "cash must be unchanged, got %s", got.Balance)

	entries, err := svc.GetPortfolio(ctx, inv.InvestorID, nil)
	require.NoError(t, err)
	assert.Empty(t, entries, "holding must be garbage-collected at qty 0")
}

func TestApplyTradeIdempotentOnTxID(t *testing.T) {
	svc := newService(t)
	inv := mustRegister(t, svc, "Ada", "ada@example.com", 5000)
	ctx := context.Background()

	require.NoError(t, svc.ApplyTrade(ctx, inv.InvestorID, "AAPL", 10, decimal.NewFromInt(100), "dup"))
	require.NoError(t, svc.ApplyTrade(ctx, inv.InvestorID, "AAPL", 10, decimal.NewFromInt(100), "dup"))

	got, err := svc.Get(ctx, inv.InvestorID)
	require.NoError(t, err)
	assert.True(t, got.Balance.Equal(decimal.NewFromInt(4000)), "duplicate tx must not double-apply")
}

func TestApplyTradeInsufficientShares(t *testing.T) {
	svc := newService(t)
	inv := mustRegister(t, svc, "Ada", "ada@example.com", 5000)
	err := svc.ApplyTrade(context.Background(), inv.InvestorID, "AAPL", -10, decimal.NewFromInt(100), "t1")
	assert.True(t, apperr.Is(err, apperr.KindInsufficientShares))
}

func TestSettleExecutionMovesCashSymmetrically(t *testing.T) {
	svc := newService(t)
	buyer := mustRegister(t, svc, "Buyer", "b@example.com", 10000)
	seller := mustRegister(t, svc, "Seller", "s@example.com", 0)
	ctx := context.Background()

	// 卖方先建仓
	require.NoError(t, svc.ApplyTrade(ctx, seller.InvestorID, "AAPL", 100, decimal.Zero, "seed"))

	err := svc.SettleExecution(ctx, "exec-1",
		TradeLeg{InvestorID: buyer.InvestorID, Symbol: "AAPL", SignedQty: 10, Price: decimal.NewFromInt(151)},
		TradeLeg{InvestorID: seller.InvestorID, Symbol: "AAPL", SignedQty: -10, Price: decimal.NewFromInt(151)},
	)
	require.NoError(t, err)

	b, err := svc.Get(ctx, buyer.InvestorID)
	require.NoError(t, err)
	sl, err := svc.Get(ctx, seller.InvestorID)
	require.NoError(t, err)

	// 现金守恒：买卖双方余额变化之和为零
	assert.True(t, b.Balance.Equal(decimal.NewFromInt(10000-1510)), "buyer balance %s", b.Balance)
	assert.True(t, sl.Balance.Equal(decimal.NewFromInt(1510)), "seller balance %s", sl.Balance)

	// 幂等重试不重复落账
	require.NoError(t, svc.SettleExecution(ctx, "exec-1",
		TradeLeg{InvestorID: buyer.InvestorID, Symbol: "AAPL", SignedQty: 10, Price: decimal.NewFromInt(151)},
		TradeLeg{InvestorID: seller.InvestorID, Symbol: "AAPL", SignedQty: -10, Price: decimal.NewFromInt(151)},
	))
	b2, err := svc.Get(ctx, buyer.InvestorID)
	require.NoError(t, err)
	assert.True(t, b2.Balance.Equal(b.Balance))
}

func TestSettleExecutionAtomicOnFailure(t *testing.T) {
	svc := newService(t)
	buyer := mustRegister(t, svc, "Buyer", "b@example.com", 10000)
	seller := mustRegister(t, svc, "Seller", "s@example.com", 0)
	ctx := context.Background()

	// 卖方没有持仓，第二条腿必然失败，第一条腿必须回滚
	err := svc.SettleExecution(ctx, "exec-bad",
		TradeLeg{InvestorID: buyer.InvestorID, Symbol: "AAPL", SignedQty: 10, Price: decimal.NewFromInt(151)},
		TradeLeg{InvestorID: seller.InvestorID, Symbol: "AAPL", SignedQty: -10, Price: decimal.NewFromInt(151)},
	)
	assert.True(t, apperr.Is(err, apperr.KindInsufficientShares))

	b, err := svc.Get(ctx, buyer.InvestorID)
	require.NoError(t, err)
	assert.True(t, b.Balance.Equal(decimal.NewFromInt(10000)), "buyer leg must be rolled back")

	entries, err := svc.GetPortfolio(ctx, buyer.InvestorID, nil)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestValidateOrder(t *testing.T) {
	svc := newService(t)
	inv := mustRegister(t, svc, "Ada", "ada@example.com", 100)
	ctx := context.Background()

	err := svc.ValidateOrder(ctx, inv.InvestorID, "AAPL", "BUY", 10, decimal.NewFromInt(150))
	assert.True(t, apperr.Is(err, apperr.KindInsufficientFunds))

	err = svc.ValidateOrder(ctx, inv.InvestorID, "AAPL", "SELL", 1, decimal.NewFromInt(150))
	assert.True(t, apperr.Is(err, apperr.KindInsufficientShares))

	err = svc.ValidateOrder(ctx, inv.InvestorID, "AAPL", "HOLD", 1, decimal.NewFromInt(1))
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	// 市价买单以 0 价预检：只要求余额非负
	assert.NoError(t, svc.ValidateOrder(ctx, inv.InvestorID, "AAPL", "BUY", 10, decimal.Zero))
}

func TestTransactionsNewestFirst(t *testing.T) {
	svc := newService(t)
	inv := mustRegister(t, svc, "Ada", "ada@example.com", 100000)
	ctx := context.Background()

	for i, tx := range []string{"t1", "t2", "t3"} {
		require.NoError(t, svc.ApplyTrade(ctx, inv.InvestorID, "AAPL", int64(i+1), decimal.NewFromInt(100), tx))
	}

	records, err := svc.Transactions(ctx, domain.TxQuery{InvestorID: inv.InvestorID, Limit: 2})
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "t3", records[0].TxID)
	assert.Equal(t, "t2", records[1].TxID)
}

func TestGetPortfolioDecoratesPrices(t *testing.T) {
	svc := newService(t)
	inv := mustRegister(t, svc, "Ada", "ada@example.com", 100000)
	ctx := context.Background()

	require.NoError(t, svc.ApplyTrade(ctx, inv.InvestorID, "AAPL", 10, decimal.NewFromInt(100), "t1"))

	entries, err := svc.GetPortfolio(ctx, inv.InvestorID, map[string]decimal.Decimal{
		"AAPL": decimal.NewFromInt(120),
	})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].CurrentValue.Equal(decimal.NewFromInt(1200)))
	assert.True(t, entries[0].ProfitLoss.Equal(decimal.NewFromInt(200)))
}
