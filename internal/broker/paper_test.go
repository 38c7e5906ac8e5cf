package broker

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mohith0505/NextGenAlgo/internal/domain"
	"github.com/Mohith0505/NextGenAlgo/internal/vault"
)

func newPaper(t *testing.T) (Adapter, Session) {
	t.Helper()
	a := NewPaperAdapterFactory()(Options{})
	sess, err := a.Connect(context.Background(), vault.Secrets{})
	require.NoError(t, err)
	return a, sess
}

func TestPaperMarketOrderFillsImmediately(t *testing.T) {
	a, sess := newPaper(t)

	res, err := a.Place(context.Background(), sess, PlaceIntent{
		Symbol:    "NIFTY24AUGFUT",
		Side:      domain.SideBuy,
		Quantity:  50,
		OrderType: domain.OrderMarket,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.OrderFilled, res.Status)
	assert.Regexp(t, `^PAPER-ORD-\d{6}$`, res.BrokerOrderID)

	positions, err := a.Positions(context.Background(), sess)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, int64(50), positions[0].NetQty)
}

func TestPaperLimitOrderRestsAndCancels(t *testing.T) {
	a, sess := newPaper(t)

	px := decimal.NewFromInt(220)
	res, err := a.Place(context.Background(), sess, PlaceIntent{
		Symbol:    "BANKNIFTY24AUGFUT",
		Side:      domain.SideBuy,
		Quantity:  15,
		OrderType: domain.OrderLimit,
		Price:     &px,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.OrderAccepted, res.Status)

	require.NoError(t, a.Cancel(context.Background(), sess, res.BrokerOrderID))

	// A cancelled order cannot be cancelled again.
	err = a.Cancel(context.Background(), sess, res.BrokerOrderID)
	f, ok := domain.AsBrokerFault(err)
	require.True(t, ok)
	assert.Equal(t, domain.CodeBrokerRejected, f.Code)
}

func TestPaperFillPriceIsDeterministic(t *testing.T) {
	a1, s1 := newPaper(t)
	a2, s2 := newPaper(t)

	intent := PlaceIntent{Symbol: "RELIANCE", Side: domain.SideBuy, Quantity: 1, OrderType: domain.OrderMarket}
	r1, err := a1.Place(context.Background(), s1, intent)
	require.NoError(t, err)
	r2, err := a2.Place(context.Background(), s2, intent)
	require.NoError(t, err)
	assert.Equal(t, r1.Metadata["fill_price"], r2.Metadata["fill_price"])
}

func TestPaperMarginDrawsDown(t *testing.T) {
	a, sess := newPaper(t)

	before, err := a.Margin(context.Background(), sess)
	require.NoError(t, err)

	px := decimal.NewFromInt(500)
	_, err = a.Place(context.Background(), sess, PlaceIntent{
		Symbol:    "TCS",
		Side:      domain.SideBuy,
		Quantity:  10,
		OrderType: domain.OrderMarket,
		Price:     &px,
	})
	require.NoError(t, err)

	after, err := a.Margin(context.Background(), sess)
	require.NoError(t, err)
	assert.True(t, after.Available.LessThan(before.Available))
	assert.True(t, after.Utilized.Equal(decimal.NewFromInt(5000)))
}

func TestPaperRejectsNonPositiveQuantity(t *testing.T) {
	a, sess := newPaper(t)
	_, err := a.Place(context.Background(), sess, PlaceIntent{Symbol: "X", Side: domain.SideBuy, OrderType: domain.OrderMarket})
	f, ok := domain.AsBrokerFault(err)
	require.True(t, ok)
	assert.Equal(t, domain.CodeBrokerRejected, f.Code)
}

func TestRegistryAliases(t *testing.T) {
	r := DefaultRegistry()

	for _, name := range []string{"paper_trading", "Paper", "angel one", "ANGELONE", "zerodha", "kite"} {
		a, err := r.Get(name, Options{})
		require.NoError(t, err, name)
		assert.NotNil(t, a)
	}

	_, err := r.Get("upstox", Options{})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	assert.Equal(t, []string{"angel_one", "dhan", "fyers", "paper_trading", "zerodha"}, r.Supported())
}

func TestPaperPartialCloseKeepsEntryPrice(t *testing.T) {
	a, sess := newPaper(t)

	buyPx := decimal.NewFromInt(100)
	_, err := a.Place(context.Background(), sess, PlaceIntent{
		Symbol: "NIFTY24AUGFUT", Side: domain.SideBuy, Quantity: 100,
		OrderType: domain.OrderMarket, Price: &buyPx,
	})
	require.NoError(t, err)

	sellPx := decimal.NewFromInt(120)
	_, err = a.Place(context.Background(), sess, PlaceIntent{
		Symbol: "NIFTY24AUGFUT", Side: domain.SideSell, Quantity: 40,
		OrderType: domain.OrderMarket, Price: &sellPx,
	})
	require.NoError(t, err)

	positions, err := a.Positions(context.Background(), sess)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, int64(60), positions[0].NetQty)
	assert.True(t, positions[0].AvgPrice.Equal(buyPx), "remainder keeps the entry price")
	assert.True(t, positions[0].PnL.Equal(decimal.NewFromInt(800)), "got %s", positions[0].PnL)
}

func TestPaperFlipRealizesAndReopens(t *testing.T) {
	a, sess := newPaper(t)

	buyPx := decimal.NewFromInt(100)
	_, err := a.Place(context.Background(), sess, PlaceIntent{
		Symbol: "NIFTY24AUGFUT", Side: domain.SideBuy, Quantity: 100,
		OrderType: domain.OrderMarket, Price: &buyPx,
	})
	require.NoError(t, err)

	sellPx := decimal.NewFromInt(120)
	_, err = a.Place(context.Background(), sess, PlaceIntent{
		Symbol: "NIFTY24AUGFUT", Side: domain.SideSell, Quantity: 150,
		OrderType: domain.OrderMarket, Price: &sellPx,
	})
	require.NoError(t, err)

	positions, err := a.Positions(context.Background(), sess)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, int64(-50), positions[0].NetQty)
	assert.True(t, positions[0].AvgPrice.Equal(sellPx), "flipped remainder opens at the fill price")
	assert.True(t, positions[0].PnL.Equal(decimal.NewFromInt(2000)), "only the closed quantity realises")
}
