package machine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/vendsys/vendomat/internal/vending"
)

type mockJournal struct {
	mock.Mock
}

func (m *mockJournal) RecordSale(ctx context.Context, sale SaleRecord) error {
	args := m.Called(ctx, sale)
	return args.Error(0)
}

func (m *mockJournal) RecordRefund(ctx context.Context, refund RefundRecord) error {
	args := m.Called(ctx, refund)
	return args.Error(0)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testInventory(t *testing.T) *vending.Inventory {
	t.Helper()

	inv, err := vending.NewInventory(10)
	require.NoError(t, err)
	require.NoError(t, inv.AddItem(vending.Item{Type: vending.TypeCoke, PriceCents: 12}, 102))
	require.NoError(t, inv.AddItem(vending.Item{Type: vending.TypeJuice, PriceCents: 30}, 103))

	return inv
}

func TestMachine_StartsIdle(t *testing.T) {
	m := New(testInventory(t), testLogger(), nil, nil)

	assert.Equal(t, StateIdle, m.State())
	assert.Empty(t, m.Coins())
}

func TestMachine_InsertCoinAccumulates(t *testing.T) {
	testCases := []struct {
		name     string
		coins    []vending.Coin
		expected int
	}{
		{name: "no coins", coins: nil, expected: 0},
		{name: "single quarter", coins: []vending.Coin{vending.Quarter}, expected: 25},
		{name: "nickel then quarter", coins: []vending.Coin{vending.Nickel, vending.Quarter}, expected: 30},
		{name: "quarter then nickel", coins: []vending.Coin{vending.Quarter, vending.Nickel}, expected: 30},
		{name: "all denominations", coins: []vending.Coin{vending.Penny, vending.Nickel, vending.Dime, vending.Quarter}, expected: 41},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			m := New(testInventory(t), testLogger(), nil, nil)
			m.InsertCoinButton()

			for _, c := range tc.coins {
				m.InsertCoin(c)
			}

			assert.Equal(t, tc.expected, m.Balance())
			assert.Equal(t, StateHasMoney, m.State())
		})
	}
}

func TestMachine_InsertCoinButton_AssignsSession(t *testing.T) {
	m := New(testInventory(t), testLogger(), nil, nil)

	require.Empty(t, m.SessionID())

	m.InsertCoinButton()
	first := m.SessionID()
	require.NotEmpty(t, first)

	// pressing again mid-session is ignored and keeps the session
	m.InsertCoinButton()
	assert.Equal(t, first, m.SessionID())

	m.RefundFullMoney(context.Background())
	m.InsertCoinButton()
	assert.NotEqual(t, first, m.SessionID())
}

func TestMachine_RejectsUnknownCoin(t *testing.T) {
	m := New(testInventory(t), testLogger(), nil, nil)
	m.InsertCoinButton()

	m.InsertCoin(vending.Coin(3))

	assert.Equal(t, 0, m.Balance())
	assert.Empty(t, m.Coins())
}

func TestMachine_RefundFullMoney(t *testing.T) {
	m := New(testInventory(t), testLogger(), nil, nil)
	m.InsertCoinButton()
	m.InsertCoin(vending.Dime)
	m.InsertCoin(vending.Quarter)

	refund := m.RefundFullMoney(context.Background())

	assert.Equal(t, vending.CoinList{vending.Dime, vending.Quarter}, refund)
	assert.Equal(t, StateIdle, m.State())
	assert.Empty(t, m.Coins())
}

func TestMachine_ChooseProduct_Dispenses(t *testing.T) {
	inv := testInventory(t)
	m := New(inv, testLogger(), nil, nil)

	m.InsertCoinButton()
	m.InsertCoin(vending.Nickel)
	m.InsertCoin(vending.Quarter)
	m.StartSelection()

	item, change, err := m.ChooseProduct(context.Background(), 102)

	require.NoError(t, err)
	assert.Equal(t, vending.TypeCoke, item.Type)
	assert.Equal(t, 18, change)
	assert.Equal(t, StateIdle, m.State())
	assert.Empty(t, m.Coins())

	_, err = inv.GetItem(102)
	assert.ErrorIs(t, err, vending.ErrItemNotAvailable, "shelf 102 should be sold out after dispense")
}

func TestMachine_ChooseProduct_ExactPayment(t *testing.T) {
	inv := testInventory(t)
	require.NoError(t, inv.AddItem(vending.Item{Type: vending.TypeSoda, PriceCents: 30}, 104))
	m := New(inv, testLogger(), nil, nil)

	m.InsertCoinButton()
	m.InsertCoin(vending.Quarter)
	m.InsertCoin(vending.Nickel)
	m.StartSelection()

	item, change, err := m.ChooseProduct(context.Background(), 104)

	require.NoError(t, err)
	assert.Equal(t, vending.TypeSoda, item.Type)
	assert.Equal(t, 0, change)
	assert.Equal(t, StateIdle, m.State())
}

func TestMachine_ChooseProduct_InsufficientPayment(t *testing.T) {
	m := New(testInventory(t), testLogger(), nil, nil)

	m.InsertCoinButton()
	m.InsertCoin(vending.Nickel)
	m.StartSelection()

	_, _, err := m.ChooseProduct(context.Background(), 102)

	var insufficientErr *InsufficientPaymentError
	require.ErrorAs(t, err, &insufficientErr)
	assert.Equal(t, 12, insufficientErr.RequiredCents)
	assert.Equal(t, 5, insufficientErr.PaidCents)
	assert.Equal(t, vending.CoinList{vending.Nickel}, insufficientErr.Refund)

	assert.Equal(t, StateIdle, m.State())
	assert.Empty(t, m.Coins())
}

func TestMachine_ChooseProduct_InvalidCode(t *testing.T) {
	m := New(testInventory(t), testLogger(), nil, nil)

	m.InsertCoinButton()
	m.InsertCoin(vending.Quarter)
	m.StartSelection()

	_, _, err := m.ChooseProduct(context.Background(), 999)

	require.ErrorIs(t, err, ErrInvalidCode)
	assert.Equal(t, StateSelection, m.State(), "invalid code must not leave Selection")
	assert.Equal(t, 25, m.Balance(), "coins must survive an invalid code")
}

func TestMachine_ChooseProduct_SoldOut(t *testing.T) {
	inv := testInventory(t)
	require.NoError(t, inv.MarkSoldOut(103))
	m := New(inv, testLogger(), nil, nil)

	m.InsertCoinButton()
	m.InsertCoin(vending.Quarter)
	m.InsertCoin(vending.Quarter)
	m.StartSelection()

	_, _, err := m.ChooseProduct(context.Background(), 103)

	require.ErrorIs(t, err, ErrSoldOut)
	assert.Equal(t, StateSelection, m.State())
	assert.Equal(t, 50, m.Balance())
}

func TestMachine_SecondPurchaseOfSameShelfIsSoldOut(t *testing.T) {
	m := New(testInventory(t), testLogger(), nil, nil)
	ctx := context.Background()

	m.InsertCoinButton()
	m.InsertCoin(vending.Quarter)
	m.StartSelection()
	_, _, err := m.ChooseProduct(ctx, 102)
	require.NoError(t, err)

	m.InsertCoinButton()
	m.InsertCoin(vending.Quarter)
	m.StartSelection()
	_, _, err = m.ChooseProduct(ctx, 102)

	assert.ErrorIs(t, err, ErrSoldOut, "a dispensed shelf must stay sold out regardless of payment")
}

func TestMachine_IllegalEventsAreNoOps(t *testing.T) {
	ctx := context.Background()

	testCases := []struct {
		name  string
		setup func(m *Machine)
		event func(m *Machine)
		state State
	}{
		{
			name:  "insert coin while idle",
			setup: func(m *Machine) {},
			event: func(m *Machine) { m.InsertCoin(vending.Quarter) },
			state: StateIdle,
		},
		{
			name:  "start selection while idle",
			setup: func(m *Machine) {},
			event: func(m *Machine) { m.StartSelection() },
			state: StateIdle,
		},
		{
			name:  "choose product while idle",
			setup: func(m *Machine) {},
			event: func(m *Machine) { _, _, _ = m.ChooseProduct(ctx, 102) },
			state: StateIdle,
		},
		{
			name:  "refund while idle",
			setup: func(m *Machine) {},
			event: func(m *Machine) { _ = m.RefundFullMoney(ctx) },
			state: StateIdle,
		},
		{
			name: "choose product while has money",
			setup: func(m *Machine) {
				m.InsertCoinButton()
				m.InsertCoin(vending.Quarter)
			},
			event: func(m *Machine) { _, _, _ = m.ChooseProduct(ctx, 102) },
			state: StateHasMoney,
		},
		{
			name: "refund while selection",
			setup: func(m *Machine) {
				m.InsertCoinButton()
				m.InsertCoin(vending.Quarter)
				m.StartSelection()
			},
			event: func(m *Machine) { _ = m.RefundFullMoney(ctx) },
			state: StateSelection,
		},
		{
			name: "insert coin button while selection",
			setup: func(m *Machine) {
				m.InsertCoinButton()
				m.InsertCoin(vending.Quarter)
				m.StartSelection()
			},
			event: func(m *Machine) { m.InsertCoinButton() },
			state: StateSelection,
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			m := New(testInventory(t), testLogger(), nil, nil)
			tc.setup(m)
			balance := m.Balance()

			tc.event(m)

			assert.Equal(t, tc.state, m.State(), "state must be unchanged")
			assert.Equal(t, balance, m.Balance(), "coin list must be unchanged")
		})
	}
}

func TestMachine_ChooseProductWhileIdleReturnsNothing(t *testing.T) {
	m := New(testInventory(t), testLogger(), nil, nil)

	item, change, err := m.ChooseProduct(context.Background(), 102)

	assert.NoError(t, err)
	assert.Zero(t, item)
	assert.Zero(t, change)
}

func TestMachine_JournalsSale(t *testing.T) {
	journal := &mockJournal{}
	journal.On("RecordSale", mock.Anything, mock.MatchedBy(func(sale SaleRecord) bool {
		return sale.Code == 102 &&
			sale.Item.Type == vending.TypeCoke &&
			sale.PaidCents == 30 &&
			sale.ChangeCents == 18 &&
			sale.SessionID != ""
	})).Return(nil).Once()

	m := New(testInventory(t), testLogger(), nil, journal)

	m.InsertCoinButton()
	m.InsertCoin(vending.Nickel)
	m.InsertCoin(vending.Quarter)
	m.StartSelection()

	_, _, err := m.ChooseProduct(context.Background(), 102)

	require.NoError(t, err)
	journal.AssertExpectations(t)
}

func TestMachine_JournalsRefunds(t *testing.T) {
	testCases := []struct {
		name   string
		drive  func(m *Machine)
		reason string
		amount int
	}{
		{
			name: "customer refund",
			drive: func(m *Machine) {
				m.InsertCoinButton()
				m.InsertCoin(vending.Dime)
				_ = m.RefundFullMoney(context.Background())
			},
			reason: RefundReasonCustomer,
			amount: 10,
		},
		{
			name: "insufficient payment refund",
			drive: func(m *Machine) {
				m.InsertCoinButton()
				m.InsertCoin(vending.Nickel)
				m.StartSelection()
				_, _, _ = m.ChooseProduct(context.Background(), 102)
			},
			reason: RefundReasonInsufficient,
			amount: 5,
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			journal := &mockJournal{}
			journal.On("RecordRefund", mock.Anything, mock.MatchedBy(func(record RefundRecord) bool {
				return record.Reason == tc.reason && record.AmountCents == tc.amount
			})).Return(nil).Once()

			m := New(testInventory(t), testLogger(), nil, journal)
			tc.drive(m)

			journal.AssertExpectations(t)
		})
	}
}

func TestMachine_JournalFailureDoesNotBlockDispense(t *testing.T) {
	journal := &mockJournal{}
	journal.On("RecordSale", mock.Anything, mock.Anything).
		Return(errors.New("journal down")).Once()

	m := New(testInventory(t), testLogger(), nil, journal)

	m.InsertCoinButton()
	m.InsertCoin(vending.Quarter)
	m.StartSelection()

	item, change, err := m.ChooseProduct(context.Background(), 102)

	require.NoError(t, err, "dispense must not fail when the journal does")
	assert.Equal(t, vending.TypeCoke, item.Type)
	assert.Equal(t, 13, change)
	journal.AssertExpectations(t)
}

func TestMachine_ShelfLock(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	t.Cleanup(cleanup)

	m := New(testInventory(t), testLogger(), client, nil)
	ctx := context.Background()

	m.InsertCoinButton()
	m.InsertCoin(vending.Quarter)
	m.StartSelection()

	// simulate another dispenser holding the lock for shelf 102
	require.NoError(t, client.SetNX(ctx, "shelf:lock:102", 1, shelfLockTTL).Err())

	_, _, err := m.ChooseProduct(ctx, 102)
	require.ErrorIs(t, err, ErrShelfLocked)
	assert.Equal(t, StateSelection, m.State())

	require.NoError(t, client.Del(ctx, "shelf:lock:102").Err())

	item, change, err := m.ChooseProduct(ctx, 102)
	require.NoError(t, err)
	assert.Equal(t, vending.TypeCoke, item.Type)
	assert.Equal(t, 13, change)

	exists, err := client.Exists(ctx, "shelf:lock:102").Result()
	require.NoError(t, err)
	assert.Zero(t, exists, "lock must be released after dispense")
}

func setupTestRedis(t *testing.T) (*redis.Client, func()) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})

	cleanup := func() {
		_ = client.Close()
		mr.Close()
	}

	return client, cleanup
}
