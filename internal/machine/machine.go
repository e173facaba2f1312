// Package machine implements the vending transaction state machine: a single
// customer session that accumulates coins, selects a product, and ends in a
// dispense or a refund.
package machine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/vendsys/vendomat/internal/vending"
)

const (
	shelfLockKeyPattern = "shelf:lock:%d"
	shelfLockTTL        = 5 * time.Second
)

var (
	// ErrInvalidCode indicates the chosen product code has no shelf.
	ErrInvalidCode = errors.New("invalid product code")
	// ErrSoldOut indicates the chosen shelf has nothing dispensable.
	ErrSoldOut = errors.New("product sold out")
	// ErrShelfLocked indicates another dispense already holds the shelf lock.
	ErrShelfLocked = errors.New("shelf is locked, try again later")
)

// InsufficientPaymentError reports that the inserted coins do not cover the
// product price. It carries the refunded coins so the caller can return them
// to the customer.
type InsufficientPaymentError struct {
	RequiredCents int
	PaidCents     int
	Refund        vending.CoinList
}

func (e *InsufficientPaymentError) Error() string {
	return fmt.Sprintf("insufficient payment: paid %d cents, need %d cents", e.PaidCents, e.RequiredCents)
}

var (
	transitionRecorder = func(from, to string) {}
	coinRecorder       = func(coin string, cents int) {}
)

// RegisterTransitionRecorder allows external packages to observe FSM transitions.
func RegisterTransitionRecorder(recorder func(from, to string)) {
	if recorder == nil {
		transitionRecorder = func(string, string) {}
		return
	}

	transitionRecorder = recorder
}

// RegisterCoinRecorder allows external packages to observe inserted coins.
func RegisterCoinRecorder(recorder func(coin string, cents int)) {
	if recorder == nil {
		coinRecorder = func(string, int) {}
		return
	}

	coinRecorder = recorder
}

// Refund reasons passed to the journal.
const (
	RefundReasonCustomer     = "customer"
	RefundReasonInsufficient = "insufficient_payment"
)

// SaleRecord describes a completed dispense for the audit journal.
type SaleRecord struct {
	SessionID   string
	Code        int
	Item        vending.Item
	PaidCents   int
	ChangeCents int
	At          time.Time
}

// RefundRecord describes returned coins for the audit journal.
type RefundRecord struct {
	SessionID   string
	Coins       vending.CoinList
	AmountCents int
	Reason      string
	At          time.Time
}

// Journal records completed transactions. The machine never depends on the
// journal succeeding: money movement comes first, auditing is best effort.
type Journal interface {
	RecordSale(ctx context.Context, sale SaleRecord) error
	RecordRefund(ctx context.Context, refund RefundRecord) error
}

// Machine is the transaction context: current state, accumulated coins, and a
// reference to the externally owned inventory. One Machine exists per physical
// machine; events arrive from a single serialized caller, the mutex only
// guards the read-only surfaces (health, metrics) running beside it.
type Machine struct {
	mu          sync.Mutex
	inventory   *vending.Inventory
	log         *slog.Logger
	redisClient *redis.Client
	journal     Journal

	state     State
	coins     vending.CoinList
	sessionID string
}

// New creates a Machine in Idle over the provided inventory. The redis client
// enables the per-shelf dispense lock and may be nil; the journal records
// sales and refunds and may also be nil.
func New(inventory *vending.Inventory, log *slog.Logger, redisClient *redis.Client, journal Journal) *Machine {
	if log == nil {
		log = slog.Default()
	}

	return &Machine{
		inventory:   inventory,
		log:         log,
		redisClient: redisClient,
		journal:     journal,
		state:       StateIdle,
	}
}

// State returns the current resting state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Coins returns a copy of the coins accumulated in the current session.
func (m *Machine) Coins() vending.CoinList {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.coins.Clone()
}

// Balance returns the total value of the accumulated coins in cents.
func (m *Machine) Balance() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.coins.Total()
}

// SessionID returns the identifier of the current or most recent session.
func (m *Machine) SessionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessionID
}

// InsertCoinButton starts a new session. In any state other than Idle the
// press is ignored.
func (m *Machine) InsertCoinButton() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateIdle {
		m.log.Debug("insert coin button ignored", slog.String("state", string(m.state)))
		return
	}

	m.sessionID = uuid.NewString()
	m.transitionTo(StateHasMoney)
}

// InsertCoin appends a coin to the session. Outside HasMoney the coin is
// rejected untouched, as is any unknown denomination.
func (m *Machine) InsertCoin(coin vending.Coin) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateHasMoney {
		m.log.Debug("insert coin ignored", slog.String("state", string(m.state)), slog.String("coin", coin.String()))
		return
	}

	if !coin.Valid() {
		m.log.Warn("unknown coin rejected", slog.Int("value", coin.Cents()), slog.String("session_id", m.sessionID))
		return
	}

	m.coins = append(m.coins, coin)
	coinRecorder(coin.String(), coin.Cents())
	m.log.Debug("coin inserted",
		slog.String("coin", coin.String()),
		slog.Int("balance_cents", m.coins.Total()),
		slog.String("session_id", m.sessionID),
	)
}

// StartSelection moves the session to product selection. Ignored outside
// HasMoney.
func (m *Machine) StartSelection() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateHasMoney {
		m.log.Debug("start selection ignored", slog.String("state", string(m.state)))
		return
	}

	m.transitionTo(StateSelection)
}

// ChooseProduct attempts to dispense the product at code. On success it
// returns the item and the change in cents, marks the shelf sold out, and
// returns the machine to Idle. An unknown or sold-out code leaves the machine
// in Selection; an underpayment refunds the coins inside the returned
// *InsufficientPaymentError and resets to Idle. Outside Selection the call is
// a no-op.
func (m *Machine) ChooseProduct(ctx context.Context, code int) (vending.Item, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateSelection {
		m.log.Debug("choose product ignored", slog.String("state", string(m.state)), slog.Int("code", code))
		return vending.Item{}, 0, nil
	}

	if err := m.lockShelf(ctx, code); err != nil {
		return vending.Item{}, 0, err
	}
	defer m.unlockShelf(ctx, code)

	item, err := m.inventory.GetItem(code)
	if err != nil {
		switch {
		case errors.Is(err, vending.ErrUnknownCode):
			m.log.Warn("invalid product code", slog.Int("code", code), slog.String("session_id", m.sessionID))
			return vending.Item{}, 0, ErrInvalidCode
		case errors.Is(err, vending.ErrItemNotAvailable):
			m.log.Warn("product sold out", slog.Int("code", code), slog.String("session_id", m.sessionID))
			return vending.Item{}, 0, ErrSoldOut
		}
		return vending.Item{}, 0, err
	}

	paid := m.coins.Total()
	if paid < item.PriceCents {
		refund := m.resetCoins()
		m.transitionTo(StateIdle)
		m.recordRefund(ctx, refund, RefundReasonInsufficient)
		m.log.Info("payment insufficient, refunding",
			slog.Int("code", code),
			slog.Int("paid_cents", paid),
			slog.Int("price_cents", item.PriceCents),
			slog.String("session_id", m.sessionID),
		)
		return vending.Item{}, 0, &InsufficientPaymentError{
			RequiredCents: item.PriceCents,
			PaidCents:     paid,
			Refund:        refund,
		}
	}

	change := paid - item.PriceCents
	m.resetCoins()
	m.transitionTo(StateDispense)
	m.dispense(ctx, code, item, paid, change)
	m.transitionTo(StateIdle)

	return item, change, nil
}

// RefundFullMoney returns every coin inserted since the session started and
// resets to Idle. Outside HasMoney it returns nil and changes nothing.
func (m *Machine) RefundFullMoney(ctx context.Context) vending.CoinList {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateHasMoney {
		m.log.Debug("refund ignored", slog.String("state", string(m.state)))
		return nil
	}

	refund := m.resetCoins()
	m.transitionTo(StateIdle)
	m.recordRefund(ctx, refund, RefundReasonCustomer)
	m.log.Info("refund issued",
		slog.Int("amount_cents", refund.Total()),
		slog.Int("coin_count", len(refund)),
		slog.String("session_id", m.sessionID),
	)

	return refund
}

// dispense marks the shelf sold out and journals the sale. The shelf was just
// read under the same lock, so the mark cannot miss.
func (m *Machine) dispense(ctx context.Context, code int, item vending.Item, paid, change int) {
	if err := m.inventory.MarkSoldOut(code); err != nil {
		m.log.Error("failed to mark shelf sold out", slog.Int("code", code), slog.Any("error", err))
	}

	if m.journal != nil {
		sale := SaleRecord{
			SessionID:   m.sessionID,
			Code:        code,
			Item:        item,
			PaidCents:   paid,
			ChangeCents: change,
			At:          time.Now().UTC(),
		}
		if err := m.journal.RecordSale(ctx, sale); err != nil {
			m.log.Error("failed to journal sale", slog.Int("code", code), slog.Any("error", err))
		}
	}

	m.log.Info("product dispensed",
		slog.Int("code", code),
		slog.String("item", string(item.Type)),
		slog.Int("price_cents", item.PriceCents),
		slog.Int("change_cents", change),
		slog.String("session_id", m.sessionID),
	)
}

func (m *Machine) recordRefund(ctx context.Context, refund vending.CoinList, reason string) {
	if m.journal == nil {
		return
	}

	record := RefundRecord{
		SessionID:   m.sessionID,
		Coins:       refund,
		AmountCents: refund.Total(),
		Reason:      reason,
		At:          time.Now().UTC(),
	}
	if err := m.journal.RecordRefund(ctx, record); err != nil {
		m.log.Error("failed to journal refund", slog.String("reason", reason), slog.Any("error", err))
	}
}

// resetCoins empties the coin list and returns what it held. Every path back
// to Idle goes through here, which keeps the coin list empty on Idle entry.
func (m *Machine) resetCoins() vending.CoinList {
	coins := m.coins
	m.coins = nil
	return coins
}

func (m *Machine) transitionTo(to State) {
	from := m.state
	if !IsTransitionAllowed(from, to) {
		m.log.Error("transition not in table, refusing", slog.String("from", string(from)), slog.String("to", string(to)))
		return
	}

	m.state = to
	transitionRecorder(string(from), string(to))
}

func (m *Machine) lockShelf(ctx context.Context, code int) error {
	if m.redisClient == nil {
		return nil
	}

	key := fmt.Sprintf(shelfLockKeyPattern, code)
	acquired, err := m.redisClient.SetNX(ctx, key, 1, shelfLockTTL).Result()
	if err != nil {
		m.log.Error("failed to acquire shelf lock", slog.Int("code", code), slog.Any("error", err))
		return err
	}

	if !acquired {
		m.log.Warn("shelf lock already held", slog.Int("code", code))
		return ErrShelfLocked
	}

	return nil
}

func (m *Machine) unlockShelf(ctx context.Context, code int) {
	if m.redisClient == nil {
		return
	}

	key := fmt.Sprintf(shelfLockKeyPattern, code)
	if err := m.redisClient.Del(ctx, key).Err(); err != nil {
		m.log.Error("failed to release shelf lock", slog.Int("code", code), slog.Any("error", err))
	}
}
