package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vendsys/vendomat/internal/machine"
	"github.com/vendsys/vendomat/internal/vending"
)

// Transaction results recorded by RecordTransaction.
const (
	ResultDispensed    = "dispensed"
	ResultRefunded     = "refunded"
	ResultInsufficient = "insufficient_payment"
	ResultSoldOut      = "sold_out"
	ResultInvalidCode  = "invalid_code"
)

var (
	coinsInsertedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vend_coins_inserted_total",
			Help: "Total number of coins inserted labeled by denomination",
		},
		[]string{"coin"},
	)
	coinsInsertedCents = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vend_coins_inserted_cents_total",
			Help: "Total value of inserted coins in cents",
		},
	)
	transactionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vend_transactions_total",
			Help: "Total number of finished transactions labeled by result",
		},
		[]string{"result"},
	)
	changeReturnedCents = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vend_change_returned_cents_total",
			Help: "Total change returned to customers in cents",
		},
	)
	refundedCents = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vend_refunded_cents_total",
			Help: "Total refunded coin value in cents",
		},
	)
	stateTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vend_state_transitions_total",
			Help: "Total number of state machine transitions",
		},
		[]string{"from", "to"},
	)
	errorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vend_errors_total",
			Help: "Total number of errors split by type and severity",
		},
		[]string{"type", "severity"},
	)
	shelvesSoldOut = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vend_shelves_sold_out",
			Help: "Current number of shelves with nothing dispensable",
		},
	)
)

func init() {
	machine.RegisterTransitionRecorder(RecordStateTransition)
	machine.RegisterCoinRecorder(RecordCoin)
}

// Handler exposes the prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordCoin counts an inserted coin and its value.
func RecordCoin(coin string, cents int) {
	if coin == "" {
		coin = "unknown"
	}

	coinsInsertedTotal.WithLabelValues(coin).Inc()
	coinsInsertedCents.Add(float64(cents))
}

// RecordTransaction counts a finished transaction by result.
func RecordTransaction(result string) {
	if result == "" {
		result = "unknown"
	}

	transactionsTotal.WithLabelValues(result).Inc()
}

// RecordChange adds dispensed change to the running total.
func RecordChange(cents int) {
	if cents <= 0 {
		return
	}

	changeReturnedCents.Add(float64(cents))
}

// RecordRefund adds refunded coin value to the running total.
func RecordRefund(cents int) {
	if cents <= 0 {
		return
	}

	refundedCents.Add(float64(cents))
}

// RecordStateTransition tracks FSM transitions.
func RecordStateTransition(from, to string) {
	if from == "" {
		from = "unknown"
	}
	if to == "" {
		to = "unknown"
	}

	stateTransitionsTotal.WithLabelValues(from, to).Inc()
}

// RecordError increments error counters with metadata.
func RecordError(errType, severity string) {
	if errType == "" {
		errType = "unknown"
	}
	if severity == "" {
		severity = "unknown"
	}

	errorsTotal.WithLabelValues(errType, severity).Inc()
}

// InventoryCollector periodically gathers shelf availability and emits gauges.
type InventoryCollector struct {
	inventory *vending.Inventory
	interval  time.Duration
}

// NewInventoryCollector builds a collector bound to the provided inventory.
func NewInventoryCollector(inventory *vending.Inventory, interval time.Duration) *InventoryCollector {
	if interval <= 0 {
		interval = 10 * time.Second
	}

	return &InventoryCollector{
		inventory: inventory,
		interval:  interval,
	}
}

// Run polls the inventory until ctx is cancelled.
func (c *InventoryCollector) Run(ctx context.Context) {
	if c == nil || c.inventory == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	for {
		shelvesSoldOut.Set(float64(c.inventory.SoldOutCount()))

		select {
		case <-ctx.Done():
			return
		case <-time.After(c.interval):
		}
	}
}
