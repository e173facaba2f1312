package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/vendsys/vendomat/internal/database"
	apperrors "github.com/vendsys/vendomat/internal/errors"
	"github.com/vendsys/vendomat/internal/health"
	"github.com/vendsys/vendomat/internal/journal"
	"github.com/vendsys/vendomat/internal/lifecycle"
	"github.com/vendsys/vendomat/internal/machine"
	"github.com/vendsys/vendomat/internal/vending"
	"github.com/vendsys/vendomat/pkg/config"
	"github.com/vendsys/vendomat/pkg/graceful"
	"github.com/vendsys/vendomat/pkg/logger"
	"github.com/vendsys/vendomat/pkg/metrics"
	redisclient "github.com/vendsys/vendomat/pkg/redis"

	_ "github.com/lib/pq"
)

const defaultShutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "vendomat: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, v, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if cfg.Sentry.Enabled {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         cfg.Sentry.DSN,
			Environment: cfg.AppEnv,
		}); err != nil {
			return fmt.Errorf("init sentry: %w", err)
		}
		defer sentry.Flush(2 * time.Second)
	}

	log := logger.New(*cfg)
	slog.SetDefault(log)

	log.Info("starting vendomat",
		slog.String("env", cfg.AppEnv),
		slog.Int("shelf_capacity", cfg.Machine.ShelfCapacity),
		slog.Int("prefill_items", len(cfg.Inventory.Prefill)),
	)

	inventory, err := buildInventory(cfg, log)
	if err != nil {
		return fmt.Errorf("build inventory: %w", err)
	}

	config.Watch(v, log, func(next *config.Config) {
		restock(inventory, next.Inventory.Prefill, log)
	})

	shutdown := lifecycle.NewShutdown(log)

	redisClient, err := redisclient.New(ctx, cfg.Redis)
	if err != nil {
		log.Warn("redis unavailable, shelf locking disabled", slog.Any("error", err))
		redisClient = nil
	}
	if redisClient != nil {
		shutdown.Register("redis", func(context.Context) error {
			return redisClient.Close()
		})
	}

	db, vendJournal, err := openJournal(ctx, cfg.Journal, log)
	if err != nil {
		return err
	}
	if db != nil {
		shutdown.Register("journal_db", func(context.Context) error {
			return db.Close()
		})
	}

	var machineJournal machine.Journal
	if vendJournal != nil {
		machineJournal = vendJournal
	}
	vendingMachine := machine.New(inventory, log, redisClient, machineJournal)

	checker := health.NewChecker(log)
	checker.AddCheck("machine", health.NewMachineChecker(vendingMachine))
	if db != nil {
		checker.AddCheck("journal_db", health.NewDBChecker(db))
	}
	if redisClient != nil {
		checker.AddCheck("redis", health.NewRedisChecker(redisClient))
	}

	collector := metrics.NewInventoryCollector(inventory, 10*time.Second)
	go collector.Run(ctx)

	srv := newOperatorServer(cfg.HTTP, checker, vendJournal, log)
	serverDone := make(chan error, 1)
	go func() {
		serverDone <- srv.ListenAndServe(ctx)
	}()

	if cfg.Demo {
		runDemo(ctx, vendingMachine, cfg, log)
	}

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()

	if err := shutdown.Execute(shutdownCtx); err != nil {
		log.Error("shutdown finished with errors", slog.Any("error", err))
	}

	if err := <-serverDone; err != nil {
		return err
	}

	log.Info("vendomat stopped")
	return nil
}

func buildInventory(cfg *config.Config, log *slog.Logger) (*vending.Inventory, error) {
	codeBase := cfg.Machine.CodeBase
	if codeBase == 0 {
		codeBase = vending.DefaultCodeBase
	}

	inventory, err := vending.NewInventoryWithBase(cfg.Machine.ShelfCapacity, codeBase)
	if err != nil {
		return nil, err
	}

	restock(inventory, cfg.Inventory.Prefill, log)
	return inventory, nil
}

// restock applies the configured price list, also serving config hot reloads.
func restock(inventory *vending.Inventory, prefill []config.PrefillItem, log *slog.Logger) {
	for _, entry := range prefill {
		item := vending.Item{
			Type:       vending.ItemType(entry.Type),
			PriceCents: entry.PriceCents,
		}
		if err := inventory.AddItem(item, entry.Code); err != nil {
			log.Warn("skipping prefill entry",
				slog.Int("code", entry.Code),
				slog.String("type", entry.Type),
				slog.Any("error", err),
			)
			continue
		}

		log.Info("shelf stocked",
			slog.Int("code", entry.Code),
			slog.String("type", entry.Type),
			slog.Int("price_cents", entry.PriceCents),
		)
	}
}

func openJournal(ctx context.Context, cfg config.JournalConfig, log *slog.Logger) (*sql.DB, *journal.SQLJournal, error) {
	if !cfg.Enabled {
		return nil, nil, nil
	}

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("open journal database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("ping journal database: %w", err)
	}

	migrationsDir := cfg.MigrationsDir
	if migrationsDir == "" {
		migrationsDir = "migrations"
	}

	migrator := database.NewMigrator(db, log)
	if err := migrator.ApplyDir(ctx, migrationsDir); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("apply journal migrations: %w", err)
	}

	return db, journal.NewSQLJournal(db, log), nil
}

func newOperatorServer(cfg config.HTTPConfig, checker *health.Checker, vendJournal *journal.SQLJournal, log *slog.Logger) *graceful.Server {
	addr := cfg.Addr
	if addr == "" {
		addr = ":9090"
	}

	shutdownTimeout := cfg.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = defaultShutdownTimeout
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/healthz", checker.Handler())
	if vendJournal != nil {
		mux.Handle("/stats", statsHandler(vendJournal))
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           logger.Middleware(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}

	return graceful.NewServer(log, srv, shutdownTimeout)
}

// statsHandler reports journaled sales totals for the operator.
func statsHandler(vendJournal *journal.SQLJournal) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		count, revenueCents, err := vendJournal.SalesTotal(r.Context())
		if err != nil {
			http.Error(w, "stats unavailable", http.StatusServiceUnavailable)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]int{
			"sales_count":   count,
			"revenue_cents": revenueCents,
		})
	})
}

// runDemo drives the machine through the canonical customer flow: press the
// coin button, pay 30 cents, buy the product on shelf 102, collect change.
func runDemo(ctx context.Context, m *machine.Machine, cfg *config.Config, log *slog.Logger) {
	display := apperrors.NewHandler(log, cfg.Sentry.Enabled)

	m.InsertCoinButton()
	m.InsertCoin(vending.Nickel)
	m.InsertCoin(vending.Quarter)
	m.StartSelection()

	code := vending.DefaultCodeBase + 1
	item, change, err := m.ChooseProduct(ctx, code)
	if err != nil {
		metrics.RecordTransaction(transactionResult(err))

		var insufficient *machine.InsufficientPaymentError
		if errors.As(err, &insufficient) {
			metrics.RecordRefund(insufficient.Refund.Total())
		}

		message, retryable := display.Handle(ctx, apperrors.FromMachine(code, err))
		log.Info("demo purchase failed", slog.String("display", message), slog.Bool("retryable", retryable))
		return
	}

	metrics.RecordTransaction(metrics.ResultDispensed)
	metrics.RecordChange(change)

	log.Info("demo purchase complete",
		slog.String("item", string(item.Type)),
		slog.Int("change_cents", change),
		slog.String("state", string(m.State())),
	)
}

func transactionResult(err error) string {
	switch feErr := apperrors.FromMachine(0, err); feErr.Code {
	case "E101":
		return metrics.ResultInvalidCode
	case "E102":
		return metrics.ResultSoldOut
	case "E103":
		return metrics.ResultInsufficient
	default:
		return "error"
	}
}
