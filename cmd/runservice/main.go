// Command runservice launches one of the trading pipeline's long-lived
// services per spec.md §6's CLI contract:
// run_service <data|strategy|risk|execution|reconciliation|monitor> [--log-level LEVEL].
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/aristath/tradepipe/internal/bus"
	"github.com/aristath/tradepipe/internal/config"
	"github.com/aristath/tradepipe/internal/database"
	"github.com/aristath/tradepipe/internal/exchange"
	"github.com/aristath/tradepipe/internal/service"
	"github.com/aristath/tradepipe/internal/store"
	"github.com/aristath/tradepipe/pkg/logger"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: run_service <data|strategy|risk|execution|reconciliation|monitor> [--log-level LEVEL] [--config PATH]")
		os.Exit(1)
	}
	verb := os.Args[1]

	fs := flag.NewFlagSet("run_service", flag.ExitOnError)
	logLevel := fs.String("log-level", "", "override app.log_level from config")
	configPath := fs.String("config", "config/config.yaml", "path to the YAML configuration file")
	monitorPort := fs.Int("monitor-port", 8080, "HTTP port for the monitor service")
	_ = fs.Parse(os.Args[2:])

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	level := cfg.App.LogLevel
	if *logLevel != "" {
		level = *logLevel
	}
	log := logger.New(logger.Config{Level: level, Pretty: cfg.App.Environment != "production"})
	log.Info().Str("service", verb).Msg("starting run_service")

	ctx, cancel := context.WithCancel(context.Background())
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-signals
		log.Info().Msg("shutdown signal received")
		cancel()
	}()

	if err := run(ctx, verb, cfg, log, *monitorPort); err != nil {
		log.Error().Err(err).Str("service", verb).Msg("service exited with error")
		os.Exit(1)
	}
	log.Info().Str("service", verb).Msg("service stopped cleanly")
}

func run(ctx context.Context, verb string, cfg *config.Settings, log zerolog.Logger, monitorPort int) error {
	if verb == "monitor" {
		// MonitorService needs no database or bus connection.
		service.NewMonitorService(log, monitorPort).Run(ctx)
		return nil
	}

	db, err := database.New(cfg.Database)
	if err != nil {
		return fmt.Errorf("database setup failed: %w", err)
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	messageBus, err := newBus(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("bus setup failed: %w", err)
	}
	defer messageBus.Close()

	exchanges := buildExchangeAdapters(cfg.Exchanges)
	for name, adapter := range exchanges {
		if cfg2 := exchangeConfig(cfg.Exchanges, name); cfg2 != nil {
			adapter.SetSandboxMode(cfg2.Sandbox)
		}
	}

	orders := store.NewOrderRepository(db.Conn(), log)
	positions := store.NewPositionRepository(db.Conn(), log)
	accountStates := store.NewAccountStateRepository(db.Conn(), log)

	switch verb {
	case "data":
		service.NewDataService(messageBus, log, cfg.Redis.Streams.MarketData, exchanges, cfg.Exchanges).Run(ctx)
	case "strategy":
		strategies := service.BuildStrategyConfigs(cfg.Strategies, cfg.Risk)
		service.NewStrategyService(messageBus, log, cfg.Redis.Streams.MarketData, cfg.Redis.Streams.Signals, strategies, accountStates, cfg.Risk.PlaceholderEquity).Run(ctx)
	case "risk":
		service.NewRiskService(messageBus, log, cfg.Redis.Streams.Signals, cfg.Redis.Streams.ApprovedSignals, positions, accountStates, cfg.Risk, "primary").Run(ctx)
	case "execution":
		service.NewExecutionService(messageBus, log, cfg.Redis.Streams.ApprovedSignals, cfg.Redis.Streams.Reconciliations, orders, positions, exchanges, cfg.App.DryRun).Run(ctx)
	case "reconciliation":
		service.NewReconciliationService(messageBus, log, cfg.Redis.Streams.Reconciliations, positions, exchanges, cfg.Reconciliation.IntervalSeconds, cfg.Reconciliation.AutoRepair).Run(ctx)
	default:
		return fmt.Errorf("unknown service %q", verb)
	}
	return nil
}

// newBus selects the Redis-backed bus when redis.enabled is true, falling
// back to the in-process bus otherwise (spec.md §4.1 treats both as
// interchangeable Bus implementations).
func newBus(ctx context.Context, cfg *config.Settings, log zerolog.Logger) (bus.Bus, error) {
	if !cfg.Redis.Enabled {
		log.Warn().Msg("redis.enabled is false: using the in-process bus, which does not survive a process restart")
		return bus.NewMemoryBus(), nil
	}
	return bus.NewRedisBus(ctx, cfg.Redis.URL, cfg.Redis.ClientName)
}

// buildExchangeAdapters constructs one adapter per configured exchange.
// spec.md §6 treats the real venue client as an abstract capability never
// implemented in core; every configured exchange is served by the
// deterministic MockAdapter until a concrete venue SDK is wired in.
func buildExchangeAdapters(exchanges []config.ExchangeConfig) map[string]exchange.Adapter {
	out := make(map[string]exchange.Adapter, len(exchanges))
	for _, ec := range exchanges {
		out[ec.Name] = exchange.NewMockAdapter()
	}
	return out
}

func exchangeConfig(exchanges []config.ExchangeConfig, name string) *config.ExchangeConfig {
	for i := range exchanges {
		if exchanges[i].Name == name {
			return &exchanges[i]
		}
	}
	return nil
}
