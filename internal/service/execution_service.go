package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/tradepipe/internal/bus"
	"github.com/aristath/tradepipe/internal/domain"
	"github.com/aristath/tradepipe/internal/exchange"
	"github.com/aristath/tradepipe/internal/idutil"
	"github.com/aristath/tradepipe/internal/store"
)

// ExecutionService reads approved_signals, persists to orders/positions,
// and talks to the exchange adapter per symbol's exchange (spec.md §4.5).
type ExecutionService struct {
	Base
	inStream            string
	reconciliationStream string
	orders              *store.OrderRepository
	positions           *store.PositionRepository
	exchanges           map[string]exchange.Adapter
	dryRun              bool
}

// NewExecutionService wires an ExecutionService. dryRun mirrors
// app.dry_run: when true, every signal is recorded as a new order without
// any venue call and no stop is installed (spec.md §4.5).
func NewExecutionService(b bus.Bus, log zerolog.Logger, inStream, reconciliationStream string, orders *store.OrderRepository, positions *store.PositionRepository, exchanges map[string]exchange.Adapter, dryRun bool) *ExecutionService {
	return &ExecutionService{
		Base:                 Base{Log: log.With().Str("service", "execution").Logger(), Bus: b},
		inStream:             inStream,
		reconciliationStream: reconciliationStream,
		orders:               orders,
		positions:            positions,
		exchanges:            exchanges,
		dryRun:               dryRun,
	}
}

// Run consumes approved_signals and drives each one through the
// received -> validate -> submit -> install_stop -> update_position
// state machine, while a second loop handles reinstall_stop repair
// requests from ReconciliationService.
func (s *ExecutionService) Run(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		ConsumeLoop(ctx, &s.Base, s.reconciliationStream, bus.NewOnly, 1000, func(msg bus.Message) error {
			return s.handleReconciliation(ctx, msg.Event)
		})
		close(done)
	}()

	ConsumeLoop(ctx, &s.Base, s.inStream, bus.NewOnly, 1000, func(msg bus.Message) error {
		return s.handleApprovedSignal(ctx, msg.Event)
	})
	<-done
}

// handleReconciliation installs a replacement protective stop for a
// position the reconciler found uncovered.
func (s *ExecutionService) handleReconciliation(ctx context.Context, event bus.Event) error {
	if event.Type != "reinstall_stop" {
		return nil
	}
	symbol, _ := event.Payload["symbol"].(string)
	exchangeName, _ := event.Payload["exchange"].(string)
	strategyName, _ := event.Payload["strategy"].(string)
	quantity, _ := event.Payload["quantity"].(float64)
	stopPrice, _ := event.Payload["stop_price"].(float64)
	if symbol == "" || exchangeName == "" {
		return fmt.Errorf("reinstall_stop event missing symbol/exchange")
	}

	adapter, ok := s.exchanges[exchangeName]
	if !ok {
		return fmt.Errorf("no exchange adapter configured for %q", exchangeName)
	}

	pos, err := s.positions.GetOpen(symbol, exchangeName, strategyName)
	if err != nil {
		return fmt.Errorf("failed to load position for reinstall_stop: %w", err)
	}
	if pos == nil {
		s.Log.Warn().Str("symbol", symbol).Str("strategy", strategyName).Msg("reinstall_stop for a position that is no longer open, ignoring")
		return nil
	}

	side := domain.OrderSideBuy
	if quantity < 0 {
		side = domain.OrderSideSell
	}
	s.installStop(ctx, adapter, pos.ID, exchangeName, symbol, side, absFloat(quantity), stopPrice)
	return nil
}

func absFloat(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

func (s *ExecutionService) handleApprovedSignal(ctx context.Context, event bus.Event) error {
	strategyName, _ := event.Payload["strategy"].(string)
	exchangeName, _ := event.Payload["exchange"].(string)
	symbol, _ := event.Payload["symbol"].(string)
	decision, _ := event.Payload["decision"].(string)
	price, _ := event.Payload["price"].(float64)
	timestampNS, _ := event.Payload["timestamp_ns"].(float64)
	risk, _ := event.Payload["risk"].(map[string]interface{})
	if strategyName == "" || exchangeName == "" || symbol == "" || decision == "" || risk == nil {
		return fmt.Errorf("approved_signal event missing required fields")
	}
	stopDistance, _ := risk["stop_distance"].(float64)
	positionSize, _ := risk["position_size"].(float64)

	side := domain.OrderSideBuy
	if decision == "sell" {
		side = domain.OrderSideSell
	}

	// timestamp_ns comes from the originating signal, not processing time:
	// a redelivered approved_signal must re-derive the same client_order_id.
	clientOrderID := idutil.MakeClientOrderID(strategyName, symbol, string(side), int64(timestampNS), clientOrderNonce(event))

	order := domain.Order{
		ClientOrderID: clientOrderID,
		Strategy:      strategyName,
		Symbol:        symbol,
		Exchange:      exchangeName,
		Side:          side,
		Type:          domain.OrderTypeMarket,
		Quantity:      positionSize,
	}

	if s.dryRun {
		order.Status = domain.OrderStatusNew
		order.RawResponse, _ = json.Marshal(map[string]string{"status": "dry_run"})
		if _, err := s.orders.Upsert(order); err != nil {
			return fmt.Errorf("failed to persist dry-run order: %w", err)
		}
		s.Log.Info().Str("client_order_id", clientOrderID).Str("symbol", symbol).Msg("dry-run order recorded, no venue call")
		return nil
	}

	adapter, ok := s.exchanges[exchangeName]
	if !ok {
		return fmt.Errorf("no exchange adapter configured for %q", exchangeName)
	}

	order.Status = domain.OrderStatusPending
	if _, err := s.orders.Upsert(order); err != nil {
		return fmt.Errorf("failed to persist pending order: %w", err)
	}

	resp, err := adapter.CreateOrder(ctx, exchange.OrderRequest{
		Symbol:        symbol,
		Type:          string(domain.OrderTypeMarket),
		Side:          string(side),
		Amount:        positionSize,
		ClientOrderID: clientOrderID,
	})
	if err != nil {
		s.Log.Error().Err(err).Str("client_order_id", clientOrderID).Msg("venue order submission failed, order row left pending")
		return nil
	}

	// Venue acceptance is not a fill confirmation; the row stays pending
	// until a fill event or reconciliation confirms execution.
	order.ExternalOrderID = resp.ExternalOrderID
	order.RawResponse = resp.Raw
	if _, err := s.orders.Upsert(order); err != nil {
		return fmt.Errorf("failed to persist accepted order: %w", err)
	}

	stopPrice := stopPriceFor(side, price, stopDistance)
	position := domain.Position{
		Symbol:     symbol,
		Exchange:   exchangeName,
		Strategy:   strategyName,
		Quantity:   signedQuantity(side, positionSize),
		EntryPrice: price,
		StopPrice:  stopPrice,
	}
	// A redelivered approved_signal finds the position its first delivery
	// opened; update that row rather than insert a second open position.
	existing, err := s.positions.GetOpen(symbol, exchangeName, strategyName)
	if err != nil {
		return fmt.Errorf("failed to load open position: %w", err)
	}
	if existing != nil {
		position.ID = existing.ID
	}
	positionID, err := s.positions.Upsert(position)
	if err != nil {
		return fmt.Errorf("failed to persist position: %w", err)
	}

	s.installStop(ctx, adapter, positionID, exchangeName, symbol, side, positionSize, stopPrice)
	return nil
}

// installStop submits the mandatory protective stop after a successful
// entry. Failure is logged at error severity and leaves the position row
// with reduce_only_stop_installed = false for the reconciler to find and
// repair (spec.md §4.5); it is deliberately not transactional with order
// submission.
func (s *ExecutionService) installStop(ctx context.Context, adapter exchange.Adapter, positionID, exchangeName, symbol string, entrySide domain.OrderSide, size, stopPrice float64) {
	// positionID alone is the nonce here: the position is created exactly
	// once per entry, so this stays stable across retries of this call.
	stopClientID := idutil.MakeClientOrderID("stop", symbol, string(entrySide.Opposite()), 0, positionID)

	_, err := adapter.CreateOrder(ctx, exchange.OrderRequest{
		Symbol:        symbol,
		Type:          string(domain.OrderTypeStopMarket),
		Side:          string(entrySide.Opposite()),
		Amount:        size,
		StopPrice:     &stopPrice,
		ReduceOnly:    true,
		ClientOrderID: stopClientID,
	})
	if err != nil {
		s.Log.Error().Err(err).Str("position_id", positionID).Str("symbol", symbol).Msg("stop installation failed; position left without a protective stop")
		return
	}
	if err := s.positions.MarkStopInstalled(positionID, stopPrice); err != nil {
		s.Log.Error().Err(err).Str("position_id", positionID).Msg("failed to record stop installation")
	}
}

// stopPriceFor applies spec.md §4.5's sign convention: entry minus the
// distance for buys, entry plus it for sells.
func stopPriceFor(side domain.OrderSide, entry, stopDistance float64) float64 {
	if side == domain.OrderSideSell {
		return entry + stopDistance
	}
	return entry - stopDistance
}

func signedQuantity(side domain.OrderSide, size float64) float64 {
	if side == domain.OrderSideSell {
		return -size
	}
	return size
}

// clientOrderNonce extracts a stable per-signal nonce from the event so a
// redelivered approved_signal produces the same client_order_id. Falls
// back to the event type when the producer didn't attach one.
func clientOrderNonce(event bus.Event) string {
	if nonce, ok := event.Payload["nonce"].(string); ok && nonce != "" {
		return nonce
	}
	return event.Type
}
