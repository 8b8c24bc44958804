package service

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/tradepipe/internal/bus"
	"github.com/aristath/tradepipe/internal/domain"
	"github.com/aristath/tradepipe/internal/exchange"
	"github.com/aristath/tradepipe/internal/store"
)

// ReconciliationService audits every open Position against venue reality
// every interval. It never writes to the database beyond what its own
// audit needs and never calls the exchange's order-submission endpoint:
// repair is dispatched on the bus so ExecutionService stays the sole
// writer to the venue (spec.md §4.6, breaking the cyclic dependency the
// two services would otherwise have).
type ReconciliationService struct {
	Base
	outStream  string
	positions  *store.PositionRepository
	exchanges  map[string]exchange.Adapter
	interval   time.Duration
	autoRepair bool
}

// NewReconciliationService wires a ReconciliationService.
func NewReconciliationService(b bus.Bus, log zerolog.Logger, outStream string, positions *store.PositionRepository, exchanges map[string]exchange.Adapter, intervalSeconds int, autoRepair bool) *ReconciliationService {
	if intervalSeconds <= 0 {
		intervalSeconds = 30
	}
	return &ReconciliationService{
		Base:       Base{Log: log.With().Str("service", "reconciliation").Logger(), Bus: b},
		outStream:  outStream,
		positions:  positions,
		exchanges:  exchanges,
		interval:   time.Duration(intervalSeconds) * time.Second,
		autoRepair: autoRepair,
	}
}

// Run audits open positions every interval until Stop is called or ctx is
// canceled.
func (s *ReconciliationService) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.auditOnce(ctx)
	for !s.Stopping() {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.auditOnce(ctx)
		}
	}
}

func (s *ReconciliationService) auditOnce(ctx context.Context) {
	positions, err := s.positions.ListOpen()
	if err != nil {
		s.Log.Error().Err(err).Msg("failed to list open positions for reconciliation")
		return
	}

	for _, pos := range positions {
		adapter, ok := s.exchanges[pos.Exchange]
		if !ok {
			s.Log.Error().Str("exchange", pos.Exchange).Str("symbol", pos.Symbol).Msg("no adapter configured for open position's exchange")
			continue
		}
		s.auditPosition(ctx, adapter, pos)
	}
}

func (s *ReconciliationService) auditPosition(ctx context.Context, adapter exchange.Adapter, pos domain.Position) {
	venuePositions, err := adapter.FetchPositions(ctx, []string{pos.Symbol})
	if err != nil {
		s.Log.Error().Err(err).Str("symbol", pos.Symbol).Msg("failed to fetch venue positions")
		return
	}

	var venueQty float64
	found := false
	for _, vp := range venuePositions {
		if vp.Symbol == pos.Symbol {
			venueQty = vp.Quantity
			found = true
			break
		}
	}

	if !found {
		s.Log.Error().Str("symbol", pos.Symbol).Str("strategy", pos.Strategy).Msg("reconciliation: no matching exchange position for open local position")
		return
	}
	if venueQty == 0 {
		s.Log.Error().Str("symbol", pos.Symbol).Str("strategy", pos.Strategy).Msg("reconciliation: venue position closed but local position is still open")
		return
	}

	openOrders, err := adapter.FetchOpenOrders(ctx, pos.Symbol)
	if err != nil {
		s.Log.Error().Err(err).Str("symbol", pos.Symbol).Msg("failed to fetch venue open orders")
		return
	}

	if !hasReduceOnlyStop(openOrders) {
		s.Log.Error().Str("symbol", pos.Symbol).Str("strategy", pos.Strategy).Msg("reconciliation: no resting protective stop found for open position")
		if s.autoRepair {
			s.publishReinstallStop(ctx, pos)
		}
	}
}

func hasReduceOnlyStop(orders []exchange.VenueOrder) bool {
	for _, o := range orders {
		if o.ReduceOnly && strings.HasPrefix(o.Type, "stop") {
			return true
		}
	}
	return false
}

func (s *ReconciliationService) publishReinstallStop(ctx context.Context, pos domain.Position) {
	event := bus.Event{
		Type: "reinstall_stop",
		Payload: map[string]interface{}{
			"symbol":     pos.Symbol,
			"exchange":   pos.Exchange,
			"strategy":   pos.Strategy,
			"quantity":   pos.Quantity,
			"stop_price": pos.StopPrice,
		},
	}
	if _, err := s.Bus.Publish(ctx, s.outStream, event); err != nil {
		s.Log.Error().Err(err).Str("symbol", pos.Symbol).Msg("reinstall_stop publish failed")
	}
}
