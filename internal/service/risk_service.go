package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/tradepipe/internal/bus"
	"github.com/aristath/tradepipe/internal/config"
	"github.com/aristath/tradepipe/internal/riskmath"
	"github.com/aristath/tradepipe/internal/store"
)

// RiskService is the reader on signals, writer on approved_signals
// (spec.md §4.4). It is single-reader by construction: ConsumeLoop
// processes one message to completion before consuming the next, so
// open_risk always reflects every prior approval.
type RiskService struct {
	Base
	inStream      string
	outStream     string
	positions     *store.PositionRepository
	accountStates *store.AccountStateRepository
	cfg           config.RiskConfig
	accountID     string
}

// NewRiskService wires a RiskService against its risk configuration.
func NewRiskService(b bus.Bus, log zerolog.Logger, inStream, outStream string, positions *store.PositionRepository, accountStates *store.AccountStateRepository, cfg config.RiskConfig, accountID string) *RiskService {
	return &RiskService{
		Base:          Base{Log: log.With().Str("service", "risk").Logger(), Bus: b},
		inStream:      inStream,
		outStream:     outStream,
		positions:     positions,
		accountStates: accountStates,
		cfg:           cfg,
		accountID:     accountID,
	}
}

// Run consumes signals, applies the risk gates, and republishes approved
// signals with risk_approved: true.
func (s *RiskService) Run(ctx context.Context) {
	ConsumeLoop(ctx, &s.Base, s.inStream, bus.NewOnly, 1000, func(msg bus.Message) error {
		return s.handleSignal(ctx, msg.Event)
	})
}

func (s *RiskService) handleSignal(ctx context.Context, event bus.Event) error {
	strategyName, _ := event.Payload["strategy"].(string)
	exchangeName, _ := event.Payload["exchange"].(string)
	symbol, _ := event.Payload["symbol"].(string)
	risk, _ := event.Payload["risk"].(map[string]interface{})
	if risk == nil {
		s.Log.Warn().Str("strategy", strategyName).Str("symbol", symbol).Msg("signal missing risk block, dropping")
		return nil
	}
	stopDistance, ok1 := risk["stop_distance"].(float64)
	positionSize, ok2 := risk["position_size"].(float64)
	if !ok1 || !ok2 {
		s.Log.Warn().Str("strategy", strategyName).Str("symbol", symbol).Msg("signal missing stop_distance/position_size, dropping")
		return nil
	}

	equity := s.equity()
	openRisk, err := s.sumOpenRisk()
	if err != nil {
		return fmt.Errorf("failed to sum open risk: %w", err)
	}
	candidateRisk := stopDistance * positionSize

	state := riskmath.PortfolioState{
		Equity:             equity,
		OpenRisk:           openRisk + candidateRisk,
		DailyLoss:          s.dailyLoss(equity),
		CumulativeDrawdown: s.cumulativeDrawdown(equity),
	}

	if breaker := riskmath.ApplyCircuitBreakers(state, s.cfg.CircuitBreakers.DailyLoss, s.cfg.CircuitBreakers.TotalDrawdown, s.cfg.MaxPortfolioHeat); breaker != riskmath.BreakerNone {
		s.Log.Warn().Str("strategy", strategyName).Str("symbol", symbol).Str("breaker", string(breaker)).Msg("signal rejected by circuit breaker")
		return nil
	}
	if riskmath.ExceedsLeverage(positionSize, equity, s.cfg.MaxLeverage) {
		s.Log.Warn().Str("strategy", strategyName).Str("symbol", symbol).Msg("signal_rejected_leverage")
		return nil
	}

	approved := bus.Event{Type: "approved_signal", Payload: cloneMap(event.Payload)}
	approved.Payload["risk_approved"] = true
	approved.Payload["exchange"] = exchangeName

	if _, err := s.Bus.Publish(ctx, s.outStream, approved); err != nil {
		return fmt.Errorf("approved_signal publish failed: %w", err)
	}
	return nil
}

func (s *RiskService) sumOpenRisk() (float64, error) {
	positions, err := s.positions.ListOpen()
	if err != nil {
		return 0, err
	}
	var total float64
	for _, p := range positions {
		total += p.Risk()
	}
	return total, nil
}

func (s *RiskService) equity() float64 {
	if s.accountStates != nil {
		if state, err := s.accountStates.Latest(s.accountID); err == nil && state != nil {
			return state.Equity
		}
	}
	return s.cfg.PlaceholderEquity
}

func (s *RiskService) dailyLoss(currentEquity float64) float64 {
	if s.accountStates == nil {
		return 0
	}
	dayStart := time.Now().UTC().Truncate(24 * time.Hour)
	equityAtDayStart, found, err := s.accountStates.EquityAt(s.accountID, dayStart)
	if err != nil || !found {
		return 0
	}
	return currentEquity - equityAtDayStart
}

func (s *RiskService) cumulativeDrawdown(currentEquity float64) float64 {
	if s.accountStates == nil {
		return 0
	}
	peak, found, err := s.accountStates.PeakEquity(s.accountID)
	if err != nil || !found {
		return 0
	}
	return currentEquity - peak
}

func cloneMap(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
