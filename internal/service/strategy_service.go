package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/aristath/tradepipe/internal/bus"
	"github.com/aristath/tradepipe/internal/config"
	"github.com/aristath/tradepipe/internal/store"
	"github.com/aristath/tradepipe/internal/strategy"
	"github.com/aristath/tradepipe/internal/timeutil"
)

// strategyKey identifies one (strategy, exchange, symbol) history buffer.
type strategyKey struct {
	Strategy string
	Exchange string
	Symbol   string
}

// StrategyService is the single reader on market_data and multi-writer on
// signals (spec.md §4.3). It evaluates every configured strategy
// independently against each market tick.
type StrategyService struct {
	Base
	inStream        string
	outStream       string
	strategies      []strategyConfig
	accountStates   *store.AccountStateRepository
	placeholderEq   float64
	mu              sync.Mutex
	histories       map[strategyKey]*strategy.History
}

// strategyConfig pairs a configured strategy instance with its evaluation
// parameters.
type strategyConfig struct {
	Name   string
	Params strategy.Params
}

// BuildStrategyConfigs turns config.yaml's risk- and strategy-section
// entries into the parameter sets NewStrategyService needs, layering each
// strategy's `parameters` map over strategy.DefaultParams() and the
// risk.max_risk_per_trade / risk.volatility_targeting settings shared by
// every strategy instance.
func BuildStrategyConfigs(strategies []config.StrategyConfig, risk config.RiskConfig) []strategyConfig {
	out := make([]strategyConfig, 0, len(strategies))
	for _, sc := range strategies {
		if !sc.Enabled {
			continue
		}
		params := strategy.DefaultParams()
		params.MaxRiskPerTrade = risk.MaxRiskPerTrade
		params.VolatilityTargeting = risk.VolatilityTargeting.Enabled
		params.TargetPortfolioVol = risk.VolatilityTargeting.TargetPortfolioVol
		params.AnnualizationFactor = 1.0

		if v, ok := numericParam(sc.Parameters, "fast_ma_period"); ok {
			params.FastMAPeriod = int(v)
		}
		if v, ok := numericParam(sc.Parameters, "slow_ma_period"); ok {
			params.SlowMAPeriod = int(v)
		}
		if v, ok := numericParam(sc.Parameters, "atr_period"); ok {
			params.ATRPeriod = int(v)
		}
		if v, ok := numericParam(sc.Parameters, "atr_multiplier"); ok {
			params.ATRMultiplier = v
		}
		if v, ok := numericParam(sc.Parameters, "annualization_factor"); ok {
			params.AnnualizationFactor = v
		}

		out = append(out, strategyConfig{Name: sc.Name, Params: params})
	}
	return out
}

// numericParam reads key from a YAML-decoded parameters map, which may
// hold the value as either int or float64 depending on how it was written
// in config.yaml.
func numericParam(m map[string]interface{}, key string) (float64, bool) {
	v, ok := m[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}

// NewStrategyService wires a StrategyService against the given strategy
// instances.
func NewStrategyService(b bus.Bus, log zerolog.Logger, inStream, outStream string, strategies []strategyConfig, accountStates *store.AccountStateRepository, placeholderEquity float64) *StrategyService {
	return &StrategyService{
		Base:          Base{Log: log.With().Str("service", "strategy").Logger(), Bus: b},
		inStream:      inStream,
		outStream:     outStream,
		strategies:    strategies,
		accountStates: accountStates,
		placeholderEq: placeholderEquity,
		histories:     make(map[strategyKey]*strategy.History),
	}
}

// Run consumes market_data and emits one signal event per (strategy,
// exchange, symbol) evaluation that produces a decision.
func (s *StrategyService) Run(ctx context.Context) {
	ConsumeLoop(ctx, &s.Base, s.inStream, bus.NewOnly, 1000, func(msg bus.Message) error {
		return s.handleMarketData(ctx, msg.Event)
	})
}

func (s *StrategyService) handleMarketData(ctx context.Context, event bus.Event) error {
	exchangeName, _ := event.Payload["exchange"].(string)
	symbol, _ := event.Payload["symbol"].(string)
	data, _ := event.Payload["data"].([]interface{})
	if exchangeName == "" || symbol == "" || len(data) == 0 {
		return fmt.Errorf("market_data event missing exchange/symbol/data")
	}

	lastClose, ok := closeFromCandleRow(data[len(data)-1])
	if !ok {
		return fmt.Errorf("market_data event has malformed candle row")
	}

	for _, strat := range s.strategies {
		key := strategyKey{Strategy: strat.Name, Exchange: exchangeName, Symbol: symbol}

		s.mu.Lock()
		hist, ok := s.histories[key]
		if !ok {
			hist = strategy.NewHistory()
			s.histories[key] = hist
		}
		hist.Push(lastClose)
		s.mu.Unlock()

		equity := s.equityFor()
		sig := strategy.Evaluate(strat.Name, exchangeName, symbol, hist, strat.Params, equity)
		if sig.Decision == strategy.DecisionNone {
			continue
		}

		event := bus.Event{
			Type: "signal",
			Payload: map[string]interface{}{
				"strategy":     sig.Strategy,
				"exchange":     sig.Exchange,
				"symbol":       sig.Symbol,
				"decision":     string(sig.Decision),
				"price":        lastClose,
				"timestamp_ns": float64(timeutil.Now().UnixNano()),
				"risk": map[string]interface{}{
					"stop_distance": sig.StopDistance,
					"position_size": sig.PositionSize,
				},
			},
		}
		if _, err := s.Bus.Publish(ctx, s.outStream, event); err != nil {
			s.Log.Error().Err(err).Str("strategy", strat.Name).Str("symbol", symbol).Msg("signal publish failed")
		}
	}
	return nil
}

// equityFor returns the account's latest recorded equity, falling back to
// the configured placeholder when no AccountState has been persisted yet
// (spec.md §4.3's "equity=100000 placeholder").
func (s *StrategyService) equityFor() float64 {
	if s.accountStates != nil {
		if state, err := s.accountStates.Latest("primary"); err == nil && state != nil {
			return state.Equity
		}
	}
	return s.placeholderEq
}

// closeFromCandleRow extracts the close price (index 4) from a decoded
// [ts, o, h, l, c, v] JSON array.
func closeFromCandleRow(row interface{}) (float64, bool) {
	arr, ok := row.([]interface{})
	if !ok || len(arr) < 5 {
		return 0, false
	}
	close, ok := arr[4].(float64)
	return close, ok
}
