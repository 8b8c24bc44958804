package service

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/tradepipe/internal/bus"
	"github.com/aristath/tradepipe/internal/config"
	"github.com/aristath/tradepipe/internal/exchange"
	"github.com/aristath/tradepipe/internal/timeutil"
)

// DataService polls each configured exchange for OHLCV and publishes one
// market_data event per (exchange, symbol) poll (spec.md §4.2).
type DataService struct {
	Base
	stream    string
	exchanges map[string]exchange.Adapter // keyed by exchange name
	symbols   map[string][]string         // exchange name -> symbols
	pollEvery time.Duration
}

// NewDataService wires a DataService against the configured exchanges.
func NewDataService(b bus.Bus, log zerolog.Logger, stream string, exchanges map[string]exchange.Adapter, cfg []config.ExchangeConfig) *DataService {
	symbols := make(map[string][]string, len(cfg))
	for _, ex := range cfg {
		symbols[ex.Name] = ex.Symbols
	}
	return &DataService{
		Base:      Base{Log: log.With().Str("service", "data").Logger(), Bus: b},
		stream:    stream,
		exchanges: exchanges,
		symbols:   symbols,
		pollEvery: 60 * time.Second,
	}
}

// Run polls every pollEvery until the context is canceled or Stop is
// called. Per-symbol fetch errors are logged and swallowed and never end
// the loop (spec.md §4.2's error policy).
func (s *DataService) Run(ctx context.Context) {
	ticker := time.NewTicker(s.pollEvery)
	defer ticker.Stop()

	s.pollOnce(ctx)
	for !s.Stopping() {
		select {
		case <-ctx.Done():
			s.closeExchanges()
			return
		case <-ticker.C:
			s.pollOnce(ctx)
		}
	}
	s.closeExchanges()
}

func (s *DataService) pollOnce(ctx context.Context) {
	for exchangeName, adapter := range s.exchanges {
		for _, symbol := range s.symbols[exchangeName] {
			candles, err := adapter.FetchOHLCV(ctx, symbol, "1m", 1)
			if err != nil {
				s.Log.Error().Err(err).Str("exchange", exchangeName).Str("symbol", symbol).Msg("ohlcv fetch failed")
				continue
			}
			if len(candles) == 0 {
				continue
			}

			// Rows are built as []interface{} of float64, the shape the
			// redis bus's JSON round trip produces, so StrategyService's
			// decoding is identical regardless of which Bus backend is
			// wired in (the in-process bus passes events by reference,
			// with no serialization step of its own).
			data := make([]interface{}, len(candles))
			for i, c := range candles {
				data[i] = []interface{}{float64(c.Timestamp), c.Open, c.High, c.Low, c.Close, c.Volume}
			}

			event := bus.Event{
				Type: "market_data",
				Payload: map[string]interface{}{
					"exchange":  exchangeName,
					"symbol":    symbol,
					"timeframe": "1m",
					"data":      data,
					"timestamp": timeutil.Now().Format(time.RFC3339),
				},
			}
			if _, err := s.Bus.Publish(ctx, s.stream, event); err != nil {
				s.Log.Error().Err(err).Str("exchange", exchangeName).Str("symbol", symbol).Msg("market_data publish failed")
			}
		}
	}
}

func (s *DataService) closeExchanges() {
	for name, adapter := range s.exchanges {
		if err := adapter.Close(); err != nil {
			s.Log.Warn().Err(err).Str("exchange", name).Msg("exchange client close failed")
		}
	}
}
