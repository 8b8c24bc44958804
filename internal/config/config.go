// Package config loads the pipeline's YAML configuration file.
//
// Configuration is loaded once at boot from a YAML document (see
// config/config.example.yaml). A .env file, if present, is loaded first so
// that ${VAR}-style placeholders inside the YAML have something to resolve
// against. Any string of the exact form "${VAR}" is replaced with the
// environment variable VAR; an unset variable fails config load.
package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// AppConfig holds environment-wide application flags.
type AppConfig struct {
	Environment   string `yaml:"environment"`
	LogLevel      string `yaml:"log_level"`
	BaseCurrency  string `yaml:"base_currency"`
	DryRun        bool   `yaml:"dry_run"`
}

// DatabaseConfig describes the trading store connection.
type DatabaseConfig struct {
	Engine      string                 `yaml:"engine"` // sqlite | postgresql
	URL         string                 `yaml:"url"`
	Echo        bool                   `yaml:"echo"`
	PoolSize    int                    `yaml:"pool_size"`
	ConnectArgs map[string]interface{} `yaml:"connect_args"`
}

// RedisStreamsConfig names the six bus streams. All six are required.
type RedisStreamsConfig struct {
	MarketData       string `yaml:"market_data"`
	Signals          string `yaml:"signals"`
	ApprovedSignals  string `yaml:"approved_signals"`
	Orders           string `yaml:"orders"`
	Executions       string `yaml:"executions"`
	Reconciliations  string `yaml:"reconciliations"`
}

// RedisConfig selects and configures the message bus backend.
// Enabled=false selects the in-memory bus regardless of URL.
type RedisConfig struct {
	Enabled    bool                `yaml:"enabled"`
	URL        string              `yaml:"url"`
	ClientName string              `yaml:"client_name"`
	Streams    RedisStreamsConfig  `yaml:"streams"`
}

// VolatilityTargetingConfig scales position size to a target portfolio volatility.
type VolatilityTargetingConfig struct {
	Enabled             bool    `yaml:"enabled"`
	TargetPortfolioVol  float64 `yaml:"target_portfolio_vol"`
}

// CircuitBreakerConfig halts new trading when a portfolio metric crosses a threshold.
type CircuitBreakerConfig struct {
	DailyLoss     float64 `yaml:"daily_loss"`
	TotalDrawdown float64 `yaml:"total_drawdown"`
}

// RiskConfig holds sizing and circuit-breaker parameters for RiskService.
type RiskConfig struct {
	MaxRiskPerTrade     float64                   `yaml:"max_risk_per_trade"`
	MaxPortfolioHeat    float64                   `yaml:"max_portfolio_heat"`
	MaxLeverage         float64                   `yaml:"max_leverage"`
	VolatilityTargeting VolatilityTargetingConfig `yaml:"volatility_targeting"`
	CircuitBreakers     CircuitBreakerConfig      `yaml:"circuit_breakers"`
	// PlaceholderEquity backstops RiskService/StrategyService when no
	// AccountState row has been persisted yet (see SPEC_FULL.md §6.3).
	PlaceholderEquity float64 `yaml:"placeholder_equity"`
}

// StrategyConfig enables and parameterizes one strategy instance.
type StrategyConfig struct {
	Name       string                 `yaml:"name"`
	Enabled    bool                   `yaml:"enabled"`
	Module     string                 `yaml:"module"`
	Parameters map[string]interface{} `yaml:"parameters"`
}

// ReconciliationConfig controls the drift auditor's cadence and repair policy.
type ReconciliationConfig struct {
	Enabled          bool `yaml:"enabled"`
	IntervalSeconds  int  `yaml:"interval_seconds"`
	AutoRepair       bool `yaml:"auto_repair"`
}

// MonitoringConfig is consumed only by MonitorService; its internals (the
// Prometheus renderer, NTP skew thresholds) stay outside CORE scope.
type MonitoringConfig struct {
	Prometheus  map[string]interface{} `yaml:"prometheus"`
	HealthCheck map[string]interface{} `yaml:"health_check"`
}

// ExchangeConfig names one configured venue and the symbols traded on it.
type ExchangeConfig struct {
	Name      string   `yaml:"name"`
	Module    string   `yaml:"module"`
	APIKey    string   `yaml:"api_key"`
	APISecret string   `yaml:"api_secret"`
	Sandbox   bool     `yaml:"sandbox"`
	Symbols   []string `yaml:"symbols"`
}

// Settings is the root of config.yaml.
type Settings struct {
	App            AppConfig            `yaml:"app"`
	Database       DatabaseConfig       `yaml:"database"`
	Redis          RedisConfig          `yaml:"redis"`
	Risk           RiskConfig           `yaml:"risk"`
	Strategies     []StrategyConfig     `yaml:"strategies"`
	Monitoring     MonitoringConfig     `yaml:"monitoring"`
	Reconciliation ReconciliationConfig `yaml:"reconciliation"`
	Exchanges      []ExchangeConfig     `yaml:"exchanges"`
}

// Load reads, resolves and validates a YAML config file at path.
//
// It loads a .env file first (if present, via godotenv) so that ${VAR}
// placeholders inside the YAML document have environment variables to
// resolve against.
func Load(path string) (*Settings, error) {
	_ = godotenv.Load()

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config file not found at %s: %w", path, err)
	}

	var node yaml.Node
	if err := yaml.Unmarshal(raw, &node); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}
	if err := resolvePlaceholders(&node); err != nil {
		return nil, err
	}

	var settings Settings
	if err := node.Decode(&settings); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	applyDefaults(&settings)

	if err := settings.Validate(); err != nil {
		return nil, err
	}
	return &settings, nil
}

// Validate checks invariants Load cannot express through yaml tags alone.
func (s *Settings) Validate() error {
	if s.Database.URL == "" {
		return fmt.Errorf("database.url is required")
	}
	if s.Database.Engine != "sqlite" && s.Database.Engine != "postgresql" {
		return fmt.Errorf("database.engine must be sqlite or postgresql, got %q", s.Database.Engine)
	}
	streams := s.Redis.Streams
	if streams.MarketData == "" || streams.Signals == "" || streams.ApprovedSignals == "" ||
		streams.Orders == "" || streams.Executions == "" || streams.Reconciliations == "" {
		return fmt.Errorf("redis.streams requires all six stream names")
	}
	return nil
}

// applyDefaults fills in spec.md §6's documented defaults for fields the
// YAML document left zero-valued.
func applyDefaults(s *Settings) {
	if s.Database.Engine == "" {
		s.Database.Engine = "sqlite"
	}
	if s.Database.PoolSize == 0 {
		s.Database.PoolSize = 5
	}
	if s.Risk.MaxRiskPerTrade == 0 {
		s.Risk.MaxRiskPerTrade = 0.02
	}
	if s.Risk.MaxPortfolioHeat == 0 {
		s.Risk.MaxPortfolioHeat = 0.06
	}
	if s.Risk.MaxLeverage == 0 {
		s.Risk.MaxLeverage = 1.5
	}
	if s.Risk.PlaceholderEquity == 0 {
		s.Risk.PlaceholderEquity = 100000.0
	}
	// 1.0 (100% of equity) effectively disables these breakers when the
	// operator hasn't configured a real loss limit yet, matching
	// utils/risk.py's defaults and keeping a fresh, zero-PnL portfolio
	// from being rejected by its own circuit breakers.
	if s.Risk.CircuitBreakers.DailyLoss == 0 {
		s.Risk.CircuitBreakers.DailyLoss = 1.0
	}
	if s.Risk.CircuitBreakers.TotalDrawdown == 0 {
		s.Risk.CircuitBreakers.TotalDrawdown = 1.0
	}
	if s.Reconciliation.IntervalSeconds == 0 {
		s.Reconciliation.IntervalSeconds = 30
	}
	if s.App.BaseCurrency == "" {
		s.App.BaseCurrency = "USD"
	}
	if s.App.LogLevel == "" {
		s.App.LogLevel = "info"
	}
}

// resolvePlaceholders walks the YAML node tree and replaces any scalar of
// the exact form "${VAR}" with os.LookupEnv(VAR), failing if VAR is unset.
func resolvePlaceholders(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode && isPlaceholder(node.Value) {
		key := node.Value[2 : len(node.Value)-1]
		val, ok := os.LookupEnv(key)
		if !ok {
			return fmt.Errorf("environment variable %s is not set", key)
		}
		node.Value = val
		node.Tag = "!!str"
		return nil
	}
	for _, child := range node.Content {
		if err := resolvePlaceholders(child); err != nil {
			return err
		}
	}
	return nil
}

func isPlaceholder(s string) bool {
	return len(s) > 3 && s[0] == '$' && s[1] == '{' && s[len(s)-1] == '}'
}
