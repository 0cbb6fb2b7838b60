package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v2"
)

const (
	configFilePathENV = "CONFIG_FILE"
	databaseDSNENV    = "DATABASE_DSN"
)

// ServiceConfig carries the HTTP surfaces the health module binds.
type ServiceConfig struct {
	Host       string `yaml:"host"`
	PublicPort int    `yaml:"public_port"`
	AdminPort  int    `yaml:"admin_port"`
}

// PersistenceConfig points at the durable session/history store.
type PersistenceConfig struct {
	DSN  string `yaml:"dsn"`
	Path string `yaml:"path"`
}

// InstrumentsConfig names the tradable universe the market-stream
// supervisor reconciles workers against.
type InstrumentsConfig struct {
	Enabled []string `yaml:"enabled"`
}

// StreamReconnectConfig bounds the market-stream worker's backoff.
type StreamReconnectConfig struct {
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
	Multiplier     float64       `yaml:"multiplier"`
}

// StreamConfig governs the per-instrument stream workers.
type StreamConfig struct {
	Reconnect         StreamReconnectConfig `yaml:"reconnect"`
	IdleGapMs         int64                 `yaml:"idle_gap_ms"`
	ReconcileInterval time.Duration         `yaml:"reconcile_interval"`
	ReconcileCooldown time.Duration         `yaml:"reconcile_cooldown"`
}

// SymbolOverrideConfig lets one instrument override a strategy instance's
// predictor choice without forking the whole strategy config.
type SymbolOverrideConfig struct {
	Predictor string `yaml:"predictor"`
}

// StrategyInstanceConfig is one strategy's static tuning, the seed the
// catalog forks custom versions from.
type StrategyInstanceConfig struct {
	Kind                   string                          `yaml:"kind"`
	FastPeriod             int                             `yaml:"fast_period"`
	SlowPeriod             int                             `yaml:"slow_period"`
	MinTicksBetweenSignals int64                           `yaml:"min_ticks_between_signals"`
	EVHardGateOptOut       bool                            `yaml:"ev_hard_gate_opt_out"`
	Predictor              string                          `yaml:"predictor"`
	SymbolOverrides        map[string]SymbolOverrideConfig `yaml:"symbol_overrides"`
}

// StrategyRuntimeEditConfig controls whether and how strategy parameters
// may be changed while the process is running.
type StrategyRuntimeEditConfig struct {
	Enabled        bool `yaml:"enabled"`
	MaxCustomForks int  `yaml:"max_custom_forks"`
}

// StrategyConfig is the root of strategy.* configuration.
type StrategyConfig struct {
	Instances   map[string]StrategyInstanceConfig `yaml:"instances"`
	RuntimeEdit StrategyRuntimeEditConfig          `yaml:"runtime_edit"`
}

// RiskStrategyOverride lets one strategy opt out of or tighten a global
// risk policy step.
type RiskStrategyOverride struct {
	EVFloorUSDT          *float64 `yaml:"ev_floor_usdt"`
	MaxExposureUSDT      *float64 `yaml:"max_exposure_usdt"`
	DegradeDrawdownRatio *float64 `yaml:"degrade_drawdown_ratio"`
}

// RiskConfig governs the policy chain's global thresholds, with optional
// per-strategy overrides.
type RiskConfig struct {
	EVFloorUSDT          float64                        `yaml:"ev_floor_usdt"`
	EVHardGateEnabled    bool                            `yaml:"ev_hard_gate_enabled"`
	MaxExposureUSDT      float64                         `yaml:"max_exposure_usdt"`
	DegradeDrawdownRatio float64                         `yaml:"degrade_drawdown_ratio"`
	Strategy             map[string]RiskStrategyOverride `yaml:"strategy"`
}

// RateConfig configures the sliding-window rate governor's per-scope
// budgets.
type RateConfig struct {
	GlobalLimitPerMinute     int `yaml:"global_limit_per_minute"`
	OrdersLimitPerMinute     int `yaml:"orders_limit_per_minute"`
	InstrumentLimitPerMinute int `yaml:"instrument_limit_per_minute"`
	WindowSeconds            int `yaml:"window_seconds"`
}

// EVConfig mirrors the beta-binomial estimator's tunables, defaulted to
// the values the estimator was ported with.
type EVConfig struct {
	PriorA                 float64 `yaml:"prior_a"`
	PriorB                 float64 `yaml:"prior_b"`
	TailPriorA             float64 `yaml:"tail_prior_a"`
	TailPriorB             float64 `yaml:"tail_prior_b"`
	RecencyLambda          float64 `yaml:"recency_lambda"`
	ShrinkK                float64 `yaml:"shrink_k"`
	LossThresholdUSDT      float64 `yaml:"loss_threshold_usdt"`
	TimeoutMsDefault       int64   `yaml:"timeout_ms_default"`
	GammaTailPenalty       float64 `yaml:"gamma_tail_penalty"`
	FeeSlippagePenaltyUSDT float64 `yaml:"fee_slippage_penalty_usdt"`
	LookbackTrades         int     `yaml:"lookback_trades"`
}

// PositionConfig tunes the Position Lifecycle Engine's exit-condition
// thresholds (spec.md §4.8).
type PositionConfig struct {
	EnforceProtectiveStop   bool          `yaml:"enforce_protective_stop"`
	StopLossPct             float64       `yaml:"stop_loss_pct"`
	ExpectedHoldMsDefault   int64         `yaml:"expected_hold_ms_default"`
	TimeStopMultiplier      float64       `yaml:"time_stop_multiplier"`
	EVNonPositiveSamples    int           `yaml:"ev_non_positive_samples"`
	EVNonPositiveHysteresis time.Duration `yaml:"ev_non_positive_hysteresis"`
	EvalInterval            time.Duration `yaml:"eval_interval"`
}

// ExitConfig governs the exit orchestrator's debounce and escalation.
type ExitConfig struct {
	DebounceWindow         time.Duration `yaml:"debounce_window"`
	MaxRetries             int           `yaml:"max_retries"`
	RetryBackoff           time.Duration `yaml:"retry_backoff"`
	EmergencyCloseOnBreach bool          `yaml:"emergency_close_on_breach"`
}

// ExchangeConfig points the order manager's REST client at the venue.
// APIKey/APISecret/Passphrase are never read from the yaml file — they
// come from environment variables only, the same split the teacher
// keeps between MEXC_API_KEY/MEXC_API_SECRET and its yaml config.
type ExchangeConfig struct {
	BaseURL            string        `yaml:"base_url"`
	RecvWindow         time.Duration `yaml:"recv_window"`
	RequestTimeout     time.Duration `yaml:"request_timeout"`
	RateLimitPerSecond float64       `yaml:"rate_limit_per_second"`
	RateLimitBurst     int           `yaml:"rate_limit_burst"`
	APIKey             string        `yaml:"-"`
	APISecret          string        `yaml:"-"`
	Passphrase         string        `yaml:"-"`
}

// TracingConfig points the Jaeger client at its local agent. Host is
// empty by default, which disables tracing rather than dialing
// localhost blind — see engine.newTracer.
type TracingConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Config is the process-wide configuration tree, yaml-decoded from file
// and overlaid with environment variables.
type Config struct {
	Service     ServiceConfig     `yaml:"service"`
	Persistence PersistenceConfig `yaml:"persistence"`
	Instruments InstrumentsConfig `yaml:"instruments"`
	Stream      StreamConfig      `yaml:"stream"`
	Strategy    StrategyConfig    `yaml:"strategy"`
	Risk        RiskConfig        `yaml:"risk"`
	Rate        RateConfig        `yaml:"rate"`
	EV          EVConfig          `yaml:"ev"`
	Position    PositionConfig    `yaml:"position"`
	Exit        ExitConfig        `yaml:"exit"`
	Exchange    ExchangeConfig    `yaml:"exchange"`
	Tracing     TracingConfig     `yaml:"tracing"`
}

func defaults() Config {
	return Config{
		Service: ServiceConfig{Host: "0.0.0.0", PublicPort: 8080, AdminPort: 8081},
		Stream: StreamConfig{
			Reconnect: StreamReconnectConfig{
				InitialBackoff: time.Second,
				MaxBackoff:     time.Minute,
				Multiplier:     2.0,
			},
			IdleGapMs:         (30 * time.Second).Milliseconds(),
			ReconcileInterval: 15 * time.Second,
			ReconcileCooldown: 5 * time.Second,
		},
		Strategy: StrategyConfig{
			RuntimeEdit: StrategyRuntimeEditConfig{Enabled: true, MaxCustomForks: 32},
		},
		Risk: RiskConfig{
			EVFloorUSDT:          0,
			EVHardGateEnabled:    true,
			MaxExposureUSDT:      5000,
			DegradeDrawdownRatio: 0.6,
		},
		Rate: RateConfig{
			GlobalLimitPerMinute:     1200,
			OrdersLimitPerMinute:     100,
			InstrumentLimitPerMinute: 20,
			WindowSeconds:            60,
		},
		EV: EVConfig{
			PriorA:            6.0,
			PriorB:            6.0,
			TailPriorA:        3.0,
			TailPriorB:        7.0,
			RecencyLambda:     0.08,
			ShrinkK:           40.0,
			LossThresholdUSDT: 15.0,
			TimeoutMsDefault:  1_800_000,
			GammaTailPenalty:  0.8,
			LookbackTrades:    500,
		},
		Position: PositionConfig{
			EnforceProtectiveStop:   true,
			StopLossPct:             0.02,
			ExpectedHoldMsDefault:   30 * 60 * 1000,
			TimeStopMultiplier:      3.0,
			EVNonPositiveSamples:    3,
			EVNonPositiveHysteresis: 20 * time.Second,
			EvalInterval:            time.Second,
		},
		Exit: ExitConfig{
			DebounceWindow:         2 * time.Second,
			MaxRetries:             3,
			RetryBackoff:           time.Second,
			EmergencyCloseOnBreach: true,
		},
		Exchange: ExchangeConfig{
			BaseURL:            "https://www.okx.com",
			RecvWindow:         5 * time.Second,
			RequestTimeout:     10 * time.Second,
			RateLimitPerSecond: 10,
			RateLimitBurst:     20,
		},
	}
}

// ConfigFilePath resolves the yaml file to load, honoring CONFIG_FILE.
func ConfigFilePath() string {
	name := os.Getenv(configFilePathENV)
	if name == "" {
		name = "values_local.yaml"
	}
	return "configs/" + name
}

// NewConfig loads configs/values_local.yaml (or $CONFIG_FILE) over the
// built-in defaults, then overlays a small set of operational
// environment variables that operators expect to be able to set without
// editing the file. Hot-reload of strategy.* and risk.* keys is handled
// separately by Watcher, which this constructor does not start.
func NewConfig() (*Config, error) {
	cfg := defaults()

	path := ConfigFilePath()
	file, err := os.Open(path)
	if err != nil {
		log.Printf("config: %s not found, using defaults (%v)", path, err)
	} else {
		defer func() { _ = file.Close() }()
		decoder := yaml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			log.Fatalf("config: failed to decode %s: %v", path, err)
		}
	}

	if dsn := os.Getenv(databaseDSNENV); dsn != "" {
		cfg.Persistence.DSN = dsn
	}
	if port := os.Getenv("PUBLIC_PORT"); port != "" {
		if n, err := strconv.Atoi(port); err == nil {
			cfg.Service.PublicPort = n
		}
	}
	if port := os.Getenv("ADMIN_PORT"); port != "" {
		if n, err := strconv.Atoi(port); err == nil {
			cfg.Service.AdminPort = n
		}
	}

	if os.Getenv("SANDBOX_MODE") != "1" {
		cfg.Exchange.APIKey = getenvRequired("EXCHANGE_API_KEY")
		cfg.Exchange.APISecret = getenvRequired("EXCHANGE_API_SECRET")
		cfg.Exchange.Passphrase = getenvRequired("EXCHANGE_API_PASSPHRASE")
	} else {
		cfg.Exchange.APIKey = os.Getenv("EXCHANGE_API_KEY")
		cfg.Exchange.APISecret = os.Getenv("EXCHANGE_API_SECRET")
		cfg.Exchange.Passphrase = os.Getenv("EXCHANGE_API_PASSPHRASE")
	}

	return &cfg, nil
}

func getenvRequired(key string) string {
	v := os.Getenv(key)
	if v == "" {
		panic(fmt.Sprintf("env %s is required", key))
	}
	return v
}
