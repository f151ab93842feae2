package domain

import (
	"fmt"
	"math"
	"time"
)

// Config holds the complete Kestrel configuration. Built once at startup and
// passed explicitly into component constructors; never mutated afterwards.
type Config struct {
	Server ServerConfig `json:"server" yaml:"server"`

	// Component configurations
	Velocity   VelocityConfig   `json:"velocity" yaml:"velocity"`
	Risk       RiskConfig       `json:"risk" yaml:"risk"`
	Admission  AdmissionConfig  `json:"admission" yaml:"admission"`
	Queue      QueueConfig      `json:"queue" yaml:"queue"`
	Lists      ListStoreConfig  `json:"lists" yaml:"lists"`
	EventBus   EventBusConfig   `json:"eventBus" yaml:"event_bus"`
	Repository RepositoryConfig `json:"repository" yaml:"repository"`
	Settlement SettlementConfig `json:"settlement" yaml:"settlement"`

	// Observability
	Logging LoggingConfig `json:"logging" yaml:"logging"`
	Tracing TracingConfig `json:"tracing" yaml:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host" yaml:"host"`
	Port         int    `json:"port" yaml:"port"`
	ReadTimeout  int    `json:"readTimeout" yaml:"read_timeout"`   // seconds
	WriteTimeout int    `json:"writeTimeout" yaml:"write_timeout"` // seconds
}

// VelocityConfig holds Velocity Tracker settings.
type VelocityConfig struct {
	// Rules are the static velocity thresholds, loaded once at startup.
	Rules []VelocityRule `json:"rules" yaml:"rules"`

	// DefaultWindow bounds pruning for entity kinds with no configured rule.
	DefaultWindow time.Duration `json:"defaultWindow" yaml:"default_window"`

	// PersistObservations mirrors observations into the repository.
	PersistObservations bool `json:"persistObservations" yaml:"persist_observations"`
}

// RiskConfig holds Risk Scorer settings.
type RiskConfig struct {
	// Weights per category; must sum to 1.0.
	Weights CategoryWeights `json:"weights" yaml:"weights"`

	// BlockScore is the fixed contribution of a block-level rule trigger.
	BlockScore float64 `json:"blockScore" yaml:"block_score"`

	// ListPenalty is the fixed contribution of an active blocklist hit.
	ListPenalty float64 `json:"listPenalty" yaml:"list_penalty"`

	// WhitelistBonus is subtracted from the composite score (floored at 0).
	WhitelistBonus float64 `json:"whitelistBonus" yaml:"whitelist_bonus"`

	// DeviationMultiple is the trailing-average multiple beyond which the
	// behavioral category starts contributing.
	DeviationMultiple float64 `json:"deviationMultiple" yaml:"deviation_multiple"`

	// BehavioralWindow is the trailing-average lookback.
	BehavioralWindow time.Duration `json:"behavioralWindow" yaml:"behavioral_window"`

	// Tier thresholds on the composite score.
	CriticalThreshold float64 `json:"criticalThreshold" yaml:"critical_threshold"`
	HighThreshold     float64 `json:"highThreshold" yaml:"high_threshold"`
	MediumThreshold   float64 `json:"mediumThreshold" yaml:"medium_threshold"`

	// Amount reductions attached to the recommended action.
	HoldReductionPct   float64 `json:"holdReductionPct" yaml:"hold_reduction_pct"`
	MediumReductionPct float64 `json:"mediumReductionPct" yaml:"medium_reduction_pct"`

	// CustomRules are optional CEL expressions for the custom category.
	CustomRules []CustomRule `json:"customRules" yaml:"custom_rules"`
}

// CategoryWeights holds the per-category composite weights.
type CategoryWeights struct {
	Velocity   float64 `json:"velocity" yaml:"velocity"`
	Behavioral float64 `json:"behavioral" yaml:"behavioral"`
	Lists      float64 `json:"lists" yaml:"lists"`
	Custom     float64 `json:"custom" yaml:"custom"`
}

// Validate checks the weights sum to 1.0 within a small tolerance.
func (w CategoryWeights) Validate() error {
	sum := w.Velocity + w.Behavioral + w.Lists + w.Custom
	if math.Abs(sum-1.0) > 1e-6 {
		return fmt.Errorf("category weights must sum to 1.0, got %.4f", sum)
	}
	return nil
}

// AdmissionConfig holds Admission Gate settings. The bounds apply after any
// risk-driven reduction and independently of it.
type AdmissionConfig struct {
	MinPayout float64 `json:"minPayout" yaml:"min_payout"`
	MaxPayout float64 `json:"maxPayout" yaml:"max_payout"`
}

// QueueConfig holds Payout Queue settings.
type QueueConfig struct {
	// Tick is the worker drain interval.
	Tick time.Duration `json:"tick" yaml:"tick"`

	// SettlementTimeout bounds a single settlement call.
	SettlementTimeout time.Duration `json:"settlementTimeout" yaml:"settlement_timeout"`

	// BackoffBase seeds the exponential retry delay.
	BackoffBase time.Duration `json:"backoffBase" yaml:"backoff_base"`

	// MaxRetries bounds retryable settlement attempts per request.
	MaxRetries int `json:"maxRetries" yaml:"max_retries"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level"`   // debug, info, warn, error
	Format string `json:"format" yaml:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `json:"enabled" yaml:"enabled"`
	ServiceName string `json:"serviceName" yaml:"service_name"`
}

// DefaultConfig returns the single-process default configuration: sqlite,
// in-memory lists, channel bus, mock settlement provider.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Velocity: VelocityConfig{
			Rules: []VelocityRule{
				{
					ID:                "customer-hourly",
					EntityKind:        EntityCustomer,
					Window:            time.Hour,
					MaxCount:          10,
					MaxAmount:         5000,
					AlertThresholdPct: 0.8,
					BlockThresholdPct: 1.0,
				},
				{
					ID:                "customer-daily",
					EntityKind:        EntityCustomer,
					Window:            24 * time.Hour,
					MaxCount:          30,
					MaxAmount:         20000,
					AlertThresholdPct: 0.8,
					BlockThresholdPct: 1.0,
				},
				{
					ID:                "device-hourly",
					EntityKind:        EntityDevice,
					Window:            time.Hour,
					MaxCount:          15,
					MaxAmount:         7500,
					AlertThresholdPct: 0.7,
					BlockThresholdPct: 1.0,
				},
				{
					ID:                "network-hourly",
					EntityKind:        EntityNetwork,
					Window:            time.Hour,
					MaxCount:          25,
					MaxAmount:         10000,
					AlertThresholdPct: 0.7,
					BlockThresholdPct: 1.0,
				},
				{
					ID:                "instrument-daily",
					EntityKind:        EntityInstrument,
					Window:            24 * time.Hour,
					MaxCount:          20,
					MaxAmount:         10000,
					AlertThresholdPct: 0.8,
					BlockThresholdPct: 1.0,
				},
			},
			DefaultWindow: 24 * time.Hour,
		},
		Risk: RiskConfig{
			Weights: CategoryWeights{
				Velocity:   0.40,
				Behavioral: 0.25,
				Lists:      0.25,
				Custom:     0.10,
			},
			BlockScore:         40,
			ListPenalty:        100,
			WhitelistBonus:     25,
			DeviationMultiple:  3.0,
			BehavioralWindow:   24 * time.Hour,
			CriticalThreshold:  80,
			HighThreshold:      60,
			MediumThreshold:    30,
			HoldReductionPct:   0.50,
			MediumReductionPct: 0.20,
		},
		Admission: AdmissionConfig{
			MinPayout: 1.0,
			MaxPayout: 1000.0,
		},
		Queue: QueueConfig{
			Tick:              time.Second,
			SettlementTimeout: 10 * time.Second,
			BackoffBase:       time.Second,
			MaxRetries:        3,
		},
		Lists: ListStoreConfig{
			Type:       "memory",
			MaxEntries: 10000,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./kestrel.db",
		},
		Settlement: SettlementConfig{
			Provider: "mock",
			Timeout:  10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "kestrel",
		},
	}
}

// Validate checks cross-field configuration invariants.
func (c *Config) Validate() error {
	for i := range c.Velocity.Rules {
		if err := c.Velocity.Rules[i].Validate(); err != nil {
			return err
		}
	}
	if err := c.Risk.Weights.Validate(); err != nil {
		return err
	}
	if c.Admission.MinPayout < 0 {
		return fmt.Errorf("min payout must not be negative")
	}
	if c.Admission.MaxPayout > 0 && c.Admission.MaxPayout < c.Admission.MinPayout {
		return fmt.Errorf("max payout must not be below min payout")
	}
	if c.Queue.MaxRetries < 0 {
		return fmt.Errorf("max retries must not be negative")
	}
	return nil
}
