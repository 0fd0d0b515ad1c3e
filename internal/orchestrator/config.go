package orchestrator

import "time"

// Config holds the soft parameters of the decision pipeline
type Config struct {
	Shards            int                `yaml:"shards" validate:"gte=1,lte=256"`
	QueueSize         int                `yaml:"queue_size" validate:"gte=1"`
	AggregationWindow time.Duration      `yaml:"aggregation_window" validate:"gt=0"`
	ProducerWeights   map[string]float64 `yaml:"producer_weights" validate:"dive,gte=0"`
	MinConfidence     float64            `yaml:"min_confidence" validate:"gte=0,lte=1"`
	FullConfidence    float64            `yaml:"full_confidence" validate:"gtefield=MinConfidence,lte=1"`
	ReducedSizeFactor float64            `yaml:"reduced_size_factor" validate:"gt=0,lte=1"`
	DefensiveFloor    float64            `yaml:"defensive_floor" validate:"gte=0,lte=1"`
	RegimeTimeout     time.Duration      `yaml:"regime_timeout" validate:"gt=0"`
	ExecutionTimeout  time.Duration      `yaml:"execution_timeout" validate:"gt=0"`
	AuditTimeout      time.Duration      `yaml:"audit_timeout" validate:"gt=0"`
	DedupeTTL         time.Duration      `yaml:"dedupe_ttl" validate:"gt=0"`
	DedupeMaxMB       int                `yaml:"dedupe_max_mb" validate:"gte=0"`
}

// DefaultConfig returns the standard pipeline parameters
func DefaultConfig() Config {
	return Config{
		Shards:            8,
		QueueSize:         256,
		AggregationWindow: 5 * time.Minute,
		ProducerWeights:   map[string]float64{},
		MinConfidence:     0.50,
		FullConfidence:    0.65,
		ReducedSizeFactor: 0.5,
		DefensiveFloor:    0.75,
		RegimeTimeout:     2 * time.Second,
		ExecutionTimeout:  10 * time.Second,
		AuditTimeout:      2 * time.Second,
		DedupeTTL:         24 * time.Hour,
		DedupeMaxMB:       64,
	}
}

// withDefaults fills zero fields from DefaultConfig
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Shards <= 0 {
		c.Shards = d.Shards
	}
	if c.QueueSize <= 0 {
		c.QueueSize = d.QueueSize
	}
	if c.AggregationWindow <= 0 {
		c.AggregationWindow = d.AggregationWindow
	}
	if c.ProducerWeights == nil {
		c.ProducerWeights = d.ProducerWeights
	}
	if c.MinConfidence == 0 && c.FullConfidence == 0 {
		c.MinConfidence = d.MinConfidence
		c.FullConfidence = d.FullConfidence
	}
	if c.ReducedSizeFactor <= 0 {
		c.ReducedSizeFactor = d.ReducedSizeFactor
	}
	if c.DefensiveFloor == 0 {
		c.DefensiveFloor = d.DefensiveFloor
	}
	if c.RegimeTimeout <= 0 {
		c.RegimeTimeout = d.RegimeTimeout
	}
	if c.ExecutionTimeout <= 0 {
		c.ExecutionTimeout = d.ExecutionTimeout
	}
	if c.AuditTimeout <= 0 {
		c.AuditTimeout = d.AuditTimeout
	}
	if c.DedupeTTL <= 0 {
		c.DedupeTTL = d.DedupeTTL
	}
	if c.DedupeMaxMB <= 0 {
		c.DedupeMaxMB = d.DedupeMaxMB
	}
	return c
}
