package types

import (
	"fmt"
	"strings"
	"time"
)

// SignalSchemaVersion is the only signal payload layout the core accepts
const SignalSchemaVersion = 1

// Direction is the closed set of trade intents a producer may express
type Direction string

const (
	DirectionLong  Direction = "long"
	DirectionShort Direction = "short"
	DirectionClose Direction = "close"
)

// IsEntry reports whether the direction opens or adds to a position
func (d Direction) IsEntry() bool {
	return d == DirectionLong || d == DirectionShort
}

// AssetClass groups instruments for exposure caps
type AssetClass string

const (
	AssetClassEquity    AssetClass = "equity"
	AssetClassCrypto    AssetClass = "crypto"
	AssetClassFX        AssetClass = "fx"
	AssetClassCommodity AssetClass = "commodity"
	AssetClassBond      AssetClass = "bond"
)

// SignalMetadata carries the classification the risk checks need. It is a closed
// struct; producers cannot attach free-form keys.
type SignalMetadata struct {
	Sector        string     `json:"sector,omitempty"`
	AssetClass    AssetClass `json:"asset_class,omitempty"`
	Currency      string     `json:"currency,omitempty" validate:"omitempty,len=3"`
	SchemaVersion int        `json:"schema_version" validate:"eq=1"`
}

// Signal is a producer's proposal to trade. Values are never modified after construction.
type Signal struct {
	ID          string         `json:"id" validate:"required"`
	Symbol      string         `json:"symbol" validate:"required,max=32"`
	Direction   Direction      `json:"direction" validate:"required,oneof=long short close"`
	Confidence  float64        `json:"confidence" validate:"gte=0,lte=1"`
	EntryPrice  float64        `json:"entry_price" validate:"gt=0"`
	StopLoss    float64        `json:"stop_loss" validate:"gte=0"`
	TargetPrice float64        `json:"target_price" validate:"gte=0"`
	Strategy    string         `json:"strategy" validate:"required"`
	Producer    string         `json:"producer" validate:"required"`
	Timestamp   time.Time      `json:"timestamp" validate:"required"`
	TTLSeconds  int64          `json:"ttl_seconds" validate:"gt=0"`
	Reasoning   string         `json:"reasoning,omitempty"`
	Metadata    SignalMetadata `json:"metadata"`
}

// TTL returns the validity window of the signal
func (s Signal) TTL() time.Duration {
	return time.Duration(s.TTLSeconds) * time.Second
}

// ExpiresAt returns the instant after which the signal must be discarded
func (s Signal) ExpiresAt() time.Time {
	return s.Timestamp.Add(s.TTL())
}

// Expired reports whether the signal's TTL has elapsed at now
func (s Signal) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt())
}

// Key identifies a signal for idempotent processing
func (s Signal) Key() string {
	return fmt.Sprintf("%s|%s|%d", strings.ToUpper(s.Symbol), s.Producer, s.Timestamp.UnixNano())
}

// IsEntry reports whether the signal would open or increase exposure
func (s Signal) IsEntry() bool {
	return s.Direction.IsEntry()
}
