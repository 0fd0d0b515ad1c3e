package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// recordModel is the audit_records row
type recordModel struct {
	ID                string `gorm:"type:varchar(64);primaryKey"`
	SignalID          string `gorm:"type:varchar(128);index"`
	Symbol            string `gorm:"type:varchar(32);index:idx_audit_symbol_ts"`
	Producer          string `gorm:"type:varchar(64)"`
	Strategy          string `gorm:"type:varchar(64)"`
	Direction         string `gorm:"type:varchar(8)"`
	Outcome           string `gorm:"type:varchar(16);index"`
	Reason            string `gorm:"type:text"`
	Mode              string `gorm:"type:varchar(16)"`
	Regime            string `gorm:"type:varchar(32)"`
	Confidence        float64
	WeightedScore     float64
	RequestedQuantity float64
	ApprovedQuantity  float64
	Adjustments       string `gorm:"type:jsonb"`
	Warnings          string `gorm:"type:jsonb"`
	OrderID           string `gorm:"type:varchar(64)"`
	LatencyMs         int64
	Timestamp         time.Time `gorm:"index:idx_audit_symbol_ts;not null"`
	CreatedAt         time.Time `gorm:"autoCreateTime"`
}

func (recordModel) TableName() string {
	return "audit_records"
}

// PostgresSink stores records through gorm. Rows are only ever inserted.
type PostgresSink struct {
	db *gorm.DB
}

// OpenPostgres connects with the postgres driver and migrates the audit table
func OpenPostgres(dsn string) (*PostgresSink, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:                 gormlogger.Default.LogMode(gormlogger.Warn),
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	return NewPostgresSink(db)
}

// NewPostgresSink wraps an existing connection
func NewPostgresSink(db *gorm.DB) (*PostgresSink, error) {
	if err := db.AutoMigrate(&recordModel{}); err != nil {
		return nil, fmt.Errorf("migrate audit table: %w", err)
	}
	return &PostgresSink{db: db}, nil
}

func (s *PostgresSink) Append(ctx context.Context, rec Record) error {
	row, err := toModel(rec)
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("insert audit record %s: %w", rec.ID, err)
	}
	return nil
}

func (s *PostgresSink) Query(ctx context.Context, filter Filter) ([]Record, error) {
	q := s.db.WithContext(ctx).Model(&recordModel{})
	if filter.Symbol != "" {
		q = q.Where("symbol = ?", filter.Symbol)
	}
	if filter.Outcome != "" {
		q = q.Where("outcome = ?", string(filter.Outcome))
	}
	if !filter.Since.IsZero() {
		q = q.Where("timestamp >= ?", filter.Since)
	}
	if !filter.Until.IsZero() {
		q = q.Where("timestamp <= ?", filter.Until)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}

	var rows []recordModel
	if err := q.Order("timestamp ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("query audit records: %w", err)
	}
	out := make([]Record, 0, len(rows))
	for _, row := range rows {
		out = append(out, fromModel(row))
	}
	return out, nil
}

// Close releases the underlying connection pool
func (s *PostgresSink) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func toModel(rec Record) (recordModel, error) {
	adj, err := json.Marshal(nonNil(rec.Adjustments))
	if err != nil {
		return recordModel{}, fmt.Errorf("marshal adjustments: %w", err)
	}
	warn, err := json.Marshal(nonNil(rec.Warnings))
	if err != nil {
		return recordModel{}, fmt.Errorf("marshal warnings: %w", err)
	}
	return recordModel{
		ID:                rec.ID,
		SignalID:          rec.SignalID,
		Symbol:            rec.Symbol,
		Producer:          rec.Producer,
		Strategy:          rec.Strategy,
		Direction:         rec.Direction,
		Outcome:           string(rec.Outcome),
		Reason:            rec.Reason,
		Mode:              rec.Mode,
		Regime:            rec.Regime,
		Confidence:        rec.Confidence,
		WeightedScore:     rec.WeightedScore,
		RequestedQuantity: rec.RequestedQuantity,
		ApprovedQuantity:  rec.ApprovedQuantity,
		Adjustments:       string(adj),
		Warnings:          string(warn),
		OrderID:           rec.OrderID,
		LatencyMs:         rec.LatencyMs,
		Timestamp:         rec.Timestamp,
	}, nil
}

func fromModel(row recordModel) Record {
	rec := Record{
		ID:                row.ID,
		SignalID:          row.SignalID,
		Symbol:            row.Symbol,
		Producer:          row.Producer,
		Strategy:          row.Strategy,
		Direction:         row.Direction,
		Outcome:           Outcome(row.Outcome),
		Reason:            row.Reason,
		Mode:              row.Mode,
		Regime:            row.Regime,
		Confidence:        row.Confidence,
		WeightedScore:     row.WeightedScore,
		RequestedQuantity: row.RequestedQuantity,
		ApprovedQuantity:  row.ApprovedQuantity,
		OrderID:           row.OrderID,
		LatencyMs:         row.LatencyMs,
		Timestamp:         row.Timestamp,
	}
	_ = json.Unmarshal([]byte(row.Adjustments), &rec.Adjustments)
	_ = json.Unmarshal([]byte(row.Warnings), &rec.Warnings)
	return rec
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
