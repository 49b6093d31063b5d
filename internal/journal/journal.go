package journal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"main/internal/schema"
	"main/pkg/conn"
	"main/pkg/exception"

	"github.com/yanun0323/logs"
)

// OrderRecord is a persisted row describing a single order submission
// and its outcome.
type OrderRecord struct {
	ID          uint64 `gorm:"primaryKey;autoIncrement"`
	Instrument  string `gorm:"index"`
	Kind        string
	Units       string
	LimitPrice  string
	Accepted    bool
	StatusCode  int
	SubmittedAt time.Time
}

// TableName implements the gorm table naming convention.
func (OrderRecord) TableName() string {
	return "order_records"
}

// Journal persists order submissions to PostgreSQL. A nil Journal is a
// no-op, so persistence stays optional.
type Journal struct {
	client *conn.Client
}

// New creates a Journal backed by the given PostgreSQL client and
// migrates the order record table.
func New(client *conn.Client) (*Journal, error) {
	if client == nil || client.DB() == nil {
		return nil, errors.New("journal: nil postgres client")
	}

	if err := client.DB().AutoMigrate(&OrderRecord{}); err != nil {
		return nil, fmt.Errorf("migrate order records: %w", err)
	}

	return &Journal{client: client}, nil
}

// Record writes one row for the given intent and submission outcome.
// Validation failures are not recorded, only submissions that reached
// the broker.
func (j *Journal) Record(ctx context.Context, intent schema.OrderIntent, outcome error) {
	if j == nil || j.client == nil {
		return
	}

	record := newOrderRecord(intent, outcome)
	if err := j.client.DB().WithContext(ctx).Create(&record).Error; err != nil {
		logs.Errorf("journal order record: %v", err)
	}
}

// newOrderRecord maps an intent and its submission outcome to a row. A
// broker rejection carries its status code; any other failure leaves the
// code zero.
func newOrderRecord(intent schema.OrderIntent, outcome error) OrderRecord {
	record := OrderRecord{
		Instrument:  intent.Instrument().Pair(),
		Kind:        intent.Kind.String(),
		Units:       intent.Amount.String(),
		Accepted:    outcome == nil,
		SubmittedAt: time.Now(),
	}

	if intent.LimitPrice.Valid {
		record.LimitPrice = intent.LimitPrice.Decimal.String()
	}

	var rejected *exception.OrderRejectedError
	if errors.As(outcome, &rejected) {
		record.StatusCode = rejected.StatusCode
	}
	return record
}

// Close releases the underlying connection pool.
func (j *Journal) Close() error {
	if j == nil {
		return nil
	}
	return j.client.Close()
}
