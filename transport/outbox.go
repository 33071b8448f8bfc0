package transport

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"icavault/native/ica"
)

// MessageState tracks an outbox row through delivery.
type MessageState string

const (
	StatePending   MessageState = "PENDING"
	StateDelivered MessageState = "DELIVERED"
	StateFailed    MessageState = "FAILED"
)

// ErrUnknownDriver is returned by OpenDB for unsupported database drivers.
var ErrUnknownDriver = errors.New("transport: unknown outbox driver")

// OutboxMessage is one committed outbound message awaiting delivery.
type OutboxMessage struct {
	ID          uuid.UUID    `gorm:"type:uuid;primaryKey"`
	Kind        string       `gorm:"size:32;index"`
	Target      string       `gorm:"size:128;index"`
	Payload     []byte       `gorm:"not null"`
	Digest      string       `gorm:"size:64;index"`
	State       MessageState `gorm:"size:16;index"`
	Attempts    int
	LastError   string `gorm:"size:512"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
	DeliveredAt *time.Time
}

// AutoMigrate creates the outbox tables.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&OutboxMessage{})
}

// OpenDB opens the outbox database. driver is "sqlite" or "postgres".
func OpenDB(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "sqlite", "":
		if strings.TrimSpace(dsn) == "" {
			dsn = "file::memory:?cache=shared"
		}
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("transport: open %s outbox: %w", driver, err)
	}
	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("transport: migrate outbox: %w", err)
	}
	return db, nil
}

// Outbox persists outbound messages so a relayer process can deliver them
// independently of the command that produced them.
type Outbox struct {
	db  *gorm.DB
	now func() time.Time
}

// NewOutbox wraps a migrated database.
func NewOutbox(db *gorm.DB) *Outbox {
	return &Outbox{db: db, now: time.Now}
}

// Dispatch stores msg as pending.
func (o *Outbox) Dispatch(ctx context.Context, msg ica.WasmMsg) error {
	_, err := o.Enqueue(ctx, msg)
	return err
}

// Enqueue stores msg as pending and returns the stored row.
func (o *Outbox) Enqueue(ctx context.Context, msg ica.WasmMsg) (*OutboxMessage, error) {
	payload, err := Encode(msg)
	if err != nil {
		return nil, err
	}
	row := &OutboxMessage{
		ID:        uuid.New(),
		Kind:      msg.Kind(),
		Target:    msg.Target(),
		Payload:   payload,
		Digest:    Digest(payload),
		State:     StatePending,
		CreatedAt: o.now().UTC(),
	}
	if err := o.db.WithContext(ctx).Create(row).Error; err != nil {
		return nil, fmt.Errorf("transport: enqueue: %w", err)
	}
	return row, nil
}

// Pending returns up to limit undelivered messages, oldest first.
func (o *Outbox) Pending(ctx context.Context, limit int) ([]OutboxMessage, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []OutboxMessage
	err := o.db.WithContext(ctx).
		Where("state = ?", StatePending).
		Order("created_at asc").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("transport: list pending: %w", err)
	}
	return rows, nil
}

// MarkDelivered records a successful delivery.
func (o *Outbox) MarkDelivered(ctx context.Context, id uuid.UUID) error {
	now := o.now().UTC()
	res := o.db.WithContext(ctx).Model(&OutboxMessage{}).
		Where("id = ? AND state = ?", id, StatePending).
		Updates(map[string]interface{}{"state": StateDelivered, "delivered_at": &now, "attempts": gorm.Expr("attempts + 1")})
	if res.Error != nil {
		return fmt.Errorf("transport: mark delivered: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("transport: message %s is not pending", id)
	}
	return nil
}

// MarkAttempt records a failed delivery attempt. The message is parked as
// failed once maxAttempts is reached.
func (o *Outbox) MarkAttempt(ctx context.Context, id uuid.UUID, cause error, maxAttempts int) error {
	var row OutboxMessage
	if err := o.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		return fmt.Errorf("transport: load %s: %w", id, err)
	}
	row.Attempts++
	if cause != nil {
		row.LastError = truncate(cause.Error(), 512)
	}
	if maxAttempts > 0 && row.Attempts >= maxAttempts {
		row.State = StateFailed
	}
	if err := o.db.WithContext(ctx).Save(&row).Error; err != nil {
		return fmt.Errorf("transport: record attempt: %w", err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
