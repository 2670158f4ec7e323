package storage

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
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

var (
	// ErrPathRequired is returned when the journal DSN is missing.
	ErrPathRequired = errors.New("saled journal path must be configured")
	// ErrNonceReplayed is returned when a signed request reuses a nonce.
	ErrNonceReplayed = errors.New("saled: nonce already used")
	// ErrUnsupportedDriver is returned for drivers other than sqlite and postgres.
	ErrUnsupportedDriver = errors.New("saled: unsupported journal driver")
)

// maxListLimit caps journal queries.
const maxListLimit = 500

// Store wraps the saled journal database.
type Store struct {
	db  *gorm.DB
	now func() time.Time
}

// Open connects to the journal and applies migrations. For sqlite the DSN may
// be a bare file path.
func Open(driver, dsn string) (*Store, error) {
	trimmed := strings.TrimSpace(dsn)
	if trimmed == "" {
		return nil, ErrPathRequired
	}
	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "sqlite":
		if !strings.HasPrefix(trimmed, "file:") {
			fileDSN, err := FileDSN(trimmed)
			if err != nil {
				return nil, err
			}
			trimmed = fileDSN
		}
		dialector = sqlite.Open(trimmed)
	case "postgres":
		dialector = postgres.Open(trimmed)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedDriver, driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	return New(db)
}

// New wraps an existing gorm handle and migrates it.
func New(db *gorm.DB) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("journal database required")
	}
	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("migrate journal: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// SetNowFunc overrides the clock used for timestamps.
func (s *Store) SetNowFunc(now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	s.now = now
}

// Close releases database resources.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping verifies the database connection.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// RecordPurchase inserts p, assigning an ID and timestamp when missing.
func (s *Store) RecordPurchase(ctx context.Context, p *Purchase) error {
	if p == nil {
		return fmt.Errorf("purchase required")
	}
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = s.now().UTC()
	}
	if err := s.db.WithContext(ctx).Create(p).Error; err != nil {
		return fmt.Errorf("insert purchase: %w", err)
	}
	return nil
}

// ListPurchases returns the most recent purchases, newest first. An empty
// buyer lists every buyer.
func (s *Store) ListPurchases(ctx context.Context, buyer string, limit int) ([]Purchase, error) {
	query := s.db.WithContext(ctx).Order("created_at DESC").Limit(clampLimit(limit))
	if buyer = strings.TrimSpace(buyer); buyer != "" {
		query = query.Where("buyer = ?", buyer)
	}
	var out []Purchase
	if err := query.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list purchases: %w", err)
	}
	return out, nil
}

// RecordAdminAction inserts an owner action.
func (s *Store) RecordAdminAction(ctx context.Context, actor, action, details string) (AdminAction, error) {
	row := AdminAction{
		ID:        uuid.New(),
		Actor:     actor,
		Action:    action,
		Details:   details,
		CreatedAt: s.now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return AdminAction{}, fmt.Errorf("insert admin action: %w", err)
	}
	return row, nil
}

// ListAdminActions returns recent owner actions, newest first.
func (s *Store) ListAdminActions(ctx context.Context, limit int) ([]AdminAction, error) {
	var out []AdminAction
	err := s.db.WithContext(ctx).Order("created_at DESC").Limit(clampLimit(limit)).Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("list admin actions: %w", err)
	}
	return out, nil
}

// UseNonce consumes nonce for address. A nonce can be used once per address.
func (s *Store) UseNonce(ctx context.Context, address, nonce string, seen time.Time) error {
	row := Nonce{Address: strings.ToLower(address), Value: nonce, CreatedAt: seen.UTC()}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
	if res.Error != nil {
		return fmt.Errorf("insert nonce: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNonceReplayed
	}
	return nil
}

// PruneNonces deletes nonces recorded before cutoff and returns the count.
func (s *Store) PruneNonces(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Where("created_at < ?", cutoff.UTC()).Delete(&Nonce{})
	if res.Error != nil {
		return 0, fmt.Errorf("prune nonces: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > maxListLimit {
		return maxListLimit
	}
	return limit
}
