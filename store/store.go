package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/BaSui01/eventflow/internal/database"
)

// Sentinel errors for store operations.
var (
	ErrNotFound          = errors.New("record not found")
	ErrInvalidTransition = errors.New("invalid state transition")
)

// Store 事件存储
type Store struct {
	db         *gorm.DB
	logger     *zap.Logger
	now        func() time.Time
	txAttempts int
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithTxAttempts sets how many times a transaction is attempted when it
// loses a lock conflict. Default 3.
func WithTxAttempts(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.txAttempts = n
		}
	}
}

// New wraps an opened GORM database.
func New(db *gorm.DB, logger *zap.Logger, opts ...Option) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{
		db:         db,
		logger:     logger.With(zap.String("component", "event_store")),
		now:        func() time.Time { return time.Now().UTC() },
		txAttempts: 3,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DB returns the underlying GORM handle.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// AutoMigrate creates or updates all store tables. Production deployments
// may use the versioned SQL migrations instead.
func (s *Store) AutoMigrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("failed to migrate event store: %w", err)
	}
	return nil
}

func (s *Store) conn(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx)
}

// transaction 行级 upsert 在并发写同一行时可能撞上锁竞争，整笔重跑即可
func (s *Store) transaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return database.RetryTransaction(ctx, s.db, s.txAttempts, database.IsLockConflict, s.logger, fn)
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
