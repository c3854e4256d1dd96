// Package ledger persists users, orders, settings and feedback. Every mutation
// is a single conditional statement or a short transaction so balances stay
// consistent when several sessions and admins act at once.
package ledger

import (
	"context"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/m3rciful/starstore/core/logger"
)

// SettingRate is the settings key holding the global exchange rate.
const SettingRate = "course"

// User is a shop customer.
type User struct {
	ID             int64      `db:"id"`
	Username       string     `db:"username"`
	Stars          int64      `db:"stars"`
	ReferrerID     *int64     `db:"referrer_id"`
	ReferralBonus  int64      `db:"referral_bonus"`
	ReferralsCount int        `db:"referrals_count"`
	LastBonusAt    *time.Time `db:"last_bonus_at"`
	RegisteredAt   time.Time  `db:"registered_at"`
}

// Order is a purchase awaiting or past admin review.
type Order struct {
	ID        int64           `db:"id"`
	UserID    int64           `db:"user_id"`
	Recipient string          `db:"recipient"`
	Stars     int64           `db:"stars"`
	Price     decimal.Decimal `db:"price"`
	Paid      bool            `db:"paid"`
	CreatedAt time.Time       `db:"created_at"`
}

// NewOrder carries the fields of an order about to be created.
type NewOrder struct {
	UserID    int64
	Recipient string
	Stars     int64
	Price     decimal.Decimal
}

// Feedback is a free-text message left by a user.
type Feedback struct {
	ID        int64     `db:"id"`
	UserID    int64     `db:"user_id"`
	Text      string    `db:"text"`
	CreatedAt time.Time `db:"created_at"`
}

// Option configures a Store.
type Option func(*Store)

// WithClock replaces the wall clock used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// Store is the sqlx backed ledger.
type Store struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewStore wraps an open database that already has the schema applied.
func NewStore(db *sqlx.DB, opts ...Option) *Store {
	s := &Store{db: db, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Now returns the store clock truncated to whole seconds in UTC.
func (s *Store) Now() time.Time {
	return s.now().UTC().Truncate(time.Second)
}

func (s *Store) q(query string) string {
	return s.db.Rebind(query)
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *Store) debug(ctx context.Context, event string, attrs ...slog.Attr) {
	logger.LogEvent(ctx, logger.SVCLedger, slog.LevelDebug, event, attrs...)
}

const userColumns = `id, username, stars, referrer_id, referral_bonus, referrals_count, last_bonus_at, registered_at`

const orderColumns = `id, user_id, recipient, stars, price, paid, created_at`
