package ledger

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/m3rciful/starstore/internal/apperr"
)

// GetSetting returns the value stored under key and whether it exists.
func (s *Store) GetSetting(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := s.db.GetContext(ctx, &v, s.q(`SELECT value FROM settings WHERE key = ?`), key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, apperr.Storage("ledger.get_setting", err)
	}
	return v, true, nil
}

// SetSetting upserts key.
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, s.q(
		`INSERT INTO settings (key, value) VALUES (?, ?)
		 ON CONFLICT (key) DO UPDATE SET value = excluded.value`), key, value)
	return apperr.Storage("ledger.set_setting", err)
}

// EnsureSetting stores value only when key is absent.
func (s *Store) EnsureSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, s.q(
		`INSERT INTO settings (key, value) VALUES (?, ?) ON CONFLICT (key) DO NOTHING`), key, value)
	return apperr.Storage("ledger.ensure_setting", err)
}

// AddFeedback appends a feedback message.
func (s *Store) AddFeedback(ctx context.Context, userID int64, text string) (Feedback, error) {
	const op = "ledger.add_feedback"
	text = strings.TrimSpace(text)
	if text == "" {
		return Feedback{}, apperr.Validation(op, "feedback is empty")
	}
	f := Feedback{UserID: userID, Text: text, CreatedAt: s.Now()}
	err := s.db.GetContext(ctx, &f.ID, s.q(
		`INSERT INTO feedback (user_id, text, created_at) VALUES (?, ?, ?) RETURNING id`),
		f.UserID, f.Text, f.CreatedAt,
	)
	if err != nil {
		return Feedback{}, apperr.Storage(op, err)
	}
	return f, nil
}

// ReferrerStat is one row of the referrer breakdown.
type ReferrerStat struct {
	UserID         int64  `db:"id"`
	Username       string `db:"username"`
	ReferralsCount int    `db:"referrals_count"`
}

// Stats aggregates shop totals for the admin panel.
type Stats struct {
	Users         int
	StarsBalance  int64
	PaidOrders    int
	PendingOrders int
	Referrers     []ReferrerStat
}

// Stats collects totals over users and orders.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	const op = "ledger.stats"
	var st Stats
	var totals struct {
		Users int   `db:"users"`
		Stars int64 `db:"stars"`
	}
	if err := s.db.GetContext(ctx, &totals, `SELECT COUNT(*) AS users, COALESCE(SUM(stars), 0) AS stars FROM users`); err != nil {
		return Stats{}, apperr.Storage(op, err)
	}
	st.Users, st.StarsBalance = totals.Users, totals.Stars

	var orders struct {
		Paid    int `db:"paid"`
		Pending int `db:"pending"`
	}
	if err := s.db.GetContext(ctx, &orders,
		`SELECT COALESCE(SUM(CASE WHEN paid THEN 1 ELSE 0 END), 0) AS paid,
		        COALESCE(SUM(CASE WHEN paid THEN 0 ELSE 1 END), 0) AS pending
		 FROM orders`); err != nil {
		return Stats{}, apperr.Storage(op, err)
	}
	st.PaidOrders, st.PendingOrders = orders.Paid, orders.Pending

	if err := s.db.SelectContext(ctx, &st.Referrers,
		`SELECT id, username, referrals_count FROM users
		 WHERE referrals_count > 0 ORDER BY referrals_count DESC, id`); err != nil {
		return Stats{}, apperr.Storage(op, err)
	}
	return st, nil
}
