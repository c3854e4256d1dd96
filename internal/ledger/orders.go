package ledger

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/m3rciful/starstore/internal/apperr"
)

// RewardFunc computes the referral credit for an approved order.
type RewardFunc func(o Order) (bonus, stars int64)

// Approval describes the effects of a successful ApproveOrder.
type Approval struct {
	Order         Order
	Buyer         User
	ReferrerID    *int64
	ReferrerBonus int64
	ReferrerStars int64
}

// CreateOrder stores a new unpaid order.
func (s *Store) CreateOrder(ctx context.Context, in NewOrder) (Order, error) {
	const op = "ledger.create_order"
	if in.Stars <= 0 || in.Recipient == "" || !in.Price.IsPositive() {
		return Order{}, apperr.Validation(op, "order is incomplete")
	}
	o := Order{
		UserID:    in.UserID,
		Recipient: in.Recipient,
		Stars:     in.Stars,
		Price:     in.Price.Round(2),
		CreatedAt: s.Now(),
	}
	err := s.db.GetContext(ctx, &o.ID, s.q(
		`INSERT INTO orders (user_id, recipient, stars, price, paid, created_at)
		 VALUES (?, ?, ?, ?, FALSE, ?) RETURNING id`),
		o.UserID, o.Recipient, o.Stars, o.Price.StringFixed(2), o.CreatedAt,
	)
	if err != nil {
		return Order{}, apperr.Storage(op, err)
	}
	s.debug(ctx, "order.created",
		slog.Int64("order_id", o.ID),
		slog.Int64("user_id", o.UserID),
		slog.Int64("stars", o.Stars),
		slog.String("price", o.Price.StringFixed(2)),
	)
	return o, nil
}

// GetOrder loads an order by id.
func (s *Store) GetOrder(ctx context.Context, id int64) (Order, error) {
	const op = "ledger.get_order"
	o, err := getOrder(ctx, s.db, id)
	if errors.Is(err, sql.ErrNoRows) {
		return Order{}, apperr.NotFound(op, "order not found")
	}
	if err != nil {
		return Order{}, apperr.Storage(op, err)
	}
	return o, nil
}

// ListOrders returns the user's orders, newest first.
func (s *Store) ListOrders(ctx context.Context, userID int64) ([]Order, error) {
	var out []Order
	err := s.db.SelectContext(ctx, &out, s.q(
		`SELECT `+orderColumns+` FROM orders WHERE user_id = ? ORDER BY created_at DESC, id DESC`), userID)
	if err != nil {
		return nil, apperr.Storage("ledger.list_orders", err)
	}
	return out, nil
}

// ApproveOrder marks an unpaid order as paid, credits the buyer's stars and,
// when the buyer has a referrer, the reward computed by reward. All of it
// commits together. A missing order yields a not-found error and a paid one an
// already-handled error; neither mutates anything.
func (s *Store) ApproveOrder(ctx context.Context, id int64, reward RewardFunc) (Approval, error) {
	const op = "ledger.approve_order"
	var a Approval
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE orders SET paid = TRUE WHERE id = ? AND paid = FALSE`), id)
		if err != nil {
			return apperr.Storage(op, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return apperr.Storage(op, err)
		}
		if n == 0 {
			return resolvedOrderError(ctx, tx, op, id)
		}

		o, err := getOrder(ctx, tx, id)
		if err != nil {
			return apperr.Storage(op, err)
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE users SET stars = stars + ? WHERE id = ?`), o.Stars, o.UserID); err != nil {
			return apperr.Storage(op, err)
		}
		buyer, err := getUser(ctx, tx, o.UserID)
		if err != nil {
			return apperr.Storage(op, err)
		}
		a = Approval{Order: o, Buyer: buyer, ReferrerID: buyer.ReferrerID}
		if buyer.ReferrerID == nil || reward == nil {
			return nil
		}
		bonus, stars := reward(o)
		if bonus <= 0 && stars <= 0 {
			return nil
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind(
			`UPDATE users SET referral_bonus = referral_bonus + ?, stars = stars + ? WHERE id = ?`),
			bonus, stars, *buyer.ReferrerID,
		); err != nil {
			return apperr.Storage(op, err)
		}
		a.ReferrerBonus, a.ReferrerStars = bonus, stars
		return nil
	})
	if err != nil {
		return Approval{}, asStorage(op, err)
	}
	s.debug(ctx, "order.approved",
		slog.Int64("order_id", id),
		slog.Int64("user_id", a.Order.UserID),
		slog.Int64("stars", a.Order.Stars),
		slog.Int64("bonus", a.ReferrerBonus),
	)
	return a, nil
}

// RejectOrder deletes an unpaid order and returns it. Missing and paid orders
// are reported like in ApproveOrder.
func (s *Store) RejectOrder(ctx context.Context, id int64) (Order, error) {
	const op = "ledger.reject_order"
	var o Order
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		o, err = getOrder(ctx, tx, id)
		if errors.Is(err, sql.ErrNoRows) {
			return apperr.NotFound(op, "order not found")
		}
		if err != nil {
			return apperr.Storage(op, err)
		}
		if o.Paid {
			return apperr.AlreadyHandled(op, "order already approved")
		}
		res, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM orders WHERE id = ? AND paid = FALSE`), id)
		if err != nil {
			return apperr.Storage(op, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return apperr.Storage(op, err)
		}
		if n == 0 {
			return resolvedOrderError(ctx, tx, op, id)
		}
		return nil
	})
	if err != nil {
		return Order{}, asStorage(op, err)
	}
	s.debug(ctx, "order.rejected", slog.Int64("order_id", id), slog.Int64("user_id", o.UserID))
	return o, nil
}

// SweepStaleUnpaidOrders deletes unpaid orders created more than maxAge ago.
func (s *Store) SweepStaleUnpaidOrders(ctx context.Context, maxAge time.Duration) (int64, error) {
	const op = "ledger.sweep_stale_orders"
	cutoff := s.Now().Add(-maxAge)
	res, err := s.db.ExecContext(ctx, s.q(`DELETE FROM orders WHERE paid = FALSE AND created_at < ?`), cutoff)
	if err != nil {
		return 0, apperr.Storage(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, apperr.Storage(op, err)
	}
	return n, nil
}

// TotalStarsPurchased sums the stars of the user's paid orders.
func (s *Store) TotalStarsPurchased(ctx context.Context, userID int64) (int64, error) {
	var total int64
	err := s.db.GetContext(ctx, &total, s.q(
		`SELECT COALESCE(SUM(stars), 0) FROM orders WHERE user_id = ? AND paid = TRUE`), userID)
	if err != nil {
		return 0, apperr.Storage("ledger.total_stars_purchased", err)
	}
	return total, nil
}

// ReferralPaidTotal sums the prices of paid orders placed by users referred by userID.
func (s *Store) ReferralPaidTotal(ctx context.Context, userID int64) (decimal.Decimal, error) {
	var prices []decimal.Decimal
	err := s.db.SelectContext(ctx, &prices, s.q(
		`SELECT o.price FROM orders o JOIN users u ON u.id = o.user_id
		 WHERE u.referrer_id = ? AND o.paid = TRUE`), userID)
	if err != nil {
		return decimal.Zero, apperr.Storage("ledger.referral_paid_total", err)
	}
	return decimal.Sum(decimal.Zero, prices...), nil
}

func resolvedOrderError(ctx context.Context, tx *sqlx.Tx, op string, id int64) error {
	var paid bool
	err := tx.GetContext(ctx, &paid, tx.Rebind(`SELECT paid FROM orders WHERE id = ?`), id)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return apperr.NotFound(op, "order not found")
	case err != nil:
		return apperr.Storage(op, err)
	}
	return apperr.AlreadyHandled(op, "order already handled")
}

func getOrder(ctx context.Context, q sqlx.ExtContext, id int64) (Order, error) {
	var o Order
	err := sqlx.GetContext(ctx, q, &o, q.Rebind(`SELECT `+orderColumns+` FROM orders WHERE id = ?`), id)
	return o, err
}

// asStorage keeps classified errors and wraps the rest, such as a failed commit.
func asStorage(op string, err error) error {
	if apperr.KindOf(err) != "" {
		return err
	}
	return apperr.Storage(op, err)
}
