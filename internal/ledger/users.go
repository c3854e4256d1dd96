package ledger

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/m3rciful/starstore/internal/apperr"
)

// RegisterUser creates the user on first contact. referrerID is honoured only
// when it names another user that already exists; the referrer's
// referrals_count grows exactly once. For a known user only the username is
// refreshed. The returned bool reports whether the user was created.
func (s *Store) RegisterUser(ctx context.Context, id int64, username string, referrerID int64) (User, bool, error) {
	const op = "ledger.register_user"
	var (
		user    User
		created bool
	)
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		existing, err := getUser(ctx, tx, id)
		switch {
		case err == nil:
			if existing.Username != username {
				if _, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE users SET username = ? WHERE id = ?`), username, id); err != nil {
					return err
				}
				existing.Username = username
			}
			user = existing
			return nil
		case !errors.Is(err, sql.ErrNoRows):
			return err
		}

		var ref *int64
		if referrerID != 0 && referrerID != id {
			var exists bool
			if err := tx.GetContext(ctx, &exists, tx.Rebind(`SELECT EXISTS (SELECT 1 FROM users WHERE id = ?)`), referrerID); err != nil {
				return err
			}
			if exists {
				ref = &referrerID
			}
		}

		res, err := tx.ExecContext(ctx, tx.Rebind(
			`INSERT INTO users (id, username, referrer_id, registered_at) VALUES (?, ?, ?, ?) ON CONFLICT (id) DO NOTHING`),
			id, username, ref, s.Now(),
		)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 1 && ref != nil {
			if _, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE users SET referrals_count = referrals_count + 1 WHERE id = ?`), *ref); err != nil {
				return err
			}
		}
		created = n == 1
		user, err = getUser(ctx, tx, id)
		return err
	})
	if err != nil {
		return User{}, false, apperr.Storage(op, err)
	}
	if created {
		attrs := []slog.Attr{slog.Int64("user_id", id), slog.String("username", username)}
		if user.ReferrerID != nil {
			attrs = append(attrs, slog.Int64("referrer_id", *user.ReferrerID))
		}
		s.debug(ctx, "user.registered", attrs...)
	}
	return user, created, nil
}

// GetUser loads a user by id.
func (s *Store) GetUser(ctx context.Context, id int64) (User, error) {
	const op = "ledger.get_user"
	u, err := getUser(ctx, s.db, id)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, apperr.NotFound(op, "user not found")
	}
	if err != nil {
		return User{}, apperr.Storage(op, err)
	}
	return u, nil
}

// CreditStars adds stars to the user's balance.
func (s *Store) CreditStars(ctx context.Context, id, stars int64) error {
	const op = "ledger.credit_stars"
	if stars <= 0 {
		return apperr.Validation(op, "stars must be positive")
	}
	res, err := s.db.ExecContext(ctx, s.q(`UPDATE users SET stars = stars + ? WHERE id = ?`), stars, id)
	if err != nil {
		return apperr.Storage(op, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return apperr.Storage(op, err)
	} else if n == 0 {
		return apperr.NotFound(op, "user not found")
	}
	return nil
}

// ClaimDailyBonus credits reward to the referral bonus balance when the last
// claim is at least cooldown old. A premature claim fails with an
// already-handled error and returns the unchanged user.
func (s *Store) ClaimDailyBonus(ctx context.Context, id, reward int64, cooldown time.Duration) (User, error) {
	const op = "ledger.claim_daily_bonus"
	if reward <= 0 {
		return User{}, apperr.Validation(op, "reward must be positive")
	}
	now := s.Now()
	res, err := s.db.ExecContext(ctx, s.q(
		`UPDATE users SET referral_bonus = referral_bonus + ?, last_bonus_at = ?
		 WHERE id = ? AND (last_bonus_at IS NULL OR last_bonus_at <= ?)`),
		reward, now, id, now.Add(-cooldown),
	)
	if err != nil {
		return User{}, apperr.Storage(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return User{}, apperr.Storage(op, err)
	}
	user, err := s.GetUser(ctx, id)
	if err != nil {
		return User{}, err
	}
	if n == 0 {
		return user, apperr.AlreadyHandled(op, "daily bonus already claimed")
	}
	s.debug(ctx, "bonus.daily", slog.Int64("user_id", id), slog.Int64("bonus", reward))
	return user, nil
}

// ExchangeBonus debits amount from the referral bonus and credits stars in one
// statement. It fails with a validation error when the balance is too low.
func (s *Store) ExchangeBonus(ctx context.Context, id, amount, stars int64) (User, error) {
	const op = "ledger.exchange_bonus"
	if amount <= 0 || stars <= 0 {
		return User{}, apperr.Validation(op, "amount and stars must be positive")
	}
	res, err := s.db.ExecContext(ctx, s.q(
		`UPDATE users SET referral_bonus = referral_bonus - ?, stars = stars + ?
		 WHERE id = ? AND referral_bonus >= ?`),
		amount, stars, id, amount,
	)
	if err != nil {
		return User{}, apperr.Storage(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return User{}, apperr.Storage(op, err)
	}
	user, err := s.GetUser(ctx, id)
	if err != nil {
		return User{}, err
	}
	if n == 0 {
		return user, apperr.Validation(op, "not enough bonus")
	}
	s.debug(ctx, "bonus.exchange", slog.Int64("user_id", id), slog.Int64("bonus", amount), slog.Int64("stars", stars))
	return user, nil
}

// ListUserIDs returns every known user id in ascending order.
func (s *Store) ListUserIDs(ctx context.Context) ([]int64, error) {
	var ids []int64
	if err := s.db.SelectContext(ctx, &ids, `SELECT id FROM users ORDER BY id`); err != nil {
		return nil, apperr.Storage("ledger.list_user_ids", err)
	}
	return ids, nil
}

func getUser(ctx context.Context, q sqlx.ExtContext, id int64) (User, error) {
	var u User
	err := sqlx.GetContext(ctx, q, &u, q.Rebind(`SELECT `+userColumns+` FROM users WHERE id = ?`), id)
	return u, err
}
