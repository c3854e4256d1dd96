// Package referral computes referral rewards, the daily bonus and the
// bonus-to-stars exchange.
//
// The referral_bonus column is the spendable balance: it is credited when a
// referred user's order is approved and by daily bonus claims. BonusEarned
// recomputes the referral share from paid orders and is only an audit figure;
// the two diverge as soon as daily bonuses or exchanges happen.
package referral

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/shopspring/decimal"

	"github.com/m3rciful/starstore/internal/apperr"
	"github.com/m3rciful/starstore/internal/ledger"
)

// Config holds the referral parameters. Zero values are replaced by defaults.
type Config struct {
	Percent         int64
	MinExchange     int64
	MinBonusDisplay int64
	DailyCooldown   time.Duration
}

func (c Config) withDefaults() Config {
	if c.Percent <= 0 {
		c.Percent = 5
	}
	if c.MinExchange <= 0 {
		c.MinExchange = 50
	}
	if c.MinBonusDisplay <= 0 {
		c.MinBonusDisplay = 50
	}
	if c.DailyCooldown <= 0 {
		c.DailyCooldown = 24 * time.Hour
	}
	return c
}

// Store is the part of the ledger the engine needs.
type Store interface {
	GetUser(ctx context.Context, id int64) (ledger.User, error)
	TotalStarsPurchased(ctx context.Context, userID int64) (int64, error)
	ReferralPaidTotal(ctx context.Context, userID int64) (decimal.Decimal, error)
	ExchangeBonus(ctx context.Context, id, amount, stars int64) (ledger.User, error)
	ClaimDailyBonus(ctx context.Context, id, reward int64, cooldown time.Duration) (ledger.User, error)
}

// Rates provides the current global rate.
type Rates interface {
	GlobalRate(ctx context.Context) (decimal.Decimal, error)
}

// Engine implements the referral and bonus rules.
type Engine struct {
	cfg   Config
	store Store
	rates Rates
	intn  func(n int) int
}

// NewEngine builds an Engine drawing daily rewards from math/rand.
func NewEngine(cfg Config, store Store, rates Rates) *Engine {
	return &Engine{cfg: cfg.withDefaults(), store: store, rates: rates, intn: rand.IntN}
}

// WithRand replaces the random source; intn must return values in [0, n).
func (e *Engine) WithRand(intn func(n int) int) *Engine {
	if intn != nil {
		e.intn = intn
	}
	return e
}

// Config returns the effective configuration.
func (e *Engine) Config() Config { return e.cfg }

// ReferrerReward is the referrer's share of an approved order: the configured
// percent of the price in currency and of the stars, both floored.
func (e *Engine) ReferrerReward(o ledger.Order) (bonus, stars int64) {
	return percentOf(o.Price, e.cfg.Percent), percentOf(decimal.NewFromInt(o.Stars), e.cfg.Percent)
}

// TotalStarsPurchased sums the stars of the user's paid orders.
func (e *Engine) TotalStarsPurchased(ctx context.Context, userID int64) (int64, error) {
	return e.store.TotalStarsPurchased(ctx, userID)
}

// BonusEarned recomputes the referral share over all paid orders of the
// user's referrals.
func (e *Engine) BonusEarned(ctx context.Context, userID int64) (int64, error) {
	total, err := e.store.ReferralPaidTotal(ctx, userID)
	if err != nil {
		return 0, err
	}
	return percentOf(total, e.cfg.Percent), nil
}

// ExchangeResult reports a completed exchange.
type ExchangeResult struct {
	Amount int64
	Stars  int64
	Rate   decimal.Decimal
	User   ledger.User
}

// Exchange converts amount of referral bonus into floor(amount / global rate) stars.
func (e *Engine) Exchange(ctx context.Context, userID, amount int64) (ExchangeResult, error) {
	const op = "referral.exchange"
	if amount < e.cfg.MinExchange {
		return ExchangeResult{}, apperr.Validationf(op, "the minimum exchange is %d", e.cfg.MinExchange)
	}
	user, err := e.store.GetUser(ctx, userID)
	if err != nil {
		return ExchangeResult{}, err
	}
	if amount > user.ReferralBonus {
		return ExchangeResult{}, apperr.Validationf(op, "your bonus balance is only %d", user.ReferralBonus)
	}
	rate, err := e.rates.GlobalRate(ctx)
	if err != nil {
		return ExchangeResult{}, err
	}
	stars := StarsFor(amount, rate)
	if stars < 1 {
		return ExchangeResult{}, apperr.Validation(op, "the amount is too small for a single star")
	}
	user, err = e.store.ExchangeBonus(ctx, userID, amount, stars)
	if err != nil {
		return ExchangeResult{}, err
	}
	return ExchangeResult{Amount: amount, Stars: stars, Rate: rate, User: user}, nil
}

// DailyResult reports a daily bonus claim.
type DailyResult struct {
	Reward int64
	User   ledger.User
	NextAt time.Time
}

// ClaimDailyBonus draws a reward and credits it when the cooldown has passed.
// A premature claim returns an already-handled error together with the
// unchanged user and the time of the next allowed claim.
func (e *Engine) ClaimDailyBonus(ctx context.Context, userID int64) (DailyResult, error) {
	reward := DrawReward(e.intn)
	user, err := e.store.ClaimDailyBonus(ctx, userID, reward, e.cfg.DailyCooldown)
	res := DailyResult{User: user}
	if user.LastBonusAt != nil {
		res.NextAt = user.LastBonusAt.Add(e.cfg.DailyCooldown)
	}
	if err != nil {
		return res, err
	}
	res.Reward = reward
	return res, nil
}

// DrawReward returns 1..5 with 95% probability and 6..100 otherwise.
func DrawReward(intn func(n int) int) int64 {
	if intn(100) < 95 {
		return int64(1 + intn(5))
	}
	return int64(6 + intn(95))
}

// StarsFor converts a bonus amount into whole stars at rate.
func StarsFor(amount int64, rate decimal.Decimal) int64 {
	if !rate.IsPositive() {
		return 0
	}
	return decimal.NewFromInt(amount).Div(rate).Floor().IntPart()
}

func percentOf(v decimal.Decimal, percent int64) int64 {
	return v.Mul(decimal.NewFromInt(percent)).Div(decimal.NewFromInt(100)).Floor().IntPart()
}
