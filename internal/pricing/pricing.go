// Package pricing computes exchange rates and order prices.
package pricing

import (
	"context"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/m3rciful/starstore/core/logger"
	"github.com/m3rciful/starstore/internal/chat"
	"github.com/m3rciful/starstore/internal/ledger"
)

const component = "service.pricing"

// Config holds the rate parameters. Zero values are replaced by Defaults.
type Config struct {
	DefaultRate      decimal.Decimal
	UnsubscribedRate decimal.Decimal
	MinRate          decimal.Decimal
	DiscountStep     decimal.Decimal
	DiscountVolume   decimal.Decimal
	// Channel gates the subscriber rate. Empty disables the check.
	Channel string
}

// Defaults returns the stock shop rates.
func Defaults() Config {
	return Config{
		DefaultRate:      decimal.RequireFromString("1.55"),
		UnsubscribedRate: decimal.RequireFromString("1.65"),
		MinRate:          decimal.RequireFromString("1.45"),
		DiscountStep:     decimal.RequireFromString("0.01"),
		DiscountVolume:   decimal.NewFromInt(1000),
	}
}

func (c Config) withDefaults() Config {
	d := Defaults()
	if !c.DefaultRate.IsPositive() {
		c.DefaultRate = d.DefaultRate
	}
	if !c.UnsubscribedRate.IsPositive() {
		c.UnsubscribedRate = d.UnsubscribedRate
	}
	if !c.MinRate.IsPositive() {
		c.MinRate = d.MinRate
	}
	if !c.DiscountStep.IsPositive() {
		c.DiscountStep = d.DiscountStep
	}
	if !c.DiscountVolume.IsPositive() {
		c.DiscountVolume = d.DiscountVolume
	}
	c.Channel = strings.TrimSpace(c.Channel)
	return c
}

// Settings reads the persisted global rate.
type Settings interface {
	GetSetting(ctx context.Context, key string) (string, bool, error)
}

// Members answers channel membership questions.
type Members interface {
	MembershipStatus(ctx context.Context, channel string, userID int64) (chat.Membership, error)
}

// ReferralTotals sums the paid orders of a user's referrals.
type ReferralTotals interface {
	ReferralPaidTotal(ctx context.Context, userID int64) (decimal.Decimal, error)
}

// Quote is the rate a user buys at.
type Quote struct {
	Rate       decimal.Decimal
	Subscribed bool
}

// Engine computes rates from settings, membership and referral volume.
type Engine struct {
	cfg       Config
	settings  Settings
	members   Members
	referrals ReferralTotals
}

// NewEngine builds an Engine. members may be nil when cfg.Channel is empty.
func NewEngine(cfg Config, settings Settings, members Members, referrals ReferralTotals) *Engine {
	return &Engine{cfg: cfg.withDefaults(), settings: settings, members: members, referrals: referrals}
}

// Config returns the effective configuration.
func (e *Engine) Config() Config { return e.cfg }

// GlobalRate returns the rate stored under the course setting, or the default
// rate when it is missing or malformed.
func (e *Engine) GlobalRate(ctx context.Context) (decimal.Decimal, error) {
	raw, ok, err := e.settings.GetSetting(ctx, ledger.SettingRate)
	if err != nil {
		return decimal.Zero, err
	}
	if !ok {
		return e.cfg.DefaultRate, nil
	}
	rate, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil || !rate.IsPositive() {
		logger.Warn(ctx, component, "rate.invalid",
			slog.String("status", "fail"),
			slog.String("payload", raw),
		)
		return e.cfg.DefaultRate, nil
	}
	return rate, nil
}

// Subscribed checks channel membership. Any failure counts as not subscribed.
func (e *Engine) Subscribed(ctx context.Context, userID int64) bool {
	if e.cfg.Channel == "" {
		return true
	}
	if e.members == nil {
		return false
	}
	status, err := e.members.MembershipStatus(ctx, e.cfg.Channel, userID)
	if err != nil {
		logger.Warn(ctx, component, "membership.check",
			slog.String("status", "fail"),
			slog.Int64("user_id", userID),
			slog.String("err", err.Error()),
		)
		return false
	}
	return status.Subscribed()
}

// Surcharge is the extra per-star price paid by non-subscribers.
func (e *Engine) Surcharge() decimal.Decimal {
	s := e.cfg.UnsubscribedRate.Sub(e.cfg.DefaultRate)
	if s.IsNegative() {
		return decimal.Zero
	}
	return s
}

// EffectiveRate is the global rate for subscribers and the global rate plus
// the surcharge for everyone else.
func (e *Engine) EffectiveRate(ctx context.Context, userID int64) (Quote, error) {
	global, err := e.GlobalRate(ctx)
	if err != nil {
		return Quote{}, err
	}
	if e.Subscribed(ctx, userID) {
		return Quote{Rate: global, Subscribed: true}, nil
	}
	return Quote{Rate: global.Add(e.Surcharge())}, nil
}

// DisplayRate is EffectiveRate for read-only screens: when the global rate
// cannot be read it logs the error and quotes from the default rate.
func (e *Engine) DisplayRate(ctx context.Context, userID int64) Quote {
	q, err := e.EffectiveRate(ctx, userID)
	if err == nil {
		return q
	}
	logger.Warn(ctx, component, "rate.fallback",
		slog.String("status", logger.Status(err)),
		slog.Int64("user_id", userID),
		slog.String("err", err.Error()),
	)
	if e.Subscribed(ctx, userID) {
		return Quote{Rate: e.cfg.DefaultRate, Subscribed: true}
	}
	return Quote{Rate: e.cfg.DefaultRate.Add(e.Surcharge())}
}

// PersonalRate lowers the global rate by one step per full volume of paid
// orders placed by the user's referrals, never below the minimum rate.
func (e *Engine) PersonalRate(ctx context.Context, userID int64) (decimal.Decimal, error) {
	global, err := e.GlobalRate(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	total, err := e.referrals.ReferralPaidTotal(ctx, userID)
	if err != nil {
		return decimal.Zero, err
	}
	return DiscountedRate(global, total, e.cfg), nil
}

// DiscountedRate applies the referral volume discount to global.
func DiscountedRate(global, referralTotal decimal.Decimal, cfg Config) decimal.Decimal {
	cfg = cfg.withDefaults()
	steps := referralTotal.Div(cfg.DiscountVolume).Floor()
	rate := global.Sub(cfg.DiscountStep.Mul(steps))
	if rate.LessThan(cfg.MinRate) {
		return cfg.MinRate
	}
	return rate
}

// Price returns amount × rate rounded to two decimal places.
func Price(amount int64, rate decimal.Decimal) decimal.Decimal {
	return rate.Mul(decimal.NewFromInt(amount)).Round(2)
}
