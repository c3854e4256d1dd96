// Package app wires the shop services to the Telegram runtime.
package app

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	coreconfig "github.com/m3rciful/starstore/core/config"
	coredatabase "github.com/m3rciful/starstore/core/database"
	"github.com/m3rciful/starstore/internal/admin"
	"github.com/m3rciful/starstore/internal/conversation"
	"github.com/m3rciful/starstore/internal/pricing"
	"github.com/m3rciful/starstore/internal/referral"
	"github.com/m3rciful/starstore/internal/sweeper"
)

// ShopConfig holds the business settings of the store.
type ShopConfig struct {
	// Rates are decimal strings such as "1.55".
	DefaultRate      string `yaml:"default_rate" envconfig:"SHOP_DEFAULT_RATE"`
	UnsubscribedRate string `yaml:"unsubscribed_rate" envconfig:"SHOP_UNSUBSCRIBED_RATE"`
	MinRate          string `yaml:"min_rate" envconfig:"SHOP_MIN_RATE"`
	DiscountStep     string `yaml:"discount_step" envconfig:"SHOP_DISCOUNT_STEP"`
	DiscountVolume   string `yaml:"discount_volume" envconfig:"SHOP_DISCOUNT_VOLUME"`
	Currency         string `yaml:"currency" envconfig:"SHOP_CURRENCY"`

	MinStars int64 `yaml:"min_stars" envconfig:"SHOP_MIN_STARS"`
	MaxStars int64 `yaml:"max_stars" envconfig:"SHOP_MAX_STARS"`

	Channel        string `yaml:"channel" envconfig:"SHOP_CHANNEL"`
	ChannelURL     string `yaml:"channel_url" envconfig:"SHOP_CHANNEL_URL"`
	BotUsername    string `yaml:"bot_username" envconfig:"SHOP_BOT_USERNAME"`
	SupportContact string `yaml:"support_contact" envconfig:"SHOP_SUPPORT_CONTACT"`
	PaymentDetails string `yaml:"payment_details" envconfig:"SHOP_PAYMENT_DETAILS"`
	PaymentsDir    string `yaml:"payments_dir" envconfig:"SHOP_PAYMENTS_DIR"`

	MenuKeywords    []string `yaml:"menu_keywords" envconfig:"SHOP_MENU_KEYWORDS"`
	PaymentKeywords []string `yaml:"payment_keywords" envconfig:"SHOP_PAYMENT_KEYWORDS"`

	ReferralPercent int64         `yaml:"referral_percent" envconfig:"SHOP_REFERRAL_PERCENT"`
	MinExchange     int64         `yaml:"min_exchange" envconfig:"SHOP_MIN_EXCHANGE"`
	MinBonusDisplay int64         `yaml:"min_bonus_display" envconfig:"SHOP_MIN_BONUS_DISPLAY"`
	DailyCooldown   time.Duration `yaml:"daily_cooldown" envconfig:"SHOP_DAILY_COOLDOWN"`

	BroadcastInterval time.Duration `yaml:"broadcast_interval" envconfig:"SHOP_BROADCAST_INTERVAL"`
	SweepInterval     time.Duration `yaml:"sweep_interval" envconfig:"SHOP_SWEEP_INTERVAL"`
	StaleOrderAge     time.Duration `yaml:"stale_order_age" envconfig:"SHOP_STALE_ORDER_AGE"`

	rates pricing.Config
}

// MetricsConfig enables the Prometheus listener when Listen is set.
type MetricsConfig struct {
	Listen string `yaml:"listen" envconfig:"METRICS_LISTEN"`
}

// Config is the full application configuration.
type Config struct {
	coreconfig.Config `yaml:",inline"`

	Database coredatabase.Config `yaml:"database"`
	Shop     ShopConfig          `yaml:"shop"`
	Metrics  MetricsConfig       `yaml:"metrics"`
}

// CoreConfig exposes the shared runtime configuration.
func (c *Config) CoreConfig() *coreconfig.Config {
	return &c.Config
}

// LoadConfig reads path, overlays the environment and validates the result.
func LoadConfig(path string) (*Config, error) {
	var cfg Config
	if err := coreconfig.Decode(path, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Normalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Normalize validates every section and fills defaults.
func (c *Config) Normalize() error {
	if err := coreconfig.Normalize(&c.Config); err != nil {
		return err
	}
	if err := c.Database.Normalize(); err != nil {
		return err
	}
	return c.Shop.normalize()
}

func (s *ShopConfig) normalize() error {
	d := pricing.Defaults()
	fields := []struct {
		name string
		raw  string
		dst  *decimal.Decimal
		def  decimal.Decimal
	}{
		{"shop.default_rate", s.DefaultRate, &s.rates.DefaultRate, d.DefaultRate},
		{"shop.unsubscribed_rate", s.UnsubscribedRate, &s.rates.UnsubscribedRate, d.UnsubscribedRate},
		{"shop.min_rate", s.MinRate, &s.rates.MinRate, d.MinRate},
		{"shop.discount_step", s.DiscountStep, &s.rates.DiscountStep, d.DiscountStep},
		{"shop.discount_volume", s.DiscountVolume, &s.rates.DiscountVolume, d.DiscountVolume},
	}
	for _, f := range fields {
		raw := strings.TrimSpace(strings.ReplaceAll(f.raw, ",", "."))
		if raw == "" {
			*f.dst = f.def
			continue
		}
		v, err := decimal.NewFromString(raw)
		if err != nil || !v.IsPositive() {
			return fmt.Errorf("%s must be a positive decimal, got %q", f.name, f.raw)
		}
		*f.dst = v
	}
	if s.rates.MinRate.GreaterThan(s.rates.DefaultRate) {
		return fmt.Errorf("shop.min_rate %s is above shop.default_rate %s", s.rates.MinRate, s.rates.DefaultRate)
	}
	s.rates.Channel = strings.TrimSpace(s.Channel)

	if s.MinStars < 0 || s.MaxStars < 0 {
		return fmt.Errorf("shop.min_stars and shop.max_stars must be >= 0")
	}
	if s.MaxStars > 0 && s.MinStars > s.MaxStars {
		return fmt.Errorf("shop.min_stars %d is above shop.max_stars %d", s.MinStars, s.MaxStars)
	}
	if s.ReferralPercent < 0 || s.ReferralPercent > 100 {
		return fmt.Errorf("shop.referral_percent must be within 0..100, got %d", s.ReferralPercent)
	}
	if s.Currency == "" {
		s.Currency = "₽"
	}
	if strings.TrimSpace(s.PaymentsDir) == "" {
		s.PaymentsDir = "payments"
	}
	if s.ChannelURL == "" && s.rates.Channel != "" {
		s.ChannelURL = "https://t.me/" + strings.TrimPrefix(s.rates.Channel, "@")
	}
	return nil
}

// Pricing returns the rate settings. Valid after Normalize.
func (s ShopConfig) Pricing() pricing.Config { return s.rates }

// Referral returns the bonus settings.
func (s ShopConfig) Referral() referral.Config {
	return referral.Config{
		Percent:         s.ReferralPercent,
		MinExchange:     s.MinExchange,
		MinBonusDisplay: s.MinBonusDisplay,
		DailyCooldown:   s.DailyCooldown,
	}
}

// Conversation returns the dialog settings.
func (s ShopConfig) Conversation() conversation.Config {
	return conversation.Config{
		MinStars:        s.MinStars,
		MaxStars:        s.MaxStars,
		MenuKeywords:    s.MenuKeywords,
		PaymentKeywords: s.PaymentKeywords,
		Currency:        s.Currency,
		PaymentDetails:  s.PaymentDetails,
		SupportContact:  s.SupportContact,
		BotUsername:     s.BotUsername,
		ChannelURL:      s.ChannelURL,
	}
}

// Admin returns the operator settings.
func (c *Config) Admin() admin.Config {
	return admin.Config{
		AdminIDs:          c.Telegram.AdminIDs,
		BroadcastInterval: c.Shop.BroadcastInterval,
		Currency:          c.Shop.Currency,
	}
}

// Sweeper returns the stale order sweep settings.
func (s ShopConfig) Sweeper() sweeper.Config {
	return sweeper.Config{Interval: s.SweepInterval, MaxAge: s.StaleOrderAge}
}
