package telegram

import (
	"time"

	coreconfig "github.com/m3rciful/starstore/core/config"
	"github.com/m3rciful/starstore/core/telegram/middleware"

	tele "gopkg.in/telebot.v4"
)

// DefaultMiddlewares returns the global chain: panic recovery, the per-user
// rate limit when an interval is configured, then the receipt logger.
// onLimited answers updates the limiter dropped.
func DefaultMiddlewares(cfg *coreconfig.Config, onLimited tele.HandlerFunc) []Middleware {
	mws := []Middleware{{Name: "recover", Use: middleware.RecoverMiddleware}}
	if rl := rateLimitOptions(cfg, onLimited); rl != nil {
		mws = append(mws, Middleware{Name: "rate_limit", Use: middleware.RateLimitMiddleware(*rl)})
	}
	return append(mws, Middleware{Name: "logger", Use: middleware.LoggerMiddleware})
}

func rateLimitOptions(cfg *coreconfig.Config, onLimited tele.HandlerFunc) *middleware.RateLimitOptions {
	if cfg == nil || cfg.RateLimit.IntervalMS <= 0 {
		return nil
	}
	exclude := make(map[string]struct{}, len(cfg.RateLimit.ExcludeUpdates))
	for _, kind := range cfg.RateLimit.ExcludeUpdates {
		exclude[kind] = struct{}{}
	}
	return &middleware.RateLimitOptions{
		Interval:  time.Duration(cfg.RateLimit.IntervalMS) * time.Millisecond,
		Burst:     cfg.RateLimit.Burst,
		Exclude:   exclude,
		OnLimited: onLimited,
	}
}
