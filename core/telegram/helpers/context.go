package helpers

import (
	"context"

	"github.com/m3rciful/starstore/core/logger"

	tele "gopkg.in/telebot.v4"
)

const (
	contextKey = "logger_ctx"
	ridKey     = "rid"
)

// Meta identifies the update being handled.
type Meta struct {
	UpdateID int
	ChatID   int64
	UserID   int64
}

// MetaOf extracts update, chat and sender ids; missing parts are zero.
func MetaOf(c tele.Context) Meta {
	if c == nil {
		return Meta{}
	}
	m := Meta{UpdateID: c.Update().ID}
	if chat := c.Chat(); chat != nil {
		m.ChatID = chat.ID
	}
	if user := c.Sender(); user != nil {
		m.UserID = user.ID
	}
	return m
}

// RID returns the request id stored on c, deriving one from the update
// metadata when no middleware set it.
func RID(c tele.Context) string {
	if rid, _ := c.Get(ridKey).(string); rid != "" {
		return rid
	}
	m := MetaOf(c)
	rid := logger.BuildRID(m.UpdateID, m.ChatID, m.UserID)
	c.Set(ridKey, rid)
	return rid
}

// StoreContext attaches ctx to c for downstream handlers.
func StoreContext(c tele.Context, ctx context.Context) {
	if c == nil || ctx == nil {
		return
	}
	c.Set(contextKey, ctx)
}

// ContextFrom returns the context stored by StoreContext.
func ContextFrom(c tele.Context) (context.Context, bool) {
	if c == nil {
		return nil, false
	}
	ctx, ok := c.Get(contextKey).(context.Context)
	return ctx, ok && ctx != nil
}

// NewContext builds a fresh logging context for c without caching it.
func NewContext(c tele.Context) context.Context {
	m := MetaOf(c)
	ctx := logger.WithRID(context.Background(), RID(c))
	ctx = logger.WithUpdateMeta(ctx, m.UpdateID, m.UserID, m.ChatID)
	return logger.WithLogger(ctx, logger.TG)
}

// BuildContext returns the stored context or builds and stores a new one.
// The result is detached from the poller so work queued by a handler
// outlives the update.
func BuildContext(c tele.Context) context.Context {
	if cached, ok := ContextFrom(c); ok {
		return cached
	}
	ctx := NewContext(c)
	StoreContext(c, ctx)
	return ctx
}

// WithHandler tags the stored context with the handler name.
func WithHandler(c tele.Context, handler string) context.Context {
	ctx := BuildContext(c)
	if handler == "" {
		return ctx
	}
	ctx = logger.WithHandler(ctx, handler)
	StoreContext(c, ctx)
	return ctx
}
