package logger

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"unicode"
)

type ctxKey int

const (
	loggerKey ctxKey = iota
	scopeKey
)

// scope is the per-update correlation data carried in a context. It is
// copied on every change so parent contexts never observe child updates.
type scope struct {
	rid      string
	updateID int
	userID   int64
	chatID   int64
	handler  string
}

func scopeOf(ctx context.Context) scope {
	if ctx == nil {
		return scope{}
	}
	s, _ := ctx.Value(scopeKey).(scope)
	return s
}

func withScope(ctx context.Context, edit func(*scope)) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	s := scopeOf(ctx)
	edit(&s)
	return context.WithValue(ctx, scopeKey, s)
}

// fields lists the non-empty scope values under their log keys.
func (s scope) fields() []slog.Attr {
	var out []slog.Attr
	if s.rid != "" {
		out = append(out, slog.String("rid", s.rid))
	}
	if s.userID != 0 {
		out = append(out, slog.Int64("user_id", s.userID))
	}
	if s.updateID != 0 {
		out = append(out, slog.Int("update_id", s.updateID))
	}
	if s.chatID != 0 {
		out = append(out, slog.Int64("chat_id", s.chatID))
	}
	if s.handler != "" {
		out = append(out, slog.String("handler", s.handler))
	}
	return out
}

// WithLogger binds log to ctx. A nil log leaves ctx as is.
func WithLogger(ctx context.Context, log *slog.Logger) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if log == nil {
		return ctx
	}
	return context.WithValue(ctx, loggerKey, log)
}

// FromContext returns the logger bound by WithLogger, or L.
func FromContext(ctx context.Context) *slog.Logger {
	if ctx != nil {
		if l, ok := ctx.Value(loggerKey).(*slog.Logger); ok && l != nil {
			return l
		}
	}
	return L
}

// WithRID sets the request id.
func WithRID(ctx context.Context, rid string) context.Context {
	return withScope(ctx, func(s *scope) { s.rid = rid })
}

// WithUpdateMeta sets the update, user and chat ids.
func WithUpdateMeta(ctx context.Context, updateID int, userID, chatID int64) context.Context {
	return withScope(ctx, func(s *scope) {
		s.updateID, s.userID, s.chatID = updateID, userID, chatID
	})
}

// WithHandler tags ctx with the handler name. An empty name is ignored.
func WithHandler(ctx context.Context, handler string) context.Context {
	if handler == "" {
		if ctx == nil {
			return context.Background()
		}
		return ctx
	}
	return withScope(ctx, func(s *scope) { s.handler = handler })
}

func RIDFrom(ctx context.Context) string     { return scopeOf(ctx).rid }
func HandlerFrom(ctx context.Context) string { return scopeOf(ctx).handler }
func UserIDFrom(ctx context.Context) int64   { return scopeOf(ctx).userID }
func ChatIDFrom(ctx context.Context) int64   { return scopeOf(ctx).chatID }
func UpdateIDFrom(ctx context.Context) int   { return scopeOf(ctx).updateID }

// SanitizeLimit drops control and format runes (keeping tab and newline) and
// truncates the result to max runes.
func SanitizeLimit(s string, max int) string {
	if max <= 0 || s == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(min(len(s), max*4))
	n := 0
	for _, r := range s {
		if r != '\n' && r != '\t' && (unicode.IsControl(r) || unicode.Is(unicode.Cf, r)) {
			continue
		}
		if n == max {
			break
		}
		b.WriteRune(r)
		n++
	}
	return b.String()
}

// BuildRID formats update, chat and user ids as "update:chat:user".
func BuildRID(updateID int, chatID, userID int64) string {
	return fmt.Sprintf("%d:%d:%d", updateID, chatID, userID)
}

// CompactRID rewrites a BuildRID value with base36 segments joined by dots.
// Anything else is returned unchanged.
func CompactRID(rid string) string {
	rid = strings.TrimSpace(rid)
	parts := strings.Split(rid, ":")
	if len(parts) != 3 {
		return rid
	}
	for i, p := range parts {
		n, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return rid
		}
		parts[i] = strconv.FormatInt(n, 36)
	}
	return strings.Join(parts, ".")
}
