package logger

// keyOrder fixes the leading keys of every line; other keys follow sorted.
var keyOrder = []string{
	"ts", "level", "component", "event", "status",
	"rid", "rid_full", "ts_unix_nano",
	"update_id", "user_id", "chat_id", "chat_type", "handler",
	"state", "next_state", "event_kind", "op", "cb_key", "outcome", "duration_ms",
	"order_id", "recipient", "stars", "price", "rate", "bonus",
	"admin_id", "referrer_id", "sent", "failed", "blocked", "removed",
	"payload", "username", "err", "err_code", "cause", "attempt",
}

var keyRank = func() map[string]int {
	m := make(map[string]int, len(keyOrder))
	for i, k := range keyOrder {
		m[k] = i
	}
	return m
}()

// outcomes are the accepted values of the outcome attribute; others are dropped.
var outcomes = map[string]struct{}{
	"ok":           {},
	"fail":         {},
	"cancelled":    {},
	"rate_limited": {},
}

// secretKeys are attribute names whose values never reach a sink.
var secretKeys = map[string]struct{}{
	"token":           {},
	"bot_token":       {},
	"dsn":             {},
	"password":        {},
	"payment_details": {},
}
