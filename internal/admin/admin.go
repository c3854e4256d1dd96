// Package admin implements the operator side of the shop: order review,
// broadcast, rate changes and statistics. Every entry point re-checks the
// acting user against the configured admin set.
package admin

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/m3rciful/starstore/core/logger"
	"github.com/m3rciful/starstore/internal/apperr"
	"github.com/m3rciful/starstore/internal/chat"
	"github.com/m3rciful/starstore/internal/ledger"
	"github.com/m3rciful/starstore/internal/metrics"
)

// Callback button identifiers attached to new order notifications.
const (
	ButtonApproveOrder = "approve_order"
	ButtonRejectOrder  = "reject_order"
)

// Config holds the admin set and broadcast pacing.
type Config struct {
	AdminIDs []int64
	// BroadcastInterval is the pause between two broadcast sends.
	BroadcastInterval time.Duration
	Currency          string
}

// Store is the part of the ledger used by the workflow.
type Store interface {
	ApproveOrder(ctx context.Context, id int64, reward ledger.RewardFunc) (ledger.Approval, error)
	RejectOrder(ctx context.Context, id int64) (ledger.Order, error)
	ListUserIDs(ctx context.Context) ([]int64, error)
	SetSetting(ctx context.Context, key, value string) error
	Stats(ctx context.Context) (ledger.Stats, error)
}

// Sender delivers messages.
type Sender interface {
	SendMessage(ctx context.Context, chatID int64, msg chat.Message) (int, error)
}

// Workflow runs admin operations.
type Workflow struct {
	cfg     Config
	admins  map[int64]struct{}
	store   Store
	reward  ledger.RewardFunc
	sender  Sender
	metrics *metrics.Recorder
}

// NewWorkflow builds a Workflow. reward computes referrer credit on approval.
func NewWorkflow(cfg Config, store Store, reward ledger.RewardFunc, sender Sender, rec *metrics.Recorder) *Workflow {
	if cfg.BroadcastInterval <= 0 {
		cfg.BroadcastInterval = 50 * time.Millisecond
	}
	if cfg.Currency == "" {
		cfg.Currency = "₽"
	}
	admins := make(map[int64]struct{}, len(cfg.AdminIDs))
	for _, id := range cfg.AdminIDs {
		admins[id] = struct{}{}
	}
	return &Workflow{cfg: cfg, admins: admins, store: store, reward: reward, sender: sender, metrics: rec}
}

// IsAdmin reports whether userID belongs to the admin set.
func (w *Workflow) IsAdmin(userID int64) bool {
	_, ok := w.admins[userID]
	return ok
}

// Admins returns the configured admin ids.
func (w *Workflow) Admins() []int64 {
	return append([]int64(nil), w.cfg.AdminIDs...)
}

func (w *Workflow) authorize(ctx context.Context, op string, actor int64) error {
	if w.IsAdmin(actor) {
		return nil
	}
	logger.LogEvent(ctx, logger.SVCAdmin, slog.LevelWarn, "admin.denied",
		slog.String("status", "denied"),
		slog.String("op", op),
		slog.Int64("user_id", actor),
	)
	return apperr.Unauthorized(op)
}

// ApproveOrder marks the order paid, credits the buyer and the referrer and
// tells the buyer. Repeated calls report already-handled without side effects.
func (w *Workflow) ApproveOrder(ctx context.Context, actor, orderID int64) (ledger.Approval, error) {
	const op = "admin.approve_order"
	if err := w.authorize(ctx, op, actor); err != nil {
		return ledger.Approval{}, err
	}
	a, err := w.store.ApproveOrder(ctx, orderID, w.reward)
	if err != nil {
		w.logResolve(ctx, "order.approve", actor, orderID, err)
		return ledger.Approval{}, err
	}
	w.metrics.Order("approved")
	logger.LogEvent(ctx, logger.SVCAdmin, slog.LevelInfo, "order.approve",
		slog.String("status", "ok"),
		slog.Int64("admin_id", actor),
		slog.Int64("order_id", orderID),
		slog.Int64("user_id", a.Order.UserID),
		slog.Int64("stars", a.Order.Stars),
		slog.String("price", a.Order.Price.StringFixed(2)),
	)

	w.notify(ctx, a.Order.UserID, chat.Message{Text: approvedText(a.Order)})
	if a.ReferrerID != nil && (a.ReferrerBonus > 0 || a.ReferrerStars > 0) {
		w.notify(ctx, *a.ReferrerID, chat.Message{Text: referrerRewardText(a, w.cfg.Currency)})
	}
	return a, nil
}

// RejectOrder deletes an unpaid order and tells the buyer.
func (w *Workflow) RejectOrder(ctx context.Context, actor, orderID int64) (ledger.Order, error) {
	const op = "admin.reject_order"
	if err := w.authorize(ctx, op, actor); err != nil {
		return ledger.Order{}, err
	}
	o, err := w.store.RejectOrder(ctx, orderID)
	if err != nil {
		w.logResolve(ctx, "order.reject", actor, orderID, err)
		return ledger.Order{}, err
	}
	w.metrics.Order("rejected")
	logger.LogEvent(ctx, logger.SVCAdmin, slog.LevelInfo, "order.reject",
		slog.String("status", "ok"),
		slog.Int64("admin_id", actor),
		slog.Int64("order_id", orderID),
		slog.Int64("user_id", o.UserID),
	)
	w.notify(ctx, o.UserID, chat.Message{Text: rejectedText(o)})
	return o, nil
}

func (w *Workflow) logResolve(ctx context.Context, event string, actor, orderID int64, err error) {
	status := "fail"
	switch apperr.KindOf(err) {
	case apperr.KindNotFound, apperr.KindAlreadyHandled:
		status = "skip"
	}
	logger.LogEvent(ctx, logger.SVCAdmin, slog.LevelInfo, event,
		slog.String("status", status),
		slog.Int64("admin_id", actor),
		slog.Int64("order_id", orderID),
		slog.String("err", err.Error()),
		slog.String("err_code", string(apperr.KindOf(err))),
	)
}

// BroadcastResult counts deliveries of one broadcast.
type BroadcastResult struct {
	Recipients int
	Sent       int
	// Blocked recipients have stopped the bot; they are not counted in Failed.
	Blocked int
	Failed  int
}

// Broadcast sends text to every known user, pacing sends by the configured
// interval. Individual failures are logged and counted. A cancelled ctx stops
// the fan-out and returns the partial result with ctx's error.
func (w *Workflow) Broadcast(ctx context.Context, actor int64, text string) (BroadcastResult, error) {
	const op = "admin.broadcast"
	if err := w.authorize(ctx, op, actor); err != nil {
		return BroadcastResult{}, err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return BroadcastResult{}, apperr.Validation(op, "the message is empty")
	}
	ids, err := w.store.ListUserIDs(ctx)
	if err != nil {
		return BroadcastResult{}, err
	}

	res := BroadcastResult{Recipients: len(ids)}
	limiter := rate.NewLimiter(rate.Every(w.cfg.BroadcastInterval), 1)
	start := time.Now()
	var runErr error
	for _, id := range ids {
		if err := limiter.Wait(ctx); err != nil {
			runErr = err
			break
		}
		if _, err := w.sender.SendMessage(ctx, id, chat.Message{Text: text}); err != nil {
			status, level := "fail", slog.LevelWarn
			if errors.Is(err, chat.ErrBlocked) {
				res.Blocked++
				status, level = "skip", slog.LevelDebug
			} else {
				res.Failed++
			}
			logger.LogEvent(ctx, logger.SVCAdmin, level, "broadcast.send",
				slog.String("status", status),
				slog.Int64("user_id", id),
				slog.String("err", err.Error()),
			)
			continue
		}
		res.Sent++
	}
	w.metrics.Mailing(res.Sent, res.Failed+res.Blocked)
	status := "ok"
	if runErr != nil {
		status = "cancelled"
	}
	logger.LogEvent(ctx, logger.SVCAdmin, slog.LevelInfo, "broadcast.done",
		slog.String("status", status),
		slog.Int64("admin_id", actor),
		slog.Int("count", res.Recipients),
		slog.Int("sent", res.Sent),
		slog.Int("blocked", res.Blocked),
		slog.Int("failed", res.Failed),
		slog.Duration("duration", logger.RoundMS(time.Since(start))),
	)
	return res, runErr
}

// SetRate validates raw as a positive decimal and stores it as the global rate.
func (w *Workflow) SetRate(ctx context.Context, actor int64, raw string) (decimal.Decimal, error) {
	const op = "admin.set_rate"
	if err := w.authorize(ctx, op, actor); err != nil {
		return decimal.Zero, err
	}
	r, err := ParseRate(raw)
	if err != nil {
		return decimal.Zero, apperr.Validation(op, "enter a positive number such as 1.55")
	}
	if err := w.store.SetSetting(ctx, ledger.SettingRate, r.String()); err != nil {
		return decimal.Zero, err
	}
	logger.LogEvent(ctx, logger.SVCAdmin, slog.LevelInfo, "rate.set",
		slog.String("status", "ok"),
		slog.Int64("admin_id", actor),
		slog.String("rate", r.String()),
	)
	return r, nil
}

// ParseRate accepts decimals with a dot or a comma separator.
func ParseRate(raw string) (decimal.Decimal, error) {
	raw = strings.ReplaceAll(strings.TrimSpace(raw), ",", ".")
	r, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, err
	}
	if !r.IsPositive() {
		return decimal.Zero, strconv.ErrRange
	}
	return r, nil
}

// Stats returns shop totals.
func (w *Workflow) Stats(ctx context.Context, actor int64) (ledger.Stats, error) {
	if err := w.authorize(ctx, "admin.stats", actor); err != nil {
		return ledger.Stats{}, err
	}
	return w.store.Stats(ctx)
}

// OrderNotice is a new order awaiting review.
type OrderNotice struct {
	Order    ledger.Order
	Username string
	Rate     decimal.Decimal
	// Proof is either the archived screenshot path or the user's text.
	Proof string
}

// NotifyNewOrder sends the order with approve and reject buttons to every
// admin and returns the number of admins reached.
func (w *Workflow) NotifyNewOrder(ctx context.Context, n OrderNotice) int {
	id := strconv.FormatInt(n.Order.ID, 10)
	msg := chat.Message{
		Text: newOrderText(n, w.cfg.Currency),
		Keyboard: chat.Keyboard{chat.Row(
			chat.Button{Text: "✅ Approve", Unique: ButtonApproveOrder, Data: id},
			chat.Button{Text: "❌ Reject", Unique: ButtonRejectOrder, Data: id},
		)},
	}
	return w.notifyAdmins(ctx, msg)
}

// NotifyFeedback forwards a feedback message to every admin.
func (w *Workflow) NotifyFeedback(ctx context.Context, f ledger.Feedback, username string) int {
	return w.notifyAdmins(ctx, chat.Message{Text: feedbackText(f, username)})
}

func (w *Workflow) notifyAdmins(ctx context.Context, msg chat.Message) int {
	delivered := 0
	for _, id := range w.cfg.AdminIDs {
		if w.notify(ctx, id, msg) {
			delivered++
		}
	}
	return delivered
}

// notify is best-effort: failures are logged and never undo the caller's work.
func (w *Workflow) notify(ctx context.Context, chatID int64, msg chat.Message) bool {
	if _, err := w.sender.SendMessage(ctx, chatID, msg); err != nil {
		err = apperr.Transport("admin.notify", err)
		w.metrics.Failure(string(apperr.KindTransport))
		logger.LogEvent(ctx, logger.SVCAdmin, slog.LevelWarn, "notify.fail",
			slog.String("status", "fail"),
			slog.Int64("chat_id", chatID),
			slog.String("err", err.Error()),
		)
		return false
	}
	return true
}
