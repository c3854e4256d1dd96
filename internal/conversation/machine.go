// Package conversation drives each user's dialog with the shop: the purchase
// flow, the account screens and the admin panel. Inbound events are matched
// against a transition table keyed by state, event kind and tag.
package conversation

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/m3rciful/starstore/core/logger"
	"github.com/m3rciful/starstore/core/telegram/state"
	"github.com/m3rciful/starstore/internal/admin"
	"github.com/m3rciful/starstore/internal/apperr"
	"github.com/m3rciful/starstore/internal/chat"
	"github.com/m3rciful/starstore/internal/ledger"
	"github.com/m3rciful/starstore/internal/metrics"
	"github.com/m3rciful/starstore/internal/pricing"
	"github.com/m3rciful/starstore/internal/referral"
)

// Ledger is the persistence the conversation reads and writes directly.
type Ledger interface {
	RegisterUser(ctx context.Context, id int64, username string, referrerID int64) (ledger.User, bool, error)
	GetUser(ctx context.Context, id int64) (ledger.User, error)
	CreateOrder(ctx context.Context, in ledger.NewOrder) (ledger.Order, error)
	ListOrders(ctx context.Context, userID int64) ([]ledger.Order, error)
	AddFeedback(ctx context.Context, userID int64, text string) (ledger.Feedback, error)
}

// Pricing quotes rates.
type Pricing interface {
	GlobalRate(ctx context.Context) (decimal.Decimal, error)
	EffectiveRate(ctx context.Context, userID int64) (pricing.Quote, error)
	DisplayRate(ctx context.Context, userID int64) pricing.Quote
	PersonalRate(ctx context.Context, userID int64) (decimal.Decimal, error)
}

// Referrals runs the bonus rules.
type Referrals interface {
	Config() referral.Config
	TotalStarsPurchased(ctx context.Context, userID int64) (int64, error)
	BonusEarned(ctx context.Context, userID int64) (int64, error)
	Exchange(ctx context.Context, userID, amount int64) (referral.ExchangeResult, error)
	ClaimDailyBonus(ctx context.Context, userID int64) (referral.DailyResult, error)
}

// Admin runs operator actions and admin notifications.
type Admin interface {
	IsAdmin(userID int64) bool
	ApproveOrder(ctx context.Context, actor, orderID int64) (ledger.Approval, error)
	RejectOrder(ctx context.Context, actor, orderID int64) (ledger.Order, error)
	Broadcast(ctx context.Context, actor int64, text string) (admin.BroadcastResult, error)
	SetRate(ctx context.Context, actor int64, raw string) (decimal.Decimal, error)
	Stats(ctx context.Context, actor int64) (ledger.Stats, error)
	NotifyNewOrder(ctx context.Context, n admin.OrderNotice) int
	NotifyFeedback(ctx context.Context, f ledger.Feedback, username string) int
}

// Deps are the collaborators of a Machine.
type Deps struct {
	Ledger    Ledger
	Pricing   Pricing
	Referrals Referrals
	Admin     Admin
	Transport chat.Transport
	Metrics   *metrics.Recorder
}

// Machine is the conversation controller shared by all users. Handle is safe
// for concurrent use; events of one user are applied one at a time.
type Machine struct {
	cfg      Config
	deps     Deps
	sessions *state.Store[Session]
	locks    keyedMutex
	table    map[route]handler
}

// New builds a Machine.
func New(cfg Config, deps Deps) *Machine {
	m := &Machine{
		cfg:      cfg.withDefaults(),
		deps:     deps,
		sessions: state.NewStore(newSession),
	}
	m.table = transitions()
	return m
}

// Session returns a copy of the user's session.
func (m *Machine) Session(userID int64) Session {
	return m.sessions.Get(userID)
}

// turn is the context of one event being handled.
type turn struct {
	ev   Event
	sess *Session
}

func (t *turn) chatID() int64 {
	if t.ev.ChatID != 0 {
		return t.ev.ChatID
	}
	return t.ev.UserID
}

// Handle applies ev to the sender's session. Errors are turned into user
// replies here; the returned error is only the original failure for logging
// by the caller and never needs to be shown again.
func (m *Machine) Handle(ctx context.Context, ev Event) error {
	if ev.UserID == 0 {
		return apperr.Validation("conversation.handle", "event without user")
	}
	unlock := m.locks.Lock(ev.UserID)
	defer unlock()

	start := time.Now()
	sess := m.sessions.Get(ev.UserID)
	from := sess.State
	t := &turn{ev: ev, sess: &sess}
	m.deps.Metrics.Update(string(ev.Kind))

	err := m.ensureRegistered(ctx, t)
	if err == nil {
		err = m.dispatch(ctx, t)
	}
	if err != nil {
		m.fail(ctx, t, err)
	}
	m.sessions.Put(ev.UserID, sess)
	if sess.State != from {
		m.deps.Metrics.Transition(string(sess.State))
	}

	logger.LogEvent(ctx, logger.SVCShop, slog.LevelDebug, "conversation.handle",
		slog.String("status", logger.Status(err)),
		slog.Int64("user_id", ev.UserID),
		slog.String("event_kind", string(ev.Kind)),
		slog.String("op", ev.Tag()),
		slog.String("state", string(from)),
		slog.String("next_state", string(sess.State)),
		slog.Duration("duration", logger.Took(start)),
	)
	return err
}

func (m *Machine) ensureRegistered(ctx context.Context, t *turn) error {
	if t.sess.Registered || (t.ev.Kind == KindCommand && t.ev.Tag() == cmdStart) {
		return nil
	}
	if _, _, err := m.deps.Ledger.RegisterUser(ctx, t.ev.UserID, t.ev.Username, 0); err != nil {
		return err
	}
	t.sess.Registered = true
	return nil
}

func (m *Machine) dispatch(ctx context.Context, t *turn) error {
	if t.ev.Kind == KindText && containsAny(t.ev.Text, m.cfg.MenuKeywords) {
		return m.toMenu(ctx, t)
	}
	h := m.lookup(t.sess.State, t.ev.Kind, t.ev.Tag())
	if h == nil {
		return m.unhandled(ctx, t)
	}
	return h(m, ctx, t)
}

// fail applies the error policy: validation re-prompts in place, authorization
// ends the dialog, resolved orders get an informative reply, anything else is
// a transient failure that resets the user to idle.
func (m *Machine) fail(ctx context.Context, t *turn, err error) {
	kind := apperr.KindOf(err)
	if kind == "" {
		kind = apperr.KindStorage
	}
	m.deps.Metrics.Failure(string(kind))
	attrs := []slog.Attr{
		slog.String("status", logger.Status(err)),
		slog.Int64("user_id", t.ev.UserID),
		slog.String("state", string(t.sess.State)),
		slog.String("err", err.Error()),
		slog.String("err_code", string(kind)),
	}

	switch kind {
	case apperr.KindValidation:
		logger.LogEvent(ctx, logger.SVCShop, slog.LevelDebug, "conversation.invalid", attrs...)
		m.reply(ctx, t, chat.Message{Text: "⚠️ " + apperr.Message(err)})
	case apperr.KindAuthorization:
		logger.LogEvent(ctx, logger.SVCShop, slog.LevelWarn, "conversation.denied", attrs...)
		t.sess.Reset()
		m.reply(ctx, t, chat.Message{Text: textDenied, Keyboard: backToMenu()})
	case apperr.KindNotFound, apperr.KindAlreadyHandled:
		logger.LogEvent(ctx, logger.SVCShop, slog.LevelInfo, "conversation.resolved", attrs...)
		msg := apperr.Message(err)
		if msg == "" {
			msg = "nothing to do"
		}
		m.reply(ctx, t, chat.Message{Text: "ℹ️ " + capitalize(msg) + "."})
	case apperr.KindTransport:
		logger.LogEvent(ctx, logger.SVCShop, slog.LevelWarn, "conversation.transport", attrs...)
	default:
		logger.LogEvent(ctx, logger.SVCShop, slog.LevelError, "conversation.failed", attrs...)
		t.sess.Reset()
		m.reply(ctx, t, chat.Message{Text: textTryLater, Keyboard: backToMenu()})
	}
}

// reply sends to the event's chat. Delivery failures are logged and dropped.
func (m *Machine) reply(ctx context.Context, t *turn, msg chat.Message) int {
	return m.send(ctx, t.chatID(), msg)
}

func (m *Machine) send(ctx context.Context, chatID int64, msg chat.Message) int {
	id, err := m.deps.Transport.SendMessage(ctx, chatID, msg)
	if err != nil {
		m.deps.Metrics.Failure(string(apperr.KindTransport))
		logger.LogEvent(ctx, logger.SVCShop, slog.LevelWarn, "send.fail",
			slog.String("status", "fail"),
			slog.Int64("chat_id", chatID),
			slog.String("err", apperr.Transport("conversation.send", err).Error()),
		)
		return 0
	}
	return id
}

func (m *Machine) retract(ctx context.Context, chatID int64, messageID int) {
	if messageID == 0 {
		return
	}
	err := m.deps.Transport.DeleteMessage(ctx, chatID, messageID)
	if err != nil && !errors.Is(err, chat.ErrMessageNotFound) {
		logger.LogEvent(ctx, logger.SVCShop, slog.LevelDebug, "menu.retract",
			slog.String("status", "fail"),
			slog.Int64("chat_id", chatID),
			slog.String("err", err.Error()),
		)
	}
}

// keyedMutex hands out one mutex per user and forgets it when unused.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[int64]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func (k *keyedMutex) Lock(key int64) (unlock func()) {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[int64]*refMutex)
	}
	l, ok := k.locks[key]
	if !ok {
		l = &refMutex{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
