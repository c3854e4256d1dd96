package conversation

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/m3rciful/starstore/core/logger"
	"github.com/m3rciful/starstore/internal/admin"
	"github.com/m3rciful/starstore/internal/apperr"
	"github.com/m3rciful/starstore/internal/chat"
	"github.com/m3rciful/starstore/internal/ledger"
	"github.com/m3rciful/starstore/internal/pricing"
)

func (m *Machine) beginPurchase(ctx context.Context, t *turn) error {
	t.sess.Draft = Draft{}
	t.sess.State = StateChoosingRecipient
	m.reply(ctx, t, m.recipientPrompt(t))
	return nil
}

func (m *Machine) recipientPrompt(t *turn) chat.Message {
	var rows chat.Keyboard
	if t.ev.Username != "" {
		rows = append(rows, chat.Row(chat.Button{Text: "🙋 For myself", Unique: BtnRecipientSelf}))
	}
	rows = append(rows, cancelRow())
	return chat.Message{Text: textAskRecipient(m.cfg.RecipientMarker), Keyboard: rows}
}

// ValidRecipient reports whether s is a handle starting with marker with at
// least one character after it.
func ValidRecipient(s, marker string) bool {
	return strings.HasPrefix(s, marker) && utf8.RuneCountInString(s) >= 2 &&
		!strings.ContainsFunc(s, func(r rune) bool { return r == ' ' || r == '\n' || r == '\t' })
}

func (m *Machine) chooseRecipient(ctx context.Context, t *turn) error {
	return m.setRecipient(ctx, t, strings.TrimSpace(t.ev.Text))
}

func (m *Machine) chooseSelf(ctx context.Context, t *turn) error {
	if t.ev.Username == "" {
		return apperr.Validation("conversation.recipient", "you have no public username, send the recipient's handle instead")
	}
	return m.setRecipient(ctx, t, m.cfg.RecipientMarker+strings.TrimPrefix(t.ev.Username, "@"))
}

func (m *Machine) setRecipient(ctx context.Context, t *turn, recipient string) error {
	if !ValidRecipient(recipient, m.cfg.RecipientMarker) {
		return apperr.Validationf("conversation.recipient", "the recipient must start with %s, for example %susername", m.cfg.RecipientMarker, m.cfg.RecipientMarker)
	}
	t.sess.Draft.Recipient = recipient
	t.sess.State = StateChoosingAmount
	m.reply(ctx, t, chat.Message{Text: textAskAmount(recipient, m.cfg.MinStars), Keyboard: chat.Keyboard{cancelRow()}})
	return nil
}

// ParseAmount reads a star quantity within [lo, hi]. A zero hi means no cap.
func ParseAmount(s string, lo, hi int64) (int64, error) {
	const op = "conversation.amount"
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, apperr.Validation(op, "send the number of stars as a whole number")
	}
	if n < lo {
		return 0, apperr.Validationf(op, "the minimum order is %d stars", lo)
	}
	if hi > 0 && n > hi {
		return 0, apperr.Validationf(op, "the maximum order is %d stars", hi)
	}
	return n, nil
}

// chooseAmount fixes the quantity and prices it at the user's current rate.
func (m *Machine) chooseAmount(ctx context.Context, t *turn) error {
	amount, err := ParseAmount(t.ev.Text, m.cfg.MinStars, m.cfg.MaxStars)
	if err != nil {
		return err
	}
	quote, err := m.deps.Pricing.EffectiveRate(ctx, t.ev.UserID)
	if err != nil {
		return err
	}
	t.sess.Draft.Amount = amount
	t.sess.Draft.Rate = quote.Rate
	t.sess.Draft.Price = pricing.Price(amount, quote.Rate)
	t.sess.State = StateConfirmingOrder
	m.reply(ctx, t, chat.Message{Text: textConfirm(t.sess.Draft, m.cfg.Currency), Keyboard: confirmKeyboard()})
	return nil
}

func (m *Machine) editRecipient(ctx context.Context, t *turn) error {
	t.sess.State = StateChoosingRecipient
	m.reply(ctx, t, m.recipientPrompt(t))
	return nil
}

func (m *Machine) editAmount(ctx context.Context, t *turn) error {
	t.sess.State = StateChoosingAmount
	m.reply(ctx, t, chat.Message{Text: textAskAmount(t.sess.Draft.Recipient, m.cfg.MinStars), Keyboard: chat.Keyboard{cancelRow()}})
	return nil
}

func (m *Machine) confirmReprompt(ctx context.Context, t *turn) error {
	m.reply(ctx, t, chat.Message{Text: textUseButtons + "\n\n" + textConfirm(t.sess.Draft, m.cfg.Currency), Keyboard: confirmKeyboard()})
	return nil
}

func (m *Machine) pay(ctx context.Context, t *turn) error {
	if !t.sess.Draft.Complete() {
		return m.expired(ctx, t)
	}
	t.sess.State = StateAwaitingPaymentProof
	m.reply(ctx, t, chat.Message{Text: textPayment(t.sess.Draft, m.cfg), Keyboard: chat.Keyboard{cancelRow()}})
	return nil
}

func (m *Machine) proofText(ctx context.Context, t *turn) error {
	text := strings.TrimSpace(t.ev.Text)
	if !containsAny(text, m.cfg.PaymentKeywords) {
		return apperr.Validationf("conversation.payment_proof", "send a screenshot of the payment or write \"%s\" once you have paid", m.cfg.PaymentKeywords[len(m.cfg.PaymentKeywords)-1])
	}
	return m.submitOrder(ctx, t, "text: "+logger.SanitizeLimit(text, 200))
}

// proofPhoto archives the screenshot. A failed download still submits the
// order so the admin can look the payment up by hand.
func (m *Machine) proofPhoto(ctx context.Context, t *turn) error {
	var proof string
	path, err := m.deps.Transport.DownloadAttachment(ctx, t.ev.Photo)
	if err != nil {
		logger.LogEvent(ctx, logger.SVCShop, slog.LevelWarn, "proof.download",
			slog.String("status", "fail"),
			slog.Int64("user_id", t.ev.UserID),
			slog.String("err", apperr.Transport("conversation.download", err).Error()),
		)
		proof = "screenshot (not archived)"
	} else {
		proof = "screenshot " + path
	}
	if caption := strings.TrimSpace(t.ev.Text); caption != "" {
		proof += ", caption: " + logger.SanitizeLimit(caption, 200)
	}
	return m.submitOrder(ctx, t, proof)
}

// submitOrder persists the draft as an unpaid order and hands it to the admins.
func (m *Machine) submitOrder(ctx context.Context, t *turn, proof string) error {
	d := t.sess.Draft
	if !d.Complete() {
		return m.expired(ctx, t)
	}
	order, err := m.deps.Ledger.CreateOrder(ctx, ledger.NewOrder{
		UserID:    t.ev.UserID,
		Recipient: d.Recipient,
		Stars:     d.Amount,
		Price:     d.Price,
	})
	if err != nil {
		return err
	}
	m.deps.Metrics.Order("created")
	logger.LogEvent(ctx, logger.SVCShop, slog.LevelInfo, "order.submitted",
		slog.String("status", "ok"),
		slog.Int64("user_id", t.ev.UserID),
		slog.Int64("order_id", order.ID),
		slog.String("recipient", order.Recipient),
		slog.Int64("stars", order.Stars),
		slog.String("price", order.Price.StringFixed(2)),
		slog.String("rate", d.Rate.String()),
	)

	reached := m.deps.Admin.NotifyNewOrder(ctx, admin.OrderNotice{
		Order:    order,
		Username: t.ev.Username,
		Rate:     d.Rate,
		Proof:    proof,
	})
	if reached == 0 {
		logger.LogEvent(ctx, logger.SVCShop, slog.LevelError, "order.unannounced",
			slog.String("status", "fail"),
			slog.Int64("order_id", order.ID),
		)
	}

	t.sess.Reset()
	m.reply(ctx, t, chat.Message{Text: textOrderPending(order, m.cfg.Currency)})
	return m.showMenu(ctx, t)
}

// expired handles a purchase step reached without a usable draft.
func (m *Machine) expired(ctx context.Context, t *turn) error {
	t.sess.Reset()
	m.reply(ctx, t, chat.Message{Text: textDraftExpired})
	return m.showMenu(ctx, t)
}
