package conversation

import (
	"context"
	"strconv"
	"strings"

	"github.com/m3rciful/starstore/internal/apperr"
	"github.com/m3rciful/starstore/internal/chat"
)

// requireAdmin guards every admin transition, including text handlers of admin
// states, whatever path led into the state.
func (m *Machine) requireAdmin(t *turn, op string) error {
	if m.deps.Admin.IsAdmin(t.ev.UserID) {
		return nil
	}
	return apperr.Unauthorized(op)
}

func (m *Machine) openAdminPanel(ctx context.Context, t *turn) error {
	if err := m.requireAdmin(t, "conversation.admin_panel"); err != nil {
		return err
	}
	rate, err := m.deps.Pricing.GlobalRate(ctx)
	if err != nil {
		return err
	}
	t.sess.Reset()
	t.sess.State = StateAdminPanel
	m.reply(ctx, t, chat.Message{Text: textAdminPanel(rate, m.cfg.Currency), Keyboard: adminKeyboard()})
	return nil
}

func (m *Machine) beginSetRate(ctx context.Context, t *turn) error {
	if err := m.requireAdmin(t, "conversation.set_rate"); err != nil {
		return err
	}
	rate, err := m.deps.Pricing.GlobalRate(ctx)
	if err != nil {
		return err
	}
	t.sess.Reset()
	t.sess.State = StateSettingRate
	m.reply(ctx, t, chat.Message{Text: textAskRate(rate, m.cfg.Currency), Keyboard: adminBackKeyboard()})
	return nil
}

func (m *Machine) setRate(ctx context.Context, t *turn) error {
	if err := m.requireAdmin(t, "conversation.set_rate"); err != nil {
		return err
	}
	rate, err := m.deps.Admin.SetRate(ctx, t.ev.UserID, t.ev.Text)
	if err != nil {
		return err
	}
	t.sess.State = StateAdminPanel
	m.reply(ctx, t, chat.Message{Text: textRateSet(rate, m.cfg.Currency), Keyboard: adminKeyboard()})
	return nil
}

func (m *Machine) beginBroadcast(ctx context.Context, t *turn) error {
	if err := m.requireAdmin(t, "conversation.broadcast"); err != nil {
		return err
	}
	t.sess.Reset()
	t.sess.State = StateBroadcasting
	m.reply(ctx, t, chat.Message{Text: textAskBroadcast, Keyboard: adminBackKeyboard()})
	return nil
}

func (m *Machine) broadcast(ctx context.Context, t *turn) error {
	if err := m.requireAdmin(t, "conversation.broadcast"); err != nil {
		return err
	}
	res, err := m.deps.Admin.Broadcast(ctx, t.ev.UserID, t.ev.Text)
	if err != nil && !apperr.Is(err, apperr.KindValidation) && res.Recipients > 0 {
		// interrupted part way; report what went out
		t.sess.State = StateAdminPanel
		m.reply(ctx, t, chat.Message{Text: textBroadcastDone(res, true), Keyboard: adminKeyboard()})
		return nil
	}
	if err != nil {
		return err
	}
	t.sess.State = StateAdminPanel
	m.reply(ctx, t, chat.Message{Text: textBroadcastDone(res, false), Keyboard: adminKeyboard()})
	return nil
}

func (m *Machine) stats(ctx context.Context, t *turn) error {
	if err := m.requireAdmin(t, "conversation.stats"); err != nil {
		return err
	}
	st, err := m.deps.Admin.Stats(ctx, t.ev.UserID)
	if err != nil {
		return err
	}
	t.sess.Reset()
	t.sess.State = StateViewingStats
	m.reply(ctx, t, chat.Message{Text: textStats(st), Keyboard: adminBackKeyboard()})
	return nil
}

func orderIDFrom(payload string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(payload), 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.Validation("conversation.order_id", "the button refers to an unknown order")
	}
	return id, nil
}

// approveOrder leaves the admin's own session state untouched so a review can
// happen in the middle of any other dialog.
func (m *Machine) approveOrder(ctx context.Context, t *turn) error {
	id, err := orderIDFrom(t.ev.Payload)
	if err != nil {
		return err
	}
	a, err := m.deps.Admin.ApproveOrder(ctx, t.ev.UserID, id)
	if err != nil {
		return err
	}
	m.reply(ctx, t, chat.Message{Text: textApproved(a, m.cfg.Currency)})
	return nil
}

func (m *Machine) rejectOrder(ctx context.Context, t *turn) error {
	id, err := orderIDFrom(t.ev.Payload)
	if err != nil {
		return err
	}
	o, err := m.deps.Admin.RejectOrder(ctx, t.ev.UserID, id)
	if err != nil {
		return err
	}
	m.reply(ctx, t, chat.Message{Text: textRejected(o)})
	return nil
}
