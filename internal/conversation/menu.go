package conversation

import (
	"context"
	"log/slog"
	"strconv"
	"strings"

	"github.com/m3rciful/starstore/core/logger"
	"github.com/m3rciful/starstore/internal/chat"
)

// start registers the user, crediting the referrer named in the payload, and
// opens the main menu.
func (m *Machine) start(ctx context.Context, t *turn) error {
	var referrerID int64
	if arg := strings.TrimSpace(t.ev.Args); arg != "" {
		if id, err := strconv.ParseInt(strings.Fields(arg)[0], 10, 64); err == nil && id > 0 {
			referrerID = id
		}
	}
	user, created, err := m.deps.Ledger.RegisterUser(ctx, t.ev.UserID, t.ev.Username, referrerID)
	if err != nil {
		return err
	}
	t.sess.Registered = true
	t.sess.Reset()

	if created {
		attrs := []slog.Attr{
			slog.String("status", "ok"),
			slog.Int64("user_id", user.ID),
		}
		if user.ReferrerID != nil {
			attrs = append(attrs, slog.Int64("referrer_id", *user.ReferrerID))
			m.send(ctx, *user.ReferrerID, chat.Message{Text: textNewReferral(t.ev.Username)})
		}
		logger.LogEvent(ctx, logger.SVCShop, slog.LevelInfo, "user.registered", attrs...)
	}

	m.reply(ctx, t, chat.Message{Text: textWelcome(t.ev.Username)})
	if m.deps.Admin.IsAdmin(t.ev.UserID) {
		m.reply(ctx, t, chat.Message{Text: textAdminHint})
	}
	return m.showMenu(ctx, t)
}

func (m *Machine) help(ctx context.Context, t *turn) error {
	m.reply(ctx, t, chat.Message{Text: textHelp(m.cfg), Keyboard: backToMenu()})
	return nil
}

// toMenu is the universal escape: it drops the draft and shows the main menu.
func (m *Machine) toMenu(ctx context.Context, t *turn) error {
	t.sess.Reset()
	return m.showMenu(ctx, t)
}

// showMenu retracts the previous menu message and renders a fresh one with
// the user's current rate.
func (m *Machine) showMenu(ctx context.Context, t *turn) error {
	quote := m.deps.Pricing.DisplayRate(ctx, t.ev.UserID)
	m.retract(ctx, t.chatID(), t.sess.MenuMessageID)
	t.sess.MenuMessageID = 0

	msg := chat.Message{
		Text:     textMenu(quote.Rate, quote.Subscribed, m.cfg),
		Keyboard: mainMenu(quote.Subscribed, m.cfg.ChannelURL, m.deps.Admin.IsAdmin(t.ev.UserID)),
	}
	t.sess.MenuMessageID = m.reply(ctx, t, msg)
	return nil
}

func (m *Machine) unhandled(ctx context.Context, t *turn) error {
	text := textUnknown
	if t.ev.Kind == KindButton {
		text = textStaleButton
	}
	m.reply(ctx, t, chat.Message{Text: text, Keyboard: backToMenu()})
	return nil
}
