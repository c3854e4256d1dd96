package conversation

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/m3rciful/starstore/core/logger"
	"github.com/m3rciful/starstore/internal/apperr"
	"github.com/m3rciful/starstore/internal/chat"
)

func (m *Machine) profile(ctx context.Context, t *turn) error {
	user, err := m.deps.Ledger.GetUser(ctx, t.ev.UserID)
	if err != nil {
		return err
	}
	purchased, err := m.deps.Referrals.TotalStarsPurchased(ctx, t.ev.UserID)
	if err != nil {
		return err
	}
	earned, err := m.deps.Referrals.BonusEarned(ctx, t.ev.UserID)
	if err != nil {
		return err
	}
	personal, err := m.deps.Pricing.PersonalRate(ctx, t.ev.UserID)
	if err != nil {
		return err
	}
	cfg := m.deps.Referrals.Config()
	view := profileView{
		User:        user,
		Purchased:   purchased,
		Earned:      earned,
		Personal:    personal,
		ShowBonus:   user.ReferralBonus >= cfg.MinBonusDisplay,
		MinExchange: cfg.MinExchange,
	}
	m.reply(ctx, t, chat.Message{Text: textProfile(view, m.cfg.Currency), Keyboard: profileKeyboard(view.ShowBonus)})
	return nil
}

func (m *Machine) referrals(ctx context.Context, t *turn) error {
	user, err := m.deps.Ledger.GetUser(ctx, t.ev.UserID)
	if err != nil {
		return err
	}
	earned, err := m.deps.Referrals.BonusEarned(ctx, t.ev.UserID)
	if err != nil {
		return err
	}
	text := textReferrals(user, earned, m.deps.Referrals.Config().Percent, m.referralLink(t.ev.UserID), m.cfg.Currency)
	m.reply(ctx, t, chat.Message{Text: text, Keyboard: backToMenu()})
	return nil
}

func (m *Machine) referralLink(userID int64) string {
	if m.cfg.BotUsername == "" {
		return "/start " + strconv.FormatInt(userID, 10)
	}
	return "https://t.me/" + m.cfg.BotUsername + "?start=" + strconv.FormatInt(userID, 10)
}

func (m *Machine) myOrders(ctx context.Context, t *turn) error {
	orders, err := m.deps.Ledger.ListOrders(ctx, t.ev.UserID)
	if err != nil {
		return err
	}
	if len(orders) > m.cfg.OrdersShown {
		orders = orders[:m.cfg.OrdersShown]
	}
	t.sess.Reset()
	t.sess.State = StateViewingOrders
	m.reply(ctx, t, chat.Message{Text: textOrders(orders, m.cfg.Currency), Keyboard: backToMenu()})
	return nil
}

// dailyBonus claims once per cooldown. A premature claim is answered here
// rather than through the error policy since it is an expected outcome.
func (m *Machine) dailyBonus(ctx context.Context, t *turn) error {
	res, err := m.deps.Referrals.ClaimDailyBonus(ctx, t.ev.UserID)
	switch {
	case apperr.Is(err, apperr.KindAlreadyHandled):
		m.reply(ctx, t, chat.Message{Text: textBonusTooEarly(res, m.cfg.Currency), Keyboard: backToMenu()})
		return nil
	case err != nil:
		return err
	}
	m.deps.Metrics.Bonus("daily")
	logger.LogEvent(ctx, logger.SVCShop, slog.LevelInfo, "bonus.daily",
		slog.String("status", "ok"),
		slog.Int64("user_id", t.ev.UserID),
		slog.Int64("bonus", res.Reward),
	)
	m.reply(ctx, t, chat.Message{Text: textBonusClaimed(res, m.cfg.Currency), Keyboard: backToMenu()})
	return nil
}

func (m *Machine) beginExchange(ctx context.Context, t *turn) error {
	user, err := m.deps.Ledger.GetUser(ctx, t.ev.UserID)
	if err != nil {
		return err
	}
	minimum := m.deps.Referrals.Config().MinExchange
	if user.ReferralBonus < minimum {
		t.sess.Reset()
		m.reply(ctx, t, chat.Message{Text: textExchangeTooLow(user.ReferralBonus, minimum, m.cfg.Currency), Keyboard: backToMenu()})
		return nil
	}
	rate, err := m.deps.Pricing.GlobalRate(ctx)
	if err != nil {
		return err
	}
	t.sess.Reset()
	t.sess.State = StateExchangingBonus
	m.reply(ctx, t, chat.Message{Text: textAskExchange(user.ReferralBonus, minimum, rate, m.cfg.Currency), Keyboard: chat.Keyboard{cancelRow()}})
	return nil
}

func (m *Machine) exchange(ctx context.Context, t *turn) error {
	amount, err := strconv.ParseInt(strings.TrimSpace(t.ev.Text), 10, 64)
	if err != nil {
		return apperr.Validation("conversation.exchange", "send the amount as a whole number")
	}
	res, err := m.deps.Referrals.Exchange(ctx, t.ev.UserID, amount)
	if err != nil {
		return err
	}
	m.deps.Metrics.Bonus("exchange")
	logger.LogEvent(ctx, logger.SVCShop, slog.LevelInfo, "bonus.exchange",
		slog.String("status", "ok"),
		slog.Int64("user_id", t.ev.UserID),
		slog.Int64("bonus", res.Amount),
		slog.Int64("stars", res.Stars),
		slog.String("rate", res.Rate.String()),
	)
	t.sess.Reset()
	m.reply(ctx, t, chat.Message{Text: textExchanged(res, m.cfg.Currency), Keyboard: backToMenu()})
	return nil
}

func (m *Machine) beginFeedback(ctx context.Context, t *turn) error {
	t.sess.Reset()
	t.sess.State = StateLeavingFeedback
	m.reply(ctx, t, chat.Message{Text: textAskFeedback, Keyboard: chat.Keyboard{cancelRow()}})
	return nil
}

func (m *Machine) feedback(ctx context.Context, t *turn) error {
	text := strings.TrimSpace(t.ev.Text)
	if utf8.RuneCountInString(text) < m.cfg.FeedbackMinLen {
		return apperr.Validationf("conversation.feedback", "the message is too short, write at least %d characters", m.cfg.FeedbackMinLen)
	}
	f, err := m.deps.Ledger.AddFeedback(ctx, t.ev.UserID, text)
	if err != nil {
		return err
	}
	m.deps.Admin.NotifyFeedback(ctx, f, t.ev.Username)
	t.sess.Reset()
	m.reply(ctx, t, chat.Message{Text: textFeedbackThanks, Keyboard: backToMenu()})
	return nil
}

func (m *Machine) checkSubscription(ctx context.Context, t *turn) error {
	quote := m.deps.Pricing.DisplayRate(ctx, t.ev.UserID)
	m.reply(ctx, t, chat.Message{Text: textSubscription(quote.Subscribed, quote.Rate, m.cfg.Currency)})
	return m.showMenu(ctx, t)
}
