package conversation

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"github.com/m3rciful/starstore/internal/admin"
	"github.com/m3rciful/starstore/internal/chat"
	"github.com/m3rciful/starstore/internal/ledger"
	"github.com/m3rciful/starstore/internal/referral"
)

const (
	textDenied         = "⛔ This section is available to administrators only."
	textTryLater       = "😔 Something went wrong on our side. Please try again later."
	textAdminHint      = "🛠 You are an administrator. Use /admin to open the admin panel."
	textUnknown        = "🤔 I did not understand that. Use the menu buttons below."
	textStaleButton    = "⌛ This button is no longer active."
	textUseButtons     = "👇 Please use the buttons under the order summary."
	textDraftExpired   = "⌛ This order is no longer active. Please start a new one."
	textAskFeedback    = "✍️ Write your question or suggestion in one message."
	textFeedbackThanks = "🙏 Thank you! Your message was sent to the team."
	textAskBroadcast   = "📣 Send the text to deliver to every user."
)

func textWelcome(username string) string {
	name := strings.TrimPrefix(username, "@")
	if name == "" {
		name = "there"
	}
	return fmt.Sprintf("👋 Hi, %s! Here you can buy Telegram Stars for yourself or a friend.", name)
}

func textNewReferral(username string) string {
	if username == "" {
		return "🎉 A new user joined with your referral link."
	}
	return fmt.Sprintf("🎉 @%s joined with your referral link.", strings.TrimPrefix(username, "@"))
}

func textHelp(cfg Config) string {
	var b strings.Builder
	b.WriteString("ℹ️ How it works\n")
	b.WriteString("1. Press \"Buy stars\" and send the recipient's username.\n")
	fmt.Fprintf(&b, "2. Choose how many stars you need (from %d).\n", cfg.MinStars)
	b.WriteString("3. Pay and send a screenshot of the payment.\n")
	b.WriteString("4. An operator checks the payment and delivers the stars.\n\n")
	b.WriteString("Invite friends with your referral link to earn a bonus on their purchases.\n")
	b.WriteString("Commands: /start, /help, /cancel")
	if cfg.SupportContact != "" {
		fmt.Fprintf(&b, "\n\nSupport: %s", cfg.SupportContact)
	}
	return b.String()
}

func textMenu(rate decimal.Decimal, subscribed bool, cfg Config) string {
	var b strings.Builder
	b.WriteString("⭐ Main menu\n\n")
	fmt.Fprintf(&b, "Current rate: %s%s per star", rate.StringFixed(2), cfg.Currency)
	if !subscribed && cfg.ChannelURL != "" {
		b.WriteString("\n\nSubscribe to our channel to get the lower rate.")
	}
	return b.String()
}

func textAskRecipient(marker string) string {
	return fmt.Sprintf("👤 Who should receive the stars? Send a username starting with %s.", marker)
}

func textAskAmount(recipient string, minStars int64) string {
	return fmt.Sprintf("🔢 How many stars for %s? The minimum is %d.", recipient, minStars)
}

func textConfirm(d Draft, currency string) string {
	return fmt.Sprintf("🧾 Your order\nRecipient: %s\nStars: %d\nRate: %s%s\nTotal: %s%s",
		d.Recipient, d.Amount, d.Rate.StringFixed(2), currency, d.Price.StringFixed(2), currency)
}

func textPayment(d Draft, cfg Config) string {
	var b strings.Builder
	fmt.Fprintf(&b, "💳 Pay %s%s", d.Price.StringFixed(2), cfg.Currency)
	if cfg.PaymentDetails != "" {
		fmt.Fprintf(&b, " using these details:\n%s", cfg.PaymentDetails)
	}
	b.WriteString("\n\nThen send a screenshot of the payment or write \"paid\".")
	return b.String()
}

func textOrderPending(o ledger.Order, currency string) string {
	return fmt.Sprintf("⏳ Order #%d for %d stars (%s%s) is waiting for review. We will message you once it is checked.",
		o.ID, o.Stars, o.Price.StringFixed(2), currency)
}

type profileView struct {
	User        ledger.User
	Purchased   int64
	Earned      int64
	Personal    decimal.Decimal
	ShowBonus   bool
	MinExchange int64
}

func textProfile(v profileView, currency string) string {
	var b strings.Builder
	b.WriteString("👤 Profile\n")
	if v.User.Username != "" {
		fmt.Fprintf(&b, "Username: @%s\n", v.User.Username)
	}
	fmt.Fprintf(&b, "Stars balance: %d\n", v.User.Stars)
	fmt.Fprintf(&b, "Stars purchased: %d\n", v.Purchased)
	fmt.Fprintf(&b, "Referrals: %d\n", v.User.ReferralsCount)
	fmt.Fprintf(&b, "Earned from referrals: %d%s\n", v.Earned, currency)
	fmt.Fprintf(&b, "Bonus balance: %d%s\n", v.User.ReferralBonus, currency)
	fmt.Fprintf(&b, "Your personal rate: %s%s\n", v.Personal.StringFixed(2), currency)
	fmt.Fprintf(&b, "Registered: %s", v.User.RegisteredAt.UTC().Format("2006-01-02"))
	if v.ShowBonus {
		fmt.Fprintf(&b, "\n\nYou can exchange your bonus for stars (from %d%s).", v.MinExchange, currency)
	}
	return b.String()
}

func textReferrals(u ledger.User, earned, percent int64, link, currency string) string {
	return fmt.Sprintf("🤝 Referral program\nYou get %d%% of every purchase made by the users you invite.\n\n"+
		"Invited: %d\nEarned: %d%s\nBonus balance: %d%s\n\nYour link:\n%s",
		percent, u.ReferralsCount, earned, currency, u.ReferralBonus, currency, link)
}

func textOrders(orders []ledger.Order, currency string) string {
	if len(orders) == 0 {
		return "📦 You have no orders yet."
	}
	var b strings.Builder
	b.WriteString("📦 Your orders")
	for _, o := range orders {
		status := "⏳ pending"
		if o.Paid {
			status = "✅ paid"
		}
		fmt.Fprintf(&b, "\n#%d · %s · %d stars · %s%s · %s · %s",
			o.ID, o.Recipient, o.Stars, o.Price.StringFixed(2), currency,
			o.CreatedAt.UTC().Format("2006-01-02"), status)
	}
	return b.String()
}

func textBonusClaimed(res referral.DailyResult, currency string) string {
	return fmt.Sprintf("🎁 You received %d%s! Bonus balance: %d%s.",
		res.Reward, currency, res.User.ReferralBonus, currency)
}

func textBonusTooEarly(res referral.DailyResult, currency string) string {
	var next string
	if !res.NextAt.IsZero() {
		next = fmt.Sprintf(" Come back after %s UTC.", res.NextAt.UTC().Format("2006-01-02 15:04"))
	}
	return fmt.Sprintf("⏰ You already claimed today's bonus.%s Bonus balance: %d%s.",
		next, res.User.ReferralBonus, currency)
}

func textExchangeTooLow(balance, minimum int64, currency string) string {
	return fmt.Sprintf("💱 The exchange starts from %d%s. Your bonus balance is %d%s.", minimum, currency, balance, currency)
}

func textAskExchange(balance, minimum int64, rate decimal.Decimal, currency string) string {
	return fmt.Sprintf("💱 Bonus balance: %d%s. Rate: %s%s per star.\nHow much do you want to exchange? The minimum is %d%s.",
		balance, currency, rate.StringFixed(2), currency, minimum, currency)
}

func textExchanged(res referral.ExchangeResult, currency string) string {
	return fmt.Sprintf("✅ Exchanged %d%s for %d stars. Stars balance: %d, bonus balance: %d%s.",
		res.Amount, currency, res.Stars, res.User.Stars, res.User.ReferralBonus, currency)
}

func textSubscription(subscribed bool, rate decimal.Decimal, currency string) string {
	if subscribed {
		return fmt.Sprintf("✅ Subscription confirmed. Your rate is %s%s per star.", rate.StringFixed(2), currency)
	}
	return fmt.Sprintf("❌ Subscription not found. Your rate is %s%s per star.", rate.StringFixed(2), currency)
}

func textAdminPanel(rate decimal.Decimal, currency string) string {
	return fmt.Sprintf("🛠 Admin panel\nGlobal rate: %s%s per star", rate.StringFixed(2), currency)
}

func textAskRate(current decimal.Decimal, currency string) string {
	return fmt.Sprintf("💲 The global rate is %s%s. Send the new rate, for example 1.55.", current.StringFixed(2), currency)
}

func textRateSet(rate decimal.Decimal, currency string) string {
	return fmt.Sprintf("✅ The global rate is now %s%s.", rate.StringFixed(2), currency)
}

func textBroadcastDone(res admin.BroadcastResult, interrupted bool) string {
	head := "📣 Broadcast finished."
	if interrupted {
		head = "📣 Broadcast interrupted."
	}
	return fmt.Sprintf("%s\nRecipients: %d\nDelivered: %d\nBlocked the bot: %d\nFailed: %d",
		head, res.Recipients, res.Sent, res.Blocked, res.Failed)
}

func textStats(st ledger.Stats) string {
	var b strings.Builder
	b.WriteString("📊 Statistics\n")
	fmt.Fprintf(&b, "Users: %d\n", st.Users)
	fmt.Fprintf(&b, "Stars on balances: %d\n", st.StarsBalance)
	fmt.Fprintf(&b, "Paid orders: %d\n", st.PaidOrders)
	fmt.Fprintf(&b, "Pending orders: %d", st.PendingOrders)
	if len(st.Referrers) > 0 {
		b.WriteString("\n\nReferrers:")
		for _, r := range st.Referrers {
			name := fmt.Sprintf("id %d", r.UserID)
			if r.Username != "" {
				name = "@" + r.Username
			}
			fmt.Fprintf(&b, "\n%s: %d", name, r.ReferralsCount)
		}
	}
	return b.String()
}

func textApproved(a ledger.Approval, currency string) string {
	s := fmt.Sprintf("✅ Order #%d approved: %d stars for %s.", a.Order.ID, a.Order.Stars, a.Order.Recipient)
	if a.ReferrerID != nil {
		s += fmt.Sprintf(" Referrer %d credited %d%s and %d stars.", *a.ReferrerID, a.ReferrerBonus, currency, a.ReferrerStars)
	}
	return s
}

func textRejected(o ledger.Order) string {
	return fmt.Sprintf("❌ Order #%d rejected.", o.ID)
}

func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}

// keyboards

func cancelRow() []chat.Button {
	return chat.Row(chat.Button{Text: "✖️ Cancel", Unique: BtnCancel})
}

func backToMenu() chat.Keyboard {
	return chat.Keyboard{chat.Row(chat.Button{Text: "🏠 Main menu", Unique: BtnMainMenu})}
}

func mainMenu(subscribed bool, channelURL string, isAdmin bool) chat.Keyboard {
	kb := chat.Keyboard{
		chat.Row(chat.Button{Text: "⭐ Buy stars", Unique: BtnBuyStars}),
		chat.Row(
			chat.Button{Text: "👤 Profile", Unique: BtnProfile},
			chat.Button{Text: "🤝 Referrals", Unique: BtnReferrals},
		),
		chat.Row(
			chat.Button{Text: "📦 My orders", Unique: BtnMyOrders},
			chat.Button{Text: "🎁 Daily bonus", Unique: BtnDailyBonus},
		),
		chat.Row(
			chat.Button{Text: "💬 Feedback", Unique: BtnFeedback},
			chat.Button{Text: "ℹ️ Help", Unique: BtnHelp},
		),
	}
	if !subscribed && channelURL != "" {
		kb = append(kb, chat.Row(
			chat.Button{Text: "📢 Subscribe", URL: channelURL},
			chat.Button{Text: "🔄 Check subscription", Unique: BtnCheckSub},
		))
	}
	if isAdmin {
		kb = append(kb, chat.Row(chat.Button{Text: "🛠 Admin panel", Unique: BtnAdminPanel}))
	}
	return kb
}

func confirmKeyboard() chat.Keyboard {
	return chat.Keyboard{
		chat.Row(chat.Button{Text: "💳 Pay", Unique: BtnPayOrder}),
		chat.Row(
			chat.Button{Text: "✏️ Recipient", Unique: BtnEditRecipient},
			chat.Button{Text: "✏️ Amount", Unique: BtnEditAmount},
		),
		cancelRow(),
	}
}

func profileKeyboard(showExchange bool) chat.Keyboard {
	kb := chat.Keyboard{chat.Row(chat.Button{Text: "🎁 Daily bonus", Unique: BtnDailyBonus})}
	if showExchange {
		kb = append(kb, chat.Row(chat.Button{Text: "💱 Exchange bonus", Unique: BtnExchangeBonus}))
	}
	return append(kb, backToMenu()...)
}

func adminKeyboard() chat.Keyboard {
	return chat.Keyboard{
		chat.Row(
			chat.Button{Text: "💲 Set rate", Unique: BtnSetRate},
			chat.Button{Text: "📣 Broadcast", Unique: BtnBroadcast},
		),
		chat.Row(chat.Button{Text: "📊 Statistics", Unique: BtnStats}),
		backToMenu()[0],
	}
}

func adminBackKeyboard() chat.Keyboard {
	return chat.Keyboard{
		chat.Row(chat.Button{Text: "🛠 Admin panel", Unique: BtnAdminPanel}),
		backToMenu()[0],
	}
}
