package admin

import (
	"fmt"
	"strings"

	"github.com/m3rciful/starstore/internal/ledger"
)

func approvedText(o ledger.Order) string {
	return fmt.Sprintf("✅ Your order #%d is confirmed.\n%d stars are on their way to %s. Thank you!", o.ID, o.Stars, o.Recipient)
}

func rejectedText(o ledger.Order) string {
	return fmt.Sprintf("❌ Your order #%d was rejected. If you already paid, contact support.", o.ID)
}

func referrerRewardText(a ledger.Approval, currency string) string {
	return fmt.Sprintf("🎁 Your referral bought stars. You received %d%s bonus and %d stars.",
		a.ReferrerBonus, currency, a.ReferrerStars)
}

func newOrderText(n OrderNotice, currency string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🆕 Order #%d\n", n.Order.ID)
	fmt.Fprintf(&b, "Buyer: %s (id %d)\n", displayName(n.Username), n.Order.UserID)
	fmt.Fprintf(&b, "Recipient: %s\n", n.Order.Recipient)
	fmt.Fprintf(&b, "Stars: %d\n", n.Order.Stars)
	if !n.Rate.IsZero() {
		fmt.Fprintf(&b, "Rate: %s%s\n", n.Rate.StringFixed(2), currency)
	}
	fmt.Fprintf(&b, "Price: %s%s\n", n.Order.Price.StringFixed(2), currency)
	if n.Proof != "" {
		fmt.Fprintf(&b, "Proof: %s", n.Proof)
	}
	return strings.TrimRight(b.String(), "\n")
}

func feedbackText(f ledger.Feedback, username string) string {
	return fmt.Sprintf("💬 Feedback from %s (id %d):\n%s", displayName(username), f.UserID, f.Text)
}

func displayName(username string) string {
	if username == "" {
		return "unknown"
	}
	return "@" + strings.TrimPrefix(username, "@")
}
