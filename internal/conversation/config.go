package conversation

import (
	"strings"
	"unicode"
)

// Config holds the conversation parameters.
type Config struct {
	MinStars int64
	// MaxStars caps a single order. Zero leaves it uncapped.
	MaxStars int64
	// RecipientMarker prefixes every recipient handle.
	RecipientMarker string
	MenuKeywords    []string
	PaymentKeywords []string
	FeedbackMinLen  int
	OrdersShown     int

	Currency       string
	PaymentDetails string
	SupportContact string
	BotUsername    string
	// ChannelURL is offered to unsubscribed users.
	ChannelURL string
}

// DefaultMenuKeywords return the user to the main menu from any state.
var DefaultMenuKeywords = []string{"меню", "назад", "главное меню", "menu", "main menu"}

// DefaultPaymentKeywords confirm a payment in text form.
var DefaultPaymentKeywords = []string{"оплатил", "paid"}

func (c Config) withDefaults() Config {
	if c.MinStars <= 0 {
		c.MinStars = 50
	}
	if c.MaxStars < 0 {
		c.MaxStars = 0
	}
	if c.RecipientMarker == "" {
		c.RecipientMarker = "@"
	}
	if len(c.MenuKeywords) == 0 {
		c.MenuKeywords = DefaultMenuKeywords
	}
	if len(c.PaymentKeywords) == 0 {
		c.PaymentKeywords = DefaultPaymentKeywords
	}
	if c.FeedbackMinLen <= 0 {
		c.FeedbackMinLen = 5
	}
	if c.OrdersShown <= 0 {
		c.OrdersShown = 10
	}
	if c.Currency == "" {
		c.Currency = "₽"
	}
	c.MenuKeywords = squashAll(c.MenuKeywords)
	c.PaymentKeywords = squashAll(c.PaymentKeywords)
	c.BotUsername = strings.TrimPrefix(strings.TrimSpace(c.BotUsername), "@")
	return c
}

// squash lowercases s and drops all whitespace so "Main  Menu" matches "mainmenu".
func squash(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return unicode.ToLower(r)
	}, s)
}

func squashAll(words []string) []string {
	out := make([]string, 0, len(words))
	for _, w := range words {
		if w = squash(w); w != "" {
			out = append(out, w)
		}
	}
	return out
}

func containsAny(text string, words []string) bool {
	text = squash(text)
	if text == "" {
		return false
	}
	for _, w := range words {
		if strings.Contains(text, w) {
			return true
		}
	}
	return false
}
