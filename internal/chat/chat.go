// Package chat describes the outbound chat transport the shop talks to.
package chat

import (
	"context"
	"errors"
)

// ErrMessageNotFound is returned by DeleteMessage when the message is already gone.
var ErrMessageNotFound = errors.New("chat: message not found")

// ErrBlocked marks a recipient that blocked the bot or never started it.
var ErrBlocked = errors.New("chat: recipient blocked the bot")

// Membership is a user's status in a channel.
type Membership string

const (
	MembershipMember  Membership = "member"
	MembershipAdmin   Membership = "administrator"
	MembershipOwner   Membership = "creator"
	MembershipNone    Membership = "none"
	MembershipUnknown Membership = "unknown"
)

// Subscribed reports whether the status counts as a channel subscription.
func (m Membership) Subscribed() bool {
	switch m {
	case MembershipMember, MembershipAdmin, MembershipOwner:
		return true
	}
	return false
}

// Button is an inline keyboard button. URL buttons ignore Unique and Data.
type Button struct {
	Text   string
	Unique string
	Data   string
	URL    string
}

// Keyboard is a grid of inline buttons.
type Keyboard [][]Button

// Row builds a keyboard row.
func Row(buttons ...Button) []Button { return buttons }

// Message is an outbound text message with an optional inline keyboard.
type Message struct {
	Text     string
	Keyboard Keyboard
}

// Transport is implemented by the messenger adapter.
type Transport interface {
	SendMessage(ctx context.Context, chatID int64, msg Message) (int, error)
	DeleteMessage(ctx context.Context, chatID int64, messageID int) error
	MembershipStatus(ctx context.Context, channel string, userID int64) (Membership, error)
	DownloadAttachment(ctx context.Context, fileRef string) (string, error)
}
