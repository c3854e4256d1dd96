package conversation

import (
	"strings"

	"github.com/shopspring/decimal"
)

// State is a step of a user's conversation.
type State string

const (
	StateIdle                 State = "idle"
	StateChoosingRecipient    State = "choosing_recipient"
	StateChoosingAmount       State = "choosing_amount"
	StateConfirmingOrder      State = "confirming_order"
	StateAwaitingPaymentProof State = "awaiting_payment_proof"
	StateAdminPanel           State = "admin_panel"
	StateSettingRate          State = "setting_rate"
	StateBroadcasting         State = "broadcasting"
	StateViewingStats         State = "viewing_stats"
	StateViewingOrders        State = "viewing_orders"
	StateLeavingFeedback      State = "leaving_feedback"
	StateExchangingBonus      State = "exchanging_bonus"

	// stateAny matches every state in the transition table.
	stateAny State = "*"
)

// Kind tags an inbound event.
type Kind string

const (
	KindCommand Kind = "command"
	KindButton  Kind = "button"
	KindText    Kind = "text"
	KindPhoto   Kind = "photo"
)

// Event is one inbound chat event. Which fields are set depends on Kind.
type Event struct {
	Kind     Kind
	UserID   int64
	ChatID   int64
	Username string

	// Command is the command name without the slash; Args is the rest of the line.
	Command string
	Args    string
	// Button is the callback identifier; Payload is its data.
	Button  string
	Payload string
	// Text is the message text or the photo caption.
	Text string
	// Photo is the transport's file reference.
	Photo string
}

// Tag is the key the transition table matches besides state and kind.
func (e Event) Tag() string {
	switch e.Kind {
	case KindCommand:
		return strings.ToLower(e.Command)
	case KindButton:
		return e.Button
	}
	return ""
}

// Draft is the order being assembled.
type Draft struct {
	Recipient string
	Amount    int64
	Price     decimal.Decimal
	Rate      decimal.Decimal
}

// Complete reports whether the draft can become an order.
func (d Draft) Complete() bool {
	return d.Recipient != "" && d.Amount > 0 && d.Price.IsPositive()
}

// Session is the in-memory conversation state of one user.
type Session struct {
	State         State
	Draft         Draft
	MenuMessageID int
	Registered    bool
}

func newSession() Session {
	return Session{State: StateIdle}
}

// Reset returns to idle and drops the draft.
func (s *Session) Reset() {
	s.State = StateIdle
	s.Draft = Draft{}
}
