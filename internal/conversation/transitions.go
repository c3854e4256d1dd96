package conversation

import (
	"context"

	"github.com/m3rciful/starstore/internal/admin"
)

// Commands.
const (
	cmdStart  = "start"
	cmdHelp   = "help"
	cmdAdmin  = "admin"
	cmdCancel = "cancel"
)

// Button identifiers. They double as telebot callback uniques.
const (
	BtnMainMenu      = "main_menu"
	BtnCancel        = "cancel"
	BtnHelp          = "help"
	BtnBuyStars      = "buy_stars"
	BtnRecipientSelf = "recipient_self"
	BtnEditRecipient = "edit_recipient"
	BtnEditAmount    = "edit_amount"
	BtnPayOrder      = "pay_order"
	BtnProfile       = "profile"
	BtnReferrals     = "referrals"
	BtnMyOrders      = "my_orders"
	BtnDailyBonus    = "daily_bonus"
	BtnExchangeBonus = "exchange_bonus"
	BtnFeedback      = "feedback"
	BtnCheckSub      = "check_subscription"
	BtnAdminPanel    = "admin_panel"
	BtnSetRate       = "admin_set_rate"
	BtnBroadcast     = "admin_broadcast"
	BtnStats         = "admin_stats"
	BtnApproveOrder  = admin.ButtonApproveOrder
	BtnRejectOrder   = admin.ButtonRejectOrder
)

// Commands lists the slash commands the machine understands.
var Commands = []string{cmdStart, cmdHelp, cmdAdmin, cmdCancel}

// Buttons lists every callback identifier the machine understands.
var Buttons = []string{
	BtnMainMenu, BtnCancel, BtnHelp, BtnBuyStars, BtnRecipientSelf,
	BtnEditRecipient, BtnEditAmount, BtnPayOrder, BtnProfile, BtnReferrals,
	BtnMyOrders, BtnDailyBonus, BtnExchangeBonus, BtnFeedback, BtnCheckSub,
	BtnAdminPanel, BtnSetRate, BtnBroadcast, BtnStats, BtnApproveOrder, BtnRejectOrder,
}

type route struct {
	state State
	kind  Kind
	tag   string
}

type handler func(m *Machine, ctx context.Context, t *turn) error

func transitions() map[route]handler {
	return map[route]handler{
		// universal
		{stateAny, KindCommand, cmdStart}:   (*Machine).start,
		{stateAny, KindCommand, cmdHelp}:    (*Machine).help,
		{stateAny, KindCommand, cmdCancel}:  (*Machine).toMenu,
		{stateAny, KindCommand, cmdAdmin}:   (*Machine).openAdminPanel,
		{stateAny, KindButton, BtnMainMenu}: (*Machine).toMenu,
		{stateAny, KindButton, BtnCancel}:   (*Machine).toMenu,
		{stateAny, KindButton, BtnHelp}:     (*Machine).help,

		// purchase
		{stateAny, KindButton, BtnBuyStars}:                    (*Machine).beginPurchase,
		{StateChoosingRecipient, KindText, ""}:                 (*Machine).chooseRecipient,
		{StateChoosingRecipient, KindButton, BtnRecipientSelf}: (*Machine).chooseSelf,
		{StateChoosingAmount, KindText, ""}:                    (*Machine).chooseAmount,
		{StateConfirmingOrder, KindButton, BtnEditRecipient}:   (*Machine).editRecipient,
		{StateConfirmingOrder, KindButton, BtnEditAmount}:      (*Machine).editAmount,
		{StateConfirmingOrder, KindButton, BtnPayOrder}:        (*Machine).pay,
		{StateConfirmingOrder, KindText, ""}:                   (*Machine).confirmReprompt,
		{StateAwaitingPaymentProof, KindText, ""}:              (*Machine).proofText,
		{StateAwaitingPaymentProof, KindPhoto, ""}:             (*Machine).proofPhoto,

		// account
		{stateAny, KindButton, BtnProfile}:       (*Machine).profile,
		{stateAny, KindButton, BtnReferrals}:     (*Machine).referrals,
		{stateAny, KindButton, BtnMyOrders}:      (*Machine).myOrders,
		{stateAny, KindButton, BtnDailyBonus}:    (*Machine).dailyBonus,
		{stateAny, KindButton, BtnExchangeBonus}: (*Machine).beginExchange,
		{StateExchangingBonus, KindText, ""}:     (*Machine).exchange,
		{stateAny, KindButton, BtnFeedback}:      (*Machine).beginFeedback,
		{StateLeavingFeedback, KindText, ""}:     (*Machine).feedback,
		{stateAny, KindButton, BtnCheckSub}:      (*Machine).checkSubscription,

		// admin
		{stateAny, KindButton, BtnAdminPanel}:   (*Machine).openAdminPanel,
		{stateAny, KindButton, BtnSetRate}:      (*Machine).beginSetRate,
		{StateSettingRate, KindText, ""}:        (*Machine).setRate,
		{stateAny, KindButton, BtnBroadcast}:    (*Machine).beginBroadcast,
		{StateBroadcasting, KindText, ""}:       (*Machine).broadcast,
		{stateAny, KindButton, BtnStats}:        (*Machine).stats,
		{stateAny, KindButton, BtnApproveOrder}: (*Machine).approveOrder,
		{stateAny, KindButton, BtnRejectOrder}:  (*Machine).rejectOrder,
	}
}

// lookup tries the exact route first, then the state with any tag, then the
// wildcard state.
func (m *Machine) lookup(st State, kind Kind, tag string) handler {
	candidates := []route{
		{st, kind, tag},
		{st, kind, ""},
		{stateAny, kind, tag},
		{stateAny, kind, ""},
	}
	for _, r := range candidates {
		if h, ok := m.table[r]; ok {
			return h
		}
	}
	return nil
}
