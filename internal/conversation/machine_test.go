package conversation

import (
	"context"
	"errors"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/m3rciful/starstore/core/database"
	"github.com/m3rciful/starstore/internal/admin"
	"github.com/m3rciful/starstore/internal/chat"
	"github.com/m3rciful/starstore/internal/ledger"
	"github.com/m3rciful/starstore/internal/pricing"
	"github.com/m3rciful/starstore/internal/referral"
	"github.com/m3rciful/starstore/migrations"
)

const (
	adminID = 900
	buyerID = 7
)

type sentMessage struct {
	ChatID int64
	ID     int
	Msg    chat.Message
}

type fakeTransport struct {
	mu          sync.Mutex
	nextID      int
	sent        []sentMessage
	deleted     []int
	members     map[int64]chat.Membership
	downloads   []string
	downloadErr error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{members: map[int64]chat.Membership{}}
}

func (f *fakeTransport) SendMessage(_ context.Context, chatID int64, msg chat.Message) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.sent = append(f.sent, sentMessage{ChatID: chatID, ID: f.nextID, Msg: msg})
	return f.nextID, nil
}

func (f *fakeTransport) DeleteMessage(_ context.Context, _ int64, messageID int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, messageID)
	return nil
}

func (f *fakeTransport) MembershipStatus(_ context.Context, _ string, userID int64) (chat.Membership, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if m, ok := f.members[userID]; ok {
		return m, nil
	}
	return chat.MembershipNone, nil
}

func (f *fakeTransport) DownloadAttachment(_ context.Context, fileRef string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.downloadErr != nil {
		return "", f.downloadErr
	}
	path := "payments/" + fileRef + ".jpg"
	f.downloads = append(f.downloads, path)
	return path, nil
}

func (f *fakeTransport) to(chatID int64) []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []sentMessage
	for _, s := range f.sent {
		if s.ChatID == chatID {
			out = append(out, s)
		}
	}
	return out
}

func (f *fakeTransport) last(t *testing.T, chatID int64) chat.Message {
	t.Helper()
	msgs := f.to(chatID)
	if len(msgs) == 0 {
		t.Fatalf("no messages sent to %d", chatID)
	}
	return msgs[len(msgs)-1].Msg
}

// textsSince returns the texts sent to chatID after the first n messages.
func (f *fakeTransport) textsSince(chatID int64, n int) string {
	msgs := f.to(chatID)
	var b strings.Builder
	for _, s := range msgs[n:] {
		b.WriteString(s.Msg.Text)
		b.WriteString("\n")
	}
	return b.String()
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time { return c.t }

type harness struct {
	t     *testing.T
	m     *Machine
	db    *sqlx.DB
	store *ledger.Store
	tr    *fakeTransport
	clock *fakeClock
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cfg := database.Config{Driver: database.DriverSQLite, Path: filepath.Join(t.TempDir(), "shop.db")}
	db, err := database.Connect(cfg)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := database.RunMigrations(cfg, migrations.FS); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	clock := &fakeClock{t: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)}
	store := ledger.NewStore(db, ledger.WithClock(clock.Now))
	tr := newFakeTransport()
	prices := pricing.NewEngine(pricing.Config{Channel: "@starsnews"}, store, tr, store)
	refs := referral.NewEngine(referral.Config{}, store, prices).WithRand(func(int) int { return 0 })
	adm := admin.NewWorkflow(admin.Config{AdminIDs: []int64{adminID}, BroadcastInterval: time.Millisecond},
		store, refs.ReferrerReward, tr, nil)

	m := New(Config{
		ChannelURL:     "https://t.me/starsnews",
		BotUsername:    "starstore_bot",
		PaymentDetails: "Card 0000 0000 0000 0000",
	}, Deps{
		Ledger:    store,
		Pricing:   prices,
		Referrals: refs,
		Admin:     adm,
		Transport: tr,
	})
	return &harness{t: t, m: m, db: db, store: store, tr: tr, clock: clock}
}

func (h *harness) handle(ev Event) {
	h.t.Helper()
	if ev.ChatID == 0 {
		ev.ChatID = ev.UserID
	}
	if ev.Username == "" {
		ev.Username = "user" + strconv.FormatInt(ev.UserID, 10)
	}
	_ = h.m.Handle(context.Background(), ev)
}

func (h *harness) command(user int64, cmd, args string) {
	h.t.Helper()
	h.handle(Event{Kind: KindCommand, UserID: user, Command: cmd, Args: args})
}

func (h *harness) button(user int64, btn, payload string) {
	h.t.Helper()
	h.handle(Event{Kind: KindButton, UserID: user, Button: btn, Payload: payload})
}

func (h *harness) text(user int64, text string) {
	h.t.Helper()
	h.handle(Event{Kind: KindText, UserID: user, Text: text})
}

func (h *harness) state(user int64) State {
	return h.m.Session(user).State
}

func (h *harness) expectState(user int64, want State) {
	h.t.Helper()
	if got := h.state(user); got != want {
		h.t.Fatalf("user %d state = %q, want %q", user, got, want)
	}
}

func (h *harness) user(id int64) ledger.User {
	h.t.Helper()
	u, err := h.store.GetUser(context.Background(), id)
	if err != nil {
		h.t.Fatalf("get user %d: %v", id, err)
	}
	return u
}

// order drives a user from the menu to a submitted order and returns the
// order id announced to the admin.
func (h *harness) order(user int64, recipient, amount string) string {
	h.t.Helper()
	h.button(user, BtnBuyStars, "")
	h.text(user, recipient)
	h.text(user, amount)
	h.button(user, BtnPayOrder, "")
	h.text(user, "I paid")
	h.expectState(user, StateIdle)
	notice := h.tr.last(h.t, adminID)
	if len(notice.Keyboard) == 0 || len(notice.Keyboard[0]) != 2 {
		h.t.Fatalf("admin notice without review buttons: %+v", notice)
	}
	return notice.Keyboard[0][0].Data
}

var decimalEqual = cmp.Comparer(func(a, b decimal.Decimal) bool { return a.Equal(b) })

func TestPurchaseUnsubscribedScenario(t *testing.T) {
	h := newHarness(t)
	h.command(buyerID, "start", "")
	h.expectState(buyerID, StateIdle)

	h.button(buyerID, BtnBuyStars, "")
	h.expectState(buyerID, StateChoosingRecipient)
	h.text(buyerID, "@friend")
	h.expectState(buyerID, StateChoosingAmount)
	h.text(buyerID, "100")
	h.expectState(buyerID, StateConfirmingOrder)

	want := Draft{
		Recipient: "@friend",
		Amount:    100,
		Price:     decimal.RequireFromString("165.00"),
		Rate:      decimal.RequireFromString("1.65"),
	}
	if diff := cmp.Diff(want, h.m.Session(buyerID).Draft, decimalEqual); diff != "" {
		t.Fatalf("draft mismatch (-want +got):\n%s", diff)
	}
	if got := h.tr.last(t, buyerID).Text; !strings.Contains(got, "Total: 165.00₽") {
		t.Fatalf("confirmation text = %q", got)
	}

	h.button(buyerID, BtnPayOrder, "")
	h.expectState(buyerID, StateAwaitingPaymentProof)
	if got := h.tr.last(t, buyerID).Text; !strings.Contains(got, "Card 0000") {
		t.Fatalf("payment text = %q", got)
	}
	h.text(buyerID, "Оплатил")
	h.expectState(buyerID, StateIdle)
	if d := h.m.Session(buyerID).Draft; d.Complete() {
		t.Fatalf("draft not cleared: %+v", d)
	}

	orders, err := h.store.ListOrders(context.Background(), buyerID)
	if err != nil || len(orders) != 1 {
		t.Fatalf("orders = %+v, err = %v", orders, err)
	}
	o := orders[0]
	if o.Paid || o.Stars != 100 || !o.Price.Equal(decimal.RequireFromString("165")) {
		t.Fatalf("order = %+v", o)
	}

	h.button(adminID, BtnApproveOrder, "1")
	if got := h.user(buyerID).Stars; got != 100 {
		t.Fatalf("buyer stars = %d, want 100", got)
	}
	if got := h.user(buyerID).ReferralBonus; got != 0 {
		t.Fatalf("buyer bonus = %d, want 0", got)
	}
	if got := h.tr.last(t, adminID).Text; !strings.Contains(got, "Order #1 approved") {
		t.Fatalf("admin reply = %q", got)
	}
	if got := h.tr.last(t, buyerID).Text; !strings.Contains(got, "#1 is confirmed") {
		t.Fatalf("buyer notice = %q", got)
	}
}

func TestSubscribedUserGetsGlobalRate(t *testing.T) {
	h := newHarness(t)
	h.tr.members[buyerID] = chat.MembershipMember
	h.command(buyerID, "start", "")

	h.button(buyerID, BtnBuyStars, "")
	h.text(buyerID, "@friend")
	h.text(buyerID, "100")
	if got := h.m.Session(buyerID).Draft.Price; !got.Equal(decimal.RequireFromString("155")) {
		t.Fatalf("price = %s, want 155.00", got)
	}
}

func TestRecipientValidation(t *testing.T) {
	cases := []struct {
		in   string
		want bool
	}{
		{"@friend", true},
		{"@a", true},
		{"@@", true},
		{"@", false},
		{"friend", false},
		{"", false},
		{"@two words", false},
		{"a@friend", false},
	}
	for _, c := range cases {
		if got := ValidRecipient(c.in, "@"); got != c.want {
			t.Errorf("ValidRecipient(%q) = %v, want %v", c.in, got, c.want)
		}
	}

	h := newHarness(t)
	h.button(buyerID, BtnBuyStars, "")
	before := len(h.tr.to(buyerID))
	h.text(buyerID, "friend")
	h.expectState(buyerID, StateChoosingRecipient)
	if got := h.tr.textsSince(buyerID, before); !strings.Contains(got, "must start with @") {
		t.Fatalf("re-prompt = %q", got)
	}
	h.text(buyerID, "@f")
	h.expectState(buyerID, StateChoosingAmount)
}

func TestRecipientSelfButton(t *testing.T) {
	h := newHarness(t)
	h.handle(Event{Kind: KindButton, UserID: buyerID, Username: "alice", Button: BtnBuyStars})
	h.handle(Event{Kind: KindButton, UserID: buyerID, Username: "alice", Button: BtnRecipientSelf})
	h.expectState(buyerID, StateChoosingAmount)
	if got := h.m.Session(buyerID).Draft.Recipient; got != "@alice" {
		t.Fatalf("recipient = %q", got)
	}
}

func TestAmountBoundary(t *testing.T) {
	cases := []struct {
		in    string
		ok    bool
		price string
	}{
		{"49", false, ""},
		{"0", false, ""},
		{"-50", false, ""},
		{"fifty", false, ""},
		{"12.5", false, ""},
		{"50", true, "82.50"},
		{" 51 ", true, "84.15"},
		{"1000", true, "1650.00"},
		{"333", true, "549.45"},
		{"2000000", true, "3300000.00"},
	}
	for _, c := range cases {
		t.Run(c.in, func(t *testing.T) {
			h := newHarness(t)
			h.button(buyerID, BtnBuyStars, "")
			h.text(buyerID, "@friend")
			h.text(buyerID, c.in)
			if !c.ok {
				h.expectState(buyerID, StateChoosingAmount)
				if h.m.Session(buyerID).Draft.Amount != 0 {
					t.Fatal("amount stored for rejected input")
				}
				return
			}
			h.expectState(buyerID, StateConfirmingOrder)
			if got := h.m.Session(buyerID).Draft.Price; !got.Equal(decimal.RequireFromString(c.price)) {
				t.Fatalf("price = %s, want %s", got, c.price)
			}
		})
	}
}

func TestParseAmountCap(t *testing.T) {
	if _, err := ParseAmount("2000000", 50, 1000); err == nil {
		t.Fatal("expected amount above the cap to be rejected")
	}
	if got, err := ParseAmount("2000000", 50, 0); err != nil || got != 2000000 {
		t.Fatalf("uncapped ParseAmount = %d, %v", got, err)
	}
	if got := New(Config{}, Deps{}).cfg.MaxStars; got != 0 {
		t.Fatalf("default MaxStars = %d, want 0", got)
	}
}

func TestConfirmEditBranches(t *testing.T) {
	h := newHarness(t)
	h.button(buyerID, BtnBuyStars, "")
	h.text(buyerID, "@friend")
	h.text(buyerID, "100")

	h.button(buyerID, BtnEditAmount, "")
	h.expectState(buyerID, StateChoosingAmount)
	h.text(buyerID, "200")
	h.expectState(buyerID, StateConfirmingOrder)

	h.button(buyerID, BtnEditRecipient, "")
	h.expectState(buyerID, StateChoosingRecipient)
	h.text(buyerID, "@other")
	h.text(buyerID, "60")
	h.expectState(buyerID, StateConfirmingOrder)
	if got := h.m.Session(buyerID).Draft; got.Recipient != "@other" || got.Amount != 60 {
		t.Fatalf("draft = %+v", got)
	}

	h.text(buyerID, "what now")
	h.expectState(buyerID, StateConfirmingOrder)

	h.button(buyerID, BtnCancel, "")
	h.expectState(buyerID, StateIdle)
	if h.m.Session(buyerID).Draft.Complete() {
		t.Fatal("draft survived cancel")
	}
}

func TestMenuSignalsResetFromAnyState(t *testing.T) {
	signals := []struct {
		name string
		send func(h *harness)
	}{
		{"keyword", func(h *harness) { h.text(buyerID, "  Main   MENU please") }},
		{"russian keyword", func(h *harness) { h.text(buyerID, "Назад") }},
		{"cancel command", func(h *harness) { h.command(buyerID, "cancel", "") }},
		{"cancel button", func(h *harness) { h.button(buyerID, BtnCancel, "") }},
		{"menu button", func(h *harness) { h.button(buyerID, BtnMainMenu, "") }},
	}
	for _, s := range signals {
		t.Run(s.name, func(t *testing.T) {
			h := newHarness(t)
			h.button(buyerID, BtnBuyStars, "")
			h.text(buyerID, "@friend")
			h.expectState(buyerID, StateChoosingAmount)

			s.send(h)
			h.expectState(buyerID, StateIdle)
			if got := h.m.Session(buyerID).Draft; got.Recipient != "" {
				t.Fatalf("draft not cleared: %+v", got)
			}
			if got := h.tr.last(t, buyerID).Text; !strings.Contains(got, "Main menu") {
				t.Fatalf("last message = %q", got)
			}
		})
	}
}

func TestPaymentProofPhoto(t *testing.T) {
	h := newHarness(t)
	h.button(buyerID, BtnBuyStars, "")
	h.text(buyerID, "@friend")
	h.text(buyerID, "100")
	h.button(buyerID, BtnPayOrder, "")

	before := len(h.tr.to(buyerID))
	h.text(buyerID, "hello?")
	h.expectState(buyerID, StateAwaitingPaymentProof)
	if got := h.tr.textsSince(buyerID, before); !strings.Contains(got, "screenshot") {
		t.Fatalf("re-prompt = %q", got)
	}

	h.handle(Event{Kind: KindPhoto, UserID: buyerID, Photo: "file42"})
	h.expectState(buyerID, StateIdle)
	if diff := cmp.Diff([]string{"payments/file42.jpg"}, h.tr.downloads); diff != "" {
		t.Fatalf("downloads mismatch (-want +got):\n%s", diff)
	}
	if got := h.tr.last(t, adminID).Text; !strings.Contains(got, "payments/file42.jpg") {
		t.Fatalf("admin notice = %q", got)
	}
}

func TestPaymentProofPhotoDownloadFails(t *testing.T) {
	h := newHarness(t)
	h.tr.downloadErr = errors.New("file too big")
	h.button(buyerID, BtnBuyStars, "")
	h.text(buyerID, "@friend")
	h.text(buyerID, "100")
	h.button(buyerID, BtnPayOrder, "")
	h.handle(Event{Kind: KindPhoto, UserID: buyerID, Photo: "file42"})

	h.expectState(buyerID, StateIdle)
	orders, err := h.store.ListOrders(context.Background(), buyerID)
	if err != nil || len(orders) != 1 {
		t.Fatalf("orders = %+v, err = %v", orders, err)
	}
	if got := h.tr.last(t, adminID).Text; !strings.Contains(got, "not archived") {
		t.Fatalf("admin notice = %q", got)
	}
}

func TestReferralRegistrationAndApproval(t *testing.T) {
	h := newHarness(t)
	const referrerID = 42
	h.command(referrerID, "start", "")
	h.command(buyerID, "start", "42")

	if got := h.user(referrerID).ReferralsCount; got != 1 {
		t.Fatalf("referrals_count = %d, want 1", got)
	}
	if got := h.tr.textsSince(referrerID, 0); !strings.Contains(got, "joined with your referral link") {
		t.Fatalf("referrer messages = %q", got)
	}
	h.command(buyerID, "start", "42")
	if got := h.user(referrerID).ReferralsCount; got != 1 {
		t.Fatalf("referrals_count after second /start = %d, want 1", got)
	}

	first := h.order(buyerID, "@friend", "100")
	second := h.order(buyerID, "@friend", "60")

	h.button(adminID, BtnRejectOrder, second)
	ref := h.user(referrerID)
	if ref.ReferralBonus != 0 || ref.Stars != 0 {
		t.Fatalf("referrer credited on rejection: %+v", ref)
	}

	h.button(adminID, BtnApproveOrder, first)
	ref = h.user(referrerID)
	// 165.00 × 5% = 8.25 → 8, 100 × 5% = 5
	if ref.ReferralBonus != 8 || ref.Stars != 5 {
		t.Fatalf("referrer = bonus %d stars %d, want 8 and 5", ref.ReferralBonus, ref.Stars)
	}

	h.button(adminID, BtnApproveOrder, first)
	if got := h.user(buyerID).Stars; got != 100 {
		t.Fatalf("buyer stars after repeat = %d, want 100", got)
	}
	if got := h.user(referrerID).ReferralBonus; got != 8 {
		t.Fatalf("referrer bonus after repeat = %d, want 8", got)
	}
	if got := h.tr.last(t, adminID).Text; !strings.Contains(got, "already") {
		t.Fatalf("repeat approve reply = %q", got)
	}

	h.button(adminID, BtnRejectOrder, first)
	if got := h.tr.last(t, adminID).Text; !strings.Contains(got, "already") {
		t.Fatalf("reject of paid order reply = %q", got)
	}
	h.button(adminID, BtnRejectOrder, second)
	if got := h.tr.last(t, adminID).Text; !strings.Contains(got, "not found") {
		t.Fatalf("reject of deleted order reply = %q", got)
	}
}

func TestSelfReferralIgnored(t *testing.T) {
	h := newHarness(t)
	h.command(buyerID, "start", "7")
	if u := h.user(buyerID); u.ReferrerID != nil || u.ReferralsCount != 0 {
		t.Fatalf("self referral recorded: %+v", u)
	}
}

func TestNonAdminCannotApprove(t *testing.T) {
	h := newHarness(t)
	id := h.order(buyerID, "@friend", "100")

	h.button(buyerID, BtnApproveOrder, id)
	if got := h.user(buyerID).Stars; got != 0 {
		t.Fatalf("stars = %d after non-admin approval", got)
	}
	if got := h.tr.last(t, buyerID).Text; got != textDenied {
		t.Fatalf("reply = %q", got)
	}
}

func TestAdminGate(t *testing.T) {
	h := newHarness(t)
	h.command(buyerID, "admin", "")
	h.expectState(buyerID, StateIdle)
	if got := h.tr.last(t, buyerID).Text; got != textDenied {
		t.Fatalf("reply = %q", got)
	}

	// a session that reached an admin state by any path is still checked
	h.m.sessions.Put(buyerID, Session{State: StateSettingRate, Registered: true})
	h.text(buyerID, "0.5")
	h.expectState(buyerID, StateIdle)
	if _, ok, _ := h.store.GetSetting(context.Background(), ledger.SettingRate); ok {
		t.Fatal("non-admin changed the rate")
	}

	h.m.sessions.Put(buyerID, Session{State: StateBroadcasting, Registered: true})
	before := len(h.tr.sent)
	h.text(buyerID, "free stars for everyone")
	if got := len(h.tr.sent) - before; got != 1 {
		t.Fatalf("non-admin broadcast sent %d messages, want only the denial", got)
	}
}

func TestAdminSetRate(t *testing.T) {
	h := newHarness(t)
	h.command(adminID, "admin", "")
	h.expectState(adminID, StateAdminPanel)
	h.button(adminID, BtnSetRate, "")
	h.expectState(adminID, StateSettingRate)

	h.text(adminID, "abc")
	h.expectState(adminID, StateSettingRate)

	h.text(adminID, "1,70")
	h.expectState(adminID, StateAdminPanel)
	raw, ok, err := h.store.GetSetting(context.Background(), ledger.SettingRate)
	if err != nil || !ok || raw != "1.7" {
		t.Fatalf("setting = %q %v %v", raw, ok, err)
	}

	h.button(buyerID, BtnBuyStars, "")
	h.text(buyerID, "@friend")
	h.text(buyerID, "100")
	if got := h.m.Session(buyerID).Draft.Rate; !got.Equal(decimal.RequireFromString("1.80")) {
		t.Fatalf("unsubscribed rate = %s, want 1.80", got)
	}
}

func TestAdminBroadcastAndStats(t *testing.T) {
	h := newHarness(t)
	for _, id := range []int64{1, 2, 3} {
		h.command(id, "start", "")
	}
	h.command(adminID, "admin", "")
	h.button(adminID, BtnBroadcast, "")
	h.expectState(adminID, StateBroadcasting)
	h.text(adminID, "New prices today")
	h.expectState(adminID, StateAdminPanel)

	for _, id := range []int64{1, 2, 3} {
		if got := h.tr.last(t, id).Text; got != "New prices today" {
			t.Fatalf("user %d last message = %q", id, got)
		}
	}
	if got := h.tr.last(t, adminID).Text; !strings.Contains(got, "Recipients: 4") || !strings.Contains(got, "Delivered: 4") {
		t.Fatalf("broadcast report = %q", got)
	}

	h.button(adminID, BtnStats, "")
	h.expectState(adminID, StateViewingStats)
	if got := h.tr.last(t, adminID).Text; !strings.Contains(got, "Users: 4") {
		t.Fatalf("stats = %q", got)
	}
}

func TestDailyBonus(t *testing.T) {
	h := newHarness(t)
	h.command(buyerID, "start", "")

	h.button(buyerID, BtnDailyBonus, "")
	if got := h.user(buyerID).ReferralBonus; got != 1 {
		t.Fatalf("bonus = %d, want 1", got)
	}

	h.clock.t = h.clock.t.Add(23 * time.Hour)
	h.button(buyerID, BtnDailyBonus, "")
	if got := h.user(buyerID).ReferralBonus; got != 1 {
		t.Fatalf("bonus after early claim = %d, want 1", got)
	}
	if got := h.tr.last(t, buyerID).Text; !strings.Contains(got, "already claimed") || !strings.Contains(got, "2026-03-11 12:00") {
		t.Fatalf("early claim reply = %q", got)
	}

	h.clock.t = h.clock.t.Add(time.Hour)
	h.button(buyerID, BtnDailyBonus, "")
	if got := h.user(buyerID).ReferralBonus; got != 2 {
		t.Fatalf("bonus after cooldown = %d, want 2", got)
	}
}

func TestExchangeBonus(t *testing.T) {
	h := newHarness(t)
	h.command(buyerID, "start", "")

	h.button(buyerID, BtnExchangeBonus, "")
	h.expectState(buyerID, StateIdle)
	if got := h.tr.last(t, buyerID).Text; !strings.Contains(got, "starts from 50") {
		t.Fatalf("low balance reply = %q", got)
	}

	if _, err := h.store.ClaimDailyBonus(context.Background(), buyerID, 100, 24*time.Hour); err != nil {
		t.Fatalf("seed bonus: %v", err)
	}
	h.button(buyerID, BtnExchangeBonus, "")
	h.expectState(buyerID, StateExchangingBonus)

	h.text(buyerID, "10")
	h.expectState(buyerID, StateExchangingBonus)
	h.text(buyerID, "500")
	h.expectState(buyerID, StateExchangingBonus)

	h.text(buyerID, "60")
	h.expectState(buyerID, StateIdle)
	u := h.user(buyerID)
	// 60 / 1.55 = 38.7 → 38
	if u.ReferralBonus != 40 || u.Stars != 38 {
		t.Fatalf("after exchange bonus=%d stars=%d, want 40 and 38", u.ReferralBonus, u.Stars)
	}
}

func TestFeedbackForwardedToAdmins(t *testing.T) {
	h := newHarness(t)
	h.button(buyerID, BtnFeedback, "")
	h.expectState(buyerID, StateLeavingFeedback)

	h.text(buyerID, "hey")
	h.expectState(buyerID, StateLeavingFeedback)

	h.text(buyerID, "Great service, thanks")
	h.expectState(buyerID, StateIdle)
	if got := h.tr.last(t, adminID).Text; !strings.Contains(got, "Great service, thanks") {
		t.Fatalf("admin got %q", got)
	}
}

func TestProfileAndOrders(t *testing.T) {
	h := newHarness(t)
	h.command(buyerID, "start", "")
	id := h.order(buyerID, "@friend", "100")
	h.button(adminID, BtnApproveOrder, id)

	h.button(buyerID, BtnProfile, "")
	profile := h.tr.last(t, buyerID).Text
	for _, part := range []string{"Stars balance: 100", "Stars purchased: 100", "Your personal rate: 1.55₽"} {
		if !strings.Contains(profile, part) {
			t.Errorf("profile missing %q:\n%s", part, profile)
		}
	}

	h.button(buyerID, BtnMyOrders, "")
	h.expectState(buyerID, StateViewingOrders)
	if got := h.tr.last(t, buyerID).Text; !strings.Contains(got, "#1 · @friend · 100 stars · 165.00₽") || !strings.Contains(got, "paid") {
		t.Fatalf("orders = %q", got)
	}

	h.button(buyerID, BtnReferrals, "")
	if got := h.tr.last(t, buyerID).Text; !strings.Contains(got, "https://t.me/starstore_bot?start=7") {
		t.Fatalf("referrals = %q", got)
	}
}

func TestMenuRetractsPreviousMenu(t *testing.T) {
	h := newHarness(t)
	h.command(buyerID, "start", "")
	first := h.m.Session(buyerID).MenuMessageID
	if first == 0 {
		t.Fatal("menu message id not recorded")
	}
	h.button(buyerID, BtnMainMenu, "")
	if diff := cmp.Diff([]int{first}, h.tr.deleted); diff != "" {
		t.Fatalf("deleted mismatch (-want +got):\n%s", diff)
	}
	menu := h.tr.last(t, buyerID)
	if !strings.Contains(menu.Text, "1.65₽") {
		t.Fatalf("menu text = %q", menu.Text)
	}
	var hasCheck bool
	for _, row := range menu.Keyboard {
		for _, b := range row {
			if b.Unique == BtnCheckSub {
				hasCheck = true
			}
		}
	}
	if !hasCheck {
		t.Fatal("unsubscribed menu has no subscription check")
	}
}

type failingSettings struct{}

func (failingSettings) GetSetting(context.Context, string) (string, bool, error) {
	return "", false, errors.New("settings unavailable")
}

func TestMenuShowsDefaultRateWhenSettingsFail(t *testing.T) {
	h := newHarness(t)
	h.command(buyerID, "start", "")
	h.m.deps.Pricing = pricing.NewEngine(pricing.Config{Channel: "@starsnews"}, failingSettings{}, h.tr, h.store)

	h.button(buyerID, BtnMainMenu, "")
	h.expectState(buyerID, StateIdle)
	if got := h.tr.last(t, buyerID).Text; !strings.Contains(got, "1.65₽") {
		t.Fatalf("menu text = %q", got)
	}

	h.button(buyerID, BtnCheckSub, "")
	if got := h.tr.textsSince(buyerID, 0); strings.Contains(got, textTryLater) {
		t.Fatalf("subscription check failed instead of degrading:\n%s", got)
	}
}

func TestStaleButtonAndUnknownText(t *testing.T) {
	h := newHarness(t)
	h.button(buyerID, BtnEditAmount, "")
	h.expectState(buyerID, StateIdle)
	if got := h.tr.last(t, buyerID).Text; got != textStaleButton {
		t.Fatalf("reply = %q", got)
	}
	h.text(buyerID, "hello")
	if got := h.tr.last(t, buyerID).Text; got != textUnknown {
		t.Fatalf("reply = %q", got)
	}
}

func TestStorageFailureResetsToIdle(t *testing.T) {
	h := newHarness(t)
	h.button(buyerID, BtnBuyStars, "")
	h.text(buyerID, "@friend")
	h.expectState(buyerID, StateChoosingAmount)

	_ = h.db.Close()
	err := h.m.Handle(context.Background(), Event{Kind: KindText, UserID: buyerID, ChatID: buyerID, Text: "100"})
	if err == nil {
		t.Fatal("expected storage error")
	}
	h.expectState(buyerID, StateIdle)
	if got := h.tr.last(t, buyerID).Text; got != textTryLater {
		t.Fatalf("reply = %q", got)
	}
}

func TestConcurrentEventsForOneUser(t *testing.T) {
	h := newHarness(t)
	h.command(buyerID, "start", "")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = h.m.Handle(context.Background(), Event{Kind: KindButton, UserID: buyerID, ChatID: buyerID, Button: BtnBuyStars})
		}()
	}
	wg.Wait()
	h.expectState(buyerID, StateChoosingRecipient)
}
