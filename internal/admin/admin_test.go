package admin

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/shopspring/decimal"

	"github.com/m3rciful/starstore/internal/apperr"
	"github.com/m3rciful/starstore/internal/chat"
	"github.com/m3rciful/starstore/internal/ledger"
)

type sent struct {
	ChatID int64
	Msg    chat.Message
}

type fakeSender struct {
	mu      sync.Mutex
	out     []sent
	fail    map[int64]bool
	blocked map[int64]bool
}

func (f *fakeSender) SendMessage(_ context.Context, chatID int64, msg chat.Message) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail[chatID] {
		return 0, errors.New("telegram: Bad Gateway (502)")
	}
	if f.blocked[chatID] {
		return 0, fmt.Errorf("send to %d: %w", chatID, chat.ErrBlocked)
	}
	f.out = append(f.out, sent{ChatID: chatID, Msg: msg})
	return len(f.out), nil
}

func (f *fakeSender) to(chatID int64) []chat.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	var msgs []chat.Message
	for _, s := range f.out {
		if s.ChatID == chatID {
			msgs = append(msgs, s.Msg)
		}
	}
	return msgs
}

type fakeStore struct {
	orders   map[int64]ledger.Order
	referrer map[int64]int64
	users    []int64
	settings map[string]string
	credited map[int64]int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		orders:   map[int64]ledger.Order{},
		referrer: map[int64]int64{},
		settings: map[string]string{},
		credited: map[int64]int64{},
	}
}

func (f *fakeStore) ApproveOrder(_ context.Context, id int64, reward ledger.RewardFunc) (ledger.Approval, error) {
	o, ok := f.orders[id]
	if !ok {
		return ledger.Approval{}, apperr.NotFound("ledger.approve_order", "order not found")
	}
	if o.Paid {
		return ledger.Approval{}, apperr.AlreadyHandled("ledger.approve_order", "order already paid")
	}
	o.Paid = true
	f.orders[id] = o
	f.credited[o.UserID] += o.Stars
	a := ledger.Approval{Order: o}
	if ref, ok := f.referrer[o.UserID]; ok {
		a.ReferrerID = &ref
		a.ReferrerBonus, a.ReferrerStars = reward(o)
	}
	return a, nil
}

func (f *fakeStore) RejectOrder(_ context.Context, id int64) (ledger.Order, error) {
	o, ok := f.orders[id]
	if !ok {
		return ledger.Order{}, apperr.NotFound("ledger.reject_order", "order not found")
	}
	if o.Paid {
		return ledger.Order{}, apperr.AlreadyHandled("ledger.reject_order", "order already paid")
	}
	delete(f.orders, id)
	return o, nil
}

func (f *fakeStore) ListUserIDs(context.Context) ([]int64, error) { return f.users, nil }

func (f *fakeStore) SetSetting(_ context.Context, key, value string) error {
	f.settings[key] = value
	return nil
}

func (f *fakeStore) Stats(context.Context) (ledger.Stats, error) {
	return ledger.Stats{Users: len(f.users)}, nil
}

const adminID = 900

func newWorkflow(store *fakeStore, sender *fakeSender) *Workflow {
	reward := func(o ledger.Order) (int64, int64) { return 8, 0 }
	return NewWorkflow(Config{AdminIDs: []int64{adminID}, BroadcastInterval: time.Millisecond}, store, reward, sender, nil)
}

func TestApproveOrderCreditsAndNotifies(t *testing.T) {
	store := newFakeStore()
	store.orders[1] = ledger.Order{ID: 1, UserID: 7, Recipient: "@friend", Stars: 100, Price: decimal.RequireFromString("165")}
	store.referrer[7] = 42
	sender := &fakeSender{}
	w := newWorkflow(store, sender)
	ctx := context.Background()

	a, err := w.ApproveOrder(ctx, adminID, 1)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if !a.Order.Paid || a.ReferrerBonus != 8 {
		t.Fatalf("approval = %+v", a)
	}
	if got := store.credited[7]; got != 100 {
		t.Fatalf("credited = %d, want 100", got)
	}
	if msgs := sender.to(7); len(msgs) != 1 || !strings.Contains(msgs[0].Text, "#1 is confirmed") {
		t.Fatalf("buyer messages = %+v", msgs)
	}
	if msgs := sender.to(42); len(msgs) != 1 || !strings.Contains(msgs[0].Text, "8₽ bonus") {
		t.Fatalf("referrer messages = %+v", msgs)
	}

	_, err = w.ApproveOrder(ctx, adminID, 1)
	if !apperr.Is(err, apperr.KindAlreadyHandled) {
		t.Fatalf("second approve err = %v, want already handled", err)
	}
	if got := store.credited[7]; got != 100 {
		t.Fatalf("credited after repeat = %d, want 100", got)
	}
	if msgs := sender.to(7); len(msgs) != 1 {
		t.Fatalf("buyer notified %d times", len(msgs))
	}
}

func TestApproveRequiresAdmin(t *testing.T) {
	store := newFakeStore()
	store.orders[1] = ledger.Order{ID: 1, UserID: 7, Stars: 100}
	w := newWorkflow(store, &fakeSender{})

	_, err := w.ApproveOrder(context.Background(), 7, 1)
	if !apperr.Is(err, apperr.KindAuthorization) {
		t.Fatalf("err = %v, want authorization", err)
	}
	if store.orders[1].Paid {
		t.Fatal("order was approved by a non-admin")
	}
	if _, err := w.Broadcast(context.Background(), 7, "hi"); !apperr.Is(err, apperr.KindAuthorization) {
		t.Fatalf("broadcast err = %v", err)
	}
	if _, err := w.SetRate(context.Background(), 7, "2"); !apperr.Is(err, apperr.KindAuthorization) {
		t.Fatalf("set rate err = %v", err)
	}
}

func TestApproveNotifyFailureKeepsApproval(t *testing.T) {
	store := newFakeStore()
	store.orders[3] = ledger.Order{ID: 3, UserID: 7, Stars: 60}
	sender := &fakeSender{fail: map[int64]bool{7: true}}
	w := newWorkflow(store, sender)

	if _, err := w.ApproveOrder(context.Background(), adminID, 3); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if !store.orders[3].Paid {
		t.Fatal("order not paid after failed notification")
	}
}

func TestRejectOrder(t *testing.T) {
	store := newFakeStore()
	store.orders[2] = ledger.Order{ID: 2, UserID: 7, Stars: 60}
	sender := &fakeSender{}
	w := newWorkflow(store, sender)
	ctx := context.Background()

	if _, err := w.RejectOrder(ctx, adminID, 2); err != nil {
		t.Fatalf("reject: %v", err)
	}
	if _, ok := store.orders[2]; ok {
		t.Fatal("order still stored")
	}
	if msgs := sender.to(7); len(msgs) != 1 || !strings.Contains(msgs[0].Text, "rejected") {
		t.Fatalf("buyer messages = %+v", msgs)
	}
	if _, err := w.RejectOrder(ctx, adminID, 2); !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("second reject err = %v, want not found", err)
	}
}

func TestBroadcastCountsFailures(t *testing.T) {
	store := newFakeStore()
	store.users = []int64{1, 2, 3, 4, 5}
	sender := &fakeSender{fail: map[int64]bool{3: true}, blocked: map[int64]bool{5: true}}
	w := newWorkflow(store, sender)

	res, err := w.Broadcast(context.Background(), adminID, "  sale today  ")
	if err != nil {
		t.Fatalf("broadcast: %v", err)
	}
	if diff := cmp.Diff(BroadcastResult{Recipients: 5, Sent: 3, Blocked: 1, Failed: 1}, res); diff != "" {
		t.Fatalf("result mismatch (-want +got):\n%s", diff)
	}
	if msgs := sender.to(4); len(msgs) != 1 || msgs[0].Text != "sale today" {
		t.Fatalf("user 4 got %+v", msgs)
	}

	if _, err := w.Broadcast(context.Background(), adminID, "   "); !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("empty broadcast err = %v", err)
	}
}

func TestBroadcastCancelled(t *testing.T) {
	store := newFakeStore()
	store.users = []int64{1, 2}
	w := newWorkflow(store, &fakeSender{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := w.Broadcast(ctx, adminID, "hello")
	if err == nil {
		t.Fatal("expected context error")
	}
	if res.Sent != 0 {
		t.Fatalf("sent = %d after cancel", res.Sent)
	}
}

func TestSetRate(t *testing.T) {
	store := newFakeStore()
	w := newWorkflow(store, &fakeSender{})
	ctx := context.Background()

	r, err := w.SetRate(ctx, adminID, " 1,70 ")
	if err != nil {
		t.Fatalf("set rate: %v", err)
	}
	if !r.Equal(decimal.RequireFromString("1.7")) {
		t.Fatalf("rate = %s", r)
	}
	if got := store.settings[ledger.SettingRate]; got != "1.7" {
		t.Fatalf("stored = %q", got)
	}

	for _, raw := range []string{"abc", "0", "-1", ""} {
		if _, err := w.SetRate(ctx, adminID, raw); !apperr.Is(err, apperr.KindValidation) {
			t.Errorf("SetRate(%q) err = %v, want validation", raw, err)
		}
	}
	if got := store.settings[ledger.SettingRate]; got != "1.7" {
		t.Fatalf("rate changed by invalid input: %q", got)
	}
}

func TestNotifyNewOrderButtons(t *testing.T) {
	sender := &fakeSender{}
	w := NewWorkflow(Config{AdminIDs: []int64{900, 901}}, newFakeStore(), nil, sender, nil)

	n := w.NotifyNewOrder(context.Background(), OrderNotice{
		Order:    ledger.Order{ID: 12, UserID: 7, Recipient: "@friend", Stars: 100, Price: decimal.RequireFromString("165")},
		Username: "buyer",
		Rate:     decimal.RequireFromString("1.65"),
		Proof:    "payments/abc.jpg",
	})
	if n != 2 {
		t.Fatalf("delivered = %d, want 2", n)
	}
	msgs := sender.to(901)
	if len(msgs) != 1 {
		t.Fatalf("admin 901 got %d messages", len(msgs))
	}
	want := chat.Keyboard{chat.Row(
		chat.Button{Text: "✅ Approve", Unique: ButtonApproveOrder, Data: "12"},
		chat.Button{Text: "❌ Reject", Unique: ButtonRejectOrder, Data: "12"},
	)}
	if diff := cmp.Diff(want, msgs[0].Keyboard); diff != "" {
		t.Fatalf("keyboard mismatch (-want +got):\n%s", diff)
	}
	for _, part := range []string{"Order #12", "@buyer", "Price: 165.00₽", "Rate: 1.65₽", "payments/abc.jpg"} {
		if !strings.Contains(msgs[0].Text, part) {
			t.Errorf("notice missing %q:\n%s", part, msgs[0].Text)
		}
	}
}
