package chat

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	tele "gopkg.in/telebot.v4"
)

func TestMarkup(t *testing.T) {
	kb := Keyboard{
		Row(Button{Text: "⭐ Buy stars", Unique: "buy_stars"}),
		Row(
			Button{Text: "✅ Approve", Unique: "approve_order", Data: "5"},
			Button{Text: "📢 Channel", URL: "https://t.me/starsnews"},
		),
	}
	m := Markup(kb)
	if m == nil {
		t.Fatal("nil markup")
	}
	type flat struct{ Text, Unique, Data, URL string }
	var got [][]flat
	for _, row := range m.InlineKeyboard {
		var r []flat
		for _, b := range row {
			r = append(r, flat{b.Text, b.Unique, b.Data, b.URL})
		}
		got = append(got, r)
	}
	want := [][]flat{
		{{"⭐ Buy stars", "buy_stars", "", ""}},
		{{"✅ Approve", "approve_order", "5", ""}, {"📢 Channel", "", "", "https://t.me/starsnews"}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("markup mismatch (-want +got):\n%s", diff)
	}
	if Markup(nil) != nil {
		t.Fatal("empty keyboard should produce nil markup")
	}
}

func TestChannelRecipient(t *testing.T) {
	cases := map[string]string{
		"@starsnews":             "@starsnews",
		"starsnews":              "@starsnews",
		"https://t.me/starsnews": "@starsnews",
		"-1001234567890":         "-1001234567890",
	}
	for in, want := range cases {
		if got := channelRecipient(in).Recipient(); got != want {
			t.Errorf("channelRecipient(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestMembershipOf(t *testing.T) {
	cases := map[tele.MemberStatus]Membership{
		tele.Creator:       MembershipOwner,
		tele.Administrator: MembershipAdmin,
		tele.Member:        MembershipMember,
		tele.Left:          MembershipNone,
		tele.Kicked:        MembershipNone,
		"mystery":          MembershipUnknown,
	}
	for role, want := range cases {
		got := membershipOf(role)
		if got != want {
			t.Errorf("membershipOf(%q) = %q, want %q", role, got, want)
		}
	}
	if !membershipOf(tele.Administrator).Subscribed() || membershipOf(tele.Left).Subscribed() {
		t.Fatal("subscription mapping is wrong")
	}
}

func TestIsMessageGone(t *testing.T) {
	if isMessageGone(nil) {
		t.Fatal("nil error reported as gone")
	}
	if !isMessageGone(errors.New("telegram: Bad Request: message to delete not found (400)")) {
		t.Fatal("not-found text not recognised")
	}
	if isMessageGone(errors.New("telegram: Forbidden: bot was blocked by the user (403)")) {
		t.Fatal("blocked reported as gone")
	}
}

func TestProofFileName(t *testing.T) {
	name := ProofFileName("photos/file_12.PNG")
	if filepath.Ext(name) != ".png" {
		t.Fatalf("ext of %q", name)
	}
	if got := ProofFileName(""); !strings.HasSuffix(got, ".jpg") {
		t.Fatalf("default ext: %q", got)
	}
	if ProofFileName("a.jpg") == ProofFileName("a.jpg") {
		t.Fatal("names must be unique")
	}
}

func TestTelegramNotAttached(t *testing.T) {
	tg := NewTelegram(t.TempDir())
	ctx := context.Background()
	if _, err := tg.SendMessage(ctx, 1, Message{Text: "hi"}); !errors.Is(err, ErrNotAttached) {
		t.Fatalf("SendMessage = %v", err)
	}
	if err := tg.DeleteMessage(ctx, 1, 2); !errors.Is(err, ErrNotAttached) {
		t.Fatalf("DeleteMessage = %v", err)
	}
	if m, err := tg.MembershipStatus(ctx, "@c", 1); !errors.Is(err, ErrNotAttached) || m != MembershipUnknown {
		t.Fatalf("MembershipStatus = %v, %v", m, err)
	}
	if _, err := tg.DownloadAttachment(ctx, "file"); !errors.Is(err, ErrNotAttached) {
		t.Fatalf("DownloadAttachment = %v", err)
	}
}
