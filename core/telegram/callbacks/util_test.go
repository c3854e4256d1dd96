package callbacks

import (
	"testing"

	tele "gopkg.in/telebot.v4"
)

func TestParseCallbackData(t *testing.T) {
	cases := []struct {
		name         string
		cb           *tele.Callback
		key, payload string
	}{
		{"nil", nil, "", ""},
		{"raw with payload", &tele.Callback{Data: "\fapprove_order|42"}, "approve_order", "42"},
		{"raw without payload", &tele.Callback{Data: "\fmain_menu"}, "main_menu", ""},
		{"escaped prefix", &tele.Callback{Data: `\fprofile|`}, "profile", ""},
		{"matched by telebot", &tele.Callback{Unique: "reject_order", Data: "7"}, "reject_order", "7"},
		{"payload keeps pipes", &tele.Callback{Data: "\fx|a|b"}, "x", "a|b"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			key, payload := ParseCallbackData(tc.cb)
			if key != tc.key || payload != tc.payload {
				t.Fatalf("got (%q, %q), want (%q, %q)", key, payload, tc.key, tc.payload)
			}
		})
	}
}
