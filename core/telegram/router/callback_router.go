package router

import (
	"log/slog"
	"time"

	tg "github.com/m3rciful/starstore/core/telegram"
	"github.com/m3rciful/starstore/core/telegram/callbacks"
	"github.com/m3rciful/starstore/core/telegram/middleware"

	tele "gopkg.in/telebot.v4"
)

const defaultStaleText = "This button is no longer active"

// CallbackOptions controls how button presses are answered.
type CallbackOptions struct {
	// NotFound handles keys without a registered handler when the registry
	// has no fallback of its own.
	NotFound tele.HandlerFunc
	// FailureText is shown as an alert when the handler returns an error.
	// Empty answers silently.
	FailureText string
}

// CallbackRoute dispatches button presses through the registry. Every query
// is answered exactly once, after the handler returns, so the client spinner
// stops and a failed press can be reported.
func CallbackRoute(reg *tg.Registry, opts CallbackOptions) tg.Route {
	handler := func(c tele.Context) error {
		start := time.Now()
		if c.Callback() == nil {
			return nil
		}

		key, _ := callbacks.ParseCallbackData(c.Callback())
		name := "callback." + normalizeHandlerName(key)
		extras := []slog.Attr{slog.String("cb_key", key)}
		answer := &tele.CallbackResponse{}

		run, ok := reg.GetCallback(key)
		if !ok || run == nil {
			extras = append(extras, slog.String("reason", "not_found"))
			run = reg.CallbackNotFound()
			if run == nil {
				run = opts.NotFound
			}
			if run == nil {
				answer.Text = defaultStaleText
				run = func(tele.Context) error { return nil }
			}
		}

		err := handleWithSummary(c, name, start, "", "", func() error {
			return run(c)
		}, extras...)
		if err != nil && opts.FailureText != "" {
			answer = &tele.CallbackResponse{Text: opts.FailureText, ShowAlert: true}
		}
		_ = c.Respond(answer)
		return err
	}
	return tg.Route{
		Endpoint: tele.OnCallback,
		Handler:  middleware.RecoverMiddleware(middleware.LoggerMiddleware(handler)),
	}
}
