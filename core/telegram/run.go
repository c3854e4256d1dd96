package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	coreconfig "github.com/m3rciful/starstore/core/config"
	"github.com/m3rciful/starstore/core/logger"
	tghelpers "github.com/m3rciful/starstore/core/telegram/helpers"
	tgsender "github.com/m3rciful/starstore/core/telegram/sender"

	tele "gopkg.in/telebot.v4"
)

// Middleware is a named global middleware installed with bot.Use.
type Middleware struct {
	Name string
	Use  func(next tele.HandlerFunc) tele.HandlerFunc
}

// Route binds a handler to a telebot endpoint (command string, tele.OnText, ...).
type Route struct {
	Endpoint any
	Handler  tele.HandlerFunc
}

// RunOptions controls RunTelegram.
type RunOptions struct {
	Config   *coreconfig.Config
	Registry *Registry

	DispatcherOptions tgsender.Options
	Dispatcher        *tgsender.Dispatcher

	Middlewares []Middleware
	Routes      []Route

	// Synchronous makes telebot run handlers on the poller goroutine.
	Synchronous bool

	OnStart func(ctx context.Context, rt Runtime) error
	OnStop  func(ctx context.Context, rt Runtime) error
}

// Runtime exposes the live bot to lifecycle hooks.
type Runtime struct {
	Bot        *tele.Bot
	Dispatcher *tgsender.Dispatcher
	Registry   *Registry
}

// RunTelegram builds the bot, installs middlewares, routes and command menus,
// and serves updates until ctx is cancelled. Cancellation is a clean stop.
func RunTelegram(ctx context.Context, opts RunOptions) error {
	if opts.Config == nil {
		return errors.New("telegram: nil config provided")
	}
	if opts.Registry == nil {
		opts.Registry = NewRegistry()
	}
	rt, err := newRuntime(ctx, opts)
	if err != nil {
		return err
	}
	tghelpers.SetDispatcher(rt.Dispatcher)
	defer func() {
		rt.Dispatcher.Close()
		tghelpers.SetDispatcher(nil)
	}()

	if opts.OnStart != nil {
		if err := opts.OnStart(ctx, rt); err != nil {
			return err
		}
	}
	runErr := serve(ctx, rt.Bot)
	if opts.OnStop != nil {
		if err := opts.OnStop(context.WithoutCancel(ctx), rt); err != nil {
			return err
		}
	}
	return runErr
}

func newRuntime(ctx context.Context, opts RunOptions) (Runtime, error) {
	cfg := opts.Config
	poller := BuildPoller(cfg)
	start := time.Now()
	bot, err := tele.NewBot(tele.Settings{
		Token:       cfg.Telegram.Token,
		Poller:      poller,
		Client:      BuildHTTPClient(PollTimeout(cfg)),
		Synchronous: opts.Synchronous,
		OnError:     onBotError(ctx),
	})
	if err != nil {
		return Runtime{}, fmt.Errorf("telegram: bot initialization failed: %w", err)
	}
	logMode(ctx, bot, cfg, poller, time.Since(start))

	for _, mw := range opts.Middlewares {
		if mw.Use != nil {
			bot.Use(mw.Use)
		}
	}
	for _, r := range opts.Routes {
		if r.Endpoint != nil && r.Handler != nil {
			bot.Handle(r.Endpoint, r.Handler)
		}
	}
	InitBotCommands(bot, opts.Registry, cfg.Telegram.AdminIDs)

	disp := opts.Dispatcher
	if disp == nil {
		disp = tgsender.NewDispatcher(opts.DispatcherOptions)
	}
	return Runtime{Bot: bot, Dispatcher: disp, Registry: opts.Registry}, nil
}

// serve runs the bot until ctx is done or the poller exits on its own.
func serve(ctx context.Context, bot *tele.Bot) error {
	done := make(chan struct{})
	go func() {
		defer close(done)
		bot.Start()
	}()
	select {
	case <-ctx.Done():
		bot.Stop()
		<-done
		if err := ctx.Err(); !errors.Is(err, context.Canceled) {
			return err
		}
	case <-done:
	}
	return nil
}

func onBotError(ctx context.Context) func(error, tele.Context) {
	return func(err error, c tele.Context) {
		attrs := []slog.Attr{
			slog.String("status", logger.Status(err)),
			slog.String("err", logger.SanitizeLimit(err.Error(), 256)),
		}
		if c != nil {
			attrs = append(attrs, slog.Int("update_id", c.Update().ID))
		}
		logger.LogEvent(ctx, logger.TG, slog.LevelError, "bot.error", attrs...)
	}
}

// logMode reports the update source. In long-poll mode a leftover webhook is
// removed first, since Telegram refuses getUpdates while one is set.
func logMode(ctx context.Context, bot *tele.Bot, cfg *coreconfig.Config, poller tele.Poller, took time.Duration) {
	attrs := []slog.Attr{slog.Duration("duration", took)}
	if wh, ok := poller.(*tele.Webhook); ok {
		attrs = append(attrs, slog.String("mode", coreconfig.RunModeWebhook), slog.String("listen", wh.Listen))
		if wh.Endpoint != nil {
			attrs = append(attrs, slog.String("public_url", wh.Endpoint.PublicURL))
		}
		logger.LogEvent(ctx, logger.TG, slog.LevelInfo, "mode", attrs...)
		return
	}

	attrs = append(attrs, slog.String("mode", coreconfig.RunModeLongpoll), slog.Duration("poll_timeout", PollTimeout(cfg)))
	logger.LogEvent(ctx, logger.TG, slog.LevelInfo, "mode", attrs...)
	if err := bot.RemoveWebhook(false); err != nil {
		logger.LogEvent(ctx, logger.TG, slog.LevelWarn, "webhook.delete",
			slog.String("status", "fail"),
			slog.String("err", logger.SanitizeLimit(err.Error(), 256)),
		)
	}
}
