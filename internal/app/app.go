package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/starstore/core/bootstrap"
	corecmd "github.com/m3rciful/starstore/core/cmd"
	coretelegram "github.com/m3rciful/starstore/core/telegram"
	"github.com/m3rciful/starstore/core/telegram/commands"
	tghelpers "github.com/m3rciful/starstore/core/telegram/helpers"
	"github.com/m3rciful/starstore/core/telegram/router"
	"github.com/m3rciful/starstore/core/telegram/state"
	"github.com/m3rciful/starstore/internal/admin"
	"github.com/m3rciful/starstore/internal/chat"
	"github.com/m3rciful/starstore/internal/conversation"
	"github.com/m3rciful/starstore/internal/ledger"
	"github.com/m3rciful/starstore/internal/metrics"
	"github.com/m3rciful/starstore/internal/pricing"
	"github.com/m3rciful/starstore/internal/referral"
	"github.com/m3rciful/starstore/internal/sweeper"
	"github.com/m3rciful/starstore/migrations"
)

const (
	textAdminOnly   = "⛔ This command is for administrators."
	textSlowDown    = "⏳ Too many requests, please slow down."
	textUnsupported = "Please send the payment screenshot as a photo."
	textRetryLater  = "The shop is restarting, please try again in a minute."
)

var commandDescriptions = map[string]string{
	"start":  "Open the shop",
	"help":   "How buying stars works",
	"admin":  "Admin panel",
	"cancel": "Back to the main menu",
}

// App holds the wired services.
type App struct {
	cfg *Config
	db  *sqlx.DB

	store     *ledger.Store
	transport *chat.Telegram
	metrics   *metrics.Recorder
	machine   *conversation.Machine
	sweeper   *sweeper.Sweeper
	serial    *state.Serializer
	bridge    *Bridge
}

// Bootstrap initialises logging and storage and builds every service.
func Bootstrap(ctx context.Context, cfg *Config) (*App, error) {
	res, err := bootstrap.Run(ctx, bootstrap.Options{
		Config:     cfg.CoreConfig(),
		Database:   cfg.Database,
		Migrations: migrations.FS,
		Seeders:    []bootstrap.NamedSeeder{RateSeeder(cfg.Shop.Pricing().DefaultRate)},
	})
	if err != nil {
		return nil, err
	}
	return New(cfg, res.DB, chat.NewTelegram(cfg.Shop.PaymentsDir)), nil
}

// New builds the services on an open database. transport is attached to the
// bot when the runtime starts.
func New(cfg *Config, db *sqlx.DB, transport *chat.Telegram) *App {
	rec := metrics.New()
	store := ledger.NewStore(db)
	prices := pricing.NewEngine(cfg.Shop.Pricing(), store, transport, store)
	refs := referral.NewEngine(cfg.Shop.Referral(), store, prices)
	adm := admin.NewWorkflow(cfg.Admin(), store, refs.ReferrerReward, transport, rec)
	machine := conversation.New(cfg.Shop.Conversation(), conversation.Deps{
		Ledger:    store,
		Pricing:   prices,
		Referrals: refs,
		Admin:     adm,
		Transport: transport,
		Metrics:   rec,
	})
	serial := state.NewSerializer()
	return &App{
		cfg:       cfg,
		db:        db,
		store:     store,
		transport: transport,
		metrics:   rec,
		machine:   machine,
		sweeper:   sweeper.New(cfg.Shop.Sweeper(), store, rec),
		serial:    serial,
		bridge:    NewBridge(machine, serial),
	}
}

// Registry registers the commands and buttons of the shop.
func (a *App) Registry() (*coretelegram.Registry, error) {
	reg := coretelegram.NewRegistry()
	for _, name := range conversation.Commands {
		err := reg.RegisterCommand(name, commands.Command{
			Handler:     a.bridge.Command(name),
			Description: commandDescriptions[name],
			AdminOnly:   name == "admin",
		})
		if err != nil {
			return nil, fmt.Errorf("app: %w", err)
		}
	}
	for _, unique := range conversation.Buttons {
		if err := reg.RegisterCallback(unique, a.bridge.Button(unique)); err != nil {
			return nil, fmt.Errorf("app: %w", err)
		}
	}
	reg.SetCallbackNotFound(a.bridge.UnknownButton)
	return reg, nil
}

// TelegramRunOptions builds the runtime options for the bot.
func (a *App) TelegramRunOptions() (coretelegram.RunOptions, error) {
	reg, err := a.Registry()
	if err != nil {
		return coretelegram.RunOptions{}, err
	}

	routes := router.CommandRoutes(reg, router.CommandRouteOptions{
		IsAdmin: a.cfg.IsAdmin,
		OnAdminReject: func(c tele.Context) error {
			return tghelpers.SendText(c, textAdminOnly)
		},
	})
	routes = append(routes, router.CallbackRoute(reg, router.CallbackOptions{FailureText: textRetryLater}))
	routes = append(routes, router.TextRoutes(reg, router.TextOptions{
		OnText:  a.bridge.Text,
		OnMedia: a.bridge.Media,
		UnknownDocument: func(c tele.Context) error {
			return tghelpers.SendText(c, textUnsupported)
		},
	})...)

	return coretelegram.RunOptions{
		Config:      a.cfg.CoreConfig(),
		Registry:    reg,
		Synchronous: true,
		Middlewares: coretelegram.DefaultMiddlewares(a.cfg.CoreConfig(), onLimited),
		Routes:      routes,
		OnStart: func(_ context.Context, rt coretelegram.Runtime) error {
			a.transport.Attach(rt.Bot, rt.Dispatcher)
			return nil
		},
		OnStop: func(_ context.Context, _ coretelegram.Runtime) error {
			a.serial.Close()
			return nil
		},
	}, nil
}

// Background returns the jobs that run next to the bot.
func (a *App) Background() []corecmd.Job {
	jobs := []corecmd.Job{{Name: "sweeper", Run: a.sweeper.Run}}
	if addr := strings.TrimSpace(a.cfg.Metrics.Listen); addr != "" {
		jobs = append(jobs, corecmd.Job{Name: "metrics", Run: func(ctx context.Context) error {
			return metrics.Serve(ctx, addr, a.metrics)
		}})
	}
	return jobs
}

// Close releases the database.
func (a *App) Close() error {
	return a.db.Close()
}

func onLimited(c tele.Context) error {
	if c.Callback() != nil {
		return c.Respond(&tele.CallbackResponse{Text: textSlowDown})
	}
	return tghelpers.SendText(c, textSlowDown)
}
