package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/m3rciful/starstore/core/logger"
	"github.com/m3rciful/starstore/core/telegram/commands"

	tele "gopkg.in/telebot.v4"
)

// Registry holds the slash commands and callback handlers of a bot.
type Registry struct {
	mu               sync.RWMutex
	commands         map[string]commands.Command
	callbacks        map[string]tele.HandlerFunc
	callbackNotFound tele.HandlerFunc
	textFallback     tele.HandlerFunc
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		commands:  make(map[string]commands.Command),
		callbacks: make(map[string]tele.HandlerFunc),
	}
}

func wireSkip(event string, attrs ...slog.Attr) {
	logger.LogEvent(context.Background(), logger.TWire, slog.LevelWarn, event,
		append([]slog.Attr{slog.String("status", "skip")}, attrs...)...)
}

// RegisterCommand adds a command under its normalized name ("start" and
// "/start" are the same). A command needs a handler and a description.
func (r *Registry) RegisterCommand(name string, cmd commands.Command) error {
	key := commands.Normalize(name)
	if key == "" || cmd.Handler == nil || cmd.Description == "" {
		wireSkip("register.command.skip", slog.String("name", name), slog.String("reason", "invalid"))
		return fmt.Errorf("invalid command registration: %q", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.commands[key]; exists {
		wireSkip("register.command.duplicate", slog.String("name", key))
		return fmt.Errorf("command already registered: %s", key)
	}
	r.commands[key] = cmd
	return nil
}

// ListCommands returns the menu entries sorted by name. Hidden commands are
// never listed; admin-only ones only when includeAdmin is set.
func (r *Registry) ListCommands(includeAdmin bool) []tele.Command {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var list []tele.Command
	for name, cmd := range r.commands {
		if cmd.Hidden || (cmd.AdminOnly && !includeAdmin) {
			continue
		}
		list = append(list, tele.Command{Text: name, Description: cmd.Description})
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Text < list[j].Text })
	return list
}

// LookupCommand resolves a command as typed by a user, including the
// "/cmd@bot" form used in groups.
func (r *Registry) LookupCommand(name string) (string, commands.Command, bool) {
	key := commands.Normalize(name)
	r.mu.RLock()
	defer r.mu.RUnlock()
	cmd, ok := r.commands[key]
	return key, cmd, ok
}

// Commands returns a copy of the registered commands.
func (r *Registry) Commands() map[string]commands.Command {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]commands.Command, len(r.commands))
	for k, v := range r.commands {
		out[k] = v
	}
	return out
}

// RegisterCallback maps a button unique to its handler.
func (r *Registry) RegisterCallback(key string, handler tele.HandlerFunc) error {
	if key == "" || handler == nil {
		wireSkip("register.callback.skip", slog.String("key", key), slog.Bool("handler_nil", handler == nil))
		return fmt.Errorf("invalid callback registration: %q", key)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.callbacks[key]; exists {
		wireSkip("register.callback.duplicate", slog.String("key", key))
		return fmt.Errorf("callback already registered: %s", key)
	}
	r.callbacks[key] = handler
	return nil
}

// GetCallback returns the handler registered for key.
func (r *Registry) GetCallback(key string) (tele.HandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.callbacks[key]
	return h, ok
}

// ListCallbacks returns the registered keys in sorted order.
func (r *Registry) ListCallbacks() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.callbacks))
	for k := range r.callbacks {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// SetCallbackNotFound replaces the fallback for callbacks with no handler.
func (r *Registry) SetCallbackNotFound(h tele.HandlerFunc) {
	if h == nil {
		return
	}
	r.mu.Lock()
	r.callbackNotFound = h
	r.mu.Unlock()
}

// CallbackNotFound returns the fallback for unknown callbacks, or nil.
func (r *Registry) CallbackNotFound() tele.HandlerFunc {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.callbackNotFound
}

// SetTextFallback sets the handler for text no other route accepted.
func (r *Registry) SetTextFallback(h tele.HandlerFunc) {
	r.mu.Lock()
	r.textFallback = h
	r.mu.Unlock()
}

// TextFallback returns the text fallback, if any.
func (r *Registry) TextFallback() tele.HandlerFunc {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.textFallback
}

// InitBotCommands publishes the command menu: public commands for everyone
// and the full list, admin commands included, in each admin's private chat.
func InitBotCommands(bot *tele.Bot, reg *Registry, adminIDs []int64) {
	ctx := context.Background()
	fail := func(scope string, err error) {
		logger.LogEvent(ctx, logger.TWire, slog.LevelError, "register.commands.set",
			slog.String("status", "fail"),
			slog.String("scope", scope),
			slog.String("err", logger.SanitizeLimit(err.Error(), 256)),
		)
	}
	if err := bot.SetCommands(reg.ListCommands(false)); err != nil {
		fail("default", err)
	}
	adminMenu := reg.ListCommands(true)
	for _, id := range adminIDs {
		scope := tele.CommandScope{Type: tele.CommandScopeChat, ChatID: id}
		if err := bot.SetCommands(adminMenu, scope); err != nil {
			fail(fmt.Sprintf("chat:%d", id), err)
		}
	}
}
