package app

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/starstore/core/logger"
	"github.com/m3rciful/starstore/core/telegram/callbacks"
	tghelpers "github.com/m3rciful/starstore/core/telegram/helpers"
	"github.com/m3rciful/starstore/core/telegram/state"
	"github.com/m3rciful/starstore/internal/conversation"
)

// errShuttingDown is returned for updates that arrive after the serializer closed.
var errShuttingDown = errors.New("app: shutting down")

// Handler consumes conversation events.
type Handler interface {
	Handle(ctx context.Context, ev conversation.Event) error
}

// Bridge turns telebot updates into conversation events and queues them on
// the sender's serializer, so one user's updates never overlap.
type Bridge struct {
	handler Handler
	serial  *state.Serializer
}

// NewBridge builds a Bridge.
func NewBridge(h Handler, serial *state.Serializer) *Bridge {
	return &Bridge{handler: h, serial: serial}
}

// Command handles /name.
func (b *Bridge) Command(name string) tele.HandlerFunc {
	return func(c tele.Context) error {
		ev, ok := commandEvent(c, name)
		if !ok {
			return nil
		}
		return b.submit(c, ev)
	}
}

// Button handles presses of the button with the given unique.
func (b *Bridge) Button(unique string) tele.HandlerFunc {
	return func(c tele.Context) error {
		ev, ok := buttonEvent(c, unique)
		if !ok {
			return nil
		}
		return b.submit(c, ev)
	}
}

// UnknownButton forwards buttons no longer registered so the user gets a
// stale button reply instead of silence.
func (b *Bridge) UnknownButton(c tele.Context) error {
	return b.Button(callbacks.CallbackKey(c))(c)
}

// Text handles plain text messages.
func (b *Bridge) Text(c tele.Context) error {
	ev, ok := textEvent(c)
	if !ok {
		return nil
	}
	return b.submit(c, ev)
}

// Media handles photos and image documents.
func (b *Bridge) Media(c tele.Context) error {
	ev, ok := mediaEvent(c)
	if !ok {
		return nil
	}
	return b.submit(c, ev)
}

func (b *Bridge) submit(c tele.Context, ev conversation.Event) error {
	ctx := tghelpers.BuildContext(c)
	accepted := b.serial.Submit(ev.UserID, func() {
		if err := b.handler.Handle(ctx, ev); err != nil {
			logger.Debug(ctx, "tg", "conversation.error",
				slog.String("status", logger.Status(err)),
				slog.String("kind", string(ev.Kind)),
				slog.String("err", logger.SanitizeLimit(err.Error(), 256)),
			)
		}
	})
	if !accepted {
		return errShuttingDown
	}
	return nil
}

func baseEvent(c tele.Context, kind conversation.Kind) (conversation.Event, bool) {
	user := c.Sender()
	if user == nil || user.IsBot {
		return conversation.Event{}, false
	}
	ev := conversation.Event{Kind: kind, UserID: user.ID, ChatID: user.ID, Username: user.Username}
	if chat := c.Chat(); chat != nil {
		ev.ChatID = chat.ID
	}
	return ev, true
}

func commandEvent(c tele.Context, name string) (conversation.Event, bool) {
	ev, ok := baseEvent(c, conversation.KindCommand)
	if !ok {
		return ev, false
	}
	ev.Command = strings.TrimPrefix(name, "/")
	if msg := c.Message(); msg != nil {
		ev.Args = strings.TrimSpace(msg.Payload)
	}
	return ev, true
}

func buttonEvent(c tele.Context, unique string) (conversation.Event, bool) {
	ev, ok := baseEvent(c, conversation.KindButton)
	if !ok {
		return ev, false
	}
	ev.Button = unique
	ev.Payload = callbacks.CallbackPayload(c)
	return ev, true
}

func textEvent(c tele.Context) (conversation.Event, bool) {
	ev, ok := baseEvent(c, conversation.KindText)
	if !ok {
		return ev, false
	}
	ev.Text = c.Text()
	return ev, true
}

func mediaEvent(c tele.Context) (conversation.Event, bool) {
	msg := c.Message()
	if msg == nil {
		return conversation.Event{}, false
	}
	ev, ok := baseEvent(c, conversation.KindPhoto)
	if !ok {
		return ev, false
	}
	switch {
	case msg.Photo != nil:
		ev.Photo = msg.Photo.FileID
	case msg.Document != nil:
		ev.Photo = msg.Document.FileID
	default:
		return conversation.Event{}, false
	}
	ev.Text = msg.Caption
	return ev, true
}
