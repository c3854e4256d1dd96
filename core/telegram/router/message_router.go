package router

import (
	"strings"
	"time"

	tg "github.com/m3rciful/starstore/core/telegram"
	"github.com/m3rciful/starstore/core/telegram/middleware"

	tele "gopkg.in/telebot.v4"
)

// TextOptions controls routing of plain messages.
type TextOptions struct {
	// OnText receives text that is not a registered command.
	OnText tele.HandlerFunc
	// OnMedia receives photos and documents carrying an image.
	OnMedia tele.HandlerFunc
	// UnknownDocument receives any other document.
	UnknownDocument tele.HandlerFunc
}

// TextRoutes builds handlers for text, photo and document updates.
func TextRoutes(reg *tg.Registry, opts TextOptions) []tg.Route {
	handler := func(c tele.Context) error {
		start := time.Now()
		text := strings.TrimSpace(c.Text())

		if reg != nil && strings.HasPrefix(text, "/") {
			name := strings.Fields(text)[0]
			if key, cmd, ok := reg.LookupCommand(name); ok && cmd.Handler != nil {
				return handleWithSummary(c, normalizeHandlerName(key), start, "", "", func() error {
					return cmd.Handler(c)
				})
			}
		}

		if opts.OnText != nil {
			return handleWithSummary(c, "text", start, "", "", func() error {
				return opts.OnText(c)
			})
		}

		if reg != nil {
			if fb := reg.TextFallback(); fb != nil {
				return handleWithSummary(c, "fallback", start, "", "", func() error {
					return fb(c)
				})
			}
		}

		logHandlerSummary(c, "unknown_text", start, "skip", "ok", nil)
		return nil
	}

	photoHandler := func(c tele.Context) error {
		start := time.Now()
		if opts.OnMedia == nil {
			logHandlerSummary(c, "photo", start, "skip", "ok", nil)
			return nil
		}
		return handleWithSummary(c, "photo", start, "", "", func() error {
			return opts.OnMedia(c)
		})
	}

	docHandler := func(c tele.Context) error {
		start := time.Now()
		if IsImageDocument(c.Message()) && opts.OnMedia != nil {
			return handleWithSummary(c, "photo_document", start, "", "", func() error {
				return opts.OnMedia(c)
			})
		}
		if opts.UnknownDocument != nil {
			return handleWithSummary(c, "unexpected_document", start, "", "", func() error {
				return opts.UnknownDocument(c)
			})
		}
		logHandlerSummary(c, "unexpected_document", start, "skip", "ok", nil)
		return nil
	}

	wrap := func(h tele.HandlerFunc) tele.HandlerFunc {
		return middleware.RecoverMiddleware(middleware.LoggerMiddleware(h))
	}
	return []tg.Route{
		{Endpoint: tele.OnText, Handler: wrap(handler)},
		{Endpoint: tele.OnPhoto, Handler: wrap(photoHandler)},
		{Endpoint: tele.OnDocument, Handler: wrap(docHandler)},
	}
}

// IsImageDocument reports whether msg carries an image sent as a file.
func IsImageDocument(msg *tele.Message) bool {
	if msg == nil || msg.Document == nil {
		return false
	}
	return strings.HasPrefix(strings.ToLower(msg.Document.MIME), "image/")
}
