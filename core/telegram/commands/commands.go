// Package commands describes slash commands for the registry and the
// Telegram command menu.
package commands

import (
	"strings"

	tele "gopkg.in/telebot.v4"
)

// Command is a registered slash command.
type Command struct {
	Handler     tele.HandlerFunc
	Description string
	// AdminOnly commands are shown in the menu of admin chats only.
	AdminOnly bool
	// Hidden commands work but never appear in any menu.
	Hidden bool
}

// Normalize turns "/Start@shop_bot" or "start" into "/start".
func Normalize(name string) string {
	name = strings.TrimSpace(name)
	if at := strings.IndexByte(name, '@'); at >= 0 {
		name = name[:at]
	}
	name = strings.ToLower(strings.TrimPrefix(name, "/"))
	if name == "" {
		return ""
	}
	return "/" + name
}
