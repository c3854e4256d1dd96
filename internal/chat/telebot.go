package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/starstore/core/logger"
	"github.com/m3rciful/starstore/core/telegram/keyboard"
	"github.com/m3rciful/starstore/core/telegram/sender"
)

// ErrNotAttached is returned when the adapter is used before the bot exists.
var ErrNotAttached = errors.New("chat: telegram bot not attached")

// Telegram implements Transport with a telebot bot. The bot is attached after
// the runtime builds it; outbound calls go through the sender dispatcher when
// one is attached.
type Telegram struct {
	paymentsDir string

	mu   sync.RWMutex
	bot  *tele.Bot
	disp *sender.Dispatcher
}

// NewTelegram builds an adapter that stores downloaded payment proofs under paymentsDir.
func NewTelegram(paymentsDir string) *Telegram {
	if strings.TrimSpace(paymentsDir) == "" {
		paymentsDir = "payments"
	}
	return &Telegram{paymentsDir: paymentsDir}
}

// Attach binds the live bot and its dispatcher. disp may be nil.
func (t *Telegram) Attach(bot *tele.Bot, disp *sender.Dispatcher) {
	t.mu.Lock()
	t.bot, t.disp = bot, disp
	t.mu.Unlock()
}

func (t *Telegram) api() (*tele.Bot, *sender.Dispatcher, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.bot == nil {
		return nil, nil, ErrNotAttached
	}
	return t.bot, t.disp, nil
}

func (t *Telegram) do(ctx context.Context, disp *sender.Dispatcher, action, endpoint string, run func() error) error {
	if disp == nil {
		return run()
	}
	return disp.Do(ctx, action, endpoint, run)
}

// SendMessage sends plain text with an optional inline keyboard and returns the message id.
func (t *Telegram) SendMessage(ctx context.Context, chatID int64, msg Message) (int, error) {
	bot, disp, err := t.api()
	if err != nil {
		return 0, err
	}
	opts := &tele.SendOptions{ReplyMarkup: Markup(msg.Keyboard)}
	var sent *tele.Message
	err = t.do(ctx, disp, "send.message", "sendMessage", func() error {
		m, err := bot.Send(tele.ChatID(chatID), msg.Text, opts)
		if err != nil {
			return err
		}
		sent = m
		return nil
	})
	if sender.IsForbidden(err) {
		return 0, fmt.Errorf("send to %d: %w: %w", chatID, ErrBlocked, err)
	}
	if err != nil {
		return 0, fmt.Errorf("send to %d: %w", chatID, err)
	}
	if sent == nil {
		return 0, nil
	}
	return sent.ID, nil
}

// DeleteMessage removes a message. A message that is already gone maps to ErrMessageNotFound.
func (t *Telegram) DeleteMessage(ctx context.Context, chatID int64, messageID int) error {
	bot, disp, err := t.api()
	if err != nil {
		return err
	}
	msg := tele.StoredMessage{MessageID: strconv.Itoa(messageID), ChatID: chatID}
	err = t.do(ctx, disp, "delete.message", "deleteMessage", func() error {
		err := bot.Delete(msg)
		if isMessageGone(err) {
			return ErrMessageNotFound
		}
		return err
	})
	if errors.Is(err, ErrMessageNotFound) {
		return ErrMessageNotFound
	}
	if err != nil {
		return fmt.Errorf("delete %d in %d: %w", messageID, chatID, err)
	}
	return nil
}

// MembershipStatus looks the user up in channel.
func (t *Telegram) MembershipStatus(ctx context.Context, channel string, userID int64) (Membership, error) {
	bot, disp, err := t.api()
	if err != nil {
		return MembershipUnknown, err
	}
	var member *tele.ChatMember
	err = t.do(ctx, disp, "membership", "getChatMember", func() error {
		m, err := bot.ChatMemberOf(channelRecipient(channel), &tele.User{ID: userID})
		if err != nil {
			return err
		}
		member = m
		return nil
	})
	if err != nil {
		return MembershipUnknown, fmt.Errorf("membership of %d in %s: %w", userID, channel, err)
	}
	if member == nil {
		return MembershipUnknown, nil
	}
	return membershipOf(member.Role), nil
}

// DownloadAttachment saves the file behind fileRef into the payments directory
// under a random name and returns the local path.
func (t *Telegram) DownloadAttachment(ctx context.Context, fileRef string) (string, error) {
	bot, disp, err := t.api()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(t.paymentsDir, 0o750); err != nil {
		return "", fmt.Errorf("payments dir: %w", err)
	}
	var dst string
	err = t.do(ctx, disp, "download", "getFile", func() error {
		file, err := bot.FileByID(fileRef)
		if err != nil {
			return err
		}
		dst = filepath.Join(t.paymentsDir, ProofFileName(file.FilePath))
		return bot.Download(&file, dst)
	})
	if err != nil {
		return "", fmt.Errorf("download %s: %w", logger.SanitizeLimit(fileRef, 64), err)
	}
	logger.LogEvent(ctx, logger.TG, slog.LevelDebug, "attachment.saved",
		slog.String("status", "ok"),
		slog.String("path", dst),
	)
	return dst, nil
}

// Markup converts a Keyboard into a telebot inline markup; an empty keyboard yields nil.
func Markup(kb Keyboard) *tele.ReplyMarkup {
	rows := make([][]keyboard.InlineBtn, 0, len(kb))
	for _, row := range kb {
		r := make([]keyboard.InlineBtn, 0, len(row))
		for _, b := range row {
			r = append(r, keyboard.InlineBtn{Text: b.Text, Unique: b.Unique, Data: b.Data, URL: b.URL})
		}
		rows = append(rows, r)
	}
	return keyboard.InlineButtonsRows(rows...)
}

// ProofFileName returns a random file name keeping the extension of remotePath.
func ProofFileName(remotePath string) string {
	ext := strings.ToLower(path.Ext(remotePath))
	if ext == "" {
		ext = ".jpg"
	}
	return uuid.NewString() + ext
}

type chatRef string

func (c chatRef) Recipient() string { return string(c) }

// channelRecipient accepts "@name", "name", a t.me link or a numeric id.
func channelRecipient(channel string) tele.Recipient {
	ch := strings.TrimSpace(channel)
	ch = strings.TrimPrefix(ch, "https://t.me/")
	ch = strings.TrimPrefix(ch, "t.me/")
	if ch == "" || strings.HasPrefix(ch, "@") {
		return chatRef(ch)
	}
	if _, err := strconv.ParseInt(ch, 10, 64); err == nil {
		return chatRef(ch)
	}
	return chatRef("@" + ch)
}

func membershipOf(role tele.MemberStatus) Membership {
	switch role {
	case tele.Creator:
		return MembershipOwner
	case tele.Administrator:
		return MembershipAdmin
	case tele.Member:
		return MembershipMember
	case tele.Left, tele.Kicked, tele.Restricted:
		return MembershipNone
	}
	return MembershipUnknown
}

func isMessageGone(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, tele.ErrNotFoundToDelete) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "message to delete not found") ||
		strings.Contains(msg, "message can't be deleted")
}
