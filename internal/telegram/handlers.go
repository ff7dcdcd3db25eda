package telegram

import (
	"context"
	"fmt"
	"html"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"booking-chatter/internal/auth"
	"booking-chatter/internal/dialogue"
)

const (
	// replyPrefix marks callback data that is fed back to the dialogue as user text.
	replyPrefix   = "say:"
	approvePrefix = "approve:"
	denyPrefix    = "deny:"
)

const helpText = "I book appointments in your calendar. Tell me when, for example \"book a 30 minute meeting tomorrow at 3pm\".\n\n" +
	"/cancel drops the current request."

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	switch msg.Command() {
	case "start", "help":
		if !b.authorize(msg) {
			return
		}
		b.sendMessage(msg.Chat.ID, helpText)
		return
	case "cancel":
		if !b.authorize(msg) {
			return
		}
		b.converse(ctx, msg.Chat.ID, "cancel")
		return
	}

	// admin-only commands
	if msg.From.ID != b.adminUserID {
		b.sendMessage(msg.Chat.ID, "This command is available to the administrator only.")
		return
	}
	switch msg.Command() {
	case "report":
		b.handleReportCommand(ctx, msg)
	case "allowlist":
		b.sendMessage(msg.Chat.ID, userList("Allowed users:", b.authSvc.List()))
	case "pending":
		b.sendMessage(msg.Chat.ID, userList("Pending requests:", b.authSvc.Pending()))
	case "approve", "deny", "remove":
		args := strings.Fields(msg.CommandArguments())
		if len(args) != 1 {
			b.sendMessage(msg.Chat.ID, fmt.Sprintf("Usage: /%s <user_id>", msg.Command()))
			return
		}
		uid, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			b.sendMessage(msg.Chat.ID, "Invalid user_id")
			return
		}
		switch msg.Command() {
		case "approve":
			b.approveUser(uid)
		case "deny":
			b.denyUser(uid)
		default:
			if err := b.authSvc.Remove(uid); err != nil {
				b.sendMessage(msg.Chat.ID, fmt.Sprintf("Failed to remove %d: %v", uid, err))
				return
			}
			b.sendMessage(msg.Chat.ID, fmt.Sprintf("User %d removed from the allow-list", uid))
		}
	default:
		b.sendMessage(msg.Chat.ID, "Unknown command.")
	}
}

func userList(title string, users []auth.User) string {
	var bld strings.Builder
	bld.WriteString(title)
	if len(users) == 0 {
		bld.WriteString(" none")
	}
	for _, u := range users {
		bld.WriteString(fmt.Sprintf("\n- id=%d @%s %s %s", u.ID, u.Username, u.FirstName, u.LastName))
	}
	return bld.String()
}

func (b *Bot) handleReportCommand(ctx context.Context, msg *tgbotapi.Message) {
	if b.reporter == nil {
		b.sendMessage(msg.Chat.ID, "Reporting is not configured.")
		return
	}
	text, err := b.reporter(ctx, b.now())
	if err != nil {
		b.log.Error("report generation failed", zap.Error(err))
		b.sendMessage(msg.Chat.ID, fmt.Sprintf("Failed to build the report: %v", err))
		return
	}
	b.sendMessage(msg.Chat.ID, text)
}

func (b *Bot) handleIncomingMessage(ctx context.Context, msg *tgbotapi.Message) {
	if !b.authorize(msg) {
		return
	}
	if strings.TrimSpace(msg.Text) == "" {
		b.sendMessage(msg.Chat.ID, "I can only read text messages.")
		return
	}
	b.log.Debug("incoming message", zap.Int64("user_id", msg.From.ID), zap.Int64("chat_id", msg.Chat.ID))
	b.converse(ctx, msg.Chat.ID, msg.Text)
}

// authorize lets allowed users through and files an access request for the rest.
func (b *Bot) authorize(msg *tgbotapi.Message) bool {
	if b.authSvc.IsAllowed(msg.From.ID) {
		return true
	}
	b.log.Warn("unauthorized access attempt", zap.Int64("user_id", msg.From.ID), zap.String("username", msg.From.UserName))
	first, err := b.authSvc.Request(auth.User{
		ID:        msg.From.ID,
		Username:  msg.From.UserName,
		FirstName: msg.From.FirstName,
		LastName:  msg.From.LastName,
	})
	if err != nil {
		b.log.Error("failed to store access request", zap.Error(err))
	}
	if !first {
		b.sendMessage(msg.Chat.ID, "Your access request is waiting for the administrator. I'll let you know once it's approved.")
		return false
	}
	b.sendMessage(msg.Chat.ID, "Access request sent to the administrator. You'll get a message once it's approved.")
	b.notifyAdminRequest(msg.From.ID, msg.From.UserName)
	return false
}

// converse runs one dialogue turn and sends the reply with any quick-reply buttons.
func (b *Bot) converse(ctx context.Context, chatID int64, text string) {
	reply, err := b.engine.Handle(ctx, chatKey(chatID), text, b.now())
	if err != nil {
		b.log.Error("dialogue turn failed", zap.Int64("chat_id", chatID), zap.Error(err))
		b.sendMessage(chatID, "Sorry, something went wrong.")
		return
	}
	out := tgbotapi.NewMessage(chatID, b.escapeIfNeeded(reply.Text))
	out.ParseMode = b.parseModeValue()
	if kb, ok := b.replyKeyboard(reply); ok {
		out.ReplyMarkup = kb
	}
	if _, err := b.s.Send(out); err != nil {
		b.log.Error("failed to send message", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}

// replyKeyboard offers one button per proposed slot, or yes/no when a slot awaits
// confirmation.
func (b *Bot) replyKeyboard(reply dialogue.Reply) (tgbotapi.InlineKeyboardMarkup, bool) {
	switch reply.Response.Kind {
	case dialogue.KindProposeCandidates, dialogue.KindInvalidSelection:
		if len(reply.Response.Candidates) == 0 {
			return tgbotapi.InlineKeyboardMarkup{}, false
		}
		now := b.now()
		rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(reply.Response.Candidates)+1)
		for i, c := range reply.Response.Candidates {
			n := strconv.Itoa(i + 1)
			rows = append(rows, tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData(n+". "+b.render.Range(c, now), replyPrefix+n),
			))
		}
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("None of these", replyPrefix+"no"),
		))
		return tgbotapi.NewInlineKeyboardMarkup(rows...), true
	case dialogue.KindAskConfirmation:
		return tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Yes, book it", replyPrefix+"yes"),
			tgbotapi.NewInlineKeyboardButtonData("No", replyPrefix+"no"),
		)), true
	case dialogue.KindProviderError:
		label, data := "Try again", replyPrefix+"try again"
		if reply.Response.Booking {
			data = replyPrefix + "yes"
		}
		return tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(label, data),
			tgbotapi.NewInlineKeyboardButtonData("Cancel", replyPrefix+"cancel"),
		)), true
	}
	return tgbotapi.InlineKeyboardMarkup{}, false
}

func (b *Bot) notifyAdminRequest(userID int64, username string) {
	if b.adminUserID == 0 {
		return
	}
	text := fmt.Sprintf("User @%s (id %d) wants to book through the bot", username, userID)
	kb := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Approve", approvePrefix+strconv.FormatInt(userID, 10)),
			tgbotapi.NewInlineKeyboardButtonData("Deny", denyPrefix+strconv.FormatInt(userID, 10)),
		),
	)
	msg := tgbotapi.NewMessage(b.adminUserID, b.escapeIfNeeded(text))
	msg.ParseMode = b.parseModeValue()
	msg.ReplyMarkup = kb
	if _, err := b.s.Send(msg); err != nil {
		b.log.Error("failed to notify admin", zap.Error(err))
	}
}

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	if _, err := b.s.Request(tgbotapi.NewCallback(cb.ID, "")); err != nil {
		b.log.Debug("failed to answer callback", zap.Error(err))
	}
	if cb.Message == nil {
		return
	}
	switch {
	case strings.HasPrefix(cb.Data, replyPrefix):
		if !b.authSvc.IsAllowed(cb.From.ID) {
			return
		}
		b.converse(ctx, cb.Message.Chat.ID, strings.TrimPrefix(cb.Data, replyPrefix))
	case strings.HasPrefix(cb.Data, approvePrefix), strings.HasPrefix(cb.Data, denyPrefix):
		if cb.From.ID != b.adminUserID {
			return
		}
		approve := strings.HasPrefix(cb.Data, approvePrefix)
		raw := strings.TrimPrefix(strings.TrimPrefix(cb.Data, approvePrefix), denyPrefix)
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return
		}
		if approve {
			b.approveUser(id)
		} else {
			b.denyUser(id)
		}
	}
}

func (b *Bot) approveUser(userID int64) {
	u, err := b.authSvc.Approve(userID)
	if err != nil {
		b.log.Error("failed to persist approval", zap.Int64("user_id", userID), zap.Error(err))
	}
	b.sendMessage(b.adminUserID, fmt.Sprintf("User %d (@%s) approved", u.ID, u.Username))
	b.sendMessage(userID, "Access granted. "+helpText)
}

func (b *Bot) denyUser(userID int64) {
	_, ok, err := b.authSvc.Deny(userID)
	if err != nil {
		b.log.Error("failed to persist denial", zap.Int64("user_id", userID), zap.Error(err))
	}
	if !ok {
		b.sendMessage(b.adminUserID, fmt.Sprintf("No pending request from %d", userID))
		return
	}
	b.sendMessage(b.adminUserID, fmt.Sprintf("Request from %d denied", userID))
	b.sendMessage(userID, "Sorry, access was not granted.")
}

func (b *Bot) sendMessage(chatID int64, text string) {
	if chatID == 0 {
		return
	}
	msg := tgbotapi.NewMessage(chatID, b.escapeIfNeeded(text))
	msg.ParseMode = b.parseModeValue()
	if _, err := b.s.Send(msg); err != nil {
		b.log.Error("failed to send message", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}

func (b *Bot) parseModeValue() string {
	switch strings.ToLower(b.parseMode) {
	case "html":
		return tgbotapi.ModeHTML
	case "markdown":
		return tgbotapi.ModeMarkdown
	case "markdownv2":
		return tgbotapi.ModeMarkdownV2
	}
	return ""
}

// escapeIfNeeded escapes plain text for the configured parse mode.
func (b *Bot) escapeIfNeeded(text string) string {
	switch b.parseModeValue() {
	case tgbotapi.ModeHTML:
		return html.EscapeString(text)
	case tgbotapi.ModeMarkdown, tgbotapi.ModeMarkdownV2:
		return tgbotapi.EscapeText(b.parseModeValue(), text)
	}
	return text
}

// NotifyAdmin sends text to the administrator chat, if one is configured.
func (b *Bot) NotifyAdmin(text string) {
	b.sendMessage(b.adminUserID, text)
}
