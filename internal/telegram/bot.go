// Package telegram connects the booking dialogue to a Telegram bot.
package telegram

import (
	"context"
	"fmt"
	"strconv"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"booking-chatter/internal/auth"
	"booking-chatter/internal/dialogue"
	"booking-chatter/internal/render"
)

// KeyPrefix namespaces Telegram chats in the dialogue engine.
const KeyPrefix = "telegram:"

// maxInFlight bounds concurrently processed updates. Turns of one chat are still
// serialized by the engine.
const maxInFlight = 8

// Reporter builds the text of the daily report for date.
type Reporter func(ctx context.Context, date time.Time) (string, error)

type Options struct {
	Engine      *dialogue.Engine
	Auth        *auth.Service
	AdminUserID int64
	ParseMode   string
	Render      render.Text
	Reporter    Reporter
	Log         *zap.Logger
}

type Bot struct {
	api         *tgbotapi.BotAPI
	s           sender
	engine      *dialogue.Engine
	authSvc     *auth.Service
	adminUserID int64
	parseMode   string
	render      render.Text
	reporter    Reporter
	log         *zap.Logger
	now         func() time.Time
}

func New(botToken string, opts Options) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	b := newBot(botAPISender{api: api}, opts)
	b.api = api
	b.log.Info("telegram bot authorized", zap.String("username", api.Self.UserName))
	return b, nil
}

func newBot(s sender, opts Options) *Bot {
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	if opts.Auth == nil {
		opts.Auth, _ = auth.New(nil, nil, nil, opts.AdminUserID)
	}
	return &Bot{
		s:           s,
		engine:      opts.Engine,
		authSvc:     opts.Auth,
		adminUserID: opts.AdminUserID,
		parseMode:   opts.ParseMode,
		render:      opts.Render,
		reporter:    opts.Reporter,
		log:         opts.Log,
		now:         time.Now,
	}
}

// Start polls for updates until ctx is cancelled, then waits for in-flight handlers.
func (b *Bot) Start(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := b.api.GetUpdatesChan(u)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxInFlight)
	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return g.Wait()
		case update, ok := <-updates:
			if !ok {
				return g.Wait()
			}
			g.Go(func() error {
				b.handleUpdate(gctx, update)
				return nil
			})
		}
	}
}

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("telegram update handler panicked", zap.Any("panic", r), zap.Int("update_id", update.UpdateID))
		}
	}()
	switch {
	case update.Message != nil && update.Message.From != nil:
		if update.Message.IsCommand() {
			b.handleCommand(ctx, update.Message)
			return
		}
		b.handleIncomingMessage(ctx, update.Message)
	case update.CallbackQuery != nil && update.CallbackQuery.From != nil:
		b.handleCallback(ctx, update.CallbackQuery)
	}
}

func chatKey(chatID int64) string {
	return KeyPrefix + strconv.FormatInt(chatID, 10)
}
