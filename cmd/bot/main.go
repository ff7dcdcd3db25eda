package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"booking-chatter/internal/app"
	"booking-chatter/internal/config"
	"booking-chatter/internal/logger"
	"booking-chatter/internal/telegram"
)

func main() {
	if err := godotenv.Load(".env"); err != nil {
		log.Printf("Warning: .env file not found: %v", err)
	}

	cfg := config.New()
	if cfg.TelegramBotToken == "" {
		log.Fatal("TELEGRAM_BOT_TOKEN is required")
	}

	zl, err := logger.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer func() { _ = zl.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, zl)
	if err != nil {
		zl.Fatal("failed to init app", zap.Error(err))
	}
	defer func() {
		if err := a.Close(context.Background()); err != nil {
			zl.Error("failed to close app", zap.Error(err))
		}
	}()

	bot, err := telegram.New(cfg.TelegramBotToken, a.TelegramOptions())
	if err != nil {
		zl.Fatal("failed to create bot", zap.Error(err))
	}

	sched, err := a.Scheduler(bot.NotifyAdmin)
	if err != nil {
		zl.Fatal("failed to init scheduler", zap.Error(err))
	}
	sched.Start()
	defer sched.Stop()

	zl.Info("telegram bot started")
	if err := bot.Start(ctx); err != nil {
		zl.Error("telegram bot stopped with error", zap.Error(err))
	}
}
