package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"booking-chatter/internal/app"
	"booking-chatter/internal/config"
	"booking-chatter/internal/logger"
	"booking-chatter/internal/telegram"
)

const shutdownTimeout = 5 * time.Second

func main() {
	if err := godotenv.Load(".env"); err != nil {
		log.Printf("Warning: .env file not found: %v", err)
	}
	cfg := config.New()

	zl, err := logger.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer func() { _ = zl.Sync() }()
	if logger.IsProduction(cfg.Env) {
		gin.SetMode(gin.ReleaseMode)
	}

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

	var notify func(string)
	var bot *telegram.Bot
	if cfg.TelegramBotToken != "" {
		if bot, err = telegram.New(cfg.TelegramBotToken, a.TelegramOptions()); err != nil {
			zl.Fatal("failed to create telegram bot", zap.Error(err))
		}
		notify = bot.NotifyAdmin
	} else {
		zl.Info("TELEGRAM_BOT_TOKEN not set, serving HTTP only")
	}

	sched, err := a.Scheduler(notify)
	if err != nil {
		zl.Fatal("failed to init scheduler", zap.Error(err))
	}
	sched.Start()
	defer sched.Stop()

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           a.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		zl.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		zl.Info("server is shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if bot != nil {
		g.Go(func() error { return bot.Start(gctx) })
	}

	if err := g.Wait(); err != nil {
		zl.Error("server stopped with error", zap.Error(err))
		return
	}
	zl.Info("server stopped gracefully")
}
