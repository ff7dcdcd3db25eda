package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"booking-chatter/internal/calendar"
	"booking-chatter/internal/config"
	"booking-chatter/internal/datetime"
	"booking-chatter/internal/logger"
	"booking-chatter/internal/negotiator"
	"booking-chatter/internal/render"
)

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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tools, err := newBookingTools(ctx, cfg, zl)
	if err != nil {
		zl.Fatal("failed to init booking tools", zap.Error(err))
	}

	server := mcp.NewServer(&mcp.Implementation{
		Name:    "booking-chatter-mcp",
		Version: "1.0.0",
	}, nil)
	tools.register(server)

	zl.Info("booking MCP server listening on stdin/stdout",
		zap.Strings("tools", []string{"resolve_datetime", "check_availability", "list_busy"}))
	if err := server.Run(ctx, mcp.NewStdioTransport()); err != nil && ctx.Err() == nil {
		zl.Fatal("booking MCP server failed", zap.Error(err))
	}
}

func newBookingTools(ctx context.Context, cfg *config.Config, zl *zap.Logger) (*bookingTools, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	dayStart, dayEnd, err := cfg.BusinessHours()
	if err != nil {
		return nil, err
	}
	defaultTime, err := datetime.ParseClock(cfg.DefaultTimeOfDay)
	if err != nil {
		return nil, err
	}
	creds, err := cfg.GoogleCredentials()
	if err != nil {
		return nil, err
	}
	provider := calendar.NewProvider(ctx, calendar.GoogleConfig{
		CredentialsJSON: creds,
		RefreshToken:    cfg.GoogleRefreshToken,
		TokenPath:       cfg.GoogleTokenPath,
		CalendarID:      cfg.CalendarID,
	}, zl)

	return &bookingTools{
		resolver: datetime.NewResolver(loc, defaultTime),
		negotiator: negotiator.New(negotiator.Config{
			DayStart:             dayStart,
			DayEnd:               dayEnd,
			IncludeWeekends:      cfg.IncludeWeekends,
			MaxCandidates:        cfg.MaxCandidates,
			Horizon:              cfg.SearchHorizon,
			EnforceBusinessHours: cfg.EnforceBusinessHours,
		}, zl.Named("negotiator")),
		provider:        provider,
		render:          render.New(loc),
		defaultDuration: cfg.DefaultDuration,
		horizon:         cfg.SearchHorizon,
		timeout:         cfg.ProviderTimeout,
		log:             zl,
		now:             time.Now,
	}, nil
}
