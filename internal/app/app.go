// Package app assembles the booking service from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"booking-chatter/internal/analytics"
	"booking-chatter/internal/auth"
	"booking-chatter/internal/bookings"
	"booking-chatter/internal/calendar"
	"booking-chatter/internal/config"
	"booking-chatter/internal/datetime"
	"booking-chatter/internal/dialogue"
	"booking-chatter/internal/httpapi"
	"booking-chatter/internal/llm"
	"booking-chatter/internal/negotiator"
	"booking-chatter/internal/nlu"
	"booking-chatter/internal/render"
	"booking-chatter/internal/scheduler"
	"booking-chatter/internal/sessionstore"
	"booking-chatter/internal/storage"
	"booking-chatter/internal/telegram"
)

type App struct {
	Config   *config.Config
	Log      *zap.Logger
	Location *time.Location
	Provider calendar.Provider
	Bookings bookings.Repository
	Recorder storage.Recorder
	Auth     *auth.Service
	Render   render.Text
	Engine   *dialogue.Engine

	closers []func(context.Context) error
}

// New builds every collaborator. Optional backends (LLM, Google Calendar, Redis, MongoDB)
// are used when configured and fall back to local implementations otherwise, except that
// a configured but unreachable Redis or MongoDB is an error.
func New(ctx context.Context, cfg *config.Config, log *zap.Logger) (*App, error) {
	if log == nil {
		log = zap.NewNop()
	}
	a := &App{Config: cfg, Log: log}
	ok := false
	defer func() {
		if !ok {
			_ = a.Close(context.Background())
		}
	}()

	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	a.Location = loc
	a.Render = render.New(loc)

	dayStart, dayEnd, err := cfg.BusinessHours()
	if err != nil {
		return nil, err
	}
	defaultTime, err := datetime.ParseClock(cfg.DefaultTimeOfDay)
	if err != nil {
		return nil, fmt.Errorf("DEFAULT_TIME_OF_DAY: %w", err)
	}

	creds, err := cfg.GoogleCredentials()
	if err != nil {
		return nil, err
	}
	a.Provider = calendar.NewProvider(ctx, calendar.GoogleConfig{
		CredentialsJSON: creds,
		RefreshToken:    cfg.GoogleRefreshToken,
		TokenPath:       cfg.GoogleTokenPath,
		CalendarID:      cfg.CalendarID,
	}, log)

	store, err := a.sessionStore(ctx)
	if err != nil {
		return nil, err
	}
	if a.Bookings, err = a.bookingRepo(ctx); err != nil {
		return nil, err
	}
	if a.Recorder, err = storage.NewFileRecorder(cfg.LogFilePath); err != nil {
		return nil, fmt.Errorf("init interaction log: %w", err)
	}
	if a.Auth, err = a.authService(); err != nil {
		return nil, err
	}

	a.Engine, err = dialogue.NewEngine(dialogue.Options{
		Machine: dialogue.Machine{
			Resolver:        datetime.NewResolver(loc, defaultTime),
			DefaultDuration: cfg.DefaultDuration,
		},
		Extractor: a.extractor(ctx),
		Negotiator: negotiator.New(negotiator.Config{
			DayStart:             dayStart,
			DayEnd:               dayEnd,
			IncludeWeekends:      cfg.IncludeWeekends,
			MaxCandidates:        cfg.MaxCandidates,
			Horizon:              cfg.SearchHorizon,
			EnforceBusinessHours: cfg.EnforceBusinessHours,
		}, log.Named("negotiator")),
		Provider:        a.Provider,
		Horizon:         cfg.SearchHorizon,
		ProviderTimeout: cfg.ProviderTimeout,
		NLUTimeout:      cfg.NLUTimeout,
		SessionTimeout:  cfg.SessionTimeout,
		Store:           store,
		Bookings:        a.Bookings,
		Recorder:        a.Recorder,
		Renderer:        a.Render,
		Log:             log.Named("dialogue"),
	})
	if err != nil {
		return nil, err
	}
	ok = true
	return a, nil
}

// extractor prefers the configured LLM and keeps the rule extractor as fallback.
func (a *App) extractor(ctx context.Context) nlu.Extractor {
	rules := nlu.NewRuleExtractor()
	provider := string(a.Config.NLUProvider)
	if a.Config.NLUProvider == "" || a.Config.NLUProvider == config.NLURules {
		a.Log.Info("using rule-based language understanding")
		return rules
	}
	client, err := llm.NewFactory(a.Config).CreateClient(ctx, provider)
	if err != nil {
		a.Log.Warn("failed to create llm client, using rules only", zap.String("provider", provider), zap.Error(err))
		return rules
	}
	if c, ok := client.(io.Closer); ok {
		a.closers = append(a.closers, func(context.Context) error { return c.Close() })
	}
	a.Log.Info("using llm language understanding", zap.String("provider", provider))
	return nlu.Fallback{Primary: nlu.NewLLMExtractor(client), Secondary: rules, Log: a.Log.Named("nlu")}
}

// sessionStore keeps snapshots twice as long as the idle timeout so that sessions
// restored after a restart can still be recorded as abandoned.
func (a *App) sessionStore(ctx context.Context) (sessionstore.Store, error) {
	ttl := 2 * a.Config.SessionTimeout
	if a.Config.RedisAddr == "" {
		return sessionstore.NewMemoryStore(ttl), nil
	}
	client, err := sessionstore.DialRedis(ctx, a.Config.RedisAddr, a.Config.RedisPassword, a.Config.RedisDB)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func(context.Context) error { return client.Close() })
	a.Log.Info("session snapshots stored in redis", zap.String("addr", a.Config.RedisAddr))
	return sessionstore.NewRedisStore(client, ttl), nil
}

func (a *App) bookingRepo(ctx context.Context) (bookings.Repository, error) {
	if a.Config.MongoURI == "" {
		repo, err := bookings.NewFileRepository(a.Config.BookingsFilePath)
		if err != nil {
			return nil, fmt.Errorf("init bookings file: %w", err)
		}
		return repo, nil
	}
	repo, err := bookings.Connect(ctx, a.Config.MongoURI, a.Config.MongoDatabase)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, repo.Close)
	a.Log.Info("bookings stored in mongodb", zap.String("database", a.Config.MongoDatabase))
	return repo, nil
}

func (a *App) authService() (*auth.Service, error) {
	var allowed, pending auth.Repository
	if a.Config.UsersFilePath != "" {
		repo, err := auth.NewFileRepository(a.Config.UsersFilePath)
		if err != nil {
			return nil, fmt.Errorf("init users file: %w", err)
		}
		allowed = repo
	}
	if a.Config.PendingFilePath != "" {
		repo, err := auth.NewFileRepository(a.Config.PendingFilePath)
		if err != nil {
			return nil, fmt.Errorf("init pending file: %w", err)
		}
		pending = repo
	}
	return auth.New(allowed, pending, a.Config.AllowedUsers, a.Config.AdminUserID)
}

// Router serves the HTTP API.
func (a *App) Router() *gin.Engine {
	return httpapi.NewRouter(httpapi.Deps{
		Engine:          a.Engine,
		Provider:        a.Provider,
		Bookings:        a.Bookings,
		Location:        a.Location,
		ProviderTimeout: a.Config.ProviderTimeout,
		RateLimitPerMin: a.Config.RateLimitPerMin,
		Log:             a.Log.Named("http"),
	})
}

func (a *App) TelegramOptions() telegram.Options {
	return telegram.Options{
		Engine:      a.Engine,
		Auth:        a.Auth,
		AdminUserID: a.Config.AdminUserID,
		ParseMode:   a.Config.MessageParseMode,
		Render:      a.Render,
		Reporter:    a.DailyReport,
		Log:         a.Log.Named("telegram"),
	}
}

// DailyReport summarizes the interaction log for the local day containing date.
func (a *App) DailyReport(_ context.Context, date time.Time) (string, error) {
	events, err := a.Recorder.LoadInteractions()
	if err != nil {
		return "", fmt.Errorf("load interactions: %w", err)
	}
	return analytics.AnalyzeDailyLogs(events, date.In(a.Location)).GenerateReportSummary(), nil
}

// Scheduler registers the idle-session sweep and the daily report. notify receives the
// report text and may be nil.
func (a *App) Scheduler(notify func(text string)) (*scheduler.Scheduler, error) {
	s := scheduler.New(a.Location, a.Log.Named("scheduler"))
	err := s.Add(scheduler.Job{
		Name: "session-sweep",
		Spec: a.Config.SessionSweepSpec,
		Run: func(ctx context.Context) error {
			if n := a.Engine.Sweep(ctx, time.Now()); n > 0 {
				a.Log.Info("idle sessions swept", zap.Int("count", n))
			}
			return nil
		},
	})
	if err != nil {
		return nil, err
	}
	if a.Config.ReportSpec == "" {
		return s, nil
	}
	err = s.Add(scheduler.Job{
		Name: "daily-report",
		Spec: a.Config.ReportSpec,
		Run: func(ctx context.Context) error {
			text, err := a.DailyReport(ctx, time.Now())
			if err != nil {
				return err
			}
			a.Log.Info("daily report", zap.String("report", text))
			if notify != nil {
				notify(text)
			}
			return nil
		},
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Close releases external connections.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
