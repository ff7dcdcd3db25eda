package calendar

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"
)

// GoogleConfig holds what is needed to talk to Google Calendar.
type GoogleConfig struct {
	CredentialsJSON []byte
	RefreshToken    string
	TokenPath       string
	CalendarID      string
}

// GoogleProvider reads free/busy information and inserts events through the Calendar v3 API.
type GoogleProvider struct {
	svc        *gcal.Service
	calendarID string
	log        *zap.Logger
}

func NewGoogleProvider(ctx context.Context, cfg GoogleConfig, log *zap.Logger) (*GoogleProvider, error) {
	calendarID := cfg.CalendarID
	if calendarID == "" {
		calendarID = "primary"
	}

	var opts []option.ClientOption
	if IsServiceAccount(cfg.CredentialsJSON) {
		log.Info("using service account authentication for google calendar")
		opts = append(opts, option.WithCredentialsJSON(cfg.CredentialsJSON), option.WithScopes(gcal.CalendarScope))
	} else {
		creds, err := ParseCredentials(cfg.CredentialsJSON)
		if err != nil {
			return nil, fmt.Errorf("failed to parse OAuth2 credentials: %w", err)
		}
		oc := OAuthConfig(creds)
		token, err := resolveToken(cfg, log)
		if err != nil {
			return nil, err
		}
		opts = append(opts, option.WithHTTPClient(oc.Client(ctx, token)))
	}

	svc, err := gcal.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create calendar service: %w", err)
	}
	return &GoogleProvider{svc: svc, calendarID: calendarID, log: log}, nil
}

// resolveToken prefers the cached token file and falls back to a configured refresh token.
// The returned token may be expired; the OAuth2 client refreshes it on first use.
func resolveToken(cfg GoogleConfig, log *zap.Logger) (*oauth2.Token, error) {
	if cfg.TokenPath != "" {
		token, err := LoadToken(cfg.TokenPath)
		if err == nil && (token.Valid() || token.RefreshToken != "") {
			log.Debug("using cached oauth2 token", zap.String("path", cfg.TokenPath))
			return token, nil
		}
	}
	if cfg.RefreshToken != "" {
		return &oauth2.Token{RefreshToken: cfg.RefreshToken}, nil
	}
	return nil, errors.New("no oauth2 token available: run calendar-auth-helper or set GOOGLE_CALENDAR_REFRESH_TOKEN")
}

func (p *GoogleProvider) ListBusy(ctx context.Context, r TimeRange) ([]TimeRange, error) {
	req := &gcal.FreeBusyRequest{
		TimeMin:  r.Start.Format(time.RFC3339),
		TimeMax:  r.End.Format(time.RFC3339),
		TimeZone: r.Location().String(),
		Items:    []*gcal.FreeBusyRequestItem{{Id: p.calendarID}},
	}
	resp, err := p.svc.Freebusy.Query(req).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("%w: freebusy query: %v", ErrProvider, err)
	}
	cal, ok := resp.Calendars[p.calendarID]
	if !ok {
		return nil, fmt.Errorf("%w: calendar %q missing from freebusy response", ErrProvider, p.calendarID)
	}
	if len(cal.Errors) > 0 {
		return nil, fmt.Errorf("%w: freebusy reported %s", ErrProvider, cal.Errors[0].Reason)
	}

	out := make([]TimeRange, 0, len(cal.Busy))
	for _, period := range cal.Busy {
		start, err := time.Parse(time.RFC3339, period.Start)
		if err != nil {
			return nil, fmt.Errorf("%w: bad busy start %q: %v", ErrProvider, period.Start, err)
		}
		end, err := time.Parse(time.RFC3339, period.End)
		if err != nil {
			return nil, fmt.Errorf("%w: bad busy end %q: %v", ErrProvider, period.End, err)
		}
		busy, err := NewTimeRange(start.In(r.Location()), end)
		if err != nil {
			p.log.Warn("skipping empty busy period", zap.String("start", period.Start), zap.String("end", period.End))
			continue
		}
		out = append(out, busy)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

func (p *GoogleProvider) CreateEvent(ctx context.Context, r TimeRange, meta EventMetadata) (EventID, error) {
	title := meta.Title
	if title == "" {
		title = "Meeting"
	}
	ev := &gcal.Event{
		Summary:     title,
		Description: meta.Description,
		Start:       &gcal.EventDateTime{DateTime: r.Start.Format(time.RFC3339), TimeZone: r.Location().String()},
		End:         &gcal.EventDateTime{DateTime: r.End.Format(time.RFC3339), TimeZone: r.Location().String()},
	}
	created, err := p.svc.Events.Insert(p.calendarID, ev).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("%w: insert event: %v", ErrProvider, err)
	}
	p.log.Info("calendar event created", zap.String("event_id", created.Id), zap.String("link", created.HtmlLink))
	return EventID(created.Id), nil
}
