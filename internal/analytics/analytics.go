package analytics

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"booking-chatter/internal/storage"
)

// Outcome labels as recorded by the dialogue engine.
const (
	responseFinalized     = "finalized"
	responseCancelled     = "cancelled"
	responseAbandoned     = "abandoned"
	responseProviderError = "provider_error"
)

// DailyStats summarizes one day of booking conversations.
type DailyStats struct {
	Date           string                  `json:"date"`
	TotalMessages  int                     `json:"total_messages"`
	Sessions       int                     `json:"sessions"`
	Conversations  int                     `json:"conversations"`
	Finalized      int                     `json:"finalized"`
	Cancelled      int                     `json:"cancelled"`
	Abandoned      int                     `json:"abandoned"`
	ProviderErrors int                     `json:"provider_errors"`
	Intents        map[string]int          `json:"intents"`
	Responses      map[string]int          `json:"responses"`
	Channels       map[string]ChannelStats `json:"channels"`
}

// ChannelStats is the per-transport slice of DailyStats.
type ChannelStats struct {
	Channel   string `json:"channel"`
	Messages  int    `json:"messages"`
	Sessions  int    `json:"sessions"`
	Finalized int    `json:"finalized"`
}

// ConversionRate is the share of sessions that ended in a booking.
func (ds *DailyStats) ConversionRate() float64 {
	if ds.Sessions == 0 {
		return 0
	}
	return float64(ds.Finalized) / float64(ds.Sessions)
}

// AnalyzeDailyLogs aggregates the events that fall on targetDate in its location.
func AnalyzeDailyLogs(events []storage.Event, targetDate time.Time) *DailyStats {
	startOfDay := time.Date(targetDate.Year(), targetDate.Month(), targetDate.Day(), 0, 0, 0, 0, targetDate.Location())
	endOfDay := startOfDay.AddDate(0, 0, 1)

	stats := &DailyStats{
		Date:      startOfDay.Format("2006-01-02"),
		Intents:   make(map[string]int),
		Responses: make(map[string]int),
		Channels:  make(map[string]ChannelStats),
	}

	sessions := make(map[string]string)
	conversations := make(map[string]bool)

	for _, event := range events {
		if event.Timestamp.Before(startOfDay) || !event.Timestamp.Before(endOfDay) {
			continue
		}
		channel := event.Channel
		if channel == "" {
			channel = "unknown"
		}
		ch := stats.Channels[channel]
		ch.Channel = channel

		if _, seen := sessions[event.SessionID]; !seen && event.SessionID != "" {
			sessions[event.SessionID] = channel
			ch.Sessions++
		}
		if event.ConversationKey != "" {
			conversations[event.ConversationKey] = true
		}

		switch event.Response {
		case responseFinalized:
			stats.Finalized++
			ch.Finalized++
		case responseCancelled:
			stats.Cancelled++
		case responseAbandoned:
			stats.Abandoned++
		case responseProviderError:
			stats.ProviderErrors++
		}

		// Abandonment records carry no user message.
		if event.UserMessage != "" {
			stats.TotalMessages++
			ch.Messages++
			if event.Intent != "" {
				stats.Intents[event.Intent]++
			}
			if event.Response != "" {
				stats.Responses[event.Response]++
			}
		}
		stats.Channels[channel] = ch
	}

	stats.Sessions = len(sessions)
	stats.Conversations = len(conversations)
	return stats
}

// GenerateReportSummary renders a short plain-text report.
func (ds *DailyStats) GenerateReportSummary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Booking activity for %s:\n\n", ds.Date)
	fmt.Fprintf(&b, "- Messages: %d\n", ds.TotalMessages)
	fmt.Fprintf(&b, "- Sessions: %d across %d conversations\n", ds.Sessions, ds.Conversations)
	fmt.Fprintf(&b, "- Booked: %d (%.0f%% of sessions)\n", ds.Finalized, ds.ConversionRate()*100)
	fmt.Fprintf(&b, "- Cancelled: %d\n", ds.Cancelled)
	fmt.Fprintf(&b, "- Abandoned: %d\n", ds.Abandoned)
	fmt.Fprintf(&b, "- Calendar errors: %d\n", ds.ProviderErrors)

	if len(ds.Intents) > 0 {
		b.WriteString("\nIntents:\n")
		for _, k := range sortedKeys(ds.Intents) {
			fmt.Fprintf(&b, "- %s: %d\n", k, ds.Intents[k])
		}
	}

	if len(ds.Channels) > 0 {
		b.WriteString("\nChannels:\n")
		names := make([]string, 0, len(ds.Channels))
		for name := range ds.Channels {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			ch := ds.Channels[name]
			fmt.Fprintf(&b, "- %s: %d messages, %d sessions, %d booked\n", name, ch.Messages, ch.Sessions, ch.Finalized)
		}
	}
	return b.String()
}

func (ds *DailyStats) ToJSON() (string, error) {
	data, err := json.MarshalIndent(ds, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
