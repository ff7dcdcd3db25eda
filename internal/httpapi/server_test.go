package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"booking-chatter/internal/bookings"
	"booking-chatter/internal/calendar"
	"booking-chatter/internal/datetime"
	"booking-chatter/internal/dialogue"
	"booking-chatter/internal/negotiator"
	"booking-chatter/internal/nlu"
	"booking-chatter/internal/render"
)

// Tuesday, 10:00.
var ref = time.Date(2026, time.March, 10, 10, 0, 0, 0, time.UTC)

type testAPI struct {
	router   *gin.Engine
	provider *calendar.MemoryProvider
	bookings *bookings.FileRepository
}

func newTestAPI(t *testing.T, perMin int) *testAPI {
	t.Helper()
	gin.SetMode(gin.TestMode)

	provider := calendar.NewMemoryProvider()
	repo, err := bookings.NewFileRepository(filepath.Join(t.TempDir(), "bookings.json"))
	require.NoError(t, err)
	engine, err := dialogue.NewEngine(dialogue.Options{
		Machine: dialogue.Machine{
			Resolver:        datetime.NewResolver(time.UTC, datetime.Clock{Hour: 10}),
			DefaultDuration: time.Hour,
		},
		Extractor:  nlu.NewRuleExtractor(),
		Negotiator: negotiator.New(negotiator.DefaultConfig(), zap.NewNop()),
		Provider:   provider,
		Bookings:   repo,
		Renderer:   render.New(time.UTC),
	})
	require.NoError(t, err)

	router := NewRouter(Deps{
		Engine:          engine,
		Provider:        provider,
		Bookings:        repo,
		Location:        time.UTC,
		RateLimitPerMin: perMin,
		Now:             func() time.Time { return ref },
	})
	return &testAPI{router: router, provider: provider, bookings: repo}
}

func (a *testAPI) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v))
}

func TestHealth(t *testing.T) {
	a := newTestAPI(t, 0)
	w := a.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"healthy"}`, w.Body.String())
}

func TestChat_BookingConversation(t *testing.T) {
	a := newTestAPI(t, 0)

	w := a.do(t, http.MethodPost, "/chat", map[string]string{"message": "Book a 30 minute meeting tomorrow at 3pm"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var first chatResponse
	decode(t, w, &first)
	assert.NotEmpty(t, first.ConversationID)
	assert.Equal(t, dialogue.StateAwaitingConfirmation, first.State)
	assert.Equal(t, "Tomorrow at 3:00 PM (30 min) is free. Shall I book it?", first.Response)

	w = a.do(t, http.MethodPost, "/chat", map[string]string{"message": "yes", "conversation_id": first.ConversationID})
	require.Equal(t, http.StatusOK, w.Code)
	var second chatResponse
	decode(t, w, &second)
	assert.Equal(t, first.ConversationID, second.ConversationID)
	assert.Equal(t, first.SessionID, second.SessionID)
	assert.Equal(t, dialogue.StateFinalized, second.State)
	assert.NotEmpty(t, second.Details.EventID)

	w = a.do(t, http.MethodGet, "/conversations/"+first.ConversationID+"/messages", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var msgs struct {
		Messages []messageView `json:"messages"`
	}
	decode(t, w, &msgs)
	require.Len(t, msgs.Messages, 4)
	assert.Equal(t, "user", msgs.Messages[0].Role)
	assert.Equal(t, "yes", msgs.Messages[2].Content)

	w = a.do(t, http.MethodGet, "/bookings?start_date=2026-03-11&end_date=2026-03-11", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Bookings []bookings.Record `json:"bookings"`
	}
	decode(t, w, &list)
	require.Len(t, list.Bookings, 1)
	assert.Equal(t, string(second.Details.EventID), list.Bookings[0].EventID)

	w = a.do(t, http.MethodGet, "/bookings/"+list.Bookings[0].ID, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w = a.do(t, http.MethodGet, "/bookings/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestChat_RejectsBadInput(t *testing.T) {
	a := newTestAPI(t, 0)
	assert.Equal(t, http.StatusBadRequest, a.do(t, http.MethodPost, "/chat", map[string]string{}).Code)
	assert.Equal(t, http.StatusBadRequest, a.do(t, http.MethodPost, "/chat", map[string]string{"message": "   "}).Code)
}

func TestConversation_NotFound(t *testing.T) {
	a := newTestAPI(t, 0)
	assert.Equal(t, http.StatusNotFound, a.do(t, http.MethodGet, "/conversations/nope/messages", nil).Code)
	assert.Equal(t, http.StatusNotFound, a.do(t, http.MethodGet, "/conversations/nope", nil).Code)
}

func TestAvailability(t *testing.T) {
	a := newTestAPI(t, 0)
	busy := calendar.MustRange(time.Date(2026, 3, 11, 15, 0, 0, 0, time.UTC), time.Date(2026, 3, 11, 16, 0, 0, 0, time.UTC))
	a.provider.AddBusy(busy)

	w := a.do(t, http.MethodGet, "/calendar/availability?start_date=2026-03-11&end_date=2026-03-11", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var got struct {
		Busy []calendar.TimeRange `json:"busy"`
		Free bool                 `json:"free"`
	}
	decode(t, w, &got)
	assert.False(t, got.Free)
	require.Len(t, got.Busy, 1)
	assert.True(t, got.Busy[0].Start.Equal(busy.Start))

	w = a.do(t, http.MethodGet, "/calendar/availability?start_date=2026-03-12T09:00:00Z&end_date=2026-03-12T17:00:00Z", nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &got)
	assert.True(t, got.Free)
	assert.Empty(t, got.Busy)

	assert.Equal(t, http.StatusBadRequest, a.do(t, http.MethodGet, "/calendar/availability?start_date=tomorrow&end_date=2026-03-12", nil).Code)
	assert.Equal(t, http.StatusBadRequest, a.do(t, http.MethodGet, "/calendar/availability?start_date=2026-03-12", nil).Code)
	assert.Equal(t, http.StatusBadRequest, a.do(t, http.MethodGet, "/calendar/availability?start_date=2026-03-13&end_date=2026-03-11", nil).Code)

	a.provider.Fail(context.DeadlineExceeded)
	w = a.do(t, http.MethodGet, "/calendar/availability?start_date=2026-03-11&end_date=2026-03-11", nil)
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestRateLimit(t *testing.T) {
	a := newTestAPI(t, 2)
	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		codes = append(codes, a.do(t, http.MethodGet, "/health", nil).Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestClientIP(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	c.Request.RemoteAddr = "10.0.0.1:5555"
	assert.Equal(t, "10.0.0.1", clientIP(c))

	c.Request.Header.Set("X-Real-IP", "10.0.0.2")
	assert.Equal(t, "10.0.0.2", clientIP(c))

	c.Request.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.3")
	assert.Equal(t, "203.0.113.7", clientIP(c))
}
