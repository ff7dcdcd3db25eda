// Package httpapi exposes the booking dialogue and its records over HTTP.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"booking-chatter/internal/bookings"
	"booking-chatter/internal/calendar"
	"booking-chatter/internal/dialogue"
	"booking-chatter/internal/history"
)

// KeyPrefix namespaces HTTP conversations in the dialogue engine.
const KeyPrefix = "http:"

type Deps struct {
	Engine          *dialogue.Engine
	Provider        calendar.Provider
	Bookings        bookings.Repository
	Location        *time.Location
	ProviderTimeout time.Duration
	RateLimitPerMin int
	Log             *zap.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

type server struct {
	Deps
}

// NewRouter builds the gin engine with recovery, request logging and rate limiting.
func NewRouter(d Deps) *gin.Engine {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Location == nil {
		d.Location = time.UTC
	}
	s := &server{Deps: d}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger(d.Log))
	r.Use(rateLimit(d.RateLimitPerMin, d.Log))

	r.GET("/health", s.health)
	r.POST("/chat", s.chat)
	r.GET("/calendar/availability", s.availability)
	r.GET("/bookings", s.listBookings)
	r.GET("/bookings/:id", s.getBooking)
	r.GET("/conversations/:id", s.conversation)
	r.GET("/conversations/:id/messages", s.messages)
	return r
}

func requestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Info("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("took", time.Since(start)),
		)
	}
}

func (s *server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

type chatRequest struct {
	Message        string `json:"message" binding:"required"`
	ConversationID string `json:"conversation_id"`
}

type chatResponse struct {
	Response       string            `json:"response"`
	ConversationID string            `json:"conversation_id"`
	SessionID      string            `json:"session_id"`
	State          dialogue.State    `json:"state"`
	Details        dialogue.Response `json:"details"`
}

func (s *server) chat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid input: " + err.Error()})
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message must not be empty"})
		return
	}
	convID := strings.TrimSpace(req.ConversationID)
	if convID == "" {
		convID = uuid.NewString()
	}

	reply, err := s.Engine.Handle(c.Request.Context(), KeyPrefix+convID, req.Message, s.Now())
	if err != nil {
		s.Log.Error("chat turn failed", zap.String("conversation_id", convID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}
	c.JSON(http.StatusOK, chatResponse{
		Response:       reply.Text,
		ConversationID: convID,
		SessionID:      reply.SessionID,
		State:          reply.State,
		Details:        reply.Response,
	})
}

// availability lists busy intervals between start_date and end_date. Dates are RFC 3339
// timestamps or plain YYYY-MM-DD days in the configured location; a plain end day is
// inclusive.
func (s *server) availability(c *gin.Context) {
	r, err := s.rangeParams(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ctx := c.Request.Context()
	if s.ProviderTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.ProviderTimeout)
		defer cancel()
	}
	busy, err := s.Provider.ListBusy(ctx, r)
	if err != nil {
		s.Log.Error("availability lookup failed", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to get availability"})
		return
	}
	if busy == nil {
		busy = []calendar.TimeRange{}
	}
	c.JSON(http.StatusOK, gin.H{"range": r, "busy": busy, "free": len(busy) == 0})
}

func (s *server) listBookings(c *gin.Context) {
	var f bookings.Filter
	if c.Query("start_date") != "" || c.Query("end_date") != "" {
		r, err := s.rangeParams(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		f = bookings.Filter{From: r.Start, To: r.End}
	}
	recs, err := s.Bookings.List(c.Request.Context(), f)
	if err != nil {
		s.Log.Error("list bookings failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get bookings"})
		return
	}
	if recs == nil {
		recs = []bookings.Record{}
	}
	c.JSON(http.StatusOK, gin.H{"bookings": recs})
}

func (s *server) getBooking(c *gin.Context) {
	rec, err := s.Bookings.Get(c.Request.Context(), c.Param("id"))
	if errors.Is(err, bookings.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "booking not found"})
		return
	}
	if err != nil {
		s.Log.Error("get booking failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get booking"})
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (s *server) conversation(c *gin.Context) {
	sess, ok := s.Engine.Session(c.Request.Context(), KeyPrefix+c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"conversation_id": c.Param("id"),
		"session_id":      sess.ID,
		"state":           sess.State,
		"memory":          sess.Memory,
		"created_at":      sess.CreatedAt,
		"updated_at":      sess.UpdatedAt,
	})
}

type messageView struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *server) messages(c *gin.Context) {
	sess, ok := s.Engine.Session(c.Request.Context(), KeyPrefix+c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
		return
	}
	turns := s.Engine.History().Get(sess.ID)
	if len(turns) == 0 {
		turns = sess.Turns
	}
	c.JSON(http.StatusOK, gin.H{
		"conversation_id": c.Param("id"),
		"session_id":      sess.ID,
		"messages":        toMessages(turns),
	})
}

func toMessages(turns []history.Turn) []messageView {
	out := make([]messageView, len(turns))
	for i, t := range turns {
		out[i] = messageView{Role: t.Role, Content: t.Text, CreatedAt: t.At}
	}
	return out
}

// rangeParams reads the required start_date and end_date.
func (s *server) rangeParams(c *gin.Context) (calendar.TimeRange, error) {
	startRaw, endRaw := c.Query("start_date"), c.Query("end_date")
	if startRaw == "" || endRaw == "" {
		return calendar.TimeRange{}, fmt.Errorf("start_date and end_date are required")
	}
	start, _, err := s.parseDate(startRaw)
	if err != nil {
		return calendar.TimeRange{}, fmt.Errorf("start_date: %w", err)
	}
	end, dayOnly, err := s.parseDate(endRaw)
	if err != nil {
		return calendar.TimeRange{}, fmt.Errorf("end_date: %w", err)
	}
	if dayOnly {
		end = end.AddDate(0, 0, 1)
	}
	return calendar.NewTimeRange(start, end)
}

func (s *server) parseDate(v string) (time.Time, bool, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t.In(s.Location), false, nil
	}
	t, err := time.ParseInLocation("2006-01-02", v, s.Location)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("expected RFC 3339 or YYYY-MM-DD, got %q", v)
	}
	return t, true, nil
}
