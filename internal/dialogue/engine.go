package dialogue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"booking-chatter/internal/bookings"
	"booking-chatter/internal/calendar"
	"booking-chatter/internal/history"
	"booking-chatter/internal/negotiator"
	"booking-chatter/internal/nlu"
	"booking-chatter/internal/sessionstore"
	"booking-chatter/internal/storage"
)

// maxEffects bounds how many effects one turn may chain (reprocess, negotiate, book).
const maxEffects = 6

var ErrEffectLoop = errors.New("dialogue effect loop did not settle")

// Renderer turns a response class into user-facing text.
type Renderer interface {
	Render(resp Response, now time.Time) string
}

// Options configures an Engine. Extractor, Negotiator and Provider are required;
// everything else is optional.
type Options struct {
	Machine    Machine
	Extractor  nlu.Extractor
	Negotiator *negotiator.Negotiator
	Provider   calendar.Provider
	// Horizon overrides the negotiator's candidate search window when positive.
	Horizon         time.Duration
	ProviderTimeout time.Duration
	NLUTimeout      time.Duration
	SessionTimeout  time.Duration
	Store           sessionstore.Store
	Bookings        bookings.Repository
	History         *history.Manager
	Recorder        storage.Recorder
	Renderer        Renderer
	Log             *zap.Logger
}

// Reply is what one Handle call produced.
type Reply struct {
	SessionID string   `json:"session_id"`
	State     State    `json:"state"`
	Response  Response `json:"response"`
	Text      string   `json:"text"`
	Memory    Memory   `json:"memory"`
}

type slot struct {
	// busy serializes the turns of one session and is held across provider calls.
	busy sync.Mutex

	// mu guards the fields below and is never held during I/O.
	mu      sync.Mutex
	session *Session
	// gone is set once the slot left the registry; holders must look it up again.
	gone bool
}

// load returns a working copy of the committed session, or nil.
func (s *slot) load() (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return nil, s.gone
	}
	c := s.session.clone()
	return &c, s.gone
}

func (s *slot) commit(sess *Session) {
	s.mu.Lock()
	s.session = sess
	s.mu.Unlock()
}

// Engine runs sessions keyed by conversation. Turns of one session are strictly
// serialized; different sessions proceed in parallel and never share state.
type Engine struct {
	opts Options
	log  *zap.Logger

	mu    sync.Mutex
	slots map[string]*slot
}

func NewEngine(opts Options) (*Engine, error) {
	if opts.Extractor == nil {
		return nil, fmt.Errorf("dialogue engine: extractor is required")
	}
	if opts.Negotiator == nil {
		return nil, fmt.Errorf("dialogue engine: negotiator is required")
	}
	if opts.Provider == nil {
		return nil, fmt.Errorf("dialogue engine: calendar provider is required")
	}
	if opts.Machine.DefaultDuration <= 0 {
		opts.Machine.DefaultDuration = time.Hour
	}
	if opts.History == nil {
		opts.History = history.NewManager()
	}
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{opts: opts, log: log, slots: make(map[string]*slot)}, nil
}

func (e *Engine) History() *history.Manager { return e.opts.History }

// Handle processes one user message for the conversation key.
func (e *Engine) Handle(ctx context.Context, key, text string, receivedAt time.Time) (Reply, error) {
	if key == "" {
		return Reply{}, fmt.Errorf("dialogue: empty conversation key")
	}
	x := e.extract(ctx, text)
	for {
		s := e.slotFor(ctx, key)
		s.busy.Lock()
		sess, gone := s.load()
		if gone {
			s.busy.Unlock()
			continue
		}
		reply, err := e.turn(ctx, s, key, sess, x, receivedAt)
		s.busy.Unlock()
		return reply, err
	}
}

// Session returns a copy of the last committed session for key. It never waits for a
// turn in flight and does not register unknown keys.
func (e *Engine) Session(ctx context.Context, key string) (Session, bool) {
	e.mu.Lock()
	s, ok := e.slots[key]
	e.mu.Unlock()
	if !ok {
		sess := e.restore(ctx, key)
		if sess == nil {
			return Session{}, false
		}
		return *sess, true
	}
	sess, _ := s.load()
	if sess == nil {
		return Session{}, false
	}
	return *sess, true
}

// Sweep drops idle and finished sessions together with their transcripts. Idle
// sessions that never finished are recorded as abandoned. Sessions with a turn in
// flight are not idle and are skipped. It returns how many sessions were dropped.
func (e *Engine) Sweep(ctx context.Context, now time.Time) int {
	e.mu.Lock()
	snapshot := make(map[string]*slot, len(e.slots))
	for k, s := range e.slots {
		snapshot[k] = s
	}
	e.mu.Unlock()

	dropped := 0
	for key, s := range snapshot {
		if !s.busy.TryLock() {
			continue
		}
		sess, _ := s.load()
		if sess != nil && !sess.State.Terminal() && !sess.Expired(now, e.opts.SessionTimeout) {
			s.busy.Unlock()
			continue
		}
		if sess != nil {
			if !sess.State.Terminal() {
				e.abandon(ctx, sess, now)
			}
			e.opts.History.Reset(sess.ID)
		}
		s.mu.Lock()
		s.gone = true
		s.mu.Unlock()
		e.mu.Lock()
		if e.slots[key] == s {
			delete(e.slots, key)
		}
		e.mu.Unlock()
		s.busy.Unlock()
		dropped++
	}
	if dropped > 0 {
		e.log.Info("swept sessions", zap.Int("count", dropped))
	}
	return dropped
}

func (e *Engine) extract(ctx context.Context, text string) nlu.Extraction {
	if e.opts.NLUTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.NLUTimeout)
		defer cancel()
	}
	x, err := e.opts.Extractor.Extract(ctx, text)
	if err != nil {
		e.log.Warn("extraction failed, treating message as unknown", zap.Error(err))
		return nlu.Extraction{Intent: nlu.IntentUnknown, Text: text}
	}
	x.Text = text
	return x
}

// slotFor returns the registry slot for key, restoring a stored snapshot on a miss.
// The registry lock is held only around map access.
func (e *Engine) slotFor(ctx context.Context, key string) *slot {
	e.mu.Lock()
	s, ok := e.slots[key]
	e.mu.Unlock()
	if ok {
		return s
	}

	restored := e.restore(ctx, key)

	e.mu.Lock()
	defer e.mu.Unlock()
	if s, ok := e.slots[key]; ok {
		return s
	}
	if restored != nil && len(restored.Turns) > 0 && !e.opts.History.Has(restored.ID) {
		e.opts.History.Append(restored.ID, restored.Turns...)
	}
	s = &slot{session: restored}
	e.slots[key] = s
	return s
}

func (e *Engine) restore(ctx context.Context, key string) *Session {
	if e.opts.Store == nil {
		return nil
	}
	data, err := e.opts.Store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, sessionstore.ErrNotFound) {
			e.log.Warn("session restore failed", zap.String("key", key), zap.Error(err))
		}
		return nil
	}
	sess, err := unmarshalSession(data)
	if err != nil {
		e.log.Warn("discarding bad session snapshot", zap.String("key", key), zap.Error(err))
		return nil
	}
	return sess
}

// turn runs one message through the machine on a working copy of the session and
// commits the result. The caller holds s.busy.
func (e *Engine) turn(ctx context.Context, s *slot, key string, sess *Session, x nlu.Extraction, at time.Time) (Reply, error) {
	if sess != nil && !sess.State.Terminal() && sess.Expired(at, e.opts.SessionTimeout) {
		e.abandon(ctx, sess, at)
		e.opts.History.Reset(sess.ID)
		sess = nil
	}
	if sess == nil || sess.State.Terminal() {
		if sess != nil {
			e.opts.History.Reset(sess.ID)
		}
		sess = newSession(key, at)
		s.commit(sess.cloneRef())
		e.log.Debug("session opened", zap.String("session", sess.ID), zap.String("key", key))
	}

	out, err := e.settle(ctx, sess, x, at)
	if err != nil {
		return Reply{}, err
	}

	prev := sess.State
	sess.State, sess.Memory, sess.UpdatedAt = out.State, out.Memory, at
	text := e.render(out.Response, at)
	turns := []history.Turn{
		{Role: history.RoleUser, Text: x.Text, At: at},
		{Role: history.RoleAssistant, Text: text, At: at},
	}
	sess.Turns = append(sess.Turns, turns...)
	e.opts.History.Append(sess.ID, turns...)

	if out.Response.Kind == KindFinalized {
		e.saveBooking(ctx, sess, out.Response, at)
	}
	s.commit(sess.cloneRef())
	e.record(sess, x, out.Response, text, at)
	e.persist(ctx, sess)

	e.log.Info("turn handled",
		zap.String("session", sess.ID),
		zap.String("intent", string(x.Intent)),
		zap.String("from", string(prev)),
		zap.String("to", string(sess.State)),
		zap.String("response", string(out.Response.Kind)),
	)
	return Reply{SessionID: sess.ID, State: sess.State, Response: out.Response, Text: text, Memory: sess.Memory.Clone()}, nil
}

// settle feeds the turn to the machine and carries out the effects it asks for until
// a response is ready.
func (e *Engine) settle(ctx context.Context, sess *Session, x nlu.Extraction, at time.Time) (Outcome, error) {
	ev := TurnEvent{Extraction: x, ReceivedAt: at}
	out := e.opts.Machine.Transition(sess.State, sess.Memory, ev)
	for step := 0; out.Effect.Kind != EffectNone; step++ {
		if step >= maxEffects {
			return Outcome{}, fmt.Errorf("session %s: %w", sess.ID, ErrEffectLoop)
		}
		switch out.Effect.Kind {
		case EffectNegotiate:
			r := out.Effect.Range
			res, err := e.negotiate(ctx, r)
			out = e.opts.Machine.Transition(out.State, out.Memory, NegotiatedEvent{Range: r, Result: res, Err: err})
		case EffectFinalize:
			r := out.Effect.Range
			id, err := e.book(ctx, sess, r)
			out = e.opts.Machine.Transition(out.State, out.Memory, BookedEvent{Range: r, EventID: id, Err: err})
		case EffectReprocess:
			out = e.opts.Machine.Transition(out.State, out.Memory, ev)
		default:
			return Outcome{}, fmt.Errorf("session %s: unknown effect %v", sess.ID, out.Effect.Kind)
		}
	}
	return out, nil
}

func (e *Engine) providerCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.opts.ProviderTimeout > 0 {
		return context.WithTimeout(ctx, e.opts.ProviderTimeout)
	}
	return context.WithCancel(ctx)
}

func (e *Engine) negotiate(ctx context.Context, r calendar.TimeRange) (negotiator.Result, error) {
	ctx, cancel := e.providerCtx(ctx)
	defer cancel()
	res, err := e.opts.Negotiator.Negotiate(ctx, r, e.opts.Provider, e.opts.Horizon)
	if err != nil {
		e.log.Warn("negotiation failed", zap.Stringer("range", r), zap.Error(err))
	}
	return res, err
}

func (e *Engine) book(ctx context.Context, sess *Session, r calendar.TimeRange) (id calendar.EventID, err error) {
	ctx, cancel := e.providerCtx(ctx)
	defer cancel()
	defer func() {
		if p := recover(); p != nil {
			id, err = "", fmt.Errorf("%w: create event panicked: %v", negotiator.ErrProviderUnavailable, p)
		}
	}()
	meta := calendar.EventMetadata{
		Title:       eventTitle(sess.Memory, r),
		Description: fmt.Sprintf("Booked through chat session %s", sess.ID),
		SessionID:   sess.ID,
	}
	id, err = e.opts.Provider.CreateEvent(ctx, r, meta)
	if err != nil {
		e.log.Warn("create event failed", zap.String("session", sess.ID), zap.Error(err))
		return "", fmt.Errorf("%w: %w", negotiator.ErrProviderUnavailable, err)
	}
	return id, nil
}

func eventTitle(mem Memory, r calendar.TimeRange) string {
	title := fmt.Sprintf("Appointment (%d min)", int(r.Duration()/time.Minute))
	if mem.Intent == nlu.IntentReschedule {
		title = "Rescheduled " + title
	}
	return title
}

func (e *Engine) render(resp Response, now time.Time) string {
	if e.opts.Renderer == nil {
		return string(resp.Kind)
	}
	return e.opts.Renderer.Render(resp, now)
}

func (e *Engine) saveBooking(ctx context.Context, sess *Session, resp Response, at time.Time) {
	if e.opts.Bookings == nil || resp.Range == nil {
		return
	}
	r := *resp.Range
	rec := bookings.Record{
		ID:              uuid.NewString(),
		SessionID:       sess.ID,
		ConversationKey: sess.Key,
		EventID:         string(resp.EventID),
		Title:           eventTitle(sess.Memory, r),
		Start:           r.Start,
		End:             r.End,
		Timezone:        r.Location().String(),
		Intent:          string(sess.Memory.Intent),
		CreatedAt:       at,
	}
	if err := e.opts.Bookings.Create(ctx, rec); err != nil {
		e.log.Error("failed to store booking record", zap.String("session", sess.ID), zap.Error(err))
	}
}

func (e *Engine) record(sess *Session, x nlu.Extraction, resp Response, text string, at time.Time) {
	if e.opts.Recorder == nil {
		return
	}
	ev := storage.Event{
		Timestamp:         at,
		SessionID:         sess.ID,
		ConversationKey:   sess.Key,
		Channel:           channelOf(sess.Key),
		UserMessage:       x.Text,
		AssistantResponse: text,
		Intent:            string(x.Intent),
		Response:          string(resp.Kind),
		State:             string(sess.State),
	}
	if err := e.opts.Recorder.AppendInteraction(ev); err != nil {
		e.log.Warn("failed to record interaction", zap.String("session", sess.ID), zap.Error(err))
	}
}

// persist stores the live session snapshot, or removes it once the session ended.
func (e *Engine) persist(ctx context.Context, sess *Session) {
	if e.opts.Store == nil {
		return
	}
	if sess.State.Terminal() {
		if err := e.opts.Store.Delete(ctx, sess.Key); err != nil {
			e.log.Warn("failed to drop session snapshot", zap.String("session", sess.ID), zap.Error(err))
		}
		return
	}
	data, err := marshalSession(sess)
	if err != nil {
		e.log.Error("failed to encode session", zap.String("session", sess.ID), zap.Error(err))
		return
	}
	if err := e.opts.Store.Set(ctx, sess.Key, data); err != nil {
		e.log.Warn("failed to save session snapshot", zap.String("session", sess.ID), zap.Error(err))
	}
}

// abandon closes an idle session that never reached a terminal state.
func (e *Engine) abandon(ctx context.Context, sess *Session, now time.Time) {
	e.log.Info("session abandoned", zap.String("session", sess.ID), zap.String("state", string(sess.State)))
	if e.opts.Recorder != nil {
		ev := storage.Event{
			Timestamp:       now,
			SessionID:       sess.ID,
			ConversationKey: sess.Key,
			Channel:         channelOf(sess.Key),
			Response:        ResponseAbandoned,
			State:           string(sess.State),
		}
		if err := e.opts.Recorder.AppendInteraction(ev); err != nil {
			e.log.Warn("failed to record abandoned session", zap.String("session", sess.ID), zap.Error(err))
		}
	}
	if e.opts.Store != nil {
		if err := e.opts.Store.Delete(ctx, sess.Key); err != nil {
			e.log.Warn("failed to drop session snapshot", zap.String("session", sess.ID), zap.Error(err))
		}
	}
}

// channelOf returns the transport prefix of a conversation key such as "telegram:42".
func channelOf(key string) string {
	if i := strings.IndexByte(key, ':'); i > 0 {
		return key[:i]
	}
	return ""
}

// ResponseAbandoned marks recorder events for sessions closed by inactivity.
const ResponseAbandoned = "abandoned"
