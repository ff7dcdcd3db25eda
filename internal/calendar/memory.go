package calendar

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// MemoryProvider is an in-process calendar used when no real backend is configured.
type MemoryProvider struct {
	mu     sync.Mutex
	busy   []TimeRange
	events map[EventID]TimeRange
	err    error
	calls  int
}

func NewMemoryProvider(busy ...TimeRange) *MemoryProvider {
	p := &MemoryProvider{events: make(map[EventID]TimeRange)}
	p.busy = append(p.busy, busy...)
	return p
}

// Fail makes every subsequent call return err. Passing nil restores normal behavior.
func (p *MemoryProvider) Fail(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

// AddBusy marks additional intervals as busy.
func (p *MemoryProvider) AddBusy(rs ...TimeRange) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.busy = append(p.busy, rs...)
}

// Calls returns how many provider calls were made, including failed ones.
func (p *MemoryProvider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func (p *MemoryProvider) ListBusy(ctx context.Context, r TimeRange) ([]TimeRange, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if p.err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProvider, p.err)
	}
	var out []TimeRange
	for _, b := range p.busy {
		if b.Overlaps(r) {
			out = append(out, b.In(r.Location()))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

func (p *MemoryProvider) CreateEvent(ctx context.Context, r TimeRange, meta EventMetadata) (EventID, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if p.err != nil {
		return "", fmt.Errorf("%w: %v", ErrProvider, p.err)
	}
	id := EventID(uuid.NewString())
	p.events[id] = r
	p.busy = append(p.busy, r)
	return id, nil
}

// Event returns the range of a previously created event.
func (p *MemoryProvider) Event(id EventID) (TimeRange, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	r, ok := p.events[id]
	return r, ok
}
