package testutil

import (
	"context"
	"sync"

	"github.com/meterline/meterline/internal/publisher"
	"github.com/meterline/meterline/internal/types"
)

var _ publisher.HintPublisher = (*InMemoryHintPublisher)(nil)

// InMemoryHintPublisher records migration hints instead of sending them to a
// broker. Tests assert on the recorded hints; a drop toggle simulates a full
// publish buffer.
type InMemoryHintPublisher struct {
	mu       sync.Mutex
	hints    []*types.MigrationHint
	dropped  int64
	DropNext bool
	closed   bool
}

func NewInMemoryHintPublisher() *InMemoryHintPublisher {
	return &InMemoryHintPublisher{
		hints: make([]*types.MigrationHint, 0),
	}
}

func (p *InMemoryHintPublisher) Enqueue(_ context.Context, hint *types.MigrationHint) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed || p.DropNext {
		p.DropNext = false
		p.dropped++
		return
	}
	p.hints = append(p.hints, hint)
}

func (p *InMemoryHintPublisher) Dropped() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dropped
}

func (p *InMemoryHintPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// Hints returns a snapshot of everything enqueued so far.
func (p *InMemoryHintPublisher) Hints() []*types.MigrationHint {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]*types.MigrationHint, len(p.hints))
	copy(out, p.hints)
	return out
}

// Clear resets the recorded hints and drop counter between tests.
func (p *InMemoryHintPublisher) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.hints = p.hints[:0]
	p.dropped = 0
	p.DropNext = false
	p.closed = false
}
