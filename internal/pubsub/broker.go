// Package pubsub fans plan-change notices out to live subscribers.
package pubsub

import (
	"context"
	"sync"
)

// Notice announces that a stored plan changed. Subscribers refetch the plan;
// the notice itself carries no rows.
type Notice struct {
	PlanKey  string   `json:"plan_key"`
	Revision int64    `json:"revision"`
	Action   string   `json:"action"`
	EIDs     []string `json:"eids,omitempty"`
	At       int64    `json:"at"`
}

// Broker publishes notices and delivers them to subscribers of the same plan.
type Broker interface {
	Publish(ctx context.Context, n Notice) (Notice, error)
	// Subscribe calls fn for every notice on planKey until cancel is called.
	// cancel may be called more than once.
	Subscribe(ctx context.Context, planKey string, fn func(Notice)) (cancel func(), err error)
	// Revision is the number of notices published for planKey so far.
	Revision(ctx context.Context, planKey string) (int64, error)
	Ping(ctx context.Context) error
	Close() error
}

// MemoryBroker delivers notices within one process.
type MemoryBroker struct {
	mu        sync.Mutex
	seq       int
	revisions map[string]int64
	subs      map[string]map[int]func(Notice)
}

func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{
		revisions: make(map[string]int64),
		subs:      make(map[string]map[int]func(Notice)),
	}
}

func (b *MemoryBroker) Publish(_ context.Context, n Notice) (Notice, error) {
	b.mu.Lock()
	b.revisions[n.PlanKey]++
	n.Revision = b.revisions[n.PlanKey]
	fns := make([]func(Notice), 0, len(b.subs[n.PlanKey]))
	for _, fn := range b.subs[n.PlanKey] {
		fns = append(fns, fn)
	}
	b.mu.Unlock()

	for _, fn := range fns {
		fn(n)
	}
	return n, nil
}

func (b *MemoryBroker) Subscribe(_ context.Context, planKey string, fn func(Notice)) (func(), error) {
	b.mu.Lock()
	b.seq++
	id := b.seq
	if b.subs[planKey] == nil {
		b.subs[planKey] = make(map[int]func(Notice))
	}
	b.subs[planKey][id] = fn
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs[planKey], id)
			if len(b.subs[planKey]) == 0 {
				delete(b.subs, planKey)
			}
			b.mu.Unlock()
		})
	}, nil
}

// Revision is the number of notices published for planKey so far.
func (b *MemoryBroker) Revision(_ context.Context, planKey string) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.revisions[planKey], nil
}

func (b *MemoryBroker) Ping(context.Context) error { return nil }

func (b *MemoryBroker) Close() error { return nil }
