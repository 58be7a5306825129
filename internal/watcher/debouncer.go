package watcher

import (
	"sort"
	"sync"
	"time"
)

// Change is one coalesced file event.
type Change struct {
	Kind string
	ID   string
}

// batcher collects changes and emits them once no new change has arrived for
// delay. Repeated changes to one identifier collapse into the latest kind.
type batcher struct {
	delay time.Duration
	emit  func([]Change)

	mu      sync.Mutex
	timer   *time.Timer
	pending map[string]string
}

func newBatcher(delay time.Duration, emit func([]Change)) *batcher {
	return &batcher{delay: delay, emit: emit, pending: make(map[string]string)}
}

func (b *batcher) add(kind, id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if prev, ok := b.pending[id]; ok && prev == KindCreated && kind == KindUpdated {
		kind = KindCreated
	}
	b.pending[id] = kind
	if b.timer != nil {
		b.timer.Stop()
	}
	b.timer = time.AfterFunc(b.delay, b.flush)
}

func (b *batcher) flush() {
	b.mu.Lock()
	pending := b.pending
	b.pending = make(map[string]string)
	b.timer = nil
	b.mu.Unlock()

	if len(pending) == 0 {
		return
	}
	out := make([]Change, 0, len(pending))
	for id, kind := range pending {
		out = append(out, Change{Kind: kind, ID: id})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	b.emit(out)
}

func (b *batcher) stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	b.pending = make(map[string]string)
}
