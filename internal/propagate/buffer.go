package propagate

import (
	"sync"

	"github.com/google/uuid"
	"github.com/strombase/strom/internal/address"
	"github.com/strombase/strom/internal/changelog"
)

type bufferEntry struct {
	rec       changelog.Record
	remaining int
	sentTo    map[address.Address]struct{}
}

// buffer holds local changes not yet assumed propagated. Capacity is
// fixed; pushing past it evicts the oldest entry, so propagation is
// best-effort and the periodic anti-entropy rounds remain the durable
// path. An entry leaves the buffer once it has been sent to its fanout
// count of distinct peers.
type buffer struct {
	mu       sync.Mutex
	capacity int
	entries  []*bufferEntry
}

func newBuffer(capacity int) *buffer {
	return &buffer{capacity: capacity}
}

func (b *buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// Push appends a record with the given remaining fanout, evicting the
// oldest entry when full.
func (b *buffer) Push(rec changelog.Record, fanout int) {
	if fanout <= 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.entries) >= b.capacity {
		b.entries = b.entries[1:]
	}
	b.entries = append(b.entries, &bufferEntry{
		rec:       rec,
		remaining: fanout,
		sentTo:    make(map[address.Address]struct{}),
	})
}

// Pending returns the buffered records not yet sent to target.
func (b *buffer) Pending(target address.Address) []changelog.Record {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []changelog.Record
	for _, e := range b.entries {
		if _, ok := e.sentTo[target]; !ok {
			out = append(out, e.rec)
		}
	}
	return out
}

// MarkSent records a successful delivery of the given change ids to
// target, retiring entries whose fanout is exhausted.
func (b *buffer) MarkSent(target address.Address, ids []uuid.UUID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sent := make(map[uuid.UUID]struct{}, len(ids))
	for _, id := range ids {
		sent[id] = struct{}{}
	}
	kept := b.entries[:0]
	for _, e := range b.entries {
		if _, ok := sent[e.rec.ChangeID]; ok {
			if _, dup := e.sentTo[target]; !dup {
				e.sentTo[target] = struct{}{}
				e.remaining--
			}
		}
		if e.remaining > 0 {
			kept = append(kept, e)
		}
	}
	b.entries = kept
}
