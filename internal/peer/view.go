package peer

import (
	"math/rand/v2"
	"sort"
	"sync"

	"github.com/strombase/strom/internal/address"
)

// View is the bounded, address-unique partial view of cluster membership.
// It never contains an entry for the local node. A View is safe for
// concurrent use; the sampling service owns mutation while the change
// propagator only reads snapshots.
type View struct {
	mu    sync.RWMutex
	host  address.Address
	peers []Peer
}

// NewView builds a view for the node at host, seeded with the given
// peers. Seed entries matching the host address or duplicating an earlier
// address are discarded.
func NewView(host address.Address, seed []Peer) *View {
	v := &View{host: host}
	for _, p := range seed {
		if p.Address == host || v.indexOf(p.Address) >= 0 {
			continue
		}
		v.peers = append(v.peers, p)
	}
	return v
}

// Host returns the local node's address.
func (v *View) Host() address.Address { return v.host }

func (v *View) Len() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.peers)
}

// Snapshot returns a copy of the current view entries.
func (v *View) Snapshot() []Peer {
	v.mu.RLock()
	defer v.mu.RUnlock()
	snap := make([]Peer, len(v.peers))
	copy(snap, v.peers)
	return snap
}

// SelectTarget picks a peer to contact. For a push round the slowest
// refreshed (oldest) entry is preferred so that it is the first to be
// displaced if unreachable; for a pull round the choice is uniformly
// random. The second return is false when the view is empty.
func (v *View) SelectTarget(push bool) (Peer, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if len(v.peers) == 0 {
		return Peer{}, false
	}
	if !push {
		return v.peers[rand.IntN(len(v.peers))], true
	}
	oldest := 0
	for i, p := range v.peers {
		if p.Age > v.peers[oldest].Age {
			oldest = i
		}
	}
	return v.peers[oldest], true
}

// SampleHead permutes the view, moves the oldest entries to the end, and
// returns copies of up to n entries from the head. The permutation is
// part of the sampling protocol and intentionally reorders the view.
func (v *View) SampleHead(n int) []Peer {
	v.mu.Lock()
	defer v.mu.Unlock()
	rand.Shuffle(len(v.peers), func(i, j int) {
		v.peers[i], v.peers[j] = v.peers[j], v.peers[i]
	})
	v.moveOldestToEnd()
	if n > len(v.peers) {
		n = len(v.peers)
	}
	head := make([]Peer, n)
	copy(head, v.peers[:n])
	return head
}

// Tick increments the age of every entry, saturating at the maximum.
func (v *View) Tick() {
	v.mu.Lock()
	defer v.mu.Unlock()
	for i := range v.peers {
		v.peers[i].IncrementAge()
	}
}

// Contacted resets the age of the entry for addr to zero. Unknown
// addresses are a no-op.
func (v *View) Contacted(addr address.Address) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if i := v.indexOf(addr); i >= 0 {
		v.peers[i].Age = 0
	}
}

// Merge folds an externally received sample into the view: entries are
// appended (self excluded), duplicates collapse to the youngest record,
// then up to healing of the oldest entries and up to swapping of the
// sample-displaced head are dropped, and finally random entries are
// removed until the view fits capacity.
func (v *View) Merge(capacity, healing, swapping int, sample []Peer) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, p := range sample {
		if p.Address != v.host {
			v.peers = append(v.peers, p)
		}
	}
	v.dedupe()
	v.removeOldest(v.removalCount(capacity, healing))
	v.removeHead(v.removalCount(capacity, swapping))
	v.removeAtRandom(capacity)
}

// indexOf must be called with the lock held (or before the view is
// shared).
func (v *View) indexOf(addr address.Address) int {
	for i, p := range v.peers {
		if p.Address == addr {
			return i
		}
	}
	return -1
}

func (v *View) moveOldestToEnd() {
	sort.SliceStable(v.peers, func(i, j int) bool {
		return v.peers[i].Age < v.peers[j].Age
	})
}

// dedupe collapses entries sharing an address, keeping the youngest and
// preserving first-occurrence order.
func (v *View) dedupe() {
	seen := make(map[address.Address]int, len(v.peers))
	unique := v.peers[:0]
	for _, p := range v.peers {
		if i, ok := seen[p.Address]; ok {
			if p.Age < unique[i].Age {
				unique[i] = p
			}
			continue
		}
		seen[p.Address] = len(unique)
		unique = append(unique, p)
	}
	v.peers = unique
}

func (v *View) removalCount(capacity, factor int) int {
	over := len(v.peers) - capacity
	if over < 0 {
		over = 0
	}
	if factor < over {
		return factor
	}
	return over
}

func (v *View) removeOldest(n int) {
	if n <= 0 {
		return
	}
	v.moveOldestToEnd()
	v.peers = v.peers[:len(v.peers)-n]
}

func (v *View) removeHead(n int) {
	if n <= 0 {
		return
	}
	v.peers = v.peers[n:]
}

func (v *View) removeAtRandom(capacity int) {
	for len(v.peers) > capacity {
		i := rand.IntN(len(v.peers))
		v.peers = append(v.peers[:i], v.peers[i+1:]...)
	}
}
