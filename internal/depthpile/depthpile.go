// Package depthpile implements the bounded ring buffer of recent GNSS
// fixes (C4) and the manager that correlates GNSS sessions with sensor
// readings and commits them to the ring (C5). The ring itself is an
// index-addressed array with a head and size counter; no pointers escape
// into the entries it hands back.
package depthpile

import (
	"sync"

	"github.com/bramburn/argos-tracker/internal/model"
)

// Capacity is the maximum number of entries the ring ever holds,
// independent of the configured depth_pile size used for retrieval.
const Capacity = 24

// Pile is a fixed-capacity ring buffer of DepthPileEntry. Safe for
// concurrent use.
type Pile struct {
	mu      sync.Mutex
	entries [Capacity]model.DepthPileEntry
	head    int // index of the oldest entry
	size    int // number of occupied slots
}

// NewPile constructs an empty ring.
func NewPile() *Pile {
	return &Pile{}
}

// Store pushes a new entry, discarding the oldest entry when already at
// capacity.
func (p *Pile) Store(entry model.DepthPileEntry) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.size < Capacity {
		idx := (p.head + p.size) % Capacity
		p.entries[idx] = entry
		p.size++
		return
	}
	p.entries[p.head] = entry
	p.head = (p.head + 1) % Capacity
}

// indexMostRecentFirst returns ring indices from most-recent to oldest.
func (p *Pile) indexMostRecentFirst() []int {
	idxs := make([]int, p.size)
	for i := 0; i < p.size; i++ {
		idxs[i] = (p.head + p.size - 1 - i) % Capacity
	}
	return idxs
}

// Retrieve returns up to n most-recent eligible (burst_counter > 0)
// entries, most-recent-first, decrementing each returned entry's counter.
// Eligible entries are selected across the whole ring, not only
// contiguous ones; if fewer than n are eligible, returns what is
// available.
func (p *Pile) Retrieve(n int) []model.DepthPileEntry {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]model.DepthPileEntry, 0, n)
	for _, idx := range p.indexMostRecentFirst() {
		if len(out) >= n {
			break
		}
		if p.entries[idx].BurstCounter == 0 {
			continue
		}
		p.entries[idx].BurstCounter--
		out = append(out, p.entries[idx])
	}
	return out
}

// RetrieveLatest returns the single most-recent entry without
// decrementing its counter, used for the non-consuming time-sync burst
// path. The second return is false if the pile is empty.
func (p *Pile) RetrieveLatest() (model.DepthPileEntry, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.size == 0 {
		return model.DepthPileEntry{}, false
	}
	idx := (p.head + p.size - 1) % Capacity
	return p.entries[idx], true
}

// Eligible returns the count of entries with burst_counter > 0.
func (p *Pile) Eligible() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := 0
	for i := 0; i < p.size; i++ {
		idx := (p.head + i) % Capacity
		if p.entries[idx].BurstCounter > 0 {
			n++
		}
	}
	return n
}

// Len returns the total number of occupied slots, eligible or not.
func (p *Pile) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.size
}
