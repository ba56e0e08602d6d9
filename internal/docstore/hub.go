package docstore

import (
	"context"
	"strconv"
	"sync"

	"offbeat/internal/ports"
)

// Ordering decides whether next should be delivered to a subscriber that last saw prev.
type Ordering func(prev, next ports.Snapshot) bool

// ChangedVersion delivers any snapshot whose existence or version differs.
func ChangedVersion(prev, next ports.Snapshot) bool {
	return prev.Exists != next.Exists || prev.Version != next.Version
}

// IncreasingVersion delivers only numerically newer versions of an existing document.
func IncreasingVersion(prev, next ports.Snapshot) bool {
	if prev.Exists != next.Exists {
		return true
	}
	if !next.Exists {
		return false
	}
	return ParseVersion(next.Version) > ParseVersion(prev.Version)
}

// ParseVersion reads a numeric version string; anything else is zero.
func ParseVersion(v string) uint64 {
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// FormatVersion renders a numeric version.
func FormatVersion(v uint64) string {
	if v == 0 {
		return ""
	}
	return strconv.FormatUint(v, 10)
}

// Hub fans snapshots out to per-document subscribers. Delivery is latest-wins:
// a slow subscriber skips intermediate snapshots but never goes backwards.
type Hub struct {
	mu    sync.Mutex
	subs  map[string]map[*subscription]struct{}
	order Ordering
}

type subscription struct {
	mu     sync.Mutex
	ch     chan ports.Snapshot
	last   ports.Snapshot
	seen   bool
	closed bool
}

// NewHub creates a hub. A nil order uses ChangedVersion.
func NewHub(order Ordering) *Hub {
	if order == nil {
		order = ChangedVersion
	}
	return &Hub{subs: map[string]map[*subscription]struct{}{}, order: order}
}

// Subscribe registers a subscriber for id and offers initial to it. The channel
// closes once ctx is done.
func (h *Hub) Subscribe(ctx context.Context, id string, initial ports.Snapshot) <-chan ports.Snapshot {
	sub := &subscription{ch: make(chan ports.Snapshot, 1)}

	h.mu.Lock()
	if h.subs[id] == nil {
		h.subs[id] = map[*subscription]struct{}{}
	}
	h.subs[id][sub] = struct{}{}
	h.mu.Unlock()

	sub.offer(initial, h.order)

	go func() {
		<-ctx.Done()
		h.mu.Lock()
		delete(h.subs[id], sub)
		if len(h.subs[id]) == 0 {
			delete(h.subs, id)
		}
		h.mu.Unlock()
		sub.close()
	}()
	return sub.ch
}

// Publish offers snap to every subscriber of snap.ID.
func (h *Hub) Publish(snap ports.Snapshot) {
	h.mu.Lock()
	subs := make([]*subscription, 0, len(h.subs[snap.ID]))
	for s := range h.subs[snap.ID] {
		subs = append(subs, s)
	}
	h.mu.Unlock()

	for _, s := range subs {
		s.offer(snap, h.order)
	}
}

// Subscribers counts live subscribers of id.
func (h *Hub) Subscribers(id string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[id])
}

func (s *subscription) offer(snap ports.Snapshot, order Ordering) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if s.seen && !order(s.last, snap) {
		return
	}
	if snap.Data != nil {
		data, err := Clone(snap.Data)
		if err != nil {
			return
		}
		snap.Data = data
	}
	s.last, s.seen = snap, true
	select {
	case <-s.ch:
	default:
	}
	s.ch <- snap
}

func (s *subscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}
