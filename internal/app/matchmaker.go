package app

import (
	"sort"
	"sync"
	"time"

	"github.com/dkeye/DuelRelay/internal/domain"
	"github.com/rs/zerolog/log"
)

// Liveness answers whether a connection can still receive messages.
type Liveness interface {
	IsLive(id domain.ConnID) bool
}

// Pairing is the outcome of a successful Enqueue. Creator is the waiter that
// was already queued, Joiner is the arrival.
type Pairing struct {
	DuelID   domain.DuelID
	Category domain.Category
	Stake    float64
	Creator  domain.Waiter
	Joiner   domain.Waiter
}

// Matchmaker keeps one FIFO waiter list per category. A connection is in at
// most one list at a time.
type Matchmaker struct {
	live Liveness

	mu     sync.Mutex
	queues map[domain.Category][]domain.Waiter
	byConn map[domain.ConnID]domain.Category

	newDuelID func() domain.DuelID
	now       func() time.Time
}

func NewMatchmaker(live Liveness) *Matchmaker {
	return &Matchmaker{
		live:      live,
		queues:    make(map[domain.Category][]domain.Waiter),
		byConn:    make(map[domain.ConnID]domain.Category),
		newDuelID: domain.NewDuelID,
		now:       time.Now,
	}
}

// Enqueue pairs w with the first live waiter of its category or appends it.
// Any previous entry of the same connection is dropped first.
func (m *Matchmaker) Enqueue(w domain.Waiter) (Pairing, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.removeLocked(w.Conn)
	if !m.live.IsLive(w.Conn) {
		return Pairing{}, false, ErrNotConnected
	}
	if w.EnqueuedAt.IsZero() {
		w.EnqueuedAt = m.now()
	}

	list := m.queues[w.Category]
	kept := list[:0]
	var (
		partner domain.Waiter
		found   bool
	)
	for _, cand := range list {
		switch {
		case found:
			kept = append(kept, cand)
		case !m.live.IsLive(cand.Conn):
			delete(m.byConn, cand.Conn)
			log.Debug().Str("module", "app.matchmaker").Str("conn", string(cand.Conn)).Msg("dropped dead waiter during scan")
		default:
			partner = cand
			found = true
			delete(m.byConn, cand.Conn)
		}
	}
	m.setListLocked(w.Category, kept)

	if !found {
		m.queues[w.Category] = append(m.queues[w.Category], w)
		m.byConn[w.Conn] = w.Category
		log.Info().Str("module", "app.matchmaker").Str("conn", string(w.Conn)).Str("category", string(w.Category)).Int("size", len(m.queues[w.Category])).Msg("queued")
		return Pairing{}, false, nil
	}

	p := Pairing{
		DuelID:   m.newDuelID(),
		Category: w.Category,
		Stake:    w.Stake,
		Creator:  partner,
		Joiner:   w,
	}
	log.Info().Str("module", "app.matchmaker").
		Str("creator", string(partner.Conn)).
		Str("joiner", string(w.Conn)).
		Str("category", string(w.Category)).
		Str("duel", string(p.DuelID)).
		Msg("paired")
	return p, true, nil
}

// Leave removes the connection from whatever queue holds it.
func (m *Matchmaker) Leave(id domain.ConnID) (domain.Category, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.removeLocked(id)
}

// Reconcile drops every waiter whose connection is gone and returns them.
func (m *Matchmaker) Reconcile() []domain.Waiter {
	m.mu.Lock()
	defer m.mu.Unlock()
	var removed []domain.Waiter
	for cat, list := range m.queues {
		kept := list[:0]
		for _, w := range list {
			if m.live.IsLive(w.Conn) {
				kept = append(kept, w)
				continue
			}
			delete(m.byConn, w.Conn)
			removed = append(removed, w)
		}
		m.setListLocked(cat, kept)
	}
	if len(removed) > 0 {
		log.Info().Str("module", "app.matchmaker").Int("removed", len(removed)).Msg("reconciled dead waiters")
	}
	return removed
}

func (m *Matchmaker) CategoryOf(id domain.ConnID) (domain.Category, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.byConn[id]
	return c, ok
}

// Snapshot returns a copy of the category's waiters in queue order.
func (m *Matchmaker) Snapshot(cat domain.Category) []domain.Waiter {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.queues[cat]
	out := make([]domain.Waiter, len(list))
	copy(out, list)
	return out
}

func (m *Matchmaker) Sizes() map[domain.Category]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[domain.Category]int, len(m.queues))
	for c, l := range m.queues {
		out[c] = len(l)
	}
	return out
}

func (m *Matchmaker) Categories() []domain.Category {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Category, 0, len(m.queues))
	for c := range m.queues {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (m *Matchmaker) Waiting() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byConn)
}

func (m *Matchmaker) removeLocked(id domain.ConnID) (domain.Category, bool) {
	cat, ok := m.byConn[id]
	if !ok {
		return "", false
	}
	delete(m.byConn, id)
	list := m.queues[cat]
	kept := list[:0]
	for _, w := range list {
		if w.Conn != id {
			kept = append(kept, w)
		}
	}
	m.setListLocked(cat, kept)
	log.Info().Str("module", "app.matchmaker").Str("conn", string(id)).Str("category", string(cat)).Msg("left queue")
	return cat, true
}

func (m *Matchmaker) setListLocked(cat domain.Category, list []domain.Waiter) {
	if len(list) == 0 {
		delete(m.queues, cat)
		return
	}
	m.queues[cat] = list
}
