package app

import (
	"sync"
	"testing"

	"github.com/dkeye/DuelRelay/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

type liveSet struct {
	mu   sync.Mutex
	dead map[domain.ConnID]bool
}

func newLiveSet() *liveSet { return &liveSet{dead: map[domain.ConnID]bool{}} }

func (l *liveSet) IsLive(id domain.ConnID) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return !l.dead[id]
}

func (l *liveSet) kill(id domain.ConnID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.dead[id] = true
}

func waiter(id domain.ConnID, cat domain.Category) domain.Waiter {
	return domain.Waiter{Conn: id, Category: cat, Stake: 0.1}
}

func TestMatchmakerPairsSecondArrival(t *testing.T) {
	m := NewMatchmaker(newLiveSet())

	_, matched, err := m.Enqueue(waiter("c1", "general"))
	require.NoError(t, err)
	assert.False(t, matched)

	p, matched, err := m.Enqueue(waiter("c2", "general"))
	require.NoError(t, err)
	require.True(t, matched)
	assert.Equal(t, domain.ConnID("c1"), p.Creator.Conn)
	assert.Equal(t, domain.ConnID("c2"), p.Joiner.Conn)
	assert.Equal(t, domain.Category("general"), p.Category)
	assert.Len(t, string(p.DuelID), 66)
	assert.Equal(t, 0, m.Waiting())
}

func TestMatchmakerCategoriesAreIsolated(t *testing.T) {
	m := NewMatchmaker(newLiveSet())
	_, _, _ = m.Enqueue(waiter("c1", "general"))
	_, matched, _ := m.Enqueue(waiter("c2", "sports"))
	assert.False(t, matched)
	assert.Equal(t, map[domain.Category]int{"general": 1, "sports": 1}, m.Sizes())
}

func TestMatchmakerRequeueDoesNotSelfPair(t *testing.T) {
	m := NewMatchmaker(newLiveSet())
	_, _, _ = m.Enqueue(waiter("c1", "general"))
	_, matched, _ := m.Enqueue(waiter("c1", "general"))
	assert.False(t, matched)
	assert.Len(t, m.Snapshot("general"), 1)

	_, _, _ = m.Enqueue(waiter("c1", "sports"))
	_, ok := m.CategoryOf("c1")
	assert.True(t, ok)
	assert.Empty(t, m.Snapshot("general"))
}

func TestMatchmakerSkipsDeadWaiters(t *testing.T) {
	live := newLiveSet()
	m := NewMatchmaker(live)
	_, _, _ = m.Enqueue(waiter("c1", "general"))
	_, _, _ = m.Enqueue(waiter("c2", "sports"))
	live.kill("c1")

	_, matched, err := m.Enqueue(waiter("c3", "general"))
	require.NoError(t, err)
	assert.False(t, matched)

	list := m.Snapshot("general")
	require.Len(t, list, 1)
	assert.Equal(t, domain.ConnID("c3"), list[0].Conn)
	_, ok := m.CategoryOf("c1")
	assert.False(t, ok)
}

func TestMatchmakerRejectsDeadRequester(t *testing.T) {
	live := newLiveSet()
	live.kill("c1")
	m := NewMatchmaker(live)
	_, _, err := m.Enqueue(waiter("c1", "general"))
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.Equal(t, 0, m.Waiting())
}

func TestMatchmakerLeaveIsIdempotent(t *testing.T) {
	m := NewMatchmaker(newLiveSet())
	_, _, _ = m.Enqueue(waiter("c1", "general"))

	cat, ok := m.Leave("c1")
	assert.True(t, ok)
	assert.Equal(t, domain.Category("general"), cat)

	_, ok = m.Leave("c1")
	assert.False(t, ok)
	assert.Empty(t, m.Sizes())
}

func TestMatchmakerReconcile(t *testing.T) {
	live := newLiveSet()
	m := NewMatchmaker(live)
	_, _, _ = m.Enqueue(waiter("c1", "general"))
	_, _, _ = m.Enqueue(waiter("c2", "sports"))
	live.kill("c1")

	removed := m.Reconcile()
	require.Len(t, removed, 1)
	assert.Equal(t, domain.ConnID("c1"), removed[0].Conn)
	assert.Equal(t, map[domain.Category]int{"sports": 1}, m.Sizes())
}

// Any interleaving of enqueue/leave/death keeps every connection in at most
// one queue slot, and pairings never join a connection with itself.
func TestPropertyQueueAtMostOnce(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		live := newLiveSet()
		m := NewMatchmaker(live)
		conns := []domain.ConnID{"c1", "c2", "c3", "c4", "c5"}
		cats := []domain.Category{"general", "sports"}

		steps := rapid.IntRange(1, 60).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			id := rapid.SampledFrom(conns).Draw(t, "conn")
			switch rapid.IntRange(0, 3).Draw(t, "op") {
			case 0, 1:
				cat := rapid.SampledFrom(cats).Draw(t, "cat")
				p, matched, err := m.Enqueue(waiter(id, cat))
				if err != nil {
					continue
				}
				if matched {
					if p.Creator.Conn == p.Joiner.Conn {
						t.Fatalf("self pairing for %s", id)
					}
					if p.Creator.Category != cat {
						t.Fatalf("cross-category pairing")
					}
				}
			case 2:
				m.Leave(id)
			case 3:
				live.kill(id)
				m.Reconcile()
			}

			seen := map[domain.ConnID]int{}
			for _, c := range cats {
				for _, w := range m.Snapshot(c) {
					seen[w.Conn]++
				}
			}
			for conn, n := range seen {
				if n > 1 {
					t.Fatalf("%s appears %d times", conn, n)
				}
			}
			if len(seen) != m.Waiting() {
				t.Fatalf("index out of sync: %d listed, %d indexed", len(seen), m.Waiting())
			}
		}
	})
}
