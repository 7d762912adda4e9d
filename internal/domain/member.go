package domain

import "time"

// Member represents a connection's participation in a room.
// No transport or lifecycle logic here.
type Member struct {
	Conn      ConnID
	Spectator bool
	JoinedAt  time.Time
}

func NewMember(conn ConnID, spectator bool) *Member {
	return &Member{Conn: conn, Spectator: spectator, JoinedAt: time.Now()}
}

// Waiter is a queue entry.
type Waiter struct {
	Conn       ConnID
	Category   Category
	Stake      float64
	Player     Player
	EnqueuedAt time.Time
}
