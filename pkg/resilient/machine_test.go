package resilient

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func openMachine(t *testing.T, cfg MachineConfig) *Machine {
	t.Helper()
	m := NewMachine(cfg)
	require.Equal(t, []Action{Dial{}}, m.Start())
	m.Handle(Opened{})
	require.Equal(t, StateOpen, m.State())
	return m
}

func TestMachineFlushesQueueInOrder(t *testing.T) {
	m := NewMachine(MachineConfig{})
	m.Start()
	assert.Empty(t, m.Handle(SendRequested{Payload: []byte("a")}))
	assert.Empty(t, m.Handle(SendRequested{Payload: []byte("b")}))
	assert.Equal(t, 2, m.Queued())

	got := m.Handle(Opened{})
	assert.Equal(t, []Action{
		StartHeartbeat{},
		Transmit{Payload: []byte("a")},
		Transmit{Payload: []byte("b")},
	}, got)
	assert.Zero(t, m.Queued())

	assert.Equal(t, []Action{Transmit{Payload: []byte("c")}}, m.Handle(SendRequested{Payload: []byte("c")}))
}

func TestMachineWriteFailureRequeuesAndReconnects(t *testing.T) {
	m := openMachine(t, MachineConfig{RetryBase: 10 * time.Millisecond, RetryMax: time.Second})

	got := m.Handle(WriteFailed{Unsent: [][]byte{[]byte("a"), []byte("b")}})
	assert.Equal(t, []Action{
		StopHeartbeat{},
		CloseTransport{},
		ScheduleReconnect{Delay: 10 * time.Millisecond, Attempt: 1},
	}, got)
	assert.Equal(t, StateReconnecting, m.State())
	assert.Equal(t, 2, m.Queued())

	// A send while reconnecting lands behind the unsent payloads.
	assert.Empty(t, m.Handle(SendRequested{Payload: []byte("c")}))
	assert.Equal(t, []Action{
		StartHeartbeat{},
		Transmit{Payload: []byte("a")},
		Transmit{Payload: []byte("b")},
		Transmit{Payload: []byte("c")},
	}, m.Handle(Opened{}))
}

func TestMachineWriteFailureOutsideOpen(t *testing.T) {
	m := NewMachine(MachineConfig{MaxQueued: 1})
	m.Start()
	assert.Empty(t, m.Handle(WriteFailed{Unsent: [][]byte{[]byte("a"), []byte("b")}}))
	assert.Equal(t, StateConnecting, m.State())
	assert.Equal(t, 1, m.Queued())
	assert.Equal(t, 1, m.Dropped())

	m.Handle(CloseRequested{})
	assert.Empty(t, m.Handle(WriteFailed{Unsent: [][]byte{[]byte("c")}}))
	assert.Zero(t, m.Queued())
}

func TestMachineQueueDropsOldest(t *testing.T) {
	m := NewMachine(MachineConfig{MaxQueued: 2})
	m.Start()
	for _, p := range []string{"a", "b", "c"} {
		m.Handle(SendRequested{Payload: []byte(p)})
	}
	assert.Equal(t, 1, m.Dropped())

	got := m.Handle(Opened{})
	assert.Equal(t, []Action{
		StartHeartbeat{},
		Transmit{Payload: []byte("b")},
		Transmit{Payload: []byte("c")},
	}, got)
}

func TestMachineHeartbeatForcesClose(t *testing.T) {
	m := openMachine(t, MachineConfig{})

	for i := 1; i <= 4; i++ {
		assert.Equal(t, []Action{SendHeartbeat{}}, m.Handle(HeartbeatTick{}))
		assert.Equal(t, i, m.Missed())
	}

	got := m.Handle(HeartbeatTick{})
	assert.Equal(t, []Action{
		StopHeartbeat{},
		CloseTransport{},
		ScheduleReconnect{Delay: time.Second, Attempt: 1},
	}, got)
	assert.Equal(t, StateReconnecting, m.State())

	// The transport close that follows is already accounted for.
	assert.Empty(t, m.Handle(TransportClosed{}))
}

func TestMachineReplyResetsMissed(t *testing.T) {
	m := openMachine(t, MachineConfig{})
	for i := 0; i < 4; i++ {
		m.Handle(HeartbeatTick{})
	}
	m.Handle(ReplyReceived{})
	assert.Zero(t, m.Missed())
	assert.Equal(t, []Action{SendHeartbeat{}}, m.Handle(HeartbeatTick{}))
	assert.Equal(t, StateOpen, m.State())
}

func TestMachineBackoffSequence(t *testing.T) {
	m := NewMachine(MachineConfig{RetryBase: time.Second, RetryMax: 30 * time.Second})
	m.Start()

	want := []time.Duration{1, 2, 4, 8, 16, 30, 30}
	for i, w := range want {
		got := m.Handle(DialFailed{})
		require.Len(t, got, 1)
		assert.Equal(t, ScheduleReconnect{Delay: w * time.Second, Attempt: i + 1}, got[0])
		assert.Equal(t, []Action{Dial{}}, m.Handle(RetryDue{}))
	}
}

func TestMachineBackoffResetsAfterOpen(t *testing.T) {
	m := openMachine(t, MachineConfig{RetryBase: time.Second})
	m.Handle(TransportClosed{})
	m.Handle(RetryDue{})
	got := m.Handle(DialFailed{})
	assert.Equal(t, []Action{ScheduleReconnect{Delay: 2 * time.Second, Attempt: 2}}, got)

	m.Handle(RetryDue{})
	m.Handle(Opened{})
	got = m.Handle(TransportClosed{})
	assert.Equal(t, []Action{StopHeartbeat{}, ScheduleReconnect{Delay: time.Second, Attempt: 1}}, got)
}

func TestMachineMaxAttempts(t *testing.T) {
	m := NewMachine(MachineConfig{MaxAttempts: 2})
	m.Start()
	m.Handle(SendRequested{Payload: []byte("x")})

	m.Handle(DialFailed{})
	m.Handle(RetryDue{})
	m.Handle(DialFailed{})
	m.Handle(RetryDue{})
	got := m.Handle(DialFailed{})

	assert.Equal(t, []Action{Fail{Err: ErrRetriesExhausted}}, got)
	assert.Equal(t, StateClosed, m.State())
	assert.Zero(t, m.Queued())
}

func TestMachineCloseDisablesReconnect(t *testing.T) {
	m := openMachine(t, MachineConfig{})

	assert.Equal(t, []Action{StopHeartbeat{}, CloseTransport{}}, m.Handle(CloseRequested{}))
	assert.Equal(t, StateClosed, m.State())

	assert.Empty(t, m.Handle(TransportClosed{}))
	assert.Empty(t, m.Handle(DialFailed{}))
	assert.Empty(t, m.Handle(RetryDue{}))
	assert.Empty(t, m.Handle(HeartbeatTick{}))
	assert.Empty(t, m.Handle(SendRequested{Payload: []byte("late")}))
	assert.Equal(t, []Action{CloseTransport{}}, m.Handle(Opened{}))
	assert.Equal(t, StateClosed, m.State())
}

func TestMachineCloseWhileReconnecting(t *testing.T) {
	m := NewMachine(MachineConfig{})
	m.Start()
	m.Handle(DialFailed{})
	assert.Empty(t, m.Handle(CloseRequested{}))
	assert.Empty(t, m.Handle(RetryDue{}))
}

func TestPropertyBackoffIsCappedDoubling(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		base := time.Duration(rapid.IntRange(1, 1000).Draw(t, "base_ms")) * time.Millisecond
		ceiling := base * time.Duration(rapid.IntRange(1, 100).Draw(t, "cap_factor"))
		n := rapid.IntRange(0, 20).Draw(t, "attempts")

		m := NewMachine(MachineConfig{RetryBase: base, RetryMax: ceiling})
		m.Start()
		var last ScheduleReconnect
		for i := 0; i <= n; i++ {
			got := m.Handle(DialFailed{})
			if len(got) != 1 {
				t.Fatalf("attempt %d: got %v", i, got)
			}
			last = got[0].(ScheduleReconnect)
			m.Handle(RetryDue{})
		}

		want := base << n
		if want > ceiling {
			want = ceiling
		}
		if last.Delay != want {
			t.Fatalf("attempt %d: delay %v, want %v", n, last.Delay, want)
		}
	})
}
