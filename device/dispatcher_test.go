// SPDX-FileCopyrightText: 2025 夕月霞
// SPDX-License-Identifier: AGPL-3.0-or-later
package device

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubMachine scripts a sequence of occupancy readings and records every
// command alongside the occupancy observed just before it was sent.
type stubMachine struct {
	mu          sync.Mutex
	occupancies []int // replayed in order; last value repeats
	polls       int
	lastOcc     int
	sent        []string
	sentAtOcc   []int
	ensured     int
	commandErr  error
}

func (m *stubMachine) EnsureBufferReportEnabled() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ensured++
	return nil
}

func (m *stubMachine) PlannerOccupancy() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	occ := 0
	if len(m.occupancies) > 0 {
		occ = m.occupancies[0]
		if len(m.occupancies) > 1 {
			m.occupancies = m.occupancies[1:]
		}
	}
	m.polls++
	m.lastOcc = occ
	return occ, nil
}

func (m *stubMachine) Command(line string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.commandErr != nil {
		return m.commandErr
	}
	m.sent = append(m.sent, line)
	m.sentAtOcc = append(m.sentAtOcc, m.lastOcc)
	return nil
}

func fastConfig() DispatcherConfig {
	return DispatcherConfig{
		IdlePoll:   time.Millisecond,
		BufferPoll: time.Millisecond,
	}
}

func TestDispatcherFIFO(t *testing.T) {
	m := &stubMachine{}
	d := NewDispatcher(m, fastConfig())

	var want []string
	for i := 0; i < 20; i++ {
		line := fmt.Sprintf("G1 X%d\n", i)
		want = append(want, line)
		d.Enqueue(line)
	}

	d.Start()
	d.WaitForEmptyQueue()
	d.Stop()

	require.NoError(t, d.Err())
	assert.Equal(t, want, m.sent, "wire order must equal enqueue order")
	assert.Equal(t, 1, m.ensured, "buffer report prelude runs exactly once")
}

func TestDispatcherBarrierWaitsForDrain(t *testing.T) {
	m := &stubMachine{occupancies: []int{18, 10, 3, 1, 5}}
	d := NewDispatcher(m, fastConfig())

	d.Enqueue("M3 S90\n")
	d.Enqueue("G1 X5\n")
	d.Start()
	d.WaitForEmptyQueue()
	d.Stop()

	require.NoError(t, d.Err())
	require.Equal(t, []string{"M3 S90\n", "G1 X5\n"}, m.sent)

	// The pen actuation waits for the buffer to nearly drain: four polls
	// (18, 10, 3, 1) before occupancy reaches the barrier threshold.
	assert.LessOrEqual(t, m.sentAtOcc[0], 2)
	// The following motion goes out on the very next reading (5 <= 16).
	assert.LessOrEqual(t, m.sentAtOcc[1], 16)
}

func TestDispatcherNeverSendsAboveNiceSize(t *testing.T) {
	m := &stubMachine{occupancies: []int{18, 17, 16, 18, 12}}
	d := NewDispatcher(m, fastConfig())

	d.Enqueue("G1 X1\n")
	d.Enqueue("G1 X2\n")
	d.Start()
	d.WaitForEmptyQueue()
	d.Stop()

	require.NoError(t, d.Err())
	for i, occ := range m.sentAtOcc {
		assert.LessOrEqual(t, occ, 16, "line %d sent at occupancy %d", i, occ)
	}
}

func TestDispatcherFailureStopsWorker(t *testing.T) {
	m := &stubMachine{commandErr: errors.New("board went away")}
	d := NewDispatcher(m, fastConfig())

	d.Enqueue("G1 X1\n")
	d.Enqueue("G1 X2\n")
	d.Start()

	// The failure abandons the queue so joiners do not hang.
	d.WaitForEmptyQueue()
	d.Stop()
	assert.Error(t, d.Err())
	assert.Empty(t, m.sent)
}

func TestDispatcherStopIsCooperative(t *testing.T) {
	m := &stubMachine{}
	d := NewDispatcher(m, fastConfig())

	d.Start()
	done := make(chan struct{})
	go func() {
		d.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return")
	}
}

func TestWaitForEmptyPlannerBuffer(t *testing.T) {
	m := &stubMachine{occupancies: []int{3, 2, 0}}
	d := NewDispatcher(m, fastConfig())

	require.NoError(t, d.WaitForEmptyPlannerBuffer())
	assert.Equal(t, 3, m.polls)
}

func TestDispatcherOccupancyObserver(t *testing.T) {
	var mu sync.Mutex
	var seen []int
	cfg := fastConfig()
	cfg.OnOccupancy = func(n int, _ time.Time) {
		mu.Lock()
		seen = append(seen, n)
		mu.Unlock()
	}

	m := &stubMachine{occupancies: []int{18, 4}}
	d := NewDispatcher(m, cfg)
	d.Enqueue("G1 X1\n")
	d.Start()
	d.WaitForEmptyQueue()
	d.Stop()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{18, 4}, seen)
}

func TestDrainQueueUnblocksJoin(t *testing.T) {
	// Unstarted dispatcher: everything stays queued until drained.
	m := &stubMachine{}
	d := NewDispatcher(m, fastConfig())
	d.Enqueue("G1 X1\n")
	d.Enqueue("G1 X2\n")
	assert.Equal(t, 2, d.QueueLength())

	d.DrainQueue()
	assert.Equal(t, 0, d.QueueLength())

	done := make(chan struct{})
	go func() {
		d.WaitForEmptyQueue()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("WaitForEmptyQueue did not return after drain")
	}
}
