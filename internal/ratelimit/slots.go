package ratelimit

import (
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"
)

// hold is one acquired slot and the instant its timer frees it.
type hold struct {
	id        uint64
	releaseAt time.Time
}

// slotManager is a counting resource of capacity slots whose units free
// themselves window after acquisition. Completion of the dispatched work
// plays no part in it.
//
// Callers must hold lock around every method. Release timers take the same
// lock before touching state.
type slotManager struct {
	lock     sync.Locker
	capacity int
	window   time.Duration

	// holds is sorted by releaseAt ascending; equal instants keep acquisition order.
	holds  []hold
	nextID uint64

	// released is closed and replaced whenever waiters should re-check.
	released chan struct{}
}

func newSlotManager(lock sync.Locker, capacity int, window time.Duration) *slotManager {
	return &slotManager{
		lock:     lock,
		capacity: capacity,
		window:   window,
		released: make(chan struct{}),
	}
}

// TryAcquire takes one unit if one is free and schedules its release.
func (s *slotManager) TryAcquire() bool {
	if len(s.holds) >= s.capacity {
		return false
	}

	s.nextID++
	h := hold{id: s.nextID, releaseAt: time.Now().Add(s.window)}
	i := sort.Search(len(s.holds), func(i int) bool {
		return s.holds[i].releaseAt.After(h.releaseAt)
	})
	s.holds = slices.Insert(s.holds, i, h)

	id := h.id
	time.AfterFunc(s.window, func() {
		s.lock.Lock()
		defer s.lock.Unlock()
		s.release(id)
	})
	return true
}

func (s *slotManager) release(id uint64) {
	i := slices.IndexFunc(s.holds, func(h hold) bool { return h.id == id })
	if i < 0 {
		panic(fmt.Sprintf("ratelimit: slot %d released twice", id))
	}
	s.holds = slices.Delete(s.holds, i, i+1)
	s.signal()
}

func (s *slotManager) signal() {
	close(s.released)
	s.released = make(chan struct{})
}

// WaitForAnyRelease returns a channel closed at the next release or re-check request.
func (s *slotManager) WaitForAnyRelease() <-chan struct{} {
	return s.released
}

func (s *slotManager) ActiveCount() int {
	return len(s.holds)
}

// Available is the number of units that could be acquired right now.
func (s *slotManager) Available() int {
	if n := s.capacity - len(s.holds); n > 0 {
		return n
	}
	return 0
}

// NextReleaseAt reports when the soonest hold frees up.
func (s *slotManager) NextReleaseAt() (time.Time, bool) {
	if len(s.holds) == 0 {
		return time.Time{}, false
	}
	return s.holds[0].releaseAt, true
}

// ReleaseAt returns the n-th soonest (0-based) pending release.
func (s *slotManager) ReleaseAt(n int) (time.Time, bool) {
	if n < 0 || n >= len(s.holds) {
		return time.Time{}, false
	}
	return s.holds[n].releaseAt, true
}

// Reconfigure changes capacity and window for future acquisitions. Existing
// holds keep their scheduled release.
func (s *slotManager) Reconfigure(capacity int, window time.Duration) {
	grew := capacity > s.capacity
	s.capacity = capacity
	s.window = window
	if grew {
		s.signal()
	}
}
