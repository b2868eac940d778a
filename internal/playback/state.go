// Package playback presents confirmed captures and hands them on to the
// gallery once the presentation ends.
package playback

import (
	"fmt"
	"sync"
)

// Side is the half of the stage a capture came from.
type Side int

const (
	Left Side = iota
	Right
)

// SideForSlot derives the side from slot parity: even slots are Left.
func SideForSlot(slot int) Side {
	if slot%2 == 0 {
		return Left
	}
	return Right
}

func (s Side) String() string {
	switch s {
	case Left:
		return "Left"
	case Right:
		return "Right"
	default:
		return fmt.Sprintf("Side(%d)", int(s))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Side) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// State tells dependents whether any presentation is running. Only the
// Presenter changes it; everyone else reads or subscribes.
type State struct {
	mu     sync.Mutex
	active int
	subs   map[chan bool]struct{}
}

// NewState returns an inactive state.
func NewState() *State {
	return &State{subs: make(map[chan bool]struct{})}
}

// Active reports whether at least one presentation is running.
func (s *State) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active > 0
}

// Subscribe returns a channel that always holds the most recent change and
// a cleanup function that closes it.
func (s *State) Subscribe() (<-chan bool, func()) {
	ch := make(chan bool, 1)
	s.mu.Lock()
	s.subs[ch] = struct{}{}
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, ch)
			close(ch)
			s.mu.Unlock()
		})
	}
}

func (s *State) begin() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active++
	if s.active == 1 {
		s.notify(true)
	}
}

func (s *State) end() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == 0 {
		return
	}
	s.active--
	if s.active == 0 {
		s.notify(false)
	}
}

// notify must be called with mu held.
func (s *State) notify(active bool) {
	for ch := range s.subs {
		select {
		case <-ch:
		default:
		}
		ch <- active
	}
}
