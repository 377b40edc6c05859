package executor

import "sync"

// Signal can be used to broadcast a signal to a bunch of goroutines
type Signal struct {
	mu sync.Mutex
	c  chan struct{}
}

// NewSignal returns a Signal ready to be Broadcast
func NewSignal() *Signal {
	return &Signal{
		c: make(chan struct{}),
	}
}

// Broadcast will close the current channel and create a new one for new waiters
func (s *Signal) Broadcast() {
	s.mu.Lock()
	defer s.mu.Unlock()
	close(s.c)
	s.c = make(chan struct{})
}

// Wait returns a channel that will be closed when Broadcast is called
func (s *Signal) Wait() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.c
}
