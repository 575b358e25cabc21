package chat

import "sync"

// sequencer runs work for the same key one at a time in the order enter
// was called. Keys are independent of each other.
type sequencer struct {
	mu    sync.Mutex
	tails map[string]chan struct{}
}

func newSequencer() *sequencer {
	return &sequencer{tails: make(map[string]chan struct{})}
}

// enter reserves the next slot for key. The caller waits on the returned
// channel (nil when the slot is free already) and must call leave when done.
func (s *sequencer) enter(key string) (wait <-chan struct{}, leave func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.tails[key]
	cur := make(chan struct{})
	s.tails[key] = cur

	return prev, func() {
		close(cur)
		s.mu.Lock()
		if s.tails[key] == cur {
			delete(s.tails, key)
		}
		s.mu.Unlock()
	}
}

func (s *sequencer) pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tails)
}
