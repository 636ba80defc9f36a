package realtime

import "sync"

// subscriptionSet tracks the channels the application wants, surviving
// reconnects so they can be replayed against a fresh connection.
// Replay order is the original subscribe order, deduplicated.
type subscriptionSet struct {
	mu       sync.Mutex
	order    []string
	channels map[string]struct{}
}

func newSubscriptionSet() *subscriptionSet {
	return &subscriptionSet{channels: make(map[string]struct{})}
}

// add records a channel; returns false if it was already present.
func (s *subscriptionSet) add(channel string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.channels[channel]; ok {
		return false
	}
	s.channels[channel] = struct{}{}
	s.order = append(s.order, channel)
	return true
}

// remove drops a channel; returns false if it was not present.
func (s *subscriptionSet) remove(channel string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.channels[channel]; !ok {
		return false
	}
	delete(s.channels, channel)
	for i, name := range s.order {
		if name == channel {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true
}

func (s *subscriptionSet) has(channel string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.channels[channel]
	return ok
}

// snapshot returns the channels in subscribe order.
func (s *subscriptionSet) snapshot() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}
