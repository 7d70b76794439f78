package capability

import (
	"errors"
	"sync"

	"github.com/localrivet/jobwire/protocol"
)

// Synchronizer joins a snapshot fetched by invocation with the stream of
// notifications for the same value.
//
// A handler registers the Synchronizer as the toolkit listener before it
// fetches the snapshot. Notifications arriving meanwhile are held back. Once
// Synchronize is called with the snapshot, the snapshot goes downstream
// first, followed by the held notifications newer than it. From then on
// notifications pass straight through.
type Synchronizer struct {
	downstream NotificationListener

	// mu is held while delivering so that snapshot replay and live
	// notifications cannot interleave.
	mu      sync.Mutex
	pending []protocol.Notification
	synced  bool
}

// NewSynchronizer creates a Synchronizer delivering to downstream.
func NewSynchronizer(downstream NotificationListener) *Synchronizer {
	return &Synchronizer{downstream: downstream}
}

// HandleNotification implements NotificationListener.
func (s *Synchronizer) HandleNotification(n protocol.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.synced {
		s.pending = append(s.pending, n)
		return nil
	}
	return s.downstream.HandleNotification(n)
}

// Synchronize delivers snapshot, then every held notification whose sequence
// is greater than the last snapshot sequence. Notifications in snapshot must
// be in sequence order. Calling Synchronize again has no effect.
func (s *Synchronizer) Synchronize(snapshot ...protocol.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.synced {
		return nil
	}
	s.synced = true

	pending := s.pending
	s.pending = nil

	var errs []error
	last := int64(-1)
	for _, n := range snapshot {
		if err := s.downstream.HandleNotification(n); err != nil {
			errs = append(errs, err)
		}
		last = n.Sequence
	}
	for _, n := range pending {
		if n.Sequence <= last {
			continue
		}
		if err := s.downstream.HandleNotification(n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Synced reports whether Synchronize has been called.
func (s *Synchronizer) Synced() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.synced
}
