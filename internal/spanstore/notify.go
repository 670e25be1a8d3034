package spanstore

// FileEvent is raised each time a file gains a span.
type FileEvent struct {
	File  FileID
	Lines int64
	Spans int
}

// Subscription receives FileEvents until Close. Events are hints: when the
// channel is full new events are dropped, and FileStatus stays authoritative.
type Subscription struct {
	C     <-chan FileEvent
	ch    chan FileEvent
	store *Store
}

// Subscribe attaches a new subscriber with the given channel buffer.
func (s *Store) Subscribe(buffer int) *Subscription {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan FileEvent, buffer)
	sub := &Subscription{C: ch, ch: ch, store: s}
	s.subMu.Lock()
	if s.closed.Load() {
		close(ch)
	} else {
		s.subs[sub] = struct{}{}
	}
	s.subMu.Unlock()
	return sub
}

// Close detaches the subscription and closes C. Safe to call twice.
func (sub *Subscription) Close() {
	s := sub.store
	s.subMu.Lock()
	defer s.subMu.Unlock()
	if _, ok := s.subs[sub]; ok {
		delete(s.subs, sub)
		close(sub.ch)
	}
}

func (s *Store) notify(ev FileEvent) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for sub := range s.subs {
		select {
		case sub.ch <- ev:
		default:
		}
	}
}
