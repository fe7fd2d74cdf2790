package util

import "sync"

//DefaultSubscriberBuffer is the channel size handed to stream subscribers
const DefaultSubscriberBuffer = 256

//Subject fans values out to subscribers. A behaviour subject remembers the last
//value and replays it to new subscribers, and keeps only the latest value
//pending for a slow subscriber. A plain subject drops values for a subscriber
//whose buffer is full.
type Subject[T any] struct {
	mu        sync.Mutex
	subs      map[chan T]struct{}
	behaviour bool
	hasValue  bool
	last      T
	buffer    int
}

//NewSubject creates a stream subject
func NewSubject[T any]() *Subject[T] {
	return &Subject[T]{
		subs:   make(map[chan T]struct{}),
		buffer: DefaultSubscriberBuffer,
	}
}

//NewBehaviorSubject creates a subject holding an initial value
func NewBehaviorSubject[T any](initial T) *Subject[T] {
	return &Subject[T]{
		subs:      make(map[chan T]struct{}),
		behaviour: true,
		hasValue:  true,
		last:      initial,
		buffer:    1,
	}
}

//Subscribe returns a channel of values and a function releasing it
func (s *Subject[T]) Subscribe() (<-chan T, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan T, s.buffer)
	if s.behaviour && s.hasValue {
		ch <- s.last
	}
	s.subs[ch] = struct{}{}

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if _, ok := s.subs[ch]; ok {
				delete(s.subs, ch)
				close(ch)
			}
		})
	}
}

//Next publishes v to all subscribers
func (s *Subject[T]) Next(v T) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.behaviour {
		s.last = v
		s.hasValue = true
	}
	for ch := range s.subs {
		select {
		case ch <- v:
		default:
			if !s.behaviour {
				continue
			}
			//keep only the latest value
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- v:
			default:
			}
		}
	}
}

//Value returns the last published value of a behaviour subject
func (s *Subject[T]) Value() (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last, s.hasValue
}

//Close releases every subscriber
func (s *Subject[T]) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.subs {
		delete(s.subs, ch)
		close(ch)
	}
}
