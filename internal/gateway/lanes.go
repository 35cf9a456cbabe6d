package gateway

import (
	"sync"

	"github.com/nextlevelbuilder/clawrelay/internal/bus"
)

// laneSet runs turns sequentially per conversation and concurrently across
// conversations. A lane's goroutine exits once its queue is empty.
type laneSet struct {
	run func(bus.InboundMessage)

	mu     sync.Mutex
	lanes  map[string]*lane
	closed bool
	wg     sync.WaitGroup
}

type lane struct {
	queue []bus.InboundMessage
}

func newLaneSet(run func(bus.InboundMessage)) *laneSet {
	return &laneSet{run: run, lanes: make(map[string]*lane)}
}

// enqueue appends msg to key's lane, starting the lane if it is idle.
// It reports false once the set is closed.
func (s *laneSet) enqueue(key string, msg bus.InboundMessage) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	if l, ok := s.lanes[key]; ok {
		l.queue = append(l.queue, msg)
		return true
	}
	l := &lane{queue: []bus.InboundMessage{msg}}
	s.lanes[key] = l
	s.wg.Add(1)
	go s.drain(key, l)
	return true
}

func (s *laneSet) drain(key string, l *lane) {
	defer s.wg.Done()
	for {
		s.mu.Lock()
		if len(l.queue) == 0 {
			delete(s.lanes, key)
			s.mu.Unlock()
			return
		}
		msg := l.queue[0]
		l.queue = l.queue[1:]
		s.mu.Unlock()

		s.run(msg)
	}
}

// stats returns the number of active lanes and queued turns.
func (s *laneSet) stats() (active, queued int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range s.lanes {
		queued += len(l.queue)
	}
	return len(s.lanes), queued
}

// close rejects new turns and waits for queued ones to finish.
func (s *laneSet) close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.wg.Wait()
}
