package call

import (
	"sync"
	"time"

	"github.com/rajnish8869/Pulse/internal/domain"
)

type armedTimer struct {
	t   *time.Timer
	gen uint64
}

// timerService owns all watchdog timers, keyed by call id. At most one timer
// is armed per call; arming replaces the previous one and Cancel is atomic
// with respect to firing, so a timer can never run after teardown.
type timerService struct {
	mu    sync.Mutex
	gen   uint64
	armed map[domain.CallID]*armedTimer
}

func newTimerService() *timerService {
	return &timerService{armed: make(map[domain.CallID]*armedTimer)}
}

func (s *timerService) Arm(id domain.CallID, d time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.armed[id]; ok {
		cur.t.Stop()
	}
	s.gen++
	g := s.gen
	at := &armedTimer{gen: g}
	at.t = time.AfterFunc(d, func() {
		s.mu.Lock()
		cur, ok := s.armed[id]
		if !ok || cur.gen != g {
			// Cancelled or re-armed between firing and locking.
			s.mu.Unlock()
			return
		}
		delete(s.armed, id)
		s.mu.Unlock()
		fn()
	})
	s.armed[id] = at
}

func (s *timerService) Cancel(id domain.CallID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.armed[id]; ok {
		cur.t.Stop()
		delete(s.armed, id)
	}
}
