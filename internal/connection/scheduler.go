package connection

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Key identifies one player's seat in one match.
type Key struct {
	MatchID  string
	PlayerID string
}

// GraceScheduler runs at most one pending grace timer per key. Scheduling
// while a timer is pending replaces it, so rapid disconnect/reconnect
// flapping collapses into a single timer measured from the latest
// disconnect. Cancel is a hard cancel; a cancelled timer never fires.
type GraceScheduler struct {
	mu     sync.Mutex
	timers map[Key]*time.Timer
	gens   map[Key]uint64
	// seq mints generations for every key and is never reset. An expired
	// callback still waiting on mu holds its generation; if Cancel let a
	// later Schedule mint that number again, the stale callback would pass
	// the staleness check and fire with zero grace.
	seq    uint64
	logger *zap.Logger
	closed bool
}

// NewGraceScheduler returns an empty scheduler.
func NewGraceScheduler(logger *zap.Logger) *GraceScheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GraceScheduler{
		timers: make(map[Key]*time.Timer),
		gens:   make(map[Key]uint64),
		logger: logger,
	}
}

// Schedule arms the timer for key, replacing any pending one. fn runs on its
// own goroutine after delay unless the timer is cancelled or superseded
// first.
func (s *GraceScheduler) Schedule(key Key, delay time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if timer, ok := s.timers[key]; ok {
		timer.Stop()
	}
	s.seq++
	gen := s.seq
	s.gens[key] = gen

	s.timers[key] = time.AfterFunc(delay, func() {
		// A stale generation means the timer was superseded or cancelled
		// after this callback was already committed to run.
		s.mu.Lock()
		if s.closed || s.gens[key] != gen {
			s.mu.Unlock()
			return
		}
		delete(s.timers, key)
		delete(s.gens, key)
		s.mu.Unlock()
		fn()
	})

	s.logger.Debug("grace timer armed",
		zap.String("match_id", key.MatchID),
		zap.String("player_id", key.PlayerID),
		zap.Duration("delay", delay),
	)
}

// Cancel stops any pending timer for key.
func (s *GraceScheduler) Cancel(key Key) {
	s.mu.Lock()
	defer s.mu.Unlock()
	timer, ok := s.timers[key]
	if !ok {
		return
	}
	timer.Stop()
	delete(s.timers, key)
	delete(s.gens, key)

	s.logger.Debug("grace timer cancelled",
		zap.String("match_id", key.MatchID),
		zap.String("player_id", key.PlayerID),
	)
}

// Pending reports whether a timer is armed for key.
func (s *GraceScheduler) Pending(key Key) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.timers[key]
	return ok
}

// Close cancels every pending timer. The scheduler accepts no further work.
func (s *GraceScheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for key, timer := range s.timers {
		timer.Stop()
		delete(s.timers, key)
		delete(s.gens, key)
	}
}
