package tracker

import (
	"sync"
	"time"
)

// DefaultRefreshRate approximates a display refresh.
const DefaultRefreshRate = 60

// Scheduler drives the per-frame callback. fn returning false halts it.
type Scheduler interface {
	Start(fn func() bool)
	Stop()
}

// TickerScheduler runs fn on a single goroutine at a fixed rate.
type TickerScheduler struct {
	interval time.Duration
	mu       sync.Mutex
	stopCh   chan struct{}
	done     chan struct{}
}

// NewTickerScheduler creates a scheduler firing fps times per second.
func NewTickerScheduler(fps int) *TickerScheduler {
	if fps <= 0 {
		fps = DefaultRefreshRate
	}
	return &TickerScheduler{
		interval: time.Second / time.Duration(fps),
	}
}

// Start begins calling fn. It is a no-op while already running.
func (s *TickerScheduler) Start(fn func() bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running() {
		return
	}

	s.stopCh = make(chan struct{})
	s.done = make(chan struct{})
	go s.run(fn, s.stopCh, s.done)
}

func (s *TickerScheduler) run(fn func() bool, stopCh <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			if !fn() {
				return
			}
		}
	}
}

// Stop halts the loop and waits for the goroutine to exit. Safe to call
// repeatedly and after the loop stopped itself.
func (s *TickerScheduler) Stop() {
	s.mu.Lock()
	stopCh, done := s.stopCh, s.done
	s.stopCh, s.done = nil, nil
	s.mu.Unlock()

	if stopCh == nil {
		return
	}
	close(stopCh)
	<-done
}

// Running reports whether the loop goroutine is alive.
func (s *TickerScheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running()
}

func (s *TickerScheduler) running() bool {
	if s.done == nil {
		return false
	}
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}
