package engine

import (
	"sync"
	"sync/atomic"
	"time"
)

// Clock is the free-running elapsed-seconds counter of a session. It starts
// on construction, performs no I/O and never gates submission. It is not
// persisted across process restarts; the recorded value is written onto the
// submission record at submit time.
type Clock struct {
	elapsed  atomic.Int64
	stop     chan struct{}
	stopOnce sync.Once
}

func NewClock() *Clock {
	c := &Clock{stop: make(chan struct{})}
	go c.run()
	return c
}

func (c *Clock) run() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.elapsed.Add(1)
		case <-c.stop:
			return
		}
	}
}

// Elapsed returns the seconds counted since the session opened.
func (c *Clock) Elapsed() int {
	return int(c.elapsed.Load())
}

// Stop halts the counter. Safe to call more than once.
func (c *Clock) Stop() {
	c.stopOnce.Do(func() {
		close(c.stop)
	})
}
