package session

import (
	"sync"
	"time"
)

// Ticker is the countdown clock.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// TickerFactory returns a Ticker firing every d.
type TickerFactory func(d time.Duration) Ticker

type timeTicker struct{ t *time.Ticker }

func (t timeTicker) C() <-chan time.Time { return t.t.C }
func (t timeTicker) Stop()               { t.t.Stop() }

// NewTimeTicker is the default TickerFactory backed by time.Ticker.
func NewTimeTicker(d time.Duration) Ticker {
	return timeTicker{t: time.NewTicker(d)}
}

// tickLoop forwards ticks to fn until stopped. stop does not wait for the goroutine so it can be
// called while fn is blocked on the Machine lock.
type tickLoop struct {
	ticker Ticker
	done   chan struct{}
	once   sync.Once
}

func startTickLoop(t Ticker, gen uint64, fn func(uint64)) *tickLoop {
	l := &tickLoop{ticker: t, done: make(chan struct{})}
	go func() {
		for {
			select {
			case <-l.done:
				return
			case <-t.C():
				select {
				case <-l.done:
					return
				default:
				}
				fn(gen)
			}
		}
	}()
	return l
}

func (l *tickLoop) stop() {
	l.once.Do(func() {
		l.ticker.Stop()
		close(l.done)
	})
}
