package main

import (
	"fmt"
	"sync/atomic"
	"time"
)

const (
	progressUpdateInterval = 100 * time.Millisecond
	clearLineSequence      = "\r\033[K"
)

// ProgressPrinter displays a single-line countdown while a scan is running.
//
// Usage:
//
//	p := NewProgressPrinter("Scanning", 10*time.Second)
//	p.Start()
//	defer p.Stop()
//
// A ProgressPrinter is single-use. Start may be called at most once, and Stop
// is safe to call multiple times; the first call clears the progress line.
type ProgressPrinter struct {
	prefix    string
	duration  time.Duration
	startTime time.Time
	ticker    atomic.Pointer[time.Ticker]
	stopChan  chan struct{}
	done      chan struct{}
	started   atomic.Bool
}

// NewProgressPrinter creates a countdown progress printer. A zero duration
// counts up instead (for indefinite scans).
func NewProgressPrinter(prefix string, duration time.Duration) *ProgressPrinter {
	return &ProgressPrinter{
		prefix:   prefix,
		duration: duration,
	}
}

// Start begins displaying progress updates in a background goroutine.
// Panics if called more than once on the same instance.
func (p *ProgressPrinter) Start() {
	if !p.started.CompareAndSwap(false, true) {
		panic("ProgressPrinter.Start called more than once")
	}

	p.stopChan = make(chan struct{})
	p.done = make(chan struct{})
	p.startTime = time.Now()
	ticker := time.NewTicker(progressUpdateInterval)
	p.ticker.Store(ticker)

	fmt.Printf("\r%s...   ", p.prefix)

	go func() {
		defer close(p.done)
		for {
			select {
			case <-p.stopChan:
				return
			case <-ticker.C:
				elapsed := time.Since(p.startTime)
				var seconds int
				if p.duration > 0 {
					remaining := p.duration - elapsed
					if remaining > 0 {
						// Round to the nearest second, not truncate
						seconds = int(remaining.Seconds() + 0.5)
					}
				} else {
					seconds = int(elapsed.Seconds())
				}
				fmt.Printf("\r%s (%ds)   ", p.prefix, seconds)
			}
		}
	}()
}

// Stop stops the progress display and clears the line. Safe to call multiple
// times; only the first call tears down the ticker and goroutine.
func (p *ProgressPrinter) Stop() {
	ticker := p.ticker.Swap(nil)
	if ticker == nil {
		return // Already stopped
	}

	ticker.Stop()
	close(p.stopChan)
	<-p.done

	fmt.Print(clearLineSequence)
}
