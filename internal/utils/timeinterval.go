package utils

import (
	"sync"
	"time"
)

// Interval runs a function on a fixed cadence until stopped.
type Interval struct {
	quit chan struct{}
	once sync.Once
}

// Stop halts the interval. Idempotent.
func (i *Interval) Stop() {
	i.once.Do(func() { close(i.quit) })
}

// Every invokes function every duration on its own goroutine.
func Every(duration time.Duration, function func()) *Interval {
	ticker := time.NewTicker(duration)
	quit := make(chan struct{})
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				function()
			case <-quit:
				return
			}
		}
	}()
	return &Interval{quit: quit}
}
