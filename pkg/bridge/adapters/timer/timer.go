// Package timer implements bridge.Timer with a time.Ticker per
// scheduled repeating call.
package timer

import (
	"sync"
	"time"
)

type Service struct{}

func NewService() *Service {
	return &Service{}
}

func (s *Service) ScheduleRepeating(interval time.Duration, fn func()) func() {
	ticker := time.NewTicker(interval)
	stop := make(chan struct{})
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				fn()
			}
		}
	}()
	var once sync.Once
	return func() {
		once.Do(func() { close(stop) })
	}
}
