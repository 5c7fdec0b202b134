package utils

import (
	"testing"
	"time"
)

func TestNoLeakForCleanGoroutines(t *testing.T) {
	detector := NewGoroutineLeakDetector(t)
	detector.Start()

	done := make(chan struct{})
	go func() {
		defer close(done)
		time.Sleep(10 * time.Millisecond)
	}()
	<-done

	detector.Check()
}

func TestAllowedGrowthTolerance(t *testing.T) {
	detector := NewGoroutineLeakDetector(t).SetAllowedGrowth(1)
	detector.Start()

	// One goroutine deliberately outlives the test body; the allowance
	// covers it.
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	go func() { <-release }()

	detector.Check()
}
