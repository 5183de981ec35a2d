package cmd

import (
	"context"
	"testing"
	"time"

	"github.com/Rene-Kuhm/CampusMind-sass-sub001/internal/cache"
)

// The stop function must return even when the parent context is never
// canceled, as on the error path where the server fails to start.
func TestStartSweeperStopsWithoutParentCancel(t *testing.T) {
	stop := startSweeper(context.Background(), cache.NewSweeper(nil))

	done := make(chan struct{})
	go func() {
		stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("stop did not return; sweeper goroutine still running")
	}
}
