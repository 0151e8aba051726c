package server

import (
	"context"
	"testing"
	"time"
)

func TestWebhookDispatcherStopsOnCancel(t *testing.T) {
	d := &webhookDispatcher{cursors: make(map[int]int64)}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher still running after cancel")
	}
}

func TestEventFilter(t *testing.T) {
	if !newEventFilter(nil).match("workflow.submitted") {
		t.Fatal("empty filter should match everything")
	}
	f := newEventFilter([]string{"task.updated", " "})
	if !f.match("task.updated") || f.match("workflow.submitted") {
		t.Fatal("filter should match only the listed types")
	}
}
