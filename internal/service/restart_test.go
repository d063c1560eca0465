package service

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/yuqie6/ModuBot/internal/eventbus"
)

func TestRestartCoordinatorGating(t *testing.T) {
	var calls atomic.Int32
	fn := countingRestart(&calls)

	disabled := NewRestartCoordinator(RestartOptions{Enabled: false}, fn, nil)
	if disabled.MarkFinal(true, true) {
		t.Fatalf("disabled coordinator scheduled a restart")
	}

	var nilCoordinator *RestartCoordinator
	if nilCoordinator.MarkFinal(true, true) || nilCoordinator.Requested() {
		t.Fatalf("nil coordinator scheduled a restart")
	}

	c := NewRestartCoordinator(RestartOptions{Enabled: true}, fn, nil)
	if c.MarkFinal(false, true) {
		t.Fatalf("replayed final column scheduled a restart")
	}
	if c.MarkFinal(true, false) {
		t.Fatalf("unpatched definition scheduled a restart")
	}
	if c.Requested() {
		t.Fatalf("requested without a successful final column")
	}
	if calls.Load() != 0 {
		t.Fatalf("calls=%d", calls.Load())
	}
}

func TestRestartCoordinatorRunsOnceAsynchronously(t *testing.T) {
	release := make(chan struct{})
	var calls atomic.Int32
	fn := func(ctx context.Context) error {
		calls.Add(1)
		<-release
		return nil
	}
	hub := eventbus.NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := hub.Subscribe(ctx, 4, eventbus.TypeRestartRequested)

	c := NewRestartCoordinator(RestartOptions{Enabled: true, Delay: 10 * time.Millisecond}, fn, hub)

	var wg sync.WaitGroup
	var scheduled atomic.Int32
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if c.MarkFinal(true, true) {
				scheduled.Add(1)
			}
		}()
	}
	// 钩子仍阻塞时 MarkFinal 已经全部返回
	wg.Wait()
	if scheduled.Load() != 1 {
		t.Fatalf("scheduled=%d, want 1", scheduled.Load())
	}
	if !c.Requested() {
		t.Fatalf("Requested() = false")
	}

	select {
	case evt := <-events:
		if evt.Data["delay_ms"] != int64(10) {
			t.Fatalf("evt=%+v", evt)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("restart.requested not published")
	}

	close(release)
	waitDone(t, c)
	if calls.Load() != 1 {
		t.Fatalf("calls=%d, want 1", calls.Load())
	}
}
