package eventloop

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestLoop_RunsInOrder(t *testing.T) {
	l := New(nil)
	l.Start()
	defer l.Stop(context.Background())

	var got []int
	done := make(chan struct{})
	for i := 0; i < 50; i++ {
		i := i
		if !l.Post(func() { got = append(got, i) }) {
			t.Fatalf("Post(%d) returned false", i)
		}
	}
	l.Post(func() { close(done) })

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for callbacks")
	}

	if len(got) != 50 {
		t.Fatalf("ran %d callbacks, want 50", len(got))
	}
	for i, v := range got {
		if v != i {
			t.Errorf("got[%d] = %d, want %d", i, v, i)
		}
	}
}

func TestLoop_SerializesConcurrentPosts(t *testing.T) {
	l := New(nil)
	l.Start()
	defer l.Stop(context.Background())

	// counter is only touched by callbacks, so no lock is needed.
	counter := 0
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				l.Post(func() { counter++ })
			}
		}()
	}
	wg.Wait()

	result := make(chan int, 1)
	l.Post(func() { result <- counter })

	select {
	case got := <-result:
		if got != 800 {
			t.Errorf("counter = %d, want 800", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for counter")
	}
}

func TestLoop_PostAfterStopRejected(t *testing.T) {
	l := New(nil)
	l.Start()

	if err := l.Stop(context.Background()); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if !l.Stopped() {
		t.Error("Stopped() = false after Stop")
	}

	ran := false
	if l.Post(func() { ran = true }) {
		t.Error("Post after Stop returned true")
	}
	time.Sleep(10 * time.Millisecond)
	if ran {
		t.Error("callback ran after Stop")
	}
}

func TestLoop_StopDiscardsPending(t *testing.T) {
	l := New(nil)

	// Not started yet, so these stay queued.
	var ran int
	for i := 0; i < 5; i++ {
		l.Post(func() { ran++ })
	}

	if err := l.Stop(context.Background()); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	l.Start()

	if ran != 0 {
		t.Errorf("ran = %d callbacks after Stop, want 0", ran)
	}
	if got := l.Stats().Discarded; got != 5 {
		t.Errorf("Stats().Discarded = %d, want 5", got)
	}
}

func TestLoop_StopWaitsForRunningCallback(t *testing.T) {
	l := New(nil)
	l.Start()

	started := make(chan struct{})
	release := make(chan struct{})
	finished := false
	l.Post(func() {
		close(started)
		<-release
		finished = true
	})
	<-started

	stopped := make(chan error, 1)
	go func() { stopped <- l.Stop(context.Background()) }()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a callback was running")
	case <-time.After(20 * time.Millisecond):
	}

	close(release)
	if err := <-stopped; err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if !finished {
		t.Error("running callback did not finish before Stop returned")
	}
}

func TestLoop_StopTimeout(t *testing.T) {
	l := New(nil)
	l.Start()

	release := make(chan struct{})
	defer close(release)
	started := make(chan struct{})
	l.Post(func() {
		close(started)
		<-release
	})
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := l.Stop(ctx); err != context.DeadlineExceeded {
		t.Errorf("Stop() = %v, want DeadlineExceeded", err)
	}
}

func TestLoop_RecoversPanic(t *testing.T) {
	l := New(nil)
	l.Start()
	defer l.Stop(context.Background())

	l.Post(func() { panic("boom") })

	done := make(chan struct{})
	l.Post(func() { close(done) })

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("loop stopped after panic")
	}
	if got := l.Stats().Panics; got != 1 {
		t.Errorf("Stats().Panics = %d, want 1", got)
	}
}

func TestLoop_PostNil(t *testing.T) {
	l := New(nil)
	if l.Post(nil) {
		t.Error("Post(nil) returned true")
	}
}
