package event

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestPipelineDeliversInOrder(t *testing.T) {
	var mu sync.Mutex
	var got []Kind

	p := NewPipeline(ConsumerFunc(func(e Event) {
		mu.Lock()
		got = append(got, e.Kind)
		mu.Unlock()
	}), 8, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	p.Notify(CreateEvent(1, 1, nil))
	p.Notify(RescanEvent(1, 1))

	deadline := time.After(time.Second)
	for {
		mu.Lock()
		n := len(got)
		mu.Unlock()
		if n == 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for events to drain")
		case <-time.After(time.Millisecond):
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if got[0] != Create || got[1] != Rescan {
		t.Errorf("got %v, want [create rescan]", got)
	}
}

func TestPipelineDropsOnOverflowAndSynthesizesRescan(t *testing.T) {
	block := make(chan struct{})
	var mu sync.Mutex
	var got []Kind

	p := NewPipeline(ConsumerFunc(func(e Event) {
		<-block // keep Run's consumer busy so the queue fills up
		mu.Lock()
		got = append(got, e.Kind)
		mu.Unlock()
	}), 1, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	// First event gets picked up by Run immediately and blocks on <-block.
	p.Notify(CreateEvent(1, 1, nil))
	time.Sleep(10 * time.Millisecond)

	// These fill, then overflow, the depth-1 queue.
	p.Notify(CreateEvent(1, 1, nil))
	p.Notify(CreateEvent(1, 1, nil))

	if p.Dropped() == 0 {
		t.Error("expected at least one dropped event once the queue overflowed")
	}
	close(block)
}
