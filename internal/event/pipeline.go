package event

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/hashicorp/go-hclog"
)

// Pipeline is the refresh-event pipeline glue: it sits between backends
// and the host's Consumer, guaranteeing the Notify contract (thread-safe,
// non-blocking) even when the downstream consumer is slow. Events for
// one (account, mailbox) pair are delivered in the order backends
// produced them; no cross-mailbox ordering is promised (spec §4.8).
type Pipeline struct {
	downstream Consumer
	log        hclog.Logger

	queue   chan Event
	dropped atomic.Uint64

	closeOnce sync.Once
	done      chan struct{}
}

// NewPipeline starts a pipeline with the given downstream consumer and
// queue depth. Run must be called (typically in its own goroutine) to
// drain the queue.
func NewPipeline(downstream Consumer, queueDepth int, log hclog.Logger) *Pipeline {
	if log == nil {
		log = hclog.NewNullLogger()
	}
	return &Pipeline{
		downstream: downstream,
		log:        log.Named("refresh-pipeline"),
		queue:      make(chan Event, queueDepth),
		done:       make(chan struct{}),
	}
}

// Notify implements Consumer. It never blocks: on a full queue it drops
// the event and, once per overflow episode, synthesizes a Rescan so the
// consumer knows its view of that mailbox may be stale rather than
// silently missing updates.
func (p *Pipeline) Notify(e Event) {
	select {
	case p.queue <- e:
	default:
		n := p.dropped.Add(1)
		p.log.Warn("dropping refresh event, consumer too slow", "kind", e.Kind, "dropped_total", n)
		select {
		case p.queue <- RescanEvent(e.Account, e.Mailbox):
		default:
		}
	}
}

// Run drains the queue until ctx is cancelled or Close is called.
func (p *Pipeline) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.done:
			return
		case e := <-p.queue:
			p.downstream.Notify(e)
		}
	}
}

// Close stops Run and releases the queue.
func (p *Pipeline) Close() {
	p.closeOnce.Do(func() { close(p.done) })
}

// Dropped returns the total number of events dropped due to backpressure.
func (p *Pipeline) Dropped() uint64 { return p.dropped.Load() }
