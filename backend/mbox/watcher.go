package mbox

import (
	"context"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gfreezy/meli/internal/event"
	"github.com/gfreezy/meli/internal/mailbox"
	"github.com/google/uuid"
)

// debounce is how long the watcher waits after the last write event
// before emitting a Rescan, so a writer appending many small chunks
// doesn't trigger one event per chunk.
const debounce = 750 * time.Millisecond

// watcher debounces filesystem-change notifications across every
// configured mbox file and emits a coarse Rescan per changed mailbox
// (spec §4.3 "watcher()"). Fine-grained diffing is left as a future
// enhancement, as the spec allows.
type watcher struct {
	b          *Backend
	instanceID string
}

func newWatcher(b *Backend) *watcher { return &watcher{b: b, instanceID: uuid.NewString()} }

func (w *watcher) Run(ctx context.Context) error {
	w.b.log.Info("watcher starting", "instance", w.instanceID, "account", w.b.account.Name)
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	pathToHash := make(map[string]mailbox.Hash)
	w.b.mu.RLock()
	for h, rec := range w.b.records {
		pathToHash[rec.path] = h
		if addErr := fw.Add(rec.path); addErr != nil {
			w.b.log.Warn("cannot watch mbox file", "path", rec.path, "error", addErr)
		}
	}
	w.b.mu.RUnlock()

	timers := make(map[mailbox.Hash]*time.Timer)
	fire := make(chan mailbox.Hash, 16)
	defer func() {
		for _, t := range timers {
			t.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			h, known := pathToHash[ev.Name]
			if !known {
				continue
			}
			if t, exists := timers[h]; exists {
				t.Stop()
			}
			timers[h] = time.AfterFunc(debounce, func() {
				select {
				case fire <- h:
				case <-ctx.Done():
				}
			})
		case ferr, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.b.log.Warn("mbox watcher error", "error", ferr)
		case h := <-fire:
			w.b.consumer.Notify(event.RescanEvent(w.b.accountHash, h))
		}
	}
}
