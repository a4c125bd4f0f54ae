package notmuch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gfreezy/meli/internal/event"
	"github.com/gfreezy/meli/internal/mailbox"
	"github.com/google/uuid"
	notmuch "github.com/zenhack/go.notmuch"
)

// pollInterval is how often the watcher checks the index's revision
// counter (spec §4.4 "watcher(): optional").
const pollInterval = 5 * time.Second

// watcher polls database_get_revision; on each increment it runs
// lastmod:<prev>..<new> and reconciles. A revision_uuid change (the
// database was rebuilt under us) is treated like an IMAP UIDVALIDITY
// change: full purge and Rescan, per original_source/melib's notmuch
// backend (see DESIGN.md supplement).
type watcher struct {
	b *Backend

	lastRevision uint64
	lastUUID     string
	instanceID   string

	// knownMu guards known, the per-mailbox set of paths last seen by
	// the query, used by pruneRemoved to detect messages the query no
	// longer matches (file deleted, moved out of the Maildir, or tagged
	// so the query excludes it).
	knownMu sync.Mutex
	known   map[mailbox.Hash]map[string]struct{}
}

func newWatcher(b *Backend) *watcher {
	return &watcher{b: b, instanceID: uuid.NewString(), known: make(map[mailbox.Hash]map[string]struct{})}
}

func (w *watcher) Run(ctx context.Context) error {
	w.b.log.Info("watcher starting", "instance", w.instanceID, "account", w.b.account.Name)
	if err := w.db().WrapReadOnly(func(ndb *notmuch.DB) error {
		w.lastRevision, w.lastUUID = ndb.Revision()
		return nil
	}); err != nil {
		return err
	}
	for mh, query := range w.b.queries {
		if err := w.pruneRemoved(mh, query); err != nil {
			return err
		}
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := w.poll(); err != nil {
				for mh := range w.b.queries {
					w.b.consumer.Notify(event.FailureEvent(w.b.accountHash, mh, err))
				}
			}
		}
	}
}

func (w *watcher) db() *db { return w.b.db }

func (w *watcher) poll() error {
	var revision uint64
	var uuid string
	if err := w.db().WrapReadOnly(func(ndb *notmuch.DB) error {
		revision, uuid = ndb.Revision()
		return nil
	}); err != nil {
		return err
	}

	if uuid != w.lastUUID {
		w.b.resetPaths()
		w.knownMu.Lock()
		w.known = make(map[mailbox.Hash]map[string]struct{})
		w.knownMu.Unlock()
		for mh := range w.b.queries {
			w.b.consumer.Notify(event.RescanEvent(w.b.accountHash, mh))
		}
		w.lastUUID = uuid
		w.lastRevision = revision
		return nil
	}
	if revision == w.lastRevision {
		return nil
	}

	lastmod := fmt.Sprintf("lastmod:%d..%d", w.lastRevision, revision)
	for mh, query := range w.b.queries {
		if err := w.reconcileMailbox(mh, query, lastmod); err != nil {
			return err
		}
		// reconcileMailbox only ever sees paths touched since
		// lastRevision, so it cannot notice one that vanished from the
		// query's result set entirely (file deleted, tag changed out of
		// the query). Diff the full result set against what the last
		// poll saw to catch that case and emit Remove, per spec §4.4
		// "prunes rows whose message is no longer present".
		if err := w.pruneRemoved(mh, query); err != nil {
			return err
		}
	}
	w.lastRevision = revision
	return nil
}

// pruneRemoved evaluates query in full, diffs the resulting path set
// against the set seen on the previous call, and emits Remove for every
// path that dropped out.
func (w *watcher) pruneRemoved(mh mailbox.Hash, query string) error {
	current := make(map[string]struct{})
	err := w.db().WrapReadOnly(func(ndb *notmuch.DB) error {
		q := ndb.NewQuery(query)
		defer q.Close()

		msgs, err := q.Messages()
		if err != nil {
			return err
		}
		defer msgs.Close()

		var m *notmuch.Message
		for msgs.Next(&m) {
			current[m.Filename()] = struct{}{}
		}
		return nil
	})
	if err != nil {
		return err
	}

	w.knownMu.Lock()
	defer w.knownMu.Unlock()
	for path := range w.known[mh] {
		if _, ok := current[path]; ok {
			continue
		}
		if eh, ok := w.b.hashForPath(path); ok {
			w.b.consumer.Notify(event.RemoveEvent(w.b.accountHash, mh, eh))
			w.b.pathMu.Lock()
			delete(w.b.paths, eh)
			w.b.pathMu.Unlock()
		}
	}
	w.known[mh] = current
	return nil
}

func (w *watcher) reconcileMailbox(mh mailbox.Hash, query, lastmod string) error {
	combined := "(" + query + ") and (" + lastmod + ")"
	return w.db().WrapReadOnly(func(ndb *notmuch.DB) error {
		q := ndb.NewQuery(combined)
		defer q.Close()

		msgs, err := q.Messages()
		if err != nil {
			return err
		}
		defer msgs.Close()

		var m *notmuch.Message
		for msgs.Next(&m) {
			path := m.Filename()
			tags, terr := collectTags(m)
			if terr != nil {
				return terr
			}

			known := w.b.knownPath(path)

			env, perr := w.b.parseEnvelopeAt(path)
			if perr != nil {
				w.b.log.Warn("watcher: skipping unparseable message", "path", path, "error", perr)
				continue
			}
			f, labels := w.b.labels.flagsAndLabels(tags)
			env.Flags = f
			env.Labels = labels

			w.b.pathMu.Lock()
			w.b.paths[env.Hash] = path
			w.b.pathMu.Unlock()

			if known {
				w.b.consumer.Notify(event.NewFlagsEvent(w.b.accountHash, mh, env.Hash, f, labelStrings(labels)))
			} else {
				w.b.consumer.Notify(event.CreateEvent(w.b.accountHash, mh, env))
			}
		}
		return nil
	})
}
