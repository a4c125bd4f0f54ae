// Package notmuch implements the notmuch-indexed Maildir MailBackend
// (spec §4.4): queries evaluate to message IDs, tags map bijectively to
// flags, and an optional watcher polls the index's revision counter.
package notmuch

import (
	"errors"
	"sync"

	"github.com/gfreezy/meli/internal/mailerr"
	notmuch "github.com/zenhack/go.notmuch"
)

// db is a scoped owner around the foreign notmuch handle: a resource
// that guarantees database_close/database_destroy on every exit path
// (spec §9 "Foreign library binding"). Grounded on
// yzzyx-nm-imap-sync/sync/nm.go's Wrap/WrapRW pattern, extended with the
// revision/query entry points spec §6 names that the teacher never
// exercises.
type db struct {
	mu     sync.Mutex
	path   string
	rw     *notmuch.DB // never assigned: wrap opens and closes its own handle
}

func newDB(path string) *db { return &db{path: path} }

// wrap opens dbpath in the given mode, runs fn, and closes the handle on
// every return path. Every open, read-only or read-write, is serialized
// by d.mu, which is not reentrant: calling wrap again from inside fn
// deadlocks.
func (d *db) wrap(mode notmuch.DBMode, fn func(*notmuch.DB) error) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	ndb, err := notmuch.Open(d.path, mode)
	if err != nil && errors.Is(err, notmuch.ErrFileError) {
		ndb, err = notmuch.Create(d.path)
	}
	if err != nil {
		return mailerr.External(err, "cannot open notmuch database "+d.path)
	}
	defer ndb.Close()

	return fn(ndb)
}

// WrapReadOnly runs fn against a read-only handle.
func (d *db) WrapReadOnly(fn func(*notmuch.DB) error) error {
	return d.wrap(notmuch.DBReadOnly, fn)
}

// WrapReadWrite runs fn against a read-write handle.
func (d *db) WrapReadWrite(fn func(*notmuch.DB) error) error {
	return d.wrap(notmuch.DBReadWrite, fn)
}

// ensureSchema opens the database read-write, creating it if absent and
// upgrading its schema if notmuch reports it is stale.
func (d *db) ensureSchema() error {
	return d.WrapReadWrite(func(ndb *notmuch.DB) error {
		if ndb.NeedsUpgrade() {
			return ndb.Upgrade()
		}
		return nil
	})
}
