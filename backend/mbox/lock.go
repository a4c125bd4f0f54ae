package mbox

import (
	"github.com/gfreezy/meli/internal/mailerr"
	"github.com/gofrs/flock"
)

// withFileLock acquires an advisory, whole-file write-lock on path using
// OS-level open-file-description locking (spec §4.2 "File locking"),
// runs fn, and guarantees release on every exit path including a panic
// inside fn.
func withFileLock(path string, fn func() error) (err error) {
	fl := flock.New(path)
	if lockErr := fl.Lock(); lockErr != nil {
		return mailerr.IO(lockErr, "could not lock mbox file")
	}
	defer func() {
		_ = fl.Unlock()
		if r := recover(); r != nil {
			panic(r)
		}
	}()
	return fn()
}
