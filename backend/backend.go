// Package backend defines the MailBackend abstraction every store
// (IMAP, mbox, notmuch) implements, and the process-wide registry of
// backend constructors (spec §9 "Global state").
package backend

import (
	"context"
	"io"

	"github.com/gfreezy/meli/internal/envelope"
	"github.com/gfreezy/meli/internal/event"
	"github.com/gfreezy/meli/internal/mailbox"
	"github.com/gfreezy/meli/settings"
)

// Batch is a bounded group of envelopes yielded by Fetch (spec §3
// lifecycle: mbox <=150, notmuch 250, IMAP a server response).
type Batch []*envelope.Envelope

// FetchResult is one item of a Fetch stream: either a batch or a
// terminal error. A stream is exhausted when its channel closes.
type FetchResult struct {
	Batch Batch
	Err   error
}

// Capabilities advertises which of the optional MailBackend operations a
// given backend instance actually supports, per spec §4.3's "Unimplemented
// (MUST fail with a distinct 'unsupported' error)... advertise this".
type Capabilities struct {
	CanCopy        bool
	CanMove        bool
	CanSetFlags    bool
	CanDelete      bool
	CanSaveNew     bool
	CanRefresh     bool
	CanCreateMbox  bool
	CanRemoveMbox  bool
}

// ReadOperation is a short-lived, per-message read handle obtained from
// Operation. It may hold a file or database handle exclusively for its
// lifetime and must be Closed.
type ReadOperation interface {
	io.Closer
	// AsBytes returns the full raw message bytes.
	AsBytes() ([]byte, error)
}

// Watcher is the long-running refresh task a backend spawns once. Run
// blocks until ctx is cancelled or a fatal error occurs; cancellation
// must close any owned connection (spec §4.7, §5).
type Watcher interface {
	Run(ctx context.Context) error
}

// FlagDelta is the add/remove flag-and-label change SetFlags applies to
// a batch of envelopes.
type FlagDelta struct {
	AddFlags    envelope.Flag
	RemoveFlags envelope.Flag
	AddLabels   []string
	RemoveLabels []string
}

// MailBackend is the operation set common to every store, per spec
// §4.3-§4.7. Implementations are constructed once per account and live
// for the process (spec §3 "Lifecycle").
type MailBackend interface {
	// Capabilities reports which optional operations are implemented.
	Capabilities() Capabilities

	// Mailboxes returns the registry of mailboxes known at construction
	// time (IMAP/notmuch may grow this as LIST/queries are discovered).
	Mailboxes() *mailbox.Registry

	// Fetch returns a lazy sequence of envelope batches for mh. The
	// channel is closed after the final batch or a terminal error.
	Fetch(ctx context.Context, mh mailbox.Hash) <-chan FetchResult

	// Operation returns a short-lived reader for one message's bytes.
	Operation(mh mailbox.Hash, eh envelope.Hash) (ReadOperation, error)

	// Watcher returns the backend's long-running refresh task. Called
	// at most once per backend instance.
	Watcher() (Watcher, error)

	// SetFlags applies delta to the given envelopes. Returns
	// mailerr.Unsupported if Capabilities().CanSetFlags is false.
	SetFlags(ctx context.Context, mh mailbox.Hash, ehs []envelope.Hash, delta FlagDelta) error

	// Copy duplicates the given envelopes into destMh, leaving the
	// originals in place. Returns mailerr.Unsupported if
	// Capabilities().CanCopy is false.
	Copy(ctx context.Context, mh mailbox.Hash, ehs []envelope.Hash, destMh mailbox.Hash) error

	// Move copies the given envelopes into destMh and removes them from
	// mh. Returns mailerr.Unsupported if Capabilities().CanMove is false.
	Move(ctx context.Context, mh mailbox.Hash, ehs []envelope.Hash, destMh mailbox.Hash) error

	// Delete removes the given envelopes from mh. Returns
	// mailerr.Unsupported if Capabilities().CanDelete is false.
	Delete(ctx context.Context, mh mailbox.Hash, ehs []envelope.Hash) error

	// SaveNew appends a new message to mh. Returns mailerr.Unsupported if
	// Capabilities().CanSaveNew is false.
	SaveNew(ctx context.Context, mh mailbox.Hash, raw []byte) error

	// Refresh forces a synchronous re-evaluation of mh outside of the
	// watcher loop (e.g. a manual "refresh" keybinding).
	Refresh(ctx context.Context, mh mailbox.Hash) error

	// Close releases all resources; the backend is unusable afterward.
	Close() error
}

// Factory constructs a MailBackend from a validated account and an event
// consumer. Factories are registered once at startup (spec §9: "the
// backend registry (name -> factory function), initialised at startup
// and immutable thereafter").
type Factory func(account settings.Account, accountHash event.AccountHash, consumer event.Consumer) (MailBackend, error)

var registry = map[settings.BackendKind]Factory{}

// Register adds a factory for kind. Intended to be called from an
// init() in each backend package; panics on duplicate registration
// since that indicates a build-time wiring mistake, not a runtime one.
func Register(kind settings.BackendKind, f Factory) {
	if _, exists := registry[kind]; exists {
		panic("backend: duplicate registration for kind " + string(kind))
	}
	registry[kind] = f
}

// New looks up the factory for account.Kind and constructs a backend
// after validating the account.
func New(account settings.Account, consumer event.Consumer) (MailBackend, error) {
	if err := account.Validate(); err != nil {
		return nil, err
	}
	f, ok := registry[account.Kind]
	if !ok {
		return nil, &unknownKindError{kind: account.Kind}
	}
	return f(account, event.AccountHash(account.AccountHash()), consumer)
}

type unknownKindError struct{ kind settings.BackendKind }

func (e *unknownKindError) Error() string {
	return "backend: no factory registered for kind " + string(e.kind)
}
