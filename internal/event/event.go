// Package event defines the refresh-event pipeline: the vocabulary
// backends emit and the single-method sink that receives it (spec §4.8).
package event

import (
	"github.com/gfreezy/meli/internal/envelope"
	"github.com/gfreezy/meli/internal/mailbox"
)

// AccountHash identifies the account an event belongs to.
type AccountHash uint64

// Kind enumerates the refresh event vocabulary.
type Kind int

const (
	Create Kind = iota
	Update
	Rename
	Remove
	NewFlags
	Rescan
	Failure
)

func (k Kind) String() string {
	switch k {
	case Create:
		return "create"
	case Update:
		return "update"
	case Rename:
		return "rename"
	case Remove:
		return "remove"
	case NewFlags:
		return "new-flags"
	case Rescan:
		return "rescan"
	case Failure:
		return "failure"
	default:
		return "unknown"
	}
}

// NewFlagsPayload is the (flags, labels) tuple carried by a NewFlags event.
type NewFlagsPayload struct {
	Flags  envelope.Flag
	Labels []string
}

// Event is one entry in a mailbox's refresh history. Every event carries
// account+mailbox so one consumer can serve many accounts. Only the
// fields relevant to Kind are populated.
type Event struct {
	Account AccountHash
	Mailbox mailbox.Hash
	Kind    Kind

	// Create
	NewEnvelope *envelope.Envelope
	// Update
	EnvelopeHash    envelope.Hash
	UpdatedEnvelope *envelope.Envelope
	// Rename
	OldHash envelope.Hash
	NewHash envelope.Hash
	// Remove: EnvelopeHash
	// NewFlags
	Flags NewFlagsPayload
	// Failure
	Err error
}

func newEvent(account AccountHash, mh mailbox.Hash, kind Kind) Event {
	return Event{Account: account, Mailbox: mh, Kind: kind}
}

func CreateEvent(account AccountHash, mh mailbox.Hash, env *envelope.Envelope) Event {
	e := newEvent(account, mh, Create)
	e.NewEnvelope = env
	return e
}

func UpdateEvent(account AccountHash, mh mailbox.Hash, old envelope.Hash, env *envelope.Envelope) Event {
	e := newEvent(account, mh, Update)
	e.EnvelopeHash = old
	e.UpdatedEnvelope = env
	return e
}

func RenameEvent(account AccountHash, mh mailbox.Hash, oldHash, newHash envelope.Hash) Event {
	e := newEvent(account, mh, Rename)
	e.OldHash, e.NewHash = oldHash, newHash
	return e
}

func RemoveEvent(account AccountHash, mh mailbox.Hash, eh envelope.Hash) Event {
	e := newEvent(account, mh, Remove)
	e.EnvelopeHash = eh
	return e
}

func NewFlagsEvent(account AccountHash, mh mailbox.Hash, eh envelope.Hash, f envelope.Flag, labels []string) Event {
	e := newEvent(account, mh, NewFlags)
	e.EnvelopeHash = eh
	e.Flags = NewFlagsPayload{Flags: f, Labels: labels}
	return e
}

func RescanEvent(account AccountHash, mh mailbox.Hash) Event {
	return newEvent(account, mh, Rescan)
}

func FailureEvent(account AccountHash, mh mailbox.Hash, err error) Event {
	e := newEvent(account, mh, Failure)
	e.Err = err
	return e
}

// Consumer is the single-method sink every backend fans events into. It
// must be safe for concurrent use and must not block: implementations
// are expected to enqueue into a bounded channel and drop or coalesce on
// overflow (spec §4.8).
type Consumer interface {
	Notify(Event)
}

// ConsumerFunc adapts a function to a Consumer.
type ConsumerFunc func(Event)

func (f ConsumerFunc) Notify(e Event) { f(e) }
