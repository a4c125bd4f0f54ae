// Package mailerr classifies errors crossing a MailBackend boundary into
// the taxonomy a watcher or UI needs to react correctly: network errors
// are retry-worthy, authentication errors are not, parse errors are
// per-message and never abort a stream.
package mailerr

import "fmt"

// Kind is one of the error categories a backend operation can fail with.
type Kind int

const (
	// KindNetwork covers connection reset, TLS failure, DNS failure, timeout.
	KindNetwork Kind = iota
	// KindAuth covers credential rejection. Fatal, never retried automatically.
	KindAuth
	// KindProtocol covers malformed responses or unexpected untagged data.
	KindProtocol
	// KindParse covers mbox variant mismatch and header syntax errors.
	KindParse
	// KindIO covers file open, lock acquisition, and read failures.
	KindIO
	// KindConfig covers missing required keys or invalid settings values.
	KindConfig
	// KindUnsupported covers operations a backend advertises it cannot do.
	KindUnsupported
	// KindExternal covers failures in spawned subprocesses (verify/sign).
	KindExternal
)

func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindAuth:
		return "authentication"
	case KindProtocol:
		return "protocol"
	case KindParse:
		return "parse"
	case KindIO:
		return "io"
	case KindConfig:
		return "configuration"
	case KindUnsupported:
		return "unsupported"
	case KindExternal:
		return "external"
	default:
		return "unknown"
	}
}

// Error is the tagged error every MailBackend operation returns: a short
// summary safe to show a user, plus details that may be opened on request.
type Error struct {
	Kind    Kind
	Summary string
	Details string
	Cause   error
}

func (e *Error) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Kind, e.Summary, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Summary)
}

func (e *Error) Unwrap() error { return e.Cause }

func newErr(k Kind, cause error, summary string) *Error {
	e := &Error{Kind: k, Summary: summary, Cause: cause}
	if cause != nil {
		e.Details = cause.Error()
	}
	return e
}

func Network(cause error, summary string) *Error     { return newErr(KindNetwork, cause, summary) }
func Auth(cause error, summary string) *Error         { return newErr(KindAuth, cause, summary) }
func Protocol(cause error, summary string) *Error     { return newErr(KindProtocol, cause, summary) }
func Parse(cause error, summary string) *Error        { return newErr(KindParse, cause, summary) }
func IO(cause error, summary string) *Error           { return newErr(KindIO, cause, summary) }
func Config(cause error, summary string) *Error       { return newErr(KindConfig, cause, summary) }
func Unsupported(summary string) *Error               { return newErr(KindUnsupported, nil, summary) }
func External(cause error, summary string) *Error     { return newErr(KindExternal, cause, summary) }

// Is reports whether err is a *Error of the given kind.
func Is(err error, k Kind) bool {
	me, ok := err.(*Error)
	if !ok {
		return false
	}
	return me.Kind == k
}
