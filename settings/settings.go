// Package settings defines the validated value the host hands to a
// backend constructor. Parsing the account's configuration file is out
// of the core's scope (spec §1 Non-goals); this package only names the
// shape the core requires once that parsing and validation has happened.
package settings

import "github.com/gfreezy/meli/internal/mailbox"

// BackendKind selects which MailBackend implementation an account uses.
type BackendKind string

const (
	BackendIMAP    BackendKind = "imap"
	BackendMbox    BackendKind = "mbox"
	BackendNotmuch BackendKind = "notmuch"
)

// MboxVariant pins an mbox format, or leaves it to auto-detection.
type MboxVariant string

const (
	MboxAuto   MboxVariant = "auto"
	MboxO      MboxVariant = "mboxo"
	MboxRd     MboxVariant = "mboxrd"
	MboxCl     MboxVariant = "mboxcl"
	MboxCl2    MboxVariant = "mboxcl2"
)

// MailboxSettings is one configured mailbox within an account.
type MailboxSettings struct {
	Name       string
	Path       string // mbox: file path
	Query      string // notmuch: query string
	Subscribe  bool
	SpecialUse mailbox.SpecialUse

	// Extra carries backend-specific keys, e.g. prefer_mbox_type.
	Extra map[string]string
}

func (m MailboxSettings) PreferMboxType() MboxVariant {
	if v, ok := m.Extra["prefer_mbox_type"]; ok {
		return MboxVariant(v)
	}
	return MboxAuto
}

// TLSMode selects how an IMAP connection is secured.
type TLSMode int

const (
	TLSImplicit TLSMode = iota
	TLSStartTLS
	TLSNone
)

// IMAPSettings configures the IMAP connection/watcher.
type IMAPSettings struct {
	Server   string
	Port     int
	Username string
	Password string
	TLS      TLSMode

	PollingPeriodSeconds int
	DisableIDLE          bool
	Timeout              int // seconds, per-operation deadline

	// OfflineCachePath, when non-empty, enables the persistent cache
	// (spec §4.6). Empty disables it.
	OfflineCachePath string
}

// Account is a fully validated account configuration: enough to
// construct exactly one MailBackend.
type Account struct {
	Name            string
	Identity        string
	RootMailboxPath string
	Kind            BackendKind

	Mailboxes []MailboxSettings
	IMAP      IMAPSettings
}

// AccountHash derives a stable hash from the account name, used to tag
// every event the backend emits.
func (a Account) AccountHash() uint64 {
	return uint64(mailbox.HashOf("account", a.Name))
}
