package settings

import "github.com/gfreezy/meli/internal/mailerr"

// Validate checks an Account for the minimum fields its backend kind
// requires. A backend must never be constructed from an Account that
// fails validation (spec §7 "Configuration").
func (a Account) Validate() error {
	if a.Name == "" {
		return mailerr.Config(nil, "account name is required")
	}
	switch a.Kind {
	case BackendIMAP:
		if a.IMAP.Server == "" {
			return mailerr.Config(nil, "imap server address not configured")
		}
		if a.IMAP.Username == "" {
			return mailerr.Config(nil, "imap username not configured")
		}
		if a.IMAP.Password == "" {
			return mailerr.Config(nil, "imap password not configured")
		}
	case BackendMbox:
		if len(a.Mailboxes) == 0 {
			return mailerr.Config(nil, "mbox account requires at least one mailbox path")
		}
		for _, mb := range a.Mailboxes {
			if mb.Path == "" {
				return mailerr.Config(nil, "mbox mailbox \""+mb.Name+"\" is missing a path")
			}
		}
	case BackendNotmuch:
		if a.RootMailboxPath == "" {
			return mailerr.Config(nil, "notmuch account requires a root maildir path")
		}
		for _, mb := range a.Mailboxes {
			if mb.Query == "" {
				return mailerr.Config(nil, "notmuch mailbox \""+mb.Name+"\" is missing a query")
			}
		}
	default:
		return mailerr.Config(nil, "unknown backend kind \""+string(a.Kind)+"\"")
	}
	return nil
}
