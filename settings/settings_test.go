package settings

import "testing"

func TestValidateRequiresName(t *testing.T) {
	a := Account{Kind: BackendMbox, Mailboxes: []MailboxSettings{{Name: "inbox", Path: "/tmp/inbox"}}}
	if err := a.Validate(); err == nil {
		t.Error("expected error for missing account name")
	}
}

func TestValidateIMAPRequiresCredentials(t *testing.T) {
	a := Account{Name: "work", Kind: BackendIMAP}
	if err := a.Validate(); err == nil {
		t.Error("expected error for missing imap server")
	}
	a.IMAP.Server = "imap.example.com"
	if err := a.Validate(); err == nil {
		t.Error("expected error for missing imap username")
	}
	a.IMAP.Username = "alice"
	if err := a.Validate(); err == nil {
		t.Error("expected error for missing imap password")
	}
	a.IMAP.Password = "hunter2"
	if err := a.Validate(); err != nil {
		t.Errorf("unexpected error once all imap fields are set: %v", err)
	}
}

func TestValidateMboxRequiresPathPerMailbox(t *testing.T) {
	a := Account{Name: "archive", Kind: BackendMbox}
	if err := a.Validate(); err == nil {
		t.Error("expected error for mbox account with no mailboxes")
	}
	a.Mailboxes = []MailboxSettings{{Name: "inbox"}}
	if err := a.Validate(); err == nil {
		t.Error("expected error for mailbox missing a path")
	}
}

func TestValidateNotmuchRequiresRootAndQuery(t *testing.T) {
	a := Account{Name: "index", Kind: BackendNotmuch}
	if err := a.Validate(); err == nil {
		t.Error("expected error for notmuch account with no root path")
	}
	a.RootMailboxPath = "/home/user/Mail"
	a.Mailboxes = []MailboxSettings{{Name: "unread"}}
	if err := a.Validate(); err == nil {
		t.Error("expected error for mailbox missing a query")
	}
	a.Mailboxes[0].Query = "tag:unread"
	if err := a.Validate(); err != nil {
		t.Errorf("unexpected error once root and query are set: %v", err)
	}
}

func TestValidateUnknownKind(t *testing.T) {
	a := Account{Name: "mystery", Kind: BackendKind("pop3")}
	if err := a.Validate(); err == nil {
		t.Error("expected error for unknown backend kind")
	}
}

func TestAccountHashStableAcrossCalls(t *testing.T) {
	a := Account{Name: "work"}
	if a.AccountHash() != a.AccountHash() {
		t.Error("AccountHash should be deterministic for the same account")
	}
	b := Account{Name: "personal"}
	if a.AccountHash() == b.AccountHash() {
		t.Error("different account names should hash differently")
	}
}

func TestPreferMboxTypeDefaultsToAuto(t *testing.T) {
	m := MailboxSettings{Name: "inbox"}
	if m.PreferMboxType() != MboxAuto {
		t.Errorf("PreferMboxType() = %v, want MboxAuto", m.PreferMboxType())
	}
	m.Extra = map[string]string{"prefer_mbox_type": "mboxcl2"}
	if m.PreferMboxType() != MboxCl2 {
		t.Errorf("PreferMboxType() = %v, want MboxCl2", m.PreferMboxType())
	}
}
