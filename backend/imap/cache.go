package imap

import (
	"database/sql"
	"path/filepath"

	"github.com/gfreezy/meli/internal/envelope"
	"github.com/gfreezy/meli/internal/mailbox"
	"github.com/gfreezy/meli/internal/mailerr"
	_ "github.com/mattn/go-sqlite3"
)

// cache is the optional persistent store from spec §4.6: it mirrors
// envelopes keyed by (mailbox_hash, uid) and is invalidated wholesale
// for a mailbox when its UIDVALIDITY changes. Grounded on the teacher's
// sync.DB, which opens a sqlite3 database alongside the maildir root.
type cache struct {
	db *sql.DB
}

func openCache(rootPath string) (*cache, error) {
	path := filepath.Join(rootPath, ".imap-cache.db")
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, mailerr.IO(err, "cannot open imap cache")
	}

	const schema = `
CREATE TABLE IF NOT EXISTS envelopes (
	mailbox_hash TEXT NOT NULL,
	uid INTEGER NOT NULL,
	envelope_hash TEXT NOT NULL,
	message_id TEXT,
	subject TEXT,
	flags INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (mailbox_hash, uid)
);
CREATE INDEX IF NOT EXISTS envelopes_hash ON envelopes(envelope_hash);
`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, mailerr.IO(err, "cannot initialise imap cache schema")
	}
	return &cache{db: db}, nil
}

func (c *cache) put(mh mailbox.Hash, uid uint32, eh envelope.Hash, messageID, subject string, flags envelope.Flag) error {
	_, err := c.db.Exec(
		`INSERT INTO envelopes (mailbox_hash, uid, envelope_hash, message_id, subject, flags)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(mailbox_hash, uid) DO UPDATE SET
		   envelope_hash=excluded.envelope_hash, message_id=excluded.message_id,
		   subject=excluded.subject, flags=excluded.flags`,
		mh.String(), uid, eh.String(), messageID, subject, uint8(flags),
	)
	if err != nil {
		return mailerr.IO(err, "cannot persist envelope to imap cache")
	}
	return nil
}

// purgeMailbox deletes every cached row for mh, called on UIDVALIDITY
// mismatch (spec §4.6 "invalidated wholesale ... when its UIDVALIDITY
// changes").
func (c *cache) purgeMailbox(mh mailbox.Hash) error {
	_, err := c.db.Exec(`DELETE FROM envelopes WHERE mailbox_hash = ?`, mh.String())
	if err != nil {
		return mailerr.IO(err, "cannot purge imap cache for mailbox")
	}
	return nil
}

func (c *cache) isEmpty(mh mailbox.Hash) (bool, error) {
	var n int
	err := c.db.QueryRow(`SELECT COUNT(*) FROM envelopes WHERE mailbox_hash = ?`, mh.String()).Scan(&n)
	if err != nil {
		return false, mailerr.IO(err, "cannot query imap cache")
	}
	return n == 0, nil
}

func (c *cache) close() error {
	return c.db.Close()
}
