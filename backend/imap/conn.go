package imap

import (
	"bytes"
	"crypto/tls"
	"fmt"
	"sync"
	"time"

	goimap "github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	uidplus "github.com/emersion/go-imap-uidplus"
	"github.com/gfreezy/meli/internal/mailerr"
	"github.com/gfreezy/meli/settings"
	"github.com/hashicorp/go-hclog"
)

// selectResponse is the parsed outcome of an EXAMINE/SELECT (spec §4.5
// "examine_mailbox(...) -> Option<SelectResponse>").
type selectResponse struct {
	UIDValidity   uint32
	UIDNext       uint32
	Exists        uint32
	Recent        uint32
	Unseen        uint32
	HighestModSeq uint64
}

// conn wraps one framed pipe to the server plus the session state
// needed to reconnect it (spec §4.5 "IMAP Connection"). A Backend opens
// two of these: conn_w dedicated to the watcher's IDLE loop, conn_m
// shared by the rest of the backend (spec §4.7).
type conn struct {
	cfg settings.IMAPSettings
	log hclog.Logger

	mu     sync.Mutex
	client *client.Client
	uidp   *uidplus.UidPlusClient

	store *uidStore
}

func newConn(cfg settings.IMAPSettings, store *uidStore, log hclog.Logger) *conn {
	return &conn{cfg: cfg, store: store, log: log}
}

// connect resolves, opens TCP, upgrades to TLS per config, logs in and
// issues CAPABILITY. Idempotent: calling it on an already-healthy
// connection is a cheap no-op (spec §4.5). Every outcome, success or
// failure, is recorded into the uidStore's is_online field (spec §3).
func (c *conn) connect() (err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	defer func() { c.store.recordCheck(err) }()

	if c.client != nil {
		if _, nerr := c.client.Noop(); nerr == nil {
			return nil
		}
		_ = c.client.Logout()
		c.client = nil
		c.uidp = nil
	}

	addr := fmt.Sprintf("%s:%d", c.cfg.Server, c.cfg.Port)
	tlsConfig := &tls.Config{ServerName: c.cfg.Server}

	var cl *client.Client
	switch c.cfg.TLS {
	case settings.TLSImplicit:
		cl, err = client.DialTLS(addr, tlsConfig)
	default:
		cl, err = client.Dial(addr)
	}
	if err != nil {
		return mailerr.Network(err, "imap: cannot dial "+addr)
	}
	cl.Timeout = c.timeout()

	if c.cfg.TLS == settings.TLSStartTLS {
		if err = cl.StartTLS(tlsConfig); err != nil {
			_ = cl.Logout()
			return mailerr.Network(err, "imap: STARTTLS failed")
		}
	}

	if err = cl.Login(c.cfg.Username, c.cfg.Password); err != nil {
		_ = cl.Logout()
		return mailerr.Auth(err, "imap: login failed")
	}

	caps, capErr := cl.Capability()
	if capErr != nil {
		_ = cl.Logout()
		err = mailerr.Protocol(capErr, "imap: CAPABILITY failed")
		return err
	}
	c.store.setCapabilities(caps)

	c.client = cl
	c.uidp = uidplus.NewClient(cl)
	return nil
}

func (c *conn) timeout() time.Duration {
	if c.store.timeout > 0 {
		return c.store.timeout
	}
	return 30 * time.Second
}

// examineMailbox issues EXAMINE (read-only, per spec §4.5) or SELECT
// when forceSelect is set (needed before STORE, which EXAMINE forbids).
func (c *conn) examineMailbox(path string, forceSelect bool) (*selectResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client == nil {
		return nil, mailerr.Network(nil, "imap: not connected")
	}

	var status *goimap.MailboxStatus
	var err error
	if forceSelect {
		status, err = c.client.Select(path, false)
	} else {
		status, err = c.client.Select(path, true)
	}
	if err != nil {
		return nil, mailerr.Protocol(err, "imap: EXAMINE/SELECT "+path+" failed")
	}

	return &selectResponse{
		UIDValidity:   status.UidValidity,
		UIDNext:       status.UidNext,
		Exists:        status.Messages,
		Recent:        status.Recent,
		Unseen:        status.Unseen,
		HighestModSeq: status.HighestModSeq,
	}, nil
}

func (c *conn) uidSearch(criteria *goimap.SearchCriteria) ([]uint32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client == nil {
		return nil, mailerr.Network(nil, "imap: not connected")
	}
	uids, err := c.client.UidSearch(criteria)
	if err != nil {
		return nil, mailerr.Protocol(err, "imap: UID SEARCH failed")
	}
	return uids, nil
}

func (c *conn) uidFetch(seqSet *goimap.SeqSet, items []goimap.FetchItem) ([]*goimap.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client == nil {
		return nil, mailerr.Network(nil, "imap: not connected")
	}

	messages := make(chan *goimap.Message, 64)
	done := make(chan error, 1)
	go func() { done <- c.client.UidFetch(seqSet, items, messages) }()

	var out []*goimap.Message
	for m := range messages {
		out = append(out, m)
	}
	if err := <-done; err != nil {
		return nil, mailerr.Protocol(err, "imap: UID FETCH failed")
	}
	return out, nil
}

func (c *conn) fetch(seqSet *goimap.SeqSet, items []goimap.FetchItem) ([]*goimap.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client == nil {
		return nil, mailerr.Network(nil, "imap: not connected")
	}

	messages := make(chan *goimap.Message, 64)
	done := make(chan error, 1)
	go func() { done <- c.client.Fetch(seqSet, items, messages) }()

	var out []*goimap.Message
	for m := range messages {
		out = append(out, m)
	}
	if err := <-done; err != nil {
		return nil, mailerr.Protocol(err, "imap: FETCH failed")
	}
	return out, nil
}

func (c *conn) uidStore(seqSet *goimap.SeqSet, item goimap.StoreItem, values []interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client == nil {
		return mailerr.Network(nil, "imap: not connected")
	}
	if err := c.client.UidStore(seqSet, item, values, nil); err != nil {
		return mailerr.Protocol(err, "imap: UID STORE failed")
	}
	return nil
}

// uidCopy issues UID COPY, the wire command spec §6 lists as required.
func (c *conn) uidCopy(seqSet *goimap.SeqSet, dest string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client == nil {
		return mailerr.Network(nil, "imap: not connected")
	}
	if err := c.client.UidCopy(seqSet, dest); err != nil {
		return mailerr.Protocol(err, "imap: UID COPY failed")
	}
	return nil
}

// expunge removes messages already marked \Deleted. It prefers UID
// EXPUNGE (UIDPLUS) so only seqSet's messages are purged; without
// UIDPLUS it falls back to a plain EXPUNGE, which purges every
// \Deleted message in the selected mailbox, not just seqSet's.
func (c *conn) expunge(seqSet *goimap.SeqSet) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client == nil {
		return mailerr.Network(nil, "imap: not connected")
	}
	if c.uidp != nil {
		if ok, err := c.uidp.SupportUidPlus(); err == nil && ok {
			if err := c.uidp.UidExpunge(seqSet); err != nil {
				return mailerr.Protocol(err, "imap: UID EXPUNGE failed")
			}
			return nil
		}
	}
	if err := c.client.Expunge(nil); err != nil {
		return mailerr.Protocol(err, "imap: EXPUNGE failed")
	}
	return nil
}

// appendMessage issues APPEND through the UIDPLUS client so the new
// message's UID comes back in the response (spec §4.3/§6 "save-new").
// Callers must have already confirmed supportUIDPlus().
func (c *conn) appendMessage(mbox string, raw []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client == nil {
		return mailerr.Network(nil, "imap: not connected")
	}
	if c.uidp == nil {
		return mailerr.Unsupported("imap: UIDPLUS client not initialised")
	}
	if _, _, err := c.uidp.Append(mbox, nil, time.Time{}, bytes.NewReader(raw)); err != nil {
		return mailerr.Protocol(err, "imap: APPEND failed")
	}
	return nil
}

func (c *conn) supportUIDPlus() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.uidp == nil {
		return false
	}
	ok, err := c.uidp.SupportUidPlus()
	return err == nil && ok
}

// resync returns nil, forcing a full examine_updates pass, unless
// sinceModSeq is non-zero and the server advertises CONDSTORE. In that
// case it FETCHes UID, FLAGS and MODSEQ for every message (1:*): the
// fetch is not bounded by sinceModSeq (no CHANGEDSINCE) and no offline
// cache is consulted. examineUpdates always passes 0, so it always gets
// nil back.
func (c *conn) resync(mh string, sinceModSeq uint64) ([]*goimap.Message, error) {
	if sinceModSeq == 0 || !c.store.hasCapability("CONDSTORE") {
		return nil, nil
	}
	seqSet := &goimap.SeqSet{}
	seqSet.AddRange(1, 0)
	items := []goimap.FetchItem{goimap.FetchUid, goimap.FetchFlags, "MODSEQ"}
	return c.fetch(seqSet, items)
}

func (c *conn) list(reference, pattern string) ([]*goimap.MailboxInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client == nil {
		return nil, mailerr.Network(nil, "imap: not connected")
	}
	ch := make(chan *goimap.MailboxInfo, 16)
	done := make(chan error, 1)
	go func() { done <- c.client.List(reference, pattern, ch) }()

	var out []*goimap.MailboxInfo
	for mb := range ch {
		out = append(out, mb)
	}
	if err := <-done; err != nil {
		return nil, mailerr.Protocol(err, "imap: LIST failed")
	}
	return out, nil
}

func (c *conn) logout() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client == nil {
		return nil
	}
	err := c.client.Logout()
	c.client = nil
	c.uidp = nil
	return err
}
