package imap

import (
	"context"
	"strings"
	"time"

	goimap "github.com/emersion/go-imap"
	"github.com/gfreezy/meli/backend"
	"github.com/gfreezy/meli/internal/envelope"
	"github.com/gfreezy/meli/internal/event"
	"github.com/gfreezy/meli/internal/mailbox"
	"github.com/gfreezy/meli/internal/mailerr"
	"github.com/gfreezy/meli/settings"
	"github.com/hashicorp/go-hclog"
)

func init() {
	backend.Register(settings.BackendIMAP, newBackend)
}

// Backend is the IMAP MailBackend: conn_m plus the shared uidStore and,
// when configured, an offline cache. The watcher owns a second
// dedicated connection, conn_w (spec §4.7).
type Backend struct {
	account     settings.Account
	accountHash event.AccountHash
	consumer    event.Consumer
	log         hclog.Logger

	store *uidStore
	connM *conn
	cache *cache

	registry *mailbox.Registry
}

func newBackend(account settings.Account, accountHash event.AccountHash, consumer event.Consumer) (backend.MailBackend, error) {
	timeout := time.Duration(account.IMAP.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	b := &Backend{
		account:     account,
		accountHash: accountHash,
		consumer:    consumer,
		log:         hclog.New(&hclog.LoggerOptions{Name: "imap-backend"}),
		store:       newUIDStore(timeout),
		registry:    mailbox.NewRegistry(),
	}
	b.connM = newConn(account.IMAP, b.store, b.log.Named("conn-m"))

	if account.IMAP.OfflineCachePath != "" {
		c, err := openCache(account.IMAP.OfflineCachePath)
		if err != nil {
			return nil, err
		}
		b.cache = c
	}

	for _, mb := range account.Mailboxes {
		h := mailbox.HashOf("imap", mb.Path)
		entry := mailbox.NewMailbox(h, mb.Name, mb.Path)
		entry.Subscribed = mb.Subscribe
		entry.SpecialUse = mb.SpecialUse
		entry.Permissions = mailbox.Permissions{
			CanSetFlags:      true,
			CanDeleteMessage: true,
		}
		b.registry.Insert(entry)
		b.store.setMailbox(h, &imapMailbox{serverPath: mb.Path})
	}

	if err := b.connM.connect(); err != nil {
		return nil, err
	}

	if len(account.Mailboxes) == 0 {
		if err := b.discoverMailboxes(); err != nil {
			return nil, err
		}
	}
	return b, nil
}

// discoverMailboxes runs LIST "" "*" and registers every folder the
// server reports, used when an account's configuration does not pin an
// explicit mailbox list (grounded on the teacher's Handler.listFolders).
func (b *Backend) discoverMailboxes() error {
	boxes, err := b.connM.list("", "*")
	if err != nil {
		return err
	}
	for _, mb := range boxes {
		h := mailbox.HashOf("imap", mb.Name)
		special := mailbox.Normal
		for _, attr := range mb.Attributes {
			switch attr {
			case `\Inbox`:
				special = mailbox.Inbox
			case `\Sent`:
				special = mailbox.Sent
			case `\Drafts`:
				special = mailbox.Drafts
			case `\Junk`:
				special = mailbox.Junk
			case `\Trash`:
				special = mailbox.Trash
			case `\Archive`:
				special = mailbox.Archive
			case `\Flagged`:
				special = mailbox.Flagged
			}
		}
		if mb.Name == "INBOX" {
			special = mailbox.Inbox
		}

		entry := mailbox.NewMailbox(h, mb.Name, mb.Name)
		entry.SpecialUse = special
		entry.Permissions = mailbox.Permissions{CanSetFlags: true, CanDeleteMessage: true}
		b.registry.Insert(entry)
		b.store.setMailbox(h, &imapMailbox{serverPath: mb.Name, noSelect: hasNoSelect(mb.Attributes)})
	}
	b.wireHierarchy(boxes)
	return nil
}

// wireHierarchy links each discovered mailbox to its parent by splitting
// its server path on the server-reported delimiter, per spec §3's
// "optional parent, ordered list of children" and §9's registry-owned
// tree. A mailbox whose parent segment wasn't itself reported by LIST
// (e.g. a single-level namespace) is left at the root, same as today.
func (b *Backend) wireHierarchy(boxes []*goimap.MailboxInfo) {
	for _, mb := range boxes {
		if mb.Delimiter == "" {
			continue
		}
		idx := strings.LastIndex(mb.Name, mb.Delimiter)
		if idx < 0 {
			continue
		}
		parentPath := mb.Name[:idx]
		if parentPath == "" {
			continue
		}
		parentHash := mailbox.HashOf("imap", parentPath)
		if _, ok := b.registry.Get(parentHash); !ok {
			continue
		}
		b.registry.AddChild(parentHash, mailbox.HashOf("imap", mb.Name))
	}
}

func hasNoSelect(attrs []string) bool {
	for _, a := range attrs {
		if a == `\Noselect` {
			return true
		}
	}
	return false
}

func (b *Backend) Capabilities() backend.Capabilities {
	return backend.Capabilities{
		CanCopy:     true,
		CanMove:     true,
		CanSetFlags: true,
		CanDelete:   true,
		CanSaveNew:  b.connM.supportUIDPlus(),
		CanRefresh:  true,
	}
}

func (b *Backend) Mailboxes() *mailbox.Registry { return b.registry }

// IsOnline reports the uid_store's is_online field (spec §3): whether
// the most recent connect attempt, by any connection this account
// owns, succeeded. Not part of MailBackend — callers that want it type
// assert, the way cmd/mailcored does for its status log.
func (b *Backend) IsOnline() bool { return b.store.isOnline() }

func (b *Backend) pathFor(mh mailbox.Hash) (string, error) {
	m, ok := b.store.mailboxState(mh)
	if !ok {
		return "", mailerr.Config(nil, "imap: unknown mailbox "+mh.String())
	}
	return m.serverPath, nil
}

// Fetch drives one examine_updates pass over conn_m and streams its
// results as a single batch (spec §3: "IMAP: a server response" is the
// batch granularity).
func (b *Backend) Fetch(ctx context.Context, mh mailbox.Hash) <-chan backend.FetchResult {
	out := make(chan backend.FetchResult, 1)
	go func() {
		defer close(out)
		envs, err := examineUpdates(ctx, b, b.connM, mh, true)
		if err != nil {
			select {
			case out <- backend.FetchResult{Err: err}:
			case <-ctx.Done():
			}
			return
		}
		if len(envs) == 0 {
			return
		}
		select {
		case out <- backend.FetchResult{Batch: envs}:
		case <-ctx.Done():
		}
	}()
	return out
}

func (b *Backend) Operation(mh mailbox.Hash, eh envelope.Hash) (backend.ReadOperation, error) {
	uid, foundMh, ok := b.store.lookupUID(eh)
	if !ok || foundMh != mh {
		return nil, mailerr.IO(nil, "imap: envelope not in uid_index")
	}
	path, err := b.pathFor(mh)
	if err != nil {
		return nil, err
	}
	return &readOp{backend: b, path: path, uid: uid}, nil
}

type readOp struct {
	backend *Backend
	path    string
	uid     uint32
}

func (r *readOp) AsBytes() ([]byte, error) {
	if err := r.backend.connM.connect(); err != nil {
		return nil, err
	}
	if _, err := r.backend.connM.examineMailbox(r.path, false); err != nil {
		return nil, err
	}
	seqSet := &goimap.SeqSet{}
	seqSet.AddNum(r.uid)
	section := &goimap.BodySectionName{Peek: true}
	messages, err := r.backend.connM.uidFetch(seqSet, []goimap.FetchItem{section.FetchItem()})
	if err != nil {
		return nil, err
	}
	if len(messages) == 0 {
		return nil, mailerr.IO(nil, "imap: server returned no message for uid")
	}
	lit := messages[0].GetBody(section)
	if lit == nil {
		return nil, mailerr.IO(nil, "imap: server returned no message body")
	}
	buf := make([]byte, 0, 64*1024)
	chunk := make([]byte, 32*1024)
	for {
		n, rerr := lit.Read(chunk)
		buf = append(buf, chunk[:n]...)
		if rerr != nil {
			break
		}
	}
	return buf, nil
}

func (r *readOp) Close() error { return nil }

func (b *Backend) Watcher() (backend.Watcher, error) {
	connW := newConn(b.account.IMAP, b.store, b.log.Named("conn-w"))
	return newWatcher(b, connW), nil
}

// SetFlags issues UID STORE with the computed flag delta, reusing the
// IMAPFlags bijection from internal/envelope (spec §4.1, teacher's
// imap/update.go updateUID).
func (b *Backend) SetFlags(ctx context.Context, mh mailbox.Hash, ehs []envelope.Hash, delta backend.FlagDelta) error {
	path, err := b.pathFor(mh)
	if err != nil {
		return err
	}
	if err := b.connM.connect(); err != nil {
		return err
	}
	if _, err := b.connM.examineMailbox(path, true); err != nil {
		return err
	}

	for _, eh := range ehs {
		uid, foundMh, ok := b.store.lookupUID(eh)
		if !ok || foundMh != mh {
			continue
		}
		seqSet := &goimap.SeqSet{}
		seqSet.AddNum(uid)

		if delta.AddFlags != 0 || len(delta.AddLabels) > 0 {
			values := storeFlags(delta.AddFlags, delta.AddLabels)
			if err := b.connM.uidStore(seqSet, goimap.FormatFlagsOp(goimap.AddFlags, true), values); err != nil {
				return err
			}
		}
		if delta.RemoveFlags != 0 || len(delta.RemoveLabels) > 0 {
			values := storeFlags(delta.RemoveFlags, delta.RemoveLabels)
			if err := b.connM.uidStore(seqSet, goimap.FormatFlagsOp(goimap.RemoveFlags, true), values); err != nil {
				return err
			}
		}
		b.consumer.Notify(event.NewFlagsEvent(b.accountHash, mh, eh, delta.AddFlags, delta.AddLabels))
	}
	return nil
}

// seqSetFor resolves ehs to a UID SeqSet, skipping any envelope not
// known to belong to mh. ok is false if none resolved.
func (b *Backend) seqSetFor(mh mailbox.Hash, ehs []envelope.Hash) (seqSet *goimap.SeqSet, ok bool) {
	seqSet = &goimap.SeqSet{}
	for _, eh := range ehs {
		uid, foundMh, found := b.store.lookupUID(eh)
		if !found || foundMh != mh {
			continue
		}
		seqSet.AddNum(uid)
		ok = true
	}
	return seqSet, ok
}

// Copy issues UID COPY from mh to destMh (spec §6's required COPY
// command).
func (b *Backend) Copy(ctx context.Context, mh mailbox.Hash, ehs []envelope.Hash, destMh mailbox.Hash) error {
	srcPath, err := b.pathFor(mh)
	if err != nil {
		return err
	}
	destPath, err := b.pathFor(destMh)
	if err != nil {
		return err
	}
	if err := b.connM.connect(); err != nil {
		return err
	}
	if _, err := b.connM.examineMailbox(srcPath, false); err != nil {
		return err
	}
	seqSet, ok := b.seqSetFor(mh, ehs)
	if !ok {
		return mailerr.IO(nil, "imap: no envelopes resolved for copy")
	}
	return b.connM.uidCopy(seqSet, destPath)
}

// Move copies into destMh, then deletes the originals out of mh. The
// teacher's go-imap dependency set has no MOVE extension wired in, so
// this follows the classic COPY+STORE \Deleted+EXPUNGE sequence RFC
// 3501 defines MOVE as sugar for.
func (b *Backend) Move(ctx context.Context, mh mailbox.Hash, ehs []envelope.Hash, destMh mailbox.Hash) error {
	if err := b.Copy(ctx, mh, ehs, destMh); err != nil {
		return err
	}
	return b.Delete(ctx, mh, ehs)
}

// Delete marks ehs \Deleted and expunges them.
func (b *Backend) Delete(ctx context.Context, mh mailbox.Hash, ehs []envelope.Hash) error {
	path, err := b.pathFor(mh)
	if err != nil {
		return err
	}
	if err := b.connM.connect(); err != nil {
		return err
	}
	if _, err := b.connM.examineMailbox(path, true); err != nil {
		return err
	}
	seqSet, ok := b.seqSetFor(mh, ehs)
	if !ok {
		return mailerr.IO(nil, "imap: no envelopes resolved for delete")
	}
	if err := b.connM.uidStore(seqSet, goimap.FormatFlagsOp(goimap.AddFlags, true), []interface{}{goimap.DeletedFlag}); err != nil {
		return err
	}
	return b.connM.expunge(seqSet)
}

// SaveNew appends raw to mh via APPEND. Requires UIDPLUS (advertised
// through Capabilities().CanSaveNew) since the backend has no other way
// to learn the new message's UID.
func (b *Backend) SaveNew(ctx context.Context, mh mailbox.Hash, raw []byte) error {
	path, err := b.pathFor(mh)
	if err != nil {
		return err
	}
	if err := b.connM.connect(); err != nil {
		return err
	}
	if !b.connM.supportUIDPlus() {
		return mailerr.Unsupported("imap: server does not advertise UIDPLUS, save-new unavailable")
	}
	return b.connM.appendMessage(path, raw)
}

// Refresh forces one synchronous examine_updates pass outside the
// watcher loop, emitting a Create event per newly-seen envelope.
func (b *Backend) Refresh(ctx context.Context, mh mailbox.Hash) error {
	envs, err := examineUpdates(ctx, b, b.connM, mh, true)
	if err != nil {
		return err
	}
	for _, env := range envs {
		b.consumer.Notify(event.CreateEvent(b.accountHash, mh, env))
	}
	return nil
}

func (b *Backend) Close() error {
	if b.cache != nil {
		_ = b.cache.close()
	}
	return b.connM.logout()
}
