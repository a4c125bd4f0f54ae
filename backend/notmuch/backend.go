package notmuch

import (
	"context"
	"os"
	"sync"

	"github.com/gfreezy/meli/backend"
	"github.com/gfreezy/meli/internal/envelope"
	"github.com/gfreezy/meli/internal/event"
	"github.com/gfreezy/meli/internal/mailbox"
	"github.com/gfreezy/meli/internal/mailerr"
	"github.com/gfreezy/meli/settings"
	"github.com/hashicorp/go-hclog"
	notmuch "github.com/zenhack/go.notmuch"
)

func init() {
	backend.Register(settings.BackendNotmuch, newBackend)
}

const fetchBatchSize = 250 // spec §3 lifecycle

// Backend evaluates one configured query per mailbox against a notmuch
// index, converting each result message to an Envelope by reading its
// file and running the generic header parser (spec §4.4).
type Backend struct {
	account     settings.Account
	accountHash event.AccountHash
	consumer    event.Consumer
	log         hclog.Logger

	db       *db
	labels   *labelIndex
	registry *mailbox.Registry

	queries map[mailbox.Hash]string

	pathMu sync.RWMutex
	paths  map[envelope.Hash]string // envelope-hash -> maildir path, per spec §4.4
}

func newBackend(account settings.Account, accountHash event.AccountHash, consumer event.Consumer) (backend.MailBackend, error) {
	b := &Backend{
		account:     account,
		accountHash: accountHash,
		consumer:    consumer,
		log:         hclog.New(&hclog.LoggerOptions{Name: "notmuch-backend"}),
		db:          newDB(account.RootMailboxPath),
		labels:      newLabelIndex(),
		registry:    mailbox.NewRegistry(),
		queries:     make(map[mailbox.Hash]string),
		paths:       make(map[envelope.Hash]string),
	}
	if err := b.db.ensureSchema(); err != nil {
		return nil, err
	}
	for _, mb := range account.Mailboxes {
		h := mailbox.HashOf("notmuch", mb.Query)
		b.queries[h] = mb.Query

		entry := mailbox.NewMailbox(h, mb.Name, mb.Query)
		entry.Subscribed = mb.Subscribe
		entry.SpecialUse = mb.SpecialUse
		entry.Permissions = mailbox.Permissions{CanSetFlags: true}
		b.registry.Insert(entry)
	}
	return b, nil
}

func (b *Backend) Capabilities() backend.Capabilities {
	return backend.Capabilities{CanSetFlags: true, CanRefresh: true}
}

func (b *Backend) Mailboxes() *mailbox.Registry { return b.registry }

func collectTags(msg *notmuch.Message) ([]string, error) {
	tags := msg.Tags()
	var tag *notmuch.Tag
	var out []string
	for tags.Next(&tag) {
		out = append(out, tag.Value)
	}
	if err := tags.Close(); err != nil {
		return nil, err
	}
	return out, nil
}

func (b *Backend) parseEnvelopeAt(path string) (*envelope.Envelope, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, mailerr.IO(err, "cannot open message file")
	}
	defer f.Close()

	// Read enough of the file to cover the header plus a body prefix for
	// the hash fallback rule; Maildir messages are already framed per
	// file so there is no From_ boundary to locate.
	buf := make([]byte, 256*1024)
	n, _ := f.Read(buf)
	buf = buf[:n]

	header, body, ok := envelope.SplitHeaderBody(buf)
	if !ok {
		header, body = buf, nil
	}
	return envelope.ParseHeader(header, body)
}

func (b *Backend) Fetch(ctx context.Context, mh mailbox.Hash) <-chan backend.FetchResult {
	out := make(chan backend.FetchResult, 1)
	query, ok := b.queries[mh]
	if !ok {
		out <- backend.FetchResult{Err: mailerr.Config(nil, "notmuch: unknown mailbox "+mh.String())}
		close(out)
		return out
	}

	go func() {
		defer close(out)

		var envs []*envelope.Envelope
		err := b.db.WrapReadOnly(func(ndb *notmuch.DB) error {
			q := ndb.NewQuery(query)
			defer q.Close()

			msgs, qerr := q.Messages()
			if qerr != nil {
				return qerr
			}
			defer msgs.Close()

			var m *notmuch.Message
			for msgs.Next(&m) {
				path := m.Filename()
				tags, terr := collectTags(m)
				if terr != nil {
					return terr
				}

				env, perr := b.parseEnvelopeAt(path)
				if perr != nil {
					b.log.Warn("skipping unparseable message", "path", path, "error", perr)
					continue
				}
				f, labels := b.labels.flagsAndLabels(tags)
				env.Flags = f
				env.Labels = labels

				b.pathMu.Lock()
				b.paths[env.Hash] = path
				b.pathMu.Unlock()

				envs = append(envs, env)
			}
			return nil
		})
		if err != nil {
			select {
			case out <- backend.FetchResult{Err: mailerr.External(err, "notmuch query failed")}:
			case <-ctx.Done():
			}
			return
		}

		exists, unseen := 0, 0
		for start := 0; start < len(envs); start += fetchBatchSize {
			end := start + fetchBatchSize
			if end > len(envs) {
				end = len(envs)
			}
			chunk := make(backend.Batch, end-start)
			copy(chunk, envs[start:end])
			for _, e := range chunk {
				exists++
				if !e.Flags.Has(envelope.FlagSeen) {
					unseen++
				}
			}
			select {
			case out <- backend.FetchResult{Batch: chunk}:
			case <-ctx.Done():
				return
			}
		}

		if mb, ok := b.registry.Get(mh); ok {
			mb.Counters.SetBoth(exists, unseen)
		}
	}()
	return out
}

// resetPaths clears the envelope-hash -> path index, used when the
// index's revision_uuid changes under us (spec supplement, DESIGN.md).
func (b *Backend) resetPaths() {
	b.pathMu.Lock()
	b.paths = make(map[envelope.Hash]string)
	b.pathMu.Unlock()
}

// knownPath reports whether path is already tracked in the envelope-hash
// -> path index, i.e. this message has been surfaced before.
func (b *Backend) knownPath(path string) bool {
	b.pathMu.RLock()
	defer b.pathMu.RUnlock()
	for _, p := range b.paths {
		if p == path {
			return true
		}
	}
	return false
}

// hashForPath is knownPath's inverse: the envelope hash already on
// record for path, if any.
func (b *Backend) hashForPath(path string) (envelope.Hash, bool) {
	b.pathMu.RLock()
	defer b.pathMu.RUnlock()
	for h, p := range b.paths {
		if p == path {
			return h, true
		}
	}
	return 0, false
}

func (b *Backend) Operation(mh mailbox.Hash, eh envelope.Hash) (backend.ReadOperation, error) {
	b.pathMu.RLock()
	path, ok := b.paths[eh]
	b.pathMu.RUnlock()
	if !ok {
		return nil, mailerr.IO(nil, "notmuch: envelope not indexed")
	}
	return &readOp{db: b.db, path: path}, nil
}

type readOp struct {
	db   *db
	path string
}

// AsBytes reads the file at the path recorded for the envelope when
// Operation was called. It does not open the notmuch index.
func (r *readOp) AsBytes() ([]byte, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		return nil, mailerr.IO(err, "cannot read message file")
	}
	return data, nil
}

func (r *readOp) Close() error { return nil }

func (b *Backend) Watcher() (backend.Watcher, error) {
	return newWatcher(b), nil
}

// Copy, Move, Delete and SaveNew have no equivalent among the notmuch
// entry points spec §4.4 lists (query/message/tag/database handles
// only) — unsupported, same as mbox.
func (b *Backend) Copy(ctx context.Context, mh mailbox.Hash, ehs []envelope.Hash, destMh mailbox.Hash) error {
	return mailerr.Unsupported("notmuch: copy is not supported")
}

func (b *Backend) Move(ctx context.Context, mh mailbox.Hash, ehs []envelope.Hash, destMh mailbox.Hash) error {
	return mailerr.Unsupported("notmuch: move is not supported")
}

func (b *Backend) Delete(ctx context.Context, mh mailbox.Hash, ehs []envelope.Hash) error {
	return mailerr.Unsupported("notmuch: delete is not supported")
}

func (b *Backend) SaveNew(ctx context.Context, mh mailbox.Hash, raw []byte) error {
	return mailerr.Unsupported("notmuch: save-new is not supported")
}

func (b *Backend) Refresh(ctx context.Context, mh mailbox.Hash) error {
	for fr := range b.Fetch(ctx, mh) {
		if fr.Err != nil {
			return fr.Err
		}
		for _, env := range fr.Batch {
			b.consumer.Notify(event.CreateEvent(b.accountHash, mh, env))
		}
	}
	return nil
}

func (b *Backend) Close() error { return nil }
