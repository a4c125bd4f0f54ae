package mbox

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
	"golang.org/x/sync/singleflight"
)

func init() {
	backend.Register(settings.BackendMbox, newBackend)
}

const fetchBatchSize = 150 // spec §3 lifecycle

// record is the per-mailbox state a Backend owns: the file path, its
// index, and the memoised whole-file buffer Operation reads slice into.
type record struct {
	mu       sync.Mutex
	path     string
	variant  Format
	index    *Index
	snapshot []byte
}

// Backend owns one or more mbox files, one per configured mailbox (spec
// §4.3).
type Backend struct {
	account     settings.Account
	accountHash event.AccountHash
	consumer    event.Consumer
	log         hclog.Logger

	registry *mailbox.Registry

	mu      sync.RWMutex
	records map[mailbox.Hash]*record

	// parseGroup collapses concurrent Fetch calls against the same
	// file into one read+parse, so a watcher-triggered Rescan racing
	// an explicit Fetch doesn't re-read the file twice.
	parseGroup singleflight.Group
}

func newBackend(account settings.Account, accountHash event.AccountHash, consumer event.Consumer) (backend.MailBackend, error) {
	b := &Backend{
		account:     account,
		accountHash: accountHash,
		consumer:    consumer,
		log:         hclog.New(&hclog.LoggerOptions{Name: "mbox-backend"}),
		registry:    mailbox.NewRegistry(),
		records:     make(map[mailbox.Hash]*record),
	}
	for _, mb := range account.Mailboxes {
		h := mailbox.HashOf("mbox", mb.Path)
		rec := &record{path: mb.Path, variant: variantOf(mb.PreferMboxType()), index: NewIndex()}
		b.records[h] = rec

		entry := mailbox.NewMailbox(h, mb.Name, mb.Path)
		entry.Subscribed = mb.Subscribe
		entry.SpecialUse = mb.SpecialUse
		entry.Permissions = mailbox.Permissions{} // all false: mbox is read-mostly
		b.registry.Insert(entry)
	}
	return b, nil
}

func variantOf(v settings.MboxVariant) Format {
	switch v {
	case settings.MboxO:
		return FormatO
	case settings.MboxRd:
		return FormatRd
	case settings.MboxCl:
		return FormatCl
	case settings.MboxCl2:
		return FormatCl2
	default:
		return FormatAuto
	}
}

func (b *Backend) Capabilities() backend.Capabilities {
	return backend.Capabilities{} // every optional op is unsupported, per spec §4.3
}

func (b *Backend) Mailboxes() *mailbox.Registry { return b.registry }

func (b *Backend) recordFor(mh mailbox.Hash) (*record, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	rec, ok := b.records[mh]
	if !ok {
		return nil, unsupportedMailbox(mh)
	}
	return rec, nil
}

func (b *Backend) Fetch(ctx context.Context, mh mailbox.Hash) <-chan backend.FetchResult {
	out := make(chan backend.FetchResult, 1)
	rec, err := b.recordFor(mh)
	if err != nil {
		out <- backend.FetchResult{Err: err}
		close(out)
		return out
	}

	go func() {
		defer close(out)

		type parsed struct {
			buf []byte
			res ParseResult
		}

		v, err, _ := b.parseGroup.Do(rec.path, func() (interface{}, error) {
			var buf []byte
			lockErr := withFileLock(rec.path, func() error {
				data, readErr := os.ReadFile(rec.path)
				if readErr != nil {
					return readErr
				}
				buf = data
				return nil
			})
			if lockErr != nil {
				return nil, lockErr
			}
			return parsed{buf: buf, res: Parse(buf, rec.variant)}, nil
		})
		if err != nil {
			select {
			case out <- backend.FetchResult{Err: err}:
			case <-ctx.Done():
			}
			return
		}

		p := v.(parsed)
		buf, result := p.buf, p.res
		if result.Skipped > 0 {
			b.log.Warn("skipped unparseable messages", "mailbox", mh, "count", result.Skipped)
		}

		entries := result.Entries
		exists, unseen := 0, 0
		for start := 0; start < len(entries); start += fetchBatchSize {
			end := start + fetchBatchSize
			if end > len(entries) {
				end = len(entries)
			}
			chunk := entries[start:end]

			batch := make(backend.Batch, 0, len(chunk))
			for _, e := range chunk {
				rec.index.Insert(e.Envelope.Hash, Span{Offset: e.Offset, Length: e.Length})
				batch = append(batch, e.Envelope)
				exists++
				if !e.Envelope.Flags.Has(envelope.FlagSeen) {
					unseen++
				}
			}

			select {
			case out <- backend.FetchResult{Batch: batch}:
			case <-ctx.Done():
				return
			}
		}

		if mb, ok := b.registry.Get(mh); ok {
			mb.Counters.SetBoth(exists, unseen)
		}

		// Snapshot parsed bytes for Operation reads, per spec §4.3.
		rec.mu.Lock()
		rec.snapshot = buf
		rec.mu.Unlock()
	}()
	return out
}

func unsupportedMailbox(mh mailbox.Hash) error {
	return mailerr.Config(nil, "mbox: unknown mailbox "+mh.String())
}

func (b *Backend) Operation(mh mailbox.Hash, eh envelope.Hash) (backend.ReadOperation, error) {
	rec, err := b.recordFor(mh)
	if err != nil {
		return nil, err
	}
	span, ok := rec.index.Lookup(eh)
	if !ok {
		return nil, mailerr.IO(nil, "mbox: envelope "+eh.String()+" not indexed")
	}
	return &readOp{rec: rec, span: span}, nil
}

// readOp is the lazy per-envelope reader spec §4.3 describes: on first
// use it acquires the file lock, reads the whole file into the record's
// memoised buffer if not already present, and slices it.
type readOp struct {
	rec  *record
	span Span
}

func (r *readOp) AsBytes() ([]byte, error) {
	r.rec.mu.Lock()
	defer r.rec.mu.Unlock()

	if r.rec.snapshot == nil {
		var buf []byte
		err := withFileLock(r.rec.path, func() error {
			data, readErr := os.ReadFile(r.rec.path)
			if readErr != nil {
				return readErr
			}
			buf = data
			return nil
		})
		if err != nil {
			return nil, err
		}
		r.rec.snapshot = buf
	}

	end := r.span.Offset + r.span.Length
	if end > len(r.rec.snapshot) {
		end = len(r.rec.snapshot)
	}
	if r.span.Offset > end {
		return nil, mailerr.IO(nil, "mbox: stale index span")
	}
	out := make([]byte, end-r.span.Offset)
	copy(out, r.rec.snapshot[r.span.Offset:end])
	return out, nil
}

func (r *readOp) Close() error { return nil }

func (b *Backend) Watcher() (backend.Watcher, error) {
	return newWatcher(b), nil
}

func (b *Backend) SetFlags(ctx context.Context, mh mailbox.Hash, ehs []envelope.Hash, delta backend.FlagDelta) error {
	return mailerr.Unsupported("mbox: set-flags is not supported")
}

// Copy, Move, Delete and SaveNew are all part of spec §4.3's explicit
// "Unimplemented (MUST fail with a distinct 'unsupported' error): copy,
// move, set-flags, delete, save-new, refresh" list for the mbox backend.
func (b *Backend) Copy(ctx context.Context, mh mailbox.Hash, ehs []envelope.Hash, destMh mailbox.Hash) error {
	return mailerr.Unsupported("mbox: copy is not supported")
}

func (b *Backend) Move(ctx context.Context, mh mailbox.Hash, ehs []envelope.Hash, destMh mailbox.Hash) error {
	return mailerr.Unsupported("mbox: move is not supported")
}

func (b *Backend) Delete(ctx context.Context, mh mailbox.Hash, ehs []envelope.Hash) error {
	return mailerr.Unsupported("mbox: delete is not supported")
}

func (b *Backend) SaveNew(ctx context.Context, mh mailbox.Hash, raw []byte) error {
	return mailerr.Unsupported("mbox: save-new is not supported")
}

func (b *Backend) Refresh(ctx context.Context, mh mailbox.Hash) error {
	return mailerr.Unsupported("mbox: refresh is not supported")
}

func (b *Backend) Close() error { return nil }
