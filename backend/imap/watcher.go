package imap

import (
	"context"
	"time"

	"github.com/emersion/go-imap/client"
	idle "github.com/emersion/go-imap-idle"
	"github.com/gfreezy/meli/internal/event"
	"github.com/gfreezy/meli/internal/mailbox"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const (
	defaultPollingPeriod = 2 * time.Minute
	idleMaxDuration      = 10 * time.Minute
)

// watcher is the centrepiece from spec §4.7: it owns conn_w, a
// dedicated connection for IDLE, and drives conn_m (owned by Backend)
// for the periodic examine_updates sweep over every watched mailbox,
// INBOX included. It selects the IDLE loop when the server advertises IDLE
// and the user has not disabled it, otherwise the polling loop.
type watcher struct {
	b     *Backend
	connW *conn

	pollingPeriod time.Duration
	instanceID    string
}

func newWatcher(b *Backend, connW *conn) *watcher {
	period := time.Duration(b.account.IMAP.PollingPeriodSeconds) * time.Second
	if period <= 0 {
		period = defaultPollingPeriod
	}
	return &watcher{b: b, connW: connW, pollingPeriod: period, instanceID: uuid.NewString()}
}

func (w *watcher) inboxHash() mailbox.Hash {
	for _, mb := range w.b.account.Mailboxes {
		if mb.SpecialUse == mailbox.Inbox {
			return mailbox.HashOf("imap", mb.Path)
		}
	}
	// Conventional fallback: an INBOX path not marked special-use is
	// still the mailbox IDLE selects.
	return mailbox.HashOf("imap", "INBOX")
}

func (w *watcher) Run(ctx context.Context) error {
	w.b.log.Info("watcher starting", "instance", w.instanceID, "account", w.b.account.Name)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		var err error
		if !w.b.account.IMAP.DisableIDLE && w.b.store.hasCapability("IDLE") {
			err = w.runIdle(ctx)
		} else {
			err = w.runPolling(ctx)
		}
		if err == nil {
			return nil // context cancelled cleanly
		}

		w.notifyFailure(err)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(5 * time.Second):
		}
	}
}

// notifyFailure records the failure into the uid_store's is_online
// field (spec §3) and fans a Failure event out to every watched
// mailbox. Run calls this on every loop iteration that ends in an
// error, so is_online always reflects the watcher's own view of
// reachability, not just conn.connect()'s.
func (w *watcher) notifyFailure(err error) {
	w.b.store.recordCheck(err)
	for mh := range mailboxesOf(w.b) {
		w.b.consumer.Notify(event.FailureEvent(w.b.accountHash, mh, err))
	}
}

func mailboxesOf(b *Backend) map[mailbox.Hash]struct{} {
	out := make(map[mailbox.Hash]struct{})
	for _, mb := range b.registry.All() {
		out[mb.Hash] = struct{}{}
	}
	return out
}

// sweepAll fans examine_updates out across every mailbox in mhs
// concurrently, using c for each. The goroutines still serialize at
// conn's mutex, but issuing them concurrently lets a slow EXAMINE on one
// mailbox not hold up the others queuing behind it, and errgroup gives
// first-error cancellation across the whole sweep (spec §4.7 step 3's
// "every other watched mailbox").
func (w *watcher) sweepAll(ctx context.Context, c *conn, mhs map[mailbox.Hash]struct{}) error {
	g, gctx := errgroup.WithContext(ctx)
	for mh := range mhs {
		mh := mh
		g.Go(func() error {
			envs, err := examineUpdates(gctx, w.b, c, mh, true)
			if err != nil {
				return err
			}
			for _, env := range envs {
				w.b.consumer.Notify(event.CreateEvent(w.b.accountHash, mh, env))
			}
			return nil
		})
	}
	return g.Wait()
}

// runIdle implements spec §4.7's IDLE loop. It returns nil only when
// ctx is cancelled; any protocol or network error returns non-nil so
// Run can back off and retry the whole sequence from step 1.
func (w *watcher) runIdle(ctx context.Context) error {
	if err := w.connW.connect(); err != nil {
		return err
	}
	inbox := w.inboxHash()
	if _, err := w.connW.examineMailbox(inboxPath(w.b, inbox), false); err != nil {
		return err
	}

	if _, err := examineUpdates(ctx, w.b, w.connW, inbox, false); err != nil {
		return err
	}

	others := mailboxesOf(w.b)
	delete(others, inbox)
	if err := w.sweepAll(ctx, w.connW, others); err != nil {
		return err
	}

	updates := make(chan client.Update, 8)
	w.connW.mu.Lock()
	w.connW.client.Updates = updates
	idleClient := idle.NewClient(w.connW.client)
	w.connW.mu.Unlock()

	idleTimeout := w.pollingPeriod
	if idleTimeout > idleMaxDuration {
		idleTimeout = idleMaxDuration
	}

	pollTicker := time.NewTicker(w.pollingPeriod)
	defer pollTicker.Stop()

	for {
		idleErr := make(chan error, 1)
		idleCtx, cancelIdle := context.WithCancel(ctx)
		go func() { idleErr <- idleClient.IdleWithFallback(idleCtx.Done(), idleTimeout) }()

		select {
		case <-ctx.Done():
			cancelIdle()
			<-idleErr
			return nil

		case <-updates:
			cancelIdle()
			if err := <-idleErr; err != nil {
				return err
			}
			envs, err := examineUpdates(ctx, w.b, w.connW, inbox, true)
			if err != nil {
				return err
			}
			for _, env := range envs {
				w.b.consumer.Notify(event.CreateEvent(w.b.accountHash, inbox, env))
			}
			if err := w.b.connM.connect(); err != nil {
				return err
			}

		case err := <-idleErr:
			cancelIdle()
			if err != nil {
				return err
			}
			// Heartbeat timeout: DONE was sent and IDLE re-issued
			// internally by IdleWithFallback. Refresh conn_m per
			// spec §4.7 step 4's "On timeout" branch.
			if err := w.b.connM.connect(); err != nil {
				return err
			}

		case <-pollTicker.C:
			cancelIdle()
			if err := <-idleErr; err != nil {
				return err
			}
			if err := w.sweepAll(ctx, w.b.connM, mailboxesOf(w.b)); err != nil {
				return err
			}
		}
	}
}

// runPolling is the fallback loop from spec §4.7: forever, for each
// watched mailbox, run examine_updates, then sleep pollingPeriod.
func (w *watcher) runPolling(ctx context.Context) error {
	if err := w.connW.connect(); err != nil {
		return err
	}
	ticker := time.NewTicker(w.pollingPeriod)
	defer ticker.Stop()

	for {
		if err := w.sweepAll(ctx, w.connW, mailboxesOf(w.b)); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func inboxPath(b *Backend, mh mailbox.Hash) string {
	if state, ok := b.store.mailboxState(mh); ok {
		return state.serverPath
	}
	return "INBOX"
}
