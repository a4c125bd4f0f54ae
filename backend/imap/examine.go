package imap

import (
	"context"

	goimap "github.com/emersion/go-imap"
	"github.com/gfreezy/meli/internal/envelope"
	"github.com/gfreezy/meli/internal/event"
	"github.com/gfreezy/meli/internal/mailbox"
)

// examineUpdates is the change-detection algorithm from spec §4.7. It
// returns the envelopes newly inserted into the uid_index during this
// pass, so both Fetch and the watcher loops can reuse it: Fetch wants
// them as a batch, the watcher wants them as Create events.
func examineUpdates(ctx context.Context, b *Backend, c *conn, mh mailbox.Hash, full bool) ([]*envelope.Envelope, error) {
	state, ok := b.store.mailboxState(mh)
	if !ok {
		return nil, nil
	}
	if state.noSelect {
		return nil, nil
	}

	if resynced, err := c.resync(state.serverPath, 0); err != nil {
		return nil, err
	} else if len(resynced) > 0 {
		return applyFetched(b, mh, state, resynced), nil
	}

	sel, err := c.examineMailbox(state.serverPath, false)
	if err != nil {
		return nil, err
	}

	stored, known := b.store.uidvalidityOf(mh)
	if known && stored != sel.UIDValidity {
		b.store.purgeMailbox(mh)
		if b.cache != nil {
			_ = b.cache.purgeMailbox(mh)
		}
		b.store.setUIDValidity(mh, sel.UIDValidity)
		b.consumer.Notify(event.RescanEvent(b.accountHash, mh))
		return nil, nil
	}
	b.store.setUIDValidity(mh, sel.UIDValidity)

	if !state.warm {
		exists, unseen := coldMailboxCounts(b, c, state.serverPath, sel)
		if m, ok := b.registry.Get(mh); ok {
			m.Counters.SetBoth(exists, unseen)
		}
		state.warm = true
		b.store.setMailbox(mh, state)
		if !full {
			return nil, nil
		}
	}

	var messages []*goimap.Message
	switch {
	case sel.Recent > 0:
		uids, serr := c.uidSearch(&goimap.SearchCriteria{WithFlags: []string{goimap.RecentFlag}})
		if serr != nil {
			return nil, serr
		}
		if len(uids) == 0 {
			return nil, nil
		}
		seqSet := &goimap.SeqSet{}
		for _, u := range uids {
			seqSet.AddNum(u)
		}
		messages, err = c.uidFetch(seqSet, fetchItems())
		if err != nil {
			return nil, err
		}
	case int(sel.Exists) > b.store.localCount(mh):
		local := b.store.localCount(mh)
		seqSet := &goimap.SeqSet{}
		seqSet.AddRange(uint32(local+1), 0)
		messages, err = c.fetch(seqSet, fetchItems())
		if err != nil {
			return nil, err
		}
	default:
		return nil, nil
	}

	return applyFetched(b, mh, state, messages), nil
}

// coldMailboxCounts initialises a first-time mailbox's counters (spec
// §4.7 step 4). EXAMINE already reports UNSEEN via the untagged
// response code on most servers; when it doesn't (UNSEEN == 0 but
// EXISTS > 0), fall back to SEARCH UNSEEN.
func coldMailboxCounts(b *Backend, c *conn, path string, sel *selectResponse) (exists, unseen int) {
	if sel.Unseen > 0 || sel.Exists == 0 {
		return int(sel.Exists), int(sel.Unseen)
	}
	uids, err := c.uidSearch(&goimap.SearchCriteria{
		WithoutFlags: []string{goimap.SeenFlag},
	})
	if err != nil {
		return int(sel.Exists), 0
	}
	return int(sel.Exists), len(uids)
}

// applyFetched inserts every fetched message into the three indices,
// skipping (mh, uid) pairs already known, per spec §4.7 step 8's
// idempotence rule.
func applyFetched(b *Backend, mh mailbox.Hash, state *imapMailbox, messages []*goimap.Message) []*envelope.Envelope {
	var out []*envelope.Envelope
	for _, msg := range messages {
		if msg.Uid == 0 {
			continue
		}
		env := envelopeFromMessage(state.serverPath, msg.Uid, msg)
		if !b.store.insert(mh, msg.Uid, env.Hash) {
			continue
		}
		if b.cache != nil {
			_ = b.cache.put(mh, msg.Uid, env.Hash, env.MessageID, env.Subject, env.Flags)
		}
		out = append(out, env)
	}
	return out
}
