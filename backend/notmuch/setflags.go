package notmuch

import (
	"context"

	"github.com/cespare/xxhash/v2"
	"github.com/gfreezy/meli/backend"
	"github.com/gfreezy/meli/internal/envelope"
	"github.com/gfreezy/meli/internal/event"
	"github.com/gfreezy/meli/internal/mailbox"
	"github.com/gfreezy/meli/internal/mailerr"
	notmuch "github.com/zenhack/go.notmuch"
)

// SetFlags applies delta to each envelope: open the index read-write,
// compute the add/remove tag delta, apply it, then ask the index to
// rewrite the on-disk Maildir flags to match. Each envelope's new
// on-disk path is re-read into the envelope-hash->path index (spec
// §4.4 "set_flags").
func (b *Backend) SetFlags(ctx context.Context, mh mailbox.Hash, ehs []envelope.Hash, delta backend.FlagDelta) error {
	for _, eh := range ehs {
		b.pathMu.RLock()
		path, ok := b.paths[eh]
		b.pathMu.RUnlock()
		if !ok {
			continue
		}

		err := b.db.WrapReadWrite(func(ndb *notmuch.DB) error {
			msg, ferr := ndb.FindMessageByFilename(path)
			if ferr != nil {
				return ferr
			}
			defer msg.Close()

			current, terr := collectTags(msg)
			if terr != nil {
				return terr
			}
			curFlags, curLabelMap := b.labels.flagsAndLabels(current)

			wantFlags := curFlags.
				Set(envelope.FlagSeen, applied(curFlags.Has(envelope.FlagSeen), delta.AddFlags.Has(envelope.FlagSeen), delta.RemoveFlags.Has(envelope.FlagSeen))).
				Set(envelope.FlagReplied, applied(curFlags.Has(envelope.FlagReplied), delta.AddFlags.Has(envelope.FlagReplied), delta.RemoveFlags.Has(envelope.FlagReplied))).
				Set(envelope.FlagFlagged, applied(curFlags.Has(envelope.FlagFlagged), delta.AddFlags.Has(envelope.FlagFlagged), delta.RemoveFlags.Has(envelope.FlagFlagged))).
				Set(envelope.FlagTrashed, applied(curFlags.Has(envelope.FlagTrashed), delta.AddFlags.Has(envelope.FlagTrashed), delta.RemoveFlags.Has(envelope.FlagTrashed))).
				Set(envelope.FlagDraft, applied(curFlags.Has(envelope.FlagDraft), delta.AddFlags.Has(envelope.FlagDraft), delta.RemoveFlags.Has(envelope.FlagDraft))).
				Set(envelope.FlagPassed, applied(curFlags.Has(envelope.FlagPassed), delta.AddFlags.Has(envelope.FlagPassed), delta.RemoveFlags.Has(envelope.FlagPassed)))

			wantLabels := mergeLabels(curLabelMap, delta.AddLabels, delta.RemoveLabels, b.labels)

			add, remove := tagDelta(current, wantFlags, wantLabels)
			for _, t := range add {
				if aerr := msg.AddTag(t); aerr != nil {
					return aerr
				}
			}
			for _, t := range remove {
				if rerr := msg.RemoveTag(t); rerr != nil {
					return rerr
				}
			}

			// Ask the index to rewrite the on-disk Maildir flags to
			// match the new tag set (spec §4.4).
			if terr := msg.TagsToMaildirFlags(); terr != nil {
				return terr
			}

			newPath := msg.Filename()
			b.pathMu.Lock()
			b.paths[eh] = newPath
			b.pathMu.Unlock()

			b.consumer.Notify(event.NewFlagsEvent(b.accountHash, mh, eh, wantFlags, labelStrings(wantLabels)))
			return nil
		})
		if err != nil {
			return mailerr.External(err, "cannot update notmuch tags")
		}
	}
	return nil
}

// applied computes the resulting boolean for a flag given its current
// value and an add/remove instruction; remove wins over add if both are
// (incorrectly) set for the same bit.
func applied(current, add, remove bool) bool {
	if remove {
		return false
	}
	if add {
		return true
	}
	return current
}

func mergeLabels(current map[uint64]string, add, remove []string, li *labelIndex) map[uint64]string {
	out := make(map[uint64]string, len(current)+len(add))
	for h, s := range current {
		out[h] = s
	}
	for _, s := range remove {
		delete(out, xxhash.Sum64String(s))
	}
	for _, s := range add {
		out[li.intern(s)] = s
	}
	return out
}

func labelStrings(m map[uint64]string) []string {
	out := make([]string, 0, len(m))
	for _, s := range m {
		out = append(out, s)
	}
	return out
}
