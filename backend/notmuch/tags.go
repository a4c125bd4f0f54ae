package notmuch

import (
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/gfreezy/meli/internal/envelope"
)

// labelIndex interns arbitrary (non-canonical) tags into 64-bit label
// hashes shared across every envelope from this backend, per spec §4.4
// "a shared tag-index (tag_hash <-> tag_string)".
type labelIndex struct {
	mu     sync.RWMutex
	byHash map[uint64]string
}

func newLabelIndex() *labelIndex {
	return &labelIndex{byHash: make(map[uint64]string)}
}

func (li *labelIndex) intern(tag string) uint64 {
	h := xxhash.Sum64String(tag)
	li.mu.Lock()
	li.byHash[h] = tag
	li.mu.Unlock()
	return h
}

func (li *labelIndex) lookup(h uint64) (string, bool) {
	li.mu.RLock()
	defer li.mu.RUnlock()
	s, ok := li.byHash[h]
	return s, ok
}

// flagsAndLabels converts a notmuch tag set into an envelope Flag
// bitset plus an interned label map, bijective on the six canonical
// tags (spec §8 property 3).
func (li *labelIndex) flagsAndLabels(tags []string) (envelope.Flag, map[uint64]string) {
	f, rest := envelope.FlagsFromTags(tags)
	labels := make(map[uint64]string, len(rest))
	for _, t := range rest {
		labels[li.intern(t)] = t
	}
	return f, labels
}

// tagsFor renders flags+labels back into the full notmuch tag set.
func tagsFor(f envelope.Flag, labels map[uint64]string) []string {
	rest := make([]string, 0, len(labels))
	for _, s := range labels {
		rest = append(rest, s)
	}
	return envelope.TagsFromFlags(f, rest)
}

// tagDelta computes the add/remove tag lists needed to move a message
// from its current tag set to the one implied by (flags, labels),
// per spec §4.4 "set_flags".
func tagDelta(current []string, wantFlags envelope.Flag, wantLabels map[uint64]string) (add, remove []string) {
	want := tagsFor(wantFlags, wantLabels)
	wantSet := make(map[string]bool, len(want))
	for _, t := range want {
		wantSet[t] = true
	}
	curSet := make(map[string]bool, len(current))
	for _, t := range current {
		curSet[t] = true
	}
	for t := range wantSet {
		if !curSet[t] {
			add = append(add, t)
		}
	}
	for t := range curSet {
		if !wantSet[t] {
			remove = append(remove, t)
		}
	}
	return add, remove
}
