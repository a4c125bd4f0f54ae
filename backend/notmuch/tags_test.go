package notmuch

import (
	"sort"
	"testing"

	"github.com/gfreezy/meli/internal/envelope"
)

// TestFlagTagBijection covers spec §8 property 3 for the subset of tag
// combinations reachable through the six canonical tags.
func TestFlagTagBijection(t *testing.T) {
	combos := [][]string{
		{},
		{envelope.TagUnread},
		{envelope.TagFlagged},
		{envelope.TagUnread, envelope.TagFlagged, envelope.TagReplied},
		{envelope.TagDraft, envelope.TagPassed, envelope.TagTrashed},
		{envelope.TagUnread, envelope.TagDraft, envelope.TagPassed, envelope.TagReplied, envelope.TagFlagged, envelope.TagTrashed},
	}
	for _, want := range combos {
		f, rest := envelope.FlagsFromTags(want)
		if len(rest) != 0 {
			t.Fatalf("unexpected labels from canonical-only tag set: %v", rest)
		}
		got := envelope.TagsFromFlags(f, nil)
		if !sameSet(got, want) {
			t.Errorf("tags_of(flags_of(%v)) = %v", want, got)
		}
	}
}

// TestLabelInterning covers spec §8 S5: unread+flagged+custom1 yields
// Flagged with Seen clear (unread is the inverse of Seen), a label for
// "custom1", and the tag index resolves its hash back.
func TestLabelInterning(t *testing.T) {
	li := newLabelIndex()
	f, labels := li.flagsAndLabels([]string{"unread", "flagged", "custom1"})

	if !f.Has(envelope.FlagFlagged) {
		t.Error("expected Flagged bit set")
	}
	if f.Has(envelope.FlagSeen) {
		t.Error("expected Seen bit clear given the unread tag")
	}
	if len(labels) != 1 {
		t.Fatalf("expected exactly 1 label, got %d: %v", len(labels), labels)
	}
	for h, s := range labels {
		if s != "custom1" {
			t.Errorf("label value = %q, want custom1", s)
		}
		got, ok := li.lookup(h)
		if !ok || got != "custom1" {
			t.Errorf("tag_index[hash] lookup = (%q, %v), want (custom1, true)", got, ok)
		}
	}
}

func sameSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	ac := append([]string(nil), a...)
	bc := append([]string(nil), b...)
	sort.Strings(ac)
	sort.Strings(bc)
	for i := range ac {
		if ac[i] != bc[i] {
			return false
		}
	}
	return true
}
