package imap

import (
	"testing"

	"github.com/gfreezy/meli/internal/envelope"
	"github.com/gfreezy/meli/internal/mailbox"
)

// TestInsertIdempotent covers spec §4.7 step 8: a second insert for a
// (mailbox, uid) pair already present must be a no-op.
func TestInsertIdempotent(t *testing.T) {
	s := newUIDStore(0)
	mh := mailbox.HashOf("imap", "INBOX")
	eh := envelope.Hash(1)

	if !s.insert(mh, 5, eh) {
		t.Fatal("first insert should report new")
	}
	if s.insert(mh, 5, envelope.Hash(2)) {
		t.Fatal("second insert for the same (mailbox, uid) should report already-present")
	}
	got, ok := s.lookupHash(mh, 5)
	if !ok || got != eh {
		t.Fatalf("lookupHash = (%v, %v), want (%v, true)", got, ok, eh)
	}
	if s.localCount(mh) != 1 {
		t.Fatalf("localCount = %d, want 1 (idempotent insert must not grow msn_index)", s.localCount(mh))
	}
}

// TestUIDHashIndexInverse covers spec §3's invariant that uid_index and
// hash_index are inverses on their common domain.
func TestUIDHashIndexInverse(t *testing.T) {
	s := newUIDStore(0)
	mh := mailbox.HashOf("imap", "INBOX")
	eh := envelope.Hash(42)
	s.insert(mh, 7, eh)

	uid, gotMh, ok := s.lookupUID(eh)
	if !ok || uid != 7 || gotMh != mh {
		t.Fatalf("lookupUID = (%d, %v, %v), want (7, %v, true)", uid, gotMh, ok, mh)
	}
}

// TestPurgeMailbox covers spec §3's UIDVALIDITY invariant: "all derived
// state for mh must be purged ... before any new envelope for mh is
// surfaced" and corresponds to scenario S3.
func TestPurgeMailbox(t *testing.T) {
	s := newUIDStore(0)
	mh := mailbox.HashOf("imap", "INBOX")
	other := mailbox.HashOf("imap", "Archive")
	eh1, eh2 := envelope.Hash(1), envelope.Hash(2)
	s.insert(mh, 1, eh1)
	s.insert(other, 1, eh2)

	s.purgeMailbox(mh)

	if _, ok := s.lookupHash(mh, 1); ok {
		t.Error("uid_index entry for purged mailbox should be gone")
	}
	if _, _, ok := s.lookupUID(eh1); ok {
		t.Error("hash_index entry for purged mailbox should be gone")
	}
	if s.localCount(mh) != 0 {
		t.Errorf("msn_index for purged mailbox = %d entries, want 0", s.localCount(mh))
	}
	if _, ok := s.lookupHash(other, 1); !ok {
		t.Error("purging one mailbox must not affect another mailbox's entries")
	}
}

func TestSetUIDValidity(t *testing.T) {
	s := newUIDStore(0)
	mh := mailbox.HashOf("imap", "INBOX")
	if _, ok := s.uidvalidityOf(mh); ok {
		t.Fatal("uidvalidity should be unknown before first set")
	}
	s.setUIDValidity(mh, 100)
	v, ok := s.uidvalidityOf(mh)
	if !ok || v != 100 {
		t.Fatalf("uidvalidityOf = (%d, %v), want (100, true)", v, ok)
	}
}
