package imap

import (
	"sync"
	"time"

	"github.com/gfreezy/meli/internal/envelope"
	"github.com/gfreezy/meli/internal/mailbox"
)

// imapMailbox is the server-side metadata an ImapMailbox carries on top
// of the generic mailbox.Mailbox (spec §3 "UIDStore (IMAP)").
type imapMailbox struct {
	serverPath string
	noSelect   bool
	warm       bool // has completed its first examine_updates pass
}

// uidKey addresses one message within one mailbox by UID.
type uidKey struct {
	mh  mailbox.Hash
	uid uint32
}

// hashEntry is the inverse of uidKey, keyed by envelope hash.
type hashEntry struct {
	uid uint32
	mh  mailbox.Hash
}

// onlineState is read far more often than written, hence its own lock
// rather than folding it into one of the other maps.
type onlineState struct {
	mu          sync.RWMutex
	lastCheck   time.Time
	lastErr     error
}

// uidStore is the per-account shared state described in spec §4.6: one
// instance per account, shared by every connection that account opens.
// Every map has its own mutex; the FIXED lock order across the whole
// backend is
//
//	capabilities -> mailboxes -> uidvalidity -> uid_index -> hash_index -> msn_index
//
// Any code path that must hold more than one of these locks at once
// MUST acquire them in this order to avoid deadlock. Most operations
// only ever need one.
type uidStore struct {
	capMu        sync.RWMutex
	capabilities map[string]bool

	mailboxMu sync.RWMutex
	mailboxes map[mailbox.Hash]*imapMailbox

	uidvalidityMu sync.RWMutex
	uidvalidity   map[mailbox.Hash]uint32

	uidIndexMu sync.RWMutex
	uidIndex   map[uidKey]envelope.Hash

	hashIndexMu sync.RWMutex
	hashIndex   map[envelope.Hash]hashEntry

	msnIndexMu sync.RWMutex
	msnIndex   map[mailbox.Hash][]uint32

	online onlineState

	timeout time.Duration
}

func newUIDStore(timeout time.Duration) *uidStore {
	return &uidStore{
		capabilities: make(map[string]bool),
		mailboxes:    make(map[mailbox.Hash]*imapMailbox),
		uidvalidity:  make(map[mailbox.Hash]uint32),
		uidIndex:     make(map[uidKey]envelope.Hash),
		hashIndex:    make(map[envelope.Hash]hashEntry),
		msnIndex:     make(map[mailbox.Hash][]uint32),
		timeout:      timeout,
	}
}

func (s *uidStore) setCapabilities(caps map[string]bool) {
	s.capMu.Lock()
	s.capabilities = caps
	s.capMu.Unlock()
}

func (s *uidStore) hasCapability(name string) bool {
	s.capMu.RLock()
	defer s.capMu.RUnlock()
	return s.capabilities[name]
}

func (s *uidStore) setMailbox(mh mailbox.Hash, m *imapMailbox) {
	s.mailboxMu.Lock()
	s.mailboxes[mh] = m
	s.mailboxMu.Unlock()
}

func (s *uidStore) mailboxState(mh mailbox.Hash) (*imapMailbox, bool) {
	s.mailboxMu.RLock()
	defer s.mailboxMu.RUnlock()
	m, ok := s.mailboxes[mh]
	return m, ok
}

func (s *uidStore) uidvalidityOf(mh mailbox.Hash) (uint32, bool) {
	s.uidvalidityMu.RLock()
	defer s.uidvalidityMu.RUnlock()
	v, ok := s.uidvalidity[mh]
	return v, ok
}

func (s *uidStore) setUIDValidity(mh mailbox.Hash, v uint32) {
	s.uidvalidityMu.Lock()
	s.uidvalidity[mh] = v
	s.uidvalidityMu.Unlock()
}

// purgeMailbox drops every uid_index/hash_index/msn_index entry for mh,
// per spec §3's UIDVALIDITY invariant: "all derived state for mh must be
// purged ... before any new envelope for mh is surfaced." Locks are
// taken in the fixed global order.
func (s *uidStore) purgeMailbox(mh mailbox.Hash) {
	s.uidIndexMu.Lock()
	var stale []envelope.Hash
	for k, eh := range s.uidIndex {
		if k.mh == mh {
			delete(s.uidIndex, k)
			stale = append(stale, eh)
		}
	}
	s.uidIndexMu.Unlock()

	s.hashIndexMu.Lock()
	for _, eh := range stale {
		delete(s.hashIndex, eh)
	}
	s.hashIndexMu.Unlock()

	s.msnIndexMu.Lock()
	delete(s.msnIndex, mh)
	s.msnIndexMu.Unlock()
}

// insert records a freshly-fetched message in all three indices as one
// logical unit. Returns false if (mh, uid) was already present, the
// idempotence check required by spec §4.7 step 8.
func (s *uidStore) insert(mh mailbox.Hash, uid uint32, eh envelope.Hash) bool {
	k := uidKey{mh, uid}

	s.uidIndexMu.Lock()
	if _, exists := s.uidIndex[k]; exists {
		s.uidIndexMu.Unlock()
		return false
	}
	s.uidIndex[k] = eh
	s.uidIndexMu.Unlock()

	s.hashIndexMu.Lock()
	s.hashIndex[eh] = hashEntry{uid: uid, mh: mh}
	s.hashIndexMu.Unlock()

	s.msnIndexMu.Lock()
	s.msnIndex[mh] = append(s.msnIndex[mh], uid)
	s.msnIndexMu.Unlock()
	return true
}

func (s *uidStore) lookupHash(mh mailbox.Hash, uid uint32) (envelope.Hash, bool) {
	s.uidIndexMu.RLock()
	defer s.uidIndexMu.RUnlock()
	eh, ok := s.uidIndex[uidKey{mh, uid}]
	return eh, ok
}

func (s *uidStore) lookupUID(eh envelope.Hash) (uint32, mailbox.Hash, bool) {
	s.hashIndexMu.RLock()
	defer s.hashIndexMu.RUnlock()
	e, ok := s.hashIndex[eh]
	return e.uid, e.mh, ok
}

func (s *uidStore) localCount(mh mailbox.Hash) int {
	s.msnIndexMu.RLock()
	defer s.msnIndexMu.RUnlock()
	return len(s.msnIndex[mh])
}

func (s *uidStore) recordCheck(err error) {
	s.online.mu.Lock()
	s.online.lastCheck = time.Now()
	s.online.lastErr = err
	s.online.mu.Unlock()
}

func (s *uidStore) isOnline() bool {
	s.online.mu.RLock()
	defer s.online.mu.RUnlock()
	return s.online.lastErr == nil
}
