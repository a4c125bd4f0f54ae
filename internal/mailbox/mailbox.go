// Package mailbox holds the per-account mailbox registry: name, path,
// parent/children, permissions, special-use tag, and shared counters.
package mailbox

import (
	"strconv"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// Hash identifies a mailbox for the lifetime of the process. Derived
// from a canonical path (mbox), server mailbox name (IMAP) or configured
// query name (notmuch); see spec §3.
type Hash uint64

func (h Hash) String() string {
	return strconv.FormatUint(uint64(h), 16)
}

// HashOf derives a Hash from a backend-specific canonical key. Kind
// namespaces the key so the same string can't collide across backend
// types sharing one process (e.g. an mbox path equal to a notmuch query).
func HashOf(kind, canonicalKey string) Hash {
	return Hash(xxhash.Sum64String(kind + "\x00" + canonicalKey))
}

// SpecialUse is the semantic role of a mailbox, per RFC 6154.
type SpecialUse int

const (
	Normal SpecialUse = iota
	Inbox
	Archive
	Drafts
	Flagged
	Junk
	Sent
	Trash
)

// Permissions is the eight-boolean capability set a mailbox advertises.
type Permissions struct {
	CanCreate         bool
	CanRemove         bool
	CanSetFlags       bool
	CanCreateChild    bool
	CanRename         bool
	CanDeleteMessage  bool
	CanDeleteMailbox  bool
	CanChangePerms    bool
}

// Counters are the shared, interior-mutable unseen/total counts. Updated
// under a single critical section per spec §9's Open Question resolution
// (see DESIGN.md): Exists and Unseen are swapped together, never read
// mid-update.
type Counters struct {
	mu     sync.RWMutex
	exists int64
	unseen int64
}

// Snapshot returns a consistent (exists, unseen) pair: it reads both
// fields under the same lock SetBoth writes them under.
func (c *Counters) Snapshot() (exists, unseen int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return int(c.exists), int(c.unseen)
}

// SetBoth updates both counters. Backends call this instead of setting
// each counter individually so readers never observe a transient
// exists=0,unseen=0 pair while a LIST-STATUS response is being applied.
func (c *Counters) SetBoth(exists, unseen int) {
	c.mu.Lock()
	c.exists = int64(exists)
	c.unseen = int64(unseen)
	c.mu.Unlock()
}

// Mailbox is the registry record for one mailbox.
type Mailbox struct {
	Hash Hash

	Name   string // leaf name
	Path   string // full path, "/"-separated
	Parent Hash   // zero value means no parent
	HasParent bool
	Children []Hash

	Permissions Permissions
	SpecialUse  SpecialUse
	Subscribed  bool

	Counters *Counters
}

// NewMailbox constructs a registry record with fresh counters.
func NewMailbox(h Hash, name, path string) *Mailbox {
	return &Mailbox{
		Hash:     h,
		Name:     name,
		Path:     path,
		Counters: &Counters{},
	}
}

// Registry is the per-account arena owning mailbox records, addressed by
// hash so the tree has no parent<->child pointer cycles (spec §9).
type Registry struct {
	mailboxes map[Hash]*Mailbox
}

func NewRegistry() *Registry {
	return &Registry{mailboxes: make(map[Hash]*Mailbox)}
}

func (r *Registry) Insert(mb *Mailbox) { r.mailboxes[mb.Hash] = mb }

func (r *Registry) Get(h Hash) (*Mailbox, bool) {
	mb, ok := r.mailboxes[h]
	return mb, ok
}

func (r *Registry) Delete(h Hash) { delete(r.mailboxes, h) }

func (r *Registry) All() []*Mailbox {
	out := make([]*Mailbox, 0, len(r.mailboxes))
	for _, mb := range r.mailboxes {
		out = append(out, mb)
	}
	return out
}

// AddChild links child under parent, maintaining both directions.
func (r *Registry) AddChild(parent, child Hash) {
	if p, ok := r.mailboxes[parent]; ok {
		p.Children = append(p.Children, child)
	}
	if c, ok := r.mailboxes[child]; ok {
		c.Parent = parent
		c.HasParent = true
	}
}
