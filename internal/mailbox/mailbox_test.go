package mailbox

import "testing"

func TestCountersSetBothAtomic(t *testing.T) {
	c := &Counters{}
	c.SetBoth(10, 3)
	exists, unseen := c.Snapshot()
	if exists != 10 || unseen != 3 {
		t.Fatalf("Snapshot = (%d, %d), want (10, 3)", exists, unseen)
	}
}

func TestRegistryAddChild(t *testing.T) {
	r := NewRegistry()
	parent := NewMailbox(HashOf("test", "INBOX"), "INBOX", "INBOX")
	child := NewMailbox(HashOf("test", "INBOX.Sub"), "Sub", "INBOX.Sub")
	r.Insert(parent)
	r.Insert(child)
	r.AddChild(parent.Hash, child.Hash)

	got, ok := r.Get(parent.Hash)
	if !ok || len(got.Children) != 1 || got.Children[0] != child.Hash {
		t.Fatalf("parent.Children = %v, want [%v]", got.Children, child.Hash)
	}
	gotChild, ok := r.Get(child.Hash)
	if !ok || !gotChild.HasParent || gotChild.Parent != parent.Hash {
		t.Fatalf("child.Parent = %v (HasParent=%v), want %v", gotChild.Parent, gotChild.HasParent, parent.Hash)
	}
}

func TestHashOfNamespacesByKind(t *testing.T) {
	a := HashOf("mbox", "/home/user/Mail/inbox")
	b := HashOf("notmuch", "/home/user/Mail/inbox")
	if a == b {
		t.Error("HashOf must namespace by kind so an mbox path can't collide with a notmuch query of the same text")
	}
}
