package imap

import (
	"testing"

	"github.com/gfreezy/meli/internal/envelope"
)

func TestTranslateFlagsRoundTrip(t *testing.T) {
	raw := []string{`\Seen`, `\Flagged`, `\Answered`}
	f, keywords := translateFlags(raw)
	if len(keywords) != 0 {
		t.Fatalf("unexpected keywords: %v", keywords)
	}
	if !f.Has(envelope.FlagSeen) || !f.Has(envelope.FlagFlagged) || !f.Has(envelope.FlagReplied) {
		t.Fatalf("flags = %v, missing expected bits", f)
	}

	back := storeFlags(f, nil)
	if len(back) != 3 {
		t.Fatalf("storeFlags produced %d values, want 3", len(back))
	}
}

func TestTranslateFlagsUnseenDefault(t *testing.T) {
	f, _ := translateFlags(nil)
	if f.Has(envelope.FlagSeen) {
		t.Error("absence of \\Seen should leave FlagSeen clear")
	}
}
