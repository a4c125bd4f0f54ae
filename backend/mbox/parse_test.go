package mbox

import (
	"strings"
	"testing"

	"github.com/gfreezy/meli/internal/envelope"
)

// TestAutoDetect covers spec §8 S1: MboxCl2 with Content-Length, then a
// second message without one degrading to MboxRd.
func TestAutoDetect(t *testing.T) {
	data := "From a@b Thu Jan  1 00:00:00 1970\n" +
		"From: a@b\n" +
		"Content-Length: 5\n" +
		"\n" +
		"hello\n" +
		"\n" +
		"From c@d Thu Jan  1 00:00:01 1970\n" +
		"From: c@d\n" +
		"\n" +
		"world\n"

	res := Parse([]byte(data), FormatAuto)
	if res.Skipped != 0 {
		t.Fatalf("expected no skipped messages, got %d", res.Skipped)
	}
	if len(res.Entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(res.Entries))
	}
	if res.Entries[0].Detected != FormatCl2 {
		t.Errorf("first message: expected MboxCl2, got %s", res.Entries[0].Detected)
	}
	if res.Entries[1].Detected != FormatRd {
		t.Errorf("second message: expected MboxRd, got %s", res.Entries[1].Detected)
	}

	for i, e := range res.Entries {
		slice := data[e.Offset : e.Offset+e.Length]
		if !strings.Contains(slice, "From: ") {
			t.Errorf("entry %d: span does not contain its own header: %q", i, slice)
		}
	}
}

// TestStatusFlags covers spec §8 S2.
func TestStatusFlags(t *testing.T) {
	data := "From a@b Thu Jan  1 00:00:00 1970\n" +
		"From: a@b\n" +
		"Status: RO\n" +
		"X-Status: F\n" +
		"\n" +
		"body\n"

	res := Parse([]byte(data), FormatAuto)
	if len(res.Entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(res.Entries))
	}
	got := res.Entries[0].Envelope.Flags
	want := envelope.FlagSeen | envelope.FlagFlagged
	if got != want {
		t.Errorf("flags = %b, want %b", got, want)
	}
}

// TestRecovery covers spec §8 property 2: a malformed block between two
// valid messages drops exactly one message and does not prevent the
// second valid message from being parsed. The malformed block ends with
// its own blank line so the next "From " line still qualifies as a
// postmark (spec §4.2: a postmark must be at the start of the buffer or
// preceded by a blank line).
func TestRecovery(t *testing.T) {
	data := "From a@b Thu Jan  1 00:00:00 1970\n" +
		"From: a@b\n" +
		"Subject: first\n" +
		"\n" +
		"body one\n" +
		"\n" +
		"From this is not really a header block and has no colon anywhere\n" +
		"just garbage text with no matching structure\n" +
		"\n" +
		"From c@d Thu Jan  1 00:00:01 1970\n" +
		"From: c@d\n" +
		"Subject: third\n" +
		"\n" +
		"body three\n"

	res := Parse([]byte(data), FormatAuto)
	if res.Skipped != 1 {
		t.Fatalf("expected exactly 1 skipped message, got %d", res.Skipped)
	}
	if len(res.Entries) != 2 {
		t.Fatalf("expected 2 successfully parsed entries, got %d", len(res.Entries))
	}
	if res.Entries[0].Envelope.Subject != "first" {
		t.Errorf("first entry subject = %q", res.Entries[0].Envelope.Subject)
	}
	if res.Entries[1].Envelope.Subject != "third" {
		t.Errorf("second recovered entry subject = %q", res.Entries[1].Envelope.Subject)
	}
}

// TestRoundTrip covers spec §8 property 1: slicing at (offset, length)
// recovers each message's header+body verbatim.
func TestRoundTrip(t *testing.T) {
	data := "From a@b Thu Jan  1 00:00:00 1970\n" +
		"From: a@b\n" +
		"Subject: hi\n" +
		"\n" +
		"line one\nline two\n"

	res := Parse([]byte(data), FormatRd)
	if len(res.Entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(res.Entries))
	}
	e := res.Entries[0]
	got := data[e.Offset : e.Offset+e.Length]
	want := "From: a@b\nSubject: hi\n\nline one\nline two\n"
	if got != want {
		t.Errorf("round trip mismatch:\ngot:  %q\nwant: %q", got, want)
	}
}
