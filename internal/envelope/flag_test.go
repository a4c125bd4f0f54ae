package envelope

import "testing"

func TestMboxLettersRoundTrip(t *testing.T) {
	for _, f := range []Flag{
		0,
		FlagSeen,
		FlagFlagged | FlagReplied,
		FlagSeen | FlagFlagged | FlagReplied | FlagTrashed | FlagDraft,
	} {
		status, xstatus := f.MboxLetters()
		got := FlagsFromMboxLetters(status, xstatus)
		// FlagPassed has no mbox letter; strip it before comparing.
		want := f &^ FlagPassed
		if got != want {
			t.Errorf("round trip of %v: got %v, want %v (status=%q xstatus=%q)", f, got, want, status, xstatus)
		}
	}
}

func TestIMAPFlagsRoundTrip(t *testing.T) {
	for _, f := range []Flag{
		0,
		FlagSeen,
		FlagSeen | FlagFlagged | FlagReplied | FlagDraft | FlagTrashed | FlagPassed,
	} {
		names := f.IMAPFlags(nil)
		got, keywords := FlagsFromIMAP(names)
		if len(keywords) != 0 {
			t.Errorf("unexpected keywords round-tripping %v: %v", f, keywords)
		}
		if got != f {
			t.Errorf("IMAP round trip of %v: got %v (names=%v)", f, got, names)
		}
	}
}

func TestIMAPFlagsKeywordsPassthrough(t *testing.T) {
	f, keywords := FlagsFromIMAP([]string{`\Seen`, "CustomKeyword"})
	if !f.Has(FlagSeen) {
		t.Error("expected FlagSeen set")
	}
	if len(keywords) != 1 || keywords[0] != "CustomKeyword" {
		t.Errorf("keywords = %v, want [CustomKeyword]", keywords)
	}
}
