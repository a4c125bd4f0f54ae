package envelope

import "testing"

func TestParseHeaderBasic(t *testing.T) {
	header := []byte("From: Alice <alice@example.com>\r\n" +
		"To: Bob <bob@example.com>\r\n" +
		"Subject: =?utf-8?q?Hello=2C_World!?=\r\n" +
		"Date: Mon, 02 Jan 2006 15:04:05 -0700\r\n" +
		"Message-Id: <abc123@example.com>\r\n")

	env, err := ParseHeader(header, []byte("body text"))
	if err != nil {
		t.Fatalf("ParseHeader: %v", err)
	}
	if env.Subject != "Hello, World!" {
		t.Errorf("Subject = %q, want decoded RFC 2047 word", env.Subject)
	}
	if len(env.From) != 1 || env.From[0].Address != "alice@example.com" {
		t.Errorf("From = %v", env.From)
	}
	if env.MessageID != "<abc123@example.com>" {
		t.Errorf("MessageID = %q", env.MessageID)
	}
}

func TestHashOfPrefersMessageID(t *testing.T) {
	h1 := HashOf("<same-id@example.com>", "irrelevant1", "a@x.com", "s1", []byte("body1"))
	h2 := HashOf("<same-id@example.com>", "irrelevant2", "b@y.com", "s2", []byte("body2"))
	if h1 != h2 {
		t.Error("two messages sharing a canonical Message-ID must hash equal")
	}
}

func TestHashOfFallbackDeterministic(t *testing.T) {
	h1 := HashOf("", "Mon, 02 Jan 2006", "a@x.com", "subj", []byte("body"))
	h2 := HashOf("", "Mon, 02 Jan 2006", "a@x.com", "subj", []byte("body"))
	if h1 != h2 {
		t.Error("fallback hash must be deterministic for identical inputs")
	}
	h3 := HashOf("", "Mon, 02 Jan 2006", "a@x.com", "different subject", []byte("body"))
	if h1 == h3 {
		t.Error("fallback hash must differ when subject differs")
	}
}

func TestSplitHeaderBody(t *testing.T) {
	buf := []byte("Subject: hi\n\nbody line one\nbody line two")
	header, body, ok := SplitHeaderBody(buf)
	if !ok {
		t.Fatal("expected a blank-line terminator to be found")
	}
	if string(header) != "Subject: hi\n" {
		t.Errorf("header = %q", header)
	}
	if string(body) != "body line one\nbody line two" {
		t.Errorf("body = %q", body)
	}
}

func TestSplitHeaderBodyNoTerminator(t *testing.T) {
	_, _, ok := SplitHeaderBody([]byte("Subject: hi\nmore header-looking text"))
	if ok {
		t.Error("expected ok=false when no blank line terminates the header")
	}
}
