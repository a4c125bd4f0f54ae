// Package envelope holds the parsed RFC 5322 header summary shared by
// every backend, and the Flag bitset that all three external flag
// representations (mbox letters, notmuch tags, IMAP flags) convert
// through.
package envelope

import (
	"bufio"
	"bytes"
	"fmt"
	"mime"
	"net/mail"
	"strings"
	"time"
)

// Address is a single RFC 5322 mailbox: display name plus address spec.
type Address struct {
	Name    string
	Address string
}

func (a Address) String() string {
	if a.Name == "" {
		return a.Address
	}
	return fmt.Sprintf("%q <%s>", a.Name, a.Address)
}

// Envelope is the parsed header summary listed in spec §3. EnvelopeHash
// is a pure function of the source bytes (see HashOf).
type Envelope struct {
	Hash Hash

	Date      time.Time
	From      []Address
	To        []Address
	Cc        []Address
	Bcc       []Address
	Subject   string
	MessageID string
	InReplyTo string
	References []string

	Flags  Flag
	Labels map[uint64]string // label_hash -> string, per spec §3

	HasAttachments bool
}

// ParseError reports a header that could not be decoded as RFC 5322.
type ParseError struct {
	Reason string
}

func (e *ParseError) Error() string { return "envelope: " + e.Reason }

// ParseHeader parses the header block of a message (bytes up to, but not
// including, the blank line that ends it) into an Envelope. bodyPrefix is
// the first bytes of the body, used only for the hash fallback rule.
func ParseHeader(header []byte, bodyPrefix []byte) (*Envelope, error) {
	msg, err := mail.ReadMessage(bytes.NewReader(append(header, '\n', '\n')))
	if err != nil {
		return nil, &ParseError{Reason: err.Error()}
	}
	h := msg.Header

	env := &Envelope{
		Subject:   decodeHeaderWord(h.Get("Subject")),
		MessageID: strings.TrimSpace(h.Get("Message-Id")),
		InReplyTo: strings.TrimSpace(h.Get("In-Reply-To")),
	}

	if d, err := h.Date(); err == nil {
		env.Date = d
	}

	env.From = parseAddressList(h.Get("From"))
	env.To = parseAddressList(h.Get("To"))
	env.Cc = parseAddressList(h.Get("Cc"))
	env.Bcc = parseAddressList(h.Get("Bcc"))

	if refs := h.Get("References"); refs != "" {
		env.References = strings.Fields(refs)
	}

	ct := h.Get("Content-Type")
	env.HasAttachments = strings.Contains(strings.ToLower(ct), "multipart/mixed")

	fromStr := ""
	if len(env.From) > 0 {
		fromStr = env.From[0].Address
	}
	env.Hash = HashOf(env.MessageID, h.Get("Date"), fromStr, env.Subject, bodyPrefix)

	return env, nil
}

func parseAddressList(raw string) []Address {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	addrs, err := mail.ParseAddressList(raw)
	if err != nil {
		// Tolerate malformed address lists the way mail clients must:
		// fall back to treating the raw string as a single display name.
		return []Address{{Name: raw}}
	}
	out := make([]Address, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, Address{Name: a.Name, Address: a.Address})
	}
	return out
}

var headerWordDecoder = new(mime.WordDecoder)

func decodeHeaderWord(s string) string {
	decoded, err := headerWordDecoder.DecodeHeader(s)
	if err != nil {
		return s
	}
	return decoded
}

// SplitHeaderBody locates the blank line terminating an RFC 5322 header
// block within buf and returns the header bytes and the body bytes that
// follow. ok is false if no terminator was found.
func SplitHeaderBody(buf []byte) (header, body []byte, ok bool) {
	scanner := bufio.NewScanner(bytes.NewReader(buf))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	offset := 0
	for scanner.Scan() {
		line := scanner.Bytes()
		lineEnd := offset + len(line) + 1
		if len(line) == 0 {
			return buf[:offset], buf[lineEnd:], true
		}
		offset = lineEnd
	}
	return buf, nil, false
}
