package envelope

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Hash is a 64-bit content-derived message identity, stable across
// re-parses of the same underlying bytes. Equal hashes mean equal
// message identity within one account.
type Hash uint64

func (h Hash) String() string {
	return strconv.FormatUint(uint64(h), 16)
}

var msgIDRe = regexp.MustCompile(`<([^<>\s]+)>`)

// canonicalMessageID extracts and lower-cases the angle-bracketed token
// from a raw Message-ID header value, or returns "" if none is present.
func canonicalMessageID(raw string) string {
	m := msgIDRe.FindStringSubmatch(raw)
	if m == nil {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(m[1]))
}

// HashOfPathUID computes the EnvelopeHash IMAP uses: a digest of the
// server-side mailbox path plus UID, per original_source/melib's IMAP
// watcher (`generate_envelope_hash(&mailbox.imap_path(), &uid)`,
// original_source/melib/src/backends/imap/watch.rs:475). IMAP is the
// only backend addressed by a server-assigned integer rather than
// content, so its hash is unconditionally path+UID derived — never the
// Message-ID priority rule HashOf applies for mbox/notmuch, which would
// collide whenever the same Message-ID appears in two mailboxes (a
// Sent-copy or a message filed under more than one label).
func HashOfPathUID(path string, uid uint32) Hash {
	d := xxhash.New()
	_, _ = d.WriteString("imap:")
	_, _ = d.WriteString(path)
	_, _ = d.WriteString("\x00")
	_, _ = d.WriteString(strconv.FormatUint(uint64(uid), 10))
	return Hash(d.Sum64())
}

// HashOf computes the EnvelopeHash for a parsed message: the canonicalized
// Message-ID when present and well-formed, else a digest of
// date+from+subject+first-N-body-bytes. This mirrors melib's
// envelope_hash rule (original_source/melib/src/backends/mbox.rs) and
// must stay deterministic for a given set of bytes.
func HashOf(messageID, date, from, subject string, bodyPrefix []byte) Hash {
	if cid := canonicalMessageID(messageID); cid != "" {
		return Hash(xxhash.Sum64String("msgid:" + cid))
	}

	d := xxhash.New()
	_, _ = d.WriteString("fallback:")
	_, _ = d.WriteString(date)
	_, _ = d.WriteString("\x00")
	_, _ = d.WriteString(from)
	_, _ = d.WriteString("\x00")
	_, _ = d.WriteString(subject)
	_, _ = d.WriteString("\x00")
	n := len(bodyPrefix)
	if n > 256 {
		n = 256
	}
	_, _ = d.Write(bodyPrefix[:n])
	return Hash(d.Sum64())
}
