package mbox

import (
	"bytes"
	"strings"

	"github.com/gfreezy/meli/internal/envelope"
)

// Entry is one successfully parsed message plus its index position:
// offset is the start of the header block (after the From_ line) and
// length runs to the next From_ candidate or EOF (spec §4.2).
type Entry struct {
	Envelope *envelope.Envelope
	Offset   int
	Length   int
	Detected Format
}

// ParseResult is the outcome of parsing one whole mbox buffer: the
// successfully recovered entries plus a count of messages that were
// skipped because they failed to parse (spec §8 property 2).
type ParseResult struct {
	Entries []Entry
	Skipped int
}

// Parse decodes buf according to pinned (FormatAuto to auto-detect per
// message, trying MboxCl2 first and degrading to MboxRd, per spec
// §4.2 "Format auto-detection"). A single message's parse failure never
// aborts the stream (spec §4.2 "Recovery policy", §8 property 2).
func Parse(buf []byte, pinned Format) ParseResult {
	marks := findPostmarks(buf)
	var res ParseResult
	for i, mark := range marks {
		spanEnd := len(buf)
		if i+1 < len(marks) {
			spanEnd = marks[i+1]
		}
		headerStart := lineEnd(buf, mark)
		if headerStart >= spanEnd {
			res.Skipped++
			continue
		}
		span := buf[headerStart:spanEnd]

		entry, ok := parseOne(span, pinned)
		if !ok {
			res.Skipped++
			continue
		}
		entry.Offset = headerStart
		entry.Length = spanEnd - headerStart
		res.Entries = append(res.Entries, entry)
	}
	return res
}

// parseOne parses a single message span (header block onward, up to but
// not including the next postmark or EOF) into an Entry.
func parseOne(span []byte, pinned Format) (Entry, bool) {
	header, body, ok := envelope.SplitHeaderBody(span)
	if !ok {
		return Entry{}, false
	}

	variant := pinned
	var bodyForHash []byte

	tryCl := pinned == FormatAuto || pinned == FormatCl || pinned == FormatCl2
	if tryCl {
		if n, hasLen := contentLength(header); hasLen && n <= len(body) {
			variant = FormatCl2
			if pinned == FormatCl {
				variant = FormatCl
			}
			bodyForHash = body[:n]
		} else if pinned == FormatCl || pinned == FormatCl2 {
			// Explicitly pinned to a Content-Length variant but the
			// header doesn't carry one: degrade to MboxRd for this
			// message only, per spec §4.2.
			variant = FormatRd
			bodyForHash = unquoteFrom(body)
		}
	}
	if variant == FormatAuto {
		// MboxCl2 attempt failed (no Content-Length) -> degrade to MboxRd.
		variant = FormatRd
		bodyForHash = unquoteFrom(body)
	}
	if pinned == FormatO {
		variant = FormatO
		bodyForHash = body
	}

	env, err := envelope.ParseHeader(header, bodyForHash)
	if err != nil {
		return Entry{}, false
	}
	status, xstatus := "", ""
	for _, kv := range splitHeaderLines(header) {
		switch kv.key {
		case "status":
			status = kv.value
		case "x-status":
			xstatus = kv.value
		}
	}
	env.Flags = envelope.FlagsFromMboxLetters(status, xstatus)

	return Entry{Envelope: env, Detected: variant}, true
}

type headerKV struct{ key, value string }

// splitHeaderLines does a minimal unfolded scan for the handful of
// headers mbox.go inspects directly (Status/X-Status); the full header
// set is handled by envelope.ParseHeader.
func splitHeaderLines(header []byte) []headerKV {
	var out []headerKV
	for _, line := range bytes.Split(header, []byte("\n")) {
		line = bytes.TrimRight(line, "\r")
		colon := bytes.IndexByte(line, ':')
		if colon < 0 {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(string(line[:colon])))
		val := strings.TrimSpace(string(line[colon+1:]))
		out = append(out, headerKV{key: key, value: val})
	}
	return out
}
