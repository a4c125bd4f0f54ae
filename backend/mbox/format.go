// Package mbox implements the variant-aware mbox parser and index
// (spec §4.2) and the mbox MailBackend (spec §4.3).
package mbox

import (
	"bytes"
	"strconv"
)

// Format is one of the four mutually incompatible mbox postmark/body
// conventions spec §4.2 names.
type Format int

const (
	// FormatAuto means "not yet pinned"; detect per message.
	FormatAuto Format = iota
	FormatO
	FormatRd
	FormatCl
	FormatCl2
)

func (f Format) String() string {
	switch f {
	case FormatO:
		return "mboxo"
	case FormatRd:
		return "mboxrd"
	case FormatCl:
		return "mboxcl"
	case FormatCl2:
		return "mboxcl2"
	default:
		return "auto"
	}
}

// findPostmarks returns the byte offsets of every "From " line that
// qualifies as a message boundary: at column zero, and either the start
// of the buffer or preceded by a blank line.
func findPostmarks(buf []byte) []int {
	var marks []int
	if bytes.HasPrefix(buf, []byte("From ")) {
		marks = append(marks, 0)
	}
	search := []byte("\nFrom ")
	for i := 0; ; {
		idx := bytes.Index(buf[i:], search)
		if idx < 0 {
			break
		}
		pos := i + idx + 1 // offset of 'F'
		// Require the line before this one to be blank, i.e. buf[pos-2]=='\n',
		// unless this "From " starts right at the beginning of the buffer
		// (pos==1 means buf[0]=='\n', a leading blank line, also acceptable).
		if pos >= 2 && buf[pos-2] == '\n' {
			marks = append(marks, pos)
		} else if pos == 1 {
			marks = append(marks, pos)
		}
		i = pos + 1
	}
	return marks
}

// lineEnd returns the offset just past the newline ending the line that
// starts at off, or len(buf) if off's line is unterminated.
func lineEnd(buf []byte, off int) int {
	idx := bytes.IndexByte(buf[off:], '\n')
	if idx < 0 {
		return len(buf)
	}
	return off + idx + 1
}

// contentLength extracts and parses a Content-Length header value from a
// header block. ok is false if the header is absent or unparseable,
// which per spec §4.2 means "fall back to MboxRd parsing".
func contentLength(header []byte) (n int, ok bool) {
	for _, line := range bytes.Split(header, []byte("\n")) {
		line = bytes.TrimRight(line, "\r")
		if len(line) == 0 {
			continue
		}
		const prefix = "Content-Length:"
		if len(line) <= len(prefix) {
			continue
		}
		if !bytes.EqualFold(line[:len(prefix)], []byte(prefix)) {
			continue
		}
		v, err := strconv.Atoi(string(bytes.TrimSpace(line[len(prefix):])))
		if err != nil || v < 0 {
			return 0, false
		}
		return v, true
	}
	return 0, false
}

// unquoteFrom reverses MboxRd's ">From " escaping of body lines that
// would otherwise look like a postmark.
func unquoteFrom(body []byte) []byte {
	if !bytes.Contains(body, []byte("\n>From ")) && !bytes.HasPrefix(body, []byte(">From ")) {
		return body
	}
	lines := bytes.Split(body, []byte("\n"))
	for i, line := range lines {
		// mboxrd quotes a body line matching ^>*From  by adding exactly
		// one '>'; un-quoting removes exactly one, never a whole run.
		if bytes.HasPrefix(line, []byte(">From ")) {
			lines[i] = line[1:]
		}
	}
	return bytes.Join(lines, []byte("\n"))
}
