package mbox

import (
	"sync"

	"github.com/gfreezy/meli/internal/envelope"
)

// Span is an (offset, length) pair into the backing file; slicing the
// file at Span recovers the message verbatim (spec §8 property 1).
type Span struct {
	Offset int
	Length int
}

// Index is the per-mailbox EnvelopeHash -> Span map. It is shared with
// the file-watcher: inserts take the exclusive lock, reads take the
// shared lock (spec §4.2 "Concurrency").
type Index struct {
	mu       sync.RWMutex
	spans    map[envelope.Hash]Span
	detected Format // variant of the first entry of the last ParseResult
	// given to Rebuild; FormatAuto until then and after Reset. Parse does
	// not read it, and Backend.Fetch neither calls Rebuild nor reads
	// LastDetected, so every fetch re-runs detection.
}

func NewIndex() *Index {
	return &Index{spans: make(map[envelope.Hash]Span)}
}

// Insert records hash -> span under the exclusive lock.
func (idx *Index) Insert(hash envelope.Hash, span Span) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.spans[hash] = span
}

// Lookup returns the span for hash under the shared lock.
func (idx *Index) Lookup(hash envelope.Hash) (Span, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	s, ok := idx.spans[hash]
	return s, ok
}

// Delete removes hash from the index, e.g. after a Rescan invalidates it.
func (idx *Index) Delete(hash envelope.Hash) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	delete(idx.spans, hash)
}

// Reset clears the index, used when the backing file is rewritten in a
// way that invalidates all prior offsets.
func (idx *Index) Reset() {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.spans = make(map[envelope.Hash]Span)
	idx.detected = FormatAuto
}

// Len returns the number of indexed envelopes.
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.spans)
}

// LastDetected returns the variant last auto-detected for this file.
func (idx *Index) LastDetected() Format {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.detected
}

// Rebuild replays a ParseResult into the index, recording the variant of
// its first entry as the remembered auto-detection result.
func (idx *Index) Rebuild(pr ParseResult) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.spans = make(map[envelope.Hash]Span, len(pr.Entries))
	for _, e := range pr.Entries {
		idx.spans[e.Envelope.Hash] = Span{Offset: e.Offset, Length: e.Length}
	}
	if len(pr.Entries) > 0 {
		idx.detected = pr.Entries[0].Detected
	}
}
