package imap

import "github.com/gfreezy/meli/internal/envelope"

// translateFlags converts a FETCH FLAGS response into the canonical
// Flag bitset plus any server keywords, reusing the bijection that
// also backs the mbox and notmuch backends (spec §4.1).
func translateFlags(flags []string) (envelope.Flag, []string) {
	return envelope.FlagsFromIMAP(flags)
}

// storeFlags renders f (plus keywords) as a STORE item value, in the
// order go-imap's UidStore/Store expect ([]interface{}, not []string).
func storeFlags(f envelope.Flag, keywords []string) []interface{} {
	names := f.IMAPFlags(keywords)
	out := make([]interface{}, len(names))
	for i, n := range names {
		out[i] = n
	}
	return out
}
