package imap

import (
	"bufio"
	"strings"

	"github.com/cespare/xxhash/v2"
	goimap "github.com/emersion/go-imap"
	"github.com/gfreezy/meli/internal/envelope"
)

// referencesSection is the BODY.PEEK[HEADER.FIELDS (REFERENCES)] item
// named by spec §4.7 step 5; fetching only this field avoids pulling a
// full header for servers with very large mailboxes.
var referencesSection = &goimap.BodySectionName{
	BodyPartName: goimap.BodyPartName{
		Specifier: goimap.HeaderSpecifier,
		Fields:    []string{"References"},
	},
	Peek: true,
}

func fetchItems() []goimap.FetchItem {
	return []goimap.FetchItem{
		goimap.FetchUid,
		goimap.FetchFlags,
		goimap.FetchEnvelope,
		goimap.FetchBodyStructure,
		referencesSection.FetchItem(),
	}
}

func imapAddresses(addrs []*goimap.Address) []envelope.Address {
	out := make([]envelope.Address, 0, len(addrs))
	for _, a := range addrs {
		if a == nil {
			continue
		}
		addr := a.MailboxName
		if a.HostName != "" {
			addr += "@" + a.HostName
		}
		out = append(out, envelope.Address{Name: a.PersonalName, Address: addr})
	}
	return out
}

func hasAttachment(bs *goimap.BodyStructure) bool {
	if bs == nil {
		return false
	}
	if strings.EqualFold(bs.MIMEType, "multipart") && strings.EqualFold(bs.MIMESubType, "mixed") {
		return true
	}
	for _, part := range bs.Parts {
		if hasAttachment(part) {
			return true
		}
	}
	return false
}

func parseReferences(msg *goimap.Message) []string {
	r := msg.GetBody(referencesSection)
	if r == nil {
		return nil
	}
	var raw strings.Builder
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		raw.WriteString(scanner.Text())
		raw.WriteByte(' ')
	}
	return strings.Fields(raw.String())
}

// envelopeFromMessage builds an Envelope from a FETCH response, per
// spec §4.7 step 8 "compute envelope hash from server path + UID,
// attach references, merge flags and keywords". Unlike mbox/notmuch,
// the hash is unconditionally path+UID derived (envelope.HashOfPathUID),
// never the Message-ID priority rule: two occurrences of the same
// Message-ID in different mailboxes (a Sent-copy, a COPY'd message)
// must still get distinct hashes, or uid_store's hash_index would
// silently alias one occurrence over the other.
func envelopeFromMessage(mailboxPath string, uid uint32, msg *goimap.Message) *envelope.Envelope {
	env := &envelope.Envelope{}
	if e := msg.Envelope; e != nil {
		env.Date = e.Date
		env.Subject = e.Subject
		env.MessageID = e.MessageId
		env.InReplyTo = e.InReplyTo
		env.From = imapAddresses(e.From)
		env.To = imapAddresses(e.To)
		env.Cc = imapAddresses(e.Cc)
		env.Bcc = imapAddresses(e.Bcc)
	}
	env.References = parseReferences(msg)
	env.HasAttachments = hasAttachment(msg.BodyStructure)
	env.Hash = envelope.HashOfPathUID(mailboxPath, uid)

	f, keywords := translateFlags(msg.Flags)
	env.Flags = f
	if len(keywords) > 0 {
		env.Labels = make(map[uint64]string, len(keywords))
		for _, k := range keywords {
			env.Labels[xxhash.Sum64String(k)] = k
		}
	}
	return env
}
