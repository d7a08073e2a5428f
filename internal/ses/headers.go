package ses

import (
	"bytes"
	"mime"
	"net/mail"
	"strings"

	"github.com/ignite/listserv/internal/domain"
)

// RewriteHeaders returns raw with the delivery's list headers and subject in
// place of any existing values. The body is untouched.
//
// From is rewritten to the list address with the poster's name in the
// display part, since SES only sends from verified identities. Replies go
// to the poster through Reply-To unless the list sets its own.
func RewriteHeaders(raw []byte, d domain.Delivery) []byte {
	head, body := splitMessage(raw)
	fields := splitFields(head)

	replace := map[string]bool{"subject": true, "sender": true, "from": true, "x-original-from": true}
	for _, h := range d.Headers {
		replace[strings.ToLower(h.Name)] = true
	}

	poster := posterAddress(fieldValue(fields, "from"), d.Sender)

	var out bytes.Buffer
	for _, h := range d.Headers {
		writeHeader(&out, h.Name, h.Value)
	}
	writeHeader(&out, "From", viaList(poster, d.ListAddress))
	writeHeader(&out, "Sender", d.ListAddress)
	writeHeader(&out, "Subject", mime.QEncoding.Encode("utf-8", d.Subject))
	if !replace["reply-to"] && fieldValue(fields, "reply-to") == "" && poster != nil {
		writeHeader(&out, "Reply-To", poster.String())
	}
	if poster != nil {
		writeHeader(&out, "X-Original-From", poster.String())
	}

	for _, field := range fields {
		if replace[fieldName(field)] {
			continue
		}
		out.WriteString(field)
	}
	out.WriteString("\r\n")
	out.Write(body)
	return out.Bytes()
}

// posterAddress parses the original From value, falling back to the
// envelope sender.
func posterAddress(from, sender string) *mail.Address {
	if from != "" {
		if a, err := mail.ParseAddress(from); err == nil {
			return a
		}
	}
	if sender != "" {
		return &mail.Address{Address: sender}
	}
	return nil
}

// viaList renders `"Alice via team" <team@lists.example.com>`.
func viaList(poster *mail.Address, listAddress string) string {
	list, _, _ := strings.Cut(listAddress, "@")
	name := list
	if poster != nil {
		who := poster.Name
		if who == "" {
			who, _, _ = strings.Cut(poster.Address, "@")
		}
		name = who + " via " + list
	}
	return (&mail.Address{Name: name, Address: listAddress}).String()
}

func fieldName(field string) string {
	name, _, _ := strings.Cut(field, ":")
	return strings.ToLower(strings.TrimSpace(name))
}

// fieldValue returns the unfolded value of the first field called name.
func fieldValue(fields []string, name string) string {
	for _, f := range fields {
		if fieldName(f) != name {
			continue
		}
		_, v, _ := strings.Cut(f, ":")
		v = strings.NewReplacer("\r\n", "", "\n", "").Replace(v)
		return strings.TrimSpace(v)
	}
	return ""
}

func writeHeader(b *bytes.Buffer, name, value string) {
	b.WriteString(name)
	b.WriteString(": ")
	b.WriteString(value)
	b.WriteString("\r\n")
}

// splitMessage separates the header block from the body at the first blank
// line.
func splitMessage(raw []byte) (head string, body []byte) {
	for _, sep := range []string{"\r\n\r\n", "\n\n"} {
		if i := bytes.Index(raw, []byte(sep)); i >= 0 {
			return string(raw[:i+len(sep)/2]), raw[i+len(sep):]
		}
	}
	return string(raw), nil
}

// splitFields returns each header field with its folded continuation lines
// and line endings intact, normalized to CRLF.
func splitFields(head string) []string {
	var (
		fields []string
		cur    strings.Builder
	)
	for _, line := range strings.SplitAfter(head, "\n") {
		if line == "" {
			continue
		}
		line = strings.TrimRight(line, "\r\n") + "\r\n"
		if (line[0] == ' ' || line[0] == '\t') && cur.Len() > 0 {
			cur.WriteString(line)
			continue
		}
		if cur.Len() > 0 {
			fields = append(fields, cur.String())
			cur.Reset()
		}
		cur.WriteString(line)
	}
	if cur.Len() > 0 {
		fields = append(fields, cur.String())
	}
	return fields
}

// tagValue makes an address safe for an SES message tag value.
func tagValue(address string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			return r
		}
		return '_'
	}, address)
}
