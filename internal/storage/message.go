package storage

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"strings"

	"github.com/ignite/listserv/internal/domain"
)

var wordDecoder = new(mime.WordDecoder)

// ErrMalformedMessage is returned when stored bytes are not a parseable
// RFC 5322 message. Retrying will not help.
var ErrMalformedMessage = errors.New("storage: malformed message")

// Message is a parsed inbound message. It implements domain.Message.
type Message struct {
	key    string
	raw    []byte
	header mail.Header
	text   string
}

var _ domain.Message = (*Message)(nil)

// ParseMessage parses raw RFC 5322 bytes. The body is reduced to its first
// text/plain part.
func ParseMessage(key string, raw []byte) (*Message, error) {
	m, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrMalformedMessage, key, err)
	}
	text, err := plainText(m.Header.Get("Content-Type"), m.Header.Get("Content-Transfer-Encoding"), m.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: body of %s: %w", ErrMalformedMessage, key, err)
	}
	return &Message{key: key, raw: raw, header: m.Header, text: text}, nil
}

// Header returns the decoded first value of name.
func (m *Message) Header(name string) string {
	v := m.header.Get(name)
	if dec, err := wordDecoder.DecodeHeader(v); err == nil {
		return dec
	}
	return v
}

// Sender returns the bare From address, lower-cased.
func (m *Message) Sender() string {
	from := m.header.Get("From")
	if a, err := mail.ParseAddress(from); err == nil {
		return domain.NormalizeAddress(a.Address)
	}
	return domain.NormalizeAddress(from)
}

// Recipients returns every address on the To, Cc and Bcc headers.
func (m *Message) Recipients() []string {
	var out []string
	for _, h := range []string{"To", "Cc", "Bcc"} {
		list, err := m.header.AddressList(h)
		if err != nil {
			continue
		}
		for _, a := range list {
			out = append(out, domain.NormalizeAddress(a.Address))
		}
	}
	return out
}

func (m *Message) Text() string { return m.text }
func (m *Message) Size() int { return len(m.raw) }
func (m *Message) ObjectKey() string { return m.key }

// Raw returns the unparsed bytes.
func (m *Message) Raw() []byte { return m.raw }

func plainText(contentType, encoding string, body io.Reader) (string, error) {
	mediaType, params, err := mime.ParseMediaType(contentType)
	if contentType == "" || err != nil {
		mediaType = "text/plain"
	}
	if strings.HasPrefix(mediaType, "multipart/") {
		mr := multipart.NewReader(body, params["boundary"])
		for {
			p, err := mr.NextRawPart()
			if err == io.EOF {
				return "", nil
			}
			if err != nil {
				return "", err
			}
			text, err := plainText(p.Header.Get("Content-Type"), p.Header.Get("Content-Transfer-Encoding"), p)
			if err != nil {
				return "", err
			}
			if text != "" {
				return text, nil
			}
		}
	}
	if mediaType != "text/plain" {
		return "", nil
	}
	data, err := io.ReadAll(decode(encoding, body))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decode(encoding string, r io.Reader) io.Reader {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "base64":
		return base64.NewDecoder(base64.StdEncoding, r)
	case "quoted-printable":
		return quotedprintable.NewReader(r)
	}
	return r
}
