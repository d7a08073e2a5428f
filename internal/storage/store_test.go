package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/listserv/internal/domain"
)

type fakeS3 struct {
	objects map[string][]byte
	err     error
	gotKey  string
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.gotKey = aws.ToString(in.Key)
	if f.err != nil {
		return nil, f.err
	}
	data, ok := f.objects[f.gotKey]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

const multipartMsg = "From: \"Alice Example\" <Alice@Example.com>\r\n" +
	"To: team@lists.example.com, Bob <bob@example.com>\r\n" +
	"Cc: other@lists.example.com\r\n" +
	"Subject: =?UTF-8?Q?caf=C3=A9_plans?=\r\n" +
	"MIME-Version: 1.0\r\n" +
	"Content-Type: multipart/alternative; boundary=\"b1\"\r\n" +
	"\r\n" +
	"--b1\r\n" +
	"Content-Type: text/html\r\n" +
	"\r\n" +
	"<p>ignored</p>\r\n" +
	"--b1\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"Content-Transfer-Encoding: quoted-printable\r\n" +
	"\r\n" +
	"list team@lists.example.com subscribe=\r\n" +
	"\r\n" +
	"--b1--\r\n"

func TestParseMessage_Multipart(t *testing.T) {
	m, err := ParseMessage("inbound/abc", []byte(multipartMsg))
	require.NoError(t, err)

	assert.Equal(t, "alice@example.com", m.Sender())
	assert.Equal(t, "café plans", m.Header("Subject"))
	assert.Equal(t, "list team@lists.example.com subscribe", strings.TrimSpace(m.Text()))
	assert.Equal(t, []string{"team@lists.example.com", "bob@example.com", "other@lists.example.com"}, m.Recipients())
	assert.Equal(t, len(multipartMsg), m.Size())
	assert.Equal(t, "inbound/abc", m.ObjectKey())
}

func TestParseMessage_PlainBase64(t *testing.T) {
	raw := "From: bob@example.com\r\n" +
		"Subject: hi\r\n" +
		"Content-Transfer-Encoding: base64\r\n" +
		"\r\n" +
		"aGVsbG8g\r\nd29ybGQ=\r\n"
	m, err := ParseMessage("k", []byte(raw))
	require.NoError(t, err)
	assert.Equal(t, "hello world", m.Text())
	assert.Equal(t, "bob@example.com", m.Sender())
}

func TestParseMessage_Garbage(t *testing.T) {
	_, err := ParseMessage("k", []byte("no headers here"))
	assert.True(t, errors.Is(err, ErrMalformedMessage))
}

func TestMessageStore_Fetch(t *testing.T) {
	s3c := &fakeS3{objects: map[string][]byte{"inbound/abc": []byte(multipartMsg)}}
	store := NewMessageStore(s3c, "mail-bucket", "inbound")

	m, err := store.Fetch(context.Background(), "abc")
	require.NoError(t, err)
	assert.Equal(t, "inbound/abc", s3c.gotKey)
	assert.Equal(t, "alice@example.com", m.Sender())

	_, err = store.Fetch(context.Background(), "inbound/abc")
	require.NoError(t, err)
	assert.Equal(t, "inbound/abc", s3c.gotKey)
}

func TestMessageStore_Errors(t *testing.T) {
	s3c := &fakeS3{objects: map[string][]byte{}}
	store := NewMessageStore(s3c, "mail-bucket", "")

	_, err := store.Raw(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrMessageNotFound)

	s3c.err = errors.New("access denied")
	_, err = store.Raw(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
}
