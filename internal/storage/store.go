// Package storage gives the core read access to inbound messages. The
// receiving transport drops each raw message into an S3 bucket; the store
// fetches it by object key and exposes headers and body through
// domain.Message.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/ignite/listserv/internal/domain"
)

// ErrMessageNotFound is returned when the object key does not exist.
var ErrMessageNotFound = errors.New("storage: message not found")

// DefaultMaxMessageBytes caps how much of a stored object is read.
const DefaultMaxMessageBytes = 40 << 20

// GetObjectAPI is the S3 call the store needs.
type GetObjectAPI interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// MessageStore reads raw messages from one bucket.
type MessageStore struct {
	client   GetObjectAPI
	bucket   string
	prefix   string
	maxBytes int64
}

// NewMessageStore creates a store over bucket. Keys passed to Fetch are
// joined onto prefix when they are not already under it.
func NewMessageStore(client GetObjectAPI, bucket, prefix string) *MessageStore {
	return &MessageStore{client: client, bucket: bucket, prefix: prefix, maxBytes: DefaultMaxMessageBytes}
}

// NewMessageStoreFromConfig builds the store with an S3 client from cfg.
func NewMessageStoreFromConfig(cfg aws.Config, bucket, prefix string) *MessageStore {
	return NewMessageStore(s3.NewFromConfig(cfg), bucket, prefix)
}

func (s *MessageStore) objectKey(key string) string {
	if s.prefix == "" || len(key) >= len(s.prefix) && key[:len(s.prefix)] == s.prefix {
		return key
	}
	return path.Join(s.prefix, key)
}

// Raw returns the stored bytes of key.
func (s *MessageStore) Raw(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, fmt.Errorf("%w: %s", ErrMessageNotFound, key)
		}
		return nil, fmt.Errorf("%w: getting object from S3: %w", domain.ErrStoreUnavailable, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(io.LimitReader(out.Body, s.maxBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: reading S3 object body: %w", domain.ErrStoreUnavailable, err)
	}
	return data, nil
}

// Fetch loads and parses key.
func (s *MessageStore) Fetch(ctx context.Context, key string) (*Message, error) {
	raw, err := s.Raw(ctx, key)
	if err != nil {
		return nil, err
	}
	return ParseMessage(key, raw)
}
