// Package objectstore provides a NATS-based implementation of the ObjectStore interface.
package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/book-expert/gemini-tts-server/internal/core"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

const (
	headerContentType  = "Content-Type"
	contentTypeDefault = "application/octet-stream"
)

// ErrNotFound is returned when a key does not exist in the bucket.
var ErrNotFound = errors.New("object not found")

var _ core.ObjectStore = (*NatsObjectStore)(nil)

// contentTypes maps object key extensions to the Content-Type header stored
// alongside the object.
var contentTypes = map[string]string{
	".wav":  "audio/wav",
	".mp3":  "audio/mp3",
	".flac": "audio/flac",
	".txt":  "text/plain; charset=utf-8",
}

// NatsObjectStore implements the core.ObjectStore interface using NATS JetStream.
type NatsObjectStore struct {
	bucket string
	store  nats.ObjectStore
}

// New creates the bucket, or binds to it when it already exists.
func New(jetstreamContext nats.JetStreamContext, bucketName string) (*NatsObjectStore, error) {
	store, err := jetstreamContext.CreateObjectStore(&nats.ObjectStoreConfig{
		Bucket:      bucketName,
		Description: fmt.Sprintf("Gemini TTS storage for the %s bucket.", bucketName),
		TTL:         0,
		MaxBytes:    0,
		Storage:     nats.FileStorage,
		Replicas:    1,
		Placement:   nil,
		Metadata:    nil,
		Compression: false,
	})
	if err != nil {
		if !errors.Is(err, jetstream.ErrBucketExists) && !errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
			return nil, fmt.Errorf("failed to create object store bucket '%s': %w", bucketName, err)
		}

		store, err = jetstreamContext.ObjectStore(bucketName)
		if err != nil {
			return nil, fmt.Errorf("failed to bind to existing object store bucket '%s': %w", bucketName, err)
		}
	}

	return &NatsObjectStore{
		bucket: bucketName,
		store:  store,
	}, nil
}

// Download retrieves an object from the NATS object store.
func (n *NatsObjectStore) Download(ctx context.Context, key string) ([]byte, error) {
	obj, err := n.store.Get(key, nats.Context(ctx))
	if err != nil {
		return nil, n.wrapErr("get", key, err)
	}

	data, readErr := io.ReadAll(obj)
	closeErr := obj.Close()

	if readErr != nil {
		return nil, fmt.Errorf("failed to read object '%s': %w", key, readErr)
	}

	if closeErr != nil {
		return data, fmt.Errorf("failed to close object '%s': %w", key, closeErr)
	}

	return data, nil
}

// Upload saves an object, tagging it with a Content-Type derived from the
// key's extension.
func (n *NatsObjectStore) Upload(ctx context.Context, key string, data []byte) error {
	headers := nats.Header{}
	headers.Set(headerContentType, ContentTypeFor(key))

	_, err := n.store.Put(&nats.ObjectMeta{
		Name:        key,
		Description: "",
		Headers:     headers,
		Metadata:    nil,
		Opts:        nil,
	}, bytes.NewReader(data), nats.Context(ctx))
	if err != nil {
		return fmt.Errorf("failed to put object '%s' to bucket '%s': %w", key, n.bucket, err)
	}

	return nil
}

// ContentType returns the Content-Type stored with key.
func (n *NatsObjectStore) ContentType(ctx context.Context, key string) (string, error) {
	info, err := n.store.GetInfo(key, nats.Context(ctx))
	if err != nil {
		return "", n.wrapErr("stat", key, err)
	}

	contentType := info.Headers.Get(headerContentType)
	if contentType == "" {
		return contentTypeDefault, nil
	}

	return contentType, nil
}

// Delete removes key from the bucket.
func (n *NatsObjectStore) Delete(_ context.Context, key string) error {
	err := n.store.Delete(key)
	if err != nil {
		return n.wrapErr("delete", key, err)
	}

	return nil
}

func (n *NatsObjectStore) wrapErr(op, key string, err error) error {
	if errors.Is(err, nats.ErrObjectNotFound) {
		return fmt.Errorf("failed to %s object '%s' from bucket '%s': %w", op, key, n.bucket, ErrNotFound)
	}

	return fmt.Errorf("failed to %s object '%s' from bucket '%s': %w", op, key, n.bucket, err)
}

// ContentTypeFor guesses a Content-Type from the key's extension.
func ContentTypeFor(key string) string {
	contentType, ok := contentTypes[strings.ToLower(path.Ext(key))]
	if !ok {
		return contentTypeDefault
	}

	return contentType
}
