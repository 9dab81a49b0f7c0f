// Package assets is the upload catalog: user-provided images and PDFs that
// blocks reference by URL. It sits next to the engine, not on its save path
// — documents only ever store the public URLs this package hands out.
package assets

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"atelie/api/internal/util"
)

type Store struct {
	client     *minio.Client
	bucket     string
	publicBase string
}

type Options struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Bucket    string
	// PublicBase is the externally reachable base URL objects are served
	// under, typically the MinIO endpoint or a CDN in front of it.
	PublicBase string
}

// New connects to the object store and ensures the bucket exists.
func New(ctx context.Context, opts Options) (*Store, error) {
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("connect object store: %w", err)
	}

	exists, err := client.BucketExists(ctx, opts.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", opts.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, opts.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", opts.Bucket, err)
		}
	}

	return &Store{
		client:     client,
		bucket:     opts.Bucket,
		publicBase: strings.TrimRight(opts.PublicBase, "/"),
	}, nil
}

// Upload stores one asset under the owner/document prefix and returns its
// public URL. Filenames get a random prefix so repeated uploads of the same
// file never clobber each other.
func (s *Store) Upload(ctx context.Context, ownerID, docID, filename string, reader io.Reader, size int64, contentType string) (string, error) {
	key := objectKey(ownerID, docID, util.NewID("ast")+"_"+sanitizeFilename(filename))
	_, err := s.client.PutObject(ctx, s.bucket, key, reader, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("upload asset %s: %w", key, err)
	}
	return s.publicURL(key), nil
}

// List returns the public URLs of every asset uploaded for a document.
func (s *Store) List(ctx context.Context, ownerID, docID string) ([]string, error) {
	prefix := objectKey(ownerID, docID, "")
	urls := make([]string, 0)
	for object := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if object.Err != nil {
			return nil, fmt.Errorf("list assets %s: %w", prefix, object.Err)
		}
		urls = append(urls, s.publicURL(object.Key))
	}
	return urls, nil
}

func (s *Store) publicURL(key string) string {
	return s.publicBase + "/" + s.bucket + "/" + key
}

func objectKey(ownerID, docID, name string) string {
	return ownerID + "/" + docID + "/" + name
}

func sanitizeFilename(filename string) string {
	var builder strings.Builder
	for _, r := range filename {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '-', r == '_', r == '.':
			builder.WriteRune(r)
		case r == ' ':
			builder.WriteByte('-')
		}
	}
	if builder.Len() == 0 {
		return "asset"
	}
	name := builder.String()
	if len(name) > 80 {
		name = name[:80]
	}
	return name
}
