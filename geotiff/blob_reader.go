package geotiff

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"sync"

	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"
)

// BlobReader satisfies io.ReadSeeker and io.ReaderAt for an object in a
// gocloud.dev bucket (local directory, S3, GCS).
type BlobReader struct {
	ctx    context.Context
	bucket *blob.Bucket
	key    string
	size   int64
	// owned is set when the reader opened the bucket and must close it.
	owned bool

	mu     sync.Mutex
	offset int64
}

// NewBlobReader creates a reader for key in an already opened bucket.
func NewBlobReader(ctx context.Context, bucket *blob.Bucket, key string) (*BlobReader, error) {
	attrs, err := bucket.Attributes(ctx, key)
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, fmt.Errorf("blob %s: %w", key, fs.ErrNotExist)
		}
		return nil, fmt.Errorf("failed to get attributes for key %s: %w", key, err)
	}
	return &BlobReader{ctx: ctx, bucket: bucket, key: key, size: attrs.Size}, nil
}

// OpenBlobReader opens the bucket at bucketURL and a reader for key in it.
// Closing the reader closes the bucket.
func OpenBlobReader(ctx context.Context, bucketURL, key string) (*BlobReader, error) {
	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open bucket %s: %w", bucketURL, err)
	}
	r, err := NewBlobReader(ctx, bucket, key)
	if err != nil {
		bucket.Close()
		return nil, err
	}
	r.owned = true
	return r, nil
}

// Read performs a sequential read.
func (r *BlobReader) Read(p []byte) (n int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.offset >= r.size {
		return 0, io.EOF
	}
	n, err = r.readAt(p, r.offset)
	r.offset += int64(n)
	return n, err
}

// Seek updates the offset of the next sequential Read.
func (r *BlobReader) Seek(offset int64, whence int) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	next, err := seekOffset(r.offset, r.size, offset, whence)
	if err != nil {
		return 0, err
	}
	r.offset = next
	return r.offset, nil
}

// ReadAt implements io.ReaderAt for concurrent, stateless reads.
func (r *BlobReader) ReadAt(p []byte, off int64) (n int, err error) {
	return r.readAt(p, off)
}

// Close releases the bucket if the reader opened it.
func (r *BlobReader) Close() error {
	if r.owned {
		return r.bucket.Close()
	}
	return nil
}

func (r *BlobReader) readAt(p []byte, off int64) (n int, err error) {
	length, err := clampRead(len(p), off, r.size)
	if err != nil || length == 0 {
		return 0, err
	}

	// gocloud.dev/blob takes offset and length, not an end byte.
	reader, err := r.bucket.NewRangeReader(r.ctx, r.key, off, length, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create range reader: %w", err)
	}
	defer reader.Close()

	return io.ReadFull(reader, p[:length])
}
