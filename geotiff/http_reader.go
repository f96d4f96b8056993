package geotiff

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"sync"
)

// HTTPRangeReader reads a remote raster with HTTP range requests. It
// satisfies io.ReadSeeker and io.ReaderAt.
type HTTPRangeReader struct {
	ctx    context.Context
	url    string
	client *http.Client
	size   int64

	// mu protects offset for sequential Read/Seek.
	mu     sync.Mutex
	offset int64
}

// NewHTTPRangeReader issues a HEAD request to size the remote file and checks
// that the server honours byte ranges. A nil client uses http.DefaultClient.
func NewHTTPRangeReader(ctx context.Context, url string, client *http.Client) (*HTTPRangeReader, error) {
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create head request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http head request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%s: %w", url, fs.ErrNotExist)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("bad status for http head request: %s", resp.Status)
	}
	if resp.Header.Get("Accept-Ranges") != "bytes" {
		return nil, errors.New("server does not accept byte range requests")
	}
	if resp.ContentLength <= 0 {
		return nil, errors.New("could not determine content length or file is empty")
	}

	return &HTTPRangeReader{ctx: ctx, url: url, client: client, size: resp.ContentLength}, nil
}

// Read performs a sequential read. The lock is held for the whole request.
func (h *HTTPRangeReader) Read(p []byte) (n int, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.offset >= h.size {
		return 0, io.EOF
	}
	n, err = h.readAt(p, h.offset)
	h.offset += int64(n)
	return n, err
}

// Seek updates the offset of the next sequential Read.
func (h *HTTPRangeReader) Seek(offset int64, whence int) (int64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	newOffset, err := seekOffset(h.offset, h.size, offset, whence)
	if err != nil {
		return 0, err
	}
	h.offset = newOffset
	return h.offset, nil
}

// ReadAt is stateless and safe for concurrent block fetches.
func (h *HTTPRangeReader) ReadAt(p []byte, off int64) (n int, err error) {
	return h.readAt(p, off)
}

// Close is a no-op; it lets the reader be used as a Source.
func (h *HTTPRangeReader) Close() error { return nil }

func (h *HTTPRangeReader) readAt(p []byte, off int64) (n int, err error) {
	length, err := clampRead(len(p), off, h.size)
	if err != nil || length == 0 {
		return 0, err
	}

	req, err := http.NewRequestWithContext(h.ctx, http.MethodGet, h.url, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", off, off+length-1))

	resp, err := h.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusPartialContent {
		return 0, fmt.Errorf("expected status 206 Partial Content, got: %s", resp.Status)
	}
	return io.ReadFull(resp.Body, p[:length])
}

// seekOffset resolves a Seek call against the current offset and total size.
func seekOffset(cur, size, offset int64, whence int) (int64, error) {
	var next int64
	switch whence {
	case io.SeekStart:
		next = offset
	case io.SeekCurrent:
		next = cur + offset
	case io.SeekEnd:
		next = size + offset
	default:
		return 0, errors.New("invalid whence")
	}
	if next < 0 {
		return 0, errors.New("cannot seek to negative offset")
	}
	return next, nil
}

// clampRead returns how many bytes of a read of n at off fit inside size.
func clampRead(n int, off, size int64) (int64, error) {
	if n == 0 {
		return 0, nil
	}
	if off < 0 {
		return 0, fmt.Errorf("invalid offset %d", off)
	}
	if off >= size {
		return 0, io.EOF
	}
	length := int64(n)
	if off+length > size {
		length = size - off
	}
	return length, nil
}
