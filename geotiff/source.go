package geotiff

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"strings"

	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/s3blob"
)

// Source is a random-access raster file.
type Source interface {
	io.ReadSeeker
	io.ReaderAt
	io.Closer
}

// OpenSource opens location as a local path, an http(s) URL, or a bucket URL
// (file://, s3://, gs://) whose path is the object key.
func OpenSource(ctx context.Context, location string) (Source, error) {
	if strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://") {
		return NewHTTPRangeReader(ctx, location, nil)
	}

	u, err := url.Parse(location)
	if err != nil || u.Scheme == "" || len(u.Scheme) == 1 {
		// Plain path; a one-letter scheme is a Windows drive.
		f, err := os.Open(location)
		if err != nil {
			return nil, err
		}
		return f, nil
	}

	bucketURL, key := splitBucketURL(u)
	if key == "" {
		return nil, fmt.Errorf("no object key in %q", location)
	}
	return OpenBlobReader(ctx, bucketURL, key)
}

// splitBucketURL separates a blob URL into its bucket URL and object key.
// For file:// the bucket is the parent directory.
func splitBucketURL(u *url.URL) (string, string) {
	b := *u
	if u.Scheme == "file" {
		dir, key := path.Split(u.Path)
		b.Path = dir
		return b.String(), key
	}
	b.Path = ""
	return b.String(), strings.TrimPrefix(u.Path, "/")
}
