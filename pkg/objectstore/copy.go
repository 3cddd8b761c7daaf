package objectstore

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"io"
)

// CopyResult describes the bytes written to the destination, or read by
// Hash.
type CopyResult struct {
	// Hash is the lowercase hex MD5 of the bytes, which is also the ETag an
	// S3 single-part upload reports.
	Hash string
	Size int64
}

// Copy streams srcKey from src into dstKey on dst and hashes the bytes on
// the way through.
func Copy(ctx context.Context, src, dst Client, srcKey, dstKey string) (CopyResult, error) {
	rc, err := src.Get(ctx, srcKey)
	if err != nil {
		return CopyResult{}, &StorageCopyError{Key: srcKey, Op: "get", Err: err}
	}
	defer rc.Close()

	h := md5.New()
	cr := &countingReader{r: io.TeeReader(rc, h)}
	if err := dst.Put(ctx, dstKey, cr); err != nil {
		return CopyResult{}, &StorageCopyError{Key: dstKey, Op: "put", Err: err}
	}

	return CopyResult{
		Hash: hex.EncodeToString(h.Sum(nil)),
		Size: cr.n,
	}, nil
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// Hash reads key from c and returns its MD5 and size without writing
// anything.
func Hash(ctx context.Context, c Client, key string) (CopyResult, error) {
	rc, err := c.Get(ctx, key)
	if err != nil {
		return CopyResult{}, &StorageCopyError{Key: key, Op: "get", Err: err}
	}
	defer rc.Close()

	h := md5.New()
	n, err := io.Copy(h, rc)
	if err != nil {
		return CopyResult{}, &StorageCopyError{Key: key, Op: "get", Err: err}
	}
	return CopyResult{Hash: hex.EncodeToString(h.Sum(nil)), Size: n}, nil
}
