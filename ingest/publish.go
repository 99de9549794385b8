package ingest

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/go-elytra/elytra/config"
	iutil "github.com/go-elytra/elytra/internal/util"
	multierror "github.com/hashicorp/go-multierror"
	lz4 "github.com/pierrec/lz4/v4"
	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob" // local driver
	_ "gocloud.dev/blob/gcsblob"  // GCS driver
	_ "gocloud.dev/blob/s3blob"   // S3 driver
	"golang.org/x/sync/errgroup"
)

// Publisher uploads converted artifacts to object storage. Artifacts are
// content-addressed; the raw upload is archived beside them, lz4
// compressed.
type Publisher struct {
	bucket        *blob.Bucket
	backend       string
	bucketName    string
	prefix        string
	publicBaseURL string
}

// NewPublisher opens the configured storage backend. Works with local
// directories, S3-compatible stores and GCS.
func NewPublisher(ctx context.Context, cfg config.StorageConfig) (*Publisher, error) {
	bucketURL, bucketName, err := bucketURL(cfg)
	if err != nil {
		return nil, err
	}
	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, fmt.Errorf("open bucket %s: %w", bucketURL, err)
	}
	return &Publisher{
		bucket:        bucket,
		backend:       cfg.Backend,
		bucketName:    bucketName,
		prefix:        cfg.Prefix,
		publicBaseURL: strings.TrimRight(cfg.PublicBaseURL, "/"),
	}, nil
}

func bucketURL(cfg config.StorageConfig) (string, string, error) {
	switch cfg.Backend {
	case "s3":
		params := url.Values{}
		if cfg.S3Region != "" {
			params.Set("region", cfg.S3Region)
		}
		if cfg.S3Endpoint != "" {
			params.Set("endpoint", cfg.S3Endpoint)
			params.Set("s3ForcePathStyle", "true")
		}
		u := fmt.Sprintf("s3://%s", cfg.Bucket)
		if len(params) > 0 {
			u += "?" + params.Encode()
		}
		return u, cfg.Bucket, nil
	case "gcs":
		return fmt.Sprintf("gs://%s", cfg.Bucket), cfg.Bucket, nil
	case "local", "":
		abs, err := filepath.Abs(cfg.LocalDir)
		if err != nil {
			return "", "", fmt.Errorf("resolve storage dir %s: %w", cfg.LocalDir, err)
		}
		if err := os.MkdirAll(abs, 0o755); err != nil {
			return "", "", fmt.Errorf("create storage dir %s: %w", abs, err)
		}
		return "file://" + abs, abs, nil
	default:
		return "", "", fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

// Close releases the storage backend
func (p *Publisher) Close() error {
	return p.bucket.Close()
}

// PublishResult locates a published artifact
type PublishResult struct {
	Bucket     string
	StorageKey string
	RawKey     string
	PublicURL  string
	Bytes      int64
}

// Publish uploads the artifact and the lz4-compressed raw upload under a
// content-addressed key. Partial uploads are removed on failure.
func (p *Publisher) Publish(ctx context.Context, artifactPath, rawPath string) (*PublishResult, error) {
	hash, size, err := hashFile(artifactPath)
	if err != nil {
		return nil, err
	}
	key := fmt.Sprintf("%s%016x.parquet", p.prefix, hash)
	rawKey := fmt.Sprintf("%s%016x.raw.lz4", p.prefix, hash)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return p.uploadFile(gctx, key, artifactPath, false) })
	g.Go(func() error { return p.uploadFile(gctx, rawKey, rawPath, true) })
	if err := g.Wait(); err != nil {
		result := multierror.Append(nil, err)
		result.ErrorFormat = iutil.FormatMultiError
		for _, k := range []string{key, rawKey} {
			if delErr := p.bucket.Delete(ctx, k); delErr != nil {
				result = multierror.Append(result, delErr)
			}
		}
		return nil, fmt.Errorf("publish artifact: %w", result.ErrorOrNil())
	}

	return &PublishResult{
		Bucket:     p.bucketName,
		StorageKey: key,
		RawKey:     rawKey,
		PublicURL:  p.publicURL(key),
		Bytes:      size,
	}, nil
}

func (p *Publisher) uploadFile(ctx context.Context, key, path string, compress bool) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	w, err := p.bucket.NewWriter(ctx, key, nil)
	if err != nil {
		return fmt.Errorf("create writer for %s: %w", key, err)
	}
	var dst io.Writer = w
	var lzw *lz4.Writer
	if compress {
		lzw = lz4.NewWriter(w)
		dst = lzw
	}
	if _, err := io.Copy(dst, f); err != nil {
		w.Close()
		return fmt.Errorf("upload %s: %w", key, err)
	}
	if lzw != nil {
		if err := lzw.Close(); err != nil {
			w.Close()
			return fmt.Errorf("finish lz4 stream for %s: %w", key, err)
		}
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("commit %s: %w", key, err)
	}
	return nil
}

func (p *Publisher) publicURL(key string) string {
	if p.publicBaseURL != "" {
		return p.publicBaseURL + "/" + key
	}
	switch p.backend {
	case "s3":
		return fmt.Sprintf("https://%s.s3.amazonaws.com/%s", p.bucketName, key)
	case "gcs":
		return fmt.Sprintf("https://storage.googleapis.com/%s/%s", p.bucketName, key)
	default:
		return "file://" + filepath.Join(p.bucketName, key)
	}
}

func hashFile(path string) (uint64, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	digest := xxhash.New()
	size, err := io.Copy(digest, f)
	if err != nil {
		return 0, 0, fmt.Errorf("hash %s: %w", path, err)
	}
	return digest.Sum64(), size, nil
}
