package objectstore

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"loom/internal/config"
	"loom/internal/services"
)

// Client wraps a MinIO connection plus the two bucket names the pipeline
// writes to. Construction never dials; the first call that reaches the
// endpoint surfaces connectivity and credential problems.
type Client struct {
	mc            *minio.Client
	datasetBucket string
	modelBucket   string
	region        string
}

// New builds a client from the object_store config section.
func New(cfg *config.Config) (*Client, error) {
	if cfg == nil {
		return nil, services.Wrap(services.ErrConfiguration, "objectstore", "new", "configuration unavailable", nil)
	}
	endpoint := strings.TrimSpace(cfg.ObjectStore.Endpoint)
	if endpoint == "" {
		return nil, services.Wrap(services.ErrConfiguration, "objectstore", "new", "object_store.endpoint must be set", nil)
	}
	mc, err := minio.New(endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.ObjectStore.AccessKey, cfg.ObjectStore.SecretKey, ""),
		Secure:    cfg.ObjectStore.UseSSL,
		Region:    cfg.ObjectStore.Region,
		Transport: newTransport(),
	})
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "objectstore", "new", fmt.Sprintf("endpoint %s", endpoint), err)
	}
	return &Client{
		mc:            mc,
		datasetBucket: cfg.ObjectStore.DatasetBucket,
		modelBucket:   cfg.ObjectStore.ModelBucket,
		region:        cfg.ObjectStore.Region,
	}, nil
}

// DatasetBucket names the bucket holding raw dataset archives.
func (c *Client) DatasetBucket() string { return c.datasetBucket }

// ModelBucket names the bucket holding model weights and export bundles.
func (c *Client) ModelBucket() string { return c.modelBucket }

// EnsureBuckets creates the dataset and model buckets when they do not exist
// yet. The daemon runs this once at startup.
func (c *Client) EnsureBuckets(ctx context.Context) error {
	for _, bucket := range []string{c.datasetBucket, c.modelBucket} {
		exists, err := c.mc.BucketExists(ctx, bucket)
		if err != nil {
			return classify("ensure buckets", bucket, err)
		}
		if exists {
			continue
		}
		if err := c.mc.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: c.region}); err != nil {
			return classify("ensure buckets", bucket, err)
		}
	}
	return nil
}

// Upload copies a local file to the object named by ref. A missing local
// file is a validation failure so retry loops do not reattempt it.
func (c *Client) Upload(ctx context.Context, localPath, ref string) error {
	parsed, err := ParseRef(ref)
	if err != nil {
		return err
	}
	if _, err := os.Stat(localPath); err != nil {
		return services.Wrap(services.ErrValidation, "objectstore", "upload", fmt.Sprintf("local file %s", localPath), err)
	}
	opts := minio.PutObjectOptions{ContentType: contentTypeFor(parsed.Key)}
	if _, err := c.mc.FPutObject(ctx, parsed.Bucket, parsed.Key, localPath, opts); err != nil {
		return classify("upload", parsed.String(), err)
	}
	return nil
}

// Download copies the object named by ref to localPath, creating parent
// directories as needed.
func (c *Client) Download(ctx context.Context, ref, localPath string) error {
	parsed, err := ParseRef(ref)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(localPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return services.Wrap(services.ErrTransient, "objectstore", "download", fmt.Sprintf("create %s", dir), err)
		}
	}
	if err := c.mc.FGetObject(ctx, parsed.Bucket, parsed.Key, localPath, minio.GetObjectOptions{}); err != nil {
		return classify("download", parsed.String(), err)
	}
	return nil
}

// Exists reports whether the object named by ref is present. A missing
// object or bucket is (false, nil); only transport and credential failures
// return an error.
func (c *Client) Exists(ctx context.Context, ref string) (bool, error) {
	parsed, err := ParseRef(ref)
	if err != nil {
		return false, err
	}
	_, err = c.mc.StatObject(ctx, parsed.Bucket, parsed.Key, minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}
	classified := classify("stat", parsed.String(), err)
	if errors.Is(classified, services.ErrNotFound) {
		return false, nil
	}
	return false, classified
}

// CheckAccess verifies the endpoint is reachable and the credentials can see
// the dataset bucket. Daemon preflight calls this.
func (c *Client) CheckAccess(ctx context.Context) error {
	if _, err := c.mc.BucketExists(ctx, c.datasetBucket); err != nil {
		return classify("check access", c.datasetBucket, err)
	}
	return nil
}

// classify maps MinIO failures onto the shared error taxonomy. NoSuchKey and
// NoSuchBucket mean the object genuinely is not there; retrying cannot help.
func classify(operation, target string, err error) error {
	resp := minio.ToErrorResponse(err)
	switch resp.Code {
	case "NoSuchKey", "NoSuchBucket":
		return services.Wrap(services.ErrNotFound, "objectstore", operation, target, err)
	}
	return services.Wrap(services.ErrTransient, "objectstore", operation, target, err)
}

func contentTypeFor(key string) string {
	if ct := mime.TypeByExtension(filepath.Ext(key)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

func newTransport() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}
