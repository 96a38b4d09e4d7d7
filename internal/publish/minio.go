package publish

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/hochfrequenz/lake-orchestrator/internal/config"
)

// MinIOPublisher uploads artifacts to a MinIO bucket
type MinIOPublisher struct {
	client   *minio.Client
	endpoint string
	region   string
	bucket   string
	prefix   string
}

// NewMinIOPublisher creates a client for the destination endpoint.
func NewMinIOPublisher(d Destination, storage config.StorageConfig) (*MinIOPublisher, error) {
	if storage.MinIOAccessKey == "" || storage.MinIOSecretKey == "" {
		return nil, fmt.Errorf("minio destination requires storage.minio_access_key and storage.minio_secret_key")
	}
	client, err := minio.New(d.Host, &minio.Options{
		Creds:     credentials.NewStaticV4(storage.MinIOAccessKey, storage.MinIOSecretKey, ""),
		Secure:    storage.MinIOUseSSL,
		Region:    storage.MinIORegion,
		Transport: newTransport(),
	})
	if err != nil {
		return nil, fmt.Errorf("creating minio client: %w", err)
	}
	return &MinIOPublisher{client: client, endpoint: d.Host, region: storage.MinIORegion, bucket: d.Bucket, prefix: d.Prefix}, nil
}

func (p *MinIOPublisher) String() string {
	return "minio://" + p.endpoint + "/" + p.bucket + "/" + p.prefix
}

// Publish uploads each file, creating the bucket on first use.
func (p *MinIOPublisher) Publish(ctx context.Context, lakeKey, runStamp string, paths []string) error {
	exists, err := p.client.BucketExists(ctx, p.bucket)
	if err != nil {
		return fmt.Errorf("checking bucket %s: %w", p.bucket, err)
	}
	if !exists {
		if err := p.client.MakeBucket(ctx, p.bucket, minio.MakeBucketOptions{Region: p.region}); err != nil {
			return fmt.Errorf("creating bucket %s: %w", p.bucket, err)
		}
	}

	for _, src := range paths {
		if _, err := os.Stat(src); err != nil {
			return &PermanentError{Err: fmt.Errorf("opening artifact: %w", err)}
		}
		key := ObjectKey(p.prefix, lakeKey, runStamp, src)
		if _, err := p.client.FPutObject(ctx, p.bucket, key, src, minio.PutObjectOptions{}); err != nil {
			return fmt.Errorf("putting minio %s/%s: %w", p.bucket, key, err)
		}
	}
	return nil
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
