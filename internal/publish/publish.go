// Package publish copies run artifacts to their destination: a local
// directory, an S3 bucket or a MinIO bucket.
package publish

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"strings"

	"github.com/hochfrequenz/lake-orchestrator/internal/config"
	"github.com/hochfrequenz/lake-orchestrator/internal/logging"
	"github.com/hochfrequenz/lake-orchestrator/internal/retry"
)

// Publisher uploads the artifacts of one lake run
type Publisher interface {
	Publish(ctx context.Context, lakeKey, runStamp string, paths []string) error
	String() string
}

// PublishError is the terminal publication failure of one lake
type PublishError struct {
	LakeKey     string
	Destination string
	Attempts    int
	Err         error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("lake %s: publishing to %s failed after %d attempts: %v", e.LakeKey, e.Destination, e.Attempts, e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }

// PermanentError marks a failure that retrying cannot fix, such as a
// missing local artifact.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }

func (e *PermanentError) Unwrap() error { return e.Err }

func retryable(err error) bool {
	var perm *PermanentError
	return !errors.As(err, &perm) && !errors.Is(err, context.Canceled)
}

// Destination is a parsed publication target
type Destination struct {
	Scheme string // file, s3 or minio
	Host   string // minio endpoint
	Bucket string
	Prefix string
	Path   string // file root
}

// ParseDestination accepts file:///dir, a bare path, s3://bucket/prefix
// and minio://host:port/bucket/prefix.
func ParseDestination(raw string) (Destination, error) {
	if raw == "" {
		return Destination{}, fmt.Errorf("empty destination")
	}
	if !strings.Contains(raw, "://") {
		return Destination{Scheme: "file", Path: filepath.Clean(raw)}, nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return Destination{}, fmt.Errorf("parsing destination %q: %w", raw, err)
	}

	switch u.Scheme {
	case "file":
		p := u.Path
		if u.Host != "" {
			// file://results is relative
			p = u.Host + u.Path
		}
		if p == "" {
			return Destination{}, fmt.Errorf("destination %q has no path", raw)
		}
		return Destination{Scheme: "file", Path: filepath.Clean(p)}, nil
	case "s3":
		if u.Host == "" {
			return Destination{}, fmt.Errorf("destination %q has no bucket", raw)
		}
		return Destination{Scheme: "s3", Bucket: u.Host, Prefix: strings.Trim(u.Path, "/")}, nil
	case "minio":
		bucket, prefix, _ := strings.Cut(strings.Trim(u.Path, "/"), "/")
		if u.Host == "" || bucket == "" {
			return Destination{}, fmt.Errorf("destination %q needs host and bucket", raw)
		}
		return Destination{Scheme: "minio", Host: u.Host, Bucket: bucket, Prefix: prefix}, nil
	default:
		return Destination{}, fmt.Errorf("unsupported destination scheme %q", u.Scheme)
	}
}

// New builds the publisher for dest, taking credentials from storage.
func New(ctx context.Context, dest string, storage config.StorageConfig) (Publisher, error) {
	d, err := ParseDestination(dest)
	if err != nil {
		return nil, err
	}
	switch d.Scheme {
	case "s3":
		return NewS3Publisher(ctx, d, storage)
	case "minio":
		return NewMinIOPublisher(d, storage)
	default:
		return NewFilePublisher(d.Path), nil
	}
}

// ObjectKey is the layout shared by every destination:
// <prefix>/<lake>/<run stamp>/<file>.
func ObjectKey(prefix, lakeKey, runStamp, file string) string {
	return path.Join(prefix, lakeKey, runStamp, filepath.Base(file))
}

// WithRetry publishes under policy, drawing retries from budget. A
// persistent failure is returned as *PublishError.
func WithRetry(ctx context.Context, p Publisher, policy retry.Policy, budget *retry.Budget, lakeKey, runStamp string, paths []string) (int, error) {
	logger := logging.FromContext(ctx).With("lake", lakeKey, "stage", "publish")

	attempts, err := retry.Do(ctx, policy, budget, retryable, func(ctx context.Context, attempt int) error {
		if attempt > 0 {
			logger.Warn("retrying publication", "attempt", attempt+1, "destination", p.String())
		}
		return p.Publish(ctx, lakeKey, runStamp, paths)
	})
	if err != nil {
		return attempts, &PublishError{LakeKey: lakeKey, Destination: p.String(), Attempts: attempts, Err: err}
	}
	logger.Info("artifacts published", "destination", p.String(), "files", len(paths), "attempts", attempts)
	return attempts, nil
}
