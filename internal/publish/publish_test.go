package publish

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/go-cmp/cmp"

	"github.com/hochfrequenz/lake-orchestrator/internal/config"
	"github.com/hochfrequenz/lake-orchestrator/internal/retry"
)

func TestParseDestination(t *testing.T) {
	tests := []struct {
		raw     string
		want    Destination
		wantErr bool
	}{
		{raw: "file:///srv/results", want: Destination{Scheme: "file", Path: "/srv/results"}},
		{raw: "file://results", want: Destination{Scheme: "file", Path: "results"}},
		{raw: "out/results", want: Destination{Scheme: "file", Path: "out/results"}},
		{raw: "s3://alplakes/simulations/simstrat", want: Destination{Scheme: "s3", Bucket: "alplakes", Prefix: "simulations/simstrat"}},
		{raw: "s3://alplakes", want: Destination{Scheme: "s3", Bucket: "alplakes"}},
		{raw: "minio://localhost:9000/lakes/runs", want: Destination{Scheme: "minio", Host: "localhost:9000", Bucket: "lakes", Prefix: "runs"}},
		{raw: "minio://localhost:9000", wantErr: true},
		{raw: "ftp://host/x", wantErr: true},
		{raw: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := ParseDestination(tt.raw)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseDestination() error = %v, wantErr %v", err, tt.wantErr)
			}
			if diff := cmp.Diff(tt.want, got); !tt.wantErr && diff != "" {
				t.Errorf("ParseDestination() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestObjectKey(t *testing.T) {
	got := ObjectKey("simulations", "greifensee", "20240501T000000Z", "/tmp/run/Results/T_out.dat")
	if got != "simulations/greifensee/20240501T000000Z/T_out.dat" {
		t.Errorf("ObjectKey() = %q", got)
	}
	if got := ObjectKey("", "hallwil", "s", "bundle.json"); got != "hallwil/s/bundle.json" {
		t.Errorf("ObjectKey() without prefix = %q", got)
	}
}

func writeArtifact(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestFilePublisher(t *testing.T) {
	root := t.TempDir()
	src := writeArtifact(t, "bundle.json", `{"lake_key":"greifensee"}`)

	p, err := New(context.Background(), "file://"+root, config.StorageConfig{})
	if err != nil {
		t.Fatal(err)
	}
	if err := p.Publish(context.Background(), "greifensee", "run1", []string{src}); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	got, err := os.ReadFile(filepath.Join(root, "greifensee", "run1", "bundle.json"))
	if err != nil || string(got) != `{"lake_key":"greifensee"}` {
		t.Errorf("published content = %q, %v", got, err)
	}
}

func TestFilePublisher_MissingArtifactIsPermanent(t *testing.T) {
	p := NewFilePublisher(t.TempDir())
	err := p.Publish(context.Background(), "greifensee", "run1", []string{"/does/not/exist"})
	var perm *PermanentError
	if !errors.As(err, &perm) {
		t.Errorf("expected PermanentError, got %v", err)
	}
}

// flakyPublisher fails the first n calls
type flakyPublisher struct {
	mu    sync.Mutex
	fail  int
	calls int
	err   error
}

func (f *flakyPublisher) Publish(ctx context.Context, lakeKey, runStamp string, paths []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.fail {
		return f.err
	}
	return nil
}

func (f *flakyPublisher) String() string { return "flaky://" }

func TestWithRetry(t *testing.T) {
	transient := errors.New("connection reset")
	tests := []struct {
		name         string
		fail         int
		err          error
		wantAttempts int
		wantErr      bool
	}{
		{"first try", 0, transient, 1, false},
		{"recovers", 2, transient, 3, false},
		{"exhausted", 10, transient, 4, true},
		{"permanent", 10, &PermanentError{Err: errors.New("missing")}, 1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &flakyPublisher{fail: tt.fail, err: tt.err}
			attempts, err := WithRetry(context.Background(), p, retry.NewPolicy(3, 0), nil, "hallwil", "run1", nil)
			if (err != nil) != tt.wantErr {
				t.Fatalf("WithRetry() error = %v, wantErr %v", err, tt.wantErr)
			}
			if attempts != tt.wantAttempts {
				t.Errorf("attempts = %d, want %d", attempts, tt.wantAttempts)
			}
			if tt.wantErr {
				var pe *PublishError
				if !errors.As(err, &pe) || pe.Attempts != tt.wantAttempts {
					t.Errorf("expected PublishError with attempts, got %v", err)
				}
			}
		})
	}
}

// fakeS3 records uploaded objects
type fakeS3 struct {
	objects map[string]string
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)] = string(body)
	return &s3.PutObjectOutput{}, nil
}

func TestS3Publisher(t *testing.T) {
	fake := &fakeS3{objects: make(map[string]string)}
	p := &S3Publisher{client: fake, bucket: "alplakes", prefix: "simstrat"}
	src := writeArtifact(t, "T_out.dat", "1,2,3")

	if err := p.Publish(context.Background(), "greifensee", "run1", []string{src}); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	want := map[string]string{"alplakes/simstrat/greifensee/run1/T_out.dat": "1,2,3"}
	if diff := cmp.Diff(want, fake.objects); diff != "" {
		t.Errorf("objects mismatch (-want +got):\n%s", diff)
	}
}

func TestNewMinIOPublisher_RequiresCredentials(t *testing.T) {
	d := Destination{Scheme: "minio", Host: "localhost:9000", Bucket: "lakes"}
	if _, err := NewMinIOPublisher(d, config.StorageConfig{}); err == nil {
		t.Error("expected error without credentials")
	}
	p, err := NewMinIOPublisher(d, config.StorageConfig{MinIOAccessKey: "k", MinIOSecretKey: "s"})
	if err != nil {
		t.Fatalf("NewMinIOPublisher() error = %v", err)
	}
	if p.String() != "minio://localhost:9000/lakes/" {
		t.Errorf("String() = %q", p.String())
	}
}
