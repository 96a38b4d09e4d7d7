package publish

import (
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsretry "github.com/aws/aws-sdk-go-v2/aws/retry"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	appconfig "github.com/hochfrequenz/lake-orchestrator/internal/config"
)

// sdkMaxAttempts bounds the SDK's own retries per request; the publisher
// policy retries whole uploads on top.
const sdkMaxAttempts = 3

// objectPutter is the part of the S3 client used for uploads
type objectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Publisher uploads artifacts with the AWS SDK
type S3Publisher struct {
	client objectPutter
	bucket string
	prefix string
}

// NewS3Publisher loads the default AWS configuration, overridden by static
// credentials and a custom endpoint when the app config carries them.
func NewS3Publisher(ctx context.Context, d Destination, storage appconfig.StorageConfig) (*S3Publisher, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRetryer(func() aws.Retryer {
			return awsretry.AddWithMaxAttempts(awsretry.NewStandard(), sdkMaxAttempts)
		}),
	}
	if storage.S3Region != "" {
		opts = append(opts, awsconfig.WithRegion(storage.S3Region))
	}
	if storage.S3AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(storage.S3AccessKey, storage.S3SecretKey, "")))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if storage.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(storage.S3Endpoint)
		}
		o.UsePathStyle = storage.S3PathStyle
	})
	return &S3Publisher{client: client, bucket: d.Bucket, prefix: d.Prefix}, nil
}

func (p *S3Publisher) String() string {
	return "s3://" + p.bucket + "/" + p.prefix
}

// Publish uploads each file to <prefix>/<lake>/<stamp>/<file>.
func (p *S3Publisher) Publish(ctx context.Context, lakeKey, runStamp string, paths []string) error {
	for _, src := range paths {
		if err := p.put(ctx, ObjectKey(p.prefix, lakeKey, runStamp, src), src); err != nil {
			return err
		}
	}
	return nil
}

func (p *S3Publisher) put(ctx context.Context, key, src string) error {
	f, err := os.Open(src)
	if err != nil {
		return &PermanentError{Err: fmt.Errorf("opening artifact: %w", err)}
	}
	defer f.Close()

	_, err = p.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(key),
		Body:   f,
	})
	if err != nil {
		return fmt.Errorf("putting s3://%s/%s: %w", p.bucket, key, err)
	}
	return nil
}
