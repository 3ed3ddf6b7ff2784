package agenttesting

import (
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/minio"
)

// MinIOConfig holds the MinIO test container configuration.
type MinIOConfig struct {
	Username       string
	Password       string
	Region         string
	ContainerImage string
}

func (cfg *MinIOConfig) Validate() error {
	if cfg.Username == "" {
		cfg.Username = "minioadmin"
	}
	if cfg.Password == "" {
		cfg.Password = "minioadmin"
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	if cfg.ContainerImage == "" {
		cfg.ContainerImage = "minio/minio:latest"
	}
	return nil
}

// MinIO represents a MinIO test container serving the S3 API.
type MinIO struct {
	log         *slog.Logger
	cfg         *MinIOConfig
	endpointURL string
	client      *s3.Client
	container   *minio.MinioContainer
}

// EndpointURL returns the http:// endpoint of the S3 API.
func (m *MinIO) EndpointURL() string {
	return m.endpointURL
}

// Username returns the access key.
func (m *MinIO) Username() string {
	return m.cfg.Username
}

// Password returns the secret key.
func (m *MinIO) Password() string {
	return m.cfg.Password
}

// Region returns the region clients should use.
func (m *MinIO) Region() string {
	return m.cfg.Region
}

// Client returns a path-style S3 client for the container.
func (m *MinIO) Client() *s3.Client {
	return m.client
}

// CreateBucket creates a bucket.
func (m *MinIO) CreateBucket(ctx context.Context, name string) error {
	if _, err := m.client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(name)}); err != nil {
		return fmt.Errorf("failed to create bucket %s: %w", name, err)
	}
	return nil
}

// Close terminates the MinIO container.
func (m *MinIO) Close() {
	terminateCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := m.container.Terminate(terminateCtx); err != nil {
		m.log.Error("failed to terminate MinIO container", "error", err)
	}
}

// NewMinIO creates a new MinIO testcontainer.
func NewMinIO(ctx context.Context, log *slog.Logger, cfg *MinIOConfig) (*MinIO, error) {
	if cfg == nil {
		cfg = &MinIOConfig{}
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate MinIO config: %w", err)
	}

	container, err := startWithRetry("MinIO", func() (*minio.MinioContainer, error) {
		return minio.Run(ctx, cfg.ContainerImage,
			minio.WithUsername(cfg.Username),
			minio.WithPassword(cfg.Password),
		)
	})
	if err != nil {
		return nil, err
	}

	host, err := container.Host(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get MinIO container host: %w", err)
	}
	// localhost does not resolve the same way in every network context.
	if host == "localhost" {
		host = "127.0.0.1"
	}
	port, err := container.MappedPort(ctx, "9000")
	if err != nil {
		return nil, fmt.Errorf("failed to get MinIO container mapped port: %w", err)
	}
	endpointURL := fmt.Sprintf("http://%s:%s", host, port.Port())

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.Username, cfg.Password, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpointURL)
		o.UsePathStyle = true
	})

	return &MinIO{
		log:         log,
		cfg:         cfg,
		endpointURL: endpointURL,
		client:      client,
		container:   container,
	}, nil
}

// ListObjectKeys returns every object key in bucket under prefix.
func ListObjectKeys(t *testing.T, client *s3.Client, bucket, prefix string) []string {
	t.Helper()
	var keys []string
	p := s3.NewListObjectsV2Paginator(client, &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(prefix),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(t.Context())
		require.NoError(t, err)
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}
	return keys
}
