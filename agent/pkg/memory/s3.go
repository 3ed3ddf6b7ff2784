package memory

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/jonboulle/clockwork"
)

const (
	// DefaultS3Region is used when no region is configured.
	DefaultS3Region = "us-east-1"
	// DefaultS3Prefix is the object prefix under which entries are written.
	DefaultS3Prefix = "analyst/memory"

	metaSessionID = "session-id"
	metaSummary   = "summary"
	metaCreatedAt = "created-at"
)

// S3StoreConfig configures an S3Store.
type S3StoreConfig struct {
	Logger          *slog.Logger
	Clock           clockwork.Clock
	Bucket          string
	Prefix          string
	Region          string
	EndpointURL     string // Optional custom endpoint (for MinIO)
	AccessKeyID     string // Optional; the default credential chain is used when empty
	SecretAccessKey string
}

func (c *S3StoreConfig) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.Bucket == "" {
		return errors.New("bucket is required")
	}
	if c.Region == "" {
		c.Region = DefaultS3Region
	}
	if c.Prefix == "" {
		c.Prefix = DefaultS3Prefix
	}
	c.Prefix = strings.Trim(c.Prefix, "/")
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	return nil
}

// S3Store keeps one object per key under <prefix>/<session>/<key>. The summary
// and creation time travel as object metadata.
type S3Store struct {
	log    *slog.Logger
	clock  clockwork.Clock
	client *s3.Client
	bucket string
	prefix string
}

// NewS3Store creates an S3 client from cfg.
func NewS3Store(ctx context.Context, cfg S3StoreConfig) (*S3Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	clientOpts := []func(*s3.Options){
		func(o *s3.Options) {
			o.UsePathStyle = true // Required for MinIO compatibility
		},
	}
	if cfg.EndpointURL != "" {
		clientOpts = append(clientOpts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.EndpointURL)
		})
	}

	return NewS3StoreFromClient(s3.NewFromConfig(awsCfg, clientOpts...), cfg), nil
}

// NewS3StoreFromClient wraps an existing client. cfg must already be validated.
func NewS3StoreFromClient(client *s3.Client, cfg S3StoreConfig) *S3Store {
	return &S3Store{
		log:    cfg.Logger,
		clock:  cfg.Clock,
		client: client,
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
	}
}

func (s *S3Store) objectKey(sessionID, key string) string {
	return path.Join(s.prefix, sessionID, key)
}

// listPrefix is the listing prefix for the objects under parts. It matches the
// keys objectKey builds, including when the store prefix is empty.
func (s *S3Store) listPrefix(parts ...string) string {
	p := path.Join(append([]string{s.prefix}, parts...)...)
	if p == "" {
		return ""
	}
	return p + "/"
}

// Store uploads payload under a new key.
func (s *S3Store) Store(ctx context.Context, sessionID string, payload []byte, summary string) (string, error) {
	return storeWithUniqueKey(sessionID, func(key string) (bool, error) {
		objKey := s.objectKey(sessionID, key)

		if _, err := s.head(ctx, objKey); err == nil {
			return false, nil
		} else if !errors.Is(err, ErrNotFound) {
			return false, err
		}

		_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:        aws.String(s.bucket),
			Key:           aws.String(objKey),
			Body:          bytes.NewReader(payload),
			ContentLength: aws.Int64(int64(len(payload))),
			ContentType:   aws.String("application/octet-stream"),
			Metadata: map[string]string{
				metaSessionID: sessionID,
				metaSummary:   url.QueryEscape(summary),
				metaCreatedAt: s.clock.Now().UTC().Format(time.RFC3339Nano),
			},
		})
		if err != nil {
			return false, fmt.Errorf("failed to put object %s: %w", objKey, err)
		}
		s.log.Debug("memory: stored payload", "key", key, "bytes", len(payload), "bucket", s.bucket)
		return true, nil
	})
}

// Retrieve downloads the payload stored under key.
func (s *S3Store) Retrieve(ctx context.Context, key string) ([]byte, error) {
	e, err := s.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	return e.Payload, nil
}

// Get downloads the entry stored under key.
func (s *S3Store) Get(ctx context.Context, key string) (*Entry, error) {
	sessionID, err := SessionFromKey(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	objKey := s.objectKey(sessionID, key)

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objKey),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, fmt.Errorf("failed to get object %s: %w", objKey, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read object body: %w", err)
	}

	e := entryFromMetadata(key, out.Metadata)
	e.Payload = data
	return e, nil
}

func (s *S3Store) head(ctx context.Context, objKey string) (map[string]string, error) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objKey),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to head object %s: %w", objKey, err)
	}
	return out.Metadata, nil
}

// List returns the entries of a session, newest first.
func (s *S3Store) List(ctx context.Context, sessionID string) ([]EntryInfo, error) {
	if err := validateSession(sessionID); err != nil {
		return nil, err
	}
	var out []EntryInfo
	err := s.each(ctx, s.listPrefix(sessionID), func(objKey string, size int64) error {
		meta, err := s.head(ctx, objKey)
		if err != nil {
			return err
		}
		info := entryFromMetadata(path.Base(objKey), meta).info()
		info.Size = int(size)
		out = append(out, info)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortNewestFirst(out)
	return out, nil
}

// Cleanup deletes objects whose created-at metadata is older than olderThan.
func (s *S3Store) Cleanup(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := s.clock.Now().Add(-olderThan)
	removed := 0
	err := s.each(ctx, s.listPrefix(), func(objKey string, _ int64) error {
		meta, err := s.head(ctx, objKey)
		if err != nil {
			return err
		}
		e := entryFromMetadata(path.Base(objKey), meta)
		if !e.CreatedAt.Before(cutoff) {
			return nil
		}
		if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(objKey),
		}); err != nil {
			return fmt.Errorf("failed to delete object %s: %w", objKey, err)
		}
		removed++
		return nil
	})
	if removed > 0 {
		s.log.Info("memory: cleaned up old entries", "removed", removed, "cutoff", cutoff, "bucket", s.bucket)
	}
	return removed, err
}

func (s *S3Store) each(ctx context.Context, prefix string, fn func(objKey string, size int64) error) error {
	p := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("failed to list objects: %w", err)
		}
		for _, obj := range page.Contents {
			if obj.Key == nil {
				continue
			}
			if err := fn(*obj.Key, aws.ToInt64(obj.Size)); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *S3Store) Close() error {
	return nil
}

func entryFromMetadata(key string, meta map[string]string) *Entry {
	e := &Entry{Key: key, SessionID: meta[metaSessionID]}
	if summary, err := url.QueryUnescape(meta[metaSummary]); err == nil {
		e.Summary = summary
	}
	if ts, err := time.Parse(time.RFC3339Nano, meta[metaCreatedAt]); err == nil {
		e.CreatedAt = ts
	}
	return e
}

func isS3NotFound(err error) bool {
	var nsk *types.NoSuchKey
	var nf *types.NotFound
	return errors.As(err, &nsk) || errors.As(err, &nf)
}
