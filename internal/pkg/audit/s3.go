package audit

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/ManuelReschke/OrderHook/internal/pkg/env"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gofiber/fiber/v2/log"
)

// ArchiveConfig holds S3 archive configuration
type ArchiveConfig struct {
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	BucketName      string
	EndpointURL     string // Optional for S3-compatible services
	Enabled         bool
}

// LoadArchiveConfig loads archive configuration from environment variables
func LoadArchiveConfig() (*ArchiveConfig, error) {
	cfg := &ArchiveConfig{
		AccessKeyID:     env.GetEnv("S3_ACCESS_KEY_ID", ""),
		SecretAccessKey: env.GetEnv("S3_SECRET_ACCESS_KEY", ""),
		Region:          env.GetEnv("S3_REGION", "us-east-1"),
		BucketName:      env.GetEnv("S3_BUCKET_NAME", ""),
		EndpointURL:     env.GetEnv("S3_ENDPOINT_URL", ""),
		Enabled:         env.GetEnvBool("S3_ARCHIVE_ENABLED", false),
	}

	if cfg.Enabled {
		if cfg.AccessKeyID == "" {
			return nil, errors.New("S3_ACCESS_KEY_ID is required when S3 archive is enabled")
		}
		if cfg.SecretAccessKey == "" {
			return nil, errors.New("S3_SECRET_ACCESS_KEY is required when S3 archive is enabled")
		}
		if cfg.BucketName == "" {
			return nil, errors.New("S3_BUCKET_NAME is required when S3 archive is enabled")
		}
	}
	return cfg, nil
}

// ObjectKey places raw bodies under webhooks/<provider>/YYYY/MM/DD/<sha256>.json.
// Identical redeliveries map to the same object.
func ObjectKey(provider, sha string, at time.Time) string {
	at = at.UTC()
	return fmt.Sprintf("webhooks/%s/%04d/%02d/%02d/%s.json", provider, at.Year(), int(at.Month()), at.Day(), sha)
}

// ObjectPutter is the subset of the S3 client used for archiving.
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

const maxPendingUploads = 32

// S3Archive stores the raw body of every delivery that passed signature
// verification. Uploads run in the background; Close waits for them.
type S3Archive struct {
	client  ObjectPutter
	bucket  string
	pending chan struct{}
	wg      sync.WaitGroup
}

// NewS3Archive creates an archive sink.
func NewS3Archive(cfg *ArchiveConfig) (*S3Archive, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("S3 archive is disabled")
	}

	awsConfig, err := config.LoadDefaultConfig(context.TODO(),
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.EndpointURL)
			o.UsePathStyle = true
		}
	})

	log.Infof("[Audit] archiving raw webhook bodies to bucket %s", cfg.BucketName)
	return NewS3ArchiveWithClient(client, cfg.BucketName), nil
}

func NewS3ArchiveWithClient(client ObjectPutter, bucket string) *S3Archive {
	return &S3Archive{
		client:  client,
		bucket:  bucket,
		pending: make(chan struct{}, maxPendingUploads),
	}
}

// Record queues the upload and returns at once. When too many uploads are in
// flight the body is not archived.
func (a *S3Archive) Record(ctx context.Context, rec Record) {
	if !rec.SignatureOK || len(rec.Payload) == 0 || rec.BodySHA256 == "" {
		return
	}

	select {
	case a.pending <- struct{}{}:
	default:
		log.Warnf("[Audit] archive queue full, dropping body of %s/%s", rec.Provider, rec.ProviderEventID)
		return
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer func() { <-a.pending }()
		a.put(context.WithoutCancel(ctx), rec)
	}()
}

// Close waits for queued uploads to finish.
func (a *S3Archive) Close() error {
	a.wg.Wait()
	return nil
}

func (a *S3Archive) put(ctx context.Context, rec Record) {
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	key := ObjectKey(rec.Provider, rec.BodySHA256, rec.ReceivedAt)
	_, err := a.client.PutObject(pctx, &s3.PutObjectInput{
		Bucket:        aws.String(a.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(rec.Payload),
		ContentType:   aws.String("application/json"),
		ContentLength: aws.Int64(int64(len(rec.Payload))),
		Metadata: map[string]string{
			"provider":          rec.Provider,
			"provider-event-id": rec.ProviderEventID,
			"http-status":       strconv.Itoa(rec.HTTPStatus),
			"record-id":         rec.ID,
		},
	})
	if err != nil {
		log.Errorf("[Audit] archive %s to s3 failed: %v", key, err)
	}
}
