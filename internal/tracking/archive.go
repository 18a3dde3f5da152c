package tracking

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"github.com/ignite/cardmail/internal/pkg/logger"
)

// ObjectPutter is the slice of the S3 client the archive uses.
type ObjectPutter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Archive keeps a copy of every raw webhook body in S3 as an audit trail.
// Uploads are fire-and-forget so a slow bucket never delays the provider's
// callback. A nil *Archive is valid and archives nothing.
type Archive struct {
	client  ObjectPutter
	bucket  string
	prefix  string
	timeout time.Duration
	now     func() time.Time
	wg      sync.WaitGroup
}

// NewArchive wraps an existing client.
func NewArchive(client ObjectPutter, bucket string) *Archive {
	return &Archive{
		client:  client,
		bucket:  bucket,
		prefix:  "webhooks/",
		timeout: 5 * time.Second,
		now:     time.Now,
	}
}

// NewS3Archive builds an archive from the default AWS credential chain.
// It returns nil when bucket is empty.
func NewS3Archive(ctx context.Context, bucket, region string) (*Archive, error) {
	if bucket == "" {
		return nil, nil
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return NewArchive(s3.NewFromConfig(awsCfg), bucket), nil
}

// Key returns the object key for a payload received at t.
func (a *Archive) Key(t time.Time, id string) string {
	return fmt.Sprintf("%s%s/%s.json", a.prefix, t.UTC().Format("2006/01/02"), id)
}

// Store uploads body in the background.
func (a *Archive) Store(body []byte) {
	if a == nil || len(body) == 0 {
		return
	}
	key := a.Key(a.now(), uuid.New().String())
	payload := append([]byte(nil), body...)

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		defer cancel()

		_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(a.bucket),
			Key:         aws.String(key),
			Body:        bytes.NewReader(payload),
			ContentType: aws.String("application/json"),
		})
		if err != nil {
			logger.Error("archive webhook payload", "bucket", a.bucket, "key", key, "error", err)
		}
	}()
}

// Wait blocks until in-flight uploads finish.
func (a *Archive) Wait() {
	if a == nil {
		return
	}
	a.wg.Wait()
}
