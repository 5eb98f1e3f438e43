// SPDX-License-Identifier: MIT

package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/tech42-ai/storycast/internal/log"
)

// S3Store implements ObjectStore on top of an S3 bucket.
type S3Store struct {
	client  *s3.Client
	presign *s3.PresignClient
	bucket  string
}

// NewS3Store resolves AWS configuration from the environment (credentials
// chain, region override) and returns a store bound to bucket.
func NewS3Store(ctx context.Context, bucket, region string) (*S3Store, error) {
	if bucket == "" {
		return nil, errors.New("store: bucket must not be empty")
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("store: load aws config: %w", err)
	}
	client := s3.NewFromConfig(cfg)
	return &S3Store{
		client:  client,
		presign: s3.NewPresignClient(client),
		bucket:  bucket,
	}, nil
}

func (s *S3Store) Put(ctx context.Context, key string, body io.Reader, contentType string) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return classify("put", key, err)
	}
	return nil
}

func (s *S3Store) Get(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, classify("get", key, err)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, &TransientError{Op: "get", Key: key, Err: err}
	}
	return data, nil
}

func (s *S3Store) Head(ctx context.Context, key string) (int64, error) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return 0, classify("head", key, err)
	}
	return aws.ToInt64(out.ContentLength), nil
}

func (s *S3Store) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, classify("list", prefix, err)
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}
	return keys, nil
}

func (s *S3Store) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	keys, err := s.List(ctx, prefix)
	if err != nil {
		return 0, err
	}
	deleted := 0
	for start := 0; start < len(keys); start += deletePrefixBatchSize {
		end := start + deletePrefixBatchSize
		if end > len(keys) {
			end = len(keys)
		}
		batch := make([]s3types.ObjectIdentifier, 0, end-start)
		for _, k := range keys[start:end] {
			batch = append(batch, s3types.ObjectIdentifier{Key: aws.String(k)})
		}
		_, err := s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(s.bucket),
			Delete: &s3types.Delete{Objects: batch, Quiet: aws.Bool(true)},
		})
		if err != nil {
			return deleted, classify("delete", prefix, err)
		}
		deleted += len(batch)
	}
	log.WithComponent("store").Debug().
		Str("prefix", prefix).
		Int("deleted", deleted).
		Msg("prefix deleted")
	return deleted, nil
}

func (s *S3Store) PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error) {
	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", classify("presign", key, err)
	}
	return req.URL, nil
}

// classify maps AWS SDK errors to the store error classes. Missing objects
// wrap ErrNotFound; throttling, 5xx responses and network failures are
// transient; everything else is permanent.
func classify(op, key string, err error) error {
	var nsk *s3types.NoSuchKey
	var nf *s3types.NotFound
	if errors.As(err, &nsk) || errors.As(err, &nf) {
		return fmt.Errorf("%s %s: %w", op, key, ErrNotFound)
	}

	var respErr interface{ HTTPStatusCode() int }
	if errors.As(err, &respErr) {
		switch code := respErr.HTTPStatusCode(); {
		case code == http.StatusNotFound:
			return fmt.Errorf("%s %s: %w", op, key, ErrNotFound)
		case code == http.StatusTooManyRequests || code >= 500:
			return &TransientError{Op: op, Key: key, Err: err}
		}
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "SlowDown", "RequestTimeout", "InternalError", "ServiceUnavailable", "Throttling", "ThrottlingException":
			return &TransientError{Op: op, Key: key, Err: err}
		}
		return &PermanentError{Op: op, Key: key, Err: err}
	}

	// No API-level response; assume the network is at fault.
	return &TransientError{Op: op, Key: key, Err: err}
}
