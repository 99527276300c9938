// Package objectstore stores uploaded media in S3-compatible object storage.
package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/segmentio/ksuid"
)

var unsafeNameChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// S3Store writes objects to one bucket and returns their public URLs.
type S3Store struct {
	client        s3iface.S3API
	bucket        string
	region        string
	publicBaseURL string
}

// NewS3Store creates a store. publicBaseURL, when set, replaces the default
// virtual-hosted bucket URL (CDN or local MinIO endpoints).
func NewS3Store(client s3iface.S3API, bucket, region, publicBaseURL string) *S3Store {
	return &S3Store{
		client:        client,
		bucket:        bucket,
		region:        region,
		publicBaseURL: strings.TrimRight(publicBaseURL, "/"),
	}
}

// Put uploads data under key and returns the object's URL.
func (s *S3Store) Put(ctx context.Context, data []byte, key, contentType string) (string, error) {
	_, err := s.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return "", fmt.Errorf("putting object %s: %w", key, err)
	}
	return s.URL(key), nil
}

// Delete removes the object at key. Deleting a missing key succeeds.
func (s *S3Store) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("deleting object %s: %w", key, err)
	}
	return nil
}

// URL returns the public URL for key.
func (s *S3Store) URL(key string) string {
	if s.publicBaseURL != "" {
		return s.publicBaseURL + "/" + key
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.bucket, s.region, key)
}

// Ping checks that the bucket is reachable with the configured credentials.
func (s *S3Store) Ping(ctx context.Context) error {
	_, err := s.client.HeadBucketWithContext(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	return err
}

// GeneratePath builds "<folder>/<owner>/<millis>_<random>_<name>" with the
// file name reduced to a safe character set.
func GeneratePath(ownerID, fileName, folder string, now time.Time) string {
	name := unsafeNameChars.ReplaceAllString(path.Base(fileName), "_")
	name = strings.Trim(name, "._")
	if name == "" {
		name = "file"
	}
	id := ksuid.New().String()
	return fmt.Sprintf("%s/%s/%d_%s_%s", folder, ownerID, now.UnixMilli(), id[len(id)-8:], name)
}
