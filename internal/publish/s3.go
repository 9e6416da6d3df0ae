package publish

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog/log"
)

// projectTag is the URL-encoded object tagging used for cost allocation.
const projectTag = "Project=guest-avatar"

// S3API is the subset of the S3 client S3Uploader uses.
type S3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	PutObjectAcl(ctx context.Context, in *s3.PutObjectAclInput, optFns ...func(*s3.Options)) (*s3.PutObjectAclOutput, error)
}

// S3Uploader stores videos in an S3 bucket. The object ID is the key.
type S3Uploader struct {
	client S3API
	bucket string
	region string
	prefix string
}

var _ Uploader = (*S3Uploader)(nil)

// NewS3Uploader uploads into bucket under prefix.
func NewS3Uploader(client S3API, bucket, region, prefix string) *S3Uploader {
	return &S3Uploader{client: client, bucket: bucket, region: region, prefix: strings.Trim(prefix, "/")}
}

func (u *S3Uploader) key(name string) string {
	if u.prefix == "" {
		return name
	}
	return u.prefix + "/" + name
}

func (u *S3Uploader) Upload(ctx context.Context, localPath, name, mimeType string) (string, string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", "", fmt.Errorf("open video: %w", err)
	}
	defer f.Close()

	key := u.key(name)
	log.Debug().Str("bucket", u.bucket).Str("key", key).Msg("Uploading video to S3")

	_, err = u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      &u.bucket,
		Key:         &key,
		Body:        f,
		ContentType: &mimeType,
		Tagging:     aws.String(projectTag),
	})
	if err != nil {
		return "", "", fmt.Errorf("put s3://%s/%s: %w", u.bucket, key, err)
	}
	return key, u.objectURL(key), nil
}

func (u *S3Uploader) GrantPublicRead(ctx context.Context, objectID string) error {
	_, err := u.client.PutObjectAcl(ctx, &s3.PutObjectAclInput{
		Bucket: &u.bucket,
		Key:    &objectID,
		ACL:    types.ObjectCannedACLPublicRead,
	})
	if err != nil {
		return fmt.Errorf("put acl s3://%s/%s: %w", u.bucket, objectID, err)
	}
	return nil
}

// objectURL is the virtual-hosted URL of key.
func (u *S3Uploader) objectURL(key string) string {
	segments := strings.Split(key, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", u.bucket, u.region, strings.Join(segments, "/"))
}
