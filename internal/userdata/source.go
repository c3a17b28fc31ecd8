package userdata

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

const s3Scheme = "s3://"

// S3API is the subset of the S3 client used to fetch bootstrap templates
type S3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// LoadTemplate reads a bootstrap template from a local path or an s3://bucket/key location.
// client may be nil for local paths.
func LoadTemplate(ctx context.Context, location string, client S3API) ([]byte, error) {
	if !IsS3Location(location) {
		data, err := os.ReadFile(location)
		if err != nil {
			return nil, fmt.Errorf("read template %s: %w", location, err)
		}
		return data, nil
	}

	bucket, key, err := parseS3Location(location)
	if err != nil {
		return nil, err
	}
	if client == nil {
		return nil, fmt.Errorf("read template %s: no S3 client configured", location)
	}

	out, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("get template object %s: %w", location, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("read template object %s: %w", location, err)
	}
	return data, nil
}

// IsS3Location reports whether location names an S3 object
func IsS3Location(location string) bool {
	return strings.HasPrefix(location, s3Scheme)
}

func parseS3Location(location string) (string, string, error) {
	bucket, key, ok := strings.Cut(strings.TrimPrefix(location, s3Scheme), "/")
	if !ok || bucket == "" || key == "" {
		return "", "", fmt.Errorf("parse template location %s: expected s3://bucket/key", location)
	}
	return bucket, key, nil
}
