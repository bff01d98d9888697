// Package s3 fetches filings stored as objects in an S3 bucket.
package s3

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/relgraph/backend/pkg/loader"
)

// ObjectGetter is the part of *s3.Client the fetcher uses.
type ObjectGetter interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Fetcher treats a filing location as an object key in one bucket.
type Fetcher struct {
	bucket string
	client ObjectGetter
	cache  loader.Cache
}

func NewFetcher(bucket string, client ObjectGetter) *Fetcher {
	return &Fetcher{bucket: bucket, client: client}
}

func (f *Fetcher) Fetch(ctx context.Context, key string) (loader.Raw, error) {
	return f.cache.Get(key, func() (loader.Raw, error) {
		out, err := f.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(f.bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			return loader.Raw{}, fmt.Errorf("failed to get object %s: %w", key, err)
		}
		defer out.Body.Close()

		body, err := io.ReadAll(out.Body)
		if err != nil {
			return loader.Raw{}, err
		}
		ct := aws.ToString(out.ContentType)
		if ct == "" || ct == "binary/octet-stream" || ct == "application/octet-stream" {
			ct = loader.ContentTypeFor(key)
		}
		return loader.Raw{Body: body, ContentType: ct}, nil
	})
}
