// Package storage archives published graph snapshots to S3 compatible
// object storage.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/relgraph/backend/pkg/logger"
	"github.com/relgraph/backend/pkg/snapshot"
)

const snapshotPrefix = "snapshots/"

var ErrNoArchivedSnapshot = errors.New("no archived snapshot")

type S3Config struct {
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
}

func NewS3Client(ctx context.Context, cfg S3Config) (*s3.Client, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.Endpoint != "" {
		opts = append(opts, config.WithBaseEndpoint(cfg.Endpoint))
	}
	if cfg.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKey,
			cfg.SecretKey,
			"",
		)))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load s3 config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = true
	}), nil
}

// S3API is the subset of *s3.Client the archive needs.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	DeleteObjects(ctx context.Context, params *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
}

// SnapshotArchive stores one JSON object per snapshot version under
// snapshots/v000042.json and keeps the newest Keep of them.
type SnapshotArchive struct {
	client S3API
	bucket string
	keep   int
}

func NewSnapshotArchive(client S3API, bucket string, keep int) *SnapshotArchive {
	return &SnapshotArchive{client: client, bucket: bucket, keep: keep}
}

func SnapshotKey(version uint64) string {
	return fmt.Sprintf("%sv%06d.json", snapshotPrefix, version)
}

func parseSnapshotKey(key string) (uint64, bool) {
	name, ok := strings.CutPrefix(key, snapshotPrefix+"v")
	if !ok {
		return 0, false
	}
	name, ok = strings.CutSuffix(name, ".json")
	if !ok {
		return 0, false
	}
	v, err := strconv.ParseUint(name, 10, 64)
	return v, err == nil
}

// Archive implements snapshot.Archiver.
func (a *SnapshotArchive) Archive(ctx context.Context, snap *snapshot.Snapshot) error {
	data, err := snap.MarshalJSON()
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	key := SnapshotKey(snap.Version())
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("failed to upload snapshot %s: %w", key, err)
	}

	if a.keep > 0 {
		if err := a.Prune(ctx, a.keep); err != nil {
			logger.Warn("[Storage] Failed to prune snapshots", "err", err)
		}
	}
	return nil
}

// Versions lists archived versions in ascending order.
func (a *SnapshotArchive) Versions(ctx context.Context) ([]uint64, error) {
	var versions []uint64
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(a.bucket),
		Prefix: aws.String(snapshotPrefix),
	}
	for {
		out, err := a.client.ListObjectsV2(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("failed to list snapshots: %w", err)
		}
		for _, obj := range out.Contents {
			if v, ok := parseSnapshotKey(aws.ToString(obj.Key)); ok {
				versions = append(versions, v)
			}
		}
		if !aws.ToBool(out.IsTruncated) {
			break
		}
		input.ContinuationToken = out.NextContinuationToken
	}
	slices.Sort(versions)
	return versions, nil
}

// Latest downloads the newest archived snapshot.
func (a *SnapshotArchive) Latest(ctx context.Context) (*snapshot.Snapshot, error) {
	versions, err := a.Versions(ctx)
	if err != nil {
		return nil, err
	}
	if len(versions) == 0 {
		return nil, ErrNoArchivedSnapshot
	}
	return a.Get(ctx, versions[len(versions)-1])
}

func (a *SnapshotArchive) Get(ctx context.Context, version uint64) (*snapshot.Snapshot, error) {
	key := SnapshotKey(version)
	out, err := a.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get snapshot %s: %w", key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot %s: %w", key, err)
	}
	return snapshot.Decode(data)
}

// Prune deletes all but the newest keep snapshots.
func (a *SnapshotArchive) Prune(ctx context.Context, keep int) error {
	versions, err := a.Versions(ctx)
	if err != nil {
		return err
	}
	if len(versions) <= keep {
		return nil
	}

	stale := versions[:len(versions)-keep]
	objects := make([]types.ObjectIdentifier, 0, len(stale))
	for _, v := range stale {
		objects = append(objects, types.ObjectIdentifier{Key: aws.String(SnapshotKey(v))})
	}
	_, err = a.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
		Bucket: aws.String(a.bucket),
		Delete: &types.Delete{
			Objects: objects,
			Quiet:   aws.Bool(true),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to delete stale snapshots: %w", err)
	}
	return nil
}
