package store

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/transfermanager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3MirrorConfig configures an optional S3-compatible mirror for store
// entries, adapted from the teacher's storage.S3 backend (SPEC_FULL.md
// §11): local extraction is always authoritative, the mirror is a
// best-effort secondary copy enabling a shared store across machines.
type S3MirrorConfig struct {
	Bucket          string
	Prefix          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	ForcePathStyle  bool
}

// S3Mirror uploads a store entry's extracted files to an S3-compatible
// bucket after local extraction succeeds.
type S3Mirror struct {
	client   *s3.Client
	uploader *transfermanager.Client
	bucket   string
	prefix   string
}

// NewS3Mirror constructs an S3Mirror from cfg.
func NewS3Mirror(ctx context.Context, cfg S3MirrorConfig) (*S3Mirror, error) {
	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.ForcePathStyle
	})
	return &S3Mirror{
		client:   client,
		uploader: transfermanager.New(client),
		bucket:   cfg.Bucket,
		prefix:   cfg.Prefix,
	}, nil
}

// MirrorDir uploads every regular file under root to the bucket, keyed
// under key/<relative path>.
func (m *S3Mirror) MirrorDir(ctx context.Context, key string, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()

		objectKey := filepath.ToSlash(filepath.Join(m.prefix, key, rel))
		_, err = m.uploader.UploadObject(ctx, &transfermanager.UploadObjectInput{
			Bucket: aws.String(m.bucket),
			Key:    aws.String(objectKey),
			Body:   f,
		})
		return err
	})
}
