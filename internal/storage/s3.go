package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3Options configure an S3 backend.
type S3Options struct {
	Bucket       string `yaml:"bucket" env:"BUCKET"`
	Prefix       string `yaml:"prefix" env:"PREFIX"`
	Region       string `yaml:"region" env:"REGION"`
	Endpoint     string `yaml:"endpoint" env:"ENDPOINT"`
	UsePathStyle bool   `yaml:"use_path_style" env:"USE_PATH_STYLE"`

	// MaxAge is used when an object carries no cache-control max-age.
	MaxAge *int `yaml:"-" env:"-"`
}

// S3Client is the part of the S3 API the backend uses.
type S3Client interface {
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3 serves objects from a bucket. The object key is the prefix followed by
// the id without its leading slash.
type S3 struct {
	client S3Client
	bucket string
	prefix string
	maxAge *int
}

// NewS3 loads the default AWS configuration and returns a backend for
// opts.Bucket.
func NewS3(ctx context.Context, opts S3Options) (*S3, error) {
	if opts.Bucket == "" {
		return nil, errors.New("s3 bucket is required")
	}

	var loadOpts []func(*config.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(opts.Region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
		o.UsePathStyle = opts.UsePathStyle
	})
	return NewS3WithClient(client, opts), nil
}

// NewS3WithClient returns a backend using client.
func NewS3WithClient(client S3Client, opts S3Options) *S3 {
	return &S3{client: client, bucket: opts.Bucket, prefix: opts.Prefix, maxAge: opts.MaxAge}
}

func (s *S3) Name() string { return "ipx:s3" }

func (s *S3) key(id string) string {
	return s.prefix + strings.TrimPrefix(id, "/")
}

func (s *S3) Meta(ctx context.Context, id string, _ Options) (*Meta, error) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(id)),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to head %s: %w", id, err)
	}

	meta := &Meta{MTime: out.LastModified, MaxAge: s.maxAge}
	if cc := aws.ToString(out.CacheControl); cc != "" {
		if m := maxAgeRe.FindStringSubmatch(cc); m != nil {
			if v, err := strconv.Atoi(m[1]); err == nil {
				meta.MaxAge = &v
			}
		}
	}
	return meta, nil
}

func (s *S3) Data(ctx context.Context, id string, _ Options) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(id)),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get %s: %w", id, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", id, err)
	}
	return data, nil
}

func isNotFound(err error) bool {
	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	return errors.As(err, &noSuchKey) || errors.As(err, &notFound)
}
