package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"angelscout/internal/investor"
	"angelscout/internal/logging"
)

// ObjectAPI is the subset of the S3 client the store needs.
type ObjectAPI interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Config holds construction parameters for the S3 store.
type S3Config struct {
	Bucket          string
	Key             string // object key holding the whole set; default investors.json
	Region          string // default us-east-1
	Endpoint        string // optional; MinIO or localstack
	PathStyle       bool
	AccessKeyID     string // optional; falls back to the default credentials chain
	SecretAccessKey string
}

// S3 keeps the canonical set as a single JSON array object. Every write is a
// read-modify-write of the whole object, serialized within the process.
type S3 struct {
	client ObjectAPI
	bucket string
	key    string

	mu sync.Mutex
}

// NewS3 builds an S3 client from cfg and wraps it.
func NewS3(ctx context.Context, cfg S3Config) (*S3, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.PathStyle {
			o.UsePathStyle = true
		}
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	logging.Store("s3 record store using s3://%s/%s", cfg.Bucket, cfg.Key)
	return NewS3WithClient(client, cfg.Bucket, cfg.Key), nil
}

// NewS3WithClient wraps an existing client; tests pass a fake.
func NewS3WithClient(client ObjectAPI, bucket, key string) *S3 {
	if key == "" {
		key = "investors.json"
	}
	return &S3{client: client, bucket: bucket, key: key}
}

func (s *S3) load(ctx context.Context) ([]investor.Record, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{Bucket: &s.bucket, Key: &s.key})
	if err != nil {
		var missing *types.NoSuchKey
		if errors.As(err, &missing) {
			return nil, nil
		}
		return nil, fmt.Errorf("get s3://%s/%s: %w", s.bucket, s.key, err)
	}
	defer func() { _ = out.Body.Close() }()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("read s3 object: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	var records []investor.Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("decode s3 object: %w", err)
	}
	return records, nil
}

func (s *S3) save(ctx context.Context, records []investor.Record) error {
	if records == nil {
		records = []investor.Record{}
	}
	data, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("encode investors: %w", err)
	}
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      &s.bucket,
		Key:         &s.key,
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("put s3://%s/%s: %w", s.bucket, s.key, err)
	}
	return nil
}

func (s *S3) GetAll(ctx context.Context) ([]investor.Record, error) {
	return s.load(ctx)
}

func (s *S3) GetByID(ctx context.Context, id string) (investor.Record, error) {
	records, err := s.load(ctx)
	if err != nil {
		return investor.Record{}, err
	}
	return findID(records, id)
}

func (s *S3) UpsertMany(ctx context.Context, records []investor.Record) error {
	if len(records) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, err := s.load(ctx)
	if err != nil {
		return err
	}
	return s.save(ctx, upsertOrdered(existing, records))
}

func (s *S3) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, err := s.load(ctx)
	if err != nil {
		return err
	}
	before := len(existing)
	existing = removeID(existing, id)
	if len(existing) == before {
		return nil
	}
	return s.save(ctx, existing)
}

func (s *S3) Close() error { return nil }
