package storage

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

var (
	loadDefaultAWSConfig = config.LoadDefaultConfig

	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
		return s3.NewFromConfig(cfg, optFns...)
	}

	putObject = func(c *s3.Client, ctx context.Context, in *s3.PutObjectInput) (*s3.PutObjectOutput, error) {
		return c.PutObject(ctx, in)
	}

	newS3PresignClient = func(c *s3.Client) *s3.PresignClient {
		return s3.NewPresignClient(c)
	}

	presignGetObject = func(pc *s3.PresignClient, ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
		return pc.PresignGetObject(ctx, in, optFns...)
	}
)

// MirrorConfig holds settings for the optional S3-compatible offsite copy of
// completed archives.
type MirrorConfig struct {
	RootUser     string
	RootPassword string
	Bucket       string
	Region       string
	BaseEndpoint string
}

// S3Mirror copies completed archives to object storage and vends presigned
// download URLs for mirrored blobs. It is an offsite convenience on top of
// the local store; the local record remains the source of truth.
type S3Mirror struct {
	local *LocalStore
	cfg   MirrorConfig
}

// NewS3Mirror wires a mirror over the given local store.
func NewS3Mirror(local *LocalStore, cfg MirrorConfig) *S3Mirror {
	return &S3Mirror{local: local, cfg: cfg}
}

func (m *S3Mirror) getClient() (*s3.Client, error) {
	cfg, err := loadDefaultAWSConfig(context.Background(),
		config.WithRegion(m.cfg.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			m.cfg.RootUser,
			m.cfg.RootPassword,
			"",
		)))
	if err != nil {
		return nil, err
	}

	return newS3ClientFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(m.cfg.BaseEndpoint)
		o.UsePathStyle = true
	}), nil
}

// Mirror uploads the placed file to the bucket under its storage path as the
// object key.
func (m *S3Mirror) Mirror(ctx context.Context, storagePath string) error {
	client, err := m.getClient()
	if err != nil {
		return err
	}

	f, err := os.Open(m.local.AbsPath(storagePath))
	if err != nil {
		return fmt.Errorf("open %s: %w", storagePath, err)
	}
	defer f.Close()

	_, err = putObject(client, ctx, &s3.PutObjectInput{
		Bucket: aws.String(m.cfg.Bucket),
		Key:    aws.String(storagePath),
		Body:   f,
	})
	if err != nil {
		return fmt.Errorf("mirror %s: %w", storagePath, err)
	}
	return nil
}

// PresignedGetURL returns a temporary download URL for a mirrored archive.
func (m *S3Mirror) PresignedGetURL(ctx context.Context, storagePath string) (string, error) {
	client, err := m.getClient()
	if err != nil {
		return "", err
	}

	req, err := presignGetObject(newS3PresignClient(client), ctx, &s3.GetObjectInput{
		Bucket: aws.String(m.cfg.Bucket),
		Key:    aws.String(storagePath),
	}, s3.WithPresignExpires(15*time.Minute))
	if err != nil {
		return "", err
	}
	return req.URL, nil
}
