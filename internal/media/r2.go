package media

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	config "github.com/maheshrc27/postqueue/configs"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

const r2Scheme = "r2://"

// IsRemote reports whether ref names an object in the bucket.
func IsRemote(ref string) bool {
	return strings.HasPrefix(ref, r2Scheme)
}

// R2Store keeps media in a Cloudflare R2 bucket through the S3 API.
type R2Store struct {
	bucket string
	client *s3.Client
}

func NewR2Store(ctx context.Context, cfg config.R2) (*R2Store, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")),
		awsconfig.WithRegion("auto"),
	)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(fmt.Sprintf("https://%s.r2.cloudflarestorage.com", cfg.AccountID))
	})
	return &R2Store{bucket: cfg.BucketName, client: client}, nil
}

func (r *R2Store) Put(ctx context.Context, data []byte, ext, mime string) (string, error) {
	id, err := gonanoid.New()
	if err != nil {
		return "", err
	}
	key := id + "." + strings.TrimPrefix(ext, ".")

	input := &s3.PutObjectInput{
		Bucket:      aws.String(r.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(mime),
	}
	if _, err := r.client.PutObject(ctx, input); err != nil {
		slog.Info(err.Error())
		return "", err
	}
	return r2Scheme + key, nil
}

// Fetch downloads the object into a temporary file removed by the release func.
func (r *R2Store) Fetch(ctx context.Context, ref string) (string, func(), error) {
	key := strings.TrimPrefix(ref, r2Scheme)
	if key == "" || key == ref {
		return "", nil, fmt.Errorf("not an r2 ref: %q", ref)
	}

	out, err := r.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		slog.Info(err.Error())
		return "", nil, fmt.Errorf("get %s: %w", key, err)
	}
	defer out.Body.Close()

	f, err := os.CreateTemp("", "postqueue-*"+path.Ext(key))
	if err != nil {
		return "", nil, err
	}
	release := func() { _ = os.Remove(f.Name()) }
	if _, err := io.Copy(f, out.Body); err != nil {
		f.Close()
		release()
		return "", nil, fmt.Errorf("download %s: %w", key, err)
	}
	if err := f.Close(); err != nil {
		release()
		return "", nil, err
	}
	return f.Name(), release, nil
}
