package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/nikhilbhutani/financial-analyzer/internal/config"
)

// S3Store keeps documents in an S3-compatible bucket (AWS S3, R2, MinIO) so
// api and worker processes can run on different hosts.
type S3Store struct {
	client *s3.Client
	bucket string
}

func NewS3Store(ctx context.Context, cfg config.StorageConfig) (*S3Store, error) {
	if cfg.S3Bucket == "" {
		return nil, fmt.Errorf("s3 storage requires a bucket")
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.S3Region),
	}
	if cfg.S3AccessKeyID != "" && cfg.S3SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.S3AccessKeyID, cfg.S3SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Store{client: client, bucket: cfg.S3Bucket}, nil
}

func (s *S3Store) Save(ctx context.Context, id string, content io.Reader) (Handle, error) {
	h := Handle(FileName(id))
	if err := h.validate(); err != nil {
		return "", err
	}

	// PutObject needs a seekable body to sign the payload
	body, cleanup, err := seekable(content)
	if err != nil {
		return "", err
	}
	defer cleanup()

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(string(h)),
		Body:        body,
		ContentType: aws.String("application/pdf"),
	})
	if err != nil {
		return "", fmt.Errorf("upload document: %w", err)
	}
	return h, nil
}

func (s *S3Store) Open(ctx context.Context, h Handle) (string, func(), error) {
	if err := h.validate(); err != nil {
		return "", nil, err
	}

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(string(h)),
	})
	if err != nil {
		return "", nil, fmt.Errorf("download document: %w", err)
	}
	defer out.Body.Close()

	f, err := os.CreateTemp("", "financial_document_*.pdf")
	if err != nil {
		return "", nil, fmt.Errorf("create local copy: %w", err)
	}
	release := func() { os.Remove(f.Name()) }

	if _, err := io.Copy(f, out.Body); err != nil {
		f.Close()
		release()
		return "", nil, fmt.Errorf("copy document: %w", err)
	}
	if err := f.Close(); err != nil {
		release()
		return "", nil, fmt.Errorf("close local copy: %w", err)
	}
	return f.Name(), release, nil
}

func (s *S3Store) Delete(ctx context.Context, h Handle) {
	if err := h.validate(); err != nil {
		slog.Warn("skipping document delete", "handle", string(h), "error", err)
		return
	}

	// DeleteObject succeeds for missing keys
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(string(h)),
	})
	if err != nil {
		slog.Warn("failed to delete document", "handle", string(h), "bucket", s.bucket, "error", err)
	}
}

func (s *S3Store) Sweep(ctx context.Context, olderThan time.Duration, keep func(Handle) bool) (int, error) {
	cutoff := time.Now().Add(-olderThan)
	removed := 0

	pager := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(filePrefix),
	})
	for pager.HasMorePages() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return removed, fmt.Errorf("list documents: %w", err)
		}
		for _, obj := range page.Contents {
			if !staleObject(obj, cutoff) {
				continue
			}
			if keep != nil && keep(Handle(aws.ToString(obj.Key))) {
				continue
			}
			_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
				Bucket: aws.String(s.bucket),
				Key:    obj.Key,
			})
			if err != nil {
				slog.Warn("failed to sweep document", "key", aws.ToString(obj.Key), "error", err)
				continue
			}
			removed++
		}
	}
	return removed, nil
}

func staleObject(obj types.Object, cutoff time.Time) bool {
	return isDocumentName(aws.ToString(obj.Key)) &&
		obj.LastModified != nil && obj.LastModified.Before(cutoff)
}

// seekable returns r as an io.ReadSeeker, spooling it to a temp file when
// it is not one already.
func seekable(r io.Reader) (io.ReadSeeker, func(), error) {
	if rs, ok := r.(io.ReadSeeker); ok {
		return rs, func() {}, nil
	}

	f, err := os.CreateTemp("", ".upload-*")
	if err != nil {
		return nil, nil, fmt.Errorf("spool upload: %w", err)
	}
	cleanup := func() {
		f.Close()
		os.Remove(f.Name())
	}
	if _, err := io.Copy(f, r); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("spool upload: %w", err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("rewind upload: %w", err)
	}
	return f, cleanup, nil
}
