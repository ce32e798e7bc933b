package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/dustin/go-humanize"
	"github.com/zeu5/traffic-signal-rl/logging"
)

// S3Store is an ObjectStore backed by one S3 bucket
type S3Store struct {
	bucket     string
	client     s3iface.S3API
	uploader   *s3manager.Uploader
	downloader *s3manager.Downloader
}

var _ ObjectStore = &S3Store{}

// NewS3Store creates the session and client for cfg. Credentials are resolved the
// usual aws way (environment, shared config, instance role).
func NewS3Store(cfg Config) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, ErrNoBucket
	}
	awsCfg := aws.NewConfig()
	if cfg.Region != "" {
		awsCfg = awsCfg.WithRegion(cfg.Region)
	}
	if cfg.Endpoint != "" {
		awsCfg = awsCfg.WithEndpoint(cfg.Endpoint)
	}
	if cfg.PathStyle {
		awsCfg = awsCfg.WithS3ForcePathStyle(true)
	}
	sess, err := session.NewSessionWithOptions(session.Options{
		Config:            *awsCfg,
		SharedConfigState: session.SharedConfigEnable,
	})
	if err != nil {
		return nil, fmt.Errorf("create aws session: %w", err)
	}
	return NewS3StoreWithClient(cfg.Bucket, s3.New(sess)), nil
}

// NewS3StoreWithClient wraps an existing client
func NewS3StoreWithClient(bucket string, client s3iface.S3API) *S3Store {
	return &S3Store{
		bucket:     bucket,
		client:     client,
		uploader:   s3manager.NewUploaderWithClient(client),
		downloader: s3manager.NewDownloaderWithClient(client),
	}
}

func (s *S3Store) Bucket() string {
	return s.bucket
}

func (s *S3Store) Upload(ctx context.Context, localPath, key string) error {
	f, err := os.Open(localPath)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: the file %s was not found", ErrNotFound, localPath)
		}
		return err
	}
	defer f.Close()

	size := int64(0)
	if info, err := f.Stat(); err == nil {
		size = info.Size()
	}

	_, err = s.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   f,
	})
	if err != nil {
		return classify(err)
	}
	logging.Info("Uploaded file", logging.Storage, "local", localPath, "remote", URL(s.bucket, key), "size", humanize.Bytes(uint64(size)))
	return nil
}

// Download writes key to localPath, creating parent directories. The object is
// fetched into a temporary file next to localPath and renamed over it on success,
// so a failed download leaves an existing localPath untouched.
func (s *S3Store) Download(ctx context.Context, key, localPath string) error {
	dir := filepath.Dir(localPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, "."+filepath.Base(localPath)+".*.part")
	if err != nil {
		return err
	}
	tmpPath := f.Name()

	n, err := s.downloader.DownloadWithContext(ctx, f, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	closeErr := f.Close()
	if err != nil {
		os.Remove(tmpPath)
		return classify(err)
	}
	if closeErr != nil {
		os.Remove(tmpPath)
		return closeErr
	}
	if err := os.Rename(tmpPath, localPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("move download to %s: %w", localPath, err)
	}
	logging.Info("Downloaded file", logging.Storage, "remote", URL(s.bucket, key), "local", localPath, "size", humanize.Bytes(uint64(n)))
	return nil
}

// List returns the objects under prefix whose key ends with suffix (empty suffix matches all)
func (s *S3Store) List(ctx context.Context, prefix, suffix string) ([]Object, error) {
	out := make([]Object, 0)
	err := s.client.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	}, func(page *s3.ListObjectsV2Output, _ bool) bool {
		for _, o := range page.Contents {
			key := aws.StringValue(o.Key)
			if !strings.HasSuffix(key, suffix) {
				continue
			}
			out = append(out, Object{
				Key:          key,
				Size:         aws.Int64Value(o.Size),
				LastModified: aws.TimeValue(o.LastModified),
			})
		}
		return true
	})
	if err != nil {
		return nil, classify(err)
	}
	return out, nil
}
