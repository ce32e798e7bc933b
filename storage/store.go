package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/service/s3"
)

var (
	// ErrNotFound is returned when the local file to upload or the remote key to download is missing
	ErrNotFound = errors.New("object not found")
	// ErrCredentials is returned when the storage service rejects or lacks credentials
	ErrCredentials = errors.New("storage credentials not available")
	ErrNoBucket    = errors.New("no bucket configured")
)

// Object is a remote object listing entry
type Object struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// ObjectStore is the object storage collaborator, keyed by object key inside one bucket
type ObjectStore interface {
	Bucket() string
	Upload(ctx context.Context, localPath, key string) error
	Download(ctx context.Context, key, localPath string) error
	List(ctx context.Context, prefix, suffix string) ([]Object, error)
}

// Config is everything needed to build a store; the store owns its client
type Config struct {
	Bucket    string
	Region    string
	Endpoint  string
	PathStyle bool
}

// URL is the s3 url of key in bucket, used in logs
func URL(bucket, key string) string {
	return fmt.Sprintf("s3://%s/%s", bucket, key)
}

var notFoundCodes = map[string]bool{
	s3.ErrCodeNoSuchKey:    true,
	s3.ErrCodeNoSuchBucket: true,
	"NotFound":             true,
}

var credentialCodes = map[string]bool{
	"NoCredentialProviders": true,
	"InvalidAccessKeyId":    true,
	"SignatureDoesNotMatch": true,
	"ExpiredToken":          true,
	"AccessDenied":          true,
}

// classify maps aws errors onto ErrNotFound and ErrCredentials, keeping the original message
func classify(err error) error {
	if err == nil {
		return nil
	}
	for cur := err; cur != nil; cur = next(cur) {
		if rf, ok := cur.(awserr.RequestFailure); ok && rf.StatusCode() == 404 {
			return fmt.Errorf("%w: %v", ErrNotFound, err)
		}
		if aerr, ok := cur.(awserr.Error); ok {
			if notFoundCodes[aerr.Code()] {
				return fmt.Errorf("%w: %v", ErrNotFound, err)
			}
			if credentialCodes[aerr.Code()] {
				return fmt.Errorf("%w: %v", ErrCredentials, err)
			}
		}
	}
	return err
}

// aws errors chain through OrigErr, everything else through Unwrap
func next(err error) error {
	if aerr, ok := err.(awserr.Error); ok && aerr.OrigErr() != nil {
		return aerr.OrigErr()
	}
	return errors.Unwrap(err)
}
