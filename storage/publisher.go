package storage

import (
	"context"
	"errors"

	"github.com/zeu5/traffic-signal-rl/logging"
)

// Publisher does best effort uploads. Every failure is logged and counted, none is
// returned, so a run never aborts because an artifact could not be shipped.
type Publisher struct {
	store    ObjectStore
	uploaded int
	failed   int
}

// NewPublisher wraps store; a nil store gives a publisher that skips every upload
func NewPublisher(store ObjectStore) *Publisher {
	if store == nil {
		logging.Warn("No object store configured, artifacts stay local", logging.Storage)
	}
	return &Publisher{store: store}
}

// Publish uploads localPath under key and reports whether it succeeded
func (p *Publisher) Publish(ctx context.Context, localPath, key string) bool {
	if p.store == nil {
		return false
	}
	err := p.store.Upload(ctx, localPath, key)
	if err == nil {
		p.uploaded++
		return true
	}
	p.failed++
	switch {
	case errors.Is(err, ErrNotFound):
		logging.Error("The file was not found", logging.Storage, "local", localPath, "error", err)
	case errors.Is(err, ErrCredentials):
		logging.Error("Credentials not available", logging.Storage, "remote", URL(p.store.Bucket(), key), "error", err)
	default:
		logging.Error("Failed to upload file", logging.Storage, "local", localPath, "remote", URL(p.store.Bucket(), key), "error", err)
	}
	return false
}

func (p *Publisher) Uploaded() int {
	return p.uploaded
}

func (p *Publisher) Failed() int {
	return p.failed
}
