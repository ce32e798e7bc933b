package storage

import (
	"context"
	"errors"

	"github.com/zeu5/traffic-signal-rl/logging"
	"github.com/zeu5/traffic-signal-rl/util"
)

// Source tells where a model file was found
type Source int

const (
	SourceNone Source = iota
	SourceRemote
	SourceLocal
)

func (s Source) String() string {
	switch s {
	case SourceRemote:
		return "remote"
	case SourceLocal:
		return "local"
	default:
		return "none"
	}
}

// ModelRequest describes where to look for a model: Key in the store, downloaded
// to RemotePath, otherwise LocalPath on disk
type ModelRequest struct {
	Key        string
	RemotePath string
	LocalPath  string
}

// Resolution is the outcome of ResolveModel. Path is empty for SourceNone.
type Resolution struct {
	Source    Source
	Path      string
	RemoteErr error
}

func (r Resolution) Found() bool {
	return r.Source != SourceNone
}

// ResolveModel tries the store first and falls back to the local file. It never
// exits; the caller decides what a SourceNone means.
func ResolveModel(ctx context.Context, store ObjectStore, req ModelRequest) Resolution {
	res := Resolution{Source: SourceNone}

	if store != nil && req.Key != "" {
		logging.Info("Attempting to download model", logging.Storage, "remote", URL(store.Bucket(), req.Key), "local", req.RemotePath)
		err := store.Download(ctx, req.Key, req.RemotePath)
		if err == nil {
			res.Source = SourceRemote
			res.Path = req.RemotePath
			return res
		}
		res.RemoteErr = err
		if errors.Is(err, ErrNotFound) {
			logging.Warn("The model file does not exist in the bucket", logging.Storage, "key", req.Key)
		} else {
			logging.Warn("Failed to download model", logging.Storage, "key", req.Key, "error", err)
		}
		logging.Info("Falling back to local model", logging.Storage, "path", req.LocalPath)
	}

	if req.LocalPath != "" && util.FileExists(req.LocalPath) {
		res.Source = SourceLocal
		res.Path = req.LocalPath
		return res
	}
	logging.Error("Local model not found", logging.Storage, "path", req.LocalPath)
	return res
}
