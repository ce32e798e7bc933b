package commands

import (
	"context"
	"errors"
	"path"
	"time"

	"github.com/zeu5/traffic-signal-rl/config"
	"github.com/zeu5/traffic-signal-rl/intersection"
	"github.com/zeu5/traffic-signal-rl/logging"
	"github.com/zeu5/traffic-signal-rl/report"
	"github.com/zeu5/traffic-signal-rl/rl"
	"github.com/zeu5/traffic-signal-rl/storage"
	"github.com/zeu5/traffic-signal-rl/sumo"
	"github.com/zeu5/traffic-signal-rl/util"
)

// swapped in tests to run without a simulator or a bucket
var (
	launcher  = newLauncher
	openStore = openConfiguredStore
)

// openConfiguredStore builds the object store for the [s3] and [storage] sections. A nil
// store with nil error means remote storage is turned off.
func openConfiguredStore(s3 config.S3, st config.Storage) (storage.ObjectStore, error) {
	if !s3.Enabled {
		logging.Info("Remote storage disabled", logging.Storage)
		return nil, nil
	}
	store, err := storage.Open(st.Backend, storage.Config{
		Bucket:    s3.BucketName,
		Region:    st.Region,
		Endpoint:  st.Endpoint,
		PathStyle: st.PathStyle,
	})
	if errors.Is(err, storage.ErrNoBucket) {
		logging.Warn("No bucket configured, remote storage disabled", logging.Storage)
		return nil, nil
	}
	return store, err
}

// runKey is the object key of file inside the run directory of version
func runKey(prefix string, version int, file string) string {
	return path.Join(prefix, util.RunDirName(version), file)
}

// newLauncher starts a fresh simulator for every episode
func newLauncher(gui bool, maxSteps int, dir config.Dir, s config.Sumo) rl.Launcher {
	l := &sumo.Launcher{
		Options: sumo.Options{
			GUI:         gui,
			BinaryDir:   s.BinaryDir,
			ConfigDir:   s.ConfigDir,
			SumocfgFile: dir.SumocfgFileName,
			MaxSteps:    maxSteps,
			RoutesFile:  s.RoutesFile,
		},
		Port: s.Port,
	}
	return rl.LauncherFunc(func(ctx context.Context) (intersection.Conn, error) {
		session, err := l.Launch(ctx)
		if err != nil {
			return nil, err
		}
		return session, nil
	})
}

// openSinks fans run events out to the progress line and every reporter
// configured in [report]. Reporters that cannot start are logged and skipped.
func openSinks(ctx context.Context, cfg config.Report, progress *report.Progress) (report.Multi, func()) {
	sinks := report.Multi{progress}
	closers := make([]func() error, 0)

	if cfg.RedisAddr != "" {
		r := report.NewRedisSink(cfg.RedisAddr, cfg.RedisKey)
		sinks = append(sinks, r)
		closers = append(closers, r.Close)
	}
	if cfg.StatusAddr != "" {
		s := report.NewStatusServer(cfg.StatusAddr)
		s.Serve(ctx)
		sinks = append(sinks, s)
	}
	if cfg.LedgerPath != "" {
		l := report.NewLedger(cfg.LedgerPath)
		if err := l.Init(ctx); err != nil {
			logging.Warn("Run ledger unavailable", logging.Report, "path", cfg.LedgerPath, "error", err)
		} else {
			sinks = append(sinks, l)
			closers = append(closers, l.Close)
		}
	}

	return sinks, func() {
		for _, c := range closers {
			if err := c(); err != nil {
				logging.Debug("Closing reporter", logging.Report, "error", err)
			}
		}
	}
}

// finishRun records the final status with a fresh context so a cancelled run is
// still marked as failed. Every sink logs its own failure.
func finishRun(sinks report.Multi, runID string, runErr error) {
	status := report.StatusCompleted
	if runErr != nil {
		status = report.StatusFailed
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = sinks.Finish(ctx, runID, status)
}
