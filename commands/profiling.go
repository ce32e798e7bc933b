package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"runtime/pprof"

	"github.com/zeu5/traffic-signal-rl/logging"
)

// startProfiling starts the CPU profile into dir when requested. The returned
// function stops it and writes the heap profile.
func startProfiling(dir string) (func(), error) {
	var cpuFile *os.File
	if cpuprofile != "" {
		cpuProfPath := filepath.Join(dir, cpuprofile)
		logging.Info("Profiling CPU", logging.Run, "path", cpuProfPath)
		f, err := os.Create(cpuProfPath)
		if err != nil {
			return nil, fmt.Errorf("could not create CPU profile: %w", err)
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			f.Close()
			return nil, fmt.Errorf("could not start CPU profile: %w", err)
		}
		cpuFile = f
	}

	return func() {
		if cpuFile != nil {
			pprof.StopCPUProfile()
			cpuFile.Close()
		}
		if memprofile == "" {
			return
		}
		memProfPath := filepath.Join(dir, memprofile)
		logging.Info("Profiling memory", logging.Run, "path", memProfPath)
		f, err := os.Create(memProfPath)
		if err != nil {
			logging.Error("Could not create memory profile", logging.Run, "error", err)
			return
		}
		defer f.Close()
		runtime.GC() // get up-to-date statistics
		if err := pprof.WriteHeapProfile(f); err != nil {
			logging.Error("Could not write memory profile", logging.Run, "error", err)
		}
	}, nil
}
