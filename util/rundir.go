package util

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/zeu5/traffic-signal-rl/logging"
)

// RunPrefix is the fixed name segment of every versioned run directory
const RunPrefix = "model"

// ParseVersion extracts the version of a directory entry named "<prefix>_<N>".
// Names that do not split into exactly two "_" segments, or whose second segment
// is not a non-negative integer literal, carry no version.
func ParseVersion(name string) (int, bool) {
	parts := strings.Split(name, "_")
	if len(parts) != 2 || parts[1] == "" {
		return 0, false
	}
	for _, r := range parts[1] {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	v, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, false
	}
	return v, true
}

// MaxVersion returns the highest version found in names, 0 if there is none
func MaxVersion(names []string) int {
	max := 0
	for _, name := range names {
		if v, ok := ParseVersion(name); ok && v > max {
			max = v
		}
	}
	return max
}

// RunDirName returns the directory name of the given version
func RunDirName(version int) string {
	return fmt.Sprintf("%s_%d", RunPrefix, version)
}

// NewVersionedDir creates base if needed and a fresh "model_<N>" directory inside it,
// N being one more than the highest version already present.
// Not safe against concurrent allocators on the same base.
func NewVersionedDir(base string) (string, int, error) {
	if _, err := os.Stat(base); os.IsNotExist(err) {
		if err := os.MkdirAll(base, 0755); err != nil {
			return "", 0, fmt.Errorf("create base directory %s: %w", base, err)
		}
		logging.Info("Created main directory", logging.Run, "path", base)
	}

	entries, err := os.ReadDir(base)
	if err != nil {
		return "", 0, fmt.Errorf("list %s: %w", base, err)
	}
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name()
	}

	next := MaxVersion(names) + 1
	runPath := filepath.Join(base, RunDirName(next))
	if err := os.Mkdir(runPath, 0755); err != nil {
		return "", 0, fmt.Errorf("create run directory %s: %w", runPath, err)
	}
	logging.Info("Created model directory", logging.Run, "path", runPath, "version", next)
	return runPath, next, nil
}

// ModelDir is the directory of an existing run version
func ModelDir(base string, version int) string {
	return filepath.Join(base, RunDirName(version))
}

// TestDirs makes sure the model directory of version and its "test" output
// directory exist, and returns both
func TestDirs(base string, version int) (string, string, error) {
	modelDir := ModelDir(base, version)
	testDir := filepath.Join(modelDir, "test")
	if err := os.MkdirAll(testDir, 0755); err != nil {
		return "", "", fmt.Errorf("create test directory %s: %w", testDir, err)
	}
	return modelDir, testDir, nil
}
