package sumo

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
)

var ErrNoSumoHome = errors.New("please declare environment variable 'SUMO_HOME'")

// Options configures one simulator invocation
type Options struct {
	GUI         bool
	BinaryDir   string
	ConfigDir   string
	SumocfgFile string
	MaxSteps    int
	RoutesFile  string
}

// BinaryPath resolves sumo or sumo-gui inside BinaryDir, falling back to $SUMO_HOME/bin
func (o Options) BinaryPath() (string, error) {
	dir := o.BinaryDir
	if dir == "" {
		home := os.Getenv("SUMO_HOME")
		if home == "" {
			return "", ErrNoSumoHome
		}
		dir = filepath.Join(home, "bin")
	}
	name := "sumo"
	if o.GUI {
		name = "sumo-gui"
	}
	return filepath.Join(dir, name), nil
}

// Command is the argument vector used to start the simulator, binary first
func Command(o Options) ([]string, error) {
	bin, err := o.BinaryPath()
	if err != nil {
		return nil, err
	}
	cmd := []string{
		bin,
		"-c", filepath.Join(o.ConfigDir, o.SumocfgFile),
		"--no-step-log", "true",
		"--waiting-time-memory", strconv.Itoa(o.MaxSteps),
	}
	if o.RoutesFile != "" {
		cmd = append(cmd, "--route-files", o.RoutesFile)
	}
	return cmd, nil
}
