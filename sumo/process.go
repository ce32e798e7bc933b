package sumo

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os/exec"
	"strconv"
	"time"

	"github.com/zeu5/traffic-signal-rl/logging"
	"github.com/zeu5/traffic-signal-rl/traci"
)

// ConnectTimeout bounds how long a freshly started simulator gets to open its port
var ConnectTimeout = 10 * time.Second

// Process is one simulator instance controlled over TraCI
type Process struct {
	command []string
	port    int
	process *exec.Cmd
	cancel  context.CancelFunc
	done    chan error

	stdout *bytes.Buffer
	stderr *bytes.Buffer
}

// NewProcess prepares command to be started with a TraCI port. Port 0 picks a free one.
func NewProcess(command []string, port int) *Process {
	return &Process{
		command: command,
		port:    port,
		cancel:  func() {},
	}
}

func freePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

func (p *Process) Addr() string {
	return net.JoinHostPort("127.0.0.1", strconv.Itoa(p.port))
}

// Start launches the simulator, returns an error if already started
func (p *Process) Start(ctx context.Context) error {
	if p.process != nil {
		return errors.New("simulator already started")
	}
	if len(p.command) == 0 {
		return errors.New("empty simulator command")
	}
	if p.port == 0 {
		port, err := freePort()
		if err != nil {
			return fmt.Errorf("pick traci port: %w", err)
		}
		p.port = port
	}

	args := append(append([]string{}, p.command[1:]...), "--remote-port", strconv.Itoa(p.port))
	ctx, cancel := context.WithCancel(ctx)
	p.process = exec.CommandContext(ctx, p.command[0], args...)
	p.cancel = cancel
	p.stdout = new(bytes.Buffer)
	p.stderr = new(bytes.Buffer)
	p.process.Stdout = p.stdout
	p.process.Stderr = p.stderr

	if err := p.process.Start(); err != nil {
		cancel()
		p.process = nil
		return fmt.Errorf("start %s: %w", p.command[0], err)
	}
	p.done = make(chan error, 1)
	go func() {
		p.done <- p.process.Wait()
	}()
	logging.Debug("Started simulator", logging.Sumo, "binary", p.command[0], "port", p.port, "pid", p.process.Process.Pid)
	return nil
}

// Connect dials the TraCI port until the simulator accepts or ConnectTimeout passes
func (p *Process) Connect(ctx context.Context) (*traci.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, ConnectTimeout)
	defer cancel()

	for {
		client, err := traci.Dial(ctx, p.Addr())
		if err == nil {
			return client, nil
		}
		select {
		case exitErr := <-p.done:
			p.done <- exitErr
			logging.Debug("Simulator output", logging.Sumo, "stdout", p.Stdout())
			return nil, fmt.Errorf("simulator exited before accepting connections: %v: %s", exitErr, p.stderr.String())
		case <-ctx.Done():
			return nil, fmt.Errorf("connect to simulator at %s: %w", p.Addr(), err)
		case <-time.After(100 * time.Millisecond):
		}
	}
}

// Wait blocks until the process exits or timeout passes, then kills it
func (p *Process) Wait(timeout time.Duration) error {
	if p.process == nil {
		return nil
	}
	defer p.cancel()
	select {
	case err := <-p.done:
		p.done <- err
		return err
	case <-time.After(timeout):
		p.cancel()
		err := <-p.done
		p.done <- err
		return err
	}
}

// Stdout and Stderr are what the process has written so far
func (p *Process) Stdout() string {
	if p.stdout == nil {
		return ""
	}
	return p.stdout.String()
}

func (p *Process) Stderr() string {
	if p.stderr == nil {
		return ""
	}
	return p.stderr.String()
}

// Session is a connected simulator: the TraCI client plus the process behind it
type Session struct {
	*traci.Client
	proc *Process
}

// Close ends the TraCI session and reaps the simulator process
func (s *Session) Close() error {
	err := s.Client.Close()
	if werr := s.proc.Wait(5 * time.Second); werr != nil {
		logging.Debug("Simulator exited", logging.Sumo, "error", werr, "stderr", s.proc.Stderr())
	}
	return err
}

// Launcher starts a fresh simulator per episode
type Launcher struct {
	Options Options
	Port    int
}

// Launch starts the simulator for the routes in Options and connects to it
func (l *Launcher) Launch(ctx context.Context) (*Session, error) {
	cmd, err := Command(l.Options)
	if err != nil {
		return nil, err
	}
	proc := NewProcess(cmd, l.Port)
	if err := proc.Start(ctx); err != nil {
		return nil, err
	}
	client, err := proc.Connect(ctx)
	if err != nil {
		proc.cancel()
		proc.Wait(time.Second)
		return nil, err
	}
	return &Session{Client: client, proc: proc}, nil
}
