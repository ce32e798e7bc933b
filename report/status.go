package report

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zeu5/traffic-signal-rl/logging"
)

// Snapshot is the state served on /status
type Snapshot struct {
	Run      *Run     `json:"run,omitempty"`
	Status   string   `json:"status"`
	Episodes int      `json:"episodes_done"`
	Last     *Episode `json:"last_episode,omitempty"`
}

// StatusServer serves the progress of the current run over HTTP
type StatusServer struct {
	server *http.Server

	lock     *sync.Mutex
	snapshot Snapshot
}

var _ Sink = &StatusServer{}

func NewStatusServer(addr string) *StatusServer {
	s := &StatusServer{
		lock:     new(sync.Mutex),
		snapshot: Snapshot{Status: "idle"},
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.GET("/health", healthHandler)
	r.GET("/status", s.handleStatus)
	s.server = &http.Server{
		Addr:    addr,
		Handler: r,
	}
	return s
}

func healthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *StatusServer) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.Snapshot())
}

func (s *StatusServer) Handler() http.Handler {
	return s.server.Handler
}

// Snapshot returns a copy of the current state
func (s *StatusServer) Snapshot() Snapshot {
	s.lock.Lock()
	defer s.lock.Unlock()
	out := s.snapshot
	if out.Run != nil {
		run := *out.Run
		out.Run = &run
	}
	if out.Last != nil {
		last := *out.Last
		out.Last = &last
	}
	return out
}

// Serve listens in the background until ctx is cancelled
func (s *StatusServer) Serve(ctx context.Context) {
	go func() {
		logging.Info("Serving run status", logging.Report, "addr", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Error("Status server stopped", logging.Report, "error", err)
		}
	}()

	go func() {
		<-ctx.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.server.Shutdown(ctx)
	}()
}

func (s *StatusServer) Start(_ context.Context, run Run) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.snapshot = Snapshot{Run: &run, Status: StatusRunning}
	return nil
}

func (s *StatusServer) Episode(_ context.Context, ep Episode) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.snapshot.Episodes++
	s.snapshot.Last = &ep
	return nil
}

func (s *StatusServer) Finish(_ context.Context, _ string, status string) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.snapshot.Status = status
	return nil
}
