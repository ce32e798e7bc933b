package rl

import (
	"context"

	"github.com/zeu5/traffic-signal-rl/intersection"
	"golang.org/x/exp/rand"
)

// EpsilonFor is the exploration rate of episode, decaying linearly from 1 to 1/total
func EpsilonFor(episode, total int) float64 {
	if total <= 0 {
		return 0
	}
	return 1 - float64(episode)/float64(total)
}

// argmax returns the index of the largest value, the first one on ties
func argmax(values []float64) int {
	best := 0
	for i, v := range values {
		if v > values[best] {
			best = i
		}
	}
	return best
}

// EpsilonGreedy explores with probability epsilon and exploits model otherwise
type EpsilonGreedy struct {
	model      Predictor
	numActions int
	rand       *rand.Rand
}

func NewEpsilonGreedy(model Predictor, numActions int, seed uint64) *EpsilonGreedy {
	return &EpsilonGreedy{
		model:      model,
		numActions: numActions,
		rand:       rand.New(rand.NewSource(seed)),
	}
}

func (p *EpsilonGreedy) Action(state []float64, epsilon float64) int {
	if p.rand.Float64() < epsilon {
		return p.rand.Intn(p.numActions)
	}
	return argmax(p.model.PredictOne(state))
}

// Launcher starts one simulation and returns the connection driving it
type Launcher interface {
	Launch(ctx context.Context) (intersection.Conn, error)
}

// LauncherFunc adapts a function to Launcher
type LauncherFunc func(ctx context.Context) (intersection.Conn, error)

func (f LauncherFunc) Launch(ctx context.Context) (intersection.Conn, error) {
	return f(ctx)
}

// RouteGenerator writes the vehicle routes of an episode
type RouteGenerator interface {
	Generate(seed int64, path string) error
}
