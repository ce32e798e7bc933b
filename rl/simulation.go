package rl

import (
	"context"
	"fmt"
	"time"

	"github.com/zeu5/traffic-signal-rl/intersection"
	"github.com/zeu5/traffic-signal-rl/logging"
)

// SimulationConfig is what both simulations share
type SimulationConfig struct {
	MaxSteps       int
	GreenDuration  int
	YellowDuration int
	RoutesFile     string
}

// decision is called once per agent decision with the state observed and the
// reward since the previous decision
type decision func(step int, state []float64, reward float64) (action int)

// drive runs one episode on env until it reaches its last step
func drive(ctx context.Context, env *intersection.Env, cfg SimulationConfig, decide decision) error {
	oldWait := 0.0
	oldAction := -1
	for !env.Done() {
		if err := ctx.Err(); err != nil {
			return err
		}
		state, err := env.State()
		if err != nil {
			return fmt.Errorf("read state: %w", err)
		}
		wait, err := env.TotalWaitingTime()
		if err != nil {
			return fmt.Errorf("read waiting time: %w", err)
		}
		reward := oldWait - wait

		action := decide(env.Step(), state, reward)

		if env.Step() != 0 && oldAction != action {
			if err := env.SetYellow(oldAction); err != nil {
				return err
			}
			if _, err := env.Advance(cfg.YellowDuration); err != nil {
				return err
			}
		}
		if err := env.SetGreen(action); err != nil {
			return err
		}
		if _, err := env.Advance(cfg.GreenDuration); err != nil {
			return err
		}

		oldAction = action
		oldWait = wait
	}
	return nil
}

// episode generates the routes for seed, launches the simulator and drives it
func episode(ctx context.Context, launcher Launcher, routes RouteGenerator, cfg SimulationConfig, seed int64, decide decision) (*intersection.Env, error) {
	if routes != nil {
		if err := routes.Generate(seed, cfg.RoutesFile); err != nil {
			return nil, fmt.Errorf("generate routes: %w", err)
		}
	}
	conn, err := launcher.Launch(ctx)
	if err != nil {
		return nil, fmt.Errorf("launch simulator: %w", err)
	}
	env := intersection.NewEnv(conn, cfg.MaxSteps)
	runErr := drive(ctx, env, cfg, decide)
	if err := env.Close(); err != nil {
		logging.Warn("Failed to close simulator", logging.Sumo, "error", err)
	}
	return env, runErr
}

type TrainingConfig struct {
	SimulationConfig
	NumActions     int
	Gamma          float64
	TrainingEpochs int
	BatchSize      int
}

// EpisodeStats summarises one training episode
type EpisodeStats struct {
	Episode        int
	Epsilon        float64
	Reward         float64
	CumulativeWait float64
	AvgQueueLength float64
	SimTime        time.Duration
	TrainTime      time.Duration
}

// TrainingSimulation runs epsilon greedy episodes and replays memory into the model
type TrainingSimulation struct {
	model    Model
	memory   *Memory
	policy   *EpsilonGreedy
	launcher Launcher
	routes   RouteGenerator
	config   TrainingConfig

	RewardStore         []float64
	CumulativeWaitStore []float64
	AvgQueueLengthStore []float64

	last EpisodeStats
}

func NewTrainingSimulation(model Model, memory *Memory, launcher Launcher, routes RouteGenerator, config TrainingConfig) *TrainingSimulation {
	return &TrainingSimulation{
		model:               model,
		memory:              memory,
		policy:              NewEpsilonGreedy(model, config.NumActions, uint64(time.Now().UnixNano())),
		launcher:            launcher,
		routes:              routes,
		config:              config,
		RewardStore:         make([]float64, 0),
		CumulativeWaitStore: make([]float64, 0),
		AvgQueueLengthStore: make([]float64, 0),
	}
}

// Run simulates episode with the routes seeded by the episode number, then trains
func (s *TrainingSimulation) Run(ctx context.Context, ep int, epsilon float64) (time.Duration, time.Duration, error) {
	start := time.Now()

	var oldState []float64
	oldAction := -1
	sumNegReward := 0.0
	env, err := episode(ctx, s.launcher, s.routes, s.config.SimulationConfig, int64(ep), func(step int, state []float64, reward float64) int {
		if step != 0 {
			s.memory.Add(Sample{State: oldState, Action: oldAction, Reward: reward, Next: state})
		}
		action := s.policy.Action(state, epsilon)
		if reward < 0 {
			sumNegReward += reward
		}
		oldState, oldAction = state, action
		return action
	})
	if err != nil {
		return time.Since(start), 0, err
	}

	s.RewardStore = append(s.RewardStore, sumNegReward)
	s.CumulativeWaitStore = append(s.CumulativeWaitStore, float64(env.SumWaitingTime()))
	s.AvgQueueLengthStore = append(s.AvgQueueLengthStore, float64(env.SumQueueLength())/float64(env.MaxSteps()))
	logging.Info("Episode simulated", logging.Train, "episode", ep, "epsilon", fmt.Sprintf("%.2f", epsilon), "reward", sumNegReward)
	simTime := time.Since(start)

	logging.Debug("Training", logging.Train, "epochs", s.config.TrainingEpochs, "memory", s.memory.Size())
	start = time.Now()
	for i := 0; i < s.config.TrainingEpochs; i++ {
		if err := ctx.Err(); err != nil {
			return simTime, time.Since(start), err
		}
		s.replay()
	}
	trainTime := time.Since(start)

	s.last = EpisodeStats{
		Episode:        ep,
		Epsilon:        epsilon,
		Reward:         sumNegReward,
		CumulativeWait: s.CumulativeWaitStore[len(s.CumulativeWaitStore)-1],
		AvgQueueLength: s.AvgQueueLengthStore[len(s.AvgQueueLengthStore)-1],
		SimTime:        simTime,
		TrainTime:      trainTime,
	}
	return simTime, trainTime, nil
}

// replay fits the model on a batch: Q(s,a) = r + gamma * max Q(s')
func (s *TrainingSimulation) replay() float64 {
	batch := s.memory.Sample(s.config.BatchSize)
	if len(batch) == 0 {
		return 0
	}
	states := make([][]float64, len(batch))
	nexts := make([][]float64, len(batch))
	for i, b := range batch {
		states[i] = b.State
		nexts[i] = b.Next
	}
	q := s.model.PredictBatch(states)
	qNext := s.model.PredictBatch(nexts)

	targets := make([][]float64, len(batch))
	for i, b := range batch {
		targets[i] = append([]float64(nil), q[i]...)
		targets[i][b.Action] = b.Reward + s.config.Gamma*qNext[i][argmax(qNext[i])]
	}
	return s.model.TrainBatch(states, targets)
}

// Last returns the statistics of the last completed episode
func (s *TrainingSimulation) Last() EpisodeStats {
	return s.last
}

// TestingSimulation runs one greedy episode with a trained model
type TestingSimulation struct {
	model    Predictor
	launcher Launcher
	routes   RouteGenerator
	config   SimulationConfig

	RewardEpisode      []float64
	QueueLengthEpisode []float64
}

func NewTestingSimulation(model Predictor, launcher Launcher, routes RouteGenerator, config SimulationConfig) *TestingSimulation {
	return &TestingSimulation{
		model:              model,
		launcher:           launcher,
		routes:             routes,
		config:             config,
		RewardEpisode:      make([]float64, 0),
		QueueLengthEpisode: make([]float64, 0),
	}
}

// Run simulates the episode seeded by seed and returns the simulation time
func (s *TestingSimulation) Run(ctx context.Context, seed int64) (time.Duration, error) {
	start := time.Now()
	s.RewardEpisode = s.RewardEpisode[:0]
	env, err := episode(ctx, s.launcher, s.routes, s.config, seed, func(_ int, state []float64, reward float64) int {
		s.RewardEpisode = append(s.RewardEpisode, reward)
		return argmax(s.model.PredictOne(state))
	})
	if err != nil {
		return time.Since(start), err
	}
	s.QueueLengthEpisode = make([]float64, 0, len(env.QueueLengths()))
	for _, q := range env.QueueLengths() {
		s.QueueLengthEpisode = append(s.QueueLengthEpisode, float64(q))
	}
	logging.Info("Test episode simulated", logging.Test, "seed", seed, "steps", env.Step())
	return time.Since(start), nil
}
