package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/zeu5/traffic-signal-rl/config"
	"github.com/zeu5/traffic-signal-rl/logging"
	"github.com/zeu5/traffic-signal-rl/report"
	"github.com/zeu5/traffic-signal-rl/rl"
	"github.com/zeu5/traffic-signal-rl/storage"
	"github.com/zeu5/traffic-signal-rl/sumo"
	"github.com/zeu5/traffic-signal-rl/util"
	"github.com/zeu5/traffic-signal-rl/visualization"
)

// TrainingSettingsFile is the name the settings are copied under in a run directory
const TrainingSettingsFile = "training_settings.ini"

// plots written at the end of training
var trainingPlots = []struct {
	name, xlabel, ylabel string
	series               func(*rl.TrainingSimulation) []float64
}{
	{"reward", "Episode", "Cumulative negative reward", func(s *rl.TrainingSimulation) []float64 { return s.RewardStore }},
	{"delay", "Episode", "Cumulative delay (s)", func(s *rl.TrainingSimulation) []float64 { return s.CumulativeWaitStore }},
	{"queue", "Episode", "Average queue length (vehicles)", func(s *rl.TrainingSimulation) []float64 { return s.AvgQueueLengthStore }},
}

func TrainCommand() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "train",
		Short: "Train a new model version and publish its artifacts",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, done := interruptible(context.Background())
			defer done()
			return runTrain(ctx, configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", TrainingSettingsFile, "Training settings file")
	return cmd
}

func runTrain(ctx context.Context, configPath string) error {
	cfg, err := config.LoadTraining(configPath)
	if err != nil {
		return err
	}
	path, version, err := util.NewVersionedDir(cfg.Dir.ModelsPathName)
	if err != nil {
		return err
	}

	stopProfiling, err := startProfiling(path)
	if err != nil {
		return err
	}
	defer stopProfiling()

	store, err := openStore(cfg.S3, cfg.Storage)
	if err != nil {
		logging.Error("Could not open object store, artifacts stay local", logging.Storage, "error", err)
		store = nil
	}
	publisher := storage.NewPublisher(store)

	seed := uint64(time.Now().UnixNano())
	model, err := rl.NewNetwork(rl.NetworkConfig{
		NumLayers:    cfg.Model.NumLayers,
		WidthLayers:  cfg.Model.WidthLayers,
		InputDim:     cfg.Agent.NumStates,
		OutputDim:    cfg.Agent.NumActions,
		LearningRate: cfg.Model.LearningRate,
		Seed:         seed,
	})
	if err != nil {
		return err
	}
	memory := rl.NewMemory(cfg.Memory.SizeMax, cfg.Memory.SizeMin, seed+1)
	generator := &sumo.Generator{MaxSteps: cfg.Simulation.MaxSteps, NCars: cfg.Simulation.NCarsGenerated}
	launch := launcher(cfg.Simulation.GUI, cfg.Simulation.MaxSteps, cfg.Dir, cfg.Sumo)
	vis := visualization.New(path, 96)

	simulation := rl.NewTrainingSimulation(model, memory, launch, generator, rl.TrainingConfig{
		SimulationConfig: rl.SimulationConfig{
			MaxSteps:       cfg.Simulation.MaxSteps,
			GreenDuration:  cfg.Simulation.GreenDuration,
			YellowDuration: cfg.Simulation.YellowDuration,
			RoutesFile:     cfg.Sumo.RoutesFile,
		},
		NumActions:     cfg.Agent.NumActions,
		Gamma:          cfg.Agent.Gamma,
		TrainingEpochs: cfg.Model.TrainingEpochs,
		BatchSize:      cfg.Model.BatchSize,
	})

	total := cfg.Simulation.TotalEpisodes
	progress := report.NewProgress(nil, total)
	sinks, closeSinks := openSinks(ctx, cfg.Report, progress)
	defer closeSinks()

	run := report.NewRun(report.ModeTrain, path, total)
	_ = sinks.Start(ctx, run)

	timestampStart := time.Now()
	for episode := 0; episode < total; episode++ {
		epsilon := rl.EpsilonFor(episode, total)
		progress.Simulating(episode, epsilon)
		simTime, trainTime, err := simulation.Run(ctx, episode, epsilon)
		if err != nil {
			finishRun(sinks, run.ID, err)
			return fmt.Errorf("episode %d: %w", episode+1, err)
		}
		stats := simulation.Last()
		logging.Debug("Episode done", logging.Train, "episode", episode+1,
			"sim_time", simTime, "train_time", trainTime, "total", simTime+trainTime)
		_ = sinks.Episode(ctx, report.Episode{
			RunID:          run.ID,
			Episode:        episode,
			Epsilon:        epsilon,
			Reward:         stats.Reward,
			CumulativeWait: stats.CumulativeWait,
			AvgQueueLength: stats.AvgQueueLength,
			SimSeconds:     simTime.Seconds(),
			TrainSeconds:   trainTime.Seconds(),
		})
	}

	logging.Info("Training finished", logging.Train,
		"start", timestampStart.Format(time.DateTime), "end", time.Now().Format(time.DateTime), "session", path)

	err = saveTraining(model, simulation, vis, configPath, path)
	finishRun(sinks, run.ID, err)
	if err != nil {
		return err
	}

	// Uploads run on a fresh context so an interrupt after training still ships the model
	publishTraining(context.Background(), publisher, cfg.S3.Prefix, version, path)
	logging.Info("Published run artifacts", logging.Storage, "uploaded", publisher.Uploaded(), "failed", publisher.Failed())
	return nil
}

func saveTraining(model *rl.Network, simulation *rl.TrainingSimulation, vis *visualization.Visualization, configPath, path string) error {
	if err := model.Save(path); err != nil {
		return fmt.Errorf("save model: %w", err)
	}
	if err := util.CopyFile(configPath, filepath.Join(path, TrainingSettingsFile)); err != nil {
		return fmt.Errorf("copy settings: %w", err)
	}
	for _, p := range trainingPlots {
		if err := vis.SaveDataAndPlot(p.series(simulation), p.name, p.xlabel, p.ylabel); err != nil {
			return fmt.Errorf("plot %s: %w", p.name, err)
		}
	}
	return nil
}

func publishTraining(ctx context.Context, publisher *storage.Publisher, prefix string, version int, path string) {
	files := []string{rl.ModelFile, rl.StructureFile, TrainingSettingsFile}
	for _, p := range trainingPlots {
		files = append(files, visualization.PlotFile(p.name), visualization.DataFile(p.name))
	}
	for _, f := range files {
		local := filepath.Join(path, f)
		if _, err := os.Stat(local); err != nil && f == rl.ModelFile {
			logging.Error("Model file not found, ensure it was saved correctly", logging.Storage, "path", local)
			continue
		}
		publisher.Publish(ctx, local, runKey(prefix, version, f))
	}
}
