package commands

import (
	"context"
	"errors"
	"fmt"
	"path"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/zeu5/traffic-signal-rl/config"
	"github.com/zeu5/traffic-signal-rl/logging"
	"github.com/zeu5/traffic-signal-rl/report"
	"github.com/zeu5/traffic-signal-rl/rl"
	"github.com/zeu5/traffic-signal-rl/storage"
	"github.com/zeu5/traffic-signal-rl/sumo"
	"github.com/zeu5/traffic-signal-rl/util"
	"github.com/zeu5/traffic-signal-rl/visualization"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

const TestingSettingsFile = "testing_settings.ini"

// ErrNoModel is returned when neither the bucket nor the model directory holds a model
var ErrNoModel = errors.New("no model file available")

func TestCommand() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "test",
		Short: "Run one greedy test episode with a trained model",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, done := interruptible(context.Background())
			defer done()
			return runTest(ctx, configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", TestingSettingsFile, "Testing settings file")
	return cmd
}

// modelRequest is where the model under test is looked for: the configured key,
// or the key training publishes to, then the local run directory
func modelRequest(cfg *config.TestingConfig, modelDir string) storage.ModelRequest {
	key := cfg.S3.ModelKey
	if key == "" {
		key = runKey(cfg.S3.Prefix, cfg.Dir.ModelToTest, rl.ModelFile)
	}
	return storage.ModelRequest{
		Key:        key,
		RemotePath: filepath.Join(modelDir, path.Base(key)),
		LocalPath:  filepath.Join(modelDir, rl.ModelFile),
	}
}

func runTest(ctx context.Context, configPath string) error {
	cfg, err := config.LoadTesting(configPath)
	if err != nil {
		return err
	}
	modelDir, testDir, err := util.TestDirs(cfg.Dir.ModelsPathName, cfg.Dir.ModelToTest)
	if err != nil {
		return err
	}
	logging.Info("Prepared test directories", logging.Test, "model_dir", modelDir, "test_dir", testDir)

	stopProfiling, err := startProfiling(testDir)
	if err != nil {
		return err
	}
	defer stopProfiling()

	store, err := openStore(cfg.S3, cfg.Storage)
	if err != nil {
		logging.Error("Could not open object store", logging.Storage, "error", err)
		store = nil
	}
	resolution := storage.ResolveModel(ctx, store, modelRequest(cfg, modelDir))
	if !resolution.Found() {
		return ErrNoModel
	}
	logging.Info("Using model", logging.Test, "source", resolution.Source, "path", resolution.Path)

	model, err := rl.LoadNetwork(resolution.Path, 0)
	if err != nil {
		return fmt.Errorf("load model: %w", err)
	}
	if model.InputDim() != cfg.Agent.NumStates || model.OutputDim() != cfg.Agent.NumActions {
		return fmt.Errorf("model %s maps %d states to %d actions, settings expect %d to %d",
			resolution.Path, model.InputDim(), model.OutputDim(), cfg.Agent.NumStates, cfg.Agent.NumActions)
	}

	generator := &sumo.Generator{MaxSteps: cfg.Simulation.MaxSteps, NCars: cfg.Simulation.NCarsGenerated}
	launch := launcher(cfg.Simulation.GUI, cfg.Simulation.MaxSteps, cfg.Dir, cfg.Sumo)
	vis := visualization.New(testDir, 96)
	simulation := rl.NewTestingSimulation(model, launch, generator, rl.SimulationConfig{
		MaxSteps:       cfg.Simulation.MaxSteps,
		GreenDuration:  cfg.Simulation.GreenDuration,
		YellowDuration: cfg.Simulation.YellowDuration,
		RoutesFile:     cfg.Sumo.RoutesFile,
	})

	progress := report.NewProgress(nil, 1)
	sinks, closeSinks := openSinks(ctx, cfg.Report, progress)
	defer closeSinks()
	run := report.NewRun(report.ModeTest, testDir, 1)
	_ = sinks.Start(ctx, run)

	progress.Simulating(0, 0)
	simTime, err := simulation.Run(ctx, cfg.Simulation.EpisodeSeed)
	if err != nil {
		finishRun(sinks, run.ID, err)
		return fmt.Errorf("test episode: %w", err)
	}
	ep := report.Episode{RunID: run.ID, SimSeconds: simTime.Seconds()}
	if len(simulation.RewardEpisode) > 0 {
		ep.Reward = floats.Sum(simulation.RewardEpisode)
	}
	if len(simulation.QueueLengthEpisode) > 0 {
		ep.AvgQueueLength = stat.Mean(simulation.QueueLengthEpisode, nil)
	}
	_ = sinks.Episode(ctx, ep)
	logging.Info("Testing info saved", logging.Test, "path", testDir, "sim_time", simTime)

	err = saveTesting(simulation, vis, configPath, testDir)
	finishRun(sinks, run.ID, err)
	return err
}

func saveTesting(simulation *rl.TestingSimulation, vis *visualization.Visualization, configPath, testDir string) error {
	if err := util.CopyFile(configPath, filepath.Join(testDir, TestingSettingsFile)); err != nil {
		return fmt.Errorf("copy settings: %w", err)
	}
	if err := vis.SaveDataAndPlot(simulation.RewardEpisode, "reward", "Action step", "Reward"); err != nil {
		return fmt.Errorf("plot reward: %w", err)
	}
	if err := vis.SaveDataAndPlot(simulation.QueueLengthEpisode, "queue", "Step", "Queue length (vehicles)"); err != nil {
		return fmt.Errorf("plot queue: %w", err)
	}
	return nil
}
