package commands

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zeu5/traffic-signal-rl/config"
	"github.com/zeu5/traffic-signal-rl/intersection"
	"github.com/zeu5/traffic-signal-rl/logging"
	"github.com/zeu5/traffic-signal-rl/report"
	"github.com/zeu5/traffic-signal-rl/rl"
	"github.com/zeu5/traffic-signal-rl/storage"
	"github.com/zeu5/traffic-signal-rl/sumo"
	"github.com/zeu5/traffic-signal-rl/visualization"
)

func TestMain(m *testing.M) {
	logging.Setup(os.Stderr, "error", "text")
	os.Exit(m.Run())
}

const testingTemplate = `[simulation]
gui = False
max_steps = 100
n_cars_generated = 10
episode_seed = 7
green_duration = 10
yellow_duration = 4

[agent]
num_states = 80
num_actions = 4

[dir]
models_path_name = %s
model_to_test = 1

[s3]
enabled = False

[sumo]
routes_file = %s
`

const trainingTemplate = `[simulation]
total_episodes = 2
max_steps = 100
n_cars_generated = 10

[model]
num_layers = 1
width_layers = 8
batch_size = 4
learning_rate = 0.001
training_epochs = 1

[memory]
memory_size_min = 1
memory_size_max = 50

[agent]
num_states = 80
num_actions = 4
gamma = 0.75

[dir]
models_path_name = %s

[s3]
enabled = False

[sumo]
routes_file = %s

[report]
ledger_path = %s
`

func writeSettings(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0644))
	return p
}

func TestRootCommandHasSubcommands(t *testing.T) {
	root := GetRootCommand()
	names := make([]string, 0)
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.Subset(t, names, []string{"train", "test", "runs", "remote"})
	assert.NotNil(t, root.PersistentFlags().Lookup("log-level"))
	assert.NotNil(t, root.PersistentFlags().Lookup("cpuprofile"))
}

func TestRunKey(t *testing.T) {
	assert.Equal(t, "models/model_3/trained_model.bin", runKey("models", 3, rl.ModelFile))
	assert.Equal(t, "model_1/plot_reward.png", runKey("", 1, "plot_reward.png"))
}

func TestModelRequest(t *testing.T) {
	cfg := &config.TestingConfig{
		Dir: config.Dir{ModelsPathName: "models", ModelToTest: 2},
		S3:  config.S3{Prefix: "models"},
	}
	req := modelRequest(cfg, "models/model_2")
	assert.Equal(t, "models/model_2/trained_model.bin", req.Key)
	assert.Equal(t, filepath.Join("models/model_2", rl.ModelFile), req.RemotePath)
	assert.Equal(t, filepath.Join("models/model_2", rl.ModelFile), req.LocalPath)

	cfg.S3.ModelKey = "archive/best_model.bin"
	req = modelRequest(cfg, "models/model_2")
	assert.Equal(t, "archive/best_model.bin", req.Key)
	assert.Equal(t, filepath.Join("models/model_2", "best_model.bin"), req.RemotePath)
	assert.Equal(t, filepath.Join("models/model_2", rl.ModelFile), req.LocalPath)
}

func TestOpenStore(t *testing.T) {
	store, err := openStore(config.S3{Enabled: false, BucketName: "b"}, config.Storage{})
	assert.NoError(t, err)
	assert.Nil(t, store)

	store, err = openStore(config.S3{Enabled: true}, config.Storage{})
	assert.NoError(t, err)
	assert.Nil(t, store)

	store, err = openStore(config.S3{Enabled: true, BucketName: "b"}, config.Storage{Backend: "memory"})
	require.NoError(t, err)
	assert.Equal(t, "b", store.Bucket())

	_, err = openStore(config.S3{Enabled: true, BucketName: "b"}, config.Storage{Backend: "ftp"})
	assert.Error(t, err)
}

func TestListRemote(t *testing.T) {
	store := storage.NewMemoryStore("tsc")
	store.Put("models/model_1/trained_model.bin", make([]byte, 2048))
	store.Put("models/model_1/plot_reward.png", []byte("png"))
	store.Put("models/model_2/trained_model.bin", []byte("x"))

	var out bytes.Buffer
	require.NoError(t, listRemote(context.Background(), store, "models", rl.ModelFile, &out))
	assert.Contains(t, out.String(), "s3://tsc/models/model_1/trained_model.bin")
	assert.Contains(t, out.String(), "s3://tsc/models/model_2/trained_model.bin")
	assert.Contains(t, out.String(), "2.0 kB")
	assert.NotContains(t, out.String(), "plot_reward")
}

func TestListRuns(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "runs.db")

	var out bytes.Buffer
	assert.Error(t, listRuns(ctx, path, &out))

	l := report.NewLedger(path)
	require.NoError(t, l.Init(ctx))
	run := report.NewRun(report.ModeTrain, "models/model_1", 2)
	require.NoError(t, l.Start(ctx, run))
	require.NoError(t, l.Episode(ctx, report.Episode{RunID: run.ID, Episode: 0}))
	require.NoError(t, l.Finish(ctx, run.ID, report.StatusCompleted))
	require.NoError(t, l.Close())

	require.NoError(t, listRuns(ctx, path, &out))
	assert.Contains(t, out.String(), run.ID)
	assert.Contains(t, out.String(), "1/2")
	assert.Contains(t, out.String(), "models/model_1")
}

func TestInterruptibleCancelsOnDone(t *testing.T) {
	ctx, done := interruptible(context.Background())
	assert.NoError(t, ctx.Err())
	done()
	<-ctx.Done()
	assert.ErrorIs(t, ctx.Err(), context.Canceled)
}

func TestStartProfiling(t *testing.T) {
	dir := t.TempDir()
	cpuprofile, memprofile = "cpu.prof", "mem.prof"
	t.Cleanup(func() { cpuprofile, memprofile = "", "" })

	stop, err := startProfiling(dir)
	require.NoError(t, err)
	stop()
	assert.FileExists(t, filepath.Join(dir, "cpu.prof"))
	assert.FileExists(t, filepath.Join(dir, "mem.prof"))
}

func TestRunTestWithoutModel(t *testing.T) {
	dir := t.TempDir()
	models := filepath.Join(dir, "models")
	settings := writeSettings(t, dir, TestingSettingsFile,
		fmt.Sprintf(testingTemplate, models, filepath.Join(dir, "routes.rou.xml")))

	err := runTest(context.Background(), settings)
	assert.ErrorIs(t, err, ErrNoModel)
	assert.DirExists(t, filepath.Join(models, "model_1", "test"))
}

func TestRunTestUsesLocalModel(t *testing.T) {
	t.Setenv("SUMO_HOME", "")
	dir := t.TempDir()
	models := filepath.Join(dir, "models")
	settings := writeSettings(t, dir, TestingSettingsFile,
		fmt.Sprintf(testingTemplate, models, filepath.Join(dir, "routes.rou.xml")))

	modelDir := filepath.Join(models, "model_1")
	require.NoError(t, os.MkdirAll(modelDir, 0755))
	n, err := rl.NewNetwork(rl.NetworkConfig{NumLayers: 1, WidthLayers: 8, InputDim: 80, OutputDim: 4, LearningRate: 0.001, Seed: 1})
	require.NoError(t, err)
	require.NoError(t, n.Save(modelDir))

	// the model resolves, the simulator cannot start
	err = runTest(context.Background(), settings)
	assert.ErrorIs(t, err, sumo.ErrNoSumoHome)
	assert.FileExists(t, filepath.Join(dir, "routes.rou.xml"))
}

func TestRunTestRejectsMismatchedModel(t *testing.T) {
	dir := t.TempDir()
	models := filepath.Join(dir, "models")
	settings := writeSettings(t, dir, TestingSettingsFile,
		fmt.Sprintf(testingTemplate, models, filepath.Join(dir, "routes.rou.xml")))

	modelDir := filepath.Join(models, "model_1")
	require.NoError(t, os.MkdirAll(modelDir, 0755))
	n, err := rl.NewNetwork(rl.NetworkConfig{NumLayers: 1, WidthLayers: 8, InputDim: 10, OutputDim: 4, LearningRate: 0.001, Seed: 1})
	require.NoError(t, err)
	require.NoError(t, n.Save(modelDir))

	err = runTest(context.Background(), settings)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "settings expect 80 to 4")
}

func TestRunTrainFailsWithoutSimulator(t *testing.T) {
	t.Setenv("SUMO_HOME", "")
	dir := t.TempDir()
	models := filepath.Join(dir, "models")
	ledgerPath := filepath.Join(dir, "runs.db")
	settings := writeSettings(t, dir, TrainingSettingsFile,
		fmt.Sprintf(trainingTemplate, models, filepath.Join(dir, "routes.rou.xml"), ledgerPath))

	err := runTrain(context.Background(), settings)
	assert.ErrorIs(t, err, sumo.ErrNoSumoHome)
	assert.DirExists(t, filepath.Join(models, "model_1"))

	ctx := context.Background()
	l := report.NewLedger(ledgerPath)
	require.NoError(t, l.Init(ctx))
	defer l.Close()
	runs, err := l.ListRuns(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, report.StatusFailed, runs[0].Status)
	assert.Equal(t, report.ModeTrain, runs[0].Mode)
}

func TestRunTrainBadSettings(t *testing.T) {
	err := runTrain(context.Background(), filepath.Join(t.TempDir(), "missing.ini"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read settings")
}

// haltingConn is a junction with one car queued on the north arm
type haltingConn struct {
	steps int
}

func (h *haltingConn) VehicleIDs() ([]string, error) { return []string{"n1"}, nil }
func (h *haltingConn) LanePosition(string) (float64, error) { return 740, nil }
func (h *haltingConn) LaneID(string) (string, error) { return "N2TL_1", nil }
func (h *haltingConn) RoadID(string) (string, error) { return "N2TL", nil }
func (h *haltingConn) AccumulatedWaitingTime(string) (float64, error) {
	return float64(h.steps), nil
}
func (h *haltingConn) LastStepHaltingNumber(edge string) (int, error) {
	if edge == "N2TL" {
		return 1, nil
	}
	return 0, nil
}
func (h *haltingConn) SetPhase(string, int) error { return nil }
func (h *haltingConn) SimulationStep() error { h.steps++; return nil }
func (h *haltingConn) Close() error { return nil }

func withFakeSimulator(t *testing.T) {
	t.Helper()
	prev := launcher
	launcher = func(bool, int, config.Dir, config.Sumo) rl.Launcher {
		return rl.LauncherFunc(func(context.Context) (intersection.Conn, error) { return &haltingConn{}, nil })
	}
	t.Cleanup(func() { launcher = prev })
}

func withStore(t *testing.T, store storage.ObjectStore) {
	t.Helper()
	prev := openStore
	openStore = func(config.S3, config.Storage) (storage.ObjectStore, error) { return store, nil }
	t.Cleanup(func() { openStore = prev })
}

func trainingRun(t *testing.T) (settings, models, ledgerPath string) {
	t.Helper()
	dir := t.TempDir()
	models = filepath.Join(dir, "models")
	ledgerPath = filepath.Join(dir, "runs.db")
	settings = writeSettings(t, dir, TrainingSettingsFile,
		fmt.Sprintf(trainingTemplate, models, filepath.Join(dir, "routes.rou.xml"), ledgerPath))
	return settings, models, ledgerPath
}

func trainingArtifacts() []string {
	files := []string{rl.ModelFile, rl.StructureFile, TrainingSettingsFile}
	for _, name := range []string{"reward", "delay", "queue"} {
		files = append(files, visualization.PlotFile(name), visualization.DataFile(name))
	}
	return files
}

func TestRunTrainPublishesArtifacts(t *testing.T) {
	withFakeSimulator(t)
	store := storage.NewMemoryStore("tsc")
	withStore(t, store)
	settings, models, _ := trainingRun(t)

	require.NoError(t, runTrain(context.Background(), settings))

	runDir := filepath.Join(models, "model_1")
	for _, f := range trainingArtifacts() {
		assert.FileExists(t, filepath.Join(runDir, f))
		_, ok := store.Get("models/model_1/" + f)
		assert.True(t, ok, "missing upload of %s", f)
	}
	objects, err := store.List(context.Background(), "models/", "")
	require.NoError(t, err)
	assert.Len(t, objects, len(trainingArtifacts()))
}

func TestRunTrainSucceedsWhenUploadsFail(t *testing.T) {
	withFakeSimulator(t)
	store := storage.NewMemoryStore("tsc")
	store.UploadErr = fmt.Errorf("%w: NoCredentialProviders: no valid providers in chain", storage.ErrCredentials)
	withStore(t, store)
	settings, models, ledgerPath := trainingRun(t)

	require.NoError(t, runTrain(context.Background(), settings))
	assert.FileExists(t, filepath.Join(models, "model_1", rl.ModelFile))

	objects, err := store.List(context.Background(), "", "")
	require.NoError(t, err)
	assert.Empty(t, objects)

	ctx := context.Background()
	l := report.NewLedger(ledgerPath)
	require.NoError(t, l.Init(ctx))
	defer l.Close()
	runs, err := l.ListRuns(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, report.StatusCompleted, runs[0].Status)
	assert.Equal(t, 2, runs[0].Episodes)
}

func TestPublishTrainingSkipsMissingModel(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, TrainingSettingsFile), []byte("[simulation]"), 0644))
	store := storage.NewMemoryStore("tsc")
	publisher := storage.NewPublisher(store)

	publishTraining(context.Background(), publisher, "runs", 4, dir)

	_, ok := store.Get("runs/model_4/" + TrainingSettingsFile)
	assert.True(t, ok)
	_, ok = store.Get("runs/model_4/" + rl.ModelFile)
	assert.False(t, ok)
	assert.Equal(t, 1, publisher.Uploaded())
	assert.Equal(t, len(trainingArtifacts())-2, publisher.Failed())
}

func TestRunTestWritesResults(t *testing.T) {
	withFakeSimulator(t)
	dir := t.TempDir()
	models := filepath.Join(dir, "models")
	settings := writeSettings(t, dir, TestingSettingsFile,
		fmt.Sprintf(testingTemplate, models, filepath.Join(dir, "routes.rou.xml")))

	modelDir := filepath.Join(models, "model_1")
	require.NoError(t, os.MkdirAll(modelDir, 0755))
	n, err := rl.NewNetwork(rl.NetworkConfig{NumLayers: 1, WidthLayers: 8, InputDim: 80, OutputDim: 4, LearningRate: 0.001, Seed: 1})
	require.NoError(t, err)
	require.NoError(t, n.Save(modelDir))

	require.NoError(t, runTest(context.Background(), settings))
	testDir := filepath.Join(modelDir, "test")
	for _, f := range []string{TestingSettingsFile, visualization.PlotFile("reward"), visualization.PlotFile("queue"), visualization.DataFile("queue")} {
		assert.FileExists(t, filepath.Join(testDir, f))
	}
}
