package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
	"github.com/zeu5/traffic-signal-rl/intersection"
	"github.com/zeu5/traffic-signal-rl/logging"
)

// EnvPrefix prefixes the environment variables overriding settings keys,
// e.g. TSC_S3_BUCKET_NAME overrides [s3] bucket_name
const EnvPrefix = "TSC"

type Simulation struct {
	GUI            bool
	TotalEpisodes  int
	MaxSteps       int
	NCarsGenerated int
	GreenDuration  int
	YellowDuration int
	EpisodeSeed    int64
}

type Model struct {
	NumLayers      int
	WidthLayers    int
	BatchSize      int
	LearningRate   float64
	TrainingEpochs int
}

type Memory struct {
	SizeMin int
	SizeMax int
}

type Agent struct {
	NumStates  int
	NumActions int
	Gamma      float64
}

type Dir struct {
	ModelsPathName  string
	SumocfgFileName string
	ModelToTest     int
}

// S3 holds the bucket and keys artifacts are exchanged with
type S3 struct {
	Enabled    bool
	BucketName string
	Prefix     string
	ModelKey   string
}

type Storage struct {
	Backend   string
	Region    string
	Endpoint  string
	PathStyle bool
}

type Sumo struct {
	BinaryDir  string
	ConfigDir  string
	Port       int
	RoutesFile string
}

type Report struct {
	RedisAddr  string
	RedisKey   string
	StatusAddr string
	LedgerPath string
}

// TrainingConfig is the content of training_settings.ini
type TrainingConfig struct {
	Path       string
	Simulation Simulation
	Model      Model
	Memory     Memory
	Agent      Agent
	Dir        Dir
	S3         S3
	Storage    Storage
	Sumo       Sumo
	Report     Report
}

// TestingConfig is the content of testing_settings.ini
type TestingConfig struct {
	Path       string
	Simulation Simulation
	Agent      Agent
	Dir        Dir
	S3         S3
	Storage    Storage
	Sumo       Sumo
	Report     Report
}

// ValidationError names the settings key holding an unusable value
type ValidationError struct {
	Key    string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid setting %s: %s", e.Key, e.Reason)
}

func newViper(path string) (*viper.Viper, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("ini")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("simulation.gui", false)
	v.SetDefault("simulation.green_duration", 10)
	v.SetDefault("simulation.yellow_duration", 4)
	v.SetDefault("dir.models_path_name", "models")
	v.SetDefault("dir.sumocfg_file_name", "sumo_config.sumocfg")
	v.SetDefault("s3.prefix", "models")
	v.SetDefault("s3.enabled", true)
	v.SetDefault("sumo.config_dir", "intersection")
	v.SetDefault("sumo.routes_file", "intersection/episode_routes.rou.xml")
	v.SetDefault("storage.region", "us-east-1")
	v.SetDefault("report.redis_key", "tsc:episodes")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read settings %s: %w", path, err)
	}
	return v, nil
}

func readShared(v *viper.Viper) (Dir, S3, Storage, Sumo, Report) {
	dir := Dir{
		ModelsPathName:  v.GetString("dir.models_path_name"),
		SumocfgFileName: v.GetString("dir.sumocfg_file_name"),
		ModelToTest:     v.GetInt("dir.model_to_test"),
	}
	s3 := S3{
		Enabled:    v.GetBool("s3.enabled"),
		BucketName: v.GetString("s3.bucket_name"),
		Prefix:     strings.Trim(v.GetString("s3.prefix"), "/"),
		ModelKey:   v.GetString("s3.model_key"),
	}
	storage := Storage{
		Backend:   v.GetString("storage.backend"),
		Region:    v.GetString("storage.region"),
		Endpoint:  v.GetString("storage.endpoint"),
		PathStyle: v.GetBool("storage.path_style"),
	}
	sumo := Sumo{
		BinaryDir:  v.GetString("sumo.binary_dir"),
		ConfigDir:  v.GetString("sumo.config_dir"),
		Port:       v.GetInt("sumo.port"),
		RoutesFile: v.GetString("sumo.routes_file"),
	}
	report := Report{
		RedisAddr:  v.GetString("report.redis_addr"),
		RedisKey:   v.GetString("report.redis_key"),
		StatusAddr: v.GetString("report.status_addr"),
		LedgerPath: v.GetString("report.ledger_path"),
	}
	return dir, s3, storage, sumo, report
}

// LoadTraining reads and validates a training settings file
func LoadTraining(path string) (*TrainingConfig, error) {
	v, err := newViper(path)
	if err != nil {
		return nil, err
	}

	cfg := &TrainingConfig{
		Path: path,
		Simulation: Simulation{
			GUI:            v.GetBool("simulation.gui"),
			TotalEpisodes:  v.GetInt("simulation.total_episodes"),
			MaxSteps:       v.GetInt("simulation.max_steps"),
			NCarsGenerated: v.GetInt("simulation.n_cars_generated"),
			GreenDuration:  v.GetInt("simulation.green_duration"),
			YellowDuration: v.GetInt("simulation.yellow_duration"),
		},
		Model: Model{
			NumLayers:      v.GetInt("model.num_layers"),
			WidthLayers:    v.GetInt("model.width_layers"),
			BatchSize:      v.GetInt("model.batch_size"),
			LearningRate:   v.GetFloat64("model.learning_rate"),
			TrainingEpochs: v.GetInt("model.training_epochs"),
		},
		Memory: Memory{
			SizeMin: v.GetInt("memory.memory_size_min"),
			SizeMax: v.GetInt("memory.memory_size_max"),
		},
		Agent: Agent{
			NumStates:  v.GetInt("agent.num_states"),
			NumActions: v.GetInt("agent.num_actions"),
			Gamma:      v.GetFloat64("agent.gamma"),
		},
	}
	cfg.Dir, cfg.S3, cfg.Storage, cfg.Sumo, cfg.Report = readShared(v)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logging.Info("Loaded training configuration", logging.Config, "path", path,
		"episodes", cfg.Simulation.TotalEpisodes, "max_steps", cfg.Simulation.MaxSteps)
	return cfg, nil
}

// LoadTesting reads and validates a testing settings file
func LoadTesting(path string) (*TestingConfig, error) {
	v, err := newViper(path)
	if err != nil {
		return nil, err
	}
	v.SetDefault("simulation.gui", true)

	cfg := &TestingConfig{
		Path: path,
		Simulation: Simulation{
			GUI:            v.GetBool("simulation.gui"),
			MaxSteps:       v.GetInt("simulation.max_steps"),
			NCarsGenerated: v.GetInt("simulation.n_cars_generated"),
			GreenDuration:  v.GetInt("simulation.green_duration"),
			YellowDuration: v.GetInt("simulation.yellow_duration"),
			EpisodeSeed:    v.GetInt64("simulation.episode_seed"),
		},
		Agent: Agent{
			NumStates:  v.GetInt("agent.num_states"),
			NumActions: v.GetInt("agent.num_actions"),
		},
	}
	cfg.Dir, cfg.S3, cfg.Storage, cfg.Sumo, cfg.Report = readShared(v)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logging.Info("Loaded testing configuration", logging.Config, "path", path,
		"model_to_test", cfg.Dir.ModelToTest, "bucket", cfg.S3.BucketName)
	return cfg, nil
}

func positive(key string, value int) error {
	if value <= 0 {
		return &ValidationError{Key: key, Reason: fmt.Sprintf("must be positive, got %d", value)}
	}
	return nil
}

func (s Simulation) validate(training bool) error {
	errs := []error{
		positive("simulation.max_steps", s.MaxSteps),
		positive("simulation.n_cars_generated", s.NCarsGenerated),
		positive("simulation.green_duration", s.GreenDuration),
		positive("simulation.yellow_duration", s.YellowDuration),
	}
	if training {
		errs = append(errs, positive("simulation.total_episodes", s.TotalEpisodes))
	}
	return errors.Join(errs...)
}

func (a Agent) validate(training bool) error {
	var errs []error
	if a.NumStates != intersection.NumCells {
		errs = append(errs, &ValidationError{Key: "agent.num_states", Reason: fmt.Sprintf("must be %d, the size of the intersection state, got %d", intersection.NumCells, a.NumStates)})
	}
	if a.NumActions < 1 || a.NumActions > intersection.NumActions {
		errs = append(errs, &ValidationError{Key: "agent.num_actions", Reason: fmt.Sprintf("must be between 1 and %d green phases, got %d", intersection.NumActions, a.NumActions)})
	}
	if training && (a.Gamma < 0 || a.Gamma > 1) {
		errs = append(errs, &ValidationError{Key: "agent.gamma", Reason: fmt.Sprintf("must be in [0, 1], got %g", a.Gamma)})
	}
	return errors.Join(errs...)
}

func (c *TrainingConfig) Validate() error {
	errs := []error{
		c.Simulation.validate(true),
		c.Agent.validate(true),
		positive("model.num_layers", c.Model.NumLayers),
		positive("model.width_layers", c.Model.WidthLayers),
		positive("model.batch_size", c.Model.BatchSize),
		positive("memory.memory_size_max", c.Memory.SizeMax),
	}
	if c.Model.TrainingEpochs < 0 {
		errs = append(errs, &ValidationError{Key: "model.training_epochs", Reason: "must not be negative"})
	}
	if c.Model.LearningRate <= 0 {
		errs = append(errs, &ValidationError{Key: "model.learning_rate", Reason: "must be positive"})
	}
	if c.Memory.SizeMin < 0 || c.Memory.SizeMin > c.Memory.SizeMax {
		errs = append(errs, &ValidationError{Key: "memory.memory_size_min", Reason: "must be between 0 and memory_size_max"})
	}
	if c.Dir.ModelsPathName == "" {
		errs = append(errs, &ValidationError{Key: "dir.models_path_name", Reason: "must not be empty"})
	}
	return errors.Join(errs...)
}

func (c *TestingConfig) Validate() error {
	errs := []error{
		c.Simulation.validate(false),
		c.Agent.validate(false),
		positive("dir.model_to_test", c.Dir.ModelToTest),
	}
	if c.Dir.ModelsPathName == "" {
		errs = append(errs, &ValidationError{Key: "dir.models_path_name", Reason: "must not be empty"})
	}
	return errors.Join(errs...)
}
