// Package config loads the YAML experiment configuration.
package config

import (
	"fmt"
	"os"
	"runtime"

	"gopkg.in/yaml.v3"
)

// Config is the experiment configuration. Key names follow the conventional
// uppercase layout of experiment YAML files.
type Config struct {
	Device  string    `yaml:"DEVICE"`
	SaveDir string    `yaml:"SAVE_DIR"`
	Model   Model     `yaml:"MODEL"`
	Dataset Dataset   `yaml:"DATASET"`
	Train   Train     `yaml:"TRAIN"`
	Eval    Eval      `yaml:"EVAL"`
	KD      KD        `yaml:"KD"`
	Optim   Optimizer `yaml:"OPTIMIZER"`
	Sched   Scheduler `yaml:"SCHEDULER"`
}

type Model struct {
	Name    string `yaml:"NAME"`
	Variant string `yaml:"VARIANT"`
}

type Dataset struct {
	Root string `yaml:"ROOT"`
	Name string `yaml:"NAME"`
}

type Train struct {
	Epochs       int   `yaml:"EPOCHS"`
	BatchSize    int   `yaml:"BATCH_SIZE"`
	ImageSize    []int `yaml:"IMAGE_SIZE"`
	DDP          bool  `yaml:"DDP"`
	World        int   `yaml:"WORLD"`
	AMP          bool  `yaml:"AMP"`
	Workers      int   `yaml:"WORKERS"`
	EvalInterval int   `yaml:"EVAL_INTERVAL"`
	Seed         int64 `yaml:"SEED"`
}

type Eval struct {
	BatchSize int   `yaml:"BATCH_SIZE"`
	ImageSize []int `yaml:"IMAGE_SIZE"`
}

type KD struct {
	Enable  bool    `yaml:"ENABLE"`
	Alpha   float64 `yaml:"ALPHA"`
	Temp    float64 `yaml:"TEMP"`
	Teacher Teacher `yaml:"TEACHER"`
}

type Teacher struct {
	Name       string `yaml:"NAME"`
	Variant    string `yaml:"VARIANT"`
	Pretrained string `yaml:"PRETRAINED"`
}

type Optimizer struct {
	Name     string  `yaml:"NAME"`
	LR       float64 `yaml:"LR"`
	Decay    float64 `yaml:"DECAY"`
	Momentum float64 `yaml:"MOMENTUM"`
}

type Scheduler struct {
	Name   string  `yaml:"NAME"`
	Step   int     `yaml:"STEP"`
	Gamma  float64 `yaml:"GAMMA"`
	Warmup int     `yaml:"WARMUP"`
	MinLR  float64 `yaml:"MIN_LR"`
}

// Load reads and validates a config file, filling defaults for unset values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	cfg := new(Config)
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Device == "" {
		c.Device = "cpu"
	}
	if c.SaveDir == "" {
		c.SaveDir = "output"
	}
	if c.Dataset.Name == "" {
		c.Dataset.Name = "imagefolder"
	}
	if c.Train.EvalInterval <= 0 {
		c.Train.EvalInterval = 1
	}
	if c.Train.Workers <= 0 {
		c.Train.Workers = runtime.NumCPU()
	}
	if c.Train.World <= 0 {
		c.Train.World = runtime.NumCPU() / 2
		if c.Train.World < 2 {
			c.Train.World = 2
		}
	}
	if c.Eval.BatchSize <= 0 {
		c.Eval.BatchSize = c.Train.BatchSize
	}
	if len(c.Eval.ImageSize) == 0 {
		c.Eval.ImageSize = c.Train.ImageSize
	}
	if c.KD.Enable {
		if c.KD.Alpha == 0 {
			c.KD.Alpha = 0.5
		}
		if c.KD.Temp == 0 {
			c.KD.Temp = 4
		}
	}
	if c.Optim.Name == "" {
		c.Optim.Name = "sgd"
	}
	if c.Sched.Name == "" {
		c.Sched.Name = "steplr"
	}
}

// Validate checks fields which have no usable zero value.
func (c *Config) Validate() error {
	if c.Model.Name == "" {
		return fmt.Errorf("MODEL.NAME is required")
	}
	if c.Dataset.Root == "" {
		return fmt.Errorf("DATASET.ROOT is required")
	}
	if c.Train.Epochs <= 0 {
		return fmt.Errorf("TRAIN.EPOCHS must be positive")
	}
	if c.Train.BatchSize <= 0 {
		return fmt.Errorf("TRAIN.BATCH_SIZE must be positive")
	}
	if err := checkImageSize(c.Train.ImageSize, "TRAIN"); err != nil {
		return err
	}
	if err := checkImageSize(c.Eval.ImageSize, "EVAL"); err != nil {
		return err
	}
	if c.Optim.LR <= 0 {
		return fmt.Errorf("OPTIMIZER.LR must be positive")
	}
	if c.KD.Enable {
		if c.KD.Alpha < 0 || c.KD.Alpha > 1 {
			return fmt.Errorf("KD.ALPHA must be in [0,1]")
		}
		if c.KD.Temp <= 0 {
			return fmt.Errorf("KD.TEMP must be positive")
		}
		if c.KD.Teacher.Pretrained == "" {
			return fmt.Errorf("KD.TEACHER.PRETRAINED is required when KD is enabled")
		}
	}
	return nil
}

func checkImageSize(size []int, section string) error {
	if len(size) != 2 || size[0] <= 0 || size[1] <= 0 {
		return fmt.Errorf("%s.IMAGE_SIZE must be [height, width]", section)
	}
	return nil
}

// String dumps the resolved config back as YAML for the run log.
func (c *Config) String() string {
	out, err := yaml.Marshal(c)
	if err != nil {
		return err.Error()
	}
	return string(out)
}
