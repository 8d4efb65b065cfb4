package cli

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/tahsin716/fiberjobs"
)

// FileConfig is the YAML form of the scheduler settings. Zero values keep the
// scheduler defaults.
type FileConfig struct {
	Workers          int           `yaml:"workers"`
	LeafFibers       int           `yaml:"leaf_fibers"`
	GeneralFibers    int           `yaml:"general_fibers"`
	LeafStackSize    int           `yaml:"leaf_stack_size"`
	GeneralStackSize int           `yaml:"general_stack_size"`
	QueueCapacity    int           `yaml:"queue_capacity"`
	Overflow         string        `yaml:"overflow"`
	SpinCount        *int          `yaml:"spin_count"`
	MaxParkTime      time.Duration `yaml:"max_park_time"`
	LockMainThread   *bool         `yaml:"lock_main_thread"`
	LogLevel         string        `yaml:"log_level"`
	MetricsAddr      string        `yaml:"metrics_addr"`
}

// LoadFileConfig reads a YAML config file. Unknown keys are an error.
func LoadFileConfig(path string) (FileConfig, error) {
	var fc FileConfig

	f, err := os.Open(path)
	if err != nil {
		return fc, errors.Wrap(err, "open config")
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&fc); err != nil {
		return fc, errors.Wrapf(err, "parse config %s", path)
	}
	return fc, nil
}

// Options maps the file settings onto scheduler options.
func (fc FileConfig) Options() ([]fiberjobs.Option, error) {
	var opts []fiberjobs.Option

	if fc.Workers > 0 {
		opts = append(opts, fiberjobs.WithNumWorkers(fc.Workers))
	}
	if fc.LeafFibers > 0 {
		opts = append(opts, fiberjobs.WithLeafFibers(fc.LeafFibers))
	}
	if fc.GeneralFibers > 0 {
		opts = append(opts, fiberjobs.WithGeneralFibers(fc.GeneralFibers))
	}
	if fc.LeafStackSize > 0 || fc.GeneralStackSize > 0 {
		def := fiberjobs.DefaultConfig()
		leaf, general := def.LeafStackSize, def.GeneralStackSize
		if fc.LeafStackSize > 0 {
			leaf = fc.LeafStackSize
		}
		if fc.GeneralStackSize > 0 {
			general = fc.GeneralStackSize
		}
		opts = append(opts, fiberjobs.WithStackSizes(leaf, general))
	}
	if fc.QueueCapacity > 0 {
		opts = append(opts, fiberjobs.WithQueueCapacity(fiberjobs.NormalizeQueueCapacity(fc.QueueCapacity)))
	}
	if fc.Overflow != "" {
		s, err := fiberjobs.ParseOverflowStrategy(fc.Overflow)
		if err != nil {
			return nil, errors.Wrap(err, "overflow")
		}
		opts = append(opts, fiberjobs.WithOverflowStrategy(s))
	}
	if fc.SpinCount != nil {
		opts = append(opts, fiberjobs.WithSpinCount(*fc.SpinCount))
	}
	if fc.MaxParkTime > 0 {
		opts = append(opts, fiberjobs.WithMaxParkTime(fc.MaxParkTime))
	}
	if fc.LockMainThread != nil {
		opts = append(opts, fiberjobs.WithLockMainThread(*fc.LockMainThread))
	}
	return opts, nil
}
