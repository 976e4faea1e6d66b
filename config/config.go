// Package config loads the TOML configuration driving the ocgraph
// command-line tools.
//
// A Config is assembled in two layers: Default fills every field with the
// values the tools ship with, then the TOML file overrides the keys it
// names. Unknown keys are rejected -- a misspelled key silently falling back
// to its default is the worst failure mode a config file has.
//
// Validation is local to the file: values that can never work (non-positive
// batch sizes, unknown rewiring strategies, fractions leaving no training
// data) are errors at load time. The model name is the one exception -- it
// resolves against the registry the command composes, so the command reports
// it.
package config

import (
	"slices"

	"github.com/BurntSushi/toml"
	. "github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/pkg/errors"

	"github.com/ocmodels/ocgraph/adslab"
	"github.com/ocmodels/ocgraph/rewiring"
)

// Config is the root of the TOML file.
type Config struct {
	Task       Task       `toml:"task"`
	Dataset    Dataset    `toml:"dataset"`
	Rewiring   Rewiring   `toml:"rewiring"`
	Model      Model      `toml:"model"`
	Optim      Optim      `toml:"optim"`
	Checkpoint Checkpoint `toml:"checkpoint"`
}

// Task names the run and fixes the tensor plumbing.
type Task struct {
	// Name labels the run in logs and output file names.
	Name string `toml:"name"`

	// Device is the accelerator ordinal batches are destined to.
	Device int `toml:"device"`

	// FloatDType is the precision of floating-point arrays at the tensor
	// boundary: "float16", "float32" or "float64".
	FloatDType string `toml:"float_dtype"`
}

// FloatDTypeNames are the accepted [task] float_dtype values, matching
// atomgraph.FloatDTypes.
var FloatDTypeNames = []string{"float16", "float32", "float64"}

// DType returns the dtype named by FloatDType. It panics on names Validate
// would reject.
func (t Task) DType() dtypes.DType {
	switch t.FloatDType {
	case "float16":
		return dtypes.Float16
	case "float32":
		return dtypes.Float32
	case "float64":
		return dtypes.Float64
	}
	Panicf("config: float_dtype must be one of %v, got %q -- was the config validated?",
		FloatDTypeNames, t.FloatDType)
	return dtypes.InvalidDType
}

// Dataset selects the corpus and how it is split and batched.
type Dataset struct {
	// Source is a corpus file written by `ocgraph generate` (or
	// adslab.SaveSystems). Empty generates a corpus in-process from the
	// [dataset.generate] section.
	Source string `toml:"source"`

	// Generate configures in-process corpus generation; ignored when Source
	// is set.
	Generate Generate `toml:"generate"`

	BatchSize int  `toml:"batch_size"`
	Shuffle   bool `toml:"shuffle"`

	// ValidFraction and TestFraction carve held-out systems off the end of
	// the corpus; the rest trains.
	ValidFraction float64 `toml:"valid_fraction"`
	TestFraction  float64 `toml:"test_fraction"`
}

// Generate mirrors adslab.Spec with TOML key names, plus the corpus size.
type Generate struct {
	Count           int      `toml:"count"`
	Elements        []int32  `toml:"elements"`
	Adsorbates      []string `toml:"adsorbates"`
	CellsX          int      `toml:"cells_x"`
	CellsY          int      `toml:"cells_y"`
	Layers          int      `toml:"layers"`
	SurfaceLayers   int      `toml:"surface_layers"`
	LatticeConstant float32  `toml:"lattice_constant"`
	Vacuum          float32  `toml:"vacuum"`
	Cutoff          float32  `toml:"cutoff"`
	Jitter          float32  `toml:"jitter"`
	BaseSID         int64    `toml:"base_sid"`
	Seed            uint64   `toml:"seed"`
}

// Spec converts the section to the adslab spec it mirrors. Domain validation
// (element ranges, layer counts) happens in adslab.New.
func (g Generate) Spec() adslab.Spec {
	return adslab.Spec{
		Elements:        g.Elements,
		Adsorbates:      g.Adsorbates,
		CellsX:          g.CellsX,
		CellsY:          g.CellsY,
		Layers:          g.Layers,
		SurfaceLayers:   g.SurfaceLayers,
		LatticeConstant: g.LatticeConstant,
		Vacuum:          g.Vacuum,
		Cutoff:          g.Cutoff,
		Jitter:          g.Jitter,
		BaseSID:         g.BaseSID,
		Seed:            g.Seed,
	}
}

// Rewiring selects the graph reduction applied to batches before they reach
// the model.
type Rewiring struct {
	// Strategy is one of rewiring.Names(); empty leaves batches unrewired.
	Strategy string `toml:"strategy"`

	// SentinelAtomicNumber marks super-nodes, see
	// rewiring.WithSentinelAtomicNumber.
	SentinelAtomicNumber int32 `toml:"sentinel_atomic_number"`

	// AllowEmpty passes graphs without sub-surface atoms through untouched
	// instead of failing their batch.
	AllowEmpty bool `toml:"allow_empty"`

	// FrameAveraging projects positions onto each graph's canonical PCA
	// frame after rewiring.
	FrameAveraging bool `toml:"frame_averaging"`
}

// Model selects and configures the energy model.
type Model struct {
	// Name is resolved against the model registry the command composes.
	Name string `toml:"name"`

	// NumBases, Degree and Cutoff configure the optional distance basis of
	// the linear model; num_bases = 0 disables it.
	NumBases int     `toml:"num_bases"`
	Degree   int     `toml:"degree"`
	Cutoff   float32 `toml:"cutoff"`
}

// Optim drives the training loop.
type Optim struct {
	Steps        int     `toml:"steps"`
	LearningRate float64 `toml:"learning_rate"`

	// EvalEvery is the validation period in train steps; 0 disables periodic
	// evaluation (a final one still runs).
	EvalEvery int `toml:"eval_every"`

	// PlotPoints is how many metric collections to spread over the run; 0
	// disables the plot-points collector.
	PlotPoints int `toml:"plot_points"`
}

// Checkpoint controls model snapshots. An empty Dir disables them.
type Checkpoint struct {
	Dir string `toml:"dir"`

	// Keep is how many numbered checkpoints to retain, -1 for all.
	Keep int `toml:"keep"`

	// Every is the save period in train steps; 0 saves only at the end.
	Every int `toml:"every"`
}

// Default returns the configuration the tools run with when the file leaves
// a key out. The generation section starts from adslab.DefaultSpec.
func Default() Config {
	spec := adslab.DefaultSpec()
	return Config{
		Task: Task{Name: "is2re", FloatDType: "float32"},
		Dataset: Dataset{
			BatchSize:     32,
			Shuffle:       true,
			ValidFraction: 0.1,
			TestFraction:  0.1,
			Generate: Generate{
				Count:           256,
				Elements:        spec.Elements,
				Adsorbates:      spec.Adsorbates,
				CellsX:          spec.CellsX,
				CellsY:          spec.CellsY,
				Layers:          spec.Layers,
				SurfaceLayers:   spec.SurfaceLayers,
				LatticeConstant: spec.LatticeConstant,
				Vacuum:          spec.Vacuum,
				Cutoff:          spec.Cutoff,
				Jitter:          spec.Jitter,
				BaseSID:         spec.BaseSID,
				Seed:            spec.Seed,
			},
		},
		Rewiring: Rewiring{
			SentinelAtomicNumber: rewiring.DefaultSentinelAtomicNumber,
		},
		Model: Model{
			Name:     "linear",
			NumBases: 8,
			Degree:   3,
			Cutoff:   6,
		},
		Optim: Optim{
			Steps:        2_000,
			LearningRate: 0.01,
			EvalEvery:    200,
			PlotPoints:   50,
		},
		Checkpoint: Checkpoint{Keep: 3, Every: 500},
	}
}

// Load reads, decodes and validates a config file. Keys the file leaves out
// keep their Default values; keys the schema does not know are an error.
func Load(path string) (Config, error) {
	cfg := Default()
	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Config{}, errors.Wrapf(err, "reading config %q", path)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, errors.Errorf("config %q has unknown keys: %v", path, undecoded)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, errors.WithMessagef(err, "config %q", path)
	}
	return cfg, nil
}

// Validate checks for values that can never work. It does not touch the
// filesystem and does not resolve the model name.
func (c Config) Validate() error {
	if !slices.Contains(FloatDTypeNames, c.Task.FloatDType) {
		return errors.Errorf("[task] float_dtype must be one of %v, got %q", FloatDTypeNames, c.Task.FloatDType)
	}
	if c.Task.Device < 0 {
		return errors.Errorf("[task] device must be >= 0, got %d", c.Task.Device)
	}
	if c.Dataset.BatchSize <= 0 {
		return errors.Errorf("[dataset] batch_size must be > 0, got %d", c.Dataset.BatchSize)
	}
	if c.Dataset.ValidFraction < 0 || c.Dataset.TestFraction < 0 ||
		c.Dataset.ValidFraction+c.Dataset.TestFraction >= 1 {
		return errors.Errorf("[dataset] valid_fraction (%g) and test_fraction (%g) must be >= 0 and leave room for training systems",
			c.Dataset.ValidFraction, c.Dataset.TestFraction)
	}
	if c.Dataset.Source == "" && c.Dataset.Generate.Count <= 0 {
		return errors.Errorf("[dataset.generate] count must be > 0 when no source corpus is set, got %d",
			c.Dataset.Generate.Count)
	}
	if s := c.Rewiring.Strategy; s != "" && !slices.Contains(rewiring.Names(), s) {
		return errors.Errorf("[rewiring] unknown strategy %q, available: %v", s, rewiring.Names())
	}
	if c.Rewiring.SentinelAtomicNumber <= 0 {
		return errors.Errorf("[rewiring] sentinel_atomic_number must be > 0, got %d", c.Rewiring.SentinelAtomicNumber)
	}
	if c.Model.Name == "" {
		return errors.New("[model] name must be set")
	}
	if c.Model.NumBases < 0 {
		return errors.Errorf("[model] num_bases must be >= 0, got %d", c.Model.NumBases)
	}
	if c.Model.NumBases > 0 && (c.Model.Degree < 1 || c.Model.Cutoff <= 0) {
		return errors.Errorf("[model] a distance basis needs degree >= 1 and cutoff > 0, got degree=%d, cutoff=%g",
			c.Model.Degree, c.Model.Cutoff)
	}
	if c.Optim.Steps <= 0 {
		return errors.Errorf("[optim] steps must be > 0, got %d", c.Optim.Steps)
	}
	if c.Optim.LearningRate <= 0 {
		return errors.Errorf("[optim] learning_rate must be > 0, got %g", c.Optim.LearningRate)
	}
	if c.Optim.EvalEvery < 0 || c.Optim.PlotPoints < 0 {
		return errors.Errorf("[optim] eval_every (%d) and plot_points (%d) must be >= 0",
			c.Optim.EvalEvery, c.Optim.PlotPoints)
	}
	if c.Checkpoint.Keep == 0 || c.Checkpoint.Keep < -1 {
		return errors.Errorf("[checkpoint] keep must be > 0, or -1 to keep everything, got %d", c.Checkpoint.Keep)
	}
	if c.Checkpoint.Every < 0 {
		return errors.Errorf("[checkpoint] every must be >= 0, got %d", c.Checkpoint.Every)
	}
	return nil
}
