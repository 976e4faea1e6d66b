package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/gomlx/backends"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"k8s.io/klog/v2"

	"github.com/ocmodels/ocgraph/config"
	"github.com/ocmodels/ocgraph/datasets"
	"github.com/ocmodels/ocgraph/featurize"
	"github.com/ocmodels/ocgraph/training"
	"github.com/ocmodels/ocgraph/training/checkpoints"
	"github.com/ocmodels/ocgraph/ui/commandline"
	"github.com/ocmodels/ocgraph/ui/plots"
)

type trainOptions struct {
	configPath string
	outDir     string
	quiet      bool
}

func newTrainCmd() *cobra.Command {
	opts := trainOptions{outDir: "."}
	cmd := &cobra.Command{
		Use:   "train",
		Short: "Train an energy model on a (rewired) corpus",
		Long: `Train fits the configured model to the corpus: the systems are split
into train/valid/test, batches are rewired and frame-averaged as configured,
and the loop runs [optim] steps with periodic evaluation, checkpointing and
metric collection attached. The final evaluation lands on stdout; a
predictions CSV for the test split and the training-curve SVGs land in
--out-dir.

With a [checkpoint] dir the run resumes from the latest checkpoint in it and
keeps a separate best-model snapshot whenever the validation MAE improves.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runTrain(cmd, &opts)
		},
	}
	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "", "TOML config file, built-in defaults when omitted")
	cmd.Flags().StringVarP(&opts.outDir, "out-dir", "o", opts.outDir, "directory predictions and curves are written to")
	cmd.Flags().BoolVarP(&opts.quiet, "quiet", "q", false, "no progress bar (for logs and CI)")
	return cmd
}

// modelRegistry assembles the models the train command can build, with the
// builders closed over the config.
func modelRegistry(cfg config.Config) *training.Registry {
	reg := training.NewRegistry()
	reg.Register("mean", func() training.Model { return training.NewMean() })
	reg.Register("linear", func() training.Model {
		var basis *featurize.DistanceBasis
		if cfg.Model.NumBases > 0 {
			basis = featurize.New(cfg.Model.NumBases, cfg.Model.Degree, cfg.Model.Cutoff)
		}
		return training.NewLinear(basis, cfg.Optim.LearningRate)
	})
	return reg
}

// wrapSource applies the configured batch transformations to a source. Frame
// averaging wraps outermost so the frames come from the rewired geometry.
func wrapSource(cfg config.Config, src datasets.BatchSource) datasets.BatchSource {
	if cfg.Rewiring.Strategy != "" {
		src = datasets.NewRewired(src, strategyFromConfig(cfg.Rewiring, nil))
	}
	if cfg.Rewiring.FrameAveraging {
		src = datasets.NewFrameAveraged(src)
	}
	return src
}

func runTrain(cmd *cobra.Command, opts *trainOptions) error {
	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		return err
	}
	model, err := modelRegistry(cfg).New(cfg.Model.Name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(opts.outDir, 0o775); err != nil {
		return errors.Wrapf(err, "creating output directory %q", opts.outDir)
	}

	systems, err := loadSystems(cmd, cfg)
	if err != nil {
		return err
	}
	trainSys, validSys, testSys := splitCorpus(systems, cfg.Dataset.ValidFraction, cfg.Dataset.TestFraction)
	if len(trainSys) == 0 {
		return errors.Errorf("no training systems left after splitting %d systems", len(systems))
	}
	if len(validSys) == 0 {
		klog.Warning("validation split is empty, evaluating on the training systems")
		validSys = trainSys
	}
	klog.Infof("training %q on %d systems (%d validation, %d test), task %q",
		cfg.Model.Name, len(trainSys), len(validSys), len(testSys), cfg.Task.Name)

	device := backends.DeviceNum(cfg.Task.Device)
	dtype := cfg.Task.DType()
	trainDS := datasets.NewInMemory("train", trainSys, cfg.Dataset.BatchSize).
		Infinite().OnDevice(device).WithDType(dtype)
	if cfg.Dataset.Shuffle {
		trainDS = trainDS.Shuffle()
	}
	trainSrc := wrapSource(cfg, trainDS)
	validSrc := wrapSource(cfg,
		datasets.NewInMemory("valid", validSys, cfg.Dataset.BatchSize).OnDevice(device).WithDType(dtype))

	loop := training.NewLoop(model)

	var handler *checkpoints.Handler
	if cfg.Checkpoint.Dir != "" {
		handler, err = checkpoints.Build(model).Dir(cfg.Checkpoint.Dir).Keep(cfg.Checkpoint.Keep).Done()
		if err != nil {
			return err
		}
		loop.LoopStep = handler.GlobalStep()
		if loop.LoopStep > 0 {
			klog.Infof("resuming run %s at global step %s",
				handler.RunID(), humanize.Comma(int64(loop.LoopStep)))
		}
		if cfg.Checkpoint.Every > 0 {
			training.EveryNSteps(loop, cfg.Checkpoint.Every, "checkpointing", 100, handler.OnStepFn)
		}
	}

	if !opts.quiet {
		commandline.AttachProgressBar(loop)
	}
	if cfg.Optim.EvalEvery > 0 {
		var onBest func(step int, mae float64) error
		if handler != nil {
			onBest = handler.SaveBest
		}
		training.AttachEvaluation(loop, validSrc, cfg.Optim.EvalEvery, onBest)
	}
	pointsFile := filepath.Join(opts.outDir, plots.TrainingPlotFileName)
	if handler != nil {
		pointsFile = filepath.Join(handler.Dir(), plots.TrainingPlotFileName)
	}
	collecting := cfg.Optim.PlotPoints > 0
	if collecting {
		plots.AttachCollector(loop, pointsFile, cfg.Optim.PlotPoints, validSrc)
	}

	if _, err := loop.RunSteps(trainSrc, cfg.Optim.Steps); err != nil {
		return err
	}
	if handler != nil {
		if err := handler.Save(loop.LoopStep); err != nil {
			return err
		}
		klog.Infof("saved checkpoint at step %s to %q",
			humanize.Comma(int64(loop.LoopStep)), handler.Dir())
	}

	// Final evaluation on stdout, over validation and (if present) test.
	evalSources := []datasets.BatchSource{validSrc}
	var testSrc datasets.BatchSource
	if len(testSys) > 0 {
		testSrc = wrapSource(cfg,
			datasets.NewInMemory("test", testSys, cfg.Dataset.BatchSize).OnDevice(device).WithDType(dtype))
		evalSources = append(evalSources, testSrc)
	}
	if err := commandline.ReportEval(cmd.OutOrStdout(), model, evalSources...); err != nil {
		return err
	}

	if testSrc != nil {
		predictionsFile := filepath.Join(opts.outDir, fmt.Sprintf("predictions-%s.csv", cfg.Task.Name))
		if err := writePredictionsFile(predictionsFile, model, testSrc); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", predictionsFile)
	}
	if collecting {
		rawPoints, err := plots.LoadPoints(pointsFile)
		if err != nil {
			return err
		}
		curveFiles, err := plots.WriteCurves(opts.outDir, plots.NewPoints(rawPoints), plots.DefaultCurveStyle)
		if err != nil {
			return err
		}
		for _, file := range curveFiles {
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", file)
		}
	}
	return nil
}

// writePredictionsFile exports per-graph predictions on src as CSV.
func writePredictionsFile(filePath string, model training.Model, src datasets.BatchSource) error {
	f, err := os.Create(filePath)
	if err != nil {
		return errors.Wrapf(err, "creating predictions file %q", filePath)
	}
	_, err = training.WritePredictions(f, model, src)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	return err
}
