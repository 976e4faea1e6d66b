// Package checkpoints saves and restores training state for ocgraph models.
//
// A Handler is created with Build, configured fluently and finished with
// Config.Done. If the checkpoint directory already holds checkpoints, Done
// restores the most recent one into the model, so training resumes where it
// stopped:
//
//	checkpoint, err := checkpoints.Build(model).Dir(dir).Keep(3).Done()
//	...
//	loop := training.NewLoop(model)
//	loop.LoopStep = checkpoint.GlobalStep()
//	training.EveryNSteps(loop, 500, "checkpointing", 100, checkpoint.OnStepFn)
//
// Each checkpoint is a single gob file holding the model's State snapshot
// plus the global step and run metadata. SaveBest maintains a separate
// best-model file, exempt from the keep-N pruning, holding the best snapshot
// seen so far.
package checkpoints

import (
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	. "github.com/gomlx/exceptions"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/ocmodels/ocgraph/training"
)

// DirPermMode is the directory creation permission (before umask) used.
var DirPermMode = os.FileMode(0770)

const (
	baseNamePrefix = "checkpoint-"
	fileSuffix     = ".bin"

	// BestCheckpointName is the file SaveBest writes. It lives alongside the
	// regular checkpoints but is never pruned and never auto-restored.
	BestCheckpointName = "best_checkpoint.bin"
)

// Config for the Handler being built. Create it with Build, set options and
// call Done.
type Config struct {
	model training.Model

	err  error
	dir  string
	keep int
}

// Build starts the configuration of a checkpoints Handler for the model.
// It panics on a nil model.
func Build(model training.Model) *Config {
	if model == nil {
		Panicf("checkpoints.Build requires a model, got nil")
	}
	return &Config{model: model, keep: 1}
}

func (c *Config) setError(err error) {
	if c.err == nil {
		c.err = err
	}
}

// Dir sets the directory checkpoints are saved to and loaded from, creating
// it if needed. Either Dir or TempDir must be called before Done.
func (c *Config) Dir(dir string) *Config {
	fi, err := os.Stat(dir)
	if err != nil && !os.IsNotExist(err) {
		c.setError(errors.Wrapf(err, "failed to os.Stat(%q)", dir))
		return c
	}
	if err == nil && !fi.IsDir() {
		c.setError(errors.Errorf("checkpoint directory %q exists and is a regular file", dir))
		return c
	}
	c.dir = dir
	if err == nil {
		return c
	}
	if err := os.MkdirAll(dir, DirPermMode); err != nil {
		c.setError(errors.Wrapf(err, "failed to create checkpoint directory %q", dir))
	}
	return c
}

// TempDir creates a fresh temporary directory under dir (os.TempDir if empty)
// with the given name pattern and checkpoints there. Handy in tests and
// throwaway experiments; see os.MkdirTemp for the pattern rules.
func (c *Config) TempDir(dir, pattern string) *Config {
	newDir, err := os.MkdirTemp(dir, pattern)
	if err != nil {
		c.setError(errors.Wrapf(err, "failed to os.MkdirTemp(%q, %q)", dir, pattern))
		return c
	}
	c.dir = newDir
	return c
}

// Keep sets how many checkpoints to retain; Save prunes older ones beyond
// that. -1 keeps everything. The default is 1. The best-model file is never
// pruned.
func (c *Config) Keep(n int) *Config {
	c.keep = n
	return c
}

// Done builds the Handler. If the directory already holds checkpoints, the
// most recent one is restored into the model, its run id is adopted and
// GlobalStep reports its step; otherwise the model is left untouched and a
// fresh run id is drawn.
func (c *Config) Done() (*Handler, error) {
	if c.err != nil {
		return nil, c.err
	}
	if c.dir == "" {
		return nil, errors.Errorf("checkpoint directory not configured: call Dir or TempDir before Done")
	}
	h := &Handler{config: c, runID: uuid.NewString()}
	list, err := h.ListCheckpoints()
	if err != nil {
		return nil, err
	}
	h.checkpointsCount = maxCheckpointCount(list) + 1
	if len(list) > 0 {
		if err := h.load(list[len(list)-1]); err != nil {
			return nil, err
		}
	}
	return h, nil
}

// Handler saves and restores checkpoints for one model. See the package
// documentation for the usual wiring.
type Handler struct {
	config *Config

	runID            string
	globalStep       int
	checkpointsCount int
}

// savedCheckpoint is the gob envelope written to disk.
type savedCheckpoint struct {
	ModelName  string
	RunID      string
	GlobalStep int
	SavedAt    time.Time

	// Metric is the evaluation value that made this snapshot the best one;
	// it is only meaningful in the best-model file.
	Metric float64

	// State is the Model.State snapshot.
	State []byte
}

// String implements fmt.Stringer.
func (h *Handler) String() string {
	return fmt.Sprintf("checkpoints.Handler(%q)", h.config.dir)
}

// Dir returns the checkpoint directory.
func (h *Handler) Dir() string { return h.config.dir }

// RunID identifies this training run. Resuming from a checkpoint adopts the
// run id of the restored checkpoint, so one run keeps one id across restarts.
func (h *Handler) RunID() string { return h.runID }

// GlobalStep of the most recent checkpoint restored or saved, 0 on a fresh
// run. Assign it to Loop.LoopStep before running so step numbering continues.
func (h *Handler) GlobalStep() int { return h.globalStep }

func (h *Handler) newCheckpointName(globalStep int) string {
	return fmt.Sprintf("%sn%07d-step-%08d%s", baseNamePrefix, h.checkpointsCount, globalStep, fileSuffix)
}

// ListCheckpoints returns the checkpoint file names in the directory, oldest
// first. The best-model file is not a regular checkpoint and is not listed.
func (h *Handler) ListCheckpoints() ([]string, error) {
	list, err := ListDir(h.config.dir)
	if err != nil {
		return nil, errors.WithMessagef(err, "%s", h)
	}
	return list, nil
}

// ListDir returns the checkpoint file names in dir, oldest first, without
// needing a Handler. The best-model file is not a regular checkpoint and is
// not listed.
func ListDir(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "listing checkpoints in %q", dir)
	}
	var list []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasPrefix(name, baseNamePrefix) || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		list = append(list, name)
	}
	sort.Strings(list)
	return list, nil
}

// HasCheckpoints reports whether the directory holds any regular checkpoint.
func (h *Handler) HasCheckpoints() (bool, error) {
	list, err := h.ListCheckpoints()
	return len(list) > 0, err
}

var checkpointCountRegex = regexp.MustCompile(`^checkpoint-n(\d+)-`)

// maxCheckpointCount extracts the largest sequence number among the saved
// checkpoints, -1 if there is none; the next save uses count+1.
func maxCheckpointCount(list []string) int {
	maxID := -1
	for _, name := range list {
		matches := checkpointCountRegex.FindStringSubmatch(name)
		if len(matches) != 2 {
			continue
		}
		id, err := strconv.Atoi(matches[1])
		if err != nil {
			continue
		}
		if id > maxID {
			maxID = id
		}
	}
	return maxID
}

// Save writes a new checkpoint at the given global step, then prunes
// checkpoints beyond the configured Keep.
func (h *Handler) Save(globalStep int) error {
	name := h.newCheckpointName(globalStep)
	h.checkpointsCount++
	if err := h.write(name, globalStep, 0); err != nil {
		return err
	}
	h.globalStep = globalStep
	return h.keepNCheckpoints()
}

// SaveBest writes (or overwrites) the best-model file with the current model
// state and the metric that made it best. Its signature matches the onBest
// callback of training.AttachEvaluation.
func (h *Handler) SaveBest(globalStep int, metric float64) error {
	return h.write(BestCheckpointName, globalStep, metric)
}

// OnStepFn implements training.OnStepFn, saving a checkpoint at the current
// loop step; attach it with training.EveryNSteps or
// training.PeriodicCallback. LoopStep is the just-finished 0-based step, so
// the completed-step count saved is one higher.
func (h *Handler) OnStepFn(loop *training.Loop, _ float64) error {
	return h.Save(loop.LoopStep + 1)
}

// LoadBest restores the best-model file into the model and returns its step
// and metric. If SaveBest never ran in this directory, the error satisfies
// os.IsNotExist.
func (h *Handler) LoadBest() (globalStep int, metric float64, err error) {
	saved, err := h.read(BestCheckpointName)
	if err != nil {
		return 0, 0, err
	}
	if err := h.config.model.SetState(saved.State); err != nil {
		return 0, 0, errors.WithMessagef(err, "%s restoring model %q from %q", h, h.config.model.Name(), BestCheckpointName)
	}
	return saved.GlobalStep, saved.Metric, nil
}

// write serializes the current model state into fileName inside the
// checkpoint directory.
func (h *Handler) write(fileName string, globalStep int, metric float64) error {
	state, err := h.config.model.State()
	if err != nil {
		return errors.WithMessagef(err, "%s snapshotting model %q", h, h.config.model.Name())
	}
	saved := &savedCheckpoint{
		ModelName:  h.config.model.Name(),
		RunID:      h.runID,
		GlobalStep: globalStep,
		SavedAt:    time.Now(),
		Metric:     metric,
		State:      state,
	}
	filePath := filepath.Join(h.config.dir, fileName)
	f, err := os.Create(filePath)
	if err != nil {
		return errors.Wrapf(err, "%s creating checkpoint file %q", h, filePath)
	}
	if err := gob.NewEncoder(f).Encode(saved); err != nil {
		_ = f.Close()
		return errors.Wrapf(err, "%s encoding checkpoint %q", h, filePath)
	}
	if err := f.Close(); err != nil {
		return errors.Wrapf(err, "%s closing checkpoint file %q", h, filePath)
	}
	klog.V(1).Infof("saved checkpoint %q (step %d)", filePath, globalStep)
	return nil
}

// load restores fileName into the model, adopting its run id and global step.
func (h *Handler) load(fileName string) error {
	saved, err := h.read(fileName)
	if err != nil {
		return err
	}
	if err := h.config.model.SetState(saved.State); err != nil {
		return errors.WithMessagef(err, "%s restoring model %q from %q", h, h.config.model.Name(), fileName)
	}
	h.runID = saved.RunID
	h.globalStep = saved.GlobalStep
	klog.V(1).Infof("restored checkpoint %q (model %q, step %d)", fileName, saved.ModelName, saved.GlobalStep)
	return nil
}

// read decodes a checkpoint file and checks that it belongs to this handler's
// model. A missing file is returned unwrapped, so os.IsNotExist keeps
// working on it.
func (h *Handler) read(fileName string) (*savedCheckpoint, error) {
	filePath := filepath.Join(h.config.dir, fileName)
	f, err := os.Open(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, err
		}
		return nil, errors.Wrapf(err, "%s opening checkpoint file %q", h, filePath)
	}
	defer func() { _ = f.Close() }()
	saved := &savedCheckpoint{}
	if err := gob.NewDecoder(f).Decode(saved); err != nil {
		return nil, errors.Wrapf(err, "%s decoding checkpoint file %q", h, filePath)
	}
	if saved.ModelName != h.config.model.Name() {
		return nil, errors.Errorf("%s: checkpoint %q was saved by model %q, cannot restore it into model %q",
			h, filePath, saved.ModelName, h.config.model.Name())
	}
	return saved, nil
}

// Info describes one checkpoint file: the envelope Peek reads, without the
// state payload.
type Info struct {
	FileName   string
	ModelName  string
	RunID      string
	GlobalStep int
	SavedAt    time.Time

	// Metric is only meaningful for the best-model file.
	Metric float64

	// StateBytes is the size of the serialized model state.
	StateBytes int
}

// Peek reads a checkpoint file's envelope without restoring it into a model,
// for tools that inspect directories written by arbitrary models. A missing
// file satisfies os.IsNotExist.
func Peek(filePath string) (Info, error) {
	f, err := os.Open(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return Info{}, err
		}
		return Info{}, errors.Wrapf(err, "opening checkpoint file %q", filePath)
	}
	defer func() { _ = f.Close() }()
	saved := &savedCheckpoint{}
	if err := gob.NewDecoder(f).Decode(saved); err != nil {
		return Info{}, errors.Wrapf(err, "decoding checkpoint file %q", filePath)
	}
	return Info{
		FileName:   filepath.Base(filePath),
		ModelName:  saved.ModelName,
		RunID:      saved.RunID,
		GlobalStep: saved.GlobalStep,
		SavedAt:    saved.SavedAt,
		Metric:     saved.Metric,
		StateBytes: len(saved.State),
	}, nil
}

// keepNCheckpoints prunes the oldest checkpoints beyond the configured keep.
func (h *Handler) keepNCheckpoints() error {
	if h.config.keep < 0 {
		return nil
	}
	list, err := h.ListCheckpoints()
	if err != nil {
		return err
	}
	if len(list) <= h.config.keep {
		return nil
	}
	for _, name := range list[:len(list)-h.config.keep] {
		filePath := filepath.Join(h.config.dir, name)
		if err := os.Remove(filePath); err != nil && !os.IsNotExist(err) {
			return errors.Wrapf(err, "%s removing excess checkpoint %q", h, filePath)
		}
	}
	return nil
}
