package cli

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocmodels/ocgraph/adslab"
	"github.com/ocmodels/ocgraph/training/checkpoints"
	"github.com/ocmodels/ocgraph/ui/plots"
)

// runCLI executes the command tree with captured output, as a user would with
// os.Args.
func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var buf bytes.Buffer
	root.SetOut(&buf)
	root.SetErr(&buf)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return buf.String(), err
}

// testConfig writes a config for a corpus small enough that the commands run
// end to end in a test.
func testConfig(t *testing.T, dir string) string {
	t.Helper()
	text := fmt.Sprintf(`
[dataset]
batch_size = 2
valid_fraction = 0.25
test_fraction = 0.25

[dataset.generate]
count = 8
cells_x = 1
cells_y = 1
layers = 2
surface_layers = 1

[rewiring]
strategy = "supernode-per-graph"

[model]
name = "mean"
num_bases = 0

[optim]
steps = 4
eval_every = 2
plot_points = 2

[checkpoint]
dir = %q
every = 2
`, filepath.Join(dir, "checkpoint"))
	configPath := filepath.Join(dir, "ocgraph.toml")
	require.NoError(t, os.WriteFile(configPath, []byte(text), 0o664))
	return configPath
}

func TestVersionCommand(t *testing.T) {
	out, err := runCLI(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "ocgraph")
	assert.Contains(t, out, "commit")
}

func TestGenerateWritesCorpus(t *testing.T) {
	dir := t.TempDir()
	configPath := testConfig(t, dir)
	corpusPath := filepath.Join(dir, "corpus.bin")

	out, err := runCLI(t, "generate", "-c", configPath, "--count", "6", "-o", corpusPath)
	require.NoError(t, err)
	assert.Contains(t, out, "wrote 6 systems")

	systems, err := adslab.LoadSystems(corpusPath)
	require.NoError(t, err)
	assert.Len(t, systems, 6)
}

func TestRewireReportsAndExports(t *testing.T) {
	dir := t.TempDir()
	configPath := testConfig(t, dir)
	dotPath := filepath.Join(dir, "system.dot")
	svgPath := filepath.Join(dir, "system.svg")

	out, err := runCLI(t, "rewire", "-c", configPath,
		"--dot", dotPath, "--svg", svgPath, "--graph", "3")
	require.NoError(t, err)
	assert.Contains(t, out, "supernode-per-graph")
	assert.Contains(t, out, "nodes before")

	dot, err := os.ReadFile(dotPath)
	require.NoError(t, err)
	assert.Contains(t, string(dot), "digraph")

	svg, err := os.ReadFile(svgPath)
	require.NoError(t, err)
	assert.Contains(t, string(svg), "<svg")
}

func TestRewireRejectsUnknownStrategy(t *testing.T) {
	_, err := runCLI(t, "rewire", "--strategy", "collapse-everything")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown strategy")
}

func TestTrainEndToEnd(t *testing.T) {
	dir := t.TempDir()
	configPath := testConfig(t, dir)
	outDir := filepath.Join(dir, "out")

	out, err := runCLI(t, "train", "-c", configPath, "-o", outDir, "--quiet")
	require.NoError(t, err)
	assert.Contains(t, out, `Results of "mean"`)
	assert.Contains(t, out, "predictions-is2re.csv")

	ckptDir := filepath.Join(dir, "checkpoint")
	assert.FileExists(t, filepath.Join(ckptDir, checkpoints.BestCheckpointName))
	assert.FileExists(t, filepath.Join(ckptDir, plots.TrainingPlotFileName))

	predictions, err := os.ReadFile(filepath.Join(outDir, "predictions-is2re.csv"))
	require.NoError(t, err)
	assert.Contains(t, string(predictions), "sid")

	curve, err := os.ReadFile(filepath.Join(outDir, "curve-loss.svg"))
	require.NoError(t, err)
	assert.Contains(t, string(curve), "<svg")
}

func TestPlotCurvesAndTable(t *testing.T) {
	dir := t.TempDir()
	runDir := filepath.Join(dir, "run")
	require.NoError(t, os.MkdirAll(runDir, 0o775))
	writer, errReport := plots.CreatePointsWriter(filepath.Join(runDir, plots.TrainingPlotFileName))
	writer <- plots.Point{MetricName: "Train: batch loss", Short: "loss", MetricType: "loss", Step: 1, Value: 0.5}
	writer <- plots.Point{MetricName: "Train: batch loss", Short: "loss", MetricType: "loss", Step: 2, Value: 0.25}
	close(writer)
	require.NoError(t, <-errReport)

	chartsDir := filepath.Join(dir, "charts")
	out, err := runCLI(t, "plot", "--checkpoint", runDir, "-o", chartsDir, "--table")
	require.NoError(t, err)
	assert.Contains(t, out, "curve-loss.svg")
	assert.Contains(t, out, "Train: batch loss")

	svg, err := os.ReadFile(filepath.Join(chartsDir, "curve-loss.svg"))
	require.NoError(t, err)
	assert.Contains(t, string(svg), "<svg")
}

func TestPlotTagsAndDistances(t *testing.T) {
	dir := t.TempDir()
	configPath := testConfig(t, dir)
	tagsPath := filepath.Join(dir, "tags.png")
	distancesPath := filepath.Join(dir, "distances.png")

	out, err := runCLI(t, "plot", "-c", configPath, "--tags", tagsPath, "--distances", distancesPath)
	require.NoError(t, err)
	assert.Contains(t, out, "tags.png")
	assert.Contains(t, out, "distances.png")

	for _, filePath := range []string{tagsPath, distancesPath} {
		info, err := os.Stat(filePath)
		require.NoError(t, err)
		assert.Positive(t, info.Size())
	}
}

func TestPlotNothingToDo(t *testing.T) {
	_, err := runCLI(t, "plot")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nothing to plot")
}

func TestSplitCorpus(t *testing.T) {
	gen, err := adslab.New(adslab.DefaultSpec())
	require.NoError(t, err)
	systems := gen.Generate(10)

	train, valid, test := splitCorpus(systems, 0.2, 0.1)
	assert.Len(t, train, 7)
	assert.Len(t, valid, 2)
	assert.Len(t, test, 1)

	// Splits partition the corpus in order.
	assert.Same(t, systems[0], train[0])
	assert.Same(t, systems[7], valid[0])
	assert.Same(t, systems[9], test[0])
}
