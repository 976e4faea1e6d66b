package cli

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"k8s.io/klog/v2"

	"github.com/ocmodels/ocgraph/adslab"
	"github.com/ocmodels/ocgraph/atomgraph"
	"github.com/ocmodels/ocgraph/config"
	"github.com/ocmodels/ocgraph/ui/commandline"
)

// loadConfig reads the config file, or returns the built-in defaults when no
// file is given.
func loadConfig(path string) (config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

// loadSystems returns the corpus the config points at: the saved systems of
// [dataset] source when set, otherwise a corpus generated in-process from
// [dataset.generate], with a spinner on stderr while it runs.
func loadSystems(cmd *cobra.Command, cfg config.Config) ([]*atomgraph.System, error) {
	if cfg.Dataset.Source != "" {
		systems, err := adslab.LoadSystems(cfg.Dataset.Source)
		if err != nil {
			return nil, errors.WithMessagef(err, "loading corpus %q", cfg.Dataset.Source)
		}
		klog.Infof("loaded %s systems from %q", humanize.Comma(int64(len(systems))), cfg.Dataset.Source)
		return systems, nil
	}

	gen, err := adslab.New(cfg.Dataset.Generate.Spec())
	if err != nil {
		return nil, err
	}
	count := cfg.Dataset.Generate.Count
	spinner := commandline.NewSpinner(
		fmt.Sprintf("Generating %s systems", humanize.Comma(int64(count)))).
		WithWriter(cmd.ErrOrStderr())
	spinner.Start(cmd.Context())
	systems := gen.Generate(count)
	spinner.Stop("done")
	return systems, nil
}

// splitCorpus carves the validation and test splits off the end of the
// corpus; the rest trains. Fractions round down, so a small corpus can leave
// a split empty.
func splitCorpus(systems []*atomgraph.System, validFraction, testFraction float64) (train, valid, test []*atomgraph.System) {
	n := len(systems)
	numValid := int(float64(n) * validFraction)
	numTest := int(float64(n) * testFraction)
	numTrain := n - numValid - numTest
	return systems[:numTrain], systems[numTrain : numTrain+numValid], systems[numTrain+numValid:]
}

// corpusSize sums atoms and edges over the systems, for report lines.
func corpusSize(systems []*atomgraph.System) (atoms, edges int) {
	for _, sys := range systems {
		atoms += sys.NumAtoms()
		edges += sys.NumEdges()
	}
	return
}
