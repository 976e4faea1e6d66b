package cli

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/ocmodels/ocgraph/atomgraph"
	"github.com/ocmodels/ocgraph/config"
	"github.com/ocmodels/ocgraph/datasets"
	"github.com/ocmodels/ocgraph/rewiring"
	"github.com/ocmodels/ocgraph/ui/plots"
)

type rewireOptions struct {
	configPath string
	strategy   string
	graph      int
	dotOut     string
	svgOut     string
	saveOut    string
}

func newRewireCmd() *cobra.Command {
	var opts rewireOptions
	cmd := &cobra.Command{
		Use:   "rewire",
		Short: "Apply a rewiring strategy to a corpus and report what it did",
		Long: `Rewire batches the corpus the config points at (generating one when no
source corpus is set), applies the configured rewiring strategy batch by
batch and prints the aggregate accounting: nodes collapsed into super-nodes,
edges remapped, deduplicated and dropped.

One rewired system can be exported as Graphviz DOT (--dot) or rendered to
SVG (--svg), super-nodes highlighted; --save writes the whole rewired corpus
as a single batch.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRewire(cmd, &opts)
		},
	}
	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "", "TOML config file, built-in defaults when omitted")
	cmd.Flags().StringVarP(&opts.strategy, "strategy", "s", "", "rewiring strategy, overriding the config")
	cmd.Flags().IntVar(&opts.graph, "graph", 0, "corpus index of the system --dot and --svg export")
	cmd.Flags().StringVar(&opts.dotOut, "dot", "", "write the exported system as Graphviz DOT to this file")
	cmd.Flags().StringVar(&opts.svgOut, "svg", "", "render the exported system as SVG to this file")
	cmd.Flags().StringVar(&opts.saveOut, "save", "", "save the rewired corpus as one batch to this file")
	return cmd
}

func runRewire(cmd *cobra.Command, opts *rewireOptions) error {
	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		return err
	}
	if opts.strategy != "" {
		cfg.Rewiring.Strategy = opts.strategy
	}
	if cfg.Rewiring.Strategy == "" {
		cfg.Rewiring.Strategy = rewiring.SuperNodePerGraphName
	}
	// Flag overrides bypass the file validation, so check again.
	if err := cfg.Validate(); err != nil {
		return err
	}

	systems, err := loadSystems(cmd, cfg)
	if err != nil {
		return err
	}

	var total rewiring.Stats
	strategy := strategyFromConfig(cfg.Rewiring, func(s rewiring.Stats) {
		addStats(&total, s)
	})
	keepBatches := opts.dotOut != "" || opts.svgOut != "" || opts.saveOut != ""

	source := datasets.NewRewired(
		datasets.NewInMemory("corpus", systems, cfg.Dataset.BatchSize), strategy)
	var batches []*atomgraph.Batch
	for {
		b, err := source.NextBatch()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		if keepBatches {
			batches = append(batches, b)
		}
	}
	total.Strategy = strategy.Name()
	fmt.Fprintln(cmd.OutOrStdout(), statsTable(total))

	if opts.dotOut != "" || opts.svgOut != "" {
		sys, err := pickSystem(batches, opts.graph)
		if err != nil {
			return err
		}
		if opts.dotOut != "" {
			if err := writeSystemDOT(opts.dotOut, sys, cfg.Rewiring); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", opts.dotOut)
		}
		if opts.svgOut != "" {
			svg, err := plots.RenderSystemSVG(cmd.Context(), sys, cfg.Rewiring.SentinelAtomicNumber)
			if err != nil {
				return err
			}
			if err := os.WriteFile(opts.svgOut, svg, 0o664); err != nil {
				return errors.Wrapf(err, "writing %q", opts.svgOut)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", opts.svgOut)
		}
	}
	if opts.saveOut != "" {
		all, err := atomgraph.Concat(batches...)
		if err != nil {
			return err
		}
		if err := all.Save(opts.saveOut); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "saved %s rewired graphs to %q\n",
			humanize.Comma(int64(all.NumGraphs())), opts.saveOut)
	}
	return nil
}

// strategyFromConfig builds the configured strategy. The config must have
// been validated, as rewiring.New panics on unknown names.
func strategyFromConfig(cfg config.Rewiring, statsFn func(rewiring.Stats)) rewiring.Strategy {
	opts := []rewiring.Option{rewiring.WithSentinelAtomicNumber(cfg.SentinelAtomicNumber)}
	if cfg.AllowEmpty {
		opts = append(opts, rewiring.AllowEmpty())
	}
	if statsFn != nil {
		opts = append(opts, rewiring.WithStatsFunc(statsFn))
	}
	return rewiring.New(cfg.Strategy, opts...)
}

// addStats accumulates per-batch stats into a corpus total.
func addStats(total *rewiring.Stats, s rewiring.Stats) {
	total.Graphs += s.Graphs
	total.NodesBefore += s.NodesBefore
	total.NodesAfter += s.NodesAfter
	total.EdgesBefore += s.EdgesBefore
	total.EdgesAfter += s.EdgesAfter
	total.CollapsedNodes += s.CollapsedNodes
	total.SuperNodes += s.SuperNodes
	total.EdgesKept += s.EdgesKept
	total.EdgesDropped += s.EdgesDropped
	total.SelfLoopsRemoved += s.SelfLoopsRemoved
	total.DuplicatesRemoved += s.DuplicatesRemoved
	total.SelfLoopsAdded += s.SelfLoopsAdded
	total.Elapsed += s.Elapsed
}

var (
	rewireLabelStyle = lipgloss.NewStyle().Align(lipgloss.Right).Padding(0, 1)
	rewireValueStyle = lipgloss.NewStyle().Padding(0, 1)
)

// statsTable renders the aggregate accounting of a rewiring run.
func statsTable(s rewiring.Stats) string {
	table := lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))).
		StyleFunc(func(_, col int) lipgloss.Style {
			if col == 0 {
				return rewireLabelStyle
			}
			return rewireValueStyle
		})
	count := func(label string, n int) {
		table.Row(label, humanize.Comma(int64(n)))
	}
	table.Row("strategy", s.Strategy)
	count("graphs", s.Graphs)
	count("nodes before", s.NodesBefore)
	count("nodes after", s.NodesAfter)
	count("collapsed nodes", s.CollapsedNodes)
	count("super-nodes", s.SuperNodes)
	count("edges before", s.EdgesBefore)
	count("edges after", s.EdgesAfter)
	count("edges kept", s.EdgesKept)
	count("edges dropped", s.EdgesDropped)
	count("self-loops removed", s.SelfLoopsRemoved)
	count("duplicates removed", s.DuplicatesRemoved)
	count("self-loops added", s.SelfLoopsAdded)
	table.Row("elapsed", s.Elapsed.Round(time.Microsecond).String())
	return table.Render()
}

// pickSystem resolves a corpus-wide graph index into the batch holding it.
func pickSystem(batches []*atomgraph.Batch, index int) (*atomgraph.System, error) {
	if index < 0 {
		return nil, errors.Errorf("graph index must be >= 0, got %d", index)
	}
	remaining := index
	for _, b := range batches {
		if remaining < b.NumGraphs() {
			return b.Systems()[remaining], nil
		}
		remaining -= b.NumGraphs()
	}
	return nil, errors.Errorf("graph index %d out of range, the corpus has %d graphs",
		index, index-remaining)
}

// writeSystemDOT exports one rewired system as Graphviz DOT, highlighting
// nodes carrying the sentinel atomic number.
func writeSystemDOT(filePath string, sys *atomgraph.System, cfg config.Rewiring) error {
	f, err := os.Create(filePath)
	if err != nil {
		return errors.Wrapf(err, "creating %q", filePath)
	}
	err = plots.SystemDOT(f, sys, cfg.SentinelAtomicNumber)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	return err
}
