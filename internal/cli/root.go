// Package cli implements the ocgraph command-line interface.
//
// The command tree is
//
//	ocgraph generate  -- synthesize a corpus and save it
//	ocgraph rewire    -- apply a rewiring strategy and report what it did
//	ocgraph train     -- fit an energy model, with checkpoints and plots
//	ocgraph plot      -- chart training curves and corpus distributions
//	ocgraph version   -- build information
//
// Every command reads the same TOML config (see the config package); flags
// override the few knobs worth changing per invocation. Logging goes through
// klog, whose flags (--v, --logtostderr, ...) are mounted on the root
// command. newRootCmd builds the tree so tests can execute it with captured
// output; Execute runs it against os.Args.
package cli

import (
	"context"
	"flag"
	"fmt"

	"github.com/spf13/cobra"
	"k8s.io/klog/v2"
)

// Build information, stamped in by the linker through SetVersion.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// SetVersion records the build information displayed by `ocgraph version`
// and --version. main calls it with the values injected via ldflags.
func SetVersion(v, c, d string) {
	version, commit, date = v, c, d
}

// Execute builds the command tree and runs it against os.Args. The context
// bounds the whole run: canceling it stops spinners, generation and training.
func Execute(ctx context.Context) error {
	return newRootCmd().ExecuteContext(ctx)
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "ocgraph",
		Short: "Rewire batched atomic graphs and train reference energy models",
		Long: `ocgraph is the command-line face of the ocgraph toolkit: it generates
synthetic adsorbate+slab corpora, collapses their sub-surface atoms into
super-nodes with the rewiring strategies, trains the reference energy models
and charts what happened.`,
		Version:      version,
		SilenceUsage: true,
	}
	root.SetVersionTemplate(fmt.Sprintf("ocgraph {{.Version}} (commit %s, built %s)\n", commit, date))

	klogFlags := flag.NewFlagSet("klog", flag.ContinueOnError)
	klog.InitFlags(klogFlags)
	root.PersistentFlags().AddGoFlagSet(klogFlags)

	root.AddCommand(newGenerateCmd())
	root.AddCommand(newRewireCmd())
	root.AddCommand(newTrainCmd())
	root.AddCommand(newPlotCmd())
	root.AddCommand(newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version and build information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "ocgraph %s (commit %s, built %s)\n", version, commit, date)
		},
	}
}
