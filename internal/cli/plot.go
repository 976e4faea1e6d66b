package cli

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/ocmodels/ocgraph/ui/plots"
)

type plotOptions struct {
	configPath    string
	checkpointDir string
	outDir        string
	table         bool
	logX          bool
	tagsOut       string
	distancesOut  string
	bins          int
}

func newPlotCmd() *cobra.Command {
	opts := plotOptions{outDir: ".", bins: 16}
	cmd := &cobra.Command{
		Use:   "plot",
		Short: "Chart training curves and corpus distributions",
		Long: `Plot renders SVG training curves from the points a train run collected
into its checkpoint directory (--checkpoint), and PNG distribution charts of
the corpus tags (--tags) and edge distances (--distances). Any combination of
the three can be requested in one call.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPlot(cmd, &opts)
		},
	}
	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "", "TOML config file, built-in defaults when omitted")
	cmd.Flags().StringVar(&opts.checkpointDir, "checkpoint", "", "checkpoint directory to read training plot points from")
	cmd.Flags().StringVarP(&opts.outDir, "out-dir", "o", opts.outDir, "directory the curve SVGs are written to")
	cmd.Flags().BoolVar(&opts.table, "table", false, "also print the metrics as a table")
	cmd.Flags().BoolVar(&opts.logX, "log-x", false, "log-scale step axis for the curves")
	cmd.Flags().StringVar(&opts.tagsOut, "tags", "", "write a tag distribution PNG of the corpus to this file")
	cmd.Flags().StringVar(&opts.distancesOut, "distances", "", "write an edge distance histogram PNG of the corpus to this file")
	cmd.Flags().IntVar(&opts.bins, "bins", opts.bins, "histogram bins for --distances")
	return cmd
}

func runPlot(cmd *cobra.Command, opts *plotOptions) error {
	if opts.checkpointDir == "" && opts.tagsOut == "" && opts.distancesOut == "" {
		return errors.New("nothing to plot: set --checkpoint, --tags and/or --distances")
	}

	if opts.checkpointDir != "" {
		rawPoints, err := plots.LoadPointsFromDir(opts.checkpointDir)
		if err != nil {
			return err
		}
		points := plots.NewPoints(rawPoints)
		style := plots.DefaultCurveStyle
		style.LogX = opts.logX
		if err := os.MkdirAll(opts.outDir, 0o775); err != nil {
			return errors.Wrapf(err, "creating output directory %q", opts.outDir)
		}
		curveFiles, err := plots.WriteCurves(opts.outDir, points, style)
		if err != nil {
			return err
		}
		for _, file := range curveFiles {
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", file)
		}
		if opts.table {
			fmt.Fprintln(cmd.OutOrStdout(), points.TableForMetrics(points.MetricsNames()...))
		}
	}

	if opts.tagsOut == "" && opts.distancesOut == "" {
		return nil
	}

	// The distribution charts need the corpus itself.
	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		return err
	}
	systems, err := loadSystems(cmd, cfg)
	if err != nil {
		return err
	}
	if opts.tagsOut != "" {
		var tags []int32
		for _, sys := range systems {
			tags = append(tags, sys.Tags...)
		}
		if err := plots.TagDistributionPNG(tags, opts.tagsOut); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", opts.tagsOut)
	}
	if opts.distancesOut != "" {
		var distances []float32
		for _, sys := range systems {
			distances = append(distances, sys.Distances...)
		}
		if err := plots.DistanceHistogramPNG(distances, opts.bins, opts.distancesOut); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", opts.distancesOut)
	}
	return nil
}
