package main

import (
	"flag"
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/janpfeifer/must"
	"k8s.io/klog/v2"

	"github.com/ocmodels/ocgraph/training/checkpoints"
	"github.com/ocmodels/ocgraph/ui/plots"
)

var (
	flagSummary = flag.Bool("summary", true, "Display a summary of the run saved in the checkpoint directory: "+
		"its model, global step and best snapshot.")
	flagList = flag.Bool("list", false, "List every checkpoint file with its step, age and state size.")
	flagMetrics = flag.Bool("metrics", false,
		fmt.Sprintf("Lists the metrics collected for plotting in file %q", plots.TrainingPlotFileName))
	flagMetricsNames = flag.String("metrics_names", "", "Comma-separated list of metric names to include in the metrics report.")
)

func main() {
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		klog.Errorf("Missing checkpoint directory to read from. See 'ocgraph_checkpoints -help'")
		os.Exit(1)
	}
	if len(args) > 1 {
		klog.Errorf("Too many arguments. See 'ocgraph_checkpoints -help'.")
		os.Exit(1)
	}
	report(args[0])
}

var (
	headerRowStyle = lipgloss.NewStyle().Reverse(true).
			Padding(0, 2, 0, 2).Align(lipgloss.Center)

	oddRowStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFF")).
			PaddingLeft(1).PaddingRight(1)
	evenRowStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#999")).
			PaddingLeft(1).PaddingRight(1)

	titleStyle = lipgloss.NewStyle().Bold(true).Padding(1, 4, 1, 4)
)

func newPlainTable(withHeader bool) *lgtable.Table {
	return lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))).
		StyleFunc(func(row, col int) (s lipgloss.Style) {
			if withHeader && row == 1 {
				s = headerRowStyle
				return
			}
			switch {
			case row%2 == 0:
				s = oddRowStyle
			default:
				s = evenRowStyle
			}
			if col == 0 {
				s = s.Align(lipgloss.Right)
			} else {
				s = s.Align(lipgloss.Left)
			}
			return
		})
}

func report(checkpointDir string) {
	names := must.M1(checkpoints.ListDir(checkpointDir))

	if *flagSummary {
		fmt.Println(titleStyle.Render("Summary"))
		table := newPlainTable(false)
		table.Row("checkpoint", checkpointDir)
		table.Row("# checkpoints", humanize.Comma(int64(len(names))))
		if len(names) > 0 {
			latest := must.M1(checkpoints.Peek(path.Join(checkpointDir, names[len(names)-1])))
			table.Row("model", latest.ModelName)
			table.Row("run id", latest.RunID)
			table.Row("global step", humanize.Comma(int64(latest.GlobalStep)))
			table.Row("saved", humanize.Time(latest.SavedAt))
			table.Row("state size", humanize.Bytes(uint64(latest.StateBytes)))
		}
		best, err := checkpoints.Peek(path.Join(checkpointDir, checkpoints.BestCheckpointName))
		switch {
		case err == nil:
			table.Row("best MAE", fmt.Sprintf("%.5f", best.Metric))
			table.Row("best step", humanize.Comma(int64(best.GlobalStep)))
		case os.IsNotExist(err):
			table.Row("best MAE", "none saved")
		default:
			must.M(err)
		}
		fmt.Println(table.Render())
	}

	if *flagList {
		fmt.Println(titleStyle.Render("Checkpoints"))
		table := newPlainTable(true)
		table.Row("File", "Global Step", "Saved", "State")
		for _, name := range names {
			info := must.M1(checkpoints.Peek(path.Join(checkpointDir, name)))
			table.Row(info.FileName,
				humanize.Comma(int64(info.GlobalStep)),
				humanize.Time(info.SavedAt),
				humanize.Bytes(uint64(info.StateBytes)))
		}
		fmt.Println(table.Render())
	}

	if *flagMetrics {
		metrics(checkpointDir)
	}
}

func metrics(checkpointDir string) {
	metricsPath := path.Join(checkpointDir, plots.TrainingPlotFileName)
	rawPoints := must.M1(plots.LoadPoints(metricsPath))
	if len(rawPoints) == 0 {
		klog.Errorf("No metrics found in %q", metricsPath)
		return
	}
	fmt.Println(titleStyle.Render("Metrics"))

	points := plots.NewPoints(rawPoints)
	names := points.MetricsNames()
	if *flagMetricsNames != "" {
		names = strings.Split(*flagMetricsNames, ",")
	}
	fmt.Println(points.TableForMetrics(names...))
}
