// Package plots collects, stores and renders plots of training runs and
// corpora.
//
// During training a Collector streams metric points (batch loss, MAE and RMSE
// on evaluation sources) into a JSON-lines file next to the checkpoints, so a
// run can be plotted later and a resumed run keeps its history. Points and
// LoadPoints manipulate the stored points; CurvesSVG renders them as SVG line
// charts. TagDistributionPNG and DistanceHistogramPNG chart corpus shape, and
// SystemDOT / RenderSystemSVG draw a single system's neighbor graph.
package plots

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path"
	"slices"
	"sort"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	types "github.com/gomlx/gomlx/pkg/support/sets"
	"github.com/gomlx/gomlx/pkg/support/xslices"
	"github.com/pkg/errors"
	"golang.org/x/exp/maps"
	"k8s.io/klog/v2"
)

// TrainingPlotFileName is the default file name within a checkpoint directory
// to store plot points collected during training.
const TrainingPlotFileName = "training_plot_points.json"

// Point is one measurement of one metric. It is the unit saved to and loaded
// from the points file.
type Point struct {
	// MetricName of this point.
	MetricName string

	// Short name, for compact legends.
	Short string

	// MetricType groups metrics that share a unit, and hence a y-axis:
	// points of the same type are drawn into the same chart.
	MetricType string

	// Step is the global step this metric was measured at. Usually an int
	// value, stored as a float64.
	Step float64

	// Value is the metric captured.
	Value float64
}

// LoadPointsFromDir loads the plot points collected during training into
// checkpoint directory dir, from the file named TrainingPlotFileName.
func LoadPointsFromDir(dir string) ([]Point, error) {
	return LoadPoints(path.Join(dir, TrainingPlotFileName))
}

// LoadPoints parses all plot points saved in the given file.
func LoadPoints(filePath string) ([]Point, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read plot points file %q", filePath)
	}

	dec := json.NewDecoder(f)
	var point Point
	var points []Point
	for {
		err := dec.Decode(&point)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, "error while decoding plot points file %q", filePath)
		}
		points = append(points, point)
	}
	_ = f.Close()
	return points, nil
}

// CreatePointsWriter creates a channel to write Point values to the given
// file, appending to whatever the file already holds so resumed runs extend
// their history. It returns an errReport channel that reports an error (or
// nil) once, after pointWriter is closed. If any error occurs, writing stops,
// and the error is reported back once pointWriter is closed.
func CreatePointsWriter(filePath string) (pointWriter chan<- Point, errReport <-chan error) {
	pointChan := make(chan Point, 100)
	pointWriter = pointChan
	errChan := make(chan error, 1)
	errReport = errChan
	go func() {
		f, err := os.OpenFile(filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0664)
		if err != nil {
			err = errors.Wrapf(err, "failed to open plot points file %q for append", filePath)
			klog.Errorf("Error: %v", err)
		}
		enc := json.NewEncoder(f)
		for point := range pointChan {
			if err != nil {
				continue
			}
			err = enc.Encode(point)
			if err != nil {
				err = errors.Wrapf(err, "failed to encode point %v", point)
				klog.Errorf("Error: %v", err)
			}
		}
		if f != nil {
			if closeErr := f.Close(); err == nil {
				err = closeErr
			}
		}
		errChan <- err
	}()
	return
}

// Points is a collection of Point objects organized by their Step value.
// It's a `map[float64][]Point` with several utility methods.
type Points map[float64][]Point

// NewPoints creates a Points object from a collection of individual Point.
//
// See LoadPoints and LoadPointsFromDir if you want to read rawPoints from a
// file.
func NewPoints(rawPoints []Point) (points Points) {
	points = make(map[float64][]Point)
	for _, p := range rawPoints {
		points[p.Step] = append(points[p.Step], p)
	}
	return points
}

// Map executes the given function on all individual points, in Step order.
// Note that if `p.Step` changes, the point is not re-indexed.
//
// If you need to reindex after the Map transformation, call Extract followed
// by NewPoints to create the re-indexed structure.
func (points Points) Map(fn func(p *Point)) {
	sortedKeys := maps.Keys(points)
	slices.Sort(sortedKeys)
	for _, step := range sortedKeys {
		stepPoints := points[step]
		for ii := range stepPoints {
			fn(&stepPoints[ii])
		}
	}
}

// Filter only keeps those points for which fn returns true, removing the
// other ones.
func (points Points) Filter(fn func(p Point) bool) {
	sortedKeys := maps.Keys(points)
	slices.Sort(sortedKeys)
	for _, step := range sortedKeys {
		stepPoints := points[step]
		newStepPoints := make([]Point, 0, len(stepPoints))
		for _, pt := range stepPoints {
			if fn(pt) {
				newStepPoints = append(newStepPoints, pt)
			}
		}
		if len(newStepPoints) == len(stepPoints) {
			continue // Nothing filtered.
		}
		if len(newStepPoints) == 0 {
			// Remove this step.
			delete(points, step)
		} else {
			points[step] = newStepPoints
		}
	}
}

// Extract converts the Points structure back to a list of individual points.
// The output is sorted by Point.Step.
func (points Points) Extract() (rawPoints []Point) {
	points.Map(func(p *Point) {
		rawPoints = append(rawPoints, *p)
	})
	return
}

// Add `otherPoints` into this Points structure. `otherPoints` is unchanged.
// It does not check for duplicates, points from `otherPoints` are simply
// appended as is.
func (points Points) Add(otherPoints Points) {
	otherPoints.Map(func(p *Point) {
		points[p.Step] = append(points[p.Step], *p)
	})
}

// MetricsNames returns the list of metric names in the whole collection,
// sorted alphabetically by their type and then by their name.
func (points Points) MetricsNames() []string {
	metricNames := types.Make[string]()
	nameToType := make(map[string]string)
	points.Map(func(p *Point) {
		metricNames.Insert(p.MetricName)
		nameToType[p.MetricName] = p.MetricType
	})
	names := xslices.SortedKeys(metricNames)
	sort.SliceStable(names, func(i, j int) bool {
		return nameToType[names[i]] < nameToType[names[j]]
	})
	return names
}

// TableForMetrics returns a table with the first column being the Step,
// followed by the columns given by the `metrics` names. If `metrics` is
// empty, it will include all metrics in the table.
func (points Points) TableForMetrics(metrics ...string) string {
	cellStyle := lipgloss.NewStyle().Padding(0, 1)
	headerStyle := lipgloss.NewStyle().Padding(0, 1).Bold(true).Reverse(true)
	table := lgtable.New().
		Border(lipgloss.RoundedBorder()).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == 0 {
				return headerStyle
			}
			return cellStyle
		})

	// Headers from metric names.
	if len(metrics) == 0 {
		metrics = points.MetricsNames()
	}
	headers := []string{"Step"}
	headers = append(headers, metrics...)
	table.Headers(headers...)

	// Add rows:
	sortedKeys := maps.Keys(points)
	slices.Sort(sortedKeys)
	for _, step := range sortedKeys {
		row := make([]string, 1+len(metrics))
		row[0] = fmt.Sprintf("%.0f", step)
		for _, pt := range points[step] {
			idx := slices.Index(metrics, pt.MetricName)
			if idx != -1 {
				row[idx+1] = fmt.Sprintf("%f", pt.Value)
			}
		}
		table.Row(row...)
	}
	return table.String()
}

func (points Points) String() string {
	return points.TableForMetrics()
}
