package plots

import (
	"bytes"
	"fmt"
	"os"
	"path"
	"slices"
	"strings"

	mg "github.com/erkkah/margaid"
	"github.com/gomlx/gomlx/pkg/support/xslices"
	"github.com/pkg/errors"
)

// CurveStyle configures the rendered training-curve charts.
type CurveStyle struct {
	// Width and Height of each SVG, in pixels.
	Width, Height int

	// LogX draws the step axis in log scale, which spreads out the early
	// steps where most of the action is.
	LogX bool
}

// DefaultCurveStyle is the chart size used by the command-line tools.
var DefaultCurveStyle = CurveStyle{Width: 1024, Height: 400}

// CurvesSVG renders one SVG line chart per metric type, each chart holding
// one line per metric name of that type, keyed by the metric type. Metrics
// of the same type share a unit, so they share the y-axis.
func CurvesSVG(points Points, style CurveStyle) (map[string]string, error) {
	if style.Width <= 0 {
		style.Width = DefaultCurveStyle.Width
	}
	if style.Height <= 0 {
		style.Height = DefaultCurveStyle.Height
	}

	type chart struct {
		perName   map[string]*mg.Series
		allPoints *mg.Series
	}
	charts := make(map[string]*chart)
	points.Map(func(p *Point) {
		ch := charts[p.MetricType]
		if ch == nil {
			ch = &chart{perName: make(map[string]*mg.Series), allPoints: mg.NewSeries()}
			charts[p.MetricType] = ch
		}
		s := ch.perName[p.MetricName]
		if s == nil {
			s = mg.NewSeries(mg.Titled(p.MetricName))
			ch.perName[p.MetricName] = s
		}
		v := mg.MakeValue(p.Step, p.Value)
		s.Add(v)
		ch.allPoints.Add(v)
	})

	xProjection := mg.Lin
	if style.LogX {
		xProjection = mg.Log
	}
	svgs := make(map[string]string, len(charts))
	for metricType, ch := range charts {
		names := xslices.SortedKeys(ch.perName)
		allSeries := make([]*mg.Series, 0, len(names))
		for _, name := range names {
			allSeries = append(allSeries, ch.perName[name])
		}
		diagram := mg.New(style.Width, style.Height,
			mg.WithAutorange(mg.XAxis, allSeries...),
			mg.WithProjection(mg.XAxis, xProjection),
			mg.WithAutorange(mg.YAxis, allSeries...),
			mg.WithInset(70),
			mg.WithPadding(2),
			mg.WithColorScheme(90),
			mg.WithBackgroundColor("#f8f8f8"),
		)
		for _, s := range allSeries {
			diagram.Line(s, mg.UsingAxes(mg.XAxis, mg.YAxis), mg.UsingMarker("square"), mg.UsingStrokeWidth(2))
		}
		diagram.Axis(ch.allPoints, mg.XAxis, diagram.ValueTicker('f', 0, 10), false, "Steps")
		diagram.Axis(ch.allPoints, mg.YAxis, diagram.ValueTicker('f', 3, 10), true, metricType)
		diagram.Frame()
		if metricType != "" {
			diagram.Title(fmt.Sprintf("%s metrics", metricType))
		}
		if len(names) > 1 || names[0] != "" {
			diagram.Legend(mg.BottomLeft)
		}

		var buf bytes.Buffer
		if err := diagram.Render(&buf); err != nil {
			return nil, errors.Wrapf(err, "rendering chart for metric type %q", metricType)
		}
		svgs[metricType] = buf.String()
	}
	return svgs, nil
}

// WriteCurves renders the charts of CurvesSVG and writes each to
// dir/curve-<metric type>.svg. It returns the paths written, sorted.
func WriteCurves(dir string, points Points, style CurveStyle) ([]string, error) {
	svgs, err := CurvesSVG(points, style)
	if err != nil {
		return nil, err
	}
	paths := make([]string, 0, len(svgs))
	for metricType, svg := range svgs {
		filePath := path.Join(dir, fmt.Sprintf("curve-%s.svg", fileNameFragment(metricType)))
		if err := os.WriteFile(filePath, []byte(svg), 0664); err != nil {
			return nil, errors.Wrapf(err, "writing chart for metric type %q", metricType)
		}
		paths = append(paths, filePath)
	}
	slices.Sort(paths)
	return paths, nil
}

// fileNameFragment makes a metric type safe to embed in a file name.
func fileNameFragment(s string) string {
	if s == "" {
		return "untyped"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '/', '\\':
			return '-'
		}
		return r
	}, s)
}
