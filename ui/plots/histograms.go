package plots

import (
	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/ocmodels/ocgraph/atomgraph"
)

// TagDistributionPNG charts how many atoms of each tag class (sub-surface,
// surface, adsorbate) the given tags hold, as a bar chart saved to filePath.
// Pass the Tags array of a batch, or the concatenated Tags of a corpus of
// systems.
//
// The image format follows the file extension; .png is the usual choice.
func TagDistributionPNG(tags []int32, filePath string) error {
	var counts [3]float64
	for _, tag := range tags {
		switch {
		case tag == atomgraph.TagSubSurface:
			counts[0]++
		case tag == atomgraph.TagSurface:
			counts[1]++
		case tag >= atomgraph.TagAdsorbate:
			counts[2]++
		}
	}

	p := plot.New()
	p.Title.Text = "Atoms per tag class"
	p.Y.Label.Text = "atoms"
	bars, err := plotter.NewBarChart(plotter.Values(counts[:]), vg.Points(40))
	if err != nil {
		return errors.Wrap(err, "building tag distribution bars")
	}
	p.Add(bars)
	p.NominalX("sub-surface", "surface", "adsorbate")
	return errors.Wrapf(p.Save(6*vg.Inch, 4*vg.Inch, filePath),
		"saving tag distribution to %q", filePath)
}

// DistanceHistogramPNG charts the distribution of edge lengths as a histogram
// saved to filePath. Handy to eyeball a corpus against its cutoff radius, and
// to see the long edges super-node rewiring introduces. Pass the Distances
// array of a batch, or the concatenated Distances of a corpus of systems.
//
// bins <= 0 selects a default of 16.
func DistanceHistogramPNG(distances []float32, bins int, filePath string) error {
	if len(distances) == 0 {
		return errors.New("no edges to chart: the distances array is empty")
	}
	if bins <= 0 {
		bins = 16
	}
	values := make(plotter.Values, len(distances))
	for i, d := range distances {
		values[i] = float64(d)
	}

	p := plot.New()
	p.Title.Text = "Edge distances"
	p.X.Label.Text = "Å"
	p.Y.Label.Text = "edges"
	hist, err := plotter.NewHist(values, bins)
	if err != nil {
		return errors.Wrap(err, "building distance histogram")
	}
	p.Add(hist)
	return errors.Wrapf(p.Save(6*vg.Inch, 4*vg.Inch, filePath),
		"saving distance histogram to %q", filePath)
}
