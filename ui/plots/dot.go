package plots

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/goccy/go-graphviz"
	"github.com/pkg/errors"

	"github.com/ocmodels/ocgraph/atomgraph"
)

// SystemDOT writes a Graphviz DOT digraph of the system's neighbor graph to
// w. Nodes are labeled with their row index and atomic number and filled by
// tag class (sub-surface gray, surface blue, adsorbate gold); atoms whose
// atomic number equals highlightZ -- the super-node sentinel, typically --
// are drawn in red instead. Pass highlightZ <= 0 to highlight nothing. Edges
// are labeled with their length in Å.
//
// Meant for single small systems: a corpus-scale graph renders into an
// unreadable hairball.
func SystemDOT(w io.Writer, sys *atomgraph.System, highlightZ int32) error {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "digraph system%d {\n", sys.SID)
	buf.WriteString("  rankdir=TB;\n")
	buf.WriteString("  node [fontname=\"monospace\", fontsize=12, style=filled];\n")
	buf.WriteString("  edge [arrowsize=0.5, fontsize=10];\n\n")

	for i, z := range sys.AtomicNumbers {
		fill := "white"
		switch {
		case highlightZ > 0 && z == highlightZ:
			fill = "tomato"
		case sys.Tags[i] == atomgraph.TagSubSurface:
			fill = "gray80"
		case sys.Tags[i] == atomgraph.TagSurface:
			fill = "lightblue"
		case sys.Tags[i] >= atomgraph.TagAdsorbate:
			fill = "gold"
		}
		fmt.Fprintf(&buf, "  n%d [label=\"%d\\nZ=%d\", fillcolor=%q];\n", i, i, z, fill)
	}
	buf.WriteByte('\n')
	for e := range sys.EdgeSource {
		fmt.Fprintf(&buf, "  n%d -> n%d [label=\"%.2f\"];\n",
			sys.EdgeSource[e], sys.EdgeTarget[e], sys.Distances[e])
	}
	buf.WriteString("}\n")

	_, err := w.Write(buf.Bytes())
	return errors.Wrapf(err, "writing DOT for system %d", sys.SID)
}

// RenderSystemSVG renders the system's neighbor graph to SVG with the
// embedded Graphviz layout engine. See SystemDOT for the styling rules.
func RenderSystemSVG(ctx context.Context, sys *atomgraph.System, highlightZ int32) ([]byte, error) {
	var dot bytes.Buffer
	if err := SystemDOT(&dot, sys, highlightZ); err != nil {
		return nil, err
	}

	gv, err := graphviz.New(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "initializing graphviz")
	}
	defer gv.Close()

	g, err := graphviz.ParseBytes(dot.Bytes())
	if err != nil {
		return nil, errors.Wrap(err, "parsing generated DOT")
	}
	defer g.Close()

	var buf bytes.Buffer
	if err := gv.Render(ctx, g, graphviz.SVG, &buf); err != nil {
		return nil, errors.Wrapf(err, "rendering system %d to SVG", sys.SID)
	}
	return buf.Bytes(), nil
}
