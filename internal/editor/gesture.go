package editor

import (
	"math"

	"github.com/mbp-platform/envmodel/internal/graph"
)

// GestureKind is the kind of pointer gesture on a node.
type GestureKind string

const (
	GestureMove   GestureKind = "move"
	GestureResize GestureKind = "resize"
	GestureRotate GestureKind = "rotate"
)

// RotationStep is the angle rotation snaps to, in degrees.
const RotationStep = 15.0

// MinNodeSize is the smallest width or height a resize produces.
const MinNodeSize = 10.0

type gesture struct {
	kind         GestureKind
	elementID    string
	start        graph.Point
	orig         graph.Geometry
	freeResize   bool
	handleOffset float64
	current      graph.Geometry
}

// apply computes the geometry for the pointer at p.
func (g *gesture) apply(p graph.Point) graph.Geometry {
	dx, dy := p.X-g.start.X, p.Y-g.start.Y
	geo := g.orig

	switch g.kind {
	case GestureMove:
		geo.X += dx
		geo.Y += dy
	case GestureResize:
		geo.Width, geo.Height = resize(g.orig, dx, dy, g.freeResize)
	case GestureRotate:
		geo.Angle = rotation(g.orig.Center(), p, g.handleOffset)
	}
	g.current = geo
	return geo
}

func resize(orig graph.Geometry, dx, dy float64, free bool) (w, h float64) {
	if free || orig.Width <= 0 || orig.Height <= 0 {
		return math.Max(MinNodeSize, orig.Width+dx), math.Max(MinNodeSize, orig.Height+dy)
	}
	// Aspect-locked: follow whichever axis grew relatively more.
	scale := math.Max((orig.Width+dx)/orig.Width, (orig.Height+dy)/orig.Height)
	minScale := math.Max(MinNodeSize/orig.Width, MinNodeSize/orig.Height)
	if scale < minScale {
		scale = minScale
	}
	return orig.Width * scale, orig.Height * scale
}

// rotation returns the snapped angle in [0, 360) of the pointer around c,
// corrected by the angle at which the rotate handle sits.
func rotation(c, p graph.Point, handleOffset float64) float64 {
	deg := math.Atan2(p.Y-c.Y, p.X-c.X)*180/math.Pi - handleOffset
	snapped := math.Round(deg/RotationStep) * RotationStep
	snapped = math.Mod(snapped, 360)
	if snapped < 0 {
		snapped += 360
	}
	return snapped
}
