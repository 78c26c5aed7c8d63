package vector

import (
	"math"

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/proj"

	"geoweaver/internal/geoerr"
)

var nan = math.NaN()

// Transform returns a transformer from the src descriptor to dst.
func Transform(src, dst string) (proj.Transformer, error) {
	const op = "vector.Transform"
	if src == "" || dst == "" {
		return nil, geoerr.Inputf(op, "", "unknown spatial reference (%q -> %q)", src, dst)
	}
	s, err := proj.Parse(src)
	if err != nil {
		return nil, geoerr.IO(op, "", err)
	}
	d, err := proj.Parse(dst)
	if err != nil {
		return nil, geoerr.IO(op, "", err)
	}
	t, err := s.NewTransform(d)
	if err != nil {
		return nil, geoerr.IO(op, "", err)
	}
	return t, nil
}

// Reproject returns l expressed in the target spatial reference. A layer
// already in target is returned as is.
func Reproject(l *Layer, target string) (*Layer, error) {
	if l.SRS() == target {
		return l, nil
	}
	t, err := Transform(l.SRS(), target)
	if err != nil {
		return nil, err
	}
	feats := make([]Feature, 0, l.Len())
	for f := range l.Features() {
		g, err := f.Geom.Transform(t)
		if err != nil {
			return nil, geoerr.IO("vector.Reproject", "", err)
		}
		feats = append(feats, Feature{ID: f.ID, Geom: g, Attrs: f.Attrs})
	}
	return NewLayer(target, feats)
}

// Intersect returns the pairwise polygon intersections of a and b in a's
// spatial reference. Empty intersections are dropped. Attributes of a are
// kept; attributes of b are added, prefixed with "b_" where the names clash.
func Intersect(a, b *Layer) (*Layer, error) {
	const op = "vector.Intersect"
	if a.Len() == 0 || b.Len() == 0 {
		return NewLayer(a.SRS(), nil)
	}
	if !a.Kind().Polygonal() || !b.Kind().Polygonal() {
		return nil, geoerr.Inputf(op, "", "intersection needs polygon layers (got %s and %s)", a.Kind(), b.Kind())
	}
	bb, err := Reproject(b, a.SRS())
	if err != nil {
		return nil, err
	}
	var out []Feature
	for fa := range a.Features() {
		pa, _ := fa.Polygonal()
		for _, fb := range bb.Search(fa.Geom.Bounds()) {
			pb, _ := fb.Polygonal()
			isect := pa.Intersection(pb)
			if isect == nil || len(isect.Polygons()) == 0 || isect.Area() <= 0 {
				continue
			}
			attrs := make(map[string]string, len(fa.Attrs)+len(fb.Attrs))
			for k, v := range fa.Attrs {
				attrs[k] = v
			}
			for k, v := range fb.Attrs {
				if _, clash := attrs[k]; clash {
					k = "b_" + k
				}
				attrs[k] = v
			}
			out = append(out, Feature{ID: len(out), Geom: isect, Attrs: attrs})
		}
	}
	return NewLayer(a.SRS(), out)
}

// Covers reports whether point (x, y) is inside p or on its edge.
func Covers(p geom.Polygonal, x, y float64) bool {
	return geom.Point{X: x, Y: y}.Within(p) != geom.Outside
}
