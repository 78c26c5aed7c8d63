// Package vector is the vector provider: point, line and polygon layers with a
// spatial reference and per-feature attributes.
//
// Layers are read-only values. Reprojection and intersection produce new
// layers. Shapefiles are decoded with github.com/ctessum/geom/encoding/shp and
// the spatial reference is read from the sidecar .prj file; any descriptor
// accepted by github.com/ctessum/geom/proj (PROJ.4 or WKT) is supported.
package vector

import (
	"cmp"
	"fmt"
	"iter"
	"slices"
	"sync"

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/index/rtree"

	"geoweaver/internal/geoerr"
)

// Kind is the geometry type of a layer.
type Kind int

const (
	KindPoint Kind = iota + 1
	KindLine
	KindPolygon
	KindMultiPolygon
)

func (k Kind) String() string {
	switch k {
	case KindPoint:
		return "point"
	case KindLine:
		return "line"
	case KindPolygon:
		return "polygon"
	case KindMultiPolygon:
		return "multipolygon"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Polygonal reports whether the kind holds areas.
func (k Kind) Polygonal() bool { return k == KindPolygon || k == KindMultiPolygon }

// KindOf classifies a geometry.
func KindOf(g geom.Geom) (Kind, bool) {
	switch g.(type) {
	case geom.Point, geom.MultiPoint:
		return KindPoint, true
	case geom.LineString, geom.MultiLineString:
		return KindLine, true
	case geom.Polygon:
		return KindPolygon, true
	case geom.MultiPolygon:
		return KindMultiPolygon, true
	}
	return 0, false
}

// Feature is one record of a layer.
type Feature struct {
	ID    int
	Geom  geom.Geom
	Attrs map[string]string
}

// Polygonal returns the feature geometry as an area, if it is one.
func (f Feature) Polygonal() (geom.Polygonal, bool) {
	p, ok := f.Geom.(geom.Polygonal)
	return p, ok
}

// indexed is the rtree entry for a feature: its geometry plus its position in
// the layer.
type indexed struct {
	geom.Geom
	i int
}

// Layer is an immutable, materialised vector layer.
type Layer struct {
	srs      string
	kind     Kind
	features []Feature

	indexOnce sync.Once
	index     *rtree.Rtree
}

// NewLayer validates feats and builds a layer. Polygon and multipolygon
// features may be mixed; the layer then reports KindMultiPolygon.
func NewLayer(srs string, feats []Feature) (*Layer, error) {
	const op = "vector.NewLayer"
	l := &Layer{srs: srs, features: feats}
	for i := range feats {
		if feats[i].Geom == nil {
			return nil, geoerr.Inputf(op, "", "feature %d has no geometry", feats[i].ID)
		}
		k, ok := KindOf(feats[i].Geom)
		if !ok {
			return nil, geoerr.Inputf(op, "", "feature %d: unsupported geometry %T", feats[i].ID, feats[i].Geom)
		}
		switch {
		case l.kind == 0:
			l.kind = k
		case l.kind == k:
		case l.kind.Polygonal() && k.Polygonal():
			l.kind = KindMultiPolygon
		default:
			return nil, geoerr.Inputf(op, "", "feature %d is %s in a %s layer", feats[i].ID, k, l.kind)
		}
	}
	return l, nil
}

// SRS returns the layer's spatial reference descriptor. Empty means unknown.
func (l *Layer) SRS() string { return l.srs }

// Kind returns the layer's geometry type; zero for an empty layer.
func (l *Layer) Kind() Kind { return l.kind }

func (l *Layer) Len() int { return len(l.features) }

// Feature returns the i-th feature in layer order.
func (l *Layer) Feature(i int) Feature { return l.features[i] }

// Features yields every feature in layer order. Layers are materialised, so
// the sequence can be restarted.
func (l *Layer) Features() iter.Seq[Feature] {
	return func(yield func(Feature) bool) {
		for _, f := range l.features {
			if !yield(f) {
				return
			}
		}
	}
}

// Bounds is the union of all feature bounds, or nil for an empty layer.
func (l *Layer) Bounds() *geom.Bounds {
	if len(l.features) == 0 {
		return nil
	}
	b := geom.NewBounds()
	for i := range l.features {
		b.Extend(l.features[i].Geom.Bounds())
	}
	return b
}

// Search returns the features whose bounds intersect b, in layer order.
func (l *Layer) Search(b *geom.Bounds) []Feature {
	l.indexOnce.Do(func() {
		l.index = rtree.NewTree(25, 50)
		for i := range l.features {
			l.index.Insert(indexed{Geom: l.features[i].Geom, i: i})
		}
	})
	hits := l.index.SearchIntersect(b)
	out := make([]Feature, 0, len(hits))
	for _, h := range hits {
		out = append(out, l.features[h.(indexed).i])
	}
	slices.SortFunc(out, func(a, b Feature) int { return cmp.Compare(a.ID, b.ID) })
	return out
}
