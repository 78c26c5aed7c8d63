package vector

import (
	"errors"
	"io/fs"
	"iter"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/encoding/shp"

	"geoweaver/internal/geoerr"
)

// Decode streams the features of a shapefile. Only the named attribute
// columns are decoded. The sequence reads the file once and cannot be
// restarted; consumers that need two passes should use Open.
func Decode(path string, attrs ...string) iter.Seq2[Feature, error] {
	return func(yield func(Feature, error) bool) {
		const op = "vector.Decode"
		d, err := shp.NewDecoder(path)
		if err != nil {
			yield(Feature{}, geoerr.IO(op, path, err))
			return
		}
		defer d.Close()
		for id := 0; ; id++ {
			g, fields, more := d.DecodeRowFields(attrs...)
			if !more {
				break
			}
			rec := make(map[string]string, len(attrs))
			for _, a := range attrs {
				v, ok := fields[a]
				if !ok {
					yield(Feature{}, geoerr.Inputf(op, path, "missing attribute column %q", a))
					return
				}
				rec[a] = cleanField(v)
			}
			if !yield(Feature{ID: id, Geom: g, Attrs: rec}, nil) {
				return
			}
		}
		if err := d.Error(); err != nil {
			yield(Feature{}, geoerr.IO(op, path, err))
		}
	}
}

// dbf values come back padded with spaces or NULs.
func cleanField(s string) string {
	return strings.TrimSpace(strings.ReplaceAll(s, "\x00", ""))
}

// Open materialises a shapefile layer.
func Open(path string, attrs ...string) (*Layer, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, geoerr.IO("vector.Open", path, err)
	}
	srs, err := readPrj(path)
	if err != nil {
		return nil, err
	}
	var feats []Feature
	for f, err := range Decode(path, attrs...) {
		if err != nil {
			return nil, err
		}
		feats = append(feats, f)
	}
	l, err := NewLayer(srs, feats)
	if err != nil {
		return nil, geoerr.Inputf("vector.Open", path, "%v", err)
	}
	return l, nil
}

func prjPath(path string) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + ".prj"
}

func readPrj(path string) (string, error) {
	b, err := os.ReadFile(prjPath(path))
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", geoerr.IO("vector.Open", prjPath(path), err)
	}
	return strings.TrimSpace(string(b)), nil
}

type polygonRecord struct {
	geom.Polygon
	FID   int
	Value float64
}

type pointRecord struct {
	geom.Point
	FID   int
	Value float64
}

// WriteShapefile writes a point or polygon layer. Each record carries the
// feature id (FID) and the numeric attribute valueAttr (Value, NaN when absent
// or unparsable). The layer SRS is written to the .prj sidecar.
func WriteShapefile(path string, l *Layer, valueAttr string) error {
	const op = "vector.WriteShapefile"
	var archetype any
	switch {
	case l.Kind().Polygonal():
		archetype = polygonRecord{}
	case l.Kind() == KindPoint:
		archetype = pointRecord{}
	default:
		return geoerr.Inputf(op, path, "cannot write %s layers", l.Kind())
	}
	e, err := shp.NewEncoder(path, archetype)
	if err != nil {
		return geoerr.IO(op, path, err)
	}
	for f := range l.Features() {
		v := attrFloat(f.Attrs, valueAttr)
		var rec any
		switch g := f.Geom.(type) {
		case geom.Polygonal:
			rec = polygonRecord{Polygon: flatten(g), FID: f.ID, Value: v}
		case geom.Point:
			rec = pointRecord{Point: g, FID: f.ID, Value: v}
		default:
			e.Close()
			return geoerr.Inputf(op, path, "feature %d: cannot write %T", f.ID, f.Geom)
		}
		if err := e.Encode(rec); err != nil {
			e.Close()
			return geoerr.IO(op, path, err)
		}
	}
	e.Close()
	if l.SRS() != "" {
		if err := os.WriteFile(prjPath(path), []byte(l.SRS()), 0o644); err != nil {
			return geoerr.IO(op, prjPath(path), err)
		}
	}
	return nil
}

// flatten joins the rings of every part; shapefile polygons hold any number of
// rings.
func flatten(p geom.Polygonal) geom.Polygon {
	var out geom.Polygon
	for _, part := range p.Polygons() {
		out = append(out, part...)
	}
	return out
}

func attrFloat(attrs map[string]string, name string) float64 {
	if s, ok := attrs[name]; ok {
		if v, err := strconv.ParseFloat(s, 64); err == nil {
			return v
		}
	}
	return nan
}
