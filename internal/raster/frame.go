package raster

import (
	"fmt"
	"math"

	"geoweaver/internal/geoerr"
)

// Tolerance is the relative tolerance used when comparing frame coordinates.
const Tolerance = 1e-9

// Extent is an axis-aligned bounding box in projection units.
type Extent struct {
	XMin, YMin, XMax, YMax float64
}

// Empty reports whether the extent has no area.
func (e Extent) Empty() bool {
	return !(e.XMax > e.XMin) || !(e.YMax > e.YMin)
}

// Width is XMax - XMin.
func (e Extent) Width() float64 { return e.XMax - e.XMin }

// Height is YMax - YMin.
func (e Extent) Height() float64 { return e.YMax - e.YMin }

// Intersect returns the overlap of e and o.
func (e Extent) Intersect(o Extent) Extent {
	return Extent{
		XMin: math.Max(e.XMin, o.XMin),
		YMin: math.Max(e.YMin, o.YMin),
		XMax: math.Min(e.XMax, o.XMax),
		YMax: math.Min(e.YMax, o.YMax),
	}
}

// Union returns the smallest extent covering e and o.
func (e Extent) Union(o Extent) Extent {
	return Extent{
		XMin: math.Min(e.XMin, o.XMin),
		YMin: math.Min(e.YMin, o.YMin),
		XMax: math.Max(e.XMax, o.XMax),
		YMax: math.Max(e.YMax, o.YMax),
	}
}

func (e Extent) String() string {
	return fmt.Sprintf("[%g %g %g %g]", e.XMin, e.YMin, e.XMax, e.YMax)
}

// Frame is the AlignmentFrame: the pixel lattice shared by a set of rasters.
//
// The origin is the corner of pixel (0, 0). Pixel sizes are signed; a
// north-up raster has a positive width and a negative height. Frames are
// immutable; share them by pointer.
type Frame struct {
	originX, originY float64
	pixelW, pixelH   float64
	cols, rows       int
	projection       string
	nodata           float64
}

// NewFrame validates and builds a frame.
//
// nodata is the real-valued sentinel family used for floating point rasters on
// this frame; integer bands keep their own sentinels.
func NewFrame(originX, originY, pixelW, pixelH float64, cols, rows int, projection string, nodata float64) (*Frame, error) {
	const op = "raster.NewFrame"
	if cols <= 0 || rows <= 0 {
		return nil, geoerr.Domainf(op, "frame must have at least one pixel (got %dx%d)", cols, rows)
	}
	if pixelW == 0 || pixelH == 0 || math.IsNaN(pixelW) || math.IsNaN(pixelH) || math.IsInf(pixelW, 0) || math.IsInf(pixelH, 0) {
		return nil, geoerr.Domainf(op, "invalid pixel size (%g, %g)", pixelW, pixelH)
	}
	if math.IsNaN(originX) || math.IsNaN(originY) {
		return nil, geoerr.Domainf(op, "invalid origin (%g, %g)", originX, originY)
	}
	return &Frame{
		originX:    originX,
		originY:    originY,
		pixelW:     pixelW,
		pixelH:     pixelH,
		cols:       cols,
		rows:       rows,
		projection: projection,
		nodata:     nodata,
	}, nil
}

// FrameFromExtent builds a north-up frame covering ext with square-ish pixels
// of the given signed size. The pixel count is rounded to the nearest integer
// so that cols*|pixelW| reproduces the extent width within Tolerance.
func FrameFromExtent(ext Extent, pixelW, pixelH float64, projection string, nodata float64) (*Frame, error) {
	if ext.Empty() {
		return nil, geoerr.Domainf("raster.FrameFromExtent", "extent %s is empty", ext)
	}
	cols := int(math.Round(ext.Width() / math.Abs(pixelW)))
	rows := int(math.Round(ext.Height() / math.Abs(pixelH)))
	ox := ext.XMin
	if pixelW < 0 {
		ox = ext.XMax
	}
	oy := ext.YMax
	if pixelH > 0 {
		oy = ext.YMin
	}
	return NewFrame(ox, oy, pixelW, pixelH, cols, rows, projection, nodata)
}

func (f *Frame) Cols() int              { return f.cols }
func (f *Frame) Rows() int              { return f.rows }
func (f *Frame) Projection() string     { return f.projection }
func (f *Frame) Nodata() float64        { return f.nodata }
func (f *Frame) Origin() (x, y float64) { return f.originX, f.originY }

// PixelSize returns the signed pixel width and height.
func (f *Frame) PixelSize() (w, h float64) { return f.pixelW, f.pixelH }

// PixelArea is the unsigned area of one pixel in projection units.
func (f *Frame) PixelArea() float64 { return math.Abs(f.pixelW * f.pixelH) }

// Extent returns the frame's bounding box.
func (f *Frame) Extent() Extent {
	x1 := f.originX + float64(f.cols)*f.pixelW
	y1 := f.originY + float64(f.rows)*f.pixelH
	return Extent{
		XMin: math.Min(f.originX, x1),
		YMin: math.Min(f.originY, y1),
		XMax: math.Max(f.originX, x1),
		YMax: math.Max(f.originY, y1),
	}
}

// PixelCenter returns the map coordinates of the centre of pixel (col, row).
func (f *Frame) PixelCenter(col, row int) (x, y float64) {
	return f.originX + (float64(col)+0.5)*f.pixelW, f.originY + (float64(row)+0.5)*f.pixelH
}

// Fractional returns the fractional pixel coordinates of map point (x, y).
// Pixel (c, r) spans [c, c+1) x [r, r+1).
func (f *Frame) Fractional(x, y float64) (col, row float64) {
	return (x - f.originX) / f.pixelW, (y - f.originY) / f.pixelH
}

// Contains reports whether (col, row) is inside the frame.
func (f *Frame) Contains(col, row int) bool {
	return col >= 0 && row >= 0 && col < f.cols && row < f.rows
}

// Window returns the window covering the whole frame.
func (f *Frame) Window() Window {
	return Window{Cols: f.cols, Rows: f.rows}
}

// WithNodata returns a copy of f with a different real-valued sentinel.
func (f *Frame) WithNodata(nodata float64) *Frame {
	cp := *f
	cp.nodata = nodata
	return &cp
}

// SameGrid reports whether f and o describe the same pixel lattice in the same
// projection. The nodata sentinel is not compared.
func (f *Frame) SameGrid(o *Frame) bool {
	if f == o {
		return true
	}
	if f == nil || o == nil {
		return false
	}
	if f.cols != o.cols || f.rows != o.rows || f.projection != o.projection {
		return false
	}
	return near(f.pixelW, o.pixelW) && near(f.pixelH, o.pixelH) &&
		nearScaled(f.originX, o.originX, f.pixelW) && nearScaled(f.originY, o.originY, f.pixelH)
}

// Equal reports whether f and o are the same frame, nodata included.
func (f *Frame) Equal(o *Frame) bool {
	if !f.SameGrid(o) {
		return false
	}
	return f.nodata == o.nodata || (math.IsNaN(f.nodata) && math.IsNaN(o.nodata))
}

func (f *Frame) String() string {
	return fmt.Sprintf("frame{origin=(%g,%g) pixel=(%g,%g) size=%dx%d}", f.originX, f.originY, f.pixelW, f.pixelH, f.cols, f.rows)
}

func near(a, b float64) bool {
	return math.Abs(a-b) <= Tolerance*math.Max(1, math.Max(math.Abs(a), math.Abs(b)))
}

func nearScaled(a, b, scale float64) bool {
	return math.Abs(a-b) <= Tolerance*math.Max(1, math.Abs(scale))*math.Max(1, math.Max(math.Abs(a), math.Abs(b)))
}
