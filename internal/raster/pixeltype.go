package raster

import (
	"fmt"
	"math"
	"strings"
)

// PixelType is the storage type of a band.
type PixelType int

const (
	Int8 PixelType = iota + 1
	Int16
	Int32
	Float32
	Float64
)

func (p PixelType) String() string {
	switch p {
	case Int8:
		return "int8"
	case Int16:
		return "int16"
	case Int32:
		return "int32"
	case Float32:
		return "float32"
	case Float64:
		return "float64"
	default:
		return fmt.Sprintf("PixelType(%d)", int(p))
	}
}

// ParsePixelType accepts the names produced by String.
func ParsePixelType(s string) (PixelType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "int8", "byte":
		return Int8, nil
	case "int16":
		return Int16, nil
	case "int32":
		return Int32, nil
	case "float32":
		return Float32, nil
	case "float64":
		return Float64, nil
	}
	return 0, fmt.Errorf("unknown pixel type %q", s)
}

// IsInteger reports whether p stores integers.
func (p PixelType) IsInteger() bool {
	return p == Int8 || p == Int16 || p == Int32
}

// Valid reports whether p is one of the supported types.
func (p PixelType) Valid() bool {
	return p >= Int8 && p <= Float64
}

// Range returns the representable range of an integer type. Float types
// report infinite bounds.
func (p PixelType) Range() (lo, hi float64) {
	switch p {
	case Int8:
		return math.MinInt8, math.MaxInt8
	case Int16:
		return math.MinInt16, math.MaxInt16
	case Int32:
		return math.MinInt32, math.MaxInt32
	default:
		return math.Inf(-1), math.Inf(1)
	}
}

// DefaultNodata is the sentinel used when a band of type p needs one and the
// caller did not choose: the most negative integer, or -Inf for reals.
func (p PixelType) DefaultNodata() float64 {
	if p.IsInteger() {
		lo, _ := p.Range()
		return lo
	}
	return math.Inf(-1)
}

// Representable reports whether v can be stored in a band of type p without
// loss beyond rounding.
func (p PixelType) Representable(v float64) bool {
	if p == Float32 {
		return math.IsNaN(v) || math.IsInf(v, 0) || math.Abs(v) <= math.MaxFloat32
	}
	if !p.IsInteger() {
		return true
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return false
	}
	lo, hi := p.Range()
	r := math.Round(v)
	return r >= lo && r <= hi
}

// Stored returns v as a band of type p holds it: rounded for integers,
// narrowed for Float32.
func (p PixelType) Stored(v float64) float64 {
	switch {
	case p == Float32:
		return float64(float32(v))
	case p.IsInteger() && !math.IsNaN(v):
		return math.Round(v)
	}
	return v
}

// BandInfo describes one band.
type BandInfo struct {
	Type      PixelType
	Nodata    float64
	HasNodata bool
}

// IsNodata reports whether v is the band's nodata sentinel. Non-finite
// sentinels compare by class, so a NaN sentinel matches every NaN pixel.
func (b BandInfo) IsNodata(v float64) bool {
	if !b.HasNodata {
		return false
	}
	if v == b.Nodata {
		return true
	}
	return math.IsNaN(b.Nodata) && math.IsNaN(v)
}
