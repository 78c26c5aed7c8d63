package raster

import (
	"fmt"
	"math"
)

func zeroOf(t PixelType, n int) any {
	switch t {
	case Int8:
		return make([]int8, n)
	case Int16:
		return make([]int16, n)
	case Int32:
		return make([]int32, n)
	case Float32:
		return make([]float32, n)
	default:
		return make([]float64, n)
	}
}

func typeOf(v any) (PixelType, error) {
	switch v.(type) {
	case []int8:
		return Int8, nil
	case []int16:
		return Int16, nil
	case []int32:
		return Int32, nil
	case []float32:
		return Float32, nil
	case []float64:
		return Float64, nil
	}
	return 0, fmt.Errorf("unsupported storage type %T", v)
}

// typed narrows vals into a slice of t. Integers are rounded half away from
// zero.
func typed(t PixelType, vals []float64) any {
	switch t {
	case Int8:
		out := make([]int8, len(vals))
		for i, v := range vals {
			out[i] = int8(math.Round(v))
		}
		return out
	case Int16:
		out := make([]int16, len(vals))
		for i, v := range vals {
			out[i] = int16(math.Round(v))
		}
		return out
	case Int32:
		out := make([]int32, len(vals))
		for i, v := range vals {
			out[i] = int32(math.Round(v))
		}
		return out
	case Float32:
		out := make([]float32, len(vals))
		for i, v := range vals {
			out[i] = float32(v)
		}
		return out
	default:
		return append([]float64(nil), vals...)
	}
}

// widen converts any supported typed slice to float64.
func widen(v any) []float64 {
	switch s := v.(type) {
	case []int8:
		out := make([]float64, len(s))
		for i, x := range s {
			out[i] = float64(x)
		}
		return out
	case []int16:
		out := make([]float64, len(s))
		for i, x := range s {
			out[i] = float64(x)
		}
		return out
	case []int32:
		out := make([]float64, len(s))
		for i, x := range s {
			out[i] = float64(x)
		}
		return out
	case []float32:
		out := make([]float64, len(s))
		for i, x := range s {
			out[i] = float64(x)
		}
		return out
	case []float64:
		return s
	}
	return nil
}

// subWindow extracts w from full-width rows, keeping the native type.
func subWindow(rows any, cols int, w Window) any {
	if w.Col == 0 && w.Cols == cols {
		return rows
	}
	switch s := rows.(type) {
	case []int8:
		return extract(s, cols, w)
	case []int16:
		return extract(s, cols, w)
	case []int32:
		return extract(s, cols, w)
	case []float32:
		return extract(s, cols, w)
	case []float64:
		return extract(s, cols, w)
	}
	return rows
}

func extract[T any](s []T, cols int, w Window) []T {
	out := make([]T, 0, w.Len())
	for r := 0; r < w.Rows; r++ {
		out = append(out, s[r*cols+w.Col:r*cols+w.Col+w.Cols]...)
	}
	return out
}
