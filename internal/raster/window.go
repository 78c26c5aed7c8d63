package raster

// Window is a rectangular pixel region.
type Window struct {
	Col, Row   int
	Cols, Rows int
}

// Len is the number of pixels in the window.
func (w Window) Len() int { return w.Cols * w.Rows }

// Empty reports whether w covers no pixels.
func (w Window) Empty() bool { return w.Cols <= 0 || w.Rows <= 0 }

// Clip restricts w to a cols x rows frame.
func (w Window) Clip(cols, rows int) Window {
	c0, r0 := max(w.Col, 0), max(w.Row, 0)
	c1, r1 := min(w.Col+w.Cols, cols), min(w.Row+w.Rows, rows)
	if c1 <= c0 || r1 <= r0 {
		return Window{Col: c0, Row: r0}
	}
	return Window{Col: c0, Row: r0, Cols: c1 - c0, Rows: r1 - r0}
}

// Tile splits a cols x rows frame into row-major windows of at most bw x bh
// pixels. Tiles are disjoint and cover the frame exactly.
func Tile(cols, rows, bw, bh int) []Window {
	if bw <= 0 {
		bw = cols
	}
	if bh <= 0 {
		bh = rows
	}
	out := make([]Window, 0, ((cols+bw-1)/bw)*((rows+bh-1)/bh))
	for r := 0; r < rows; r += bh {
		for c := 0; c < cols; c += bw {
			out = append(out, Window{Col: c, Row: r, Cols: min(bw, cols-c), Rows: min(bh, rows-r)})
		}
	}
	return out
}
