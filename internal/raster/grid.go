package raster

// Grid is a whole band held in memory, row-major. Neighbourhood algorithms
// (flow routing, distance transforms, smoothing) work on grids.
type Grid struct {
	Cols, Rows int
	Data       []float64
	Info       BandInfo
}

// NewGrid allocates a grid filled with the band's nodata (or zero).
func NewGrid(cols, rows int, info BandInfo) *Grid {
	g := &Grid{Cols: cols, Rows: rows, Data: make([]float64, cols*rows), Info: info}
	if info.HasNodata && info.Nodata != 0 {
		for i := range g.Data {
			g.Data[i] = info.Nodata
		}
	}
	return g
}

// GridFromRows builds a grid from literal rows; handy for fixtures.
func GridFromRows(rows [][]float64, info BandInfo) *Grid {
	g := &Grid{Rows: len(rows), Info: info}
	if len(rows) > 0 {
		g.Cols = len(rows[0])
	}
	g.Data = make([]float64, 0, g.Cols*g.Rows)
	for _, r := range rows {
		g.Data = append(g.Data, r...)
	}
	return g
}

func (g *Grid) Index(col, row int) int { return row*g.Cols + col }

func (g *Grid) At(col, row int) float64 { return g.Data[row*g.Cols+col] }

func (g *Grid) Set(col, row int, v float64) { g.Data[row*g.Cols+col] = v }

// InBounds reports whether (col, row) lies on the grid.
func (g *Grid) InBounds(col, row int) bool {
	return col >= 0 && row >= 0 && col < g.Cols && row < g.Rows
}

// Valid reports whether (col, row) is on the grid and not nodata.
func (g *Grid) Valid(col, row int) bool {
	return g.InBounds(col, row) && !g.Info.IsNodata(g.Data[row*g.Cols+col])
}

// Rows2D returns a copy of the grid as nested rows.
func (g *Grid) Rows2D() [][]float64 {
	out := make([][]float64, g.Rows)
	for r := range out {
		out[r] = append([]float64(nil), g.Data[r*g.Cols:(r+1)*g.Cols]...)
	}
	return out
}
