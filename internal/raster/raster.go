package raster

import (
	"errors"
	"fmt"
	"math"
	"os"
	"slices"
	"sync"

	"github.com/ctessum/cdf"

	"geoweaver/internal/geoerr"
)

const (
	formatAttr    = "geoweaver_format"
	formatVersion = "raster/1"
	dimY          = "y"
	dimX          = "x"

	// DefaultBlockSize is the natural block edge used when none is requested.
	DefaultBlockSize = 256
)

// Options tunes Create.
type Options struct {
	BlockWidth, BlockHeight int
}

// Raster is an open raster file. It is safe for concurrent use; block I/O is
// serialised internally.
type Raster struct {
	path     string
	frame    *Frame
	bands    []BandInfo
	bw, bh   int
	writable bool

	mu   sync.Mutex
	file *os.File
	nc   *cdf.File
}

func bandVar(b int) string { return fmt.Sprintf("band_%d", b) }

// Create writes a new raster with the given bands on frame. Every band starts
// filled with its nodata sentinel (zero when it has none). An existing file at
// path is replaced.
func Create(path string, frame *Frame, bands []BandInfo, opts Options) (*Raster, error) {
	const op = "raster.Create"
	if frame == nil {
		return nil, geoerr.Invariantf(op, "nil frame")
	}
	if len(bands) == 0 {
		return nil, geoerr.Inputf(op, path, "at least one band is required")
	}
	bands = slices.Clone(bands)
	for i, b := range bands {
		if !b.Type.Valid() {
			return nil, geoerr.Inputf(op, path, "band %d: unsupported pixel type %s", i+1, b.Type)
		}
		if b.HasNodata && !math.IsNaN(b.Nodata) && !b.Type.Representable(b.Nodata) {
			return nil, geoerr.Inputf(op, path, "band %d: nodata %g not representable as %s", i+1, b.Nodata, b.Type)
		}
		if b.HasNodata && b.Type.IsInteger() && math.IsNaN(b.Nodata) {
			return nil, geoerr.Inputf(op, path, "band %d: NaN nodata on integer band", i+1)
		}
		// Compare pixels against the sentinel the file actually holds.
		bands[i].Nodata = b.Type.Stored(b.Nodata)
	}
	bw, bh := opts.BlockWidth, opts.BlockHeight
	if bw <= 0 {
		bw = min(DefaultBlockSize, frame.Cols())
	}
	if bh <= 0 {
		bh = min(DefaultBlockSize, frame.Rows())
	}

	h := cdf.NewHeader([]string{dimY, dimX}, []int{frame.Rows(), frame.Cols()})
	ox, oy := frame.Origin()
	pw, ph := frame.PixelSize()
	h.AddAttribute("", formatAttr, formatVersion)
	h.AddAttribute("", "geotransform", []float64{ox, pw, 0, oy, 0, ph})
	h.AddAttribute("", "frame_nodata", []float64{frame.Nodata()})
	h.AddAttribute("", "block_size", []int32{int32(bw), int32(bh)})
	if frame.Projection() != "" {
		h.AddAttribute("", "projection", frame.Projection())
	}
	for i, b := range bands {
		name := bandVar(i + 1)
		h.AddVariable(name, []string{dimY, dimX}, zeroOf(b.Type, 1))
		if b.HasNodata {
			h.AddAttribute(name, "_FillValue", typed(b.Type, []float64{b.Nodata}))
		}
	}
	h.Define()

	f, err := os.Create(path)
	if err != nil {
		return nil, geoerr.IO(op, path, err)
	}
	nc, err := cdf.Create(f, h)
	if err != nil {
		_ = f.Close()
		return nil, geoerr.IO(op, path, err)
	}
	r := &Raster{path: path, frame: frame, bands: bands, bw: bw, bh: bh, writable: true, file: f, nc: nc}
	for i, b := range bands {
		fill := 0.0
		if b.HasNodata {
			fill = b.Nodata
		}
		if err := r.fill(i+1, fill); err != nil {
			_ = r.Close()
			return nil, err
		}
	}
	return r, nil
}

// CreateLike creates a single-band raster on frame.
func CreateLike(path string, frame *Frame, t PixelType, nodata float64) (*Raster, error) {
	return Create(path, frame, []BandInfo{{Type: t, Nodata: nodata, HasNodata: true}}, Options{})
}

// Open opens an existing raster read-only.
func Open(path string) (*Raster, error) { return open(path, false) }

// OpenUpdate opens an existing raster for reading and writing.
func OpenUpdate(path string) (*Raster, error) { return open(path, true) }

func open(path string, writable bool) (*Raster, error) {
	const op = "raster.Open"
	flag := os.O_RDONLY
	if writable {
		flag = os.O_RDWR
	}
	f, err := os.OpenFile(path, flag, 0)
	if err != nil {
		return nil, geoerr.IO(op, path, err)
	}
	nc, err := cdf.Open(f)
	if err != nil {
		_ = f.Close()
		return nil, geoerr.Unsupported(op, path, err)
	}
	r, err := fromHeader(path, nc)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	r.file, r.writable = f, writable
	return r, nil
}

func fromHeader(path string, nc *cdf.File) (*Raster, error) {
	const op = "raster.Open"
	hdr := nc.Header
	if v, _ := hdr.GetAttribute("", formatAttr).(string); v != formatVersion {
		return nil, geoerr.Unsupported(op, path, fmt.Errorf("missing %s attribute", formatAttr))
	}
	gt, ok := hdr.GetAttribute("", "geotransform").([]float64)
	if !ok || len(gt) != 6 {
		return nil, geoerr.Unsupported(op, path, errors.New("missing geotransform"))
	}
	if gt[2] != 0 || gt[4] != 0 {
		return nil, geoerr.Unsupported(op, path, errors.New("rotated geotransforms are not supported"))
	}
	frameNodata := math.Inf(-1)
	if v, ok := hdr.GetAttribute("", "frame_nodata").([]float64); ok && len(v) == 1 {
		frameNodata = v[0]
	}
	proj, _ := hdr.GetAttribute("", "projection").(string)

	var bands []BandInfo
	var rows, cols int
	for b := 1; ; b++ {
		name := bandVar(b)
		if !hasVariable(hdr.Variables(), name) {
			break
		}
		dims := hdr.Lengths(name)
		if len(dims) != 2 {
			return nil, geoerr.Unsupported(op, path, fmt.Errorf("%s is not two-dimensional", name))
		}
		if b == 1 {
			rows, cols = dims[0], dims[1]
		} else if dims[0] != rows || dims[1] != cols {
			return nil, geoerr.Unsupported(op, path, fmt.Errorf("%s shape differs from band 1", name))
		}
		t, err := typeOf(nc.Reader(name, nil, nil).Zero(1))
		if err != nil {
			return nil, geoerr.Unsupported(op, path, fmt.Errorf("%s: %w", name, err))
		}
		info := BandInfo{Type: t}
		if fv := hdr.GetAttribute(name, "_FillValue"); fv != nil {
			if vals := widen(fv); len(vals) == 1 {
				info.Nodata, info.HasNodata = vals[0], true
			}
		}
		bands = append(bands, info)
	}
	if len(bands) == 0 {
		return nil, geoerr.Unsupported(op, path, errors.New("no bands"))
	}
	frame, err := NewFrame(gt[0], gt[3], gt[1], gt[5], cols, rows, proj, frameNodata)
	if err != nil {
		return nil, err
	}
	bw, bh := min(DefaultBlockSize, cols), min(DefaultBlockSize, rows)
	if bs, ok := hdr.GetAttribute("", "block_size").([]int32); ok && len(bs) == 2 && bs[0] > 0 && bs[1] > 0 {
		bw, bh = int(bs[0]), int(bs[1])
	}
	return &Raster{path: path, frame: frame, bands: bands, bw: bw, bh: bh, nc: nc}, nil
}

func hasVariable(vars []string, name string) bool {
	for _, v := range vars {
		if v == name {
			return true
		}
	}
	return false
}

// Close releases the file handle.
func (r *Raster) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return nil
	}
	var err error
	if r.writable {
		err = r.file.Sync()
	}
	if cerr := r.file.Close(); err == nil {
		err = cerr
	}
	r.file = nil
	if err != nil {
		return geoerr.IO("raster.Close", r.path, err)
	}
	return nil
}

func (r *Raster) Path() string       { return r.path }
func (r *Raster) Frame() *Frame      { return r.frame }
func (r *Raster) BandCount() int     { return len(r.bands) }
func (r *Raster) Projection() string { return r.frame.Projection() }

// Band returns the metadata of band b (1-based).
func (r *Raster) Band(b int) BandInfo { return r.bands[b-1] }

// Nodata returns the sentinel of band b and whether one is declared.
func (r *Raster) Nodata(b int) (float64, bool) {
	info := r.bands[b-1]
	return info.Nodata, info.HasNodata
}

// BlockSize returns the natural block size.
func (r *Raster) BlockSize() (w, h int) { return r.bw, r.bh }

// Blocks enumerates the natural blocks in row-major order.
func (r *Raster) Blocks() []Window {
	return Tile(r.frame.Cols(), r.frame.Rows(), r.bw, r.bh)
}

func (r *Raster) checkWindow(op string, b int, w Window) error {
	if b < 1 || b > len(r.bands) {
		return geoerr.Inputf(op, r.path, "band %d out of range [1,%d]", b, len(r.bands))
	}
	if w.Empty() || w.Col < 0 || w.Row < 0 || w.Col+w.Cols > r.frame.Cols() || w.Row+w.Rows > r.frame.Rows() {
		return geoerr.Invariantf(op, "window %+v outside %dx%d raster %s", w, r.frame.Cols(), r.frame.Rows(), r.path)
	}
	return nil
}

// ReadBlockNative reads a window of band b in its stored type ([]int8,
// []int16, []int32, []float32 or []float64), row-major.
func (r *Raster) ReadBlockNative(b int, w Window) (any, error) {
	const op = "raster.ReadBlock"
	if err := r.checkWindow(op, b, w); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return nil, geoerr.IO(op, r.path, os.ErrClosed)
	}
	rows, err := r.readRows(b, w.Row, w.Rows)
	if err != nil {
		return nil, geoerr.IO(op, r.path, err)
	}
	return subWindow(rows, r.frame.Cols(), w), nil
}

// ReadBlock reads a window of band b widened to float64.
func (r *Raster) ReadBlock(b int, w Window) ([]float64, error) {
	v, err := r.ReadBlockNative(b, w)
	if err != nil {
		return nil, err
	}
	return widen(v), nil
}

// WriteBlock stores data (row-major, len == w.Len()) into band b. Values are
// rounded for integer bands; a value that the band type cannot hold is a
// DomainError and nothing is written.
func (r *Raster) WriteBlock(b int, w Window, data []float64) error {
	const op = "raster.WriteBlock"
	if err := r.checkWindow(op, b, w); err != nil {
		return err
	}
	if len(data) != w.Len() {
		return geoerr.Invariantf(op, "block has %d values, window needs %d", len(data), w.Len())
	}
	if !r.writable {
		return geoerr.Inputf(op, r.path, "raster is read-only")
	}
	info := r.bands[b-1]
	for _, v := range data {
		if !info.Type.Representable(v) && !info.IsNodata(v) {
			return geoerr.Domainf(op, "value %g not representable as %s in %s", v, info.Type, r.path)
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return geoerr.IO(op, r.path, os.ErrClosed)
	}
	cols := r.frame.Cols()
	var rows []float64
	if w.Col == 0 && w.Cols == cols {
		rows = data
	} else {
		native, err := r.readRows(b, w.Row, w.Rows)
		if err != nil {
			return geoerr.IO(op, r.path, err)
		}
		rows = widen(native)
		for rr := 0; rr < w.Rows; rr++ {
			copy(rows[rr*cols+w.Col:rr*cols+w.Col+w.Cols], data[rr*w.Cols:(rr+1)*w.Cols])
		}
	}
	if err := r.writeRows(b, w.Row, w.Rows, typed(info.Type, rows)); err != nil {
		return geoerr.IO(op, r.path, err)
	}
	return nil
}

// ReadGrid loads the whole of band b.
func (r *Raster) ReadGrid(b int) (*Grid, error) {
	data, err := r.ReadBlock(b, r.frame.Window())
	if err != nil {
		return nil, err
	}
	return &Grid{Cols: r.frame.Cols(), Rows: r.frame.Rows(), Data: data, Info: r.bands[b-1]}, nil
}

// WriteGrid stores a whole band.
func (r *Raster) WriteGrid(b int, g *Grid) error {
	if g.Cols != r.frame.Cols() || g.Rows != r.frame.Rows() {
		return geoerr.Invariantf("raster.WriteGrid", "grid %dx%d does not match raster %dx%d", g.Cols, g.Rows, r.frame.Cols(), r.frame.Rows())
	}
	return r.WriteBlock(b, r.frame.Window(), g.Data)
}

// Rows are contiguous in a non-record netCDF variable, so all file I/O moves
// whole rows.
func (r *Raster) readRows(b, row, n int) (any, error) {
	rd := r.nc.Reader(bandVar(b), []int{row, 0}, []int{row + n, r.frame.Cols()})
	buf := rd.Zero(n * r.frame.Cols())
	if _, err := rd.Read(buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func (r *Raster) writeRows(b, row, n int, data any) error {
	wr := r.nc.Writer(bandVar(b), []int{row, 0}, []int{row + n, r.frame.Cols()})
	_, err := wr.Write(data)
	return err
}

func (r *Raster) fill(b int, v float64) error {
	cols := r.frame.Cols()
	chunk := max(1, min(r.frame.Rows(), (1<<20)/max(cols, 1)))
	buf := make([]float64, chunk*cols)
	for i := range buf {
		buf[i] = v
	}
	t := r.bands[b-1].Type
	for row := 0; row < r.frame.Rows(); row += chunk {
		n := min(chunk, r.frame.Rows()-row)
		if err := r.writeRows(b, row, n, typed(t, buf[:n*cols])); err != nil {
			return geoerr.IO("raster.Create", r.path, err)
		}
	}
	return nil
}

// FromGrid creates a single-band raster holding g. Handy in tests and for
// small derived products.
func FromGrid(path string, frame *Frame, t PixelType, g *Grid) (*Raster, error) {
	r, err := Create(path, frame, []BandInfo{{Type: t, Nodata: g.Info.Nodata, HasNodata: g.Info.HasNodata}}, Options{})
	if err != nil {
		return nil, err
	}
	if err := r.WriteGrid(1, g); err != nil {
		_ = r.Close()
		return nil, err
	}
	return r, nil
}
