package fisheries

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"gonum.org/v1/gonum/mat"

	"geoweaver/internal/geoerr"
	"geoweaver/internal/table"
)

// Structure selects how classes advance.
type Structure int

const (
	AgeBased Structure = iota
	StageBased
)

func (s Structure) String() string {
	if s == StageBased {
		return "stage"
	}
	return "age"
}

// ParseStructure accepts "age" or "stage".
func ParseStructure(s string) (Structure, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "age", "age-based", "":
		return AgeBased, nil
	case "stage", "stage-based":
		return StageBased, nil
	}
	return 0, geoerr.Inputf("fisheries.ParseStructure", "", "unknown population type %q", s)
}

// Sex labels used in column suffixes, in tensor order.
var sexSuffixes = []string{"female", "male"}

// Params are the per-class and per-region biological parameters. Class
// indexed slices are [sex][class].
type Params struct {
	Classes []string
	Regions []string
	Sexes   int

	SurvNat   [][]float64
	Vuln      [][]float64
	Maturity  [][]float64
	Weight    [][]float64
	Fecundity [][]float64
	// Duration is only meaningful for stage-based populations.
	Duration [][]float64

	Exploit  []float64
	LarvDisp []float64
}

// Dims returns (regions, sexes, classes).
func (p *Params) Dims() (int, int, int) {
	return len(p.Regions), p.Sexes, len(p.Classes)
}

// Validate checks shapes and ranges that do not depend on the run mode.
func (p *Params) Validate(st Structure) error {
	const op = "fisheries.Params"
	x, s, a := p.Dims()
	switch {
	case a == 0:
		return geoerr.Inputf(op, "", "no classes")
	case x == 0:
		return geoerr.Inputf(op, "", "no regions")
	case s != 1 && s != 2:
		return geoerr.Inputf(op, "", "sex count must be 1 or 2, got %d", s)
	case len(p.Exploit) != x || len(p.LarvDisp) != x:
		return geoerr.Inputf(op, "", "region vectors have %d/%d entries for %d regions", len(p.Exploit), len(p.LarvDisp), x)
	}
	for name, m := range map[string][][]float64{
		"survnatural": p.SurvNat, "vulnfishing": p.Vuln, "maturity": p.Maturity,
		"weight": p.Weight, "fecundity": p.Fecundity, "duration": p.Duration,
	} {
		if len(m) != s {
			return geoerr.Inputf(op, "", "%s has %d sex rows, want %d", name, len(m), s)
		}
		for _, row := range m {
			if len(row) != a {
				return geoerr.Inputf(op, "", "%s has %d classes, want %d", name, len(row), a)
			}
		}
	}
	if st == StageBased {
		for si := range p.Duration {
			for ai, d := range p.Duration[si] {
				if d < 1 || d != math.Trunc(d) {
					return geoerr.Inputf(op, "", "class %s: duration must be a positive integer, got %v", p.Classes[ai], d)
				}
			}
		}
	}
	return nil
}

// ReadParams reads a parameter file from path.
func ReadParams(path string, sexes int, st Structure) (*Params, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, geoerr.IO("fisheries.ReadParams", path, err)
	}
	defer f.Close()
	return ParseParams(f, path, sexes, st)
}

// ParseParams reads the two-block parameter layout: a class block keyed by
// "class", a blank line, then a region block keyed by "region".
//
// Class columns are survnatural, vulnfishing, maturity and optionally weight,
// fecundity and duration (required for stage-based populations). With two
// sexes every class column is suffixed _female and _male.
func ParseParams(r io.Reader, name string, sexes int, st Structure) (*Params, error) {
	const op = "fisheries.ParseParams"
	blocks, err := splitBlocks(r)
	if err != nil {
		return nil, geoerr.IO(op, name, err)
	}
	if len(blocks) != 2 {
		return nil, geoerr.Inputf(op, name, "want a class block and a region block, found %d blocks", len(blocks))
	}
	if sexes != 1 && sexes != 2 {
		return nil, geoerr.Inputf(op, name, "sex count must be 1 or 2, got %d", sexes)
	}

	required := []string{"survnatural", "vulnfishing", "maturity"}
	if st == StageBased {
		required = append(required, "duration")
	}
	cols := required
	if sexes == 2 {
		cols = nil
		for _, c := range required {
			for _, sx := range sexSuffixes {
				cols = append(cols, c+"_"+sx)
			}
		}
	}
	ct, err := table.ParseLookup(bytes.NewReader(blocks[0]), name, "class", cols...)
	if err != nil {
		return nil, err
	}
	rt, err := table.ParseLookup(bytes.NewReader(blocks[1]), name, "region", "exploitationfraction", "larvaldispersal")
	if err != nil {
		return nil, err
	}

	p := &Params{Classes: ct.Keys(), Regions: rt.Keys(), Sexes: sexes}
	column := func(base string, def float64) ([][]float64, error) {
		out := make([][]float64, sexes)
		for s := range sexes {
			col := base
			if sexes == 2 {
				col = base + "_" + sexSuffixes[s]
			}
			out[s] = make([]float64, len(p.Classes))
			for a, k := range p.Classes {
				if !ct.HasColumn(col) {
					out[s][a] = def
					continue
				}
				v, err := ct.Float(k, col)
				if err != nil {
					return nil, err
				}
				out[s][a] = v
			}
		}
		return out, nil
	}
	fields := []struct {
		base string
		def  float64
		dst  *[][]float64
	}{
		{"survnatural", 0, &p.SurvNat},
		{"vulnfishing", 0, &p.Vuln},
		{"maturity", 0, &p.Maturity},
		{"weight", 1, &p.Weight},
		{"fecundity", 0, &p.Fecundity},
		{"duration", 1, &p.Duration},
	}
	for _, f := range fields {
		if *f.dst, err = column(f.base, f.def); err != nil {
			return nil, err
		}
	}
	for _, k := range p.Regions {
		e, err := rt.Float(k, "exploitationfraction")
		if err != nil {
			return nil, err
		}
		l, err := rt.Float(k, "larvaldispersal")
		if err != nil {
			return nil, err
		}
		if e < 0 || e > 1 {
			return nil, geoerr.Inputf(op, name, "region %s: exploitation fraction %v outside [0, 1]", k, e)
		}
		p.Exploit = append(p.Exploit, e)
		p.LarvDisp = append(p.LarvDisp, l)
	}
	if err := p.Validate(st); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return p, nil
}

func splitBlocks(r io.Reader) ([][]byte, error) {
	var (
		blocks [][]byte
		cur    bytes.Buffer
	)
	flush := func() {
		if cur.Len() > 0 {
			blocks = append(blocks, bytes.Clone(cur.Bytes()))
			cur.Reset()
		}
	}
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := sc.Text()
		if strings.Trim(line, " \t,\r") == "" {
			flush()
			continue
		}
		cur.WriteString(line)
		cur.WriteByte('\n')
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	flush()
	return blocks, nil
}

// ReadMigration reads a migration matrix for one class. The file is keyed by
// destination region in column "region"; every other column is a source
// region. Each source column must sum to 1.
func ReadMigration(path string, regions []string) (*mat.Dense, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, geoerr.IO("fisheries.ReadMigration", path, err)
	}
	defer f.Close()
	return ParseMigration(f, path, regions)
}

// ParseMigration is ReadMigration on a reader.
func ParseMigration(r io.Reader, name string, regions []string) (*mat.Dense, error) {
	const op = "fisheries.ParseMigration"
	t, err := table.ParseLookup(r, name, "region", regions...)
	if err != nil {
		return nil, err
	}
	n := len(regions)
	m := mat.NewDense(n, n, nil)
	for i, dst := range regions {
		for j, src := range regions {
			v, err := t.Float(dst, src)
			if err != nil {
				return nil, err
			}
			if v < 0 || v > 1 {
				return nil, geoerr.Inputf(op, name, "%s -> %s: fraction %v outside [0, 1]", src, dst, v)
			}
			m.Set(i, j, v)
		}
	}
	if err := checkStochastic(m); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return m, nil
}

func checkStochastic(m *mat.Dense) error {
	r, c := m.Dims()
	if r != c {
		return geoerr.Inputf("fisheries.Migration", "", "matrix is %dx%d, want square", r, c)
	}
	for j := range c {
		if sum := mat.Sum(m.ColView(j)); math.Abs(sum-1) > 1e-6 {
			return geoerr.Inputf("fisheries.Migration", "", "column %d sums to %v, want 1", j, sum)
		}
	}
	return nil
}
