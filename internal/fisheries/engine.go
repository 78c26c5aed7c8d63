package fisheries

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/ctessum/sparse"
	"gonum.org/v1/gonum/mat"

	"geoweaver/internal/geoerr"
)

// Recruitment selects the stock-recruit relationship.
type Recruitment int

const (
	BevertonHolt Recruitment = iota
	Ricker
	Fecundity
	Fixed
)

var recruitmentNames = []string{"beverton-holt", "ricker", "fecundity", "fixed"}

func (r Recruitment) String() string {
	if int(r) < len(recruitmentNames) {
		return recruitmentNames[r]
	}
	return fmt.Sprintf("Recruitment(%d)", int(r))
}

// ParseRecruitment accepts the names printed by String.
func ParseRecruitment(s string) (Recruitment, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, n := range recruitmentNames {
		if s == n {
			return Recruitment(i), nil
		}
	}
	return 0, geoerr.Inputf("fisheries.ParseRecruitment", "", "unknown recruitment function %q", s)
}

// Units selects whether spawners or harvest are counted or weighed.
type Units int

const (
	Individuals Units = iota
	Weight
)

// ParseUnits accepts "individuals" or "weight".
func ParseUnits(s string) (Units, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "individuals", "":
		return Individuals, nil
	case "weight":
		return Weight, nil
	}
	return 0, geoerr.Inputf("fisheries.ParseUnits", "", "unknown units %q", s)
}

// Config controls one population run.
type Config struct {
	Structure   Structure
	Recruitment Recruitment
	// Alpha and Beta parameterize Beverton-Holt and Ricker.
	Alpha, Beta   float64
	FixedRecruits float64

	SpawnUnits   Units
	HarvestUnits Units

	// InitialRecruits seeds class 0 at t=0 before larval dispersal.
	InitialRecruits float64
	Timesteps       int

	// Migration maps a class index to its left-stochastic region matrix.
	// Classes without an entry do not migrate.
	Migration map[int]*mat.Dense

	FracPostProcess float64
	UnitPrice       float64

	// Strict turns out-of-range survival into an invariant failure.
	Strict bool
	Warn   geoerr.WarningFunc
}

// Result holds the cohort tensor and the per-timestep summaries derived from
// it. Tables are indexed [t][x].
type Result struct {
	Params    *Params
	Timesteps int

	// N is the cohort tensor with shape [T+1, X, S, A].
	N *sparse.DenseArray

	Spawners [][]float64
	Recruits [][]float64
	Harvest  [][]float64
	Value    [][]float64
}

// At returns N[t, x, s, a].
func (r *Result) At(t, x, s, a int) float64 { return r.N.Get(t, x, s, a) }

// RegionTotal sums every sex and class of region x at timestep t.
func (r *Result) RegionTotal(t, x int) float64 {
	_, ns, na := r.Params.Dims()
	var sum float64
	for s := range ns {
		for a := range na {
			sum += r.N.Get(t, x, s, a)
		}
	}
	return sum
}

// Total sums the whole population at timestep t.
func (r *Result) Total(t int) float64 {
	nx, _, _ := r.Params.Dims()
	var sum float64
	for x := range nx {
		sum += r.RegionTotal(t, x)
	}
	return sum
}

// TotalSpawners sums spawners over regions at timestep t.
func (r *Result) TotalSpawners(t int) float64 {
	var sum float64
	for _, v := range r.Spawners[t] {
		sum += v
	}
	return sum
}

type engine struct {
	p   *Params
	cfg Config

	nx, ns, na int

	// Rates indexed [x][s][a].
	surv, grow, stay [][][]float64
	// Spawning and harvest weights indexed [s][a].
	spawnW, harvestW [][]float64
}

// Run simulates cfg.Timesteps steps of the population described by p.
func Run(ctx context.Context, p *Params, cfg Config) (*Result, error) {
	const op = "fisheries.Run"
	if err := p.Validate(cfg.Structure); err != nil {
		return nil, err
	}
	if err := cfg.check(p); err != nil {
		return nil, err
	}
	e := &engine{p: p, cfg: cfg}
	e.nx, e.ns, e.na = p.Dims()
	if err := e.rates(); err != nil {
		return nil, err
	}

	res := &Result{
		Params:    p,
		Timesteps: cfg.Timesteps,
		N:         sparse.ZerosDense(cfg.Timesteps+1, e.nx, e.ns, e.na),
		Spawners:  make([][]float64, cfg.Timesteps+1),
		Recruits:  make([][]float64, cfg.Timesteps+1),
		Harvest:   make([][]float64, cfg.Timesteps+1),
		Value:     make([][]float64, cfg.Timesteps+1),
	}
	e.initial(res)
	e.summarize(res, 0)
	for t := 1; t <= cfg.Timesteps; t++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		e.step(res, t)
		e.migrate(res, t)
		e.summarize(res, t)
		if n := e.nonFinite(res, t); n > 0 {
			cfg.Warn.Emit(geoerr.Warning{Op: op, Detail: fmt.Sprintf("timestep %d: non-finite cohort values", t), Count: n})
		}
	}
	return res, nil
}

func (c Config) check(p *Params) error {
	const op = "fisheries.Run"
	nx, _, na := p.Dims()
	switch {
	case c.Timesteps < 0:
		return geoerr.Domainf(op, "total timesteps must be non-negative, got %d", c.Timesteps)
	case c.InitialRecruits < 0 || math.IsNaN(c.InitialRecruits):
		return geoerr.Domainf(op, "initial recruits must be non-negative, got %v", c.InitialRecruits)
	case c.Recruitment < BevertonHolt || c.Recruitment > Fixed:
		return geoerr.Inputf(op, "", "unknown recruitment function %d", int(c.Recruitment))
	case c.Recruitment == Fixed && c.FixedRecruits < 0:
		return geoerr.Domainf(op, "fixed recruitment must be non-negative, got %v", c.FixedRecruits)
	}
	for a, m := range c.Migration {
		if a < 0 || a >= na {
			return geoerr.Inputf(op, "", "migration given for class %d of %d", a, na)
		}
		if r, cc := m.Dims(); r != nx || cc != nx {
			return geoerr.Inputf(op, "", "class %s: migration matrix is %dx%d for %d regions", p.Classes[a], r, cc, nx)
		}
		if n := countNonFinite(m.RawMatrix().Data); n > 0 {
			c.Warn.Emit(geoerr.Warning{Op: op, Detail: fmt.Sprintf("class %s: non-finite migration entries", p.Classes[a]), Count: n})
			continue
		}
		if err := checkStochastic(m); err != nil {
			return fmt.Errorf("class %s: %w", p.Classes[a], err)
		}
	}
	return nil
}

// rates derives survival and, for stage-based populations, the growth and
// stay fractions G and P.
func (e *engine) rates() error {
	const op = "fisheries.Run"
	var bad, outside int
	e.surv = make([][][]float64, e.nx)
	e.grow = make([][][]float64, e.nx)
	e.stay = make([][][]float64, e.nx)
	for x := range e.nx {
		e.surv[x] = make([][]float64, e.ns)
		e.grow[x] = make([][]float64, e.ns)
		e.stay[x] = make([][]float64, e.ns)
		for s := range e.ns {
			e.surv[x][s] = make([]float64, e.na)
			e.grow[x][s] = make([]float64, e.na)
			e.stay[x][s] = make([]float64, e.na)
			for a := range e.na {
				v := Survival(e.p.SurvNat[s][a], e.p.Exploit[x], e.p.Vuln[s][a])
				switch {
				case math.IsNaN(v) || math.IsInf(v, 0):
					bad++
				case v < 0 || v > 1:
					if e.cfg.Strict {
						return geoerr.Invariantf(op, "region %s class %s: survival %v outside [0, 1]", e.p.Regions[x], e.p.Classes[a], v)
					}
					outside++
				}
				e.surv[x][s][a] = v
				switch {
				case e.cfg.Structure != StageBased:
				case a == e.na-1:
					e.grow[x][s][a], e.stay[x][s][a] = 0, v
				default:
					g, p := GrowthStay(v, e.p.Duration[s][a])
					e.grow[x][s][a], e.stay[x][s][a] = g, p
					if math.IsNaN(g) || math.IsNaN(p) {
						bad++
					}
				}
			}
		}
	}
	if bad > 0 {
		e.cfg.Warn.Emit(geoerr.Warning{Op: op, Detail: "non-finite survival or transition rates", Count: bad})
	}
	if outside > 0 {
		e.cfg.Warn.Emit(geoerr.Warning{Op: op, Detail: "survival outside [0, 1]", Count: outside})
	}

	ones := func() [][]float64 {
		w := make([][]float64, e.ns)
		for s := range w {
			w[s] = make([]float64, e.na)
			for a := range w[s] {
				w[s][a] = 1
			}
		}
		return w
	}
	switch {
	case e.cfg.Recruitment == Fecundity:
		e.spawnW = e.p.Fecundity
	case e.cfg.SpawnUnits == Weight:
		e.spawnW = e.p.Weight
	default:
		e.spawnW = ones()
	}
	e.harvestW = ones()
	if e.cfg.HarvestUnits == Weight {
		e.harvestW = e.p.Weight
	}
	return nil
}

// Survival is the fraction of a class surviving one timestep in a region
// with exploitation fraction exploit.
func Survival(survNat, exploit, vuln float64) float64 {
	return survNat * (1 - exploit*vuln)
}

// GrowthStay splits survival s of a stage lasting d timesteps into the
// fraction that grows into the next stage and the fraction that stays, so
// g + p == s.
func GrowthStay(s, d float64) (g, p float64) {
	switch {
	case s == 0:
		return 0, 0
	case s == 1:
		return 1 / d, (d - 1) / d
	}
	sd := math.Pow(s, d)
	g = sd * (1 - s) / (1 - sd)
	p = s * (1 - math.Pow(s, d-1)) / (1 - sd)
	return g, p
}

func (e *engine) recruitment(sp float64) float64 {
	c := e.cfg
	switch c.Recruitment {
	case BevertonHolt:
		return c.Alpha * sp / (c.Beta + sp)
	case Ricker:
		return c.Alpha * sp * math.Exp(-c.Beta*sp)
	case Fecundity:
		return sp
	default:
		return c.FixedRecruits
	}
}

// recruits distributes total recruitment over regions and sexes.
func (e *engine) recruits(total float64) []float64 {
	r := make([]float64, e.nx)
	for x := range r {
		r[x] = e.p.LarvDisp[x] * total / float64(e.ns)
	}
	return r
}

func (e *engine) initial(res *Result) {
	n := res.N
	r0 := e.recruits(e.cfg.InitialRecruits)
	for x := range e.nx {
		for s := range e.ns {
			put(n, r0[x], 0, x, s, 0)
			for a := 1; a < e.na; a++ {
				if e.cfg.Structure == StageBased {
					put(n, 1, 0, x, s, a)
					continue
				}
				put(n, n.Get(0, x, s, a-1)*e.surv[x][s][a-1], 0, x, s, a)
			}
			last := e.na - 1
			if e.cfg.Structure == AgeBased && last > 0 {
				if sv := e.surv[x][s][last]; sv < 1 {
					put(n, n.Get(0, x, s, last)/(1-sv), 0, x, s, last)
				}
			}
		}
	}
	res.Recruits[0] = r0
}

func (e *engine) step(res *Result, t int) {
	n := res.N
	var sp float64
	for _, v := range res.Spawners[t-1] {
		sp += v
	}
	r := e.recruits(e.recruitment(sp))
	res.Recruits[t] = r
	last := e.na - 1
	for x := range e.nx {
		for s := range e.ns {
			for a := range e.na {
				var v float64
				switch e.cfg.Structure {
				case StageBased:
					if a == 0 {
						v = r[x]
					} else {
						v = n.Get(t-1, x, s, a-1) * e.grow[x][s][a-1]
					}
					v += n.Get(t-1, x, s, a) * e.stay[x][s][a]
				default:
					if a == 0 {
						v = r[x]
					} else {
						v = n.Get(t-1, x, s, a-1) * e.surv[x][s][a-1]
					}
					if a == last {
						v += n.Get(t-1, x, s, a) * e.surv[x][s][a]
					}
				}
				put(n, v, t, x, s, a)
			}
		}
	}
}

// put overwrites one cell. DenseArray.Set ignores zero values, which would
// leave a stale count behind when a cell is emptied.
func put(n *sparse.DenseArray, v float64, index ...int) {
	n.Elements[n.Index1d(index...)] = v
}

func (e *engine) migrate(res *Result, t int) {
	if len(e.cfg.Migration) == 0 {
		return
	}
	col := mat.NewVecDense(e.nx, nil)
	moved := mat.NewVecDense(e.nx, nil)
	for a, m := range e.cfg.Migration {
		for s := range e.ns {
			for x := range e.nx {
				col.SetVec(x, res.N.Get(t, x, s, a))
			}
			moved.MulVec(m, col)
			for x := range e.nx {
				put(res.N, moved.AtVec(x), t, x, s, a)
			}
		}
	}
}

func (e *engine) summarize(res *Result, t int) {
	sp := make([]float64, e.nx)
	h := make([]float64, e.nx)
	v := make([]float64, e.nx)
	for x := range e.nx {
		for s := range e.ns {
			for a := range e.na {
				c := res.N.Get(t, x, s, a)
				sp[x] += c * e.p.Maturity[s][a] * e.spawnW[s][a]
				h[x] += c * e.p.Exploit[x] * e.p.Vuln[s][a] * e.harvestW[s][a]
			}
		}
		v[x] = h[x] * e.cfg.FracPostProcess * e.cfg.UnitPrice
	}
	res.Spawners[t] = sp
	res.Harvest[t] = h
	res.Value[t] = v
}

func (e *engine) nonFinite(res *Result, t int) int {
	var n int
	for x := range e.nx {
		for s := range e.ns {
			for a := range e.na {
				if v := res.N.Get(t, x, s, a); math.IsNaN(v) || math.IsInf(v, 0) {
					n++
				}
			}
		}
	}
	return n
}

func countNonFinite(vals []float64) int {
	var n int
	for _, v := range vals {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			n++
		}
	}
	return n
}
