package fisheries

import (
	"encoding/csv"
	"io"
	"strconv"
)

func ftoa(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }

// WriteSummary writes one row per timestep and region with population,
// spawners, recruits, harvest and value.
func WriteSummary(w io.Writer, r *Result) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"timestep", "region", "population", "spawners", "recruits", "harvest", "value"}); err != nil {
		return err
	}
	for t := 0; t <= r.Timesteps; t++ {
		for x, name := range r.Params.Regions {
			row := []string{
				strconv.Itoa(t),
				name,
				ftoa(r.RegionTotal(t, x)),
				ftoa(r.Spawners[t][x]),
				ftoa(r.Recruits[t][x] * float64(r.Params.Sexes)),
				ftoa(r.Harvest[t][x]),
				ftoa(r.Value[t][x]),
			}
			if err := cw.Write(row); err != nil {
				return err
			}
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteCohorts writes the full tensor in [t, x, s, a] order.
func WriteCohorts(w io.Writer, r *Result) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"timestep", "region", "sex", "class", "count"}); err != nil {
		return err
	}
	sex := func(s int) string {
		if r.Params.Sexes == 1 {
			return "all"
		}
		return sexSuffixes[s]
	}
	for t := 0; t <= r.Timesteps; t++ {
		for x, region := range r.Params.Regions {
			for s := range r.Params.Sexes {
				for a, class := range r.Params.Classes {
					row := []string{strconv.Itoa(t), region, sex(s), class, ftoa(r.At(t, x, s, a))}
					if err := cw.Write(row); err != nil {
						return err
					}
				}
			}
		}
	}
	cw.Flush()
	return cw.Error()
}
