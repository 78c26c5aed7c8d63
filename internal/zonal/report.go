package zonal

import (
	"encoding/csv"
	"io"
	"slices"
	"strconv"
)

// WriteCSV writes res as a table with one row per feature id, ascending, and
// one column per reducer.
func WriteCSV(w io.Writer, res Result, reducers []Reducer) error {
	cw := csv.NewWriter(w)
	header := []string{"fid"}
	for _, r := range reducers {
		header = append(header, r.Name())
	}
	if err := cw.Write(header); err != nil {
		return err
	}
	ids := make([]int, 0, len(res))
	for id := range res {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		row := []string{strconv.Itoa(id)}
		for _, r := range reducers {
			row = append(row, strconv.FormatFloat(res[id][r.Name()], 'g', -1, 64))
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
