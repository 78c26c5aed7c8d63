package geoerr

import "fmt"

// Warning is a non-fatal numerical problem (NaN/Inf in a derived tensor, a
// failed per-pixel function in non-strict mode).
//
// Count aggregates repeated occurrences from one block or timestep so a single
// record can stand for many pixels.
type Warning struct {
	Op     string
	Detail string
	Count  int
}

func (w Warning) String() string {
	if w.Count > 1 {
		return fmt.Sprintf("%s: %s (x%d)", w.Op, w.Detail, w.Count)
	}
	return fmt.Sprintf("%s: %s", w.Op, w.Detail)
}

// WarningFunc receives warnings from primitives. It may be called from
// several goroutines at once. A nil WarningFunc discards.
type WarningFunc func(Warning)

// Emit calls f when it is set.
func (f WarningFunc) Emit(w Warning) {
	if f != nil {
		f(w)
	}
}
