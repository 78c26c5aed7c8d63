// Package fisheries runs age- or stage-structured cohort models over a set of
// regions, with optional sex structure, recruitment, migration and harvest.
//
// The cohort tensor is indexed [t, x, s, a]: timestep, region, sex, class.
// Timestep 0 holds the initial conditions.
package fisheries
