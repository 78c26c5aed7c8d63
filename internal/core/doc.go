// Package core defines the unit of work run by the coordinator and the
// machinery that decides whether it must run at all.
//
// # Core Types
//
// Task: a build function together with the files it reads and writes.
// Input: a resolved input path and the digest that stands for its content.
// Fingerprint: the identity of one task execution. Equal fingerprints mean the
// recorded outputs can be reused.
// Ledger: the side table mapping each output path to the fingerprint that
// produced it.
//
// A Runner ties these together: Probe answers "can this task be skipped",
// Execute runs the build function and records or cleans up its outputs.
package core
