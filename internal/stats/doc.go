// Package stats maintains running aggregate statistics over price values
// without consulting the store.
//
// An Accumulator folds in batches of values with Update and reports a
// Snapshot (count, mean, min, max). There is no removal operation: count
// only grows, min only falls, max only rises.
//
// # Summation
//
// The running sum is compensated (Neumaier) and the compensation term is
// carried between calls. Values are folded one at a time in slice order, so
// feeding N values one per Update produces exactly the same state as one
// Update with all N values.
//
// # Staging
//
// Merge folds one accumulator into another. The loader stages each file in
// its own accumulator and merges it into the run accumulator only after the
// file's transaction commits, so rolled-back rows never reach the statistics.
package stats
