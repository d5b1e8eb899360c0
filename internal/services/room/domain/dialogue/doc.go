// Package dialogue models the branching script that drives a room: a graph of
// stages, each holding ordered flows of steps.
//
// The package holds the pure graph structure, lookup helpers used by the step
// engine, and template rendering of {{var}} references against the collected
// dialogue data blob. Step execution lives in the step package; condition
// evaluation lives in the evaluate package.
package dialogue
