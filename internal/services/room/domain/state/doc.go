// Package state models room state as an immutable value and provides the
// pure reducers that fold commands into it.
//
// Every reducer returns a fresh copy; nothing mutates in place. That is what
// makes the authority loop's before/after comparison meaningful and lets a
// concurrent reader hold an internally consistent snapshot while a cycle runs.
//
// The package also enforces the truth latch: a key on the room's
// persist-truth list may only ever move from non-"true" to "true". Once the
// literal string "true" is stored, later writes carrying a different value
// for that key are silently dropped, so a tutoring flag survives later
// contradictory model output.
package state
