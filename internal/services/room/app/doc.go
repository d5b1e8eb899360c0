// Package app runs the authoritative room loop: it polls the shared command
// log, reconciles commands into room state through pure reducers, drives the
// dialogue engine, and persists snapshots when state actually changed. Only
// the authoritative participant's process runs the loop; every other client
// is a pure command producer.
package app
