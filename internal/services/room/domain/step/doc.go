// Package step executes dialogue steps against immutable room state. The
// engine runs entry side effects, decides step completion, and resolves the
// next step, advancing through consecutive immediately-complete steps in one
// call. It never mutates its input; every call returns a fresh room value.
package step
