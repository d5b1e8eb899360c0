// Package evaluate resolves conditional dialogue steps against the collected
// dialogue data. Conditions are checked in declared order and the first match
// decides the next step; a non-matching tail is never inspected.
package evaluate
