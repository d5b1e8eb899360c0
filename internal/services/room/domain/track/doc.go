// Package track keeps per-step response bookkeeping for input steps that wait
// on multiple participants.
//
// Records are created lazily when a step starts waiting, never deleted, and
// latch one-way: once every required participant has responded the record
// stays satisfied even if participants later leave or respond again.
package track
