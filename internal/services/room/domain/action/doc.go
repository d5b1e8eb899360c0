// Package action models room commands and the ordering rules the authority
// loop applies before folding them into room state.
//
// A command is immutable once created. ProcessedAt is the only field ever set
// after creation, and only by the authority loop, exactly once. Remote and
// local commands are merged into a single batch ordered by SentAt; duplicate
// delivery is tolerated by dropping ids the loop has already processed.
package action
