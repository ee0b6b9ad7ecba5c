// Package persistence stores the offline mutation queue on disk, so
// writes issued while disconnected survive a process restart and replay
// on the next connection.
//
// The state file is versioned JSON. An unreadable or future-versioned
// file is treated as absent rather than an error: losing the queue is
// recoverable, wedging startup on a corrupt file is not.
package persistence
