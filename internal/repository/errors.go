// Package repository defines the key-value storage the booking session keeps
// its per-profile records in, plus the sentinel errors shared by the
// backends.  Callers such as the draft store distinguish a missing key from
// a failing backend with errors.Is.
package repository

import "errors"

// ErrNotFound is returned by Get when the key does not exist or has expired.
// It is not a failure; the draft store treats it as "no draft".
var ErrNotFound = errors.New("not found")

// ErrUnavailable wraps backend failures (connection refused, timeouts).  The
// draft store logs these and degrades to "no draft" on read.
var ErrUnavailable = errors.New("storage unavailable")
