// Package store persists users, chat sessions, messages and call records.
//
// Two implementations share one contract: Postgres for deployments and
// Memory for tests and single-process development.
package store

import "errors"

var (
	// ErrNotFound is returned when the requested row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrStatusChanged is returned by conditional transitions when the
	// session is no longer in the status the caller expected.
	ErrStatusChanged = errors.New("session status changed")

	// ErrOpenSessionExists is returned when a customer already owns a
	// session that is not CLOSED.
	ErrOpenSessionExists = errors.New("customer already has an open session")

	// ErrDuplicate is returned when an insert collides with an existing key.
	ErrDuplicate = errors.New("duplicate key")
)
