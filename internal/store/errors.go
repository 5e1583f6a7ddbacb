package store

import "errors"

var (
	// ErrUnauthorized indicates an ownership check failed. Fatal to the single
	// mutation or pull that triggered it, not to the connection.
	ErrUnauthorized = errors.New("store: unauthorized")
	// ErrNotFound indicates the referenced entity does not exist.
	ErrNotFound = errors.New("store: not found")
)
