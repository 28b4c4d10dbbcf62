package registry

import "errors"

var (
	// ErrBadRequest is returned by Register when the identifier or token is
	// empty. Nothing is sent and nothing is stored.
	ErrBadRequest = errors.New("registry: id and token are required")
	// ErrIDTaken is returned by Register when the identifier is held by a
	// connection that presented a different token.
	ErrIDTaken             = errors.New("registry: id is taken")
	ErrMalformedMessage    = errors.New("registry: malformed message")
	ErrDestinationNotFound = errors.New("registry: destination not found")
)
