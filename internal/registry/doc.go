// Package registry owns the identifier -> connection table for one signaling
// namespace and routes application frames between seated connections.
//
// The Registry never owns a transport. It keeps a lookup reference used for
// routing, and entries are removed by an explicit Deregister driven by the
// transport's own close path.
package registry
