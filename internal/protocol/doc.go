// Package protocol models the PeerJS signaling wire format spoken between
// browser clients and the relay.
//
// The relay only understands the routing envelope (`dst`/`src`) and a handful
// of fixed control frames. Everything else in a message is opaque and is
// passed through untouched.
package protocol
