// Package signaling is the PeerJS WebSocket front door. It upgrades
// registration requests, seats the resulting connections in the namespace's
// registry and feeds their inbound frames to the router.
package signaling
