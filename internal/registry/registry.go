package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/wilsonzlin/aero/proxy/peerjs-signaling/internal/protocol"
)

// Conn is a live transport seated in the Registry.
//
// Send and Close are called while the registry lock is held, so they must
// only enqueue work and never block on the network. Close must be idempotent
// and must deliver frames sent before it ahead of the close frame.
type Conn interface {
	Send(frame []byte) error
	Close(code int, reason string)
}

// Outcome is the result of a Register call.
type Outcome int

const (
	OutcomeRejected Outcome = iota
	OutcomeSeated
	OutcomeReplaced
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSeated:
		return "seated"
	case OutcomeReplaced:
		return "replaced"
	default:
		return "rejected"
	}
}

var (
	openFrame    = []byte(protocol.Open)
	idTakenFrame = []byte(protocol.IDTaken)
)

type entry struct {
	token string
	conn  Conn
}

// Registry maps identifiers to seated connections. A single lock serializes
// every mutation, which also makes takeover atomic with respect to routing.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]entry
}

func New() *Registry {
	return &Registry{entries: make(map[string]entry)}
}

// Register seats conn under id.
//
// A free id is claimed and OPEN is sent. An id held with the same token is
// taken over: the old connection is closed normally and conn replaces it. An
// id held with a different token is refused: ID-TAKEN is sent on conn, conn
// is closed with a policy violation and ErrIDTaken is returned.
func (r *Registry) Register(id, token string, conn Conn) (Outcome, error) {
	if id == "" || token == "" {
		return OutcomeRejected, ErrBadRequest
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	outcome := OutcomeSeated
	if cur, ok := r.entries[id]; ok {
		if cur.token != token {
			_ = conn.Send(idTakenFrame)
			conn.Close(protocol.CloseIDTaken, protocol.CloseIDTakenReason)
			return OutcomeRejected, fmt.Errorf("%w: %q", ErrIDTaken, id)
		}
		cur.conn.Close(protocol.CloseTakeover, "")
		outcome = OutcomeReplaced
	}

	// OPEN is queued before the entry becomes visible to Route, so it is
	// always the first frame the client receives.
	_ = conn.Send(openFrame)
	r.entries[id] = entry{token: token, conn: conn}
	return outcome, nil
}

// Deregister removes id if, and only if, it is still held by conn.
func (r *Registry) Deregister(id string, conn Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.entries[id]
	if !ok || cur.conn != conn {
		return false
	}
	delete(r.entries, id)
	return true
}

// Dispatch parses frame and routes it from sender to the frame's dst.
func (r *Registry) Dispatch(sender string, frame []byte) error {
	env, err := protocol.ParseEnvelope(frame)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	return r.Route(sender, env)
}

// Route stamps env with sender as its source and forwards it to the
// connection currently holding env.Dst. It never waits for the destination.
func (r *Registry) Route(sender string, env *protocol.Envelope) error {
	out, err := env.Stamp(sender)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	dst, ok := r.entries[env.Dst]
	if !ok {
		return fmt.Errorf("%w: %q", ErrDestinationNotFound, env.Dst)
	}
	return dst.conn.Send(out)
}

// ListIdentifiers returns a sorted snapshot of the seated identifiers.
func (r *Registry) ListIdentifiers() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	sort.Strings(ids)
	return ids
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
