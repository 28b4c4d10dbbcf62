package registry

import "sync"

type shard struct {
	reg  *Registry
	refs int
}

// Hub partitions identifiers into independent namespaces, one Registry each.
//
// Connections Acquire their namespace before registering and Release it after
// deregistering; a namespace's Registry is dropped when its last connection
// releases it.
type Hub struct {
	mu     sync.Mutex
	shards map[string]*shard
}

func NewHub() *Hub {
	return &Hub{shards: make(map[string]*shard)}
}

// Acquire returns the Registry for namespace, creating it if needed, and
// pins it until the matching Release.
func (h *Hub) Acquire(namespace string) *Registry {
	h.mu.Lock()
	defer h.mu.Unlock()

	s, ok := h.shards[namespace]
	if !ok {
		s = &shard{reg: New()}
		h.shards[namespace] = s
	}
	s.refs++
	return s.reg
}

func (h *Hub) Release(namespace string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	s, ok := h.shards[namespace]
	if !ok {
		return
	}
	s.refs--
	if s.refs <= 0 {
		delete(h.shards, namespace)
	}
}

// Lookup returns the Registry for namespace without pinning it.
func (h *Hub) Lookup(namespace string) (*Registry, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	s, ok := h.shards[namespace]
	if !ok {
		return nil, false
	}
	return s.reg, true
}

// ListIdentifiers returns the seated identifiers of namespace. An unknown
// namespace has none.
func (h *Hub) ListIdentifiers(namespace string) []string {
	reg, ok := h.Lookup(namespace)
	if !ok {
		return []string{}
	}
	return reg.ListIdentifiers()
}

func (h *Hub) Namespaces() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.shards)
}

// Len returns the number of seated identifiers across all namespaces.
func (h *Hub) Len() int {
	h.mu.Lock()
	regs := make([]*Registry, 0, len(h.shards))
	for _, s := range h.shards {
		regs = append(regs, s.reg)
	}
	h.mu.Unlock()

	n := 0
	for _, reg := range regs {
		n += reg.Len()
	}
	return n
}
