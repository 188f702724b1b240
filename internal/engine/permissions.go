package engine

import "sync"

// Gateway validates requests against an action -> allowed-kinds policy.
//
// The policy is default-open: an action nobody has restricted is allowed
// for every actor kind. Only actions explicitly registered via Allow get
// an allow-list, so a typo'd action name passes every check.
type Gateway struct {
	mu     sync.RWMutex
	policy map[string]map[Kind]struct{}
}

// NewGateway creates a gateway with an empty (fully open) policy
func NewGateway() *Gateway {
	return &Gateway{
		policy: make(map[string]map[Kind]struct{}),
	}
}

// Allow restricts action to the given kinds. Calling Allow again for the
// same action extends the allowed set.
func (g *Gateway) Allow(action string, kinds ...Kind) {
	g.mu.Lock()
	defer g.mu.Unlock()

	set, ok := g.policy[action]
	if !ok {
		set = make(map[Kind]struct{}, len(kinds))
		g.policy[action] = set
	}
	for _, k := range kinds {
		set[k] = struct{}{}
	}
}

// Check reports whether actorKind may invoke action. Pure function of
// (action, actorKind, current policy): no hidden state, no time, no
// randomness.
func (g *Gateway) Check(action string, actorKind Kind) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()

	set, ok := g.policy[action]
	if !ok {
		return true // unregistered actions are open by default
	}
	_, allowed := set[actorKind]
	return allowed
}

// Restricted returns whether the action has an explicit allow-list
func (g *Gateway) Restricted(action string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.policy[action]
	return ok
}
