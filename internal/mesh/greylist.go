package mesh

import (
	"sync"
	"time"
)

// greylistDuration is how long a peer found forwarding invalid envelopes
// or blocks is refused new connections (§4.5).
const greylistDuration = 10 * time.Minute

// greylist tracks peers temporarily barred for misbehaviour.
type greylist struct {
	mu      sync.Mutex
	barUntil map[string]time.Time
}

func newGreylist() *greylist {
	return &greylist{barUntil: make(map[string]time.Time)}
}

func (g *greylist) Mark(nodeID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.barUntil[nodeID] = time.Now().Add(greylistDuration)
}

func (g *greylist) IsBarred(nodeID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	until, ok := g.barUntil[nodeID]
	if !ok {
		return false
	}
	if time.Now().After(until) {
		delete(g.barUntil, nodeID)
		return false
	}
	return true
}
