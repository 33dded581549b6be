// Package memorydag is the append-only provenance graph the deliberation
// engine writes into: every admitted or refined proposal, deliberation
// round, and final decision becomes a node linked to its causal parents
// (§3, §9).
package memorydag

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/Yehielamor/orbis-ethica/internal/identity"
	"github.com/Yehielamor/orbis-ethica/internal/storage"
)

// NodeKind labels what a DAG node represents (§3).
type NodeKind string

const (
	KindProposal     NodeKind = "proposal"
	KindRound        NodeKind = "round"
	KindAgentRespose NodeKind = "agent_response"
	KindAggregate    NodeKind = "aggregate"
	KindDecision     NodeKind = "decision"
	KindKnowledge    NodeKind = "knowledge"
)

// Node is a single append-only DAG entry.
type Node struct {
	ID          string          `json:"id"`
	Kind        NodeKind        `json:"kind"`
	Parents     []string        `json:"parents"`
	PayloadHash string          `json:"payload_hash"`
	Payload     json.RawMessage `json:"payload"`
	AgentID     string          `json:"agent_id,omitempty"`
	Timestamp   int64           `json:"timestamp"`
}

const keyPrefix = "dagnode:"
const childIndexPrefix = "dagchild:" // dagchild:<parent> -> []string of child IDs

// ErrNotFound is returned when a node ID is unknown.
var ErrNotFound = errors.New("memorydag: not found")

// DAG is the append-only store of provenance nodes, backed by storage.DB.
type DAG struct {
	mu sync.Mutex
	db storage.DB
}

// New wraps db as a DAG.
func New(db storage.DB) *DAG {
	return &DAG{db: db}
}

// Append seals a new node: parents must already exist (enforced so the
// graph can never have a dangling edge), and the node is stored keyed by
// its own ID plus a reverse child index per parent for traversal.
func (d *DAG) Append(kind NodeKind, parents []string, agentID string, payload any, now int64) (*Node, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("memorydag: marshal payload: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	for _, p := range parents {
		if _, err := d.getLocked(p); err != nil {
			return nil, fmt.Errorf("memorydag: unknown parent %s: %w", p, err)
		}
	}

	node := &Node{
		ID:          uuid.NewString(),
		Kind:        kind,
		Parents:     append([]string(nil), parents...),
		PayloadHash: hashPayload(raw),
		Payload:     raw,
		AgentID:     agentID,
		Timestamp:   now,
	}
	if err := d.putLocked(node); err != nil {
		return nil, err
	}
	for _, p := range parents {
		if err := d.addChildLocked(p, node.ID); err != nil {
			return nil, err
		}
	}
	return node, nil
}

// Get returns a node by ID.
func (d *DAG) Get(id string) (*Node, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.getLocked(id)
}

func (d *DAG) getLocked(id string) (*Node, error) {
	data, err := d.db.Get([]byte(keyPrefix + id))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var n Node
	if err := json.Unmarshal(data, &n); err != nil {
		return nil, err
	}
	return &n, nil
}

func (d *DAG) putLocked(n *Node) error {
	data, err := json.Marshal(n)
	if err != nil {
		return err
	}
	return d.db.Set([]byte(keyPrefix+n.ID), data)
}

// Children returns the IDs of nodes whose Parents include id, in the order
// they were appended.
func (d *DAG) Children(id string) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.childrenLocked(id)
}

func (d *DAG) childrenLocked(id string) ([]string, error) {
	data, err := d.db.Get([]byte(childIndexPrefix + id))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

func (d *DAG) addChildLocked(parent, child string) error {
	ids, err := d.childrenLocked(parent)
	if err != nil {
		return err
	}
	ids = append(ids, child)
	data, err := json.Marshal(ids)
	if err != nil {
		return err
	}
	return d.db.Set([]byte(childIndexPrefix+parent), data)
}

// Ancestors walks backward from id to every reachable ancestor, returning
// them ordered by Timestamp, oldest first.
func (d *DAG) Ancestors(id string) ([]*Node, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	seen := make(map[string]bool)
	var out []*Node
	queue := []string{id}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		n, err := d.getLocked(cur)
		if err != nil {
			return nil, err
		}
		for _, p := range n.Parents {
			if seen[p] {
				continue
			}
			seen[p] = true
			pn, err := d.getLocked(p)
			if err != nil {
				return nil, err
			}
			out = append(out, pn)
			queue = append(queue, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	return out, nil
}

func hashPayload(raw []byte) string {
	return identity.Hash(raw)
}
