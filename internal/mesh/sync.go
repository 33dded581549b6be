package mesh

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// RequestBlocks asks a specific connected peer for blocks starting at
// fromHeight (§4.5 catch-up sync). Unlike Broadcast, this targets one
// peer directly rather than gossiping to the whole mesh.
//
// Applying the response reuses Blockchain.AcceptBlock's existing
// sandboxed validation (it clones state before committing anything), so
// there is no separate snapshot/execute/revert stage here the way the
// teacher's raw-TCP syncer needed: a bad batch simply fails AcceptBlock
// block-by-block and sync stops there.
func (n *Node) RequestBlocks(peerNodeID string, fromHeight int64, limit int) error {
	n.mu.RLock()
	peer, ok := n.peers[peerNodeID]
	n.mu.RUnlock()
	if !ok {
		return fmt.Errorf("mesh: unknown peer %s", peerNodeID)
	}

	raw, err := json.Marshal(GetBlocksPayload{FromHeight: fromHeight, Limit: limit})
	if err != nil {
		return err
	}
	env := Envelope{Type: MsgGetBlocks, MessageID: uuid.NewString(), Payload: raw}
	env.Sign(n.priv)
	n.seen.SeenOrMark(env.MessageID)
	return peer.Send(env)
}

// CatchUp requests blocks from every connected peer starting just above
// the local tip, to be called on startup and after a period of no new
// block gossip.
func (n *Node) CatchUp() {
	from := n.chain.Height() + 1
	n.mu.RLock()
	ids := make([]string, 0, len(n.peers))
	for id := range n.peers {
		ids = append(ids, id)
	}
	n.mu.RUnlock()
	for _, id := range ids {
		if err := n.RequestBlocks(id, from, 500); err != nil {
			continue
		}
	}
}
