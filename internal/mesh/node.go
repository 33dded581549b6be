package mesh

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/Yehielamor/orbis-ethica/internal/eventbus"
	"github.com/Yehielamor/orbis-ethica/internal/identity"
	"github.com/Yehielamor/orbis-ethica/internal/ledger"
)

// DefaultMaxPeers bounds fan-out the way the teacher's network.Node does,
// scaled down for a deliberation network where every vote already fans
// out to six council seats per round.
const DefaultMaxPeers = 50

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Node is this validator's gossip mesh endpoint (§4.5): it accepts and
// dials WebSocket peers, verifies and deduplicates envelopes, forwards
// gossip up to MaxHops, and greylists peers that forward bad data.
type Node struct {
	id         string
	listenAddr string
	priv       identity.PrivateKey
	chain      *ledger.Blockchain
	events     *eventbus.Bus

	mu    sync.RWMutex
	peers map[string]*Peer

	seen  *seenCache
	grey  *greylist
	addrs *addressBook

	maxPeers  int
	tlsConfig *tls.Config
}

// NewNode wires a mesh Node to the local chain and identity.
func NewNode(priv identity.PrivateKey, listenAddr string, chain *ledger.Blockchain, events *eventbus.Bus) *Node {
	return &Node{
		id:         priv.Public().Hex(),
		listenAddr: listenAddr,
		priv:       priv,
		chain:      chain,
		events:     events,
		peers:      make(map[string]*Peer),
		seen:       newSeenCache(8192),
		grey:       newGreylist(),
		addrs:      newAddressBook(),
		maxPeers:   DefaultMaxPeers,
	}
}

// ServeHTTP upgrades an inbound connection to a gossip peer (mounted at
// /ws/p2p by internal/api).
func (n *Node) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("mesh: upgrade failed: %v", err)
		return
	}
	n.acceptConn(conn, r.RemoteAddr)
}

// SetTLSConfig enables mTLS for outbound dials (§4.5's optional mTLS mesh
// mode). Inbound connections are secured at the listener level by whatever
// serves ServeHTTP (see internal/api.Server), not here.
func (n *Node) SetTLSConfig(cfg *tls.Config) {
	n.tlsConfig = cfg
}

// Dial connects outbound to a known peer address.
func (n *Node) Dial(addr string) error {
	dialer := websocket.DefaultDialer
	scheme := "ws"
	if n.tlsConfig != nil {
		dialer = &websocket.Dialer{TLSClientConfig: n.tlsConfig}
		scheme = "wss"
	}
	url := fmt.Sprintf("%s://%s/ws/p2p", scheme, addr)
	conn, _, err := dialer.Dial(url, nil)
	if err != nil {
		return fmt.Errorf("mesh: dial %s: %w", addr, err)
	}
	n.acceptConn(conn, addr)
	return nil
}

func (n *Node) acceptConn(conn *websocket.Conn, addr string) {
	peer := newPeer("", addr, conn)
	hello := HelloPayload{NodeID: n.id, ListenAddr: n.listenAddr}
	raw, _ := json.Marshal(hello)
	env := Envelope{Type: MsgHello, MessageID: uuid.NewString(), Payload: raw}
	env.Sign(n.priv)
	if err := peer.Send(env); err != nil {
		log.Printf("mesh: hello send failed: %v", err)
		conn.Close()
		return
	}

	first, err := peer.Receive()
	if err != nil {
		log.Printf("mesh: hello receive failed: %v", err)
		conn.Close()
		return
	}
	if first.Type != MsgHello {
		conn.Close()
		return
	}
	if err := first.Verify(); err != nil {
		log.Printf("mesh: hello verify failed: %v", err)
		conn.Close()
		return
	}
	var theirs HelloPayload
	if err := json.Unmarshal(first.Payload, &theirs); err != nil {
		conn.Close()
		return
	}
	if n.grey.IsBarred(theirs.NodeID) {
		conn.Close()
		return
	}

	peer.NodeID = theirs.NodeID
	n.addrs.Add(theirs.NodeID, theirs.ListenAddr)

	n.mu.Lock()
	if len(n.peers) >= n.maxPeers {
		n.mu.Unlock()
		conn.Close()
		return
	}
	n.peers[peer.NodeID] = peer
	n.mu.Unlock()

	n.events.Emit(eventbus.Event{Type: eventbus.EventPeerJoined, Data: map[string]any{"node_id": peer.NodeID}})
	go n.readLoop(peer)
}

func (n *Node) readLoop(peer *Peer) {
	defer n.dropPeer(peer)
	for {
		env, err := peer.Receive()
		if err != nil {
			return
		}
		n.handleEnvelope(peer, env)
	}
}

func (n *Node) dropPeer(peer *Peer) {
	n.mu.Lock()
	delete(n.peers, peer.NodeID)
	n.mu.Unlock()
	peer.Close()
}

func (n *Node) handleEnvelope(from *Peer, env Envelope) {
	if err := env.Verify(); err != nil {
		log.Printf("mesh: bad envelope signature from %s: %v", from.NodeID, err)
		n.grey.Mark(from.NodeID)
		return
	}
	if n.seen.SeenOrMark(env.MessageID) {
		return
	}
	if env.HopCount >= MaxHops {
		return
	}

	switch env.Type {
	case MsgAddrExchange:
		var p AddrExchangePayload
		if json.Unmarshal(env.Payload, &p) == nil {
			n.addrs.Merge(p.Peers)
		}
	case MsgNewTx:
		n.handleNewTx(from, env)
	case MsgNewBlock:
		n.handleNewBlock(from, env)
	case MsgGetBlocks:
		n.handleGetBlocks(from, env)
	case MsgBlocks:
		n.handleBlocks(from, env)
	case MsgPing:
		n.reply(from, MsgPong, env.MessageID, nil)
	}

	n.forward(from, env)
}

func (n *Node) handleNewTx(from *Peer, env Envelope) {
	var tx ledger.Transaction
	if err := json.Unmarshal(env.Payload, &tx); err != nil {
		return
	}
	if err := n.chain.SubmitTx(&tx); err != nil {
		return // invalid or already-known tx; not a forwarding offence
	}
}

func (n *Node) handleNewBlock(from *Peer, env Envelope) {
	var block ledger.Block
	if err := json.Unmarshal(env.Payload, &block); err != nil {
		n.grey.Mark(from.NodeID)
		return
	}
	if _, err := n.chain.AcceptBlock(&block); err != nil {
		log.Printf("mesh: rejected block from %s: %v", from.NodeID, err)
		n.grey.Mark(from.NodeID)
		return
	}
	n.chain.MaybeReorg()
}

func (n *Node) handleGetBlocks(from *Peer, env Envelope) {
	var req GetBlocksPayload
	if err := json.Unmarshal(env.Payload, &req); err != nil {
		return
	}
	limit := req.Limit
	if limit <= 0 || limit > 500 {
		limit = 500
	}
	var blocks []*ledger.Block
	for h := req.FromHeight; h < req.FromHeight+int64(limit); h++ {
		b, err := n.chain.GetBlockByHeight(h)
		if err != nil {
			break
		}
		blocks = append(blocks, b)
	}
	raw, _ := json.Marshal(blocksResponse{Blocks: blocks})
	n.reply(from, MsgBlocks, env.MessageID, raw)
}

func (n *Node) handleBlocks(from *Peer, env Envelope) {
	var resp blocksResponse
	if err := json.Unmarshal(env.Payload, &resp); err != nil {
		return
	}
	for _, b := range resp.Blocks {
		res, err := n.chain.AcceptBlock(b)
		if err != nil {
			log.Printf("mesh: sync block from %s rejected: %v", from.NodeID, err)
			return // stop applying this batch; don't greylist on an ordinary reorg race
		}
		if res.Outcome == ledger.AcceptReject {
			log.Printf("mesh: sync block from %s rejected: %s", from.NodeID, res.Reason)
			return
		}
	}
	n.chain.MaybeReorg()
}

func (n *Node) reply(to *Peer, typ MsgType, inReplyTo string, payload json.RawMessage) {
	env := Envelope{Type: typ, MessageID: uuid.NewString(), Payload: payload}
	env.Sign(n.priv)
	if err := to.Send(env); err != nil {
		log.Printf("mesh: reply send failed: %v", err)
	}
}

// forward re-broadcasts env to every peer but the one it arrived from,
// bumping HopCount (§4.5).
func (n *Node) forward(from *Peer, env Envelope) {
	fwd := env
	fwd.HopCount++

	n.mu.RLock()
	defer n.mu.RUnlock()
	for id, peer := range n.peers {
		if id == from.NodeID {
			continue
		}
		if err := peer.Send(fwd); err != nil {
			log.Printf("mesh: forward to %s failed: %v", id, err)
		}
	}
}

// Broadcast gossips a freshly-originated envelope (HopCount 0) to every
// connected peer.
func (n *Node) Broadcast(typ MsgType, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	env := Envelope{Type: typ, MessageID: uuid.NewString(), Payload: raw}
	env.Sign(n.priv)
	n.seen.SeenOrMark(env.MessageID)

	n.mu.RLock()
	defer n.mu.RUnlock()
	for id, peer := range n.peers {
		if err := peer.Send(env); err != nil {
			log.Printf("mesh: broadcast to %s failed: %v", id, err)
		}
	}
	return nil
}

// BroadcastTx gossips a newly-submitted transaction.
func (n *Node) BroadcastTx(tx *ledger.Transaction) error {
	return n.Broadcast(MsgNewTx, tx)
}

// BroadcastBlock gossips a newly-proposed or newly-accepted block.
func (n *Node) BroadcastBlock(block *ledger.Block) error {
	return n.Broadcast(MsgNewBlock, block)
}

// PeerCount returns the number of currently connected peers.
func (n *Node) PeerCount() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.peers)
}

// PeerInfo describes one entry in the peer table (§6 GET /api/peers).
type PeerInfo struct {
	NodeID    string `json:"node_id"`
	Addr      string `json:"addr"`
	Connected bool   `json:"connected"`
	Greylisted bool  `json:"greylisted"`
}

// Peers returns the union of currently connected peers and known
// address-book entries.
func (n *Node) Peers() []PeerInfo {
	n.mu.RLock()
	connected := make(map[string]bool, len(n.peers))
	for id := range n.peers {
		connected[id] = true
	}
	n.mu.RUnlock()

	seen := make(map[string]bool)
	var out []PeerInfo
	for _, p := range n.addrs.Snapshot() {
		out = append(out, PeerInfo{NodeID: p.NodeID, Addr: p.Addr, Connected: connected[p.NodeID], Greylisted: n.grey.IsBarred(p.NodeID)})
		seen[p.NodeID] = true
	}
	n.mu.RLock()
	for id, peer := range n.peers {
		if seen[id] {
			continue
		}
		out = append(out, PeerInfo{NodeID: id, Addr: peer.Addr, Connected: true})
	}
	n.mu.RUnlock()
	return out
}

// AddSeed dials a seed peer address in the background (§6 POST /api/peers).
func (n *Node) AddSeed(addr string) {
	go func() {
		if err := n.Dial(addr); err != nil {
			log.Printf("mesh: seed dial %s failed: %v", addr, err)
		}
	}()
}

type blocksResponse struct {
	Blocks []*ledger.Block `json:"blocks"`
}
