// Package mesh is the gossip transport connecting Orbis Ethica nodes
// (§4.5): peer discovery and exchange, hop-limited message forwarding,
// greylisting of misbehaving peers, and block/tx synchronisation, carried
// over WebSocket with an optional mTLS handshake.
package mesh

import (
	"encoding/json"
	"fmt"

	"github.com/Yehielamor/orbis-ethica/internal/identity"
)

// MsgType labels a gossip envelope's payload kind (§4.5).
type MsgType string

const (
	MsgHello        MsgType = "hello"
	MsgAddrExchange MsgType = "addr_exchange"
	MsgNewTx        MsgType = "new_tx"
	MsgNewBlock     MsgType = "new_block"
	MsgGetBlocks    MsgType = "get_blocks"
	MsgBlocks       MsgType = "blocks"
	MsgPing         MsgType = "ping"
	MsgPong         MsgType = "pong"
)

// MaxHops bounds gossip forwarding (§4.5): a message is relayed at most
// this many times before being dropped, keeping the mesh from forwarding
// forever on a misconfigured or adversarial topology.
const MaxHops = 8

// Envelope is the authenticated wrapper around every gossip message
// (§4.5): SenderID + Signature let a receiver verify the immediate peer
// that forwarded it (not necessarily the original author, whose identity
// travels inside Payload for tx/block messages, which carry their own
// signatures).
type Envelope struct {
	Type      MsgType         `json:"type"`
	MessageID string          `json:"message_id"` // uuid, deduplicated via the seen cache
	HopCount  int             `json:"hop_count"`
	SenderID  string          `json:"sender_id"` // sending peer's pubkey hex
	Payload   json.RawMessage `json:"payload"`
	Signature string          `json:"signature"`
}

// signingBytes returns the bytes covered by Signature.
func (e Envelope) signingBytes() []byte {
	return []byte(fmt.Sprintf("%s|%s|%d|%s|%s", e.Type, e.MessageID, e.HopCount, e.SenderID, e.Payload))
}

// Sign seals the envelope with the sending peer's identity key.
func (e *Envelope) Sign(priv identity.PrivateKey) {
	e.SenderID = priv.Public().Hex()
	e.Signature = identity.Sign(priv, e.signingBytes())
}

// Verify checks the envelope's signature against its claimed sender.
func (e Envelope) Verify() error {
	pub, err := identity.PubKeyFromHex(e.SenderID)
	if err != nil {
		return fmt.Errorf("mesh: invalid sender id: %w", err)
	}
	return identity.Verify(pub, e.signingBytes(), e.Signature)
}

// HelloPayload announces a node's identity and listen address on connect.
type HelloPayload struct {
	NodeID     string `json:"node_id"`
	ListenAddr string `json:"listen_addr"`
}

// AddrExchangePayload shares known peer addresses (§4.5).
type AddrExchangePayload struct {
	Peers []PeerAddr `json:"peers"`
}

// PeerAddr is one entry in an address-book exchange.
type PeerAddr struct {
	NodeID string `json:"node_id"`
	Addr   string `json:"addr"`
}

// GetBlocksPayload asks a peer for blocks starting at FromHeight.
type GetBlocksPayload struct {
	FromHeight int64 `json:"from_height"`
	Limit      int   `json:"limit"`
}
