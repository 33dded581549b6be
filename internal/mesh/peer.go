package mesh

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

// readDeadline bounds how long a peer connection may sit idle before being
// dropped (teacher's network/peer.go uses the same 30s budget for raw TCP
// framing; WebSocket's ping/pong keepalive rides on the same deadline).
const readDeadline = 30 * time.Second

// outboundRate and outboundBurst bound how fast this node will push
// envelopes to a single peer, protecting the mesh from a noisy neighbour
// flooding the local node's outbound socket.
const (
	outboundRate  = 50 // envelopes/sec
	outboundBurst = 100
)

// Peer is one WebSocket-connected gossip neighbour.
type Peer struct {
	NodeID string
	Addr   string

	conn    *websocket.Conn
	limiter *rate.Limiter

	sendMu sync.Mutex
	closed bool
}

func newPeer(nodeID, addr string, conn *websocket.Conn) *Peer {
	conn.SetReadDeadline(time.Now().Add(readDeadline))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(readDeadline))
		return nil
	})
	return &Peer{
		NodeID:  nodeID,
		Addr:    addr,
		conn:    conn,
		limiter: rate.NewLimiter(rate.Limit(outboundRate), outboundBurst),
	}
}

// Send rate-limits and writes an envelope to the peer.
func (p *Peer) Send(env Envelope) error {
	if err := p.limiter.Wait(context.Background()); err != nil {
		return fmt.Errorf("mesh: rate limit wait: %w", err)
	}
	p.sendMu.Lock()
	defer p.sendMu.Unlock()
	if p.closed {
		return fmt.Errorf("mesh: peer %s closed", p.NodeID)
	}
	return p.conn.WriteJSON(env)
}

// Receive blocks for the next envelope, refreshing the read deadline.
func (p *Peer) Receive() (Envelope, error) {
	var env Envelope
	p.conn.SetReadDeadline(time.Now().Add(readDeadline))
	if err := p.conn.ReadJSON(&env); err != nil {
		return Envelope{}, err
	}
	return env, nil
}

// Close terminates the underlying connection.
func (p *Peer) Close() error {
	p.sendMu.Lock()
	defer p.sendMu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return p.conn.Close()
}
