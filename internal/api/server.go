// Package api is the HTTP boundary (§6): signed-request validation,
// ledger/wallet/proposal routes, an SSE event stream, the peer table, and
// the WebSocket upgrade point for the gossip mesh.
package api

import (
	"context"
	"crypto/tls"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/donovanhide/eventsource"
	"github.com/rs/cors"

	"github.com/Yehielamor/orbis-ethica/internal/deliberation"
	"github.com/Yehielamor/orbis-ethica/internal/eventbus"
	"github.com/Yehielamor/orbis-ethica/internal/ledger"
	"github.com/Yehielamor/orbis-ethica/internal/mesh"
)

// systemTxQueueSize bounds the handoff between completed deliberations and
// the node's block-proposer loop (drained once per proposed block).
const systemTxQueueSize = 1024

// Server serves the HTTP API described in §6.
type Server struct {
	addr   string
	chain  *ledger.Blockchain
	engine *deliberation.Engine
	node   *mesh.Node
	bus    *eventbus.Bus
	sse    *eventsource.Server

	systemTxs chan *ledger.Transaction

	srv       *http.Server
	ln        net.Listener
	tlsConfig *tls.Config
}

// NewServer wires the API to the core components. addr is host:port, e.g.
// ":6429" per §6's default port.
func NewServer(addr string, chain *ledger.Blockchain, engine *deliberation.Engine, node *mesh.Node, bus *eventbus.Bus) *Server {
	sse := eventsource.NewServer()
	s := &Server{
		addr:      addr,
		chain:     chain,
		engine:    engine,
		node:      node,
		bus:       bus,
		sse:       sse,
		systemTxs: make(chan *ledger.Transaction, systemTxQueueSize),
	}

	repo := eventbus.NewSSERepository(bus)
	sse.Register("orbis", repo)
	stop := make(chan struct{})
	go repo.Stream(sse, stop)

	mux := http.NewServeMux()
	s.routes(mux)

	handler := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "X-Pubkey", "X-Timestamp", "X-Signature"},
	}).Handler(mux)

	s.srv = &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      0, // SSE and WS streams are long-lived
		IdleTimeout:       120 * time.Second,
	}
	return s
}

func (s *Server) routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/ledger/blocks", s.handleLedgerBlocks)
	mux.HandleFunc("GET /api/ledger/transactions", s.handleLedgerTransactions)
	mux.HandleFunc("GET /api/ledger/tx/{id}", s.handleLedgerTx)
	mux.HandleFunc("GET /api/wallet", s.handleWallet)
	mux.HandleFunc("POST /api/tx", s.requireSignedRequest(s.handleSubmitTx))
	mux.HandleFunc("POST /api/proposal", s.requireSignedRequest(s.handleSubmitProposal))
	mux.HandleFunc("GET /api/events", s.handleEvents)
	mux.HandleFunc("GET /api/peers", s.handlePeers)
	mux.HandleFunc("POST /api/peers", s.requireSignedRequest(s.handleAddPeer))
	mux.HandleFunc("/ws/p2p", s.node.ServeHTTP)
}

// SetTLSConfig enables mTLS on the listener Start binds (§4.5's optional
// mTLS mesh mode covers /ws/p2p since it's mounted on this same server).
func (s *Server) SetTLSConfig(cfg *tls.Config) {
	s.tlsConfig = cfg
}

// Start binds the listener synchronously and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	if s.tlsConfig != nil {
		ln = tls.NewListener(ln, s.tlsConfig)
	}
	s.ln = ln
	go func() {
		if err := s.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Printf("api: server error: %v", err)
		}
	}()
	return nil
}

// Addr returns the bound listener address (useful when started on ":0").
func (s *Server) Addr() net.Addr {
	if s.ln != nil {
		return s.ln.Addr()
	}
	return nil
}

// Stop gracefully shuts the server down, draining in-flight requests for
// up to 5 seconds (§5 global shutdown grace).
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.srv.Shutdown(ctx)
}

// DrainSystemTxs removes and returns all queued decision_record/mint_reward
// transactions produced by completed deliberations, for the node's
// block-proposer loop to fold into its next block.
func (s *Server) DrainSystemTxs() []*ledger.Transaction {
	var out []*ledger.Transaction
	for {
		select {
		case tx := <-s.systemTxs:
			out = append(out, tx)
		default:
			return out
		}
	}
}
