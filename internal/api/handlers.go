package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/Yehielamor/orbis-ethica/internal/deliberation"
	"github.com/Yehielamor/orbis-ethica/internal/identity"
	"github.com/Yehielamor/orbis-ethica/internal/ledger"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func pageParams(r *http.Request) (offset, limit int, ok bool) {
	limit = 50
	offset = 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 || n > 1000 {
			return 0, 0, false
		}
		limit = n
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return 0, 0, false
		}
		offset = n
	}
	return offset, limit, true
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"height": s.chain.Height(),
		"peers":  s.node.PeerCount(),
	})
}

func (s *Server) handleLedgerBlocks(w http.ResponseWriter, r *http.Request) {
	offset, limit, ok := pageParams(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid limit/offset")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"blocks": s.chain.GetBlocks(offset, limit)})
}

func (s *Server) handleLedgerTransactions(w http.ResponseWriter, r *http.Request) {
	offset, limit, ok := pageParams(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid limit/offset")
		return
	}
	blocks := s.chain.GetBlocks(offset, limit)
	var txs []*ledger.Transaction
	for _, b := range blocks {
		txs = append(txs, b.Transactions...)
	}
	writeJSON(w, http.StatusOK, map[string]any{"transactions": txs})
}

func (s *Server) handleLedgerTx(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	tx, height, err := s.chain.GetTx(id)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			writeError(w, http.StatusNotFound, "transaction not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"transaction": tx, "height": height})
}

func (s *Server) handleWallet(w http.ResponseWriter, r *http.Request) {
	addr := r.URL.Query().Get("address")
	if addr == "" {
		if pk, ok := signerFromContext(r.Context()); ok {
			addr = pk
		}
	}
	if addr == "" {
		writeError(w, http.StatusNotFound, "no address given and no signer context")
		return
	}
	writeJSON(w, http.StatusOK, s.chain.Wallet(addr))
}

func (s *Server) handleSubmitTx(w http.ResponseWriter, r *http.Request) {
	var tx ledger.Transaction
	if err := json.NewDecoder(r.Body).Decode(&tx); err != nil {
		writeError(w, http.StatusBadRequest, "malformed transaction: "+err.Error())
		return
	}
	if signer, ok := signerFromContext(r.Context()); ok && tx.SenderPubkey != signer {
		writeError(w, http.StatusUnauthorized, "signed-request pubkey does not match tx sender")
		return
	}
	if err := s.chain.SubmitTx(&tx); err != nil {
		writeJSON(w, submitTxStatus(err), map[string]string{"error": err.Error()})
		return
	}
	if err := s.node.BroadcastTx(&tx); err != nil {
		// gossip failure doesn't invalidate local admission
	}
	writeJSON(w, http.StatusOK, map[string]string{"tx_id": tx.ID})
}

func submitTxStatus(err error) int {
	switch {
	case errors.Is(err, ledger.ErrDuplicateTx):
		return http.StatusConflict
	case errors.Is(err, ledger.ErrBackpressure):
		return http.StatusTooManyRequests
	case strings.Contains(err.Error(), "insufficient"):
		return 402
	default:
		return http.StatusBadRequest
	}
}

type proposalRequest struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Body        string `json:"body"`
	Category    string `json:"category"`
	Domain      string `json:"domain"`
	SubmittedBy string `json:"submitted_by"`
}

// validCategories are the §3 proposal categories; an unrecognized or
// missing category falls back to routine rather than rejecting the
// submission outright.
var validCategories = map[string]bool{
	string(deliberation.CategoryRoutine):        true,
	string(deliberation.CategoryHighImpact):     true,
	string(deliberation.CategoryConstitutional): true,
	string(deliberation.CategoryEmergency):      true,
}

func (s *Server) handleSubmitProposal(w http.ResponseWriter, r *http.Request) {
	var req proposalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed proposal: "+err.Error())
		return
	}
	if req.Title == "" || req.Body == "" {
		writeError(w, http.StatusBadRequest, "title and body are required")
		return
	}
	if req.SubmittedBy == "" {
		if pk, ok := signerFromContext(r.Context()); ok {
			req.SubmittedBy = pk
		}
	}
	if req.ID == "" {
		req.ID = identity.Hash([]byte(req.Title + "|" + req.Body + "|" + req.SubmittedBy))
	}
	category := deliberation.CategoryRoutine
	if validCategories[req.Category] {
		category = deliberation.Category(req.Category)
	}

	proposal := &deliberation.Proposal{
		ID:          req.ID,
		Title:       req.Title,
		Body:        req.Body,
		Category:    category,
		Domain:      req.Domain,
		SubmittedBy: req.SubmittedBy,
	}

	// Detached from the request context: deliberation outlives the HTTP
	// response, which returns 202 immediately and reports status via the
	// SSE event stream and eventual decision_record tx.
	runCtx := context.WithoutCancel(r.Context())
	go func() {
		result, txs, err := s.engine.Run(runCtx, proposal)
		if err != nil {
			return
		}
		for _, tx := range txs {
			// blocks if the proposer loop is falling behind; a decision_record
			// is never dropped silently.
			s.systemTxs <- tx
		}
		_ = result
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"proposal_id": proposal.ID})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	s.sse.Handler("orbis")(w, r)
}

func (s *Server) handlePeers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"peers": s.node.Peers()})
}

type addPeerRequest struct {
	Addr string `json:"addr"`
}

func (s *Server) handleAddPeer(w http.ResponseWriter, r *http.Request) {
	var req addPeerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Addr == "" {
		writeError(w, http.StatusBadRequest, "addr is required")
		return
	}
	s.node.AddSeed(req.Addr)
	writeJSON(w, http.StatusOK, map[string]string{"status": "dialing"})
}
