package ledger

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/Yehielamor/orbis-ethica/internal/identity"
)

// BlockStore is the persistence interface used by Blockchain (§4.2, §6).
// Implementations live in internal/storage.
type BlockStore interface {
	GetBlock(hash string) (*Block, error)
	PutBlock(block *Block) error
	GetBlockByHeight(height int64) (*Block, error)
	PutBlockByHeight(height int64, hash string) error
	GetTip() (string, error)
	SetTip(hash string) error
}

// ErrNotFound is returned when a requested object does not exist.
var ErrNotFound = errors.New("ledger: not found")

// Params exposes the governance-tunable values the ledger needs without
// importing internal/governance directly (accept interfaces, return
// structs): internal/governance.Store satisfies this.
type Params interface {
	MaxTxPerBlock() int
	AuthorityLatency() int64
}

// EventSink receives ledger-originated events for the event bus (§4.6).
// internal/eventbus.Bus satisfies this directly; cmd/orbisnode passes the
// Bus itself to NewBlockchain.
type EventSink interface {
	PublishBlock(height int64, hash string)
	PublishTx(id string, txType string)
}

// AcceptOutcome classifies the result of accept_block (§4.2).
type AcceptOutcome int

const (
	AcceptExtends AcceptOutcome = iota
	AcceptExtendsSide
	AcceptReject
)

// AcceptResult is the outcome of accept_block.
type AcceptResult struct {
	Outcome         AcceptOutcome
	ForkPointHeight int64
	Reason          string
}

// ReorgResult describes the outcome of maybe_reorg.
type ReorgResult struct {
	Reorged       bool
	NewTipHash    string
	NewHeight     int64
	RequeuedTxIDs []string
	DroppedTxIDs  []string
}

// node is one known block plus the folded state immediately after it,
// cached so that validating a side-chain block never needs to replay from
// genesis.
type node struct {
	block *Block
	state *State
}

// Blockchain manages the canonical chain plus any known side chains,
// implementing the longest-valid-chain-among-authorised-signers rule
// (§4.2, §9 Open Question a).
type Blockchain struct {
	mu sync.RWMutex

	store   BlockStore
	mempool *Mempool
	params  Params
	events  EventSink

	byHash   map[string]*node
	children map[string][]string // prevHash -> child hashes

	activeTipHash string
	activeHeight  int64
	state         *State // canonical folded state of the active chain
}

// NewBlockchain returns a Blockchain backed by store, seeded with the
// genesis validator set (used only until the first persisted block loads
// a different fold via Init).
func NewBlockchain(store BlockStore, mempool *Mempool, params Params, events EventSink, genesisValidators []string) *Blockchain {
	return &Blockchain{
		store:    store,
		mempool:  mempool,
		params:   params,
		events:   events,
		byHash:   make(map[string]*node),
		children: make(map[string][]string),
		state:    NewState(genesisValidators),
	}
}

// Init replays the persisted active chain into memory, rebuilding wallet
// state and the authority set. On an I1-I4 integrity break it refuses to
// serve (§4.2, §6 exit code 3) and reports the offending height.
func (bc *Blockchain) Init(genesisValidators []string) error {
	bc.mu.Lock()
	defer bc.mu.Unlock()

	tipHash, err := bc.store.GetTip()
	if err != nil {
		return fmt.Errorf("ledger: get tip: %w", err)
	}
	if tipHash == "" {
		return nil // fresh chain; caller must seal a genesis block
	}

	st := NewState(genesisValidators)
	var height int64
	var prevHash string
	var last *Block
	for {
		b, err := bc.store.GetBlockByHeight(height)
		if err != nil {
			if height == 0 {
				return fmt.Errorf("ledger: integrity failure: missing genesis block")
			}
			break
		}
		if height == 0 {
			if !isGenesisHash(b.Header.PrevHash) {
				return fmt.Errorf("ledger: integrity failure at height 0: bad prev_hash")
			}
		} else if b.Header.PrevHash != prevHash {
			return fmt.Errorf("ledger: integrity failure at height %d: prev_hash mismatch", height)
		}
		if err := b.VerifyIntegrity(); err != nil {
			return fmt.Errorf("ledger: integrity failure at height %d: %w", height, err)
		}
		for _, tx := range b.Transactions {
			if err := tx.Verify(); err != nil {
				return fmt.Errorf("ledger: integrity failure at height %d: tx %s: %w", height, tx.ID, err)
			}
			if err := st.ApplyTx(tx, height, bc.params.AuthorityLatency()); err != nil {
				return fmt.Errorf("ledger: integrity failure at height %d: tx %s: %w", height, tx.ID, err)
			}
		}
		bc.byHash[b.Hash] = &node{block: b, state: st.Clone()}
		if prevHash != "" {
			bc.children[prevHash] = append(bc.children[prevHash], b.Hash)
		}
		prevHash = b.Hash
		last = b
		height++
	}
	if last == nil || last.Hash != tipHash {
		return fmt.Errorf("ledger: integrity failure: persisted tip %s not reachable by height replay", tipHash)
	}
	bc.activeTipHash = last.Hash
	bc.activeHeight = last.Header.Height
	bc.state = st
	return nil
}

func isGenesisHash(h string) bool {
	if len(h) != len(GenesisPrevHash) {
		return false
	}
	for _, c := range h {
		if c != '0' {
			return false
		}
	}
	return true
}

// Tip returns the current active-chain tip, or nil for a fresh chain.
func (bc *Blockchain) Tip() *Block {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	n, ok := bc.byHash[bc.activeTipHash]
	if !ok {
		return nil
	}
	return n.block
}

// Height returns the active chain's height (0 for a fresh, genesis-only chain).
func (bc *Blockchain) Height() int64 {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	return bc.activeHeight
}

// AuthoritySetAt returns the validator pubkeys authorised to sign at height,
// folded from the active chain's governance history.
func (bc *Blockchain) AuthoritySetAt(height int64) []string {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	return bc.state.AuthoritySetAt(height)
}

// Wallet returns the current wallet view for addr (§3, §4.2 get_blocks/wallet).
func (bc *Blockchain) Wallet(addr string) WalletView {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	return bc.state.Wallet(addr, bc.activeHeight)
}

// GetBlock returns a block by hash from any known branch.
func (bc *Blockchain) GetBlock(hash string) (*Block, error) {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	n, ok := bc.byHash[hash]
	if !ok {
		return nil, ErrNotFound
	}
	return n.block, nil
}

// GetBlockByHeight returns the active chain's block at height.
func (bc *Blockchain) GetBlockByHeight(height int64) (*Block, error) {
	return bc.store.GetBlockByHeight(height)
}

// GetBlocks returns a page of active-chain blocks, descending by height.
func (bc *Blockchain) GetBlocks(offset, limit int) []*Block {
	bc.mu.RLock()
	top := bc.activeHeight
	bc.mu.RUnlock()
	if limit <= 0 {
		limit = 20
	}
	out := make([]*Block, 0, limit)
	for h := top - int64(offset); h >= 0 && len(out) < limit; h-- {
		b, err := bc.store.GetBlockByHeight(h)
		if err != nil {
			break
		}
		out = append(out, b)
	}
	return out
}

// GetTx scans the active chain for a sealed transaction by ID. A production
// node would keep a tx->height index; for the audit-trail sizes this system
// targets, a linear scan from the tip back to genesis is sufficient and
// keeps the store interface minimal.
func (bc *Blockchain) GetTx(id string) (*Transaction, int64, error) {
	bc.mu.RLock()
	top := bc.activeHeight
	bc.mu.RUnlock()
	for h := top; h >= 0; h-- {
		b, err := bc.store.GetBlockByHeight(h)
		if err != nil {
			continue
		}
		for _, tx := range b.Transactions {
			if tx.ID == id {
				return tx, h, nil
			}
		}
	}
	return nil, 0, ErrNotFound
}

// SubmitTx validates and admits tx into the mempool (§4.2).
// mint_reward and slash are system-only and are rejected here; they are
// minted exclusively by ProposeBlock.
func (bc *Blockchain) SubmitTx(tx *Transaction) error {
	if tx.IsSystem() {
		return errors.New("ledger: system transactions cannot be submitted directly")
	}
	if err := tx.Verify(); err != nil {
		return fmt.Errorf("ledger: invalid signature: %w", err)
	}

	bc.mu.RLock()
	sandbox := bc.state.Clone()
	height := bc.activeHeight
	bc.mu.RUnlock()

	if err := sandbox.ApplyTx(tx, height, bc.params.AuthorityLatency()); err != nil {
		return fmt.Errorf("ledger: insufficient funds or invalid state transition: %w", err)
	}

	if err := bc.mempool.Add(tx); err != nil {
		return err
	}
	if bc.events != nil {
		bc.events.PublishTx(tx.ID, string(tx.Type))
	}
	return nil
}

// ProposeBlock is called only by the local PoA validator for the current
// height (§4.2). It pulls from the mempool in arrival order, capped at
// MaxTxPerBlock, skipping any transaction that no longer validates against
// the running fold (e.g. a double-spend within the same block).
func (bc *Blockchain) ProposeBlock(priv identity.PrivateKey, validatorPubkeyHex string, extraTxs ...*Transaction) (*Block, error) {
	bc.mu.Lock()
	defer bc.mu.Unlock()

	limit := bc.params.MaxTxPerBlock()
	if limit <= 0 {
		limit = 256
	}
	candidates := append(append([]*Transaction{}, extraTxs...), bc.mempool.Pending(limit)...)
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}

	nextHeight := bc.activeHeight
	prevHash := GenesisPrevHash
	if _, ok := bc.byHash[bc.activeTipHash]; ok {
		nextHeight = bc.activeHeight + 1
		prevHash = bc.activeTipHash
	}

	sandbox := bc.state.Clone()
	included := make([]*Transaction, 0, len(candidates))
	for _, tx := range candidates {
		if err := tx.Verify(); err != nil {
			continue
		}
		if err := sandbox.ApplyTx(tx, nextHeight, bc.params.AuthorityLatency()); err != nil {
			continue
		}
		included = append(included, tx)
	}

	block := NewBlock(nextHeight, prevHash, validatorPubkeyHex, included)
	block.Sign(priv)
	block.ReceivedAt = time.Now()

	if err := bc.acceptLocked(block); err != nil {
		return nil, err
	}

	ids := make([]string, len(included))
	for i, tx := range included {
		ids[i] = tx.ID
	}
	bc.mempool.Remove(ids)

	return block, nil
}

// AcceptBlock validates and ingests a block received from a peer or from
// the local proposer (§4.2). It never blocks on I/O beyond the BlockStore.
func (bc *Blockchain) AcceptBlock(block *Block) (AcceptResult, error) {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	if block.ReceivedAt.IsZero() {
		block.ReceivedAt = time.Now()
	}
	return bc.acceptResultLocked(block)
}

func (bc *Blockchain) acceptLocked(block *Block) error {
	res, err := bc.acceptResultLocked(block)
	if err != nil {
		return err
	}
	if res.Outcome == AcceptReject {
		return fmt.Errorf("ledger: reject own proposal: %s", res.Reason)
	}
	return nil
}

func (bc *Blockchain) acceptResultLocked(block *Block) (AcceptResult, error) {
	if _, exists := bc.byHash[block.Hash]; exists {
		return AcceptResult{Outcome: AcceptReject, Reason: "duplicate block"}, nil
	}
	if err := block.VerifyIntegrity(); err != nil {
		return AcceptResult{Outcome: AcceptReject, Reason: err.Error()}, nil
	}

	var parent *node
	if block.Header.Height == 0 {
		if !isGenesisHash(block.Header.PrevHash) {
			return AcceptResult{Outcome: AcceptReject, Reason: "bad genesis prev_hash"}, nil
		}
	} else {
		p, ok := bc.byHash[block.Header.PrevHash]
		if !ok {
			return AcceptResult{Outcome: AcceptReject, Reason: "unknown parent"}, nil
		}
		if p.block.Header.Height != block.Header.Height-1 {
			return AcceptResult{Outcome: AcceptReject, Reason: "height does not follow parent"}, nil
		}
		parent = p
	}

	authority := bc.state.AuthoritySetAt(block.Header.Height)
	if parent != nil {
		authority = parent.state.AuthoritySetAt(block.Header.Height)
	}
	if !containsStr(authority, block.Header.ValidatorPubkey) {
		return AcceptResult{Outcome: AcceptReject, Reason: "validator not in authority set at height"}, nil
	}
	pub, err := identity.PubKeyFromHex(block.Header.ValidatorPubkey)
	if err != nil {
		return AcceptResult{Outcome: AcceptReject, Reason: err.Error()}, nil
	}
	if err := block.Verify(pub); err != nil {
		return AcceptResult{Outcome: AcceptReject, Reason: err.Error()}, nil
	}

	branchState := bc.state.Clone()
	if parent != nil {
		branchState = parent.state.Clone()
	}
	for _, tx := range block.Transactions {
		if err := tx.Verify(); err != nil {
			return AcceptResult{Outcome: AcceptReject, Reason: fmt.Sprintf("tx %s: %v", tx.ID, err)}, nil
		}
		if err := branchState.ApplyTx(tx, block.Header.Height, bc.params.AuthorityLatency()); err != nil {
			return AcceptResult{Outcome: AcceptReject, Reason: fmt.Sprintf("tx %s: %v", tx.ID, err)}, nil
		}
	}

	if err := bc.store.PutBlock(block); err != nil {
		return AcceptResult{}, fmt.Errorf("ledger: persist block: %w", err)
	}
	bc.byHash[block.Hash] = &node{block: block, state: branchState}
	if block.Header.Height > 0 {
		bc.children[block.Header.PrevHash] = append(bc.children[block.Header.PrevHash], block.Hash)
	}

	extendsActive := block.Header.Height == 0 || block.Header.PrevHash == bc.activeTipHash
	if extendsActive {
		if err := bc.advanceActive(block, branchState); err != nil {
			return AcceptResult{}, err
		}
		return AcceptResult{Outcome: AcceptExtends}, nil
	}

	forkHeight := bc.forkPoint(block.Hash)
	bc.maybeReorgLocked()
	return AcceptResult{Outcome: AcceptExtendsSide, ForkPointHeight: forkHeight}, nil
}

func (bc *Blockchain) advanceActive(block *Block, st *State) error {
	if err := bc.store.PutBlockByHeight(block.Header.Height, block.Hash); err != nil {
		return fmt.Errorf("ledger: persist height index: %w", err)
	}
	if err := bc.store.SetTip(block.Hash); err != nil {
		return fmt.Errorf("ledger: persist tip: %w", err)
	}
	bc.activeTipHash = block.Hash
	bc.activeHeight = block.Header.Height
	bc.state = st
	if bc.events != nil {
		bc.events.PublishBlock(block.Header.Height, block.Hash)
	}
	return nil
}

// forkPoint walks back from hash to find the height at which it diverges
// from the active chain.
func (bc *Blockchain) forkPoint(hash string) int64 {
	h := hash
	for {
		n, ok := bc.byHash[h]
		if !ok {
			return 0
		}
		if active, err := bc.store.GetBlockByHeight(n.block.Header.Height); err == nil && active.Hash == h {
			return n.block.Header.Height
		}
		if n.block.Header.Height == 0 {
			return 0
		}
		h = n.block.Header.PrevHash
	}
}

// MaybeReorg re-checks whether any known side chain now strictly exceeds
// the active chain's height and, if so, switches to it (§4.2).
func (bc *Blockchain) MaybeReorg() ReorgResult {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	return bc.maybeReorgLocked()
}

func (bc *Blockchain) maybeReorgLocked() ReorgResult {
	leaf := bc.activeTipHash
	bestHeight := bc.activeHeight
	bestReceived := bc.byHash[leaf].block.ReceivedAt
	found := false

	hasChild := make(map[string]bool, len(bc.children))
	for p := range bc.children {
		hasChild[p] = true
	}
	for hash, n := range bc.byHash {
		if hasChild[hash] {
			continue // not a leaf
		}
		h := n.block.Header.Height
		if h > bestHeight || (h == bestHeight && hash != leaf && n.block.ReceivedAt.Before(bestReceived)) {
			bestHeight = h
			leaf = hash
			bestReceived = n.block.ReceivedAt
			found = h > bc.activeHeight
		}
	}
	if !found || leaf == bc.activeTipHash {
		return ReorgResult{}
	}

	// Walk back from the new leaf to genesis to build the new path.
	var path []*node
	h := leaf
	for {
		n, ok := bc.byHash[h]
		if !ok {
			log.Printf("[ledger] reorg aborted: broken chain at %s", h)
			return ReorgResult{}
		}
		path = append([]*node{n}, path...)
		if n.block.Header.Height == 0 {
			break
		}
		h = n.block.Header.PrevHash
	}

	oldTipHash := bc.activeTipHash
	oldHeight := bc.activeHeight

	var orphaned []*Transaction
	seen := make(map[string]bool)
	for _, n := range path {
		seen[n.block.Hash] = true
	}
	oh := oldTipHash
	for {
		n, ok := bc.byHash[oh]
		if !ok || seen[n.block.Hash] {
			break
		}
		orphaned = append(orphaned, n.block.Transactions...)
		if n.block.Header.Height == 0 {
			break
		}
		oh = n.block.Header.PrevHash
	}

	for _, n := range path {
		if err := bc.store.PutBlockByHeight(n.block.Header.Height, n.block.Hash); err != nil {
			log.Printf("[ledger] reorg height index write failed at %d: %v", n.block.Header.Height, err)
		}
	}
	if err := bc.store.SetTip(leaf); err != nil {
		log.Printf("[ledger] reorg tip write failed: %v", err)
	}
	bc.activeTipHash = leaf
	bc.activeHeight = bestHeight
	bc.state = bc.byHash[leaf].state.Clone()

	sealed := make(map[string]bool)
	for _, n := range path {
		for _, tx := range n.block.Transactions {
			sealed[tx.ID] = true
		}
	}

	result := ReorgResult{Reorged: true, NewTipHash: leaf, NewHeight: bestHeight}
	for _, tx := range orphaned {
		if sealed[tx.ID] {
			continue
		}
		sandbox := bc.state.Clone()
		if err := tx.Verify(); err == nil {
			if err := sandbox.ApplyTx(tx, bestHeight, bc.params.AuthorityLatency()); err == nil {
				if err := bc.mempool.Requeue(tx); err == nil {
					result.RequeuedTxIDs = append(result.RequeuedTxIDs, tx.ID)
					continue
				}
			}
		}
		result.DroppedTxIDs = append(result.DroppedTxIDs, tx.ID)
	}

	bc.mempool.Remove(sealedIDs(sealed))

	log.Printf("[ledger] reorg: %s (h=%d) -> %s (h=%d), requeued=%d dropped=%d",
		oldTipHash, oldHeight, leaf, bestHeight, len(result.RequeuedTxIDs), len(result.DroppedTxIDs))

	if bc.events != nil {
		bc.events.PublishBlock(bestHeight, leaf)
	}
	return result
}

func sealedIDs(m map[string]bool) []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	return ids
}

func containsStr(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
