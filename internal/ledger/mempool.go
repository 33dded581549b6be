package ledger

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// MaxMempoolSize bounds the mempool (§5's MAX_MEMPOOL).
const MaxMempoolSize = 10_000

const (
	maxTxAge    = int64(time.Hour)        // reject txs older than 1h
	maxTxFuture = int64(5 * time.Minute)  // reject txs more than 5m in the future
)

// ErrBackpressure is returned when the mempool is at capacity (§5, §7).
var ErrBackpressure = errors.New("ledger: mempool full (backpressure)")

// ErrDuplicateTx is returned when a tx with the same ID is already pending.
var ErrDuplicateTx = errors.New("ledger: duplicate transaction")

// Mempool is a thread-safe pending-transaction pool, order-preserving for
// deterministic block assembly (§4.2 propose_block takes mempool order).
type Mempool struct {
	mu  sync.RWMutex
	txs map[string]*Transaction
	ord []string
}

// NewMempool creates an empty mempool.
func NewMempool() *Mempool {
	return &Mempool{txs: make(map[string]*Transaction)}
}

// Add validates the timestamp window and inserts tx. The caller is
// responsible for signature/balance validation (Blockchain.SubmitTx) before
// calling Add; Mempool itself only enforces pool-local invariants.
func (m *Mempool) Add(tx *Transaction) error {
	now := time.Now().UnixNano()
	if now-tx.Timestamp > maxTxAge {
		return errors.New("ledger: transaction expired")
	}
	if tx.Timestamp-now > maxTxFuture {
		return errors.New("ledger: transaction timestamp too far in the future")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.txs) >= MaxMempoolSize {
		return ErrBackpressure
	}
	if _, exists := m.txs[tx.ID]; exists {
		return ErrDuplicateTx
	}
	m.txs[tx.ID] = tx
	m.ord = append(m.ord, tx.ID)
	return nil
}

// Get returns a transaction by ID.
func (m *Mempool) Get(id string) (*Transaction, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tx, ok := m.txs[id]
	return tx, ok
}

// Pending returns up to n pending transactions in insertion order, capped
// at MAX_TX_PER_BLOCK by the caller (§4.2).
func (m *Mempool) Pending(n int) []*Transaction {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if n <= 0 || n > len(m.ord) {
		n = len(m.ord)
	}
	result := make([]*Transaction, 0, n)
	for _, id := range m.ord {
		if tx, ok := m.txs[id]; ok {
			result = append(result, tx)
			if len(result) >= n {
				break
			}
		}
	}
	return result
}

// Remove deletes transactions by ID (called after block commit, and after a
// reorg for the txs sealed on the new active chain).
func (m *Mempool) Remove(ids []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := make(map[string]bool, len(ids))
	for _, id := range ids {
		delete(m.txs, id)
		removed[id] = true
	}
	filtered := m.ord[:0]
	for _, id := range m.ord {
		if !removed[id] {
			filtered = append(filtered, id)
		}
	}
	m.ord = filtered
}

// Requeue re-admits a tx that was orphaned by a reorg, skipping the age
// check since it may have been sealed for a while already.
func (m *Mempool) Requeue(tx *Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.txs) >= MaxMempoolSize {
		return ErrBackpressure
	}
	if _, exists := m.txs[tx.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateTx, tx.ID)
	}
	m.txs[tx.ID] = tx
	m.ord = append(m.ord, tx.ID)
	return nil
}

// Size returns the current number of pending transactions.
func (m *Mempool) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.txs)
}
