package core

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

const (
	maxMempoolSize = 10_000
	maxPerSender   = 256
	maxTxAge       = int64(time.Hour)
	maxTxFuture    = int64(5 * time.Minute)
)

// Mempool errors.
var (
	ErrMempoolFull     = errors.New("mempool full")
	ErrTxKnown         = errors.New("tx already in pool")
	ErrTxExpired       = errors.New("transaction expired")
	ErrTxFromFuture    = errors.New("transaction timestamp too far in the future")
	ErrSenderQuota     = errors.New("too many pending transactions from sender")
	ErrChainIDMismatch = errors.New("chain id mismatch")
)

// Mempool is a thread-safe pending-transaction pool that preserves arrival
// order, which is the order the backend's lifecycle calls are executed in.
type Mempool struct {
	chainID string

	mu       sync.RWMutex
	txs      map[string]*Transaction
	ord      []string
	bySender map[string]int
}

// NewMempool creates an empty mempool accepting transactions for chainID.
func NewMempool(chainID string) *Mempool {
	return &Mempool{
		chainID:  chainID,
		txs:      make(map[string]*Transaction),
		bySender: make(map[string]int),
	}
}

// Add validates and inserts a transaction.
func (m *Mempool) Add(tx *Transaction) error {
	if tx.ChainID != m.chainID {
		return fmt.Errorf("%w: got %q want %q", ErrChainIDMismatch, tx.ChainID, m.chainID)
	}
	if err := tx.Verify(); err != nil {
		return fmt.Errorf("invalid tx signature: %w", err)
	}
	now := time.Now().UnixNano()
	if now-tx.Timestamp > maxTxAge {
		return ErrTxExpired
	}
	if tx.Timestamp-now > maxTxFuture {
		return ErrTxFromFuture
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.txs) >= maxMempoolSize {
		return ErrMempoolFull
	}
	if _, exists := m.txs[tx.ID]; exists {
		return ErrTxKnown
	}
	if m.bySender[tx.From] >= maxPerSender {
		return ErrSenderQuota
	}
	m.txs[tx.ID] = tx
	m.ord = append(m.ord, tx.ID)
	m.bySender[tx.From]++
	log.Tracef("Accepted tx %s (%s) from %s", tx.ID, tx.Type, tx.From)
	return nil
}

// Get returns a transaction by ID.
func (m *Mempool) Get(id string) (*Transaction, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tx, ok := m.txs[id]
	return tx, ok
}

// Pending returns up to n pending transactions in insertion order.
func (m *Mempool) Pending(n int) []*Transaction {
	m.mu.RLock()
	defer m.mu.RUnlock()
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

// Remove deletes transactions by ID (called after block commit).
func (m *Mempool) Remove(ids []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := make(map[string]bool, len(ids))
	for _, id := range ids {
		if tx, ok := m.txs[id]; ok {
			m.bySender[tx.From]--
			if m.bySender[tx.From] <= 0 {
				delete(m.bySender, tx.From)
			}
			delete(m.txs, id)
		}
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

// Size returns the current number of pending transactions.
func (m *Mempool) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.txs)
}
