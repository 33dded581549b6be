package ledger

import (
	"fmt"
	"sync"
)

// DoubleSignDetector watches accepted block headers for two distinct
// hashes signed by the same validator at the same height (§8 scenario S5).
// It is decoupled from Blockchain and sees only the headers its caller
// passes to Observe; neither Blockchain nor the mesh calls it. A validator
// signing two conflicting blocks is equally culpable whether or not either
// one wins the fork race.
type DoubleSignDetector struct {
	mu   sync.Mutex
	seen map[int64]map[string]string // height -> validator -> first hash observed ("" once a conflict was reported)
}

// NewDoubleSignDetector returns an empty detector.
func NewDoubleSignDetector() *DoubleSignDetector {
	return &DoubleSignDetector{seen: make(map[int64]map[string]string)}
}

// Observe records a signed block header and reports whether it conflicts
// with a previously observed header from the same validator at the same
// height. A conflict is reported at most once per (height, validator) pair.
func (d *DoubleSignDetector) Observe(height int64, validatorPubkey, hash string) (conflict bool, priorHash string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	byValidator, ok := d.seen[height]
	if !ok {
		byValidator = make(map[string]string)
		d.seen[height] = byValidator
	}
	prior, seen := byValidator[validatorPubkey]
	if !seen {
		byValidator[validatorPubkey] = hash
		return false, ""
	}
	if prior == hash || prior == "" {
		return false, ""
	}
	byValidator[validatorPubkey] = ""
	return true, prior
}

// Forget drops bookkeeping for heights older than keepAbove, bounding
// memory on a long-running node.
func (d *DoubleSignDetector) Forget(keepAbove int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for h := range d.seen {
		if h < keepAbove {
			delete(d.seen, h)
		}
	}
}

// SlashForDoubleSign builds the slash transaction for a confirmed
// double-sign, to be included in the next proposed block.
func SlashForDoubleSign(validatorPubkey string, height int64) (*Transaction, error) {
	return NewSlashTx(validatorPubkey, fmt.Sprintf("double-sign at height %d", height))
}
