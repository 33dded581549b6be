package ledger

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/Yehielamor/orbis-ethica/internal/identity"
)

// GenesisPrevHash is the canonical all-zeros previous hash for block 0 (§3).
const GenesisPrevHash = "0000000000000000000000000000000000000000000000000000000000000000"

// BlockHeader contains the block metadata that is hashed and signed (§3).
type BlockHeader struct {
	Height          int64  `json:"height"`
	PrevHash        string `json:"prev_hash"`
	MerkleRoot      string `json:"merkle_root"`
	ValidatorPubkey string `json:"validator_pubkey"`
	Timestamp       int64  `json:"timestamp"`
}

// Block is a sealed collection of transactions under a PoA validator
// signature (§3).
type Block struct {
	Header       BlockHeader    `json:"header"`
	Transactions []*Transaction `json:"transactions"`
	Hash         string         `json:"hash"`
	Signature    string         `json:"signature"`

	// ReceivedAt is the node-local wall-clock of first observation, used for
	// the deterministic tie-break between equal-height forks (§4.2). It is
	// never part of the hash and never transmitted.
	ReceivedAt time.Time `json:"-"`
}

// ComputeHash returns block_hash = H(height || prev_hash || merkle_root ||
// validator_pubkey || timestamp), matching §3 exactly rather than hashing
// the whole header struct, so that field order/encoding drift can never
// change the hash.
func (b *Block) ComputeHash() string {
	var buf bytes.Buffer
	var h [8]byte
	binary.BigEndian.PutUint64(h[:], uint64(b.Header.Height))
	buf.Write(h[:])
	buf.WriteString(b.Header.PrevHash)
	buf.WriteString(b.Header.MerkleRoot)
	buf.WriteString(b.Header.ValidatorPubkey)
	binary.BigEndian.PutUint64(h[:], uint64(b.Header.Timestamp))
	buf.Write(h[:])
	return identity.Hash(buf.Bytes())
}

// Sign sets Hash and signs the block with the validator's private key.
func (b *Block) Sign(priv identity.PrivateKey) {
	b.Hash = b.ComputeHash()
	b.Signature = identity.Sign(priv, []byte(b.Hash))
}

// Verify checks I2: the stored hash matches the recomputed one and the
// validator's signature over it is valid.
func (b *Block) Verify(pub identity.PublicKey) error {
	if computed := b.ComputeHash(); b.Hash != computed {
		return fmt.Errorf("ledger: block hash mismatch: stored %s computed %s", b.Hash, computed)
	}
	return identity.Verify(pub, []byte(b.Hash), b.Signature)
}

// VerifyIntegrity checks I4: the recomputed Merkle root matches the header,
// independent of who signed it.
func (b *Block) VerifyIntegrity() error {
	if computed := b.ComputeHash(); b.Hash != computed {
		return fmt.Errorf("ledger: block hash mismatch: stored %s computed %s", b.Hash, computed)
	}
	if root := MerkleRoot(b.Transactions); b.Header.MerkleRoot != root {
		return errors.New("ledger: merkle_root mismatch")
	}
	return nil
}

// MerkleRoot builds a deterministic root hash from transaction IDs.
// Per property test 5, the transactions are sorted by tx.ID before hashing
// so the root is independent of arrival/gossip order; each ID is
// length-prefixed to avoid boundary-ambiguity between adjacent IDs.
func MerkleRoot(txs []*Transaction) string {
	if len(txs) == 0 {
		return identity.Hash([]byte("empty"))
	}
	ids := make([]string, len(txs))
	for i, tx := range txs {
		ids[i] = tx.ID
	}
	sort.Strings(ids)

	var buf bytes.Buffer
	var lenBuf [4]byte
	for _, id := range ids {
		b := []byte(id)
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(b)))
		buf.Write(lenBuf[:])
		buf.Write(b)
	}
	return identity.Hash(buf.Bytes())
}

// NewBlock creates an unsigned block with the given parameters; its
// MerkleRoot is computed from txs here. The caller must Sign it.
func NewBlock(height int64, prevHash, validator string, txs []*Transaction) *Block {
	return &Block{
		Header: BlockHeader{
			Height:          height,
			PrevHash:        prevHash,
			ValidatorPubkey: validator,
			Timestamp:       time.Now().UnixNano(),
			MerkleRoot:      MerkleRoot(txs),
		},
		Transactions: txs,
	}
}

// MarshalForWire returns the canonical JSON encoding used on the gossip wire.
func (b *Block) MarshalForWire() ([]byte, error) {
	return json.Marshal(b)
}
