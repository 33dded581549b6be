package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Yehielamor/orbis-ethica/internal/identity"
)

type memStore struct {
	blocks     map[string]*Block
	byHeight   map[int64]string
	tip        string
}

func newMemStore() *memStore {
	return &memStore{blocks: make(map[string]*Block), byHeight: make(map[int64]string)}
}

func (m *memStore) GetBlock(hash string) (*Block, error) {
	b, ok := m.blocks[hash]
	if !ok {
		return nil, ErrNotFound
	}
	return b, nil
}

func (m *memStore) PutBlock(b *Block) error {
	m.blocks[b.Hash] = b
	return nil
}

func (m *memStore) GetBlockByHeight(h int64) (*Block, error) {
	hash, ok := m.byHeight[h]
	if !ok {
		return nil, ErrNotFound
	}
	return m.GetBlock(hash)
}

func (m *memStore) PutBlockByHeight(h int64, hash string) error {
	m.byHeight[h] = hash
	return nil
}

func (m *memStore) GetTip() (string, error) { return m.tip, nil }
func (m *memStore) SetTip(hash string) error {
	m.tip = hash
	return nil
}

type fixedParams struct {
	maxTx    int
	latency  int64
}

func (p fixedParams) MaxTxPerBlock() int    { return p.maxTx }
func (p fixedParams) AuthorityLatency() int64 { return p.latency }

type noopEvents struct{}

func (noopEvents) PublishBlock(int64, string)  {}
func (noopEvents) PublishTx(string, string)    {}

func newTestChain(t *testing.T) (*Blockchain, identity.PrivateKey, string) {
	t.Helper()
	priv, pub, err := identity.GenerateKeyPair()
	require.NoError(t, err)
	validator := pub.Hex()

	store := newMemStore()
	mp := NewMempool()
	params := fixedParams{maxTx: 100, latency: 2}
	bc := NewBlockchain(store, mp, params, noopEvents{}, []string{validator})

	genesis := BuildGenesisBlock(priv, []string{validator}, "treasury")
	res, err := bc.AcceptBlock(genesis)
	require.NoError(t, err)
	require.Equal(t, AcceptExtends, res.Outcome)

	return bc, priv, validator
}

func TestGenesisMintsTreasury(t *testing.T) {
	bc, _, _ := newTestChain(t)
	w := bc.Wallet("treasury")
	assert.Equal(t, GenesisTreasurySupply, w.LiquidBalance)
	assert.Equal(t, int64(0), bc.Height())
}

func TestSubmitAndProposeTransfer(t *testing.T) {
	bc, priv, validator := newTestChain(t)

	recipientPriv, recipientPub, err := identity.GenerateKeyPair()
	require.NoError(t, err)
	_ = recipientPriv

	// treasury has no private key under this scheme (system mint only), so
	// exercise transfer from the validator after funding its liquid balance
	// via a direct mint for test purposes.
	mint := NewMintRewardTx(validator, 1000)
	block, err := bc.ProposeBlock(priv, validator, mint)
	require.NoError(t, err)
	require.Len(t, block.Transactions, 1)

	tx, err := BuildTransfer(priv, recipientPub.Hex(), 250)
	require.NoError(t, err)
	require.NoError(t, bc.SubmitTx(tx))

	block2, err := bc.ProposeBlock(priv, validator)
	require.NoError(t, err)
	require.Len(t, block2.Transactions, 1)

	w := bc.Wallet(recipientPub.Hex())
	assert.Equal(t, uint64(250), w.LiquidBalance)
	sender := bc.Wallet(validator)
	assert.Equal(t, uint64(750), sender.LiquidBalance)
}

func TestRejectInsufficientFunds(t *testing.T) {
	bc, priv, _ := newTestChain(t)
	_, poorPub, err := identity.GenerateKeyPair()
	require.NoError(t, err)

	tx, err := BuildTransfer(priv, poorPub.Hex(), 999_999_999)
	require.NoError(t, err)
	err = bc.SubmitTx(tx)
	assert.Error(t, err)
}

func TestAcceptBlockRejectsBadSignature(t *testing.T) {
	bc, priv, validator := newTestChain(t)
	block, err := bc.ProposeBlock(priv, validator)
	require.NoError(t, err)

	_, outsiderPub, err := identity.GenerateKeyPair()
	require.NoError(t, err)
	tampered := *block
	tampered.Header.ValidatorPubkey = outsiderPub.Hex()
	tampered.Hash = tampered.ComputeHash()

	res, err := bc.AcceptBlock(&tampered)
	require.NoError(t, err)
	assert.Equal(t, AcceptReject, res.Outcome)
}

func TestDoubleSignDetector(t *testing.T) {
	d := NewDoubleSignDetector()
	conflict, _ := d.Observe(10, "validatorA", "hash1")
	assert.False(t, conflict)
	conflict, prior := d.Observe(10, "validatorA", "hash2")
	assert.True(t, conflict)
	assert.Equal(t, "hash1", prior)

	tx, err := SlashForDoubleSign("validatorA", 10)
	require.NoError(t, err)
	assert.Equal(t, TxSlash, tx.Type)
}

func TestMerkleRootOrderIndependent(t *testing.T) {
	priv, pub, err := identity.GenerateKeyPair()
	require.NoError(t, err)
	a, err := NewTransaction(TxTransfer, pub.Hex(), "r1", 1, nil)
	require.NoError(t, err)
	a.Sign(priv)
	b, err := NewTransaction(TxTransfer, pub.Hex(), "r2", 1, nil)
	require.NoError(t, err)
	b.Sign(priv)

	r1 := MerkleRoot([]*Transaction{a, b})
	r2 := MerkleRoot([]*Transaction{b, a})
	assert.Equal(t, r1, r2)
}
