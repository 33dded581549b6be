package ledger

import "github.com/Yehielamor/orbis-ethica/internal/identity"

// GenesisTreasurySupply is the ETHC minted to the treasury address at
// genesis (§3).
const GenesisTreasurySupply uint64 = 10_000_000

// BuildGenesisBlock seals block 0: a mint_reward tx crediting treasury with
// the full genesis supply, signed by priv, whose public key becomes the
// block's validator; the validators argument is not used (§3, §4.2). Callers pass the result to Blockchain.AcceptBlock before
// Init, or persist it directly and then call Init.
func BuildGenesisBlock(priv identity.PrivateKey, validators []string, treasury string) *Block {
	mint := NewMintRewardTx(treasury, GenesisTreasurySupply)
	validatorHex := priv.Public().Hex()
	block := NewBlock(0, GenesisPrevHash, validatorHex, []*Transaction{mint})
	block.Sign(priv)
	return block
}
