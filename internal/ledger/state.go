package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Account holds a participant's liquid and staked token balances (§3).
// Address is the hex-encoded ed25519 public key.
type Account struct {
	Address string `json:"address"`
	Liquid  uint64 `json:"liquid_balance"`
	Staked  uint64 `json:"staked_balance"`
}

// WalletView is the read-only projection exposed over the API (§3).
type WalletView struct {
	Address        string `json:"address"`
	LiquidBalance  uint64 `json:"liquid_balance"`
	StakedBalance  uint64 `json:"staked_balance"`
	IsValidator    bool   `json:"is_validator"`
}

// State folds accepted transactions into account balances and the authority
// set. It is never persisted directly (§3, §4.2): it is always rebuilt by
// replaying the active chain's transactions, which is what keeps reorg
// correct without bespoke undo logic.
type State struct {
	accounts  map[string]*Account
	authority *AuthoritySet
}

// NewState creates an empty fold seeded with the genesis authority set.
func NewState(genesisValidators []string) *State {
	return &State{
		accounts:  make(map[string]*Account),
		authority: NewAuthoritySet(genesisValidators),
	}
}

func (s *State) account(addr string) *Account {
	acc, ok := s.accounts[addr]
	if !ok {
		acc = &Account{Address: addr}
		s.accounts[addr] = acc
	}
	return acc
}

// Wallet returns the wallet view for addr; a never-seen address has zero
// balances and is not a validator.
func (s *State) Wallet(addr string, atHeight int64) WalletView {
	acc, ok := s.accounts[addr]
	if !ok {
		return WalletView{Address: addr, IsValidator: s.authority.IsValidatorAt(addr, atHeight)}
	}
	return WalletView{
		Address:       addr,
		LiquidBalance: acc.Liquid,
		StakedBalance: acc.Staked,
		IsValidator:   s.authority.IsValidatorAt(addr, atHeight),
	}
}

// AuthoritySetAt returns the validator pubkeys permitted to sign at height.
func (s *State) AuthoritySetAt(height int64) []string {
	return s.authority.At(height)
}

// ApplyTx folds a single sealed, already-verified transaction's economic
// effect into account balances. containingHeight is the height of the block
// the tx is sealed in, needed for governance activation latency.
func (s *State) ApplyTx(tx *Transaction, containingHeight int64, authorityLatency int64) error {
	switch tx.Type {
	case TxMintReward:
		if tx.RecipientPubkey == "" {
			return errors.New("ledger: mint_reward requires recipient_pubkey")
		}
		s.account(tx.RecipientPubkey).Liquid += tx.Amount
		return nil

	case TxTransfer:
		sender := s.account(tx.SenderPubkey)
		if sender.Liquid < tx.Amount {
			return fmt.Errorf("ledger: insufficient funds: have %d need %d", sender.Liquid, tx.Amount)
		}
		sender.Liquid -= tx.Amount
		s.account(tx.RecipientPubkey).Liquid += tx.Amount
		return nil

	case TxStake:
		sender := s.account(tx.SenderPubkey)
		var p StakePayload
		if err := json.Unmarshal(tx.Payload, &p); err != nil {
			return fmt.Errorf("ledger: decode stake payload: %w", err)
		}
		if sender.Liquid < p.Amount {
			return fmt.Errorf("ledger: insufficient funds to stake: have %d need %d", sender.Liquid, p.Amount)
		}
		sender.Liquid -= p.Amount
		sender.Staked += p.Amount
		return nil

	case TxSlash:
		var p SlashPayload
		if err := json.Unmarshal(tx.Payload, &p); err != nil {
			return fmt.Errorf("ledger: decode slash payload: %w", err)
		}
		acc := s.account(p.Validator)
		acc.Staked = 0
		s.authority.ScheduleRemoval(p.Validator, containingHeight+authorityLatency)
		return nil

	case TxGovernance:
		var p GovernancePayload
		if err := json.Unmarshal(tx.Payload, &p); err != nil {
			return fmt.Errorf("ledger: decode governance payload: %w", err)
		}
		if p.Key == "authority" {
			var validators []string
			if err := json.Unmarshal(p.Value, &validators); err != nil {
				return fmt.Errorf("ledger: decode authority set: %w", err)
			}
			s.authority.ScheduleReplacement(validators, containingHeight+authorityLatency)
		}
		// Other governance keys (thresholds, deadlines, ...) are not wallet
		// state and have no effect here. internal/governance.Store's
		// ApplyGovernanceTx accepts them, but the node does not pass sealed
		// governance txs to it, so those tunables keep their configured values.
		return nil

	case TxDecisionRecord, TxKnowledgeIngest:
		// No balance effect; these exist for the audit trail only.
		return nil

	default:
		return fmt.Errorf("ledger: unknown tx type %q", tx.Type)
	}
}

// Clone returns a deep-enough copy for use as a sandboxed validation view
// (mempool admission checks run against a clone so a rejected tx cannot
// corrupt the canonical fold).
func (s *State) Clone() *State {
	cp := &State{
		accounts:  make(map[string]*Account, len(s.accounts)),
		authority: s.authority.Clone(),
	}
	for addr, acc := range s.accounts {
		accCopy := *acc
		cp.accounts[addr] = &accCopy
	}
	return cp
}
