package ledger

import (
	"time"

	"github.com/Yehielamor/orbis-ethica/internal/identity"
)

// BuildTransfer constructs and signs a transfer transaction from priv to
// recipient (§3). It is a thin convenience wrapper; in this repository only
// tests call it.
func BuildTransfer(priv identity.PrivateKey, recipient string, amount uint64) (*Transaction, error) {
	sender := priv.Public().Hex()
	tx, err := NewTransaction(TxTransfer, sender, recipient, amount, nil)
	if err != nil {
		return nil, err
	}
	tx.Sign(priv)
	return tx, nil
}

// BuildStake constructs and signs a stake transaction that locks amount of
// the signer's own liquid balance (§3).
func BuildStake(priv identity.PrivateKey, amount uint64) (*Transaction, error) {
	sender := priv.Public().Hex()
	tx, err := NewTransaction(TxStake, sender, "", 0, StakePayload{Amount: amount})
	if err != nil {
		return nil, err
	}
	tx.Sign(priv)
	return tx, nil
}

// BuildKnowledgeIngest constructs and signs a knowledge_ingest transaction
// recording an external artifact's provenance into the audit trail (§3).
func BuildKnowledgeIngest(priv identity.PrivateKey, title, contentID, source string) (*Transaction, error) {
	sender := priv.Public().Hex()
	tx, err := NewTransaction(TxKnowledgeIngest, sender, "", 0, KnowledgeIngestPayload{
		Title:     title,
		ContentID: contentID,
		Source:    source,
	})
	if err != nil {
		return nil, err
	}
	tx.Sign(priv)
	return tx, nil
}

// BuildGovernance constructs and signs a governance transaction tuning a
// parameter (§4.7). Only pubkeys the running governance.Store treats as
// stewards will have their proposed change actually applied; signing alone
// does not grant authority.
func BuildGovernance(priv identity.PrivateKey, key string, value any) (*Transaction, error) {
	sender := priv.Public().Hex()
	raw, err := marshalPayload(value)
	if err != nil {
		return nil, err
	}
	tx, err := NewTransaction(TxGovernance, sender, "", 0, GovernancePayload{Key: key, Value: raw})
	if err != nil {
		return nil, err
	}
	tx.Sign(priv)
	return tx, nil
}

// NewMintRewardTx builds the unsigned, sealed system transaction that mints
// amount to a single recipient: an approved proposal's submitter (§4.3), or
// the treasury at genesis. It is only ever placed into a block the local
// validator proposes.
func NewMintRewardTx(recipient string, amount uint64) *Transaction {
	tx := &Transaction{
		Type:            TxMintReward,
		SenderPubkey:    SystemSender,
		RecipientPubkey: recipient,
		Amount:          amount,
	}
	tx.Timestamp = time.Now().UnixNano()
	tx.Seal()
	return tx
}

// NewSlashTx builds the unsigned, sealed system transaction that zeroes a
// double-signing validator's stake (§4.2, §8 scenario S5).
func NewSlashTx(validator, reason string) (*Transaction, error) {
	raw, err := marshalPayload(SlashPayload{Validator: validator, Reason: reason})
	if err != nil {
		return nil, err
	}
	tx := &Transaction{
		Type:         TxSlash,
		SenderPubkey: SystemSender,
		Payload:      raw,
		Timestamp:    time.Now().UnixNano(),
	}
	tx.Seal()
	return tx, nil
}

// NewDecisionRecordTx builds the unsigned, sealed system transaction that
// seals a deliberation's terminal outcome into the audit trail (§4.3).
func NewDecisionRecordTx(proposalID, outcome string, weightedScore float64, auditRefs []string) (*Transaction, error) {
	raw, err := marshalPayload(DecisionRecordPayload{
		ProposalID:    proposalID,
		Outcome:       outcome,
		WeightedScore: weightedScore,
		AuditRefs:     auditRefs,
	})
	if err != nil {
		return nil, err
	}
	tx := &Transaction{
		Type:         TxDecisionRecord,
		SenderPubkey: SystemSender,
		Payload:      raw,
		Timestamp:    time.Now().UnixNano(),
	}
	tx.Seal()
	return tx, nil
}
