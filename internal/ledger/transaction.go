package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Yehielamor/orbis-ethica/internal/identity"
)

// TxType identifies the kind of operation a transaction performs (§3).
type TxType string

const (
	TxMintReward     TxType = "mint_reward"
	TxTransfer       TxType = "transfer"
	TxStake          TxType = "stake"
	TxSlash          TxType = "slash"
	TxDecisionRecord TxType = "decision_record"
	TxKnowledgeIngest TxType = "knowledge_ingest"
	TxGovernance     TxType = "governance"
)

// SystemSender is the synthetic sender address used by mint/slash txs,
// which are minted only by the ledger itself inside a proposed block.
const SystemSender = "system"

// Transaction is the atomic unit of work on the chain (§3).
type Transaction struct {
	ID              string          `json:"id"`
	Type            TxType          `json:"type"`
	SenderPubkey    string          `json:"sender_pubkey"`
	RecipientPubkey string          `json:"recipient_pubkey,omitempty"`
	Amount          uint64          `json:"amount,omitempty"`
	Payload         json.RawMessage `json:"payload,omitempty"`
	Timestamp       int64           `json:"timestamp"`
	Signature       string          `json:"signature,omitempty"`
}

// signingBody holds the fields covered by the signature (everything but
// ID and Signature themselves, mirroring the teacher's tx signing shape).
type signingBody struct {
	Type            TxType          `json:"type"`
	SenderPubkey    string          `json:"sender_pubkey"`
	RecipientPubkey string          `json:"recipient_pubkey,omitempty"`
	Amount          uint64          `json:"amount,omitempty"`
	Payload         json.RawMessage `json:"payload,omitempty"`
	Timestamp       int64           `json:"timestamp"`
}

// Hash returns the deterministic content hash of the transaction (sans ID
// and Signature); this doubles as tx.ID once set.
func (tx *Transaction) Hash() string {
	body := signingBody{
		Type:            tx.Type,
		SenderPubkey:    tx.SenderPubkey,
		RecipientPubkey: tx.RecipientPubkey,
		Amount:          tx.Amount,
		Payload:         tx.Payload,
		Timestamp:       tx.Timestamp,
	}
	data, err := json.Marshal(body)
	if err != nil {
		return ""
	}
	return identity.Hash(data)
}

// IsSystem reports whether tx is sealed by the ledger/deliberation engine
// itself rather than signed by a wallet holder: mint/slash txs and the
// decision_record that seals a deliberation's terminal outcome all require
// no signature, but may only appear in a block the local validator
// assembles (§3, §4.3).
func (tx *Transaction) IsSystem() bool {
	return tx.Type == TxMintReward || tx.Type == TxSlash || tx.Type == TxDecisionRecord
}

// Sign computes ID and Signature for a user-originated transaction.
func (tx *Transaction) Sign(priv identity.PrivateKey) {
	tx.ID = tx.Hash()
	tx.Signature = identity.Sign(priv, []byte(tx.ID))
}

// Seal finalises a system transaction: it has no signature, only an ID.
func (tx *Transaction) Seal() {
	tx.ID = tx.Hash()
}

// Verify checks structural validity and, for non-system txs, the signature.
func (tx *Transaction) Verify() error {
	if tx.IsSystem() {
		if tx.SenderPubkey != SystemSender {
			return errors.New("ledger: system tx must have sender \"system\"")
		}
		if computed := tx.Hash(); tx.ID != computed {
			return fmt.Errorf("ledger: system tx id mismatch: stored %s computed %s", tx.ID, computed)
		}
		return nil
	}
	if tx.SenderPubkey == "" || tx.SenderPubkey == SystemSender {
		return errors.New("ledger: missing or invalid sender_pubkey")
	}
	pub, err := identity.PubKeyFromHex(tx.SenderPubkey)
	if err != nil {
		return fmt.Errorf("ledger: invalid sender pubkey: %w", err)
	}
	if computed := tx.Hash(); tx.ID != computed {
		return fmt.Errorf("ledger: tx id mismatch: stored %s computed %s", tx.ID, computed)
	}
	return identity.Verify(pub, []byte(tx.ID), tx.Signature)
}

// NewTransaction creates an unsigned transaction with the current timestamp.
func NewTransaction(typ TxType, sender, recipient string, amount uint64, payload any) (*Transaction, error) {
	raw, err := marshalPayload(payload)
	if err != nil {
		return nil, err
	}
	return &Transaction{
		Type:            typ,
		SenderPubkey:    sender,
		RecipientPubkey: recipient,
		Amount:          amount,
		Payload:         raw,
		Timestamp:       time.Now().UnixNano(),
	}, nil
}

func marshalPayload(payload any) (json.RawMessage, error) {
	if payload == nil {
		return nil, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return raw, nil
}

// ---- Payload types ----

// DecisionRecordPayload seals a terminal deliberation outcome (§4.3).
type DecisionRecordPayload struct {
	ProposalID    string   `json:"proposal_id"`
	Outcome       string   `json:"outcome"`
	WeightedScore float64  `json:"weighted_score"`
	AuditRefs     []string `json:"audit_refs"`
}

// KnowledgeIngestPayload records an external knowledge artifact into the
// Memory DAG's provenance chain.
type KnowledgeIngestPayload struct {
	Title     string `json:"title"`
	ContentID string `json:"content_id"` // hash of ingested content
	Source    string `json:"source"`
}

// StakePayload locks tokens into a validator's stake balance.
type StakePayload struct {
	Amount uint64 `json:"amount"`
}

// SlashPayload burns a misbehaving validator's stake.
type SlashPayload struct {
	Validator string `json:"validator"`
	Reason    string `json:"reason"`
}

// GovernancePayload mutates a tunable parameter, taking effect at
// height + AUTHORITY_LATENCY (§4.2, §4.7).
type GovernancePayload struct {
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
}
