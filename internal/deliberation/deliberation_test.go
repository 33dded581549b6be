package deliberation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Yehielamor/orbis-ethica/internal/council"
	"github.com/Yehielamor/orbis-ethica/internal/memorydag"
	"github.com/Yehielamor/orbis-ethica/internal/storage"
)

type fixedParams struct {
	quorum      float64
	safetyFloor float64
	maxRounds   int
	timeout     int
	mintReward  uint64
	thresholds  map[string]float64
}

func (p fixedParams) DeliberationQuorum() float64   { return p.quorum }
func (p fixedParams) SafetyFloor() float64          { return p.safetyFloor }
func (p fixedParams) MaxRounds() int                { return p.maxRounds }
func (p fixedParams) RoundTimeoutSeconds() int       { return p.timeout }
func (p fixedParams) MintRewardPerDecision() uint64  { return p.mintReward }
func (p fixedParams) Threshold(category string) float64 {
	if tau, ok := p.thresholds[category]; ok {
		return tau
	}
	return 0.5
}

func TestRunProducesTerminalOutcome(t *testing.T) {
	dag := memorydag.New(storage.NewMemDB())
	agents := council.NewCouncil(council.NewMockCapability())
	params := fixedParams{quorum: 0.1, safetyFloor: 0.0, maxRounds: 2, timeout: 5, mintReward: 10}
	engine := New(agents, dag, params, nil)

	proposal := &Proposal{ID: "p1", Title: "widen the bridge", Body: "increase capacity", SubmittedBy: "submitter-pubkey"}
	result, txs, err := engine.Run(context.Background(), proposal)
	require.NoError(t, err)
	require.NotNil(t, result)

	switch result.Outcome {
	case OutcomeApproved, OutcomeRejected, OutcomeRefined, OutcomeTimedOut:
	default:
		t.Fatalf("unexpected outcome %q", result.Outcome)
	}
	assert.NotEmpty(t, result.Rounds)
	assert.NotEmpty(t, result.AuditRefs)
	assert.NotEmpty(t, txs, "a decision_record tx is always produced")
	assert.Equal(t, "decision_record", string(txs[0].Type))
}

func TestSafetyFloorRejectsOutright(t *testing.T) {
	dag := memorydag.New(storage.NewMemDB())
	agents := council.NewCouncil(council.NewMockCapability())
	// Q_k is clamped to [0, 1], so a safety floor above 1 is always breached
	params := fixedParams{quorum: 0.1, safetyFloor: 1.01, maxRounds: 1, timeout: 5, mintReward: 0}
	engine := New(agents, dag, params, nil)

	proposal := &Proposal{ID: "p2", Title: "t", Body: "b", SubmittedBy: "s"}
	result, _, err := engine.Run(context.Background(), proposal)
	require.NoError(t, err)
	assert.Equal(t, OutcomeRejected, result.Outcome)
}

func TestUnreachableQuorumTimesOut(t *testing.T) {
	dag := memorydag.New(storage.NewMemDB())
	agents := council.NewCouncil(council.NewMockCapability())
	params := fixedParams{quorum: 1.01, safetyFloor: 0.0, maxRounds: 1, timeout: 5, mintReward: 0}
	engine := New(agents, dag, params, nil)

	proposal := &Proposal{ID: "p3", Title: "t", Body: "b", SubmittedBy: "s"}
	result, _, err := engine.Run(context.Background(), proposal)
	require.NoError(t, err)
	assert.Equal(t, OutcomeTimedOut, result.Outcome)
}
