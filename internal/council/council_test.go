package council

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockCapabilityProducesClampedScores(t *testing.T) {
	mock := NewMockCapability()
	text, err := mock.Generate(context.Background(), GenerativeRequest{
		Role:          RoleGuardian,
		ProposalTitle: "test",
		ProposalBody:  "body",
		RoundNumber:   1,
	})
	require.NoError(t, err)

	score, decision, rationale, err := ParseResponse(text)
	require.NoError(t, err)
	assert.NotEmpty(t, rationale)
	assert.True(t, decision.valid())
	assert.GreaterOrEqual(t, score.Utility, 0.0)
	assert.LessOrEqual(t, score.Utility, 1.0)
	assert.GreaterOrEqual(t, score.Rights, 0.0)
	assert.LessOrEqual(t, score.Rights, 1.0)
}

func TestMockCapabilityDeterministic(t *testing.T) {
	mock := NewMockCapability()
	req := GenerativeRequest{Role: RoleSeeker, ProposalTitle: "x", ProposalBody: "y", RoundNumber: 2}
	a, err := mock.Generate(context.Background(), req)
	require.NoError(t, err)
	b, err := mock.Generate(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

type failingCapability struct{}

func (failingCapability) Generate(context.Context, GenerativeRequest) (string, error) {
	return "", errors.New("boom")
}

func TestAgentDegradesToAbstainOnCapabilityError(t *testing.T) {
	a := NewAgent(RoleHealer, failingCapability{})
	resp := a.Evaluate(context.Background(), GenerativeRequest{ProposalTitle: "p"})
	assert.True(t, resp.Abstained)
}

type malformedCapability struct{}

func (malformedCapability) Generate(context.Context, GenerativeRequest) (string, error) {
	return "not json", nil
}

func TestAgentDegradesToAbstainOnMalformedResponse(t *testing.T) {
	a := NewAgent(RoleArbiter, malformedCapability{})
	resp := a.Evaluate(context.Background(), GenerativeRequest{ProposalTitle: "p"})
	assert.True(t, resp.Abstained)
}

func TestReputationClampsWithinBounds(t *testing.T) {
	a := NewAgent(RoleCreator, NewMockCapability())
	for i := 0; i < 100; i++ {
		a.UpdateReputation(true)
	}
	assert.LessOrEqual(t, a.Reputation, maxReputation)

	for i := 0; i < 100; i++ {
		a.UpdateReputation(false)
	}
	assert.GreaterOrEqual(t, a.Reputation, minReputation)
}

func TestNewCouncilHasSixSeats(t *testing.T) {
	agents := NewCouncil(NewMockCapability())
	assert.Len(t, agents, 6)
	for _, r := range AllRoles {
		assert.Contains(t, agents, r)
	}
}
