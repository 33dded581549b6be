package council

import (
	"context"
	"encoding/json"
	"fmt"
)

// minReputation and maxReputation bound an agent's reputation weight
// (§2, §4.4): a voice can be driven all the way to zero influence by
// sustained disagreement, but never past full (1.0) trust.
const (
	minReputation = 0
	maxReputation = 1.0

	// reputationLambda is the learning-rate scale applied to both step
	// sizes; the examples' governance-tunable defaults leave it at 1.0 and
	// let alignedStep/misalignedStep carry the asymmetry.
	reputationLambda = 1.0
	alignedStep      = 0.02  // w_i += λ·0.02 when the agent's vote matched S_k's side
	misalignedStep   = -0.05 // w_i += λ·(-0.05) when it didn't; disagreement costs more than agreement earns
)

// AgentResponse is one council seat's evaluated position on a proposal in
// a given round (§4.3, §4.4).
type AgentResponse struct {
	Role       Role
	Score      ULFRScore
	Decision   Decision
	Rationale  string
	Abstained  bool
	Reputation float64
}

// Agent is one council seat: a fixed role backed by a pluggable generative
// capability, carrying a reputation that nudges its voting weight over
// time (§4.4).
type Agent struct {
	Role       Role
	Capability GenerativeCapability
	Reputation float64
}

// NewAgent creates an Agent at full (1.0) reputation.
func NewAgent(role Role, gc GenerativeCapability) *Agent {
	return &Agent{Role: role, Capability: gc, Reputation: 1.0}
}

// NewCouncil builds the full six-seat panel, all sharing the same backend
// unless replaced per-seat by the caller afterwards.
func NewCouncil(gc GenerativeCapability) map[Role]*Agent {
	agents := make(map[Role]*Agent, len(AllRoles))
	for _, r := range AllRoles {
		agents[r] = NewAgent(r, gc)
	}
	return agents
}

// Evaluate asks the agent's capability to score req and parses the result.
// A malformed or erroring capability response degrades the agent to an
// abstention rather than failing the round (§4.4): an abstaining agent
// contributes zero weight to the round's aggregate.
func (a *Agent) Evaluate(ctx context.Context, req GenerativeRequest) AgentResponse {
	req.Role = a.Role
	text, err := a.Capability.Generate(ctx, req)
	if err != nil {
		return AgentResponse{Role: a.Role, Abstained: true, Rationale: fmt.Sprintf("capability error: %v", err), Reputation: a.Reputation}
	}
	score, decision, rationale, err := ParseResponse(text)
	if err != nil {
		return AgentResponse{Role: a.Role, Abstained: true, Rationale: err.Error(), Reputation: a.Reputation}
	}
	return AgentResponse{Role: a.Role, Score: score, Decision: decision, Rationale: rationale, Reputation: a.Reputation}
}

// Refine asks the Mediator's capability to synthesize a child proposal from
// the previous round's rationale (§4.3's Mediator-driven refinement,
// §4.4's refine(proposal, prior_round) -> Proposal charter).
func (a *Agent) Refine(ctx context.Context, req RefineRequest) (RefineResult, error) {
	text, err := a.Capability.Generate(ctx, GenerativeRequest{
		Role:          a.Role,
		ProposalTitle: req.ProposalTitle,
		ProposalBody:  req.ProposalBody,
		RoundNumber:   req.RoundNumber,
		PriorRounds:   req.Rationales,
		Refine:        true,
	})
	if err != nil {
		return RefineResult{}, fmt.Errorf("council: mediator refine: %w", err)
	}
	var out RefineResult
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		return RefineResult{}, fmt.Errorf("council: malformed refine response: %w", err)
	}
	if out.Title == "" {
		out.Title = req.ProposalTitle
	}
	if out.Body == "" {
		out.Body = req.ProposalBody
	}
	return out, nil
}

// UpdateReputation nudges the agent's reputation weight per §4.4's
// governance-tunable rule: w_i <- clamp(w_i + λ·(aligned ? +0.02 : -0.05),
// 0, 1). aligned means the agent's vote landed on the same side of 0.5 as
// the round's final consensus signal S_k — disagreement costs more than
// agreement earns, so a chronically misaligned voice decays toward silence
// faster than a good one climbs back to full trust.
func (a *Agent) UpdateReputation(aligned bool) {
	step := misalignedStep
	if aligned {
		step = alignedStep
	}
	a.Reputation += reputationLambda * step
	if a.Reputation < minReputation {
		a.Reputation = minReputation
	}
	if a.Reputation > maxReputation {
		a.Reputation = maxReputation
	}
}
