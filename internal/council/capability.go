// Package council implements the six-role Agent Council that evaluates
// proposals during deliberation (§4.3, §4.4): Seeker, Healer, Guardian,
// Mediator, Creator, and Arbiter, each scoring a proposal on the
// Utility/Life/Fairness/Rights axes through a pluggable generative backend.
package council

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/Yehielamor/orbis-ethica/internal/identity"
)

// Role identifies one of the six council seats (§4.4).
type Role string

const (
	RoleSeeker   Role = "seeker"   // surfaces facts and open questions
	RoleHealer   Role = "healer"   // weighs harm and wellbeing
	RoleGuardian Role = "guardian" // weighs rights and safety floors
	RoleMediator Role = "mediator" // drives refinement between rounds
	RoleCreator  Role = "creator"  // proposes alternative framings
	RoleArbiter  Role = "arbiter"  // breaks ties, has the deciding vote
)

// AllRoles lists the six seats in a stable order.
var AllRoles = []Role{RoleSeeker, RoleHealer, RoleGuardian, RoleMediator, RoleCreator, RoleArbiter}

// ULFRScore is one agent's ethical assessment of a proposal (§4.3): each
// axis is in [0, 1], Confidence is the agent's self-reported certainty.
type ULFRScore struct {
	Utility    float64 `json:"utility"`
	Life       float64 `json:"life"`
	Fairness   float64 `json:"fairness"`
	Rights     float64 `json:"rights"`
	Confidence float64 `json:"confidence"`
}

// ULFR weight constants for the §4.3 sanity score Q_k = 1 - (γ·(1-Fairness)
// + δ·(1-Rights)) + α·Utility + β·Life, clamped to [0, 1]. Fairness and
// Rights dominate as violation penalties (γ, δ) since those are the axes
// the §4.3 safety floor exists to catch; Utility and Life contribute a
// smaller upward adjustment (α, β) on top of a baseline of 1.
const (
	qWeightUtility  = 0.1 // α
	qWeightLife     = 0.1 // β
	qWeightFairness = 0.5 // γ, penalty weight on (1-Fairness)
	qWeightRights   = 0.5 // δ, penalty weight on (1-Rights)
)

// Q computes the ULFR sanity score Q_k (§4.3). It is deliberately kept
// separate from the discrete consensus vote S_k: Q_k never gates an
// outcome directly except through the safety floor (Q_k < 0.2 forces
// rejection regardless of vote tally).
func (s ULFRScore) Q() float64 {
	penalty := qWeightFairness*(1-s.Fairness) + qWeightRights*(1-s.Rights)
	boost := qWeightUtility*s.Utility + qWeightLife*s.Life
	return clamp01(1 - penalty + boost)
}

// clamp01 keeps a value in [0, 1], guarding against a malformed or
// adversarial generative backend pushing scores out of range.
func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func (s ULFRScore) clamped() ULFRScore {
	return ULFRScore{
		Utility:    clamp01(s.Utility),
		Life:       clamp01(s.Life),
		Fairness:   clamp01(s.Fairness),
		Rights:     clamp01(s.Rights),
		Confidence: clamp01(s.Confidence),
	}
}

// GenerativeRequest is what an agent asks its backend to evaluate.
type GenerativeRequest struct {
	Role          Role
	ProposalTitle string
	ProposalBody  string
	RoundNumber   int
	PriorRounds   []string // prior round's rationale text, carried forward once a round has run
	Refine        bool     // true when this is a Mediator refine(proposal, prior_round) call, not a score
}

// GenerativeCapability produces a raw scoring response for a role. A
// production deployment wires this to an LLM provider; tests and the
// default runtime configuration use MockCapability (§4.4, Non-goals:
// no specific model is mandated).
type GenerativeCapability interface {
	Generate(ctx context.Context, req GenerativeRequest) (string, error)
}

// Decision is an agent's discrete vote (§3, §4.3): the consensus signal
// S_k is computed from these, never from the ULFR axis scores.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
	DecisionAbstain Decision = "abstain"
)

// Value maps a decision to its §4.3 vote value v_i.
func (d Decision) Value() float64 {
	switch d {
	case DecisionApprove:
		return 1.0
	case DecisionReject:
		return 0.0
	default:
		return 0.5
	}
}

func (d Decision) valid() bool {
	switch d {
	case DecisionApprove, DecisionReject, DecisionAbstain:
		return true
	default:
		return false
	}
}

// rawResponse is the JSON shape every capability is expected to emit.
// A capability that returns anything else causes the calling agent to
// degrade to an abstention rather than fail the whole round (§4.4).
type rawResponse struct {
	Vote      Decision  `json:"vote"`
	Score     ULFRScore `json:"score"`
	Rationale string    `json:"rationale"`
}

// ParseResponse decodes a capability's raw text into a vote, score, and
// rationale, clamping any out-of-range axis values. A missing or
// unrecognized vote is a malformed response, same as unparseable JSON.
func ParseResponse(text string) (ULFRScore, Decision, string, error) {
	var raw rawResponse
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return ULFRScore{}, "", "", fmt.Errorf("council: malformed generative response: %w", err)
	}
	if !raw.Vote.valid() {
		return ULFRScore{}, "", "", fmt.Errorf("council: invalid vote %q", raw.Vote)
	}
	return raw.Score.clamped(), raw.Vote, raw.Rationale, nil
}

// RefineRequest asks the Mediator to synthesize a child proposal from the
// proposal text and the previous round's rationale (§4.3, §4.4's refine).
type RefineRequest struct {
	ProposalTitle string
	ProposalBody  string
	RoundNumber   int
	Rationales    []string
}

// RefineResult is the Mediator's synthesized child proposal content.
type RefineResult struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// MockCapability is the deterministic default GenerativeCapability: it
// derives a reproducible score from a hash of the role and proposal text
// rather than calling out to a real model, so tests and demo nodes never
// depend on network access or API keys.
type MockCapability struct{}

// NewMockCapability returns the deterministic default backend.
func NewMockCapability() *MockCapability { return &MockCapability{} }

// Generate implements GenerativeCapability deterministically: each axis is
// derived from a distinct slice of the hash of (role, proposal, round),
// biased by role so Guardian tends conservative on Rights/Life and Creator
// tends generous on Utility, matching the role's charter in §4.4 without
// needing a real model to express it.
func (m *MockCapability) Generate(_ context.Context, req GenerativeRequest) (string, error) {
	if req.Refine {
		return m.generateRefinement(req)
	}

	seed := identity.HashBytes([]byte(fmt.Sprintf("%s|%s|%s|%d", req.Role, req.ProposalTitle, req.ProposalBody, req.RoundNumber)))
	score := ULFRScore{
		Utility:    axisFrom(seed, 0),
		Life:       axisFrom(seed, 1),
		Fairness:   axisFrom(seed, 2),
		Rights:     axisFrom(seed, 3),
		Confidence: 0.5 + axisFrom(seed, 4)*0.5,
	}
	switch req.Role {
	case RoleGuardian:
		score.Rights = biasUp(score.Rights)
		score.Life = biasUp(score.Life)
	case RoleHealer:
		score.Life = biasUp(score.Life)
	case RoleCreator:
		score.Utility = biasUp(score.Utility)
	}
	raw := rawResponse{
		Vote:      voteFrom(score),
		Score:     score,
		Rationale: fmt.Sprintf("%s mock assessment for round %d", req.Role, req.RoundNumber),
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// voteFrom derives a deterministic vote from the mean ULFR axis score, so
// MockCapability never needs a second independent source of randomness.
func voteFrom(score ULFRScore) Decision {
	mean := (score.Utility + score.Life + score.Fairness + score.Rights) / 4
	switch {
	case mean >= 0.6:
		return DecisionApprove
	case mean <= 0.4:
		return DecisionReject
	default:
		return DecisionAbstain
	}
}

// generateRefinement answers a Mediator refine(proposal, prior_round) call
// deterministically, folding the previous round's rationale into the body
// so the child proposal visibly differs from its parent.
func (m *MockCapability) generateRefinement(req GenerativeRequest) (string, error) {
	note := strings.Join(req.PriorRounds, "; ")
	out := RefineResult{
		Title: req.ProposalTitle,
		Body:  fmt.Sprintf("%s (refined after round %d in response to: %s)", req.ProposalBody, req.RoundNumber, note),
	}
	data, err := json.Marshal(out)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// axisFrom extracts a pseudo-random [0,1] value from 4 bytes of a hash
// digest, offset by idx*4 bytes (wrapping).
func axisFrom(seed []byte, idx int) float64 {
	if len(seed) < 4 {
		return 0.5
	}
	off := (idx * 4) % len(seed)
	chunk := make([]byte, 4)
	for i := 0; i < 4; i++ {
		chunk[i] = seed[(off+i)%len(seed)]
	}
	v := binary.BigEndian.Uint32(chunk)
	return float64(v) / float64(math.MaxUint32)
}

func biasUp(v float64) float64 {
	return clamp01(v*0.5 + 0.5)
}
