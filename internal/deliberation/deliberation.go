// Package deliberation implements the bounded-round ethical review state
// machine (§4.3): a proposal is admitted, scored by the Agent Council over
// one or more rounds, and driven to a terminal outcome — approved,
// rejected, refined, or timed_out — which is then sealed onto the chain.
package deliberation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Yehielamor/orbis-ethica/internal/council"
	"github.com/Yehielamor/orbis-ethica/internal/eventbus"
	"github.com/Yehielamor/orbis-ethica/internal/identity"
	"github.com/Yehielamor/orbis-ethica/internal/ledger"
	"github.com/Yehielamor/orbis-ethica/internal/memorydag"
)

// Outcome is a deliberation round's terminal state (§4.3).
type Outcome string

const (
	OutcomeApproved Outcome = "approved"
	OutcomeRejected Outcome = "rejected"
	OutcomeRefined  Outcome = "refined"
	OutcomeTimedOut Outcome = "timed_out"
)

// Category is a proposal's governance class (§3); each carries its own
// approval threshold τ(category) (§4.3).
type Category string

const (
	CategoryRoutine        Category = "routine"
	CategoryHighImpact     Category = "high_impact"
	CategoryConstitutional Category = "constitutional"
	CategoryEmergency      Category = "emergency"
)

// tieBand draws the Arbiter in when a round's weighted score lands within
// this distance of either τ(category) or τ_min, rather than deciding on a
// hairline margin.
const tieBand = 0.03

// thresholdMinOffset and thresholdMinFloor derive τ_min = max(floor, τ -
// offset) (§4.3): a proposal scoring at or below τ_min is headed for
// outright rejection rather than merely short of approval, so it skips
// refinement once there's no round budget left to refine into.
const (
	thresholdMinOffset = 0.10
	thresholdMinFloor  = 0.30
)

// Params exposes the governance-tunable values the engine needs, satisfied
// directly by internal/governance.Store (accept interfaces).
type Params interface {
	DeliberationQuorum() float64
	SafetyFloor() float64
	MaxRounds() int
	RoundTimeoutSeconds() int
	MintRewardPerDecision() uint64
	Threshold(category string) float64
}

// Proposal is the unit of work submitted for ethical review (§3, §4.3).
// ParentID is set on a child proposal synthesized by the Mediator during
// refinement (§4.3, §4.4); it is empty for an originally-submitted one.
type Proposal struct {
	ID          string
	Title       string
	Body        string
	Category    Category
	Domain      string
	SubmittedBy string // pubkey hex credited on approval
	ParentID    string
}

// RoundResult records one round's council responses and derived scores.
// WeightedScore is the discrete consensus signal S_k; QScore is the
// separate ULFR sanity score Q_k (§4.3) — the two are never collapsed.
// RefinedProposalID is set only when Outcome is refined.
type RoundResult struct {
	RoundNumber         int
	Responses           []council.AgentResponse
	WeightedScore       float64
	QScore              float64
	ParticipationWeight float64 // fraction of total possible reputation weight that voted
	SafetyFloorBreached bool
	Outcome             Outcome
	RefinedProposalID   string
	DAGNodeID           string
}

// Result is a deliberation's full trace and terminal outcome.
type Result struct {
	Proposal   *Proposal
	Outcome    Outcome
	Rounds     []RoundResult
	FinalScore float64
	AuditRefs  []string // memory DAG node IDs, newest last
}

// Engine runs proposals through the council (§4.3, §4.4).
type Engine struct {
	agents map[council.Role]*council.Agent
	dag    *memorydag.DAG
	params Params
	bus    *eventbus.Bus
}

// New creates an Engine over the given council seats. bus may be nil (e.g.
// in tests that don't assert on the event stream); Run simply skips
// emission in that case.
func New(agents map[council.Role]*council.Agent, dag *memorydag.DAG, params Params, bus *eventbus.Bus) *Engine {
	return &Engine{agents: agents, dag: dag, params: params, bus: bus}
}

// Run admits proposal and drives it through bounded rounds to a terminal
// outcome, returning the full trace plus any ledger transactions that must
// be sealed into the next block (a decision_record, and on approval a
// mint_reward to the submitter).
//
// Refinement (§4.3's Mediator-driven refine) does not restart the round
// counter: a refined round hands off to a newly synthesized child Proposal
// and deliberation continues at round k+1 against that child, matching the
// worked example in §8 (S2: two round events total across parent and
// child, not a fresh budget per generation). The parent round is sealed
// with Outcome=refined and RefinedProposalID set to the child's ID; only
// the lineage's eventual true terminal produces the decision_record.
func (e *Engine) Run(ctx context.Context, proposal *Proposal) (*Result, []*ledger.Transaction, error) {
	if proposal.Category == "" {
		proposal.Category = CategoryRoutine
	}

	proposalNode, err := e.dag.Append(memorydag.KindProposal, nil, "", proposal, time.Now().UnixNano())
	if err != nil {
		return nil, nil, fmt.Errorf("deliberation: admit proposal: %w", err)
	}
	e.emit(eventbus.EventDeliberationStarted, map[string]any{"proposal_id": proposal.ID})

	result := &Result{Proposal: proposal, AuditRefs: []string{proposalNode.ID}}
	current := proposal
	parentDAGNode := proposalNode.ID
	maxRounds := e.params.MaxRounds()
	var priorRound *RoundResult

	for k := 1; k <= maxRounds; k++ {
		round, err := e.runRound(ctx, current, k, priorRound)
		if err != nil {
			e.emit(eventbus.EventDeliberationError, map[string]any{
				"proposal_id": proposal.ID, "kind": "round_error", "message": err.Error(),
			})
			return nil, nil, err
		}

		tau := e.params.Threshold(string(current.Category))
		tauMin := thresholdMin(tau)
		round.Outcome = e.decideOutcome(round, tau, tauMin, k, maxRounds)

		var child *Proposal
		if round.Outcome == OutcomeRefined {
			child, err = e.synthesizeRefinement(ctx, current, round)
			if err != nil {
				e.emit(eventbus.EventDeliberationError, map[string]any{
					"proposal_id": proposal.ID, "kind": "refine_error", "message": err.Error(),
				})
				return nil, nil, err
			}
			round.RefinedProposalID = child.ID
		}

		node, err := e.dag.Append(memorydag.KindRound, []string{parentDAGNode}, "", round, time.Now().UnixNano())
		if err != nil {
			return nil, nil, fmt.Errorf("deliberation: seal round %d: %w", k, err)
		}
		round.DAGNodeID = node.ID
		parentDAGNode = node.ID

		result.Rounds = append(result.Rounds, round)
		result.AuditRefs = append(result.AuditRefs, node.ID)
		result.FinalScore = round.WeightedScore

		e.emit(eventbus.EventDeliberationRound, map[string]any{
			"proposal_id": proposal.ID, "round_no": round.RoundNumber, "score": round.WeightedScore,
		})
		e.updateReputations(round)

		if round.Outcome != OutcomeRefined {
			result.Outcome = round.Outcome
			break
		}

		childNode, err := e.dag.Append(memorydag.KindProposal, []string{parentDAGNode}, "", child, time.Now().UnixNano())
		if err != nil {
			return nil, nil, fmt.Errorf("deliberation: admit refined proposal %s: %w", child.ID, err)
		}
		result.AuditRefs = append(result.AuditRefs, childNode.ID)
		e.emit(eventbus.EventDeliberationRefined, map[string]any{"parent_id": current.ID, "child_id": child.ID})

		current = child
		parentDAGNode = childNode.ID
		priorRound = &round
	}
	if result.Outcome == "" {
		result.Outcome = OutcomeTimedOut
	}

	decisionNode, err := e.dag.Append(memorydag.KindDecision, []string{parentDAGNode}, "", result, time.Now().UnixNano())
	if err != nil {
		return nil, nil, fmt.Errorf("deliberation: seal decision node: %w", err)
	}
	result.AuditRefs = append(result.AuditRefs, decisionNode.ID)
	e.emit(eventbus.EventDeliberationTerminal, map[string]any{
		"proposal_id": proposal.ID, "outcome": string(result.Outcome), "score": result.FinalScore,
	})

	txs, err := e.terminalTxs(result)
	if err != nil {
		return nil, nil, err
	}
	return result, txs, nil
}

// thresholdMin derives τ_min from τ (§4.3).
func thresholdMin(tau float64) float64 {
	min := tau - thresholdMinOffset
	if min < thresholdMinFloor {
		min = thresholdMinFloor
	}
	return min
}

// decideOutcome gates a round's outcome on the category threshold τ and
// floor τ_min (§4.3); the safety floor and quorum checks take priority
// over the threshold comparison.
func (e *Engine) decideOutcome(round RoundResult, tau, tauMin float64, k, maxRounds int) Outcome {
	if round.SafetyFloorBreached {
		return OutcomeRejected
	}
	if round.ParticipationWeight < e.params.DeliberationQuorum() {
		return OutcomeTimedOut
	}
	switch {
	case withinBand(round.WeightedScore, tau) || withinBand(round.WeightedScore, tauMin):
		return e.arbiterTieBreak(round, k, maxRounds)
	case round.WeightedScore >= tau:
		return OutcomeApproved
	case round.WeightedScore <= tauMin:
		if k == maxRounds {
			return OutcomeRejected
		}
		return OutcomeRefined
	default:
		if k == maxRounds {
			return OutcomeTimedOut
		}
		return OutcomeRefined
	}
}

func withinBand(score, target float64) bool {
	diff := score - target
	if diff < 0 {
		diff = -diff
	}
	return diff <= tieBand
}

// runRound fans the proposal out to all six seats concurrently, bounded by
// the configured per-round timeout, and folds the responses into two
// distinct aggregates (§4.3): WeightedScore is S_k, the discrete consensus
// signal over each agent's vote v_i ∈ {1.0, 0.0, 0.5}; QScore is Q_k, the
// reputation/confidence-weighted ULFR sanity score used only by the safety
// floor. An agent whose capability errored or returned an unparseable
// response abstains entirely (zero weight, excluded from both sums and
// from participation); an agent that validly voted "abstain" still counts
// toward participation and contributes v_i = 0.5.
func (e *Engine) runRound(ctx context.Context, proposal *Proposal, roundNumber int, priorRound *RoundResult) (RoundResult, error) {
	roundCtx, cancel := context.WithTimeout(ctx, time.Duration(e.params.RoundTimeoutSeconds())*time.Second)
	defer cancel()

	var priorRationales []string
	if priorRound != nil {
		for _, r := range priorRound.Responses {
			if r.Abstained {
				continue
			}
			priorRationales = append(priorRationales, r.Rationale)
		}
	}

	req := council.GenerativeRequest{
		ProposalTitle: proposal.Title,
		ProposalBody:  proposal.Body,
		RoundNumber:   roundNumber,
		PriorRounds:   priorRationales,
	}

	responses := make([]council.AgentResponse, len(council.AllRoles))
	var wg sync.WaitGroup
	for i, role := range council.AllRoles {
		agent := e.agents[role]
		i, agent := i, agent
		wg.Add(1)
		go func() {
			defer wg.Done()
			if agent == nil {
				responses[i] = council.AgentResponse{Role: role, Abstained: true, Rationale: "no agent seated"}
				return
			}
			responses[i] = agent.Evaluate(roundCtx, req)
		}()
	}
	wg.Wait()

	var voteSum, qSum, totalWeight, possibleWeight float64
	for _, r := range responses {
		possibleWeight += r.Reputation
		if r.Abstained {
			continue
		}
		w := r.Reputation * r.Score.Confidence
		voteSum += w * r.Decision.Value()
		qSum += w * r.Score.Q()
		totalWeight += w
	}

	sVote, qAvg := 0.0, 0.0
	if totalWeight > 0 {
		sVote = voteSum / totalWeight
		qAvg = qSum / totalWeight
	}
	participation := 0.0
	if possibleWeight > 0 {
		participation = participationWeight(responses, possibleWeight)
	}

	return RoundResult{
		RoundNumber:         roundNumber,
		Responses:           responses,
		WeightedScore:       sVote,
		QScore:              qAvg,
		ParticipationWeight: participation,
		SafetyFloorBreached: totalWeight > 0 && qAvg < e.params.SafetyFloor(),
	}, nil
}

func participationWeight(responses []council.AgentResponse, possibleWeight float64) float64 {
	var voted float64
	for _, r := range responses {
		if r.Abstained {
			continue
		}
		voted += r.Reputation
	}
	return voted / possibleWeight
}

// synthesizeRefinement invokes the Mediator's refine(proposal, prior_round)
// -> Proposal (§4.4) and mints a deterministic child proposal ID, so the
// DAG lineage is reproducible from the same inputs.
func (e *Engine) synthesizeRefinement(ctx context.Context, proposal *Proposal, round RoundResult) (*Proposal, error) {
	mediator := e.agents[council.RoleMediator]
	if mediator == nil {
		return nil, fmt.Errorf("deliberation: no mediator seated to refine proposal %s", proposal.ID)
	}
	var rationales []string
	for _, r := range round.Responses {
		if r.Abstained {
			continue
		}
		rationales = append(rationales, r.Rationale)
	}

	refined, err := mediator.Refine(ctx, council.RefineRequest{
		ProposalTitle: proposal.Title,
		ProposalBody:  proposal.Body,
		RoundNumber:   round.RoundNumber,
		Rationales:    rationales,
	})
	if err != nil {
		return nil, fmt.Errorf("deliberation: mediator refine: %w", err)
	}

	childID := identity.Hash([]byte(fmt.Sprintf("%s|refine|%d|%s|%s", proposal.ID, round.RoundNumber, refined.Title, refined.Body)))
	return &Proposal{
		ID:          childID,
		Title:       refined.Title,
		Body:        refined.Body,
		Category:    proposal.Category,
		Domain:      proposal.Domain,
		SubmittedBy: proposal.SubmittedBy,
		ParentID:    proposal.ID,
	}, nil
}

// arbiterTieBreak resolves a round whose weighted score lands within
// tieBand of a threshold by deferring to the Arbiter seat's own vote, per
// its charter (§4.4). An abstaining or reject-leaning Arbiter sends the
// proposal to refinement rather than outright rejection, unless this is
// already the final round, in which case there is no round left to refine
// into.
func (e *Engine) arbiterTieBreak(round RoundResult, k, maxRounds int) Outcome {
	nonApprove := OutcomeRefined
	if k == maxRounds {
		nonApprove = OutcomeRejected
	}
	for _, r := range round.Responses {
		if r.Role != council.RoleArbiter {
			continue
		}
		if r.Abstained {
			return nonApprove
		}
		if r.Decision == council.DecisionApprove {
			return OutcomeApproved
		}
		return nonApprove
	}
	return nonApprove
}

// updateReputations applies §4.4's asymmetric reputation rule to every
// agent that voted in round: an agent is aligned when its vote landed on
// the same side of 0.5 as the round's consensus signal S_k.
func (e *Engine) updateReputations(round RoundResult) {
	for _, r := range round.Responses {
		if r.Abstained {
			continue
		}
		agent, ok := e.agents[r.Role]
		if !ok {
			continue
		}
		aligned := signOf(r.Decision.Value()-0.5) == signOf(round.WeightedScore-0.5)
		agent.UpdateReputation(aligned)
	}
}

func signOf(v float64) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}

// terminalTxs builds the decision_record tx sealing the outcome, plus a
// mint_reward to the proposal's submitter when approved (§4.3). Both are
// system-sealed: the caller includes them directly in the next proposed
// block rather than routing them through mempool admission.
func (e *Engine) terminalTxs(result *Result) ([]*ledger.Transaction, error) {
	decisionTx, err := ledger.NewDecisionRecordTx(result.Proposal.ID, string(result.Outcome), result.FinalScore, result.AuditRefs)
	if err != nil {
		return nil, fmt.Errorf("deliberation: build decision_record: %w", err)
	}
	txs := []*ledger.Transaction{decisionTx}

	if result.Outcome == OutcomeApproved && result.Proposal.SubmittedBy != "" {
		reward := e.params.MintRewardPerDecision()
		if reward > 0 {
			txs = append(txs, ledger.NewMintRewardTx(result.Proposal.SubmittedBy, reward))
		}
	}
	return txs, nil
}

func (e *Engine) emit(typ eventbus.EventType, data map[string]any) {
	if e.bus == nil {
		return
	}
	e.bus.Emit(eventbus.Event{Type: typ, Data: data})
}
