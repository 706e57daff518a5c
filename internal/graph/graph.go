// Package graph implements the bounded research state machine: a cyclical
// plan -> research -> critique -> refine -> finish walk with a hard
// iteration cap, deterministic conditional routing, and a streaming snapshot
// of state after every node.
package graph

import (
	"context"
	"fmt"

	"github.com/corwenfield/deepresearch/internal/model"
)

// maxIterations bounds the plan/research/critique/refine cycle regardless of
// what the caller requests; runs that never converge still terminate.
const maxIterations = 5

// qualityThreshold is the critique score, on a 0-1 scale, at or above which
// the graph routes straight to finish instead of refining again.
const qualityThreshold = 0.8

// Node is one step of the research state machine. It mutates and returns the
// next state; routing is decided by the engine from the returned phase.
type Node func(ctx context.Context, state model.ResearchState) (model.ResearchState, error)

// Engine runs the bounded research cycle, emitting a snapshot of state after
// every node so callers can stream progress.
type Engine struct {
	plan     Node
	research Node
	critique Node
	refine   Node
	finish   Node
}

// New assembles an Engine from its five node implementations.
func New(plan, research, critique, refine, finish Node) *Engine {
	return &Engine{plan: plan, research: research, critique: critique, refine: refine, finish: finish}
}

// Run drives state through the graph until it reaches PhaseFinish or the
// iteration cap is hit, whichever comes first. snapshots, if non-nil,
// receives a copy of state after every node runs; the engine closes it when
// the run ends.
func (e *Engine) Run(ctx context.Context, initial model.ResearchState, snapshots chan<- model.ResearchState) (model.ResearchState, error) {
	if snapshots != nil {
		defer close(snapshots)
	}

	state := initial
	if state.MaxIterations <= 0 || state.MaxIterations > maxIterations {
		state.MaxIterations = maxIterations
	}
	if state.QualityThreshold <= 0 {
		state.QualityThreshold = qualityThreshold
	}
	if state.Phase == "" {
		state.Phase = model.PhasePlan
	}

	for {
		node, err := e.nodeFor(state.Phase)
		if err != nil {
			return state, err
		}

		next, err := node(ctx, state)
		if err != nil {
			return state, fmt.Errorf("research graph node %s: %w", state.Phase, err)
		}
		state = next

		if snapshots != nil {
			snapshots <- state
		}

		if state.Phase == model.PhaseFinish && state.Done {
			return state, nil
		}

		state.Phase = route(state)
		if state.Phase == model.PhaseResearch {
			// A new research cycle begins; count it toward the iteration cap.
			state.Iteration++
		}
	}
}

func (e *Engine) nodeFor(phase model.ResearchPhase) (Node, error) {
	switch phase {
	case model.PhasePlan:
		return e.plan, nil
	case model.PhaseResearch:
		return e.research, nil
	case model.PhaseCritique:
		return e.critique, nil
	case model.PhaseRefine:
		return e.refine, nil
	case model.PhaseFinish:
		return e.finish, nil
	default:
		return nil, fmt.Errorf("unknown research phase: %s", phase)
	}
}

// route applies the graph's conditional routing priority after a node runs:
//  1. unresolved tool gap reports route to finish (honest refusal)
//  2. plan always routes to research
//  3. research always routes to critique
//  4. critique at or above threshold, or at the iteration cap -> finish;
//     otherwise -> refine
//  5. refine always loops back to research
func route(state model.ResearchState) model.ResearchPhase {
	if len(state.GapReports) > 0 && state.Phase != model.PhaseFinish {
		return model.PhaseFinish
	}

	switch state.Phase {
	case model.PhasePlan:
		return model.PhaseResearch
	case model.PhaseResearch:
		return model.PhaseCritique
	case model.PhaseCritique:
		if state.Iteration >= state.MaxIterations {
			return model.PhaseFinish
		}
		if state.CritiqueScore >= state.QualityThreshold {
			return model.PhaseFinish
		}
		return model.PhaseRefine
	case model.PhaseRefine:
		return model.PhaseResearch
	default:
		return model.PhaseFinish
	}
}
