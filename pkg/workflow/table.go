package workflow

import (
	"slices"

	"github.com/aretw0/sasya/pkg/domain"
)

// edges is the transition table. Staying in the current state is always allowed.
var edges = map[domain.WorkflowState][]domain.WorkflowState{
	domain.StateInitial: {domain.StateIntentCapture},
	domain.StateIntentCapture: {
		domain.StateClarification,
		domain.StateClassification,
		domain.StateFollowUp,
	},
	domain.StateClarification: {
		domain.StateClassification,
		domain.StateFollowUp,
	},
	domain.StateClassification: {
		domain.StatePrescription,
		domain.StateFollowUp,
	},
	domain.StatePrescription: {
		domain.StateConstraintGathering,
		domain.StateVendorRecommendation,
		domain.StateFollowUp,
	},
	domain.StateConstraintGathering: {
		domain.StatePrescription,
		domain.StateVendorRecommendation,
		domain.StateFollowUp,
	},
	domain.StateVendorRecommendation: {
		domain.StateFollowUp,
	},
	domain.StateFollowUp: {
		domain.StateIntentCapture,
		domain.StateClarification,
		domain.StateClassification,
		domain.StatePrescription,
		domain.StateConstraintGathering,
		domain.StateVendorRecommendation,
		domain.StateCompleted,
	},
	domain.StateCompleted: {domain.StateIntentCapture},
}

// Edges returns a copy of the transition table.
func Edges() map[domain.WorkflowState][]domain.WorkflowState {
	out := make(map[domain.WorkflowState][]domain.WorkflowState, len(edges))
	for from, to := range edges {
		out[from] = slices.Clone(to)
	}
	return out
}

// Allowed reports whether from → to is a legal move.
func Allowed(from, to domain.WorkflowState) bool {
	if !from.Valid() || !to.Valid() {
		return false
	}
	return from == to || slices.Contains(edges[from], to)
}
