package validator

import (
	"testing"

	"github.com/aretw0/sasya/pkg/domain"
	"github.com/aretw0/sasya/pkg/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateGraph_WorkflowTable(t *testing.T) {
	assert.NoError(t, ValidateGraph(workflow.Edges(), domain.StateInitial))
}

func TestValidateGraph_Problems(t *testing.T) {
	edges := workflow.Edges()
	delete(edges, domain.StateVendorRecommendation)
	edges[domain.StateFollowUp] = []domain.WorkflowState{domain.StateIntentCapture}
	edges[domain.StateConstraintGathering] = []domain.WorkflowState{domain.StateFollowUp}
	edges[domain.StatePrescription] = []domain.WorkflowState{domain.StateFollowUp, "ghost"}

	err := ValidateGraph(edges, domain.StateInitial)
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "broken link 'prescription' -> 'ghost'")
	assert.Contains(t, msg, "state 'completed' is unreachable")
	assert.Contains(t, msg, "state 'vendor_recommendation' is unreachable")

	assert.Error(t, ValidateGraph(edges, "nowhere"))
}

func TestValidatePath(t *testing.T) {
	edges := workflow.Edges()
	ok := []domain.ActivityEntry{
		{State: domain.StateIntentCapture},
		{State: domain.StateClarification},
		{State: domain.StateClarification},
		{State: domain.StateClassification},
		{State: domain.StatePrescription},
	}
	assert.NoError(t, ValidatePath(edges, ok))
	assert.NoError(t, ValidatePath(edges, nil))

	bad := []domain.ActivityEntry{
		{State: domain.StateIntentCapture},
		{State: domain.StateVendorRecommendation},
	}
	err := ValidatePath(edges, bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "entry 1: illegal move 'intent_capture' -> 'vendor_recommendation'")
}
