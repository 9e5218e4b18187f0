package workflow

import (
	"slices"

	"github.com/aretw0/sasya/pkg/domain"
)

var stateActions = map[domain.WorkflowState][]string{
	domain.StateInitial:              {"describe_problem", "upload_image"},
	domain.StateIntentCapture:        {"describe_problem", "upload_image"},
	domain.StateClarification:        {"describe_symptoms"},
	domain.StateClassification:       {"upload_image", "describe_symptoms"},
	domain.StatePrescription:         {"find_vendors", "set_preferences", "ask_question"},
	domain.StateConstraintGathering:  {"set_budget", "organic_only", "need_delivery", "find_vendors"},
	domain.StateVendorRecommendation: {"contact_vendor", "ask_question"},
	domain.StateFollowUp:             {"ask_question", "correct_diagnosis", "find_vendors", "new_problem", "finish"},
	domain.StateCompleted:            {"new_problem"},
}

var contextualActions = []string{"restart", "help"}

// Actions lists what the user can do next in state st, most pressing first.
func (c *Controller) Actions(st domain.WorkflowState, s *domain.Session, failed bool) []string {
	var out []string
	add := func(items ...string) {
		for _, a := range items {
			if !slices.Contains(out, a) {
				out = append(out, a)
			}
		}
	}

	if failed {
		add("retry")
	}
	switch st {
	case domain.StateIntentCapture, domain.StateClarification, domain.StateClassification:
		for _, f := range c.policy.Missing(s) {
			add(FieldAction(f))
		}
	case domain.StateVendorRecommendation:
		if s.Profile.Location == "" {
			add(FieldAction(domain.FieldLocation))
		}
	case domain.StateFollowUp:
		if s.Diagnosis != nil && !s.Diagnosis.Trusted(c.policy.ConfidenceFloor) {
			add("confirm_diagnosis")
		}
	}
	add(stateActions[st]...)
	add(contextualActions...)
	return out
}
