package handlers

import (
	"context"
	"fmt"
	"strings"

	"github.com/aretw0/sasya/pkg/domain"
	"github.com/aretw0/sasya/pkg/workflow"
)

// ConstraintGathering records purchase preferences: budget ceiling, organic-only and
// delivery. It makes no external calls.
type ConstraintGathering struct {
	deps Deps
}

func (h *ConstraintGathering) Execute(ctx context.Context, s *domain.Session, in Input) (domain.HandlerResult, error) {
	intents := workflow.DetectIntents(in.Message)
	found := overlay(Extract(in.Message).Profile, in.Hints)

	// Only preferences and location are read here; crop or symptom talk belongs elsewhere.
	var scoped domain.ProfilePatch
	scoped.Location = found.Location
	scoped.OrganicOnly, scoped.BudgetCeiling, scoped.Delivery = found.OrganicOnly, found.BudgetCeiling, found.Delivery
	patch, _ := fill(s, scoped, true)

	if patch.Profile.IsEmpty() {
		switch {
		case intents.Has(workflow.IntentVendor):
			res := ok("")
			res.Route = domain.RouteVendors
			res.Summary = "no new preferences, vendor request"
			return res, nil
		case intents.Has(workflow.IntentQuestion) || intents.Has(workflow.IntentCorrection):
			res := ok("")
			res.Route = domain.RouteQuestion
			if intents.Has(workflow.IntentCorrection) && assertedDisease(in.Message) != "" {
				res.Route = domain.RouteCorrection
			}
			res.Summary = "out-of-band " + string(res.Route)
			return res, nil
		}
		res := ok("Tell me your preferences: a budget (for example \"under 500\"), organic-only treatments, or home delivery.")
		res.RequiresUserInput = true
		res.FollowUps = []string{"set_budget", "organic_only", "need_delivery"}
		res.Summary = "awaiting preferences"
		return res, nil
	}

	res := ok("Noted: " + describePreferences(patch.Profile) + ".")
	res.Patch = patch
	res.Summary = "recorded " + describeFields(patch.Profile)
	switch {
	case workflow.NeedsReprescription(patch, s):
		res.ResponseText += " I'll update the treatment plan to organic options."
	case intents.Has(workflow.IntentVendor):
		res.Route = domain.RouteVendors
	default:
		res.RequiresUserInput = true
		res.FollowUps = []string{"find_vendors", "ask_question"}
	}
	return res, nil
}

func describePreferences(p domain.ProfilePatch) string {
	var parts []string
	if p.OrganicOnly != nil {
		if *p.OrganicOnly {
			parts = append(parts, "organic treatments only")
		} else {
			parts = append(parts, "chemical treatments are fine")
		}
	}
	if p.BudgetCeiling != nil {
		parts = append(parts, fmt.Sprintf("budget up to %.0f", *p.BudgetCeiling))
	}
	if p.Delivery != nil {
		if *p.Delivery {
			parts = append(parts, "home delivery needed")
		} else {
			parts = append(parts, "pickup is fine")
		}
	}
	if p.Location != "" {
		parts = append(parts, "location "+p.Location)
	}
	return strings.Join(parts, ", ")
}
